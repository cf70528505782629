package voicekey

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

// levelSampler reports a constant amplitude, adjustable mid-test. The
// returned window is constant-valued PCM whose RMS equals the level.
type levelSampler struct {
	mu    sync.Mutex
	level float64
	empty bool
}

func (s *levelSampler) set(level float64) {
	s.mu.Lock()
	s.level = level
	s.empty = false
	s.mu.Unlock()
}

func (s *levelSampler) Window() []int16 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.empty {
		return nil
	}
	out := make([]int16, 16)
	v := int16(s.level * 32768)
	for i := range out {
		out[i] = v
	}
	return out
}

func TestWatcher_DetectsOnsetAboveThreshold(t *testing.T) {
	sampler := &levelSampler{level: 0.5}
	w := NewWatcher(sampler, 0.1, time.Millisecond, 300*time.Millisecond)

	start := time.Now()
	onset, err := w.Watch(context.Background())
	if err != nil {
		t.Fatalf("expected onset, got error: %v", err)
	}
	elapsed := onset.Sub(start)
	if elapsed > 100*time.Millisecond {
		t.Errorf("onset should resolve on an early poll, took %v", elapsed)
	}
}

func TestWatcher_TimesOutBelowThreshold(t *testing.T) {
	// Threshold 0.1, constant amplitude 0.05: must time out at the
	// deadline, and the alert path never sees an onset.
	sampler := &levelSampler{level: 0.05}
	deadline := 100 * time.Millisecond
	w := NewWatcher(sampler, 0.1, time.Millisecond, deadline)

	start := time.Now()
	_, err := w.Watch(context.Background())
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("expected ErrTimeout, got %v", err)
	}
	elapsed := time.Since(start)
	if elapsed < deadline {
		t.Errorf("timed out before the deadline: %v < %v", elapsed, deadline)
	}
	if elapsed > deadline+100*time.Millisecond {
		t.Errorf("timeout fired too late: %v", elapsed)
	}
}

func TestWatcher_AmplitudeAtThresholdDoesNotTrigger(t *testing.T) {
	// Crossing is strictly greater-than.
	sampler := &levelSampler{level: 0.1}
	w := NewWatcher(sampler, 0.1, time.Millisecond, 50*time.Millisecond)

	if _, err := w.Watch(context.Background()); !errors.Is(err, ErrTimeout) {
		t.Errorf("amplitude equal to threshold must not trigger, got %v", err)
	}
}

func TestWatcher_EmptySourceReadsAsSilence(t *testing.T) {
	// No samples yet is amplitude 0, never an error.
	sampler := &levelSampler{empty: true}
	w := NewWatcher(sampler, 0.01, time.Millisecond, 50*time.Millisecond)

	if _, err := w.Watch(context.Background()); !errors.Is(err, ErrTimeout) {
		t.Errorf("expected graceful timeout on empty source, got %v", err)
	}
}

func TestWatcher_DetectsLateOnset(t *testing.T) {
	sampler := &levelSampler{level: 0.05}
	w := NewWatcher(sampler, 0.1, time.Millisecond, 500*time.Millisecond)

	go func() {
		time.Sleep(50 * time.Millisecond)
		sampler.set(0.5)
	}()

	start := time.Now()
	onset, err := w.Watch(context.Background())
	if err != nil {
		t.Fatalf("expected onset, got %v", err)
	}
	elapsed := onset.Sub(start)
	if elapsed < 40*time.Millisecond {
		t.Errorf("onset detected before the signal appeared: %v", elapsed)
	}
	if elapsed > 200*time.Millisecond {
		t.Errorf("onset detected too late: %v", elapsed)
	}
}

func TestWatcher_CancelledByContext(t *testing.T) {
	sampler := &levelSampler{level: 0.05}
	w := NewWatcher(sampler, 0.1, time.Millisecond, 10*time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	start := time.Now()
	_, err := w.Watch(ctx)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if time.Since(start) > time.Second {
		t.Error("cancellation did not stop the poll loop promptly")
	}
}
