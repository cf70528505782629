package audio

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"
)

// scriptedStream is a test capture stream fed by hand.
type scriptedStream struct {
	frags    chan []byte
	err      error
	stopOnce sync.Once

	// tail is delivered after Stop, before the channel closes, modelling
	// fragments that arrive between the stop request and device shutdown.
	tail [][]byte
}

func newScriptedStream() *scriptedStream {
	return &scriptedStream{frags: make(chan []byte, 64)}
}

func (s *scriptedStream) Fragments() <-chan []byte { return s.frags }

func (s *scriptedStream) Stop() error {
	s.stopOnce.Do(func() {
		for _, frag := range s.tail {
			s.frags <- frag
		}
		close(s.frags)
	})
	return nil
}

func (s *scriptedStream) Err() error { return s.err }

type scriptedBackend struct {
	mu      sync.Mutex
	streams []*scriptedStream
	openErr error
}

func (b *scriptedBackend) Open(ctx context.Context, cfg Config) (CaptureStream, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.openErr != nil {
		return nil, b.openErr
	}
	st := newScriptedStream()
	b.streams = append(b.streams, st)
	return st, nil
}

func (b *scriptedBackend) ListSources() ([]string, error) { return nil, nil }
func (b *scriptedBackend) Type() BackendType              { return BackendType("scripted") }

func (b *scriptedBackend) stream(i int) *scriptedStream {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.streams[i]
}

func startSession(t *testing.T, backend *scriptedBackend, firstFrag []byte) *Session {
	t.Helper()
	s := NewSession(backend, Config{SampleRate: 16000}, nil)

	done := make(chan error, 1)
	go func() { done <- s.Start(context.Background()) }()

	// Device "starts" when the first fragment shows up.
	time.Sleep(10 * time.Millisecond)
	backend.stream(0).frags <- firstFrag

	if err := <-done; err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	return s
}

func TestSession_StartConfirmsOnFirstFragment(t *testing.T) {
	backend := &scriptedBackend{}
	before := time.Now()
	s := startSession(t, backend, []byte{1, 2, 3})

	if s.State() != StateRecording {
		t.Errorf("expected state RECORDING after confirmed start, got %s", s.State())
	}
	if s.StartTime().Before(before) {
		t.Errorf("start time should be the confirmation time, got %v before test start", s.StartTime())
	}
	s.Stop(context.Background())
	s.Release()
}

func TestSession_StartFailsWhenDeviceUnavailable(t *testing.T) {
	backend := &scriptedBackend{openErr: fmt.Errorf("no such device")}
	s := NewSession(backend, Config{SampleRate: 16000}, nil)

	err := s.Start(context.Background())
	if !errors.Is(err, ErrDeviceUnavailable) {
		t.Errorf("expected ErrDeviceUnavailable, got %v", err)
	}
	if s.State() != StateIdle {
		t.Errorf("expected state back to IDLE after failed start, got %s", s.State())
	}
}

func TestSession_StartFailsWhenStreamEndsWithoutData(t *testing.T) {
	backend := &scriptedBackend{}
	s := NewSession(backend, Config{SampleRate: 16000}, nil)

	done := make(chan error, 1)
	go func() { done <- s.Start(context.Background()) }()

	time.Sleep(10 * time.Millisecond)
	backend.stream(0).Stop() // closes with no fragments delivered

	if err := <-done; !errors.Is(err, ErrDeviceUnavailable) {
		t.Errorf("expected ErrDeviceUnavailable, got %v", err)
	}
}

func TestSession_PayloadPreservesFragmentBytesInOrder(t *testing.T) {
	backend := &scriptedBackend{}
	s := startSession(t, backend, []byte{1, 1})
	defer s.Release()

	st := backend.stream(0)
	st.frags <- []byte{2, 2, 2}
	st.frags <- []byte{} // zero-length fragments are discarded
	st.frags <- []byte{3}
	// Fragments still in flight at stop time must make it into the payload.
	st.tail = [][]byte{{4, 4}}

	time.Sleep(10 * time.Millisecond)
	result, err := s.Stop(context.Background())
	if err != nil {
		t.Fatalf("Stop failed: %v", err)
	}

	want := []byte{1, 1, 2, 2, 2, 3, 4, 4}
	data := result.Payload[44:] // skip RIFF/fmt/data headers
	if !bytes.Equal(data, want) {
		t.Errorf("payload data mismatch:\n got %v\nwant %v", data, want)
	}
	if len(data) != 8 {
		t.Errorf("payload length must equal sum of delivered fragment lengths: got %d, want 8", len(data))
	}
	if s.State() != StateComplete {
		t.Errorf("expected state COMPLETE, got %s", s.State())
	}
}

func TestSession_FreshSessionInheritsNothing(t *testing.T) {
	backend := &scriptedBackend{}

	first := startSession(t, backend, bytes.Repeat([]byte{0xAA}, 16))
	res1, err := first.Stop(context.Background())
	if err != nil {
		t.Fatalf("first Stop failed: %v", err)
	}
	first.Release()

	second := NewSession(backend, Config{SampleRate: 16000}, nil)
	done := make(chan error, 1)
	go func() { done <- second.Start(context.Background()) }()
	time.Sleep(10 * time.Millisecond)
	backend.stream(1).frags <- bytes.Repeat([]byte{0xBB}, 8)
	if err := <-done; err != nil {
		t.Fatalf("second Start failed: %v", err)
	}

	res2, err := second.Stop(context.Background())
	if err != nil {
		t.Fatalf("second Stop failed: %v", err)
	}
	defer second.Release()

	if bytes.Contains(res2.Payload[44:], []byte{0xAA}) {
		t.Error("second session payload contains bytes from the first attempt")
	}
	if len(res1.Payload[44:]) != 16 || len(res2.Payload[44:]) != 8 {
		t.Errorf("unexpected payload sizes: first %d, second %d", len(res1.Payload)-44, len(res2.Payload)-44)
	}
}

func TestSession_StopRejectedOutsideRecording(t *testing.T) {
	backend := &scriptedBackend{}
	s := NewSession(backend, Config{SampleRate: 16000}, nil)

	if _, err := s.Stop(context.Background()); err == nil {
		t.Error("expected Stop to fail on an idle session")
	}
}

func TestSession_ReleaseRemovesPlayableHandle(t *testing.T) {
	backend := &scriptedBackend{}
	s := startSession(t, backend, []byte{9, 9})

	result, err := s.Stop(context.Background())
	if err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
	if _, err := os.Stat(result.Path); err != nil {
		t.Fatalf("transient file missing before release: %v", err)
	}

	s.Release()
	if _, err := os.Stat(result.Path); !os.IsNotExist(err) {
		t.Errorf("transient file still present after release: %v", err)
	}

	// Idempotent.
	s.Release()
}

func TestSession_TapReceivesFragments(t *testing.T) {
	backend := &scriptedBackend{}
	tap := NewWindowBuffer(32)
	s := NewSession(backend, Config{SampleRate: 16000}, tap)

	done := make(chan error, 1)
	go func() { done <- s.Start(context.Background()) }()
	time.Sleep(10 * time.Millisecond)
	backend.stream(0).frags <- pcmBytes([]int16{100, 200, 300})
	if err := <-done; err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	deadline := time.Now().Add(time.Second)
	for len(tap.Window()) < 3 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	got := tap.Window()
	if len(got) != 3 || got[0] != 100 || got[2] != 300 {
		t.Errorf("tap window mismatch: %v", got)
	}

	s.Stop(context.Background())
	s.Release()
}
