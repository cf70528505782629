package audio

import (
	"encoding/binary"
	"math"
	"testing"
)

func pcmBytes(samples []int16) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(s))
	}
	return out
}

func TestWindowBuffer_EmptyBeforeFirstPush(t *testing.T) {
	w := NewWindowBuffer(8)
	if got := w.Window(); len(got) != 0 {
		t.Errorf("expected empty window before any push, got %d samples", len(got))
	}
	if rms := RMS(w.Window()); rms != 0 {
		t.Errorf("expected amplitude 0 for empty window, got %g", rms)
	}
}

func TestWindowBuffer_KeepsNewestSamples(t *testing.T) {
	w := NewWindowBuffer(4)
	w.Push(pcmBytes([]int16{1, 2, 3, 4, 5, 6}))

	got := w.Window()
	want := []int16{3, 4, 5, 6}
	if len(got) != len(want) {
		t.Fatalf("expected %d samples, got %d", len(want), len(got))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("sample %d: expected %d, got %d", i, want[i], got[i])
		}
	}
}

func TestWindowBuffer_PartialFill(t *testing.T) {
	w := NewWindowBuffer(8)
	w.Push(pcmBytes([]int16{10, 20}))

	got := w.Window()
	if len(got) != 2 || got[0] != 10 || got[1] != 20 {
		t.Errorf("expected [10 20], got %v", got)
	}
}

func TestRMS_ConstantAmplitude(t *testing.T) {
	// A constant signal at half scale has RMS 0.5.
	samples := make([]int16, 100)
	for i := range samples {
		samples[i] = 16384
	}
	got := RMS(samples)
	if math.Abs(got-0.5) > 0.001 {
		t.Errorf("expected RMS ~0.5, got %g", got)
	}
}

func TestRMS_SymmetricAroundZero(t *testing.T) {
	// Alternating +v/-v has the same RMS as constant +v.
	samples := make([]int16, 100)
	for i := range samples {
		if i%2 == 0 {
			samples[i] = 8192
		} else {
			samples[i] = -8192
		}
	}
	got := RMS(samples)
	if math.Abs(got-0.25) > 0.001 {
		t.Errorf("expected RMS ~0.25, got %g", got)
	}
}

func TestRMS_Silence(t *testing.T) {
	if got := RMS(make([]int16, 64)); got != 0 {
		t.Errorf("expected RMS 0 for silence, got %g", got)
	}
}
