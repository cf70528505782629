package audio

import (
	"encoding/binary"
	"math"
	"sync"
)

// Sampler exposes the most recent window of time-domain samples from a live
// audio source. Implementations return an empty slice while no data has
// arrived yet; they never return an error.
type Sampler interface {
	Window() []int16
}

// WindowBuffer is a ring buffer over the newest PCM samples of a capture
// stream. A session pushes every delivered fragment into it; the voice-key
// watcher reads the current window from a polling goroutine.
type WindowBuffer struct {
	mu      sync.Mutex
	samples []int16
	size    int
	filled  int
	next    int
}

// NewWindowBuffer creates a buffer holding the latest size samples.
func NewWindowBuffer(size int) *WindowBuffer {
	if size < 1 {
		size = 1
	}
	return &WindowBuffer{
		samples: make([]int16, size),
		size:    size,
	}
}

// Push appends little-endian 16-bit PCM bytes, discarding the oldest samples
// once the buffer is full. A trailing odd byte is ignored.
func (w *WindowBuffer) Push(pcm []byte) {
	w.mu.Lock()
	defer w.mu.Unlock()

	for i := 0; i+1 < len(pcm); i += 2 {
		w.samples[w.next] = int16(binary.LittleEndian.Uint16(pcm[i:]))
		w.next = (w.next + 1) % w.size
		if w.filled < w.size {
			w.filled++
		}
	}
}

// Window returns a copy of the buffered samples in arrival order. Empty
// until the first Push.
func (w *WindowBuffer) Window() []int16 {
	w.mu.Lock()
	defer w.mu.Unlock()

	out := make([]int16, w.filled)
	if w.filled < w.size {
		copy(out, w.samples[:w.filled])
		return out
	}
	n := copy(out, w.samples[w.next:])
	copy(out[n:], w.samples[:w.next])
	return out
}

// RMS computes the root-mean-square amplitude of a sample window, with each
// sample normalized to [-1, 1]. An empty window is silence, amplitude 0.
func RMS(window []int16) float64 {
	if len(window) == 0 {
		return 0
	}
	var sum float64
	for _, s := range window {
		v := float64(s) / 32768.0
		sum += v * v
	}
	return math.Sqrt(sum / float64(len(window)))
}
