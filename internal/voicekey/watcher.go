// Package voicekey implements voice-onset detection and the onset-relative
// alert timer for a recording attempt. It is a crude energy gate, not a
// voice-activity classifier: RMS over a short time-domain window is robust
// to single-sample spikes and cheap enough to evaluate every few
// milliseconds.
package voicekey

import (
	"context"
	"errors"
	"time"

	"github.com/cogbenchlab/voicetrial/internal/audio"
)

// ErrTimeout means the deadline elapsed without the amplitude ever crossing
// the threshold. Expected and non-fatal: the attempt simply gets no alert.
var ErrTimeout = errors.New("voice onset not detected before deadline")

// DefaultPollInterval is the design-default poll period.
const DefaultPollInterval = 5 * time.Millisecond

// Watcher polls a sampler at a fixed interval and resolves on the first
// amplitude sample exceeding the threshold. One watcher serves exactly one
// recording attempt; create a fresh one per attempt.
type Watcher struct {
	sampler      audio.Sampler
	threshold    float64
	pollInterval time.Duration
	deadline     time.Duration
}

// NewWatcher binds a watcher to a live sampler. threshold is a normalized
// RMS amplitude in [0, 1]. A zero pollInterval uses DefaultPollInterval.
func NewWatcher(sampler audio.Sampler, threshold float64, pollInterval, deadline time.Duration) *Watcher {
	if pollInterval <= 0 {
		pollInterval = DefaultPollInterval
	}
	return &Watcher{
		sampler:      sampler,
		threshold:    threshold,
		pollInterval: pollInterval,
		deadline:     deadline,
	}
}

// Watch polls until the threshold is crossed, the deadline elapses, or ctx
// is cancelled. On a crossing it returns the onset timestamp and stops
// polling: this is a one-shot detector. A sampler that has produced no data
// yet reads as amplitude 0, below any positive threshold.
func (w *Watcher) Watch(ctx context.Context) (time.Time, error) {
	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	deadline := time.NewTimer(w.deadline)
	defer deadline.Stop()

	for {
		select {
		case <-ctx.Done():
			return time.Time{}, ctx.Err()
		case <-deadline.C:
			return time.Time{}, ErrTimeout
		case <-ticker.C:
			if audio.RMS(w.sampler.Window()) > w.threshold {
				return time.Now(), nil
			}
		}
	}
}
