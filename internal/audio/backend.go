package audio

import (
	"context"
	"strings"
)

// BackendType represents the type of capture backend
type BackendType string

const (
	BackendTypeFFmpeg BackendType = "ffmpeg"
	BackendTypeAuto   BackendType = "auto"
)

// Config describes how the microphone should be captured.
type Config struct {
	SampleRate int    // samples per second, 16-bit mono PCM
	Source     string // capture device, empty = system default
}

// CaptureStream is a live capture session handed out by a backend.
//
// Fragments delivers raw PCM fragments in capture order. The channel is
// closed only after every fragment produced before the stop request has
// been delivered, so a reader that drains the channel has seen all data.
type CaptureStream interface {
	Fragments() <-chan []byte

	// Stop requests capture to end. Fragments closes once the tail of the
	// stream has been flushed. Safe to call more than once.
	Stop() error

	// Err reports a terminal capture error. Only valid after Fragments
	// has closed.
	Err() error
}

// CaptureBackend creates capture streams and enumerates devices.
type CaptureBackend interface {
	Open(ctx context.Context, cfg Config) (CaptureStream, error)
	ListSources() ([]string, error)
	Type() BackendType
}

// NewBackend selects a capture backend based on the configured name.
func NewBackend(name string) CaptureBackend {
	switch strings.ToLower(name) {
	case "ffmpeg":
		return &FFmpegBackend{}
	case "auto", "":
		return &FFmpegBackend{}
	default:
		// FFmpeg is the only available backend
		return &FFmpegBackend{}
	}
}

// GetAvailableBackends returns the backends usable on the current system
func GetAvailableBackends() []BackendType {
	return []BackendType{BackendTypeFFmpeg}
}
