package audio

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"
)

// State represents the lifecycle state of a recording session
type State string

const (
	StateIdle      State = "IDLE"
	StateArmed     State = "ARMED"
	StateRecording State = "RECORDING"
	StateStopping  State = "STOPPING"
	StateComplete  State = "COMPLETE"
)

var (
	// ErrDeviceUnavailable means the capture device could not be opened or
	// never produced data. Fatal to the attempt.
	ErrDeviceUnavailable = errors.New("capture device unavailable")

	// ErrEncodingFailed means the buffered audio could not be encoded into
	// the final payload.
	ErrEncodingFailed = errors.New("audio encoding failed")
)

// startConfirmTimeout bounds the wait for the first fragment. A device that
// opens but never delivers data must fail Start rather than hang it.
const startConfirmTimeout = 5 * time.Second

// EncodedResult is the final product of a session: the encoded payload and a
// transient playable file. The file is an OS resource and must be released
// via Session.Release once it is no longer needed.
type EncodedResult struct {
	Payload    []byte
	Path       string
	SampleRate int
}

// Session owns one capture attempt: it opens the device, buffers delivered
// fragments in arrival order and encodes them on stop. A session is single
// use; recording again means constructing a new session.
type Session struct {
	backend CaptureBackend
	cfg     Config
	tap     *WindowBuffer // receives every fragment for the voice-key watcher, may be nil

	mu        sync.Mutex
	state     State
	chunks    [][]byte
	startTime time.Time
	result    *EncodedResult
	released  bool

	stream    CaptureStream
	confirmed chan struct{} // closed on first nonempty fragment
	drained   chan struct{} // closed once the fragment reader has consumed the stream
}

// NewSession creates an idle session bound to a backend. tap may be nil when
// no amplitude watching is wanted (calibration owns its own buffer).
func NewSession(backend CaptureBackend, cfg Config, tap *WindowBuffer) *Session {
	return &Session{
		backend:   backend,
		cfg:       cfg,
		tap:       tap,
		state:     StateIdle,
		confirmed: make(chan struct{}),
		drained:   make(chan struct{}),
	}
}

// State returns the current session state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// StartTime returns the moment the device actually began delivering data.
// Zero until Start has returned successfully.
func (s *Session) StartTime() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.startTime
}

// Start opens the capture device and blocks until capture has demonstrably
// begun: it resolves on the first delivered fragment, not on the open call,
// because devices start asynchronously. The confirmation time is recorded as
// the session start time.
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.state != StateIdle {
		state := s.state
		s.mu.Unlock()
		return fmt.Errorf("can only start from idle state, current: %s", state)
	}
	s.state = StateArmed
	s.mu.Unlock()

	stream, err := s.backend.Open(ctx, s.cfg)
	if err != nil {
		s.mu.Lock()
		s.state = StateIdle
		s.mu.Unlock()
		return fmt.Errorf("%w: %v", ErrDeviceUnavailable, err)
	}

	s.mu.Lock()
	s.stream = stream
	s.mu.Unlock()

	go s.readFragments(stream)

	confirm := time.NewTimer(startConfirmTimeout)
	defer confirm.Stop()

	select {
	case <-s.confirmed:
		return nil
	case <-s.drained:
		// Stream ended without ever delivering data.
		s.mu.Lock()
		s.state = StateIdle
		s.mu.Unlock()
		if serr := stream.Err(); serr != nil {
			return fmt.Errorf("%w: %v", ErrDeviceUnavailable, serr)
		}
		return fmt.Errorf("%w: capture stream ended before producing data", ErrDeviceUnavailable)
	case <-confirm.C:
		if s.confirmedNow() {
			return nil
		}
		stream.Stop()
		s.mu.Lock()
		s.state = StateIdle
		s.mu.Unlock()
		return fmt.Errorf("%w: no data within %s of device open", ErrDeviceUnavailable, startConfirmTimeout)
	case <-ctx.Done():
		if s.confirmedNow() {
			return nil
		}
		stream.Stop()
		s.mu.Lock()
		s.state = StateIdle
		s.mu.Unlock()
		return ctx.Err()
	}
}

// confirmedNow reports whether the first fragment raced in just as a start
// deadline or cancellation fired; confirmation wins in that case.
func (s *Session) confirmedNow() bool {
	select {
	case <-s.confirmed:
		return true
	default:
		return false
	}
}

// readFragments buffers delivered fragments in arrival order until the
// stream closes. Zero-length fragments are discarded. The first nonempty
// fragment performs the ARMED -> RECORDING transition: the chunk buffer is
// cleared exactly once there, so a session never inherits stale data.
func (s *Session) readFragments(stream CaptureStream) {
	defer close(s.drained)

	first := true
	for frag := range stream.Fragments() {
		if len(frag) == 0 {
			continue
		}
		buf := make([]byte, len(frag))
		copy(buf, frag)

		s.mu.Lock()
		if first {
			first = false
			s.startTime = time.Now()
			s.chunks = s.chunks[:0]
			if s.state == StateArmed {
				s.state = StateRecording
			}
			close(s.confirmed)
		}
		s.chunks = append(s.chunks, buf)
		s.mu.Unlock()

		if s.tap != nil {
			s.tap.Push(frag)
		}
	}
}

// Stop ends capture and blocks until every fragment delivered before device
// shutdown has been buffered and the whole recording has been encoded. Any
// caller that needs the payload must wait on Stop rather than race the
// device teardown: fragments keep arriving after the stop request.
func (s *Session) Stop(ctx context.Context) (*EncodedResult, error) {
	s.mu.Lock()
	if s.state != StateRecording {
		state := s.state
		s.mu.Unlock()
		return nil, fmt.Errorf("can only stop while recording, current: %s", state)
	}
	s.state = StateStopping
	stream := s.stream
	s.mu.Unlock()

	if err := stream.Stop(); err != nil {
		slog.Debug("capture stop request failed", "error", err)
	}

	select {
	case <-s.drained:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	if err := stream.Err(); err != nil {
		slog.Warn("capture stream ended with error", "error", err)
	}

	s.mu.Lock()
	chunks := s.chunks
	s.mu.Unlock()

	payload, err := EncodeWAV(s.cfg.SampleRate, chunks)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEncodingFailed, err)
	}

	path, err := writeTempWAV(payload)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEncodingFailed, err)
	}

	result := &EncodedResult{
		Payload:    payload,
		Path:       path,
		SampleRate: s.cfg.SampleRate,
	}

	s.mu.Lock()
	s.state = StateComplete
	s.result = result
	s.mu.Unlock()

	slog.Debug("recording session complete", "chunks", len(chunks), "payload_bytes", len(payload), "path", path)
	return result, nil
}

// Release removes the transient playable file. Idempotent; must be called on
// every exit path once the handle is no longer needed, including re-records.
func (s *Session) Release() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.released || s.result == nil || s.result.Path == "" {
		s.released = true
		return
	}
	if err := os.Remove(s.result.Path); err != nil && !os.IsNotExist(err) {
		slog.Debug("failed to remove transient recording file", "path", s.result.Path, "error", err)
	}
	s.released = true
}

func writeTempWAV(payload []byte) (string, error) {
	f, err := os.CreateTemp("", "voicetrial-*.wav")
	if err != nil {
		return "", err
	}
	if _, err := f.Write(payload); err != nil {
		f.Close()
		os.Remove(f.Name())
		return "", err
	}
	if err := f.Close(); err != nil {
		os.Remove(f.Name())
		return "", err
	}
	return f.Name(), nil
}
