package audio

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"
)

// FFmpegBackend captures microphone PCM by shelling out to ffmpeg reading
// from the system audio server (PulseAudio/PipeWire via pulse, ALSA as
// fallback) and streaming raw s16le to stdout.
type FFmpegBackend struct{}

const fragmentSize = 4096 // bytes per delivered fragment

// Open starts an ffmpeg capture process for the configured source.
func (b *FFmpegBackend) Open(ctx context.Context, cfg Config) (CaptureStream, error) {
	if _, err := exec.LookPath("ffmpeg"); err != nil {
		return nil, fmt.Errorf("ffmpeg not found in PATH: %w", err)
	}

	source := cfg.Source
	if source == "" {
		source = "default"
	}

	args := []string{
		"-hide_banner",
		"-loglevel", "warning",
		"-f", inputFormat(),
		"-i", source,
		"-ac", "1",
		"-ar", fmt.Sprintf("%d", cfg.SampleRate),
		"-f", "s16le",
		"-",
	}

	slog.Debug("starting ffmpeg capture", "args", strings.Join(args, " "))

	cmd := exec.Command("ffmpeg", args...)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start ffmpeg: %w", err)
	}

	st := &ffmpegStream{
		cmd:   cmd,
		frags: make(chan []byte, 16),
		done:  make(chan struct{}),
	}

	go st.readStderr(stderr)
	go st.readLoop(stdout)

	return st, nil
}

// ListSources returns the capture sources known to the system audio server.
func (b *FFmpegBackend) ListSources() ([]string, error) {
	if _, err := exec.LookPath("pactl"); err != nil {
		return nil, fmt.Errorf("pactl not found, cannot enumerate sources: %w", err)
	}

	out, err := exec.Command("pactl", "list", "short", "sources").Output()
	if err != nil {
		return nil, fmt.Errorf("failed to list sources: %w", err)
	}

	var sources []string
	for _, line := range strings.Split(string(out), "\n") {
		fields := strings.Fields(line)
		if len(fields) >= 2 {
			sources = append(sources, fields[1])
		}
	}
	return sources, nil
}

// Type returns the backend type
func (b *FFmpegBackend) Type() BackendType {
	return BackendTypeFFmpeg
}

// inputFormat picks the ffmpeg input device format for this system.
func inputFormat() string {
	if _, err := exec.LookPath("pactl"); err == nil {
		return "pulse"
	}
	return "alsa"
}

type ffmpegStream struct {
	cmd   *exec.Cmd
	frags chan []byte
	done  chan struct{}

	stopOnce sync.Once
	mu       sync.Mutex
	err      error
}

func (s *ffmpegStream) Fragments() <-chan []byte {
	return s.frags
}

// readLoop drains ffmpeg stdout into fixed-size fragments. The channel is
// closed only after stdout hits EOF, which happens after ffmpeg has flushed
// everything captured before the stop signal.
func (s *ffmpegStream) readLoop(stdout io.ReadCloser) {
	defer close(s.frags)
	defer close(s.done)
	defer stdout.Close()

	buf := make([]byte, fragmentSize)
	for {
		n, err := stdout.Read(buf)
		if n > 0 {
			frag := make([]byte, n)
			copy(frag, buf[:n])
			s.frags <- frag
		}
		if err != nil {
			if err != io.EOF {
				s.setErr(fmt.Errorf("capture read failed: %w", err))
			}
			return
		}
	}
}

func (s *ffmpegStream) readStderr(stderr io.ReadCloser) {
	scanner := bufio.NewScanner(stderr)
	for scanner.Scan() {
		slog.Debug("ffmpeg output", "line", scanner.Text())
	}
	stderr.Close()
}

// Stop interrupts ffmpeg and waits for it to exit, force killing after a
// timeout. The fragment channel closes once the stdout tail is drained.
func (s *ffmpegStream) Stop() error {
	s.stopOnce.Do(func() {
		if s.cmd.Process != nil {
			slog.Debug("sending SIGINT to ffmpeg capture process")
			if err := s.cmd.Process.Signal(os.Interrupt); err != nil {
				slog.Debug("failed to interrupt ffmpeg, killing", "error", err)
				s.cmd.Process.Kill()
			}
		}

		waited := make(chan error, 1)
		go func() {
			<-s.done // stdout must be fully drained before Wait
			waited <- s.cmd.Wait()
		}()

		select {
		case err := <-waited:
			if err != nil && !isSignalExit(err) {
				s.setErr(fmt.Errorf("ffmpeg capture process failed: %w", err))
			}
		case <-time.After(5 * time.Second):
			slog.Warn("ffmpeg did not exit within timeout, force killing")
			if s.cmd.Process != nil {
				s.cmd.Process.Kill()
			}
			<-waited
		}
	})
	return nil
}

func (s *ffmpegStream) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *ffmpegStream) setErr(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err == nil {
		s.err = err
	}
}

// isSignalExit reports whether the process exit was caused by our own
// interrupt/kill rather than a capture failure.
func isSignalExit(err error) bool {
	exitErr, ok := err.(*exec.ExitError)
	if !ok {
		return false
	}
	if exitErr.ExitCode() == 255 {
		return true
	}
	if exitErr.ProcessState != nil {
		state := exitErr.ProcessState.String()
		if state == "signal: interrupt" || state == "signal: killed" {
			return true
		}
	}
	return false
}
