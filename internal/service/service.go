package service

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/cogbenchlab/voicetrial/internal/audio"
	"github.com/cogbenchlab/voicetrial/internal/config"
	"github.com/cogbenchlab/voicetrial/internal/playback"
	"github.com/cogbenchlab/voicetrial/internal/trial"
)

// Service is the facade over the trial engine used by the CLI and the
// control server.
type Service interface {
	// Trial operations
	RunTrial(ctx context.Context, stimulus string) (*trial.Result, error)
	StopTrial() error
	Status() Status

	// Information operations
	LastResult() *trial.Result
	ListSources() ([]string, error)
	GetConfig() *config.Config

	// Result persistence
	ExportLastResult(path string) (string, error)
}

// Status is a snapshot of the engine for status displays.
type Status struct {
	State       trial.State `json:"state"`
	Stimulus    string      `json:"stimulus,omitempty"`
	LastAttempt string      `json:"last_attempt,omitempty"`
}

type service struct {
	cfg     *config.Config
	backend audio.CaptureBackend
	display trial.Display
	player  *playback.Player

	mu         sync.Mutex
	controller *trial.Controller
	stimulus   string
	lastResult *trial.Result
}

// New creates a service. display may be nil, in which case stimuli render to
// the console.
func New(cfg *config.Config, display trial.Display) Service {
	if display == nil {
		display = &trial.ConsoleDisplay{}
	}
	return &service{
		cfg:     cfg,
		backend: audio.NewBackend(cfg.Audio.Backend),
		display: display,
		player:  playback.New(),
	}
}

// RunTrial runs one complete trial and blocks until it finishes. Only one
// trial may run at a time.
func (s *service) RunTrial(ctx context.Context, stimulus string) (*trial.Result, error) {
	s.mu.Lock()
	if s.controller != nil {
		s.mu.Unlock()
		return nil, fmt.Errorf("a trial is already running")
	}

	loader := &trial.AssetLoader{
		SoundPath: s.cfg.Assets.AlertSound,
		ImagePath: s.cfg.Assets.AlertImage,
	}
	var reviewer trial.Reviewer
	if s.cfg.Trial.AllowPlaybackReview {
		reviewer = &playbackReviewer{player: s.player}
	}

	controller := trial.New(
		s.cfg.Trial,
		audio.Config{SampleRate: s.cfg.Audio.SampleRate, Source: s.cfg.Audio.Source},
		s.backend,
		s.display,
		s.player,
		loader,
		reviewer,
		nil,
	)
	s.controller = controller
	s.stimulus = stimulus
	s.mu.Unlock()

	result, err := controller.Run(ctx, stimulus)

	s.mu.Lock()
	s.controller = nil
	s.stimulus = ""
	if result != nil {
		s.lastResult = result
	}
	s.mu.Unlock()

	if err != nil {
		return nil, err
	}
	slog.Info("trial finished",
		"attempt_id", result.AttemptID,
		"stop_reason", result.StopReason,
		"alert_fired", result.AlertFired,
		"payload_bytes", result.PayloadBytes)
	return result, nil
}

// StopTrial requests a manual stop of the running trial.
func (s *service) StopTrial() error {
	s.mu.Lock()
	controller := s.controller
	s.mu.Unlock()
	if controller == nil {
		return fmt.Errorf("no trial running")
	}
	return controller.Stop()
}

func (s *service) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := Status{State: trial.StateIdle, Stimulus: s.stimulus}
	if s.controller != nil {
		st.State = s.controller.State()
	}
	if s.lastResult != nil {
		st.LastAttempt = s.lastResult.AttemptID
	}
	return st
}

func (s *service) LastResult() *trial.Result {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastResult
}

func (s *service) ListSources() ([]string, error) {
	return s.backend.ListSources()
}

func (s *service) GetConfig() *config.Config {
	return s.cfg
}

// ExportLastResult writes the last trial result as YAML, plus the payload as
// a WAV file next to it when the result embeds one. Returns the result path.
func (s *service) ExportLastResult(dir string) (string, error) {
	s.mu.Lock()
	result := s.lastResult
	s.mu.Unlock()
	if result == nil {
		return "", fmt.Errorf("no trial result to export")
	}

	if dir == "" {
		dir = s.cfg.Output.Directory
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create output directory: %w", err)
	}

	stamp := result.EndedAt.Format("20060102-150405")
	base := fmt.Sprintf("trial-%s-%s", stamp, result.AttemptID[:8])

	if len(result.ResponsePayload) > 0 {
		wavPath := filepath.Join(dir, base+".wav")
		if err := os.WriteFile(wavPath, result.ResponsePayload, 0644); err != nil {
			return "", fmt.Errorf("failed to write payload: %w", err)
		}
		slog.Debug("payload exported", "path", wavPath)
	}

	data, err := yaml.Marshal(result)
	if err != nil {
		return "", fmt.Errorf("failed to marshal result: %w", err)
	}
	resultPath := filepath.Join(dir, base+".yaml")
	if err := os.WriteFile(resultPath, data, 0644); err != nil {
		return "", fmt.Errorf("failed to write result: %w", err)
	}

	return resultPath, nil
}

// playbackReviewer plays the recording back and asks on stdin whether to
// keep it.
type playbackReviewer struct {
	player *playback.Player
}

func (r *playbackReviewer) Review(ctx context.Context, res *audio.EncodedResult) (trial.Decision, error) {
	fmt.Println("Playing back your recording...")
	if err := r.player.PlayFile(res.Path); err != nil {
		return trial.DecisionAccept, fmt.Errorf("playback failed: %w", err)
	}

	fmt.Print("Keep this recording? [Y/n] ")
	answerCh := make(chan string, 1)
	go func() {
		var answer string
		fmt.Scanln(&answer)
		answerCh <- answer
	}()

	select {
	case answer := <-answerCh:
		if answer == "n" || answer == "N" || answer == "no" {
			return trial.DecisionReRecord, nil
		}
		return trial.DecisionAccept, nil
	case <-ctx.Done():
		return trial.DecisionAccept, ctx.Err()
	case <-time.After(60 * time.Second):
		slog.Warn("review prompt timed out, accepting recording")
		return trial.DecisionAccept, nil
	}
}
