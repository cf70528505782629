package trial

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/cogbenchlab/voicetrial/internal/audio"
	"github.com/cogbenchlab/voicetrial/internal/config"
	"github.com/cogbenchlab/voicetrial/internal/voicekey"
)

// State represents the trial controller state
type State string

const (
	StateIdle           State = "IDLE"
	StateLoading        State = "LOADING"
	StateRecording      State = "RECORDING"
	StateStopping       State = "STOPPING"
	StatePlaybackReview State = "PLAYBACK_REVIEW"
	StateFinished       State = "FINISHED"
)

// Decision is the outcome of a playback review.
type Decision int

const (
	DecisionAccept Decision = iota
	DecisionReRecord
)

// Reviewer offers the participant accept/re-record after a recording.
type Reviewer interface {
	Review(ctx context.Context, res *audio.EncodedResult) (Decision, error)
}

// errReRecord is the internal signal that an attempt was discarded in review.
var errReRecord = errors.New("re-record requested")

// Controller orchestrates one trial: session lifecycle, stimulus timing,
// voice-key watching, alert scheduling and the final result record. One
// controller runs one trial at a time; each recording attempt gets a fresh
// session, sampler and watcher, so no state leaks across re-records.
type Controller struct {
	trialCfg config.TrialConfig
	audioCfg audio.Config
	backend  audio.CaptureBackend
	display  Display
	sound    SoundPlayer
	loader   *AssetLoader
	reviewer Reviewer
	sink     func(*Result)

	mu            sync.Mutex
	state         State
	assets        Assets
	stopCh        chan struct{}
	stopRequested bool
	alert         *voicekey.Alert
	attemptEnded  bool
}

// New creates a controller. reviewer may be nil to disable playback review
// regardless of configuration; sink may be nil.
func New(trialCfg config.TrialConfig, audioCfg audio.Config, backend audio.CaptureBackend, display Display, sound SoundPlayer, loader *AssetLoader, reviewer Reviewer, sink func(*Result)) *Controller {
	return &Controller{
		trialCfg: trialCfg,
		audioCfg: audioCfg,
		backend:  backend,
		display:  display,
		sound:    sound,
		loader:   loader,
		reviewer: reviewer,
		sink:     sink,
		state:    StateIdle,
	}
}

// State returns the current controller state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Controller) setState(s State) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
	slog.Debug("trial state changed", "state", s)
}

// Stop requests a manual end of the current recording attempt (the "done"
// action). Idempotent while recording; an error otherwise.
func (c *Controller) Stop() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateRecording || c.stopCh == nil {
		return fmt.Errorf("no recording in progress, current state: %s", c.state)
	}
	if !c.stopRequested {
		c.stopRequested = true
		close(c.stopCh)
	}
	return nil
}

// Run executes one complete trial and blocks until it finishes, is aborted
// by a device or encoding error, or ctx is cancelled. Asset loading runs in
// parallel with the first recording attempt and never blocks it.
func (c *Controller) Run(ctx context.Context, stimulus string) (*Result, error) {
	c.mu.Lock()
	if c.state != StateIdle && c.state != StateFinished {
		state := c.state
		c.mu.Unlock()
		return nil, fmt.Errorf("trial already in progress, current state: %s", state)
	}
	c.state = StateLoading
	c.mu.Unlock()

	if c.loader != nil {
		go func() {
			assets := c.loader.Load()
			c.mu.Lock()
			c.assets = assets
			c.mu.Unlock()
		}()
	}

	attemptID := uuid.NewString()
	startedAt := time.Now()
	attempts := 0

	for {
		attempts++
		result, err := c.runAttempt(ctx, stimulus)
		if errors.Is(err, errReRecord) {
			slog.Info("re-record requested, discarding attempt", "attempt", attempts)
			c.setState(StateLoading)
			continue
		}
		if err != nil {
			c.setState(StateFinished)
			c.display.Clear()
			return nil, err
		}

		result.AttemptID = attemptID
		result.Stimulus = stimulus
		result.StartedAt = startedAt
		result.EndedAt = time.Now()
		result.Attempts = attempts

		c.display.Clear()
		c.setState(StateFinished)
		if c.sink != nil {
			c.sink(result)
		}
		return result, nil
	}
}

// runAttempt performs one recording attempt end to end. On success the
// returned result carries everything except the trial-level fields filled in
// by Run.
func (c *Controller) runAttempt(ctx context.Context, stimulus string) (*Result, error) {
	attemptCtx, cancelAttempt := context.WithCancel(ctx)
	defer cancelAttempt()

	tap := audio.NewWindowBuffer(windowSamples(c.audioCfg.SampleRate))
	session := audio.NewSession(c.backend, c.audioCfg, tap)

	if err := session.Start(attemptCtx); err != nil {
		return nil, fmt.Errorf("failed to start recording session: %w", err)
	}

	shownAt, err := c.display.ShowStimulus(attemptCtx, stimulus)
	if err != nil {
		c.teardownSession(session)
		return nil, fmt.Errorf("failed to display stimulus: %w", err)
	}

	stopCh := make(chan struct{})
	c.mu.Lock()
	c.state = StateRecording
	c.stopCh = stopCh
	c.stopRequested = false
	c.alert = nil
	c.attemptEnded = false
	c.mu.Unlock()

	// Voice-key watch: fresh watcher per attempt, bound to this attempt's
	// sampler. Onset schedules the alert; timeout is absorbed here and the
	// attempt simply runs without an alert.
	var onsetMu sync.Mutex
	var onsetAt time.Time
	scheduler := &voicekey.Scheduler{Delay: c.trialCfg.AlertDelay()}
	watcher := voicekey.NewWatcher(tap, c.trialCfg.AmplitudeThreshold, c.trialCfg.PollInterval(), c.trialCfg.WatcherTimeout())

	go func() {
		onset, werr := watcher.Watch(attemptCtx)
		if werr != nil {
			if errors.Is(werr, voicekey.ErrTimeout) {
				slog.Debug("voice onset not detected, no alert this attempt")
			}
			return
		}
		onsetMu.Lock()
		onsetAt = onset
		onsetMu.Unlock()
		slog.Debug("voice onset detected", "since_stimulus", onset.Sub(shownAt))

		alert := scheduler.Schedule(onset, c.fireAlert)
		c.mu.Lock()
		if c.attemptEnded {
			// Attempt ended between detection and scheduling.
			c.mu.Unlock()
			alert.Cancel()
			return
		}
		c.alert = alert
		c.mu.Unlock()
	}()

	var hideTimer *time.Timer
	if d := c.trialCfg.StimulusDuration(); d > 0 {
		hideTimer = time.AfterFunc(d, c.display.HideStimulus)
	}

	var durTimer *time.Timer
	var durCh <-chan time.Time
	if d := c.trialCfg.RecordingDuration(); d > 0 {
		durTimer = time.NewTimer(d)
		durCh = durTimer.C
	}

	var reason StopReason
	var stoppedAt time.Time
	select {
	case <-stopCh:
		reason = StopManual
		stoppedAt = time.Now()
	case <-durCh:
		reason = StopDuration
		stoppedAt = time.Now()
	case <-ctx.Done():
		reason = StopCancelled
	}

	c.setState(StateStopping)

	// End of attempt: every outstanding timer-like operation is cancelled
	// before the stop is awaited. A stale timer firing after teardown would
	// mutate a display that has already moved on.
	c.mu.Lock()
	c.attemptEnded = true
	c.stopCh = nil
	alert := c.alert
	c.mu.Unlock()
	if alert != nil {
		alert.Cancel()
	}
	if hideTimer != nil {
		hideTimer.Stop()
	}
	if durTimer != nil {
		durTimer.Stop()
	}
	cancelAttempt() // stops the watcher poll loop

	stopCtx, cancelStop := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelStop()
	encoded, err := session.Stop(stopCtx)
	if err != nil {
		session.Release()
		return nil, fmt.Errorf("failed to stop recording session: %w", err)
	}

	if reason == StopCancelled {
		session.Release()
		return nil, ctx.Err()
	}

	if c.trialCfg.AllowPlaybackReview && c.reviewer != nil {
		c.setState(StatePlaybackReview)
		decision, rerr := c.reviewer.Review(ctx, encoded)
		if rerr != nil {
			slog.Warn("playback review failed, accepting recording", "error", rerr)
			decision = DecisionAccept
		}
		if decision == DecisionReRecord {
			session.Release()
			return nil, errReRecord
		}
	}

	result := &Result{
		StopReason:               reason,
		EstimatedStimulusOnsetMs: millis(shownAt.Sub(session.StartTime())),
		AlertFired:               alert != nil && alert.Fired(),
		PayloadBytes:             len(encoded.Payload),
		SampleRate:               encoded.SampleRate,
	}
	if reason == StopManual {
		result.ReactionTimeMs = millisPtr(stoppedAt.Sub(shownAt))
	}
	onsetMu.Lock()
	if !onsetAt.IsZero() {
		result.VoiceOnsetMs = millisPtr(onsetAt.Sub(shownAt))
	}
	onsetMu.Unlock()

	if c.trialCfg.PersistPayload {
		result.ResponsePayload = encoded.Payload
		session.Release()
	} else {
		// The host takes over the transient file reference.
		result.PayloadPath = encoded.Path
	}

	return result, nil
}

// fireAlert runs the alert side effects with whatever assets have loaded by
// now; missing assets degrade the cue rather than suppressing it.
func (c *Controller) fireAlert() {
	c.mu.Lock()
	assets := c.assets
	c.mu.Unlock()

	slog.Debug("alert fired")
	c.display.ShowAlert(assets.Image)
	if c.sound != nil {
		c.sound.PlayBytes(assets.Sound)
	}
}

// teardownSession best-effort stops and releases a session whose attempt
// failed before the recording phase.
func (c *Controller) teardownSession(session *audio.Session) {
	stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := session.Stop(stopCtx); err != nil {
		slog.Debug("session teardown stop failed", "error", err)
	}
	session.Release()
}

// windowSamples sizes the sampler ring for roughly 30 ms of audio.
func windowSamples(sampleRate int) int {
	n := sampleRate * 30 / 1000
	if n < 1 {
		n = 256
	}
	return n
}
