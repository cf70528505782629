package trial

import "time"

// StopReason records what ended the recording phase of an attempt.
type StopReason string

const (
	StopManual    StopReason = "manual"
	StopDuration  StopReason = "duration"
	StopCancelled StopReason = "cancelled"
)

// Result is the record emitted when a trial finishes. All *Ms fields are
// non-negative elapsed durations; relative times never carry a sign
// convention dependent on which event happened first.
type Result struct {
	AttemptID string    `json:"attempt_id" yaml:"attempt_id"`
	Stimulus  string    `json:"stimulus" yaml:"stimulus"`
	StartedAt time.Time `json:"started_at" yaml:"started_at"`
	EndedAt   time.Time `json:"ended_at" yaml:"ended_at"`

	// ReactionTimeMs is stimulus-visible to explicit stop. Nil when the
	// stop was not user-initiated (duration timeout).
	ReactionTimeMs *float64 `json:"reaction_time_ms" yaml:"reaction_time_ms"`

	// EstimatedStimulusOnsetMs is the offset from the moment capture
	// actually began to the moment the stimulus became visible. The two are
	// timestamped independently because device start is asynchronous.
	EstimatedStimulusOnsetMs float64 `json:"estimated_stimulus_onset_ms" yaml:"estimated_stimulus_onset_ms"`

	// VoiceOnsetMs is elapsed from stimulus visibility to the detected
	// voice onset. Nil when the watcher timed out.
	VoiceOnsetMs *float64 `json:"voice_onset_ms" yaml:"voice_onset_ms"`

	AlertFired bool       `json:"alert_fired" yaml:"alert_fired"`
	StopReason StopReason `json:"stop_reason" yaml:"stop_reason"`
	Attempts   int        `json:"attempts" yaml:"attempts"` // 1 + number of re-records

	// ResponsePayload is the encoded audio, embedded when the config asks
	// for payload persistence. Otherwise PayloadPath references the
	// transient playable file, which the host then owns.
	ResponsePayload []byte `json:"-" yaml:"-"`
	PayloadPath     string `json:"payload_path,omitempty" yaml:"payload_path,omitempty"`
	PayloadBytes    int    `json:"payload_bytes" yaml:"payload_bytes"`
	SampleRate      int    `json:"sample_rate" yaml:"sample_rate"`
}

func millis(d time.Duration) float64 {
	if d < 0 {
		d = 0
	}
	return float64(d) / float64(time.Millisecond)
}

func millisPtr(d time.Duration) *float64 {
	v := millis(d)
	return &v
}
