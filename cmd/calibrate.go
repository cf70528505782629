package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/cogbenchlab/voicetrial/internal/audio"

	"github.com/spf13/cobra"
)

var calibrateCmd = &cobra.Command{
	Use:   "calibrate",
	Short: "Measure ambient noise and suggest an amplitude threshold",
	Long: `Sample the microphone for a few seconds of silence and report the ambient
RMS amplitude. A usable voice-key threshold sits well above the ambient
level; the suggestion is three times the observed peak.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		seconds, _ := cmd.Flags().GetInt("seconds")
		if seconds < 1 {
			seconds = 3
		}

		backend := audio.NewBackend(cfg.Audio.Backend)
		tap := audio.NewWindowBuffer(cfg.Audio.SampleRate * 30 / 1000)
		session := audio.NewSession(backend, audio.Config{
			SampleRate: cfg.Audio.SampleRate,
			Source:     cfg.Audio.Source,
		}, tap)

		ctx := cmd.Context()
		fmt.Printf("Sampling ambient noise for %d seconds, stay quiet...\n", seconds)
		if err := session.Start(ctx); err != nil {
			return fmt.Errorf("failed to start capture: %w", err)
		}

		ticker := time.NewTicker(50 * time.Millisecond)
		defer ticker.Stop()
		deadline := time.After(time.Duration(seconds) * time.Second)

		var peak, sum float64
		samples := 0
	sampling:
		for {
			select {
			case <-ticker.C:
				rms := audio.RMS(tap.Window())
				sum += rms
				samples++
				if rms > peak {
					peak = rms
				}
			case <-deadline:
				break sampling
			case <-ctx.Done():
				break sampling
			}
		}

		stopCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if _, err := session.Stop(stopCtx); err != nil {
			return fmt.Errorf("failed to stop capture: %w", err)
		}
		session.Release()

		mean := 0.0
		if samples > 0 {
			mean = sum / float64(samples)
		}
		suggested := peak * 3
		if suggested > 1 {
			suggested = 1
		}

		fmt.Printf("Ambient RMS: mean %.4f, peak %.4f\n", mean, peak)
		fmt.Printf("Suggested trial.amplitude_threshold: %.3f (current: %.3f)\n", suggested, cfg.Trial.AmplitudeThreshold)
		return nil
	},
}

func init() {
	calibrateCmd.Flags().Int("seconds", 3, "how long to sample ambient noise")
}
