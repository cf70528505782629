package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/cogbenchlab/voicetrial/internal/service"

	"github.com/spf13/cobra"
)

var trialCmd = &cobra.Command{
	Use:   "trial [stimulus]",
	Short: "Run one recording trial with voice-key detection",
	Long: `Run a single trial: the stimulus text is shown, the microphone records,
and the voice key watches for an onset. Press Ctrl+C (or Enter when the done
button is enabled) to stop manually; otherwise the recording-duration timer
ends the trial. The result record is exported to the output directory.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		stimulus := args[0]
		export, _ := cmd.Flags().GetBool("export")

		svc := service.New(cfg, nil)

		ctx, cancel := context.WithCancel(cmd.Context())
		defer cancel()

		// SIGINT is the manual stop action; a second SIGINT aborts.
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
		defer signal.Stop(sigChan)
		go func() {
			<-sigChan
			slog.Info("stop requested")
			if err := svc.StopTrial(); err != nil {
				slog.Debug("manual stop not applicable", "error", err)
			}
			<-sigChan
			cancel()
		}()

		// The done button: Enter on stdin stops the trial.
		if cfg.Trial.DoneButtonEnabled {
			go func() {
				var line string
				fmt.Scanln(&line)
				if err := svc.StopTrial(); err != nil {
					slog.Debug("manual stop not applicable", "error", err)
				}
			}()
			fmt.Println("Recording... press Enter or Ctrl+C when done.")
		} else {
			fmt.Println("Recording... trial ends automatically.")
		}

		result, err := svc.RunTrial(ctx, stimulus)
		if err != nil {
			return fmt.Errorf("trial failed: %w", err)
		}

		fmt.Printf("Trial %s finished (%s stop", result.AttemptID[:8], result.StopReason)
		if result.ReactionTimeMs != nil {
			fmt.Printf(", reaction time %.0f ms", *result.ReactionTimeMs)
		}
		if result.VoiceOnsetMs != nil {
			fmt.Printf(", voice onset at %.0f ms", *result.VoiceOnsetMs)
		}
		fmt.Printf(", alert fired: %v)\n", result.AlertFired)

		if export {
			path, err := svc.ExportLastResult("")
			if err != nil {
				return fmt.Errorf("failed to export result: %w", err)
			}
			fmt.Printf("Result written to %s\n", path)
		}
		return nil
	},
}

func init() {
	trialCmd.Flags().Bool("export", true, "export the trial result to the output directory")
}
