package cmd

import (
	"fmt"

	"github.com/cogbenchlab/voicetrial/internal/audio"

	"github.com/spf13/cobra"
)

var sourcesCmd = &cobra.Command{
	Use:   "sources",
	Short: "List available audio capture sources",
	RunE: func(cmd *cobra.Command, args []string) error {
		backend := audio.NewBackend(cfg.Audio.Backend)

		sources, err := backend.ListSources()
		if err != nil {
			return fmt.Errorf("failed to list sources: %w", err)
		}

		if len(sources) == 0 {
			fmt.Println("No capture sources found")
			return nil
		}

		fmt.Printf("Capture sources (%s backend):\n", backend.Type())
		for _, source := range sources {
			marker := " "
			if source == cfg.Audio.Source {
				marker = "*"
			}
			fmt.Printf(" %s %s\n", marker, source)
		}
		if cfg.Audio.Source == "" {
			fmt.Println("\nNo source configured, the system default will be used.")
		}
		return nil
	},
}
