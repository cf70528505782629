package cmd

import (
	"fmt"
	"log/slog"

	"github.com/cogbenchlab/voicetrial/internal/server"
	"github.com/cogbenchlab/voicetrial/internal/service"

	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the control server for remote trial operation",
	Long: `Start the HTTP control server. An experiment operator can start and stop
trials and follow live status (including a websocket status stream) from a
browser or companion device on the same network.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		port, _ := cmd.Flags().GetString("port")
		if port == "" {
			port = cfg.Server.Port
		}

		svc := service.New(cfg, nil)
		srv := server.New(svc, port)

		slog.Info("voicetrial control server starting", "port", port, "config", cfgFile)
		if err := srv.Start(); err != nil {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	},
}

func init() {
	serveCmd.Flags().String("port", "", "port for the control server (default from config)")
}
