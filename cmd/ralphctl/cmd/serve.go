package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/ralphops/ralphctl/internal/app"
	"github.com/ralphops/ralphctl/internal/config"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var (
	serveSessionID string
	servePort      int
	serveWSPort    int
)

// serveCmd represents the serve command.
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the coordination daemon alongside an agent session",
	Long: `Run the coordination daemon for one agent session. The daemon keeps
the session's heartbeat record fresh, answers control commands from
supervisors, serves the control REST API, and relays feedback requests to
connected clients over WebSocket.

Example:
  ralphctl serve
  ralphctl serve --session-id ralph-main
  ralphctl serve --port 8790 --ws-port 8791`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveSessionID, "session-id", "ralph", "session identifier this daemon serves")
	serveCmd.Flags().IntVar(&servePort, "port", 0, "control API port (default: 8790)")
	serveCmd.Flags().IntVar(&serveWSPort, "ws-port", 0, "feedback channel port (default: 8791)")
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if servePort != 0 {
		cfg.Server.Port = servePort
	}
	if serveWSPort != 0 {
		cfg.Server.WSPort = serveWSPort
	}
	if err := config.Validate(cfg); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	setupLogging(cfg)

	log.Info().
		Str("version", version).
		Str("session_id", serveSessionID).
		Str("state_dir", cfg.Session.StateDir).
		Msg("starting ralphctl")

	daemon, err := app.New(cfg, version, serveSessionID)
	if err != nil {
		return fmt.Errorf("failed to create daemon: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigChan
		log.Info().Str("signal", sig.String()).Msg("received shutdown signal")
		cancel()
	}()

	if err := daemon.Start(ctx); err != nil {
		return fmt.Errorf("daemon error: %w", err)
	}

	log.Info().Msg("ralphctl stopped")
	return nil
}
