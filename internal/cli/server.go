package cli

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/alanmeadows/scribe/internal/config"
	"github.com/alanmeadows/scribe/internal/host"
	"github.com/alanmeadows/scribe/internal/llm"
	"github.com/alanmeadows/scribe/internal/orchestrator"
	"github.com/alanmeadows/scribe/internal/server"
	"github.com/alanmeadows/scribe/internal/session"
)

// ErrStore wraps session store open failures so main can map them to their
// exit code.
var ErrStore = errors.New("opening session store")

var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "Manage the scribe daemon",
	Long:  `Start, stop, and manage the scribe webhook daemon.`,
}

var foregroundFlag bool
var portFlag int

func init() {
	serverCmd.AddCommand(serverStartCmd)
	serverCmd.AddCommand(serverStopCmd)
	serverCmd.AddCommand(serverStatusCmd)

	serverStartCmd.Flags().BoolVar(&foregroundFlag, "foreground", false, "Run in foreground (don't daemonize)")
	serverStartCmd.Flags().IntVar(&portFlag, "port", 0, "Server port (default from config or 8080)")
}

var serverStartCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the scribe daemon",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := appConfig
		if portFlag != 0 {
			cfg.Server.Port = portFlag
		}
		if err := cfg.Validate(); err != nil {
			return fmt.Errorf("invalid config: %w", err)
		}

		return server.StartDaemon(foregroundFlag, runServer(cfg))
	},
}

// runServer assembles the store, host client, LLM gateway, and orchestrator,
// then serves until the context ends.
func runServer(cfg *config.Config) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		store, err := session.Open(filepath.Join(cfg.DataDir(), "sessions.json"))
		if err != nil {
			return fmt.Errorf("%w: %v", ErrStore, err)
		}
		defer store.Close()

		hostClient := host.NewGitHub(cfg.GitHub.Owner(), cfg.GitHub.Name(), cfg.GitHub.Token)

		provider, err := llm.NewProvider(llm.Options{
			Provider: cfg.LLM.Provider,
			Model:    cfg.LLM.Model,
			APIKey:   cfg.LLM.APIKey(),
			Endpoint: cfg.LLM.Endpoint,
		})
		if err != nil {
			return fmt.Errorf("building LLM provider: %w", err)
		}
		gateway := llm.NewGateway(provider, cfg.LLM.MaxRPM, cfg.LLM.MinDelay())

		orch := orchestrator.New(hostClient, gateway, store, cfg)
		srv := server.New(cfg, store, orch)
		return srv.Run(ctx)
	}
}

var serverStopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the scribe daemon",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := server.StopDaemon(); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), "daemon stopped")
		return nil
	},
}

var serverStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show daemon status",
	RunE: func(cmd *cobra.Command, args []string) error {
		running, pid, uptime, err := server.DaemonStatus()
		if err != nil {
			return err
		}

		if running {
			fmt.Fprintf(cmd.OutOrStdout(), "daemon is running (PID %d, uptime %s)\n", pid, uptime.Round(time.Second))
		} else {
			fmt.Fprintln(cmd.OutOrStdout(), "daemon is not running")
		}
		return nil
	},
}
