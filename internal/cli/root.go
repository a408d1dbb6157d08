package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/alanmeadows/scribe/internal/config"
	"github.com/alanmeadows/scribe/internal/logging"
)

var (
	verbose   bool
	appConfig *config.Config

	rootCmd = &cobra.Command{
		Use:   "scribe",
		Short: "Autonomous repository automation driven by webhooks and LLMs",
		Long: `Scribe watches a repository for pushes and pull requests, reviews each
change with an LLM, keeps the README and spec current, and groups the
resulting documentation updates into a single automation PR.`,
	}
)

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose/debug output")
	rootCmd.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		logging.Setup(verbose)

		cfg, err := config.Load()
		if err != nil {
			return fmt.Errorf("loading config: %w", err)
		}
		appConfig = cfg
		return nil
	}

	rootCmd.AddCommand(serverCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(runsCmd)
	rootCmd.AddCommand(runCmd)
}

func Execute() error {
	return rootCmd.Execute()
}
