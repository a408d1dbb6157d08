package cli

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/spf13/cobra"
)

var (
	runCommitFlag string
	runBranchFlag string
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Trigger a manual automation run",
	Long: `Ask the daemon to run the automation pipeline against a commit or
branch, bypassing the webhook. The daemon must be running.`,
	Example: `  scribe run --commit abcdef1234567890
  scribe run --branch feature/widgets`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if runCommitFlag == "" && runBranchFlag == "" {
			return fmt.Errorf("either --commit or --branch is required")
		}

		body, err := json.Marshal(map[string]string{
			"commit_sha": runCommitFlag,
			"branch":     runBranchFlag,
		})
		if err != nil {
			return err
		}

		resp, err := http.Post(daemonURL("/api/manual-run"), "application/json", bytes.NewReader(body))
		if err != nil {
			return fmt.Errorf("contacting daemon: %w (is it running?)", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusAccepted {
			return fmt.Errorf("daemon returned %s", resp.Status)
		}

		var accepted struct {
			RunID string `json:"run_id"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&accepted); err != nil {
			return fmt.Errorf("decoding daemon response: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Run accepted: %s\n", accepted.RunID)
		fmt.Fprintf(cmd.OutOrStdout(), "Follow it with: scribe runs show %s\n", accepted.RunID)
		return nil
	},
}

func init() {
	runCmd.Flags().StringVar(&runCommitFlag, "commit", "", "Commit SHA to run against")
	runCmd.Flags().StringVar(&runBranchFlag, "branch", "", "Branch whose head to run against")
}
