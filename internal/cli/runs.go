package cli

import (
	"encoding/json"
	"fmt"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/spf13/cobra"

	"github.com/alanmeadows/scribe/internal/session"
)

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "Inspect automation runs",
	Long: `List and inspect recorded automation runs.

Queries the running daemon when available, otherwise reads the
session store directly.`,
	Example: `  scribe runs list
  scribe runs list --limit 20
  scribe runs show abcdef12-1756200000000
  scribe runs retry abcdef12-1756200000000`,
}

var runsLimitFlag int

func init() {
	runsListCmd.Flags().IntVar(&runsLimitFlag, "limit", 20, "Maximum number of runs to show (0 for all)")
	runsCmd.AddCommand(runsListCmd)
	runsCmd.AddCommand(runsShowCmd)
	runsCmd.AddCommand(runsRetryCmd)
}

// daemonURL points CLI requests at the local daemon API.
func daemonURL(path string) string {
	port := 8080
	if appConfig != nil && appConfig.Server.Port > 0 {
		port = appConfig.Server.Port
	}
	return fmt.Sprintf("http://localhost:%d%s", port, path)
}

// fetchRuns asks the daemon for history, falling back to a read-only load of
// the session store when the daemon is not running.
func fetchRuns(limit int) ([]*session.Run, error) {
	url := daemonURL("/api/history")
	if limit > 0 {
		url = fmt.Sprintf("%s?limit=%d", url, limit)
	}
	resp, err := http.Get(url)
	if err == nil {
		defer resp.Body.Close()
		if resp.StatusCode == http.StatusOK {
			var runs []*session.Run
			if err := json.NewDecoder(resp.Body).Decode(&runs); err != nil {
				return nil, fmt.Errorf("decoding daemon response: %w", err)
			}
			return runs, nil
		}
	}

	runs, err := session.ReadRuns(filepath.Join(appConfig.DataDir(), "sessions.json"))
	if err != nil {
		return nil, err
	}
	if limit > 0 && len(runs) > limit {
		runs = runs[:limit]
	}
	return runs, nil
}

var runsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List recent runs",
	RunE: func(cmd *cobra.Command, args []string) error {
		runs, err := fetchRuns(runsLimitFlag)
		if err != nil {
			return err
		}

		if len(runs) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "No runs recorded yet.")
			return nil
		}

		headerStyle := lipgloss.NewStyle().Bold(true).Padding(0, 1)
		cellStyle := lipgloss.NewStyle().Padding(0, 1)

		rows := make([][]string, 0, len(runs))
		for _, run := range runs {
			pr := "-"
			if run.PRNumber > 0 {
				pr = fmt.Sprintf("#%d", run.PRNumber)
			}
			rows = append(rows, []string{
				run.ID,
				string(run.Status),
				string(run.TriggerType),
				shortSHA(run.Commit),
				pr,
				taskSummary(run),
				fmt.Sprintf("$%.4f", run.Metrics.CostUSD),
				run.StartedAt.Local().Format("Jan 02 15:04"),
			})
		}

		t := table.New().
			Border(lipgloss.NormalBorder()).
			Headers("RUN", "STATUS", "TRIGGER", "COMMIT", "PR", "TASKS", "COST", "STARTED").
			Rows(rows...).
			StyleFunc(func(row, col int) lipgloss.Style {
				if row == table.HeaderRow {
					return headerStyle
				}
				return cellStyle
			})

		fmt.Fprintln(cmd.OutOrStdout(), t)
		return nil
	},
}

// taskSummary renders per-task outcomes as ✓/✗/○ markers.
func taskSummary(run *session.Run) string {
	if run.Status == session.RunSkipped {
		return "skipped: " + run.SkipReason
	}
	marks := make([]string, 0, len(run.Tasks))
	for _, t := range run.Tasks {
		switch t.Status {
		case session.TaskSuccess:
			marks = append(marks, "✓ "+t.Name)
		case session.TaskFailed:
			marks = append(marks, "✗ "+t.Name)
		default:
			marks = append(marks, "○ "+t.Name)
		}
	}
	return strings.Join(marks, " | ")
}

var runsShowCmd = &cobra.Command{
	Use:   "show <run-id>",
	Short: "Show run detail",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		runs, err := fetchRuns(0)
		if err != nil {
			return err
		}
		var run *session.Run
		for _, r := range runs {
			if r.ID == args[0] {
				run = r
				break
			}
		}
		if run == nil {
			return fmt.Errorf("run %s not found", args[0])
		}

		w := cmd.OutOrStdout()
		labelStyle := lipgloss.NewStyle().Bold(true)

		fmt.Fprintf(w, "%s %s\n", labelStyle.Render("Run:"), run.ID)
		fmt.Fprintf(w, "%s %s\n", labelStyle.Render("Status:"), run.Status)
		fmt.Fprintf(w, "%s %s (%s)\n", labelStyle.Render("Trigger:"), run.TriggerType, run.RunType)
		fmt.Fprintf(w, "%s %s\n", labelStyle.Render("Commit:"), run.Commit)
		if run.Branch != "" {
			fmt.Fprintf(w, "%s %s\n", labelStyle.Render("Branch:"), run.Branch)
		}
		if run.PRNumber > 0 {
			fmt.Fprintf(w, "%s #%d\n", labelStyle.Render("PR:"), run.PRNumber)
		}
		if run.AutomationPR > 0 {
			fmt.Fprintf(w, "%s #%d\n", labelStyle.Render("Automation PR:"), run.AutomationPR)
		}
		if run.RetryOf != "" {
			fmt.Fprintf(w, "%s %s\n", labelStyle.Render("Retry Of:"), run.RetryOf)
		}
		fmt.Fprintf(w, "%s %s\n", labelStyle.Render("Started:"), run.StartedAt.Local().Format(time.RFC3339))
		if run.EndedAt != nil {
			fmt.Fprintf(w, "%s %s\n", labelStyle.Render("Ended:"), run.EndedAt.Local().Format(time.RFC3339))
		}
		if run.SkipReason != "" {
			fmt.Fprintf(w, "%s %s\n", labelStyle.Render("Skip Reason:"), run.SkipReason)
		}
		fmt.Fprintf(w, "%s %d files, +%d/-%d\n", labelStyle.Render("Diff:"),
			run.Diff.FilesChanged, run.Diff.Added, run.Diff.Removed)
		fmt.Fprintf(w, "%s %d prompt, %d completion, $%.4f, %dms\n", labelStyle.Render("Metrics:"),
			run.Metrics.PromptTokens, run.Metrics.CompletionTokens, run.Metrics.CostUSD, run.Metrics.WallTimeMS)

		for _, t := range run.Tasks {
			line := fmt.Sprintf("  %s: %s", t.Name, t.Status)
			if t.Summary != "" {
				line += " (" + t.Summary + ")"
			}
			if t.Status == session.TaskFailed {
				line += fmt.Sprintf(" [%s] %s", t.ErrorKind, t.ErrorMessage)
			}
			fmt.Fprintln(w, line)
		}
		return nil
	},
}

var runsRetryCmd = &cobra.Command{
	Use:   "retry <run-id>",
	Short: "Retry a terminal run",
	Long: `Ask the daemon to re-execute a completed, failed, or skipped run.

The retry produces a new run linked to the original; the daemon must
be running.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		resp, err := http.Post(daemonURL("/api/runs/"+args[0]+"/retry"), "application/json", nil)
		if err != nil {
			return fmt.Errorf("contacting daemon: %w (is it running?)", err)
		}
		defer resp.Body.Close()

		switch resp.StatusCode {
		case http.StatusAccepted:
			var accepted struct {
				RunID string `json:"run_id"`
			}
			if err := json.NewDecoder(resp.Body).Decode(&accepted); err != nil {
				return fmt.Errorf("decoding daemon response: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Retry accepted: run %s\n", accepted.RunID)
			return nil
		case http.StatusNotFound:
			return fmt.Errorf("run %s not found", args[0])
		case http.StatusConflict:
			return fmt.Errorf("run %s is still active", args[0])
		default:
			return fmt.Errorf("daemon returned %s", resp.Status)
		}
	},
}

func shortSHA(sha string) string {
	if len(sha) > 8 {
		return sha[:8]
	}
	return sha
}
