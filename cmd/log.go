package cmd

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/PolarWolf314/aclsync/internal/audit"
	kerrors "github.com/PolarWolf314/aclsync/internal/errors"
	"github.com/PolarWolf314/aclsync/internal/ui"
	"github.com/PolarWolf314/aclsync/internal/utils"
	"github.com/PolarWolf314/aclsync/internal/workflows"
)

var (
	logLimit     int
	logReverse   bool
	logOperation string
	logSince     string
	logJSON      bool
)

func init() {
	logCmd.Flags().IntVarP(&logLimit, "number", "n", 0, "limit number of entries shown")
	logCmd.Flags().BoolVar(&logReverse, "reverse", false, "show most recent entries first")
	logCmd.Flags().StringVar(&logOperation, "operation", "", "filter by operation type")
	logCmd.Flags().StringVar(&logSince, "since", "", "show entries after a date (YYYY-MM-DD) or a duration ago (e.g. 24h)")
	logCmd.Flags().BoolVar(&logJSON, "json", false, "output as JSON array")
}

// resetLogCommandState resets the log command's global state for testing.
func resetLogCommandState() {
	logLimit = 0
	logReverse = false
	logOperation = ""
	logSince = ""
	logJSON = false
}

var logCmd = &cobra.Command{
	Use:   "log",
	Short: "View the audit log",
	Long: `Displays the audit log: every share, move, rotation, sync, validation and
key change with who ran it and what it did.

Examples:
  aclsync log                     # View full log
  aclsync log -n 10               # Last 10 entries
  aclsync log --reverse           # Most recent first
  aclsync log --operation share   # Filter by operation
  aclsync log --since 24h         # Entries from the last day
  aclsync log --json              # JSON output`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		Logger.Infof("Starting log command")
		spinner, cleanup := startSpinner("Loading audit log...", verbose)
		defer cleanup()

		entries, err := workflows.Log(cmd.Context(), workflows.LogOptions{
			Operation: logOperation,
			Since:     logSince,
			Limit:     logLimit,
			Reverse:   logReverse,
		})
		if err != nil {
			switch {
			case errors.Is(err, kerrors.ErrProjectNotInitialized):
				spinner.FinalMSG = notInitializedMessage()
				return nil
			case errors.Is(err, kerrors.ErrInvalidDateFormat):
				spinner.FinalMSG = ui.Error.Sprint("✗") + " " + err.Error()
				return nil
			default:
				spinner.FinalMSG = failMessage("Failed to read the audit log", err)
				return errReported
			}
		}

		if len(entries) == 0 {
			spinner.FinalMSG = "No audit log entries found."
			return nil
		}
		if logJSON {
			data, err := json.MarshalIndent(entries, "", "  ")
			if err != nil {
				return fmt.Errorf("failed to marshal entries to JSON: %w", err)
			}
			spinner.FinalMSG = string(data)
			return nil
		}

		lines := make([]string, 0, len(entries))
		for _, e := range entries {
			lines = append(lines, fmt.Sprintf("%-19s  %-8s  %-9s  %s",
				formatTimestamp(e.Timestamp), utils.ShortID(e.ActorID), e.Operation, entryDetails(e)))
		}
		spinner.FinalMSG = strings.Join(lines, "\n")
		return nil
	},
}

func formatTimestamp(ts string) string {
	t, err := time.Parse(audit.TimestampFormat, ts)
	if err != nil {
		return ts
	}
	return t.Local().Format("2006-01-02 15:04:05")
}

func entryDetails(e audit.Entry) string {
	var parts []string
	if e.DryRun {
		parts = append(parts, "[dry-run]")
	}
	switch n := len(e.Resources); {
	case n == 1:
		parts = append(parts, "resource "+utils.ShortID(e.Resources[0]))
	case n > 1:
		parts = append(parts, fmt.Sprintf("%d resources", n))
	}
	if len(e.TargetUsers) > 0 {
		short := make([]string, len(e.TargetUsers))
		for i, u := range e.TargetUsers {
			short[i] = utils.ShortID(u)
		}
		parts = append(parts, "users "+strings.Join(short, ","))
	}
	if e.Folder != "" {
		parts = append(parts, "folder "+utils.ShortID(e.Folder))
	}
	if e.Validated+e.Failed+e.Cancelled > 0 {
		parts = append(parts, fmt.Sprintf("validated %d, failed %d, cancelled %d", e.Validated, e.Failed, e.Cancelled))
	}
	if e.Created+e.Deleted > 0 {
		parts = append(parts, fmt.Sprintf("+%d/-%d secrets", e.Created, e.Deleted))
	}
	if e.Checked > 0 {
		parts = append(parts, fmt.Sprintf("checked %d, mismatched %d", e.Checked, len(e.Mismatches)))
	}
	if e.Error != "" {
		parts = append(parts, "error: "+e.Error)
	}
	return strings.Join(parts, "  ")
}
