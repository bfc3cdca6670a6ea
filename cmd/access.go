package cmd

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	kerrors "github.com/PolarWolf314/aclsync/internal/errors"
	"github.com/PolarWolf314/aclsync/internal/ui"
	"github.com/PolarWolf314/aclsync/internal/workflows"
)

var accessJSON bool

func init() {
	accessCmd.Flags().BoolVar(&accessJSON, "json", false, "output as JSON")
}

func resetAccessCommandState() {
	accessJSON = false
}

var accessCmd = &cobra.Command{
	Use:   "access <resource-id>",
	Short: "Show who can access a resource",
	Long: `Lists a resource's permissions and, for every reader and secret holder,
whether they hold a copy of its secret:

  active   reader with a secret
  missing  reader without a secret
  orphan   secret held by someone who is no longer a reader

Examples:
  aclsync access <resource-id>
  aclsync access <resource-id> --json`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		Logger.Infof("Starting access command")
		spinner, cleanup := startSpinner("Checking access...", verbose)
		defer cleanup()

		env, err := openEnv(cmd.Context(), spinner, "Checking access...")
		if env == nil {
			return err
		}
		defer env.Close()

		result, err := workflows.Access(cmd.Context(), env, args[0])
		if err != nil {
			if errors.Is(err, kerrors.ErrResourceNotFound) {
				spinner.FinalMSG = ui.Error.Sprint("✗") + " Resource " + ui.Highlight.Sprint(args[0]) + " does not exist"
				return errReported
			}
			spinner.FinalMSG = failMessage("Failed to check access", err)
			return errReported
		}

		if accessJSON {
			data, err := json.MarshalIndent(result, "", "  ")
			if err != nil {
				return fmt.Errorf("failed to marshal access report to JSON: %w", err)
			}
			spinner.FinalMSG = string(data)
			return nil
		}
		spinner.FinalMSG = accessMessage(result)
		return nil
	},
}

func accessMessage(result *workflows.AccessResult) string {
	var b strings.Builder
	b.WriteString("Resource: " + ui.Highlight.Sprint(result.Resource.Name) + " " + ui.Muted.Sprint(result.Resource.ID) + "\n")
	if result.Resource.FolderID != "" {
		b.WriteString("Folder:   " + result.Resource.FolderID + "\n")
	}

	b.WriteString("\nPermissions:\n")
	for _, p := range result.Permissions {
		b.WriteString(fmt.Sprintf("  %-6s %-36s  %s\n", p.Aro, p.AroID, p.Level))
	}

	b.WriteString("\nReaders:\n")
	if len(result.Readers) == 0 {
		b.WriteString("  " + ui.Muted.Sprint("none") + "\n")
	}
	counts := map[string]int{}
	for _, r := range result.Readers {
		counts[r.Status]++
		line := fmt.Sprintf("  %-36s  %s", r.UserID, ui.AccessStatus(r.Status))
		if len(r.Via) > 0 {
			line += "  " + ui.Muted.Sprint("via "+strings.Join(r.Via, ", "))
		}
		b.WriteString(line + "\n")
	}

	if len(result.GroupErrors) > 0 {
		ids := make([]string, 0, len(result.GroupErrors))
		for id := range result.GroupErrors {
			ids = append(ids, id)
		}
		sort.Strings(ids)
		b.WriteString("\n" + ui.Warning.Sprint("⚠") + " Membership of some groups could not be read:\n")
		for _, id := range ids {
			b.WriteString("  " + id + ": " + result.GroupErrors[id] + "\n")
		}
	}

	b.WriteString(fmt.Sprintf("\nActive: %d, missing: %d, orphan: %d",
		counts[workflows.StatusActive], counts[workflows.StatusMissing], counts[workflows.StatusOrphan]))
	if counts[workflows.StatusMissing]+counts[workflows.StatusOrphan] > 0 {
		b.WriteString("\n" + ui.Info.Sprint("→") + " Run " + ui.Code.Sprint("aclsync sync "+result.Resource.ID) + " to repair")
	}
	return b.String()
}
