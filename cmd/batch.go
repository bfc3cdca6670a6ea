package cmd

import (
	"bytes"
	"context"
	"errors"

	"github.com/spf13/cobra"

	"github.com/PolarWolf314/aclsync/internal/acl"
	"github.com/PolarWolf314/aclsync/internal/ui"
	"github.com/PolarWolf314/aclsync/internal/workflows"
)

var (
	batchDryRun bool

	shareChangesFile string

	moveFolder string
	moveRoot   bool

	rotateUsers     []string
	rotateResources []string
	rotateAll       bool
)

func init() {
	for _, c := range []*cobra.Command{shareCmd, moveCmd, rotateCmd, syncCmd} {
		c.Flags().BoolVar(&batchDryRun, "dry-run", false, "preview changes without modifying anything")
	}

	shareCmd.Flags().StringVar(&shareChangesFile, "changes", "", "JSON file of permission changes (stdin when empty)")

	moveCmd.Flags().StringVar(&moveFolder, "folder", "", "destination folder id")
	moveCmd.Flags().BoolVar(&moveRoot, "root", false, "move to the root, keeping current permissions")
	moveCmd.MarkFlagsMutuallyExclusive("folder", "root")
	moveCmd.MarkFlagsOneRequired("folder", "root")

	rotateCmd.Flags().StringSliceVar(&rotateUsers, "user", nil, "user whose secrets to re-encrypt (repeatable)")
	rotateCmd.Flags().StringSliceVar(&rotateResources, "resource", nil, "resource whose secrets to re-encrypt (repeatable)")
	rotateCmd.Flags().BoolVar(&rotateAll, "all", false, "re-encrypt the secrets of every reader")
}

func resetBatchCommandState() {
	batchDryRun = false
	shareChangesFile = ""
	moveFolder = ""
	moveRoot = false
	rotateUsers = nil
	rotateResources = nil
	rotateAll = false
}

// runBatchCommand runs a batch workflow and prints its outcome.
func runBatchCommand(cmd *cobra.Command, verb, message string, run func(context.Context, *workflows.Env) (*workflows.BatchOutcome, error)) error {
	spinner, cleanup := startSpinner(message, verbose)
	defer cleanup()

	env, err := openEnv(cmd.Context(), spinner, message)
	if env == nil {
		return err
	}
	defer env.Close()

	outcome, err := run(cmd.Context(), env)
	if err != nil {
		spinner.FinalMSG = batchFailMessage(verb, err)
		return errReported
	}
	spinner.FinalMSG = batchMessage(verb, outcome)
	if !outcome.DryRun && outcome.Result.Err() != nil {
		return errReported
	}
	if outcome.DryRun && len(outcome.Plan.Failed()) > 0 {
		return errReported
	}
	return nil
}

func batchFailMessage(verb string, err error) string {
	if errors.Is(err, context.Canceled) {
		return ui.Warning.Sprint("⚠") + " Interrupted before anything was changed"
	}
	return failMessage("Failed to "+verb, err)
}

var shareCmd = &cobra.Command{
	Use:   "share [resource-id...]",
	Short: "Change who can access resources",
	Long: `Applies permission changes to one or more resources and re-encrypts their
secrets so that exactly the resulting readers hold a copy.

Changes are read as a JSON array, one object per change:

  [
    {"aco": "Resource", "aco_foreign_key": "<resource-id>",
     "aro": "User", "aro_foreign_key": "<user-id>", "type": 1, "is_new": true},
    {"aco": "Resource", "aco_foreign_key": "<resource-id>",
     "aro": "Group", "aro_foreign_key": "<group-id>", "delete": true}
  ]

Types are 1 (read), 7 (update) and 15 (owner). Every resource is processed on
its own; one failing resource does not stop the others.

Examples:
  aclsync share <resource-id> --changes changes.json
  cat changes.json | aclsync share <id> <id> --dry-run`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		Logger.Infof("Starting share command for %d resource(s)", len(args))

		data, err := readInput(shareChangesFile)
		if err != nil {
			return err
		}
		changes, err := acl.ParseChanges(bytes.NewReader(data))
		if err != nil {
			return err
		}

		return runBatchCommand(cmd, "share", "Sharing resources...", func(ctx context.Context, env *workflows.Env) (*workflows.BatchOutcome, error) {
			return workflows.Share(ctx, env, workflows.ShareOptions{
				ResourceIDs: args,
				Changes:     changes,
				DryRun:      batchDryRun,
			})
		})
	},
}

var moveCmd = &cobra.Command{
	Use:   "move [resource-id...]",
	Short: "Move resources into a folder",
	Long: `Moves resources into a folder. Their permissions are replaced by the
folder's and their secrets follow the new set of readers.

With --root the resources leave their folder and keep their current
permissions.

Examples:
  aclsync move <resource-id> --folder <folder-id>
  aclsync move <resource-id> --root`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		Logger.Infof("Starting move command for %d resource(s)", len(args))
		return runBatchCommand(cmd, "move", "Moving resources...", func(ctx context.Context, env *workflows.Env) (*workflows.BatchOutcome, error) {
			return workflows.Move(ctx, env, workflows.MoveOptions{
				ResourceIDs: args,
				FolderID:    moveFolder,
				DryRun:      batchDryRun,
			})
		})
	},
}

var rotateCmd = &cobra.Command{
	Use:   "rotate",
	Short: "Re-encrypt secrets for readers' current keys",
	Long: `Re-encrypts secret copies for the readers' currently registered public keys
without changing any permissions. Use it after a user's key was replaced.

Examples:
  # Every resource a user can read
  aclsync rotate --user <user-id>

  # Every reader of one resource
  aclsync rotate --resource <resource-id> --all`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		Logger.Infof("Starting rotate command")
		if len(rotateUsers) == 0 && !rotateAll {
			return errors.New("either --user or --all is required")
		}
		return runBatchCommand(cmd, "rotate", "Rotating secrets...", func(ctx context.Context, env *workflows.Env) (*workflows.BatchOutcome, error) {
			return workflows.Rotate(ctx, env, workflows.RotateOptions{
				UserIDs:     rotateUsers,
				ResourceIDs: rotateResources,
				All:         rotateAll,
				DryRun:      batchDryRun,
			})
		})
	},
}

var syncCmd = &cobra.Command{
	Use:   "sync [resource-id...]",
	Short: "Bring secrets in line with current permissions",
	Long: `Re-reads group membership and creates or deletes secret copies so that
exactly the current readers of each resource hold one. Without arguments every
resource is synced.

Examples:
  aclsync sync
  aclsync sync <resource-id> --dry-run`,
	RunE: func(cmd *cobra.Command, args []string) error {
		Logger.Infof("Starting sync command")
		return runBatchCommand(cmd, "sync", "Syncing resources...", func(ctx context.Context, env *workflows.Env) (*workflows.BatchOutcome, error) {
			return workflows.Sync(ctx, env, workflows.SyncOptions{
				ResourceIDs: args,
				DryRun:      batchDryRun,
			})
		})
	},
}
