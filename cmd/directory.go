package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/PolarWolf314/aclsync/internal/ui"
	"github.com/PolarWolf314/aclsync/internal/workflows"
)

var (
	groupName    string
	groupMembers []string
	groupNoSync  bool
	groupDryRun  bool

	folderName   string
	folderGrants []string
)

func init() {
	groupSetCmd.Flags().StringVar(&groupName, "name", "", "group name")
	groupSetCmd.Flags().StringSliceVar(&groupMembers, "member", nil, "member user id (repeatable)")
	groupSetCmd.Flags().BoolVar(&groupNoSync, "no-sync", false, "save the membership without updating secrets")
	groupSetCmd.Flags().BoolVar(&groupDryRun, "dry-run", false, "preview the secret changes without saving")
	groupCmd.AddCommand(groupSetCmd)

	folderSetCmd.Flags().StringVar(&folderName, "name", "", "folder name")
	folderSetCmd.Flags().StringArrayVar(&folderGrants, "grant", nil, "permission as user:<id>=<level> or group:<id>=<level> (repeatable)")
	folderCmd.AddCommand(folderSetCmd)
}

func resetGroupCommandState() {
	groupName = ""
	groupMembers = nil
	groupNoSync = false
	groupDryRun = false
}

func resetFolderCommandState() {
	folderName = ""
	folderGrants = nil
}

var groupCmd = &cobra.Command{
	Use:   "group",
	Short: "Manage groups",
}

var groupSetCmd = &cobra.Command{
	Use:   "set [group-id]",
	Short: "Create or replace a group's members",
	Long: `Replaces the members of a group, creating it when no id is given, and
re-syncs every resource shared with the group: new members receive a copy of
the secret and removed members lose theirs.

Examples:
  aclsync group set --name ops --member <user-id> --member <user-id>
  aclsync group set <group-id> --member <user-id> --dry-run`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		Logger.Infof("Starting group set command")
		spinner, cleanup := startSpinner("Saving group...", verbose)
		defer cleanup()

		env, err := openEnv(cmd.Context(), spinner, "Syncing group resources...")
		if env == nil {
			return err
		}
		defer env.Close()

		opts := workflows.SetGroupOptions{Name: groupName, Members: groupMembers, NoSync: groupNoSync, DryRun: groupDryRun}
		if len(args) == 1 {
			opts.GroupID = args[0]
		}
		result, err := workflows.SetGroup(cmd.Context(), env, opts)
		if err != nil {
			spinner.FinalMSG = failMessage("Failed to save the group", err)
			return errReported
		}

		msg := ui.Success.Sprint("✓") + " Saved group " + ui.Highlight.Sprint(result.GroupID) +
			fmt.Sprintf(" with %d member(s)", len(groupMembers))
		if groupDryRun {
			msg = ui.Warning.Sprint("[dry-run]") + " Group " + ui.Highlight.Sprint(result.GroupID) + " was not saved"
		}
		switch {
		case result.Sync != nil:
			msg += "\n\n" + batchMessage("sync", result.Sync)
		case len(result.Affected) > 0:
			msg += "\n" + ui.Info.Sprint("→") + fmt.Sprintf(" %d resource(s) are shared with this group. Run ", len(result.Affected)) +
				ui.Code.Sprint("aclsync sync") + " to update their secrets"
		}
		spinner.FinalMSG = msg
		if result.Sync != nil && result.Sync.Result != nil && result.Sync.Result.Err() != nil {
			return errReported
		}
		return nil
	},
}

var folderCmd = &cobra.Command{
	Use:   "folder",
	Short: "Manage folders",
}

var folderSetCmd = &cobra.Command{
	Use:   "set [folder-id]",
	Short: "Create or replace a folder's permissions",
	Long: `Replaces the permissions of a folder, creating it when no id is given.
Resources moved into the folder afterwards inherit these permissions.

Levels are read, update and owner.

Examples:
  aclsync folder set --name ops --grant user:<user-id>=owner --grant group:<group-id>=read`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		Logger.Infof("Starting folder set command")
		spinner, cleanup := startSpinner("Saving folder...", verbose)
		defer cleanup()

		opts := workflows.SetFolderOptions{Name: folderName}
		if len(args) == 1 {
			opts.FolderID = args[0]
		}
		for _, g := range folderGrants {
			grant, err := parseGrant(g)
			if err != nil {
				spinner.FinalMSG = failMessage("Invalid --grant "+ui.Highlight.Sprint(g), err)
				return errReported
			}
			opts.Grants = append(opts.Grants, grant)
		}

		env, err := openEnv(cmd.Context(), spinner, "Saving folder...")
		if env == nil {
			return err
		}
		defer env.Close()

		id, err := workflows.SetFolder(cmd.Context(), env, opts)
		if err != nil {
			spinner.FinalMSG = failMessage("Failed to save the folder", err)
			return errReported
		}
		spinner.FinalMSG = ui.Success.Sprint("✓") + " Saved folder " + ui.Highlight.Sprint(id) +
			fmt.Sprintf(" with %d permission(s)", len(opts.Grants))
		return nil
	},
}
