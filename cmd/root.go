package cmd

import (
	"context"

	logger "github.com/PolarWolf314/aclsync/internal/logging"
	"github.com/common-nighthawk/go-figure"
	"github.com/spf13/cobra"
)

var (
	verbose        bool
	debug          bool
	privateKeyPath string
	Logger         logger.Logger

	RootCmd = &cobra.Command{
		Use:   "aclsync",
		Short: "aclsync - keep per-user secret copies consistent with access control lists.",
		Long: banner() + `
aclsync shares secret-bearing resources with users and groups.

Every reader of a resource holds their own copy of its secret, encrypted with
their public key. Changing who can read a resource, moving it between folders,
changing a group's members or rotating a user's key re-encrypts the secret so
that exactly the readers hold a copy.

Usage:
  aclsync <command> [flags]

Run 'aclsync help <command>' for more details on a specific command.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			Logger = logger.Logger{
				Verbose: verbose,
				Debug:   debug,
			}
			Logger.Debugf("Initializing %s command with verbose=%t, debug=%t", cmd.Name(), verbose, debug)
		},
	}
)

// banner renders the project name for the root help.
func banner() string {
	return figure.NewFigure("aclsync", "alligator2", true).String()
}

func init() {
	RootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose output")
	RootCmd.PersistentFlags().BoolVarP(&debug, "debug", "d", false, "enable debug output")
	RootCmd.PersistentFlags().StringVar(&privateKeyPath, "private-key", "", "path to your private key (defaults to actor.private_key_path)")

	RootCmd.AddCommand(initCmd)
	RootCmd.AddCommand(resourceCmd)
	RootCmd.AddCommand(groupCmd)
	RootCmd.AddCommand(folderCmd)
	RootCmd.AddCommand(keysCmd)
	RootCmd.AddCommand(shareCmd)
	RootCmd.AddCommand(moveCmd)
	RootCmd.AddCommand(rotateCmd)
	RootCmd.AddCommand(syncCmd)
	RootCmd.AddCommand(validateCmd)
	RootCmd.AddCommand(sweepCmd)
	RootCmd.AddCommand(accessCmd)
	RootCmd.AddCommand(logCmd)
}

// Execute runs the root command.
func Execute(ctx context.Context) error {
	return RootCmd.ExecuteContext(ctx)
}

// ResetGlobalState resets all global variables to their default values for testing.
func ResetGlobalState() {
	verbose = false
	debug = false
	privateKeyPath = ""
	resetInitCommandState()
	resetResourceCommandState()
	resetGroupCommandState()
	resetFolderCommandState()
	resetKeysCommandState()
	resetBatchCommandState()
	resetValidateCommandState()
	resetAccessCommandState()
	resetLogCommandState()
}

// SetLogger sets the logger for testing.
func SetLogger(l logger.Logger) {
	Logger = l
}
