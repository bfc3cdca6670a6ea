package cmd

import (
	"errors"

	"github.com/spf13/cobra"

	kerrors "github.com/PolarWolf314/aclsync/internal/errors"
	"github.com/PolarWolf314/aclsync/internal/ui"
	"github.com/PolarWolf314/aclsync/internal/workflows"
)

var (
	initUserID  string
	initDriver  string
	initDSN     string
	initKeyPath string
)

func init() {
	initCmd.Flags().StringVar(&initUserID, "user-id", "", "your user id (a new UUID when empty)")
	initCmd.Flags().StringVar(&initDriver, "driver", "", "store driver: file or postgres (default file)")
	initCmd.Flags().StringVar(&initDSN, "dsn", "", "PostgreSQL connection string for the postgres driver")
	initCmd.Flags().StringVar(&initKeyPath, "key-path", "", "private key location (generated when missing)")
}

func resetInitCommandState() {
	initUserID = ""
	initDriver = ""
	initDSN = ""
	initKeyPath = ""
}

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize aclsync in the current directory",
	Long: `Creates the .aclsync directory with its config.toml, prepares the store and
registers your public key.

A private key is generated at the key path when none exists there. With the
postgres driver the schema is created in the given database.

Examples:
  # File store in the current directory
  aclsync init

  # PostgreSQL store, reusing an existing key
  aclsync init --driver postgres --dsn postgres://localhost/aclsync --key-path ~/.ssh/id_rsa`,
	RunE: func(cmd *cobra.Command, args []string) error {
		Logger.Infof("Starting init command")
		spinner, cleanup := startSpinner("Initializing aclsync...", verbose)
		defer cleanup()

		result, err := workflows.Init(cmd.Context(), workflows.InitOptions{
			ActorID:        initUserID,
			Driver:         initDriver,
			DSN:            initDSN,
			PrivateKeyPath: initKeyPath,
			Passphrase:     passphrasePrompt(spinner),
			Logger:         Logger,
		})
		if err != nil {
			if errors.Is(err, kerrors.ErrProjectAlreadyInitialized) {
				spinner.FinalMSG = ui.Error.Sprint("✗") + " aclsync is already initialized here\n" +
					ui.Info.Sprint("→") + " Run " + ui.Code.Sprint("aclsync access <resource>") + " to inspect it"
				return nil
			}
			spinner.FinalMSG = failMessage("Failed to initialize aclsync", err)
			return errReported
		}

		keyLine := "Using your private key at " + ui.Path.Sprint(result.PrivateKeyPath)
		if result.KeyGenerated {
			keyLine = "Generated a new private key at " + ui.Path.Sprint(result.PrivateKeyPath)
		}
		spinner.FinalMSG = ui.Success.Sprint("✓") + " aclsync initialized in " + ui.Path.Sprint(result.ProjectPath) + "\n" +
			"  Your user id: " + ui.Highlight.Sprint(result.ActorID) + "\n" +
			"  " + keyLine + "\n" +
			"  Key fingerprint: " + ui.Muted.Sprint(result.Fingerprint) + "\n\n" +
			ui.Info.Sprint("→") + " Add a secret with " + ui.Code.Sprint("aclsync resource add --name <name>")
		return nil
	},
}
