package cmd

import (
	"errors"

	"github.com/spf13/cobra"

	kerrors "github.com/PolarWolf314/aclsync/internal/errors"
	"github.com/PolarWolf314/aclsync/internal/ui"
	"github.com/PolarWolf314/aclsync/internal/workflows"
)

var (
	keysPublicKeyFile string
	keysRotate        bool
)

func init() {
	keysRegisterCmd.Flags().StringVar(&keysPublicKeyFile, "public-key", "", "PEM public key file (stdin when empty)")
	keysRegisterCmd.Flags().BoolVar(&keysRotate, "rotate", false, "re-encrypt the user's secrets when the key changed")

	keysCmd.AddCommand(keysRegisterCmd)
	keysCmd.AddCommand(keysRevokeCmd)
}

func resetKeysCommandState() {
	keysPublicKeyFile = ""
	keysRotate = false
}

var keysCmd = &cobra.Command{
	Use:   "keys",
	Short: "Manage users' public keys",
}

var keysRegisterCmd = &cobra.Command{
	Use:   "register <user-id>",
	Short: "Register or replace a user's public key",
	Long: `Stores a user's public key so resources can be shared with them.

When the user already had a different key, --rotate re-encrypts every secret
they hold for the new key.

Examples:
  aclsync keys register <user-id> --public-key alice.pub
  cat alice.pub | aclsync keys register <user-id> --rotate`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		Logger.Infof("Starting keys register command")
		spinner, cleanup := startSpinner("Registering key...", verbose)
		defer cleanup()

		data, err := readInput(keysPublicKeyFile)
		if err != nil {
			spinner.FinalMSG = failMessage("Couldn't read the public key", err)
			return errReported
		}

		env, err := openEnv(cmd.Context(), spinner, "Rotating secrets...")
		if env == nil {
			return err
		}
		defer env.Close()

		result, err := workflows.RegisterKey(cmd.Context(), env, workflows.RegisterKeyOptions{
			UserID:    args[0],
			PublicKey: data,
			Rotate:    keysRotate,
		})
		if err != nil {
			headline := "Failed to register the key"
			if result != nil {
				headline = "Failed to rotate the secrets of " + ui.Highlight.Sprint(args[0])
			}
			spinner.FinalMSG = failMessage(headline, err)
			return errReported
		}

		if result.Unchanged {
			spinner.FinalMSG = ui.Success.Sprint("✓") + " Key " + ui.Muted.Sprint(result.Fingerprint) + " is already registered"
			return nil
		}
		msg := ui.Success.Sprint("✓") + " Registered key " + ui.Muted.Sprint(result.Fingerprint) + " for " + ui.Highlight.Sprint(args[0])
		switch {
		case result.Rotation != nil:
			msg += "\n\n" + batchMessage("rotate", result.Rotation)
		case result.Replaced:
			msg += "\n" + ui.Info.Sprint("→") + " Run " + ui.Code.Sprint("aclsync rotate --user "+args[0]) +
				" so their secrets use the new key"
		}
		spinner.FinalMSG = msg
		if result.Rotation != nil && result.Rotation.Result.Err() != nil {
			return errReported
		}
		return nil
	},
}

var keysRevokeCmd = &cobra.Command{
	Use:   "revoke <user-id>",
	Short: "Revoke a user's public key",
	Long: `Marks a user's key as revoked. Sharing with the user fails until a new key
is registered. Secrets the user already holds stay until their access is
removed.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		Logger.Infof("Starting keys revoke command")
		spinner, cleanup := startSpinner("Revoking key...", verbose)
		defer cleanup()

		env, err := openEnv(cmd.Context(), spinner, "Revoking key...")
		if env == nil {
			return err
		}
		defer env.Close()

		if err := workflows.RevokeKey(cmd.Context(), env, args[0]); err != nil {
			if errors.Is(err, kerrors.ErrPublicKeyNotFound) {
				spinner.FinalMSG = ui.Error.Sprint("✗") + " User " + ui.Highlight.Sprint(args[0]) + " has no registered key"
				return errReported
			}
			spinner.FinalMSG = failMessage("Failed to revoke the key", err)
			return errReported
		}
		spinner.FinalMSG = ui.Success.Sprint("✓") + " Revoked the key of " + ui.Highlight.Sprint(args[0])
		return nil
	},
}
