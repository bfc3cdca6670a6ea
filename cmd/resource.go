package cmd

import (
	"github.com/spf13/cobra"

	"github.com/PolarWolf314/aclsync/internal/ui"
	"github.com/PolarWolf314/aclsync/internal/workflows"
)

var (
	resourceName       string
	resourceURI        string
	resourceFolder     string
	resourceSecretFile string
)

func init() {
	resourceAddCmd.Flags().StringVar(&resourceName, "name", "", "resource name")
	resourceAddCmd.Flags().StringVar(&resourceURI, "uri", "", "resource URI")
	resourceAddCmd.Flags().StringVar(&resourceFolder, "folder", "", "folder to place the resource in")
	resourceAddCmd.Flags().StringVar(&resourceSecretFile, "secret-file", "", "file holding the secret (stdin when empty)")
	_ = resourceAddCmd.MarkFlagRequired("name")

	resourceCmd.AddCommand(resourceAddCmd)
}

func resetResourceCommandState() {
	resourceName = ""
	resourceURI = ""
	resourceFolder = ""
	resourceSecretFile = ""
}

var resourceCmd = &cobra.Command{
	Use:   "resource",
	Short: "Manage resources",
}

var resourceAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Add a resource owned by you",
	Long: `Adds a resource with you as its owner and stores your encrypted copy of its
secret. With --folder the resource is moved into the folder and shared with
everyone the folder grants access to.

Examples:
  echo -n 'hunter2' | aclsync resource add --name "db password"
  aclsync resource add --name "api token" --secret-file token.txt --folder <folder-id>`,
	RunE: func(cmd *cobra.Command, args []string) error {
		Logger.Infof("Starting resource add command")
		spinner, cleanup := startSpinner("Adding resource...", verbose)
		defer cleanup()

		secret, err := readInput(resourceSecretFile)
		if err != nil {
			spinner.FinalMSG = failMessage("Couldn't read the secret", err)
			return errReported
		}

		env, err := openEnv(cmd.Context(), spinner, "Adding resource...")
		if env == nil {
			return err
		}
		defer env.Close()

		result, err := workflows.CreateResource(cmd.Context(), env, workflows.CreateResourceOptions{
			Name:     resourceName,
			URI:      resourceURI,
			Secret:   secret,
			FolderID: resourceFolder,
		})
		if err != nil {
			headline := "Failed to add the resource"
			if result != nil {
				headline = "Failed to move the new resource into " + ui.Highlight.Sprint(resourceFolder)
			}
			spinner.FinalMSG = failMessage(headline, err)
			return errReported
		}

		msg := ui.Success.Sprint("✓") + " Added resource " + ui.Highlight.Sprint(result.Resource.ID) + " " + ui.Muted.Sprint(result.Resource.Name)
		if result.Move != nil {
			msg += "\n\n" + batchMessage("move", result.Move)
		}
		spinner.FinalMSG = msg
		if result.Move != nil && result.Move.Result.Err() != nil {
			return errReported
		}
		return nil
	},
}
