package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var packCmd = &cobra.Command{
	Use:   "pack",
	Short: "Pack loose refs",
	Long:  "Move the loose refs of the project into the compressed packed-refs file.",
	Args:  cobra.NoArgs,
	RunE:  runPack,
}

func init() {
	rootCmd.AddCommand(packCmd)
}

func runPack(cmd *cobra.Command, _ []string) error {
	return withRuntime(func(rt *runtime) error {
		project, err := getProject()
		if err != nil {
			return err
		}
		local, err := rt.local(project)
		if err != nil {
			return err
		}
		n, err := local.Pack(cmd.Context())
		if err != nil {
			return fmt.Errorf("pack failed: %w", err)
		}
		fmt.Fprintf(cmd.ErrOrStderr(), "Packed %d refs of %s\n", n, project)
		return nil
	})
}
