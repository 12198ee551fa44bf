package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var cleanupCmd = &cobra.Command{
	Use:   "cleanup <project>",
	Short: "Remove a deleted project from the shared store",
	Long:  "Drop every ref of a deleted project from the shared ref database.",
	Args:  cobra.ExactArgs(1),
	RunE:  runCleanup,
}

func init() {
	rootCmd.AddCommand(cleanupCmd)
}

func runCleanup(cmd *cobra.Command, args []string) error {
	project := args[0]
	return withRuntime(func(rt *runtime) error {
		if err := rt.manager.ProjectDeleted(cmd.Context(), project); err != nil {
			return err
		}
		fmt.Fprintf(cmd.ErrOrStderr(), "Removed %s from the shared store\n", project)
		return nil
	})
}
