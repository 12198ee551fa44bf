package cmd

import (
	"github.com/spf13/cobra"
)

var deleteCmd = &cobra.Command{
	Use:   "delete <ref>",
	Short: "Delete a ref",
	Long:  "Delete a ref, recording the delete in the shared ref database when it is enabled.",
	Args:  cobra.ExactArgs(1),
	RunE:  runDelete,
}

func init() {
	deleteCmd.Flags().String("expect", "", "only delete if the ref currently points at this id")
	rootCmd.AddCommand(deleteCmd)
}

func runDelete(cmd *cobra.Command, args []string) error {
	name := args[0]
	expected, err := expectFlag(cmd)
	if err != nil {
		return err
	}

	return withRuntime(func(rt *runtime) error {
		project, refs, err := rt.refs()
		if err != nil {
			return err
		}
		res, err := refs.Delete(cmd.Context(), name, expected)
		return report(cmd, project, name, res, err)
	})
}
