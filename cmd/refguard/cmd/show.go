package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var showCmd = &cobra.Command{
	Use:   "show [prefix]",
	Short: "List refs",
	Long:  "List the local refs of the project, optionally filtered by prefix.",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runShow,
}

func init() {
	rootCmd.AddCommand(showCmd)
}

func runShow(cmd *cobra.Command, args []string) error {
	prefix := ""
	if len(args) > 0 {
		prefix = args[0]
	}

	return withRuntime(func(rt *runtime) error {
		_, refs, err := rt.refs()
		if err != nil {
			return err
		}
		list, err := refs.Refs(cmd.Context(), prefix)
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		for _, ref := range list {
			if ref.Symbolic() {
				fmt.Fprintf(out, "%s\t%s -> %s\n", ref.ID, ref.Name, ref.Target)
				continue
			}
			fmt.Fprintf(out, "%s\t%s\n", ref.ID, ref.Name)
		}
		if len(list) == 0 {
			fmt.Fprintln(out, "(no refs)")
		}
		return nil
	})
}
