package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/aweris/refguard"
)

var updateCmd = &cobra.Command{
	Use:   "update <ref> <new-id>",
	Short: "Update a ref",
	Long: "Point a ref at a new object. When the shared ref database is enabled the " +
		"update is validated against it and recorded there.",
	Args: cobra.ExactArgs(2),
	RunE: runUpdate,
}

func init() {
	updateCmd.Flags().Bool("force", false, "update even if the change is not a fast-forward")
	updateCmd.Flags().String("expect", "", "only update if the ref currently points at this id")
	rootCmd.AddCommand(updateCmd)
}

func runUpdate(cmd *cobra.Command, args []string) error {
	name := args[0]
	newID, err := refguard.ParseObjectID(args[1])
	if err != nil {
		return err
	}
	force, _ := cmd.Flags().GetBool("force")
	expected, err := expectFlag(cmd)
	if err != nil {
		return err
	}

	return withRuntime(func(rt *runtime) error {
		project, refs, err := rt.refs()
		if err != nil {
			return err
		}
		res, err := refs.Update(cmd.Context(), refguard.RefUpdate{
			Name:        name,
			NewID:       newID,
			ExpectedOld: expected,
			Force:       force,
		})
		return report(cmd, project, name, res, err)
	})
}

// expectFlag parses --expect. An unset flag means no expectation.
func expectFlag(cmd *cobra.Command) (*refguard.ObjectID, error) {
	if !cmd.Flags().Changed("expect") {
		return nil, nil
	}
	raw, _ := cmd.Flags().GetString("expect")
	id, err := refguard.ParseObjectID(raw)
	if err != nil {
		return nil, err
	}
	return refguard.Expect(id), nil
}

func report(cmd *cobra.Command, project, name string, res refguard.Result, err error) error {
	if err != nil {
		return fmt.Errorf("%s %s: %s: %w", project, name, res, err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\n", name, res)
	if !res.Success() {
		return fmt.Errorf("%s %s: %s", project, name, res)
	}
	return nil
}
