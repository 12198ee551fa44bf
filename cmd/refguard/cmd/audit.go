package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/aweris/refguard/internal/audit"
)

var auditCmd = &cobra.Command{
	Use:   "audit [prefix]",
	Short: "Compare local refs with the shared store",
	Long: "Check every local ref of the project against the value recorded in the shared " +
		"ref database. Exits non-zero when a ref diverged or was deleted in the shared store.",
	Args: cobra.MaximumNArgs(1),
	RunE: runAudit,
}

func init() {
	auditCmd.Flags().Bool("all", false, "also print refs that are in sync")
	rootCmd.AddCommand(auditCmd)
}

func runAudit(cmd *cobra.Command, args []string) error {
	prefix := ""
	if len(args) > 0 {
		prefix = args[0]
	}
	all, _ := cmd.Flags().GetBool("all")

	return withRuntime(func(rt *runtime) error {
		project, err := getProject()
		if err != nil {
			return err
		}
		local, err := rt.local(project)
		if err != nil {
			return err
		}

		report, err := audit.New(project, local, rt.shared,
			audit.WithConcurrency(rt.cfg.Audit.Concurrency),
			audit.WithResolver(rt.cfg.Resolver()),
			audit.WithLogger(rt.log),
		).Run(cmd.Context(), prefix)
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		for _, f := range report.Findings {
			if f.Status == audit.InSync && !all {
				continue
			}
			fmt.Fprintf(out, "%s\t%s\tlocal=%s\tshared=%q\n", f.Status, f.Ref, f.Local, f.Shared)
		}
		fmt.Fprintf(out, "%d refs: %d in sync, %d untracked, %d diverged, %d deleted\n",
			len(report.Findings),
			report.Count(audit.InSync),
			report.Count(audit.Untracked),
			report.Count(audit.Diverged),
			report.Count(audit.Deleted))

		if !report.Consistent() {
			return fmt.Errorf("%s: refs out of sync with shared store", project)
		}
		return nil
	})
}
