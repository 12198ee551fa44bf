package cmd

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/aweris/refguard"
)

var batchCmd = &cobra.Command{
	Use:   "batch <file>",
	Short: "Apply a batch of ref updates",
	Long: "Apply the ref updates listed in file (or stdin for \"-\"), one \"<old-id> <new-id> <ref>\" " +
		"per line. Use 0 for a missing old or new id. Lines starting with # are ignored.",
	Args: cobra.ExactArgs(1),
	RunE: runBatch,
}

func init() {
	batchCmd.Flags().Bool("non-atomic", false, "apply the commands that can be applied even if others fail")
	rootCmd.AddCommand(batchCmd)
}

func runBatch(cmd *cobra.Command, args []string) error {
	cmds, err := readBatch(cmd, args[0])
	if err != nil {
		return err
	}
	nonAtomic, _ := cmd.Flags().GetBool("non-atomic")

	return withRuntime(func(rt *runtime) error {
		project, refs, err := rt.refs()
		if err != nil {
			return err
		}

		ctx := cmd.Context()
		if db, ok := refs.(*refguard.RefDatabase); ok {
			err = db.NewBatchUpdate().SetAtomic(!nonAtomic).AddCommand(cmds...).Execute(ctx)
		} else {
			err = refs.Batch(ctx, cmds, !nonAtomic)
		}

		failed := 0
		for _, c := range cmds {
			fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\t%s\n", c.RefName, c.Result, c.Message)
			if c.Result != refguard.CmdOK {
				failed++
			}
		}
		if err != nil {
			return fmt.Errorf("%s: batch failed: %w", project, err)
		}
		if failed > 0 {
			return fmt.Errorf("%s: %d of %d commands not applied", project, failed, len(cmds))
		}
		return nil
	})
}

func readBatch(cmd *cobra.Command, path string) ([]*refguard.Command, error) {
	if path == "-" {
		return parseBatch(cmd.InOrStdin())
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return parseBatch(f)
}

func parseBatch(r io.Reader) ([]*refguard.Command, error) {
	var cmds []*refguard.Command
	scanner := bufio.NewScanner(r)
	line := 0
	for scanner.Scan() {
		line++
		text := strings.TrimSpace(scanner.Text())
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}
		fields := strings.Fields(text)
		if len(fields) != 3 {
			return nil, fmt.Errorf("line %d: want \"<old-id> <new-id> <ref>\", got %q", line, text)
		}
		oldID, err := refguard.ParseObjectID(fields[0])
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		newID, err := refguard.ParseObjectID(fields[1])
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		if oldID == refguard.ZeroID && newID == refguard.ZeroID {
			return nil, fmt.Errorf("line %d: old and new id are both zero", line)
		}
		cmds = append(cmds, refguard.NewCommand(fields[2], oldID, newID))
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	if len(cmds) == 0 {
		return nil, fmt.Errorf("no commands")
	}
	return cmds, nil
}
