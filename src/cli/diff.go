package cli

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

func newDiffCmd(stdout, stderr io.Writer) *cobra.Command {
	var output string
	var all bool
	cmd := &cobra.Command{
		Use:   "diff <dataset> <snapshot-a> <snapshot-b> [path]",
		Short: "Diff a directory between two snapshots",
		Args:  cobra.RangeArgs(3, 4),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := loadApp(cmd, stderr)
			if err != nil {
				return err
			}
			dirPath := ""
			if len(args) == 4 {
				dirPath = args[3]
			}
			result, err := a.svc.Diff(cmdContext(cmd), args[0], args[1], args[2], dirPath)
			if err != nil {
				return err
			}
			if !all {
				result = result.Changed()
			}
			if output == "json" {
				return writeJSON(stdout, result)
			}
			tw := tabwriter.NewWriter(stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(tw, "CHANGE\tKIND\tPATH")
			for _, e := range result {
				fmt.Fprintf(tw, "%s\t%s\t%s\n", e.Classification, e.Kind, e.Path)
			}
			return tw.Flush()
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "table", "Output format: table|json")
	cmd.Flags().BoolVar(&all, "all", false, "Include unchanged entries")
	return cmd
}
