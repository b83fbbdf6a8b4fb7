package cli

import (
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
)

func newLsCmd(stdout, stderr io.Writer) *cobra.Command {
	var output string
	cmd := &cobra.Command{
		Use:   "ls <dataset> <snapshot> [path]",
		Short: "List a directory inside a snapshot",
		Args:  cobra.RangeArgs(2, 3),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := loadApp(cmd, stderr)
			if err != nil {
				return err
			}
			dirPath := ""
			if len(args) == 3 {
				dirPath = args[2]
			}
			entries, err := a.svc.ListDirectory(cmdContext(cmd), args[0], args[1], dirPath)
			if err != nil {
				return err
			}
			if output == "json" {
				return writeJSON(stdout, entries)
			}
			tw := tabwriter.NewWriter(stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(tw, "KIND\tSIZE\tMODIFIED\tPATH")
			for _, e := range entries {
				modified := ""
				if !e.ModTime.IsZero() {
					modified = e.ModTime.Format(time.RFC3339)
				}
				fmt.Fprintf(tw, "%s\t%d\t%s\t%s\n", e.Kind, e.Size, modified, e.Path)
			}
			return tw.Flush()
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "table", "Output format: table|json")
	return cmd
}
