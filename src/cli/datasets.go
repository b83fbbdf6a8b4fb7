package cli

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

func newDatasetsCmd(stdout, stderr io.Writer) *cobra.Command {
	var output string
	var tree bool
	cmd := &cobra.Command{
		Use:   "datasets",
		Short: "List datasets on the active backend",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := loadApp(cmd, stderr)
			if err != nil {
				return err
			}
			ctx := cmdContext(cmd)

			if tree {
				nodes, err := a.svc.PoolTree(ctx)
				if err != nil {
					return err
				}
				if output == "json" {
					return writeJSON(stdout, nodes)
				}
				tw := tabwriter.NewWriter(stdout, 0, 0, 2, ' ', 0)
				fmt.Fprintln(tw, "POOL\tDATASET\tSNAPSHOTS\tLATEST")
				for _, pool := range nodes {
					for _, ds := range pool.Datasets {
						fmt.Fprintf(tw, "%s\t%s\t%d\t%s\n", pool.Name, ds.Name, ds.SnapshotCount, ds.LatestSnapshot)
					}
				}
				return tw.Flush()
			}

			datasets, err := a.svc.ListDatasets(ctx)
			if err != nil {
				return err
			}
			if output == "json" {
				return writeJSON(stdout, datasets)
			}
			tw := tabwriter.NewWriter(stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(tw, "NAME\tMOUNTPOINT\tUSED\tAVAIL")
			for _, ds := range datasets {
				fmt.Fprintf(tw, "%s\t%s\t%d\t%d\n", ds.Name, ds.MountPoint, ds.Used, ds.Available)
			}
			return tw.Flush()
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "table", "Output format: table|json")
	cmd.Flags().BoolVar(&tree, "tree", false, "Group datasets by pool with snapshot counts")
	return cmd
}
