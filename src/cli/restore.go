package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"snapportal/src/safety"
)

func newRestoreCmd(stdout, stderr io.Writer) *cobra.Command {
	var overwrite, watch bool
	cmd := &cobra.Command{
		Use:   "restore <dataset> <snapshot> <source> <destination>",
		Short: "Copy a path from a snapshot back into the live dataset",
		Long: `Restore copies <source> (a path inside the snapshot, "/" for the whole
snapshot) to <destination> inside the dataset's mount root. The destination
is validated before the backend is contacted; it can never escape the
dataset or point into the snapshot namespace.`,
		Args: cobra.ExactArgs(4),
		RunE: func(cmd *cobra.Command, args []string) error {
			dataset, snapshot, source, destination := args[0], args[1], args[2], args[3]

			opts := getSafetyOptions(cmd)
			question := fmt.Sprintf("Restore %s@%s:%s to %s?", dataset, snapshot, source, destination)
			ok, err := safety.Confirm(opts, cmd.InOrStdin(), stdout, question)
			if err != nil {
				return err
			}
			if !ok {
				fmt.Fprintln(stdout, "restore not confirmed; nothing done")
				return nil
			}

			a, err := loadApp(cmd, stderr)
			if err != nil {
				return err
			}
			job, err := a.svc.Restore(cmdContext(cmd), dataset, snapshot, source, destination, overwrite)
			if err != nil {
				return err
			}
			fmt.Fprintf(stdout, "restore job %s submitted (%s)\n", job.ID, job.State)
			if watch {
				return watchJob(cmdContext(cmd), a, job.ID, stdout)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&overwrite, "overwrite", false, "Overwrite existing files at the destination")
	cmd.Flags().BoolVar(&watch, "watch", false, "Stream job progress until it finishes")
	return cmd
}
