package cli

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
)

// NewRootCmd returns the root cobra command for the snapportal CLI.
func NewRootCmd(stdout, stderr io.Writer) *cobra.Command {
	cmd := &cobra.Command{
		Use:           "snapportal",
		Short:         "Browse, diff, and restore ZFS snapshots through the middleware daemon or the local zfs tool",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.SetOut(stdout)
	cmd.SetErr(stderr)

	addGlobalFlags(cmd)

	cmd.AddCommand(newVersionCmd(stdout))
	cmd.AddCommand(newDatasetsCmd(stdout, stderr))
	cmd.AddCommand(newSnapshotsCmd(stdout, stderr))
	cmd.AddCommand(newLsCmd(stdout, stderr))
	cmd.AddCommand(newDiffCmd(stdout, stderr))
	cmd.AddCommand(newRestoreCmd(stdout, stderr))
	cmd.AddCommand(newRollbackCmd(stdout, stderr))
	cmd.AddCommand(newCloneCmd(stdout, stderr))
	cmd.AddCommand(newJobsCmd(stdout, stderr))
	cmd.AddCommand(newBackendCmd(stdout, stderr))

	return cmd
}

// Execute runs the CLI with the process stdio.
func Execute() int {
	root := NewRootCmd(os.Stdout, os.Stderr)
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	return 0
}
