package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"snapportal/src/safety"
)

func newRollbackCmd(stdout, stderr io.Writer) *cobra.Command {
	return &cobra.Command{
		Use:   "rollback <dataset> <snapshot>",
		Short: "Revert a dataset to a snapshot",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			dataset, snapshot := args[0], args[1]
			opts := getSafetyOptions(cmd)
			question := fmt.Sprintf("Roll back %s to @%s? Data written since will be lost.", dataset, snapshot)
			ok, err := safety.Confirm(opts, cmd.InOrStdin(), stdout, question)
			if err != nil {
				return err
			}
			if !ok {
				fmt.Fprintln(stdout, "rollback not confirmed; nothing done")
				return nil
			}

			a, err := loadApp(cmd, stderr)
			if err != nil {
				return err
			}
			if err := a.svc.Rollback(cmdContext(cmd), dataset, snapshot); err != nil {
				return err
			}
			fmt.Fprintf(stdout, "rolled back %s to @%s\n", dataset, snapshot)
			return nil
		},
	}
}

func newCloneCmd(stdout, stderr io.Writer) *cobra.Command {
	return &cobra.Command{
		Use:   "clone <dataset> <snapshot> <target>",
		Short: "Clone a snapshot into a new dataset",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := loadApp(cmd, stderr)
			if err != nil {
				return err
			}
			if err := a.svc.Clone(cmdContext(cmd), args[0], args[1], args[2]); err != nil {
				return err
			}
			fmt.Fprintf(stdout, "cloned %s@%s to %s\n", args[0], args[1], args[2])
			return nil
		},
	}
}

func newBackendCmd(stdout, stderr io.Writer) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "backend",
		Short: "Inspect the active backend",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "info",
		Short: "Show the selected backend and its capabilities",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := loadApp(cmd, stderr)
			if err != nil {
				return err
			}
			return writeJSON(stdout, a.svc.BackendInfo())
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "health",
		Short: "Show backend health and per-pool status",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := loadApp(cmd, stderr)
			if err != nil {
				return err
			}
			info := a.svc.BackendInfo()
			pools, err := a.svc.PoolHealth(cmdContext(cmd))
			if err != nil {
				return err
			}
			return writeJSON(stdout, map[string]any{
				"backend": info.Backend,
				"healthy": info.Healthy,
				"pools":   pools,
			})
		},
	})
	return cmd
}
