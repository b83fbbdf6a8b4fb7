package cli

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"snapportal/src/util/progress"
)

func newJobsCmd(stdout, stderr io.Writer) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "jobs",
		Short: "Inspect restore jobs",
	}
	cmd.AddCommand(newJobsShowCmd(stdout, stderr))
	cmd.AddCommand(newJobsWatchCmd(stdout, stderr))
	return cmd
}

func newJobsShowCmd(stdout, stderr io.Writer) *cobra.Command {
	return &cobra.Command{
		Use:   "show <job-id>",
		Short: "Show the tracked state of a restore job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := loadApp(cmd, stderr)
			if err != nil {
				return err
			}
			job, err := a.svc.Job(cmdContext(cmd), args[0])
			if err != nil {
				return err
			}
			return writeJSON(stdout, job)
		},
	}
}

func newJobsWatchCmd(stdout, stderr io.Writer) *cobra.Command {
	return &cobra.Command{
		Use:   "watch <job-id>",
		Short: "Stream a restore job's progress until it reaches a terminal state",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := loadApp(cmd, stderr)
			if err != nil {
				return err
			}
			return watchJob(cmdContext(cmd), a, args[0], stdout)
		},
	}
}

// watchJob subscribes to a job and renders events until the stream yields a
// terminal state. Subscription replays the current state, so watching an
// already finished job prints its outcome and returns. Jobs submitted by
// another process are fetched from the backend before subscribing.
func watchJob(ctx context.Context, a *app, jobID string, stdout io.Writer) error {
	events, cancel, err := a.svc.WatchJob(ctx, jobID)
	if err != nil {
		return err
	}
	defer cancel()

	printer := progress.NewPrinter(stdout, jobID)
	for ev := range events {
		if ev.State.Terminal() {
			detail := ev.Message
			if ev.Error != "" {
				detail = ev.Error
			}
			printer.Finish(string(ev.State), detail)
			if ev.Error != "" {
				return fmt.Errorf("job %s failed: %s", jobID, ev.Error)
			}
			return nil
		}
		printer.Update(string(ev.State), ev.Progress, ev.Message)
	}
	// Stream closed by retention collection without a terminal event.
	printer.Finish("UNKNOWN", "event stream closed")
	return nil
}
