package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mailsift/mailsift/internal/engine"
	"github.com/mailsift/mailsift/internal/logger"
	"github.com/mailsift/mailsift/internal/trigger"
)

func CmdScan() *cobra.Command {
	return NewCommand(
		&cobra.Command{
			Use:   "scan [flags]",
			Short: "Run an active scan over a time range",
			Long: `Run an active scan synchronously.

The scan covers the given time range ending now, processed in two-day
chunks. Results are emailed on completion, the same as a scan started
from the API.

Example:
  mailsift scan --range 7days
`,
		}, []commandLineFlag{rangeFlag}, runScan,
	)
}

// runScan drives the chunk loop in-process instead of waiting for timer
// wake-ups, so the command finishes in one invocation.
func runScan(ctx *Context, _ []string) error {
	timeRange, err := ctx.Command.Flags().GetString("range")
	if err != nil {
		return err
	}

	triggers := trigger.NewMemoryService()
	eng, err := ctx.NewEngine(triggers)
	if err != nil {
		return err
	}

	if err := eng.Start(ctx, timeRange); err != nil {
		return err
	}
	if err := triggers.Fire(ctx, engine.KickoffTriggerName); err != nil {
		return fmt.Errorf("failed to fire kickoff: %w", err)
	}

	for {
		snap, err := eng.Snapshot(ctx)
		if err != nil {
			return err
		}
		if snap.Status != engine.StatusRunning.String() {
			if snap.Status == engine.StatusError.String() || snap.Status == engine.StatusTimeout.String() {
				return fmt.Errorf("scan finished with status %s: %s", snap.Status, snap.StatusMsg)
			}
			logger.Info(ctx, "scan finished", "status", snap.Status)
			return nil
		}
		eng.Step(ctx)
	}
}
