package cmd

import (
	"fmt"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/mailsift/mailsift/internal/stringutil"
	"github.com/mailsift/mailsift/internal/trigger"
)

func CmdStatus() *cobra.Command {
	return NewCommand(
		&cobra.Command{
			Use:   "status",
			Short: "Show the current engine state",
			Long: `Print the engine state: workflow status, chunk position of a
running scan, the last digest date, and the passive high-water mark.
`,
		}, nil, runStatus,
	)
}

func runStatus(ctx *Context, _ []string) error {
	eng, err := ctx.NewEngine(trigger.NewMemoryService())
	if err != nil {
		return err
	}

	snap, err := eng.Snapshot(ctx)
	if err != nil {
		return err
	}

	t := table.NewWriter()
	t.SetOutputMirror(ctx.Command.OutOrStdout())
	t.AppendRow(table.Row{"Status", snap.Status})
	if snap.StatusMsg != "" {
		t.AppendRow(table.Row{"Message", snap.StatusMsg})
	}
	if snap.TimeRange != "" {
		t.AppendRow(table.Row{"Time range", snap.TimeRange})
		t.AppendRow(table.Row{"Chunk", fmt.Sprintf("%d / %d", snap.ChunkIndex, snap.ChunkTotal)})
	}
	if snap.LastDigestDate != "" {
		t.AppendRow(table.Row{"Last digest", snap.LastDigestDate})
	}
	if !snap.PassiveHighWater.IsZero() {
		t.AppendRow(table.Row{"Passive high-water", stringutil.FormatTime(snap.PassiveHighWater)})
	}
	if snap.LatestRun != nil {
		t.AppendSeparator()
		t.AppendRow(table.Row{"Last run", snap.LatestRun.Status})
		t.AppendRow(table.Row{"  Range", snap.LatestRun.TimeRange})
		t.AppendRow(table.Row{"  Processed", snap.LatestRun.Processed})
		t.AppendRow(table.Row{"  Must do", snap.LatestRun.MustDo})
		t.AppendRow(table.Row{"  Must know", snap.LatestRun.MustKnow})
	}
	t.Render()
	return nil
}
