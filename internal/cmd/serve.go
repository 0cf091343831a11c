package cmd

import (
	"fmt"
	"os/signal"
	"syscall"

	"github.com/jonboulle/clockwork"
	"github.com/spf13/cobra"

	"github.com/mailsift/mailsift/internal/frontend"
	"github.com/mailsift/mailsift/internal/logger"
	"github.com/mailsift/mailsift/internal/trigger"
)

func CmdServe() *cobra.Command {
	return NewCommand(
		&cobra.Command{
			Use:   "serve [flags]",
			Short: "Run the triage daemon and HTTP API",
			Long: `Start the long-running triage daemon.

The daemon installs the hourly dispatcher that advances active scans and
runs passive background scans, and serves the HTTP API for status and
scan initiation.

Example:
  mailsift serve --host=0.0.0.0 --port=8090
`,
		}, []commandLineFlag{hostFlag, portFlag}, runServe,
	)
}

func runServe(ctx *Context, _ []string) error {
	sigCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	ctx.Context = sigCtx

	triggers, err := trigger.NewGocronService(ctx, clockwork.NewRealClock())
	if err != nil {
		return fmt.Errorf("failed to start trigger service: %w", err)
	}
	defer func() {
		if err := triggers.Shutdown(); err != nil {
			logger.Error(ctx, "failed to shut down trigger service", "err", err)
		}
	}()

	eng, err := ctx.NewEngine(triggers)
	if err != nil {
		return err
	}
	if err := eng.EnsureDispatcher(ctx); err != nil {
		return fmt.Errorf("failed to install dispatcher: %w", err)
	}

	logger.Info(ctx, "daemon starting",
		"host", ctx.Config.Server.Host,
		"port", ctx.Config.Server.Port,
		"dispatcherInterval", ctx.Config.Global.DispatcherInterval)

	server := frontend.NewServer(ctx.Config, eng)
	if err := server.Serve(ctx); err != nil {
		return fmt.Errorf("server failed: %w", err)
	}
	return nil
}
