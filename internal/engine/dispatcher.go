package engine

import (
	"context"
	"errors"
	"slices"
	"time"

	"github.com/mailsift/mailsift/internal/logger"
	"github.com/mailsift/mailsift/internal/persistence"
	"github.com/mailsift/mailsift/internal/stringutil"
	"github.com/mailsift/mailsift/internal/trigger"
)

// Tick is the dispatcher: the single recurring heartbeat. Per tick it
// reaps a timed-out active run, advances the active state machine, or
// runs a passive pass, in that priority order.
func (e *Engine) Tick(ctx context.Context) {
	now := e.clock.Now()

	fired, err := e.CheckAndHandleTimeout(ctx, now)
	if err != nil {
		logger.Error(ctx, "timeout check failed", "err", err)
		return
	}
	if fired {
		e.mustEnsureDispatcher(ctx)
		return
	}

	status, err := e.getStatus(ctx)
	if err != nil {
		logger.Error(ctx, "failed to read status", "err", err)
		return
	}

	if status == StatusRunning {
		// A chunk mid-flight in another invocation is left alone; the
		// timeout check above is the only reaper.
		if _, running, err := e.getTime(ctx, keyChunkStartedAt); err == nil && running {
			logger.Debug(ctx, "chunk still executing, skipping tick")
			return
		}
		e.Step(ctx)
		return
	}

	e.maybeRunPassive(ctx, now)
}

// maybeRunPassive runs a passive pass when at least an hour has elapsed
// since the last one and the config is complete.
func (e *Engine) maybeRunPassive(ctx context.Context, now time.Time) {
	if err := e.cfg.CheckComplete(); err != nil {
		logger.Debug(ctx, "passive pass skipped", "reason", err)
		return
	}

	if last, ok, err := e.getTime(ctx, keyPassiveLastRunAt); err == nil && ok {
		if now.Sub(last) < time.Hour {
			return
		}
	}

	if err := e.kv.Set(ctx, keyPassiveLastRunAt, stringutil.FormatTime(now)); err != nil {
		logger.Error(ctx, "failed to record passive run time", "err", err)
		return
	}

	if err := e.PassivePass(ctx); err != nil {
		logger.Error(ctx, "passive pass failed", "err", err)
		e.notify(ctx, e.cfg.Global.AddonName+": passive scan failed", "The background scan failed: "+err.Error())
	}
}

// EnsureDispatcher recreates the recurring dispatcher trigger whenever it
// is missing. Every public entry point that can affect triggers calls
// this as a safety net against host behaviours that silently drop
// triggers and against the engine's own trigger-slot juggling.
func (e *Engine) EnsureDispatcher(ctx context.Context) error {
	names, err := e.triggers.List(ctx)
	if err != nil {
		return err
	}
	if slices.Contains(names, DispatcherTriggerName) {
		return nil
	}
	err = e.triggers.CreateRecurring(ctx, DispatcherTriggerName, e.cfg.Global.DispatcherInterval, func(ctx context.Context) {
		e.Tick(ctx)
	})
	if errors.Is(err, trigger.ErrTriggerExists) {
		return nil
	}
	if err == nil {
		logger.Info(ctx, "dispatcher trigger reinstated")
	}
	return err
}

// mustEnsureDispatcher is EnsureDispatcher with logging instead of an
// error return, for paths that cannot do better than log.
func (e *Engine) mustEnsureDispatcher(ctx context.Context) {
	if err := e.EnsureDispatcher(ctx); err != nil {
		logger.Error(ctx, "failed to reinstate dispatcher trigger", "err", err)
	}
}

// tombstones builds a SetMany map deleting the given keys.
func tombstones(keys ...string) map[string]*string {
	out := make(map[string]*string, len(keys))
	for _, k := range keys {
		out[k] = persistence.Tombstone
	}
	return out
}
