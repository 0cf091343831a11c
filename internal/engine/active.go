package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/mailsift/mailsift/internal/digest"
	"github.com/mailsift/mailsift/internal/logger"
	"github.com/mailsift/mailsift/internal/persistence"
	"github.com/mailsift/mailsift/internal/stringutil"
)

// Start kicks off a user-initiated active scan over the symbolic time
// range. It refuses while any lock is held, initializes the chunk state,
// and schedules the first chunk on a short-fuse one-off trigger. The
// dispatcher trigger is temporarily deleted to free a trigger slot; the
// one-off's first action restores it. No partial lock outlives this
// call.
func (e *Engine) Start(ctx context.Context, timeRange string) error {
	if err := e.cfg.CheckComplete(); err != nil {
		return err
	}

	now := e.clock.Now()
	start, end, err := ResolveTimeRange(timeRange, now)
	if err != nil {
		return err
	}

	if rec, held, err := e.readLock(ctx); err != nil {
		return err
	} else if held {
		return fmt.Errorf("%w: another %s workflow is already running", ErrLockConflict, rec.Kind)
	}
	if err := e.writeLock(ctx, lockRecord{Kind: LockActive, AcquiredAt: now}); err != nil {
		return err
	}

	if err := e.initActiveRun(ctx, timeRange, start, end, now); err != nil {
		e.abortStart(ctx, err)
		return err
	}

	// Free the trigger slot for the kickoff one-off; Step reinstates the
	// dispatcher as its first action.
	if err := e.triggers.Delete(ctx, DispatcherTriggerName); err != nil {
		e.abortStart(ctx, err)
		return err
	}
	if err := e.triggers.CreateOneOff(ctx, KickoffTriggerName, KickoffDelay, func(ctx context.Context) {
		e.Step(ctx)
	}); err != nil {
		e.abortStart(ctx, err)
		return err
	}

	logger.Info(ctx, "active scan started", "timeRange", timeRange, "chunks", chunkTotal(start, end))
	return nil
}

func (e *Engine) initActiveRun(ctx context.Context, timeRange string, start, end, now time.Time) error {
	empty, err := emptyAccumulatorJSON()
	if err != nil {
		return err
	}
	total := chunkTotal(start, end)
	return e.kv.SetMany(ctx, map[string]*string{
		keyStatus:               persistence.Value(StatusRunning.String()),
		keyStatusMsg:            persistence.Value(fmt.Sprintf("Scanning %s of mail in %d chunks", timeRange, total)),
		keyRunID:                persistence.Value(uuid.NewString()),
		keyStartedAt:            persistence.Value(stringutil.FormatTime(now)),
		keyTimeRange:            persistence.Value(timeRange),
		keyChunkWindowStart:     persistence.Value(stringutil.FormatTime(start)),
		keyChunkWindowEnd:       persistence.Value(stringutil.FormatTime(end)),
		keyChunkIndex:           persistence.Value("0"),
		keyChunkTotal:           persistence.Value(fmt.Sprintf("%d", total)),
		keyAccumulatedInFlight:  persistence.Value(empty),
		keyExpectedChunkStartBy: persistence.Value(stringutil.FormatTime(expectedStartBy(now, KickoffDelay))),
	})
}

// abortStart rolls back a failed Start: state cleared, lock released,
// dispatcher reinstated, user notified.
func (e *Engine) abortStart(ctx context.Context, cause error) {
	logger.Error(ctx, "failed to start active scan", "err", cause)
	if err := e.kv.SetMany(ctx, tombstones(
		keyStatus, keyStatusMsg, keyRunID, keyStartedAt, keyTimeRange,
		keyChunkWindowStart, keyChunkWindowEnd, keyChunkIndex, keyChunkTotal,
		keyAccumulatedInFlight, keyExpectedChunkStartBy,
	)); err != nil {
		logger.Error(ctx, "failed to clear partial scan state", "err", err)
	}
	if err := e.releaseLock(ctx, LockActive); err != nil {
		logger.Error(ctx, "failed to release lock", "err", err)
	}
	e.mustEnsureDispatcher(ctx)
	e.notify(ctx, e.cfg.Global.AddonName+": scan failed to start", "The scan could not be started: "+cause.Error())
}

// Step processes one chunk of the active run. It is invoked by the
// kickoff one-off or by a dispatcher tick.
func (e *Engine) Step(ctx context.Context) {
	if err := e.step(ctx); err != nil {
		e.failActive(ctx, err)
	}
}

func (e *Engine) step(ctx context.Context) error {
	e.mustEnsureDispatcher(ctx)

	status, err := e.getStatus(ctx)
	if err != nil {
		return err
	}
	if status != StatusRunning {
		// Stale trigger after a terminal transition; nothing to do.
		logger.Debug(ctx, "chunk step with no running scan", "status", status.String())
		return nil
	}

	if err := e.acquireLock(ctx, LockActive); err != nil {
		return err
	}

	now := e.clock.Now()
	if err := e.markChunkStarting(ctx, now); err != nil {
		return err
	}

	st, err := e.loadChunkState(ctx)
	if err != nil {
		return err
	}

	w0 := st.WindowStart.Add(time.Duration(st.Index) * ChunkSize)
	if !w0.Before(st.WindowEnd) {
		return e.finalize(ctx)
	}
	w1 := w0.Add(ChunkSize)
	if w1.After(st.WindowEnd) {
		w1 = st.WindowEnd
	}

	logger.Info(ctx, "processing chunk", "index", st.Index, "total", st.Total,
		"from", stringutil.FormatTime(w0), "to", stringutil.FormatTime(w1))

	threads, err := e.mail.Search(ctx, e.searchQuery(w0, w1, false), searchLimit)
	if err != nil {
		return fmt.Errorf("mail search failed: %w", err)
	}

	run, err := e.runBatches(ctx, threads)
	if err != nil {
		return err
	}

	acc, err := e.loadInFlight(ctx)
	if err != nil {
		return err
	}
	if err := e.saveInFlight(ctx, acc.Merge(accumulatorFrom(run, w0, w1))); err != nil {
		return err
	}

	nextIndex := st.Index + 1
	if err := e.kv.SetMany(ctx, map[string]*string{
		keyChunkIndex:     persistence.Value(fmt.Sprintf("%d", nextIndex)),
		keyStatusMsg:      persistence.Value(fmt.Sprintf("Processed chunk %d of %d", nextIndex, st.Total)),
		keyChunkStartedAt: persistence.Tombstone,
	}); err != nil {
		return err
	}

	if w1.Before(st.WindowEnd) {
		// More chunks remain; the next dispatcher tick resumes.
		deadline := expectedStartBy(e.clock.Now(), e.cfg.Global.DispatcherInterval)
		return e.kv.Set(ctx, keyExpectedChunkStartBy, stringutil.FormatTime(deadline))
	}
	return e.finalize(ctx)
}

// finalize writes the completed terminal state, emails the rendered
// results, and releases the run.
func (e *Engine) finalize(ctx context.Context) error {
	acc, err := e.loadInFlight(ctx)
	if err != nil {
		return err
	}

	stats := e.terminalStats(ctx, StatusCompleted, "")
	stats.Processed = acc.TotalProcessed
	stats.MustDo = len(acc.MustDo)
	stats.MustKnow = len(acc.MustKnow)

	if err := e.saveRunStats(ctx, stats); err != nil {
		return err
	}
	if err := e.clearActiveState(ctx); err != nil {
		return err
	}
	if err := e.kv.SetMany(ctx, map[string]*string{
		keyStatus:    persistence.Value(StatusCompleted.String()),
		keyStatusMsg: persistence.Value("Scan completed"),
	}); err != nil {
		return err
	}

	if err := e.releaseLock(ctx, LockActive); err != nil {
		return err
	}
	e.mustEnsureDispatcher(ctx)

	body, err := digest.Render("Scan results", acc)
	if err != nil {
		logger.Error(ctx, "failed to render scan results", "err", err)
		body = fmt.Sprintf("Scan completed: %d emails processed, %d must-do, %d must-know.",
			stats.Processed, stats.MustDo, stats.MustKnow)
	}
	e.notify(ctx, e.cfg.Global.AddonName+": scan complete", body)

	logger.Info(ctx, "active scan completed", "processed", stats.Processed,
		"mustDo", stats.MustDo, "mustKnow", stats.MustKnow)
	return nil
}

// failActive is the error terminal transition. The run is never resumed
// across errors; it is explicitly failed so the UI can reflect it.
func (e *Engine) failActive(ctx context.Context, cause error) {
	logger.Error(ctx, "active scan failed", "err", cause)

	stats := e.terminalStats(ctx, StatusError, cause.Error())
	if err := e.saveRunStats(ctx, stats); err != nil {
		logger.Error(ctx, "failed to save run stats", "err", err)
	}

	if err := e.kv.SetMany(ctx, map[string]*string{
		keyStatus:               persistence.Value(StatusError.String()),
		keyStatusMsg:            persistence.Value("Scan failed: " + cause.Error()),
		keyChunkStartedAt:       persistence.Tombstone,
		keyExpectedChunkStartBy: persistence.Tombstone,
	}); err != nil {
		logger.Error(ctx, "failed to write error state", "err", err)
	}

	if err := e.releaseLock(ctx, LockActive); err != nil {
		logger.Error(ctx, "failed to release lock", "err", err)
	}
	e.notify(ctx, e.cfg.Global.AddonName+": scan failed", "The scan failed: "+cause.Error())
	e.mustEnsureDispatcher(ctx)
}

// terminalStats snapshots the run at a terminal transition.
func (e *Engine) terminalStats(ctx context.Context, status Status, message string) RunStats {
	stats := RunStats{
		Status:     status.String(),
		FinishedAt: stringutil.FormatTime(e.clock.Now()),
		Message:    message,
	}
	stats.RunID, _, _ = e.kv.Get(ctx, keyRunID)
	stats.TimeRange, _, _ = e.kv.Get(ctx, keyTimeRange)
	stats.StartedAt, _, _ = e.kv.Get(ctx, keyStartedAt)
	return stats
}
