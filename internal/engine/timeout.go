package engine

import (
	"context"
	"time"

	"github.com/mailsift/mailsift/internal/logger"
	"github.com/mailsift/mailsift/internal/persistence"
)

// CheckAndHandleTimeout reaps a hung active run. It reports true iff it
// transitioned the run into the timeout state. Two kinds of evidence
// fire the same transition: a chunk that has been executing longer than
// the processing timeout, and a chunk that was due to start and never
// did.
func (e *Engine) CheckAndHandleTimeout(ctx context.Context, now time.Time) (bool, error) {
	status, err := e.getStatus(ctx)
	if err != nil {
		return false, err
	}
	if status != StatusRunning {
		return false, nil
	}

	started, running, err := e.getTime(ctx, keyChunkStartedAt)
	if err != nil {
		return false, err
	}
	if running {
		if now.Sub(started) > ProcessingTimeout {
			e.timeoutRun(ctx, "a chunk exceeded the processing timeout")
			return true, nil
		}
		return false, nil
	}

	deadline, scheduled, err := e.getTime(ctx, keyExpectedChunkStartBy)
	if err != nil {
		return false, err
	}
	if scheduled && now.After(deadline) {
		e.timeoutRun(ctx, "the next chunk did not start in time")
		return true, nil
	}
	return false, nil
}

// timeoutRun writes the timeout terminal state, releases the lock, and
// notifies the user. Chunk bookkeeping beyond the execution markers is
// left for inspection.
func (e *Engine) timeoutRun(ctx context.Context, reason string) {
	logger.Warn(ctx, "active scan timed out", "reason", reason)

	if err := e.saveRunStats(ctx, e.terminalStats(ctx, StatusTimeout, reason)); err != nil {
		logger.Error(ctx, "failed to save run stats", "err", err)
	}

	if err := e.kv.SetMany(ctx, map[string]*string{
		keyStatus:               persistence.Value(StatusTimeout.String()),
		keyStatusMsg:            persistence.Value("Scan timed out: " + reason),
		keyChunkStartedAt:       persistence.Tombstone,
		keyExpectedChunkStartBy: persistence.Tombstone,
	}); err != nil {
		logger.Error(ctx, "failed to write timeout state", "err", err)
	}

	if err := e.releaseLock(ctx, LockActive); err != nil {
		logger.Error(ctx, "failed to release lock", "err", err)
	}
	e.notify(ctx, e.cfg.Global.AddonName+": scan timed out", "The scan timed out: "+reason+". You can start a new scan at any time.")
}
