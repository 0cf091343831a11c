package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/samber/lo"

	"github.com/mailsift/mailsift/internal/digest"
	"github.com/mailsift/mailsift/internal/logger"
	"github.com/mailsift/mailsift/internal/mailstore"
	"github.com/mailsift/mailsift/internal/persistence"
	"github.com/mailsift/mailsift/internal/stringutil"
)

// PassivePass runs one hourly background scan: mail newer than the
// high-water mark is classified and the findings are appended to the
// durable accumulator, then the daily digest is attempted. Errors leave
// the accumulator intact; the next pass retries.
func (e *Engine) PassivePass(ctx context.Context) error {
	if err := e.acquireLock(ctx, LockPassive); err != nil {
		return err
	}
	defer func() {
		if err := e.releaseLock(ctx, LockPassive); err != nil {
			logger.Error(ctx, "failed to release passive lock", "err", err)
		}
	}()

	now := e.clock.Now()
	start := now.Add(-PassiveBackstop)
	hw, hasHW, err := e.getTime(ctx, keyPassiveLastMsgTs)
	if err != nil {
		return err
	}
	if hasHW {
		if s := hw.Add(PassiveSafetyBuffer); s.After(start) {
			start = s
		}
	}
	if !start.Before(now) {
		return nil
	}

	threads, err := e.mail.Search(ctx, e.searchQuery(start, now, true), searchLimit)
	if err != nil {
		return fmt.Errorf("mail search failed: %w", err)
	}

	markerID, _, _ := e.kv.Get(ctx, keyPassiveLastMsgID)
	threads = truncateAtMarker(threads, markerID)

	run, err := e.runBatches(ctx, threads)
	if err != nil {
		return err
	}

	if len(run.Result.MustDo)+len(run.Result.MustKnow) > 0 {
		if err := e.advanceHighWater(ctx, run, hw, hasHW); err != nil {
			return err
		}
		acc, handle, err := e.loadAccumulator(ctx)
		if err != nil {
			return err
		}
		if err := e.writeAccumulator(ctx, handle, acc.Merge(accumulatorFrom(run, start, now))); err != nil {
			return err
		}
		logger.Info(ctx, "passive pass accumulated findings",
			"processed", run.Processed,
			"mustDo", len(run.Result.MustDo),
			"mustKnow", len(run.Result.MustKnow))
	}

	return e.MaybeSendDailyDigest(ctx)
}

// advanceHighWater moves the passive marker to the earliest message of
// this pass. The timestamp never moves backwards.
func (e *Engine) advanceHighWater(ctx context.Context, run batchRun, old time.Time, hasOld bool) error {
	if run.EarliestTs.IsZero() {
		return nil
	}
	if hasOld && !run.EarliestTs.After(old) {
		return nil
	}
	return e.kv.SetMany(ctx, map[string]*string{
		keyPassiveLastMsgTs: persistence.Value(stringutil.FormatTime(run.EarliestTs)),
		keyPassiveLastMsgID: persistence.Value(run.EarliestID),
	})
}

// truncateAtMarker cuts thread traversal at the known high-water message
// (exclusive). Threads arrive most-recent-first, so everything past the
// marker has already been processed.
func truncateAtMarker(threads []mailstore.Thread, markerID string) []mailstore.Thread {
	if markerID == "" {
		return threads
	}
	var out []mailstore.Thread
	for _, t := range threads {
		hit := lo.ContainsBy(t.Messages, func(m mailstore.Message) bool {
			return m.ID == markerID
		})
		if !hit {
			out = append(out, t)
			continue
		}
		trimmed := t
		trimmed.Messages = lo.Filter(t.Messages, func(m mailstore.Message, _ int) bool {
			return m.ID != markerID
		})
		if len(trimmed.Messages) > 0 {
			out = append(out, trimmed)
		}
		break
	}
	return out
}

// MaybeSendDailyDigest emits the digest when inside the local send
// window, at most once per local day, and only when there is something
// to report. The accumulator is cleared only after the send succeeded.
func (e *Engine) MaybeSendDailyDigest(ctx context.Context) error {
	local := e.clock.Now().In(e.cfg.Global.Location)
	if local.Hour() < DigestWindowStartHour {
		return nil
	}
	today := local.Format("2006-01-02")
	if last, ok, err := e.kv.Get(ctx, keyPassiveLastSummaryDate); err != nil {
		return err
	} else if ok && last == today {
		return nil
	}

	acc, _, err := e.loadAccumulator(ctx)
	if err != nil {
		return err
	}
	if acc.IsEmpty() {
		return nil
	}

	body, err := digest.Render("Daily email digest", acc)
	if err != nil {
		return err
	}
	subject := e.cfg.Global.AddonName + ": daily digest for " + today
	if err := e.mailer.Send(ctx, e.cfg.Global.UserEmail, subject, body, e.cfg.Global.AddonName); err != nil {
		return fmt.Errorf("digest send failed: %w", err)
	}

	if err := e.clearAccumulated(ctx); err != nil {
		return err
	}
	if err := e.kv.Set(ctx, keyPassiveLastSummaryDate, today); err != nil {
		return err
	}
	logger.Info(ctx, "daily digest sent", "date", today,
		"mustDo", len(acc.MustDo), "mustKnow", len(acc.MustKnow))
	return nil
}
