package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/samber/lo"

	"github.com/mailsift/mailsift/internal/digest"
	"github.com/mailsift/mailsift/internal/llm"
	"github.com/mailsift/mailsift/internal/logger"
	"github.com/mailsift/mailsift/internal/mailstore"
	"github.com/mailsift/mailsift/internal/stringutil"
)

// batchRun is the outcome of running the batcher over one window. The
// earliest fields identify the oldest message actually submitted for
// classification; the passive high-water mark advances from them.
type batchRun struct {
	Result     llm.Result
	Processed  int
	EarliestTs time.Time
	EarliestID string
}

// runBatches packs threads into LLM batches under the token budget,
// classifies each batch sequentially, applies label/read side effects at
// every batch boundary, and archives finding-less threads at the end
// when configured. Threads arrive most-recent-first and are processed in
// that order.
func (e *Engine) runBatches(ctx context.Context, threads []mailstore.Thread) (batchRun, error) {
	var run batchRun

	payloads, index := e.prepare(threads)
	if len(payloads) == 0 {
		return run, nil
	}

	for _, batch := range packBatches(payloads) {
		result, err := e.classifier.Classify(ctx, batch, e.topics())
		if err != nil {
			// A malformed batch loses at most that batch, but the run
			// must fail loudly so the loss is reported.
			return run, fmt.Errorf("classification failed: %w", err)
		}

		run.Result.MustDo = append(run.Result.MustDo, result.MustDo...)
		run.Result.MustKnow = append(run.Result.MustKnow, result.MustKnow...)
		run.Processed += countEmails(batch)
		run.noteEarliest(batch)

		e.applySideEffects(ctx, result, index)
	}

	if e.cfg.Triage.RemoveUninterestingFromInbox {
		e.archiveUninteresting(ctx, threads, run.Result)
	}
	return run, nil
}

// prepare converts threads to classifier payloads, applying the ignore
// rules: messages authored by the user or whose subject contains the
// addon name never reach the LLM. Returns the payloads and an index from
// email id to containing thread id for the label fallback.
func (e *Engine) prepare(threads []mailstore.Thread) ([]llm.Thread, map[string]string) {
	index := make(map[string]string)
	var payloads []llm.Thread
	for _, t := range threads {
		var emails []llm.Email
		for _, m := range t.Messages {
			if e.ignored(m) {
				continue
			}
			emails = append(emails, llm.Email{
				ID:       m.ID,
				RFC822ID: m.RFC822ID,
				Sender:   m.From,
				Subject:  m.Subject,
				Body:     m.PlainBody,
				Date:     m.Date,
			})
			index[m.ID] = t.ID
		}
		if len(emails) == 0 {
			continue
		}
		payloads = append(payloads, llm.Thread{
			ThreadID: t.ID,
			Subject:  t.FirstSubject,
			Emails:   emails,
		})
	}
	return payloads, index
}

// ignored applies the content-based filters. Matching the user's own
// address and the addon name prevents the engine from feeding its own
// digests and notifications back into classification.
func (e *Engine) ignored(m mailstore.Message) bool {
	if e.cfg.Global.UserEmail != "" && stringutil.ContainsFold(m.From, e.cfg.Global.UserEmail) {
		return true
	}
	if e.cfg.Global.AddonName != "" && stringutil.ContainsFold(m.Subject, e.cfg.Global.AddonName) {
		return true
	}
	return false
}

func (e *Engine) topics() llm.Topics {
	return llm.Topics{
		MustDo:        e.cfg.Triage.MustDoTopics,
		MustKnow:      e.cfg.Triage.MustKnowTopics,
		MustDoOther:   e.cfg.Triage.MustDoOther,
		MustKnowOther: e.cfg.Triage.MustKnowOther,
	}
}

// packBatches groups threads into batches fitting the token budget. A
// single thread over budget is submitted alone rather than dropped.
func packBatches(payloads []llm.Thread) [][]llm.Thread {
	var (
		batches [][]llm.Thread
		current []llm.Thread
		budget  = float64(MaxTokens - batchOverheadTokens)
		used    float64
	)
	for _, t := range payloads {
		cost := estimateTokens(t)
		if len(current) > 0 && used+cost > budget {
			batches = append(batches, current)
			current = nil
			used = 0
		}
		current = append(current, t)
		used += cost
	}
	if len(current) > 0 {
		batches = append(batches, current)
	}
	return batches
}

// estimateTokens is the cheap char-based estimator.
func estimateTokens(t llm.Thread) float64 {
	chars := len(t.Subject)
	for _, m := range t.Emails {
		chars += len(m.Sender) + len(m.Subject) + len(m.Body)
	}
	return float64(chars) * TokensPerChar
}

// noteEarliest records the oldest message date seen across submitted
// batches.
func (r *batchRun) noteEarliest(batch []llm.Thread) {
	for _, t := range batch {
		for _, m := range t.Emails {
			if m.Date.IsZero() {
				continue
			}
			if r.EarliestTs.IsZero() || m.Date.Before(r.EarliestTs) {
				r.EarliestTs = m.Date
				r.EarliestID = m.ID
			}
		}
	}
}

func countEmails(batch []llm.Thread) int {
	n := 0
	for _, t := range batch {
		n += len(t.Emails)
	}
	return n
}

// applySideEffects labels findings and optionally marks them read.
// Failures here are logged and swallowed; they never fail the run.
func (e *Engine) applySideEffects(ctx context.Context, result llm.Result, index map[string]string) {
	if label := e.cfg.Triage.MustDoLabel; label != "" {
		for _, f := range result.MustDo {
			e.applyLabel(ctx, f, label, index)
		}
	}
	if label := e.cfg.Triage.MustKnowLabel; label != "" {
		for _, f := range result.MustKnow {
			e.applyLabel(ctx, f, label, index)
		}
	}
	if e.cfg.Triage.MarkProcessedAsRead {
		for _, f := range append(append([]llm.Finding(nil), result.MustDo...), result.MustKnow...) {
			if err := e.mail.MarkRead(ctx, f.EmailID); err != nil {
				logger.Warn(ctx, "failed to mark message read", "emailId", f.EmailID, "err", err)
			}
		}
	}
}

// applyLabel resolves the finding's message by id, falls back to the
// RFC-822 id, and as a last resort labels the containing thread.
func (e *Engine) applyLabel(ctx context.Context, f llm.Finding, label string, index map[string]string) {
	err := e.mail.AddLabel(ctx, f.EmailID, label)
	if err == nil {
		return
	}
	if f.RFC822ID != "" && errors.Is(err, mailstore.ErrMessageNotFound) {
		if m, ferr := e.mail.FindByRFC822ID(ctx, f.RFC822ID); ferr == nil {
			if aerr := e.mail.AddLabel(ctx, m.ID, label); aerr == nil {
				return
			}
		}
	}
	if threadID, ok := index[f.EmailID]; ok {
		if terr := e.mail.AddThreadLabel(ctx, threadID, label); terr == nil {
			return
		}
	}
	logger.Warn(ctx, "failed to apply label", "emailId", f.EmailID, "label", label, "err", err)
}

// archiveUninteresting removes threads that produced no findings from
// the inbox. The guards are a hard safety constraint: threads with a
// starred message, any user label, or a provider-important flag are
// never archived.
func (e *Engine) archiveUninteresting(ctx context.Context, threads []mailstore.Thread, result llm.Result) {
	interesting := make(map[string]struct{})
	all := append(append([]llm.Finding(nil), result.MustDo...), result.MustKnow...)
	for _, f := range all {
		for _, t := range threads {
			for _, m := range t.Messages {
				if m.ID == f.EmailID {
					interesting[t.ID] = struct{}{}
				}
			}
		}
	}

	candidates := lo.Filter(threads, func(t mailstore.Thread, _ int) bool {
		if _, ok := interesting[t.ID]; ok {
			return false
		}
		if !t.Inbox {
			return false
		}
		return !t.HasStarred() && len(t.Labels) == 0 && !t.HasImportant()
	})

	for _, t := range candidates {
		if err := e.mail.RemoveFromInbox(ctx, t.ID); err != nil {
			logger.Warn(ctx, "failed to archive thread", "threadId", t.ID, "err", err)
		}
	}
}

// accumulatorFrom converts a batch run over a window into an accumulator
// fragment.
func accumulatorFrom(run batchRun, windowStart, windowEnd time.Time) digest.Accumulator {
	return digest.Accumulator{
		MustDo:         run.Result.MustDo,
		MustKnow:       run.Result.MustKnow,
		TotalProcessed: run.Processed,
		FirstDate:      windowStart.Format("2006-01-02"),
		LastDate:       windowEnd.Format("2006-01-02"),
	}
}

// searchQuery builds the provider query for a window with the configured
// filter flags.
func (e *Engine) searchQuery(w0, w1 time.Time, forcedInbox bool) string {
	q := mailstore.Query{
		After:     w0,
		Before:    w1,
		Unread:    e.cfg.Triage.UnreadOnly,
		InboxOnly: e.cfg.Triage.InboxOnly || forcedInbox,
	}
	return strings.TrimSpace(q.String())
}
