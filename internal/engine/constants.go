package engine

import "time"

// Tunables. These values are load-bearing for behavioural parity: the
// chunk size and one-chunk-per-tick cadence are the de facto mail
// provider rate control, and the token budget is the LLM cost guard.
const (
	// ChunkSize is the sub-interval of the active scan window processed
	// per dispatcher tick.
	ChunkSize = 48 * time.Hour

	// ProcessingTimeout bounds a single chunk's wall-clock time. A chunk
	// running longer is considered hung and reaped on the next tick.
	ProcessingTimeout = 10 * time.Minute

	// PassiveBackstop bounds how far back a passive pass will look.
	PassiveBackstop = 24 * time.Hour

	// PassiveSafetyBuffer offsets the next passive window start from the
	// high-water mark.
	PassiveSafetyBuffer = 30 * time.Minute

	// KickoffDelay is the fuse on the one-off trigger that starts the
	// first chunk of an active run.
	KickoffDelay = 1 * time.Minute

	// MaxTokens is the per-batch LLM token budget.
	MaxTokens = 200_000

	// TokensPerChar is the cheap char-based token estimate.
	TokensPerChar = 0.25

	// batchOverheadTokens accounts for the fixed prompt per batch.
	batchOverheadTokens = 2_000

	// DigestWindowStartHour opens the local-time digest send window,
	// which runs until midnight.
	DigestWindowStartHour = 21

	// AccumulatorBlobName is the fixed name of the accumulated results
	// document.
	AccumulatorBlobName = "gmail-fast-read-accumulated-results.json"

	// DispatcherTriggerName is the sole recurring trigger.
	DispatcherTriggerName = "mailsift-dispatcher"

	// KickoffTriggerName is the transient one-off installed by Start.
	KickoffTriggerName = "mailsift-kickoff"

	// searchLimit caps threads fetched per window.
	searchLimit = 200
)

// expectedStartBy computes the deadline by which the next chunk must
// begin: the scheduling delay plus a proportional buffer plus a fixed
// grace period.
func expectedStartBy(now time.Time, delay time.Duration) time.Time {
	return now.Add(delay + time.Duration(0.3*float64(delay)) + 10*time.Minute)
}
