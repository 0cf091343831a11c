package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/mailsift/mailsift/internal/digest"
	"github.com/mailsift/mailsift/internal/persistence"
	"github.com/mailsift/mailsift/internal/stringutil"
)

// KV keys. All persistent engine state lives under these names; no
// in-process state is authoritative across a wake-up.
const (
	keyLock                   = "lock"
	keyStatus                 = "status"
	keyStatusMsg              = "statusMsg"
	keyRunID                  = "runId"
	keyStartedAt              = "startedAt"
	keyTimeRange              = "timeRange"
	keyChunkWindowStart       = "chunkWindowStart"
	keyChunkWindowEnd         = "chunkWindowEnd"
	keyChunkIndex             = "chunkIndex"
	keyChunkTotal             = "chunkTotal"
	keyAccumulatedInFlight    = "accumulatedInFlight"
	keyChunkStartedAt         = "chunkStartedAt"
	keyExpectedChunkStartBy   = "expectedChunkStartBy"
	keyPassiveLastMsgTs       = "passiveLastMsgTs"
	keyPassiveLastMsgID       = "passiveLastMsgId"
	keyPassiveLastSummaryDate = "passiveLastSummaryDate"
	keyPassiveLastRunAt       = "passiveLastRunAt"
	keyLatestRunStats         = "latestRunStats"
	keyAccumulatorFileID      = "accumulatorFileId"
)

// chunkState is the persisted position of an active run.
type chunkState struct {
	WindowStart time.Time
	WindowEnd   time.Time
	Index       int
	Total       int
}

// RunStats is the snapshot of the most recently terminated active run,
// kept for the UI and the status command.
type RunStats struct {
	RunID      string `json:"runId"`
	Status     string `json:"status"`
	TimeRange  string `json:"timeRange"`
	StartedAt  string `json:"startedAt"`
	FinishedAt string `json:"finishedAt"`
	Processed  int    `json:"processed"`
	MustDo     int    `json:"mustDo"`
	MustKnow   int    `json:"mustKnow"`
	Message    string `json:"message,omitempty"`
}

func (e *Engine) getTime(ctx context.Context, key string) (time.Time, bool, error) {
	val, ok, err := e.kv.Get(ctx, key)
	if err != nil || !ok || val == "" {
		return time.Time{}, false, err
	}
	t, err := stringutil.ParseTime(val)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("corrupt timestamp in %s: %w", key, err)
	}
	return t, true, nil
}

func (e *Engine) getInt(ctx context.Context, key string) (int, bool, error) {
	val, ok, err := e.kv.Get(ctx, key)
	if err != nil || !ok {
		return 0, false, err
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return 0, false, fmt.Errorf("corrupt integer in %s: %w", key, err)
	}
	return n, true, nil
}

func (e *Engine) getStatus(ctx context.Context) (Status, error) {
	val, _, err := e.kv.Get(ctx, keyStatus)
	if err != nil {
		return StatusNone, err
	}
	return ParseStatus(val), nil
}

func (e *Engine) loadChunkState(ctx context.Context) (chunkState, error) {
	var st chunkState
	start, ok, err := e.getTime(ctx, keyChunkWindowStart)
	if err != nil {
		return st, err
	}
	if !ok {
		return st, fmt.Errorf("chunk window start is missing")
	}
	end, ok, err := e.getTime(ctx, keyChunkWindowEnd)
	if err != nil {
		return st, err
	}
	if !ok {
		return st, fmt.Errorf("chunk window end is missing")
	}
	idx, _, err := e.getInt(ctx, keyChunkIndex)
	if err != nil {
		return st, err
	}
	total, _, err := e.getInt(ctx, keyChunkTotal)
	if err != nil {
		return st, err
	}
	return chunkState{WindowStart: start, WindowEnd: end, Index: idx, Total: total}, nil
}

// loadInFlight reads the partial results of the current active run.
func (e *Engine) loadInFlight(ctx context.Context) (digest.Accumulator, error) {
	var acc digest.Accumulator
	val, ok, err := e.kv.Get(ctx, keyAccumulatedInFlight)
	if err != nil || !ok || val == "" {
		return acc, err
	}
	if err := json.Unmarshal([]byte(val), &acc); err != nil {
		return acc, fmt.Errorf("corrupt in-flight accumulator: %w", err)
	}
	return acc, nil
}

func (e *Engine) saveInFlight(ctx context.Context, acc digest.Accumulator) error {
	data, err := json.Marshal(acc)
	if err != nil {
		return fmt.Errorf("failed to encode in-flight accumulator: %w", err)
	}
	return e.kv.Set(ctx, keyAccumulatedInFlight, string(data))
}

func (e *Engine) saveRunStats(ctx context.Context, stats RunStats) error {
	data, err := json.Marshal(stats)
	if err != nil {
		return fmt.Errorf("failed to encode run stats: %w", err)
	}
	return e.kv.Set(ctx, keyLatestRunStats, string(data))
}

// LatestRunStats returns the most recent terminal run snapshot.
func (e *Engine) LatestRunStats(ctx context.Context) (RunStats, bool, error) {
	val, ok, err := e.kv.Get(ctx, keyLatestRunStats)
	if err != nil || !ok {
		return RunStats{}, false, err
	}
	var stats RunStats
	if err := json.Unmarshal([]byte(val), &stats); err != nil {
		return RunStats{}, false, fmt.Errorf("corrupt run stats: %w", err)
	}
	return stats, true, nil
}

// markChunkStarting records that a chunk is now executing and clears the
// scheduled-start deadline.
func (e *Engine) markChunkStarting(ctx context.Context, now time.Time) error {
	return e.kv.SetMany(ctx, map[string]*string{
		keyChunkStartedAt:       persistence.Value(stringutil.FormatTime(now)),
		keyExpectedChunkStartBy: persistence.Tombstone,
	})
}

// markChunkEnded clears the executing marker.
func (e *Engine) markChunkEnded(ctx context.Context) error {
	return e.kv.Delete(ctx, keyChunkStartedAt)
}

// clearActiveState removes all chunk bookkeeping of an active run. It
// deliberately leaves passive keys untouched.
func (e *Engine) clearActiveState(ctx context.Context) error {
	return e.kv.SetMany(ctx, map[string]*string{
		keyStatusMsg:            persistence.Tombstone,
		keyRunID:                persistence.Tombstone,
		keyStartedAt:            persistence.Tombstone,
		keyTimeRange:            persistence.Tombstone,
		keyChunkWindowStart:     persistence.Tombstone,
		keyChunkWindowEnd:       persistence.Tombstone,
		keyChunkIndex:           persistence.Tombstone,
		keyChunkTotal:           persistence.Tombstone,
		keyAccumulatedInFlight:  persistence.Tombstone,
		keyChunkStartedAt:       persistence.Tombstone,
		keyExpectedChunkStartBy: persistence.Tombstone,
	})
}

// Snapshot is the engine state exposed to the frontend and status
// command.
type Snapshot struct {
	Status           string    `json:"status"`
	StatusMsg        string    `json:"statusMsg,omitempty"`
	RunID            string    `json:"runId,omitempty"`
	TimeRange        string    `json:"timeRange,omitempty"`
	ChunkIndex       int       `json:"chunkIndex"`
	ChunkTotal       int       `json:"chunkTotal"`
	LastDigestDate   string    `json:"lastDigestDate,omitempty"`
	PassiveHighWater time.Time `json:"passiveHighWater,omitzero"`
	LatestRun        *RunStats `json:"latestRun,omitempty"`
}

// Snapshot collects the current engine state.
func (e *Engine) Snapshot(ctx context.Context) (Snapshot, error) {
	var snap Snapshot
	status, err := e.getStatus(ctx)
	if err != nil {
		return snap, err
	}
	snap.Status = status.String()
	if snap.Status == "" {
		snap.Status = "idle"
	}
	snap.StatusMsg, _, _ = e.kv.Get(ctx, keyStatusMsg)
	snap.RunID, _, _ = e.kv.Get(ctx, keyRunID)
	snap.TimeRange, _, _ = e.kv.Get(ctx, keyTimeRange)
	snap.ChunkIndex, _, _ = e.getInt(ctx, keyChunkIndex)
	snap.ChunkTotal, _, _ = e.getInt(ctx, keyChunkTotal)
	snap.LastDigestDate, _, _ = e.kv.Get(ctx, keyPassiveLastSummaryDate)
	if hw, ok, _ := e.getTime(ctx, keyPassiveLastMsgTs); ok {
		snap.PassiveHighWater = hw
	}
	if stats, ok, err := e.LatestRunStats(ctx); err == nil && ok {
		snap.LatestRun = &stats
	}
	return snap, nil
}
