package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/mailsift/mailsift/internal/logger"
)

// ErrLockConflict indicates another workflow holds the single-writer
// lock.
var ErrLockConflict = errors.New("workflow lock is held")

// LockKind identifies the exclusive writer.
type LockKind string

const (
	LockActive  LockKind = "active"
	LockPassive LockKind = "passive"
)

// lockRecord is the persisted lock value.
type lockRecord struct {
	Kind       LockKind  `json:"kind"`
	AcquiredAt time.Time `json:"acquiredAt"`
}

// acquireLock takes the single-writer lock for the given kind. Acquiring
// while holding one's own kind refreshes the timestamp; any other holder
// refuses with a user-visible reason. The lock has no lease: liveness is
// enforced by the timeout check on every dispatcher tick.
func (e *Engine) acquireLock(ctx context.Context, kind LockKind) error {
	rec, held, err := e.readLock(ctx)
	if err != nil {
		return err
	}
	if held && rec.Kind != kind {
		return fmt.Errorf("%w: another %s workflow is already running", ErrLockConflict, rec.Kind)
	}
	return e.writeLock(ctx, lockRecord{Kind: kind, AcquiredAt: e.clock.Now()})
}

// releaseLock drops the lock if held with the given kind. Releasing an
// absent lock is a no-op so terminal paths can release unconditionally.
func (e *Engine) releaseLock(ctx context.Context, kind LockKind) error {
	rec, held, err := e.readLock(ctx)
	if err != nil {
		return err
	}
	if !held {
		return nil
	}
	if rec.Kind != kind {
		logger.Warn(ctx, "refusing to release lock of different kind", "held", string(rec.Kind), "releasing", string(kind))
		return nil
	}
	return e.kv.Delete(ctx, keyLock)
}

func (e *Engine) readLock(ctx context.Context) (lockRecord, bool, error) {
	val, ok, err := e.kv.Get(ctx, keyLock)
	if err != nil || !ok {
		return lockRecord{}, false, err
	}
	var rec lockRecord
	if err := json.Unmarshal([]byte(val), &rec); err != nil {
		return lockRecord{}, false, fmt.Errorf("corrupt lock record: %w", err)
	}
	return rec, true, nil
}

func (e *Engine) writeLock(ctx context.Context, rec lockRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to encode lock record: %w", err)
	}
	return e.kv.Set(ctx, keyLock, string(data))
}
