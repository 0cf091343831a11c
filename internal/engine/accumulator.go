package engine

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mailsift/mailsift/internal/digest"
	"github.com/mailsift/mailsift/internal/logger"
	"github.com/mailsift/mailsift/internal/persistence"
)

func emptyAccumulatorJSON() (string, error) {
	data, err := json.Marshal(digest.Accumulator{})
	if err != nil {
		return "", fmt.Errorf("failed to encode empty accumulator: %w", err)
	}
	return string(data), nil
}

// loadAccumulator reads the durable accumulated-results document,
// creating it empty when absent. The blob handle is cached in KV so
// subsequent writes skip the name lookup.
func (e *Engine) loadAccumulator(ctx context.Context) (digest.Accumulator, persistence.BlobHandle, error) {
	var acc digest.Accumulator

	empty, err := emptyAccumulatorJSON()
	if err != nil {
		return acc, "", err
	}
	data, handle, err := e.blobs.ReadOrInit(ctx, AccumulatorBlobName, []byte(empty))
	if err != nil {
		return acc, "", fmt.Errorf("failed to open accumulator: %w", err)
	}
	if err := json.Unmarshal(data, &acc); err != nil {
		// A corrupt document would otherwise wedge every passive pass.
		// Start over and report the loss.
		logger.Error(ctx, "accumulator is corrupt, resetting", "err", err)
		acc = digest.Accumulator{}
	}

	if cached, _, _ := e.kv.Get(ctx, keyAccumulatorFileID); cached != string(handle) {
		if err := e.kv.Set(ctx, keyAccumulatorFileID, string(handle)); err != nil {
			logger.Warn(ctx, "failed to cache accumulator handle", "err", err)
		}
	}
	return acc, handle, nil
}

// writeAccumulator atomically replaces the accumulated-results document.
func (e *Engine) writeAccumulator(ctx context.Context, handle persistence.BlobHandle, acc digest.Accumulator) error {
	data, err := json.Marshal(acc)
	if err != nil {
		return fmt.Errorf("failed to encode accumulator: %w", err)
	}
	if err := e.blobs.Write(ctx, handle, data); err != nil {
		return fmt.Errorf("failed to write accumulator: %w", err)
	}
	return nil
}

// clearAccumulated discards the accumulated-results document and its
// cached handle. Called only after a digest send succeeded.
func (e *Engine) clearAccumulated(ctx context.Context) error {
	if err := e.blobs.Trash(ctx, AccumulatorBlobName); err != nil {
		return fmt.Errorf("failed to trash accumulator: %w", err)
	}
	return e.kv.Delete(ctx, keyAccumulatorFileID)
}
