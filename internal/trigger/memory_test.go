package trigger

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryService(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("duplicate names are rejected", func(t *testing.T) {
		t.Parallel()
		s := NewMemoryService()
		require.NoError(t, s.CreateRecurring(ctx, "tick", time.Hour, func(context.Context) {}))
		err := s.CreateRecurring(ctx, "tick", time.Hour, func(context.Context) {})
		assert.ErrorIs(t, err, ErrTriggerExists)
	})

	t.Run("one-off is consumed by firing", func(t *testing.T) {
		t.Parallel()
		s := NewMemoryService()
		fired := 0
		require.NoError(t, s.CreateOneOff(ctx, "kickoff", time.Minute, func(context.Context) { fired++ }))

		require.NoError(t, s.Fire(ctx, "kickoff"))
		assert.Equal(t, 1, fired)
		assert.False(t, s.Has("kickoff"))
		assert.Error(t, s.Fire(ctx, "kickoff"))
	})

	t.Run("recurring survives firing", func(t *testing.T) {
		t.Parallel()
		s := NewMemoryService()
		fired := 0
		require.NoError(t, s.CreateRecurring(ctx, "tick", time.Hour, func(context.Context) { fired++ }))

		require.NoError(t, s.Fire(ctx, "tick"))
		require.NoError(t, s.Fire(ctx, "tick"))
		assert.Equal(t, 2, fired)
		assert.True(t, s.Has("tick"))
	})

	t.Run("delete is idempotent", func(t *testing.T) {
		t.Parallel()
		s := NewMemoryService()
		require.NoError(t, s.CreateRecurring(ctx, "tick", time.Hour, func(context.Context) {}))
		require.NoError(t, s.Delete(ctx, "tick"))
		require.NoError(t, s.Delete(ctx, "tick"))

		names, err := s.List(ctx)
		require.NoError(t, err)
		assert.Empty(t, names)
	})
}
