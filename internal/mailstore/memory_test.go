package mailstore

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStoreSearch(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	now := time.Date(2024, 1, 15, 10, 0, 0, 0, time.UTC)

	store := NewMemoryStore()
	store.Put(Thread{
		ID:    "old",
		Inbox: true,
		Messages: []Message{
			{ID: "m1", Subject: "Old news", Date: now.Add(-48 * time.Hour), Unread: true},
		},
	})
	store.Put(Thread{
		ID:    "new",
		Inbox: true,
		Messages: []Message{
			{ID: "m2", Subject: "Fresh invoice", Date: now.Add(-time.Hour), Unread: true},
		},
	})
	store.Put(Thread{
		ID: "archived",
		Messages: []Message{
			{ID: "m3", Subject: "Archived", Date: now.Add(-2 * time.Hour), Unread: true},
		},
	})

	t.Run("window filter and ordering", func(t *testing.T) {
		t.Parallel()
		q := fmt.Sprintf("after:%d before:%d", now.Add(-72*time.Hour).Unix(), now.Unix())
		threads, err := store.Search(ctx, q, 0)
		require.NoError(t, err)
		require.Len(t, threads, 3)
		// Most recent first.
		assert.Equal(t, "m2", threads[0].Messages[0].ID)
	})

	t.Run("inbox filter", func(t *testing.T) {
		t.Parallel()
		threads, err := store.Search(ctx, "in:inbox", 0)
		require.NoError(t, err)
		assert.Len(t, threads, 2)
	})

	t.Run("limit", func(t *testing.T) {
		t.Parallel()
		threads, err := store.Search(ctx, "", 1)
		require.NoError(t, err)
		assert.Len(t, threads, 1)
	})

	t.Run("free text term", func(t *testing.T) {
		t.Parallel()
		threads, err := store.Search(ctx, "invoice", 0)
		require.NoError(t, err)
		require.Len(t, threads, 1)
		assert.Equal(t, "new", threads[0].ID)
	})
}

func TestMemoryStoreMutations(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	now := time.Date(2024, 1, 15, 10, 0, 0, 0, time.UTC)

	store := NewMemoryStore()
	store.Put(Thread{
		ID:    "t1",
		Inbox: true,
		Messages: []Message{
			{ID: "m1", RFC822ID: "<m1@host>", Date: now, Unread: true},
		},
	})

	require.NoError(t, store.AddLabel(ctx, "m1", "MustDo"))
	assert.Equal(t, []string{"MustDo"}, store.Labeled["m1"])

	require.NoError(t, store.MarkRead(ctx, "m1"))
	assert.Equal(t, []string{"m1"}, store.ReadIDs)

	require.NoError(t, store.RemoveFromInbox(ctx, "t1"))
	assert.Equal(t, []string{"t1"}, store.Archived)

	msg, err := store.FindByRFC822ID(ctx, "<m1@host>")
	require.NoError(t, err)
	assert.Equal(t, "m1", msg.ID)

	_, err = store.FindByRFC822ID(ctx, "<missing@host>")
	assert.ErrorIs(t, err, ErrMessageNotFound)

	assert.ErrorIs(t, store.AddLabel(ctx, "nope", "X"), ErrMessageNotFound)
	assert.ErrorIs(t, store.MarkRead(ctx, "nope"), ErrMessageNotFound)
	assert.ErrorIs(t, store.RemoveFromInbox(ctx, "nope"), ErrMessageNotFound)
}
