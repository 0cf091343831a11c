package fileblob

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStore(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("read or init creates the blob", func(t *testing.T) {
		t.Parallel()
		s, err := New(t.TempDir())
		require.NoError(t, err)

		data, handle, err := s.ReadOrInit(ctx, "acc.json", []byte(`{}`))
		require.NoError(t, err)
		assert.Equal(t, `{}`, string(data))
		assert.NotEmpty(t, handle)

		// Second read returns the stored content, not init.
		data, handle2, err := s.ReadOrInit(ctx, "acc.json", []byte(`ignored`))
		require.NoError(t, err)
		assert.Equal(t, `{}`, string(data))
		assert.Equal(t, handle, handle2)
	})

	t.Run("write replaces content", func(t *testing.T) {
		t.Parallel()
		s, err := New(t.TempDir())
		require.NoError(t, err)

		_, handle, err := s.ReadOrInit(ctx, "acc.json", []byte(`{}`))
		require.NoError(t, err)
		require.NoError(t, s.Write(ctx, handle, []byte(`{"n":1}`)))

		data, _, err := s.ReadOrInit(ctx, "acc.json", nil)
		require.NoError(t, err)
		assert.Equal(t, `{"n":1}`, string(data))
	})

	t.Run("trash removes and reinitializes", func(t *testing.T) {
		t.Parallel()
		s, err := New(t.TempDir())
		require.NoError(t, err)

		_, handle, err := s.ReadOrInit(ctx, "acc.json", []byte(`{}`))
		require.NoError(t, err)
		require.NoError(t, s.Write(ctx, handle, []byte(`{"n":1}`)))

		require.NoError(t, s.Trash(ctx, "acc.json"))

		data, _, err := s.ReadOrInit(ctx, "acc.json", []byte(`{}`))
		require.NoError(t, err)
		assert.Equal(t, `{}`, string(data))

		// Trashing an absent blob is not an error.
		require.NoError(t, s.Trash(ctx, "other.json"))
	})

	t.Run("empty handle write is rejected", func(t *testing.T) {
		t.Parallel()
		s, err := New(t.TempDir())
		require.NoError(t, err)
		require.Error(t, s.Write(ctx, "", nil))
	})
}
