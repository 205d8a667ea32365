package store_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nimbus/internal/experiments/store"
	"nimbus/pkg/platform/sentinel"
)

type record struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

// exerciseStore runs the behaviour every backend must share.
func exerciseStore(t *testing.T, s store.Store) {
	t.Helper()
	ctx := context.Background()

	t.Run("missing key reports not found", func(t *testing.T) {
		_, err := s.Get(ctx, "absent")
		require.Error(t, err)
		assert.True(t, errors.Is(err, sentinel.ErrNotFound))

		_, found, err := store.GetJSON[record](ctx, s, "absent")
		require.NoError(t, err)
		assert.False(t, found)
	})

	t.Run("put then get round trips", func(t *testing.T) {
		require.NoError(t, store.PutJSON(ctx, s, "rec", record{Name: "a", Count: 1}))

		got, found, err := store.GetJSON[record](ctx, s, "rec")
		require.NoError(t, err)
		assert.True(t, found)
		assert.Equal(t, record{Name: "a", Count: 1}, got)
	})

	t.Run("put replaces the previous value", func(t *testing.T) {
		require.NoError(t, store.PutJSON(ctx, s, "rec", record{Name: "b", Count: 2}))

		got, _, err := store.GetJSON[record](ctx, s, "rec")
		require.NoError(t, err)
		assert.Equal(t, "b", got.Name)
	})

	t.Run("undecodable value is a corrupt record", func(t *testing.T) {
		require.NoError(t, s.Put(ctx, "broken", []byte("{not json")))

		_, found, err := store.GetJSON[record](ctx, s, "broken")
		require.Error(t, err)
		assert.False(t, found)
		assert.True(t, store.IsCorrupt(err))
	})

	t.Run("delete removes the key", func(t *testing.T) {
		require.NoError(t, s.Delete(ctx, "rec"))
		_, found, err := store.GetJSON[record](ctx, s, "rec")
		require.NoError(t, err)
		assert.False(t, found)
	})

	t.Run("delete of a missing key is not an error", func(t *testing.T) {
		assert.NoError(t, s.Delete(ctx, "never-written"))
	})
}
