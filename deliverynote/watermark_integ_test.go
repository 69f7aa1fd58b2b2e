//go:build integration

package deliverynote

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// This test requires a PostgreSQL server reachable with the DB_* settings.

func TestPostgresWatermarkStore(t *testing.T) {
	ctx := context.Background()
	config, err := ParseConfig(`{"dbname":"deliverynote_test"}`)
	require.Nil(t, err)

	store, err := OpenPostgresWatermarkStore(config, zap.NewNop().Sugar())
	require.Nil(t, err)
	defer store.Close()

	// clean up the db
	_, err = store.db.Exec("delete from watermarks")
	require.Nil(t, err)

	require.Nil(t, store.Save(ctx, "华宇", Date{2025, 1, 16}))
	require.Nil(t, store.Save(ctx, "华宇", Date{2025, 1, 10}))
	require.Nil(t, store.Save(ctx, "汉旗", Date{2025, 1, 2}))

	marks, err := store.Load(ctx)
	require.Nil(t, err)
	require.Equal(t, map[string]Date{"华宇": {2025, 1, 16}, "汉旗": {2025, 1, 2}}, marks)

	tracker := NewTracker(store, zap.NewNop().Sugar())
	require.Nil(t, tracker.Begin(ctx))
	ok, err := tracker.Commit(ctx, "汉旗", Date{2025, 1, 3})
	require.Nil(t, err)
	require.True(t, ok)

	marks, err = store.Load(ctx)
	require.Nil(t, err)
	require.Equal(t, Date{2025, 1, 3}, marks["汉旗"])
}
