package postgres

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bernsmp/zed-seo-tool/internal/domain"
)

// testStore connects to TEST_DATABASE_URL and skips when it is unset.
func testStore(t *testing.T) *Store {
	t.Helper()
	connString := os.Getenv("TEST_DATABASE_URL")
	if connString == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}
	ctx := context.Background()
	store, err := New(ctx, connString)
	require.NoError(t, err)
	require.NoError(t, store.RunMigrations(connString))
	t.Cleanup(func() {
		_, _ = store.Pool.Exec(ctx, "DELETE FROM checkpoints WHERE client_id LIKE 'test_%'")
		store.Close()
	})
	return store
}

func TestCheckpointUpsertSemantics(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()
	client := "test_acme"

	_, ok, err := store.LoadCheckpoint(ctx, client, domain.JobClassification)
	require.NoError(t, err)
	assert.False(t, ok)

	cp := domain.Checkpoint{BatchesDone: 2, BatchesTotal: 3, BatchSize: 20, InputHash: "h", Results: []byte(`[{"keyword": "a"}]`)}
	require.NoError(t, store.SaveCheckpoint(ctx, client, domain.JobClassification, cp))
	require.NoError(t, store.SaveCheckpoint(ctx, client, domain.JobClassification, cp))

	stale := cp
	stale.BatchesDone = 1
	require.NoError(t, store.SaveCheckpoint(ctx, client, domain.JobClassification, stale))

	got, ok, err := store.LoadCheckpoint(ctx, client, domain.JobClassification)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 2, got.BatchesDone)
	assert.JSONEq(t, `[{"keyword": "a"}]`, string(got.Results))

	require.NoError(t, store.DeleteCheckpoint(ctx, client, domain.JobClassification))
	_, ok, err = store.LoadCheckpoint(ctx, client, domain.JobClassification)
	require.NoError(t, err)
	assert.False(t, ok)
}
