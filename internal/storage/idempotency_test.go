package storage_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mentora-platform/mentora/internal/storage"
)

func newKey() storage.IdempotencyKey {
	return storage.IdempotencyKey{
		ClientID: "idem-client-" + uuid.NewString()[:8],
		Endpoint: "POST:/v1/triggers",
		Key:      "idem-" + uuid.NewString(),
	}
}

func TestIdempotency_ReplayAndMismatch(t *testing.T) {
	ctx := context.Background()
	k := newKey()

	lookup, err := testDB.BeginIdempotency(ctx, k, "hash-a")
	require.NoError(t, err)
	assert.False(t, lookup.Completed)

	require.NoError(t, testDB.CompleteIdempotency(ctx, k, 200, map[string]any{"rules_processed": 1}))

	replay, err := testDB.BeginIdempotency(ctx, k, "hash-a")
	require.NoError(t, err)
	assert.True(t, replay.Completed)
	assert.Equal(t, 200, replay.StatusCode)
	assert.JSONEq(t, `{"rules_processed":1}`, string(replay.ResponseData))

	_, err = testDB.BeginIdempotency(ctx, k, "hash-b")
	require.ErrorIs(t, err, storage.ErrIdempotencyPayloadMismatch)
}

func TestIdempotency_InProgressBlocksUntilCleared(t *testing.T) {
	ctx := context.Background()
	k := newKey()

	_, err := testDB.BeginIdempotency(ctx, k, "hash-a")
	require.NoError(t, err)

	_, err = testDB.BeginIdempotency(ctx, k, "hash-a")
	require.ErrorIs(t, err, storage.ErrIdempotencyInProgress)

	require.NoError(t, testDB.ClearInProgressIdempotency(ctx, k))

	lookup, err := testDB.BeginIdempotency(ctx, k, "hash-a")
	require.NoError(t, err)
	assert.False(t, lookup.Completed)
}

func TestIdempotency_CompleteRequiresReservation(t *testing.T) {
	err := testDB.CompleteIdempotency(context.Background(), newKey(), 200, nil)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestIdempotency_Cleanup(t *testing.T) {
	ctx := context.Background()
	client := "idem-client-" + uuid.NewString()[:8]

	_, err := testDB.Pool().Exec(ctx,
		`INSERT INTO idempotency_keys (client_id, endpoint, idempotency_key, request_hash, status, status_code, response_data, created_at, updated_at)
		 VALUES
		 ($1, 'POST:/v1/triggers', 'old-completed', 'h1', 'completed', 200, '{"ok":true}', now() - interval '10 days', now() - interval '10 days'),
		 ($1, 'POST:/v1/triggers', 'old-in-progress', 'h2', 'in_progress', NULL, NULL, now() - interval '3 days', now() - interval '3 days'),
		 ($1, 'POST:/v1/triggers', 'fresh', 'h3', 'completed', 200, '{"ok":true}', now(), now())`,
		client)
	require.NoError(t, err)

	deleted, err := testDB.CleanupIdempotencyKeys(ctx, 7*24*time.Hour, 24*time.Hour)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, deleted, int64(2))

	var remaining int
	require.NoError(t, testDB.Pool().QueryRow(ctx,
		`SELECT COUNT(*) FROM idempotency_keys WHERE client_id = $1`, client).Scan(&remaining))
	assert.Equal(t, 1, remaining)
}
