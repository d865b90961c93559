package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

var (
	// ErrIdempotencyPayloadMismatch is returned when a key is reused for the
	// same client and endpoint with a different request body.
	ErrIdempotencyPayloadMismatch = errors.New("idempotency key reused with different payload")
	// ErrIdempotencyInProgress indicates the key is reserved by a request
	// that has not finished.
	ErrIdempotencyInProgress = errors.New("idempotency key request already in progress")
)

// IdempotencyKey identifies a reservation.
type IdempotencyKey struct {
	ClientID string
	Endpoint string
	Key      string
}

// IdempotencyLookup describes the state found for a key.
type IdempotencyLookup struct {
	Completed    bool
	StatusCode   int
	ResponseData json.RawMessage
}

// BeginIdempotency reserves k for processing. A zero lookup with nil error
// means the caller owns the key. A completed lookup carries the response to
// replay. Stale in-progress reservations are not taken over; the cleanup
// job removes them.
func (db *DB) BeginIdempotency(ctx context.Context, k IdempotencyKey, requestHash string) (IdempotencyLookup, error) {
	tag, err := db.pool.Exec(ctx,
		`INSERT INTO idempotency_keys (client_id, endpoint, idempotency_key, request_hash, status)
		 VALUES ($1, $2, $3, $4, 'in_progress')
		 ON CONFLICT DO NOTHING`,
		k.ClientID, k.Endpoint, k.Key, requestHash,
	)
	if err != nil {
		return IdempotencyLookup{}, fmt.Errorf("storage: begin idempotency: %w", err)
	}
	if tag.RowsAffected() == 1 {
		return IdempotencyLookup{}, nil
	}

	var (
		storedHash   string
		status       string
		statusCode   *int
		responseData []byte
	)
	if err := db.pool.QueryRow(ctx,
		`SELECT request_hash, status, status_code, response_data
		 FROM idempotency_keys
		 WHERE client_id = $1 AND endpoint = $2 AND idempotency_key = $3`,
		k.ClientID, k.Endpoint, k.Key,
	).Scan(&storedHash, &status, &statusCode, &responseData); err != nil {
		return IdempotencyLookup{}, fmt.Errorf("storage: lookup idempotency: %w", err)
	}

	switch {
	case storedHash != requestHash:
		return IdempotencyLookup{}, ErrIdempotencyPayloadMismatch
	case status != "completed":
		return IdempotencyLookup{}, ErrIdempotencyInProgress
	}
	lookup := IdempotencyLookup{Completed: true, ResponseData: responseData}
	if statusCode != nil {
		lookup.StatusCode = *statusCode
	}
	return lookup, nil
}

// CompleteIdempotency stores the final response for a reserved key.
func (db *DB) CompleteIdempotency(ctx context.Context, k IdempotencyKey, statusCode int, responseData any) error {
	payload, err := json.Marshal(responseData)
	if err != nil {
		return fmt.Errorf("storage: marshal idempotency response: %w", err)
	}
	tag, err := db.pool.Exec(ctx,
		`UPDATE idempotency_keys
		 SET status = 'completed', status_code = $4, response_data = $5::jsonb, updated_at = now()
		 WHERE client_id = $1 AND endpoint = $2 AND idempotency_key = $3 AND status = 'in_progress'`,
		k.ClientID, k.Endpoint, k.Key, statusCode, payload,
	)
	if err != nil {
		return fmt.Errorf("storage: complete idempotency: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("storage: complete idempotency: key not in progress: %w", ErrNotFound)
	}
	return nil
}

// ClearInProgressIdempotency drops a reservation so the client can retry.
func (db *DB) ClearInProgressIdempotency(ctx context.Context, k IdempotencyKey) error {
	if _, err := db.pool.Exec(ctx,
		`DELETE FROM idempotency_keys
		 WHERE client_id = $1 AND endpoint = $2 AND idempotency_key = $3 AND status = 'in_progress'`,
		k.ClientID, k.Endpoint, k.Key,
	); err != nil {
		return fmt.Errorf("storage: clear idempotency: %w", err)
	}
	return nil
}

// CleanupIdempotencyKeys removes completed keys older than completedTTL and
// abandoned reservations older than inProgressTTL.
func (db *DB) CleanupIdempotencyKeys(ctx context.Context, completedTTL, inProgressTTL time.Duration) (int64, error) {
	tag, err := db.pool.Exec(ctx,
		`DELETE FROM idempotency_keys
		 WHERE (status = 'completed' AND updated_at < now() - ($1 * interval '1 microsecond'))
		    OR (status = 'in_progress' AND updated_at < now() - ($2 * interval '1 microsecond'))`,
		completedTTL.Microseconds(), inProgressTTL.Microseconds(),
	)
	if err != nil {
		return 0, fmt.Errorf("storage: cleanup idempotency keys: %w", err)
	}
	return tag.RowsAffected(), nil
}
