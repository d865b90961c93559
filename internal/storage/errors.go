package storage

import (
	"context"
	"errors"
	"math/rand/v2"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
)

var (
	// ErrNotFound is returned when a requested entity does not exist.
	ErrNotFound = errors.New("storage: not found")

	// ErrExecutionFinalized is returned when an execution that already reached
	// completed or failed is asked to transition again.
	ErrExecutionFinalized = errors.New("storage: execution already finalized")

	// ErrConflict is returned when a write collides with a unique constraint.
	ErrConflict = errors.New("storage: conflict")
)

const (
	pgUniqueViolation      = "23505"
	pgSerializationFailure = "40001"
	pgDeadlockDetected     = "40P01"
)

func pgCode(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code
	}
	return ""
}

func isUniqueViolation(err error) bool {
	return pgCode(err) == pgUniqueViolation
}

// WithRetry runs fn, retrying up to maxRetries times when Postgres reports a
// serialization failure or deadlock. Backoff doubles from baseDelay with
// jitter.
func WithRetry(ctx context.Context, maxRetries int, baseDelay time.Duration, fn func() error) error {
	var err error
	for attempt := 0; ; attempt++ {
		err = fn()
		code := pgCode(err)
		if err == nil || (code != pgSerializationFailure && code != pgDeadlockDetected) || attempt == maxRetries {
			return err
		}
		jitter := time.Duration(rand.Int64N(int64(baseDelay))) //nolint:gosec // jitter only
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(baseDelay + jitter):
		}
		baseDelay *= 2
	}
}
