package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/mentora-platform/mentora/internal/model"
)

// AppendMessageLog writes one send attempt to the audit log.
func (db *DB) AppendMessageLog(ctx context.Context, e model.MessageLogEntry) (uuid.UUID, error) {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	if e.Attempt == 0 {
		e.Attempt = 1
	}
	if _, err := db.pool.Exec(ctx,
		`INSERT INTO message_log
		   (id, execution_id, contact_id, template_name, recipient, subject, status, provider_message_id, error, attempt)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		e.ID, e.ExecutionID, e.ContactID, e.TemplateName, e.Recipient, e.Subject,
		string(e.Status), e.ProviderMessageID, e.Error, e.Attempt,
	); err != nil {
		return uuid.Nil, fmt.Errorf("storage: append message log: %w", err)
	}
	return e.ID, nil
}

// ListMessagesByExecution returns the send attempts of an execution in
// chronological order.
func (db *DB) ListMessagesByExecution(ctx context.Context, executionID uuid.UUID) ([]model.MessageLogEntry, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT id, execution_id, contact_id, template_name, recipient, subject, status,
		        provider_message_id, error, attempt, created_at
		 FROM message_log WHERE execution_id = $1
		 ORDER BY created_at ASC, attempt ASC`, executionID)
	if err != nil {
		return nil, fmt.Errorf("storage: list messages: %w", err)
	}
	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (model.MessageLogEntry, error) {
		var (
			m      model.MessageLogEntry
			status string
		)
		err := row.Scan(&m.ID, &m.ExecutionID, &m.ContactID, &m.TemplateName, &m.Recipient,
			&m.Subject, &status, &m.ProviderMessageID, &m.Error, &m.Attempt, &m.CreatedAt)
		m.Status = model.MessageStatus(status)
		return m, err
	})
	if err != nil {
		return nil, fmt.Errorf("storage: list messages: %w", err)
	}
	return out, nil
}

// EnqueueRedelivery queues a failed send for background retry. The first
// retry becomes eligible after a two second backoff.
func (db *DB) EnqueueRedelivery(ctx context.Context, messageLogID uuid.UUID, msg model.OutboundMessage, lastError string) error {
	if _, err := db.pool.Exec(ctx,
		`INSERT INTO message_redelivery
		   (message_log_id, execution_id, contact_id, template_name, recipient, subject, body, attempts, last_error, locked_until)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, 1, $8, now() + interval '2 seconds')`,
		messageLogID, msg.ExecutionID, msg.ContactID, msg.TemplateName, msg.To, msg.Subject, msg.Body, lastError,
	); err != nil {
		return fmt.Errorf("storage: enqueue redelivery: %w", err)
	}
	return nil
}

// ClaimRedeliveries locks up to limit due entries for lockFor and returns
// them. Entries at or above maxAttempts are never claimed. Concurrent
// workers skip each other's rows.
func (db *DB) ClaimRedeliveries(ctx context.Context, limit, maxAttempts int, lockFor time.Duration) ([]model.Redelivery, error) {
	var out []model.Redelivery
	err := pgx.BeginFunc(ctx, db.pool, func(tx pgx.Tx) error {
		rows, err := tx.Query(ctx,
			`SELECT id, message_log_id, execution_id, contact_id, template_name, recipient, subject, body, attempts, created_at
			 FROM message_redelivery
			 WHERE (locked_until IS NULL OR locked_until < now())
			   AND attempts < $1
			 ORDER BY created_at ASC
			 LIMIT $2
			 FOR UPDATE SKIP LOCKED`,
			maxAttempts, limit)
		if err != nil {
			return err
		}
		out, err = pgx.CollectRows(rows, func(row pgx.CollectableRow) (model.Redelivery, error) {
			var r model.Redelivery
			err := row.Scan(&r.ID, &r.MessageLogID, &r.ExecutionID, &r.ContactID, &r.TemplateName,
				&r.Recipient, &r.Subject, &r.Body, &r.Attempts, &r.CreatedAt)
			return r, err
		})
		if err != nil || len(out) == 0 {
			return err
		}
		ids := make([]int64, len(out))
		for i, r := range out {
			ids[i] = r.ID
		}
		_, err = tx.Exec(ctx,
			`UPDATE message_redelivery
			 SET locked_until = now() + $2 * interval '1 microsecond'
			 WHERE id = ANY($1)`, ids, lockFor.Microseconds())
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("storage: claim redeliveries: %w", err)
	}
	return out, nil
}

// CompleteRedelivery removes a delivered entry from the queue.
func (db *DB) CompleteRedelivery(ctx context.Context, id int64) error {
	if _, err := db.pool.Exec(ctx, `DELETE FROM message_redelivery WHERE id = $1`, id); err != nil {
		return fmt.Errorf("storage: complete redelivery: %w", err)
	}
	return nil
}

// FailRedelivery records another failed attempt and schedules the next one
// with exponential backoff capped at five minutes. It returns the new
// attempt count.
func (db *DB) FailRedelivery(ctx context.Context, id int64, lastError string) (int, error) {
	var attempts int
	err := db.pool.QueryRow(ctx,
		`UPDATE message_redelivery
		 SET attempts = attempts + 1,
		     last_error = $2,
		     locked_until = now() + LEAST(POWER(2, attempts + 1), 300) * interval '1 second'
		 WHERE id = $1
		 RETURNING attempts`, id, lastError,
	).Scan(&attempts)
	if err != nil {
		return 0, fmt.Errorf("storage: fail redelivery: %w", err)
	}
	return attempts, nil
}

// PendingRedeliveries counts entries still eligible for retry.
func (db *DB) PendingRedeliveries(ctx context.Context, maxAttempts int) (int64, error) {
	var n int64
	if err := db.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM message_redelivery WHERE attempts < $1`, maxAttempts,
	).Scan(&n); err != nil {
		return 0, fmt.Errorf("storage: count redeliveries: %w", err)
	}
	return n, nil
}

// PurgeDeadRedeliveries deletes exhausted entries older than olderThan.
func (db *DB) PurgeDeadRedeliveries(ctx context.Context, maxAttempts int, olderThan time.Duration) (int64, error) {
	tag, err := db.pool.Exec(ctx,
		`DELETE FROM message_redelivery
		 WHERE attempts >= $1 AND created_at < now() - $2 * interval '1 microsecond'`,
		maxAttempts, olderThan.Microseconds())
	if err != nil {
		return 0, fmt.Errorf("storage: purge redeliveries: %w", err)
	}
	return tag.RowsAffected(), nil
}
