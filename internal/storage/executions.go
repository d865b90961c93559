package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/mentora-platform/mentora/internal/model"
)

// CreateExecution records the start of a rule firing in the processing state.
func (db *DB) CreateExecution(ctx context.Context, ruleID uuid.UUID, triggerType string) (model.Execution, error) {
	e := model.Execution{
		ID:          uuid.New(),
		RuleID:      ruleID,
		TriggerType: triggerType,
		Status:      model.ExecutionProcessing,
		Steps:       []model.StepOutcome{},
	}
	err := db.pool.QueryRow(ctx,
		`INSERT INTO automation_executions (id, rule_id, trigger_type, status)
		 VALUES ($1, $2, $3, 'processing')
		 RETURNING started_at`,
		e.ID, e.RuleID, e.TriggerType,
	).Scan(&e.StartedAt)
	if err != nil {
		return model.Execution{}, fmt.Errorf("storage: create execution: %w", err)
	}
	return e, nil
}

// FinishExecution moves a processing execution to a terminal status. Only
// the first transition wins; any later call returns ErrExecutionFinalized.
func (db *DB) FinishExecution(
	ctx context.Context,
	id uuid.UUID,
	status model.ExecutionStatus,
	contactID *uuid.UUID,
	errMsg *string,
	steps []model.StepOutcome,
) error {
	if !status.IsTerminal() {
		return fmt.Errorf("storage: finish execution: %q is not a terminal status", status)
	}
	if steps == nil {
		steps = []model.StepOutcome{}
	}
	stepsJSON, err := json.Marshal(steps)
	if err != nil {
		return fmt.Errorf("storage: marshal steps: %w", err)
	}

	tag, err := db.pool.Exec(ctx,
		`UPDATE automation_executions
		 SET status = $2, contact_id = $3, error_message = $4, steps = $5, completed_at = now()
		 WHERE id = $1 AND status = 'processing'`,
		id, string(status), contactID, errMsg, stepsJSON,
	)
	if err != nil {
		return fmt.Errorf("storage: finish execution: %w", err)
	}
	if tag.RowsAffected() == 0 {
		var exists bool
		if err := db.pool.QueryRow(ctx,
			`SELECT EXISTS (SELECT 1 FROM automation_executions WHERE id = $1)`, id,
		).Scan(&exists); err != nil {
			return fmt.Errorf("storage: finish execution: %w", err)
		}
		if !exists {
			return fmt.Errorf("storage: execution %s: %w", id, ErrNotFound)
		}
		return fmt.Errorf("storage: execution %s: %w", id, ErrExecutionFinalized)
	}
	return nil
}

const executionColumns = `id, rule_id, trigger_type, status, contact_id, error_message, steps, started_at, completed_at`

func scanExecution(row pgx.Row) (model.Execution, error) {
	var (
		e      model.Execution
		status string
		steps  []byte
	)
	if err := row.Scan(&e.ID, &e.RuleID, &e.TriggerType, &status, &e.ContactID,
		&e.ErrorMessage, &steps, &e.StartedAt, &e.CompletedAt); err != nil {
		return model.Execution{}, err
	}
	e.Status = model.ExecutionStatus(status)
	e.Steps = []model.StepOutcome{}
	if len(steps) > 0 {
		if err := json.Unmarshal(steps, &e.Steps); err != nil {
			return model.Execution{}, fmt.Errorf("decode steps: %w", err)
		}
	}
	return e, nil
}

// GetExecution returns one execution with its message log entries.
func (db *DB) GetExecution(ctx context.Context, id uuid.UUID) (model.ExecutionDetail, error) {
	e, err := scanExecution(db.pool.QueryRow(ctx,
		`SELECT `+executionColumns+` FROM automation_executions WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.ExecutionDetail{}, fmt.Errorf("storage: execution %s: %w", id, ErrNotFound)
		}
		return model.ExecutionDetail{}, fmt.Errorf("storage: get execution: %w", err)
	}
	msgs, err := db.ListMessagesByExecution(ctx, id)
	if err != nil {
		return model.ExecutionDetail{}, err
	}
	return model.ExecutionDetail{Execution: e, Messages: msgs}, nil
}

// ListExecutions returns executions newest first.
func (db *DB) ListExecutions(ctx context.Context, f model.ExecutionFilter) ([]model.Execution, error) {
	var status *string
	if f.Status != nil {
		s := string(*f.Status)
		status = &s
	}
	rows, err := db.pool.Query(ctx,
		`SELECT `+executionColumns+`
		 FROM automation_executions
		 WHERE ($1::uuid IS NULL OR rule_id = $1)
		   AND ($2::text IS NULL OR status = $2)
		 ORDER BY started_at DESC, id
		 LIMIT $3 OFFSET $4`,
		f.RuleID, status, f.Limit, f.Offset)
	if err != nil {
		return nil, fmt.Errorf("storage: list executions: %w", err)
	}
	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (model.Execution, error) {
		return scanExecution(row)
	})
	if err != nil {
		return nil, fmt.Errorf("storage: list executions: %w", err)
	}
	return out, nil
}
