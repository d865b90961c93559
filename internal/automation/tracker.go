package automation

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/mentora-platform/mentora/internal/model"
)

// finalizeTimeout bounds the terminal write of an execution. It runs on a
// context detached from the caller so a cancelled request still leaves
// the record terminal.
const finalizeTimeout = 5 * time.Second

// Tracker owns the lifecycle of execution records:
// processing -> completed | failed, exactly once.
type Tracker struct {
	store  ExecutionStore
	logger *slog.Logger
}

// NewTracker returns a Tracker writing to store.
func NewTracker(store ExecutionStore, logger *slog.Logger) *Tracker {
	return &Tracker{store: store, logger: logger}
}

// Open records a new execution in the processing state.
func (t *Tracker) Open(ctx context.Context, rule model.Rule, triggerType string) (model.Execution, error) {
	e, err := t.store.CreateExecution(ctx, rule.ID, triggerType)
	if err != nil {
		return model.Execution{}, fmt.Errorf("automation: open execution: %w", err)
	}
	return e, nil
}

// Complete marks an execution completed.
func (t *Tracker) Complete(ctx context.Context, id uuid.UUID, contactID *uuid.UUID, steps []model.StepOutcome) error {
	return t.finish(ctx, id, model.ExecutionCompleted, contactID, nil, steps)
}

// Fail marks an execution failed with cause as its error message.
func (t *Tracker) Fail(ctx context.Context, id uuid.UUID, contactID *uuid.UUID, cause error, steps []model.StepOutcome) error {
	msg := cause.Error()
	return t.finish(ctx, id, model.ExecutionFailed, contactID, &msg, steps)
}

func (t *Tracker) finish(ctx context.Context, id uuid.UUID, status model.ExecutionStatus,
	contactID *uuid.UUID, errMsg *string, steps []model.StepOutcome,
) error {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), finalizeTimeout)
	defer cancel()
	if err := t.store.FinishExecution(ctx, id, status, contactID, errMsg, steps); err != nil {
		return fmt.Errorf("automation: finish execution %s as %s: %w", id, status, err)
	}
	return nil
}
