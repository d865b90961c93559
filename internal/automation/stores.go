package automation

import (
	"context"

	"github.com/google/uuid"

	"github.com/mentora-platform/mentora/internal/model"
)

// RuleStore reads active rules.
type RuleStore interface {
	ListActiveRules(ctx context.Context, triggerType string) ([]model.Rule, error)
}

// ContactStore resolves contacts and attaches tags.
type ContactStore interface {
	ResolveContact(ctx context.Context, in model.ContactInput) (uuid.UUID, bool, error)
	EnsureTag(ctx context.Context, name string) (uuid.UUID, error)
	AttachTag(ctx context.Context, contactID, tagID uuid.UUID) (bool, error)
}

// ExecutionStore persists execution records.
type ExecutionStore interface {
	CreateExecution(ctx context.Context, ruleID uuid.UUID, triggerType string) (model.Execution, error)
	FinishExecution(ctx context.Context, id uuid.UUID, status model.ExecutionStatus,
		contactID *uuid.UUID, errMsg *string, steps []model.StepOutcome) error
}

// MessageLog records send attempts and queues failed sends for retry.
type MessageLog interface {
	AppendMessageLog(ctx context.Context, e model.MessageLogEntry) (uuid.UUID, error)
	EnqueueRedelivery(ctx context.Context, messageLogID uuid.UUID, msg model.OutboundMessage, lastError string) error
}

// Store is everything the engine persists through. *storage.DB satisfies it.
type Store interface {
	RuleStore
	ContactStore
	ExecutionStore
	MessageLog
}

// Renderer renders a named template.
type Renderer interface {
	Render(ctx context.Context, name string, vars map[string]string) (model.RenderedMessage, error)
}
