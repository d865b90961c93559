package model

import (
	"time"

	"github.com/google/uuid"
)

// ExecutionStatus is the lifecycle state of a rule firing.
type ExecutionStatus string

const (
	ExecutionProcessing ExecutionStatus = "processing"
	ExecutionCompleted  ExecutionStatus = "completed"
	ExecutionFailed     ExecutionStatus = "failed"
)

// IsTerminal reports whether no further transition is allowed.
func (s ExecutionStatus) IsTerminal() bool {
	return s == ExecutionCompleted || s == ExecutionFailed
}

// Valid reports whether s is a known status.
func (s ExecutionStatus) Valid() bool {
	return s == ExecutionProcessing || s.IsTerminal()
}

// StepStatus is the outcome of a single action.
type StepStatus string

const (
	StepOK      StepStatus = "ok"
	StepSkipped StepStatus = "skipped"
	StepFailed  StepStatus = "failed"
)

// StepOutcome records what one action did during an execution.
type StepOutcome struct {
	Order  int        `json:"action_order"`
	Type   ActionType `json:"action_type"`
	Status StepStatus `json:"status"`
	Detail string     `json:"detail,omitempty"`
}

// Execution tracks one firing of one rule.
type Execution struct {
	ID           uuid.UUID       `json:"id"`
	RuleID       uuid.UUID       `json:"rule_id"`
	TriggerType  string          `json:"trigger_type"`
	Status       ExecutionStatus `json:"status"`
	ContactID    *uuid.UUID      `json:"contact_id,omitempty"`
	ErrorMessage *string         `json:"error_message,omitempty"`
	Steps        []StepOutcome   `json:"steps"`
	StartedAt    time.Time       `json:"started_at"`
	CompletedAt  *time.Time      `json:"completed_at,omitempty"`
}

// ExecutionFilter narrows execution listings.
type ExecutionFilter struct {
	RuleID *uuid.UUID
	Status *ExecutionStatus
	Limit  int
	Offset int
}

// ExecutionDetail is an execution with the messages it sent.
type ExecutionDetail struct {
	Execution
	Messages []MessageLogEntry `json:"messages"`
}
