package mentora

import (
	"time"

	"github.com/google/uuid"
)

// User identifies who a trigger is about.
type User struct {
	ID       string `json:"id"`
	Email    string `json:"email"`
	FullName string `json:"full_name,omitempty"`
}

// TriggerRequest is the body of POST /v1/triggers.
type TriggerRequest struct {
	TriggerType string            `json:"trigger_type"`
	User        User              `json:"user_data"`
	Fields      map[string]string `json:"fields,omitempty"`
}

// TriggerSummary reports what one trigger did.
type TriggerSummary struct {
	RulesProcessed int         `json:"rules_processed"`
	Completed      int         `json:"completed"`
	Failed         int         `json:"failed"`
	ExecutionIDs   []uuid.UUID `json:"execution_ids"`
	// Replayed is true when the server answered from a stored idempotent
	// response instead of running the rules again.
	Replayed bool `json:"-"`
}

// Step is the outcome of one action within an execution.
type Step struct {
	Order  int    `json:"action_order"`
	Type   string `json:"action_type"`
	Status string `json:"status"`
	Detail string `json:"detail,omitempty"`
}

// Execution is one firing of one rule.
type Execution struct {
	ID           uuid.UUID  `json:"id"`
	RuleID       uuid.UUID  `json:"rule_id"`
	TriggerType  string     `json:"trigger_type"`
	Status       string     `json:"status"`
	ContactID    *uuid.UUID `json:"contact_id,omitempty"`
	ErrorMessage *string    `json:"error_message,omitempty"`
	Steps        []Step     `json:"steps"`
	StartedAt    time.Time  `json:"started_at"`
	CompletedAt  *time.Time `json:"completed_at,omitempty"`
}

// Message is one send attempt recorded for an execution.
type Message struct {
	ID                uuid.UUID `json:"id"`
	TemplateName      string    `json:"template_name"`
	Recipient         string    `json:"recipient"`
	Subject           string    `json:"subject"`
	Status            string    `json:"status"`
	ProviderMessageID *string   `json:"provider_message_id,omitempty"`
	Error             *string   `json:"error,omitempty"`
	Attempt           int       `json:"attempt"`
	CreatedAt         time.Time `json:"created_at"`
}

// ExecutionDetail is an execution with the messages it sent.
type ExecutionDetail struct {
	Execution
	Messages []Message `json:"messages"`
}

// ExecutionFilter narrows ListExecutions. Zero values mean no filter.
type ExecutionFilter struct {
	RuleID uuid.UUID
	Status string
	Limit  int
	Offset int
}

// ExecutionPage is one page of ListExecutions.
type ExecutionPage struct {
	Executions []Execution
	HasMore    bool
}
