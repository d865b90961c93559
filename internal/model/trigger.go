package model

import (
	"strings"

	"github.com/google/uuid"
)

// Identity is the subject of a trigger event.
type Identity struct {
	ExternalID  string `json:"id"`
	Email       string `json:"email"`
	DisplayName string `json:"full_name,omitempty"`
}

// TriggerEvent is a named occurrence that may fire automation rules.
// It is never persisted.
type TriggerEvent struct {
	TriggerType string            `json:"trigger_type"`
	Identity    Identity          `json:"user_data"`
	Fields      map[string]string `json:"fields,omitempty"`
}

// Validate reports whether the event carries enough to act on.
func (e TriggerEvent) Validate() error {
	if err := ValidateTriggerType(e.TriggerType); err != nil {
		return err
	}
	if strings.TrimSpace(e.Identity.ExternalID) == "" {
		return &ValidationError{Field: "user_data.id", Message: "is required"}
	}
	if strings.TrimSpace(e.Identity.Email) == "" {
		return &ValidationError{Field: "user_data.email", Message: "is required"}
	}
	return nil
}

// SplitDisplayName splits a display name into first and last names. The
// first whitespace-separated word is the first name; the remainder is the
// last name.
func SplitDisplayName(display string) (first, last string) {
	parts := strings.Fields(display)
	switch len(parts) {
	case 0:
		return "", ""
	case 1:
		return parts[0], ""
	default:
		return parts[0], strings.Join(parts[1:], " ")
	}
}

// ProcessTriggerRequest is the request body for POST /v1/triggers.
type ProcessTriggerRequest = TriggerEvent

// Summary reports the outcome of processing one trigger.
type Summary struct {
	RulesProcessed int         `json:"rules_processed"`
	Completed      int         `json:"completed"`
	Failed         int         `json:"failed"`
	ExecutionIDs   []uuid.UUID `json:"execution_ids"`
}
