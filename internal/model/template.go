package model

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	MaxTemplateNameLen    = 100
	MaxTemplateSubjectLen = 998 // RFC 5322 line limit
	MaxTemplateBodyLen    = 256 * 1024
)

// MessageTemplate is a named subject/body pair with placeholders.
type MessageTemplate struct {
	Name      string    `json:"name"`
	Subject   string    `json:"subject"`
	Body      string    `json:"body"`
	Variables []string  `json:"variables"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// PutTemplateRequest is the request body for PUT /v1/templates/{name}.
type PutTemplateRequest struct {
	Subject   string   `json:"subject"`
	Body      string   `json:"body"`
	Variables []string `json:"variables,omitempty"`
}

// PreviewTemplateRequest is the request body for
// POST /v1/templates/{name}/preview.
type PreviewTemplateRequest struct {
	Variables map[string]string `json:"variables"`
}

// Validate checks the template fields.
func (t MessageTemplate) Validate() error {
	if strings.TrimSpace(t.Name) == "" {
		return &ValidationError{Field: "name", Message: "is required"}
	}
	if len(t.Name) > MaxTemplateNameLen {
		return &ValidationError{Field: "name", Message: fmt.Sprintf("exceeds %d characters", MaxTemplateNameLen)}
	}
	if strings.TrimSpace(t.Subject) == "" {
		return &ValidationError{Field: "subject", Message: "is required"}
	}
	if strings.ContainsAny(t.Subject, "\r\n") {
		return &ValidationError{Field: "subject", Message: "must be a single line"}
	}
	if len(t.Subject) > MaxTemplateSubjectLen {
		return &ValidationError{Field: "subject", Message: fmt.Sprintf("exceeds %d characters", MaxTemplateSubjectLen)}
	}
	if len(t.Body) > MaxTemplateBodyLen {
		return &ValidationError{Field: "body", Message: fmt.Sprintf("exceeds %d bytes", MaxTemplateBodyLen)}
	}
	return nil
}

// RenderedMessage is a template after placeholder substitution.
type RenderedMessage struct {
	TemplateName string   `json:"template_name"`
	Subject      string   `json:"subject"`
	Body         string   `json:"body"`
	Missing      []string `json:"missing,omitempty"`
}

// OutboundMessage is a rendered message addressed to a recipient.
type OutboundMessage struct {
	ExecutionID  *uuid.UUID
	ContactID    *uuid.UUID
	TemplateName string
	To           string
	Subject      string
	Body         string
	Tags         map[string]string
}

// DispatchResult is what a provider returns for an accepted message.
type DispatchResult struct {
	ProviderMessageID string `json:"provider_message_id"`
}

// MessageStatus is the outcome of a send attempt.
type MessageStatus string

const (
	MessageSent   MessageStatus = "sent"
	MessageFailed MessageStatus = "failed"
)

// MessageLogEntry is one row of the append-only send audit.
type MessageLogEntry struct {
	ID                uuid.UUID     `json:"id"`
	ExecutionID       *uuid.UUID    `json:"execution_id,omitempty"`
	ContactID         *uuid.UUID    `json:"contact_id,omitempty"`
	TemplateName      string        `json:"template_name"`
	Recipient         string        `json:"recipient"`
	Subject           string        `json:"subject"`
	Status            MessageStatus `json:"status"`
	ProviderMessageID *string       `json:"provider_message_id,omitempty"`
	Error             *string       `json:"error,omitempty"`
	Attempt           int           `json:"attempt"`
	CreatedAt         time.Time     `json:"created_at"`
}

// Redelivery is a queued retry of a failed send.
type Redelivery struct {
	ID           int64
	MessageLogID uuid.UUID
	ExecutionID  *uuid.UUID
	ContactID    *uuid.UUID
	TemplateName string
	Recipient    string
	Subject      string
	Body         string
	Attempts     int
	CreatedAt    time.Time
}

// Message converts a queued redelivery back into an outbound message.
func (r Redelivery) Message() OutboundMessage {
	return OutboundMessage{
		ExecutionID:  r.ExecutionID,
		ContactID:    r.ContactID,
		TemplateName: r.TemplateName,
		To:           r.Recipient,
		Subject:      r.Subject,
		Body:         r.Body,
	}
}
