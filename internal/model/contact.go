package model

import (
	"time"

	"github.com/google/uuid"
)

// Contact is a marketing/CRM record keyed by email.
type Contact struct {
	ID          uuid.UUID `json:"id"`
	Email       string    `json:"email"`
	FirstName   string    `json:"first_name"`
	LastName    string    `json:"last_name"`
	Source      string    `json:"source"`
	IdentityRef string    `json:"identity_ref,omitempty"`
	Tags        []string  `json:"tags,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// FullName joins first and last name, omitting empty parts.
func (c Contact) FullName() string {
	switch {
	case c.FirstName == "":
		return c.LastName
	case c.LastName == "":
		return c.FirstName
	default:
		return c.FirstName + " " + c.LastName
	}
}

// ContactInput carries the fields used when a contact must be created.
type ContactInput struct {
	Email       string
	FirstName   string
	LastName    string
	Source      string
	IdentityRef string
}

// Tag is a named label attachable to contacts.
type Tag struct {
	ID        uuid.UUID `json:"id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}
