package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/mentora-platform/mentora/internal/model"
)

// ResolveContact returns the contact id for in.Email, creating the contact
// when none exists. Email matching is exact. An existing contact is returned
// untouched; created reports whether this call inserted the row.
//
// The insert and lookup are race-safe: concurrent callers with the same
// email converge on one row.
func (db *DB) ResolveContact(ctx context.Context, in model.ContactInput) (id uuid.UUID, created bool, err error) {
	err = db.pool.QueryRow(ctx,
		`INSERT INTO contacts (email, first_name, last_name, source, identity_ref)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (email) DO NOTHING
		 RETURNING id`,
		in.Email, in.FirstName, in.LastName, in.Source, in.IdentityRef,
	).Scan(&id)
	if err == nil {
		return id, true, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return uuid.Nil, false, fmt.Errorf("storage: insert contact: %w", err)
	}

	// Lost the race or the contact already existed.
	err = db.pool.QueryRow(ctx, `SELECT id FROM contacts WHERE email = $1`, in.Email).Scan(&id)
	if err != nil {
		return uuid.Nil, false, fmt.Errorf("storage: lookup contact: %w", err)
	}
	return id, false, nil
}

// GetContact returns a contact with its tag names.
func (db *DB) GetContact(ctx context.Context, id uuid.UUID) (model.Contact, error) {
	var c model.Contact
	err := db.pool.QueryRow(ctx,
		`SELECT c.id, c.email, c.first_name, c.last_name, c.source, c.identity_ref,
		        c.created_at, c.updated_at,
		        COALESCE(array_agg(t.name ORDER BY t.name) FILTER (WHERE t.name IS NOT NULL), '{}')
		 FROM contacts c
		 LEFT JOIN contact_tags ct ON ct.contact_id = c.id
		 LEFT JOIN tags t ON t.id = ct.tag_id
		 WHERE c.id = $1
		 GROUP BY c.id`, id,
	).Scan(&c.ID, &c.Email, &c.FirstName, &c.LastName, &c.Source, &c.IdentityRef,
		&c.CreatedAt, &c.UpdatedAt, &c.Tags)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.Contact{}, fmt.Errorf("storage: contact %s: %w", id, ErrNotFound)
		}
		return model.Contact{}, fmt.Errorf("storage: get contact: %w", err)
	}
	return c, nil
}
