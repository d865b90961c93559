package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// EnsureTag returns the id of the named tag, creating it if needed.
func (db *DB) EnsureTag(ctx context.Context, name string) (uuid.UUID, error) {
	var id uuid.UUID
	err := db.pool.QueryRow(ctx,
		`INSERT INTO tags (name) VALUES ($1)
		 ON CONFLICT (name) DO NOTHING
		 RETURNING id`, name,
	).Scan(&id)
	if err == nil {
		return id, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return uuid.Nil, fmt.Errorf("storage: insert tag: %w", err)
	}
	if err := db.pool.QueryRow(ctx, `SELECT id FROM tags WHERE name = $1`, name).Scan(&id); err != nil {
		return uuid.Nil, fmt.Errorf("storage: lookup tag: %w", err)
	}
	return id, nil
}

// AttachTag links a tag to a contact. Attaching an already attached tag is
// not an error; attached reports whether a new link was written.
func (db *DB) AttachTag(ctx context.Context, contactID, tagID uuid.UUID) (attached bool, err error) {
	tag, err := db.pool.Exec(ctx,
		`INSERT INTO contact_tags (contact_id, tag_id) VALUES ($1, $2)
		 ON CONFLICT DO NOTHING`, contactID, tagID)
	if err != nil {
		return false, fmt.Errorf("storage: attach tag: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// ListContactTags returns the tag names attached to a contact.
func (db *DB) ListContactTags(ctx context.Context, contactID uuid.UUID) ([]string, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT t.name FROM contact_tags ct JOIN tags t ON t.id = ct.tag_id
		 WHERE ct.contact_id = $1 ORDER BY t.name`, contactID)
	if err != nil {
		return nil, fmt.Errorf("storage: list contact tags: %w", err)
	}
	names, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("storage: list contact tags: %w", err)
	}
	return names, nil
}
