package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/mentora-platform/mentora/internal/model"
)

// GetTemplate returns the template with the given name.
func (db *DB) GetTemplate(ctx context.Context, name string) (model.MessageTemplate, error) {
	var t model.MessageTemplate
	err := db.pool.QueryRow(ctx,
		`SELECT name, subject, body, variables, created_at, updated_at
		 FROM message_templates WHERE name = $1`, name,
	).Scan(&t.Name, &t.Subject, &t.Body, &t.Variables, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.MessageTemplate{}, fmt.Errorf("storage: template %q: %w", name, ErrNotFound)
		}
		return model.MessageTemplate{}, fmt.Errorf("storage: get template: %w", err)
	}
	return t, nil
}

// UpsertTemplate creates or replaces a template by name.
func (db *DB) UpsertTemplate(ctx context.Context, t model.MessageTemplate) (model.MessageTemplate, error) {
	if t.Variables == nil {
		t.Variables = []string{}
	}
	err := db.pool.QueryRow(ctx,
		`INSERT INTO message_templates (name, subject, body, variables)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (name) DO UPDATE
		 SET subject = EXCLUDED.subject,
		     body = EXCLUDED.body,
		     variables = EXCLUDED.variables,
		     updated_at = now()
		 RETURNING created_at, updated_at`,
		t.Name, t.Subject, t.Body, t.Variables,
	).Scan(&t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return model.MessageTemplate{}, fmt.Errorf("storage: upsert template: %w", err)
	}
	return t, nil
}

// ListTemplates returns all templates ordered by name.
func (db *DB) ListTemplates(ctx context.Context) ([]model.MessageTemplate, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT name, subject, body, variables, created_at, updated_at
		 FROM message_templates ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("storage: list templates: %w", err)
	}
	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (model.MessageTemplate, error) {
		var t model.MessageTemplate
		err := row.Scan(&t.Name, &t.Subject, &t.Body, &t.Variables, &t.CreatedAt, &t.UpdatedAt)
		return t, err
	})
	if err != nil {
		return nil, fmt.Errorf("storage: list templates: %w", err)
	}
	return out, nil
}
