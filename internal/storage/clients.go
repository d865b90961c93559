package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/mentora-platform/mentora/internal/model"
)

// CreateClient inserts an API client. apiKeyHash must already be hashed.
func (db *DB) CreateClient(ctx context.Context, c model.APIClient) (model.APIClient, error) {
	err := db.pool.QueryRow(ctx,
		`INSERT INTO api_clients (client_id, name, role, api_key_hash)
		 VALUES ($1, $2, $3, $4)
		 RETURNING id, created_at`,
		c.ClientID, c.Name, string(c.Role), c.APIKeyHash,
	).Scan(&c.ID, &c.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return model.APIClient{}, fmt.Errorf("storage: client %q: %w", c.ClientID, ErrConflict)
		}
		return model.APIClient{}, fmt.Errorf("storage: create client: %w", err)
	}
	return c, nil
}

// GetClientByClientID looks up a client by its public identifier.
func (db *DB) GetClientByClientID(ctx context.Context, clientID string) (model.APIClient, error) {
	var (
		c    model.APIClient
		role string
	)
	err := db.pool.QueryRow(ctx,
		`SELECT id, client_id, name, role, api_key_hash, created_at
		 FROM api_clients WHERE client_id = $1`, clientID,
	).Scan(&c.ID, &c.ClientID, &c.Name, &role, &c.APIKeyHash, &c.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.APIClient{}, fmt.Errorf("storage: client %q: %w", clientID, ErrNotFound)
		}
		return model.APIClient{}, fmt.Errorf("storage: get client: %w", err)
	}
	c.Role = model.ClientRole(role)
	return c, nil
}

// CountClients returns the number of registered API clients.
func (db *DB) CountClients(ctx context.Context) (int64, error) {
	var n int64
	if err := db.pool.QueryRow(ctx, `SELECT COUNT(*) FROM api_clients`).Scan(&n); err != nil {
		return 0, fmt.Errorf("storage: count clients: %w", err)
	}
	return n, nil
}
