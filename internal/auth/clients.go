package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/mentora-platform/mentora/internal/model"
	"github.com/mentora-platform/mentora/internal/storage"
)

// ErrInvalidCredentials is returned for an unknown client or a wrong key.
// Both cases map to this one error.
var ErrInvalidCredentials = errors.New("auth: invalid credentials")

// AdminClientID is the client_id of the bootstrap admin.
const AdminClientID = "admin"

// ClientStore persists API clients.
type ClientStore interface {
	GetClientByClientID(ctx context.Context, clientID string) (model.APIClient, error)
	CreateClient(ctx context.Context, c model.APIClient) (model.APIClient, error)
	CountClients(ctx context.Context) (int64, error)
}

// Authenticate checks apiKey against the stored hash for clientID.
func Authenticate(ctx context.Context, store ClientStore, clientID, apiKey string) (model.APIClient, error) {
	c, err := store.GetClientByClientID(ctx, clientID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			dummyVerify()
			return model.APIClient{}, ErrInvalidCredentials
		}
		return model.APIClient{}, fmt.Errorf("auth: load client: %w", err)
	}
	ok, err := VerifyAPIKey(apiKey, c.APIKeyHash)
	if err != nil {
		return model.APIClient{}, fmt.Errorf("auth: verify key for %q: %w", clientID, err)
	}
	if !ok {
		return model.APIClient{}, ErrInvalidCredentials
	}
	return c, nil
}

// RegisterClient hashes apiKey and stores a new client.
func RegisterClient(ctx context.Context, store ClientStore, clientID, name string, role model.ClientRole, apiKey string) (model.APIClient, error) {
	if err := model.ValidateClientID(clientID); err != nil {
		return model.APIClient{}, err
	}
	if !role.Valid() {
		return model.APIClient{}, &model.ValidationError{Field: "role", Message: fmt.Sprintf("unknown role %q", role)}
	}
	if apiKey == "" {
		return model.APIClient{}, &model.ValidationError{Field: "api_key", Message: "is required"}
	}
	hash, err := HashAPIKey(apiKey)
	if err != nil {
		return model.APIClient{}, err
	}
	return store.CreateClient(ctx, model.APIClient{
		ClientID:   clientID,
		Name:       name,
		Role:       role,
		APIKeyHash: hash,
	})
}

// SeedAdmin creates the bootstrap admin client when no clients exist.
// An empty adminAPIKey is only accepted once some client is registered.
func SeedAdmin(ctx context.Context, store ClientStore, adminAPIKey string, logger *slog.Logger) error {
	count, err := store.CountClients(ctx)
	if err != nil {
		return fmt.Errorf("seed admin: count clients: %w", err)
	}
	if count > 0 {
		logger.Info("api clients exist, skipping admin seed", "clients", count)
		return nil
	}
	if adminAPIKey == "" {
		return fmt.Errorf("seed admin: MENTORA_ADMIN_API_KEY is empty and no clients exist")
	}

	_, err = RegisterClient(ctx, store, AdminClientID, "System Admin", model.RoleAdmin, adminAPIKey)
	if err != nil {
		if errors.Is(err, storage.ErrConflict) {
			// Another instance seeded concurrently.
			return nil
		}
		return fmt.Errorf("seed admin: %w", err)
	}
	logger.Info("seeded bootstrap admin client", "client_id", AdminClientID)
	return nil
}
