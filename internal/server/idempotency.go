package server

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/mentora-platform/mentora/internal/model"
	"github.com/mentora-platform/mentora/internal/storage"
)

const maxIdempotencyKeyLen = 255

func idempotencyKey(r *http.Request) string {
	return strings.TrimSpace(r.Header.Get("Idempotency-Key"))
}

func requestHash(payload any) (string, error) {
	b, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:]), nil
}

// beginIdempotentWrite reserves the request's Idempotency-Key, or replays
// the stored response. It returns (nil, true) when no key was sent. When
// it returns false a response has already been written.
func (h *Handlers) beginIdempotentWrite(w http.ResponseWriter, r *http.Request, clientID, endpoint string, payload any) (*storage.IdempotencyKey, bool) {
	key := idempotencyKey(r)
	if key == "" {
		return nil, true
	}
	if len(key) > maxIdempotencyKeyLen {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput,
			fmt.Sprintf("Idempotency-Key must be at most %d characters", maxIdempotencyKeyLen))
		return nil, false
	}

	hash, err := requestHash(payload)
	if err != nil {
		h.writeInternalError(w, r, "failed to hash idempotency payload", err)
		return nil, false
	}

	k := storage.IdempotencyKey{ClientID: clientID, Endpoint: endpoint, Key: key}
	lookup, err := h.db.BeginIdempotency(r.Context(), k, hash)
	switch {
	case err == nil:
		if lookup.Completed {
			var replay any
			if len(lookup.ResponseData) > 0 {
				if uErr := json.Unmarshal(lookup.ResponseData, &replay); uErr != nil {
					h.writeInternalError(w, r, "failed to unmarshal idempotent replay payload", uErr)
					return nil, false
				}
			}
			status := lookup.StatusCode
			if status == 0 {
				status = http.StatusOK
			}
			w.Header().Set("Idempotent-Replayed", "true")
			writeJSON(w, r, status, replay)
			return nil, false
		}
		return &k, true
	case errors.Is(err, storage.ErrIdempotencyPayloadMismatch):
		writeError(w, r, http.StatusUnprocessableEntity, model.ErrCodeConflict, "idempotency key reused with different payload")
		return nil, false
	case errors.Is(err, storage.ErrIdempotencyInProgress):
		writeError(w, r, http.StatusConflict, model.ErrCodeConflict, "request with this idempotency key is already in progress")
		return nil, false
	default:
		h.writeInternalError(w, r, "idempotency lookup failed", err)
		return nil, false
	}
}

// completeIdempotentWrite stores the response for replay. It runs on a
// bounded background context so a client disconnect cannot leave the key
// stuck in progress.
func (h *Handlers) completeIdempotentWrite(k *storage.IdempotencyKey, statusCode int, data any) error {
	if k == nil {
		return nil
	}
	writeCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var lastErr error
	for attempt := 1; attempt <= 3; attempt++ {
		err := h.db.CompleteIdempotency(writeCtx, *k, statusCode, data)
		if err == nil {
			return nil
		}
		lastErr = err
		h.logger.Warn("idempotency finalize attempt failed",
			"attempt", attempt,
			"error", err,
			"endpoint", k.Endpoint,
			"client_id", k.ClientID,
		)
		select {
		case <-time.After(time.Duration(attempt) * 50 * time.Millisecond):
		case <-writeCtx.Done():
			return fmt.Errorf("idempotency finalize context expired: %w", lastErr)
		}
	}
	return fmt.Errorf("failed to complete idempotency record after retries: %w", lastErr)
}

func (h *Handlers) completeIdempotentWriteBestEffort(r *http.Request, k *storage.IdempotencyKey, statusCode int, data any) {
	if err := h.completeIdempotentWrite(k, statusCode, data); err != nil {
		h.logger.Error("failed to finalize idempotency record",
			"error", err,
			"request_id", RequestIDFromContext(r.Context()),
		)
	}
}

// clearIdempotentWrite releases a reservation whose request failed, so the
// client may retry with the same key.
func (h *Handlers) clearIdempotentWrite(r *http.Request, k *storage.IdempotencyKey) {
	if k == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(r.Context()), 5*time.Second)
	defer cancel()
	if err := h.db.ClearInProgressIdempotency(ctx, *k); err != nil {
		h.logger.Error("failed to clear idempotency record",
			"error", err,
			"endpoint", k.Endpoint,
			"client_id", k.ClientID,
		)
	}
}
