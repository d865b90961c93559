package ratelimit

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mentora-platform/mentora/internal/model"
)

type brokenLimiter struct{}

func (brokenLimiter) Allow(context.Context, string) (bool, error) { return false, errors.New("redis down") }
func (brokenLimiter) Close() error                                { return nil }

func headerKey(r *http.Request) string { return r.Header.Get("X-Client") }

func serve(t *testing.T, h http.Handler, client string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/v1/triggers", nil)
	if client != "" {
		req.Header.Set("X-Client", client)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

type denyLimiter struct{}

func (denyLimiter) Allow(context.Context, string) (bool, error) { return false, nil }
func (denyLimiter) Close() error                                { return nil }

func TestMiddlewareRejectsOverLimit(t *testing.T) {
	m := newTestMemoryLimiter(t, 0.001, 1)
	m.now = (&fakeClock{t: time.Unix(1_700_000_000, 0)}).Now
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	ok := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusNoContent) })
	h := Middleware(m, headerKey, func(*http.Request) string { return "req-1" }, 30*time.Second, logger)(ok)

	assert.Equal(t, http.StatusNoContent, serve(t, h, "lms").Code)

	rec := serve(t, h, "lms")
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "1000", rec.Header().Get("Retry-After"), "limiter's own estimate")

	var body model.APIError
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	assert.Equal(t, model.ErrCodeRateLimited, body.Error.Code)
	assert.Equal(t, "req-1", body.Meta.RequestID)

	assert.Equal(t, http.StatusNoContent, serve(t, h, "other").Code)
}

func TestMiddlewareDefaultRetryAfter(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	ok := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusNoContent) })
	h := Middleware(denyLimiter{}, headerKey, nil, 30*time.Second, logger)(ok)

	rec := serve(t, h, "lms")
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "30", rec.Header().Get("Retry-After"))
}

func TestMiddlewareSkipsEmptyKey(t *testing.T) {
	m := newTestMemoryLimiter(t, 0.001, 1)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	ok := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusNoContent) })
	h := Middleware(m, headerKey, nil, time.Second, logger)(ok)

	for range 5 {
		assert.Equal(t, http.StatusNoContent, serve(t, h, "").Code)
	}
}

func TestMiddlewareFailsOpen(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	ok := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusNoContent) })
	h := Middleware(brokenLimiter{}, headerKey, nil, time.Second, logger)(ok)

	assert.Equal(t, http.StatusNoContent, serve(t, h, "lms").Code)
}
