package ratelimit

import (
	"encoding/json"
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"time"

	"go.opentelemetry.io/otel/metric"

	"github.com/mentora-platform/mentora/internal/model"
	"github.com/mentora-platform/mentora/internal/telemetry"
)

// KeyFunc extracts the rate limit key from a request. An empty key skips
// limiting for that request.
type KeyFunc func(r *http.Request) string

// RequestIDFunc returns the request ID for the error envelope.
type RequestIDFunc func(r *http.Request) string

// retryAdvisor is implemented by limiters that know when a key may retry.
type retryAdvisor interface {
	RetryAfter(key string) time.Duration
}

// Middleware rejects requests over the limit with 429. Retry-After is the
// limiter's own estimate when it has one, else retryAfter. Limiter errors
// are logged and the request proceeds.
func Middleware(limiter Limiter, keyFunc KeyFunc, reqIDFunc RequestIDFunc, retryAfter time.Duration, logger *slog.Logger) func(http.Handler) http.Handler {
	retrySecs := max(1, int(retryAfter.Seconds()))
	rejected, _ := telemetry.Meter("mentora/ratelimit").Int64Counter("mentora.ratelimit.rejected",
		metric.WithDescription("Requests rejected with 429"))
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := keyFunc(r)
			if limiter == nil || key == "" {
				next.ServeHTTP(w, r)
				return
			}

			ok, err := limiter.Allow(r.Context(), key)
			if err != nil {
				logger.Warn("ratelimit: limiter error, allowing request", "error", err, "key", key)
				next.ServeHTTP(w, r)
				return
			}
			if !ok {
				rejected.Add(r.Context(), 1)
				var requestID string
				if reqIDFunc != nil {
					requestID = reqIDFunc(r)
				}
				secs := retrySecs
				if ra, ok := limiter.(retryAdvisor); ok {
					secs = max(1, int(math.Ceil(ra.RetryAfter(key).Seconds())))
				}
				w.Header().Set("Retry-After", strconv.Itoa(secs))
				writeRateLimitError(w, requestID)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func writeRateLimitError(w http.ResponseWriter, requestID string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusTooManyRequests)
	_ = json.NewEncoder(w).Encode(model.APIError{
		Error: model.ErrorDetail{
			Code:    model.ErrCodeRateLimited,
			Message: "too many requests",
		},
		Meta: model.ResponseMeta{
			RequestID: requestID,
			Timestamp: time.Now().UTC(),
		},
	})
}
