// Package notify delivers rendered messages to an email provider.
//
// A Dispatcher hands one message to a provider and returns the provider's
// message id. Implementations exist for SMTP, an HTTP email API and a
// development logger. WithTimeout bounds every send.
package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/mentora-platform/mentora/internal/model"
)

// Dispatcher sends a single message.
type Dispatcher interface {
	Send(ctx context.Context, msg model.OutboundMessage) (model.DispatchResult, error)
}

// ErrRejected wraps a provider response that refused the message.
var ErrRejected = errors.New("notify: provider rejected message")

// DefaultTimeout bounds one send when no other timeout is configured.
const DefaultTimeout = 10 * time.Second

// LogDispatcher logs messages instead of sending them. Used when no
// provider is configured.
type LogDispatcher struct {
	logger *slog.Logger
}

// NewLogDispatcher returns a dispatcher that only logs.
func NewLogDispatcher(logger *slog.Logger) *LogDispatcher {
	return &LogDispatcher{logger: logger}
}

// Send logs msg and returns a synthetic message id.
func (d *LogDispatcher) Send(_ context.Context, msg model.OutboundMessage) (model.DispatchResult, error) {
	id := "log-" + uuid.NewString()
	d.logger.Info("notify: message (dev mode, no provider configured)",
		"to", msg.To,
		"template", msg.TemplateName,
		"subject", msg.Subject,
		"provider_message_id", id,
	)
	return model.DispatchResult{ProviderMessageID: id}, nil
}

type timeoutDispatcher struct {
	next    Dispatcher
	timeout time.Duration
}

// WithTimeout bounds each Send on next by timeout. A non-positive timeout
// uses DefaultTimeout.
func WithTimeout(next Dispatcher, timeout time.Duration) Dispatcher {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &timeoutDispatcher{next: next, timeout: timeout}
}

func (d *timeoutDispatcher) Send(ctx context.Context, msg model.OutboundMessage) (model.DispatchResult, error) {
	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()
	res, err := d.next.Send(ctx, msg)
	if err != nil && errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return model.DispatchResult{}, fmt.Errorf("notify: send timed out after %s: %w", d.timeout, err)
	}
	return res, err
}
