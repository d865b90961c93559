package mentora

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mentora-platform/mentora/internal/config"
	"github.com/mentora-platform/mentora/internal/model"
	"github.com/mentora-platform/mentora/internal/notify"
	"github.com/mentora-platform/mentora/internal/ratelimit"
	"github.com/mentora-platform/mentora/internal/testutil"
)

func TestNewDispatcher(t *testing.T) {
	logger := testutil.TestLogger()
	base := config.Config{
		SMTPHost:      "smtp.example.com",
		SMTPPort:      587,
		SMTPFrom:      "noreply@example.com",
		WebhookURL:    "https://mail.example.com/send",
		ActionTimeout: time.Second,
	}

	tests := []struct {
		provider string
		want     any
	}{
		{config.ProviderLog, &notify.LogDispatcher{}},
		{config.ProviderSMTP, &notify.SMTPDispatcher{}},
		{config.ProviderWebhook, &notify.WebhookDispatcher{}},
	}
	for _, tt := range tests {
		t.Run(tt.provider, func(t *testing.T) {
			cfg := base
			cfg.NotifyProvider = tt.provider
			d, err := newDispatcher(cfg, nil, logger)
			require.NoError(t, err)
			assert.IsType(t, tt.want, d)
		})
	}

	t.Run("unknown provider", func(t *testing.T) {
		cfg := base
		cfg.NotifyProvider = "carrier-pigeon"
		_, err := newDispatcher(cfg, nil, logger)
		assert.ErrorContains(t, err, "carrier-pigeon")
	})

	t.Run("custom wins over config", func(t *testing.T) {
		cfg := base
		cfg.NotifyProvider = config.ProviderSMTP
		custom := DispatcherFunc(func(context.Context, Message) (SendResult, error) {
			return SendResult{}, nil
		})
		d, err := newDispatcher(cfg, custom, logger)
		require.NoError(t, err)
		assert.IsType(t, &dispatcherAdapter{}, d)
	})
}

func TestDispatcherAdapter(t *testing.T) {
	execID, contactID := uuid.New(), uuid.New()
	var got Message
	adapter := &dispatcherAdapter{d: DispatcherFunc(func(_ context.Context, msg Message) (SendResult, error) {
		got = msg
		return SendResult{ProviderMessageID: "prov-1"}, nil
	})}

	res, err := adapter.Send(context.Background(), model.OutboundMessage{
		ExecutionID:  &execID,
		ContactID:    &contactID,
		TemplateName: "welcome",
		To:           "ada@example.com",
		Subject:      "Hi Ada",
		Body:         "Welcome",
		Tags:         map[string]string{"template": "welcome"},
	})
	require.NoError(t, err)
	assert.Equal(t, "prov-1", res.ProviderMessageID)
	assert.Equal(t, Message{
		ExecutionID:  &execID,
		ContactID:    &contactID,
		TemplateName: "welcome",
		To:           "ada@example.com",
		Subject:      "Hi Ada",
		Body:         "Welcome",
		Tags:         map[string]string{"template": "welcome"},
	}, got)
}

func TestDispatcherAdapter_Error(t *testing.T) {
	boom := errors.New("provider down")
	adapter := &dispatcherAdapter{d: DispatcherFunc(func(context.Context, Message) (SendResult, error) {
		return SendResult{ProviderMessageID: "ignored"}, boom
	})}

	res, err := adapter.Send(context.Background(), model.OutboundMessage{To: "a@b.c"})
	assert.ErrorIs(t, err, boom)
	assert.Empty(t, res.ProviderMessageID)
}

func TestNewLimiter(t *testing.T) {
	logger := testutil.TestLogger()
	ctx := context.Background()

	t.Run("disabled", func(t *testing.T) {
		l, err := newLimiter(ctx, config.Config{RateLimitEnabled: false}, logger)
		require.NoError(t, err)
		assert.IsType(t, ratelimit.NoopLimiter{}, l)
	})

	t.Run("memory", func(t *testing.T) {
		l, err := newLimiter(ctx, config.Config{RateLimitEnabled: true, RateLimitRPS: 10, RateLimitBurst: 20}, logger)
		require.NoError(t, err)
		t.Cleanup(func() { _ = l.Close() })
		assert.IsType(t, &ratelimit.MemoryLimiter{}, l)
	})

	t.Run("redis", func(t *testing.T) {
		mr := miniredis.RunT(t)
		l, err := newLimiter(ctx, config.Config{
			RateLimitEnabled: true,
			RateLimitRPS:     2,
			RateLimitBurst:   3,
			RedisURL:         "redis://" + mr.Addr(),
		}, logger)
		require.NoError(t, err)
		t.Cleanup(func() { _ = l.Close() })
		require.IsType(t, &ratelimit.RedisLimiter{}, l)

		for i := range 3 {
			ok, err := l.Allow(ctx, "svc")
			require.NoError(t, err)
			assert.True(t, ok, "request %d", i)
		}
		ok, err := l.Allow(ctx, "svc")
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("bad redis url", func(t *testing.T) {
		_, err := newLimiter(ctx, config.Config{
			RateLimitEnabled: true, RateLimitRPS: 1, RateLimitBurst: 1, RedisURL: "not-a-url",
		}, logger)
		assert.Error(t, err)
	})
}

func TestContextWithOptionalTimeout(t *testing.T) {
	ctx, cancel := contextWithOptionalTimeout(context.Background(), 0)
	_, hasDeadline := ctx.Deadline()
	assert.False(t, hasDeadline)
	cancel()
	assert.Error(t, ctx.Err())

	ctx, cancel = contextWithOptionalTimeout(context.Background(), time.Minute)
	defer cancel()
	_, hasDeadline = ctx.Deadline()
	assert.True(t, hasDeadline)
}
