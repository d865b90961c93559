// Package mentora is the public API for embedding the Mentora automation
// server.
//
// Consumers import this package to construct and extend the server without
// forking it:
//
//	app, err := mentora.New(
//	    mentora.WithVersion(version),
//	    mentora.WithLogger(logger),
//	    mentora.WithDispatcher(myProvider{}),
//	)
//	if err != nil { ... }
//	if err := app.Run(ctx); err != nil { ... }
//
// The root package imports internal/*, never the reverse. Public types
// (Message, SendResult) are standalone structs; the conversion to internal
// types lives in this file because it is the only one that sees both sides.
package mentora

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"net/http"
	"time"

	"github.com/joho/godotenv"

	"github.com/mentora-platform/mentora/internal/auth"
	"github.com/mentora-platform/mentora/internal/automation"
	"github.com/mentora-platform/mentora/internal/config"
	"github.com/mentora-platform/mentora/internal/mcp"
	"github.com/mentora-platform/mentora/internal/model"
	"github.com/mentora-platform/mentora/internal/notify"
	"github.com/mentora-platform/mentora/internal/ratelimit"
	"github.com/mentora-platform/mentora/internal/render"
	"github.com/mentora-platform/mentora/internal/server"
	"github.com/mentora-platform/mentora/internal/storage"
	"github.com/mentora-platform/mentora/internal/telemetry"
	"github.com/mentora-platform/mentora/migrations"
)

// shutdownPhaseTimeout bounds each phase of Shutdown.
const shutdownPhaseTimeout = 10 * time.Second

// App is the Mentora server lifecycle. Construct with New(), run with Run().
type App struct {
	cfg          config.Config
	db           *storage.DB
	srv          *server.Server
	templates    *render.CachedStore
	limiter      ratelimit.Limiter
	redelivery   *notify.RedeliveryWorker // nil when redelivery is disabled
	otelShutdown telemetry.Shutdown
	logger       *slog.Logger
	version      string
}

// New initialises the Mentora server. It connects to the database, runs
// migrations, seeds the bootstrap admin and wires all subsystems.
// It does NOT start any goroutines or accept HTTP connections; call Run().
func New(opts ...Option) (*App, error) {
	o := resolvedOptions{}
	for _, fn := range opts {
		fn(&o)
	}

	logger := o.logger
	if logger == nil {
		logger = slog.Default()
	}

	// Load .env file if present (non-fatal; production won't have one).
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if o.port != 0 {
		cfg.Port = o.port
	}
	if o.databaseURL != "" {
		cfg.DatabaseURL = o.databaseURL
	}
	version := o.version
	if version == "" {
		version = "dev"
	}

	logger.Info("mentora starting", "version", version, "port", cfg.Port)

	ctx := context.Background()

	otelShutdown, err := telemetry.Init(ctx, telemetry.Config{
		Endpoint:    cfg.OTELEndpoint,
		ServiceName: cfg.ServiceName,
		Version:     version,
		Insecure:    cfg.OTELInsecure,
	})
	if err != nil {
		return nil, fmt.Errorf("telemetry: %w", err)
	}

	db, err := storage.New(ctx, cfg.DatabaseURL, logger)
	if err != nil {
		_ = otelShutdown(ctx)
		return nil, fmt.Errorf("storage: %w", err)
	}
	// cleanup undoes what New has built so far when a later step fails.
	cleanup := func() {
		db.Close()
		_ = otelShutdown(ctx)
	}

	if err := db.RunMigrations(ctx, migrations.FS); err != nil {
		cleanup()
		return nil, fmt.Errorf("migrations: %w", err)
	}
	for i, extraFS := range o.extraMigrations {
		if err := db.RunMigrations(ctx, extraFS); err != nil {
			cleanup()
			return nil, fmt.Errorf("extra migrations[%d]: %w", i, err)
		}
	}
	if err := db.RegisterMetrics(cfg.RedeliveryMaxAttempts); err != nil {
		logger.Warn("storage metrics registration failed", "error", err)
	}

	if err := auth.SeedAdmin(ctx, db, cfg.AdminAPIKey, logger); err != nil {
		cleanup()
		return nil, fmt.Errorf("admin seed: %w", err)
	}

	jwtMgr, err := auth.NewJWTManager(cfg.JWTPrivateKeyPath, cfg.JWTPublicKeyPath, cfg.JWTExpiration)
	if err != nil {
		cleanup()
		return nil, fmt.Errorf("auth: %w", err)
	}

	templates := render.NewCachedStore(db, cfg.TemplateCacheTTL)
	renderer := render.New(templates)

	dispatcher, err := newDispatcher(cfg, o.dispatcher, logger)
	if err != nil {
		templates.Close()
		cleanup()
		return nil, err
	}
	dispatcher = notify.WithTimeout(dispatcher, cfg.ActionTimeout)

	engine := automation.New(db, renderer, dispatcher, logger, automation.Config{
		BaseURL:       cfg.BaseURL,
		ActionTimeout: cfg.ActionTimeout,
		Redelivery:    cfg.RedeliveryEnabled,
	})

	var redelivery *notify.RedeliveryWorker
	if cfg.RedeliveryEnabled {
		redelivery = notify.NewRedeliveryWorker(db, dispatcher, logger, notify.RedeliveryConfig{
			PollInterval: cfg.RedeliveryPollInterval,
			MaxAttempts:  cfg.RedeliveryMaxAttempts,
		})
		logger.Info("redelivery: enabled",
			"max_attempts", cfg.RedeliveryMaxAttempts, "poll_interval", cfg.RedeliveryPollInterval)
	} else {
		logger.Info("redelivery: disabled")
	}

	limiter, err := newLimiter(ctx, cfg, logger)
	if err != nil {
		templates.Close()
		cleanup()
		return nil, err
	}

	mcpSrv := mcp.New(db, engine, logger, version)

	srv := server.New(server.ServerConfig{
		DB:                  db,
		JWTMgr:              jwtMgr,
		Engine:              engine,
		Logger:              logger,
		Templates:           templates,
		Limiter:             limiter,
		MCPServer:           mcpSrv.MCPServer(),
		Port:                cfg.Port,
		ReadTimeout:         cfg.ReadTimeout,
		WriteTimeout:        cfg.WriteTimeout,
		Version:             version,
		MaxRequestBodyBytes: cfg.MaxRequestBodyBytes,
	})

	return &App{
		cfg:          cfg,
		db:           db,
		srv:          srv,
		templates:    templates,
		limiter:      limiter,
		redelivery:   redelivery,
		otelShutdown: otelShutdown,
		logger:       logger,
		version:      version,
	}, nil
}

// Run starts the background workers and the HTTP server, then blocks until
// ctx is cancelled or a fatal server error occurs. On return, Shutdown has
// already run; callers should not call it separately.
func (a *App) Run(ctx context.Context) error {
	if a.redelivery != nil {
		a.redelivery.Start(ctx)
	}
	go a.idempotencyCleanupLoop(ctx)

	errCh := make(chan error, 1)
	go func() {
		if err := a.srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	var runErr error
	select {
	case <-ctx.Done():
	case runErr = <-errCh:
	}

	if err := a.Shutdown(context.Background()); err != nil && runErr == nil {
		runErr = err
	}
	return runErr
}

// Shutdown stops accepting HTTP requests and drains in-flight triggers,
// then lets the redelivery worker finish its batch. It then closes the
// limiter, template cache, database pool and OTEL provider.
func (a *App) Shutdown(ctx context.Context) error {
	a.logger.Info("mentora shutting down")

	httpCtx, httpCancel := contextWithOptionalTimeout(ctx, shutdownPhaseTimeout)
	if err := a.srv.Shutdown(httpCtx); err != nil {
		a.logger.Error("http shutdown error", "error", err)
	}
	httpCancel()

	if a.redelivery != nil {
		drainCtx, drainCancel := contextWithOptionalTimeout(ctx, shutdownPhaseTimeout)
		a.redelivery.Drain(drainCtx)
		drainCancel()
	}

	if err := a.limiter.Close(); err != nil {
		a.logger.Warn("rate limiter close failed", "error", err)
	}
	a.templates.Close()
	a.db.Close()

	otelCtx, otelCancel := contextWithOptionalTimeout(ctx, shutdownPhaseTimeout)
	defer otelCancel()
	if err := a.otelShutdown(otelCtx); err != nil {
		a.logger.Warn("otel shutdown failed", "error", err)
	}

	a.logger.Info("mentora stopped")
	return nil
}

// Handler returns the root HTTP handler, for embedding and tests.
func (a *App) Handler() http.Handler {
	return a.srv.Handler()
}

func (a *App) idempotencyCleanupLoop(ctx context.Context) {
	if a.cfg.IdempotencyCleanupInterval <= 0 {
		return
	}
	ticker := time.NewTicker(a.cfg.IdempotencyCleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			opCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
			deleted, err := a.db.CleanupIdempotencyKeys(opCtx, a.cfg.IdempotencyCompletedTTL, a.cfg.IdempotencyAbandonedTTL)
			cancel()
			if err != nil {
				a.logger.Warn("idempotency cleanup failed", "error", err)
				continue
			}
			if deleted > 0 {
				a.logger.Info("idempotency cleanup deleted rows", "deleted", deleted)
			}
		}
	}
}

// newDispatcher picks the notification provider. An embedder's Dispatcher
// takes precedence over MENTORA_NOTIFY_PROVIDER.
func newDispatcher(cfg config.Config, custom Dispatcher, logger *slog.Logger) (notify.Dispatcher, error) {
	if custom != nil {
		logger.Info("notify provider: custom")
		return &dispatcherAdapter{d: custom}, nil
	}

	switch cfg.NotifyProvider {
	case config.ProviderSMTP:
		logger.Info("notify provider: smtp", "host", cfg.SMTPHost, "port", cfg.SMTPPort)
		return notify.NewSMTPDispatcher(notify.SMTPConfig{
			Host:     cfg.SMTPHost,
			Port:     cfg.SMTPPort,
			Username: cfg.SMTPUser,
			Password: cfg.SMTPPassword,
			From:     cfg.SMTPFrom,
		}), nil
	case config.ProviderWebhook:
		logger.Info("notify provider: webhook", "url", cfg.WebhookURL)
		return notify.NewWebhookDispatcher(cfg.WebhookURL, cfg.WebhookToken, cfg.SMTPFrom,
			&http.Client{Timeout: cfg.ActionTimeout}), nil
	case config.ProviderLog:
		logger.Warn("notify provider: log (messages are logged, not delivered)")
		return notify.NewLogDispatcher(logger), nil
	default:
		return nil, fmt.Errorf("notify: unknown provider %q", cfg.NotifyProvider)
	}
}

// newLimiter builds the trigger intake limiter. With REDIS_URL set, every
// instance shares one fixed window sized so that Burst requests spread over
// the window average out to RPS.
func newLimiter(ctx context.Context, cfg config.Config, logger *slog.Logger) (ratelimit.Limiter, error) {
	if !cfg.RateLimitEnabled {
		logger.Info("rate limiting: disabled")
		return ratelimit.NoopLimiter{}, nil
	}
	if cfg.RedisURL == "" {
		logger.Info("rate limiting: memory (in-process token bucket)",
			"rps", cfg.RateLimitRPS, "burst", cfg.RateLimitBurst)
		return ratelimit.NewMemoryLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst), nil
	}

	window := time.Duration(math.Ceil(float64(cfg.RateLimitBurst)/cfg.RateLimitRPS)) * time.Second
	rl, err := ratelimit.NewRedisLimiter(cfg.RedisURL, "mentora:rl", cfg.RateLimitBurst, window)
	if err != nil {
		return nil, fmt.Errorf("rate limiter: %w", err)
	}
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rl.Ping(pingCtx); err != nil {
		// The limiter fails open, so an unreachable Redis only degrades limiting.
		logger.Warn("rate limiting: redis unreachable at startup", "error", err)
	}
	logger.Info("rate limiting: redis (shared fixed window)",
		"limit", cfg.RateLimitBurst, "window", window)
	return rl, nil
}

func contextWithOptionalTimeout(parent context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout <= 0 {
		return context.WithCancel(parent)
	}
	return context.WithTimeout(parent, timeout)
}

// ── Adapters ─────────────────────────────────────────────────────────────────

// dispatcherAdapter wraps a public Dispatcher to satisfy notify.Dispatcher.
type dispatcherAdapter struct {
	d Dispatcher
}

func (a *dispatcherAdapter) Send(ctx context.Context, msg model.OutboundMessage) (model.DispatchResult, error) {
	res, err := a.d.Send(ctx, toPublicMessage(msg))
	if err != nil {
		return model.DispatchResult{}, err
	}
	return model.DispatchResult{ProviderMessageID: res.ProviderMessageID}, nil
}

func toPublicMessage(m model.OutboundMessage) Message {
	return Message{
		ExecutionID:  m.ExecutionID,
		ContactID:    m.ContactID,
		TemplateName: m.TemplateName,
		To:           m.To,
		Subject:      m.Subject,
		Body:         m.Body,
		Tags:         m.Tags,
	}
}
