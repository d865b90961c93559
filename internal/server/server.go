package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/mentora-platform/mentora/internal/auth"
	"github.com/mentora-platform/mentora/internal/model"
	"github.com/mentora-platform/mentora/internal/ratelimit"
	"github.com/mentora-platform/mentora/internal/storage"
)

// Server is the Mentora HTTP server.
type Server struct {
	httpServer *http.Server
	handler    http.Handler
	logger     *slog.Logger
}

// Handler returns the root HTTP handler for use in tests.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// ServerConfig holds all dependencies and configuration for creating a Server.
// Optional fields (nil-safe): Templates, Limiter, MCPServer.
type ServerConfig struct {
	// Required dependencies.
	DB     *storage.DB
	JWTMgr *auth.JWTManager
	Engine TriggerProcessor
	Logger *slog.Logger

	// Optional dependencies (nil = disabled).
	Templates TemplateInvalidator
	Limiter   ratelimit.Limiter
	MCPServer *mcpserver.MCPServer

	// HTTP server settings.
	Port                int
	ReadTimeout         time.Duration
	WriteTimeout        time.Duration
	Version             string
	MaxRequestBodyBytes int64
}

// New creates a new HTTP server with all routes configured.
func New(cfg ServerConfig) *Server {
	h := NewHandlers(HandlersDeps{
		DB:                  cfg.DB,
		JWTMgr:              cfg.JWTMgr,
		Engine:              cfg.Engine,
		Templates:           cfg.Templates,
		Logger:              cfg.Logger,
		Version:             cfg.Version,
		MaxRequestBodyBytes: cfg.MaxRequestBodyBytes,
	})

	reqIDFunc := func(r *http.Request) string {
		return RequestIDFromContext(r.Context())
	}
	triggerRL := ratelimit.Middleware(cfg.Limiter, clientKeyFunc, reqIDFunc, time.Second, cfg.Logger)

	mux := http.NewServeMux()

	mux.HandleFunc("POST /auth/token", h.HandleAuthToken)

	// Trigger intake (service+, rate limited per client).
	serviceRole := requireRole(model.RoleService)
	mux.Handle("POST /v1/triggers", triggerRL(serviceRole(http.HandlerFunc(h.HandleProcessTrigger))))

	// Operator surface (admin-only, exempt from rate limits).
	adminOnly := requireRole(model.RoleAdmin)
	mux.Handle("POST /v1/clients", adminOnly(http.HandlerFunc(h.HandleCreateClient)))
	mux.Handle("POST /v1/rules", adminOnly(http.HandlerFunc(h.HandleCreateRule)))
	mux.Handle("GET /v1/rules", adminOnly(http.HandlerFunc(h.HandleListRules)))
	mux.Handle("GET /v1/rules/{id}", adminOnly(http.HandlerFunc(h.HandleGetRule)))
	mux.Handle("PATCH /v1/rules/{id}", adminOnly(http.HandlerFunc(h.HandleUpdateRule)))
	mux.Handle("GET /v1/templates", adminOnly(http.HandlerFunc(h.HandleListTemplates)))
	mux.Handle("GET /v1/templates/{name}", adminOnly(http.HandlerFunc(h.HandleGetTemplate)))
	mux.Handle("PUT /v1/templates/{name}", adminOnly(http.HandlerFunc(h.HandlePutTemplate)))
	mux.Handle("POST /v1/templates/{name}/preview", adminOnly(http.HandlerFunc(h.HandlePreviewTemplate)))
	mux.Handle("GET /v1/executions", adminOnly(http.HandlerFunc(h.HandleListExecutions)))
	mux.Handle("GET /v1/executions/{id}", adminOnly(http.HandlerFunc(h.HandleGetExecution)))
	mux.Handle("GET /v1/contacts/{id}", adminOnly(http.HandlerFunc(h.HandleGetContact)))

	// MCP StreamableHTTP transport (admin-only).
	if cfg.MCPServer != nil {
		mcpHTTP := mcpserver.NewStreamableHTTPServer(cfg.MCPServer)
		mux.Handle("/mcp", adminOnly(mcpHTTP))
	}

	mux.HandleFunc("GET /health", h.HandleHealth)

	// Middleware chain (outermost executes first):
	// request ID → security headers → tracing → logging → auth → recovery → handler.
	var handler = captureRoute(mux)
	handler = recoveryMiddleware(cfg.Logger, handler)
	handler = authMiddleware(cfg.JWTMgr, handler)
	handler = loggingMiddleware(cfg.Logger, handler)
	handler = tracingMiddleware(handler)
	handler = securityHeadersMiddleware(handler)
	handler = requestIDMiddleware(handler)

	return &Server{
		httpServer: &http.Server{
			Addr:         fmt.Sprintf(":%d", cfg.Port),
			Handler:      handler,
			ReadTimeout:  cfg.ReadTimeout,
			WriteTimeout: cfg.WriteTimeout,
		},
		handler: handler,
		logger:  cfg.Logger,
	}
}

// Start begins serving HTTP requests.
func (s *Server) Start() error {
	s.logger.Info("http server starting", "addr", s.httpServer.Addr)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("http server shutting down")
	return s.httpServer.Shutdown(ctx)
}
