// Package mcp implements the Model Context Protocol server for Mentora.
//
// It exposes trigger submission and read access to rules and executions as
// MCP tools and resources, so operators can drive the engine from
// MCP-compatible tooling. The HTTP layer mounts it behind admin auth.
package mcp

import (
	"context"
	"log/slog"

	"github.com/google/uuid"
	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/mentora-platform/mentora/internal/model"
)

// Store is the read surface the tools and resources use. *storage.DB
// satisfies it.
type Store interface {
	ListRules(ctx context.Context, triggerType string, limit, offset int) ([]model.Rule, error)
	ListExecutions(ctx context.Context, f model.ExecutionFilter) ([]model.Execution, error)
	GetExecution(ctx context.Context, id uuid.UUID) (model.ExecutionDetail, error)
	ListTemplates(ctx context.Context) ([]model.MessageTemplate, error)
}

// TriggerProcessor runs the rules for a trigger event.
type TriggerProcessor interface {
	Process(ctx context.Context, ev model.TriggerEvent) (model.Summary, error)
}

// Server wraps the MCP server with Mentora's engine and storage.
type Server struct {
	mcpServer *mcpserver.MCPServer
	store     Store
	engine    TriggerProcessor
	logger    *slog.Logger
}

// New creates and configures a new MCP server with all resources and tools.
func New(store Store, engine TriggerProcessor, logger *slog.Logger, version string) *Server {
	s := &Server{
		store:  store,
		engine: engine,
		logger: logger,
	}

	s.mcpServer = mcpserver.NewMCPServer(
		"mentora",
		version,
		mcpserver.WithResourceCapabilities(false, true),
		mcpserver.WithToolCapabilities(true),
		mcpserver.WithInstructions(`Mentora runs automation rules when platform events happen.

Use mentora_process_trigger to fire an event for a user, then
mentora_list_executions to inspect what each matching rule did.
mentora_list_rules shows which rules exist for a trigger type.`),
	)

	s.registerResources()
	s.registerTools()

	return s
}

// MCPServer returns the underlying mcp-go server for transport setup.
func (s *Server) MCPServer() *mcpserver.MCPServer {
	return s.mcpServer
}
