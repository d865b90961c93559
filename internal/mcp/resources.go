package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"
	mcplib "github.com/mark3labs/mcp-go/mcp"
)

const (
	templatesURI         = "mentora://templates"
	executionURIPrefix   = "mentora://executions/"
	executionURITemplate = executionURIPrefix + "{id}"
)

func (s *Server) registerResources() {
	// mentora://templates: every message template.
	s.mcpServer.AddResource(
		mcplib.NewResource(
			templatesURI,
			"Message Templates",
			mcplib.WithResourceDescription("All message templates with their subject, body and declared variables"),
			mcplib.WithMIMEType("application/json"),
		),
		s.handleTemplates,
	)

	// mentora://executions/{id}: one execution with its message log.
	s.mcpServer.AddResourceTemplate(
		mcplib.NewResourceTemplate(
			executionURITemplate,
			"Execution",
			mcplib.WithTemplateDescription("A rule execution with its step outcomes and the messages it sent"),
			mcplib.WithTemplateMIMEType("application/json"),
		),
		s.handleExecution,
	)
}

func (s *Server) handleTemplates(ctx context.Context, request mcplib.ReadResourceRequest) ([]mcplib.ResourceContents, error) {
	templates, err := s.store.ListTemplates(ctx)
	if err != nil {
		return nil, fmt.Errorf("mcp: list templates: %w", err)
	}

	data, err := json.MarshalIndent(templates, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("mcp: marshal templates: %w", err)
	}

	return []mcplib.ResourceContents{
		mcplib.TextResourceContents{
			URI:      templatesURI,
			MIMEType: "application/json",
			Text:     string(data),
		},
	}, nil
}

func (s *Server) handleExecution(ctx context.Context, request mcplib.ReadResourceRequest) ([]mcplib.ResourceContents, error) {
	uri := request.Params.URI
	id, err := parseExecutionURI(uri)
	if err != nil {
		return nil, err
	}

	detail, err := s.store.GetExecution(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("mcp: get execution: %w", err)
	}

	data, err := json.MarshalIndent(detail, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("mcp: marshal execution: %w", err)
	}

	return []mcplib.ResourceContents{
		mcplib.TextResourceContents{
			URI:      uri,
			MIMEType: "application/json",
			Text:     string(data),
		},
	}, nil
}

// parseExecutionURI extracts the execution id from mentora://executions/{id}.
func parseExecutionURI(uri string) (uuid.UUID, error) {
	raw, ok := strings.CutPrefix(uri, executionURIPrefix)
	if !ok {
		return uuid.Nil, fmt.Errorf("mcp: invalid execution URI: %s", uri)
	}
	if raw == "" {
		return uuid.Nil, fmt.Errorf("mcp: empty execution id in URI: %s", uri)
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, fmt.Errorf("mcp: invalid execution id %q: %w", raw, err)
	}
	return id, nil
}
