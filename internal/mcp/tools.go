package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	mcplib "github.com/mark3labs/mcp-go/mcp"

	"github.com/mentora-platform/mentora/internal/automation"
	"github.com/mentora-platform/mentora/internal/ctxutil"
	"github.com/mentora-platform/mentora/internal/model"
)

const maxToolLimit = 100

func (s *Server) registerTools() {
	// mentora_process_trigger: fire a trigger event for one user.
	s.mcpServer.AddTool(
		mcplib.NewTool("mentora_process_trigger",
			mcplib.WithDescription(`Fire a trigger event and run every active rule bound to its type.

WHEN TO USE: To replay an event the platform missed, or to exercise a new
rule end to end. Matching rules create contacts, attach tags and send
messages for real.

Returns rules_processed, completed and failed counts plus the execution
ids. Inspect them with mentora_list_executions.`),
			mcplib.WithDestructiveHintAnnotation(false),
			mcplib.WithIdempotentHintAnnotation(false),
			mcplib.WithOpenWorldHintAnnotation(true),
			mcplib.WithString("trigger_type",
				mcplib.Description("Event name the rules are bound to, e.g. new_user_signup"),
				mcplib.Required(),
			),
			mcplib.WithString("user_id",
				mcplib.Description("Platform identifier of the user the event is about"),
				mcplib.Required(),
			),
			mcplib.WithString("email",
				mcplib.Description("User's email address; contacts are keyed by it"),
				mcplib.Required(),
			),
			mcplib.WithString("full_name",
				mcplib.Description("Optional display name; the first word becomes first_name"),
			),
			mcplib.WithObject("fields",
				mcplib.Description("Optional extra template variables as string values"),
			),
		),
		s.handleProcessTrigger,
	)

	// mentora_list_rules: rules in evaluation order.
	s.mcpServer.AddTool(
		mcplib.NewTool("mentora_list_rules",
			mcplib.WithDescription(`List automation rules with their ordered actions, in the order the engine evaluates them.`),
			mcplib.WithReadOnlyHintAnnotation(true),
			mcplib.WithIdempotentHintAnnotation(true),
			mcplib.WithOpenWorldHintAnnotation(false),
			mcplib.WithString("trigger_type",
				mcplib.Description("Optional: only rules bound to this trigger type"),
			),
			mcplib.WithNumber("limit",
				mcplib.Description("Maximum results to return"),
				mcplib.Min(1),
				mcplib.Max(maxToolLimit),
				mcplib.DefaultNumber(20),
			),
		),
		s.handleListRules,
	)

	// mentora_list_executions: recent executions, newest first.
	s.mcpServer.AddTool(
		mcplib.NewTool("mentora_list_executions",
			mcplib.WithDescription(`List rule executions, newest first, with each action's outcome.

A failed execution carries error_message. Skipped steps explain why in
their detail, e.g. a missing template.`),
			mcplib.WithReadOnlyHintAnnotation(true),
			mcplib.WithIdempotentHintAnnotation(true),
			mcplib.WithOpenWorldHintAnnotation(false),
			mcplib.WithString("rule_id",
				mcplib.Description("Optional: only executions of this rule (UUID)"),
			),
			mcplib.WithString("status",
				mcplib.Description("Optional: processing, completed or failed"),
				mcplib.Enum(string(model.ExecutionProcessing), string(model.ExecutionCompleted), string(model.ExecutionFailed)),
			),
			mcplib.WithNumber("limit",
				mcplib.Description("Maximum results to return"),
				mcplib.Min(1),
				mcplib.Max(maxToolLimit),
				mcplib.DefaultNumber(20),
			),
		),
		s.handleListExecutions,
	)
}

func (s *Server) handleProcessTrigger(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	fields, err := stringFields(request.GetArguments()["fields"])
	if err != nil {
		return errorResult(err.Error()), nil
	}

	ev := model.TriggerEvent{
		TriggerType: request.GetString("trigger_type", ""),
		Identity: model.Identity{
			ExternalID:  request.GetString("user_id", ""),
			Email:       request.GetString("email", ""),
			DisplayName: request.GetString("full_name", ""),
		},
		Fields: fields,
	}

	caller := ctxutil.ClientIDFromContext(ctx)
	summary, err := s.engine.Process(ctx, ev)
	if err != nil {
		if errors.Is(err, automation.ErrInvalidTrigger) {
			return errorResult(err.Error()), nil
		}
		s.logger.Error("mcp: process trigger failed", "error", err,
			"trigger_type", ev.TriggerType, "client_id", caller,
			"request_id", ctxutil.RequestIDFromContext(ctx))
		return errorResult(fmt.Sprintf("failed to process trigger: %v", err)), nil
	}
	s.logger.Info("mcp: trigger processed",
		"trigger_type", ev.TriggerType, "client_id", caller,
		"rules", summary.RulesProcessed, "failed", summary.Failed)
	return jsonResult(summary), nil
}

func (s *Server) handleListRules(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	limit := clampLimit(request.GetInt("limit", 20))

	rules, err := s.store.ListRules(ctx, request.GetString("trigger_type", ""), limit, 0)
	if err != nil {
		return errorResult(fmt.Sprintf("failed to list rules: %v", err)), nil
	}
	if rules == nil {
		rules = []model.Rule{}
	}
	return jsonResult(map[string]any{
		"rules": rules,
		"total": len(rules),
	}), nil
}

func (s *Server) handleListExecutions(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	f := model.ExecutionFilter{Limit: clampLimit(request.GetInt("limit", 20))}

	if v := request.GetString("rule_id", ""); v != "" {
		id, err := uuid.Parse(v)
		if err != nil {
			return errorResult(fmt.Sprintf("invalid rule_id: %s", v)), nil
		}
		f.RuleID = &id
	}
	if v := request.GetString("status", ""); v != "" {
		st := model.ExecutionStatus(v)
		if !st.Valid() {
			return errorResult(fmt.Sprintf("invalid status %q: must be processing, completed or failed", v)), nil
		}
		f.Status = &st
	}

	executions, err := s.store.ListExecutions(ctx, f)
	if err != nil {
		return errorResult(fmt.Sprintf("failed to list executions: %v", err)), nil
	}
	if executions == nil {
		executions = []model.Execution{}
	}
	return jsonResult(map[string]any{
		"executions": executions,
		"total":      len(executions),
	}), nil
}

// stringFields converts the fields argument to template variables. Numbers
// and booleans are formatted; nested values are rejected.
func stringFields(raw any) (map[string]string, error) {
	if raw == nil {
		return nil, nil
	}
	m, ok := raw.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("fields must be an object")
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		switch val := v.(type) {
		case string:
			out[k] = val
		case float64, bool:
			out[k] = fmt.Sprint(val)
		case nil:
		default:
			return nil, fmt.Errorf("fields.%s must be a string, number or boolean", k)
		}
	}
	return out, nil
}

func clampLimit(n int) int {
	if n < 1 {
		return 1
	}
	if n > maxToolLimit {
		return maxToolLimit
	}
	return n
}

func jsonResult(v any) *mcplib.CallToolResult {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return errorResult(fmt.Sprintf("failed to encode result: %v", err))
	}
	return &mcplib.CallToolResult{
		Content: []mcplib.Content{
			mcplib.TextContent{Type: "text", Text: string(data)},
		},
	}
}

func errorResult(msg string) *mcplib.CallToolResult {
	return &mcplib.CallToolResult{
		Content: []mcplib.Content{
			mcplib.TextContent{Type: "text", Text: msg},
		},
		IsError: true,
	}
}
