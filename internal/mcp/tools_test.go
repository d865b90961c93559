package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/google/uuid"
	mcplib "github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mentora-platform/mentora/internal/automation"
	"github.com/mentora-platform/mentora/internal/model"
	"github.com/mentora-platform/mentora/internal/testutil"
)

type fakeStore struct {
	rules      []model.Rule
	executions []model.Execution
	templates  []model.MessageTemplate
	details    map[uuid.UUID]model.ExecutionDetail

	gotTrigger string
	gotLimit   int
	gotFilter  model.ExecutionFilter
}

func (f *fakeStore) ListRules(_ context.Context, triggerType string, limit, _ int) ([]model.Rule, error) {
	f.gotTrigger, f.gotLimit = triggerType, limit
	return f.rules, nil
}

func (f *fakeStore) ListExecutions(_ context.Context, filter model.ExecutionFilter) ([]model.Execution, error) {
	f.gotFilter = filter
	return f.executions, nil
}

func (f *fakeStore) GetExecution(_ context.Context, id uuid.UUID) (model.ExecutionDetail, error) {
	d, ok := f.details[id]
	if !ok {
		return model.ExecutionDetail{}, errors.New("not found")
	}
	return d, nil
}

func (f *fakeStore) ListTemplates(context.Context) ([]model.MessageTemplate, error) {
	return f.templates, nil
}

type fakeEngine struct {
	got     model.TriggerEvent
	summary model.Summary
	err     error
}

func (f *fakeEngine) Process(_ context.Context, ev model.TriggerEvent) (model.Summary, error) {
	f.got = ev
	if f.err != nil {
		return model.Summary{}, f.err
	}
	if err := ev.Validate(); err != nil {
		return model.Summary{}, fmt.Errorf("%w: %w", automation.ErrInvalidTrigger, err)
	}
	return f.summary, nil
}

func newTestServer(store *fakeStore, engine *fakeEngine) *Server {
	return New(store, engine, testutil.TestLogger(), "test")
}

func callRequest(name string, args map[string]any) mcplib.CallToolRequest {
	return mcplib.CallToolRequest{
		Params: mcplib.CallToolParams{Name: name, Arguments: args},
	}
}

// parseToolText extracts the first TextContent text from a CallToolResult.
func parseToolText(t *testing.T, result *mcplib.CallToolResult) string {
	t.Helper()
	for _, c := range result.Content {
		if tc, ok := c.(mcplib.TextContent); ok {
			return tc.Text
		}
	}
	t.Fatal("no TextContent found in tool result")
	return ""
}

func TestProcessTrigger(t *testing.T) {
	execID := uuid.New()
	engine := &fakeEngine{summary: model.Summary{RulesProcessed: 1, Completed: 1, ExecutionIDs: []uuid.UUID{execID}}}
	s := newTestServer(&fakeStore{}, engine)

	result, err := s.handleProcessTrigger(context.Background(), callRequest("mentora_process_trigger", map[string]any{
		"trigger_type": "new_user_signup",
		"user_id":      "u-1",
		"email":        "ada@example.com",
		"full_name":    "Ada Lovelace",
		"fields":       map[string]any{"plan": "pro", "seats": float64(3), "trial": true},
	}))
	require.NoError(t, err)
	require.False(t, result.IsError, parseToolText(t, result))

	var summary model.Summary
	require.NoError(t, json.Unmarshal([]byte(parseToolText(t, result)), &summary))
	assert.Equal(t, 1, summary.Completed)
	assert.Equal(t, []uuid.UUID{execID}, summary.ExecutionIDs)

	assert.Equal(t, "new_user_signup", engine.got.TriggerType)
	assert.Equal(t, model.Identity{ExternalID: "u-1", Email: "ada@example.com", DisplayName: "Ada Lovelace"}, engine.got.Identity)
	assert.Equal(t, map[string]string{"plan": "pro", "seats": "3", "trial": "true"}, engine.got.Fields)
}

func TestProcessTrigger_InvalidEvent(t *testing.T) {
	s := newTestServer(&fakeStore{}, &fakeEngine{})

	result, err := s.handleProcessTrigger(context.Background(), callRequest("mentora_process_trigger", map[string]any{
		"trigger_type": "new_user_signup",
		"user_id":      "u-1",
	}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
	assert.Contains(t, parseToolText(t, result), "user_data.email")
}

func TestProcessTrigger_NestedFieldRejected(t *testing.T) {
	engine := &fakeEngine{}
	s := newTestServer(&fakeStore{}, engine)

	result, err := s.handleProcessTrigger(context.Background(), callRequest("mentora_process_trigger", map[string]any{
		"trigger_type": "t",
		"user_id":      "u-1",
		"email":        "a@b.c",
		"fields":       map[string]any{"nested": map[string]any{"a": 1}},
	}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
	assert.Contains(t, parseToolText(t, result), "fields.nested")
	assert.Empty(t, engine.got.TriggerType, "engine must not run")
}

func TestProcessTrigger_EngineError(t *testing.T) {
	s := newTestServer(&fakeStore{}, &fakeEngine{err: errors.New("db down")})

	result, err := s.handleProcessTrigger(context.Background(), callRequest("mentora_process_trigger", map[string]any{
		"trigger_type": "t", "user_id": "u", "email": "a@b.c",
	}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
	assert.Contains(t, parseToolText(t, result), "db down")
}

func TestListRules(t *testing.T) {
	store := &fakeStore{rules: []model.Rule{{ID: uuid.New(), TriggerType: "signup", Name: "welcome", IsActive: true}}}
	s := newTestServer(store, &fakeEngine{})

	result, err := s.handleListRules(context.Background(), callRequest("mentora_list_rules", map[string]any{
		"trigger_type": "signup",
		"limit":        float64(500),
	}))
	require.NoError(t, err)
	require.False(t, result.IsError)

	assert.Equal(t, "signup", store.gotTrigger)
	assert.Equal(t, maxToolLimit, store.gotLimit)

	var out struct {
		Rules []model.Rule `json:"rules"`
		Total int          `json:"total"`
	}
	require.NoError(t, json.Unmarshal([]byte(parseToolText(t, result)), &out))
	assert.Equal(t, 1, out.Total)
	assert.Equal(t, "welcome", out.Rules[0].Name)
}

func TestListExecutions_Filters(t *testing.T) {
	store := &fakeStore{}
	s := newTestServer(store, &fakeEngine{})
	ruleID := uuid.New()

	result, err := s.handleListExecutions(context.Background(), callRequest("mentora_list_executions", map[string]any{
		"rule_id": ruleID.String(),
		"status":  "failed",
	}))
	require.NoError(t, err)
	require.False(t, result.IsError)

	require.NotNil(t, store.gotFilter.RuleID)
	assert.Equal(t, ruleID, *store.gotFilter.RuleID)
	require.NotNil(t, store.gotFilter.Status)
	assert.Equal(t, model.ExecutionFailed, *store.gotFilter.Status)
	assert.Equal(t, 20, store.gotFilter.Limit)
	assert.Contains(t, parseToolText(t, result), `"executions": []`)
}

func TestListExecutions_BadArguments(t *testing.T) {
	s := newTestServer(&fakeStore{}, &fakeEngine{})

	tests := []struct {
		name string
		args map[string]any
		want string
	}{
		{"bad rule id", map[string]any{"rule_id": "nope"}, "invalid rule_id"},
		{"bad status", map[string]any{"status": "done"}, "invalid status"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := s.handleListExecutions(context.Background(), callRequest("mentora_list_executions", tt.args))
			require.NoError(t, err)
			assert.True(t, result.IsError)
			assert.Contains(t, parseToolText(t, result), tt.want)
		})
	}
}

func TestParseExecutionURI(t *testing.T) {
	id := uuid.New()

	got, err := parseExecutionURI("mentora://executions/" + id.String())
	require.NoError(t, err)
	assert.Equal(t, id, got)

	for _, uri := range []string{"", "mentora://executions/", "mentora://rules/" + id.String(), "mentora://executions/xyz"} {
		_, err := parseExecutionURI(uri)
		assert.Error(t, err, uri)
	}
}

func TestExecutionResource(t *testing.T) {
	id := uuid.New()
	store := &fakeStore{details: map[uuid.UUID]model.ExecutionDetail{
		id: {Execution: model.Execution{ID: id, Status: model.ExecutionCompleted}},
	}}
	s := newTestServer(store, &fakeEngine{})

	req := mcplib.ReadResourceRequest{}
	req.Params.URI = "mentora://executions/" + id.String()
	contents, err := s.handleExecution(context.Background(), req)
	require.NoError(t, err)
	require.Len(t, contents, 1)

	text, ok := contents[0].(mcplib.TextResourceContents)
	require.True(t, ok)
	assert.Equal(t, req.Params.URI, text.URI)
	assert.Contains(t, text.Text, `"status": "completed"`)
}
