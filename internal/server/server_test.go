package server_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	mcpclient "github.com/mark3labs/mcp-go/client"
	mcptransport "github.com/mark3labs/mcp-go/client/transport"
	mcplib "github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mentora-platform/mentora/internal/auth"
	"github.com/mentora-platform/mentora/internal/automation"
	"github.com/mentora-platform/mentora/internal/mcp"
	"github.com/mentora-platform/mentora/internal/model"
	"github.com/mentora-platform/mentora/internal/ratelimit"
	"github.com/mentora-platform/mentora/internal/render"
	"github.com/mentora-platform/mentora/internal/server"
	"github.com/mentora-platform/mentora/internal/testutil"
)

var (
	testSrv      *httptest.Server
	outbox       = &recordingDispatcher{}
	adminToken   string
	serviceToken string
)

type recordingDispatcher struct {
	mu   sync.Mutex
	sent []model.OutboundMessage
}

func (d *recordingDispatcher) Send(_ context.Context, msg model.OutboundMessage) (model.DispatchResult, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.sent = append(d.sent, msg)
	return model.DispatchResult{ProviderMessageID: fmt.Sprintf("msg-%d", len(d.sent))}, nil
}

func (d *recordingDispatcher) to(email string) []model.OutboundMessage {
	d.mu.Lock()
	defer d.mu.Unlock()
	var out []model.OutboundMessage
	for _, m := range d.sent {
		if m.To == email {
			out = append(out, m)
		}
	}
	return out
}

func TestMain(m *testing.M) {
	pg := testutil.MustStartPostgres()
	logger := testutil.TestLogger()
	db := pg.MustNewDB(logger)
	ctx := context.Background()

	if err := auth.SeedAdmin(ctx, db, "test-admin-key", logger); err != nil {
		fmt.Fprintf(os.Stderr, "seed admin: %v\n", err)
		os.Exit(1)
	}

	jwtMgr, err := auth.NewJWTManager("", "", time.Hour)
	if err != nil {
		fmt.Fprintf(os.Stderr, "jwt manager: %v\n", err)
		os.Exit(1)
	}

	templates := render.NewCachedStore(db, time.Hour)
	engine := automation.New(db, render.New(templates), outbox, logger, automation.Config{
		BaseURL:       "https://app.example.com",
		ActionTimeout: 5 * time.Second,
	})
	mcpSrv := mcp.New(db, engine, logger, "test")

	srv := server.New(server.ServerConfig{
		DB:                  db,
		JWTMgr:              jwtMgr,
		Engine:              engine,
		Logger:              logger,
		Templates:           templates,
		Limiter:             ratelimit.NoopLimiter{},
		MCPServer:           mcpSrv.MCPServer(),
		Version:             "test",
		MaxRequestBodyBytes: 1 << 20,
	})
	testSrv = httptest.NewServer(srv.Handler())

	adminToken = getToken(testSrv.URL, auth.AdminClientID, "test-admin-key")
	createClient(testSrv.URL, adminToken, "billing-service", "service-key")
	serviceToken = getToken(testSrv.URL, "billing-service", "service-key")

	code := m.Run()

	testSrv.Close()
	templates.Close()
	db.Close()
	pg.Terminate()
	os.Exit(code)
}

func getToken(baseURL, clientID, apiKey string) string {
	body, _ := json.Marshal(model.AuthTokenRequest{ClientID: clientID, APIKey: apiKey})
	resp, err := http.Post(baseURL+"/auth/token", "application/json", bytes.NewReader(body))
	if err != nil {
		panic(fmt.Sprintf("getToken: request failed: %v", err))
	}
	defer func() { _ = resp.Body.Close() }()
	data, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		panic(fmt.Sprintf("getToken: status %d, body: %s", resp.StatusCode, string(data)))
	}
	var result struct {
		Data model.AuthTokenResponse `json:"data"`
	}
	if err := json.Unmarshal(data, &result); err != nil || result.Data.Token == "" {
		panic(fmt.Sprintf("getToken: bad body: %s", string(data)))
	}
	return result.Data.Token
}

func createClient(baseURL, token, clientID, apiKey string) {
	resp, err := authedRequest(http.MethodPost, baseURL+"/v1/clients", token, model.CreateClientRequest{
		ClientID: clientID, Name: clientID, Role: model.RoleService, APIKey: apiKey,
	}, nil)
	if err != nil {
		panic(err)
	}
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		panic(fmt.Sprintf("createClient: status %d", resp.StatusCode))
	}
}

func authedRequest(method, url, token string, body any, headers map[string]string) (*http.Response, error) {
	var bodyReader io.Reader
	if body != nil {
		data, _ := json.Marshal(body)
		bodyReader = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, url, bodyReader)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	return http.DefaultClient.Do(req)
}

// call performs a request and decodes the data envelope into T.
func call[T any](t *testing.T, method, path, token string, body any, wantStatus int) T {
	t.Helper()
	resp, err := authedRequest(method, testSrv.URL+path, token, body, nil)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	data, _ := io.ReadAll(resp.Body)
	require.Equal(t, wantStatus, resp.StatusCode, string(data))

	var out struct {
		Data T `json:"data"`
	}
	require.NoError(t, json.Unmarshal(data, &out), string(data))
	return out.Data
}

func uniqueTrigger(prefix string) string {
	return prefix + "-" + uuid.NewString()[:8]
}

func uniqueEmail() string {
	return "user-" + uuid.NewString()[:8] + "@example.com"
}

func putTemplate(t *testing.T, name, subject, body string) {
	t.Helper()
	call[model.MessageTemplate](t, http.MethodPut, "/v1/templates/"+name, adminToken,
		model.PutTemplateRequest{Subject: subject, Body: body}, http.StatusOK)
}

func createRule(t *testing.T, trigger string, actions ...model.ActionInput) model.Rule {
	t.Helper()
	return call[model.Rule](t, http.MethodPost, "/v1/rules", adminToken, model.CreateRuleRequest{
		TriggerType: trigger,
		Name:        "rule for " + trigger,
		Actions:     actions,
	}, http.StatusCreated)
}

func trigger(trigger, email, name string) model.ProcessTriggerRequest {
	return model.ProcessTriggerRequest{
		TriggerType: trigger,
		Identity:    model.Identity{ExternalID: "u-" + email, Email: email, DisplayName: name},
	}
}

func TestHealthEndpoint(t *testing.T) {
	resp, err := http.Get(testSrv.URL + "/health")
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var result struct {
		Data model.HealthResponse `json:"data"`
	}
	data, _ := io.ReadAll(resp.Body)
	require.NoError(t, json.Unmarshal(data, &result))
	assert.Equal(t, "healthy", result.Data.Status)
	assert.Equal(t, "connected", result.Data.Postgres)
	assert.Equal(t, "test", result.Data.Version)
}

func TestAuthFlow(t *testing.T) {
	assert.NotEmpty(t, getToken(testSrv.URL, auth.AdminClientID, "test-admin-key"))

	for _, req := range []model.AuthTokenRequest{
		{ClientID: auth.AdminClientID, APIKey: "wrong"},
		{ClientID: "nobody", APIKey: "test-admin-key"},
	} {
		body, _ := json.Marshal(req)
		resp, err := http.Post(testSrv.URL+"/auth/token", "application/json", bytes.NewReader(body))
		require.NoError(t, err)
		_ = resp.Body.Close()
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode, req.ClientID)
	}
}

func TestUnauthenticatedAccess(t *testing.T) {
	resp, err := http.Get(testSrv.URL + "/v1/rules")
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestServiceClientCannotManage(t *testing.T) {
	for _, path := range []string{"/v1/rules", "/v1/templates", "/v1/executions"} {
		resp, err := authedRequest(http.MethodGet, testSrv.URL+path, serviceToken, nil, nil)
		require.NoError(t, err)
		_ = resp.Body.Close()
		assert.Equal(t, http.StatusForbidden, resp.StatusCode, path)
	}
}

func TestCreateClient_Duplicate(t *testing.T) {
	resp, err := authedRequest(http.MethodPost, testSrv.URL+"/v1/clients", adminToken, model.CreateClientRequest{
		ClientID: "billing-service", Name: "dup", Role: model.RoleService, APIKey: "k",
	}, nil)
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestTriggerEndToEnd(t *testing.T) {
	tmpl := "welcome-" + uuid.NewString()[:8]
	putTemplate(t, tmpl, "Welcome {{first_name}}", "Hi {{ full_name }}, start at {{dashboard_url}}. Plan: {{plan}}")

	trig := uniqueTrigger("signup")
	rule := createRule(t, trig,
		model.ActionInput{Order: 1, Type: "create_contact"},
		model.ActionInput{Order: 2, Type: "add_tag", Config: json.RawMessage(`{"tag_name":"new-user"}`)},
		model.ActionInput{Order: 3, Type: "send_message", Config: json.RawMessage(`{"template_name":"` + tmpl + `"}`)},
	)

	email := uniqueEmail()
	ev := trigger(trig, email, "Ada King Lovelace")
	ev.Fields = map[string]string{"plan": "pro"}
	summary := call[model.Summary](t, http.MethodPost, "/v1/triggers", serviceToken, ev, http.StatusOK)
	assert.Equal(t, 1, summary.RulesProcessed)
	assert.Equal(t, 1, summary.Completed)
	assert.Equal(t, 0, summary.Failed)
	require.Len(t, summary.ExecutionIDs, 1)

	sent := outbox.to(email)
	require.Len(t, sent, 1)
	assert.Equal(t, "Welcome Ada", sent[0].Subject)
	assert.Equal(t, "Hi Ada King Lovelace, start at https://app.example.com/dashboard. Plan: pro", sent[0].Body)

	detail := call[model.ExecutionDetail](t, http.MethodGet, "/v1/executions/"+summary.ExecutionIDs[0].String(), adminToken, nil, http.StatusOK)
	assert.Equal(t, model.ExecutionCompleted, detail.Status)
	assert.Equal(t, rule.ID, detail.RuleID)
	require.Len(t, detail.Steps, 3)
	require.Len(t, detail.Messages, 1)
	assert.Equal(t, model.MessageSent, detail.Messages[0].Status)
	require.NotNil(t, detail.ContactID)

	contact := call[model.Contact](t, http.MethodGet, "/v1/contacts/"+detail.ContactID.String(), adminToken, nil, http.StatusOK)
	assert.Equal(t, email, contact.Email)
	assert.Equal(t, "Ada", contact.FirstName)
	assert.Equal(t, "King Lovelace", contact.LastName)
	assert.Equal(t, []string{"new-user"}, contact.Tags)

	// A second trigger reuses the contact and leaves the tag set unchanged.
	summary2 := call[model.Summary](t, http.MethodPost, "/v1/triggers", serviceToken, ev, http.StatusOK)
	assert.Equal(t, 1, summary2.Completed)
	detail2 := call[model.ExecutionDetail](t, http.MethodGet, "/v1/executions/"+summary2.ExecutionIDs[0].String(), adminToken, nil, http.StatusOK)
	assert.Equal(t, *detail.ContactID, *detail2.ContactID)
	contact = call[model.Contact](t, http.MethodGet, "/v1/contacts/"+detail.ContactID.String(), adminToken, nil, http.StatusOK)
	assert.Equal(t, []string{"new-user"}, contact.Tags)
}

func TestTrigger_NoMatchingRules(t *testing.T) {
	summary := call[model.Summary](t, http.MethodPost, "/v1/triggers", serviceToken,
		trigger(uniqueTrigger("nothing"), uniqueEmail(), ""), http.StatusOK)
	assert.Equal(t, 0, summary.RulesProcessed)
	assert.Empty(t, summary.ExecutionIDs)
}

func TestTrigger_MissingTemplateStillCompletes(t *testing.T) {
	trig := uniqueTrigger("missing-tmpl")
	createRule(t, trig,
		model.ActionInput{Order: 1, Type: "create_contact"},
		model.ActionInput{Order: 2, Type: "send_message", Config: json.RawMessage(`{"template_name":"does-not-exist"}`)},
	)
	email := uniqueEmail()
	summary := call[model.Summary](t, http.MethodPost, "/v1/triggers", serviceToken, trigger(trig, email, "Bo"), http.StatusOK)
	assert.Equal(t, 1, summary.Completed)
	assert.Empty(t, outbox.to(email))

	detail := call[model.ExecutionDetail](t, http.MethodGet, "/v1/executions/"+summary.ExecutionIDs[0].String(), adminToken, nil, http.StatusOK)
	require.Len(t, detail.Steps, 2)
	assert.Equal(t, model.StepSkipped, detail.Steps[1].Status)
	assert.Empty(t, detail.Messages)
}

func TestTrigger_Validation(t *testing.T) {
	tests := []struct {
		name string
		body any
	}{
		{"missing trigger type", model.ProcessTriggerRequest{Identity: model.Identity{ExternalID: "u", Email: "a@b.c"}}},
		{"missing email", model.ProcessTriggerRequest{TriggerType: "t", Identity: model.Identity{ExternalID: "u"}}},
		{"missing user id", model.ProcessTriggerRequest{TriggerType: "t", Identity: model.Identity{Email: "a@b.c"}}},
		{"unknown field", map[string]any{"trigger_type": "t", "user_data": map[string]any{"id": "u", "email": "a@b.c"}, "extra": 1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, err := authedRequest(http.MethodPost, testSrv.URL+"/v1/triggers", serviceToken, tt.body, nil)
			require.NoError(t, err)
			_ = resp.Body.Close()
			assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
		})
	}
}

func TestTrigger_IdempotencyReplay(t *testing.T) {
	tmpl := "idem-" + uuid.NewString()[:8]
	putTemplate(t, tmpl, "Hello", "Body")
	trig := uniqueTrigger("idem")
	createRule(t, trig,
		model.ActionInput{Order: 1, Type: "create_contact"},
		model.ActionInput{Order: 2, Type: "send_message", Config: json.RawMessage(`{"template_name":"` + tmpl + `"}`)},
	)

	email := uniqueEmail()
	ev := trigger(trig, email, "")
	key := map[string]string{"Idempotency-Key": "idem-" + uuid.NewString()}

	post := func(body any) (*http.Response, model.Summary) {
		resp, err := authedRequest(http.MethodPost, testSrv.URL+"/v1/triggers", serviceToken, body, key)
		require.NoError(t, err)
		defer func() { _ = resp.Body.Close() }()
		var out struct {
			Data model.Summary `json:"data"`
		}
		data, _ := io.ReadAll(resp.Body)
		_ = json.Unmarshal(data, &out)
		return resp, out.Data
	}

	first, s1 := post(ev)
	require.Equal(t, http.StatusOK, first.StatusCode)
	assert.Empty(t, first.Header.Get("Idempotent-Replayed"))

	second, s2 := post(ev)
	require.Equal(t, http.StatusOK, second.StatusCode)
	assert.Equal(t, "true", second.Header.Get("Idempotent-Replayed"))
	assert.Equal(t, s1.ExecutionIDs, s2.ExecutionIDs)
	assert.Len(t, outbox.to(email), 1, "replay must not resend")

	other := ev
	other.Identity.Email = uniqueEmail()
	third, _ := post(other)
	assert.Equal(t, http.StatusUnprocessableEntity, third.StatusCode)
}

func TestRulesCRUD(t *testing.T) {
	trig := uniqueTrigger("crud")
	rule := createRule(t, trig, model.ActionInput{Order: 1, Type: "create_contact"})
	assert.True(t, rule.IsActive)

	got := call[model.Rule](t, http.MethodGet, "/v1/rules/"+rule.ID.String(), adminToken, nil, http.StatusOK)
	assert.Equal(t, rule.Name, got.Name)
	require.Len(t, got.Actions, 1)

	inactive := false
	updated := call[model.Rule](t, http.MethodPatch, "/v1/rules/"+rule.ID.String(), adminToken,
		model.UpdateRuleRequest{IsActive: &inactive}, http.StatusOK)
	assert.False(t, updated.IsActive)

	// Inactive rules do not fire.
	summary := call[model.Summary](t, http.MethodPost, "/v1/triggers", serviceToken, trigger(trig, uniqueEmail(), ""), http.StatusOK)
	assert.Equal(t, 0, summary.RulesProcessed)

	list := call[[]model.Rule](t, http.MethodGet, "/v1/rules?trigger_type="+trig, adminToken, nil, http.StatusOK)
	require.Len(t, list, 1)
	assert.Equal(t, rule.ID, list[0].ID)

	call[any](t, http.MethodGet, "/v1/rules/"+uuid.NewString(), adminToken, nil, http.StatusNotFound)
	call[any](t, http.MethodGet, "/v1/rules/not-a-uuid", adminToken, nil, http.StatusBadRequest)
	call[any](t, http.MethodPatch, "/v1/rules/"+rule.ID.String(), adminToken, map[string]any{}, http.StatusBadRequest)
}

func TestCreateRule_Invalid(t *testing.T) {
	tests := []struct {
		name string
		req  model.CreateRuleRequest
	}{
		{"no actions", model.CreateRuleRequest{TriggerType: "t", Name: "n"}},
		{"unknown action", model.CreateRuleRequest{TriggerType: "t", Name: "n",
			Actions: []model.ActionInput{{Order: 1, Type: "launch_rocket"}}}},
		{"duplicate order", model.CreateRuleRequest{TriggerType: "t", Name: "n",
			Actions: []model.ActionInput{{Order: 1, Type: "create_contact"}, {Order: 1, Type: "create_contact"}}}},
		{"tag without name", model.CreateRuleRequest{TriggerType: "t", Name: "n",
			Actions: []model.ActionInput{{Order: 1, Type: "add_tag", Config: json.RawMessage(`{}`)}}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			call[any](t, http.MethodPost, "/v1/rules", adminToken, tt.req, http.StatusBadRequest)
		})
	}
}

func TestTemplates(t *testing.T) {
	name := "tmpl-" + uuid.NewString()[:8]
	putTemplate(t, name, "Hi {{first_name}}", "Your plan is {{plan}}")

	got := call[model.MessageTemplate](t, http.MethodGet, "/v1/templates/"+name, adminToken, nil, http.StatusOK)
	assert.Equal(t, "Hi {{first_name}}", got.Subject)

	all := call[[]model.MessageTemplate](t, http.MethodGet, "/v1/templates", adminToken, nil, http.StatusOK)
	var found bool
	for _, tmpl := range all {
		found = found || tmpl.Name == name
	}
	assert.True(t, found)

	preview := call[model.RenderedMessage](t, http.MethodPost, "/v1/templates/"+name+"/preview", adminToken,
		model.PreviewTemplateRequest{Variables: map[string]string{"first_name": "Ada"}}, http.StatusOK)
	assert.Equal(t, "Hi Ada", preview.Subject)
	assert.Equal(t, "Your plan is {{plan}}", preview.Body)
	assert.Equal(t, []string{"plan"}, preview.Missing)

	call[any](t, http.MethodGet, "/v1/templates/missing-"+name, adminToken, nil, http.StatusNotFound)
	call[any](t, http.MethodPut, "/v1/templates/"+name, adminToken,
		model.PutTemplateRequest{Subject: "line\nbreak", Body: "b"}, http.StatusBadRequest)
}

func TestTemplateUpdateInvalidatesCache(t *testing.T) {
	tmpl := "cache-" + uuid.NewString()[:8]
	putTemplate(t, tmpl, "Subject", "version one")
	trig := uniqueTrigger("cache")
	createRule(t, trig,
		model.ActionInput{Order: 1, Type: "create_contact"},
		model.ActionInput{Order: 2, Type: "send_message", Config: json.RawMessage(`{"template_name":"` + tmpl + `"}`)},
	)

	email := uniqueEmail()
	call[model.Summary](t, http.MethodPost, "/v1/triggers", serviceToken, trigger(trig, email, ""), http.StatusOK)
	putTemplate(t, tmpl, "Subject", "version two")
	call[model.Summary](t, http.MethodPost, "/v1/triggers", serviceToken, trigger(trig, email, ""), http.StatusOK)

	sent := outbox.to(email)
	require.Len(t, sent, 2)
	assert.Equal(t, "version one", sent[0].Body)
	assert.Equal(t, "version two", sent[1].Body)
}

func TestListExecutions(t *testing.T) {
	trig := uniqueTrigger("list")
	rule := createRule(t, trig, model.ActionInput{Order: 1, Type: "create_contact"})
	for range 3 {
		call[model.Summary](t, http.MethodPost, "/v1/triggers", serviceToken, trigger(trig, uniqueEmail(), ""), http.StatusOK)
	}

	resp, err := authedRequest(http.MethodGet,
		testSrv.URL+"/v1/executions?status=completed&limit=2&rule_id="+rule.ID.String(), adminToken, nil, nil)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var page struct {
		Data    []model.Execution `json:"data"`
		HasMore bool              `json:"has_more"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&page))
	assert.Len(t, page.Data, 2)
	assert.True(t, page.HasMore)
	for _, e := range page.Data {
		assert.Equal(t, rule.ID, e.RuleID)
	}

	call[any](t, http.MethodGet, "/v1/executions?status=done", adminToken, nil, http.StatusBadRequest)
	call[any](t, http.MethodGet, "/v1/executions/"+uuid.NewString(), adminToken, nil, http.StatusNotFound)
	call[any](t, http.MethodGet, "/v1/contacts/"+uuid.NewString(), adminToken, nil, http.StatusNotFound)
}

// newMCPClient connects to the test server's /mcp endpoint with the given
// bearer token.
func newMCPClient(t *testing.T, token string) *mcpclient.Client {
	t.Helper()
	c, err := mcpclient.NewStreamableHttpClient(
		testSrv.URL+"/mcp",
		mcptransport.WithHTTPHeaders(map[string]string{
			"Authorization": "Bearer " + token,
		}),
	)
	require.NoError(t, err)
	return c
}

func initializeMCP(ctx context.Context, c *mcpclient.Client) error {
	_, err := c.Initialize(ctx, mcplib.InitializeRequest{
		Params: mcplib.InitializeParams{
			ClientInfo: mcplib.Implementation{Name: "test-client", Version: "1.0"},
		},
	})
	return err
}

func TestMCPTools(t *testing.T) {
	c := newMCPClient(t, adminToken)
	defer func() { _ = c.Close() }()
	ctx := context.Background()
	require.NoError(t, initializeMCP(ctx, c))

	tools, err := c.ListTools(ctx, mcplib.ListToolsRequest{})
	require.NoError(t, err)
	var names []string
	for _, tool := range tools.Tools {
		names = append(names, tool.Name)
	}
	assert.ElementsMatch(t, []string{"mentora_process_trigger", "mentora_list_rules", "mentora_list_executions"}, names)

	trig := uniqueTrigger("mcp")
	createRule(t, trig, model.ActionInput{Order: 1, Type: "create_contact"})

	result, err := c.CallTool(ctx, mcplib.CallToolRequest{
		Params: mcplib.CallToolParams{
			Name: "mentora_process_trigger",
			Arguments: map[string]any{
				"trigger_type": trig,
				"user_id":      "mcp-user",
				"email":        uniqueEmail(),
			},
		},
	})
	require.NoError(t, err)
	require.False(t, result.IsError)
	text, ok := result.Content[0].(mcplib.TextContent)
	require.True(t, ok)
	assert.True(t, strings.Contains(text.Text, `"completed": 1`), text.Text)
}

func TestMCPRequiresAdmin(t *testing.T) {
	c := newMCPClient(t, serviceToken)
	defer func() { _ = c.Close() }()
	assert.Error(t, initializeMCP(context.Background(), c))
}
