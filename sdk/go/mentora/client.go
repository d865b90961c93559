package mentora

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Config holds the settings needed to construct a Client.
type Config struct {
	// BaseURL is the root URL of the Mentora server (e.g. "http://localhost:8080").
	BaseURL string

	// ClientID identifies the calling service.
	ClientID string

	// APIKey is the secret used to obtain a JWT token.
	APIKey string

	// HTTPClient is an optional custom HTTP client. If nil, a default client
	// with a 30-second timeout is used.
	HTTPClient *http.Client

	// Timeout applies to individual API requests. Defaults to 30 seconds.
	Timeout time.Duration
}

// Client is an HTTP client for the Mentora automation API.
// All methods are safe for concurrent use.
type Client struct {
	baseURL  string
	client   *http.Client
	tokenMgr *tokenManager
}

// NewClient creates a Client from the given configuration.
// Returns an error if BaseURL, ClientID, or APIKey is empty.
func NewClient(cfg Config) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("mentora: BaseURL is required")
	}
	if cfg.ClientID == "" {
		return nil, fmt.Errorf("mentora: ClientID is required")
	}
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("mentora: APIKey is required")
	}

	baseURL := strings.TrimRight(cfg.BaseURL, "/")

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout == 0 {
			timeout = 30 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}

	return &Client{
		baseURL:  baseURL,
		client:   httpClient,
		tokenMgr: newTokenManager(baseURL, cfg.ClientID, cfg.APIKey, httpClient),
	}, nil
}

// Trigger fires an event and runs every active rule bound to its type.
// A non-empty idempotencyKey makes retries safe: the server replays the
// first response instead of running the rules again.
func (c *Client) Trigger(ctx context.Context, req TriggerRequest, idempotencyKey string) (*TriggerSummary, error) {
	encoded, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("mentora: marshal request body: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/triggers", bytes.NewReader(encoded))
	if err != nil {
		return nil, fmt.Errorf("mentora: create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if idempotencyKey != "" {
		httpReq.Header.Set("Idempotency-Key", idempotencyKey)
	}

	var summary TriggerSummary
	resp, err := c.doRequest(ctx, httpReq, &summary)
	if err != nil {
		return nil, err
	}
	summary.Replayed = resp.Header.Get("Idempotent-Replayed") == "true"
	return &summary, nil
}

// GetExecution returns one execution with its message log.
func (c *Client) GetExecution(ctx context.Context, id uuid.UUID) (*ExecutionDetail, error) {
	var detail ExecutionDetail
	if err := c.get(ctx, "/v1/executions/"+id.String(), &detail); err != nil {
		return nil, err
	}
	return &detail, nil
}

// ListExecutions returns executions newest first. Requires an admin client.
func (c *Client) ListExecutions(ctx context.Context, f ExecutionFilter) (*ExecutionPage, error) {
	params := url.Values{}
	if f.RuleID != uuid.Nil {
		params.Set("rule_id", f.RuleID.String())
	}
	if f.Status != "" {
		params.Set("status", f.Status)
	}
	if f.Limit > 0 {
		params.Set("limit", strconv.Itoa(f.Limit))
	}
	if f.Offset > 0 {
		params.Set("offset", strconv.Itoa(f.Offset))
	}

	path := "/v1/executions"
	if len(params) > 0 {
		path += "?" + params.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, fmt.Errorf("mentora: create request: %w", err)
	}
	var page listEnvelope[Execution]
	if _, err := c.doRaw(ctx, req, &page); err != nil {
		return nil, err
	}
	return &ExecutionPage{Executions: page.Data, HasMore: page.HasMore}, nil
}

// Health reports whether the server and its database are up. No
// authentication is needed.
func (c *Client) Health(ctx context.Context) (*HealthResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return nil, fmt.Errorf("mentora: create request: %w", err)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("mentora: %s %s: %w", req.Method, req.URL.Path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	var health HealthResponse
	if err := handleResponse(resp, &health, true); err != nil {
		return nil, err
	}
	return &health, nil
}

// HealthResponse is the body of GET /health.
type HealthResponse struct {
	Status        string `json:"status"`
	Version       string `json:"version"`
	Postgres      string `json:"postgres"`
	UptimeSeconds int64  `json:"uptime_seconds"`
}

// ---------------------------------------------------------------------------
// HTTP transport
// ---------------------------------------------------------------------------

// apiEnvelope is the server's standard response wrapper.
type apiEnvelope struct {
	Data json.RawMessage `json:"data"`
}

// listEnvelope is the server's paginated response wrapper.
type listEnvelope[T any] struct {
	Data    []T  `json:"data"`
	HasMore bool `json:"has_more"`
}

// apiErrorEnvelope is the server's standard error response wrapper.
type apiErrorEnvelope struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func (c *Client) get(ctx context.Context, path string, dest any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("mentora: create request: %w", err)
	}
	_, err = c.doRequest(ctx, req, dest)
	return err
}

// doRequest sends an authenticated request and unwraps the data envelope.
func (c *Client) doRequest(ctx context.Context, req *http.Request, dest any) (*http.Response, error) {
	return c.send(ctx, req, dest, true)
}

// doRaw sends an authenticated request and decodes the whole body.
func (c *Client) doRaw(ctx context.Context, req *http.Request, dest any) (*http.Response, error) {
	return c.send(ctx, req, dest, false)
}

func (c *Client) send(ctx context.Context, req *http.Request, dest any, unwrap bool) (*http.Response, error) {
	token, err := c.tokenMgr.getToken(ctx)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("mentora: %s %s: %w", req.Method, req.URL.Path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode == http.StatusUnauthorized {
		// Server-side key rotation invalidates tokens before they expire.
		c.tokenMgr.invalidate()
	}
	return resp, handleResponse(resp, dest, unwrap)
}

func handleResponse(resp *http.Response, dest any, unwrap bool) error {
	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("mentora: read response body: %w", err)
	}

	if resp.StatusCode >= 400 {
		return parseErrorResponse(resp.StatusCode, bodyBytes)
	}

	if resp.StatusCode == http.StatusNoContent || dest == nil {
		return nil
	}
	if !unwrap {
		return json.Unmarshal(bodyBytes, dest)
	}

	var envelope apiEnvelope
	if err := json.Unmarshal(bodyBytes, &envelope); err != nil {
		return fmt.Errorf("mentora: decode response envelope: %w", err)
	}
	if envelope.Data == nil {
		return json.Unmarshal(bodyBytes, dest)
	}
	return json.Unmarshal(envelope.Data, dest)
}

func parseErrorResponse(statusCode int, body []byte) *Error {
	apiErr := &Error{StatusCode: statusCode}

	var envelope apiErrorEnvelope
	if err := json.Unmarshal(body, &envelope); err == nil && envelope.Error.Message != "" {
		apiErr.Code = envelope.Error.Code
		apiErr.Message = envelope.Error.Message
	} else {
		apiErr.Code = http.StatusText(statusCode)
		apiErr.Message = string(body)
	}

	return apiErr
}
