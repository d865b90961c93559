package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"

	"github.com/mentora-platform/mentora/internal/model"
)

// maxErrorBody caps how much of a provider error response is kept.
const maxErrorBody = 4 << 10

// WebhookDispatcher posts messages as JSON to an email provider's HTTP API.
type WebhookDispatcher struct {
	url        string
	token      string
	from       string
	httpClient *http.Client
}

// NewWebhookDispatcher returns a dispatcher posting to url. A non-empty
// token is sent as a bearer credential.
func NewWebhookDispatcher(url, token, from string, client *http.Client) *WebhookDispatcher {
	if client == nil {
		client = &http.Client{}
	}
	return &WebhookDispatcher{url: url, token: token, from: from, httpClient: client}
}

type webhookRequest struct {
	From    string            `json:"from,omitempty"`
	To      []string          `json:"to"`
	Subject string            `json:"subject"`
	Text    string            `json:"text"`
	Tags    map[string]string `json:"tags,omitempty"`
}

type webhookResponse struct {
	ID string `json:"id"`
}

// Send posts msg and expects a 2xx response with the provider message id.
func (d *WebhookDispatcher) Send(ctx context.Context, msg model.OutboundMessage) (model.DispatchResult, error) {
	payload, err := json.Marshal(webhookRequest{
		From:    d.from,
		To:      []string{msg.To},
		Subject: msg.Subject,
		Text:    msg.Body,
		Tags:    msg.Tags,
	})
	if err != nil {
		return model.DispatchResult{}, fmt.Errorf("notify: marshal webhook request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.url, bytes.NewReader(payload))
	if err != nil {
		return model.DispatchResult{}, fmt.Errorf("notify: create webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if d.token != "" {
		req.Header.Set("Authorization", "Bearer "+d.token)
	}
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(req.Header))

	resp, err := d.httpClient.Do(req)
	if err != nil {
		return model.DispatchResult{}, fmt.Errorf("notify: webhook send: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return model.DispatchResult{}, fmt.Errorf("%w: status %d: %s", ErrRejected, resp.StatusCode, bytes.TrimSpace(body))
	}

	var out webhookResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&out); err != nil && err != io.EOF {
		return model.DispatchResult{}, fmt.Errorf("notify: decode webhook response: %w", err)
	}
	return model.DispatchResult{ProviderMessageID: out.ID}, nil
}
