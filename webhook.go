package workflow

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// DefaultWebhookTimeout bounds a single outbound webhook call.
const DefaultWebhookTimeout = 30 * time.Second

// WebhookClient performs the outbound HTTP calls configured on completion
// callbacks.
type WebhookClient struct {
	client *http.Client
}

// NewWebhookClient creates a webhook client with the given per-call timeout.
// A non-positive timeout falls back to DefaultWebhookTimeout.
func NewWebhookClient(timeout time.Duration) *WebhookClient {
	if timeout <= 0 {
		timeout = DefaultWebhookTimeout
	}
	return &WebhookClient{
		client: &http.Client{Timeout: timeout},
	}
}

// Send posts the payload as a JSON body to the configured URL. Method
// defaults to POST. A transport error or non-2xx response is a failure.
func (c *WebhookClient) Send(ctx context.Context, spec *WebhookSpec, payload map[string]any) error {
	if spec.URL == "" {
		return NewInvalidArgumentError("webhook url cannot be empty")
	}
	method := strings.ToUpper(spec.Method)
	if method == "" {
		method = http.MethodPost
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal webhook payload: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, method, spec.URL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create webhook request: %w", err)
	}
	for key, value := range spec.Headers {
		req.Header.Set(key, value)
	}
	if req.Header.Get("Content-Type") == "" {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return NewExternalFailure(err, "webhook call to %s failed", spec.URL)
	}
	defer resp.Body.Close()

	// Drain so the connection can be reused
	io.Copy(io.Discard, io.LimitReader(resp.Body, 1<<20))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return NewExternalFailure(nil, "webhook call to %s returned status %d", spec.URL, resp.StatusCode)
	}
	return nil
}
