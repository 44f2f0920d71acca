package applifecycle

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/augmentos/cloud/internal/appstore"
	"github.com/augmentos/cloud/internal/common/config"
	"github.com/augmentos/cloud/internal/common/logger"
	"github.com/augmentos/cloud/internal/tracing"
)

// SessionWebhook is the start payload POSTed to a TPA backend.
type SessionWebhook struct {
	Type                  string `json:"type"`
	SessionID             string `json:"sessionId"`
	UserID                string `json:"userId"`
	Timestamp             string `json:"timestamp"`
	AugmentOSWebsocketURL string `json:"augmentOSWebsocketUrl"`
}

// StopWebhook is the stop payload POSTed to a TPA backend.
type StopWebhook struct {
	Type      string `json:"type"`
	SessionID string `json:"sessionId"`
	UserID    string `json:"userId"`
	Reason    string `json:"reason"`
	Timestamp string `json:"timestamp"`
}

// ToolDefinition is one tool a TPA exposes via its tpa_config.json.
type ToolDefinition struct {
	ID          string         `json:"id"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters,omitempty"`
}

// TpaConfig is the discoverable TPA manifest.
type TpaConfig struct {
	Name    string           `json:"name"`
	Version string           `json:"version"`
	Tools   []ToolDefinition `json:"tools,omitempty"`
}

// WebhookClient POSTs lifecycle payloads to TPA backends with bounded
// retries.
type WebhookClient struct {
	cfg    config.WebhookConfig
	logger *logger.Logger
	client *http.Client
}

// NewWebhookClient builds a client with the per-attempt timeout applied via
// request contexts, not the http.Client, so retries get a fresh budget.
func NewWebhookClient(cfg config.WebhookConfig, log *logger.Logger) *WebhookClient {
	return &WebhookClient{
		cfg:    cfg,
		logger: log.WithFields(zap.String("component", "webhook")),
		client: &http.Client{},
	}
}

// SendSessionRequest delivers a session_request to the app's webhook.
func (w *WebhookClient) SendSessionRequest(ctx context.Context, app *appstore.App, payload SessionWebhook) error {
	payload.Type = "session_request"
	payload.Timestamp = time.Now().UTC().Format(time.RFC3339)
	return w.post(ctx, "session_request", app, payload.UserID, payload)
}

// SendStopRequest delivers a stop_request to the app's webhook.
func (w *WebhookClient) SendStopRequest(ctx context.Context, app *appstore.App, payload StopWebhook) error {
	payload.Type = "stop_request"
	payload.Timestamp = time.Now().UTC().Format(time.RFC3339)
	return w.post(ctx, "stop_request", app, payload.UserID, payload)
}

// post sends the payload with up to cfg.MaxRetries retries at exponential
// backoff (base delay doubling per attempt). Any 2xx is success.
func (w *WebhookClient) post(ctx context.Context, kind string, app *appstore.App, userID string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s payload: %w", kind, err)
	}
	url := webhookURL(app)

	ctx, span := tracing.TraceWebhook(ctx, kind, app.PackageName, userID)
	defer span.End()

	var lastErr error
	lastStatus := 0
	attempts := 0
	for attempt := 0; attempt <= w.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			delay := w.cfg.RetryBaseDelay() << (attempt - 1)
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				tracing.TraceWebhookResult(span, lastStatus, attempts, ctx.Err())
				return ctx.Err()
			}
		}
		attempts++

		status, err := w.attempt(ctx, url, body)
		lastStatus = status
		if err == nil {
			tracing.TraceWebhookResult(span, status, attempts, nil)
			return nil
		}
		lastErr = err
		w.logger.Warn("webhook attempt failed",
			zap.String("kind", kind),
			zap.String("package_name", app.PackageName),
			zap.Int("attempt", attempts),
			zap.Error(err))
	}

	tracing.TraceWebhookResult(span, lastStatus, attempts, lastErr)
	return fmt.Errorf("%s webhook to %s exhausted retries: %w", kind, app.PackageName, lastErr)
}

func (w *WebhookClient) attempt(ctx context.Context, url string, body []byte) (int, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, w.cfg.RequestTimeout())
	defer cancel()

	req, err := http.NewRequestWithContext(attemptCtx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return resp.StatusCode, fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
	return resp.StatusCode, nil
}

// InvokeTool POSTs a tool invocation to the app's tool endpoint. The hashed
// API key identifies the cloud to the TPA; plain keys are never sent.
func (w *WebhookClient) InvokeTool(ctx context.Context, app *appstore.App, payload any) (json.RawMessage, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal tool payload: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, w.cfg.RequestTimeout())
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, baseURL(app)+"/tool", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-TPA-API-Key", app.HashedAPIKey)

	resp, err := w.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("tool endpoint returned status %d", resp.StatusCode)
	}
	return data, nil
}

// FetchConfig discovers the TPA manifest. A 404 is not an error: the app
// simply exposes no tools.
func (w *WebhookClient) FetchConfig(ctx context.Context, app *appstore.App) (*TpaConfig, error) {
	ctx, cancel := context.WithTimeout(ctx, w.cfg.ConfigTimeout())
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, baseURL(app)+"/tpa_config.json", nil)
	if err != nil {
		return nil, err
	}

	resp, err := w.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return &TpaConfig{Name: app.Name}, nil
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("config discovery returned status %d", resp.StatusCode)
	}

	var cfg TpaConfig
	if err := json.NewDecoder(resp.Body).Decode(&cfg); err != nil {
		return nil, fmt.Errorf("parse tpa_config.json: %w", err)
	}
	return &cfg, nil
}

func baseURL(app *appstore.App) string {
	return strings.TrimRight(app.PublicURL, "/")
}

func webhookURL(app *appstore.App) string {
	return baseURL(app) + "/webhook"
}
