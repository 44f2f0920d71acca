package applifecycle

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/augmentos/cloud/internal/appstore"
	"github.com/augmentos/cloud/internal/common/config"
	"github.com/augmentos/cloud/internal/common/logger"
	"github.com/augmentos/cloud/pkg/message"
)

func testWebhookConfig() config.WebhookConfig {
	return config.WebhookConfig{
		RequestTimeoutSec: 2,
		MaxRetries:        2,
		RetryBaseDelayMs:  10,
		ConfigTimeoutSec:  2,
	}
}

func testApp(url string) *appstore.App {
	return &appstore.App{
		PackageName:  "com.example.app",
		Name:         "Example",
		PublicURL:    url,
		HashedAPIKey: appstore.HashAPIKey("secret"),
	}
}

func TestSendSessionRequestPayload(t *testing.T) {
	var got SessionWebhook
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/webhook", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	client := NewWebhookClient(testWebhookConfig(), logger.Default())
	err := client.SendSessionRequest(context.Background(), testApp(srv.URL), SessionWebhook{
		SessionID:             message.VirtualSessionID("u1", "com.example.app"),
		UserID:                "u1",
		AugmentOSWebsocketURL: "ws://cloud.example.com/tpa-ws",
	})
	require.NoError(t, err)

	assert.Equal(t, "session_request", got.Type)
	assert.Equal(t, "u1-com.example.app", got.SessionID)
	assert.Equal(t, "u1", got.UserID)
	assert.Equal(t, "ws://cloud.example.com/tpa-ws", got.AugmentOSWebsocketURL)
	assert.NotEmpty(t, got.Timestamp)
}

func TestWebhookRetriesThenSucceeds(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	client := NewWebhookClient(testWebhookConfig(), logger.Default())
	err := client.SendStopRequest(context.Background(), testApp(srv.URL), StopWebhook{
		SessionID: "u1-com.example.app",
		UserID:    "u1",
		Reason:    "user_initiated",
	})
	require.NoError(t, err)
	assert.Equal(t, int32(3), calls.Load())
}

func TestWebhookExhaustsRetries(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	client := NewWebhookClient(testWebhookConfig(), logger.Default())
	err := client.SendSessionRequest(context.Background(), testApp(srv.URL), SessionWebhook{UserID: "u1"})
	require.Error(t, err)
	assert.Equal(t, int32(3), calls.Load()) // 1 attempt + 2 retries
}

func TestInvokeToolSendsHashedKey(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/tool", r.URL.Path)
		assert.Equal(t, appstore.HashAPIKey("secret"), r.Header.Get("X-TPA-API-Key"))
		w.Write([]byte(`{"result":"ok"}`))
	}))
	defer srv.Close()

	client := NewWebhookClient(testWebhookConfig(), logger.Default())
	result, err := client.InvokeTool(context.Background(), testApp(srv.URL), map[string]any{"toolId": "t1"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"result":"ok"}`, string(result))
}

func TestFetchConfigTreats404AsNoTools(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer srv.Close()

	client := NewWebhookClient(testWebhookConfig(), logger.Default())
	cfg, err := client.FetchConfig(context.Background(), testApp(srv.URL))
	require.NoError(t, err)
	assert.Empty(t, cfg.Tools)
}

func TestFetchConfigParsesManifest(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/tpa_config.json", r.URL.Path)
		w.Write([]byte(`{"name":"Example","version":"1.2.0","tools":[{"id":"search","description":"find things"}]}`))
	}))
	defer srv.Close()

	client := NewWebhookClient(testWebhookConfig(), logger.Default())
	cfg, err := client.FetchConfig(context.Background(), testApp(srv.URL))
	require.NoError(t, err)
	assert.Equal(t, "Example", cfg.Name)
	require.Len(t, cfg.Tools, 1)
	assert.Equal(t, "search", cfg.Tools[0].ID)
}
