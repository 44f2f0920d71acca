package websocket

import (
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/augmentos/cloud/internal/applifecycle"
	"github.com/augmentos/cloud/internal/appstore"
	"github.com/augmentos/cloud/internal/auth"
	"github.com/augmentos/cloud/internal/common/config"
	"github.com/augmentos/cloud/internal/common/logger"
	"github.com/augmentos/cloud/internal/heartbeat"
	"github.com/augmentos/cloud/internal/session"
	"github.com/augmentos/cloud/internal/userstore"
	"github.com/augmentos/cloud/pkg/message"
)

const testSecret = "test-core-secret"

type gateway struct {
	url      string
	registry *session.Registry
}

func newGateway(t *testing.T) *gateway {
	t.Helper()
	gin.SetMode(gin.TestMode)

	cfg := &config.Config{
		Server: config.ServerConfig{PublicHost: "cloud.example.com", InternalHost: "cloud.internal:8002"},
		Auth:   config.AuthConfig{CoreSecret: testSecret},
		Session: config.SessionConfig{
			GlassesGraceSeconds: 45,
			AppGraceMs:          5000,
			AppStartTimeoutMs:   5000,
			MicDebounceMs:       20,
			PhotoTimeoutTpaSec:  30,
			PhotoTimeoutSysSec:  60,
		},
		Heartbeat: config.HeartbeatConfig{PingIntervalSec: 60, MaxMissedPings: 3, CriticalSilenceSec: 300},
		Webhook:   config.WebhookConfig{RequestTimeoutSec: 2, MaxRetries: 0, RetryBaseDelayMs: 10, ConfigTimeoutSec: 2},
	}

	log := logger.Default()
	catalog := appstore.NewMemoryCatalog()
	catalog.Register(&appstore.App{
		PackageName:  "com.example.captions",
		Name:         "Captions",
		PublicURL:    "http://captions.example.com",
		Permissions:  []string{appstore.PermissionMicrophone},
		HashedAPIKey: appstore.HashAPIKey("secret"),
	})
	users := userstore.NewMemory()

	registry := session.NewRegistry(cfg, log, nil, session.Deps{})
	t.Cleanup(registry.Shutdown)

	webhooks := applifecycle.NewWebhookClient(cfg.Webhook, log)
	lifecycle := applifecycle.NewController(cfg, log, catalog, users, webhooks, nil, nil)
	monitor := heartbeat.NewMonitor(cfg.Heartbeat, log)
	handler := NewHandler(cfg, log, registry, lifecycle, monitor, NewRouter(log, nil), auth.NewCoreTokenValidator(testSecret), catalog, users)

	engine := gin.New()
	handler.RegisterRoutes(engine)

	srv := httptest.NewServer(engine)
	t.Cleanup(srv.Close)

	return &gateway{
		url:      "ws" + strings.TrimPrefix(srv.URL, "http"),
		registry: registry,
	}
}

func dial(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { ws.Close() })
	return ws
}

// readFrame reads one JSON frame into a loosely typed map.
func readFrame(t *testing.T, ws *websocket.Conn) map[string]any {
	t.Helper()
	ws.SetReadDeadline(time.Now().Add(2 * time.Second))
	var frame map[string]any
	require.NoError(t, ws.ReadJSON(&frame))
	return frame
}

// readUntilType drains frames until one of the wanted type arrives. Keeps
// tests independent of incidental frame ordering.
func readUntilType(t *testing.T, ws *websocket.Conn, wantType string) map[string]any {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		frame := readFrame(t, ws)
		if frame["type"] == wantType {
			return frame
		}
	}
	t.Fatalf("no %s frame arrived", wantType)
	return nil
}

func TestGlassesConnectAcksWithSession(t *testing.T) {
	gw := newGateway(t)

	ws := dial(t, gw.url+"/glasses-ws?token="+auth.Token(testSecret, "u1"))
	ack := readFrame(t, ws)

	assert.Equal(t, message.TypeConnectionAck, ack["type"])
	assert.Equal(t, "u1", ack["sessionId"])
	_, ok := gw.registry.Get("u1")
	assert.True(t, ok)
}

func TestGlassesConnectRejectsBadToken(t *testing.T) {
	gw := newGateway(t)

	ws := dial(t, gw.url+"/glasses-ws?token=u1.forged")
	frame := readFrame(t, ws)
	assert.Equal(t, message.TypeAuthError, frame["type"])

	ws.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err := ws.ReadMessage()
	var closeErr *websocket.CloseError
	require.ErrorAs(t, err, &closeErr)
	assert.Equal(t, message.CloseAuthFailure, closeErr.Code)
}

func TestTpaInitRequiresKnownSession(t *testing.T) {
	gw := newGateway(t)

	ws := dial(t, gw.url+"/tpa-ws")
	require.NoError(t, ws.WriteJSON(map[string]any{
		"type":        message.TypeTpaConnectionInit,
		"sessionId":   "ghost-com.example.captions",
		"packageName": "com.example.captions",
		"apiKey":      "secret",
	}))

	frame := readFrame(t, ws)
	assert.Equal(t, message.TypeAuthError, frame["type"])
}

func TestTpaInitRejectsWrongFirstFrame(t *testing.T) {
	gw := newGateway(t)

	ws := dial(t, gw.url+"/tpa-ws")
	require.NoError(t, ws.WriteJSON(map[string]any{"type": "subscription_update"}))

	frame := readFrame(t, ws)
	assert.Equal(t, message.TypeConnectionError, frame["type"])
}

func TestEventFlowGlassesToTpa(t *testing.T) {
	gw := newGateway(t)

	glasses := dial(t, gw.url+"/glasses-ws?token="+auth.Token(testSecret, "u1"))
	readFrame(t, glasses) // connection_ack

	tpa := dial(t, gw.url+"/tpa-ws")
	require.NoError(t, tpa.WriteJSON(map[string]any{
		"type":        message.TypeTpaConnectionInit,
		"sessionId":   message.VirtualSessionID("u1", "com.example.captions"),
		"packageName": "com.example.captions",
		"apiKey":      "secret",
	}))

	ack := readFrame(t, tpa)
	require.Equal(t, message.TypeTpaConnectionAck, ack["type"])
	assert.Equal(t, "u1-com.example.captions", ack["sessionId"])

	// The admit is pushed to the glasses as a state change.
	state := readUntilType(t, glasses, message.TypeAppStateChange)
	apps := state["userSession"].(map[string]any)["activeAppSessions"].([]any)
	assert.Contains(t, apps, "com.example.captions")

	// Subscribing to speech turns the microphone on.
	require.NoError(t, tpa.WriteJSON(map[string]any{
		"type":          message.TypeSubscriptionUpdate,
		"packageName":   "com.example.captions",
		"subscriptions": []string{"transcription", "button_press"},
	}))
	mic := readUntilType(t, glasses, message.TypeMicrophoneStateChange)
	assert.Equal(t, true, mic["isMicrophoneEnabled"])

	// A glasses event reaches the subscribed TPA as a data_stream envelope.
	require.NoError(t, glasses.WriteJSON(map[string]any{
		"type":     "button_press",
		"buttonId": "main",
	}))
	ds := readUntilType(t, tpa, message.TypeDataStream)
	assert.Equal(t, "button_press", ds["streamType"])
	assert.Equal(t, "u1-com.example.captions", ds["sessionId"])

	var payload struct {
		ButtonID string `json:"buttonId"`
	}
	raw, err := json.Marshal(ds["data"])
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(raw, &payload))
	assert.Equal(t, "main", payload.ButtonID)
}

func TestTpaWithoutSpeechSubscriptionKeepsMicOff(t *testing.T) {
	gw := newGateway(t)

	glasses := dial(t, gw.url+"/glasses-ws?token="+auth.Token(testSecret, "u1"))
	readFrame(t, glasses)

	tpa := dial(t, gw.url+"/tpa-ws")
	require.NoError(t, tpa.WriteJSON(map[string]any{
		"type":        message.TypeTpaConnectionInit,
		"sessionId":   message.VirtualSessionID("u1", "com.example.captions"),
		"packageName": "com.example.captions",
		"apiKey":      "secret",
	}))
	readFrame(t, tpa)

	require.NoError(t, tpa.WriteJSON(map[string]any{
		"type":          message.TypeSubscriptionUpdate,
		"packageName":   "com.example.captions",
		"subscriptions": []string{"button_press"},
	}))

	// The first sync states the mic explicitly, and it stays off.
	mic := readUntilType(t, glasses, message.TypeMicrophoneStateChange)
	assert.Equal(t, false, mic["isMicrophoneEnabled"])
}
