package websocket

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

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

// tpaInitWindow bounds how long a freshly upgraded TPA socket may stay
// silent before its init frame.
const tpaInitWindow = 5 * time.Second

// Handler owns the two upgrade paths and the per-socket read loops.
type Handler struct {
	cfg       *config.Config
	logger    *logger.Logger
	registry  *session.Registry
	lifecycle *applifecycle.Controller
	monitor   *heartbeat.Monitor
	router    *Router
	tokens    auth.Validator
	catalog   appstore.Catalog
	users     userstore.Store

	upgrader websocket.Upgrader
}

// NewHandler wires the connection front-end.
func NewHandler(cfg *config.Config, log *logger.Logger, registry *session.Registry, lifecycle *applifecycle.Controller, monitor *heartbeat.Monitor, router *Router, tokens auth.Validator, catalog appstore.Catalog, users userstore.Store) *Handler {
	return &Handler{
		cfg:       cfg,
		logger:    log.WithFields(zap.String("component", "gateway")),
		registry:  registry,
		lifecycle: lifecycle,
		monitor:   monitor,
		router:    router,
		tokens:    tokens,
		catalog:   catalog,
		users:     users,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// Glasses and TPA backends connect from arbitrary origins;
			// identity is established by token or API key, not Origin.
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
}

// RegisterRoutes mounts the websocket and admin endpoints.
func (h *Handler) RegisterRoutes(r *gin.Engine) {
	r.GET("/glasses-ws", h.handleGlasses)
	r.GET("/tpa-ws", h.handleTpa)
	r.GET("/health", h.handleHealth)
	r.POST("/api/apps/:packageName/tool", h.handleToolInvoke)
	r.GET("/api/apps/:packageName/config", h.handleAppConfig)
}

// handleGlasses upgrades a glasses socket, authenticates its bearer token,
// and binds it to the user's session.
func (h *Handler) handleGlasses(c *gin.Context) {
	ws, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("glasses upgrade failed", zap.Error(err))
		return
	}
	conn := NewConn(ws)

	userID, err := h.authenticateGlasses(c.Request)
	if err != nil {
		conn.WriteJSON(message.NewAuthError("invalid or missing token"))
		conn.Close(message.CloseAuthFailure, "authentication failed")
		return
	}
	log := h.logger.WithUserID(userID)

	s, reused := h.registry.CreateOrReuse(userID, conn)
	h.refreshInstalledApps(c, s)

	ack := message.ConnectionAck{
		Type:        message.TypeConnectionAck,
		SessionID:   userID,
		UserSession: s.Snapshot(),
		Timestamp:   time.Now().UTC(),
	}
	if err := conn.WriteJSON(ack); err != nil {
		log.Warn("connection_ack delivery failed", zap.Error(err))
		conn.ForceClose()
		return
	}

	tracked := h.monitor.Register(conn, heartbeat.KindGlasses, userID)
	ws.SetPongHandler(func(payload string) error {
		tracked.Pong(payload)
		return nil
	})

	log.Info("glasses connected",
		zap.Bool("reused", reused),
		zap.String("remote_addr", conn.RemoteAddr()))

	h.glassesReadLoop(s, conn, tracked)
}

// authenticateGlasses resolves the bearer token from the Authorization
// header, falling back to a token query parameter for clients that cannot
// set headers on the upgrade request.
func (h *Handler) authenticateGlasses(r *http.Request) (string, error) {
	header := r.Header.Get("Authorization")
	token := strings.TrimPrefix(header, "Bearer ")
	if token == header {
		token = r.URL.Query().Get("token")
	}
	if token == "" {
		return "", auth.ErrInvalidToken
	}
	return h.tokens.ValidateToken(token)
}

// refreshInstalledApps updates the session's installed-apps snapshot from
// the catalog. Best effort.
func (h *Handler) refreshInstalledApps(c *gin.Context, s *session.Session) {
	apps := make([]*appstore.App, 0)
	for _, packageName := range s.ActiveApps() {
		if app, err := h.catalog.GetApp(c.Request.Context(), packageName); err == nil {
			apps = append(apps, app)
		}
	}
	s.SetInstalledApps(apps)
}

// glassesReadLoop pumps the glasses socket until it closes, then runs the
// disconnect path. Binary frames take the audio fast path; JSON frames are
// dispatched by type.
func (h *Handler) glassesReadLoop(s *session.Session, conn *Conn, tracked *heartbeat.Tracked) {
	log := h.logger.WithUserID(s.UserID)

	for {
		msgType, data, err := conn.ws.ReadMessage()
		if err != nil {
			code, reason := closeDetails(err)
			conn.markClosed()
			record := tracked.CaptureDisconnect(code, reason)
			h.monitor.Unregister(tracked)
			log.Info("glasses disconnected",
				zap.Int("code", code),
				zap.String("reason", string(record.Reason)),
				zap.Duration("uptime", record.Uptime))

			// A reconnect may already hold the session; only the bound
			// channel starts the grace countdown.
			if s.GlassesConn() == session.Conn(conn) {
				h.registry.MarkDisconnected(s.UserID)
			}
			return
		}
		tracked.Activity(len(data))

		if msgType == websocket.BinaryMessage {
			h.router.RouteAudio(s, data)
			continue
		}

		env, err := message.Decode(data)
		if err != nil {
			log.Warn("unparseable glasses frame", zap.Error(err))
			conn.WriteJSON(message.NewConnectionError("unparseable message"))
			continue
		}
		h.dispatchGlasses(s, conn, env)
	}
}

// handleHealth reports liveness plus coarse population counts.
func (h *Handler) handleHealth(c *gin.Context) {
	glasses, tpa := h.monitor.Counts()
	c.JSON(http.StatusOK, gin.H{
		"status":   "ok",
		"sessions": h.registry.Count(),
		"glasses":  glasses,
		"tpas":     tpa,
	})
}

// handleToolInvoke relays a tool invocation to a TPA backend.
func (h *Handler) handleToolInvoke(c *gin.Context) {
	packageName := c.Param("packageName")

	var payload map[string]any
	if err := c.ShouldBindJSON(&payload); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}

	result, err := h.lifecycle.InvokeTool(c.Request.Context(), packageName, payload)
	if err != nil {
		h.logger.Warn("tool invocation failed",
			zap.String("package_name", packageName),
			zap.Error(err))
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}
	c.Data(http.StatusOK, "application/json", result)
}

// handleAppConfig returns the TPA's discovered manifest.
func (h *Handler) handleAppConfig(c *gin.Context) {
	packageName := c.Param("packageName")

	cfg, err := h.lifecycle.DiscoverConfig(c.Request.Context(), packageName)
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, cfg)
}
