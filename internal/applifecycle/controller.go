// Package applifecycle starts, stops, admits, and auto-restarts TPAs for a
// session, including the reconnect-grace window after a TPA socket loss.
package applifecycle

import (
	"context"
	"fmt"
	"net"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/augmentos/cloud/internal/analytics"
	"github.com/augmentos/cloud/internal/appstore"
	"github.com/augmentos/cloud/internal/common/config"
	"github.com/augmentos/cloud/internal/common/logger"
	"github.com/augmentos/cloud/internal/events"
	"github.com/augmentos/cloud/internal/events/bus"
	"github.com/augmentos/cloud/internal/session"
	"github.com/augmentos/cloud/internal/userstore"
	"github.com/augmentos/cloud/pkg/message"
)

// StopReasonUser marks a developer- or user-initiated stop. A TPA channel
// closed with this reason skips the reconnect grace.
const StopReasonUser = "App stopped by request"

// ErrInvalidAPIKey rejects a TPA init with a bad key.
var ErrInvalidAPIKey = fmt.Errorf("invalid API key")

// ErrUntrustedOrigin rejects a system-app init from outside the cluster.
var ErrUntrustedOrigin = fmt.Errorf("system app init from untrusted address")

// Controller drives the TPA lifecycle for all sessions.
type Controller struct {
	cfg       *config.Config
	logger    *logger.Logger
	catalog   appstore.Catalog
	users     userstore.Store
	webhooks  *WebhookClient
	bus       bus.EventBus
	analytics analytics.Tracker
}

// NewController wires the lifecycle controller.
func NewController(cfg *config.Config, log *logger.Logger, catalog appstore.Catalog, users userstore.Store, webhooks *WebhookClient, eventBus bus.EventBus, tracker analytics.Tracker) *Controller {
	if tracker == nil {
		tracker = analytics.Noop{}
	}
	return &Controller{
		cfg:       cfg,
		logger:    log.WithFields(zap.String("component", "app-lifecycle")),
		catalog:   catalog,
		users:     users,
		webhooks:  webhooks,
		bus:       eventBus,
		analytics: tracker,
	}
}

// Start launches a TPA for the session: resolve the app, POST the start
// webhook, and arm the start window. Idempotent per package; a second Start
// while the first is loading or the app is active returns nil immediately.
// The package stays in loadingApps until the TPA channel is admitted.
func (c *Controller) Start(ctx context.Context, s *session.Session, packageName string) error {
	log := c.logger.WithUserID(s.UserID).WithPackage(packageName)

	if !s.StartLoading(packageName) {
		log.Debug("start ignored, already loading or active")
		return nil
	}

	app, err := c.catalog.GetApp(ctx, packageName)
	if err != nil {
		s.AbandonLoad(packageName)
		log.Warn("start failed, app not in catalog", zap.Error(err))
		return err
	}

	s.SendAppState()

	payload := SessionWebhook{
		SessionID:             message.VirtualSessionID(s.UserID, packageName),
		UserID:                s.UserID,
		AugmentOSWebsocketURL: c.connectBackURL(app),
	}
	if err := c.webhooks.SendSessionRequest(ctx, app, payload); err != nil {
		s.AbandonLoad(packageName)
		s.SendAppState()
		log.Warn("start webhook exhausted retries", zap.Error(err))
		return err
	}

	// Running-app persistence is best effort; the session is authoritative.
	if err := c.users.AddRunningApp(ctx, s.UserID, packageName); err != nil {
		log.Warn("user record update failed", zap.Error(err))
	}

	// Subscriptions may have survived a restart; if any of them are media
	// streams the microphone comes back on now, not at the next update.
	s.SyncMicState()

	s.ScheduleStartTimeout(packageName, c.cfg.Session.AppStartTimeout(), func() {
		if !s.AbandonLoad(packageName) {
			return
		}
		log.Warn("app did not connect within start window")
		s.Display().HandleAppStop(s.UserID, packageName)
		s.SendAppState()
	})

	log.Info("app start webhook delivered")
	c.analytics.TrackEvent(ctx, "app_start", s.UserID, map[string]any{"packageName": packageName})
	return nil
}

// Stop shuts a TPA down: subscriptions removed, stop webhook issued, channel
// closed, state pushed to the glasses. Idempotent; stopping a package that
// is neither loading nor active is a no-op.
func (c *Controller) Stop(ctx context.Context, s *session.Session, packageName string) error {
	log := c.logger.WithUserID(s.UserID).WithPackage(packageName)

	if !s.IsActive(packageName) && !s.IsLoading(packageName) {
		return nil
	}

	// Flag before closing so the disconnect handler skips the grace timer.
	s.MarkExplicitStop(packageName)
	s.CancelGraceTimer(packageName)
	s.CancelStartTimeout(packageName)
	s.RemoveSubscriptions(packageName)
	conn := s.RemoveApp(packageName)
	s.Photos.CancelForApp(packageName)

	if app, err := c.catalog.GetApp(ctx, packageName); err == nil {
		payload := StopWebhook{
			SessionID: message.VirtualSessionID(s.UserID, packageName),
			UserID:    s.UserID,
			Reason:    "user_initiated",
		}
		if err := c.webhooks.SendStopRequest(ctx, app, payload); err != nil {
			log.Warn("stop webhook exhausted retries", zap.Error(err))
		}
	}

	if conn != nil && conn.IsOpen() {
		_ = conn.Close(message.CloseNormal, StopReasonUser)
	}

	if err := c.users.RemoveRunningApp(ctx, s.UserID, packageName); err != nil {
		log.Warn("user record update failed", zap.Error(err))
	}
	s.Display().HandleAppStop(s.UserID, packageName)
	s.SyncMicState()
	s.SendAppState()

	log.Info("app stopped")
	c.publishAppEvent(events.SubjectAppStopped, s.UserID, packageName)
	c.analytics.TrackEvent(ctx, "app_stop", s.UserID, map[string]any{"packageName": packageName})
	return nil
}

// Admit validates a TPA init and registers its channel. On success it
// returns the app plus the persisted settings for the acknowledgment.
func (c *Controller) Admit(ctx context.Context, s *session.Session, packageName, apiKey, clientIP string, conn session.Conn) (*appstore.App, map[string]any, error) {
	log := c.logger.WithUserID(s.UserID).WithPackage(packageName)

	app, err := c.catalog.GetApp(ctx, packageName)
	if err != nil {
		return nil, nil, err
	}

	valid, err := c.catalog.ValidateAPIKey(ctx, packageName, apiKey, clientIP)
	if err != nil {
		return nil, nil, err
	}
	if !valid {
		log.Warn("tpa init rejected, invalid api key", zap.String("client_ip", clientIP))
		return nil, nil, ErrInvalidAPIKey
	}
	if app.IsSystemApp && !isInternalAddr(clientIP) {
		log.Warn("tpa init rejected, system app from untrusted address",
			zap.String("client_ip", clientIP))
		return nil, nil, ErrUntrustedOrigin
	}

	s.CancelStartTimeout(packageName)
	s.AdmitApp(packageName, conn)

	if err := c.users.AddRunningApp(ctx, s.UserID, packageName); err != nil {
		log.Warn("user record update failed", zap.Error(err))
	}

	settings, err := c.users.GetAppSettings(ctx, s.UserID, packageName)
	if err != nil {
		log.Warn("settings lookup failed", zap.Error(err))
		settings = map[string]any{}
	}

	s.Display().HandleAppStart(s.UserID, packageName)

	log.Info("tpa admitted", zap.String("client_ip", clientIP))
	c.publishAppEvent(events.SubjectAppStarted, s.UserID, packageName)
	return app, settings, nil
}

// HandleDisconnect reacts to a TPA channel closing. An explicit stop was
// already fully handled by Stop; anything else starts the reconnect grace
// and, on expiry, removes the app and optionally auto-restarts it.
func (c *Controller) HandleDisconnect(s *session.Session, packageName string, conn session.Conn) {
	log := c.logger.WithUserID(s.UserID).WithPackage(packageName)

	s.DropAppConn(packageName, conn)
	s.Photos.CancelForApp(packageName)

	if s.ConsumeExplicitStop(packageName) {
		log.Debug("explicit stop, skipping reconnect grace")
		return
	}
	if !s.IsActive(packageName) {
		return
	}

	log.Info("tpa channel lost, starting reconnect grace")
	s.StartGraceTimer(packageName, c.cfg.Session.AppGrace(), func() {
		c.graceExpired(s, packageName)
	})
}

// graceExpired removes the app after the reconnect window lapsed without a
// new admitted channel, then schedules the auto-restart.
func (c *Controller) graceExpired(s *session.Session, packageName string) {
	log := c.logger.WithUserID(s.UserID).WithPackage(packageName)

	if _, ok := s.AppConn(packageName); ok {
		return
	}
	if !s.IsActive(packageName) {
		return
	}

	s.RemoveApp(packageName)
	ctx := context.Background()
	if err := c.users.RemoveRunningApp(ctx, s.UserID, packageName); err != nil {
		log.Warn("user record update failed", zap.Error(err))
	}
	s.SendAppState()
	s.SyncMicState()

	log.Info("reconnect grace expired, app removed")
	c.publishAppEvent(events.SubjectAppStopped, s.UserID, packageName)

	if !c.cfg.Session.AutoRestart {
		return
	}
	time.AfterFunc(c.cfg.Session.AutoRestartDelay(), func() {
		if s.DisconnectedAt() != nil {
			return
		}
		log.Info("auto-restarting app")
		if err := c.Start(context.Background(), s, packageName); err != nil {
			log.Warn("auto-restart failed", zap.Error(err))
		}
	})
}

// InvokeTool relays a tool invocation to the app's backend.
func (c *Controller) InvokeTool(ctx context.Context, packageName string, payload any) ([]byte, error) {
	app, err := c.catalog.GetApp(ctx, packageName)
	if err != nil {
		return nil, err
	}
	return c.webhooks.InvokeTool(ctx, app, payload)
}

// DiscoverConfig fetches the app's manifest, if it publishes one.
func (c *Controller) DiscoverConfig(ctx context.Context, packageName string) (*TpaConfig, error) {
	app, err := c.catalog.GetApp(ctx, packageName)
	if err != nil {
		return nil, err
	}
	return c.webhooks.FetchConfig(ctx, app)
}

// connectBackURL builds the websocket URL a TPA backend should dial.
// System apps resolve the cluster-local name; third-party apps get the
// public host.
func (c *Controller) connectBackURL(app *appstore.App) string {
	host := c.cfg.Server.PublicHost
	if app.IsSystemApp && c.cfg.Server.InternalHost != "" {
		host = c.cfg.Server.InternalHost
	}
	scheme := "ws"
	if strings.HasPrefix(host, "wss://") || strings.HasPrefix(host, "ws://") {
		return strings.TrimRight(host, "/") + "/tpa-ws"
	}
	return fmt.Sprintf("%s://%s/tpa-ws", scheme, host)
}

// isInternalAddr reports whether an address is loopback, RFC1918 private,
// or link-local, the only origins a system app may init from.
func isInternalAddr(addr string) bool {
	host := addr
	if h, _, err := net.SplitHostPort(addr); err == nil {
		host = h
	}
	ip := net.ParseIP(host)
	if ip == nil {
		return false
	}
	return ip.IsLoopback() || ip.IsPrivate() || ip.IsLinkLocalUnicast()
}

func (c *Controller) publishAppEvent(subject, userID, packageName string) {
	if c.bus == nil {
		return
	}
	ev := bus.NewEvent(subject, events.Source, map[string]any{
		"userId":      userID,
		"packageName": packageName,
	})
	if err := c.bus.Publish(context.Background(), subject, ev); err != nil {
		c.logger.Warn("event publish failed", zap.String("subject", subject), zap.Error(err))
	}
}
