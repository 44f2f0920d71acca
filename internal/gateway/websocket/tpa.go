package websocket

import (
	"context"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/augmentos/cloud/internal/heartbeat"
	"github.com/augmentos/cloud/internal/session"
	"github.com/augmentos/cloud/internal/subscription"
	"github.com/augmentos/cloud/pkg/message"
)

// handleTpa upgrades a TPA socket and runs its init handshake: the first
// frame must be a tpa_connection_init carrying packageName and API key.
func (h *Handler) handleTpa(c *gin.Context) {
	ws, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("tpa upgrade failed", zap.Error(err))
		return
	}
	conn := NewConn(ws)

	ws.SetReadDeadline(time.Now().Add(tpaInitWindow))
	_, data, err := ws.ReadMessage()
	if err != nil {
		conn.Close(message.CloseAuthFailure, "init timeout")
		return
	}
	ws.SetReadDeadline(time.Time{})

	var init message.TpaConnectionInit
	if err := (&message.Envelope{Raw: data}).Decode(&init); err != nil ||
		init.Type != message.TypeTpaConnectionInit || init.PackageName == "" {
		conn.WriteJSON(message.NewConnectionError("first frame must be tpa_connection_init"))
		conn.Close(message.CloseAuthFailure, "invalid init")
		return
	}

	userID := userIDFromVirtualSession(init.SessionID, init.PackageName)
	log := h.logger.WithUserID(userID).WithPackage(init.PackageName)

	s, ok := h.registry.Get(userID)
	if !ok {
		log.Warn("tpa init for unknown session")
		conn.WriteJSON(message.NewAuthError("no such session"))
		conn.Close(message.CloseAuthFailure, "no such session")
		return
	}

	_, settings, err := h.lifecycle.Admit(c.Request.Context(), s, init.PackageName, init.APIKey, conn.RemoteAddr(), conn)
	if err != nil {
		log.Warn("tpa init rejected", zap.Error(err))
		conn.WriteJSON(message.NewAuthError("authentication failed"))
		conn.Close(message.CloseAuthFailure, "authentication failed")
		return
	}

	ack := message.TpaConnectionAck{
		Type:      message.TypeTpaConnectionAck,
		SessionID: init.SessionID,
		Settings:  settings,
		Timestamp: time.Now().UTC(),
	}
	if err := conn.WriteJSON(ack); err != nil {
		log.Warn("tpa_connection_ack delivery failed", zap.Error(err))
		conn.ForceClose()
		h.lifecycle.HandleDisconnect(s, init.PackageName, conn)
		return
	}

	// A reconnecting TPA keeps its subscriptions; deliver cached one-shot
	// context it would otherwise have missed while away.
	h.router.ReplayCached(s, init.PackageName, s.SubscriptionsFor(init.PackageName))
	s.SendAppState()

	tracked := h.monitor.Register(conn, heartbeat.KindTpa, message.VirtualSessionID(userID, init.PackageName))
	ws.SetPongHandler(func(payload string) error {
		tracked.Pong(payload)
		return nil
	})

	log.Info("tpa connected", zap.String("remote_addr", conn.RemoteAddr()))
	h.tpaReadLoop(s, init.PackageName, conn, tracked)
}

// userIDFromVirtualSession recovers the userId from the handle the TPA
// echoes back ("<userId>-<packageName>"). A bare userId is accepted too.
func userIDFromVirtualSession(sessionID, packageName string) string {
	return strings.TrimSuffix(sessionID, "-"+packageName)
}

// tpaReadLoop pumps one TPA socket until it closes, then hands the close to
// the lifecycle controller for grace handling.
func (h *Handler) tpaReadLoop(s *session.Session, packageName string, conn *Conn, tracked *heartbeat.Tracked) {
	log := h.logger.WithUserID(s.UserID).WithPackage(packageName)

	for {
		msgType, data, err := conn.ws.ReadMessage()
		if err != nil {
			code, reason := closeDetails(err)
			conn.markClosed()
			record := tracked.CaptureDisconnect(code, reason)
			h.monitor.Unregister(tracked)
			log.Info("tpa disconnected",
				zap.Int("code", code),
				zap.String("reason", string(record.Reason)),
				zap.Duration("uptime", record.Uptime))
			h.lifecycle.HandleDisconnect(s, packageName, conn)
			return
		}
		tracked.Activity(len(data))

		if msgType == websocket.BinaryMessage {
			// TPAs have no binary path; dropping keeps state untouched.
			log.Warn("binary frame on tpa socket dropped",
				zap.Int("bytes", len(data)))
			continue
		}

		env, err := message.Decode(data)
		if err != nil {
			log.Warn("unparseable tpa frame", zap.Error(err))
			conn.WriteJSON(message.NewConnectionError("unparseable message"))
			continue
		}
		h.dispatchTpa(s, packageName, conn, env)
	}
}

// dispatchTpa routes one inbound TPA frame.
func (h *Handler) dispatchTpa(s *session.Session, packageName string, conn *Conn, env *message.Envelope) {
	log := h.logger.WithUserID(s.UserID).WithPackage(packageName)

	switch env.Type {
	case message.TypeSubscriptionUpdate:
		var req message.SubscriptionUpdate
		if err := env.Decode(&req); err != nil {
			conn.WriteJSON(message.NewConnectionError("invalid subscription_update"))
			return
		}
		h.updateSubscriptions(s, packageName, conn, req.Subscriptions)

	case message.TypePhotoRequest:
		var req message.TpaPhotoRequest
		if err := env.Decode(&req); err != nil {
			return
		}
		requestID := s.Photos.CreateTpa(s.UserID, packageName, conn, req.SaveToGallery, h.cfg.Session.PhotoTimeoutTpa())
		frame := message.PhotoRequest{
			Type:          message.TypePhotoRequest,
			RequestID:     requestID,
			AppID:         packageName,
			SaveToGallery: req.SaveToGallery,
			Timestamp:     time.Now().UTC(),
		}
		if err := s.SendToGlasses(frame); err != nil {
			log.Warn("photo_request delivery failed", zap.Error(err))
		}

	case message.TypeVideoStreamRequest:
		frame := message.VideoStreamRequest{
			Type:      message.TypeVideoStreamRequest,
			AppID:     packageName,
			Timestamp: time.Now().UTC(),
		}
		if err := s.SendToGlasses(frame); err != nil {
			log.Warn("video_stream_request delivery failed", zap.Error(err))
		}

	case message.TypeDisplayEvent:
		s.Display().HandleDisplayEvent(s.UserID, packageName, env.Raw)

	case message.TypeDashboardContentUpdate:
		s.Dashboard().HandleContentUpdate(s.UserID, packageName, env.Raw)

	case message.TypeDashboardModeChange:
		s.Dashboard().HandleModeChange(s.UserID, packageName, env.Raw)

	case message.TypeDashboardSystemUpdate:
		s.Dashboard().HandleSystemUpdate(s.UserID, env.Raw)

	default:
		log.Warn("unknown tpa frame type", zap.String("type", env.Type))
		conn.WriteJSON(message.NewConnectionError("unknown message type: " + env.Type))
	}
}

// updateSubscriptions runs the permission filter, applies the admitted set,
// replays cached one-shot context for newly covered streams, and pushes the
// side effects (mic state, app state) out.
func (h *Handler) updateSubscriptions(s *session.Session, packageName string, conn *Conn, requested []string) {
	log := h.logger.WithUserID(s.UserID).WithPackage(packageName)

	app, err := h.catalog.GetApp(context.Background(), packageName)
	if err != nil {
		log.Warn("subscription update for unknown app", zap.Error(err))
		return
	}

	allowed, rejected := subscription.FilterByPermission(app, requested)
	if len(rejected) > 0 {
		frame := message.PermissionError{
			Type:      message.TypePermissionError,
			Message:   "some subscriptions were rejected for missing permissions",
			Details:   rejected,
			Timestamp: time.Now().UTC(),
		}
		if err := conn.WriteJSON(frame); err != nil {
			log.Warn("permission_error delivery failed", zap.Error(err))
		}
	}

	prior := s.SubscriptionsFor(packageName)
	stored := s.UpdateSubscriptions(packageName, allowed)
	log.Debug("subscriptions updated",
		zap.Strings("requested", requested),
		zap.Strings("stored", stored))

	h.router.ReplayCached(s, packageName, newlyAdded(prior, stored))
	s.SyncMicState()
	s.SendAppState()
}

// newlyAdded returns the descriptors present in next but not in prior.
func newlyAdded(prior, next []string) []string {
	seen := make(map[string]struct{}, len(prior))
	for _, d := range prior {
		seen[d] = struct{}{}
	}
	var added []string
	for _, d := range next {
		if _, ok := seen[d]; !ok {
			added = append(added, d)
		}
	}
	return added
}
