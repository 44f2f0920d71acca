package websocket

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/augmentos/cloud/internal/session"
	"github.com/augmentos/cloud/pkg/message"
)

// dispatchGlasses routes one inbound glasses frame. Lifecycle operations run
// on their own goroutines because their webhook calls may suspend for tens
// of seconds; everything else is handled inline to preserve arrival order.
func (h *Handler) dispatchGlasses(s *session.Session, conn *Conn, env *message.Envelope) {
	log := h.logger.WithUserID(s.UserID)

	switch env.Type {
	case message.TypeStartApp:
		var req message.StartApp
		if err := env.Decode(&req); err != nil || req.PackageName == "" {
			conn.WriteJSON(message.NewConnectionError("start_app requires packageName"))
			return
		}
		go func() {
			if err := h.lifecycle.Start(context.Background(), s, req.PackageName); err != nil {
				log.Warn("app start failed",
					zap.String("package_name", req.PackageName),
					zap.Error(err))
			}
		}()

	case message.TypeStopApp:
		var req message.StopApp
		if err := env.Decode(&req); err != nil || req.PackageName == "" {
			conn.WriteJSON(message.NewConnectionError("stop_app requires packageName"))
			return
		}
		go func() {
			if err := h.lifecycle.Stop(context.Background(), s, req.PackageName); err != nil {
				log.Warn("app stop failed",
					zap.String("package_name", req.PackageName),
					zap.Error(err))
			}
		}()

	case message.TypeLocationUpdate:
		var loc message.LocationUpdate
		if err := env.Decode(&loc); err != nil {
			return
		}
		s.CacheLocation(&loc)
		if err := h.users.SetLocation(context.Background(), s.UserID, loc.Lat, loc.Lng); err != nil {
			log.Debug("location persistence failed", zap.Error(err))
		}
		h.router.Broadcast(s, env.Type, env.Raw)

	case message.TypeCalendarEvent:
		var ev message.CalendarEvent
		if err := env.Decode(&ev); err != nil {
			return
		}
		s.CacheCalendar(&ev)
		h.router.Broadcast(s, env.Type, env.Raw)

	case message.TypePhotoResponse:
		var resp message.PhotoResponse
		if err := env.Decode(&resp); err != nil || resp.RequestID == "" {
			return
		}
		if !s.Photos.ProcessResponse(resp.RequestID, resp.PhotoURL) {
			log.Debug("stale photo response dropped",
				zap.String("request_id", resp.RequestID))
		}

	case message.TypeVideoStreamResponse:
		var resp message.VideoStreamResponse
		if err := env.Decode(&resp); err != nil || resp.AppID == "" {
			return
		}
		if tpaConn, ok := s.AppConn(resp.AppID); ok && tpaConn.IsOpen() {
			if err := tpaConn.WriteJSON(env.Raw); err != nil {
				log.Warn("video stream response delivery failed",
					zap.String("app_id", resp.AppID),
					zap.Error(err))
			}
		}

	case message.TypeSettingsUpdateRequest:
		frame := message.SettingsUpdate{
			Type:      message.TypeSettingsUpdate,
			Settings:  s.OSSettings(),
			Timestamp: time.Now().UTC(),
		}
		if err := conn.WriteJSON(frame); err != nil {
			log.Warn("settings_update delivery failed", zap.Error(err))
		}

	case message.TypeCoreStatusUpdate:
		var status message.CoreStatusUpdate
		if err := env.Decode(&status); err != nil {
			return
		}
		s.SetOSSettings(status.Status)

	case message.TypeConnectionInit:
		// Already acknowledged at upgrade time; repeated inits get a fresh
		// snapshot.
		s.SendAppState()

	case message.TypeVad, message.TypeGlassesConnState,
		message.TypeHeadPosition, message.TypeButtonPress,
		message.TypePhoneNotification, message.TypeNotificationDismissed:
		h.router.Broadcast(s, env.Type, env.Raw)

	default:
		// Unknown types pass through: new device firmware may emit events
		// the cloud predates, and subscribed TPAs still want them.
		h.router.Broadcast(s, env.Type, env.Raw)
	}
}
