package session

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/augmentos/cloud/internal/common/config"
	"github.com/augmentos/cloud/internal/common/logger"
	"github.com/augmentos/cloud/internal/events"
	"github.com/augmentos/cloud/internal/events/bus"
)

// Registry is the only cross-session structure: userId to session. All
// mutations are O(1) map updates under one lock.
type Registry struct {
	cfg    *config.Config
	logger *logger.Logger
	bus    bus.EventBus
	deps   Deps

	mu       sync.Mutex
	sessions map[string]*Session
}

// NewRegistry creates an empty registry. deps is the template handed to
// every new session.
func NewRegistry(cfg *config.Config, log *logger.Logger, eventBus bus.EventBus, deps Deps) *Registry {
	deps.Config = cfg.Session
	if deps.Logger == nil {
		deps.Logger = log
	}
	return &Registry{
		cfg:      cfg,
		logger:   log.WithFields(zap.String("component", "session-registry")),
		bus:      eventBus,
		deps:     deps,
		sessions: make(map[string]*Session),
	}
}

// CreateOrReuse binds a fresh glasses channel. A session surviving its
// disconnect grace is adopted as-is (active apps, subscriptions, transcripts
// all intact); otherwise a new one is created. Reports whether an existing
// session was reused.
func (r *Registry) CreateOrReuse(userID string, conn Conn) (*Session, bool) {
	r.mu.Lock()
	s, reused := r.sessions[userID]
	if !reused {
		s = New(userID, r.deps)
		r.sessions[userID] = s
	}
	r.mu.Unlock()

	s.BindGlasses(conn)

	if reused {
		r.logger.Info("session reused on reconnect", zap.String("user_id", userID))
	} else {
		r.logger.Info("session created", zap.String("user_id", userID))
	}
	r.publish(events.SubjectSessionConnected, map[string]any{
		"userId": userID,
		"reused": reused,
	})
	return s, reused
}

// MarkDisconnected flags the glasses gone and arms the grace-period cleanup.
// The session ends only if the glasses channel is still closed when the
// timer fires; a reconnect inside the window adopts the session instead.
func (r *Registry) MarkDisconnected(userID string) {
	r.mu.Lock()
	s, ok := r.sessions[userID]
	r.mu.Unlock()
	if !ok {
		return
	}

	s.MarkDisconnected()
	s.ScheduleCleanup(r.cfg.Session.GlassesGrace(), func() {
		if s.IsGlassesConnected() {
			return
		}
		// Stale check: a reconnect may have replaced and re-dropped the
		// channel, rescheduling its own cleanup.
		if s.DisconnectedAt() == nil {
			return
		}
		r.End(userID)
	})

	r.publish(events.SubjectSessionDisconnected, map[string]any{
		"userId": userID,
	})
}

// End tears down and removes a session. Idempotent.
func (r *Registry) End(userID string) {
	r.mu.Lock()
	s, ok := r.sessions[userID]
	if ok {
		delete(r.sessions, userID)
	}
	r.mu.Unlock()
	if !ok {
		return
	}

	s.End()
	r.publish(events.SubjectSessionEnded, map[string]any{
		"userId": userID,
	})
}

// Get returns the session for a user, if one exists.
func (r *Registry) Get(userID string) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[userID]
	return s, ok
}

// Count returns the number of live sessions.
func (r *Registry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// Shutdown ends every session. Used on process exit.
func (r *Registry) Shutdown() {
	r.mu.Lock()
	ids := make([]string, 0, len(r.sessions))
	for id := range r.sessions {
		ids = append(ids, id)
	}
	r.mu.Unlock()

	for _, id := range ids {
		r.End(id)
	}
}

func (r *Registry) publish(subject string, data map[string]any) {
	if r.bus == nil {
		return
	}
	ev := bus.NewEvent(subject, events.Source, data)
	if err := r.bus.Publish(context.Background(), subject, ev); err != nil {
		r.logger.Warn("event publish failed",
			zap.String("subject", subject),
			zap.Error(err))
	}
}
