// Package events defines the cloud's event bus subjects and provider.
package events

import (
	"github.com/augmentos/cloud/internal/common/config"
	"github.com/augmentos/cloud/internal/common/logger"
	"github.com/augmentos/cloud/internal/events/bus"
)

// Source identifies this service on the bus.
const Source = "augmentos-cloud"

// Subjects published by the connection and routing core.
const (
	SubjectSessionConnected    = "augmentos.session.connected"
	SubjectSessionDisconnected = "augmentos.session.disconnected"
	SubjectSessionEnded        = "augmentos.session.ended"
	SubjectAppStarted          = "augmentos.app.started"
	SubjectAppStopped          = "augmentos.app.stopped"
	SubjectAnalytics           = "augmentos.analytics"
)

// Provide selects the event bus implementation from configuration: NATS when
// a URL is set, in-memory otherwise. The returned cleanup closes the bus.
func Provide(cfg *config.Config, log *logger.Logger) (bus.EventBus, func(), error) {
	if cfg.NATS.URL == "" {
		b := bus.NewMemoryEventBus(log)
		return b, b.Close, nil
	}
	b, err := bus.NewNATSEventBus(cfg.NATS, log)
	if err != nil {
		return nil, nil, err
	}
	return b, b.Close, nil
}
