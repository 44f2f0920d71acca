// Package analytics emits product analytics events. The sink is the event
// bus; a downstream consumer ships them to the analytics provider.
package analytics

import (
	"context"

	"github.com/augmentos/cloud/internal/common/logger"
	"github.com/augmentos/cloud/internal/events"
	"github.com/augmentos/cloud/internal/events/bus"
)

// Tracker is the analytics boundary.
type Tracker interface {
	TrackEvent(ctx context.Context, name, userID string, props map[string]any)
}

// BusTracker publishes analytics events to the event bus.
type BusTracker struct {
	bus    bus.EventBus
	logger *logger.Logger
}

// NewBusTracker creates a Tracker backed by the event bus.
func NewBusTracker(b bus.EventBus, log *logger.Logger) *BusTracker {
	return &BusTracker{bus: b, logger: log}
}

// TrackEvent publishes one analytics event. Failures are logged and dropped;
// analytics must never disturb the session path.
func (t *BusTracker) TrackEvent(ctx context.Context, name, userID string, props map[string]any) {
	data := map[string]any{"user_id": userID}
	for k, v := range props {
		data[k] = v
	}
	event := bus.NewEvent(name, events.Source, data)
	if err := t.bus.Publish(ctx, events.SubjectAnalytics, event); err != nil {
		t.logger.WithError(err).Warn("analytics event dropped")
	}
}

// Noop is a Tracker that discards everything.
type Noop struct{}

// TrackEvent implements Tracker.
func (Noop) TrackEvent(context.Context, string, string, map[string]any) {}
