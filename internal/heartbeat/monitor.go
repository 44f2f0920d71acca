// Package heartbeat provides ping/pong liveness monitoring for glasses and
// TPA sockets, missed-ping escalation, and disconnect classification.
package heartbeat

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/augmentos/cloud/internal/common/config"
	"github.com/augmentos/cloud/internal/common/logger"
)

// Kind distinguishes the two monitored populations. Each runs on its own
// scheduler so a stall in one sweep cannot delay the other.
type Kind int

const (
	KindGlasses Kind = iota
	KindTpa
)

func (k Kind) String() string {
	if k == KindGlasses {
		return "glasses"
	}
	return "tpa"
}

// Conn is the subset of a socket the monitor drives.
type Conn interface {
	// Ping sends a ping control frame carrying the payload.
	Ping(payload []byte) error
	// Close starts an orderly close with the given code and reason.
	Close(code int, reason string) error
	// ForceClose tears the transport down immediately.
	ForceClose()
	// IsOpen reports whether the socket is still usable.
	IsOpen() bool
}

// Tracked is one registered connection.
type Tracked struct {
	conn  Conn
	kind  Kind
	label string

	mu    sync.Mutex
	stats Stats
}

// Activity bumps lastActivity and byte/message accounting. Called for every
// inbound frame.
func (t *Tracked) Activity(bytes int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stats.LastActivity = time.Now()
	t.stats.TotalBytes += int64(bytes)
	t.stats.MessageCount++
}

// Pong resets the missed-ping counter and records a latency sample computed
// from the timestamp the ping carried.
func (t *Tracked) Pong(payload string) {
	now := time.Now()

	t.mu.Lock()
	defer t.mu.Unlock()
	t.stats.LastPong = now
	t.stats.LastActivity = now
	t.stats.MissedPings = 0
	if sent, err := time.Parse(time.RFC3339Nano, payload); err == nil {
		t.stats.recordLatency(now.Sub(sent))
	}
}

// Stats returns a copy of the current accounting.
func (t *Tracked) Stats() Stats {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stats
}

// CaptureDisconnect records the structured disconnect summary for an
// observed close. Subsequent calls keep the first record.
func (t *Tracked) CaptureDisconnect(code int, reasonText string) *DisconnectRecord {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.stats.Disconnect != nil {
		return t.stats.Disconnect
	}
	now := time.Now()
	t.stats.Disconnect = &DisconnectRecord{
		Reason:       Classify(code, reasonText),
		Code:         code,
		Message:      reasonText,
		Time:         now,
		Uptime:       now.Sub(t.stats.StartTime),
		TotalBytes:   t.stats.TotalBytes,
		MessageCount: t.stats.MessageCount,
		AvgLatency:   t.stats.AvgLatency(),
	}
	return t.stats.Disconnect
}

// forceTerminateGrace is the pause between an orderly heartbeat close and
// the forced transport teardown.
const forceTerminateGrace = time.Second

// Monitor owns the two ping schedulers and the registered connection sets.
type Monitor struct {
	cfg    config.HeartbeatConfig
	logger *logger.Logger

	mu      sync.Mutex
	tracked map[Kind]map[*Tracked]struct{}
}

// NewMonitor creates a heartbeat monitor.
func NewMonitor(cfg config.HeartbeatConfig, log *logger.Logger) *Monitor {
	return &Monitor{
		cfg:    cfg,
		logger: log.WithFields(zap.String("component", "heartbeat")),
		tracked: map[Kind]map[*Tracked]struct{}{
			KindGlasses: make(map[*Tracked]struct{}),
			KindTpa:     make(map[*Tracked]struct{}),
		},
	}
}

// Register starts tracking a connection. label identifies it in logs
// (userId for glasses, virtual session id for TPAs).
func (m *Monitor) Register(conn Conn, kind Kind, label string) *Tracked {
	t := &Tracked{
		conn:  conn,
		kind:  kind,
		label: label,
		stats: newStats(time.Now()),
	}

	m.mu.Lock()
	m.tracked[kind][t] = struct{}{}
	m.mu.Unlock()

	m.logger.Debug("connection registered",
		zap.String("kind", kind.String()),
		zap.String("label", label))
	return t
}

// Unregister stops tracking a connection.
func (m *Monitor) Unregister(t *Tracked) {
	if t == nil {
		return
	}
	m.mu.Lock()
	delete(m.tracked[t.kind], t)
	m.mu.Unlock()
}

// Run drives both schedulers until the context is cancelled.
func (m *Monitor) Run(ctx context.Context) error {
	glassesTicker := time.NewTicker(m.cfg.PingInterval())
	tpaTicker := time.NewTicker(m.cfg.PingInterval())
	defer glassesTicker.Stop()
	defer tpaTicker.Stop()

	m.logger.Info("heartbeat monitor started",
		zap.Duration("ping_interval", m.cfg.PingInterval()),
		zap.Int("max_missed_pings", m.cfg.MaxMissedPings))

	for {
		select {
		case <-ctx.Done():
			m.logger.Info("heartbeat monitor stopped")
			return ctx.Err()
		case <-glassesTicker.C:
			m.Sweep(KindGlasses)
		case <-tpaTicker.C:
			m.Sweep(KindTpa)
		}
	}
}

// Sweep runs one scheduler tick for a population: each open socket gets a
// missed-ping increment and either another ping or, past the threshold and
// the critical silence window, a heartbeat termination.
func (m *Monitor) Sweep(kind Kind) {
	m.mu.Lock()
	conns := make([]*Tracked, 0, len(m.tracked[kind]))
	for t := range m.tracked[kind] {
		conns = append(conns, t)
	}
	m.mu.Unlock()

	now := time.Now()
	for _, t := range conns {
		if !t.conn.IsOpen() {
			continue
		}

		t.mu.Lock()
		t.stats.MissedPings++
		missed := t.stats.MissedPings
		silence := now.Sub(t.stats.LastPong)
		t.mu.Unlock()

		if missed < m.cfg.MaxMissedPings {
			m.sendPing(t)
			continue
		}

		if silence > m.cfg.CriticalSilence() {
			m.terminate(t, silence)
			continue
		}

		// Threshold reached but silence not yet critical: one more chance.
		m.sendPing(t)
	}
}

func (m *Monitor) sendPing(t *Tracked) {
	payload := []byte(time.Now().Format(time.RFC3339Nano))
	if err := t.conn.Ping(payload); err != nil {
		// The next sweep re-evaluates; a send failure here is not yet a
		// disconnect.
		m.logger.Warn("ping send failed",
			zap.String("kind", t.kind.String()),
			zap.String("label", t.label),
			zap.Error(err))
	}
}

func (m *Monitor) terminate(t *Tracked, silence time.Duration) {
	record := t.CaptureDisconnect(4000, "no pong responses")
	m.logger.Warn("terminating unresponsive connection",
		zap.String("kind", t.kind.String()),
		zap.String("label", t.label),
		zap.Duration("silence", silence),
		zap.Int64("total_bytes", record.TotalBytes),
		zap.Int64("messages", record.MessageCount),
		zap.Duration("avg_latency", record.AvgLatency))

	if err := t.conn.Close(4000, "no pong responses"); err != nil {
		m.logger.Debug("heartbeat close failed", zap.Error(err))
	}
	conn := t.conn
	time.AfterFunc(forceTerminateGrace, func() {
		if conn.IsOpen() {
			conn.ForceClose()
		}
	})
	m.Unregister(t)
}

// Counts returns the number of tracked connections per kind, for the health
// endpoint.
func (m *Monitor) Counts() (glasses, tpa int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.tracked[KindGlasses]), len(m.tracked[KindTpa])
}

// String implements fmt.Stringer for log convenience.
func (m *Monitor) String() string {
	g, t := m.Counts()
	return fmt.Sprintf("heartbeat{glasses=%d tpa=%d}", g, t)
}
