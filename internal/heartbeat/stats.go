package heartbeat

import (
	"strings"
	"time"
)

// DisconnectReason classifies why a connection went away.
type DisconnectReason string

const (
	ReasonNormal        DisconnectReason = "normal"
	ReasonHealthMonitor DisconnectReason = "health_monitor"
	ReasonExplicitStop  DisconnectReason = "explicit_stop"
	ReasonNetworkError  DisconnectReason = "network_error"
	ReasonUnknown       DisconnectReason = "unknown"
)

// latencyWindow bounds the rolling latency sample count per connection.
const latencyWindow = 10

// Stats tracks per-connection liveness accounting.
type Stats struct {
	StartTime    time.Time
	LastActivity time.Time
	LastPong     time.Time
	MissedPings  int
	TotalBytes   int64
	MessageCount int64

	latencies []time.Duration

	Disconnect *DisconnectRecord
}

// DisconnectRecord is the structured summary captured when a connection is
// classified as gone.
type DisconnectRecord struct {
	Reason       DisconnectReason
	Code         int
	Message      string
	Time         time.Time
	Uptime       time.Duration
	TotalBytes   int64
	MessageCount int64
	AvgLatency   time.Duration
}

func newStats(now time.Time) Stats {
	return Stats{
		StartTime:    now,
		LastActivity: now,
		LastPong:     now,
	}
}

// recordLatency appends a sample, keeping only the most recent window.
func (s *Stats) recordLatency(d time.Duration) {
	s.latencies = append(s.latencies, d)
	if len(s.latencies) > latencyWindow {
		s.latencies = s.latencies[len(s.latencies)-latencyWindow:]
	}
}

// AvgLatency returns the mean of the rolling latency window.
func (s *Stats) AvgLatency() time.Duration {
	if len(s.latencies) == 0 {
		return 0
	}
	var total time.Duration
	for _, d := range s.latencies {
		total += d
	}
	return total / time.Duration(len(s.latencies))
}

// Classify maps an observed close code and reason text to a disconnect
// reason. Codes 1000/1001 are orderly; 4000 is our own heartbeat
// termination; the 1002..1015 range is a transport failure.
func Classify(code int, reason string) DisconnectReason {
	switch {
	case code == 1000 || code == 1001:
		return ReasonNormal
	case code == 4000:
		return ReasonHealthMonitor
	case strings.Contains(reason, "App stopped"):
		return ReasonExplicitStop
	case code >= 1002 && code <= 1015:
		return ReasonNetworkError
	default:
		return ReasonUnknown
	}
}
