package session

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/augmentos/cloud/internal/common/config"
	"github.com/augmentos/cloud/internal/common/logger"
)

func testConfig() *config.Config {
	return &config.Config{
		Session:   testSessionConfig(),
		Heartbeat: config.HeartbeatConfig{PingIntervalSec: 15, MaxMissedPings: 3, CriticalSilenceSec: 45},
	}
}

func newTestRegistry(t *testing.T, graceSeconds int) *Registry {
	t.Helper()
	cfg := testConfig()
	cfg.Session.GlassesGraceSeconds = graceSeconds
	r := NewRegistry(cfg, logger.Default(), nil, Deps{})
	t.Cleanup(r.Shutdown)
	return r
}

func TestCreateOrReuseIsIdempotentPerUser(t *testing.T) {
	r := newTestRegistry(t, 45)

	first, reused := r.CreateOrReuse("u1", newFakeConn())
	assert.False(t, reused)
	assert.Equal(t, 1, r.Count())

	second, reused := r.CreateOrReuse("u1", newFakeConn())
	assert.True(t, reused)
	assert.Same(t, first, second)
	assert.Equal(t, 1, r.Count())

	_, reused = r.CreateOrReuse("u2", newFakeConn())
	assert.False(t, reused)
	assert.Equal(t, 2, r.Count())
}

func TestReconnectAdoptsSessionState(t *testing.T) {
	r := newTestRegistry(t, 45)

	s, _ := r.CreateOrReuse("u1", newFakeConn())
	s.AdmitApp("p1", newFakeConn())
	s.UpdateSubscriptions("p1", []string{"vad"})

	r.MarkDisconnected("u1")
	require.NotNil(t, s.DisconnectedAt())

	adopted, reused := r.CreateOrReuse("u1", newFakeConn())
	assert.True(t, reused)
	assert.Same(t, s, adopted)
	assert.Nil(t, adopted.DisconnectedAt())
	assert.Equal(t, []string{"p1"}, adopted.ActiveApps())
	assert.Equal(t, []string{"vad"}, adopted.SubscriptionsFor("p1"))
}

func TestGraceExpiryEndsSession(t *testing.T) {
	r := newTestRegistry(t, 1)

	glasses := newFakeConn()
	s, _ := r.CreateOrReuse("u1", glasses)
	tpa := newFakeConn()
	s.AdmitApp("p1", tpa)

	glasses.Close(1006, "")
	r.MarkDisconnected("u1")

	require.Eventually(t, func() bool {
		return r.Count() == 0
	}, 3*time.Second, 20*time.Millisecond)

	// Teardown closed the TPA channel with the session-ended code.
	assert.Equal(t, 1001, tpa.closeCode)
}

func TestReconnectWithinGraceCancelsCleanup(t *testing.T) {
	r := newTestRegistry(t, 1)

	glasses := newFakeConn()
	s, _ := r.CreateOrReuse("u1", glasses)
	glasses.Close(1006, "")
	r.MarkDisconnected("u1")

	_, reused := r.CreateOrReuse("u1", newFakeConn())
	require.True(t, reused)

	time.Sleep(1500 * time.Millisecond)
	assert.Equal(t, 1, r.Count())
	got, ok := r.Get("u1")
	assert.True(t, ok)
	assert.Same(t, s, got)
}

func TestEndIsIdempotent(t *testing.T) {
	r := newTestRegistry(t, 45)
	r.CreateOrReuse("u1", newFakeConn())

	r.End("u1")
	r.End("u1")
	assert.Zero(t, r.Count())
}
