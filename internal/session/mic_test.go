package session

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/augmentos/cloud/pkg/message"
)

func micFrames(conn *fakeConn) []message.MicrophoneStateChange {
	var out []message.MicrophoneStateChange
	for _, f := range conn.sent() {
		if m, ok := f.(message.MicrophoneStateChange); ok {
			out = append(out, m)
		}
	}
	return out
}

func TestMicDebounceCollapsesOscillation(t *testing.T) {
	s, engine := newTestSession(t)
	conn := newFakeConn()
	s.BindGlasses(conn)

	// Rapid on/off/on inside one debounce window.
	s.RequestMicState(true)
	s.RequestMicState(false)
	s.RequestMicState(true)

	time.Sleep(4 * s.cfg.MicDebounce())

	frames := micFrames(conn)
	require.Len(t, frames, 1)
	assert.True(t, frames[0].IsMicrophoneEnabled)

	starts, stops := engine.counts()
	assert.Equal(t, 1, starts)
	assert.Zero(t, stops)
}

func TestMicTrailingEdgeEmitted(t *testing.T) {
	s, engine := newTestSession(t)
	conn := newFakeConn()
	s.BindGlasses(conn)

	s.RequestMicState(true)
	s.RequestMicState(false)

	time.Sleep(4 * s.cfg.MicDebounce())

	frames := micFrames(conn)
	require.Len(t, frames, 2)
	assert.True(t, frames[0].IsMicrophoneEnabled)
	assert.False(t, frames[1].IsMicrophoneEnabled)

	starts, stops := engine.counts()
	assert.Equal(t, 1, starts)
	assert.Equal(t, 1, stops)
}

func TestMicNeverRepeatsState(t *testing.T) {
	s, _ := newTestSession(t)
	conn := newFakeConn()
	s.BindGlasses(conn)

	s.RequestMicState(true)
	time.Sleep(4 * s.cfg.MicDebounce())

	// Asking for the already-sent state again, in a fresh window, must not
	// re-emit.
	s.RequestMicState(true)
	time.Sleep(4 * s.cfg.MicDebounce())

	frames := micFrames(conn)
	require.Len(t, frames, 1)

	s.RequestMicState(false)
	time.Sleep(4 * s.cfg.MicDebounce())
	frames = micFrames(conn)
	require.Len(t, frames, 2)
	assert.False(t, frames[1].IsMicrophoneEnabled)
}

func TestSyncMicStateFollowsMediaSubscriptions(t *testing.T) {
	s, engine := newTestSession(t)
	conn := newFakeConn()
	s.BindGlasses(conn)

	s.UpdateSubscriptions("p1", []string{"transcription:fr-FR"})
	s.SyncMicState()
	time.Sleep(4 * s.cfg.MicDebounce())

	assert.True(t, s.IsTranscribing())
	engine.mu.Lock()
	streams := engine.streams
	engine.mu.Unlock()
	assert.Equal(t, []string{"transcription:fr-FR"}, streams)

	s.RemoveSubscriptions("p1")
	s.SyncMicState()
	time.Sleep(4 * s.cfg.MicDebounce())

	assert.False(t, s.IsTranscribing())
	frames := micFrames(conn)
	require.Len(t, frames, 2)
	assert.False(t, frames[1].IsMicrophoneEnabled)
}
