package session

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/augmentos/cloud/internal/common/config"
	"github.com/augmentos/cloud/internal/common/logger"
	"github.com/augmentos/cloud/pkg/message"
)

type fakeConn struct {
	mu        sync.Mutex
	open      bool
	frames    []any
	binaries  [][]byte
	closeCode int
	closeText string
}

func newFakeConn() *fakeConn { return &fakeConn{open: true} }

func (c *fakeConn) WriteJSON(v any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.frames = append(c.frames, v)
	return nil
}

func (c *fakeConn) WriteBinary(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.binaries = append(c.binaries, data)
	return nil
}

func (c *fakeConn) Close(code int, reason string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.open = false
	c.closeCode = code
	c.closeText = reason
	return nil
}

func (c *fakeConn) IsOpen() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.open
}

func (c *fakeConn) sent() []any {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]any, len(c.frames))
	copy(out, c.frames)
	return out
}

type fakeEngine struct {
	mu      sync.Mutex
	starts  int
	stops   int
	fed     [][]byte
	streams []string
}

func (e *fakeEngine) Start(string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.starts++
	return nil
}

func (e *fakeEngine) Stop(string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.stops++
}

func (e *fakeEngine) Feed(_ string, pcm []byte) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.fed = append(e.fed, pcm)
}

func (e *fakeEngine) UpdateStreams(_ string, streams []string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.streams = streams
}

func (e *fakeEngine) counts() (starts, stops int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.starts, e.stops
}

func testSessionConfig() config.SessionConfig {
	return config.SessionConfig{
		GlassesGraceSeconds: 45,
		AppGraceMs:          5000,
		AppStartTimeoutMs:   5000,
		AutoRestart:         true,
		AutoRestartDelayMs:  500,
		MicDebounceMs:       40,
		PhotoTimeoutTpaSec:  30,
		PhotoTimeoutSysSec:  60,
	}
}

func newTestSession(t *testing.T) (*Session, *fakeEngine) {
	t.Helper()
	engine := &fakeEngine{}
	s := New("u1", Deps{
		Config:        testSessionConfig(),
		Logger:        logger.Default(),
		Transcription: engine,
	})
	t.Cleanup(s.End)
	return s, engine
}

func TestLoadingAndActiveAreDisjoint(t *testing.T) {
	s, _ := newTestSession(t)

	require.True(t, s.StartLoading("p1"))
	assert.True(t, s.IsLoading("p1"))
	assert.False(t, s.IsActive("p1"))

	// A second start while loading is rejected.
	assert.False(t, s.StartLoading("p1"))

	s.MarkActive("p1")
	assert.False(t, s.IsLoading("p1"))
	assert.True(t, s.IsActive("p1"))

	// A start while active is rejected too.
	assert.False(t, s.StartLoading("p1"))
}

func TestAdmitAppRegistersChannel(t *testing.T) {
	s, _ := newTestSession(t)
	conn := newFakeConn()

	require.True(t, s.StartLoading("p1"))
	s.AdmitApp("p1", conn)

	assert.True(t, s.IsActive("p1"))
	assert.False(t, s.IsLoading("p1"))
	got, ok := s.AppConn("p1")
	require.True(t, ok)
	assert.Equal(t, conn, got.(*fakeConn))
}

func TestRemoveAppReturnsChannel(t *testing.T) {
	s, _ := newTestSession(t)
	conn := newFakeConn()
	s.AdmitApp("p1", conn)

	got := s.RemoveApp("p1")
	assert.Equal(t, conn, got.(*fakeConn))
	assert.False(t, s.IsActive("p1"))
	_, ok := s.AppConn("p1")
	assert.False(t, ok)

	// Removing again yields no channel.
	assert.Nil(t, s.RemoveApp("p1"))
}

func TestDropAppConnOnlyDropsOwnChannel(t *testing.T) {
	s, _ := newTestSession(t)
	old := newFakeConn()
	s.AdmitApp("p1", old)

	replacement := newFakeConn()
	s.AdmitApp("p1", replacement)

	// The stale socket's close must not evict the replacement.
	s.DropAppConn("p1", old)
	got, ok := s.AppConn("p1")
	require.True(t, ok)
	assert.Equal(t, replacement, got.(*fakeConn))
}

func TestExplicitStopFlagIsConsumedOnce(t *testing.T) {
	s, _ := newTestSession(t)

	s.MarkExplicitStop("p1")
	assert.True(t, s.ConsumeExplicitStop("p1"))
	assert.False(t, s.ConsumeExplicitStop("p1"))
}

func TestSnapshotReflectsState(t *testing.T) {
	s, _ := newTestSession(t)
	s.AdmitApp("p1", newFakeConn())
	s.StartLoading("p2")
	s.SetTranscribing(true)

	view := s.Snapshot()
	assert.Equal(t, "u1", view.UserID)
	assert.Equal(t, []string{"p1"}, view.ActiveAppSessions)
	assert.Equal(t, []string{"p2"}, view.LoadingApps)
	assert.True(t, view.IsTranscribing)
}

func TestBindGlassesClearsDisconnectState(t *testing.T) {
	s, _ := newTestSession(t)

	s.MarkDisconnected()
	require.NotNil(t, s.DisconnectedAt())

	s.BindGlasses(newFakeConn())
	assert.Nil(t, s.DisconnectedAt())
	assert.True(t, s.IsGlassesConnected())
}

func TestMarkDisconnectedStopsTranscription(t *testing.T) {
	s, engine := newTestSession(t)
	s.SetTranscribing(true)

	s.MarkDisconnected()

	assert.False(t, s.IsTranscribing())
	_, stops := engine.counts()
	assert.Equal(t, 1, stops)
}

func TestEndClosesTpaChannelsWithSessionEnded(t *testing.T) {
	engine := &fakeEngine{}
	s := New("u1", Deps{
		Config:        testSessionConfig(),
		Logger:        logger.Default(),
		Transcription: engine,
	})

	a, b := newFakeConn(), newFakeConn()
	s.AdmitApp("p1", a)
	s.AdmitApp("p2", b)
	s.AddTranscript(TranscriptSegment{Text: "hello"})

	s.End()

	assert.Equal(t, 1001, a.closeCode)
	assert.Equal(t, 1001, b.closeCode)
	assert.Empty(t, s.ActiveApps())
	assert.Empty(t, s.Transcripts.Segments())
	assert.Zero(t, s.Photos.PendingCount())
}

func TestCachedContext(t *testing.T) {
	s, _ := newTestSession(t)
	assert.Nil(t, s.LastLocation())
	assert.Nil(t, s.LastCalendar())

	s.CacheLocation(&message.LocationUpdate{Type: message.TypeLocationUpdate, Lat: 48.8566, Lng: 2.3522})
	require.NotNil(t, s.LastLocation())
	assert.Equal(t, 48.8566, s.LastLocation().Lat)

	s.CacheCalendar(&message.CalendarEvent{Type: message.TypeCalendarEvent, Title: "standup"})
	require.NotNil(t, s.LastCalendar())
	assert.Equal(t, "standup", s.LastCalendar().Title)
}
