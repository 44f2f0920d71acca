// Package session owns the per-user aggregate: the glasses channel, the TPA
// channel map, subscription and photo state, transcripts, and the audio
// buffer. All mutations of one session run under its coarse lock.
package session

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/augmentos/cloud/internal/appstore"
	"github.com/augmentos/cloud/internal/common/config"
	"github.com/augmentos/cloud/internal/common/logger"
	"github.com/augmentos/cloud/internal/photo"
	"github.com/augmentos/cloud/internal/subscription"
	"github.com/augmentos/cloud/pkg/message"
)

// Session is the per-user aggregate. Its identifier equals the userId.
type Session struct {
	UserID    string
	StartTime time.Time

	logger *logger.Logger
	cfg    config.SessionConfig

	// Sub-managers. The session uniquely owns these instances.
	Subs        *subscription.Manager
	Photos      *photo.Correlator
	Transcripts *TranscriptStore
	Audio       *AudioBuffer

	transcription TranscriptionEngine
	display       DisplayManager
	dashboard     DashboardManager

	mu sync.Mutex

	glasses       Conn
	appConns      map[string]Conn
	activeApps    []string
	loadingApps   map[string]struct{}
	explicitStops map[string]struct{}

	disconnectedAt *time.Time
	cleanupTimer   *time.Timer
	graceTimers    map[string]*time.Timer
	startTimers    map[string]*time.Timer

	isTranscribing bool
	mic            *micDebouncer
	micSent        *bool

	osSettings    map[string]any
	installedApps []*appstore.App

	lastLocation *message.LocationUpdate
	lastCalendar *message.CalendarEvent
}

// Deps bundles the collaborators a session needs at construction. Explicit
// injection; the aggregate holds interface references only.
type Deps struct {
	Config        config.SessionConfig
	Logger        *logger.Logger
	Transcription TranscriptionEngine
	Display       DisplayManager
	Dashboard     DashboardManager
}

// New allocates a session with all sub-managers.
func New(userID string, deps Deps) *Session {
	log := deps.Logger.WithUserID(userID)
	if deps.Transcription == nil {
		deps.Transcription = NoopTranscription{}
	}
	if deps.Display == nil {
		deps.Display = NoopDisplay{}
	}
	if deps.Dashboard == nil {
		deps.Dashboard = NoopDashboard{}
	}

	s := &Session{
		UserID:        userID,
		StartTime:     time.Now(),
		logger:        log,
		cfg:           deps.Config,
		Subs:          subscription.NewManager(log),
		Photos:        photo.NewCorrelator(log),
		Transcripts:   NewTranscriptStore(),
		Audio:         NewAudioBuffer(),
		transcription: deps.Transcription,
		display:       deps.Display,
		dashboard:     deps.Dashboard,
		appConns:      make(map[string]Conn),
		loadingApps:   make(map[string]struct{}),
		explicitStops: make(map[string]struct{}),
		graceTimers:   make(map[string]*time.Timer),
		startTimers:   make(map[string]*time.Timer),
		osSettings:    make(map[string]any),
	}
	s.Audio.StartPruning()
	return s
}

// Logger returns the session-scoped logger.
func (s *Session) Logger() *logger.Logger { return s.logger }

// Display returns the display boundary.
func (s *Session) Display() DisplayManager { return s.display }

// Dashboard returns the dashboard boundary.
func (s *Session) Dashboard() DashboardManager { return s.dashboard }

// Transcription returns the speech-recognition boundary.
func (s *Session) Transcription() TranscriptionEngine { return s.transcription }

// BindGlasses rebinds the glasses channel. Any pending cleanup timer is
// cancelled and the session becomes connected again.
func (s *Session) BindGlasses(conn Conn) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cleanupTimer != nil {
		s.cleanupTimer.Stop()
		s.cleanupTimer = nil
	}
	s.glasses = conn
	s.disconnectedAt = nil
	// The device may have rebooted; the next mic sync must re-emit.
	s.micSent = nil
}

// GlassesConn returns the current glasses channel, which may be nil.
func (s *Session) GlassesConn() Conn {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.glasses
}

// IsGlassesConnected reports whether an open glasses channel is bound.
func (s *Session) IsGlassesConnected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.glasses != nil && s.glasses.IsOpen()
}

// MarkDisconnected records the glasses going away: transcription stops and
// disconnectedAt is stamped. The socket reference is kept so in-flight
// handlers can detect staleness. The caller schedules the cleanup check.
func (s *Session) MarkDisconnected() {
	s.mu.Lock()
	if s.cleanupTimer != nil {
		s.cleanupTimer.Stop()
		s.cleanupTimer = nil
	}
	now := time.Now()
	s.disconnectedAt = &now
	s.isTranscribing = false
	s.mu.Unlock()

	s.transcription.Stop(s.UserID)
	s.logger.Info("session marked disconnected")
}

// DisconnectedAt returns the disconnect stamp, nil while connected.
func (s *Session) DisconnectedAt() *time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.disconnectedAt
}

// ScheduleCleanup arms the end-of-grace check. Any prior timer is replaced.
func (s *Session) ScheduleCleanup(after time.Duration, fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cleanupTimer != nil {
		s.cleanupTimer.Stop()
	}
	s.cleanupTimer = time.AfterFunc(after, fn)
}

// Snapshot builds the glasses-side view of what is running.
func (s *Session) Snapshot() message.UserSessionView {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

func (s *Session) snapshotLocked() message.UserSessionView {
	active := make([]string, len(s.activeApps))
	copy(active, s.activeApps)
	loading := make([]string, 0, len(s.loadingApps))
	for p := range s.loadingApps {
		loading = append(loading, p)
	}
	return message.UserSessionView{
		UserID:            s.UserID,
		StartTime:         s.StartTime.UTC().Format(time.RFC3339),
		ActiveAppSessions: active,
		LoadingApps:       loading,
		IsTranscribing:    s.isTranscribing,
	}
}

// SendToGlasses writes a frame to the glasses channel if one is open.
func (s *Session) SendToGlasses(v any) error {
	conn := s.GlassesConn()
	if conn == nil || !conn.IsOpen() {
		return nil
	}
	return conn.WriteJSON(v)
}

// SendAppState pushes the current app_state_change snapshot to the glasses.
func (s *Session) SendAppState() {
	frame := message.AppStateChange{
		Type:        message.TypeAppStateChange,
		UserSession: s.Snapshot(),
		Timestamp:   time.Now().UTC(),
	}
	if err := s.SendToGlasses(frame); err != nil {
		s.logger.Warn("app_state_change delivery failed", zap.Error(err))
	}
}

// StartLoading marks a package as loading. Returns false when the package
// is already loading or active (idempotent start).
func (s *Session) StartLoading(packageName string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, loading := s.loadingApps[packageName]; loading {
		return false
	}
	if s.isActiveLocked(packageName) {
		return false
	}
	s.loadingApps[packageName] = struct{}{}
	return true
}

// AbandonLoad drops a package from the loading set, if present.
func (s *Session) AbandonLoad(packageName string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.loadingApps[packageName]; !ok {
		return false
	}
	delete(s.loadingApps, packageName)
	return true
}

// MarkActive appends a package to the ordered active list, moving it out of
// loading. No-op when already active.
func (s *Session) MarkActive(packageName string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.loadingApps, packageName)
	if !s.isActiveLocked(packageName) {
		s.activeApps = append(s.activeApps, packageName)
	}
}

// AdmitApp registers a TPA channel after init validation: the grace timer
// (if any) is cancelled and the package moves from loading to active. The
// channel exists in appConns only while the package is active.
func (s *Session) AdmitApp(packageName string, conn Conn) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if t, ok := s.graceTimers[packageName]; ok {
		t.Stop()
		delete(s.graceTimers, packageName)
	}
	delete(s.loadingApps, packageName)
	delete(s.explicitStops, packageName)
	if !s.isActiveLocked(packageName) {
		s.activeApps = append(s.activeApps, packageName)
	}
	s.appConns[packageName] = conn
}

// RemoveApp removes the package from the active list and channel map,
// returning the channel (possibly nil) for the caller to close.
func (s *Session) RemoveApp(packageName string) Conn {
	s.mu.Lock()
	defer s.mu.Unlock()

	conn := s.appConns[packageName]
	delete(s.appConns, packageName)
	delete(s.loadingApps, packageName)
	for i, p := range s.activeApps {
		if p == packageName {
			s.activeApps = append(s.activeApps[:i], s.activeApps[i+1:]...)
			break
		}
	}
	return conn
}

// DropAppConn removes only the channel entry, keeping the package active.
// Used when a TPA socket dies and the reconnect grace window begins.
func (s *Session) DropAppConn(packageName string, conn Conn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	// A replacement socket may already be admitted; only drop our own.
	if s.appConns[packageName] == conn {
		delete(s.appConns, packageName)
	}
}

// AppConn returns the channel for an active package, if registered.
func (s *Session) AppConn(packageName string) (Conn, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	conn, ok := s.appConns[packageName]
	return conn, ok
}

// IsActive reports whether a package is in the active list.
func (s *Session) IsActive(packageName string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.isActiveLocked(packageName)
}

func (s *Session) isActiveLocked(packageName string) bool {
	for _, p := range s.activeApps {
		if p == packageName {
			return true
		}
	}
	return false
}

// IsLoading reports whether a package start is in flight.
func (s *Session) IsLoading(packageName string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.loadingApps[packageName]
	return ok
}

// ActiveApps returns a copy of the ordered active package list.
func (s *Session) ActiveApps() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.activeApps))
	copy(out, s.activeApps)
	return out
}

// MarkExplicitStop flags the next close of this package's channel as
// developer-initiated, bypassing the reconnect grace.
func (s *Session) MarkExplicitStop(packageName string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.explicitStops[packageName] = struct{}{}
}

// ConsumeExplicitStop reports and clears the explicit-stop flag.
func (s *Session) ConsumeExplicitStop(packageName string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.explicitStops[packageName]
	delete(s.explicitStops, packageName)
	return ok
}

// StartGraceTimer arms the reconnect-grace timer for a package, replacing
// any prior one.
func (s *Session) StartGraceTimer(packageName string, after time.Duration, fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t, ok := s.graceTimers[packageName]; ok {
		t.Stop()
	}
	s.graceTimers[packageName] = time.AfterFunc(after, fn)
}

// CancelGraceTimer stops a package's reconnect-grace timer. Returns whether
// a timer was pending.
func (s *Session) CancelGraceTimer(packageName string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.graceTimers[packageName]
	if ok {
		t.Stop()
		delete(s.graceTimers, packageName)
	}
	return ok
}

// ScheduleStartTimeout arms the start-window timer for a loading package.
func (s *Session) ScheduleStartTimeout(packageName string, after time.Duration, fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t, ok := s.startTimers[packageName]; ok {
		t.Stop()
	}
	s.startTimers[packageName] = time.AfterFunc(after, fn)
}

// CancelStartTimeout stops a package's start-window timer.
func (s *Session) CancelStartTimeout(packageName string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t, ok := s.startTimers[packageName]; ok {
		t.Stop()
		delete(s.startTimers, packageName)
	}
}

// SetTranscribing flips the transcription flag in the snapshot.
func (s *Session) SetTranscribing(on bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.isTranscribing = on
}

// IsTranscribing reports the transcription flag.
func (s *Session) IsTranscribing() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.isTranscribing
}

// SetOSSettings replaces the device settings snapshot.
func (s *Session) SetOSSettings(settings map[string]any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.osSettings = settings
}

// OSSettings returns the device settings snapshot.
func (s *Session) OSSettings() map[string]any {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.osSettings
}

// SetInstalledApps refreshes the installed-apps snapshot (done on connect
// and reconnect).
func (s *Session) SetInstalledApps(apps []*appstore.App) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.installedApps = apps
}

// InstalledApps returns the installed-apps snapshot.
func (s *Session) InstalledApps() []*appstore.App {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.installedApps
}

// CacheLocation stores the most recent location for late subscribers.
func (s *Session) CacheLocation(loc *message.LocationUpdate) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastLocation = loc
}

// LastLocation returns the cached location, nil if none seen.
func (s *Session) LastLocation() *message.LocationUpdate {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastLocation
}

// CacheCalendar stores the most recent calendar event for late subscribers.
func (s *Session) CacheCalendar(ev *message.CalendarEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastCalendar = ev
}

// LastCalendar returns the cached calendar event, nil if none seen.
func (s *Session) LastCalendar() *message.CalendarEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastCalendar
}

// End tears the session down: transcription stops, the audio prune loop
// stops, every timer is cancelled, dashboard and transcript state is
// dropped, and each TPA channel is closed with the session-ended code.
// Timers may already have fired; End tolerates that.
func (s *Session) End() {
	s.transcription.Stop(s.UserID)
	s.Audio.StopPruning()
	s.Photos.Shutdown()
	s.dashboard.Clear(s.UserID)
	s.Transcripts.Clear()

	s.mu.Lock()
	if s.cleanupTimer != nil {
		s.cleanupTimer.Stop()
		s.cleanupTimer = nil
	}
	for p, t := range s.graceTimers {
		t.Stop()
		delete(s.graceTimers, p)
	}
	for p, t := range s.startTimers {
		t.Stop()
		delete(s.startTimers, p)
	}
	if s.mic != nil && s.mic.timer != nil {
		s.mic.timer.Stop()
	}
	s.mic = nil
	s.isTranscribing = false

	conns := make([]Conn, 0, len(s.appConns))
	for p, conn := range s.appConns {
		conns = append(conns, conn)
		delete(s.appConns, p)
	}
	s.activeApps = nil
	s.loadingApps = make(map[string]struct{})
	s.mu.Unlock()

	for _, conn := range conns {
		if conn.IsOpen() {
			_ = conn.Close(message.CloseSessionEnded, "session ended")
		}
	}
	s.logger.Info("session ended")
}
