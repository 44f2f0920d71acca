package session

import "encoding/json"

// Conn is the subset of a websocket connection the session layer drives.
// The gateway provides the implementation.
type Conn interface {
	WriteJSON(v any) error
	WriteBinary(data []byte) error
	Close(code int, reason string) error
	IsOpen() bool
}

// TranscriptionEngine is the speech-recognition boundary. Failures inside
// the engine must only affect the ASR streams, never the session.
type TranscriptionEngine interface {
	Start(userID string) error
	Stop(userID string)
	Feed(userID string, pcm []byte)
	// UpdateStreams revises the set of language-parameterized descriptors
	// the engine should produce for this user.
	UpdateStreams(userID string, streams []string)
}

// DisplayManager is the display layout boundary. One-way dependency: it
// receives session facts as arguments and never reaches back into session
// state.
type DisplayManager interface {
	HandleAppStart(userID, packageName string)
	HandleAppStop(userID, packageName string)
	HandleDisplayEvent(userID, packageName string, event json.RawMessage)
}

// DashboardManager is the dashboard content boundary.
type DashboardManager interface {
	HandleContentUpdate(userID, packageName string, update json.RawMessage)
	HandleModeChange(userID, packageName string, update json.RawMessage)
	HandleSystemUpdate(userID string, update json.RawMessage)
	Clear(userID string)
}

// NoopDisplay satisfies DisplayManager with no behavior.
type NoopDisplay struct{}

func (NoopDisplay) HandleAppStart(string, string)                      {}
func (NoopDisplay) HandleAppStop(string, string)                       {}
func (NoopDisplay) HandleDisplayEvent(string, string, json.RawMessage) {}

// NoopDashboard satisfies DashboardManager with no behavior.
type NoopDashboard struct{}

func (NoopDashboard) HandleContentUpdate(string, string, json.RawMessage) {}
func (NoopDashboard) HandleModeChange(string, string, json.RawMessage)    {}
func (NoopDashboard) HandleSystemUpdate(string, json.RawMessage)          {}
func (NoopDashboard) Clear(string)                                        {}

// NoopTranscription satisfies TranscriptionEngine with no behavior.
type NoopTranscription struct{}

func (NoopTranscription) Start(string) error             { return nil }
func (NoopTranscription) Stop(string)                    {}
func (NoopTranscription) Feed(string, []byte)            {}
func (NoopTranscription) UpdateStreams(string, []string) {}
