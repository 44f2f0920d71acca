// Package message defines the wire protocol shared by glasses clients,
// TPA connections, and the cloud.
package message

import (
	"encoding/json"
	"time"
)

// Glasses -> cloud message types.
const (
	TypeConnectionInit        = "connection_init"
	TypeStartApp              = "start_app"
	TypeStopApp               = "stop_app"
	TypeGlassesConnState      = "glasses_connection_state"
	TypeVad                   = "vad"
	TypeLocationUpdate        = "location_update"
	TypeCalendarEvent         = "calendar_event"
	TypePhotoResponse         = "photo_response"
	TypeVideoStreamResponse   = "video_stream_response"
	TypeSettingsUpdateRequest = "settings_update_request"
	TypeCoreStatusUpdate      = "core_status_update"
	TypeHeadPosition          = "head_position"
	TypeButtonPress           = "button_press"
	TypePhoneNotification     = "phone_notification"
	TypeNotificationDismissed = "notification_dismissed"
)

// Cloud -> glasses message types.
const (
	TypeConnectionAck         = "connection_ack"
	TypeConnectionError       = "connection_error"
	TypeAuthError             = "auth_error"
	TypeAppStateChange        = "app_state_change"
	TypeMicrophoneStateChange = "microphone_state_change"
	TypeSettingsUpdate        = "settings_update"
	TypePhotoRequest          = "photo_request"
	TypeVideoStreamRequest    = "video_stream_request"
	TypeDisplayEvent          = "display_event"
)

// TPA <-> cloud message types.
const (
	TypeTpaConnectionInit      = "tpa_connection_init"
	TypeTpaConnectionAck       = "tpa_connection_ack"
	TypeSubscriptionUpdate     = "subscription_update"
	TypeDataStream             = "data_stream"
	TypePermissionError        = "permission_error"
	TypePhotoTimeout           = "photo_timeout"
	TypeDashboardContentUpdate = "dashboard_content_update"
	TypeDashboardModeChange    = "dashboard_mode_change"
	TypeDashboardSystemUpdate  = "dashboard_system_update"
	TypeTranscription          = "transcription"
	TypeTranslation            = "translation"
)

// Close codes emitted by the cloud.
const (
	CloseNormal       = 1000
	CloseSessionEnded = 1001
	CloseAuthFailure  = 1008
	CloseHeartbeat    = 4000
)

// Envelope is the minimal shape every JSON frame shares. It is used to peek
// at the type before full decoding; Raw keeps the original bytes so
// pass-through events can be re-broadcast without re-encoding.
type Envelope struct {
	Type      string    `json:"type"`
	SessionID string    `json:"sessionId,omitempty"`
	Timestamp time.Time `json:"timestamp,omitempty"`

	Raw json.RawMessage `json:"-"`
}

// Decode parses the envelope of a frame, retaining the raw bytes.
func Decode(data []byte) (*Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, err
	}
	env.Raw = json.RawMessage(data)
	return &env, nil
}

// Decode unmarshals the retained frame bytes into v.
func (e *Envelope) Decode(v any) error {
	return json.Unmarshal(e.Raw, v)
}

// UserSessionView is the glasses-side snapshot of server session state.
// It accompanies connection_ack and every app_state_change.
type UserSessionView struct {
	UserID            string   `json:"userId"`
	StartTime         string   `json:"startTime"`
	ActiveAppSessions []string `json:"activeAppSessions"`
	LoadingApps       []string `json:"loadingApps"`
	IsTranscribing    bool     `json:"isTranscribing"`
}

// ConnectionAck acknowledges a glasses connection.
type ConnectionAck struct {
	Type        string          `json:"type"`
	SessionID   string          `json:"sessionId"`
	UserSession UserSessionView `json:"userSession"`
	Timestamp   time.Time       `json:"timestamp"`
}

// ConnectionError reports a recoverable protocol error to either peer.
type ConnectionError struct {
	Type      string    `json:"type"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// AuthError reports an authentication failure before the channel closes.
type AuthError struct {
	Type      string    `json:"type"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// AppStateChange pushes the current active-app snapshot to the glasses.
type AppStateChange struct {
	Type        string          `json:"type"`
	UserSession UserSessionView `json:"userSession"`
	Timestamp   time.Time       `json:"timestamp"`
}

// MicrophoneStateChange instructs the glasses to enable or disable capture.
type MicrophoneStateChange struct {
	Type                string          `json:"type"`
	IsMicrophoneEnabled bool            `json:"isMicrophoneEnabled"`
	UserSession         UserSessionView `json:"userSession"`
	Timestamp           time.Time       `json:"timestamp"`
}

// SettingsUpdate carries the user's settings snapshot to the glasses.
type SettingsUpdate struct {
	Type      string         `json:"type"`
	Settings  map[string]any `json:"settings"`
	Timestamp time.Time      `json:"timestamp"`
}

// PhotoRequest asks the glasses to capture a photo.
type PhotoRequest struct {
	Type          string    `json:"type"`
	RequestID     string    `json:"requestId"`
	AppID         string    `json:"appId"`
	SaveToGallery bool      `json:"saveToGallery"`
	Timestamp     time.Time `json:"timestamp"`
}

// PhotoResponse carries the uploaded photo URL back; glasses -> cloud and,
// for TPA-originated requests, cloud -> TPA.
type PhotoResponse struct {
	Type      string    `json:"type"`
	RequestID string    `json:"requestId"`
	PhotoURL  string    `json:"photoUrl"`
	Timestamp time.Time `json:"timestamp"`
}

// PhotoTimeout tells a TPA its capture request expired without an upload.
type PhotoTimeout struct {
	Type      string    `json:"type"`
	RequestID string    `json:"requestId"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// VideoStreamRequest asks the glasses to start a stream for an app.
type VideoStreamRequest struct {
	Type      string    `json:"type"`
	AppID     string    `json:"appId"`
	Timestamp time.Time `json:"timestamp"`
}

// VideoStreamResponse carries the stream URL; glasses -> cloud -> TPA.
type VideoStreamResponse struct {
	Type      string    `json:"type"`
	AppID     string    `json:"appId"`
	StreamURL string    `json:"streamUrl"`
	Timestamp time.Time `json:"timestamp"`
}

// StartApp asks the cloud to start a TPA for this session.
type StartApp struct {
	Type        string `json:"type"`
	PackageName string `json:"packageName"`
}

// StopApp asks the cloud to stop a TPA for this session.
type StopApp struct {
	Type        string `json:"type"`
	PackageName string `json:"packageName"`
}

// GlassesConnState reports the hardware connection status of the glasses.
type GlassesConnState struct {
	Type      string `json:"type"`
	Status    string `json:"status"`
	ModelName string `json:"modelName,omitempty"`
}

// Vad reports a voice-activity edge from the glasses.
type Vad struct {
	Type   string `json:"type"`
	Status bool   `json:"status"`
}

// LocationUpdate reports the glasses' position.
type LocationUpdate struct {
	Type      string    `json:"type"`
	Lat       float64   `json:"lat"`
	Lng       float64   `json:"lng"`
	Timestamp time.Time `json:"timestamp,omitempty"`
}

// CalendarEvent is a calendar entry pushed by the glasses companion.
type CalendarEvent struct {
	Type      string    `json:"type"`
	EventID   string    `json:"eventId,omitempty"`
	Title     string    `json:"title,omitempty"`
	StartTime string    `json:"dtStart,omitempty"`
	EndTime   string    `json:"dtEnd,omitempty"`
	Timestamp time.Time `json:"timestamp,omitempty"`
}

// CoreStatusUpdate carries the device's OS settings snapshot.
type CoreStatusUpdate struct {
	Type   string         `json:"type"`
	Status map[string]any `json:"status"`
}

// TranscriptionData is the payload produced by the speech engine and
// broadcast to subscribed TPAs.
type TranscriptionData struct {
	Type               string `json:"type"`
	Text               string `json:"text"`
	IsFinal            bool   `json:"isFinal"`
	TranscribeLanguage string `json:"transcribeLanguage,omitempty"`
	StartTime          int64  `json:"startTime,omitempty"`
	EndTime            int64  `json:"endTime,omitempty"`
}

// TpaConnectionInit is the first frame a TPA must send after connecting.
type TpaConnectionInit struct {
	Type        string `json:"type"`
	SessionID   string `json:"sessionId"`
	PackageName string `json:"packageName"`
	APIKey      string `json:"apiKey"`
}

// TpaConnectionAck acknowledges a TPA init with its persisted settings.
type TpaConnectionAck struct {
	Type      string         `json:"type"`
	SessionID string         `json:"sessionId"`
	Settings  map[string]any `json:"settings,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// SubscriptionUpdate replaces a TPA's subscription set.
type SubscriptionUpdate struct {
	Type          string   `json:"type"`
	PackageName   string   `json:"packageName"`
	Subscriptions []string `json:"subscriptions"`
}

// TpaPhotoRequest is a TPA-originated capture request.
type TpaPhotoRequest struct {
	Type          string `json:"type"`
	PackageName   string `json:"packageName"`
	SaveToGallery bool   `json:"saveToGallery"`
}

// TpaVideoStreamRequest is a TPA-originated stream request.
type TpaVideoStreamRequest struct {
	Type        string `json:"type"`
	PackageName string `json:"packageName"`
}

// DataStream wraps a broadcast payload for one TPA recipient. SessionID is
// the virtual TPA session id "<userId>-<packageName>".
type DataStream struct {
	Type       string          `json:"type"`
	SessionID  string          `json:"sessionId"`
	StreamType string          `json:"streamType"`
	Data       json.RawMessage `json:"data"`
	Timestamp  time.Time       `json:"timestamp"`
}

// PermissionDetail names one rejected stream and the permission it needs.
type PermissionDetail struct {
	Stream             string `json:"stream"`
	RequiredPermission string `json:"requiredPermission"`
	Message            string `json:"message,omitempty"`
}

// PermissionError reports subscription descriptors rejected by the
// permission filter. The channel stays open; only the listed streams were
// dropped.
type PermissionError struct {
	Type      string             `json:"type"`
	Message   string             `json:"message"`
	Details   []PermissionDetail `json:"details"`
	Timestamp time.Time          `json:"timestamp"`
}

// VirtualSessionID builds the routing handle a TPA observes for one user
// session. Opaque to the TPA.
func VirtualSessionID(userID, packageName string) string {
	return userID + "-" + packageName
}

// NewConnectionError builds a connection_error frame.
func NewConnectionError(msg string) ConnectionError {
	return ConnectionError{Type: TypeConnectionError, Message: msg, Timestamp: time.Now().UTC()}
}

// NewAuthError builds an auth_error frame.
func NewAuthError(msg string) AuthError {
	return AuthError{Type: TypeAuthError, Message: msg, Timestamp: time.Now().UTC()}
}
