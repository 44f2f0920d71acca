package message

import "strings"

// Stream descriptors a TPA may subscribe to. A descriptor is either one of
// these plain types, a language form "transcription:<lang>", a translation
// form "translation:<src>-to-<dst>", or a wildcard.
const (
	StreamAudioChunk            = "audio_chunk"
	StreamTranscription         = "transcription"
	StreamTranslation           = "translation"
	StreamVad                   = "vad"
	StreamLocationUpdate        = "location_update"
	StreamCalendarEvent         = "calendar_event"
	StreamHeadPosition          = "head_position"
	StreamButtonPress           = "button_press"
	StreamPhoneNotification     = "phone_notification"
	StreamNotificationDismissed = "notification_dismissed"
	StreamGlassesConnState      = "glasses_connection_state"
	StreamOpenDashboard         = "open_dashboard"
	StreamVideo                 = "video"

	StreamWildcard    = "*"
	StreamWildcardAll = "all"
)

var plainStreams = map[string]struct{}{
	StreamAudioChunk:            {},
	StreamTranscription:         {},
	StreamTranslation:           {},
	StreamVad:                   {},
	StreamLocationUpdate:        {},
	StreamCalendarEvent:         {},
	StreamHeadPosition:          {},
	StreamButtonPress:           {},
	StreamPhoneNotification:     {},
	StreamNotificationDismissed: {},
	StreamGlassesConnState:      {},
	StreamOpenDashboard:         {},
	StreamVideo:                 {},
}

// LanguageStream is a parsed language-parameterized descriptor.
type LanguageStream struct {
	Base   string // transcription or translation
	Source string // BCP-47 tag
	Target string // set only for translation
}

// String renders the descriptor back to its wire form.
func (l LanguageStream) String() string {
	if l.Target != "" {
		return l.Base + ":" + l.Source + "-to-" + l.Target
	}
	return l.Base + ":" + l.Source
}

// IsWildcard reports whether the descriptor matches every stream.
func IsWildcard(s string) bool {
	return s == StreamWildcard || s == StreamWildcardAll
}

// IsPlainStream reports whether s is one of the enumerated base types.
func IsPlainStream(s string) bool {
	_, ok := plainStreams[s]
	return ok
}

// BaseStream strips any language parameters from a descriptor.
func BaseStream(s string) string {
	if i := strings.IndexByte(s, ':'); i >= 0 {
		return s[:i]
	}
	return s
}

// ParseLanguageStream parses "<type>:<lang>" or "<type>:<src>-to-<dst>".
// Only transcription and translation may carry language parameters, and
// empty tags are rejected.
func ParseLanguageStream(s string) (LanguageStream, bool) {
	i := strings.IndexByte(s, ':')
	if i < 0 {
		return LanguageStream{}, false
	}
	base, rest := s[:i], s[i+1:]
	if base != StreamTranscription && base != StreamTranslation {
		return LanguageStream{}, false
	}
	if rest == "" {
		return LanguageStream{}, false
	}
	if base == StreamTranslation {
		src, dst, found := strings.Cut(rest, "-to-")
		if !found || src == "" || dst == "" {
			return LanguageStream{}, false
		}
		return LanguageStream{Base: base, Source: src, Target: dst}, true
	}
	if strings.Contains(rest, "-to-") {
		return LanguageStream{}, false
	}
	return LanguageStream{Base: base, Source: rest}, true
}

// IsLanguageStream reports whether s is a valid language-parameterized
// descriptor.
func IsLanguageStream(s string) bool {
	_, ok := ParseLanguageStream(s)
	return ok
}

// IsValidStream reports whether s is a subscribable descriptor: wildcard,
// enumerated plain type, or valid language form.
func IsValidStream(s string) bool {
	return IsWildcard(s) || IsPlainStream(s) || IsLanguageStream(s)
}

// IsMediaStream reports whether a descriptor implies microphone capture.
func IsMediaStream(s string) bool {
	switch BaseStream(s) {
	case StreamAudioChunk, StreamTranscription, StreamTranslation:
		return true
	}
	return false
}
