package session

import (
	"time"

	"go.uber.org/zap"

	"github.com/augmentos/cloud/pkg/message"
)

// micDebouncer coalesces rapid microphone on/off requests into single edges.
// Exists only between the first request and the debounce timer firing.
type micDebouncer struct {
	lastState bool
	lastSent  bool
	timer     *time.Timer
}

// RequestMicState asks the glasses for the desired capture state. The first
// request is applied immediately; requests arriving while a debouncer is
// alive only record the latest desire, and the pending timer decides whether
// a trailing edge is needed. The sequence of states actually sent is a
// subsequence of the requested states with no repeated values.
func (s *Session) RequestMicState(desired bool) {
	debounce := s.cfg.MicDebounce()

	s.mu.Lock()
	if s.mic == nil {
		emit := s.micSent == nil || *s.micSent != desired
		s.mic = &micDebouncer{lastState: desired, lastSent: desired}
		s.mic.timer = time.AfterFunc(debounce, s.micTimerFired)
		s.mu.Unlock()
		if emit {
			s.applyMicState(desired)
		}
		return
	}
	s.mic.lastState = desired
	s.mic.timer.Reset(debounce)
	s.mu.Unlock()
}

func (s *Session) micTimerFired() {
	s.mu.Lock()
	if s.mic == nil {
		s.mu.Unlock()
		return
	}
	last, sent := s.mic.lastState, s.mic.lastSent
	s.mic = nil
	s.mu.Unlock()

	if last != sent {
		s.applyMicState(last)
	}
}

// applyMicState emits the state-change frame and flips transcription. Must
// be called without the session lock held.
func (s *Session) applyMicState(enabled bool) {
	s.SetTranscribing(enabled)

	s.mu.Lock()
	state := enabled
	s.micSent = &state
	s.mu.Unlock()

	frame := message.MicrophoneStateChange{
		Type:                message.TypeMicrophoneStateChange,
		IsMicrophoneEnabled: enabled,
		UserSession:         s.Snapshot(),
		Timestamp:           time.Now().UTC(),
	}
	if err := s.SendToGlasses(frame); err != nil {
		s.logger.Warn("microphone_state_change delivery failed", zap.Error(err))
	}

	if enabled {
		if err := s.transcription.Start(s.UserID); err != nil {
			s.logger.Warn("transcription start failed", zap.Error(err))
		}
	} else {
		s.transcription.Stop(s.UserID)
	}
	s.logger.Debug("microphone state applied", zap.Bool("enabled", enabled))
}

// SyncMicState derives the desired capture state from the current media
// subscriptions and pushes it through the debouncer. It also refreshes the
// language-stream set the transcription engine should produce.
func (s *Session) SyncMicState() {
	s.mu.Lock()
	streams := s.Subs.MinimalLanguageStreams()
	desired := s.Subs.HasMediaSubscriptions()
	s.mu.Unlock()

	s.transcription.UpdateStreams(s.UserID, streams)
	s.RequestMicState(desired)
}
