package websocket

import (
	"context"
	"encoding/json"
	"time"

	"go.uber.org/zap"

	"github.com/augmentos/cloud/internal/common/logger"
	"github.com/augmentos/cloud/internal/session"
	"github.com/augmentos/cloud/internal/tracing"
	"github.com/augmentos/cloud/pkg/message"
)

// AudioDecoder turns an inbound codec frame into PCM. Implementations live
// outside the core; a nil result drops the frame.
type AudioDecoder interface {
	Decode(frame []byte) ([]byte, error)
}

// PassthroughDecoder treats every binary frame as already-decoded PCM.
type PassthroughDecoder struct{}

// Decode implements AudioDecoder.
func (PassthroughDecoder) Decode(frame []byte) ([]byte, error) { return frame, nil }

// Router fans inbound glasses events out to the TPAs whose subscriptions
// match, preserving per-recipient arrival order by writing on the calling
// goroutine.
type Router struct {
	logger  *logger.Logger
	decoder AudioDecoder
}

// NewRouter creates a router. decoder may be nil, selecting passthrough.
func NewRouter(log *logger.Logger, decoder AudioDecoder) *Router {
	if decoder == nil {
		decoder = PassthroughDecoder{}
	}
	return &Router{
		logger:  log.WithFields(zap.String("component", "router")),
		decoder: decoder,
	}
}

// EffectiveDescriptor derives the subscription descriptor a frame matches
// against. Transcription and translation frames carrying a language are
// parameterized; everything else broadcasts under its type.
func EffectiveDescriptor(streamType string, payload json.RawMessage) string {
	if streamType != message.StreamTranscription && streamType != message.StreamTranslation {
		return streamType
	}
	var lang struct {
		TranscribeLanguage string `json:"transcribeLanguage"`
	}
	if err := json.Unmarshal(payload, &lang); err == nil && lang.TranscribeLanguage != "" {
		return streamType + ":" + lang.TranscribeLanguage
	}
	return streamType
}

// Broadcast delivers one event to every subscribed TPA with an open channel.
// streamType is the type the recipients observe in the data_stream envelope;
// the descriptor used for matching is derived from the payload.
func (r *Router) Broadcast(s *session.Session, streamType string, payload json.RawMessage) {
	descriptor := EffectiveDescriptor(streamType, payload)
	recipients := s.SubscribersOf(descriptor)
	if len(recipients) == 0 {
		return
	}

	tracing.TraceStreamEvent(context.Background(), streamType, s.UserID, len(recipients))
	now := time.Now().UTC()
	for _, packageName := range recipients {
		conn, ok := s.AppConn(packageName)
		if !ok || !conn.IsOpen() {
			continue
		}
		frame := message.DataStream{
			Type:       message.TypeDataStream,
			SessionID:  message.VirtualSessionID(s.UserID, packageName),
			StreamType: streamType,
			Data:       payload,
			Timestamp:  now,
		}
		if err := conn.WriteJSON(frame); err != nil {
			r.logger.Warn("broadcast delivery failed",
				zap.String("user_id", s.UserID),
				zap.String("package_name", packageName),
				zap.String("stream_type", streamType),
				zap.Error(err))
		}
	}
}

// RouteAudio is the binary fast path: decode, buffer, forward raw bytes to
// audio_chunk subscribers, and feed the transcription engine. No JSON
// wrapping on this path.
func (r *Router) RouteAudio(s *session.Session, frame []byte) {
	pcm, err := r.decoder.Decode(frame)
	if err != nil {
		r.logger.Warn("audio decode failed",
			zap.String("user_id", s.UserID),
			zap.Error(err))
		return
	}
	if pcm == nil {
		return
	}

	s.Audio.Add(pcm)

	for _, packageName := range s.SubscribersOf(message.StreamAudioChunk) {
		conn, ok := s.AppConn(packageName)
		if !ok || !conn.IsOpen() {
			continue
		}
		if err := conn.WriteBinary(pcm); err != nil {
			r.logger.Warn("audio delivery failed",
				zap.String("user_id", s.UserID),
				zap.String("package_name", packageName),
				zap.Error(err))
		}
	}

	if s.IsTranscribing() {
		s.Transcription().Feed(s.UserID, pcm)
	}
}

// HandleTranscription stores the recognized segment and broadcasts it.
// Called by the speech-engine integration when a result is ready.
func (r *Router) HandleTranscription(s *session.Session, data message.TranscriptionData) {
	if data.Type == "" {
		data.Type = message.TypeTranscription
	}
	if data.IsFinal {
		s.AddTranscript(session.TranscriptSegment{
			Text:     data.Text,
			Language: data.TranscribeLanguage,
			IsFinal:  true,
		})
	}

	payload, err := json.Marshal(data)
	if err != nil {
		r.logger.Warn("transcription marshal failed", zap.Error(err))
		return
	}
	r.Broadcast(s, data.Type, payload)
}

// ReplayCached delivers one-shot context to a TPA whose subscription set
// newly covers it, so late subscribers do not miss the last location or
// calendar event.
func (r *Router) ReplayCached(s *session.Session, packageName string, added []string) {
	conn, ok := s.AppConn(packageName)
	if !ok || !conn.IsOpen() {
		return
	}

	for _, stream := range added {
		var cached any
		switch message.BaseStream(stream) {
		case message.StreamLocationUpdate:
			if loc := s.LastLocation(); loc != nil {
				cached = loc
			}
		case message.StreamCalendarEvent:
			if ev := s.LastCalendar(); ev != nil {
				cached = ev
			}
		default:
			continue
		}
		if cached == nil {
			continue
		}

		payload, err := json.Marshal(cached)
		if err != nil {
			continue
		}
		frame := message.DataStream{
			Type:       message.TypeDataStream,
			SessionID:  message.VirtualSessionID(s.UserID, packageName),
			StreamType: message.BaseStream(stream),
			Data:       payload,
			Timestamp:  time.Now().UTC(),
		}
		if err := conn.WriteJSON(frame); err != nil {
			r.logger.Debug("cached replay delivery failed",
				zap.String("package_name", packageName),
				zap.Error(err))
		}
	}
}
