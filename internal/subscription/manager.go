// Package subscription tracks, per session, which stream descriptors each
// TPA wants, and answers reverse lookups for the routing engine.
package subscription

import (
	"time"

	"go.uber.org/zap"

	"github.com/augmentos/cloud/internal/common/logger"
	"github.com/augmentos/cloud/pkg/message"
)

// DefaultTranscriptionLanguage normalizes bare "transcription"
// subscriptions.
const DefaultTranscriptionLanguage = "en-US"

// historyLimit bounds the per-app diagnostic history.
const historyLimit = 50

// HistoryAction tags a history entry.
type HistoryAction string

const (
	HistoryAdd    HistoryAction = "add"
	HistoryUpdate HistoryAction = "update"
	HistoryRemove HistoryAction = "remove"
)

// HistoryEntry is a snapshot of one subscription change.
type HistoryEntry struct {
	Timestamp time.Time
	Streams   []string
	Action    HistoryAction
}

// Manager owns the subscription sets of one session. It is not internally
// locked: all calls happen in the session's serial event flow, never from a
// producer goroutine.
type Manager struct {
	logger  *logger.Logger
	subs    map[string]map[string]struct{}
	history map[string][]HistoryEntry
}

// NewManager creates an empty subscription manager.
func NewManager(log *logger.Logger) *Manager {
	return &Manager{
		logger:  log.WithFields(zap.String("component", "subscriptions")),
		subs:    make(map[string]map[string]struct{}),
		history: make(map[string][]HistoryEntry),
	}
}

// Update replaces an app's subscription set atomically. Bare "transcription"
// is normalized to the default language; invalid descriptors are dropped
// with a log. Returns the stored set.
func (m *Manager) Update(packageName string, streams []string) []string {
	next := make(map[string]struct{}, len(streams))
	for _, s := range streams {
		if s == message.StreamTranscription {
			s = message.StreamTranscription + ":" + DefaultTranscriptionLanguage
		}
		if !message.IsValidStream(s) {
			m.logger.Warn("dropping invalid subscription descriptor",
				zap.String("package_name", packageName),
				zap.String("stream", s))
			continue
		}
		next[s] = struct{}{}
	}

	action := HistoryUpdate
	if len(m.subs[packageName]) == 0 {
		action = HistoryAdd
	}
	m.subs[packageName] = next
	m.appendHistory(packageName, setToSlice(next), action)

	return setToSlice(next)
}

// Remove drops an app's subscriptions, logging the prior set as a remove
// entry, then deleting both subscription and history state.
func (m *Manager) Remove(packageName string) {
	prior, ok := m.subs[packageName]
	if !ok {
		return
	}
	m.appendHistory(packageName, setToSlice(prior), HistoryRemove)
	m.logger.Debug("subscriptions removed",
		zap.String("package_name", packageName),
		zap.Strings("streams", setToSlice(prior)))

	delete(m.subs, packageName)
	delete(m.history, packageName)
}

// For returns the stored set for one app.
func (m *Manager) For(packageName string) []string {
	return setToSlice(m.subs[packageName])
}

// History returns the diagnostic history for one app.
func (m *Manager) History(packageName string) []HistoryEntry {
	return m.history[packageName]
}

// SubscribersOf returns every package with at least one stored descriptor
// matching the broadcast descriptor.
func (m *Manager) SubscribersOf(broadcast string) []string {
	var out []string
	for packageName, set := range m.subs {
		for stored := range set {
			if Matches(stored, broadcast) {
				out = append(out, packageName)
				break
			}
		}
	}
	return out
}

// HasMediaSubscriptions reports whether any stored descriptor implies
// microphone capture.
func (m *Manager) HasMediaSubscriptions() bool {
	for _, set := range m.subs {
		for stored := range set {
			if message.IsMediaStream(stored) {
				return true
			}
		}
	}
	return false
}

// MinimalLanguageStreams returns the union over all apps of
// language-parameterized descriptors: the input set for the transcription
// engine.
func (m *Manager) MinimalLanguageStreams() []string {
	seen := make(map[string]struct{})
	for _, set := range m.subs {
		for stored := range set {
			if message.IsLanguageStream(stored) {
				seen[stored] = struct{}{}
			}
		}
	}
	return setToSlice(seen)
}

// Matches applies the four descriptor matching rules, in order: exact match,
// stored wildcard, stored base of a parameterized broadcast, stored
// parameterization of a base broadcast.
func Matches(stored, broadcast string) bool {
	if stored == broadcast {
		return true
	}
	if message.IsWildcard(stored) {
		return true
	}
	if message.IsLanguageStream(broadcast) && stored == message.BaseStream(broadcast) {
		return true
	}
	if message.IsLanguageStream(stored) && broadcast == message.BaseStream(stored) {
		return true
	}
	return false
}

func (m *Manager) appendHistory(packageName string, streams []string, action HistoryAction) {
	entries := append(m.history[packageName], HistoryEntry{
		Timestamp: time.Now(),
		Streams:   streams,
		Action:    action,
	})
	if len(entries) > historyLimit {
		entries = entries[len(entries)-historyLimit:]
	}
	m.history[packageName] = entries
}

func setToSlice(set map[string]struct{}) []string {
	if len(set) == 0 {
		return nil
	}
	out := make([]string, 0, len(set))
	for s := range set {
		out = append(out, s)
	}
	return out
}
