package subscription

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/augmentos/cloud/internal/common/logger"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	return NewManager(logger.Default())
}

func TestUpdateNormalizesAndValidates(t *testing.T) {
	m := newTestManager(t)

	stored := m.Update("com.example.app", []string{"transcription", "vad", "bogus", "transcription:"})

	assert.ElementsMatch(t, []string{"transcription:en-US", "vad"}, stored)
	assert.ElementsMatch(t, stored, m.For("com.example.app"))
}

func TestUpdateReplacesAtomically(t *testing.T) {
	m := newTestManager(t)

	m.Update("p1", []string{"vad", "button_press"})
	stored := m.Update("p1", []string{"location_update"})

	assert.Equal(t, []string{"location_update"}, stored)
	assert.Equal(t, []string{"location_update"}, m.For("p1"))
}

func TestHistoryActions(t *testing.T) {
	m := newTestManager(t)

	m.Update("p1", []string{"vad"})
	m.Update("p1", []string{"button_press"})
	m.Remove("p1")

	// Remove deletes history along with the subscriptions.
	assert.Empty(t, m.History("p1"))
	assert.Empty(t, m.For("p1"))

	m.Update("p2", []string{"vad"})
	m.Update("p2", []string{"vad"})
	history := m.History("p2")
	require.Len(t, history, 2)
	assert.Equal(t, HistoryAdd, history[0].Action)
	assert.Equal(t, HistoryUpdate, history[1].Action)
}

func TestHistoryBounded(t *testing.T) {
	m := newTestManager(t)

	for i := 0; i < historyLimit+20; i++ {
		m.Update("p1", []string{"vad"})
	}
	assert.Len(t, m.History("p1"), historyLimit)
}

func TestRemoveUnknownIsNoop(t *testing.T) {
	m := newTestManager(t)
	m.Remove("never-subscribed")
	assert.Empty(t, m.For("never-subscribed"))
}

func TestMatches(t *testing.T) {
	tests := []struct {
		name      string
		stored    string
		broadcast string
		want      bool
	}{
		{"exact", "vad", "vad", true},
		{"exact language", "transcription:en-US", "transcription:en-US", true},
		{"wildcard star", "*", "transcription:fr-FR", true},
		{"wildcard all", "all", "button_press", true},
		{"base matches parameterized broadcast", "transcription", "transcription:fr-FR", true},
		{"parameterized matches base broadcast", "transcription:fr-FR", "transcription", true},
		{"different languages", "transcription:en-US", "transcription:fr-FR", false},
		{"unrelated", "vad", "button_press", false},
		{"translation pair vs base", "translation:es-ES-to-en-US", "translation", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Matches(tt.stored, tt.broadcast))
		})
	}
}

func TestSubscribersOf(t *testing.T) {
	m := newTestManager(t)

	m.Update("exact", []string{"transcription:en-US"})
	m.Update("wild", []string{"*"})
	m.Update("base", []string{"transcription"}) // normalized to transcription:en-US
	m.Update("other", []string{"vad"})

	subs := m.SubscribersOf("transcription:en-US")
	assert.ElementsMatch(t, []string{"exact", "wild", "base"}, subs)

	subs = m.SubscribersOf("transcription:fr-FR")
	assert.ElementsMatch(t, []string{"wild"}, subs)
}

func TestHasMediaSubscriptions(t *testing.T) {
	m := newTestManager(t)
	assert.False(t, m.HasMediaSubscriptions())

	m.Update("p1", []string{"vad", "button_press"})
	assert.False(t, m.HasMediaSubscriptions())

	m.Update("p2", []string{"audio_chunk"})
	assert.True(t, m.HasMediaSubscriptions())

	m.Remove("p2")
	assert.False(t, m.HasMediaSubscriptions())
}

func TestMinimalLanguageStreams(t *testing.T) {
	m := newTestManager(t)

	m.Update("p1", []string{"transcription"})
	m.Update("p2", []string{"transcription:en-US", "translation:es-ES-to-en-US"})
	m.Update("p3", []string{"vad"})

	streams := m.MinimalLanguageStreams()
	assert.ElementsMatch(t, []string{"transcription:en-US", "translation:es-ES-to-en-US"}, streams)
}
