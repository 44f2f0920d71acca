package session

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTranscriptDefaultsToLegacyLanguage(t *testing.T) {
	store := NewTranscriptStore()

	store.Add(TranscriptSegment{Text: "hello", IsFinal: true})

	segments := store.Segments()
	require.Len(t, segments, 1)
	assert.Equal(t, "en-US", segments[0].Language)
	assert.False(t, segments[0].Timestamp.IsZero())
}

func TestTranscriptPerLanguageSequences(t *testing.T) {
	store := NewTranscriptStore()

	store.Add(TranscriptSegment{Text: "bonjour", Language: "fr-FR"})
	store.Add(TranscriptSegment{Text: "hello", Language: "en-US"})
	store.Add(TranscriptSegment{Text: "monde", Language: "fr-FR"})

	fr := store.ForLanguage("fr-FR")
	require.Len(t, fr, 2)
	assert.Equal(t, "bonjour", fr[0].Text)
	assert.Equal(t, "monde", fr[1].Text)

	assert.ElementsMatch(t, []string{"fr-FR", "en-US"}, store.Languages())
}

func TestTranscriptPrunesOldSegments(t *testing.T) {
	store := NewTranscriptStore()

	store.Add(TranscriptSegment{
		Text:      "ancient",
		Language:  "en-US",
		Timestamp: time.Now().Add(-transcriptRetention - time.Minute),
	})
	store.Add(TranscriptSegment{Text: "fresh", Language: "en-US"})

	segments := store.Segments()
	require.Len(t, segments, 1)
	assert.Equal(t, "fresh", segments[0].Text)
}

func TestTranscriptClear(t *testing.T) {
	store := NewTranscriptStore()
	store.Add(TranscriptSegment{Text: "x"})

	store.Clear()
	assert.Empty(t, store.Segments())
	assert.Empty(t, store.Languages())
}
