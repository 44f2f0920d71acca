package session

import (
	"time"
)

// transcriptRetention bounds how far back segments are kept.
const transcriptRetention = 30 * time.Minute

// legacyTranscriptLanguage is the language exposed under the flat legacy
// accessor.
const legacyTranscriptLanguage = "en-US"

// TranscriptSegment is one recognized utterance.
type TranscriptSegment struct {
	Text      string    `json:"text"`
	Language  string    `json:"language"`
	IsFinal   bool      `json:"isFinal"`
	Timestamp time.Time `json:"timestamp"`
}

// TranscriptStore keeps time-ordered transcript segments per language.
// Not internally locked; the owning session serializes access.
type TranscriptStore struct {
	languages map[string][]TranscriptSegment
}

// NewTranscriptStore creates an empty store.
func NewTranscriptStore() *TranscriptStore {
	return &TranscriptStore{languages: make(map[string][]TranscriptSegment)}
}

// Add appends a segment to its language sequence, pruning segments older
// than the retention window.
func (t *TranscriptStore) Add(seg TranscriptSegment) {
	if seg.Language == "" {
		seg.Language = legacyTranscriptLanguage
	}
	if seg.Timestamp.IsZero() {
		seg.Timestamp = time.Now()
	}

	segments := append(t.languages[seg.Language], seg)

	cutoff := time.Now().Add(-transcriptRetention)
	firstKept := 0
	for firstKept < len(segments) && segments[firstKept].Timestamp.Before(cutoff) {
		firstKept++
	}
	t.languages[seg.Language] = segments[firstKept:]
}

// ForLanguage returns the segment sequence for one language tag.
func (t *TranscriptStore) ForLanguage(language string) []TranscriptSegment {
	return t.languages[language]
}

// Segments is the legacy flat accessor: the en-US sequence.
func (t *TranscriptStore) Segments() []TranscriptSegment {
	return t.languages[legacyTranscriptLanguage]
}

// Languages returns the language tags with stored segments.
func (t *TranscriptStore) Languages() []string {
	out := make([]string, 0, len(t.languages))
	for lang := range t.languages {
		out = append(out, lang)
	}
	return out
}

// Clear drops all stored segments.
func (t *TranscriptStore) Clear() {
	t.languages = make(map[string][]TranscriptSegment)
}
