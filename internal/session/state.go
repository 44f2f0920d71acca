package session

import "github.com/augmentos/cloud/internal/subscription"

// Locked wrappers around the subscription manager and transcript store.
// Both sub-managers are single-flow structures; these methods put their
// runtime access under the session lock. Tests may drive the managers
// directly from one goroutine.

// UpdateSubscriptions atomically replaces an app's subscription set and
// returns the stored result.
func (s *Session) UpdateSubscriptions(packageName string, streams []string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.Subs.Update(packageName, streams)
}

// RemoveSubscriptions drops an app's subscriptions and history.
func (s *Session) RemoveSubscriptions(packageName string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Subs.Remove(packageName)
}

// SubscriptionsFor returns the stored set for one app.
func (s *Session) SubscriptionsFor(packageName string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.Subs.For(packageName)
}

// SubscriptionHistory returns the diagnostic history for one app.
func (s *Session) SubscriptionHistory(packageName string) []subscription.HistoryEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.Subs.History(packageName)
}

// SubscribersOf answers the routing lookup for one broadcast descriptor.
func (s *Session) SubscribersOf(broadcast string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.Subs.SubscribersOf(broadcast)
}

// AddTranscript appends a recognized segment.
func (s *Session) AddTranscript(seg TranscriptSegment) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Transcripts.Add(seg)
}

// TranscriptsFor returns the segment sequence for one language tag.
func (s *Session) TranscriptsFor(language string) []TranscriptSegment {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.Transcripts.ForLanguage(language)
}
