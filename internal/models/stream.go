package models

import (
	"sync"
	"time"
)

// StreamDetails describes one playable stream of an item.
//
// Details are time boxed: callers check [StreamDetails.Expired] before use and re-resolve when it reports true.
// Several details may be valid for the same item at once.
type StreamDetails struct {
	ItemID      string       `json:"item_id"`
	Provider    string       `json:"provider"`
	ContentType ContentType  `json:"content_type"`
	Quality     MediaQuality `json:"quality"`
	Duration    int          `json:"duration"` // seconds, 0 for live streams
	SampleRate  int          `json:"sample_rate,omitempty"`
	BitDepth    int          `json:"bit_depth,omitempty"`
	DirectURL   string       `json:"direct_url,omitempty"`
	Expires     time.Time    `json:"expires"`

	// Data holds provider private state needed for reporting (format ids, tokens).
	Data map[string]string `json:"-"`

	mu         sync.Mutex
	onComplete func(seconds int)
	completed  bool
}

// Expired reports whether the details may no longer be used at now. A zero expiry never expires.
func (s *StreamDetails) Expired(now time.Time) bool {
	return !s.Expires.IsZero() && !now.Before(s.Expires)
}

// SetOnComplete registers the callback run by [StreamDetails.Complete].
func (s *StreamDetails) SetOnComplete(fn func(seconds int)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onComplete = fn
}

// Complete runs the completion callback with the number of seconds streamed.
//
// Only the first call has any effect; it reports whether this call ran the callback.
func (s *StreamDetails) Complete(seconds int) bool {
	s.mu.Lock()
	if s.completed {
		s.mu.Unlock()
		return false
	}
	s.completed = true
	fn := s.onComplete
	s.mu.Unlock()

	if fn != nil {
		fn(seconds)
	}
	return true
}

// Completed reports whether [StreamDetails.Complete] has been called.
func (s *StreamDetails) Completed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.completed
}

// Value returns the value for key in the provider private data.
func (s *StreamDetails) Value(key string) string {
	if s.Data == nil {
		return ""
	}
	return s.Data[key]
}
