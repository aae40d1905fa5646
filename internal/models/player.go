package models

import (
	"encoding/json"
	"time"
)

// QueueItem wraps a media item placed in a player queue.
type QueueItem struct {
	QueueItemID string      `json:"queue_item_id"`
	Item        MediaItem   `json:"-"`
	Option      QueueOption `json:"option"`
}

// Name returns the display name of the wrapped item.
func (q *QueueItem) Name() string {
	if q.Item == nil {
		return ""
	}
	return q.Item.Base().Name
}

// URI returns the canonical reference of the wrapped item.
func (q *QueueItem) URI() string {
	if q.Item == nil {
		return ""
	}
	return URIOf(q.Item)
}

// Duration returns the track duration in seconds, or 0 for live or unknown items.
func (q *QueueItem) Duration() int {
	if t, ok := q.Item.(*Track); ok {
		return t.Duration
	}
	return 0
}

func (q QueueItem) MarshalJSON() ([]byte, error) {
	type alias struct {
		QueueItemID string      `json:"queue_item_id"`
		URI         string      `json:"uri"`
		Name        string      `json:"name"`
		MediaType   MediaType   `json:"media_type,omitempty"`
		Duration    int         `json:"duration"`
		Option      QueueOption `json:"option"`
	}
	a := alias{
		QueueItemID: q.QueueItemID,
		URI:         q.URI(),
		Name:        q.Name(),
		Duration:    q.Duration(),
		Option:      q.Option,
	}
	if q.Item != nil {
		a.MediaType = q.Item.MediaType()
	}
	return json.Marshal(a)
}

// QueueSettings are the playback policies of a queue.
type QueueSettings struct {
	Shuffle           bool          `json:"shuffle_enabled" toml:"shuffle"`
	Repeat            RepeatMode    `json:"repeat_mode" toml:"repeat"`
	CrossfadeDuration int           `json:"crossfade_duration" toml:"crossfade_duration"` // seconds
	CrossfadeMode     CrossfadeMode `json:"crossfade_mode" toml:"crossfade_mode"`
}

// CrossfadeEnabled reports whether transitions may overlap at all.
func (s QueueSettings) CrossfadeEnabled() bool {
	return s.CrossfadeDuration > 0 && s.CrossfadeMode != "" && s.CrossfadeMode != CrossfadeDisabled
}

// Crossfade returns the crossfade duration.
func (s QueueSettings) Crossfade() time.Duration {
	return time.Duration(s.CrossfadeDuration) * time.Second
}

// PlayerStatus is a point-in-time snapshot of a player and its queue position.
type PlayerStatus struct {
	PlayerID     string        `json:"player_id"`
	Name         string        `json:"name"`
	Powered      bool          `json:"powered"`
	VolumeLevel  int           `json:"volume_level"`
	ElapsedTime  int           `json:"elapsed_time"` // seconds
	State        PlayerState   `json:"state"`
	CurrentURL   *string       `json:"current_url"`
	CurrentIndex int           `json:"current_index"`
	CurrentItem  *QueueItem    `json:"current_item,omitempty"`
	Settings     QueueSettings `json:"settings"`
	QueueLength  int           `json:"queue_length"`
}
