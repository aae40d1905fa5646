package models

// PlaylistExport is a playlist together with its resolved tracks.
type PlaylistExport struct {
	Playlist *Playlist `json:"playlist"`
	Tracks   []*Track  `json:"tracks"`
}

// URI returns the canonical reference of the exported playlist.
func (e *PlaylistExport) URI() string {
	if e.Playlist == nil {
		return ""
	}
	return URIOf(e.Playlist)
}

// Duration sums the track durations in seconds.
func (e *PlaylistExport) Duration() int {
	total := 0
	for _, t := range e.Tracks {
		total += t.Duration
	}
	return total
}
