package providers

import (
	"strconv"
	"strings"

	"github.com/desertthunder/jukebox/internal/models"
)

type spotifyImage struct {
	URL    string `json:"url"`
	Height int    `json:"height"`
	Width  int    `json:"width"`
}

type spotifyArtist struct {
	ID     string         `json:"id"`
	Name   string         `json:"name"`
	Genres []string       `json:"genres"`
	Images []spotifyImage `json:"images"`
	URI    string         `json:"uri"`
}

type spotifyAlbum struct {
	ID          string          `json:"id"`
	Name        string          `json:"name"`
	AlbumType   string          `json:"album_type"`
	Artists     []spotifyArtist `json:"artists"`
	ReleaseDate string          `json:"release_date"`
	TotalTracks int             `json:"total_tracks"`
	Images      []spotifyImage  `json:"images"`
	Genres      []string        `json:"genres"`
	ExternalIDs struct {
		UPC string `json:"upc"`
	} `json:"external_ids"`
}

type spotifyTrack struct {
	ID          string          `json:"id"`
	Name        string          `json:"name"`
	Artists     []spotifyArtist `json:"artists"`
	Album       *spotifyAlbum   `json:"album"`
	DurationMS  int             `json:"duration_ms"`
	TrackNumber int             `json:"track_number"`
	DiscNumber  int             `json:"disc_number"`
	Explicit    bool            `json:"explicit"`
	IsLocal     bool            `json:"is_local"`
	IsPlayable  *bool           `json:"is_playable"`
	PreviewURL  string          `json:"preview_url"`
	URI         string          `json:"uri"`
	ExternalIDs struct {
		ISRC string `json:"isrc"`
	} `json:"external_ids"`
}

type spotifyOwner struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name"`
}

type spotifyPlaylist struct {
	ID            string         `json:"id"`
	Name          string         `json:"name"`
	Description   string         `json:"description"`
	Owner         spotifyOwner   `json:"owner"`
	Public        bool           `json:"public"`
	Collaborative bool           `json:"collaborative"`
	SnapshotID    string         `json:"snapshot_id"`
	Images        []spotifyImage `json:"images"`
}

// spotifyPage is the offset paging envelope shared by every list endpoint.
type spotifyPage[T any] struct {
	Items  []T     `json:"items"`
	Total  int     `json:"total"`
	Limit  int     `json:"limit"`
	Offset int     `json:"offset"`
	Next   *string `json:"next"`
}

type spotifySavedTrack struct {
	AddedAt string        `json:"added_at"`
	Track   *spotifyTrack `json:"track"`
}

type spotifySavedAlbum struct {
	AddedAt string        `json:"added_at"`
	Album   *spotifyAlbum `json:"album"`
}

type spotifySearch struct {
	Artists   spotifyPage[*spotifyArtist]   `json:"artists"`
	Albums    spotifyPage[*spotifyAlbum]    `json:"albums"`
	Tracks    spotifyPage[*spotifyTrack]    `json:"tracks"`
	Playlists spotifyPage[*spotifyPlaylist] `json:"playlists"`
}

const spotifyOpenURL = "https://open.spotify.com"

type spotifyMapping struct {
	provider string
	userID   string
}

func spotifyCover(images []spotifyImage) string {
	if len(images) == 0 {
		return ""
	}
	return images[0].URL
}

func (m spotifyMapping) artist(raw spotifyArtist) *models.Artist {
	if raw.ID == "" {
		return nil
	}
	a := models.NewArtist(m.provider, raw.ID, raw.Name)
	a.Metadata.Genres = raw.Genres
	a.Metadata.Image = spotifyCover(raw.Images)
	a.AddProviderID(models.ProviderID{
		ItemID:    raw.ID,
		Provider:  m.provider,
		URL:       spotifyOpenURL + "/artist/" + raw.ID,
		Available: true,
	})
	return a
}

func (m spotifyMapping) album(raw spotifyAlbum) *models.Album {
	if raw.ID == "" {
		return nil
	}
	a := models.NewAlbum(m.provider, raw.ID, raw.Name)
	a.AlbumType = raw.AlbumType
	a.UPC = raw.ExternalIDs.UPC
	a.Metadata.Image = spotifyCover(raw.Images)
	a.Metadata.Genres = raw.Genres
	if len(raw.ReleaseDate) >= 4 {
		a.Metadata.Year, _ = strconv.Atoi(raw.ReleaseDate[:4])
	}
	if len(raw.Artists) > 0 {
		a.Artist = m.artist(raw.Artists[0])
	}
	a.AddProviderID(models.ProviderID{
		ItemID:    raw.ID,
		Provider:  m.provider,
		URL:       spotifyOpenURL + "/album/" + raw.ID,
		Available: true,
	})
	return a
}

// track maps a full or simplified track. Local files have no id and are dropped.
func (m spotifyMapping) track(raw spotifyTrack) *models.Track {
	if raw.ID == "" || raw.IsLocal {
		return nil
	}
	t := models.NewTrack(m.provider, raw.ID, raw.Name)
	t.Duration = raw.DurationMS / 1000
	t.ISRC = raw.ExternalIDs.ISRC
	t.TrackNumber = raw.TrackNumber
	t.DiscNumber = raw.DiscNumber
	if raw.Explicit {
		t.Version = "explicit"
	}
	for _, a := range raw.Artists {
		if artist := m.artist(a); artist != nil {
			t.Artists = append(t.Artists, artist)
		}
	}
	if raw.Album != nil {
		t.Album = m.album(*raw.Album)
		if t.Album != nil {
			t.Metadata.Image = t.Album.Metadata.Image
		}
	}

	// Only 30 second previews are streamable through the Web API.
	playable := raw.IsPlayable == nil || *raw.IsPlayable
	t.AddProviderID(models.ProviderID{
		ItemID:    raw.ID,
		Provider:  m.provider,
		URL:       spotifyOpenURL + "/track/" + raw.ID,
		Quality:   models.QualityLossyMP3,
		Available: playable && raw.PreviewURL != "",
		Details:   raw.PreviewURL,
	})
	return t
}

func (m spotifyMapping) playlist(raw spotifyPlaylist) *models.Playlist {
	if raw.ID == "" {
		return nil
	}
	p := models.NewPlaylist(m.provider, raw.ID, raw.Name)
	p.Owner = raw.Owner.DisplayName
	p.IsEditable = raw.Collaborative || (m.userID != "" && raw.Owner.ID == m.userID)
	p.Metadata.Description = raw.Description
	p.Metadata.Image = spotifyCover(raw.Images)
	p.Metadata.Checksum = raw.SnapshotID
	p.AddProviderID(models.ProviderID{
		ItemID:    raw.ID,
		Provider:  m.provider,
		URL:       spotifyOpenURL + "/playlist/" + raw.ID,
		Available: true,
	})
	return p
}

func spotifyTrackURIs(ids []string) []string {
	uris := make([]string, len(ids))
	for i, id := range ids {
		if strings.HasPrefix(id, "spotify:") {
			uris[i] = id
		} else {
			uris[i] = "spotify:track:" + id
		}
	}
	return uris
}
