package providers

import (
	"cmp"
	"fmt"
	"net/url"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/desertthunder/jukebox/internal/models"
)

type ytImage struct {
	URL    string `json:"url"`
	Width  int    `json:"width"`
	Height int    `json:"height"`
}

type ytRef struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type ytArtist struct {
	ID          string    `json:"id"`
	BrowseID    string    `json:"browseId"`
	Name        string    `json:"name"`
	Artist      string    `json:"artist"`
	Description string    `json:"description"`
	Thumbnails  []ytImage `json:"thumbnails"`
}

type ytAlbum struct {
	BrowseID        string    `json:"browseId"`
	AudioPlaylistID string    `json:"audioPlaylistId"`
	Title           string    `json:"title"`
	Type            string    `json:"type"`
	Year            string    `json:"year"`
	Description     string    `json:"description"`
	Artists         []ytRef   `json:"artists"`
	Thumbnails      []ytImage `json:"thumbnails"`
	Tracks          []ytTrack `json:"tracks"`
}

type ytTrack struct {
	VideoID     string    `json:"videoId"`
	SetVideoID  string    `json:"setVideoId,omitempty"`
	Title       string    `json:"title"`
	Artists     []ytRef   `json:"artists"`
	Album       *ytRef    `json:"album"`
	DurationSec int       `json:"duration_seconds"`
	Thumbnails  []ytImage `json:"thumbnails"`
	ISRC        string    `json:"isrc,omitempty"`
	IsAvailable *bool     `json:"isAvailable"`
	TrackNumber int       `json:"trackNumber"`
}

type ytPlaylist struct {
	ID          string    `json:"id"`
	PlaylistID  string    `json:"playlistId"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	Privacy     string    `json:"privacy"`
	Author      *ytRef    `json:"author"`
	Owned       bool      `json:"owned"`
	TrackCount  int       `json:"trackCount"`
	Count       int       `json:"count"`
	Thumbnails  []ytImage `json:"thumbnails"`
	Tracks      []ytTrack `json:"tracks,omitempty"`
}

// ytSearchResult is the union of every result type the proxy search returns.
type ytSearchResult struct {
	ResultType string `json:"resultType"`
	ytTrack
	BrowseID   string `json:"browseId"`
	PlaylistID string `json:"playlistId"`
	Artist     string `json:"artist"`
	Type       string `json:"type"`
	Year       string `json:"year"`
}

type ytFormat struct {
	Itag            int    `json:"itag"`
	URL             string `json:"url"`
	MimeType        string `json:"mimeType"`
	Bitrate         int    `json:"bitrate"`
	AudioSampleRate string `json:"audioSampleRate"`
}

type ytStream struct {
	VideoID         string     `json:"videoId"`
	DurationSeconds string     `json:"lengthSeconds"`
	Formats         []ytFormat `json:"formats"`
}

// ytItagPreference lists audio-only itags from best to worst: aac 256k, opus 160k, aac 128k,
// opus 70k, opus 50k.
var ytItagPreference = []int{141, 251, 140, 250, 249}

// ytMusicURL is the public web address of YouTube Music items.
const ytMusicURL = "https://music.youtube.com"

type ytMapping struct {
	provider string
}

func ytThumb(thumbs []ytImage) string {
	best := ""
	width := -1
	for _, th := range thumbs {
		if th.Width > width {
			best, width = th.URL, th.Width
		}
	}
	return best
}

func (m ytMapping) artistRef(ref ytRef) *models.Artist {
	id := ref.ID
	if id == "" {
		id = "name:" + ref.Name
	}
	a := models.NewArtist(m.provider, id, ref.Name)
	a.AddProviderID(models.ProviderID{
		ItemID:    id,
		Provider:  m.provider,
		URL:       ytMusicURL + "/channel/" + ref.ID,
		Available: ref.ID != "",
	})
	return a
}

func (m ytMapping) artist(raw ytArtist) *models.Artist {
	id := cmp.Or(raw.ID, raw.BrowseID)
	name := cmp.Or(raw.Name, raw.Artist)
	if id == "" || name == "" {
		return nil
	}
	a := m.artistRef(ytRef{ID: id, Name: name})
	a.Metadata.Description = raw.Description
	a.Metadata.Image = ytThumb(raw.Thumbnails)
	return a
}

func (m ytMapping) album(raw ytAlbum) *models.Album {
	if raw.BrowseID == "" {
		return nil
	}
	a := models.NewAlbum(m.provider, raw.BrowseID, raw.Title)
	a.AlbumType = strings.ToLower(raw.Type)
	a.Metadata.Description = raw.Description
	a.Metadata.Image = ytThumb(raw.Thumbnails)
	a.Metadata.Year, _ = strconv.Atoi(raw.Year)
	if len(raw.Artists) > 0 {
		a.Artist = m.artistRef(raw.Artists[0])
	}
	a.AddProviderID(models.ProviderID{
		ItemID:    raw.BrowseID,
		Provider:  m.provider,
		URL:       ytMusicURL + "/browse/" + raw.BrowseID,
		Available: true,
	})
	return a
}

func (m ytMapping) track(raw ytTrack) *models.Track {
	if raw.VideoID == "" {
		return nil
	}
	t := models.NewTrack(m.provider, raw.VideoID, raw.Title)
	t.Duration = raw.DurationSec
	t.ISRC = raw.ISRC
	t.TrackNumber = raw.TrackNumber
	t.Metadata.Image = ytThumb(raw.Thumbnails)
	for _, a := range raw.Artists {
		if a.Name != "" {
			t.Artists = append(t.Artists, m.artistRef(a))
		}
	}
	if raw.Album != nil && raw.Album.ID != "" {
		t.Album = m.album(ytAlbum{BrowseID: raw.Album.ID, Title: raw.Album.Name})
	}

	available := raw.IsAvailable == nil || *raw.IsAvailable
	t.AddProviderID(models.ProviderID{
		ItemID:    raw.VideoID,
		Provider:  m.provider,
		URL:       ytMusicURL + "/watch?v=" + raw.VideoID,
		Quality:   models.QualityLossyAAC,
		Available: available,
	})
	return t
}

func (m ytMapping) playlist(raw ytPlaylist) *models.Playlist {
	id := cmp.Or(raw.ID, raw.PlaylistID)
	if id == "" {
		return nil
	}
	p := models.NewPlaylist(m.provider, id, raw.Title)
	p.Metadata.Description = raw.Description
	p.Metadata.Image = ytThumb(raw.Thumbnails)
	if count := max(raw.TrackCount, raw.Count); count > 0 {
		p.Metadata.Checksum = strconv.Itoa(count)
	}
	if raw.Author != nil {
		p.Owner = raw.Author.Name
	}
	p.IsEditable = raw.Owned || raw.Privacy == "PRIVATE"
	p.AddProviderID(models.ProviderID{
		ItemID:    id,
		Provider:  m.provider,
		URL:       ytMusicURL + "/playlist?list=" + id,
		Available: true,
	})
	return p
}

// searchItem maps one search result by its result type. Unknown types return nil.
func (m ytMapping) searchItem(raw ytSearchResult) models.MediaItem {
	switch raw.ResultType {
	case "song", "video":
		return asItem(m.track(raw.ytTrack))
	case "album":
		return asItem(m.album(ytAlbum{BrowseID: raw.BrowseID, Title: raw.Title, Type: raw.Type, Year: raw.Year, Artists: raw.Artists, Thumbnails: raw.Thumbnails}))
	case "artist":
		return asItem(m.artist(ytArtist{BrowseID: raw.BrowseID, Artist: raw.Artist, Thumbnails: raw.Thumbnails}))
	case "playlist":
		return asItem(m.playlist(ytPlaylist{ID: cmp.Or(raw.PlaylistID, raw.BrowseID), Title: raw.Title, Thumbnails: raw.Thumbnails}))
	default:
		return nil
	}
}

// preferredFormat returns the best audio format by itag preference.
func preferredFormat(formats []ytFormat) (ytFormat, bool) {
	for _, itag := range ytItagPreference {
		idx := slices.IndexFunc(formats, func(f ytFormat) bool { return f.Itag == itag && f.URL != "" })
		if idx >= 0 {
			return formats[idx], true
		}
	}
	return ytFormat{}, false
}

// streamExpiry reads the unix "expire" query parameter of a signed stream url.
func streamExpiry(streamURL string, fallback time.Time) time.Time {
	u, err := url.Parse(streamURL)
	if err != nil {
		return fallback
	}
	secs, err := strconv.ParseInt(u.Query().Get("expire"), 10, 64)
	if err != nil || secs <= 0 {
		return fallback
	}
	return time.Unix(secs, 0).UTC()
}

func ytContentType(mime string) models.ContentType {
	switch {
	case strings.Contains(mime, "opus"), strings.Contains(mime, "webm"):
		return models.ContentTypeOGG
	case strings.Contains(mime, "mp4"):
		return models.ContentTypeAAC
	default:
		return models.TryParseContentType(mime)
	}
}

func (m ytMapping) streamDetails(id string, raw ytStream, now time.Time) (*models.StreamDetails, error) {
	format, ok := preferredFormat(raw.Formats)
	if !ok {
		return nil, fmt.Errorf("no playable audio format for %s", id)
	}
	ct := ytContentType(format.MimeType)
	duration, _ := strconv.Atoi(raw.DurationSeconds)
	sampleRate, _ := strconv.Atoi(format.AudioSampleRate)

	return &models.StreamDetails{
		ItemID:      id,
		Provider:    m.provider,
		ContentType: ct,
		Quality:     models.QualityFromFileType(string(ct)),
		Duration:    duration,
		SampleRate:  sampleRate,
		DirectURL:   format.URL,
		Expires:     streamExpiry(format.URL, now.Add(time.Hour)),
		Data:        map[string]string{"itag": strconv.Itoa(format.Itag)},
	}, nil
}
