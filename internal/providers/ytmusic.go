package providers

import (
	"bytes"
	"cmp"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"iter"
	"net/http"
	"net/url"
	"os"
	"slices"
	"strconv"
	"strings"

	"github.com/desertthunder/jukebox/internal/models"
	"github.com/desertthunder/jukebox/internal/shared"
)

const (
	defaultYTBaseURL = "http://localhost:8080"
	ytRateLimit      = 5
	ytLibraryLimit   = 9999
)

var ytSearchFilters = map[models.MediaType]string{
	models.MediaTypeArtist:   "artists",
	models.MediaTypeAlbum:    "albums",
	models.MediaTypeTrack:    "songs",
	models.MediaTypePlaylist: "playlists",
}

// YouTubeMusic talks to the ytmusicapi proxy server.
//
// Credentials: username is the proxy base url, password the path of the browser.json auth file the
// proxy reads on every request (sent as the X-Auth-File header).
type YouTubeMusic struct {
	base
	UnimplementedProvider

	baseURL  string
	authFile string
	mapping  ytMapping
}

// NewYouTubeMusic creates a YouTube Music adapter.
func NewYouTubeMusic(cfg shared.ProviderConfig, opts Options) (*YouTubeMusic, error) {
	baseURL := strings.TrimRight(cfg.Username, "/")
	if baseURL == "" {
		baseURL = defaultYTBaseURL
	}
	if _, err := url.ParseRequestURI(baseURL); err != nil {
		return nil, fmt.Errorf("%w: ytmusic proxy url %q: %v", shared.ErrInvalidConfig, baseURL, err)
	}

	features := FeatureSearch | FeatureLibraryArtists | FeatureLibraryAlbums | FeatureLibraryTracks |
		FeatureLibraryPlaylists | FeatureLibraryEdit | FeaturePlaylistTracksEdit

	b := newBase(cfg, models.ProviderYouTube, features, ytRateLimit, opts)
	return &YouTubeMusic{
		base:     b,
		baseURL:  baseURL,
		authFile: shared.ExpandHome(cfg.Password),
		mapping:  ytMapping{provider: b.id},
	}, nil
}

// Setup checks the auth file exists and the proxy is healthy.
func (y *YouTubeMusic) Setup(ctx context.Context) error {
	if y.authFile == "" {
		return fmt.Errorf("%w: ytmusic requires an auth file", shared.ErrLoginFailed)
	}
	if _, err := os.Stat(y.authFile); err != nil {
		return fmt.Errorf("%w: auth file %s: %v", shared.ErrLoginFailed, y.authFile, err)
	}

	var health struct {
		Status string `json:"status"`
	}
	if err := y.doRequest(ctx, http.MethodGet, "/health", nil, &health); err != nil {
		return fmt.Errorf("ytmusic proxy health: %w", err)
	}
	return nil
}

func (y *YouTubeMusic) doRequest(ctx context.Context, method, endpoint string, body, result any) error {
	if err := y.throttle.Wait(ctx); err != nil {
		return err
	}

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, y.baseURL+endpoint, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if y.authFile != "" {
		req.Header.Set("X-Auth-File", y.authFile)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := y.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: request failed: %v", shared.ErrProviderUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var errResp struct {
			Detail string `json:"detail"`
		}
		json.NewDecoder(resp.Body).Decode(&errResp)
		return statusError("ytmusic", resp.StatusCode, errResp.Detail)
	}

	if result != nil {
		if err := json.NewDecoder(resp.Body).Decode(result); err != nil {
			return fmt.Errorf("%w: failed to decode response: %v", shared.ErrAPIRequest, err)
		}
	}
	return nil
}

// library fetches a whole library listing; the proxy does not page.
func library[T any](ctx context.Context, y *YouTubeMusic, kind string, mapper func(T) models.MediaItem) iter.Seq[models.MediaItem] {
	return func(yield func(models.MediaItem) bool) {
		var raw []T
		endpoint := fmt.Sprintf("/api/library/%s?limit=%d", kind, ytLibraryLimit)
		if err := y.doRequest(ctx, http.MethodGet, endpoint, nil, &raw); err != nil {
			y.logger.Warn("library listing failed", "kind", kind, "error", err)
			return
		}
		for item := range Items(Slice(raw), mapper) {
			item.Base().InLibrary = true
			if !yield(item) {
				return
			}
		}
	}
}

func (y *YouTubeMusic) LibraryArtists(ctx context.Context) iter.Seq[models.MediaItem] {
	return library(ctx, y, "artists", func(raw ytArtist) models.MediaItem {
		return asItem(y.mapping.artist(raw))
	})
}

func (y *YouTubeMusic) LibraryAlbums(ctx context.Context) iter.Seq[models.MediaItem] {
	return library(ctx, y, "albums", func(raw ytAlbum) models.MediaItem {
		return asItem(y.mapping.album(raw))
	})
}

func (y *YouTubeMusic) LibraryTracks(ctx context.Context) iter.Seq[models.MediaItem] {
	return library(ctx, y, "songs", func(raw ytTrack) models.MediaItem {
		return asItem(y.mapping.track(raw))
	})
}

func (y *YouTubeMusic) LibraryPlaylists(ctx context.Context) iter.Seq[models.MediaItem] {
	return library(ctx, y, "playlists", func(raw ytPlaylist) models.MediaItem {
		return asItem(y.mapping.playlist(raw))
	})
}

// Search runs one filtered proxy search per requested type.
func (y *YouTubeMusic) Search(ctx context.Context, query string, types []models.MediaType, limit int) ([]models.MediaItem, error) {
	if len(types) == 0 {
		types = []models.MediaType{models.MediaTypeArtist, models.MediaTypeAlbum, models.MediaTypeTrack, models.MediaTypePlaylist}
	}

	var out []models.MediaItem
	for _, mt := range types {
		filter, ok := ytSearchFilters[mt]
		if !ok {
			continue
		}

		q := url.Values{"q": {query}, "filter": {filter}, "limit": {strconv.Itoa(limit)}}
		var results []ytSearchResult
		if err := y.doRequest(ctx, http.MethodGet, "/api/search?"+q.Encode(), nil, &results); err != nil {
			return out, err
		}

		n := 0
		for _, raw := range results {
			if n >= limit {
				break
			}
			if item := y.mapping.searchItem(raw); item != nil && item.MediaType() == mt {
				out = append(out, item)
				n++
			}
		}
	}
	return out, nil
}

func (y *YouTubeMusic) fetchAlbum(ctx context.Context, id string) (ytAlbum, error) {
	var raw ytAlbum
	if err := y.doRequest(ctx, http.MethodGet, "/api/albums/"+url.PathEscape(id), nil, &raw); err != nil {
		return raw, err
	}
	if raw.BrowseID == "" {
		raw.BrowseID = id
	}
	return raw, nil
}

func (y *YouTubeMusic) fetchPlaylist(ctx context.Context, id string) (ytPlaylist, error) {
	var raw ytPlaylist
	if err := y.doRequest(ctx, http.MethodGet, "/api/playlists/"+url.PathEscape(id), nil, &raw); err != nil {
		return raw, err
	}
	if raw.ID == "" {
		raw.ID = id
	}
	return raw, nil
}

func (y *YouTubeMusic) GetItem(ctx context.Context, id string, mt models.MediaType) (models.MediaItem, error) {
	var item models.MediaItem
	switch mt {
	case models.MediaTypeArtist:
		var raw ytArtist
		if err := y.doRequest(ctx, http.MethodGet, "/api/artists/"+url.PathEscape(id), nil, &raw); err != nil {
			return nil, err
		}
		raw.ID = cmp.Or(raw.ID, raw.BrowseID, id)
		item = asItem(y.mapping.artist(raw))
	case models.MediaTypeAlbum:
		raw, err := y.fetchAlbum(ctx, id)
		if err != nil {
			return nil, err
		}
		item = asItem(y.mapping.album(raw))
	case models.MediaTypeTrack:
		var raw ytTrack
		if err := y.doRequest(ctx, http.MethodGet, "/api/songs/"+url.PathEscape(id), nil, &raw); err != nil {
			return nil, err
		}
		item = asItem(y.mapping.track(raw))
	case models.MediaTypePlaylist:
		raw, err := y.fetchPlaylist(ctx, id)
		if err != nil {
			return nil, err
		}
		item = asItem(y.mapping.playlist(raw))
	}

	if item == nil {
		return nil, fmt.Errorf("%w: %s %s", shared.ErrMediaNotFound, mt, id)
	}
	return item, nil
}

func (y *YouTubeMusic) mapTracks(raw []ytTrack) []*models.Track {
	tracks := make([]*models.Track, 0, len(raw))
	for _, r := range raw {
		if t := y.mapping.track(r); t != nil {
			t.Position = len(tracks) + 1
			tracks = append(tracks, t)
		}
	}
	return tracks
}

func (y *YouTubeMusic) AlbumTracks(ctx context.Context, id string) ([]*models.Track, error) {
	raw, err := y.fetchAlbum(ctx, id)
	if err != nil {
		return nil, err
	}
	album := y.mapping.album(raw)
	tracks := y.mapTracks(raw.Tracks)
	for _, t := range tracks {
		if t.Album == nil {
			t.Album = album
		}
	}
	return tracks, nil
}

func (y *YouTubeMusic) PlaylistTracks(ctx context.Context, id string) ([]*models.Track, error) {
	raw, err := y.fetchPlaylist(ctx, id)
	if err != nil {
		return nil, err
	}
	return y.mapTracks(raw.Tracks), nil
}

// GetStreamDetails picks the preferred audio format of a video. Signed urls carry their own expiry.
func (y *YouTubeMusic) GetStreamDetails(ctx context.Context, id string) (*models.StreamDetails, error) {
	var raw ytStream
	if err := y.doRequest(ctx, http.MethodGet, "/api/streams/"+url.PathEscape(id), nil, &raw); err != nil {
		return nil, err
	}

	sd, err := y.mapping.streamDetails(id, raw, y.now())
	if err != nil {
		return nil, fmt.Errorf("%w: %v", shared.ErrMediaNotFound, err)
	}
	return sd, nil
}

func (y *YouTubeMusic) rate(ctx context.Context, id string, mt models.MediaType, add bool) error {
	rating := "INDIFFERENT"
	if add {
		rating = "LIKE"
	}
	body := map[string]string{"rating": rating}

	switch mt {
	case models.MediaTypeArtist:
		method := http.MethodPost
		if !add {
			method = http.MethodDelete
		}
		return y.doRequest(ctx, method, "/api/artists/subscriptions", map[string][]string{"channel_ids": {id}}, nil)
	case models.MediaTypeAlbum:
		raw, err := y.fetchAlbum(ctx, id)
		if err != nil {
			return err
		}
		if raw.AudioPlaylistID == "" {
			return fmt.Errorf("%w: album %s has no audio playlist", shared.ErrMediaNotFound, id)
		}
		return y.doRequest(ctx, http.MethodPost, "/api/playlists/"+url.PathEscape(raw.AudioPlaylistID)+"/rating", body, nil)
	case models.MediaTypePlaylist:
		return y.doRequest(ctx, http.MethodPost, "/api/playlists/"+url.PathEscape(id)+"/rating", body, nil)
	case models.MediaTypeTrack:
		return y.doRequest(ctx, http.MethodPost, "/api/songs/"+url.PathEscape(id)+"/rating", body, nil)
	default:
		return fmt.Errorf("%w: ytmusic library has no %s items", shared.ErrUnsupportedFeature, mt)
	}
}

// LibraryAdd subscribes to artists and likes albums, playlists and songs.
func (y *YouTubeMusic) LibraryAdd(ctx context.Context, id string, mt models.MediaType) error {
	return y.rate(ctx, id, mt, true)
}

func (y *YouTubeMusic) LibraryRemove(ctx context.Context, id string, mt models.MediaType) error {
	return y.rate(ctx, id, mt, false)
}

func (y *YouTubeMusic) AddPlaylistTracks(ctx context.Context, playlistID string, trackIDs []string) error {
	body := map[string][]string{"video_ids": trackIDs}
	return y.doRequest(ctx, http.MethodPost, "/api/playlists/"+url.PathEscape(playlistID)+"/items", body, nil)
}

// RemovePlaylistTracks needs the set video ids of the entries, so the playlist is read first.
func (y *YouTubeMusic) RemovePlaylistTracks(ctx context.Context, playlistID string, trackIDs []string) error {
	raw, err := y.fetchPlaylist(ctx, playlistID)
	if err != nil {
		return err
	}

	type video struct {
		VideoID    string `json:"videoId"`
		SetVideoID string `json:"setVideoId"`
	}
	var videos []video
	for _, t := range raw.Tracks {
		if t.SetVideoID != "" && slices.Contains(trackIDs, t.VideoID) {
			videos = append(videos, video{VideoID: t.VideoID, SetVideoID: t.SetVideoID})
		}
	}
	if len(videos) == 0 {
		return nil
	}

	body := map[string][]video{"videos": videos}
	return y.doRequest(ctx, http.MethodDelete, "/api/playlists/"+url.PathEscape(playlistID)+"/items", body, nil)
}
