package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"iter"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/oauth2"

	"github.com/desertthunder/jukebox/internal/models"
	"github.com/desertthunder/jukebox/internal/shared"
)

const (
	spotifyAuthURL   = "https://accounts.spotify.com/authorize"
	spotifyTokenURL  = "https://accounts.spotify.com/api/token"
	spotifyBaseURL   = "https://api.spotify.com/v1"
	spotifyPageSize  = 50
	spotifyRateLimit = 10
	spotifyEditChunk = 100
	spotifyIDsChunk  = 50
	spotifyStreamTTL = time.Hour
)

var spotifyScopes = []string{
	"user-read-private",
	"user-read-email",
	"user-library-read",
	"user-library-modify",
	"user-follow-read",
	"user-follow-modify",
	"playlist-read-private",
	"playlist-read-collaborative",
	"playlist-modify-public",
	"playlist-modify-private",
}

// SpotifyOAuthConfig builds the authorization code flow configuration for cfg.
func SpotifyOAuthConfig(cfg shared.ProviderConfig) *oauth2.Config {
	redirectURI := cfg.RedirectURI
	if redirectURI == "" {
		redirectURI = "http://127.0.0.1:3000/callback"
	}
	return &oauth2.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		RedirectURL:  redirectURI,
		Scopes:       spotifyScopes,
		Endpoint: oauth2.Endpoint{
			AuthURL:  spotifyAuthURL,
			TokenURL: spotifyTokenURL,
		},
	}
}

// Spotify is the adapter for the Spotify Web API.
//
// Credentials are an OAuth2 client id and secret plus the tokens stored by "jukebox auth spotify".
// Access tokens are refreshed transparently; call [Spotify.Token] to persist a refreshed token.
// Only 30 second previews are streamable.
type Spotify struct {
	base
	UnimplementedProvider

	apiURL string
	config *oauth2.Config

	mu      sync.Mutex
	tokens  oauth2.TokenSource
	mapping spotifyMapping
}

// NewSpotify creates a Spotify adapter.
func NewSpotify(cfg shared.ProviderConfig, opts Options) (*Spotify, error) {
	if cfg.ClientID == "" {
		return nil, fmt.Errorf("%w: spotify requires client_id", shared.ErrMissingCredentials)
	}

	features := FeatureSearch | FeatureLibraryArtists | FeatureLibraryAlbums | FeatureLibraryTracks |
		FeatureLibraryPlaylists | FeatureLibraryEdit | FeaturePlaylistTracksEdit

	b := newBase(cfg, models.ProviderSpotify, features, spotifyRateLimit, opts)
	s := &Spotify{
		base:    b,
		apiURL:  spotifyBaseURL,
		config:  SpotifyOAuthConfig(cfg),
		mapping: spotifyMapping{provider: b.id},
	}
	if token := cfg.Token(); token != nil {
		s.SetToken(token)
	}
	return s, nil
}

// SetToken replaces the stored token. Refreshes go through the adapter's http client.
func (s *Spotify) SetToken(token *oauth2.Token) {
	ctx := context.WithValue(context.Background(), oauth2.HTTPClient, s.client)
	s.mu.Lock()
	s.tokens = oauth2.ReuseTokenSource(token, s.config.TokenSource(ctx, token))
	s.mu.Unlock()
}

// Token returns the current, possibly refreshed, token.
func (s *Spotify) Token() (*oauth2.Token, error) {
	s.mu.Lock()
	tokens := s.tokens
	s.mu.Unlock()

	if tokens == nil {
		return nil, shared.ErrNotAuthenticated
	}
	token, err := tokens.Token()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", shared.ErrRefreshFailed, err)
	}
	return token, nil
}

func (s *Spotify) mapper() spotifyMapping {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mapping
}

// Setup reads the current user, whose id decides which playlists are editable.
func (s *Spotify) Setup(ctx context.Context) error {
	var user struct {
		ID          string `json:"id"`
		DisplayName string `json:"display_name"`
		Product     string `json:"product"`
	}
	if err := s.doRequest(ctx, http.MethodGet, "/me", nil, nil, &user); err != nil {
		return fmt.Errorf("spotify profile: %w", err)
	}

	s.mu.Lock()
	s.mapping.userID = user.ID
	s.mu.Unlock()

	s.logger.Debug("spotify ready", "user", user.DisplayName, "product", user.Product)
	return nil
}

// doRequest performs an authenticated request against the Web API, encoding body as JSON.
func (s *Spotify) doRequest(ctx context.Context, method, endpoint string, query url.Values, body, result any) error {
	token, err := s.Token()
	if err != nil {
		return fmt.Errorf("%w: %w", shared.ErrLoginFailed, err)
	}
	if err := s.throttle.Wait(ctx); err != nil {
		return err
	}

	apiURL := s.apiURL + endpoint
	if len(query) > 0 {
		apiURL += "?" + query.Encode()
	}

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, apiURL, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	token.SetAuthHeader(req)
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: request failed: %v", shared.ErrProviderUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var errResp struct {
			Error struct {
				Message string `json:"message"`
			} `json:"error"`
		}
		json.NewDecoder(resp.Body).Decode(&errResp)
		return statusError("spotify", resp.StatusCode, errResp.Error.Message)
	}

	if result == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(result); err != nil && err != io.EOF {
		return fmt.Errorf("%w: failed to decode response: %v", shared.ErrAPIRequest, err)
	}
	return nil
}

func spotifyPager[T any](s *Spotify, endpoint string, query url.Values) PageFunc[T] {
	return func(ctx context.Context, offset, limit int) ([]T, error) {
		q := url.Values{}
		for k, v := range query {
			q[k] = v
		}
		q.Set("offset", strconv.Itoa(offset))
		q.Set("limit", strconv.Itoa(limit))

		var page spotifyPage[T]
		if err := s.doRequest(ctx, http.MethodGet, endpoint, q, nil, &page); err != nil {
			return nil, err
		}
		return page.Items, nil
	}
}

func inLibrary(seq iter.Seq[models.MediaItem]) iter.Seq[models.MediaItem] {
	return func(yield func(models.MediaItem) bool) {
		for item := range seq {
			item.Base().InLibrary = true
			if !yield(item) {
				return
			}
		}
	}
}

func (s *Spotify) LibraryTracks(ctx context.Context) iter.Seq[models.MediaItem] {
	m := s.mapper()
	pages := Paginate(ctx, s.logger, spotifyPageSize, spotifyPager[spotifySavedTrack](s, "/me/tracks", nil))
	return inLibrary(Items(pages, func(raw spotifySavedTrack) models.MediaItem {
		if raw.Track == nil {
			return nil
		}
		return asItem(m.track(*raw.Track))
	}))
}

func (s *Spotify) LibraryAlbums(ctx context.Context) iter.Seq[models.MediaItem] {
	m := s.mapper()
	pages := Paginate(ctx, s.logger, spotifyPageSize, spotifyPager[spotifySavedAlbum](s, "/me/albums", nil))
	return inLibrary(Items(pages, func(raw spotifySavedAlbum) models.MediaItem {
		if raw.Album == nil {
			return nil
		}
		return asItem(m.album(*raw.Album))
	}))
}

func (s *Spotify) LibraryPlaylists(ctx context.Context) iter.Seq[models.MediaItem] {
	m := s.mapper()
	pages := Paginate(ctx, s.logger, spotifyPageSize, spotifyPager[*spotifyPlaylist](s, "/me/playlists", nil))
	return inLibrary(Items(pages, func(raw *spotifyPlaylist) models.MediaItem {
		if raw == nil {
			return nil
		}
		return asItem(m.playlist(*raw))
	}))
}

// LibraryArtists walks the followed artists, which page by cursor rather than offset.
func (s *Spotify) LibraryArtists(ctx context.Context) iter.Seq[models.MediaItem] {
	m := s.mapper()
	return func(yield func(models.MediaItem) bool) {
		after := ""
		position := 0
		for {
			q := url.Values{"type": {"artist"}, "limit": {strconv.Itoa(spotifyPageSize)}}
			if after != "" {
				q.Set("after", after)
			}

			var resp struct {
				Artists struct {
					Items   []spotifyArtist `json:"items"`
					Cursors struct {
						After string `json:"after"`
					} `json:"cursors"`
				} `json:"artists"`
			}
			if err := s.doRequest(ctx, http.MethodGet, "/me/following", q, nil, &resp); err != nil {
				s.logger.Warn("page failed, ending enumeration", "after", after, "error", err)
				return
			}

			for _, raw := range resp.Artists.Items {
				position++
				a := m.artist(raw)
				if a == nil {
					continue
				}
				a.Position = position
				a.InLibrary = true
				if !yield(a) {
					return
				}
			}

			after = resp.Artists.Cursors.After
			if after == "" || len(resp.Artists.Items) == 0 {
				return
			}
		}
	}
}

var spotifySearchTypes = map[models.MediaType]string{
	models.MediaTypeArtist:   "artist",
	models.MediaTypeAlbum:    "album",
	models.MediaTypeTrack:    "track",
	models.MediaTypePlaylist: "playlist",
}

func (s *Spotify) Search(ctx context.Context, query string, types []models.MediaType, limit int) ([]models.MediaItem, error) {
	if len(types) == 0 {
		types = []models.MediaType{models.MediaTypeArtist, models.MediaTypeAlbum, models.MediaTypeTrack, models.MediaTypePlaylist}
	}
	var kinds []string
	for _, mt := range types {
		if k, ok := spotifySearchTypes[mt]; ok {
			kinds = append(kinds, k)
		}
	}
	if len(kinds) == 0 {
		return nil, nil
	}

	q := url.Values{"q": {query}, "type": {strings.Join(kinds, ",")}, "limit": {strconv.Itoa(min(limit, spotifyPageSize))}}
	var resp spotifySearch
	if err := s.doRequest(ctx, http.MethodGet, "/search", q, nil, &resp); err != nil {
		return nil, err
	}

	m := s.mapper()
	var out []models.MediaItem
	for _, mt := range types {
		switch mt {
		case models.MediaTypeArtist:
			out = appendCapped(out, resp.Artists.Items, limit, func(r spotifyArtist) models.MediaItem { return asItem(m.artist(r)) })
		case models.MediaTypeAlbum:
			out = appendCapped(out, resp.Albums.Items, limit, func(r spotifyAlbum) models.MediaItem { return asItem(m.album(r)) })
		case models.MediaTypeTrack:
			out = appendCapped(out, resp.Tracks.Items, limit, func(r spotifyTrack) models.MediaItem { return asItem(m.track(r)) })
		case models.MediaTypePlaylist:
			out = appendCapped(out, resp.Playlists.Items, limit, func(r spotifyPlaylist) models.MediaItem { return asItem(m.playlist(r)) })
		}
	}
	return out, nil
}

// appendCapped maps up to limit non-nil records onto out. Spotify returns null entries for removed
// playlists.
func appendCapped[T any](out []models.MediaItem, raw []*T, limit int, mapper func(T) models.MediaItem) []models.MediaItem {
	n := 0
	for _, r := range raw {
		if n >= limit {
			break
		}
		if r == nil {
			continue
		}
		if item := mapper(*r); item != nil {
			out = append(out, item)
			n++
		}
	}
	return out
}

var spotifyItemPaths = map[models.MediaType]string{
	models.MediaTypeArtist:   "/artists/",
	models.MediaTypeAlbum:    "/albums/",
	models.MediaTypeTrack:    "/tracks/",
	models.MediaTypePlaylist: "/playlists/",
}

func (s *Spotify) GetItem(ctx context.Context, id string, mt models.MediaType) (models.MediaItem, error) {
	path, ok := spotifyItemPaths[mt]
	if !ok {
		return nil, fmt.Errorf("%w: spotify has no %s items", shared.ErrMediaNotFound, mt)
	}

	m := s.mapper()
	var item models.MediaItem
	switch mt {
	case models.MediaTypeArtist:
		var raw spotifyArtist
		if err := s.doRequest(ctx, http.MethodGet, path+url.PathEscape(id), nil, nil, &raw); err != nil {
			return nil, err
		}
		item = asItem(m.artist(raw))
	case models.MediaTypeAlbum:
		var raw spotifyAlbum
		if err := s.doRequest(ctx, http.MethodGet, path+url.PathEscape(id), nil, nil, &raw); err != nil {
			return nil, err
		}
		item = asItem(m.album(raw))
	case models.MediaTypeTrack:
		var raw spotifyTrack
		if err := s.doRequest(ctx, http.MethodGet, path+url.PathEscape(id), nil, nil, &raw); err != nil {
			return nil, err
		}
		item = asItem(m.track(raw))
	case models.MediaTypePlaylist:
		var raw spotifyPlaylist
		q := url.Values{"fields": {"id,name,description,owner,public,collaborative,snapshot_id,images"}}
		if err := s.doRequest(ctx, http.MethodGet, path+url.PathEscape(id), q, nil, &raw); err != nil {
			return nil, err
		}
		item = asItem(m.playlist(raw))
	}

	if item == nil {
		return nil, fmt.Errorf("%w: %s %s", shared.ErrMediaNotFound, mt, id)
	}
	return item, nil
}

func collectTracks[T any](seq iter.Seq2[int, T], mapper func(T) *models.Track) []*models.Track {
	var tracks []*models.Track
	for pos, raw := range seq {
		if t := mapper(raw); t != nil {
			t.Position = pos
			tracks = append(tracks, t)
		}
	}
	return tracks
}

// AlbumTracks pages through the album's simplified tracks and attaches the album itself.
func (s *Spotify) AlbumTracks(ctx context.Context, id string) ([]*models.Track, error) {
	item, err := s.GetItem(ctx, id, models.MediaTypeAlbum)
	if err != nil {
		return nil, err
	}
	album := item.(*models.Album)

	m := s.mapper()
	pages := Paginate(ctx, s.logger, spotifyPageSize, spotifyPager[spotifyTrack](s, "/albums/"+url.PathEscape(id)+"/tracks", nil))
	return collectTracks(pages, func(raw spotifyTrack) *models.Track {
		t := m.track(raw)
		if t != nil {
			t.Album = album
		}
		return t
	}), nil
}

func (s *Spotify) PlaylistTracks(ctx context.Context, id string) ([]*models.Track, error) {
	if _, err := s.GetItem(ctx, id, models.MediaTypePlaylist); err != nil {
		return nil, err
	}

	m := s.mapper()
	pages := Paginate(ctx, s.logger, spotifyPageSize, spotifyPager[spotifySavedTrack](s, "/playlists/"+url.PathEscape(id)+"/tracks", nil))
	return collectTracks(pages, func(raw spotifySavedTrack) *models.Track {
		if raw.Track == nil {
			return nil
		}
		return m.track(*raw.Track)
	}), nil
}

// GetStreamDetails returns the 30 second mp3 preview of a track.
func (s *Spotify) GetStreamDetails(ctx context.Context, id string) (*models.StreamDetails, error) {
	var raw spotifyTrack
	if err := s.doRequest(ctx, http.MethodGet, "/tracks/"+url.PathEscape(id), nil, nil, &raw); err != nil {
		return nil, err
	}
	if raw.PreviewURL == "" {
		return nil, fmt.Errorf("%w: spotify track %s has no preview", shared.ErrMediaNotFound, id)
	}

	return &models.StreamDetails{
		ItemID:      id,
		Provider:    s.id,
		ContentType: models.ContentTypeMP3,
		Quality:     models.QualityLossyMP3,
		Duration:    min(30, raw.DurationMS/1000),
		DirectURL:   raw.PreviewURL,
		Expires:     s.now().Add(spotifyStreamTTL),
		Data:        map[string]string{"uri": raw.URI},
	}, nil
}

func (s *Spotify) libraryEdit(ctx context.Context, method, id string, mt models.MediaType) error {
	switch mt {
	case models.MediaTypeTrack:
		return s.doRequest(ctx, method, "/me/tracks", url.Values{"ids": {id}}, nil, nil)
	case models.MediaTypeAlbum:
		return s.doRequest(ctx, method, "/me/albums", url.Values{"ids": {id}}, nil, nil)
	case models.MediaTypeArtist:
		return s.doRequest(ctx, method, "/me/following", url.Values{"type": {"artist"}, "ids": {id}}, nil, nil)
	case models.MediaTypePlaylist:
		return s.doRequest(ctx, method, "/playlists/"+url.PathEscape(id)+"/followers", nil, nil, nil)
	default:
		return fmt.Errorf("%w: spotify library has no %s items", shared.ErrUnsupportedFeature, mt)
	}
}

// LibraryAdd saves tracks and albums, follows artists and playlists.
func (s *Spotify) LibraryAdd(ctx context.Context, id string, mt models.MediaType) error {
	return s.libraryEdit(ctx, http.MethodPut, id, mt)
}

func (s *Spotify) LibraryRemove(ctx context.Context, id string, mt models.MediaType) error {
	return s.libraryEdit(ctx, http.MethodDelete, id, mt)
}

// AddPlaylistTracks appends tracks in chunks of 100, the Web API maximum.
func (s *Spotify) AddPlaylistTracks(ctx context.Context, playlistID string, trackIDs []string) error {
	uris := spotifyTrackURIs(trackIDs)
	for start := 0; start < len(uris); start += spotifyEditChunk {
		chunk := uris[start:min(start+spotifyEditChunk, len(uris))]
		body := map[string][]string{"uris": chunk}
		if err := s.doRequest(ctx, http.MethodPost, "/playlists/"+url.PathEscape(playlistID)+"/tracks", nil, body, nil); err != nil {
			return err
		}
	}
	return nil
}

func (s *Spotify) RemovePlaylistTracks(ctx context.Context, playlistID string, trackIDs []string) error {
	type ref struct {
		URI string `json:"uri"`
	}
	uris := spotifyTrackURIs(trackIDs)
	for start := 0; start < len(uris); start += spotifyEditChunk {
		var refs []ref
		for _, uri := range uris[start:min(start+spotifyEditChunk, len(uris))] {
			refs = append(refs, ref{URI: uri})
		}
		body := map[string][]ref{"tracks": refs}
		if err := s.doRequest(ctx, http.MethodDelete, "/playlists/"+url.PathEscape(playlistID)+"/tracks", nil, body, nil); err != nil {
			return err
		}
	}
	return nil
}
