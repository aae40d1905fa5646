package providers

import (
	"cmp"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"iter"
	"net/http"
	"net/url"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/desertthunder/jukebox/internal/models"
	"github.com/desertthunder/jukebox/internal/shared"
)

const (
	plexPageSize     = 50
	plexRateLimit    = 4
	plexStreamTTL    = 30 * time.Minute
	plexScrobbleRate = 0.9
	plexProduct      = "jukebox"
)

// Plex is the adapter for a Plex Media Server music library.
//
// Credentials: username is the server URL, password the X-Plex-Token.
type Plex struct {
	base
	UnimplementedProvider

	server   string
	token    string
	library  string
	clientID string
	mapping  plexMapping

	mu        sync.Mutex
	machineID string
	section   string
}

// NewPlex creates a Plex adapter. Credentials are checked by [Plex.Setup].
func NewPlex(cfg shared.ProviderConfig, opts Options) (*Plex, error) {
	server := strings.TrimRight(cfg.Username, "/")
	if server != "" {
		if _, err := url.ParseRequestURI(server); err != nil {
			return nil, fmt.Errorf("%w: plex server url %q: %v", shared.ErrInvalidConfig, server, err)
		}
	}

	features := FeatureSearch | FeatureLibraryArtists | FeatureLibraryAlbums | FeatureLibraryTracks |
		FeatureLibraryPlaylists | FeaturePlaylistTracksEdit

	b := newBase(cfg, models.ProviderPlex, features, plexRateLimit, opts)
	return &Plex{
		base:     b,
		server:   server,
		token:    cfg.Password,
		library:  cfg.Library,
		clientID: shared.GenerateID(),
		mapping:  plexMapping{provider: b.id, server: server},
	}, nil
}

// Setup reads the server identity and locates the music section.
func (p *Plex) Setup(ctx context.Context) error {
	if p.server == "" || p.token == "" {
		return fmt.Errorf("%w: plex requires a server url and token", shared.ErrLoginFailed)
	}

	var identity plexContainer
	if err := p.doRequest(ctx, http.MethodGet, "/identity", nil, &identity); err != nil {
		return fmt.Errorf("plex identity: %w", err)
	}

	var sections plexContainer
	if err := p.doRequest(ctx, http.MethodGet, "/library/sections", nil, &sections); err != nil {
		return fmt.Errorf("plex sections: %w", err)
	}

	section := ""
	for _, dir := range sections.MediaContainer.Directory {
		if dir.Type != "artist" {
			continue
		}
		if p.library == "" || strings.EqualFold(dir.Title, p.library) {
			section = dir.Key
			break
		}
	}
	if section == "" {
		return fmt.Errorf("%w: no plex music library named %q", shared.ErrProviderUnavailable, p.library)
	}

	p.mu.Lock()
	p.machineID = identity.MediaContainer.MachineIdentifier
	p.section = section
	p.mu.Unlock()

	p.logger.Debug("plex ready", "machine", identity.MediaContainer.MachineIdentifier, "section", section)
	return nil
}

func (p *Plex) sectionKey() (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.section == "" {
		return "", fmt.Errorf("%w: plex setup has not completed", shared.ErrProviderUnavailable)
	}
	return p.section, nil
}

// doRequest performs an authenticated request against the Plex API and decodes the JSON response.
func (p *Plex) doRequest(ctx context.Context, method, endpoint string, query url.Values, result any) error {
	if err := p.throttle.Wait(ctx); err != nil {
		return err
	}

	apiURL := p.server + endpoint
	if len(query) > 0 {
		apiURL += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, method, apiURL, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	p.setHeaders(req)

	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: request failed: %v", shared.ErrProviderUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return statusError("plex", resp.StatusCode, "")
	}

	if result == nil {
		return nil
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}
	if len(body) == 0 {
		return nil
	}
	if err := json.Unmarshal(body, result); err != nil {
		return fmt.Errorf("%w: failed to decode response: %v", shared.ErrAPIRequest, err)
	}
	return nil
}

func (p *Plex) setHeaders(req *http.Request) {
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Plex-Token", p.token)
	req.Header.Set("X-Plex-Client-Identifier", p.clientID)
	req.Header.Set("X-Plex-Product", plexProduct)
}

func (p *Plex) metadata(ctx context.Context, endpoint string, query url.Values) ([]plexMetadata, error) {
	var c plexContainer
	if err := p.doRequest(ctx, http.MethodGet, endpoint, query, &c); err != nil {
		return nil, err
	}
	return c.MediaContainer.Metadata, nil
}

func (p *Plex) pager(endpoint string, query url.Values) PageFunc[plexMetadata] {
	return func(ctx context.Context, offset, limit int) ([]plexMetadata, error) {
		q := url.Values{}
		for k, v := range query {
			q[k] = v
		}
		q.Set("X-Plex-Container-Start", strconv.Itoa(offset))
		q.Set("X-Plex-Container-Size", strconv.Itoa(limit))
		return p.metadata(ctx, endpoint, q)
	}
}

func (p *Plex) sectionItems(ctx context.Context, mt models.MediaType) iter.Seq[models.MediaItem] {
	section, err := p.sectionKey()
	if err != nil {
		p.logger.Warn("library unavailable", "type", mt, "error", err)
		return empty
	}

	query := url.Values{"type": {strconv.Itoa(plexTypes[mt])}}
	fetch := p.pager("/library/sections/"+section+"/all", query)
	return Items(Paginate(ctx, p.logger, plexPageSize, fetch), p.mapping.item)
}

func (p *Plex) LibraryArtists(ctx context.Context) iter.Seq[models.MediaItem] {
	return p.sectionItems(ctx, models.MediaTypeArtist)
}

func (p *Plex) LibraryAlbums(ctx context.Context) iter.Seq[models.MediaItem] {
	return p.sectionItems(ctx, models.MediaTypeAlbum)
}

func (p *Plex) LibraryTracks(ctx context.Context) iter.Seq[models.MediaItem] {
	return p.sectionItems(ctx, models.MediaTypeTrack)
}

func (p *Plex) LibraryPlaylists(ctx context.Context) iter.Seq[models.MediaItem] {
	fetch := p.pager("/playlists", url.Values{"playlistType": {"audio"}})
	return Items(Paginate(ctx, p.logger, plexPageSize, fetch), p.mapping.item)
}

// Search queries the server hubs, returning up to limit items per requested type.
func (p *Plex) Search(ctx context.Context, query string, types []models.MediaType, limit int) ([]models.MediaItem, error) {
	q := url.Values{"query": {query}}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	if section, err := p.sectionKey(); err == nil {
		q.Set("sectionId", section)
	}

	var c plexContainer
	if err := p.doRequest(ctx, http.MethodGet, "/hubs/search", q, &c); err != nil {
		return nil, err
	}

	var items []models.MediaItem
	for _, hub := range c.MediaContainer.Hub {
		mt, err := models.ParseMediaType(hub.Type)
		if err != nil || (len(types) > 0 && !slices.Contains(types, mt)) {
			continue
		}
		n := 0
		for _, md := range hub.Metadata {
			if limit > 0 && n >= limit {
				break
			}
			if item := p.mapping.item(md); item != nil && item.MediaType() == mt {
				items = append(items, item)
				n++
			}
		}
	}
	return items, nil
}

// GetItem fetches one item by rating key.
func (p *Plex) GetItem(ctx context.Context, id string, mt models.MediaType) (models.MediaItem, error) {
	endpoint := "/library/metadata/" + url.PathEscape(id)
	if mt == models.MediaTypePlaylist {
		endpoint = "/playlists/" + url.PathEscape(id)
	}

	records, err := p.metadata(ctx, endpoint, nil)
	if err != nil {
		return nil, err
	}
	for _, md := range records {
		if item := p.mapping.item(md); item != nil && item.MediaType() == mt {
			return item, nil
		}
	}
	return nil, fmt.Errorf("%w: plex %s %s", shared.ErrMediaNotFound, mt, id)
}

func (p *Plex) tracks(records []plexMetadata) []*models.Track {
	tracks := make([]*models.Track, 0, len(records))
	for i, md := range records {
		if md.Type != "track" || md.RatingKey == "" {
			continue
		}
		t := p.mapping.track(md)
		t.Position = i + 1
		tracks = append(tracks, t)
	}
	return tracks
}

func (p *Plex) AlbumTracks(ctx context.Context, id string) ([]*models.Track, error) {
	records, err := p.metadata(ctx, "/library/metadata/"+url.PathEscape(id)+"/children", nil)
	if err != nil {
		return nil, err
	}
	return p.tracks(records), nil
}

func (p *Plex) playlistItems(ctx context.Context, id string) []plexMetadata {
	var records []plexMetadata
	for _, md := range Paginate(ctx, p.logger, plexPageSize, p.pager("/playlists/"+url.PathEscape(id)+"/items", nil)) {
		records = append(records, md)
	}
	return records
}

func (p *Plex) PlaylistTracks(ctx context.Context, id string) ([]*models.Track, error) {
	if _, err := p.metadata(ctx, "/playlists/"+url.PathEscape(id), nil); err != nil {
		return nil, err
	}
	return p.tracks(p.playlistItems(ctx, id)), nil
}

func (p *Plex) partURL(key string) string {
	sep := "?"
	if strings.Contains(key, "?") {
		sep = "&"
	}
	return p.server + key + sep + "X-Plex-Token=" + url.QueryEscape(p.token)
}

// probe issues a HEAD request to check that a media part can be streamed.
func (p *Plex) probe(ctx context.Context, partURL string) error {
	if err := p.throttle.Wait(ctx); err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodHead, partURL, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	p.setHeaders(req)

	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: probe failed: %v", shared.ErrProviderUnavailable, err)
	}
	resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return statusError("plex", resp.StatusCode, "")
	}
	return nil
}

// GetStreamDetails tries each media version in codec preference order; the first playable part wins.
func (p *Plex) GetStreamDetails(ctx context.Context, id string) (*models.StreamDetails, error) {
	records, err := p.metadata(ctx, "/library/metadata/"+url.PathEscape(id), nil)
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("%w: plex track %s", shared.ErrMediaNotFound, id)
	}
	md := records[0]

	for _, media := range sortedPlexMedia(md.Media) {
		for _, part := range media.Part {
			if part.Key == "" {
				continue
			}
			streamURL := p.partURL(part.Key)
			if err := p.probe(ctx, streamURL); err != nil {
				p.logger.Debug("media part unavailable", "item", id, "codec", media.AudioCodec, "error", err)
				continue
			}
			return p.streamDetails(id, md, media, part, streamURL), nil
		}
	}
	return nil, fmt.Errorf("%w: no playable media for plex track %s", shared.ErrMediaNotFound, id)
}

func (p *Plex) streamDetails(id string, md plexMetadata, media plexMedia, part plexPart, streamURL string) *models.StreamDetails {
	ct := models.TryParseContentType(cmp.Or(part.Container, media.Container))
	if ct == models.ContentTypeUnknown {
		ct = models.TryParseContentType(media.AudioCodec)
	}

	duration := media.Duration
	if duration == 0 {
		duration = md.Duration
	}

	audio := part.audio()
	return &models.StreamDetails{
		ItemID:      id,
		Provider:    p.id,
		ContentType: ct,
		Quality:     plexQuality(media),
		Duration:    duration / 1000,
		SampleRate:  audio.SamplingRate,
		BitDepth:    audio.BitDepth,
		DirectURL:   streamURL,
		Expires:     p.now().Add(plexStreamTTL),
		Data: map[string]string{
			"key":      md.Key,
			"part_key": part.Key,
			"codec":    media.AudioCodec,
		},
	}
}

func (p *Plex) timeline(ctx context.Context, sd *models.StreamDetails, state string, seconds int) error {
	q := url.Values{
		"ratingKey": {sd.ItemID},
		"key":       {"/library/metadata/" + sd.ItemID},
		"state":     {state},
		"time":      {strconv.Itoa(seconds * 1000)},
		"duration":  {strconv.Itoa(sd.Duration * 1000)},
	}
	return p.doRequest(ctx, http.MethodGet, "/:/timeline", q, nil)
}

func (p *Plex) ReportPlaybackStarted(ctx context.Context, sd *models.StreamDetails) error {
	return p.timeline(ctx, sd, "playing", 0)
}

// ReportPlaybackStopped updates the timeline and scrobbles the track once most of it was heard.
func (p *Plex) ReportPlaybackStopped(ctx context.Context, sd *models.StreamDetails, seconds int) error {
	if err := p.timeline(ctx, sd, "stopped", seconds); err != nil {
		return err
	}
	if sd.Duration <= 0 || float64(seconds) < float64(sd.Duration)*plexScrobbleRate {
		return nil
	}
	q := url.Values{"key": {sd.ItemID}, "identifier": {"com.plexapp.plugins.library"}}
	return p.doRequest(ctx, http.MethodGet, "/:/scrobble", q, nil)
}

func (p *Plex) AddPlaylistTracks(ctx context.Context, playlistID string, trackIDs []string) error {
	if len(trackIDs) == 0 {
		return nil
	}
	p.mu.Lock()
	machineID := p.machineID
	p.mu.Unlock()
	if machineID == "" {
		return fmt.Errorf("%w: plex setup has not completed", shared.ErrProviderUnavailable)
	}

	uri := fmt.Sprintf("server://%s/com.plexapp.plugins.library/library/metadata/%s", machineID, strings.Join(trackIDs, ","))
	return p.doRequest(ctx, http.MethodPut, "/playlists/"+url.PathEscape(playlistID)+"/items", url.Values{"uri": {uri}}, nil)
}

// RemovePlaylistTracks deletes every playlist entry whose rating key is in trackIDs.
func (p *Plex) RemovePlaylistTracks(ctx context.Context, playlistID string, trackIDs []string) error {
	for _, md := range p.playlistItems(ctx, playlistID) {
		if !slices.Contains(trackIDs, md.RatingKey) || md.PlaylistItemID == 0 {
			continue
		}
		endpoint := fmt.Sprintf("/playlists/%s/items/%d", url.PathEscape(playlistID), md.PlaylistItemID)
		if err := p.doRequest(ctx, http.MethodDelete, endpoint, nil, nil); err != nil {
			return err
		}
	}
	return nil
}
