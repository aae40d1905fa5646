package providers

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"iter"
	"net/http"
	"net/url"
	"path"
	"strings"

	"github.com/desertthunder/jukebox/internal/models"
	"github.com/desertthunder/jukebox/internal/shared"
)

const (
	radioRateLimit    = 2
	radioPlaylistSize = 64 << 10
)

type station struct {
	id  string
	cfg shared.StationConfig
}

// Radio serves the internet radio stations listed in the provider config.
//
// Station urls pointing at .pls or .m3u playlists are resolved to their first stream entry when a
// stream is requested. Radio streams are live: they have no duration and never expire.
type Radio struct {
	base
	UnimplementedProvider

	stations []station
}

// NewRadio creates a Radio adapter from cfg.Stations.
func NewRadio(cfg shared.ProviderConfig, opts Options) (*Radio, error) {
	stations := make([]station, 0, len(cfg.Stations))
	for _, s := range cfg.Stations {
		u, err := url.Parse(s.URL)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return nil, fmt.Errorf("%w: station %q has an invalid url %q", shared.ErrInvalidConfig, s.Name, s.URL)
		}
		if s.Name == "" {
			s.Name = u.Host
		}
		stations = append(stations, station{id: fsID(s.URL), cfg: s})
	}

	b := newBase(cfg, models.ProviderRadio, FeatureSearch|FeatureLibraryRadios, radioRateLimit, opts)
	return &Radio{base: b, stations: stations}, nil
}

// Setup has nothing to authenticate; an empty station list is only worth a warning.
func (r *Radio) Setup(ctx context.Context) error {
	if len(r.stations) == 0 {
		r.logger.Warn("no radio stations configured")
	}
	return nil
}

func (r *Radio) radio(s station) *models.Radio {
	item := models.NewRadio(r.id, s.id, s.cfg.Name)
	item.InLibrary = true
	item.Metadata.Image = s.cfg.Image
	item.AddProviderID(models.ProviderID{
		ItemID:    s.id,
		Provider:  r.id,
		URL:       s.cfg.URL,
		Quality:   models.QualityFromFileType(s.cfg.URL),
		Available: true,
	})
	return item
}

func (r *Radio) LibraryRadios(ctx context.Context) iter.Seq[models.MediaItem] {
	return func(yield func(models.MediaItem) bool) {
		for pos, s := range Slice(r.stations) {
			item := r.radio(s)
			item.Position = pos
			if !yield(item) {
				return
			}
		}
	}
}

func (r *Radio) Search(ctx context.Context, query string, types []models.MediaType, limit int) ([]models.MediaItem, error) {
	if len(types) > 0 && !FeatureLibraryRadios.SupportsAny(types) {
		return nil, nil
	}

	needle := shared.SortName(query)
	var out []models.MediaItem
	for _, s := range r.stations {
		if len(out) >= limit {
			break
		}
		if strings.Contains(shared.SortName(s.cfg.Name), needle) {
			out = append(out, r.radio(s))
		}
	}
	return out, nil
}

func (r *Radio) station(id string) (station, error) {
	for _, s := range r.stations {
		if s.id == id {
			return s, nil
		}
	}
	return station{}, fmt.Errorf("%w: station %s", shared.ErrMediaNotFound, id)
}

func (r *Radio) GetItem(ctx context.Context, id string, mt models.MediaType) (models.MediaItem, error) {
	if mt != models.MediaTypeRadio {
		return nil, fmt.Errorf("%w: radio has no %s items", shared.ErrMediaNotFound, mt)
	}
	s, err := r.station(id)
	if err != nil {
		return nil, err
	}
	return r.radio(s), nil
}

// GetStreamDetails resolves playlist urls and detects the content type with a HEAD request.
func (r *Radio) GetStreamDetails(ctx context.Context, id string) (*models.StreamDetails, error) {
	s, err := r.station(id)
	if err != nil {
		return nil, err
	}

	streamURL, err := r.resolve(ctx, s.cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("%w: station %s: %v", shared.ErrMediaNotFound, s.cfg.Name, err)
	}

	ct := r.contentType(ctx, streamURL)
	return &models.StreamDetails{
		ItemID:      id,
		Provider:    r.id,
		ContentType: ct,
		Quality:     models.QualityFromFileType(string(ct)),
		DirectURL:   streamURL,
		Data:        map[string]string{"station": s.cfg.URL},
	}, nil
}

// resolve returns the first stream entry of a .pls or .m3u playlist, or streamURL itself.
func (r *Radio) resolve(ctx context.Context, streamURL string) (string, error) {
	u, err := url.Parse(streamURL)
	if err != nil {
		return "", err
	}

	var parse func(io.Reader) (string, bool)
	switch strings.ToLower(path.Ext(u.Path)) {
	case ".pls":
		parse = firstPLSEntry
	case ".m3u", ".m3u8":
		parse = firstM3UEntry
	default:
		return streamURL, nil
	}

	if err := r.throttle.Wait(ctx); err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, streamURL, nil)
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	resp, err := r.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %v", shared.ErrProviderUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", statusError("radio", resp.StatusCode, "")
	}

	entry, ok := parse(io.LimitReader(resp.Body, radioPlaylistSize))
	if !ok {
		return "", fmt.Errorf("playlist %s has no entries", streamURL)
	}

	ref, err := url.Parse(entry)
	if err != nil {
		return "", fmt.Errorf("invalid playlist entry %q: %w", entry, err)
	}
	return u.ResolveReference(ref).String(), nil
}

// contentType asks the server for the stream type, falling back to the url when HEAD is refused.
func (r *Radio) contentType(ctx context.Context, streamURL string) models.ContentType {
	fallback := models.TryParseContentType(streamURL)
	if err := r.throttle.Wait(ctx); err != nil {
		return fallback
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodHead, streamURL, nil)
	if err != nil {
		return fallback
	}
	resp, err := r.client.Do(req)
	if err != nil {
		r.logger.Debug("stream probe failed", "url", streamURL, "error", err)
		return fallback
	}
	resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fallback
	}
	if ct := models.TryParseContentType(resp.Header.Get("Content-Type")); ct != models.ContentTypeUnknown {
		return ct
	}
	return fallback
}

func firstPLSEntry(rd io.Reader) (string, bool) {
	scanner := bufio.NewScanner(rd)
	for scanner.Scan() {
		key, value, ok := strings.Cut(strings.TrimSpace(scanner.Text()), "=")
		if ok && strings.HasPrefix(strings.ToLower(key), "file") && value != "" {
			return strings.TrimSpace(value), true
		}
	}
	return "", false
}

func firstM3UEntry(rd io.Reader) (string, bool) {
	scanner := bufio.NewScanner(rd)
	for scanner.Scan() {
		line := strings.TrimSpace(strings.TrimPrefix(scanner.Text(), "\ufeff"))
		if line != "" && !strings.HasPrefix(line, "#") {
			return line, true
		}
	}
	return "", false
}
