package providers

import (
	"context"
	"fmt"
	"iter"
	"net/http"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/jukebox/internal/models"
	"github.com/desertthunder/jukebox/internal/shared"
	"github.com/desertthunder/jukebox/internal/throttle"
)

// Provider is implemented once per backend.
type Provider interface {
	// ID returns the configured instance id, unique across providers.
	ID() string
	Type() models.ProviderType
	Name() string
	Features() Features

	// Setup validates credentials against the backend. Failures wrap [shared.ErrLoginFailed].
	Setup(ctx context.Context) error

	Search(ctx context.Context, query string, types []models.MediaType, limit int) ([]models.MediaItem, error)

	LibraryArtists(ctx context.Context) iter.Seq[models.MediaItem]
	LibraryAlbums(ctx context.Context) iter.Seq[models.MediaItem]
	LibraryTracks(ctx context.Context) iter.Seq[models.MediaItem]
	LibraryPlaylists(ctx context.Context) iter.Seq[models.MediaItem]
	LibraryRadios(ctx context.Context) iter.Seq[models.MediaItem]

	GetItem(ctx context.Context, id string, mt models.MediaType) (models.MediaItem, error)
	AlbumTracks(ctx context.Context, id string) ([]*models.Track, error)
	PlaylistTracks(ctx context.Context, id string) ([]*models.Track, error)

	GetStreamDetails(ctx context.Context, id string) (*models.StreamDetails, error)
	ReportPlaybackStarted(ctx context.Context, sd *models.StreamDetails) error
	ReportPlaybackStopped(ctx context.Context, sd *models.StreamDetails, seconds int) error

	LibraryAdd(ctx context.Context, id string, mt models.MediaType) error
	LibraryRemove(ctx context.Context, id string, mt models.MediaType) error
	AddPlaylistTracks(ctx context.Context, playlistID string, trackIDs []string) error
	RemovePlaylistTracks(ctx context.Context, playlistID string, trackIDs []string) error
}

// Features is the capability set of a provider.
type Features uint16

const (
	FeatureSearch Features = 1 << iota
	FeatureLibraryArtists
	FeatureLibraryAlbums
	FeatureLibraryTracks
	FeatureLibraryPlaylists
	FeatureLibraryRadios
	FeatureLibraryEdit
	FeaturePlaylistTracksEdit
)

var featureNames = []struct {
	f    Features
	name string
}{
	{FeatureSearch, "search"},
	{FeatureLibraryArtists, "library_artists"},
	{FeatureLibraryAlbums, "library_albums"},
	{FeatureLibraryTracks, "library_tracks"},
	{FeatureLibraryPlaylists, "library_playlists"},
	{FeatureLibraryRadios, "library_radios"},
	{FeatureLibraryEdit, "library_edit"},
	{FeaturePlaylistTracksEdit, "playlist_tracks_edit"},
}

// Has reports whether every feature in f is present.
func (fs Features) Has(f Features) bool {
	return fs&f == f
}

// Library returns the library feature matching mt.
func Library(mt models.MediaType) Features {
	switch mt {
	case models.MediaTypeArtist:
		return FeatureLibraryArtists
	case models.MediaTypeAlbum:
		return FeatureLibraryAlbums
	case models.MediaTypeTrack:
		return FeatureLibraryTracks
	case models.MediaTypePlaylist:
		return FeatureLibraryPlaylists
	case models.MediaTypeRadio:
		return FeatureLibraryRadios
	default:
		return 0
	}
}

// SupportsAny reports whether the provider holds any of the given media types.
func (fs Features) SupportsAny(types []models.MediaType) bool {
	if len(types) == 0 {
		return true
	}
	for _, mt := range types {
		if f := Library(mt); f != 0 && fs.Has(f) {
			return true
		}
	}
	return false
}

func (fs Features) String() string {
	var names []string
	for _, fn := range featureNames {
		if fs.Has(fn.f) {
			names = append(names, fn.name)
		}
	}
	return strings.Join(names, ",")
}

// LibraryItems returns the library sequence of p for mt.
func LibraryItems(ctx context.Context, p Provider, mt models.MediaType) iter.Seq[models.MediaItem] {
	switch mt {
	case models.MediaTypeArtist:
		return p.LibraryArtists(ctx)
	case models.MediaTypeAlbum:
		return p.LibraryAlbums(ctx)
	case models.MediaTypeTrack:
		return p.LibraryTracks(ctx)
	case models.MediaTypePlaylist:
		return p.LibraryPlaylists(ctx)
	case models.MediaTypeRadio:
		return p.LibraryRadios(ctx)
	default:
		return empty
	}
}

// Options are shared by every adapter constructor.
type Options struct {
	Logger     *log.Logger
	HTTPClient *http.Client
	Now        func() time.Time
}

func (o Options) withDefaults() Options {
	if o.Logger == nil {
		o.Logger = log.Default()
	}
	if o.HTTPClient == nil {
		o.HTTPClient = &http.Client{Timeout: 30 * time.Second}
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	return o
}

// base carries the identity, throttle and logger of one adapter instance.
type base struct {
	id       string
	name     string
	typ      models.ProviderType
	features Features
	throttle *throttle.Throttler
	client   *http.Client
	logger   *log.Logger
	now      func() time.Time
}

func newBase(cfg shared.ProviderConfig, typ models.ProviderType, features Features, rate int, opts Options) base {
	opts = opts.withDefaults()
	if cfg.Type == "" {
		cfg.Type = string(typ)
	}
	return base{
		id:       cfg.InstanceID(),
		name:     cfg.DisplayName(),
		typ:      typ,
		features: features,
		throttle: throttle.New(cfg.Limit(rate), cfg.Period(time.Second)),
		client:   opts.HTTPClient,
		logger:   shared.WithLogger(opts.Logger, "provider", cfg.InstanceID()),
		now:      opts.Now,
	}
}

func (b *base) ID() string                { return b.id }
func (b *base) Name() string              { return b.name }
func (b *base) Type() models.ProviderType { return b.typ }
func (b *base) Features() Features        { return b.features }

// statusError maps an HTTP status to the error taxonomy.
func statusError(service string, code int, detail string) error {
	var sentinel error
	switch {
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		sentinel = shared.ErrLoginFailed
	case code == http.StatusNotFound:
		sentinel = shared.ErrMediaNotFound
	case code == http.StatusServiceUnavailable || code == http.StatusBadGateway:
		sentinel = shared.ErrProviderUnavailable
	default:
		sentinel = shared.ErrAPIRequest
	}
	if detail != "" {
		return fmt.Errorf("%w: %s status %d: %s", sentinel, service, code, detail)
	}
	return fmt.Errorf("%w: %s status %d", sentinel, service, code)
}

// UnimplementedProvider returns empty libraries and [shared.ErrUnsupportedFeature] for optional calls.
// Adapters embed it and override what their backend supports.
type UnimplementedProvider struct{}

func (UnimplementedProvider) LibraryArtists(context.Context) iter.Seq[models.MediaItem]   { return empty }
func (UnimplementedProvider) LibraryAlbums(context.Context) iter.Seq[models.MediaItem]    { return empty }
func (UnimplementedProvider) LibraryTracks(context.Context) iter.Seq[models.MediaItem]    { return empty }
func (UnimplementedProvider) LibraryPlaylists(context.Context) iter.Seq[models.MediaItem] { return empty }
func (UnimplementedProvider) LibraryRadios(context.Context) iter.Seq[models.MediaItem]    { return empty }

func (UnimplementedProvider) AlbumTracks(context.Context, string) ([]*models.Track, error) {
	return nil, fmt.Errorf("%w: album tracks", shared.ErrUnsupportedFeature)
}

func (UnimplementedProvider) PlaylistTracks(context.Context, string) ([]*models.Track, error) {
	return nil, fmt.Errorf("%w: playlist tracks", shared.ErrUnsupportedFeature)
}

func (UnimplementedProvider) ReportPlaybackStarted(context.Context, *models.StreamDetails) error {
	return nil
}

func (UnimplementedProvider) ReportPlaybackStopped(context.Context, *models.StreamDetails, int) error {
	return nil
}

func (UnimplementedProvider) LibraryAdd(context.Context, string, models.MediaType) error {
	return fmt.Errorf("%w: library add", shared.ErrUnsupportedFeature)
}

func (UnimplementedProvider) LibraryRemove(context.Context, string, models.MediaType) error {
	return fmt.Errorf("%w: library remove", shared.ErrUnsupportedFeature)
}

func (UnimplementedProvider) AddPlaylistTracks(context.Context, string, []string) error {
	return fmt.Errorf("%w: playlist edit", shared.ErrUnsupportedFeature)
}

func (UnimplementedProvider) RemovePlaylistTracks(context.Context, string, []string) error {
	return fmt.Errorf("%w: playlist edit", shared.ErrUnsupportedFeature)
}

func empty(func(models.MediaItem) bool) {}
