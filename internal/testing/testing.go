// package testing contains shared testing utilities
package testing

import (
	"context"
	"errors"
	"fmt"
	"io"
	"iter"
	"net/http"
	"os"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/desertthunder/jukebox/internal/models"
	"github.com/desertthunder/jukebox/internal/providers"
	"github.com/desertthunder/jukebox/internal/shared"
)

// MockProvider is an in-memory [providers.Provider].
//
// Items are looked up by (media type, id). Every call is recorded and can be inspected with [MockProvider.Calls].
type MockProvider struct {
	providers.UnimplementedProvider

	ProviderID   string
	ProviderType models.ProviderType
	Feature      providers.Features

	SetupErr  error
	SearchErr error
	StreamErr map[string]error

	Library   map[models.MediaType][]models.MediaItem
	Results   []models.MediaItem
	Tracks    map[string][]*models.Track // album or playlist id -> tracks
	Streams   map[string]*models.StreamDetails
	ReportErr error

	// StreamHook runs inside GetStreamDetails before the lookup, e.g. to block on a channel.
	StreamHook func(ctx context.Context, id string) error

	mu    sync.Mutex
	calls []string
}

// NewMockProvider creates a provider with search and every library feature.
func NewMockProvider(id string) *MockProvider {
	return &MockProvider{
		ProviderID:   id,
		ProviderType: models.ProviderFilesystem,
		Feature: providers.FeatureSearch | providers.FeatureLibraryArtists | providers.FeatureLibraryAlbums |
			providers.FeatureLibraryTracks | providers.FeatureLibraryPlaylists | providers.FeatureLibraryRadios |
			providers.FeatureLibraryEdit | providers.FeaturePlaylistTracksEdit,
		Library: make(map[models.MediaType][]models.MediaItem),
		Tracks:  make(map[string][]*models.Track),
		Streams: make(map[string]*models.StreamDetails),
	}
}

func (m *MockProvider) record(format string, args ...any) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, fmt.Sprintf(format, args...))
}

// Calls returns the recorded calls in order, e.g. "stream t1" or "stopped t1 42".
func (m *MockProvider) Calls() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.calls)
}

// Count returns how many recorded calls start with prefix.
func (m *MockProvider) Count(prefix string) int {
	n := 0
	for _, c := range m.Calls() {
		if strings.HasPrefix(c, prefix) {
			n++
		}
	}
	return n
}

func (m *MockProvider) ID() string                   { return m.ProviderID }
func (m *MockProvider) Type() models.ProviderType    { return m.ProviderType }
func (m *MockProvider) Name() string                 { return "Mock " + m.ProviderID }
func (m *MockProvider) Features() providers.Features { return m.Feature }

func (m *MockProvider) Setup(ctx context.Context) error {
	m.record("setup")
	return m.SetupErr
}

func (m *MockProvider) Search(ctx context.Context, query string, types []models.MediaType, limit int) ([]models.MediaItem, error) {
	m.record("search %s", query)
	if m.SearchErr != nil {
		return nil, m.SearchErr
	}
	out := make([]models.MediaItem, 0, len(m.Results))
	for _, item := range m.Results {
		if len(types) > 0 && !slices.Contains(types, item.MediaType()) {
			continue
		}
		out = append(out, item)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func (m *MockProvider) seq(mt models.MediaType) iter.Seq[models.MediaItem] {
	m.record("library %s", mt)
	items := slices.Clone(m.Library[mt])
	return func(yield func(models.MediaItem) bool) {
		for _, item := range items {
			if !yield(item) {
				return
			}
		}
	}
}

func (m *MockProvider) LibraryArtists(ctx context.Context) iter.Seq[models.MediaItem] {
	return m.seq(models.MediaTypeArtist)
}

func (m *MockProvider) LibraryAlbums(ctx context.Context) iter.Seq[models.MediaItem] {
	return m.seq(models.MediaTypeAlbum)
}

func (m *MockProvider) LibraryTracks(ctx context.Context) iter.Seq[models.MediaItem] {
	return m.seq(models.MediaTypeTrack)
}

func (m *MockProvider) LibraryPlaylists(ctx context.Context) iter.Seq[models.MediaItem] {
	return m.seq(models.MediaTypePlaylist)
}

func (m *MockProvider) LibraryRadios(ctx context.Context) iter.Seq[models.MediaItem] {
	return m.seq(models.MediaTypeRadio)
}

func (m *MockProvider) GetItem(ctx context.Context, id string, mt models.MediaType) (models.MediaItem, error) {
	m.record("get %s %s", mt, id)
	for _, item := range append(slices.Clone(m.Library[mt]), m.Results...) {
		if item.MediaType() == mt && item.Base().ItemID == id {
			return item, nil
		}
	}
	for _, tracks := range m.Tracks {
		for _, t := range tracks {
			if mt == models.MediaTypeTrack && t.ItemID == id {
				return t, nil
			}
		}
	}
	return nil, fmt.Errorf("%w: %s %s", shared.ErrMediaNotFound, mt, id)
}

func (m *MockProvider) AlbumTracks(ctx context.Context, id string) ([]*models.Track, error) {
	m.record("album tracks %s", id)
	return m.tracks(id)
}

func (m *MockProvider) PlaylistTracks(ctx context.Context, id string) ([]*models.Track, error) {
	m.record("playlist tracks %s", id)
	return m.tracks(id)
}

func (m *MockProvider) tracks(id string) ([]*models.Track, error) {
	tracks, ok := m.Tracks[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", shared.ErrMediaNotFound, id)
	}
	return slices.Clone(tracks), nil
}

// GetStreamDetails returns a copy of the configured stream for id so that every resolution is a fresh value.
func (m *MockProvider) GetStreamDetails(ctx context.Context, id string) (*models.StreamDetails, error) {
	m.record("stream %s", id)
	if m.StreamHook != nil {
		if err := m.StreamHook(ctx, id); err != nil {
			return nil, err
		}
	}
	if err, ok := m.StreamErr[id]; ok {
		return nil, err
	}
	sd, ok := m.Streams[id]
	if !ok {
		return nil, fmt.Errorf("%w: no stream for %s", shared.ErrMediaNotFound, id)
	}
	return &models.StreamDetails{
		ItemID:      sd.ItemID,
		Provider:    sd.Provider,
		ContentType: sd.ContentType,
		Quality:     sd.Quality,
		Duration:    sd.Duration,
		SampleRate:  sd.SampleRate,
		BitDepth:    sd.BitDepth,
		DirectURL:   sd.DirectURL,
		Expires:     sd.Expires,
	}, nil
}

func (m *MockProvider) ReportPlaybackStarted(ctx context.Context, sd *models.StreamDetails) error {
	m.record("started %s", sd.ItemID)
	return m.ReportErr
}

func (m *MockProvider) ReportPlaybackStopped(ctx context.Context, sd *models.StreamDetails, seconds int) error {
	m.record("stopped %s %d", sd.ItemID, seconds)
	return m.ReportErr
}

func (m *MockProvider) LibraryAdd(ctx context.Context, id string, mt models.MediaType) error {
	m.record("library add %s %s", mt, id)
	if !m.Feature.Has(providers.FeatureLibraryEdit) {
		return m.UnimplementedProvider.LibraryAdd(ctx, id, mt)
	}
	return nil
}

func (m *MockProvider) LibraryRemove(ctx context.Context, id string, mt models.MediaType) error {
	m.record("library remove %s %s", mt, id)
	if !m.Feature.Has(providers.FeatureLibraryEdit) {
		return m.UnimplementedProvider.LibraryRemove(ctx, id, mt)
	}
	return nil
}

func (m *MockProvider) AddPlaylistTracks(ctx context.Context, playlistID string, trackIDs []string) error {
	m.record("playlist add %s %s", playlistID, strings.Join(trackIDs, ","))
	if !m.Feature.Has(providers.FeaturePlaylistTracksEdit) {
		return m.UnimplementedProvider.AddPlaylistTracks(ctx, playlistID, trackIDs)
	}
	return nil
}

func (m *MockProvider) RemovePlaylistTracks(ctx context.Context, playlistID string, trackIDs []string) error {
	m.record("playlist remove %s %s", playlistID, strings.Join(trackIDs, ","))
	if !m.Feature.Has(providers.FeaturePlaylistTracksEdit) {
		return m.UnimplementedProvider.RemovePlaylistTracks(ctx, playlistID, trackIDs)
	}
	return nil
}

// AddTrack registers a playable track with a stream of the given duration and quality.
func (m *MockProvider) AddTrack(id, name string, duration int, quality models.MediaQuality) *models.Track {
	t := models.NewTrack(m.ProviderID, id, name)
	t.Duration = duration
	t.AddProviderID(models.ProviderID{ItemID: id, Provider: m.ProviderID, Quality: quality, Available: true})
	m.Streams[id] = &models.StreamDetails{
		ItemID:      id,
		Provider:    m.ProviderID,
		ContentType: models.ContentTypeFLAC,
		Quality:     quality,
		Duration:    duration,
		DirectURL:   "http://" + m.ProviderID + ".test/stream/" + id,
	}
	m.Library[models.MediaTypeTrack] = append(m.Library[models.MediaTypeTrack], t)
	return t
}

// MockPlayer records the commands sent to a player.
//
// It satisfies the player capability and crossfade interfaces structurally.
type MockPlayer struct {
	PlayerID   string
	PlayerName string

	// FailURLs makes PlayURL and CrossfadeURL fail for the listed URLs.
	FailURLs map[string]bool
	// NoCrossfade makes CrossfadeURL fail for every URL.
	NoCrossfade bool

	mu       sync.Mutex
	commands []string
}

// NewMockPlayer creates a MockPlayer with the given id.
func NewMockPlayer(id string) *MockPlayer {
	return &MockPlayer{PlayerID: id, PlayerName: "Mock " + id, FailURLs: make(map[string]bool)}
}

func (p *MockPlayer) record(cmd string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.commands = append(p.commands, cmd)
}

// Commands returns the recorded commands in order, e.g. "play_url http://..." or "volume 30".
func (p *MockPlayer) Commands() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return slices.Clone(p.commands)
}

// Last returns the most recent command or an empty string.
func (p *MockPlayer) Last() string {
	cmds := p.Commands()
	if len(cmds) == 0 {
		return ""
	}
	return cmds[len(cmds)-1]
}

func (p *MockPlayer) ID() string   { return p.PlayerID }
func (p *MockPlayer) Name() string { return p.PlayerName }

func (p *MockPlayer) PlayURL(ctx context.Context, url string) error {
	p.mu.Lock()
	fail := p.FailURLs[url]
	p.mu.Unlock()
	if fail {
		p.record("play_url_failed " + url)
		return fmt.Errorf("cannot play %s", url)
	}
	p.record("play_url " + url)
	return nil
}

func (p *MockPlayer) CrossfadeURL(ctx context.Context, url string, d time.Duration) error {
	p.mu.Lock()
	fail := p.NoCrossfade || p.FailURLs[url]
	p.mu.Unlock()
	if fail {
		p.record("crossfade_failed " + url)
		return fmt.Errorf("cannot crossfade to %s", url)
	}
	p.record(fmt.Sprintf("crossfade %s %s", url, d))
	return nil
}

func (p *MockPlayer) Play(ctx context.Context) error  { p.record("play"); return nil }
func (p *MockPlayer) Pause(ctx context.Context) error { p.record("pause"); return nil }
func (p *MockPlayer) Stop(ctx context.Context) error  { p.record("stop"); return nil }

func (p *MockPlayer) Power(ctx context.Context, on bool) error {
	p.record(fmt.Sprintf("power %t", on))
	return nil
}

func (p *MockPlayer) VolumeSet(ctx context.Context, level int) error {
	p.record(fmt.Sprintf("volume %d", level))
	return nil
}

// FWriter always returns an error on Write
type FWriter struct{}

func (f *FWriter) Write(p []byte) (n int, err error) {
	return 0, errors.New("write failed")
}

// LimitedWriter fails after a certain number of writes
type LimitedWriter struct {
	maxWrites int
	written   int
	target    io.Writer
}

func (l *LimitedWriter) Write(p []byte) (n int, err error) {
	if l.written >= l.maxWrites {
		return 0, errors.New("write limit exceeded")
	}
	l.written++
	return l.target.Write(p)
}

func NewLimitedWriter(maxWrites, written int, target io.Writer) LimitedWriter {
	return LimitedWriter{maxWrites: maxWrites, written: written, target: target}
}

// MockRoundTripper allows custom HTTP responses for testing
type MockRoundTripper struct {
	response *http.Response
	err      error
}

func NewMockRoundTripper(r *http.Response, e error) *MockRoundTripper {
	return &MockRoundTripper{response: r, err: e}
}

func (m *MockRoundTripper) RoundTrip(*http.Request) (*http.Response, error) {
	return m.response, m.err
}

// FCloser simulates a failure when reading response body
type FCloser struct{}

func (f *FCloser) Read(p []byte) (n int, err error) {
	return 0, errors.New("read failed")
}

func (f *FCloser) Close() error {
	return nil
}

func MustGetwd(t *testing.T) string {
	t.Helper()
	wd, err := os.Getwd()
	if err != nil {
		t.Fatalf("Failed to get working directory: %v", err)
	}
	return wd
}

func MustChdir(t *testing.T, dir string) {
	t.Helper()
	if err := os.Chdir(dir); err != nil {
		t.Fatalf("Failed to change directory to %s: %v", dir, err)
	}
}

func AssertFileExists(t *testing.T, path string) {
	t.Helper()
	if _, err := os.Stat(path); os.IsNotExist(err) {
		t.Errorf("File does not exist: %s", path)
	}
}

func AssertDirExists(t *testing.T, path string) {
	t.Helper()
	info, err := os.Stat(path)
	if os.IsNotExist(err) {
		t.Errorf("Directory does not exist: %s", path)
		return
	}
	if !info.IsDir() {
		t.Errorf("Path is not a directory: %s", path)
	}
}

func MustReadFile(t *testing.T, path string) string {
	t.Helper()
	content, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("Failed to read file %s: %v", path, err)
	}
	return string(content)
}
