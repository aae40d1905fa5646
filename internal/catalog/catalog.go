package catalog

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/jukebox/internal/identity"
	"github.com/desertthunder/jukebox/internal/models"
	"github.com/desertthunder/jukebox/internal/providers"
	"github.com/desertthunder/jukebox/internal/shared"
	"github.com/desertthunder/jukebox/internal/tasks"
	"golang.org/x/sync/errgroup"
)

// Store is the persistent library; satisfied by [repositories.LibraryRepository].
type Store interface {
	tasks.LibraryStore
	Upsert(item models.MediaItem) error
	Get(provider, itemID string, mt models.MediaType) (models.MediaItem, error)
	Count(criteria map[string]any) (int, error)
	CountByType(inLibraryOnly bool) (map[models.MediaType]int, error)
}

// ProviderStatus describes one registered provider.
type ProviderStatus struct {
	ID       string
	Name     string
	Type     models.ProviderType
	Features providers.Features
	Enabled  bool
	Err      error // setup failure of a disabled provider
}

type registration struct {
	provider providers.Provider
	err      error
}

// Aggregator fans catalog operations out to the registered providers.
type Aggregator struct {
	mu    sync.RWMutex
	regs  map[string]*registration
	order []string

	cache  *identity.Cache
	store  Store
	runs   tasks.RunStore
	engine tasks.SyncEngine
	logger *log.Logger
}

// Option configures an [Aggregator].
type Option func(*Aggregator)

// WithStore persists synced items and serves [Aggregator.Count] and [Aggregator.Items].
func WithStore(s Store) Option {
	return func(a *Aggregator) { a.store = s }
}

// WithRunStore records one sync run per provider and [Aggregator.LibrarySync].
func WithRunStore(runs tasks.RunStore) Option {
	return func(a *Aggregator) { a.runs = runs }
}

// WithSyncEngine replaces the default [tasks.Engine].
func WithSyncEngine(e tasks.SyncEngine) Option {
	return func(a *Aggregator) { a.engine = e }
}

// New creates an Aggregator with its own identity cache.
func New(logger *log.Logger, opts ...Option) *Aggregator {
	if logger == nil {
		logger = log.Default()
	}
	a := &Aggregator{
		regs:   make(map[string]*registration),
		cache:  identity.New(),
		logger: shared.WithLogger(logger, "component", "catalog"),
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.engine == nil {
		var engineOpts []tasks.EngineOption
		if a.runs != nil {
			engineOpts = append(engineOpts, tasks.WithRunStore(a.runs))
		}
		var store tasks.LibraryStore
		if a.store != nil {
			store = a.store
		}
		a.engine = tasks.NewEngine(a.cache, store, logger, engineOpts...)
	}
	return a
}

// Register runs the setup of p and adds it to the catalog.
//
// A setup failure is logged and returned; p then stays registered but disabled.
func (a *Aggregator) Register(ctx context.Context, p providers.Provider) error {
	if p == nil {
		return fmt.Errorf("%w: nil provider", shared.ErrInvalidInput)
	}

	a.mu.Lock()
	if _, ok := a.regs[p.ID()]; ok {
		a.mu.Unlock()
		return fmt.Errorf("%w: provider %s already registered", shared.ErrInvalidInput, p.ID())
	}
	reg := &registration{provider: p}
	a.regs[p.ID()] = reg
	a.order = append(a.order, p.ID())
	a.mu.Unlock()

	logger := shared.WithLogger(a.logger, "provider", p.ID())
	if err := p.Setup(ctx); err != nil {
		a.mu.Lock()
		reg.err = err
		a.mu.Unlock()
		logger.Error("provider setup failed, provider disabled", "error", err)
		return fmt.Errorf("setup of %s failed: %w", p.ID(), err)
	}

	logger.Info("provider registered", "type", p.Type(), "features", p.Features())
	return nil
}

// Unregister removes the provider and forgets its cached items.
func (a *Aggregator) Unregister(id string) error {
	a.mu.Lock()
	if _, ok := a.regs[id]; !ok {
		a.mu.Unlock()
		return fmt.Errorf("%w: %s", shared.ErrProviderUnavailable, id)
	}
	delete(a.regs, id)
	for i, rid := range a.order {
		if rid == id {
			a.order = append(a.order[:i], a.order[i+1:]...)
			break
		}
	}
	a.mu.Unlock()

	n := a.cache.Forget(id)
	a.logger.Info("provider unregistered", "provider", id, "forgotten", n)
	return nil
}

// Provider returns the enabled provider with instance id.
func (a *Aggregator) Provider(id string) (providers.Provider, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()

	reg, ok := a.regs[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", shared.ErrProviderUnavailable, id)
	}
	if reg.err != nil {
		return nil, fmt.Errorf("%w: %s is disabled: %w", shared.ErrProviderUnavailable, id, reg.err)
	}
	return reg.provider, nil
}

// Enabled returns the enabled providers in registration order.
func (a *Aggregator) Enabled() []providers.Provider {
	a.mu.RLock()
	defer a.mu.RUnlock()

	out := make([]providers.Provider, 0, len(a.order))
	for _, id := range a.order {
		if reg := a.regs[id]; reg.err == nil {
			out = append(out, reg.provider)
		}
	}
	return out
}

// Providers reports every registered provider in registration order.
func (a *Aggregator) Providers() []ProviderStatus {
	a.mu.RLock()
	defer a.mu.RUnlock()

	out := make([]ProviderStatus, 0, len(a.order))
	for _, id := range a.order {
		reg := a.regs[id]
		p := reg.provider
		out = append(out, ProviderStatus{
			ID:       p.ID(),
			Name:     p.Name(),
			Type:     p.Type(),
			Features: p.Features(),
			Enabled:  reg.err == nil,
			Err:      reg.err,
		})
	}
	return out
}

// Cache exposes the identity cache for read access.
func (a *Aggregator) Cache() *identity.Cache {
	return a.cache
}

// Search queries every enabled provider that can search and holds any of types, concurrently.
//
// Each provider contributes at most limit items. Results are grouped by provider in registration order and
// keep their provider tag; the same recording from two providers is returned twice. A failing provider is
// logged and skipped.
func (a *Aggregator) Search(ctx context.Context, query string, types []models.MediaType, limit int) ([]models.MediaItem, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, fmt.Errorf("%w: empty search query", shared.ErrInvalidInput)
	}

	var targets []providers.Provider
	for _, p := range a.Enabled() {
		if p.Features().Has(providers.FeatureSearch) && p.Features().SupportsAny(types) {
			targets = append(targets, p)
		}
	}

	results := make([][]models.MediaItem, len(targets))
	var g errgroup.Group
	for i, p := range targets {
		g.Go(func() error {
			items, err := p.Search(ctx, query, types, limit)
			if err != nil {
				a.logger.Warn("search failed", "provider", p.ID(), "query", query, "error", err)
				return nil
			}
			if limit > 0 && len(items) > limit {
				items = items[:limit]
			}
			results[i] = dedupe(a.cache.InternAll(items))
			return nil
		})
	}
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var out []models.MediaItem
	for _, items := range results {
		out = append(out, items...)
	}
	return out, nil
}

// dedupe drops repeated canonical instances while keeping order.
func dedupe(items []models.MediaItem) []models.MediaItem {
	seen := make(map[models.MediaItem]bool, len(items))
	out := items[:0]
	for _, item := range items {
		if seen[item] {
			continue
		}
		seen[item] = true
		out = append(out, item)
	}
	return out
}

// GroupByType splits items per media type, keeping their order.
func GroupByType(items []models.MediaItem) map[models.MediaType][]models.MediaItem {
	out := make(map[models.MediaType][]models.MediaItem)
	for _, item := range items {
		out[item.MediaType()] = append(out[item.MediaType()], item)
	}
	return out
}

// LibrarySync syncs the library of every enabled provider. A failing provider never stops the others;
// its error is part of the report.
func (a *Aggregator) LibrarySync(ctx context.Context, progress chan<- tasks.ProgressUpdate) (*tasks.SyncReport, error) {
	provs := a.Enabled()
	if len(provs) == 0 {
		return &tasks.SyncReport{}, nil
	}
	return a.engine.Sync(ctx, provs, progress)
}

// Engine returns the job engine used for sync, transfer and export.
func (a *Aggregator) Engine() tasks.SyncEngine {
	return a.engine
}

// GetItem returns the canonical item for a provider://type/id reference.
//
// Cached items are returned without a provider call. When the provider is unavailable the stored copy is used.
func (a *Aggregator) GetItem(ctx context.Context, uri string) (models.MediaItem, error) {
	provider, mt, id, err := models.ParseItemURI(uri)
	if err != nil {
		return nil, err
	}

	if item, ok := a.cache.Lookup(provider, id); ok && item.MediaType() == mt {
		return item, nil
	}

	p, perr := a.Provider(provider)
	if perr != nil {
		if a.store != nil {
			if item, err := a.store.Get(provider, id, mt); err == nil {
				return a.cache.Intern(item), nil
			}
		}
		return nil, perr
	}

	item, err := p.GetItem(ctx, id, mt)
	if err != nil {
		return nil, err
	}
	return a.cache.Intern(item), nil
}

// Tracks expands item to the tracks it contains: itself for a track, the album or playlist tracks, or the
// known library tracks of an artist.
func (a *Aggregator) Tracks(ctx context.Context, item models.MediaItem) ([]*models.Track, error) {
	if item == nil {
		return nil, fmt.Errorf("%w: nil item", shared.ErrInvalidInput)
	}
	b := item.Base()

	switch v := item.(type) {
	case *models.Track:
		return []*models.Track{v}, nil
	case *models.Album, *models.Playlist:
		p, err := a.Provider(b.Provider)
		if err != nil {
			return nil, err
		}
		var tracks []*models.Track
		if item.MediaType() == models.MediaTypeAlbum {
			tracks, err = p.AlbumTracks(ctx, b.ItemID)
		} else {
			tracks, err = p.PlaylistTracks(ctx, b.ItemID)
		}
		if err != nil {
			return nil, err
		}
		return a.internTracks(tracks), nil
	case *models.Artist:
		return a.artistTracks(v)
	default:
		return nil, fmt.Errorf("%w: %s has no tracks", shared.ErrUnsupportedFeature, item.MediaType())
	}
}

// Playable expands item for queueing. Radios are playable as they are.
func (a *Aggregator) Playable(ctx context.Context, item models.MediaItem) ([]models.MediaItem, error) {
	if r, ok := item.(*models.Radio); ok {
		return []models.MediaItem{r}, nil
	}
	tracks, err := a.Tracks(ctx, item)
	if err != nil {
		return nil, err
	}
	out := make([]models.MediaItem, len(tracks))
	for i, t := range tracks {
		out[i] = t
	}
	return out, nil
}

func (a *Aggregator) internTracks(tracks []*models.Track) []*models.Track {
	items := make([]models.MediaItem, len(tracks))
	for i, t := range tracks {
		items[i] = t
	}

	out := make([]*models.Track, 0, len(tracks))
	for _, item := range a.cache.InternAll(items) {
		if t, ok := item.(*models.Track); ok {
			out = append(out, t)
		}
	}
	return out
}

func (a *Aggregator) artistTracks(artist *models.Artist) ([]*models.Track, error) {
	var candidates []models.MediaItem
	if a.store != nil {
		stored, err := a.store.List(map[string]any{"provider": artist.Provider, "media_type": models.MediaTypeTrack})
		if err != nil {
			return nil, err
		}
		candidates = a.cache.InternAll(stored)
	} else {
		candidates = a.cache.Items(artist.Provider, models.MediaTypeTrack)
	}

	var out []*models.Track
	for _, item := range candidates {
		t, ok := item.(*models.Track)
		if !ok {
			continue
		}
		for _, ar := range t.Artists {
			if ar != nil && ar.ItemID == artist.ItemID {
				out = append(out, t)
				break
			}
		}
	}
	return out, nil
}

// ItemsQuery filters [Aggregator.Items].
type ItemsQuery struct {
	Provider      string
	MediaType     models.MediaType
	InLibraryOnly bool
	Search        string
	Limit         int
	Offset        int
}

func (q ItemsQuery) criteria() map[string]any {
	criteria := map[string]any{
		"provider":   q.Provider,
		"media_type": q.MediaType,
		"search":     q.Search,
		"limit":      q.Limit,
		"offset":     q.Offset,
	}
	if q.InLibraryOnly {
		criteria["in_library"] = true
	}
	return criteria
}

// Items lists catalog items sorted by sort name.
func (a *Aggregator) Items(ctx context.Context, q ItemsQuery) ([]models.MediaItem, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if a.store != nil {
		items, err := a.store.List(q.criteria())
		if err != nil {
			return nil, err
		}
		return a.cache.InternAll(items), nil
	}

	search := shared.SortName(q.Search)
	var out []models.MediaItem
	for _, item := range a.cache.Items(q.Provider, q.MediaType) {
		b := item.Base()
		if q.InLibraryOnly && !b.InLibrary {
			continue
		}
		if search != "" && !strings.Contains(b.SortName, search) {
			continue
		}
		out = append(out, item)
	}

	if q.Offset > 0 {
		if q.Offset >= len(out) {
			return nil, nil
		}
		out = out[q.Offset:]
	}
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out, nil
}

// Count returns item counts per media type.
func (a *Aggregator) Count(ctx context.Context, inLibraryOnly bool) (map[models.MediaType]int, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if a.store != nil {
		return a.store.CountByType(inLibraryOnly)
	}

	counts := make(map[models.MediaType]int, len(models.MediaTypes))
	for _, mt := range models.MediaTypes {
		counts[mt] = 0
	}
	for _, item := range a.cache.Items("", "") {
		if inLibraryOnly && !item.Base().InLibrary {
			continue
		}
		counts[item.MediaType()]++
	}
	return counts, nil
}

// LibraryAdd adds item to its provider's library and marks it in the catalog.
func (a *Aggregator) LibraryAdd(ctx context.Context, item models.MediaItem) error {
	if item == nil {
		return fmt.Errorf("%w: nil item", shared.ErrInvalidInput)
	}
	b := item.Base()
	p, err := a.editable(b.Provider, providers.FeatureLibraryEdit)
	if err != nil {
		return err
	}
	if err := p.LibraryAdd(ctx, b.ItemID, item.MediaType()); err != nil {
		return err
	}

	item = a.cache.SetInLibrary(item, true)
	if a.store != nil {
		if err := a.store.Upsert(item); err != nil {
			return fmt.Errorf("added to %s but failed to store: %w", b.Provider, err)
		}
	}
	return nil
}

// LibraryRemove removes item from its provider's library and clears the catalog flag.
func (a *Aggregator) LibraryRemove(ctx context.Context, item models.MediaItem) error {
	if item == nil {
		return fmt.Errorf("%w: nil item", shared.ErrInvalidInput)
	}
	b := item.Base()
	p, err := a.editable(b.Provider, providers.FeatureLibraryEdit)
	if err != nil {
		return err
	}
	if err := p.LibraryRemove(ctx, b.ItemID, item.MediaType()); err != nil {
		return err
	}

	item = a.cache.SetInLibrary(item, false)
	if a.store != nil {
		err := a.store.SetInLibrary(b.Provider, b.ItemID, item.MediaType(), false)
		if err != nil && !errors.Is(err, shared.ErrMediaNotFound) {
			return fmt.Errorf("removed from %s but failed to store: %w", b.Provider, err)
		}
	}
	return nil
}

// AddPlaylistTracks appends tracks to a playlist of the same provider.
func (a *Aggregator) AddPlaylistTracks(ctx context.Context, playlist *models.Playlist, tracks []*models.Track) error {
	p, ids, err := a.playlistEdit(playlist, tracks)
	if err != nil {
		return err
	}
	return p.AddPlaylistTracks(ctx, playlist.ItemID, ids)
}

// RemovePlaylistTracks removes tracks from a playlist of the same provider.
func (a *Aggregator) RemovePlaylistTracks(ctx context.Context, playlist *models.Playlist, tracks []*models.Track) error {
	p, ids, err := a.playlistEdit(playlist, tracks)
	if err != nil {
		return err
	}
	return p.RemovePlaylistTracks(ctx, playlist.ItemID, ids)
}

// playlistEdit maps tracks to native ids of the playlist's provider.
//
// A track of another provider is accepted when it carries a provider id for the playlist's provider.
func (a *Aggregator) playlistEdit(playlist *models.Playlist, tracks []*models.Track) (providers.Provider, []string, error) {
	if playlist == nil {
		return nil, nil, fmt.Errorf("%w: nil playlist", shared.ErrInvalidInput)
	}
	if len(tracks) == 0 {
		return nil, nil, fmt.Errorf("%w: no tracks given", shared.ErrMissingArgument)
	}
	p, err := a.editable(playlist.Provider, providers.FeaturePlaylistTracksEdit)
	if err != nil {
		return nil, nil, err
	}
	if !playlist.IsEditable {
		return nil, nil, fmt.Errorf("%w: playlist %s is not editable", shared.ErrUnsupportedFeature, playlist.Name)
	}

	ids := make([]string, 0, len(tracks))
	for _, t := range tracks {
		id := nativeID(t, playlist.Provider)
		if id == "" {
			return nil, nil, fmt.Errorf("%w: track %s is not available on %s", shared.ErrInvalidInput, t.Name, playlist.Provider)
		}
		ids = append(ids, id)
	}
	return p, ids, nil
}

func nativeID(t *models.Track, provider string) string {
	if t.Provider == provider {
		return t.ItemID
	}
	for _, pid := range t.ProviderIDs {
		if pid.Provider == provider {
			return pid.ItemID
		}
	}
	return ""
}

func (a *Aggregator) editable(provider string, feature providers.Features) (providers.Provider, error) {
	p, err := a.Provider(provider)
	if err != nil {
		return nil, err
	}
	if !p.Features().Has(feature) {
		return nil, fmt.Errorf("%w: %s", shared.ErrUnsupportedFeature, provider)
	}
	return p, nil
}
