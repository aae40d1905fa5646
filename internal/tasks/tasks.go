package tasks

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/jukebox/internal/formatter"
	"github.com/desertthunder/jukebox/internal/models"
	"github.com/desertthunder/jukebox/internal/providers"
	"github.com/desertthunder/jukebox/internal/shared"
	"golang.org/x/sync/errgroup"
)

const defaultBatchSize = 200

// Interner canonicalizes items; satisfied by [identity.Cache].
type Interner interface {
	Intern(item models.MediaItem) models.MediaItem
	SetInLibrary(item models.MediaItem, inLibrary bool) models.MediaItem
}

// LibraryStore persists synced items; satisfied by [repositories.LibraryRepository].
type LibraryStore interface {
	UpsertAll(items []models.MediaItem) error
	List(criteria map[string]any) ([]models.MediaItem, error)
	SetInLibrary(provider, itemID string, mt models.MediaType, inLibrary bool) error
}

// RunStore records sync history; satisfied by [repositories.SyncRunRepository].
type RunStore interface {
	Create(run *models.SyncRun) error
	Update(run *models.SyncRun) error
}

// SyncEngine defines the catalog jobs.
type SyncEngine interface {
	// Sync enumerates the library of every provider concurrently, interning and storing each item.
	Sync(ctx context.Context, provs []providers.Provider, progress chan<- ProgressUpdate) (*SyncReport, error)

	// Diff compares two playlists, identifying matched tracks, missing tracks, and extra tracks.
	Diff(ctx context.Context, src, dst providers.Provider, srcID, dstID string, progress chan<- ProgressUpdate) (*ComparisonResult, error)

	// Transfer searches every track of a source playlist on the destination provider and appends the matches.
	Transfer(ctx context.Context, src, dst providers.Provider, srcID, dstID string, progress chan<- ProgressUpdate) (*TransferResult, error)

	// BulkExport writes several playlists of one provider to disk.
	BulkExport(ctx context.Context, p providers.Provider, ids []string, opts BulkExportOpts, progress chan<- ProgressUpdate) (*formatter.BulkExportResult, error)
}

// ProviderSyncResult is the outcome of syncing one provider.
type ProviderSyncResult struct {
	Provider string
	Counts   map[models.MediaType]int // items seen per media type
	Removed  int                      // items no longer in the provider library
	Failed   int                      // items that could not be stored
	Err      error
	Run      *models.SyncRun
	Duration time.Duration
}

// Total returns the number of items seen across media types.
func (r *ProviderSyncResult) Total() int {
	n := 0
	for _, c := range r.Counts {
		n += c
	}
	return n
}

// SyncReport collects the per-provider results of [Engine.Sync], in provider order.
type SyncReport struct {
	Results []*ProviderSyncResult
}

// Failed returns the results that ended with an error.
func (r *SyncReport) Failed() []*ProviderSyncResult {
	var failed []*ProviderSyncResult
	for _, res := range r.Results {
		if res.Err != nil {
			failed = append(failed, res)
		}
	}
	return failed
}

// Engine implements [SyncEngine].
type Engine struct {
	cache     Interner
	store     LibraryStore
	runs      RunStore
	logger    *log.Logger
	batchSize int
	now       func() time.Time
}

// EngineOption configures an [Engine].
type EngineOption func(*Engine)

// WithRunStore records a [models.SyncRun] per provider and sync.
func WithRunStore(runs RunStore) EngineOption {
	return func(e *Engine) { e.runs = runs }
}

// WithBatchSize sets how many items are stored per transaction.
func WithBatchSize(n int) EngineOption {
	return func(e *Engine) {
		if n > 0 {
			e.batchSize = n
		}
	}
}

// WithClock overrides the time source used for sync run timestamps.
func WithClock(now func() time.Time) EngineOption {
	return func(e *Engine) { e.now = now }
}

// NewEngine creates an Engine. A nil store keeps synced items in the cache only.
func NewEngine(cache Interner, store LibraryStore, logger *log.Logger, opts ...EngineOption) *Engine {
	if logger == nil {
		logger = log.Default()
	}
	e := &Engine{
		cache:     cache,
		store:     store,
		logger:    shared.WithLogger(logger, "component", "tasks"),
		batchSize: defaultBatchSize,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// sendProgress sends a progress update through the channel without blocking.
// Uses select with default to ensure progress reporting never blocks execution.
func sendProgress(progress chan<- ProgressUpdate, update ProgressUpdate) {
	if progress == nil {
		return
	}
	select {
	case progress <- update:
	default:
	}
}

// Sync runs one worker per provider. A provider failing is recorded in its result and never stops the others;
// the returned error is non-nil only when ctx ends first.
func (e *Engine) Sync(ctx context.Context, provs []providers.Provider, progress chan<- ProgressUpdate) (*SyncReport, error) {
	report := &SyncReport{Results: make([]*ProviderSyncResult, len(provs))}

	var g errgroup.Group
	for i, p := range provs {
		g.Go(func() error {
			report.Results[i] = e.syncProvider(ctx, p, progress)
			return nil
		})
	}
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		return report, fmt.Errorf("sync interrupted: %w", err)
	}
	return report, nil
}

func (e *Engine) syncProvider(ctx context.Context, p providers.Provider, progress chan<- ProgressUpdate) *ProviderSyncResult {
	logger := shared.WithLogger(e.logger, "provider", p.ID())
	res := &ProviderSyncResult{Provider: p.ID(), Counts: make(map[models.MediaType]int)}
	start := e.now()

	run := models.NewSyncRun(p.ID())
	run.Start(start)
	if e.runs != nil {
		if err := e.runs.Create(run); err != nil {
			logger.Warn("failed to record sync run", "error", err)
		}
	}
	res.Run = run

	var types []models.MediaType
	for _, mt := range models.MediaTypes {
		if p.Features().Has(providers.Library(mt)) {
			types = append(types, mt)
		}
	}

	for i, mt := range types {
		if ctx.Err() != nil {
			break
		}
		sendProgress(progress, syncTypeUpdate(p.ID(), i+1, len(types), mt))

		seen, err := e.syncType(ctx, p, mt, res)
		if err != nil {
			res.Err = err
			logger.Error("library sync failed", "type", mt, "error", err)
			continue
		}
		if ctx.Err() != nil {
			break
		}

		removed, err := e.prune(p.ID(), mt, seen)
		if err != nil {
			logger.Warn("failed to prune library", "type", mt, "error", err)
		}
		if removed > 0 {
			res.Removed += removed
			sendProgress(progress, syncPruneUpdate(p.ID(), mt, removed))
		}
	}

	if res.Err == nil && ctx.Err() != nil {
		res.Err = ctx.Err()
	}

	end := e.now()
	res.Duration = end.Sub(start)
	run.ItemsTotal = res.Total()
	run.ItemsFailed = res.Failed
	run.Finish(end, res.Err)
	if e.runs != nil && run.ID != "" {
		if err := e.runs.Update(run); err != nil {
			logger.Warn("failed to update sync run", "error", err)
		}
	}

	logger.Info("library synced", "items", res.Total(), "removed", res.Removed, "failed", res.Failed, "took", res.Duration)
	sendProgress(progress, syncDoneUpdate(res))
	return res
}

// syncType stores the library of one media type in batches, returning the ids seen.
func (e *Engine) syncType(ctx context.Context, p providers.Provider, mt models.MediaType, res *ProviderSyncResult) (map[string]bool, error) {
	seen := make(map[string]bool)
	batch := make([]models.MediaItem, 0, e.batchSize)
	var storeErr error

	flush := func() {
		if len(batch) == 0 || e.store == nil {
			batch = batch[:0]
			return
		}
		if err := e.store.UpsertAll(batch); err != nil {
			res.Failed += len(batch)
			storeErr = err
		}
		batch = batch[:0]
	}

	for item := range providers.LibraryItems(ctx, p, mt) {
		if ctx.Err() != nil {
			break
		}
		if e.cache != nil {
			item = e.cache.SetInLibrary(item, true)
		} else {
			item.Base().InLibrary = true
		}
		seen[item.Base().ItemID] = true
		res.Counts[mt]++

		batch = append(batch, item)
		if len(batch) >= e.batchSize {
			flush()
		}
	}
	flush()

	if storeErr != nil {
		return seen, fmt.Errorf("failed to store %ss: %w", mt, storeErr)
	}
	return seen, nil
}

// prune clears the library flag of stored items the provider no longer returns.
//
// An empty enumeration is treated as a failed listing and prunes nothing.
func (e *Engine) prune(provider string, mt models.MediaType, seen map[string]bool) (int, error) {
	if e.store == nil || len(seen) == 0 {
		return 0, nil
	}

	stored, err := e.store.List(map[string]any{"provider": provider, "media_type": mt, "in_library": true})
	if err != nil {
		return 0, err
	}

	removed := 0
	var errs []error
	for _, item := range stored {
		id := item.Base().ItemID
		if seen[id] {
			continue
		}
		if err := e.store.SetInLibrary(provider, id, mt, false); err != nil {
			errs = append(errs, err)
			continue
		}
		removed++
	}
	return removed, errors.Join(errs...)
}
