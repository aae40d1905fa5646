package main

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/desertthunder/jukebox/internal/catalog"
	"github.com/desertthunder/jukebox/internal/models"
	"github.com/desertthunder/jukebox/internal/providers"
	"github.com/desertthunder/jukebox/internal/shared"
	"github.com/urfave/cli/v3"
)

const defaultDebounce = 2 * time.Second

// Sync runs a library sync of every enabled provider, then optionally watches filesystem providers.
func (r *Runner) Sync(ctx context.Context, cmd *cli.Command) error {
	agg, err := r.open(ctx)
	if err != nil {
		return err
	}

	progress, finish := r.progress()
	report, err := agg.LibrarySync(ctx, progress)
	finish()
	if err != nil {
		return err
	}
	r.writePlain("%s", r.palette.Report(report))

	if !cmd.Bool("watch") {
		if failed := report.Failed(); len(failed) > 0 {
			return fmt.Errorf("%w: %d of %d providers failed to sync", shared.ErrProviderUnavailable, len(failed), len(report.Results))
		}
		return nil
	}
	return r.watch(ctx, agg, cmd.Duration("debounce"))
}

// watch resyncs filesystem providers after their files change, until ctx is done.
func (r *Runner) watch(ctx context.Context, agg *catalog.Aggregator, debounce time.Duration) error {
	var (
		watched []providers.Provider
		sources []<-chan string
	)
	for _, p := range agg.Enabled() {
		fs, ok := p.(*providers.Filesystem)
		if !ok {
			continue
		}
		changes, err := fs.Watch(ctx)
		if err != nil {
			r.logger.Error("cannot watch provider", "provider", p.ID(), "error", err)
			continue
		}
		watched = append(watched, p)
		sources = append(sources, changes)
	}
	if len(watched) == 0 {
		return fmt.Errorf("%w: no filesystem provider to watch", shared.ErrUnsupportedFeature)
	}

	changes := merge(sources...)
	r.writePlain("watching %d providers, press ctrl+c to stop\n", len(watched))

	timer := time.NewTimer(debounce)
	timer.Stop()
	pending := 0
	for {
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case path, ok := <-changes:
			if !ok {
				return nil
			}
			r.logger.Debug("file changed", "path", path)
			pending++
			timer.Reset(debounce)
		case <-timer.C:
			r.logger.Info("resyncing after changes", "changes", pending)
			pending = 0
			progress, finish := r.progress()
			report, err := agg.Engine().Sync(ctx, watched, progress)
			finish()
			if err != nil {
				if errors.Is(err, context.Canceled) {
					return nil
				}
				return err
			}
			r.writePlain("%s", r.palette.Report(report))
		}
	}
}

func merge(sources ...<-chan string) <-chan string {
	out := make(chan string)
	var wg sync.WaitGroup
	for _, src := range sources {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for v := range src {
				out <- v
			}
		}()
	}
	go func() {
		wg.Wait()
		close(out)
	}()
	return out
}

// Search searches every provider and prints the results grouped by media type.
func (r *Runner) Search(ctx context.Context, cmd *cli.Command) error {
	query := strings.TrimSpace(cmd.StringArg("query"))
	if query == "" {
		return fmt.Errorf("%w: search query", shared.ErrMissingArgument)
	}
	types, err := models.ParseMediaTypes(cmd.StringSlice("type"))
	if err != nil {
		return err
	}

	agg, err := r.open(ctx)
	if err != nil {
		return err
	}
	items, err := agg.Search(ctx, query, types, cmd.Int("limit"))
	if err != nil {
		return err
	}

	if cmd.Bool("json") {
		return r.writeJSON(items, cmd.Bool("pretty"))
	}
	r.printGrouped(items)
	return nil
}

func (r *Runner) printGrouped(items []models.MediaItem) {
	if len(items) == 0 {
		r.writePlain("no results\n")
		return
	}
	groups := catalog.GroupByType(items)
	for _, mt := range models.MediaTypes {
		group := groups[mt]
		if len(group) == 0 {
			continue
		}
		r.writePlainHeader(fmt.Sprintf("%ss (%d)", mt, len(group)))
		for _, item := range group {
			r.writePlain("%s\n", r.palette.Item(item))
		}
		r.writePlain("\n")
	}
}

// Items lists catalog items from the local store.
func (r *Runner) Items(ctx context.Context, cmd *cli.Command) error {
	q := catalog.ItemsQuery{
		Provider:      cmd.String("provider"),
		InLibraryOnly: cmd.Bool("library"),
		Search:        cmd.String("search"),
		Limit:         cmd.Int("limit"),
		Offset:        cmd.Int("offset"),
	}
	if t := cmd.String("type"); t != "" {
		mt, err := models.ParseMediaType(t)
		if err != nil {
			return err
		}
		q.MediaType = mt
	}

	agg, err := r.open(ctx)
	if err != nil {
		return err
	}
	items, err := agg.Items(ctx, q)
	if err != nil {
		return err
	}

	if cmd.Bool("json") {
		return r.writeJSON(items, cmd.Bool("pretty"))
	}
	for _, item := range items {
		r.writePlain("%s\n", r.palette.Item(item))
	}
	r.writePlain("%d items\n", len(items))
	return nil
}

// Count prints catalog item counts per media type.
func (r *Runner) Count(ctx context.Context, cmd *cli.Command) error {
	agg, err := r.open(ctx)
	if err != nil {
		return err
	}
	counts, err := agg.Count(ctx, cmd.Bool("library"))
	if err != nil {
		return err
	}

	if cmd.Bool("json") {
		return r.writeJSON(counts, cmd.Bool("pretty"))
	}
	for _, mt := range models.MediaTypes {
		r.writePlain("%-10s %d\n", mt, counts[mt])
	}
	return nil
}

// Item shows one item, optionally with its tracks.
func (r *Runner) Item(ctx context.Context, cmd *cli.Command) error {
	uri := cmd.StringArg("uri")
	if uri == "" {
		return fmt.Errorf("%w: item uri", shared.ErrMissingArgument)
	}

	agg, err := r.open(ctx)
	if err != nil {
		return err
	}
	item, err := agg.GetItem(ctx, uri)
	if err != nil {
		return err
	}

	var tracks []*models.Track
	if cmd.Bool("tracks") {
		if tracks, err = agg.Tracks(ctx, item); err != nil {
			return err
		}
	}

	if cmd.Bool("json") {
		if tracks == nil {
			return r.writeJSON(item, cmd.Bool("pretty"))
		}
		return r.writeJSON(map[string]any{"item": item, "tracks": tracks}, cmd.Bool("pretty"))
	}

	r.writePlain("%s\n", r.palette.Item(item))
	for _, pid := range item.Base().ProviderIDs {
		r.writePlain("  %s %s %s available=%v\n", pid.Provider, pid.ItemID, pid.Quality, pid.Available)
	}
	for i, t := range tracks {
		r.writePlain("%3d. %s\n", i+1, r.palette.Item(t))
	}
	return nil
}

// LibraryAdd adds an item to its provider library.
func (r *Runner) LibraryAdd(ctx context.Context, cmd *cli.Command) error {
	return r.libraryEdit(ctx, cmd, true)
}

// LibraryRemove removes an item from its provider library.
func (r *Runner) LibraryRemove(ctx context.Context, cmd *cli.Command) error {
	return r.libraryEdit(ctx, cmd, false)
}

func (r *Runner) libraryEdit(ctx context.Context, cmd *cli.Command, add bool) error {
	uri := cmd.StringArg("uri")
	if uri == "" {
		return fmt.Errorf("%w: item uri", shared.ErrMissingArgument)
	}

	agg, err := r.open(ctx)
	if err != nil {
		return err
	}
	item, err := agg.GetItem(ctx, uri)
	if err != nil {
		return err
	}

	if add {
		if err := agg.LibraryAdd(ctx, item); err != nil {
			return err
		}
		r.writePlain("%s\n", r.palette.Check("added %s to the library", item.Base().Name))
		return nil
	}
	if err := agg.LibraryRemove(ctx, item); err != nil {
		return err
	}
	r.writePlain("%s\n", r.palette.Check("removed %s from the library", item.Base().Name))
	return nil
}
