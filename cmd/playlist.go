package main

import (
	"context"
	"fmt"

	"github.com/desertthunder/jukebox/internal/catalog"
	"github.com/desertthunder/jukebox/internal/formatter"
	"github.com/desertthunder/jukebox/internal/models"
	"github.com/desertthunder/jukebox/internal/providers"
	"github.com/desertthunder/jukebox/internal/shared"
	"github.com/desertthunder/jukebox/internal/tasks"
	"github.com/urfave/cli/v3"
)

// PlaylistAdd appends tracks to a playlist.
func (r *Runner) PlaylistAdd(ctx context.Context, cmd *cli.Command) error {
	return r.playlistEdit(ctx, cmd, true)
}

// PlaylistRemove removes tracks from a playlist.
func (r *Runner) PlaylistRemove(ctx context.Context, cmd *cli.Command) error {
	return r.playlistEdit(ctx, cmd, false)
}

func (r *Runner) playlistEdit(ctx context.Context, cmd *cli.Command, add bool) error {
	args := cmd.Args().Slice()
	if len(args) < 2 {
		return fmt.Errorf("%w: playlist uri and at least one track uri", shared.ErrMissingArgument)
	}

	agg, err := r.open(ctx)
	if err != nil {
		return err
	}
	playlist, err := r.playlist(ctx, agg, args[0])
	if err != nil {
		return err
	}

	tracks := make([]*models.Track, 0, len(args)-1)
	for _, uri := range args[1:] {
		item, err := agg.GetItem(ctx, uri)
		if err != nil {
			return err
		}
		t, ok := item.(*models.Track)
		if !ok {
			return fmt.Errorf("%w: %s is not a track", shared.ErrInvalidArgument, uri)
		}
		tracks = append(tracks, t)
	}

	if add {
		if err := agg.AddPlaylistTracks(ctx, playlist, tracks); err != nil {
			return err
		}
		r.writePlain("%s\n", r.palette.Check("added %d tracks to %s", len(tracks), playlist.Name))
		return nil
	}
	if err := agg.RemovePlaylistTracks(ctx, playlist, tracks); err != nil {
		return err
	}
	r.writePlain("%s\n", r.palette.Check("removed %d tracks from %s", len(tracks), playlist.Name))
	return nil
}

func (r *Runner) playlist(ctx context.Context, agg *catalog.Aggregator, uri string) (*models.Playlist, error) {
	item, err := agg.GetItem(ctx, uri)
	if err != nil {
		return nil, err
	}
	pl, ok := item.(*models.Playlist)
	if !ok {
		return nil, fmt.Errorf("%w: %s is not a playlist", shared.ErrInvalidArgument, uri)
	}
	return pl, nil
}

// playlistRef resolves a playlist uri to its provider and native id.
func (r *Runner) playlistRef(agg *catalog.Aggregator, uri string) (providers.Provider, string, error) {
	provider, mt, id, err := models.ParseItemURI(uri)
	if err != nil {
		return nil, "", err
	}
	if mt != models.MediaTypePlaylist {
		return nil, "", fmt.Errorf("%w: %s is not a playlist", shared.ErrInvalidArgument, uri)
	}
	p, err := agg.Provider(provider)
	if err != nil {
		return nil, "", err
	}
	return p, id, nil
}

// PlaylistExport writes playlists of one provider to disk with a manifest.
func (r *Runner) PlaylistExport(ctx context.Context, cmd *cli.Command) error {
	uris := cmd.Args().Slice()
	if len(uris) == 0 {
		return fmt.Errorf("%w: at least one playlist uri", shared.ErrMissingArgument)
	}
	format, err := formatter.ParseFormat(cmd.String("format"))
	if err != nil {
		return err
	}

	agg, err := r.open(ctx)
	if err != nil {
		return err
	}

	var (
		p   providers.Provider
		ids []string
	)
	for _, uri := range uris {
		pp, id, err := r.playlistRef(agg, uri)
		if err != nil {
			return err
		}
		if p != nil && pp.ID() != p.ID() {
			return fmt.Errorf("%w: playlists must belong to one provider", shared.ErrInvalidArgument)
		}
		p = pp
		ids = append(ids, id)
	}

	progress, finish := r.progress()
	result, err := agg.Engine().BulkExport(ctx, p, ids, tasks.BulkExportOpts{
		Format:     format,
		OutputDir:  cmd.String("output"),
		NumWorkers: cmd.Int("workers"),
		HTTPClient: r.httpClient,
	}, progress)
	finish()
	if err != nil {
		return err
	}

	for _, res := range result.Results {
		if res.Success {
			r.writePlain("%s\n", r.palette.Check("%s: %d files", res.PlaylistName, len(res.Files)))
		} else {
			r.writePlain("%s\n", r.palette.Cross("%s: %v", res.PlaylistURI, res.Error))
		}
	}
	r.writePlainln("%d of %d playlists exported to %s", result.SuccessfulExports, result.TotalPlaylists, result.OutputDirectory)
	if result.FailedExports > 0 {
		return fmt.Errorf("%w: %d playlists failed to export", shared.ErrAPIRequest, result.FailedExports)
	}
	return nil
}

func (r *Runner) playlistPair(ctx context.Context, cmd *cli.Command) (src, dst providers.Provider, srcID, dstID string, err error) {
	args := cmd.Args().Slice()
	if len(args) != 2 {
		return nil, nil, "", "", fmt.Errorf("%w: source and destination playlist uris", shared.ErrMissingArgument)
	}
	agg, err := r.open(ctx)
	if err != nil {
		return nil, nil, "", "", err
	}
	if src, srcID, err = r.playlistRef(agg, args[0]); err != nil {
		return nil, nil, "", "", err
	}
	if dst, dstID, err = r.playlistRef(agg, args[1]); err != nil {
		return nil, nil, "", "", err
	}
	return src, dst, srcID, dstID, nil
}

type diffOutput struct {
	Source  string          `json:"source"`
	Dest    string          `json:"dest"`
	Matched int             `json:"matched"`
	Missing []*models.Track `json:"missing_in_dest"`
	Extra   []*models.Track `json:"extra_in_dest"`
}

// PlaylistDiff compares two playlists.
func (r *Runner) PlaylistDiff(ctx context.Context, cmd *cli.Command) error {
	src, dst, srcID, dstID, err := r.playlistPair(ctx, cmd)
	if err != nil {
		return err
	}

	progress, finish := r.progress()
	res, err := r.catalog.Engine().Diff(ctx, src, dst, srcID, dstID, progress)
	finish()
	if err != nil {
		return err
	}

	if cmd.Bool("json") {
		return r.writeJSON(diffOutput{
			Source:  res.Source.Playlist.Name,
			Dest:    res.Dest.Playlist.Name,
			Matched: res.MatchedCount,
			Missing: res.MissingInDest,
			Extra:   res.ExtraInDest,
		}, cmd.Bool("pretty"))
	}

	r.writePlainHeader(fmt.Sprintf("%s → %s", res.Source.Playlist.Name, res.Dest.Playlist.Name))
	r.writePlain("matched %d, missing %d, extra %d\n", res.MatchedCount, len(res.MissingInDest), len(res.ExtraInDest))
	if len(res.MissingInDest) > 0 {
		r.writePlainln("missing in destination:")
		for _, t := range res.MissingInDest {
			r.writePlain("  %s\n", r.palette.Item(t))
		}
	}
	if len(res.ExtraInDest) > 0 {
		r.writePlainln("only in destination:")
		for _, t := range res.ExtraInDest {
			r.writePlain("  %s\n", r.palette.Item(t))
		}
	}
	return nil
}

type transferOutput struct {
	Source          string  `json:"source"`
	Dest            string  `json:"dest"`
	Total           int     `json:"total"`
	Added           int     `json:"added"`
	Skipped         int     `json:"skipped"`
	Failed          int     `json:"failed"`
	MatchPercentage float64 `json:"match_percentage"`
}

// PlaylistTransfer matches the tracks of one playlist on another provider and appends them.
func (r *Runner) PlaylistTransfer(ctx context.Context, cmd *cli.Command) error {
	src, dst, srcID, dstID, err := r.playlistPair(ctx, cmd)
	if err != nil {
		return err
	}

	progress, finish := r.progress()
	res, err := r.catalog.Engine().Transfer(ctx, src, dst, srcID, dstID, progress)
	finish()
	if err != nil {
		return err
	}

	out := transferOutput{
		Source:          res.Source.Playlist.Name,
		Dest:            res.Dest.Name,
		Total:           res.TotalTracks,
		Added:           res.AddedCount,
		Skipped:         res.SkippedCount,
		Failed:          res.FailedCount,
		MatchPercentage: res.MatchPercentage,
	}
	if cmd.Bool("json") {
		return r.writeJSON(out, cmd.Bool("pretty"))
	}

	r.writePlainHeader(fmt.Sprintf("%s → %s", out.Source, out.Dest))
	r.writePlain("%s\n", r.palette.Check("added %d, already present %d", out.Added, out.Skipped))
	if out.Failed > 0 {
		r.writePlain("%s\n", r.palette.Cross("%d tracks not found", out.Failed))
		for _, m := range res.TrackMatches {
			if m.Matched == nil && !m.Skipped {
				r.writePlain("  %s\n", r.palette.Item(m.Original))
			}
		}
	}
	r.writePlain("match rate %.1f%%\n", out.MatchPercentage)
	return nil
}
