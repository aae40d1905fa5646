package tasks

import (
	"context"
	"fmt"
	"strings"

	"github.com/desertthunder/jukebox/internal/models"
	"github.com/desertthunder/jukebox/internal/providers"
	"github.com/desertthunder/jukebox/internal/shared"
)

const matchSearchLimit = 5

// TrackMatchResult represents the result of attempting to match a single track.
type TrackMatchResult struct {
	Original *models.Track // Original track from source
	Matched  *models.Track // Matched track (nil if not found)
	Skipped  bool          // Already present in the destination
	Error    error         // Error if match failed
}

// TransferResult contains all data from a playlist transfer.
type TransferResult struct {
	Source          *models.PlaylistExport
	Dest            *models.Playlist
	TrackMatches    []TrackMatchResult
	AddedCount      int
	SkippedCount    int
	FailedCount     int
	TotalTracks     int
	MatchPercentage float64
}

// ComparisonResult contains track comparison details between two playlists.
type ComparisonResult struct {
	Source        *models.PlaylistExport
	Dest          *models.PlaylistExport
	MatchedCount  int
	MissingInDest []*models.Track // Tracks in source but not in dest
	ExtraInDest   []*models.Track // Tracks in dest but not in source
}

// trackIndex matches tracks by ISRC first, then by normalized title and artist.
type trackIndex struct {
	isrc map[string]bool
	keys map[string]bool
}

func newTrackIndex(tracks []*models.Track) *trackIndex {
	idx := &trackIndex{isrc: make(map[string]bool), keys: make(map[string]bool)}
	for _, t := range tracks {
		idx.add(t)
	}
	return idx
}

func (idx *trackIndex) add(t *models.Track) {
	if t.ISRC != "" {
		idx.isrc[strings.ToUpper(t.ISRC)] = true
	}
	idx.keys[trackKey(t)] = true
}

func (idx *trackIndex) contains(t *models.Track) bool {
	if t.ISRC != "" && idx.isrc[strings.ToUpper(t.ISRC)] {
		return true
	}
	return idx.keys[trackKey(t)]
}

func trackKey(t *models.Track) string {
	return shared.NormalizeTrackKey(shared.SortName(t.Name), shared.SortName(t.ArtistName()))
}

// bestMatch picks the candidate with the same ISRC, else the first with the same folded title and artist.
func bestMatch(want *models.Track, candidates []models.MediaItem) *models.Track {
	var byName *models.Track
	for _, c := range candidates {
		t, ok := c.(*models.Track)
		if !ok {
			continue
		}
		if want.ISRC != "" && strings.EqualFold(t.ISRC, want.ISRC) {
			return t
		}
		if byName == nil && shared.CompareNames(t.Name, want.Name) && shared.CompareNames(t.ArtistName(), want.ArtistName()) {
			byName = t
		}
	}
	return byName
}

// Export fetches a playlist together with its tracks.
func Export(ctx context.Context, p providers.Provider, playlistID string) (*models.PlaylistExport, error) {
	item, err := p.GetItem(ctx, playlistID, models.MediaTypePlaylist)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", shared.ErrPlaylistNotFound, playlistID, err)
	}
	pl, ok := item.(*models.Playlist)
	if !ok {
		return nil, fmt.Errorf("%w: %s is a %s", shared.ErrPlaylistNotFound, playlistID, item.MediaType())
	}

	tracks, err := p.PlaylistTracks(ctx, playlistID)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch tracks of %s: %w", playlistID, err)
	}
	return &models.PlaylistExport{Playlist: pl, Tracks: tracks}, nil
}

// Diff compares two playlists and identifies differences.
func (e *Engine) Diff(ctx context.Context, src, dst providers.Provider, srcID, dstID string, progress chan<- ProgressUpdate) (*ComparisonResult, error) {
	if src == nil || dst == nil {
		return nil, fmt.Errorf("%w: provider not initialized", shared.ErrProviderUnavailable)
	}

	sendProgress(progress, fetchSourceUpdate(1, 2, src.Name()))
	sourceExport, err := Export(ctx, src, srcID)
	if err != nil {
		return nil, err
	}

	sendProgress(progress, fetchDestUpdate(2, 2, dst.Name()))
	destExport, err := Export(ctx, dst, dstID)
	if err != nil {
		return nil, err
	}

	sendProgress(progress, compareUpdate(1, 1))
	result := &ComparisonResult{Source: sourceExport, Dest: destExport}

	destIdx := newTrackIndex(destExport.Tracks)
	for _, t := range sourceExport.Tracks {
		if destIdx.contains(t) {
			result.MatchedCount++
		} else {
			result.MissingInDest = append(result.MissingInDest, t)
		}
	}

	srcIdx := newTrackIndex(sourceExport.Tracks)
	for _, t := range destExport.Tracks {
		if !srcIdx.contains(t) {
			result.ExtraInDest = append(result.ExtraInDest, t)
		}
	}

	return result, nil
}

// Transfer appends the source playlist's tracks to the destination playlist.
//
// Tracks already present in the destination are skipped; the rest are searched on the destination provider.
func (e *Engine) Transfer(ctx context.Context, src, dst providers.Provider, srcID, dstID string, progress chan<- ProgressUpdate) (*TransferResult, error) {
	if src == nil || dst == nil {
		return nil, fmt.Errorf("%w: provider not initialized", shared.ErrProviderUnavailable)
	}
	if !dst.Features().Has(providers.FeatureSearch | providers.FeaturePlaylistTracksEdit) {
		return nil, fmt.Errorf("%w: %s cannot search and edit playlists", shared.ErrUnsupportedFeature, dst.ID())
	}

	sendProgress(progress, fetchSourceUpdate(1, 2, src.Name()))
	sourceExport, err := Export(ctx, src, srcID)
	if err != nil {
		return nil, err
	}

	sendProgress(progress, fetchDestUpdate(2, 2, dst.Name()))
	destExport, err := Export(ctx, dst, dstID)
	if err != nil {
		return nil, err
	}
	if !destExport.Playlist.IsEditable {
		return nil, fmt.Errorf("%w: playlist %s is not editable", shared.ErrUnsupportedFeature, destExport.Playlist.Name)
	}

	total := len(sourceExport.Tracks)
	result := &TransferResult{
		Source:       sourceExport,
		Dest:         destExport.Playlist,
		TrackMatches: make([]TrackMatchResult, total),
		TotalTracks:  total,
	}

	sendProgress(progress, searchTracksUpdate(0, total, nil))

	present := newTrackIndex(destExport.Tracks)
	var ids []string
	for i, t := range sourceExport.Tracks {
		if ctx.Err() != nil {
			return result, ctx.Err()
		}
		sendProgress(progress, searchTracksUpdate(i+1, total, t))

		match := TrackMatchResult{Original: t}
		switch {
		case present.contains(t):
			match.Skipped = true
			result.SkippedCount++
		default:
			query := strings.TrimSpace(t.ArtistName() + " " + t.Name)
			candidates, err := dst.Search(ctx, query, []models.MediaType{models.MediaTypeTrack}, matchSearchLimit)
			if err != nil {
				match.Error = err
				break
			}
			match.Matched = bestMatch(t, candidates)
			if match.Matched == nil {
				match.Error = fmt.Errorf("%w: no match for %s", shared.ErrTrackNotFound, query)
				break
			}
			ids = append(ids, match.Matched.ItemID)
			present.add(match.Matched)
		}
		if match.Error != nil {
			result.FailedCount++
			e.logger.Debug("track not transferred", "track", t.Name, "error", match.Error)
		}
		result.TrackMatches[i] = match
	}

	if total > 0 {
		result.MatchPercentage = float64(total-result.FailedCount) / float64(total) * 100
	}

	if len(ids) == 0 {
		return result, nil
	}

	sendProgress(progress, addTracksUpdate(len(ids), destExport.Playlist.Name))
	if err := dst.AddPlaylistTracks(ctx, dstID, ids); err != nil {
		return result, fmt.Errorf("%w: failed to add tracks: %w", shared.ErrAPIRequest, err)
	}
	result.AddedCount = len(ids)
	return result, nil
}
