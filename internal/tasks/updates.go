package tasks

import (
	"fmt"

	"github.com/desertthunder/jukebox/internal/models"
)

// ProgressUpdate represents a progress event during a long-running operation.
//
// Used to send real-time updates to the CLI for display.
type ProgressUpdate struct {
	Phase    Phase  // Operation phase
	Provider string // Provider instance the update belongs to, if any
	Step     int    // Current step number within phase
	Total    int    // Total steps in this phase, 0 when unknown
	Message  string // Human-readable message for display
	Data     any    // Optional phase-specific data
}

// Operation phase enumeration
type Phase int

const (
	SyncLibrary Phase = iota
	SyncPrune
	SyncDone
	FetchSource
	FetchDest
	Compare
	SearchTracks
	AddTracks
	ExportPlaylist
)

func (p Phase) String() string {
	switch p {
	case SyncLibrary:
		return "sync_library"
	case SyncPrune:
		return "sync_prune"
	case SyncDone:
		return "sync_done"
	case FetchSource:
		return "fetch_source"
	case FetchDest:
		return "fetch_dest"
	case Compare:
		return "compare"
	case SearchTracks:
		return "search_tracks"
	case AddTracks:
		return "add_tracks"
	case ExportPlaylist:
		return "export_playlist"
	default:
		return ""
	}
}

func syncTypeUpdate(provider string, step, total int, mt models.MediaType) ProgressUpdate {
	return ProgressUpdate{
		Phase:    SyncLibrary,
		Provider: provider,
		Step:     step,
		Total:    total,
		Message:  fmt.Sprintf("[%s] Syncing %ss...", provider, mt),
	}
}

func syncPruneUpdate(provider string, mt models.MediaType, removed int) ProgressUpdate {
	return ProgressUpdate{
		Phase:    SyncPrune,
		Provider: provider,
		Message:  fmt.Sprintf("[%s] %d %ss left the library", provider, removed, mt),
	}
}

func syncDoneUpdate(res *ProviderSyncResult) ProgressUpdate {
	msg := fmt.Sprintf("[%s] ✓ %d items", res.Provider, res.Total())
	if res.Err != nil {
		msg = fmt.Sprintf("[%s] ✗ %d items: %v", res.Provider, res.Total(), res.Err)
	}
	return ProgressUpdate{
		Phase:    SyncDone,
		Provider: res.Provider,
		Step:     1,
		Total:    1,
		Message:  msg,
		Data:     res,
	}
}

func fetchSourceUpdate(step, total int, name string) ProgressUpdate {
	return ProgressUpdate{
		Phase:   FetchSource,
		Step:    step,
		Total:   total,
		Message: fmt.Sprintf("Fetching source playlist (%s)...", name),
	}
}

func fetchDestUpdate(step, total int, name string) ProgressUpdate {
	return ProgressUpdate{
		Phase:   FetchDest,
		Step:    step,
		Total:   total,
		Message: fmt.Sprintf("Fetching destination playlist (%s)...", name),
	}
}

func compareUpdate(step, total int) ProgressUpdate {
	return ProgressUpdate{
		Phase:   Compare,
		Step:    step,
		Total:   total,
		Message: "Comparing tracks...",
	}
}

func searchTracksUpdate(step, total int, tr *models.Track) ProgressUpdate {
	if tr == nil {
		return ProgressUpdate{
			Phase:   SearchTracks,
			Step:    step,
			Total:   total,
			Message: "Searching for tracks...",
		}
	}
	return ProgressUpdate{
		Phase:   SearchTracks,
		Step:    step,
		Total:   total,
		Message: fmt.Sprintf("[%d/%d] %s - %s", step, total, tr.ArtistName(), tr.Name),
	}
}

func addTracksUpdate(count int, pl string) ProgressUpdate {
	return ProgressUpdate{
		Phase:   AddTracks,
		Step:    1,
		Total:   1,
		Message: fmt.Sprintf("Adding %d tracks to %s...", count, pl),
	}
}

func exportingPlaylistUpdate(step, total int, name string) ProgressUpdate {
	return ProgressUpdate{
		Phase:   ExportPlaylist,
		Step:    step,
		Total:   total,
		Message: fmt.Sprintf("[%d/%d] Exporting: %s...", step, total, name),
	}
}

func exportCompletedUpdate(step, total int, name string, filesCount int) ProgressUpdate {
	return ProgressUpdate{
		Phase:   ExportPlaylist,
		Step:    step,
		Total:   total,
		Message: fmt.Sprintf("[%d/%d] ✓ %s (%d files)", step, total, name, filesCount),
	}
}

func exportFailedUpdate(step, total int, name string, err error) ProgressUpdate {
	return ProgressUpdate{
		Phase:   ExportPlaylist,
		Step:    step,
		Total:   total,
		Message: fmt.Sprintf("[%d/%d] ✗ %s: %v", step, total, name, err),
	}
}
