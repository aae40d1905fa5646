package tasks

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/desertthunder/jukebox/internal/formatter"
	"github.com/desertthunder/jukebox/internal/models"
	"github.com/desertthunder/jukebox/internal/providers"
	"github.com/desertthunder/jukebox/internal/shared"
	"golang.org/x/time/rate"
)

// BulkExportOpts contains configuration for bulk playlist exports.
type BulkExportOpts struct {
	Format     formatter.Format // Export format: json, csv, markdown, txt
	OutputDir  string           // Base output directory (default: {provider}_export_{epoch})
	NumWorkers int              // Concurrent writers (default: 5)
	RateLimit  float64          // Playlist fetches per second (default: 5)
	HTTPClient *http.Client     // Used for cover downloads
}

// exportJob is one fetched playlist waiting to be written.
type exportJob struct {
	export *models.PlaylistExport
}

// BulkExport exports multiple playlists concurrently with rate limiting and progress tracking.
//
// Playlists are fetched sequentially under the rate limit and written by a pool of workers.
// Partial failures are recorded per playlist and a manifest file summarizes the export.
func (e *Engine) BulkExport(
	ctx context.Context,
	p providers.Provider,
	ids []string,
	opts BulkExportOpts,
	prog chan<- ProgressUpdate,
) (*formatter.BulkExportResult, error) {
	if p == nil {
		return nil, fmt.Errorf("%w: provider not initialized", shared.ErrProviderUnavailable)
	}

	if opts.Format == "" {
		opts.Format = formatter.FormatJSON
	}
	if opts.OutputDir == "" {
		opts.OutputDir = fmt.Sprintf("%s_export_%d", p.ID(), time.Now().Unix())
	}
	if opts.NumWorkers <= 0 {
		opts.NumWorkers = 5
	}
	if opts.NumWorkers > 10 {
		opts.NumWorkers = 10
	}
	if opts.RateLimit <= 0 {
		opts.RateLimit = 5.0
	}

	if err := os.MkdirAll(opts.OutputDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}

	result := &formatter.BulkExportResult{
		TotalPlaylists:  len(ids),
		OutputDirectory: opts.OutputDir,
		Results:         make([]formatter.ExportResult, 0, len(ids)),
	}

	limiter := rate.NewLimiter(rate.Limit(opts.RateLimit), 1)

	jobs := make(chan exportJob, len(ids))
	results := make(chan formatter.ExportResult, len(ids))

	var wg sync.WaitGroup
	for range opts.NumWorkers {
		wg.Add(1)
		go e.exportWorker(ctx, &wg, jobs, results, opts)
	}

	go func() {
		defer close(jobs)
		for i, playlistID := range ids {
			if err := limiter.Wait(ctx); err != nil {
				return
			}

			export, err := Export(ctx, p, playlistID)
			if err != nil {
				results <- formatter.ExportResult{
					PlaylistURI:  models.ItemURI(p.ID(), models.MediaTypePlaylist, playlistID),
					PlaylistName: fmt.Sprintf("Unknown (%s)", playlistID),
					Error:        fmt.Errorf("failed to fetch playlist: %w", err),
				}
				continue
			}

			sendProgress(prog, exportingPlaylistUpdate(i+1, len(ids), export.Playlist.Name))
			jobs <- exportJob{export: export}
		}
	}()

	go func() {
		wg.Wait()
		close(results)
	}()

	completed := 0
	for res := range results {
		completed++
		result.Results = append(result.Results, res)

		if res.Success {
			result.SuccessfulExports++
			sendProgress(prog, exportCompletedUpdate(completed, len(ids), res.PlaylistName, len(res.Files)))
		} else {
			result.FailedExports++
			sendProgress(prog, exportFailedUpdate(completed, len(ids), res.PlaylistName, res.Error))
		}
	}

	manifestPath := filepath.Join(opts.OutputDir, "export_manifest.json")
	if err := formatter.WriteBulkExportManifest(result, opts.Format, manifestPath); err != nil {
		return result, fmt.Errorf("export completed but failed to write manifest: %w", err)
	}
	result.ManifestPath = manifestPath

	if err := ctx.Err(); err != nil {
		return result, fmt.Errorf("export interrupted: %w", err)
	}
	return result, nil
}

// exportWorker writes playlists from the jobs channel until it closes.
func (e *Engine) exportWorker(
	ctx context.Context,
	wg *sync.WaitGroup,
	jobs <-chan exportJob,
	results chan<- formatter.ExportResult,
	opts BulkExportOpts,
) {
	defer wg.Done()

	for job := range jobs {
		res := formatter.ExportResult{
			PlaylistURI:  job.export.URI(),
			PlaylistName: job.export.Playlist.Name,
		}

		if err := ctx.Err(); err != nil {
			res.Error = err
			results <- res
			continue
		}

		files, err := formatter.Write(ctx, opts.HTTPClient, job.export, opts.Format, opts.OutputDir)
		if err != nil {
			res.Error = err
		} else {
			res.Files = files
			res.Success = true
		}
		results <- res
	}
}
