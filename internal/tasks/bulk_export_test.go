package tasks

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/desertthunder/jukebox/internal/formatter"
	"github.com/desertthunder/jukebox/internal/models"
	"github.com/desertthunder/jukebox/internal/shared"
	th "github.com/desertthunder/jukebox/internal/testing"
)

func exportProvider(n int) (*th.MockProvider, []string) {
	m := th.NewMockProvider("spotify")
	ids := make([]string, 0, n)
	for i := range n {
		id := "pl" + string(rune('1'+i))
		playlist(m, id, "Playlist "+id, true,
			track("spotify", id+"-a", "Song A", "Artist A", ""),
			track("spotify", id+"-b", "Song B", "Artist B", ""),
		)
		ids = append(ids, id)
	}
	return m, ids
}

func readManifest(t *testing.T, path string) map[string]any {
	t.Helper()
	data := th.MustReadFile(t, path)
	var manifest map[string]any
	if err := json.Unmarshal([]byte(data), &manifest); err != nil {
		t.Fatalf("invalid manifest: %v", err)
	}
	return manifest
}

func TestBulkExport_SuccessfulExport(t *testing.T) {
	tests := []struct {
		name          string
		format        formatter.Format
		playlistCount int
		filesPer      int
		validate      func(t *testing.T, dir string)
	}{
		{
			name:          "single playlist json export",
			format:        formatter.FormatJSON,
			playlistCount: 1,
			filesPer:      1,
			validate: func(t *testing.T, dir string) {
				th.AssertFileExists(t, filepath.Join(dir, "spotify_pl1.json"))
			},
		},
		{
			name:          "multiple playlists csv export",
			format:        formatter.FormatCSV,
			playlistCount: 3,
			filesPer:      2,
			validate: func(t *testing.T, dir string) {
				th.AssertFileExists(t, filepath.Join(dir, "spotify_pl3_tracks.csv"))
				th.AssertFileExists(t, filepath.Join(dir, "spotify_pl3_metadata.json"))
			},
		},
		{
			name:          "text export",
			format:        formatter.FormatText,
			playlistCount: 2,
			filesPer:      1,
			validate: func(t *testing.T, dir string) {
				data := th.MustReadFile(t, filepath.Join(dir, "spotify_pl2_tracks.txt"))
				if !strings.Contains(data, "Song B") {
					t.Errorf("text export missing track, got %q", data)
				}
			},
		},
		{
			name:          "markdown export",
			format:        formatter.FormatMarkdown,
			playlistCount: 2,
			filesPer:      1,
			validate: func(t *testing.T, dir string) {
				th.AssertFileExists(t, filepath.Join(dir, "spotify_pl1", "README.md"))
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			m, ids := exportProvider(tt.playlistCount)
			engine := NewEngine(nil, nil, quietLogger())

			result, err := engine.BulkExport(context.Background(), m, ids, BulkExportOpts{
				Format:    tt.format,
				OutputDir: dir,
				RateLimit: 1000,
			}, nil)
			if err != nil {
				t.Fatalf("BulkExport() error = %v", err)
			}

			if result.TotalPlaylists != tt.playlistCount {
				t.Errorf("total = %d, want %d", result.TotalPlaylists, tt.playlistCount)
			}
			if result.SuccessfulExports != tt.playlistCount || result.FailedExports != 0 {
				t.Errorf("success = %d, failed = %d", result.SuccessfulExports, result.FailedExports)
			}
			for _, res := range result.Results {
				if len(res.Files) != tt.filesPer {
					t.Errorf("%s: expected %d files, got %d", res.PlaylistURI, tt.filesPer, len(res.Files))
				}
			}

			if result.ManifestPath != filepath.Join(dir, "export_manifest.json") {
				t.Errorf("manifest path = %q", result.ManifestPath)
			}
			manifest := readManifest(t, result.ManifestPath)
			if manifest["format"] != string(tt.format) {
				t.Errorf("manifest format = %v", manifest["format"])
			}

			tt.validate(t, dir)
		})
	}
}

func TestBulkExport_PartialFailures(t *testing.T) {
	dir := t.TempDir()
	m, ids := exportProvider(2)
	ids = append(ids, "missing")

	engine := NewEngine(nil, nil, quietLogger())
	result, err := engine.BulkExport(context.Background(), m, ids, BulkExportOpts{
		Format:    formatter.FormatJSON,
		OutputDir: dir,
		RateLimit: 1000,
	}, nil)
	if err != nil {
		t.Fatalf("BulkExport() error = %v", err)
	}

	if result.SuccessfulExports != 2 || result.FailedExports != 1 {
		t.Fatalf("success = %d, failed = %d", result.SuccessfulExports, result.FailedExports)
	}

	var failed *formatter.ExportResult
	for i := range result.Results {
		if !result.Results[i].Success {
			failed = &result.Results[i]
		}
	}
	if failed == nil {
		t.Fatal("expected a failed result")
	}
	if failed.PlaylistURI != "spotify://playlist/missing" {
		t.Errorf("failed uri = %q", failed.PlaylistURI)
	}
	if !errors.Is(failed.Error, shared.ErrPlaylistNotFound) {
		t.Errorf("expected ErrPlaylistNotFound, got %v", failed.Error)
	}

	manifest := readManifest(t, result.ManifestPath)
	if manifest["failed_exports"] != float64(1) {
		t.Errorf("manifest failed_exports = %v", manifest["failed_exports"])
	}
}

func TestBulkExport_ProviderUnavailable(t *testing.T) {
	engine := NewEngine(nil, nil, quietLogger())
	_, err := engine.BulkExport(context.Background(), nil, []string{"pl1"}, BulkExportOpts{OutputDir: t.TempDir()}, nil)
	if !errors.Is(err, shared.ErrProviderUnavailable) {
		t.Errorf("expected ErrProviderUnavailable, got %v", err)
	}
}

func TestBulkExport_ContextCancellation(t *testing.T) {
	dir := t.TempDir()
	m, ids := exportProvider(3)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	engine := NewEngine(nil, nil, quietLogger())
	result, err := engine.BulkExport(ctx, m, ids, BulkExportOpts{OutputDir: dir}, nil)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if result == nil {
		t.Fatal("expected a partial result")
	}
	if result.SuccessfulExports != 0 {
		t.Errorf("success = %d, want 0", result.SuccessfulExports)
	}
	th.AssertFileExists(t, filepath.Join(dir, "export_manifest.json"))
}

func TestBulkExport_DefaultOutputDirectory(t *testing.T) {
	wd := th.MustGetwd(t)
	tmp := t.TempDir()
	th.MustChdir(t, tmp)
	defer th.MustChdir(t, wd)

	m, ids := exportProvider(1)
	engine := NewEngine(nil, nil, quietLogger())
	result, err := engine.BulkExport(context.Background(), m, ids, BulkExportOpts{RateLimit: 1000}, nil)
	if err != nil {
		t.Fatalf("BulkExport() error = %v", err)
	}
	if !strings.HasPrefix(result.OutputDirectory, "spotify_export_") {
		t.Errorf("output directory = %q", result.OutputDirectory)
	}
	th.AssertDirExists(t, filepath.Join(tmp, result.OutputDirectory))
}

func TestBulkExport_InvalidOutputDirectory(t *testing.T) {
	blocker := filepath.Join(t.TempDir(), "file")
	if err := os.WriteFile(blocker, []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}

	m, ids := exportProvider(1)
	engine := NewEngine(nil, nil, quietLogger())
	_, err := engine.BulkExport(context.Background(), m, ids, BulkExportOpts{OutputDir: filepath.Join(blocker, "out")}, nil)
	if err == nil || !strings.Contains(err.Error(), "failed to create output directory") {
		t.Errorf("expected directory error, got %v", err)
	}
}

func TestBulkExport_ProgressUpdates(t *testing.T) {
	m, ids := exportProvider(2)
	progress := make(chan ProgressUpdate, 16)

	engine := NewEngine(nil, nil, quietLogger())
	if _, err := engine.BulkExport(context.Background(), m, ids, BulkExportOpts{
		OutputDir: t.TempDir(),
		RateLimit: 1000,
	}, progress); err != nil {
		t.Fatalf("BulkExport() error = %v", err)
	}
	close(progress)

	var exporting, completed int
	for u := range progress {
		if u.Phase != ExportPlaylist {
			t.Errorf("unexpected phase %s", u.Phase)
		}
		switch {
		case strings.Contains(u.Message, "Exporting:"):
			exporting++
		case strings.Contains(u.Message, "✓"):
			completed++
		}
	}
	if exporting != 2 || completed != 2 {
		t.Errorf("exporting = %d, completed = %d", exporting, completed)
	}
}

func TestBulkExport_MarkdownWithCoverImage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/jpeg")
		_, _ = w.Write([]byte{0xFF, 0xD8, 0xFF})
	}))
	defer srv.Close()

	m, ids := exportProvider(1)
	m.Library[models.MediaTypePlaylist][0].Base().Metadata.Image = srv.URL + "/cover.jpg"

	dir := t.TempDir()
	engine := NewEngine(nil, nil, quietLogger())
	result, err := engine.BulkExport(context.Background(), m, ids, BulkExportOpts{
		Format:     formatter.FormatMarkdown,
		OutputDir:  dir,
		RateLimit:  1000,
		HTTPClient: srv.Client(),
	}, nil)
	if err != nil {
		t.Fatalf("BulkExport() error = %v", err)
	}
	if len(result.Results) != 1 || len(result.Results[0].Files) != 2 {
		t.Fatalf("expected README and cover, got %+v", result.Results)
	}
	th.AssertFileExists(t, filepath.Join(dir, "spotify_pl1", "cover.jpg"))
}
