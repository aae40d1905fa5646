package providers

import (
	"context"
	"fmt"
	"io/fs"
	"iter"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/desertthunder/jukebox/internal/models"
	"github.com/desertthunder/jukebox/internal/shared"
)

// Filesystem serves audio files and m3u playlists below a local directory.
//
// Item ids are derived from paths relative to the root, so they survive rescans. Streams are
// file:// URLs that never expire.
type Filesystem struct {
	base
	UnimplementedProvider

	root    string
	mapping fsMapping

	mu    sync.Mutex
	index *fsIndex
	dirty bool
}

// NewFilesystem creates a Filesystem adapter rooted at cfg.Path.
func NewFilesystem(cfg shared.ProviderConfig, opts Options) (*Filesystem, error) {
	root := shared.ExpandHome(cfg.Path)
	if root != "" {
		abs, err := filepath.Abs(root)
		if err != nil {
			return nil, fmt.Errorf("%w: music path %q: %v", shared.ErrInvalidConfig, cfg.Path, err)
		}
		root = abs
	}

	features := FeatureSearch | FeatureLibraryArtists | FeatureLibraryAlbums | FeatureLibraryTracks |
		FeatureLibraryPlaylists | FeaturePlaylistTracksEdit

	b := newBase(cfg, models.ProviderFilesystem, features, 0, opts)
	return &Filesystem{base: b, root: root, mapping: fsMapping{provider: b.id}}, nil
}

// Setup checks that the music root is a readable directory.
func (f *Filesystem) Setup(ctx context.Context) error {
	if f.root == "" {
		return fmt.Errorf("%w: filesystem provider requires a path", shared.ErrLoginFailed)
	}
	info, err := os.Stat(f.root)
	if err != nil {
		return fmt.Errorf("%w: music directory %s: %v", shared.ErrLoginFailed, f.root, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("%w: %s is not a directory", shared.ErrLoginFailed, f.root)
	}
	return nil
}

// snapshot returns the current index, rescanning when files changed since the last scan.
func (f *Filesystem) snapshot(ctx context.Context) (*fsIndex, error) {
	f.mu.Lock()
	if f.index != nil && !f.dirty {
		idx := f.index
		f.mu.Unlock()
		return idx, nil
	}
	f.dirty = false
	f.mu.Unlock()

	start := time.Now()
	idx, err := f.scanLibrary(ctx)
	if err != nil {
		f.mu.Lock()
		f.dirty = true
		f.mu.Unlock()
		return nil, err
	}
	f.logger.Debug("scanned music root", "tracks", len(idx.tracks), "playlists", len(idx.playlists), "took", time.Since(start))

	f.mu.Lock()
	f.index = idx
	f.mu.Unlock()
	return idx, nil
}

// Invalidate forces the next read to rescan the music root.
func (f *Filesystem) Invalidate() {
	f.mu.Lock()
	f.dirty = true
	f.mu.Unlock()
}

func (f *Filesystem) items(ctx context.Context, build func(*fsIndex) []models.MediaItem) iter.Seq[models.MediaItem] {
	return func(yield func(models.MediaItem) bool) {
		idx, err := f.snapshot(ctx)
		if err != nil {
			f.logger.Warn("library scan failed", "error", err)
			return
		}
		for pos, item := range Slice(build(idx)) {
			item.Base().Position = pos
			if !yield(item) {
				return
			}
		}
	}
}

func (f *Filesystem) LibraryArtists(ctx context.Context) iter.Seq[models.MediaItem] {
	return f.items(ctx, func(idx *fsIndex) []models.MediaItem {
		return asItems(f.mapping.artists(idx.tracks))
	})
}

func (f *Filesystem) LibraryAlbums(ctx context.Context) iter.Seq[models.MediaItem] {
	return f.items(ctx, func(idx *fsIndex) []models.MediaItem {
		return asItems(f.mapping.albums(idx.tracks))
	})
}

func (f *Filesystem) LibraryTracks(ctx context.Context) iter.Seq[models.MediaItem] {
	return f.items(ctx, func(idx *fsIndex) []models.MediaItem {
		out := make([]models.MediaItem, len(idx.tracks))
		for i, e := range idx.tracks {
			out[i] = f.mapping.track(e)
		}
		return out
	})
}

func (f *Filesystem) LibraryPlaylists(ctx context.Context) iter.Seq[models.MediaItem] {
	return f.items(ctx, func(idx *fsIndex) []models.MediaItem {
		out := make([]models.MediaItem, len(idx.playlists))
		for i, e := range idx.playlists {
			out[i] = f.mapping.playlist(e)
		}
		return out
	})
}

// Search matches the folded query against folded names.
func (f *Filesystem) Search(ctx context.Context, query string, types []models.MediaType, limit int) ([]models.MediaItem, error) {
	idx, err := f.snapshot(ctx)
	if err != nil {
		return nil, err
	}
	needle := shared.SortName(query)
	if len(types) == 0 {
		types = []models.MediaType{models.MediaTypeArtist, models.MediaTypeAlbum, models.MediaTypeTrack, models.MediaTypePlaylist}
	}

	var out []models.MediaItem
	for _, mt := range types {
		var candidates []models.MediaItem
		switch mt {
		case models.MediaTypeArtist:
			candidates = asItems(f.mapping.artists(idx.tracks))
		case models.MediaTypeAlbum:
			candidates = asItems(f.mapping.albums(idx.tracks))
		case models.MediaTypeTrack:
			for _, e := range idx.tracks {
				candidates = append(candidates, f.mapping.track(e))
			}
		case models.MediaTypePlaylist:
			for _, e := range idx.playlists {
				candidates = append(candidates, f.mapping.playlist(e))
			}
		}

		n := 0
		for _, item := range candidates {
			if n >= limit {
				break
			}
			if strings.Contains(item.Base().SortName, needle) {
				out = append(out, item)
				n++
			}
		}
	}
	return out, nil
}

func (f *Filesystem) GetItem(ctx context.Context, id string, mt models.MediaType) (models.MediaItem, error) {
	idx, err := f.snapshot(ctx)
	if err != nil {
		return nil, err
	}

	switch mt {
	case models.MediaTypeTrack, models.MediaTypePlaylist:
		if e, ok := idx.byID[id]; ok {
			if e.Kind == fsTrackKind && mt == models.MediaTypeTrack {
				return f.mapping.track(e), nil
			}
			if e.Kind == fsPlaylistKind && mt == models.MediaTypePlaylist {
				return f.mapping.playlist(e), nil
			}
		}
	case models.MediaTypeAlbum:
		for _, a := range f.mapping.albums(idx.tracks) {
			if a.ItemID == id {
				return a, nil
			}
		}
	case models.MediaTypeArtist:
		for _, a := range f.mapping.artists(idx.tracks) {
			if a.ItemID == id {
				return a, nil
			}
		}
	}
	return nil, fmt.Errorf("%w: %s %s", shared.ErrMediaNotFound, mt, id)
}

// AlbumTracks returns the tracks of an album ordered by disc and track number.
func (f *Filesystem) AlbumTracks(ctx context.Context, id string) ([]*models.Track, error) {
	idx, err := f.snapshot(ctx)
	if err != nil {
		return nil, err
	}

	var tracks []*models.Track
	for _, e := range idx.tracks {
		if t := f.mapping.track(e); t.Album != nil && t.Album.ItemID == id {
			tracks = append(tracks, t)
		}
	}
	if len(tracks) == 0 {
		return nil, fmt.Errorf("%w: album %s", shared.ErrMediaNotFound, id)
	}
	sortTracks(tracks)
	return tracks, nil
}

func (f *Filesystem) playlistFile(idx *fsIndex, id string) (fsEntry, error) {
	e, ok := idx.byID[id]
	if !ok || e.Kind != fsPlaylistKind {
		return fsEntry{}, fmt.Errorf("%w: playlist %s", shared.ErrMediaNotFound, id)
	}
	return e, nil
}

// PlaylistTracks returns the playlist entries in file order, skipping entries that are not in the library.
func (f *Filesystem) PlaylistTracks(ctx context.Context, id string) ([]*models.Track, error) {
	idx, err := f.snapshot(ctx)
	if err != nil {
		return nil, err
	}
	e, err := f.playlistFile(idx, id)
	if err != nil {
		return nil, err
	}

	ids, err := readPlaylist(f.root, e.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to read playlist %s: %w", e.Rel, err)
	}

	tracks := make([]*models.Track, 0, len(ids))
	for _, trackID := range ids {
		te, ok := idx.byID[trackID]
		if !ok || te.Kind != fsTrackKind {
			f.logger.Debug("playlist entry missing from library", "playlist", e.Rel, "id", trackID)
			continue
		}
		t := f.mapping.track(te)
		t.Position = len(tracks) + 1
		tracks = append(tracks, t)
	}
	return tracks, nil
}

func (f *Filesystem) GetStreamDetails(ctx context.Context, id string) (*models.StreamDetails, error) {
	idx, err := f.snapshot(ctx)
	if err != nil {
		return nil, err
	}
	e, ok := idx.byID[id]
	if !ok || e.Kind != fsTrackKind {
		return nil, fmt.Errorf("%w: track %s", shared.ErrMediaNotFound, id)
	}
	if _, err := os.Stat(e.Path); err != nil {
		f.Invalidate()
		return nil, fmt.Errorf("%w: %s: %v", shared.ErrMediaNotFound, e.Rel, err)
	}

	return &models.StreamDetails{
		ItemID:      id,
		Provider:    f.id,
		ContentType: e.Audio.ContentType,
		Quality:     e.Audio.quality(),
		Duration:    int(e.Audio.Duration / time.Second),
		SampleRate:  e.Audio.SampleRate,
		BitDepth:    e.Audio.BitDepth,
		DirectURL:   fileURL(e.Path),
		Data:        map[string]string{"path": e.Path},
	}, nil
}

// AddPlaylistTracks appends the tracks to the playlist file as paths relative to it.
func (f *Filesystem) AddPlaylistTracks(ctx context.Context, playlistID string, trackIDs []string) error {
	idx, err := f.snapshot(ctx)
	if err != nil {
		return err
	}
	pl, err := f.playlistFile(idx, playlistID)
	if err != nil {
		return err
	}

	var lines []string
	for _, id := range trackIDs {
		te, ok := idx.byID[id]
		if !ok || te.Kind != fsTrackKind {
			return fmt.Errorf("%w: track %s", shared.ErrMediaNotFound, id)
		}
		rel, err := filepath.Rel(filepath.Dir(pl.Path), te.Path)
		if err != nil {
			rel = te.Path
		}
		lines = append(lines, filepath.ToSlash(rel))
	}

	file, err := os.OpenFile(pl.Path, os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("failed to open playlist: %w", err)
	}
	defer file.Close()

	for _, line := range lines {
		if _, err := fmt.Fprintln(file, line); err != nil {
			return fmt.Errorf("failed to write playlist: %w", err)
		}
	}
	return nil
}

// RemovePlaylistTracks rewrites the playlist file without the entries resolving to trackIDs.
func (f *Filesystem) RemovePlaylistTracks(ctx context.Context, playlistID string, trackIDs []string) error {
	idx, err := f.snapshot(ctx)
	if err != nil {
		return err
	}
	pl, err := f.playlistFile(idx, playlistID)
	if err != nil {
		return err
	}

	data, err := os.ReadFile(pl.Path)
	if err != nil {
		return fmt.Errorf("failed to read playlist: %w", err)
	}

	var kept []string
	for _, line := range strings.Split(strings.TrimRight(string(data), "\n"), "\n") {
		if rel, ok := playlistEntry(f.root, pl.Path, line); ok && slices.Contains(trackIDs, fsID(rel)) {
			continue
		}
		kept = append(kept, strings.TrimRight(line, "\r"))
	}

	out := strings.Join(kept, "\n")
	if out != "" {
		out += "\n"
	}
	if err := os.WriteFile(pl.Path, []byte(out), 0644); err != nil {
		return fmt.Errorf("failed to write playlist: %w", err)
	}
	return nil
}

// Watch reports paths that changed below the root until ctx is done. Every change also invalidates
// the index so the next read rescans.
func (f *Filesystem) Watch(ctx context.Context) (<-chan string, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}

	err = filepath.WalkDir(f.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil || !d.IsDir() {
			return nil
		}
		if path != f.root && strings.HasPrefix(d.Name(), ".") {
			return fs.SkipDir
		}
		return watcher.Add(path)
	})
	if err != nil {
		watcher.Close()
		return nil, fmt.Errorf("failed to watch %s: %w", f.root, err)
	}

	changes := make(chan string, 16)
	go func() {
		defer close(changes)
		defer watcher.Close()

		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if event.Has(fsnotify.Chmod) && !event.Has(fsnotify.Write) {
					continue
				}
				if event.Has(fsnotify.Create) {
					if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
						watcher.Add(event.Name)
					}
				}
				f.Invalidate()
				select {
				case changes <- event.Name:
				default:
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				f.logger.Warn("watcher error", "error", err)
			}
		}
	}()
	return changes, nil
}
