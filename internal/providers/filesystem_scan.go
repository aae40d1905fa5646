package providers

import (
	"bufio"
	"cmp"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/dhowden/tag"
	"github.com/go-audio/wav"
	"github.com/google/uuid"
	"github.com/h2non/filetype"
	"github.com/mewkiz/flac"
	"github.com/tcolgate/mp3"

	"github.com/desertthunder/jukebox/internal/models"
	"github.com/desertthunder/jukebox/internal/shared"
)

const (
	// sniffSize is enough header bytes for every audio matcher in filetype.
	sniffSize     = 262
	wavHeaderSize = 44
)

type fsKind int

const (
	fsTrackKind fsKind = iota
	fsPlaylistKind
)

// fsEntry is one scanned file below the music root.
type fsEntry struct {
	ID      string
	Kind    fsKind
	Path    string // absolute
	Rel     string // slash separated, relative to the root
	Size    int64
	ModTime time.Time
	Tags    fsTags
	Audio   audioInfo
}

type fsTags struct {
	Title       string
	Artist      string
	AlbumArtist string
	Album       string
	Genre       string
	Year        int
	Track       int
	Disc        int
}

type audioInfo struct {
	ContentType models.ContentType
	Duration    time.Duration
	SampleRate  int
	BitDepth    int
}

func (a audioInfo) quality() models.MediaQuality {
	q := models.QualityFromFileType(string(a.ContentType))
	if q >= models.QualityLossless && a.SampleRate > 0 {
		return models.QualityFromSampleInfo(a.SampleRate, a.BitDepth)
	}
	return q
}

// fsIndex is a snapshot of the music root.
type fsIndex struct {
	tracks    []fsEntry
	playlists []fsEntry
	byID      map[string]fsEntry
}

// fsID derives a stable item id from a name, usually a path relative to the root.
func fsID(name string) string {
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte(name)).String()
}

func fileURL(path string) string {
	return (&url.URL{Scheme: "file", Path: filepath.ToSlash(path)}).String()
}

func isPlaylistFile(name string) bool {
	ext := strings.ToLower(filepath.Ext(name))
	return ext == ".m3u" || ext == ".m3u8"
}

// scanLibrary walks root and reads every audio file and playlist. Unreadable files are logged and skipped.
func (f *Filesystem) scanLibrary(ctx context.Context) (*fsIndex, error) {
	idx := &fsIndex{byID: make(map[string]fsEntry)}

	err := filepath.WalkDir(f.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			f.logger.Warn("skipping unreadable path", "path", path, "error", err)
			if d != nil && d.IsDir() {
				return fs.SkipDir
			}
			return nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if d.IsDir() {
			if path != f.root && strings.HasPrefix(d.Name(), ".") {
				return fs.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}

		rel, err := filepath.Rel(f.root, path)
		if err != nil {
			return nil
		}
		rel = filepath.ToSlash(rel)

		info, err := d.Info()
		if err != nil {
			return nil
		}
		entry := fsEntry{ID: fsID(rel), Path: path, Rel: rel, Size: info.Size(), ModTime: info.ModTime()}

		if isPlaylistFile(path) {
			entry.Kind = fsPlaylistKind
			idx.playlists = append(idx.playlists, entry)
			idx.byID[entry.ID] = entry
			return nil
		}

		ok, err := readAudioFile(path, &entry)
		if err != nil {
			f.logger.Debug("skipping file", "path", rel, "error", err)
			return nil
		}
		if ok {
			idx.tracks = append(idx.tracks, entry)
			idx.byID[entry.ID] = entry
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan %s: %w", f.root, err)
	}
	return idx, nil
}

// readAudioFile sniffs path and, for audio files, fills in tags and stream information.
func readAudioFile(path string, entry *fsEntry) (bool, error) {
	file, err := os.Open(path)
	if err != nil {
		return false, err
	}
	defer file.Close()

	head := make([]byte, sniffSize)
	n, err := io.ReadFull(file, head)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) {
		return false, err
	}
	head = head[:n]

	if !filetype.IsAudio(head) {
		return false, nil
	}

	kind, err := filetype.Match(head)
	if err != nil {
		return false, err
	}

	ct := models.TryParseContentType(kind.MIME.Value)
	if ct == models.ContentTypeUnknown {
		ct = models.TryParseContentType(kind.Extension)
	}

	if _, err := file.Seek(0, io.SeekStart); err != nil {
		return false, err
	}
	entry.Tags = readTags(file)
	entry.Audio = readAudioInfo(path, ct)
	return true, nil
}

func readTags(r io.ReadSeeker) fsTags {
	m, err := tag.ReadFrom(r)
	if err != nil {
		return fsTags{}
	}
	track, _ := m.Track()
	disc, _ := m.Disc()
	return fsTags{
		Title:       strings.TrimSpace(m.Title()),
		Artist:      strings.TrimSpace(m.Artist()),
		AlbumArtist: strings.TrimSpace(m.AlbumArtist()),
		Album:       strings.TrimSpace(m.Album()),
		Genre:       strings.TrimSpace(m.Genre()),
		Year:        m.Year(),
		Track:       track,
		Disc:        disc,
	}
}

// readAudioInfo decodes stream headers for duration and sample format. Failures leave fields zero.
func readAudioInfo(path string, ct models.ContentType) audioInfo {
	info := audioInfo{ContentType: ct}

	switch ct {
	case models.ContentTypeFLAC:
		stream, err := flac.ParseFile(path)
		if err != nil {
			return info
		}
		defer stream.Close()
		if si := stream.Info; si != nil && si.SampleRate > 0 {
			info.SampleRate = int(si.SampleRate)
			info.BitDepth = int(si.BitsPerSample)
			info.Duration = time.Duration(si.NSamples) * time.Second / time.Duration(si.SampleRate)
		}

	case models.ContentTypeMP3, models.ContentTypeMPEG:
		file, err := os.Open(path)
		if err != nil {
			return info
		}
		defer file.Close()

		dec := mp3.NewDecoder(file)
		var frame mp3.Frame
		skipped := 0
		for {
			if err := dec.Decode(&frame, &skipped); err != nil {
				break
			}
			info.Duration += frame.Duration()
		}

	case models.ContentTypeWAV:
		file, err := os.Open(path)
		if err != nil {
			return info
		}
		defer file.Close()

		dec := wav.NewDecoder(file)
		if !dec.IsValidFile() {
			return info
		}
		info.SampleRate = int(dec.SampleRate)
		info.BitDepth = int(dec.BitDepth)

		// approximated from the PCM payload behind a canonical 44 byte header
		frameSize := int64(dec.BitDepth/8) * int64(dec.NumChans)
		st, err := file.Stat()
		if err != nil || frameSize <= 0 || dec.SampleRate == 0 {
			return info
		}
		frames := max(st.Size()-wavHeaderSize, 0) / frameSize
		info.Duration = time.Duration(frames) * time.Second / time.Duration(dec.SampleRate)
	}
	return info
}

// readPlaylist returns the ids of the entries of an m3u playlist, resolved against its directory.
func readPlaylist(root, path string) ([]string, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	var ids []string
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		if rel, ok := playlistEntry(root, path, scanner.Text()); ok {
			ids = append(ids, fsID(rel))
		}
	}
	return ids, scanner.Err()
}

// playlistEntry resolves one m3u line to a root relative path.
func playlistEntry(root, playlistPath, line string) (string, bool) {
	line = strings.TrimSpace(strings.TrimPrefix(line, "\ufeff"))
	if line == "" || strings.HasPrefix(line, "#") {
		return "", false
	}
	if u, err := url.Parse(line); err == nil && u.Scheme == "file" {
		line = u.Path
	}

	p := filepath.FromSlash(line)
	if !filepath.IsAbs(p) {
		p = filepath.Join(filepath.Dir(playlistPath), p)
	}
	rel, err := filepath.Rel(root, p)
	if err != nil || strings.HasPrefix(rel, "..") {
		return "", false
	}
	return filepath.ToSlash(rel), true
}

// fsMapping turns scanned entries into media items for one provider instance.
type fsMapping struct {
	provider string
}

func (m fsMapping) title(e fsEntry) string {
	if e.Tags.Title != "" {
		return e.Tags.Title
	}
	return strings.TrimSuffix(filepath.Base(e.Path), filepath.Ext(e.Path))
}

func (m fsMapping) artist(name string) *models.Artist {
	a := models.NewArtist(m.provider, fsID("artist:"+shared.SortName(name)), name)
	a.AddProviderID(models.ProviderID{ItemID: a.ItemID, Provider: m.provider, Available: true})
	return a
}

func (m fsMapping) album(e fsEntry) *models.Album {
	if e.Tags.Album == "" {
		return nil
	}
	albumArtist := cmp.Or(e.Tags.AlbumArtist, e.Tags.Artist)
	a := models.NewAlbum(m.provider, fsID("album:"+shared.SortName(albumArtist)+"/"+shared.SortName(e.Tags.Album)), e.Tags.Album)
	a.Metadata.Year = e.Tags.Year
	if albumArtist != "" {
		a.Artist = m.artist(albumArtist)
	}
	a.AddProviderID(models.ProviderID{ItemID: a.ItemID, Provider: m.provider, Available: true})
	return a
}

func (m fsMapping) track(e fsEntry) *models.Track {
	t := models.NewTrack(m.provider, e.ID, m.title(e))
	t.Duration = int(e.Audio.Duration / time.Second)
	t.TrackNumber = e.Tags.Track
	t.DiscNumber = e.Tags.Disc
	t.Album = m.album(e)
	if e.Tags.Artist != "" {
		t.Artists = []*models.Artist{m.artist(e.Tags.Artist)}
	}

	t.Metadata.Year = e.Tags.Year
	t.Metadata.Checksum = fmt.Sprintf("%d-%d", e.ModTime.Unix(), e.Size)
	if e.Tags.Genre != "" {
		t.Metadata.Genres = []string{e.Tags.Genre}
	}

	t.AddProviderID(models.ProviderID{
		ItemID:    e.ID,
		Provider:  m.provider,
		URL:       fileURL(e.Path),
		Quality:   e.Audio.quality(),
		Available: true,
		Details:   string(e.Audio.ContentType),
	})
	return t
}

func (m fsMapping) playlist(e fsEntry) *models.Playlist {
	p := models.NewPlaylist(m.provider, e.ID, strings.TrimSuffix(filepath.Base(e.Path), filepath.Ext(e.Path)))
	p.IsEditable = true
	p.Metadata.Checksum = fmt.Sprintf("%d-%d", e.ModTime.Unix(), e.Size)
	p.AddProviderID(models.ProviderID{ItemID: e.ID, Provider: m.provider, URL: fileURL(e.Path), Available: true})
	return p
}

// albums and artists derive the distinct albums and artists of tracks, in first-seen order.
func (m fsMapping) albums(tracks []fsEntry) []*models.Album {
	seen := make(map[string]bool)
	var out []*models.Album
	for _, e := range tracks {
		if a := m.album(e); a != nil && !seen[a.ItemID] {
			seen[a.ItemID] = true
			out = append(out, a)
		}
	}
	return out
}

func (m fsMapping) artists(tracks []fsEntry) []*models.Artist {
	seen := make(map[string]bool)
	var out []*models.Artist
	for _, e := range tracks {
		for _, name := range []string{e.Tags.AlbumArtist, e.Tags.Artist} {
			if name == "" {
				continue
			}
			a := m.artist(name)
			if !seen[a.ItemID] {
				seen[a.ItemID] = true
				out = append(out, a)
			}
		}
	}
	return out
}

func sortTracks(tracks []*models.Track) {
	slices.SortStableFunc(tracks, func(a, b *models.Track) int {
		if a.DiscNumber != b.DiscNumber {
			return a.DiscNumber - b.DiscNumber
		}
		return a.TrackNumber - b.TrackNumber
	})
}
