package providers

import (
	"cmp"
	"slices"
	"strconv"
	"strings"

	"github.com/desertthunder/jukebox/internal/models"
)

type plexContainer struct {
	MediaContainer plexMediaContainer `json:"MediaContainer"`
}

type plexMediaContainer struct {
	Size              int             `json:"size"`
	TotalSize         int             `json:"totalSize"`
	MachineIdentifier string          `json:"machineIdentifier"`
	Version           string          `json:"version"`
	Metadata          []plexMetadata  `json:"Metadata"`
	Directory         []plexDirectory `json:"Directory"`
	Hub               []plexHub       `json:"Hub"`
}

type plexDirectory struct {
	Key   string `json:"key"`
	Type  string `json:"type"`
	Title string `json:"title"`
}

type plexHub struct {
	Type     string         `json:"type"`
	Size     int            `json:"size"`
	Metadata []plexMetadata `json:"Metadata"`
}

type plexTag struct {
	Tag string `json:"tag"`
}

type plexMetadata struct {
	RatingKey            string      `json:"ratingKey"`
	Key                  string      `json:"key"`
	Type                 string      `json:"type"`
	Title                string      `json:"title"`
	TitleSort            string      `json:"titleSort"`
	OriginalTitle        string      `json:"originalTitle"`
	Summary              string      `json:"summary"`
	Year                 int         `json:"year"`
	Index                int         `json:"index"`
	ParentIndex          int         `json:"parentIndex"`
	Duration             int         `json:"duration"` // milliseconds
	Thumb                string      `json:"thumb"`
	UpdatedAt            int64       `json:"updatedAt"`
	ParentRatingKey      string      `json:"parentRatingKey"`
	ParentTitle          string      `json:"parentTitle"`
	ParentThumb          string      `json:"parentThumb"`
	GrandparentRatingKey string      `json:"grandparentRatingKey"`
	GrandparentTitle     string      `json:"grandparentTitle"`
	PlaylistType         string      `json:"playlistType"`
	Smart                bool        `json:"smart"`
	LeafCount            int         `json:"leafCount"`
	PlaylistItemID       int64       `json:"playlistItemID"`
	Genre                []plexTag   `json:"Genre"`
	Media                []plexMedia `json:"Media"`
}

type plexMedia struct {
	ID            int64      `json:"id"`
	Duration      int        `json:"duration"`
	Bitrate       int        `json:"bitrate"`
	AudioChannels int        `json:"audioChannels"`
	AudioCodec    string     `json:"audioCodec"`
	Container     string     `json:"container"`
	Part          []plexPart `json:"Part"`
}

type plexPart struct {
	ID        int64        `json:"id"`
	Key       string       `json:"key"`
	Duration  int          `json:"duration"`
	File      string       `json:"file"`
	Size      int64        `json:"size"`
	Container string       `json:"container"`
	Stream    []plexStream `json:"Stream"`
}

type plexStream struct {
	StreamType   int    `json:"streamType"`
	Codec        string `json:"codec"`
	SamplingRate int    `json:"samplingRate"`
	BitDepth     int    `json:"bitDepth"`
	Channels     int    `json:"channels"`
}

// audio returns the first audio stream of the part.
func (p plexPart) audio() plexStream {
	for _, s := range p.Stream {
		if s.StreamType == 2 {
			return s
		}
	}
	return plexStream{}
}

// plexMapping turns raw Plex metadata into media items for one provider instance.
// server is the base URL used to build image links.
type plexMapping struct {
	provider string
	server   string
}

func (m plexMapping) image(thumb string) string {
	if thumb == "" {
		return ""
	}
	if strings.HasPrefix(thumb, "http") {
		return thumb
	}
	return m.server + thumb
}

func (m plexMapping) metadata(md plexMetadata) models.Metadata {
	out := models.Metadata{
		Description: md.Summary,
		Year:        md.Year,
		Image:       m.image(md.Thumb),
	}
	if md.UpdatedAt != 0 {
		out.Checksum = strconv.FormatInt(md.UpdatedAt, 10)
	}
	for _, g := range md.Genre {
		out.Genres = append(out.Genres, g.Tag)
	}
	return out
}

func (m plexMapping) providerID(id, url string, quality models.MediaQuality) models.ProviderID {
	return models.ProviderID{ItemID: id, Provider: m.provider, URL: url, Quality: quality, Available: true}
}

func (m plexMapping) artist(md plexMetadata) *models.Artist {
	a := models.NewArtist(m.provider, md.RatingKey, md.Title)
	a.Metadata = m.metadata(md)
	a.AddProviderID(m.providerID(md.RatingKey, md.Key, models.QualityUnknown))
	return a
}

func (m plexMapping) album(md plexMetadata) *models.Album {
	a := models.NewAlbum(m.provider, md.RatingKey, md.Title)
	a.Metadata = m.metadata(md)
	if md.ParentRatingKey != "" {
		a.Artist = models.NewArtist(m.provider, md.ParentRatingKey, md.ParentTitle)
	}
	a.AddProviderID(m.providerID(md.RatingKey, md.Key, models.QualityUnknown))
	return a
}

func (m plexMapping) track(md plexMetadata) *models.Track {
	t := models.NewTrack(m.provider, md.RatingKey, md.Title)
	t.Metadata = m.metadata(md)
	t.Duration = md.Duration / 1000
	t.TrackNumber = md.Index
	t.DiscNumber = md.ParentIndex

	if md.ParentRatingKey != "" {
		t.Album = models.NewAlbum(m.provider, md.ParentRatingKey, md.ParentTitle)
		t.Album.Metadata.Image = m.image(md.ParentThumb)
		if md.GrandparentRatingKey != "" {
			t.Album.Artist = models.NewArtist(m.provider, md.GrandparentRatingKey, md.GrandparentTitle)
		}
	}

	// originalTitle carries the track artist when it differs from the album artist
	switch {
	case md.OriginalTitle != "":
		t.Artists = []*models.Artist{models.NewArtist(m.provider, "name:"+md.OriginalTitle, md.OriginalTitle)}
	case md.GrandparentRatingKey != "":
		t.Artists = []*models.Artist{models.NewArtist(m.provider, md.GrandparentRatingKey, md.GrandparentTitle)}
	}

	quality := models.QualityUnknown
	if media, ok := preferredPlexMedia(md.Media); ok {
		quality = plexQuality(media)
	}
	t.AddProviderID(models.ProviderID{
		ItemID:    md.RatingKey,
		Provider:  m.provider,
		URL:       md.Key,
		Quality:   quality,
		Available: len(md.Media) > 0,
	})
	return t
}

func (m plexMapping) playlist(md plexMetadata) *models.Playlist {
	p := models.NewPlaylist(m.provider, md.RatingKey, md.Title)
	p.Metadata = m.metadata(md)
	p.IsEditable = !md.Smart
	p.AddProviderID(m.providerID(md.RatingKey, md.Key, models.QualityUnknown))
	return p
}

// item maps by the record's type; unknown types return nil.
func (m plexMapping) item(md plexMetadata) models.MediaItem {
	if md.RatingKey == "" {
		return nil
	}
	switch md.Type {
	case "artist":
		return m.artist(md)
	case "album":
		return m.album(md)
	case "track":
		return m.track(md)
	case "playlist":
		return m.playlist(md)
	default:
		return nil
	}
}

var plexTypes = map[models.MediaType]int{
	models.MediaTypeArtist: 8,
	models.MediaTypeAlbum:  9,
	models.MediaTypeTrack:  10,
}

// plexCodecOrder is the stream preference, best first.
var plexCodecOrder = []string{"flac", "alac", "aac", "m4a", "mp3"}

func plexCodecRank(codec string) int {
	for i, c := range plexCodecOrder {
		if strings.EqualFold(c, codec) {
			return i
		}
	}
	return len(plexCodecOrder)
}

// sortedPlexMedia returns media ordered by codec preference, stable for equal ranks.
func sortedPlexMedia(media []plexMedia) []plexMedia {
	out := slices.Clone(media)
	slices.SortStableFunc(out, func(a, b plexMedia) int {
		return cmp.Compare(plexCodecRank(a.AudioCodec), plexCodecRank(b.AudioCodec))
	})
	return out
}

func preferredPlexMedia(media []plexMedia) (plexMedia, bool) {
	sorted := sortedPlexMedia(media)
	if len(sorted) == 0 {
		return plexMedia{}, false
	}
	return sorted[0], true
}

func plexQuality(media plexMedia) models.MediaQuality {
	q := models.QualityFromFileType(media.AudioCodec)
	if q < models.QualityLossless || len(media.Part) == 0 {
		return q
	}
	s := media.Part[0].audio()
	if hi := models.QualityFromSampleInfo(s.SamplingRate, s.BitDepth); hi > q {
		return hi
	}
	return q
}
