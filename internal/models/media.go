package models

import (
	"encoding/json"
	"fmt"
	"slices"
	"strings"

	"github.com/desertthunder/jukebox/internal/shared"
)

// ProviderID records one place an item can be fetched or streamed from.
type ProviderID struct {
	ItemID    string       `json:"item_id"`
	Provider  string       `json:"provider"`
	URL       string       `json:"url,omitempty"`
	Quality   MediaQuality `json:"quality"`
	Available bool         `json:"available"`
	Details   string       `json:"details,omitempty"`
}

// Metadata holds optional descriptive fields.
type Metadata struct {
	Description string   `json:"description,omitempty"`
	Year        int      `json:"year,omitempty"`
	Checksum    string   `json:"checksum,omitempty"`
	Image       string   `json:"image,omitempty"`
	Genres      []string `json:"genres,omitempty"`
}

func (m *Metadata) backfill(o Metadata) bool {
	changed := false
	if m.Description == "" && o.Description != "" {
		m.Description, changed = o.Description, true
	}
	if m.Year == 0 && o.Year != 0 {
		m.Year, changed = o.Year, true
	}
	if m.Checksum == "" && o.Checksum != "" {
		m.Checksum, changed = o.Checksum, true
	}
	if m.Image == "" && o.Image != "" {
		m.Image, changed = o.Image, true
	}
	if len(m.Genres) == 0 && len(o.Genres) > 0 {
		m.Genres, changed = slices.Clone(o.Genres), true
	}
	return changed
}

// Key identifies an item within one provider instance.
type Key struct {
	Provider string
	ItemID   string
}

func (k Key) String() string {
	return k.Provider + "/" + k.ItemID
}

// MediaItem is implemented by [*Artist], [*Album], [*Track], [*Playlist] and [*Radio].
type MediaItem interface {
	Base() *ItemBase
	MediaType() MediaType
}

// ItemBase holds the fields common to every media item.
type ItemBase struct {
	ItemID      string       `json:"item_id"`
	Provider    string       `json:"provider"`
	Name        string       `json:"name"`
	SortName    string       `json:"sort_name,omitempty"`
	ProviderIDs []ProviderID `json:"provider_ids"`
	Metadata    Metadata     `json:"metadata"`
	InLibrary   bool         `json:"in_library"`
	Position    int          `json:"position,omitempty"`
}

func (b *ItemBase) Base() *ItemBase { return b }

// AddProviderID adds pid to the ordered set of provider ids.
//
// An existing entry for the same provider and item id is backfilled instead of duplicated.
func (b *ItemBase) AddProviderID(pid ProviderID) bool {
	for i := range b.ProviderIDs {
		cur := &b.ProviderIDs[i]
		if cur.Provider != pid.Provider || cur.ItemID != pid.ItemID {
			continue
		}
		changed := false
		if cur.URL == "" && pid.URL != "" {
			cur.URL, changed = pid.URL, true
		}
		if cur.Quality == QualityUnknown && pid.Quality != QualityUnknown {
			cur.Quality, changed = pid.Quality, true
		}
		if !cur.Available && pid.Available {
			cur.Available, changed = true, true
		}
		if cur.Details == "" && pid.Details != "" {
			cur.Details, changed = pid.Details, true
		}
		return changed
	}
	b.ProviderIDs = append(b.ProviderIDs, pid)
	return true
}

// Available reports whether any provider id is currently playable.
func (b *ItemBase) Available() bool {
	for _, pid := range b.ProviderIDs {
		if pid.Available {
			return true
		}
	}
	return false
}

func (b *ItemBase) backfill(o *ItemBase) bool {
	changed := false
	if b.SortName == "" && o.SortName != "" {
		b.SortName, changed = o.SortName, true
	}
	for _, pid := range o.ProviderIDs {
		if b.AddProviderID(pid) {
			changed = true
		}
	}
	if b.Metadata.backfill(o.Metadata) {
		changed = true
	}
	if !b.InLibrary && o.InLibrary {
		b.InLibrary, changed = true, true
	}
	if b.Position == 0 && o.Position != 0 {
		b.Position, changed = o.Position, true
	}
	return changed
}

func newBase(provider, itemID, name string) ItemBase {
	return ItemBase{
		ItemID:   itemID,
		Provider: provider,
		Name:     name,
		SortName: shared.SortName(name),
	}
}

// Artist is a performer.
type Artist struct {
	ItemBase
	MusicBrainzID string `json:"musicbrainz_id,omitempty"`
}

func NewArtist(provider, itemID, name string) *Artist {
	return &Artist{ItemBase: newBase(provider, itemID, name)}
}

func (a *Artist) MediaType() MediaType { return MediaTypeArtist }

// Album is a release by an [Artist].
type Album struct {
	ItemBase
	Version   string  `json:"version,omitempty"`
	AlbumType string  `json:"album_type,omitempty"`
	UPC       string  `json:"upc,omitempty"`
	Artist    *Artist `json:"artist,omitempty"`
}

func NewAlbum(provider, itemID, name string) *Album {
	return &Album{ItemBase: newBase(provider, itemID, name)}
}

func (a *Album) MediaType() MediaType { return MediaTypeAlbum }

// Track is a single playable recording.
type Track struct {
	ItemBase
	Duration    int       `json:"duration"` // seconds
	Version     string    `json:"version,omitempty"`
	ISRC        string    `json:"isrc,omitempty"`
	TrackNumber int       `json:"track_number,omitempty"`
	DiscNumber  int       `json:"disc_number,omitempty"`
	Album       *Album    `json:"album,omitempty"`
	Artists     []*Artist `json:"artists,omitempty"`
}

func NewTrack(provider, itemID, name string) *Track {
	return &Track{ItemBase: newBase(provider, itemID, name)}
}

func (t *Track) MediaType() MediaType { return MediaTypeTrack }

// ArtistName returns the display name of the first performing artist, falling back to the album artist.
func (t *Track) ArtistName() string {
	if len(t.Artists) > 0 && t.Artists[0] != nil {
		return t.Artists[0].Name
	}
	if t.Album != nil && t.Album.Artist != nil {
		return t.Album.Artist.Name
	}
	return ""
}

// AlbumName returns the album name or an empty string.
func (t *Track) AlbumName() string {
	if t.Album == nil {
		return ""
	}
	return t.Album.Name
}

// Playlist is an ordered list of tracks maintained on a provider.
type Playlist struct {
	ItemBase
	Owner      string `json:"owner,omitempty"`
	IsEditable bool   `json:"is_editable"`
}

func NewPlaylist(provider, itemID, name string) *Playlist {
	return &Playlist{ItemBase: newBase(provider, itemID, name)}
}

func (p *Playlist) MediaType() MediaType { return MediaTypePlaylist }

// Radio is a live station.
type Radio struct {
	ItemBase
}

func NewRadio(provider, itemID, name string) *Radio {
	return &Radio{ItemBase: newBase(provider, itemID, name)}
}

func (r *Radio) MediaType() MediaType { return MediaTypeRadio }

// KeyOf returns the identity key of item.
func KeyOf(item MediaItem) Key {
	b := item.Base()
	return Key{Provider: b.Provider, ItemID: b.ItemID}
}

// Backfill copies fields from src into dst where dst has none. Known values are never overwritten.
//
// Nested references (album, artist) are attached only when dst has none.
// Returns true when dst changed. Items of different types are left untouched.
func Backfill(dst, src MediaItem) bool {
	if dst == nil || src == nil || dst.MediaType() != src.MediaType() {
		return false
	}

	changed := dst.Base().backfill(src.Base())

	switch d := dst.(type) {
	case *Artist:
		s := src.(*Artist)
		if d.MusicBrainzID == "" && s.MusicBrainzID != "" {
			d.MusicBrainzID, changed = s.MusicBrainzID, true
		}
	case *Album:
		s := src.(*Album)
		if d.Version == "" && s.Version != "" {
			d.Version, changed = s.Version, true
		}
		if d.AlbumType == "" && s.AlbumType != "" {
			d.AlbumType, changed = s.AlbumType, true
		}
		if d.UPC == "" && s.UPC != "" {
			d.UPC, changed = s.UPC, true
		}
		if d.Artist == nil && s.Artist != nil {
			d.Artist, changed = s.Artist, true
		}
	case *Track:
		s := src.(*Track)
		if d.Duration == 0 && s.Duration != 0 {
			d.Duration, changed = s.Duration, true
		}
		if d.Version == "" && s.Version != "" {
			d.Version, changed = s.Version, true
		}
		if d.ISRC == "" && s.ISRC != "" {
			d.ISRC, changed = s.ISRC, true
		}
		if d.TrackNumber == 0 && s.TrackNumber != 0 {
			d.TrackNumber, changed = s.TrackNumber, true
		}
		if d.DiscNumber == 0 && s.DiscNumber != 0 {
			d.DiscNumber, changed = s.DiscNumber, true
		}
		if d.Album == nil && s.Album != nil {
			d.Album, changed = s.Album, true
		}
		if len(d.Artists) == 0 && len(s.Artists) > 0 {
			d.Artists, changed = slices.Clone(s.Artists), true
		}
	case *Playlist:
		s := src.(*Playlist)
		if d.Owner == "" && s.Owner != "" {
			d.Owner, changed = s.Owner, true
		}
		if !d.IsEditable && s.IsEditable {
			d.IsEditable, changed = true, true
		}
	}
	return changed
}

// ItemURI builds the canonical "provider://type/id" reference for an item.
func ItemURI(provider string, mt MediaType, itemID string) string {
	return fmt.Sprintf("%s://%s/%s", provider, mt, itemID)
}

// URIOf returns the canonical reference of item.
func URIOf(item MediaItem) string {
	b := item.Base()
	return ItemURI(b.Provider, item.MediaType(), b.ItemID)
}

// ParseItemURI splits a canonical reference into provider, media type and native id.
func ParseItemURI(uri string) (string, MediaType, string, error) {
	provider, rest, ok := strings.Cut(uri, "://")
	if !ok || provider == "" {
		return "", "", "", fmt.Errorf("%w: malformed item uri %q", shared.ErrInvalidArgument, uri)
	}

	typ, id, ok := strings.Cut(rest, "/")
	if !ok || id == "" {
		return "", "", "", fmt.Errorf("%w: malformed item uri %q", shared.ErrInvalidArgument, uri)
	}

	mt, err := ParseMediaType(typ)
	if err != nil {
		return "", "", "", err
	}
	return provider, mt, id, nil
}

// NewItem returns an empty item of the given type.
func NewItem(mt MediaType) (MediaItem, error) {
	switch mt {
	case MediaTypeArtist:
		return &Artist{}, nil
	case MediaTypeAlbum:
		return &Album{}, nil
	case MediaTypeTrack:
		return &Track{}, nil
	case MediaTypePlaylist:
		return &Playlist{}, nil
	case MediaTypeRadio:
		return &Radio{}, nil
	default:
		return nil, fmt.Errorf("%w: unknown media type %q", shared.ErrInvalidArgument, mt)
	}
}

// DecodeItem unmarshals a JSON encoded item of the given type.
func DecodeItem(mt MediaType, data []byte) (MediaItem, error) {
	item, err := NewItem(mt)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(data, item); err != nil {
		return nil, fmt.Errorf("failed to decode %s: %w", mt, err)
	}
	return item, nil
}
