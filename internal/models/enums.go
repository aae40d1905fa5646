package models

import (
	"fmt"
	"strings"

	"github.com/desertthunder/jukebox/internal/shared"
)

// MediaType identifies a [MediaItem] variant.
type MediaType string

const (
	MediaTypeArtist   MediaType = "artist"
	MediaTypeAlbum    MediaType = "album"
	MediaTypeTrack    MediaType = "track"
	MediaTypePlaylist MediaType = "playlist"
	MediaTypeRadio    MediaType = "radio"
)

// MediaTypes lists every media type in display order.
var MediaTypes = []MediaType{MediaTypeArtist, MediaTypeAlbum, MediaTypeTrack, MediaTypePlaylist, MediaTypeRadio}

// ParseMediaType converts a (case-insensitive, optionally plural) name into a [MediaType].
func ParseMediaType(s string) (MediaType, error) {
	name := strings.TrimSuffix(strings.ToLower(strings.TrimSpace(s)), "s")
	for _, mt := range MediaTypes {
		if string(mt) == name {
			return mt, nil
		}
	}
	return "", fmt.Errorf("%w: unknown media type %q", shared.ErrInvalidArgument, s)
}

// ParseMediaTypes parses a list of names, returning every type when the list is empty.
func ParseMediaTypes(names []string) ([]MediaType, error) {
	if len(names) == 0 {
		return MediaTypes, nil
	}

	types := make([]MediaType, 0, len(names))
	for _, n := range names {
		mt, err := ParseMediaType(n)
		if err != nil {
			return nil, err
		}
		types = append(types, mt)
	}
	return types, nil
}

// ProviderType identifies a backend implementation.
type ProviderType string

const (
	ProviderPlex       ProviderType = "plex"
	ProviderFilesystem ProviderType = "filesystem"
	ProviderRadio      ProviderType = "radio"
	ProviderYouTube    ProviderType = "ytmusic"
	ProviderSpotify    ProviderType = "spotify"
)

// MediaQuality ranks the encodings a provider can deliver. Higher is better.
type MediaQuality int

const (
	QualityUnknown       MediaQuality = 0
	QualityLossyMP3      MediaQuality = 1
	QualityLossyOGG      MediaQuality = 2
	QualityLossyAAC      MediaQuality = 3
	QualityLossyM4A      MediaQuality = 4
	QualityLossless      MediaQuality = 10 // 44.1/48khz 16 bits
	QualityLosslessHiRes MediaQuality = 20 // 44.1/48khz 24 bits
	QualityHiRes96       MediaQuality = 21 // 88.2/96khz 24 bits
	QualityHiRes192      MediaQuality = 22 // 176/192khz 24 bits
	QualityHiResMax      MediaQuality = 23 // above 192khz
)

func (q MediaQuality) String() string {
	switch {
	case q >= QualityLosslessHiRes:
		return "hi-res"
	case q >= QualityLossless:
		return "lossless"
	case q == QualityLossyMP3:
		return "mp3"
	case q == QualityLossyOGG:
		return "ogg"
	case q == QualityLossyAAC:
		return "aac"
	case q == QualityLossyM4A:
		return "m4a"
	default:
		return "unknown"
	}
}

// QualityFromFileType guesses a quality from a file type, extension or codec name.
func QualityFromFileType(fileType string) MediaQuality {
	ft := strings.ToLower(fileType)
	switch {
	case strings.Contains(ft, "mp3"):
		return QualityLossyMP3
	case strings.Contains(ft, "ogg"):
		return QualityLossyOGG
	case strings.Contains(ft, "aac"):
		return QualityLossyAAC
	case strings.Contains(ft, "m4a"):
		return QualityLossyM4A
	case strings.Contains(ft, "flac"), strings.Contains(ft, "wav"), strings.Contains(ft, "alac"):
		return QualityLossless
	default:
		return QualityUnknown
	}
}

// QualityFromSampleInfo ranks a lossless stream by its sample rate (Hz) and bit depth.
func QualityFromSampleInfo(sampleRate, bitDepth int) MediaQuality {
	switch {
	case sampleRate > 192000:
		return QualityHiResMax
	case sampleRate > 96000:
		return QualityHiRes192
	case sampleRate > 48000:
		return QualityHiRes96
	case bitDepth > 16:
		return QualityLosslessHiRes
	default:
		return QualityLossless
	}
}

// ContentType is an audio container or codec.
type ContentType string

const (
	ContentTypeOGG     ContentType = "ogg"
	ContentTypeFLAC    ContentType = "flac"
	ContentTypeMP3     ContentType = "mp3"
	ContentTypeAAC     ContentType = "aac"
	ContentTypeMPEG    ContentType = "mpeg"
	ContentTypeALAC    ContentType = "alac"
	ContentTypeWAV     ContentType = "wav"
	ContentTypeAIFF    ContentType = "aiff"
	ContentTypeWMA     ContentType = "wma"
	ContentTypeM4A     ContentType = "m4a"
	ContentTypeDSF     ContentType = "dsf"
	ContentTypeWavPack ContentType = "wv"
	ContentTypeUnknown ContentType = "?"
)

var contentTypes = map[string]ContentType{
	"ogg":  ContentTypeOGG,
	"flac": ContentTypeFLAC,
	"mp3":  ContentTypeMP3,
	"aac":  ContentTypeAAC,
	"mpeg": ContentTypeMPEG,
	"alac": ContentTypeALAC,
	"wav":  ContentTypeWAV,
	"aiff": ContentTypeAIFF,
	"wma":  ContentTypeWMA,
	"m4a":  ContentTypeM4A,
	"dsf":  ContentTypeDSF,
	"wv":   ContentTypeWavPack,
}

// TryParseContentType parses a content type from a mime type, file name, extension or URL.
//
// Returns [ContentTypeUnknown] when nothing matches.
func TryParseContentType(s string) ContentType {
	str := strings.ToLower(strings.TrimSpace(s))
	if idx := strings.Index(str, "audio/"); idx >= 0 {
		str = str[idx+len("audio/"):]
	}
	str = strings.TrimPrefix(str, "x-")

	for _, cut := range []string{"?", "&", ";"} {
		if idx := strings.Index(str, cut); idx >= 0 {
			str = str[:idx]
		}
	}

	for _, sep := range []string{".", ","} {
		if strings.Contains(str, sep) {
			parts := strings.Split(str, sep)
			for i := len(parts) - 1; i >= 0; i-- {
				if ct, ok := contentTypes[strings.TrimSpace(parts[i])]; ok {
					return ct
				}
			}
		}
	}

	str = strings.ReplaceAll(str, "mp4", "m4a")
	if ct, ok := contentTypes[str]; ok {
		return ct
	}
	return ContentTypeUnknown
}

// MimeType returns the HTTP content type used when serving this format.
func (c ContentType) MimeType() string {
	switch c {
	case ContentTypeMP3, ContentTypeMPEG:
		return "audio/mpeg"
	case ContentTypeM4A, ContentTypeALAC:
		return "audio/mp4"
	case ContentTypeUnknown, "":
		return "application/octet-stream"
	default:
		return "audio/" + string(c)
	}
}

// QueueOption is the insertion policy used when adding media to a queue.
type QueueOption string

const (
	QueueOptionPlayNow  QueueOption = "play_now"  // replace the queue and start immediately
	QueueOptionPlayNext QueueOption = "play_next" // insert after the current item
	QueueOptionAppend   QueueOption = "append"    // add to the end
	QueueOptionInsert   QueueOption = "insert"    // insert after the current item and start it, keeping the rest
)

// ParseQueueOption validates a queue option name.
func ParseQueueOption(s string) (QueueOption, error) {
	switch opt := QueueOption(strings.ToLower(s)); opt {
	case QueueOptionPlayNow, QueueOptionPlayNext, QueueOptionAppend, QueueOptionInsert:
		return opt, nil
	case "":
		return QueueOptionPlayNow, nil
	default:
		return "", fmt.Errorf("%w: unknown queue option %q", shared.ErrInvalidArgument, s)
	}
}

// RepeatMode controls what happens when an item ends.
type RepeatMode string

const (
	RepeatNone RepeatMode = "none"
	RepeatOne  RepeatMode = "one"
	RepeatAll  RepeatMode = "all"
)

// ParseRepeatMode validates a repeat mode name. "off" is accepted as [RepeatNone].
func ParseRepeatMode(s string) (RepeatMode, error) {
	switch mode := RepeatMode(strings.ToLower(s)); mode {
	case RepeatNone, RepeatOne, RepeatAll:
		return mode, nil
	case "off", "":
		return RepeatNone, nil
	default:
		return "", fmt.Errorf("%w: unknown repeat mode %q", shared.ErrInvalidArgument, s)
	}
}

// CrossfadeMode controls which transitions are crossfaded.
type CrossfadeMode string

const (
	CrossfadeDisabled CrossfadeMode = "disabled" // no crossfading at all
	CrossfadeStrict   CrossfadeMode = "strict"   // never crossfade tracks of the same album
	CrossfadeSmart    CrossfadeMode = "smart"    // crossfade unless sample rates differ
	CrossfadeAlways   CrossfadeMode = "always"   // every transition
)

// ParseCrossfadeMode validates a crossfade mode name.
func ParseCrossfadeMode(s string) (CrossfadeMode, error) {
	switch mode := CrossfadeMode(strings.ToLower(s)); mode {
	case CrossfadeDisabled, CrossfadeStrict, CrossfadeSmart, CrossfadeAlways:
		return mode, nil
	case "":
		return CrossfadeDisabled, nil
	default:
		return "", fmt.Errorf("%w: unknown crossfade mode %q", shared.ErrInvalidArgument, s)
	}
}

// Applies reports whether the transition from cur to next should be crossfaded.
//
// Stream details are optional; without them smart mode assumes matching sample rates.
func (m CrossfadeMode) Applies(cur, next MediaItem, curStream, nextStream *StreamDetails) bool {
	switch m {
	case CrossfadeAlways:
		return true
	case CrossfadeStrict:
		return !sameAlbum(cur, next)
	case CrossfadeSmart:
		if curStream == nil || nextStream == nil {
			return true
		}
		if curStream.SampleRate == 0 || nextStream.SampleRate == 0 {
			return true
		}
		return curStream.SampleRate == nextStream.SampleRate
	default:
		return false
	}
}

func sameAlbum(a, b MediaItem) bool {
	ta, ok := a.(*Track)
	if !ok || ta.Album == nil {
		return false
	}
	tb, ok := b.(*Track)
	if !ok || tb.Album == nil {
		return false
	}
	return ta.Album == tb.Album || KeyOf(ta.Album) == KeyOf(tb.Album)
}

// PlayerState is the playback state of a player.
type PlayerState string

const (
	StateIdle    PlayerState = "idle"
	StatePlaying PlayerState = "playing"
	StatePaused  PlayerState = "paused"
)
