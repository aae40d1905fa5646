package models

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/desertthunder/jukebox/internal/shared"
)

func TestTryParseContentType(t *testing.T) {
	tc := []struct {
		name  string
		input string
		want  ContentType
	}{
		{name: "mime type", input: "audio/flac", want: ContentTypeFLAC},
		{name: "mpeg mime type", input: "audio/mpeg", want: ContentTypeMPEG},
		{name: "x prefixed mime type", input: "audio/x-flac", want: ContentTypeFLAC},
		{name: "file name", input: "01 - Intro.MP3", want: ContentTypeMP3},
		{name: "url with query", input: "http://host/stream.ogg?token=abc", want: ContentTypeOGG},
		{name: "codec list", input: "flac,mp3", want: ContentTypeMP3},
		{name: "mp4 maps to m4a", input: "mp4", want: ContentTypeM4A},
		{name: "mime with parameters", input: "audio/aac; charset=binary", want: ContentTypeAAC},
		{name: "unknown", input: "text/html", want: ContentTypeUnknown},
	}

	for _, tt := range tc {
		t.Run(tt.name, func(t *testing.T) {
			if got := TryParseContentType(tt.input); got != tt.want {
				t.Errorf("TryParseContentType(%q) = %v, want %v", tt.input, got, tt.want)
			}
		})
	}
}

func TestParseMediaType(t *testing.T) {
	t.Run("accepts plural and mixed case", func(t *testing.T) {
		mt, err := ParseMediaType("Albums")
		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if mt != MediaTypeAlbum {
			t.Errorf("expected album, got %v", mt)
		}
	})

	t.Run("rejects unknown names", func(t *testing.T) {
		_, err := ParseMediaType("podcast")
		if !errors.Is(err, shared.ErrInvalidArgument) {
			t.Errorf("expected ErrInvalidArgument, got %v", err)
		}
	})

	t.Run("empty list yields every type", func(t *testing.T) {
		types, err := ParseMediaTypes(nil)
		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if len(types) != len(MediaTypes) {
			t.Errorf("expected %d types, got %d", len(MediaTypes), len(types))
		}
	})
}

func TestItemURI(t *testing.T) {
	t.Run("round trip", func(t *testing.T) {
		uri := ItemURI("plex", MediaTypeTrack, "1234")
		if uri != "plex://track/1234" {
			t.Fatalf("unexpected uri %s", uri)
		}

		provider, mt, id, err := ParseItemURI(uri)
		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if provider != "plex" || mt != MediaTypeTrack || id != "1234" {
			t.Errorf("unexpected parts %s %s %s", provider, mt, id)
		}
	})

	t.Run("ids may contain slashes", func(t *testing.T) {
		_, _, id, err := ParseItemURI("files://track/a/b/c.flac")
		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if id != "a/b/c.flac" {
			t.Errorf("expected a/b/c.flac, got %s", id)
		}
	})

	t.Run("malformed", func(t *testing.T) {
		for _, uri := range []string{"", "plex", "plex://track", "plex://song/1"} {
			if _, _, _, err := ParseItemURI(uri); err == nil {
				t.Errorf("expected error for %q", uri)
			}
		}
	})
}

func TestAddProviderID(t *testing.T) {
	t.Run("deduplicates by provider and item id", func(t *testing.T) {
		track := NewTrack("plex", "1", "Song")
		track.AddProviderID(ProviderID{ItemID: "1", Provider: "plex"})
		track.AddProviderID(ProviderID{ItemID: "1", Provider: "plex", URL: "/library/metadata/1", Available: true})

		if len(track.ProviderIDs) != 1 {
			t.Fatalf("expected 1 provider id, got %d", len(track.ProviderIDs))
		}
		if track.ProviderIDs[0].URL != "/library/metadata/1" {
			t.Error("expected url to be backfilled")
		}
		if !track.Available() {
			t.Error("expected track to be available")
		}
	})

	t.Run("keeps insertion order", func(t *testing.T) {
		track := NewTrack("plex", "1", "Song")
		track.AddProviderID(ProviderID{ItemID: "1", Provider: "plex"})
		track.AddProviderID(ProviderID{ItemID: "abc", Provider: "spotify"})

		if track.ProviderIDs[1].Provider != "spotify" {
			t.Errorf("expected spotify second, got %s", track.ProviderIDs[1].Provider)
		}
	})
}

func TestBackfill(t *testing.T) {
	t.Run("fills absent fields only", func(t *testing.T) {
		dst := NewTrack("plex", "1", "Song")
		dst.Duration = 200
		dst.Metadata.Description = "known"

		src := NewTrack("plex", "1", "Renamed")
		src.Duration = 100
		src.ISRC = "USRC17607839"
		src.Metadata.Description = "other"
		src.Metadata.Year = 1959

		if !Backfill(dst, src) {
			t.Fatal("expected backfill to report a change")
		}
		if dst.Name != "Song" {
			t.Errorf("name must not be overwritten, got %s", dst.Name)
		}
		if dst.Duration != 200 {
			t.Errorf("duration must not be overwritten, got %d", dst.Duration)
		}
		if dst.ISRC != "USRC17607839" {
			t.Errorf("expected isrc to be filled, got %s", dst.ISRC)
		}
		if dst.Metadata.Description != "known" || dst.Metadata.Year != 1959 {
			t.Errorf("unexpected metadata %+v", dst.Metadata)
		}
	})

	t.Run("sparser record erases nothing", func(t *testing.T) {
		artist := NewArtist("plex", "a", "Miles Davis")
		album := NewAlbum("plex", "b", "Kind of Blue")
		album.Artist = artist
		album.Metadata.Year = 1959

		sparse := NewAlbum("plex", "b", "")
		if Backfill(album, sparse) {
			t.Error("expected no change from an empty record")
		}
		if album.Artist != artist || album.Metadata.Year != 1959 || album.Name != "Kind of Blue" {
			t.Errorf("album lost data: %+v", album)
		}
	})

	t.Run("mismatched types are ignored", func(t *testing.T) {
		if Backfill(NewArtist("p", "1", "a"), NewAlbum("p", "1", "b")) {
			t.Error("expected no change")
		}
	})
}

func TestStreamDetails(t *testing.T) {
	t.Run("Expired", func(t *testing.T) {
		now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
		sd := &StreamDetails{Expires: now.Add(time.Minute)}

		if sd.Expired(now) {
			t.Error("expected details to be valid before expiry")
		}
		if !sd.Expired(now.Add(time.Minute)) {
			t.Error("expected details to be expired at expiry")
		}
		if (&StreamDetails{}).Expired(now) {
			t.Error("zero expiry never expires")
		}
	})

	t.Run("Complete runs once", func(t *testing.T) {
		calls := 0
		var got int
		sd := &StreamDetails{}
		sd.SetOnComplete(func(seconds int) {
			calls++
			got = seconds
		})

		if !sd.Complete(42) {
			t.Error("expected first completion to run")
		}
		if sd.Complete(50) {
			t.Error("expected second completion to be ignored")
		}
		if calls != 1 || got != 42 {
			t.Errorf("expected one call with 42, got %d calls with %d", calls, got)
		}
	})

	t.Run("private data is not serialized", func(t *testing.T) {
		sd := &StreamDetails{ItemID: "1", Data: map[string]string{"token": "secret"}}
		data, err := json.Marshal(sd)
		if err != nil {
			t.Fatalf("marshal failed: %v", err)
		}
		if strings.Contains(string(data), "secret") {
			t.Errorf("private data leaked: %s", data)
		}
	})
}

func TestCrossfadeMode(t *testing.T) {
	album := NewAlbum("plex", "b", "Kind of Blue")
	first := NewTrack("plex", "1", "So What")
	first.Album = album
	second := NewTrack("plex", "2", "Freddie Freeloader")
	second.Album = album
	other := NewTrack("plex", "3", "Other")

	t.Run("strict skips same album", func(t *testing.T) {
		if CrossfadeStrict.Applies(first, second, nil, nil) {
			t.Error("expected no crossfade within an album")
		}
		if !CrossfadeStrict.Applies(first, other, nil, nil) {
			t.Error("expected crossfade across albums")
		}
	})

	t.Run("smart compares sample rates", func(t *testing.T) {
		a := &StreamDetails{SampleRate: 44100}
		b := &StreamDetails{SampleRate: 96000}
		if CrossfadeSmart.Applies(first, other, a, b) {
			t.Error("expected no crossfade across sample rates")
		}
		if !CrossfadeSmart.Applies(first, other, a, &StreamDetails{SampleRate: 44100}) {
			t.Error("expected crossfade for matching sample rates")
		}
	})

	t.Run("disabled and always", func(t *testing.T) {
		if CrossfadeDisabled.Applies(first, other, nil, nil) {
			t.Error("disabled must never crossfade")
		}
		if !CrossfadeAlways.Applies(first, second, nil, nil) {
			t.Error("always must crossfade")
		}
	})
}

func TestQueueSettings(t *testing.T) {
	t.Run("CrossfadeEnabled", func(t *testing.T) {
		tc := []struct {
			name     string
			settings QueueSettings
			want     bool
		}{
			{name: "zero duration", settings: QueueSettings{CrossfadeMode: CrossfadeAlways}, want: false},
			{name: "disabled mode", settings: QueueSettings{CrossfadeDuration: 10, CrossfadeMode: CrossfadeDisabled}, want: false},
			{name: "enabled", settings: QueueSettings{CrossfadeDuration: 10, CrossfadeMode: CrossfadeSmart}, want: true},
		}
		for _, tt := range tc {
			t.Run(tt.name, func(t *testing.T) {
				if got := tt.settings.CrossfadeEnabled(); got != tt.want {
					t.Errorf("CrossfadeEnabled() = %v, want %v", got, tt.want)
				}
			})
		}
	})
}
