package player

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/desertthunder/jukebox/internal/models"
	"github.com/desertthunder/jukebox/internal/shared"
)

func TestConsolePlayer(t *testing.T) {
	ctx := context.Background()

	t.Run("prints commands", func(t *testing.T) {
		var out bytes.Buffer
		p := NewConsolePlayer("console", "Console", shared.NewLogger(io.Discard), WithOutput(&out))

		_ = p.PlayURL(ctx, "http://radio.test/fip")
		_ = p.CrossfadeURL(ctx, "http://radio.test/nts", 5*time.Second)
		_ = p.Pause(ctx)
		_ = p.VolumeSet(ctx, 25)
		_ = p.Power(ctx, false)

		want := []string{
			"[Console] play http://radio.test/fip",
			"[Console] crossfade http://radio.test/nts over 5s",
			"[Console] pause",
			"[Console] volume 25",
			"[Console] power off",
		}
		if got := strings.Split(strings.TrimSpace(out.String()), "\n"); strings.Join(got, "|") != strings.Join(want, "|") {
			t.Errorf("output = %q", got)
		}
	})

	t.Run("opens urls", func(t *testing.T) {
		var opened []string
		p := NewConsolePlayer("console", "Console", shared.NewLogger(io.Discard),
			WithOutput(io.Discard),
			WithOpener(func(url string) error {
				opened = append(opened, url)
				return nil
			}))

		if err := p.PlayURL(ctx, "http://p.test/stream/a"); err != nil {
			t.Fatalf("PlayURL() error = %v", err)
		}
		if len(opened) != 1 || opened[0] != "http://p.test/stream/a" {
			t.Errorf("opened = %v", opened)
		}
	})

	t.Run("opener failures surface", func(t *testing.T) {
		p := NewConsolePlayer("console", "Console", shared.NewLogger(io.Discard),
			WithOutput(io.Discard),
			WithOpener(func(string) error { return errors.New("no browser") }))

		if err := p.PlayURL(ctx, "http://p.test/stream/a"); err == nil {
			t.Error("expected opener error")
		}
	})
}

func TestSettings(t *testing.T) {
	t.Run("converts config", func(t *testing.T) {
		got, err := Settings(shared.PlayerConfig{Shuffle: true, Repeat: "all", CrossfadeDuration: 6, CrossfadeMode: "smart"})
		if err != nil {
			t.Fatalf("Settings() error = %v", err)
		}
		want := models.QueueSettings{Shuffle: true, Repeat: models.RepeatAll, CrossfadeDuration: 6, CrossfadeMode: models.CrossfadeSmart}
		if got != want {
			t.Errorf("Settings() = %+v, want %+v", got, want)
		}
	})

	t.Run("empty config uses defaults", func(t *testing.T) {
		got, err := Settings(shared.PlayerConfig{})
		if err != nil {
			t.Fatalf("Settings() error = %v", err)
		}
		if got.Repeat != models.RepeatNone || got.CrossfadeMode != models.CrossfadeDisabled || got.CrossfadeEnabled() {
			t.Errorf("unexpected defaults: %+v", got)
		}
	})

	t.Run("rejects invalid values", func(t *testing.T) {
		tests := []shared.PlayerConfig{
			{Repeat: "forever"},
			{CrossfadeMode: "sometimes"},
			{CrossfadeDuration: -2},
		}
		for _, cfg := range tests {
			if _, err := Settings(cfg); err == nil {
				t.Errorf("Settings(%+v) should fail", cfg)
			}
		}
	})
}
