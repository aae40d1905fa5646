package player

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/desertthunder/jukebox/internal/models"
	"github.com/desertthunder/jukebox/internal/providers"
	"github.com/desertthunder/jukebox/internal/shared"
	"github.com/desertthunder/jukebox/internal/stream"
	th "github.com/desertthunder/jukebox/internal/testing"
)

type sources map[string]providers.Provider

func (s sources) Provider(id string) (providers.Provider, error) {
	p, ok := s[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", shared.ErrProviderUnavailable, id)
	}
	return p, nil
}

// syncBuffer is a bytes.Buffer safe for the logger and the test goroutine.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

type fixture struct {
	clock    *FakeClock
	provider *th.MockProvider
	player   *th.MockPlayer
	engine   *Engine
	logs     *syncBuffer
}

const kitchen = "kitchen"

func newFixture(t *testing.T, settings models.QueueSettings) *fixture {
	t.Helper()
	f := &fixture{
		clock:    NewFakeClock(time.Date(2024, 6, 1, 20, 0, 0, 0, time.UTC)),
		provider: th.NewMockProvider("p"),
		player:   th.NewMockPlayer(kitchen),
		logs:     &syncBuffer{},
	}
	logger := shared.NewLogger(f.logs)
	resolver := stream.New(sources{"p": f.provider}, logger, stream.WithClock(f.clock.Now), stream.WithRetryDelay(0))
	if settings.Repeat == "" {
		settings.Repeat = models.RepeatNone
	}
	if settings.CrossfadeMode == "" {
		settings.CrossfadeMode = models.CrossfadeDisabled
	}
	f.engine = NewEngine(resolver, logger, WithClock(f.clock), WithDefaults(settings, 40), WithShuffler(reverse))
	if err := f.engine.Register(f.player); err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	t.Cleanup(f.engine.Close)
	return f
}

func (f *fixture) track(id string) *models.Track {
	return f.provider.AddTrack(id, id, 60, models.QualityLossless)
}

// status doubles as a barrier: it returns after every event queued before it has run.
func (f *fixture) status(t *testing.T) *models.PlayerStatus {
	t.Helper()
	st, err := f.engine.Status(context.Background(), kitchen)
	if err != nil {
		t.Fatalf("Status() error = %v", err)
	}
	return st
}

func (f *fixture) plays(id string) int {
	return count(f.player.Commands(), "play_url http://p.test/stream/"+id)
}

func count(cmds []string, want string) int {
	n := 0
	for _, c := range cmds {
		if c == want {
			n++
		}
	}
	return n
}

func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func media(items ...*models.Track) []models.MediaItem {
	out := make([]models.MediaItem, len(items))
	for i, item := range items {
		out[i] = item
	}
	return out
}

func TestEngine_PlayMedia(t *testing.T) {
	ctx := context.Background()

	t.Run("play now starts the first item", func(t *testing.T) {
		f := newFixture(t, models.QueueSettings{})
		a, b := f.track("a"), f.track("b")

		if err := f.engine.PlayMedia(ctx, kitchen, media(a, b), models.QueueOptionPlayNow); err != nil {
			t.Fatalf("PlayMedia() error = %v", err)
		}
		if f.player.Last() != "play_url http://p.test/stream/a" {
			t.Errorf("last command = %q", f.player.Last())
		}

		f.clock.Advance(12 * time.Second)
		st := f.status(t)
		if st.State != models.StatePlaying {
			t.Errorf("state = %s, want playing", st.State)
		}
		if st.CurrentURL == nil || *st.CurrentURL != "http://p.test/stream/a" {
			t.Errorf("current url = %v", st.CurrentURL)
		}
		if st.CurrentItem == nil || st.CurrentItem.Name() != "a" || st.CurrentIndex != 0 {
			t.Errorf("unexpected current item: %+v", st.CurrentItem)
		}
		if st.ElapsedTime != 12 {
			t.Errorf("elapsed = %d, want 12", st.ElapsedTime)
		}
		if st.QueueLength != 2 || st.VolumeLevel != 40 || !st.Powered {
			t.Errorf("unexpected status: %+v", st)
		}
		eventually(t, "started report", func() bool { return f.provider.Count("started a") == 1 })
	})

	t.Run("queue options", func(t *testing.T) {
		f := newFixture(t, models.QueueSettings{})
		a, b, c, d, e := f.track("a"), f.track("b"), f.track("c"), f.track("d"), f.track("e")

		steps := []struct {
			items  []models.MediaItem
			option models.QueueOption
			want   string
			cur    string
		}{
			{media(a, b), models.QueueOptionPlayNow, "[a b]", "a"},
			{media(c), models.QueueOptionPlayNext, "[a c b]", "a"},
			{media(d), models.QueueOptionAppend, "[a c b d]", "a"},
			{media(e), models.QueueOptionInsert, "[a e c b d]", "e"},
		}
		for _, step := range steps {
			if err := f.engine.PlayMedia(ctx, kitchen, step.items, step.option); err != nil {
				t.Fatalf("PlayMedia(%s) error = %v", step.option, err)
			}
			items, err := f.engine.Queue(ctx, kitchen)
			if err != nil {
				t.Fatalf("Queue() error = %v", err)
			}
			if got := names(items); got != step.want {
				t.Errorf("after %s queue = %s, want %s", step.option, got, step.want)
			}
			if cur := f.status(t).CurrentItem.Name(); cur != step.cur {
				t.Errorf("after %s current = %s, want %s", step.option, cur, step.cur)
			}
		}

		if f.plays("c") != 0 || f.plays("d") != 0 {
			t.Error("play next and append must not interrupt playback")
		}
		eventually(t, "replaced stream reported", func() bool { return f.provider.Count("stopped a 0") == 1 })
	})

	t.Run("append to an idle player starts playback", func(t *testing.T) {
		f := newFixture(t, models.QueueSettings{})
		a := f.track("a")

		if err := f.engine.PlayMedia(ctx, kitchen, media(a), models.QueueOptionAppend); err != nil {
			t.Fatalf("PlayMedia() error = %v", err)
		}
		if f.plays("a") != 1 {
			t.Errorf("commands = %v", f.player.Commands())
		}
	})

	t.Run("nothing to play", func(t *testing.T) {
		f := newFixture(t, models.QueueSettings{})
		if err := f.engine.PlayMedia(ctx, kitchen, nil, models.QueueOptionPlayNow); !errors.Is(err, shared.ErrInvalidInput) {
			t.Errorf("expected ErrInvalidInput, got %v", err)
		}
	})

	t.Run("unknown player", func(t *testing.T) {
		f := newFixture(t, models.QueueSettings{})
		err := f.engine.PlayMedia(ctx, "office", media(f.track("a")), models.QueueOptionPlayNow)
		if !errors.Is(err, shared.ErrPlayerNotFound) {
			t.Errorf("expected ErrPlayerNotFound, got %v", err)
		}
	})
}

func TestEngine_Unplayable(t *testing.T) {
	ctx := context.Background()

	t.Run("skips items without a stream", func(t *testing.T) {
		f := newFixture(t, models.QueueSettings{})
		missing := models.NewTrack("p", "x", "x")
		a := f.track("a")

		if err := f.engine.PlayMedia(ctx, kitchen, []models.MediaItem{missing, a}, models.QueueOptionPlayNow); err != nil {
			t.Fatalf("PlayMedia() error = %v", err)
		}
		st := f.status(t)
		if st.CurrentItem.Name() != "a" || st.CurrentIndex != 1 {
			t.Errorf("current = %s at %d, want a at 1", st.CurrentItem.Name(), st.CurrentIndex)
		}
		if f.provider.Count("stream x") != 1 {
			t.Error("expected the missing item to be tried")
		}
	})

	t.Run("skips items the player rejects", func(t *testing.T) {
		f := newFixture(t, models.QueueSettings{})
		a, b := f.track("a"), f.track("b")
		f.player.FailURLs["http://p.test/stream/a"] = true

		if err := f.engine.PlayMedia(ctx, kitchen, media(a, b), models.QueueOptionPlayNow); err != nil {
			t.Fatalf("PlayMedia() error = %v", err)
		}
		if f.plays("b") != 1 {
			t.Errorf("commands = %v", f.player.Commands())
		}
		eventually(t, "rejected stream completed", func() bool { return f.provider.Count("stopped a 0") == 1 })
	})

	t.Run("nothing playable", func(t *testing.T) {
		f := newFixture(t, models.QueueSettings{Repeat: models.RepeatAll})
		items := []models.MediaItem{models.NewTrack("p", "x", "x"), models.NewTrack("p", "y", "y")}

		err := f.engine.PlayMedia(ctx, kitchen, items, models.QueueOptionPlayNow)
		if !errors.Is(err, shared.ErrMediaNotFound) {
			t.Fatalf("expected ErrMediaNotFound, got %v", err)
		}
		if st := f.status(t); st.State != models.StateIdle {
			t.Errorf("state = %s, want idle", st.State)
		}
		if f.provider.Count("stream") != 2 {
			t.Errorf("resolutions = %d, want 2", f.provider.Count("stream"))
		}
	})
}

func TestEngine_Repeat(t *testing.T) {
	ctx := context.Background()

	t.Run("none goes idle after the last item", func(t *testing.T) {
		f := newFixture(t, models.QueueSettings{})
		a, b := f.track("a"), f.track("b")
		if err := f.engine.PlayMedia(ctx, kitchen, media(a, b), models.QueueOptionPlayNow); err != nil {
			t.Fatalf("PlayMedia() error = %v", err)
		}

		f.clock.Advance(60 * time.Second)
		eventually(t, "b playing", func() bool { return f.plays("b") == 1 })
		f.status(t)

		f.clock.Advance(60 * time.Second)
		eventually(t, "idle", func() bool { return f.status(t).State == models.StateIdle })

		if f.plays("a") != 1 {
			t.Errorf("a played %d times, want 1", f.plays("a"))
		}
		eventually(t, "natural end reports", func() bool {
			return f.provider.Count("stopped a 60") == 1 && f.provider.Count("stopped b 60") == 1
		})
	})

	t.Run("one replays the item on its natural end", func(t *testing.T) {
		f := newFixture(t, models.QueueSettings{Repeat: models.RepeatOne})
		a, b := f.track("a"), f.track("b")
		if err := f.engine.PlayMedia(ctx, kitchen, media(a, b), models.QueueOptionPlayNow); err != nil {
			t.Fatalf("PlayMedia() error = %v", err)
		}

		f.clock.Advance(60 * time.Second)
		eventually(t, "a replayed", func() bool { return f.plays("a") == 2 })
		if st := f.status(t); st.CurrentIndex != 0 {
			t.Errorf("current index = %d, want 0", st.CurrentIndex)
		}
		if f.plays("b") != 0 {
			t.Error("b must not play under repeat one")
		}
	})

	t.Run("one still honours next", func(t *testing.T) {
		f := newFixture(t, models.QueueSettings{Repeat: models.RepeatOne})
		a, b := f.track("a"), f.track("b")
		if err := f.engine.PlayMedia(ctx, kitchen, media(a, b), models.QueueOptionPlayNow); err != nil {
			t.Fatalf("PlayMedia() error = %v", err)
		}
		if err := f.engine.Execute(ctx, kitchen, CommandNext); err != nil {
			t.Fatalf("Execute(next) error = %v", err)
		}
		if f.plays("b") != 1 {
			t.Errorf("commands = %v", f.player.Commands())
		}
	})

	t.Run("all wraps to the first item", func(t *testing.T) {
		f := newFixture(t, models.QueueSettings{})
		a, b := f.track("a"), f.track("b")
		if err := f.engine.PlayMedia(ctx, kitchen, media(a, b), models.QueueOptionPlayNow); err != nil {
			t.Fatalf("PlayMedia() error = %v", err)
		}
		if err := f.engine.SetRepeat(ctx, kitchen, models.RepeatAll); err != nil {
			t.Fatalf("SetRepeat() error = %v", err)
		}

		f.clock.Advance(60 * time.Second)
		eventually(t, "b playing", func() bool { return f.plays("b") == 1 })
		f.status(t)

		f.clock.Advance(60 * time.Second)
		eventually(t, "a again", func() bool { return f.plays("a") == 2 })
		if st := f.status(t); st.CurrentIndex != 0 || st.State != models.StatePlaying {
			t.Errorf("unexpected status: %+v", st)
		}
	})
}

func TestEngine_Crossfade(t *testing.T) {
	ctx := context.Background()
	settings := models.QueueSettings{CrossfadeDuration: 10, CrossfadeMode: models.CrossfadeAlways}

	t.Run("failed preload hard cuts at the natural end", func(t *testing.T) {
		f := newFixture(t, settings)
		a, b := f.track("a"), f.track("b")

		var failed atomic.Bool
		f.provider.StreamHook = func(ctx context.Context, id string) error {
			if id == "b" && failed.CompareAndSwap(false, true) {
				return errors.New("upstream timeout")
			}
			return nil
		}

		if err := f.engine.PlayMedia(ctx, kitchen, media(a, b), models.QueueOptionPlayNow); err != nil {
			t.Fatalf("PlayMedia() error = %v", err)
		}

		f.clock.Advance(49 * time.Second)
		f.status(t)
		if f.provider.Count("stream b") != 0 {
			t.Fatal("next item resolved before the crossfade window")
		}

		f.clock.Advance(time.Second)
		eventually(t, "preload failure", func() bool { return strings.Contains(f.logs.String(), "preload failed") })
		if f.provider.Count("stream b") != 1 {
			t.Errorf("resolutions of b = %d, want 1", f.provider.Count("stream b"))
		}
		if f.plays("b") != 0 {
			t.Error("b must not start before a ends")
		}

		f.clock.Advance(10 * time.Second)
		eventually(t, "hard cut to b", func() bool { return f.plays("b") == 1 })

		st := f.status(t)
		if st.CurrentItem.Name() != "b" || st.State != models.StatePlaying {
			t.Errorf("unexpected status: %+v", st)
		}
		for _, cmd := range f.player.Commands() {
			if strings.HasPrefix(cmd, "crossfade") {
				t.Errorf("unexpected crossfade command %q", cmd)
			}
		}
		eventually(t, "a reported", func() bool { return f.provider.Count("stopped a 60") == 1 })
	})

	t.Run("overlaps the next item", func(t *testing.T) {
		f := newFixture(t, settings)
		a, b := f.track("a"), f.track("b")
		if err := f.engine.PlayMedia(ctx, kitchen, media(a, b), models.QueueOptionPlayNow); err != nil {
			t.Fatalf("PlayMedia() error = %v", err)
		}

		f.clock.Advance(50 * time.Second)
		eventually(t, "crossfade", func() bool {
			return count(f.player.Commands(), "crossfade http://p.test/stream/b 10s") == 1
		})

		st := f.status(t)
		if st.CurrentItem.Name() != "b" || st.ElapsedTime != 0 {
			t.Errorf("unexpected status after crossfade: %+v", st)
		}
		if f.plays("b") != 0 {
			t.Error("crossfaded item must not be started again")
		}
		eventually(t, "a reported", func() bool { return f.provider.Count("stopped a 50") == 1 })

		f.clock.Advance(60 * time.Second)
		eventually(t, "idle", func() bool { return f.status(t).State == models.StateIdle })
	})

	t.Run("players without crossfade reuse the preloaded stream", func(t *testing.T) {
		f := newFixture(t, settings)
		f.player.NoCrossfade = true
		a, b := f.track("a"), f.track("b")
		if err := f.engine.PlayMedia(ctx, kitchen, media(a, b), models.QueueOptionPlayNow); err != nil {
			t.Fatalf("PlayMedia() error = %v", err)
		}

		f.clock.Advance(50 * time.Second)
		eventually(t, "crossfade attempt", func() bool {
			return count(f.player.Commands(), "crossfade_failed http://p.test/stream/b") == 1
		})
		f.status(t)

		f.clock.Advance(10 * time.Second)
		eventually(t, "cut to b", func() bool { return f.plays("b") == 1 })
		if f.provider.Count("stream b") != 1 {
			t.Errorf("resolutions of b = %d, want 1", f.provider.Count("stream b"))
		}
	})

	t.Run("items shorter than the crossfade preload at once", func(t *testing.T) {
		f := newFixture(t, settings)
		a := f.provider.AddTrack("a", "a", 8, models.QualityLossless)
		b := f.track("b")
		if err := f.engine.PlayMedia(ctx, kitchen, media(a, b), models.QueueOptionPlayNow); err != nil {
			t.Fatalf("PlayMedia() error = %v", err)
		}

		eventually(t, "crossfade", func() bool {
			return count(f.player.Commands(), "crossfade http://p.test/stream/b 10s") == 1
		})
		if f.provider.Count("stream b") != 1 {
			t.Errorf("resolutions of b = %d, want 1", f.provider.Count("stream b"))
		}
		if st := f.status(t); st.CurrentItem.Name() != "b" {
			t.Errorf("current item = %s, want b", st.CurrentItem.Name())
		}
	})

	t.Run("enabling crossfade inside the window preloads at once", func(t *testing.T) {
		f := newFixture(t, models.QueueSettings{})
		a, b := f.track("a"), f.track("b")
		if err := f.engine.PlayMedia(ctx, kitchen, media(a, b), models.QueueOptionPlayNow); err != nil {
			t.Fatalf("PlayMedia() error = %v", err)
		}
		f.clock.Advance(55 * time.Second)
		f.status(t)
		if f.provider.Count("stream b") != 0 {
			t.Fatal("next item resolved without crossfade")
		}

		if err := f.engine.SetCrossfade(ctx, kitchen, 10, models.CrossfadeAlways); err != nil {
			t.Fatalf("SetCrossfade() error = %v", err)
		}
		eventually(t, "preload", func() bool { return f.provider.Count("stream b") == 1 })
	})

	t.Run("strict mode never fades within an album", func(t *testing.T) {
		f := newFixture(t, models.QueueSettings{CrossfadeDuration: 10, CrossfadeMode: models.CrossfadeStrict})
		album := models.NewAlbum("p", "kob", "Kind of Blue")
		a, b := f.track("a"), f.track("b")
		a.Album, b.Album = album, album

		if err := f.engine.PlayMedia(ctx, kitchen, media(a, b), models.QueueOptionPlayNow); err != nil {
			t.Fatalf("PlayMedia() error = %v", err)
		}
		f.clock.Advance(50 * time.Second)
		eventually(t, "preload", func() bool { return f.provider.Count("stream b") == 1 })
		f.status(t)

		f.clock.Advance(10 * time.Second)
		eventually(t, "cut to b", func() bool { return f.plays("b") == 1 })
		for _, cmd := range f.player.Commands() {
			if strings.HasPrefix(cmd, "crossfade") {
				t.Errorf("unexpected crossfade command %q", cmd)
			}
		}
	})
}

func TestEngine_Commands(t *testing.T) {
	ctx := context.Background()

	t.Run("pause freezes elapsed time and timers", func(t *testing.T) {
		f := newFixture(t, models.QueueSettings{})
		a, b := f.track("a"), f.track("b")
		if err := f.engine.PlayMedia(ctx, kitchen, media(a, b), models.QueueOptionPlayNow); err != nil {
			t.Fatalf("PlayMedia() error = %v", err)
		}

		f.clock.Advance(20 * time.Second)
		if err := f.engine.Execute(ctx, kitchen, CommandPause); err != nil {
			t.Fatalf("Execute(pause) error = %v", err)
		}
		f.clock.Advance(100 * time.Second)

		st := f.status(t)
		if st.State != models.StatePaused || st.ElapsedTime != 20 {
			t.Errorf("state = %s elapsed = %d, want paused at 20", st.State, st.ElapsedTime)
		}
		if f.plays("b") != 0 {
			t.Error("paused item must not end")
		}

		if err := f.engine.Execute(ctx, kitchen, CommandPlay); err != nil {
			t.Fatalf("Execute(play) error = %v", err)
		}
		if f.player.Last() != "play" {
			t.Errorf("last command = %q, want play", f.player.Last())
		}
		f.clock.Advance(40 * time.Second)
		eventually(t, "b after resume", func() bool { return f.plays("b") == 1 })
	})

	t.Run("next and previous", func(t *testing.T) {
		f := newFixture(t, models.QueueSettings{})
		a, b := f.track("a"), f.track("b")
		if err := f.engine.PlayMedia(ctx, kitchen, media(a, b), models.QueueOptionPlayNow); err != nil {
			t.Fatalf("PlayMedia() error = %v", err)
		}
		f.clock.Advance(20 * time.Second)

		if err := f.engine.Execute(ctx, kitchen, CommandNext); err != nil {
			t.Fatalf("Execute(next) error = %v", err)
		}
		if f.plays("b") != 1 {
			t.Errorf("commands = %v", f.player.Commands())
		}
		eventually(t, "skipped item reported", func() bool { return f.provider.Count("stopped a 20") == 1 })

		if err := f.engine.Execute(ctx, kitchen, CommandPrevious); err != nil {
			t.Fatalf("Execute(previous) error = %v", err)
		}
		if f.plays("a") != 2 {
			t.Errorf("commands = %v", f.player.Commands())
		}

		if err := f.engine.Execute(ctx, kitchen, CommandNext); err != nil {
			t.Fatalf("Execute(next) error = %v", err)
		}
		if err := f.engine.Execute(ctx, kitchen, CommandNext); err != nil {
			t.Fatalf("Execute(next) past the end error = %v", err)
		}
		if st := f.status(t); st.State != models.StateIdle || f.player.Last() != "stop" {
			t.Errorf("state = %s last = %q, want idle after stop", st.State, f.player.Last())
		}
	})

	t.Run("stop cancels a pending resolution", func(t *testing.T) {
		f := newFixture(t, models.QueueSettings{})
		a := f.track("a")

		entered := make(chan struct{}, 1)
		release := make(chan struct{})
		f.provider.StreamHook = func(ctx context.Context, id string) error {
			entered <- struct{}{}
			<-release
			return nil
		}

		errc := make(chan error, 1)
		go func() { errc <- f.engine.PlayMedia(ctx, kitchen, media(a), models.QueueOptionPlayNow) }()
		<-entered

		if err := f.engine.Execute(ctx, kitchen, CommandStop); err != nil {
			t.Fatalf("Execute(stop) error = %v", err)
		}
		if err := <-errc; !errors.Is(err, context.Canceled) {
			t.Errorf("expected the waiting caller to see cancellation, got %v", err)
		}

		close(release)
		eventually(t, "late stream discarded", func() bool { return f.provider.Count("stopped a 0") == 1 })
		if f.plays("a") != 0 {
			t.Error("late resolution must not start playback")
		}
		if st := f.status(t); st.State != models.StateIdle {
			t.Errorf("state = %s, want idle", st.State)
		}
	})

	t.Run("replaying an item during its resolution", func(t *testing.T) {
		f := newFixture(t, models.QueueSettings{})
		a := f.track("a")

		entered := make(chan struct{}, 2)
		release := make(chan struct{})
		f.provider.StreamHook = func(ctx context.Context, id string) error {
			entered <- struct{}{}
			select {
			case <-release:
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		first := make(chan error, 1)
		go func() { first <- f.engine.PlayMedia(ctx, kitchen, media(a), models.QueueOptionPlayNow) }()
		<-entered

		second := make(chan error, 1)
		go func() { second <- f.engine.PlayMedia(ctx, kitchen, media(a), models.QueueOptionPlayNow) }()
		if err := <-first; !errors.Is(err, context.Canceled) {
			t.Errorf("replaced caller error = %v, want context.Canceled", err)
		}
		time.Sleep(50 * time.Millisecond)

		close(release)
		if err := <-second; err != nil {
			t.Fatalf("second PlayMedia() error = %v", err)
		}
		if n := f.provider.Count("stream a"); n != 1 {
			t.Errorf("resolutions of a = %d, want 1", n)
		}
		if f.plays("a") != 1 {
			t.Errorf("plays of a = %d, want 1", f.plays("a"))
		}
		if st := f.status(t); st.State != models.StatePlaying {
			t.Errorf("state = %s, want playing", st.State)
		}
	})

	t.Run("stop keeps the url and queue", func(t *testing.T) {
		f := newFixture(t, models.QueueSettings{})
		if err := f.engine.PlayMedia(ctx, kitchen, media(f.track("a")), models.QueueOptionPlayNow); err != nil {
			t.Fatalf("PlayMedia() error = %v", err)
		}
		if err := f.engine.Execute(ctx, kitchen, CommandStop); err != nil {
			t.Fatalf("Execute(stop) error = %v", err)
		}
		st := f.status(t)
		if st.State != models.StateIdle || st.CurrentURL == nil || st.QueueLength != 1 {
			t.Errorf("unexpected status after stop: %+v", st)
		}

		if err := f.engine.Execute(ctx, kitchen, CommandPlay); err != nil {
			t.Fatalf("Execute(play) error = %v", err)
		}
		if f.plays("a") != 2 {
			t.Errorf("commands = %v", f.player.Commands())
		}
	})

	t.Run("power off forces idle and clears the url", func(t *testing.T) {
		f := newFixture(t, models.QueueSettings{})
		a := f.track("a")
		if err := f.engine.PlayMedia(ctx, kitchen, media(a), models.QueueOptionPlayNow); err != nil {
			t.Fatalf("PlayMedia() error = %v", err)
		}
		f.clock.Advance(5 * time.Second)

		if err := f.engine.Execute(ctx, kitchen, CommandPowerOff); err != nil {
			t.Fatalf("Execute(power_off) error = %v", err)
		}
		st := f.status(t)
		if st.Powered || st.State != models.StateIdle || st.CurrentURL != nil {
			t.Errorf("unexpected status after power off: %+v", st)
		}
		eventually(t, "stream completed", func() bool { return f.provider.Count("stopped a 5") == 1 })

		if err := f.engine.Execute(ctx, kitchen, CommandPlay); !errors.Is(err, shared.ErrPlayerOff) {
			t.Errorf("expected ErrPlayerOff, got %v", err)
		}
		if err := f.engine.PlayMedia(ctx, kitchen, media(a), models.QueueOptionPlayNow); !errors.Is(err, shared.ErrPlayerOff) {
			t.Errorf("expected ErrPlayerOff, got %v", err)
		}

		if err := f.engine.Execute(ctx, kitchen, CommandPowerOn); err != nil {
			t.Fatalf("Execute(power_on) error = %v", err)
		}
		if f.player.Last() != "power true" || !f.status(t).Powered {
			t.Errorf("expected player powered on, commands = %v", f.player.Commands())
		}
	})

	t.Run("volume", func(t *testing.T) {
		f := newFixture(t, models.QueueSettings{})

		if err := f.engine.Execute(ctx, kitchen, CommandVolume, "30"); err != nil {
			t.Fatalf("Execute(volume) error = %v", err)
		}
		if f.player.Last() != "volume 30" || f.status(t).VolumeLevel != 30 {
			t.Errorf("volume not applied, commands = %v", f.player.Commands())
		}

		tests := []struct {
			args []string
			err  error
		}{
			{[]string{"101"}, shared.ErrInvalidArgument},
			{[]string{"-1"}, shared.ErrInvalidArgument},
			{[]string{"loud"}, shared.ErrInvalidArgument},
			{nil, shared.ErrMissingArgument},
		}
		for _, tt := range tests {
			if err := f.engine.Execute(ctx, kitchen, CommandVolume, tt.args...); !errors.Is(err, tt.err) {
				t.Errorf("Execute(volume %v) = %v, want %v", tt.args, err, tt.err)
			}
		}
	})

	t.Run("play on an empty queue", func(t *testing.T) {
		f := newFixture(t, models.QueueSettings{})
		if err := f.engine.Execute(ctx, kitchen, CommandPlay); !errors.Is(err, shared.ErrQueueEmpty) {
			t.Errorf("expected ErrQueueEmpty, got %v", err)
		}
		if err := f.engine.Execute(ctx, kitchen, CommandNext); !errors.Is(err, shared.ErrQueueEmpty) {
			t.Errorf("expected ErrQueueEmpty, got %v", err)
		}
	})

	t.Run("unknown commands", func(t *testing.T) {
		f := newFixture(t, models.QueueSettings{})
		if err := f.engine.Execute(ctx, kitchen, Command(99)); !errors.Is(err, shared.ErrUnsupportedCommand) {
			t.Errorf("expected ErrUnsupportedCommand, got %v", err)
		}
		if _, err := ParseCommand("rewind"); !errors.Is(err, shared.ErrUnsupportedCommand) {
			t.Errorf("expected ErrUnsupportedCommand, got %v", err)
		}
		for _, cmd := range Commands() {
			got, err := ParseCommand(strings.ToUpper(cmd.String()))
			if err != nil || got != cmd {
				t.Errorf("ParseCommand(%s) = %v, %v", cmd, got, err)
			}
		}
	})
}

func TestEngine_Reporting(t *testing.T) {
	ctx := context.Background()

	t.Run("stream stopped completes once", func(t *testing.T) {
		f := newFixture(t, models.QueueSettings{})
		if err := f.engine.PlayMedia(ctx, kitchen, media(f.track("a")), models.QueueOptionPlayNow); err != nil {
			t.Fatalf("PlayMedia() error = %v", err)
		}
		if err := f.engine.StreamStopped(kitchen, "a", 12); err != nil {
			t.Fatalf("StreamStopped() error = %v", err)
		}
		eventually(t, "stopped report", func() bool { return f.provider.Count("stopped a 12") == 1 })

		f.clock.Advance(60 * time.Second)
		eventually(t, "idle", func() bool { return f.status(t).State == models.StateIdle })
		if got := f.provider.Count("stopped"); got != 1 {
			t.Errorf("stopped reports = %d, want 1", got)
		}

		if err := f.engine.StreamStopped("office", "a", 1); !errors.Is(err, shared.ErrPlayerNotFound) {
			t.Errorf("expected ErrPlayerNotFound, got %v", err)
		}
	})

	t.Run("unregister completes the playing stream", func(t *testing.T) {
		f := newFixture(t, models.QueueSettings{})
		if err := f.engine.PlayMedia(ctx, kitchen, media(f.track("a")), models.QueueOptionPlayNow); err != nil {
			t.Fatalf("PlayMedia() error = %v", err)
		}
		f.clock.Advance(7 * time.Second)

		if err := f.engine.Unregister(kitchen); err != nil {
			t.Fatalf("Unregister() error = %v", err)
		}
		eventually(t, "stopped report", func() bool { return f.provider.Count("stopped a 7") == 1 })

		if err := f.engine.Unregister(kitchen); !errors.Is(err, shared.ErrPlayerNotFound) {
			t.Errorf("expected ErrPlayerNotFound, got %v", err)
		}
		if _, err := f.engine.Status(ctx, kitchen); !errors.Is(err, shared.ErrPlayerNotFound) {
			t.Errorf("expected ErrPlayerNotFound, got %v", err)
		}
	})
}

func TestEngine_Players(t *testing.T) {
	ctx := context.Background()

	t.Run("registration", func(t *testing.T) {
		f := newFixture(t, models.QueueSettings{})
		if err := f.engine.Register(th.NewMockPlayer(kitchen)); !errors.Is(err, shared.ErrInvalidInput) {
			t.Errorf("expected ErrInvalidInput for a duplicate, got %v", err)
		}
		if err := f.engine.Register(th.NewMockPlayer("office")); err != nil {
			t.Fatalf("Register() error = %v", err)
		}
		if got := fmt.Sprint(f.engine.Players()); got != "[kitchen office]" {
			t.Errorf("players = %s", got)
		}
	})

	t.Run("players run independently", func(t *testing.T) {
		f := newFixture(t, models.QueueSettings{})
		office := th.NewMockPlayer("office")
		if err := f.engine.Register(office); err != nil {
			t.Fatalf("Register() error = %v", err)
		}
		a, b := f.track("a"), f.track("b")

		entered := make(chan struct{}, 1)
		release := make(chan struct{})
		f.provider.StreamHook = func(ctx context.Context, id string) error {
			if id == "a" {
				entered <- struct{}{}
				<-release
			}
			return nil
		}

		errc := make(chan error, 1)
		go func() { errc <- f.engine.PlayMedia(ctx, kitchen, media(a), models.QueueOptionPlayNow) }()
		<-entered

		if err := f.engine.PlayMedia(ctx, "office", media(b), models.QueueOptionPlayNow); err != nil {
			t.Fatalf("PlayMedia(office) error = %v", err)
		}
		if office.Last() != "play_url http://p.test/stream/b" {
			t.Errorf("office commands = %v", office.Commands())
		}
		if st := f.status(t); st.State != models.StateIdle {
			t.Errorf("kitchen state = %s, want idle while resolving", st.State)
		}

		close(release)
		if err := <-errc; err != nil {
			t.Fatalf("PlayMedia(kitchen) error = %v", err)
		}
		if f.plays("a") != 1 {
			t.Errorf("kitchen commands = %v", f.player.Commands())
		}
	})

	t.Run("shuffle restores the stored order", func(t *testing.T) {
		f := newFixture(t, models.QueueSettings{})
		a, b, c := f.track("a"), f.track("b"), f.track("c")
		if err := f.engine.PlayMedia(ctx, kitchen, media(a, b, c), models.QueueOptionPlayNow); err != nil {
			t.Fatalf("PlayMedia() error = %v", err)
		}

		if err := f.engine.SetShuffle(ctx, kitchen, true); err != nil {
			t.Fatalf("SetShuffle() error = %v", err)
		}
		items, _ := f.engine.Queue(ctx, kitchen)
		if got := names(items); got != "[a c b]" {
			t.Errorf("shuffled queue = %s, want [a c b]", got)
		}

		f.clock.Advance(60 * time.Second)
		eventually(t, "c after a", func() bool { return f.plays("c") == 1 })

		if err := f.engine.SetShuffle(ctx, kitchen, false); err != nil {
			t.Fatalf("SetShuffle() error = %v", err)
		}
		items, _ = f.engine.Queue(ctx, kitchen)
		if got := names(items); got != "[a b c]" {
			t.Errorf("restored queue = %s, want [a b c]", got)
		}
		st := f.status(t)
		if st.CurrentItem.Name() != "c" || st.CurrentIndex != 2 || st.Settings.Shuffle {
			t.Errorf("unexpected status: %+v", st)
		}
	})

	t.Run("crossfade settings", func(t *testing.T) {
		f := newFixture(t, models.QueueSettings{})
		if err := f.engine.SetCrossfade(ctx, kitchen, -1, models.CrossfadeAlways); !errors.Is(err, shared.ErrInvalidArgument) {
			t.Errorf("expected ErrInvalidArgument, got %v", err)
		}
		if err := f.engine.SetCrossfade(ctx, kitchen, 8, models.CrossfadeSmart); err != nil {
			t.Fatalf("SetCrossfade() error = %v", err)
		}
		st := f.status(t)
		if st.Settings.CrossfadeDuration != 8 || st.Settings.CrossfadeMode != models.CrossfadeSmart {
			t.Errorf("unexpected settings: %+v", st.Settings)
		}
	})
}

func TestFakeClock(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	t.Run("fires due timers in order", func(t *testing.T) {
		c := NewFakeClock(start)
		var fired []string
		c.AfterFunc(3*time.Second, func() { fired = append(fired, "c") })
		c.AfterFunc(time.Second, func() { fired = append(fired, "a") })
		c.AfterFunc(2*time.Second, func() {
			fired = append(fired, "b")
			c.AfterFunc(0, func() { fired = append(fired, "b2") })
		})
		stopped := c.AfterFunc(2*time.Second, func() { fired = append(fired, "never") })
		if !stopped.Stop() {
			t.Error("Stop() on a pending timer should report true")
		}

		c.Advance(2 * time.Second)
		if got := fmt.Sprint(fired); got != "[a b b2]" {
			t.Errorf("fired = %s, want [a b b2]", got)
		}
		if c.Pending() != 1 {
			t.Errorf("pending = %d, want 1", c.Pending())
		}
		if !c.Now().Equal(start.Add(2 * time.Second)) {
			t.Errorf("now = %v", c.Now())
		}

		c.Advance(time.Second)
		if got := fmt.Sprint(fired); got != "[a b b2 c]" {
			t.Errorf("fired = %s, want [a b b2 c]", got)
		}
		if stopped.Stop() {
			t.Error("Stop() on a stopped timer should report false")
		}
	})
}
