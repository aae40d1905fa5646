package catalog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"sync"
	"testing"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/jukebox/internal/models"
	"github.com/desertthunder/jukebox/internal/providers"
	"github.com/desertthunder/jukebox/internal/repositories"
	"github.com/desertthunder/jukebox/internal/shared"
	th "github.com/desertthunder/jukebox/internal/testing"
)

func quietLogger() *log.Logger {
	return shared.NewLogger(io.Discard)
}

func setupTestDB(t *testing.T) *sql.DB {
	t.Helper()

	db, err := shared.NewDatabase(":memory:")
	if err != nil {
		t.Fatalf("failed to create test database: %v", err)
	}
	shared.ConfigureDatabase(db, 1, 1)

	if err := shared.RunMigrations(db); err != nil {
		db.Close()
		t.Fatalf("failed to run migrations: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

// greedyProvider ignores the search limit.
type greedyProvider struct {
	*th.MockProvider
}

func (g greedyProvider) Search(ctx context.Context, query string, types []models.MediaType, limit int) ([]models.MediaItem, error) {
	return g.MockProvider.Search(ctx, query, types, 0)
}

func albums(provider string, n int) []models.MediaItem {
	out := make([]models.MediaItem, n)
	for i := range n {
		album := models.NewAlbum(provider, fmt.Sprintf("al%d", i), "Kind of Blue")
		album.Artist = models.NewArtist(provider, "miles", "Miles Davis")
		out[i] = album
	}
	return out
}

func register(t *testing.T, a *Aggregator, provs ...providers.Provider) {
	t.Helper()
	for _, p := range provs {
		if err := a.Register(context.Background(), p); err != nil {
			t.Fatalf("Register(%s) error = %v", p.ID(), err)
		}
	}
}

func TestAggregator_Register(t *testing.T) {
	t.Run("setup failure keeps the provider disabled", func(t *testing.T) {
		a := New(quietLogger())
		ok := th.NewMockProvider("ok")
		bad := th.NewMockProvider("bad")
		bad.SetupErr = fmt.Errorf("%w: token rejected", shared.ErrLoginFailed)

		register(t, a, ok)
		err := a.Register(context.Background(), bad)
		if !errors.Is(err, shared.ErrLoginFailed) {
			t.Fatalf("expected ErrLoginFailed, got %v", err)
		}

		if got := len(a.Enabled()); got != 1 {
			t.Errorf("enabled = %d, want 1", got)
		}
		if _, err := a.Provider("bad"); !errors.Is(err, shared.ErrProviderUnavailable) {
			t.Errorf("expected ErrProviderUnavailable, got %v", err)
		}

		statuses := a.Providers()
		if len(statuses) != 2 {
			t.Fatalf("statuses = %d, want 2", len(statuses))
		}
		if !statuses[0].Enabled || statuses[1].Enabled {
			t.Errorf("unexpected enabled flags: %+v", statuses)
		}
		if !errors.Is(statuses[1].Err, shared.ErrLoginFailed) {
			t.Errorf("status error = %v", statuses[1].Err)
		}
	})

	t.Run("rejects duplicate ids", func(t *testing.T) {
		a := New(quietLogger())
		register(t, a, th.NewMockProvider("p"))
		err := a.Register(context.Background(), th.NewMockProvider("p"))
		if !errors.Is(err, shared.ErrInvalidInput) {
			t.Errorf("expected ErrInvalidInput, got %v", err)
		}
	})

	t.Run("unregister forgets cached items", func(t *testing.T) {
		a := New(quietLogger())
		m := th.NewMockProvider("p")
		m.Results = albums("p", 2)
		register(t, a, m)

		if _, err := a.Search(context.Background(), "kind", nil, 10); err != nil {
			t.Fatalf("Search() error = %v", err)
		}
		if a.Cache().Len() == 0 {
			t.Fatal("expected cached items after search")
		}

		if err := a.Unregister("p"); err != nil {
			t.Fatalf("Unregister() error = %v", err)
		}
		if a.Cache().Len() != 0 {
			t.Errorf("cache len = %d, want 0", a.Cache().Len())
		}
		if err := a.Unregister("p"); !errors.Is(err, shared.ErrProviderUnavailable) {
			t.Errorf("expected ErrProviderUnavailable, got %v", err)
		}
	})
}

func TestAggregator_Search(t *testing.T) {
	t.Run("caps results per provider and keeps provider tags", func(t *testing.T) {
		a := New(quietLogger())
		one := greedyProvider{th.NewMockProvider("one")}
		one.Results = albums("one", 8)
		two := greedyProvider{th.NewMockProvider("two")}
		two.Results = albums("two", 7)
		register(t, a, one, two)

		items, err := a.Search(context.Background(), "Kind of Blue", []models.MediaType{models.MediaTypeAlbum}, 5)
		if err != nil {
			t.Fatalf("Search() error = %v", err)
		}
		if len(items) > 10 {
			t.Fatalf("results = %d, want <= 10", len(items))
		}

		perProvider := map[string]int{}
		for _, item := range items {
			perProvider[item.Base().Provider]++
		}
		if perProvider["one"] != 5 || perProvider["two"] != 5 {
			t.Errorf("unexpected per provider counts: %v", perProvider)
		}
		if items[0].Base().Provider != "one" || items[9].Base().Provider != "two" {
			t.Error("results should be grouped in registration order")
		}
	})

	t.Run("shares nested references across results", func(t *testing.T) {
		a := New(quietLogger())
		m := th.NewMockProvider("p")
		m.Results = albums("p", 3)
		register(t, a, m)

		items, err := a.Search(context.Background(), "kind", nil, 0)
		if err != nil {
			t.Fatalf("Search() error = %v", err)
		}
		first := items[0].(*models.Album).Artist
		for _, item := range items[1:] {
			if item.(*models.Album).Artist != first {
				t.Fatal("albums of the same artist should share one artist instance")
			}
		}
	})

	t.Run("skips failing and non-searching providers", func(t *testing.T) {
		a := New(quietLogger())
		ok := th.NewMockProvider("ok")
		ok.Results = albums("ok", 2)
		failing := th.NewMockProvider("failing")
		failing.SearchErr = errors.New("502 bad gateway")
		radio := th.NewMockProvider("radio")
		radio.Feature = providers.FeatureLibraryRadios
		register(t, a, ok, failing, radio)

		items, err := a.Search(context.Background(), "kind", []models.MediaType{models.MediaTypeAlbum}, 5)
		if err != nil {
			t.Fatalf("Search() error = %v", err)
		}
		if len(items) != 2 {
			t.Errorf("results = %d, want 2", len(items))
		}
		if radio.Count("search") != 0 {
			t.Error("provider without search should not be queried")
		}
		if failing.Count("search") != 1 {
			t.Error("failing provider should have been queried once")
		}
	})

	t.Run("empty query", func(t *testing.T) {
		a := New(quietLogger())
		if _, err := a.Search(context.Background(), "  ", nil, 5); !errors.Is(err, shared.ErrInvalidInput) {
			t.Errorf("expected ErrInvalidInput, got %v", err)
		}
	})
}

func TestAggregator_Library(t *testing.T) {
	setup := func(t *testing.T) (*Aggregator, *th.MockProvider, *repositories.LibraryRepository) {
		db := setupTestDB(t)
		store := repositories.NewLibraryRepository(db)
		a := New(quietLogger(), WithStore(store), WithRunStore(repositories.NewSyncRunRepository(db)))

		m := th.NewMockProvider("p")
		ta := m.AddTrack("t1", "So What", 562, models.QualityLossless)
		tb := m.AddTrack("t2", "Blue in Green", 337, models.QualityLossless)
		miles := models.NewArtist("p", "miles", "Miles Davis")
		ta.Artists = []*models.Artist{miles}
		tb.Artists = []*models.Artist{models.NewArtist("p", "miles", "Miles Davis")}
		m.Library[models.MediaTypeArtist] = []models.MediaItem{miles}

		register(t, a, m)
		return a, m, store
	}

	t.Run("sync then count and list", func(t *testing.T) {
		a, _, _ := setup(t)

		report, err := a.LibrarySync(context.Background(), nil)
		if err != nil {
			t.Fatalf("LibrarySync() error = %v", err)
		}
		if len(report.Failed()) != 0 {
			t.Fatalf("unexpected failures: %v", report.Failed())
		}

		counts, err := a.Count(context.Background(), true)
		if err != nil {
			t.Fatalf("Count() error = %v", err)
		}
		if counts[models.MediaTypeTrack] != 2 || counts[models.MediaTypeArtist] != 1 {
			t.Errorf("unexpected counts: %v", counts)
		}

		items, err := a.Items(context.Background(), ItemsQuery{MediaType: models.MediaTypeTrack, Search: "blue"})
		if err != nil {
			t.Fatalf("Items() error = %v", err)
		}
		if len(items) != 1 || items[0].Base().Name != "Blue in Green" {
			t.Errorf("unexpected items: %v", items)
		}
	})

	t.Run("artist expands to its tracks", func(t *testing.T) {
		a, _, _ := setup(t)
		if _, err := a.LibrarySync(context.Background(), nil); err != nil {
			t.Fatalf("LibrarySync() error = %v", err)
		}

		artist, err := a.GetItem(context.Background(), "p://artist/miles")
		if err != nil {
			t.Fatalf("GetItem() error = %v", err)
		}
		tracks, err := a.Tracks(context.Background(), artist)
		if err != nil {
			t.Fatalf("Tracks() error = %v", err)
		}
		if len(tracks) != 2 {
			t.Errorf("tracks = %d, want 2", len(tracks))
		}
	})

	t.Run("library add and remove", func(t *testing.T) {
		a, m, store := setup(t)
		album := models.NewAlbum("p", "kob", "Kind of Blue")

		if err := a.LibraryAdd(context.Background(), album); err != nil {
			t.Fatalf("LibraryAdd() error = %v", err)
		}
		stored, err := store.Get("p", "kob", models.MediaTypeAlbum)
		if err != nil {
			t.Fatalf("Get() error = %v", err)
		}
		if !stored.Base().InLibrary {
			t.Error("added album should be in the library")
		}

		if err := a.LibraryRemove(context.Background(), album); err != nil {
			t.Fatalf("LibraryRemove() error = %v", err)
		}
		stored, _ = store.Get("p", "kob", models.MediaTypeAlbum)
		if stored.Base().InLibrary {
			t.Error("removed album should not be in the library")
		}
		if m.Count("library add album kob") != 1 || m.Count("library remove album kob") != 1 {
			t.Errorf("unexpected provider calls: %v", m.Calls())
		}
	})

	t.Run("sync and search share the library flag", func(t *testing.T) {
		a, m, _ := setup(t)
		m.Results = []models.MediaItem{models.NewTrack("p", "t1", "So What")}

		var wg sync.WaitGroup
		for range 10 {
			wg.Add(2)
			go func() {
				defer wg.Done()
				if _, err := a.LibrarySync(context.Background(), nil); err != nil {
					t.Errorf("LibrarySync() error = %v", err)
				}
			}()
			go func() {
				defer wg.Done()
				if _, err := a.Search(context.Background(), "so what", nil, 5); err != nil {
					t.Errorf("Search() error = %v", err)
				}
			}()
		}
		wg.Wait()

		item, ok := a.Cache().Lookup("p", "t1")
		if !ok {
			t.Fatal("expected t1 to be cached")
		}
		if !item.Base().InLibrary {
			t.Error("a search result must not clear the library flag")
		}
	})

	t.Run("library edit needs the feature", func(t *testing.T) {
		a, m, _ := setup(t)
		m.Feature = providers.FeatureSearch

		err := a.LibraryAdd(context.Background(), models.NewAlbum("p", "kob", "Kind of Blue"))
		if !errors.Is(err, shared.ErrUnsupportedFeature) {
			t.Errorf("expected ErrUnsupportedFeature, got %v", err)
		}
	})
}

func TestAggregator_Items_WithoutStore(t *testing.T) {
	a := New(quietLogger())
	m := th.NewMockProvider("p")
	for i, name := range []string{"Freddie Freeloader", "All Blues", "Flamenco Sketches"} {
		m.AddTrack(fmt.Sprintf("t%d", i), name, 300, models.QualityLossless)
	}
	register(t, a, m)

	if _, err := a.LibrarySync(context.Background(), nil); err != nil {
		t.Fatalf("LibrarySync() error = %v", err)
	}

	tests := []struct {
		name  string
		query ItemsQuery
		want  []string
	}{
		{"all tracks sorted", ItemsQuery{MediaType: models.MediaTypeTrack}, []string{"All Blues", "Flamenco Sketches", "Freddie Freeloader"}},
		{"search", ItemsQuery{Search: "FL"}, []string{"Flamenco Sketches"}},
		{"limit and offset", ItemsQuery{Limit: 1, Offset: 1}, []string{"Flamenco Sketches"}},
		{"offset past the end", ItemsQuery{Offset: 5}, nil},
		{"in library only", ItemsQuery{InLibraryOnly: true, Provider: "p"}, []string{"All Blues", "Flamenco Sketches", "Freddie Freeloader"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			items, err := a.Items(context.Background(), tt.query)
			if err != nil {
				t.Fatalf("Items() error = %v", err)
			}
			var got []string
			for _, item := range items {
				got = append(got, item.Base().Name)
			}
			if fmt.Sprint(got) != fmt.Sprint(tt.want) {
				t.Errorf("got %v, want %v", got, tt.want)
			}
		})
	}

	counts, err := a.Count(context.Background(), false)
	if err != nil {
		t.Fatalf("Count() error = %v", err)
	}
	if counts[models.MediaTypeTrack] != 3 {
		t.Errorf("track count = %d, want 3", counts[models.MediaTypeTrack])
	}
}

func TestAggregator_GetItem(t *testing.T) {
	a := New(quietLogger())
	m := th.NewMockProvider("p")
	m.AddTrack("t1", "So What", 562, models.QualityLossless)
	register(t, a, m)

	t.Run("fetches once then serves the cache", func(t *testing.T) {
		first, err := a.GetItem(context.Background(), "p://track/t1")
		if err != nil {
			t.Fatalf("GetItem() error = %v", err)
		}
		second, err := a.GetItem(context.Background(), "p://track/t1")
		if err != nil {
			t.Fatalf("GetItem() error = %v", err)
		}
		if first != second {
			t.Error("expected the same canonical instance")
		}
		if m.Count("get track t1") != 1 {
			t.Errorf("provider fetches = %d, want 1", m.Count("get track t1"))
		}
	})

	t.Run("unknown item", func(t *testing.T) {
		if _, err := a.GetItem(context.Background(), "p://track/nope"); !errors.Is(err, shared.ErrMediaNotFound) {
			t.Errorf("expected ErrMediaNotFound, got %v", err)
		}
	})

	t.Run("malformed uri", func(t *testing.T) {
		if _, err := a.GetItem(context.Background(), "nonsense"); !errors.Is(err, shared.ErrInvalidArgument) {
			t.Errorf("expected ErrInvalidArgument, got %v", err)
		}
	})

	t.Run("unknown provider", func(t *testing.T) {
		if _, err := a.GetItem(context.Background(), "x://track/t1"); !errors.Is(err, shared.ErrProviderUnavailable) {
			t.Errorf("expected ErrProviderUnavailable, got %v", err)
		}
	})
}

func TestAggregator_PlaylistTracks(t *testing.T) {
	a := New(quietLogger())
	m := th.NewMockProvider("p")
	track := m.AddTrack("t1", "So What", 562, models.QualityLossless)
	other := models.NewTrack("q", "x1", "Elsewhere")
	mapped := models.NewTrack("q", "x2", "Mapped")
	mapped.AddProviderID(models.ProviderID{ItemID: "t9", Provider: "p", Available: true})
	register(t, a, m)

	pl := models.NewPlaylist("p", "pl1", "Modal")
	pl.IsEditable = true

	t.Run("adds native and mapped tracks", func(t *testing.T) {
		if err := a.AddPlaylistTracks(context.Background(), pl, []*models.Track{track, mapped}); err != nil {
			t.Fatalf("AddPlaylistTracks() error = %v", err)
		}
		if m.Count("playlist add pl1 t1,t9") != 1 {
			t.Errorf("unexpected calls: %v", m.Calls())
		}
	})

	t.Run("rejects tracks of another provider", func(t *testing.T) {
		err := a.AddPlaylistTracks(context.Background(), pl, []*models.Track{other})
		if !errors.Is(err, shared.ErrInvalidInput) {
			t.Errorf("expected ErrInvalidInput, got %v", err)
		}
	})

	t.Run("read-only playlist", func(t *testing.T) {
		ro := models.NewPlaylist("p", "pl2", "Theirs")
		err := a.RemovePlaylistTracks(context.Background(), ro, []*models.Track{track})
		if !errors.Is(err, shared.ErrUnsupportedFeature) {
			t.Errorf("expected ErrUnsupportedFeature, got %v", err)
		}
	})

	t.Run("expands playlists and albums", func(t *testing.T) {
		m.Tracks["pl1"] = []*models.Track{track}
		items, err := a.Playable(context.Background(), pl)
		if err != nil {
			t.Fatalf("Playable() error = %v", err)
		}
		if len(items) != 1 || items[0] != models.MediaItem(track) {
			t.Errorf("unexpected items: %v", items)
		}

		radio := models.NewRadio("p", "r1", "FIP")
		items, err = a.Playable(context.Background(), radio)
		if err != nil || len(items) != 1 {
			t.Errorf("radio should be playable as is, got %v, %v", items, err)
		}
	})
}
