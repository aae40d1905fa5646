package main

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/desertthunder/jukebox/internal/models"
	"github.com/desertthunder/jukebox/internal/providers"
	"github.com/desertthunder/jukebox/internal/shared"
	tu "github.com/desertthunder/jukebox/internal/testing"
	"golang.org/x/oauth2"
)

// syncBuffer is a bytes.Buffer safe for the player goroutines that share the runner output.
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

func spotifyConfig() *shared.Config {
	config := shared.DefaultConfig()
	config.Providers = []shared.ProviderConfig{
		{Type: "spotify", ID: "spotify", Name: "Spotify", ClientID: "test_id", ClientSecret: "test_secret"},
	}
	return config
}

func memoryDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := shared.OpenDatabase(shared.DatabaseConfig{Path: ":memory:"})
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

// testRunner wires a runner to an in-memory database and a single mock provider.
func testRunner(t *testing.T, input string) (*Runner, *tu.MockProvider, *syncBuffer) {
	t.Helper()

	mock := tu.NewMockProvider("mock")
	track := mock.AddTrack("t1", "Song One", 60, models.QualityLossless)
	mock.Results = []models.MediaItem{track}

	config := shared.DefaultConfig()
	config.Providers = nil

	output := &syncBuffer{}
	runner := NewRunner(RunnerOpts{
		Config:    config,
		Logger:    shared.NewLogger(io.Discard),
		Output:    output,
		Input:     strings.NewReader(input),
		DB:        memoryDB(t),
		Providers: []providers.Provider{mock},
	})
	return runner, mock, output
}

func run(t *testing.T, r *Runner, args ...string) error {
	t.Helper()
	configPath := filepath.Join(t.TempDir(), "config.toml")
	return newApp(r).Run(context.Background(), append([]string{"jukebox", "--config", configPath}, args...))
}

func TestRunner(t *testing.T) {
	t.Run("NewRunner", func(t *testing.T) {
		t.Run("with all dependencies provided", func(t *testing.T) {
			config := shared.DefaultConfig()
			logger := shared.NewLogger(nil)
			output := &bytes.Buffer{}
			input := strings.NewReader("")
			httpClient := &http.Client{}
			mock := tu.NewMockProvider("mock")

			runner := NewRunner(RunnerOpts{
				Config:     config,
				Logger:     logger,
				Output:     output,
				Input:      input,
				HTTPClient: httpClient,
				Providers:  []providers.Provider{mock},
			})

			if runner.config != config {
				t.Error("expected config to be set")
			}
			if !runner.configured {
				t.Error("expected a provided config to mark the runner configured")
			}
			if runner.logger != logger {
				t.Error("expected logger to be set")
			}
			if runner.output != output {
				t.Error("expected output to be set")
			}
			if runner.input != input {
				t.Error("expected input to be set")
			}
			if runner.httpClient != httpClient {
				t.Error("expected httpClient to be set")
			}
			if len(runner.extra) != 1 || runner.extra[0] != mock {
				t.Error("expected extra providers to be set")
			}
		})

		t.Run("with nil config uses defaults", func(t *testing.T) {
			runner := NewRunner(RunnerOpts{Config: nil})

			if runner.config == nil {
				t.Error("expected default config to be set")
			}
			if runner.configured {
				t.Error("expected default config to be replaced by the config file")
			}
		})

		t.Run("with nil logger uses default", func(t *testing.T) {
			runner := NewRunner(RunnerOpts{Logger: nil})

			if runner.logger == nil {
				t.Error("expected default logger to be set")
			}
		})

		t.Run("with nil output uses stdout", func(t *testing.T) {
			runner := NewRunner(RunnerOpts{Output: nil})

			if runner.output != os.Stdout {
				t.Error("expected output to default to os.Stdout")
			}
		})

		t.Run("with nil input uses stdin", func(t *testing.T) {
			runner := NewRunner(RunnerOpts{Input: nil})

			if runner.input != os.Stdin {
				t.Error("expected input to default to os.Stdin")
			}
		})

		t.Run("with nil httpClient uses default", func(t *testing.T) {
			runner := NewRunner(RunnerOpts{HTTPClient: nil})

			if runner.httpClient != http.DefaultClient {
				t.Error("expected httpClient to default to http.DefaultClient")
			}
		})

		t.Run("with configPath sets field", func(t *testing.T) {
			runner := NewRunner(RunnerOpts{ConfigPath: "/test/path/config.toml"})

			if runner.configPath != "/test/path/config.toml" {
				t.Errorf("expected configPath to be set, got %s", runner.configPath)
			}
		})
	})

	t.Run("writeJSON", func(t *testing.T) {
		t.Run("writes formatted JSON successfully", func(t *testing.T) {
			output := &bytes.Buffer{}
			runner := NewRunner(RunnerOpts{Output: output})

			if err := runner.writeJSON(map[string]string{"key": "value"}, true); err != nil {
				t.Fatalf("expected no error, got %v", err)
			}

			result := output.String()
			if !strings.Contains(result, `"key": "value"`) {
				t.Errorf("expected formatted JSON, got %s", result)
			}
			if !strings.HasSuffix(result, "\n") {
				t.Error("expected output to end with newline")
			}
		})

		t.Run("writes compact JSON successfully", func(t *testing.T) {
			output := &bytes.Buffer{}
			runner := NewRunner(RunnerOpts{Output: output})

			if err := runner.writeJSON(map[string]string{"key": "value"}, false); err != nil {
				t.Fatalf("expected no error, got %v", err)
			}

			expected := `{"key":"value"}` + "\n"
			if result := output.String(); result != expected {
				t.Errorf("expected %q, got %q", expected, result)
			}
		})

		t.Run("handles marshal error with non-serializable data", func(t *testing.T) {
			runner := NewRunner(RunnerOpts{Output: &bytes.Buffer{}})

			err := runner.writeJSON(make(chan int), false)
			if err == nil {
				t.Fatal("expected error for non-serializable data")
			}
			if !strings.Contains(err.Error(), "failed to marshal JSON") {
				t.Errorf("expected marshal error, got %v", err)
			}
		})

		t.Run("handles write failure", func(t *testing.T) {
			runner := NewRunner(RunnerOpts{Output: &tu.FWriter{}})

			err := runner.writeJSON(map[string]string{"key": "value"}, false)
			if err == nil {
				t.Fatal("expected error from failing writer")
			}
			if !strings.Contains(err.Error(), "failed to write output") {
				t.Errorf("expected write error, got %v", err)
			}
		})

		t.Run("handles newline write failure", func(t *testing.T) {
			limitedWriter := tu.NewLimitedWriter(1, 0, &bytes.Buffer{})
			runner := NewRunner(RunnerOpts{Output: &limitedWriter})

			err := runner.writeJSON(map[string]string{"key": "value"}, false)
			if err == nil {
				t.Fatal("expected error writing newline")
			}
			if !strings.Contains(err.Error(), "failed to write newline") {
				t.Errorf("expected newline write error, got %v", err)
			}
		})
	})

	t.Run("writePlain", func(t *testing.T) {
		t.Run("writes plain text successfully", func(t *testing.T) {
			output := &bytes.Buffer{}
			runner := NewRunner(RunnerOpts{Output: output})

			if err := runner.writePlain("hello %s", "world"); err != nil {
				t.Fatalf("expected no error, got %v", err)
			}
			if result := output.String(); result != "hello world" {
				t.Errorf("expected 'hello world', got %q", result)
			}
		})

		t.Run("writePlainln surrounds text with newlines", func(t *testing.T) {
			output := &bytes.Buffer{}
			runner := NewRunner(RunnerOpts{Output: output})

			if err := runner.writePlainln("%d items", 3); err != nil {
				t.Fatalf("expected no error, got %v", err)
			}
			if result := output.String(); result != "\n3 items\n" {
				t.Errorf("expected surrounding newlines, got %q", result)
			}
		})

		t.Run("handles write failure", func(t *testing.T) {
			runner := NewRunner(RunnerOpts{Output: &tu.FWriter{}})

			err := runner.writePlain("test")
			if err == nil {
				t.Fatal("expected error from failing writer")
			}
			if !strings.Contains(err.Error(), "failed to write output") {
				t.Errorf("expected write error, got %v", err)
			}
		})
	})

	t.Run("register", func(t *testing.T) {
		runner := NewRunner(RunnerOpts{})
		commands := runner.register()

		names := make(map[string]bool)
		for i, cmd := range commands {
			if cmd == nil {
				t.Fatalf("command at index %d is nil", i)
			}
			names[cmd.Name] = true
		}
		for _, name := range []string{"setup", "sync", "search", "item", "stream", "play", "auth"} {
			if !names[name] {
				t.Errorf("expected %s command to be registered", name)
			}
		}
	})

	t.Run("saveTokens", func(t *testing.T) {
		t.Run("saves tokens successfully", func(t *testing.T) {
			configPath := filepath.Join(t.TempDir(), "config.toml")
			config := spotifyConfig()
			if err := shared.SaveConfig(configPath, config); err != nil {
				t.Fatalf("failed to create test config: %v", err)
			}

			runner := NewRunner(RunnerOpts{Config: config, ConfigPath: configPath})
			token := &oauth2.Token{AccessToken: "new_access_token", RefreshToken: "new_refresh_token"}
			if err := runner.saveTokens("spotify", token); err != nil {
				t.Fatalf("expected no error, got %v", err)
			}

			loaded, err := shared.LoadConfig(configPath)
			if err != nil {
				t.Fatalf("failed to reload config: %v", err)
			}
			cfg, err := loaded.Provider("spotify")
			if err != nil {
				t.Fatalf("expected spotify provider in reloaded config: %v", err)
			}
			if cfg.AccessToken != "new_access_token" {
				t.Errorf("expected access token to be updated, got %s", cfg.AccessToken)
			}
			if cfg.RefreshToken != "new_refresh_token" {
				t.Errorf("expected refresh token to be updated, got %s", cfg.RefreshToken)
			}
		})

		t.Run("handles nil config error", func(t *testing.T) {
			runner := NewRunner(RunnerOpts{ConfigPath: "/tmp/test.toml"})
			runner.config = nil

			err := runner.saveTokens("spotify", &oauth2.Token{AccessToken: "test"})
			if err == nil {
				t.Fatal("expected error with nil config")
			}
			if !strings.Contains(err.Error(), "config is nil") {
				t.Errorf("expected nil config error, got %v", err)
			}
		})

		t.Run("handles unknown provider", func(t *testing.T) {
			runner := NewRunner(RunnerOpts{Config: spotifyConfig()})

			err := runner.saveTokens("nope", &oauth2.Token{AccessToken: "test"})
			if !errors.Is(err, shared.ErrMissingConfig) {
				t.Errorf("expected ErrMissingConfig, got %v", err)
			}
		})

		t.Run("handles empty configPath", func(t *testing.T) {
			config := spotifyConfig()
			runner := NewRunner(RunnerOpts{Config: config})

			token := &oauth2.Token{AccessToken: "new_token", RefreshToken: "new_refresh"}
			if err := runner.saveTokens("spotify", token); err != nil {
				t.Fatalf("expected no error with empty path, got %v", err)
			}
			if config.Providers[0].AccessToken != "new_token" {
				t.Error("expected config to be updated in memory")
			}
		})

		t.Run("handles SaveConfig failure", func(t *testing.T) {
			runner := NewRunner(RunnerOpts{
				Config:     spotifyConfig(),
				ConfigPath: filepath.Join(t.TempDir(), "missing", "dir", "config.toml"),
			})

			err := runner.saveTokens("spotify", &oauth2.Token{AccessToken: "test"})
			if err == nil {
				t.Fatal("expected error with invalid path")
			}
			if !strings.Contains(err.Error(), "failed to save config") {
				t.Errorf("expected save config error, got %v", err)
			}
		})

		t.Run("handles Update error", func(t *testing.T) {
			runner := NewRunner(RunnerOpts{
				Config:     spotifyConfig(),
				ConfigPath: filepath.Join(t.TempDir(), "config.toml"),
			})

			err := runner.saveTokens("spotify", nil)
			if err == nil {
				t.Fatal("expected error when Update fails with nil token")
			}
			if !strings.Contains(err.Error(), "failed to update spotify configuration") {
				t.Errorf("expected update error, got %v", err)
			}
			if !errors.Is(err, shared.ErrInvalidCredentials) {
				t.Errorf("expected ErrInvalidCredentials in chain, got %v", err)
			}
		})
	})
}

func TestCommands(t *testing.T) {
	t.Run("setup creates the config file and lists migrations", func(t *testing.T) {
		runner, _, output := testRunner(t, "")
		configPath := filepath.Join(t.TempDir(), "config.toml")

		err := newApp(runner).Run(context.Background(), []string{"jukebox", "--config", configPath, "setup"})
		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		tu.AssertFileExists(t, configPath)
		if !strings.Contains(output.String(), "0001") {
			t.Errorf("expected applied migration in output, got %q", output.String())
		}
	})

	t.Run("providers lists registered providers", func(t *testing.T) {
		runner, _, output := testRunner(t, "")

		if err := run(t, runner, "providers", "--json"); err != nil {
			t.Fatalf("expected no error, got %v", err)
		}

		var rows []providerRow
		if err := json.Unmarshal([]byte(output.String()), &rows); err != nil {
			t.Fatalf("expected JSON output, got %q: %v", output.String(), err)
		}
		if len(rows) != 1 || rows[0].ID != "mock" || !rows[0].Enabled {
			t.Errorf("expected the mock provider enabled, got %+v", rows)
		}
	})

	t.Run("search prints grouped results", func(t *testing.T) {
		runner, mock, output := testRunner(t, "")

		if err := run(t, runner, "search", "song"); err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if !strings.Contains(output.String(), "Song One") {
			t.Errorf("expected search result in output, got %q", output.String())
		}
		if mock.Count("search song") != 1 {
			t.Errorf("expected one search call, got %v", mock.Calls())
		}
	})

	t.Run("search without a query is a usage error", func(t *testing.T) {
		runner, _, _ := testRunner(t, "")

		err := run(t, runner, "search")
		if !errors.Is(err, shared.ErrMissingArgument) {
			t.Fatalf("expected ErrMissingArgument, got %v", err)
		}
		if code := exitCode(shared.NewLogger(io.Discard), err); code != exitUsage {
			t.Errorf("expected exit code %d, got %d", exitUsage, code)
		}
	})

	t.Run("sync stores the library for items and count", func(t *testing.T) {
		runner, _, output := testRunner(t, "")

		if err := run(t, runner, "sync"); err != nil {
			t.Fatalf("sync failed: %v", err)
		}
		if err := run(t, runner, "items", "--type", "track", "--library"); err != nil {
			t.Fatalf("items failed: %v", err)
		}
		if !strings.Contains(output.String(), "Song One") || !strings.Contains(output.String(), "1 items") {
			t.Errorf("expected synced track in items output, got %q", output.String())
		}

		if err := run(t, runner, "count", "--library", "--json"); err != nil {
			t.Fatalf("count failed: %v", err)
		}
		if !strings.Contains(output.String(), `"track": 1`) {
			t.Errorf("expected one library track, got %q", output.String())
		}
	})

	t.Run("item shows provider mappings", func(t *testing.T) {
		runner, _, output := testRunner(t, "")

		if err := run(t, runner, "item", "mock://track/t1"); err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if !strings.Contains(output.String(), "mock t1") {
			t.Errorf("expected provider mapping in output, got %q", output.String())
		}
	})

	t.Run("item on an unknown provider", func(t *testing.T) {
		runner, _, _ := testRunner(t, "")

		err := run(t, runner, "item", "nope://track/t1")
		if !errors.Is(err, shared.ErrProviderUnavailable) {
			t.Errorf("expected ErrProviderUnavailable, got %v", err)
		}
	})

	t.Run("library add reaches the provider", func(t *testing.T) {
		runner, mock, _ := testRunner(t, "")

		if err := run(t, runner, "library", "add", "mock://track/t1"); err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if mock.Count("library add track t1") != 1 {
			t.Errorf("expected library add call, got %v", mock.Calls())
		}
	})

	t.Run("stream prints the direct url", func(t *testing.T) {
		runner, mock, output := testRunner(t, "")

		if err := run(t, runner, "stream", "mock://track/t1"); err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if !strings.Contains(output.String(), "http://mock.test/stream/t1") {
			t.Errorf("expected stream url in output, got %q", output.String())
		}
		if mock.Count("stream t1") != 1 {
			t.Errorf("expected one stream lookup, got %v", mock.Calls())
		}
	})

	t.Run("stream of a missing item maps to not found", func(t *testing.T) {
		runner, _, _ := testRunner(t, "")

		err := run(t, runner, "stream", "mock://track/missing")
		if !errors.Is(err, shared.ErrMediaNotFound) {
			t.Fatalf("expected ErrMediaNotFound, got %v", err)
		}
		if code := exitCode(shared.NewLogger(io.Discard), err); code != exitNotFound {
			t.Errorf("expected exit code %d, got %d", exitNotFound, code)
		}
	})

	t.Run("interactive play runs until quit", func(t *testing.T) {
		runner, mock, output := testRunner(t, "status\nvolume 30\nquit\n")

		if err := run(t, runner, "play", "--interactive", "mock://track/t1"); err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if !strings.Contains(output.String(), "Song One") {
			t.Errorf("expected current track in status, got %q", output.String())
		}
		if mock.Count("stream t1") == 0 {
			t.Errorf("expected the track stream to be resolved, got %v", mock.Calls())
		}
	})

	t.Run("play rejects an invalid volume", func(t *testing.T) {
		runner, _, _ := testRunner(t, "")

		err := run(t, runner, "play", "--volume", "150", "mock://track/t1")
		if !errors.Is(err, shared.ErrInvalidArgument) {
			t.Errorf("expected ErrInvalidArgument, got %v", err)
		}
	})

	t.Run("auth ytmusic writes the header file", func(t *testing.T) {
		runner, _, _ := testRunner(t, "")
		output := filepath.Join(t.TempDir(), "auth", "browser.json")
		curl := `curl 'https://music.youtube.com/youtubei/v1/browse' -H 'X-Goog-AuthUser: 0' -H 'cookie: SID=abc'`

		if err := run(t, runner, "auth", "ytmusic", "--curl", curl, "--output", output); err != nil {
			t.Fatalf("expected no error, got %v", err)
		}

		var auth map[string]string
		if err := json.Unmarshal([]byte(tu.MustReadFile(t, output)), &auth); err != nil {
			t.Fatalf("expected JSON auth file: %v", err)
		}
		if auth["cookie"] != "SID=abc" {
			t.Errorf("expected cookie to be stored, got %q", auth["cookie"])
		}
		if auth["x-goog-authuser"] != "0" {
			t.Errorf("expected lower-cased header keys, got %v", auth)
		}
		if len(auth) != 2 {
			t.Errorf("expected one entry per header, got %v", auth)
		}
	})

	t.Run("auth ytmusic merges headers differing only in case", func(t *testing.T) {
		runner, _, _ := testRunner(t, "")
		output := filepath.Join(t.TempDir(), "browser.json")
		curl := `curl 'https://music.youtube.com' -H 'Accept: */*' -H 'accept: */*' -b 'SID=abc'`

		if err := run(t, runner, "auth", "ytmusic", "--curl", curl, "--output", output); err != nil {
			t.Fatalf("expected no error, got %v", err)
		}

		var auth map[string]string
		if err := json.Unmarshal([]byte(tu.MustReadFile(t, output)), &auth); err != nil {
			t.Fatalf("expected JSON auth file: %v", err)
		}
		if len(auth) != 2 || auth["accept"] != "*/*" || auth["cookie"] != "SID=abc" {
			t.Errorf("expected accept and cookie entries, got %v", auth)
		}
	})

	t.Run("auth ytmusic requires a cookie", func(t *testing.T) {
		runner, _, _ := testRunner(t, "")

		err := run(t, runner, "auth", "ytmusic", "--curl", `curl 'https://music.youtube.com' -H 'accept: */*'`)
		if !errors.Is(err, shared.ErrInvalidCredentials) {
			t.Errorf("expected ErrInvalidCredentials, got %v", err)
		}
	})

	t.Run("auth spotify requires client credentials", func(t *testing.T) {
		runner, _, _ := testRunner(t, "")
		runner.config.Providers = []shared.ProviderConfig{{Type: "spotify", ID: "spotify"}}

		err := run(t, runner, "auth", "spotify", "--no-browser")
		if !errors.Is(err, shared.ErrMissingCredentials) {
			t.Errorf("expected ErrMissingCredentials, got %v", err)
		}
	})
}

func TestExitCode(t *testing.T) {
	logger := shared.NewLogger(io.Discard)
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"cancelled", context.Canceled, 0},
		{"not implemented", shared.ErrNotImplemented, 0},
		{"usage", fmt.Errorf("%w: uri", shared.ErrMissingArgument), exitUsage},
		{"auth", fmt.Errorf("wrapped: %w", shared.ErrTokenExpired), exitAuth},
		{"not found", shared.ErrPlaylistNotFound, exitNotFound},
		{"other", errors.New("boom"), exitError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := exitCode(logger, tt.err); got != tt.want {
				t.Errorf("exitCode(%v) = %d, want %d", tt.err, got, tt.want)
			}
		})
	}
}

func TestParseHostPort(t *testing.T) {
	tests := []struct {
		redirect string
		want     string
		wantErr  bool
	}{
		{"http://127.0.0.1:3000/callback", "127.0.0.1:3000", false},
		{"http://localhost:8888", "localhost:8888", false},
		{"https://example.com/callback", "", true},
		{"http://127.0.0.1/callback", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.redirect, func(t *testing.T) {
			got, err := parseHostPort(tt.redirect)
			if (err != nil) != tt.wantErr {
				t.Fatalf("parseHostPort(%q) error = %v, wantErr %v", tt.redirect, err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("parseHostPort(%q) = %q, want %q", tt.redirect, got, tt.want)
			}
		})
	}
}
