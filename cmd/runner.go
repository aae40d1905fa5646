package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/jukebox/internal/catalog"
	"github.com/desertthunder/jukebox/internal/models"
	"github.com/desertthunder/jukebox/internal/providers"
	"github.com/desertthunder/jukebox/internal/repositories"
	"github.com/desertthunder/jukebox/internal/shared"
	"github.com/desertthunder/jukebox/internal/stream"
	"github.com/desertthunder/jukebox/internal/tasks"
	"github.com/desertthunder/jukebox/internal/ui"
	"github.com/urfave/cli/v3"
	"golang.org/x/oauth2"
)

// Runner holds all dependencies for CLI commands and provides methods for each command action.
//
// The database and catalog are opened lazily by the commands that need them.
type Runner struct {
	config     *shared.Config
	configPath string
	configured bool
	httpClient *http.Client
	logger     *log.Logger
	output     io.Writer
	input      io.Reader
	palette    *ui.Palette
	extra      []providers.Provider

	db       *sql.DB
	ownsDB   bool
	catalog  *catalog.Aggregator
	resolver *stream.Resolver
	playlog  *repositories.PlaylogRepository
	runs     *repositories.SyncRunRepository
}

// RunnerOpts contains configuration options for creating a Runner.
type RunnerOpts struct {
	Config     *shared.Config
	ConfigPath string
	HTTPClient *http.Client
	Logger     *log.Logger
	Output     io.Writer
	Input      io.Reader
	// DB replaces the configured database; the caller closes it.
	DB *sql.DB
	// Providers are registered in addition to the configured ones.
	Providers []providers.Provider
}

// NewRunner creates a new Runner with the provided configuration.
//
// Without a Config the file named by --config is loaded before each command.
func NewRunner(opts RunnerOpts) *Runner {
	configured := opts.Config != nil
	if opts.Config == nil {
		opts.Config = shared.DefaultConfig()
	}
	if opts.Logger == nil {
		opts.Logger = shared.NewLogger(nil)
	}
	if opts.Output == nil {
		opts.Output = os.Stdout
	}
	if opts.Input == nil {
		opts.Input = os.Stdin
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = http.DefaultClient
	}

	return &Runner{
		config:     opts.Config,
		configPath: opts.ConfigPath,
		configured: configured,
		httpClient: opts.HTTPClient,
		logger:     opts.Logger,
		output:     opts.Output,
		input:      opts.Input,
		palette:    ui.Styles,
		extra:      opts.Providers,
		db:         opts.DB,
	}
}

func (r *Runner) register() []*cli.Command {
	commands := []*cli.Command{}
	for _, fn := range [](func(*Runner) *cli.Command){
		setupCommand, providersCommand, syncCommand, searchCommand, itemsCommand, countCommand, itemCommand,
		libraryCommand, playlistCommand, streamCommand, playCommand, historyCommand, authCommand,
	} {
		commands = append(commands, fn(r))
	}

	return commands
}

// Before loads the configuration file and applies the log level.
func (r *Runner) Before(ctx context.Context, cmd *cli.Command) (context.Context, error) {
	if path := cmd.String("config"); path != "" {
		r.configPath = path
	}

	if !r.configured {
		if _, err := os.Stat(r.configPath); err == nil {
			config, err := shared.LoadConfig(r.configPath)
			if err != nil {
				return ctx, err
			}
			r.config = config
		} else {
			r.logger.Debug("config file not found, using defaults", "path", r.configPath)
		}
	}

	level := r.config.LogLevel()
	if cmd.Bool("verbose") {
		level = log.DebugLevel
	}
	shared.SetLogLevel(r.logger, level)
	return ctx, nil
}

// After persists refreshed OAuth tokens and releases the catalog.
func (r *Runner) After(ctx context.Context, cmd *cli.Command) error {
	return r.Close()
}

// Close waits for pending playback reports and closes the database.
func (r *Runner) Close() error {
	if r.catalog != nil {
		r.persistTokens()
	}
	if r.resolver != nil {
		r.resolver.Wait()
	}
	var err error
	if r.db != nil && r.ownsDB {
		err = r.db.Close()
		r.db = nil
	}
	r.catalog, r.resolver = nil, nil
	return err
}

// open builds the catalog: database, repositories, registered providers and the stream resolver.
func (r *Runner) open(ctx context.Context) (*catalog.Aggregator, error) {
	if r.catalog != nil {
		return r.catalog, nil
	}

	if _, err := r.database(); err != nil {
		return nil, err
	}

	library := repositories.NewLibraryRepository(r.db)
	r.runs = repositories.NewSyncRunRepository(r.db)
	r.playlog = repositories.NewPlaylogRepository(r.db)

	agg := catalog.New(r.logger, catalog.WithStore(library), catalog.WithRunStore(r.runs))

	provs, errs := providers.NewAll(r.config, providers.Options{Logger: r.logger, HTTPClient: r.httpClient})
	for id, err := range errs {
		r.logger.Error("provider not created", "provider", id, "error", err)
	}
	for _, p := range append(provs, r.extra...) {
		// a failed setup keeps the provider listed as disabled
		_ = agg.Register(ctx, p)
	}

	r.catalog = agg
	r.resolver = stream.New(agg, r.logger, stream.WithRecorder(r.playlog))
	return agg, nil
}

// persistTokens saves OAuth tokens refreshed while a command ran.
func (r *Runner) persistTokens() {
	for _, status := range r.catalog.Providers() {
		if status.Type != models.ProviderSpotify || !status.Enabled {
			continue
		}
		p, err := r.catalog.Provider(status.ID)
		if err != nil {
			continue
		}
		sp, ok := p.(*providers.Spotify)
		if !ok {
			continue
		}
		token, err := sp.Token()
		if err != nil {
			continue
		}
		cfg, err := r.config.Provider(status.ID)
		if err != nil || token.AccessToken == cfg.AccessToken {
			continue
		}
		if err := r.saveTokens(status.ID, token); err != nil {
			r.logger.Warn("failed to persist refreshed token", "provider", status.ID, "error", err)
		}
	}
}

// saveTokens stores token on the provider configuration and writes the config file.
func (r *Runner) saveTokens(id string, token *oauth2.Token) error {
	if r.config == nil {
		return errors.New("config is nil")
	}
	cfg, err := r.config.Provider(id)
	if err != nil {
		return err
	}
	if err := cfg.Update(token); err != nil {
		return fmt.Errorf("failed to update %s configuration: %w", id, err)
	}
	if r.configPath == "" {
		return nil
	}
	if err := shared.SaveConfig(r.configPath, r.config); err != nil {
		return fmt.Errorf("failed to save config: %w", err)
	}
	return nil
}

// progress prints updates until the returned channel is closed and drained; call the returned func to close it.
func (r *Runner) progress() (chan<- tasks.ProgressUpdate, func()) {
	updates := make(chan tasks.ProgressUpdate, 32)
	done := make(chan struct{})
	go func() {
		defer close(done)
		for u := range updates {
			r.writePlain("%s\n", r.palette.Progress(u))
		}
	}()
	return updates, func() {
		close(updates)
		<-done
	}
}

func (r *Runner) writeJSON(data any, pretty bool) error {
	var output []byte
	var err error

	if pretty {
		output, err = json.MarshalIndent(data, "", "  ")
	} else {
		output, err = json.Marshal(data)
	}

	if err != nil {
		return fmt.Errorf("failed to marshal JSON: %w", err)
	}

	if _, err := r.output.Write(output); err != nil {
		return fmt.Errorf("failed to write output: %w", err)
	}

	if _, err := r.output.Write([]byte("\n")); err != nil {
		return fmt.Errorf("failed to write newline: %w", err)
	}

	return nil
}

func (r *Runner) writePlain(format string, args ...any) error {
	text := fmt.Sprintf(format, args...)
	if _, err := r.output.Write([]byte(text)); err != nil {
		return fmt.Errorf("failed to write output: %w", err)
	}
	return nil
}

func (r *Runner) writePlainln(format string, args ...any) error {
	text := "\n" + fmt.Sprintf(format, args...) + "\n"
	if _, err := r.output.Write([]byte(text)); err != nil {
		return fmt.Errorf("failed to write output: %w", err)
	}
	return nil
}

func (r *Runner) writePlainHeader(title string) {
	r.writePlain("%s\n", r.palette.Header(title))
}
