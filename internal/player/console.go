package player

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/jukebox/internal/models"
	"github.com/desertthunder/jukebox/internal/shared"
)

// ConsolePlayer is a [Player] that prints every command, for trying queues without a real sink.
//
// With a browser opener set, stream URLs are handed to the browser so they can actually be heard.
type ConsolePlayer struct {
	id     string
	name   string
	out    io.Writer
	logger *log.Logger
	open   func(url string) error

	mu sync.Mutex
}

// ConsoleOption configures a [ConsolePlayer].
type ConsoleOption func(*ConsolePlayer)

// WithOutput writes command lines to w instead of stdout.
func WithOutput(w io.Writer) ConsoleOption {
	return func(p *ConsolePlayer) { p.out = w }
}

// WithBrowser opens every played URL with [shared.OpenBrowser].
func WithBrowser() ConsoleOption {
	return func(p *ConsolePlayer) { p.open = shared.OpenBrowser }
}

// WithOpener opens every played URL with fn.
func WithOpener(fn func(url string) error) ConsoleOption {
	return func(p *ConsolePlayer) { p.open = fn }
}

// NewConsolePlayer creates a ConsolePlayer.
func NewConsolePlayer(id, name string, logger *log.Logger, opts ...ConsoleOption) *ConsolePlayer {
	if logger == nil {
		logger = log.Default()
	}
	p := &ConsolePlayer{
		id:     id,
		name:   name,
		out:    os.Stdout,
		logger: shared.WithLogger(logger, "player", id),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *ConsolePlayer) ID() string   { return p.id }
func (p *ConsolePlayer) Name() string { return p.name }

func (p *ConsolePlayer) printf(format string, args ...any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprintf(p.out, "[%s] "+format+"\n", append([]any{p.name}, args...)...)
}

func (p *ConsolePlayer) PlayURL(ctx context.Context, url string) error {
	p.printf("play %s", url)
	return p.openURL(url)
}

func (p *ConsolePlayer) CrossfadeURL(ctx context.Context, url string, d time.Duration) error {
	p.printf("crossfade %s over %s", url, d)
	return p.openURL(url)
}

func (p *ConsolePlayer) openURL(url string) error {
	if p.open == nil {
		return nil
	}
	if err := p.open(url); err != nil {
		p.logger.Error("failed to open stream", "url", url, "error", err)
		return err
	}
	return nil
}

func (p *ConsolePlayer) Play(ctx context.Context) error  { p.printf("resume"); return nil }
func (p *ConsolePlayer) Pause(ctx context.Context) error { p.printf("pause"); return nil }
func (p *ConsolePlayer) Stop(ctx context.Context) error  { p.printf("stop"); return nil }

func (p *ConsolePlayer) Power(ctx context.Context, on bool) error {
	if on {
		p.printf("power on")
	} else {
		p.printf("power off")
	}
	return nil
}

func (p *ConsolePlayer) VolumeSet(ctx context.Context, level int) error {
	p.printf("volume %d", level)
	return nil
}

// Settings converts configured player defaults into queue settings.
func Settings(cfg shared.PlayerConfig) (models.QueueSettings, error) {
	repeat, err := models.ParseRepeatMode(cfg.Repeat)
	if err != nil {
		return models.QueueSettings{}, err
	}
	mode, err := models.ParseCrossfadeMode(cfg.CrossfadeMode)
	if err != nil {
		return models.QueueSettings{}, err
	}
	if cfg.CrossfadeDuration < 0 {
		return models.QueueSettings{}, fmt.Errorf("%w: crossfade duration must not be negative", shared.ErrInvalidConfig)
	}
	return models.QueueSettings{
		Shuffle:           cfg.Shuffle,
		Repeat:            repeat,
		CrossfadeDuration: cfg.CrossfadeDuration,
		CrossfadeMode:     mode,
	}, nil
}
