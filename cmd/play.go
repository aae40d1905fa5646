package main

import (
	"bufio"
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/desertthunder/jukebox/internal/models"
	"github.com/desertthunder/jukebox/internal/player"
	"github.com/desertthunder/jukebox/internal/shared"
	"github.com/desertthunder/jukebox/internal/stream"
	"github.com/urfave/cli/v3"
)

const (
	defaultStatusInterval = time.Second
	consolePlayerID       = "console"
)

// Stream resolves the stream of one item and prints its details.
func (r *Runner) Stream(ctx context.Context, cmd *cli.Command) error {
	uri := cmd.StringArg("uri")
	if uri == "" {
		return fmt.Errorf("%w: item uri", shared.ErrMissingArgument)
	}

	agg, err := r.open(ctx)
	if err != nil {
		return err
	}
	item, err := agg.GetItem(ctx, uri)
	if err != nil {
		return err
	}

	sd, err := r.resolver.Resolve(stream.WithRequest(ctx, "cli"), item)
	if err != nil {
		return err
	}
	defer sd.Complete(0)

	if cmd.Bool("json") {
		return r.writeJSON(sd, cmd.Bool("pretty"))
	}
	r.writePlainHeader(item.Base().Name)
	r.writePlain("provider  %s\n", sd.Provider)
	r.writePlain("content   %s (%s)\n", sd.ContentType, sd.ContentType.MimeType())
	r.writePlain("quality   %s\n", sd.Quality)
	if sd.SampleRate > 0 {
		r.writePlain("format    %d Hz / %d bit\n", sd.SampleRate, sd.BitDepth)
	}
	if sd.Duration > 0 {
		r.writePlain("duration  %s\n", shared.FormatDuration(sd.Duration))
	} else {
		r.writePlain("duration  live\n")
	}
	if !sd.Expires.IsZero() {
		r.writePlain("expires   %s\n", sd.Expires.Format(time.RFC3339))
	}
	r.writePlain("url       %s\n", sd.DirectURL)
	return nil
}

// playSettings applies command line overrides to the configured queue defaults.
func (r *Runner) playSettings(cmd *cli.Command) (models.QueueSettings, int, error) {
	settings, err := player.Settings(r.config.Player)
	if err != nil {
		return settings, 0, err
	}
	if cmd.IsSet("shuffle") {
		settings.Shuffle = cmd.Bool("shuffle")
	}
	if v := cmd.String("repeat"); v != "" {
		if settings.Repeat, err = models.ParseRepeatMode(v); err != nil {
			return settings, 0, err
		}
	}
	if v := cmd.Int("crossfade"); v >= 0 {
		settings.CrossfadeDuration = v
		if settings.CrossfadeMode == models.CrossfadeDisabled && v > 0 {
			settings.CrossfadeMode = models.CrossfadeAlways
		}
	}
	if v := cmd.String("crossfade-mode"); v != "" {
		if settings.CrossfadeMode, err = models.ParseCrossfadeMode(v); err != nil {
			return settings, 0, err
		}
	}

	volume := r.config.Player.Volume
	if v := cmd.Int("volume"); v >= 0 {
		volume = v
	}
	if volume < 0 || volume > 100 {
		return settings, 0, fmt.Errorf("%w: volume %d outside 0-100", shared.ErrInvalidArgument, volume)
	}
	return settings, volume, nil
}

// Play queues items on a console player and runs the queue until it finishes or ctx is cancelled.
//
// With --interactive, player commands are read line by line from stdin.
func (r *Runner) Play(ctx context.Context, cmd *cli.Command) error {
	uris := cmd.Args().Slice()
	if len(uris) == 0 {
		return fmt.Errorf("%w: at least one item uri", shared.ErrMissingArgument)
	}
	option, err := models.ParseQueueOption(cmd.String("option"))
	if err != nil {
		return err
	}
	settings, volume, err := r.playSettings(cmd)
	if err != nil {
		return err
	}

	agg, err := r.open(ctx)
	if err != nil {
		return err
	}

	var items []models.MediaItem
	for _, uri := range uris {
		item, err := agg.GetItem(ctx, uri)
		if err != nil {
			return err
		}
		playable, err := agg.Playable(ctx, item)
		if err != nil {
			return err
		}
		items = append(items, playable...)
	}

	var opts []player.ConsoleOption
	opts = append(opts, player.WithOutput(r.output))
	if cmd.Bool("browser") || r.config.Player.OpenBrowser {
		opts = append(opts, player.WithBrowser())
	}
	console := player.NewConsolePlayer(consolePlayerID, "Console", r.logger, opts...)

	engine := player.NewEngine(r.resolver, r.logger, player.WithDefaults(settings, volume))
	defer engine.Close()
	if err := engine.Register(console); err != nil {
		return err
	}
	if err := engine.PlayMedia(ctx, console.ID(), items, option); err != nil {
		return err
	}

	var lines <-chan string
	if cmd.Bool("interactive") {
		lines = r.readLines(ctx)
	}
	return r.follow(ctx, engine, console.ID(), cmd.Duration("interval"), lines)
}

// follow prints the status whenever the current item changes and returns once the player is idle.
func (r *Runner) follow(ctx context.Context, engine *player.Engine, id string, interval time.Duration, lines <-chan string) error {
	if interval <= 0 {
		interval = defaultStatusInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	last := ""
	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				lines = nil
				continue
			}
			quit, err := r.control(ctx, engine, id, line)
			if err != nil {
				r.writePlain("%s\n", r.palette.Cross("%v", err))
			}
			if quit {
				return nil
			}
		case <-ticker.C:
		}

		status, err := engine.Status(ctx, id)
		if err != nil {
			return err
		}
		if status.State == models.StateIdle && lines == nil {
			r.writePlain("%s", r.palette.Status(*status))
			return nil
		}
		if status.CurrentItem != nil && status.CurrentItem.QueueItemID != last {
			last = status.CurrentItem.QueueItemID
			r.writePlain("%s", r.palette.Status(*status))
		}
	}
}

// control applies one interactive command line. It reports whether the session should end.
func (r *Runner) control(ctx context.Context, engine *player.Engine, id, line string) (bool, error) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return false, nil
	}
	name, args := strings.ToLower(fields[0]), fields[1:]
	arg := func() string {
		if len(args) == 0 {
			return ""
		}
		return args[0]
	}

	switch name {
	case "quit", "exit", "q":
		return true, nil
	case "status":
		status, err := engine.Status(ctx, id)
		if err != nil {
			return false, err
		}
		r.writePlain("%s", r.palette.Status(*status))
		return false, nil
	case "queue":
		queue, err := engine.Queue(ctx, id)
		if err != nil {
			return false, err
		}
		for i, item := range queue {
			r.writePlain("%3d. %s\n", i+1, item.Name())
		}
		return false, nil
	case "shuffle":
		return false, engine.SetShuffle(ctx, id, arg() != "off")
	case "repeat":
		mode, err := models.ParseRepeatMode(arg())
		if err != nil {
			return false, err
		}
		return false, engine.SetRepeat(ctx, id, mode)
	}

	command, err := player.ParseCommand(name)
	if err != nil {
		return false, err
	}
	return false, engine.Execute(ctx, id, command, args...)
}

// readLines streams stdin lines until ctx is done or input ends.
func (r *Runner) readLines(ctx context.Context) <-chan string {
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(r.input)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
	}()
	return lines
}

// History prints recently streamed items.
func (r *Runner) History(ctx context.Context, cmd *cli.Command) error {
	if _, err := r.open(ctx); err != nil {
		return err
	}
	entries, err := r.playlog.Recent(cmd.Int("limit"))
	if err != nil {
		return err
	}

	if cmd.Bool("json") {
		return r.writeJSON(entries, cmd.Bool("pretty"))
	}
	if len(entries) == 0 {
		r.writePlain("nothing played yet\n")
		return nil
	}
	for _, e := range entries {
		total, err := r.playlog.Total(e.Provider, e.ItemID)
		if err != nil {
			return err
		}
		r.writePlain("%s  %-10s %-30s %s (total %s)\n",
			e.PlayedAt.Format("2006-01-02 15:04"), e.Provider, e.ItemID,
			shared.FormatDuration(e.Seconds), shared.FormatDuration(total))
	}
	return nil
}
