package player

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/desertthunder/jukebox/internal/models"
	"github.com/desertthunder/jukebox/internal/shared"
)

// Player is the capability set the engine drives. Implementations wrap a concrete sink:
// hardware, a network renderer or the console.
type Player interface {
	ID() string
	Name() string
	PlayURL(ctx context.Context, url string) error
	Stop(ctx context.Context) error
	Play(ctx context.Context) error
	Pause(ctx context.Context) error
	Power(ctx context.Context, on bool) error
	VolumeSet(ctx context.Context, level int) error
}

// Crossfader is implemented by players that can overlap the current stream with the next one.
type Crossfader interface {
	CrossfadeURL(ctx context.Context, url string, d time.Duration) error
}

// Resolver provides playable stream details; satisfied by [stream.Resolver].
type Resolver interface {
	Ensure(ctx context.Context, item models.MediaItem, current *models.StreamDetails) (*models.StreamDetails, error)
}

// Command is one of the fixed player commands.
type Command int

const (
	CommandPlay Command = iota + 1
	CommandPause
	CommandStop
	CommandNext
	CommandPrevious
	CommandPowerOn
	CommandPowerOff
	CommandVolume
)

var commandNames = map[Command]string{
	CommandPlay:     "play",
	CommandPause:    "pause",
	CommandStop:     "stop",
	CommandNext:     "next",
	CommandPrevious: "previous",
	CommandPowerOn:  "power_on",
	CommandPowerOff: "power_off",
	CommandVolume:   "volume",
}

func (c Command) String() string {
	if name, ok := commandNames[c]; ok {
		return name
	}
	return fmt.Sprintf("command(%d)", int(c))
}

// Commands lists every command in declaration order.
func Commands() []Command {
	return []Command{
		CommandPlay, CommandPause, CommandStop, CommandNext,
		CommandPrevious, CommandPowerOn, CommandPowerOff, CommandVolume,
	}
}

// ParseCommand maps a command name to its [Command]. Unknown names wrap [shared.ErrUnsupportedCommand].
func ParseCommand(name string) (Command, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	for c, n := range commandNames {
		if n == name {
			return c, nil
		}
	}
	return 0, fmt.Errorf("%w: %q", shared.ErrUnsupportedCommand, name)
}
