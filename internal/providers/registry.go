package providers

import (
	"fmt"

	"github.com/desertthunder/jukebox/internal/models"
	"github.com/desertthunder/jukebox/internal/shared"
)

// New builds the adapter described by cfg. Credential fields have ${VAR} references expanded first.
func New(cfg shared.ProviderConfig, opts Options) (Provider, error) {
	cfg = cfg.Expand()

	var (
		p   Provider
		err error
	)
	switch models.ProviderType(cfg.Type) {
	case models.ProviderPlex:
		p, err = unwrap(NewPlex(cfg, opts))
	case models.ProviderFilesystem:
		p, err = unwrap(NewFilesystem(cfg, opts))
	case models.ProviderRadio:
		p, err = unwrap(NewRadio(cfg, opts))
	case models.ProviderYouTube:
		p, err = unwrap(NewYouTubeMusic(cfg, opts))
	case models.ProviderSpotify:
		p, err = unwrap(NewSpotify(cfg, opts))
	default:
		err = fmt.Errorf("%w: unknown provider type %q", shared.ErrInvalidConfig, cfg.Type)
	}
	if err != nil {
		return nil, fmt.Errorf("provider %s: %w", cfg.InstanceID(), err)
	}
	return p, nil
}

// unwrap keeps a failed constructor from producing a non-nil Provider holding a nil pointer.
func unwrap[P Provider](p P, err error) (Provider, error) {
	if err != nil {
		return nil, err
	}
	return p, nil
}

// NewAll builds every enabled adapter of config. Adapters that fail to build are returned in errs
// keyed by instance id and left out of the result.
func NewAll(config *shared.Config, opts Options) ([]Provider, map[string]error) {
	var out []Provider
	errs := make(map[string]error)
	for _, cfg := range config.Providers {
		if !cfg.Enabled {
			continue
		}
		p, err := New(cfg, opts)
		if err != nil {
			errs[cfg.InstanceID()] = err
			continue
		}
		out = append(out, p)
	}
	return out, errs
}
