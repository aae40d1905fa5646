package shared

import (
	"bytes"
	_ "embed"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/charmbracelet/log"
	"golang.org/x/oauth2"
)

//go:embed config.example.toml
var exampleConf []byte

// Config represents the application configuration loaded from a TOML file.
type Config struct {
	Logging   LoggingConfig    `toml:"logging"`
	Database  DatabaseConfig   `toml:"database"`
	Server    ServerConfig     `toml:"server"`
	Player    PlayerConfig     `toml:"player"`
	Providers []ProviderConfig `toml:"providers"`
}

// LoggingConfig controls the default logger.
type LoggingConfig struct {
	Level string `toml:"level"`
}

// DatabaseConfig contains database connection settings.
type DatabaseConfig struct {
	Path         string `toml:"path"`
	MaxOpenConns int    `toml:"max_open_conns"`
	MaxIdleConns int    `toml:"max_idle_conns"`
}

// ServerConfig contains settings for the local OAuth callback server.
type ServerConfig struct {
	Host string `toml:"host"`
	Port int    `toml:"port"`
}

// PlayerConfig contains queue defaults applied to newly registered players.
type PlayerConfig struct {
	Shuffle           bool   `toml:"shuffle"`
	Repeat            string `toml:"repeat"`
	CrossfadeDuration int    `toml:"crossfade_duration"`
	CrossfadeMode     string `toml:"crossfade_mode"`
	Volume            int    `toml:"volume"`
	OpenBrowser       bool   `toml:"open_browser"`
}

// StationConfig is one internet radio station.
type StationConfig struct {
	Name  string `toml:"name"`
	URL   string `toml:"url"`
	Image string `toml:"image"`
}

// ProviderConfig is the opaque per-provider record. Credential semantics vary per backend:
//   - plex: username is the server URL, password the token
//   - filesystem: path is the music root
//   - ytmusic: username is the proxy URL, password the auth file path
//   - spotify: client_id/client_secret plus stored tokens
type ProviderConfig struct {
	Type         string          `toml:"type"`
	ID           string          `toml:"id"`
	Name         string          `toml:"name"`
	Enabled      bool            `toml:"enabled"`
	Username     string          `toml:"username"`
	Password     string          `toml:"password"`
	Path         string          `toml:"path"`
	Library      string          `toml:"library"`
	ClientID     string          `toml:"client_id"`
	ClientSecret string          `toml:"client_secret"`
	RedirectURI  string          `toml:"redirect_uri"`
	AccessToken  string          `toml:"access_token"`
	RefreshToken string          `toml:"refresh_token"`
	TokenExpiry  time.Time       `toml:"token_expiry"`
	RateLimit    int             `toml:"rate_limit"`
	RatePeriod   string          `toml:"rate_period"`
	Stations     []StationConfig `toml:"stations"`
}

// InstanceID returns the configured id, falling back to the provider type.
func (p ProviderConfig) InstanceID() string {
	if p.ID != "" {
		return p.ID
	}
	return p.Type
}

// DisplayName returns the configured name, falling back to the instance id.
func (p ProviderConfig) DisplayName() string {
	if p.Name != "" {
		return p.Name
	}
	return p.InstanceID()
}

// Period parses rate_period, returning def when unset or invalid.
func (p ProviderConfig) Period(def time.Duration) time.Duration {
	if p.RatePeriod == "" {
		return def
	}
	d, err := time.ParseDuration(p.RatePeriod)
	if err != nil || d <= 0 {
		return def
	}
	return d
}

// Limit returns rate_limit, or def when unset.
func (p ProviderConfig) Limit(def int) int {
	if p.RateLimit <= 0 {
		return def
	}
	return p.RateLimit
}

// Expand returns a copy with ${VAR} references in credential fields replaced from the environment.
func (p ProviderConfig) Expand() ProviderConfig {
	p.Username = os.ExpandEnv(p.Username)
	p.Password = os.ExpandEnv(p.Password)
	p.Path = os.ExpandEnv(p.Path)
	p.ClientID = os.ExpandEnv(p.ClientID)
	p.ClientSecret = os.ExpandEnv(p.ClientSecret)
	p.AccessToken = os.ExpandEnv(p.AccessToken)
	p.RefreshToken = os.ExpandEnv(p.RefreshToken)
	return p
}

// Map returns the credentials as a map for OAuth providers.
func (p ProviderConfig) Map() map[string]string {
	return map[string]string{
		"client_id":     p.ClientID,
		"client_secret": p.ClientSecret,
		"redirect_uri":  p.RedirectURI,
		"access_token":  p.AccessToken,
		"refresh_token": p.RefreshToken,
	}
}

// Token returns the stored OAuth token, or nil when none is stored.
func (p ProviderConfig) Token() *oauth2.Token {
	if p.AccessToken == "" && p.RefreshToken == "" {
		return nil
	}
	return &oauth2.Token{
		AccessToken:  p.AccessToken,
		RefreshToken: p.RefreshToken,
		Expiry:       p.TokenExpiry,
		TokenType:    "Bearer",
	}
}

// Update stores token in the provider configuration.
func (p *ProviderConfig) Update(token *oauth2.Token) error {
	if token == nil || token.AccessToken == "" {
		return fmt.Errorf("%w: empty token", ErrInvalidCredentials)
	}

	p.AccessToken = token.AccessToken
	if token.RefreshToken != "" {
		p.RefreshToken = token.RefreshToken
	}
	p.TokenExpiry = token.Expiry
	return nil
}

// Provider returns the provider configuration with the given instance id.
func (c *Config) Provider(id string) (*ProviderConfig, error) {
	for i := range c.Providers {
		if c.Providers[i].InstanceID() == id {
			return &c.Providers[i], nil
		}
	}
	return nil, fmt.Errorf("%w: provider %q", ErrMissingConfig, id)
}

// Validate checks provider types and instance id uniqueness.
func (c *Config) Validate() error {
	seen := make(map[string]bool, len(c.Providers))
	for _, p := range c.Providers {
		switch p.Type {
		case "plex", "filesystem", "radio", "ytmusic", "spotify":
		default:
			return fmt.Errorf("%w: unknown provider type %q", ErrInvalidConfig, p.Type)
		}

		id := p.InstanceID()
		if seen[id] {
			return fmt.Errorf("%w: duplicate provider id %q", ErrInvalidConfig, id)
		}
		seen[id] = true
	}
	return nil
}

// LogLevel parses the configured log level, defaulting to info.
func (c *Config) LogLevel() log.Level {
	if c.Logging.Level == "" {
		return log.InfoLevel
	}
	lvl, err := log.ParseLevel(strings.ToLower(c.Logging.Level))
	if err != nil {
		return log.InfoLevel
	}
	return lvl
}

// LoadConfig reads and parses a TOML configuration file from the specified path.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := toml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return &config, nil
}

// DefaultConfig returns a Config with sensible defaults loaded from the embedded example config.
func DefaultConfig() *Config {
	var config Config
	if err := toml.Unmarshal(exampleConf, &config); err != nil {
		panic(fmt.Sprintf("failed to parse embedded default config: %v", err))
	}
	return &config
}

// CreateConfigFile creates a config.toml file at the specified path using the embedded example config.
func CreateConfigFile(path string) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config file already exists at %s", path)
	}

	if err := os.WriteFile(path, exampleConf, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// SaveConfig encodes config as TOML and writes it to path.
func SaveConfig(path string, config *Config) error {
	var buf bytes.Buffer
	if err := toml.NewEncoder(&buf).Encode(config); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}

	if err := os.WriteFile(path, buf.Bytes(), 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}
