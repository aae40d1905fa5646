package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/desertthunder/jukebox/internal/models"
	"github.com/desertthunder/jukebox/internal/providers"
	"github.com/desertthunder/jukebox/internal/server"
	"github.com/desertthunder/jukebox/internal/shared"
	"github.com/urfave/cli/v3"
)

const (
	defaultAuthTimeout = 2 * time.Minute
	defaultAuthFile    = "~/.jukebox/browser.json"
)

// AuthSpotify performs the OAuth2 authorization code flow for a Spotify provider and stores the tokens.
//
// A local callback server listens on the redirect address while the browser is on the consent page.
func (r *Runner) AuthSpotify(ctx context.Context, cmd *cli.Command) error {
	id := cmd.String("provider")
	cfg, err := r.config.Provider(id)
	if err != nil {
		return err
	}
	if cfg.Type != string(models.ProviderSpotify) {
		return fmt.Errorf("%w: provider %s is a %s provider", shared.ErrInvalidArgument, id, cfg.Type)
	}
	expanded := cfg.Expand()
	if expanded.ClientID == "" || expanded.ClientSecret == "" {
		return fmt.Errorf("%w: client_id and client_secret must be set for %s", shared.ErrMissingCredentials, id)
	}

	open := func(authURL string) error {
		r.writePlain("→ Opening browser for Spotify authorization...\n")
		if err := shared.OpenBrowser(authURL); err != nil {
			r.writePlain("⚠ Could not open browser automatically.\nPlease open this URL in your browser:\n%s\n\n", authURL)
		}
		return nil
	}
	if cmd.Bool("no-browser") {
		open = func(authURL string) error {
			r.writePlain("Open this URL in your browser:\n%s\n\n", authURL)
			return nil
		}
	}

	timeout := cmd.Duration("timeout")
	r.writePlain("→ Waiting for authorization (%s timeout)...\n", timeout)

	token, err := server.Authorize(ctx, providers.SpotifyOAuthConfig(expanded), server.AuthorizeOpts{
		Addr:    r.callbackAddr(expanded.RedirectURI),
		Open:    open,
		Timeout: timeout,
		Logger:  r.logger,
	})
	if err != nil {
		return err
	}

	if err := r.saveTokens(id, token); err != nil {
		return err
	}

	r.writePlain("%s\n", r.palette.Check("Authorization successful"))
	if r.configPath != "" {
		r.writePlain("%s\n", r.palette.Check("Tokens saved to %s", r.configPath))
	}
	return nil
}

// callbackAddr is the listen address of the redirect URI, falling back to the server section of the config.
func (r *Runner) callbackAddr(redirect string) string {
	if redirect != "" {
		if u, err := parseHostPort(redirect); err == nil {
			return u
		}
	}
	return net.JoinHostPort(r.config.Server.Host, strconv.Itoa(r.config.Server.Port))
}

func parseHostPort(redirect string) (string, error) {
	rest, ok := strings.CutPrefix(redirect, "http://")
	if !ok {
		return "", fmt.Errorf("%w: redirect uri must be a local http url", shared.ErrInvalidConfig)
	}
	host, _, _ := strings.Cut(rest, "/")
	if _, _, err := net.SplitHostPort(host); err != nil {
		return "", err
	}
	return host, nil
}

// AuthYTMusic imports YouTube Music browser headers from a cURL command and writes the auth file the
// proxy reads.
func (r *Runner) AuthYTMusic(ctx context.Context, cmd *cli.Command) error {
	curlCmd := cmd.String("curl")
	curlFile := cmd.String("curl-file")

	if curlCmd == "" && curlFile == "" {
		return fmt.Errorf("%w: either --curl or --curl-file must be provided", shared.ErrMissingArgument)
	}
	if curlCmd != "" && curlFile != "" {
		return fmt.Errorf("%w: cannot specify both --curl and --curl-file", shared.ErrInvalidArgument)
	}

	var (
		headers *shared.CurlHeaders
		err     error
	)
	if curlFile != "" {
		if headers, err = shared.ParseCurlFile(curlFile); err != nil {
			return fmt.Errorf("failed to parse cURL file: %w", err)
		}
	} else {
		if headers, err = shared.ParseCurlCommand([]byte(curlCmd)); err != nil {
			return fmt.Errorf("failed to parse cURL command: %w", err)
		}
	}
	if headers.Cookie == "" {
		return fmt.Errorf("%w: the cURL command carries no cookie; copy a request made while signed in", shared.ErrInvalidCredentials)
	}

	id := cmd.String("provider")
	cfg, cfgErr := r.config.Provider(id)

	output := cmd.String("output")
	if output == "" && cfgErr == nil && cfg.Password != "" {
		output = cfg.Password
	}
	if output == "" {
		output = defaultAuthFile
	}
	output = shared.ExpandHome(output)

	if err := writeAuthFile(output, headers); err != nil {
		return err
	}
	r.logger.Info("browser headers saved", "path", output, "headers", len(headers.Headers))
	r.writePlain("%s\n", r.palette.Check("YouTube Music headers saved to %s", output))

	if cfgErr != nil {
		r.writePlain("Add a [[providers]] entry with type = \"ytmusic\" and password = %q to use it.\n", output)
		return nil
	}
	if shared.ExpandHome(cfg.Password) != output {
		cfg.Password = output
		if r.configPath != "" {
			if err := shared.SaveConfig(r.configPath, r.config); err != nil {
				return fmt.Errorf("failed to save config: %w", err)
			}
			r.writePlain("%s\n", r.palette.Check("Provider %s now reads %s", id, output))
		}
	}
	return nil
}

// writeAuthFile writes headers as the lower-cased header map the proxy expects.
func writeAuthFile(path string, headers *shared.CurlHeaders) error {
	h := headers.ToHeaders()
	auth := make(map[string]string, len(h))
	for key := range h {
		auth[strings.ToLower(key)] = h.Get(key)
	}

	data, err := json.MarshalIndent(auth, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal auth content: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("failed to write auth file: %w", err)
	}
	return nil
}
