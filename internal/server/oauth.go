package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/jukebox/internal/shared"
	"golang.org/x/oauth2"
)

const successPage = `<!DOCTYPE html>
<html>
<head><title>jukebox</title></head>
<body style="font-family: sans-serif; text-align: center; margin-top: 20vh">
<h1>Authorized</h1>
<p>You can close this window and return to the terminal.</p>
</body>
</html>
`

// OAuthResult is the outcome of one authorization code callback.
type OAuthResult struct {
	Token *oauth2.Token
	Err   error
}

// OAuthHandler serves the redirect of an OAuth2 authorization code flow.
//
// The state parameter must match; the first callback wins and later ones are rejected.
type OAuthHandler struct {
	config  *oauth2.Config
	state   string
	path    string
	logger  *log.Logger
	results chan OAuthResult
	once    sync.Once

	mu  sync.Mutex
	hit bool
}

// NewOAuthHandler creates a handler for config. It serves the path of config.RedirectURL.
func NewOAuthHandler(config *oauth2.Config, state string, logger *log.Logger) *OAuthHandler {
	if logger == nil {
		logger = log.Default()
	}
	path := "/callback"
	if u, err := url.Parse(config.RedirectURL); err == nil && u.Path != "" {
		path = u.Path
	}
	return &OAuthHandler{
		config:  config,
		state:   state,
		path:    path,
		logger:  logger,
		results: make(chan OAuthResult, 1),
	}
}

func (h *OAuthHandler) Routes() []string {
	return []string{"GET " + h.path}
}

func (h *OAuthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	if h.hit {
		h.mu.Unlock()
		http.Error(w, "callback already processed", http.StatusBadRequest)
		return
	}
	h.hit = true
	h.mu.Unlock()

	q := r.URL.Query()
	if q.Get("state") != h.state {
		h.send(OAuthResult{Err: fmt.Errorf("%w: state mismatch", shared.ErrAuthFailed)})
		http.Error(w, "invalid state parameter", http.StatusBadRequest)
		return
	}

	code := q.Get("code")
	if code == "" {
		h.send(OAuthResult{Err: fmt.Errorf("%w: %s %s", shared.ErrAuthFailed, q.Get("error"), q.Get("error_description"))})
		http.Error(w, "authorization failed", http.StatusBadRequest)
		return
	}

	token, err := h.config.Exchange(r.Context(), code)
	if err != nil {
		h.logger.Error("token exchange failed", "error", err)
		h.send(OAuthResult{Err: fmt.Errorf("%w: token exchange: %v", shared.ErrAuthFailed, err)})
		http.Error(w, "token exchange failed", http.StatusInternalServerError)
		return
	}

	h.send(OAuthResult{Token: token})
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	fmt.Fprint(w, successPage)
}

func (h *OAuthHandler) send(result OAuthResult) {
	h.once.Do(func() {
		h.results <- result
		close(h.results)
	})
}

// Result receives exactly one [OAuthResult].
func (h *OAuthHandler) Result() <-chan OAuthResult {
	return h.results
}

// AuthorizeOpts configures [Authorize].
type AuthorizeOpts struct {
	// Addr is the listen address, used when Listener is nil.
	Addr     string
	Listener net.Listener
	// Open is handed the authorization URL, typically [shared.OpenBrowser].
	Open    func(authURL string) error
	Timeout time.Duration
	Logger  *log.Logger
}

// Authorize runs a complete authorization code flow for config: it serves the callback, hands the consent URL
// to opts.Open and waits for the redirect, ctx or the timeout, whichever comes first.
func Authorize(ctx context.Context, config *oauth2.Config, opts AuthorizeOpts) (*oauth2.Token, error) {
	logger := opts.Logger
	if logger == nil {
		logger = log.Default()
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 2 * time.Minute
	}

	ln := opts.Listener
	if ln == nil {
		var err error
		if ln, err = net.Listen("tcp", opts.Addr); err != nil {
			return nil, fmt.Errorf("failed to listen on %s: %w", opts.Addr, err)
		}
	}

	state := shared.GenerateID()
	handler := NewOAuthHandler(config, state, logger)
	router := NewBasicRouter()
	router.Use(Logging(logger))
	router.Handler(handler)

	srv := &http.Server{Handler: router, ReadHeaderTimeout: 10 * time.Second}
	serveErr := make(chan error, 1)
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Warn("error shutting down callback server", "error", err)
		}
	}()

	logger.Info("waiting for oauth callback", "addr", ln.Addr().String())
	authURL := config.AuthCodeURL(state, oauth2.AccessTypeOffline)
	if opts.Open != nil {
		if err := opts.Open(authURL); err != nil {
			logger.Warn("could not open authorization url", "url", authURL, "error", err)
		}
	}

	timer := time.NewTimer(opts.Timeout)
	defer timer.Stop()

	select {
	case res := <-handler.Result():
		if res.Err != nil {
			return nil, res.Err
		}
		if res.Token == nil {
			return nil, fmt.Errorf("%w: no token received", shared.ErrAuthFailed)
		}
		return res.Token, nil
	case err := <-serveErr:
		return nil, fmt.Errorf("callback server: %w", err)
	case <-timer.C:
		return nil, fmt.Errorf("%w: authorization timed out after %s", shared.ErrTimeout, opts.Timeout)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
