// package stream turns catalog items into playable, time boxed [models.StreamDetails] and wires playback
// reporting back into the owning provider.
package stream

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/jukebox/internal/models"
	"github.com/desertthunder/jukebox/internal/providers"
	"github.com/desertthunder/jukebox/internal/shared"
	"golang.org/x/sync/singleflight"
)

const (
	defaultReportTimeout = 10 * time.Second
	defaultRetryDelay    = 2 * time.Second
)

// ProviderSource looks up enabled providers; satisfied by [catalog.Aggregator].
type ProviderSource interface {
	Provider(id string) (providers.Provider, error)
}

// Recorder persists seconds streamed per item; satisfied by [repositories.PlaylogRepository].
type Recorder interface {
	Record(entry *models.PlaylogEntry) error
}

type requestKey struct{}

// WithRequest scopes resolutions made with ctx to request, e.g. a player id.
//
// Concurrent resolutions of the same item share one provider call only within the same request.
func WithRequest(ctx context.Context, request string) context.Context {
	return context.WithValue(ctx, requestKey{}, request)
}

func requestFrom(ctx context.Context) string {
	s, _ := ctx.Value(requestKey{}).(string)
	return s
}

// Resolver resolves stream details through the provider owning each candidate provider id.
type Resolver struct {
	source   ProviderSource
	recorder Recorder
	logger   *log.Logger
	now      func() time.Time

	reportTimeout time.Duration
	retryDelay    time.Duration

	group   singleflight.Group
	reports sync.WaitGroup
}

// Option configures a [Resolver].
type Option func(*Resolver)

// WithRecorder writes a playlog entry whenever a stream completes.
func WithRecorder(rec Recorder) Option {
	return func(r *Resolver) { r.recorder = rec }
}

// WithClock overrides the time source used for expiry checks.
func WithClock(now func() time.Time) Option {
	return func(r *Resolver) { r.now = now }
}

// WithRetryDelay sets the pause before the single retry of a failed report.
func WithRetryDelay(d time.Duration) Option {
	return func(r *Resolver) { r.retryDelay = d }
}

// New creates a Resolver.
func New(source ProviderSource, logger *log.Logger, opts ...Option) *Resolver {
	if logger == nil {
		logger = log.Default()
	}
	r := &Resolver{
		source:        source,
		logger:        shared.WithLogger(logger, "component", "stream"),
		now:           time.Now,
		reportTimeout: defaultReportTimeout,
		retryDelay:    defaultRetryDelay,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Candidates returns the available provider ids of item, highest quality first.
// Entries of equal quality keep their insertion order. An item without provider ids yields its own key.
func Candidates(item models.MediaItem) []models.ProviderID {
	b := item.Base()
	var out []models.ProviderID
	for _, pid := range b.ProviderIDs {
		if pid.Available {
			out = append(out, pid)
		}
	}
	if len(out) == 0 && len(b.ProviderIDs) == 0 {
		out = append(out, models.ProviderID{ItemID: b.ItemID, Provider: b.Provider, Available: true})
	}
	slices.SortStableFunc(out, func(a, b models.ProviderID) int {
		return cmp.Compare(b.Quality, a.Quality)
	})
	return out
}

// Resolve returns fresh stream details for item.
//
// Candidates are tried in [Candidates] order and the first success wins. When every candidate fails the error
// wraps [shared.ErrMediaNotFound]. A successful resolution reports playback started in the background and binds
// the details' completion to the stopped report.
func (r *Resolver) Resolve(ctx context.Context, item models.MediaItem) (*models.StreamDetails, error) {
	if item == nil {
		return nil, fmt.Errorf("%w: nil item", shared.ErrInvalidInput)
	}

	request := requestFrom(ctx)
	var errs []error
	for _, pid := range Candidates(item) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		p, err := r.source.Provider(pid.Provider)
		if err != nil {
			errs = append(errs, err)
			continue
		}

		sd, err := r.shared(ctx, p, pid.ItemID, request)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			r.logger.Debug("stream candidate failed", "provider", pid.Provider, "item", pid.ItemID, "error", err)
			errs = append(errs, err)
			continue
		}
		return sd, nil
	}

	uri := models.URIOf(item)
	if len(errs) == 0 {
		return nil, fmt.Errorf("%w: %s has no available provider", shared.ErrMediaNotFound, uri)
	}
	return nil, fmt.Errorf("%w: no playable stream for %s: %w", shared.ErrMediaNotFound, uri, errors.Join(errs...))
}

// shared runs one provider call per (provider, item, request) key, detached from the cancellation of any
// single caller. A caller whose ctx ends gets ctx.Err() and the call keeps running for the other callers; a
// result nobody receives is completed with 0 seconds.
func (r *Resolver) shared(ctx context.Context, p providers.Provider, itemID, request string) (*models.StreamDetails, error) {
	key := p.ID() + "\x00" + itemID + "\x00" + request
	ch := r.group.DoChan(key, func() (any, error) {
		return r.fetch(context.WithoutCancel(ctx), p, itemID, request)
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		sd := res.Val.(*models.StreamDetails)
		if err := ctx.Err(); err != nil {
			if !res.Shared {
				sd.Complete(0)
			}
			return nil, err
		}
		return sd, nil
	case <-ctx.Done():
		r.reports.Add(1)
		go func() {
			defer r.reports.Done()
			if res := <-ch; res.Err == nil && !res.Shared {
				res.Val.(*models.StreamDetails).Complete(0)
			}
		}()
		return nil, ctx.Err()
	}
}

// Ensure returns current while it is usable and re-resolves item once it is missing or expired.
func (r *Resolver) Ensure(ctx context.Context, item models.MediaItem, current *models.StreamDetails) (*models.StreamDetails, error) {
	if current != nil && !current.Expired(r.now()) {
		return current, nil
	}
	if current != nil {
		r.logger.Debug("stream expired, resolving again", "item", current.ItemID, "expired", current.Expires)
	}
	return r.Resolve(ctx, item)
}

func (r *Resolver) fetch(ctx context.Context, p providers.Provider, itemID, request string) (*models.StreamDetails, error) {
	sd, err := p.GetStreamDetails(ctx, itemID)
	if err != nil {
		return nil, err
	}
	if sd == nil {
		return nil, fmt.Errorf("%w: %s returned no stream for %s", shared.ErrMediaNotFound, p.ID(), itemID)
	}
	if sd.ItemID == "" {
		sd.ItemID = itemID
	}
	if sd.Provider == "" {
		sd.Provider = p.ID()
	}
	if sd.Expired(r.now()) {
		return nil, fmt.Errorf("%w: %s returned an expired stream for %s", shared.ErrMediaNotFound, p.ID(), itemID)
	}

	sd.SetOnComplete(func(seconds int) {
		r.background(ctx, func(ctx context.Context) {
			r.report(ctx, "stopped", p, sd, func(ctx context.Context) error {
				return p.ReportPlaybackStopped(ctx, sd, seconds)
			})
			r.record(sd, request, seconds)
		})
	})

	r.background(ctx, func(ctx context.Context) {
		r.report(ctx, "started", p, sd, func(ctx context.Context) error {
			return p.ReportPlaybackStarted(ctx, sd)
		})
	})
	return sd, nil
}

// background runs fn detached from the cancellation of ctx.
func (r *Resolver) background(ctx context.Context, fn func(ctx context.Context)) {
	r.reports.Add(1)
	go func() {
		defer r.reports.Done()
		fn(context.WithoutCancel(ctx))
	}()
}

// report calls send, retrying once. Failures are logged.
func (r *Resolver) report(ctx context.Context, kind string, p providers.Provider, sd *models.StreamDetails, send func(ctx context.Context) error) {
	var err error
	for attempt := range 2 {
		if attempt > 0 {
			time.Sleep(r.retryDelay)
		}
		tctx, cancel := context.WithTimeout(ctx, r.reportTimeout)
		err = send(tctx)
		cancel()
		if err == nil || errors.Is(err, shared.ErrUnsupportedFeature) {
			return
		}
	}
	r.logger.Warn("playback report failed", "report", kind, "provider", p.ID(), "item", sd.ItemID, "error", err)
}

func (r *Resolver) record(sd *models.StreamDetails, request string, seconds int) {
	if r.recorder == nil {
		return
	}
	entry := &models.PlaylogEntry{
		Provider: sd.Provider,
		ItemID:   sd.ItemID,
		PlayerID: request,
		Seconds:  seconds,
		PlayedAt: r.now(),
	}
	if err := r.recorder.Record(entry); err != nil {
		r.logger.Warn("failed to record playlog", "item", sd.ItemID, "error", err)
	}
}

// Wait blocks until every pending playback report has finished.
func (r *Resolver) Wait() {
	r.reports.Wait()
}
