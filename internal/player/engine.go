package player

import (
	"context"
	"fmt"
	"math/rand/v2"
	"slices"
	"strconv"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/jukebox/internal/models"
	"github.com/desertthunder/jukebox/internal/shared"
	"github.com/desertthunder/jukebox/internal/stream"
)

// errCancelled is returned to callers waiting on an attempt that was replaced or stopped.
var errCancelled = fmt.Errorf("playback attempt cancelled: %w", context.Canceled)

// Engine owns one queue per registered player and drives the player through its state machine.
//
// Each player is served by its own goroutine: commands for one player run in arrival order and commands for
// different players run concurrently.
type Engine struct {
	resolver Resolver
	logger   *log.Logger
	clock    Clock
	defaults models.QueueSettings
	volume   int
	shuffle  func(n int, swap func(i, j int))

	mu       sync.RWMutex
	sessions map[string]*session
	order    []string
}

// EngineOption configures an [Engine].
type EngineOption func(*Engine)

// WithClock replaces the real clock, e.g. with a [FakeClock].
func WithClock(c Clock) EngineOption {
	return func(e *Engine) { e.clock = c }
}

// WithDefaults sets the queue settings and volume of newly registered players.
func WithDefaults(settings models.QueueSettings, volume int) EngineOption {
	return func(e *Engine) {
		e.defaults = settings
		e.volume = volume
	}
}

// WithShuffler replaces [rand.Shuffle] for deterministic traversal orders.
func WithShuffler(fn func(n int, swap func(i, j int))) EngineOption {
	return func(e *Engine) { e.shuffle = fn }
}

// NewEngine creates an Engine resolving streams through resolver.
func NewEngine(resolver Resolver, logger *log.Logger, opts ...EngineOption) *Engine {
	if logger == nil {
		logger = log.Default()
	}
	e := &Engine{
		resolver: resolver,
		logger:   shared.WithLogger(logger, "component", "player"),
		clock:    RealClock(),
		defaults: models.QueueSettings{Repeat: models.RepeatNone, CrossfadeMode: models.CrossfadeDisabled},
		volume:   50,
		shuffle:  rand.Shuffle,
		sessions: make(map[string]*session),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Register creates the queue of p and starts serving its commands. Players start powered on and idle.
func (e *Engine) Register(p Player) error {
	if p == nil || p.ID() == "" {
		return fmt.Errorf("%w: player without id", shared.ErrInvalidInput)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.sessions[p.ID()]; ok {
		return fmt.Errorf("%w: player %s already registered", shared.ErrInvalidInput, p.ID())
	}

	s := &session{
		engine:   e,
		player:   p,
		logger:   shared.WithLogger(e.logger, "player", p.ID()),
		events:   make(chan func(), 16),
		done:     make(chan struct{}),
		stopped:  make(chan struct{}),
		queue:    newQueue(e.shuffle),
		settings: e.defaults,
		powered:  true,
		volume:   e.volume,
		state:    models.StateIdle,
	}
	s.queue.shuffled = e.defaults.Shuffle
	e.sessions[p.ID()] = s
	e.order = append(e.order, p.ID())
	go s.run()

	s.logger.Info("player registered", "name", p.Name())
	return nil
}

// Unregister ends the current attempt of the player and drops its queue.
func (e *Engine) Unregister(id string) error {
	e.mu.Lock()
	s, ok := e.sessions[id]
	if ok {
		delete(e.sessions, id)
		e.order = slices.DeleteFunc(e.order, func(o string) bool { return o == id })
	}
	e.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", shared.ErrPlayerNotFound, id)
	}

	close(s.done)
	<-s.stopped
	s.logger.Info("player unregistered")
	return nil
}

// Players returns the ids of the registered players in registration order.
func (e *Engine) Players() []string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return slices.Clone(e.order)
}

// Close unregisters every player.
func (e *Engine) Close() {
	for _, id := range e.Players() {
		_ = e.Unregister(id)
	}
}

func (e *Engine) session(id string) (*session, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	s, ok := e.sessions[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", shared.ErrPlayerNotFound, id)
	}
	return s, nil
}

// Execute runs cmd on the player. Volume takes the level as its single argument.
//
// Commands that start playback return once the first playable item has started or none could be played.
func (e *Engine) Execute(ctx context.Context, id string, cmd Command, args ...string) error {
	s, err := e.session(id)
	if err != nil {
		return err
	}

	var level int
	if cmd == CommandVolume {
		if len(args) != 1 {
			return fmt.Errorf("%w: volume level", shared.ErrMissingArgument)
		}
		level, err = strconv.Atoi(args[0])
		if err != nil || level < 0 || level > 100 {
			return fmt.Errorf("%w: volume must be between 0 and 100, got %q", shared.ErrInvalidArgument, args[0])
		}
	}

	return s.wait(ctx, func() (<-chan error, error) {
		if !s.powered && cmd != CommandPowerOn && cmd != CommandPowerOff {
			return nil, fmt.Errorf("%w: %s", shared.ErrPlayerOff, id)
		}
		switch cmd {
		case CommandPlay:
			return s.play(ctx)
		case CommandPause:
			return nil, s.pause(ctx)
		case CommandStop:
			return nil, s.stop(ctx)
		case CommandNext:
			return s.skip(ctx, false)
		case CommandPrevious:
			return s.skip(ctx, true)
		case CommandPowerOn:
			return nil, s.power(ctx, true)
		case CommandPowerOff:
			return nil, s.power(ctx, false)
		case CommandVolume:
			return nil, s.setVolume(ctx, level)
		default:
			return nil, fmt.Errorf("%w: %s", shared.ErrUnsupportedCommand, cmd)
		}
	})
}

// PlayMedia adds items to the queue of the player according to option.
//
// Play now replaces the queue and insert starts the inserted items right away; both return once playback
// started. Play next and append only start playback when the player has no current item.
func (e *Engine) PlayMedia(ctx context.Context, id string, items []models.MediaItem, option models.QueueOption) error {
	s, err := e.session(id)
	if err != nil {
		return err
	}
	wrapped := wrap(items, option)
	if len(wrapped) == 0 {
		return fmt.Errorf("%w: nothing to play", shared.ErrInvalidInput)
	}

	return s.wait(ctx, func() (<-chan error, error) {
		if !s.powered {
			return nil, fmt.Errorf("%w: %s", shared.ErrPlayerOff, id)
		}
		s.logger.Debug("queue media", "items", len(wrapped), "option", option)

		idle := s.queue.Current() == nil
		switch option {
		case models.QueueOptionPlayNow, "":
			s.queue.Replace(wrapped)
			return s.begin(0, nil), nil
		case models.QueueOptionPlayNext:
			s.queue.InsertNext(wrapped)
		case models.QueueOptionAppend:
			first := s.queue.Len()
			s.queue.Append(wrapped)
			if idle {
				return s.begin(first, nil), nil
			}
			return nil, nil
		case models.QueueOptionInsert:
			s.queue.InsertNext(wrapped)
			return s.begin(s.queue.pos+1, nil), nil
		default:
			return nil, fmt.Errorf("%w: queue option %q", shared.ErrInvalidArgument, option)
		}
		if idle {
			return s.begin(s.queue.pos+1, nil), nil
		}
		return nil, nil
	})
}

// SetShuffle toggles the shuffled traversal of the items after the current one.
func (e *Engine) SetShuffle(ctx context.Context, id string, on bool) error {
	return e.update(ctx, id, func(s *session) error {
		s.queue.SetShuffle(on)
		s.settings.Shuffle = on
		return nil
	})
}

// SetRepeat sets the repeat mode.
func (e *Engine) SetRepeat(ctx context.Context, id string, mode models.RepeatMode) error {
	return e.update(ctx, id, func(s *session) error {
		s.settings.Repeat = mode
		return nil
	})
}

// SetCrossfade sets the crossfade duration in seconds and mode. Timers of the playing item are rescheduled.
func (e *Engine) SetCrossfade(ctx context.Context, id string, seconds int, mode models.CrossfadeMode) error {
	if seconds < 0 {
		return fmt.Errorf("%w: crossfade duration must not be negative", shared.ErrInvalidArgument)
	}
	return e.update(ctx, id, func(s *session) error {
		s.settings.CrossfadeDuration = seconds
		s.settings.CrossfadeMode = mode
		if s.state == models.StatePlaying && s.attempt != nil {
			s.schedule(s.attempt)
		}
		return nil
	})
}

// Status returns a snapshot of the player.
func (e *Engine) Status(ctx context.Context, id string) (*models.PlayerStatus, error) {
	var status *models.PlayerStatus
	err := e.update(ctx, id, func(s *session) error {
		status = s.status()
		return nil
	})
	return status, err
}

// Queue returns the queue of the player in play order.
func (e *Engine) Queue(ctx context.Context, id string) ([]*models.QueueItem, error) {
	var items []*models.QueueItem
	err := e.update(ctx, id, func(s *session) error {
		items = s.queue.Items()
		return nil
	})
	return items, err
}

// StreamStopped is the reporting callback of players: it completes the stream of itemID with the seconds
// streamed. Playback does not advance; the queue moves on at the natural end of the item.
func (e *Engine) StreamStopped(id, itemID string, seconds int) error {
	s, err := e.session(id)
	if err != nil {
		return err
	}
	s.post(func() {
		if s.stream != nil && s.stream.ItemID == itemID {
			s.stream.Complete(seconds)
		}
	})
	return nil
}

func (e *Engine) update(ctx context.Context, id string, fn func(s *session) error) error {
	s, err := e.session(id)
	if err != nil {
		return err
	}
	return s.wait(ctx, func() (<-chan error, error) { return nil, fn(s) })
}

// attempt is the cancellation scope of one item being played on a player.
type attempt struct {
	token  string
	ctx    context.Context
	cancel context.CancelFunc
	timers []Timer

	waiter  chan error
	skipped int

	reuse      *models.StreamDetails
	preloading bool
	preloaded  *models.StreamDetails
	preloadID  string
}

func (a *attempt) stopTimers() {
	for _, t := range a.timers {
		t.Stop()
	}
	a.timers = nil
}

func (a *attempt) reply(err error) {
	if a.waiter != nil {
		a.waiter <- err
		a.waiter = nil
	}
}

type session struct {
	engine *Engine
	player Player
	logger *log.Logger

	events  chan func()
	done    chan struct{}
	stopped chan struct{}

	// owned by run
	queue      *queue
	settings   models.QueueSettings
	powered    bool
	volume     int
	state      models.PlayerState
	currentURL *string
	stream     *models.StreamDetails
	startedAt  time.Time
	elapsed    time.Duration
	attempt    *attempt
}

func (s *session) run() {
	defer close(s.stopped)
	for {
		select {
		case fn := <-s.events:
			fn()
		case <-s.done:
			s.end(s.elapsedSeconds())
			return
		}
	}
}

// post queues fn on the session goroutine. It never runs once the session is closed.
func (s *session) post(fn func()) {
	select {
	case s.events <- fn:
	case <-s.done:
	}
}

// wait runs fn on the session goroutine and, when fn hands back a channel, waits for the playback outcome.
func (s *session) wait(ctx context.Context, fn func() (<-chan error, error)) error {
	type result struct {
		waiter <-chan error
		err    error
	}
	resc := make(chan result, 1)
	select {
	case s.events <- func() {
		w, err := fn()
		resc <- result{w, err}
	}:
	case <-s.done:
		return fmt.Errorf("%w: %s", shared.ErrPlayerNotFound, s.player.ID())
	case <-ctx.Done():
		return ctx.Err()
	}

	var res result
	select {
	case res = <-resc:
	case <-s.stopped:
		return fmt.Errorf("%w: %s", shared.ErrPlayerNotFound, s.player.ID())
	case <-ctx.Done():
		return ctx.Err()
	}
	if res.err != nil || res.waiter == nil {
		return res.err
	}

	select {
	case err := <-res.waiter:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *session) now() time.Time { return s.engine.clock.Now() }

func (s *session) elapsedTime() time.Duration {
	if s.state == models.StatePlaying {
		return s.elapsed + s.now().Sub(s.startedAt)
	}
	return s.elapsed
}

func (s *session) elapsedSeconds() int {
	return int(s.elapsedTime() / time.Second)
}

// duration returns the length of the playing item, or 0 when it has no natural end.
func (s *session) duration() time.Duration {
	if s.stream != nil && s.stream.Duration > 0 {
		return time.Duration(s.stream.Duration) * time.Second
	}
	if cur := s.queue.Current(); cur != nil {
		return time.Duration(cur.Duration()) * time.Second
	}
	return 0
}

// end finishes the current attempt and completes the playing stream with seconds streamed.
func (s *session) end(seconds int) {
	if a := s.attempt; a != nil {
		a.stopTimers()
		a.cancel()
		a.reply(errCancelled)
		if a.preloaded != nil {
			a.preloaded.Complete(0)
		}
		s.attempt = nil
	}
	if s.stream != nil {
		s.stream.Complete(seconds)
		s.stream = nil
	}
}

// begin ends the current attempt and starts resolving the item at pos.
func (s *session) begin(pos int, reuse *models.StreamDetails) <-chan error {
	s.end(s.elapsedSeconds())

	ctx, cancel := context.WithCancel(stream.WithRequest(context.Background(), s.player.ID()))
	a := &attempt{
		token:  shared.GenerateID(),
		ctx:    ctx,
		cancel: cancel,
		waiter: make(chan error, 1),
		reuse:  reuse,
	}
	s.attempt = a
	s.elapsed = 0
	s.startedAt = s.now()
	s.queue.SetPos(pos)
	s.resolve(a)
	return a.waiter
}

func (s *session) resolve(a *attempt) {
	cur := s.queue.Current()
	if cur == nil {
		s.idle()
		a.reply(fmt.Errorf("%w: %s", shared.ErrQueueEmpty, s.player.ID()))
		s.attempt = nil
		a.cancel()
		return
	}
	s.logger.Debug("resolving", "item", cur.URI(), "attempt", a.token)

	reuse := a.reuse
	go func() {
		sd, err := s.engine.resolver.Ensure(a.ctx, cur.Item, reuse)
		s.post(func() { s.onResolved(a, cur, sd, err) })
	}()
}

func (s *session) onResolved(a *attempt, cur *models.QueueItem, sd *models.StreamDetails, err error) {
	if a.reuse != nil && sd != a.reuse {
		a.reuse.Complete(0)
	}
	a.reuse = nil
	if s.attempt != a {
		if sd != nil {
			sd.Complete(0)
		}
		return
	}

	if err == nil {
		if err = s.player.PlayURL(a.ctx, sd.DirectURL); err != nil {
			sd.Complete(0)
		}
	}
	if err != nil {
		s.logger.Warn("item not playable, skipping", "item", cur.URI(), "error", err)
		a.skipped++
		next, ok := s.queue.Next(s.settings.Repeat, false)
		if !ok || a.skipped >= s.queue.Len() {
			s.logger.Warn("nothing playable left in queue")
			s.idle()
			a.reply(fmt.Errorf("%w: nothing playable in queue of %s", shared.ErrMediaNotFound, s.player.ID()))
			s.attempt = nil
			a.cancel()
			return
		}
		s.queue.SetPos(next)
		s.resolve(a)
		return
	}

	s.started(a, sd)
	a.reply(nil)
}

// started makes sd the playing stream of attempt a.
func (s *session) started(a *attempt, sd *models.StreamDetails) {
	url := sd.DirectURL
	s.stream = sd
	s.currentURL = &url
	s.state = models.StatePlaying
	s.elapsed = 0
	s.startedAt = s.now()
	s.schedule(a)
	s.logger.Info("playing", "item", s.queue.Current().URI(), "provider", sd.Provider)
}

// schedule arms the end and preload timers of a from the elapsed time of the playing item.
func (s *session) schedule(a *attempt) {
	a.stopTimers()
	total := s.duration()
	if total <= 0 {
		return
	}
	remaining := max(total-s.elapsedTime(), 0)
	a.timers = append(a.timers, s.engine.clock.AfterFunc(remaining, func() {
		s.post(func() { s.onEnded(a) })
	}))

	if !s.settings.CrossfadeEnabled() || a.preloading {
		return
	}
	lead := remaining - s.settings.Crossfade()
	if lead <= 0 {
		s.post(func() { s.onPreload(a) })
		return
	}
	a.timers = append(a.timers, s.engine.clock.AfterFunc(lead, func() {
		s.post(func() { s.onPreload(a) })
	}))
}

func (s *session) onPreload(a *attempt) {
	if s.attempt != a || s.state != models.StatePlaying || a.preloading {
		return
	}
	pos, ok := s.queue.Next(s.settings.Repeat, true)
	if !ok || pos == s.queue.pos {
		return
	}
	next := s.queue.At(pos)
	a.preloading = true
	s.logger.Debug("preloading", "item", next.URI(), "attempt", a.token)
	go func() {
		sd, err := s.engine.resolver.Ensure(a.ctx, next.Item, nil)
		s.post(func() { s.onPreloaded(a, next, sd, err) })
	}()
}

// onPreloaded crossfades into the next item or keeps its stream for a hard cut at the natural end.
func (s *session) onPreloaded(a *attempt, next *models.QueueItem, sd *models.StreamDetails, err error) {
	if s.attempt != a || a.preloaded != nil {
		if sd != nil {
			sd.Complete(0)
		}
		return
	}
	if err != nil {
		s.logger.Warn("preload failed, cutting over at the end", "item", next.URI(), "error", err)
		return
	}

	pos, ok := s.queue.Next(s.settings.Repeat, true)
	if !ok || s.queue.At(pos).QueueItemID != next.QueueItemID {
		sd.Complete(0)
		return
	}

	cur := s.queue.Current()
	cf, canFade := s.player.(Crossfader)
	if s.state == models.StatePlaying && canFade && s.settings.CrossfadeMode.Applies(cur.Item, next.Item, s.stream, sd) {
		err := cf.CrossfadeURL(a.ctx, sd.DirectURL, s.settings.Crossfade())
		if err == nil {
			s.started(s.handoff(pos), sd)
			return
		}
		s.logger.Warn("crossfade failed, cutting over at the end", "item", next.URI(), "error", err)
	}
	a.preloaded = sd
	a.preloadID = next.QueueItemID
}

// handoff replaces the current attempt without resolving, for transitions whose stream is already playing.
func (s *session) handoff(pos int) *attempt {
	s.end(s.elapsedSeconds())
	ctx, cancel := context.WithCancel(stream.WithRequest(context.Background(), s.player.ID()))
	a := &attempt{token: shared.GenerateID(), ctx: ctx, cancel: cancel}
	s.attempt = a
	s.queue.SetPos(pos)
	return a
}

func (s *session) onEnded(a *attempt) {
	if s.attempt != a {
		return
	}
	if s.stream != nil {
		s.stream.Complete(int(s.duration() / time.Second))
		s.stream = nil
	}

	pos, ok := s.queue.Next(s.settings.Repeat, true)
	if !ok {
		s.logger.Info("queue finished")
		s.end(0)
		s.idle()
		return
	}

	var reuse *models.StreamDetails
	if a.preloaded != nil && s.queue.At(pos).QueueItemID == a.preloadID {
		reuse = a.preloaded
		a.preloaded = nil
	}
	s.begin(pos, reuse)
}

func (s *session) idle() {
	s.state = models.StateIdle
	s.elapsed = 0
}

func (s *session) play(ctx context.Context) (<-chan error, error) {
	switch s.state {
	case models.StatePlaying:
		return nil, nil
	case models.StatePaused:
		if err := s.player.Play(ctx); err != nil {
			return nil, err
		}
		s.state = models.StatePlaying
		s.startedAt = s.now()
		if s.attempt != nil {
			s.schedule(s.attempt)
		}
		return nil, nil
	}

	if s.queue.Len() == 0 {
		return nil, fmt.Errorf("%w: %s", shared.ErrQueueEmpty, s.player.ID())
	}
	return s.begin(max(s.queue.pos, 0), nil), nil
}

func (s *session) pause(ctx context.Context) error {
	if s.state != models.StatePlaying {
		return nil
	}
	if err := s.player.Pause(ctx); err != nil {
		return err
	}
	s.elapsed = s.elapsedTime()
	s.state = models.StatePaused
	if s.attempt != nil {
		s.attempt.stopTimers()
	}
	return nil
}

func (s *session) stop(ctx context.Context) error {
	s.end(s.elapsedSeconds())
	s.idle()
	return s.player.Stop(ctx)
}

func (s *session) skip(ctx context.Context, back bool) (<-chan error, error) {
	if s.queue.Len() == 0 {
		return nil, fmt.Errorf("%w: %s", shared.ErrQueueEmpty, s.player.ID())
	}
	pos, ok := s.queue.Next(s.settings.Repeat, false)
	if back {
		pos, ok = s.queue.Previous(s.settings.Repeat)
	}
	if !ok {
		s.end(s.elapsedSeconds())
		s.idle()
		return nil, s.player.Stop(ctx)
	}
	return s.begin(pos, nil), nil
}

func (s *session) power(ctx context.Context, on bool) error {
	if !on {
		s.end(s.elapsedSeconds())
		s.idle()
		s.currentURL = nil
	}
	if err := s.player.Power(ctx, on); err != nil {
		return err
	}
	s.powered = on
	return nil
}

func (s *session) setVolume(ctx context.Context, level int) error {
	if err := s.player.VolumeSet(ctx, level); err != nil {
		return err
	}
	s.volume = level
	return nil
}

func (s *session) status() *models.PlayerStatus {
	st := &models.PlayerStatus{
		PlayerID:     s.player.ID(),
		Name:         s.player.Name(),
		Powered:      s.powered,
		VolumeLevel:  s.volume,
		ElapsedTime:  s.elapsedSeconds(),
		State:        s.state,
		CurrentIndex: s.queue.CurrentIndex(),
		CurrentItem:  s.queue.Current(),
		Settings:     s.settings,
		QueueLength:  s.queue.Len(),
	}
	if s.currentURL != nil {
		url := *s.currentURL
		st.CurrentURL = &url
	}
	return st
}
