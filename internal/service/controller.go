package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"delaycast/internal/candles"
	"delaycast/internal/feed"
	"delaycast/internal/model"
	"delaycast/internal/series"
	"delaycast/internal/view"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// MarketResolver turns a user supplied market URL into a token pair.
type MarketResolver interface {
	Resolve(ctx context.Context, marketURL string) (model.MarketRef, error)
}

// HistoryFetcher fetches recent probability history for one token.
type HistoryFetcher interface {
	FetchHistory(ctx context.Context, tokenID string, tf candles.Timeframe) ([]model.PricePoint, error)
}

// TickSource streams book updates for a set of tokens until ctx is cancelled.
type TickSource interface {
	Subscribe(ctx context.Context, tokenIDs []string) (<-chan model.BookUpdate, error)
}

// SubscriptionManager fans views out to consumers.
type SubscriptionManager interface {
	Subscribe() (*Subscriber, error)
	Unsubscribe(sub *Subscriber) error
	StartDispatching(ctx context.Context, ch <-chan view.ViewModel) error
}

// Transport names reported in the view.
const (
	TransportNone = ""
	TransportPush = "push"
	TransportPull = "pull"
)

var (
	ErrNotStarted = errors.New("controller not started")
	// ErrSuperseded is returned when a newer market request was issued while
	// this one was resolving.
	ErrSuperseded = errors.New("market request superseded by a newer one")
)

// Settings are the user controlled view parameters.
type Settings struct {
	Delay     time.Duration
	Timeframe candles.Timeframe
	Outcome   model.Outcome
}

// SettingsUpdate carries the settings to change. Nil fields are left as they are.
type SettingsUpdate struct {
	Delay     *time.Duration
	Timeframe *candles.Timeframe
	Outcome   *model.Outcome
}

// ControllerConfig configures a Controller.
type ControllerConfig struct {
	Defaults        Settings
	RefreshInterval time.Duration
	Series          series.Options
	MaxCandles      int
	ResolveTimeout  time.Duration

	// Now is the clock used for tick timestamps and view cutoffs.
	Now func() time.Time
}

// Sources groups the upstream collaborators. Pull may be nil, in which case
// there is no fallback when the push transport fails.
type Sources struct {
	Resolver MarketResolver
	History  HistoryFetcher
	Push     TickSource
	Pull     TickSource
}

// Controller owns the active market session, backfill and settings.
//
// All of that state lives in the loop goroutine. Ticks, clock ticks, commands
// and asynchronous results reach it over channels and are handled one at a
// time, so applying a tick and publishing the resulting view never interleave
// with anything else.
//
// Asynchronous work is tagged: transports and backfill requests carry the
// activation or backfill generation that started them and market resolutions
// carry a request sequence. Results from an older generation or sequence are
// dropped before they can touch state.
type Controller struct {
	cfg        ControllerConfig
	src        Sources
	dispatcher SubscriptionManager

	marketCh    chan marketResult
	settingsCh  chan settingsCmd
	snapshotCh  chan chan view.ViewModel
	backfillCh  chan backfillResult
	transportCh chan transportResult

	resolveSeq atomic.Uint64

	// started is set only after cancel is assigned, so readers that observe
	// it also see a fully initialised controller. done is allocated once in
	// NewController and closed when the loop exits.
	mu      sync.Mutex
	started atomic.Bool
	used    bool
	cancel  context.CancelFunc
	done    chan struct{}
}

type marketResult struct {
	seq   uint64
	ref   model.MarketRef
	err   error
	reply chan error
}

type settingsCmd struct {
	update SettingsUpdate
	reply  chan Settings
}

type backfillResult struct {
	gen    uint64
	points []model.PricePoint
}

type transportResult struct {
	gen   uint64
	kind  string
	ticks <-chan model.BookUpdate
	err   error
}

// loopState is owned by the loop goroutine.
type loopState struct {
	settings Settings
	session  *feed.Session
	lastErr  string

	activationGen uint64
	feedCtx       context.Context
	feedCancel    context.CancelFunc
	ticks         <-chan model.BookUpdate
	transport     string

	backfillGen    uint64
	backfillCancel context.CancelFunc
	backfill       []model.PricePoint
}

// NewController creates a Controller. Zero config values fall back to defaults.
func NewController(cfg ControllerConfig, src Sources, dispatcher SubscriptionManager) *Controller {
	if cfg.RefreshInterval <= 0 {
		cfg.RefreshInterval = 250 * time.Millisecond
	}
	if cfg.ResolveTimeout <= 0 {
		cfg.ResolveTimeout = 15 * time.Second
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if !cfg.Defaults.Outcome.Valid() {
		cfg.Defaults.Outcome = model.OutcomeYes
	}
	if cfg.Defaults.Timeframe.Interval <= 0 {
		cfg.Defaults.Timeframe, _ = candles.LookupTimeframe(candles.DefaultTimeframe)
	}

	return &Controller{
		cfg:         cfg,
		src:         src,
		dispatcher:  dispatcher,
		marketCh:    make(chan marketResult),
		settingsCh:  make(chan settingsCmd),
		snapshotCh:  make(chan chan view.ViewModel),
		backfillCh:  make(chan backfillResult, 4),
		transportCh: make(chan transportResult, 4),
		done:        make(chan struct{}),
	}
}

// Start launches the loop and the dispatcher. A controller runs once; it
// cannot be started again after Stop.
func (c *Controller) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.started.Load() {
		return errors.New("controller has already started")
	}
	if c.used {
		return errors.New("controller cannot be restarted")
	}

	ctx, cancel := context.WithCancel(ctx)
	views := make(chan view.ViewModel, 64)

	if err := c.dispatcher.StartDispatching(ctx, views); err != nil {
		cancel()
		return fmt.Errorf("failed to start dispatching: %w", err)
	}

	c.used = true
	c.cancel = cancel
	go c.loop(ctx, views)
	c.started.Store(true)

	log.Info().
		Dur("refresh", c.cfg.RefreshInterval).
		Dur("delay", c.cfg.Defaults.Delay).
		Str("timeframe", c.cfg.Defaults.Timeframe.Name).
		Msg("controller started")
	return nil
}

// Stop cancels the loop, every transport and pending backfill, and waits for
// the loop to exit.
func (c *Controller) Stop() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.started.CompareAndSwap(true, false) {
		return errors.New("controller not started")
	}

	c.cancel()
	<-c.done
	log.Info().Msg("controller stopped")
	return nil
}

// Subscribe registers a view consumer.
func (c *Controller) Subscribe() (*Subscriber, error) {
	if !c.started.Load() {
		return nil, ErrNotStarted
	}
	return c.dispatcher.Subscribe()
}

// Unsubscribe removes a view consumer.
func (c *Controller) Unsubscribe(sub *Subscriber) error {
	return c.dispatcher.Unsubscribe(sub)
}

// SetMarket resolves marketURL in the caller's goroutine and hands the result
// to the loop. Only the newest request is applied; older ones get
// ErrSuperseded. A resolution error is recorded in the view and returned, and
// leaves any active market untouched.
func (c *Controller) SetMarket(ctx context.Context, marketURL string) (model.MarketRef, error) {
	if !c.started.Load() {
		return model.MarketRef{}, ErrNotStarted
	}

	seq := c.resolveSeq.Add(1)

	rctx, cancel := context.WithTimeout(ctx, c.cfg.ResolveTimeout)
	ref, err := c.src.Resolver.Resolve(rctx, marketURL)
	cancel()

	res := marketResult{seq: seq, ref: ref, err: err, reply: make(chan error, 1)}
	select {
	case c.marketCh <- res:
	case <-ctx.Done():
		return model.MarketRef{}, ctx.Err()
	case <-c.done:
		return model.MarketRef{}, ErrNotStarted
	}

	var applyErr error
	select {
	case applyErr = <-res.reply:
	case <-ctx.Done():
		return model.MarketRef{}, ctx.Err()
	case <-c.done:
		return model.MarketRef{}, ErrNotStarted
	}

	if err != nil {
		return model.MarketRef{}, err
	}
	if applyErr != nil {
		return model.MarketRef{}, applyErr
	}
	return ref, nil
}

// UpdateSettings applies u and returns the resulting settings. Values are
// expected to be validated by the caller.
func (c *Controller) UpdateSettings(ctx context.Context, u SettingsUpdate) (Settings, error) {
	if !c.started.Load() {
		return Settings{}, ErrNotStarted
	}

	cmd := settingsCmd{update: u, reply: make(chan Settings, 1)}
	select {
	case c.settingsCh <- cmd:
	case <-ctx.Done():
		return Settings{}, ctx.Err()
	case <-c.done:
		return Settings{}, ErrNotStarted
	}

	select {
	case s := <-cmd.reply:
		return s, nil
	case <-ctx.Done():
		return Settings{}, ctx.Err()
	case <-c.done:
		return Settings{}, ErrNotStarted
	}
}

// Snapshot derives the current view.
func (c *Controller) Snapshot(ctx context.Context) (view.ViewModel, error) {
	if !c.started.Load() {
		return view.ViewModel{}, ErrNotStarted
	}

	reply := make(chan view.ViewModel, 1)
	select {
	case c.snapshotCh <- reply:
	case <-ctx.Done():
		return view.ViewModel{}, ctx.Err()
	case <-c.done:
		return view.ViewModel{}, ErrNotStarted
	}

	select {
	case vm := <-reply:
		return vm, nil
	case <-ctx.Done():
		return view.ViewModel{}, ctx.Err()
	case <-c.done:
		return view.ViewModel{}, ErrNotStarted
	}
}

func (c *Controller) loop(ctx context.Context, views chan view.ViewModel) {
	logger := log.With().Str("component", "controller").Logger()
	st := &loopState{settings: c.cfg.Defaults}

	ticker := time.NewTicker(c.cfg.RefreshInterval)

	defer func() {
		ticker.Stop()
		c.stopFeed(st)
		c.stopBackfill(st)
		close(views)
		close(c.done)
		logger.Info().Msg("controller loop exiting")
	}()

	c.publish(st, views)

	for {
		select {
		case <-ctx.Done():
			return

		case <-ticker.C:
			c.publish(st, views)

		case u, ok := <-st.ticks:
			if !ok {
				c.onTicksClosed(ctx, st, logger)
				c.publish(st, views)
				continue
			}
			if st.session != nil && st.session.Apply(u, c.nowMs()) {
				c.publish(st, views)
			}

		case res := <-c.marketCh:
			res.reply <- c.onMarket(ctx, st, res, logger)
			c.publish(st, views)

		case cmd := <-c.settingsCh:
			c.onSettings(ctx, st, cmd.update, logger)
			cmd.reply <- st.settings
			c.publish(st, views)

		case reply := <-c.snapshotCh:
			reply <- c.derive(st)

		case res := <-c.backfillCh:
			if res.gen != st.backfillGen {
				logger.Debug().Uint64("gen", res.gen).Uint64("current", st.backfillGen).Msg("dropping stale backfill")
				continue
			}
			st.backfill = res.points
			logger.Info().Int("points", len(res.points)).Msg("backfill merged")
			c.publish(st, views)

		case res := <-c.transportCh:
			c.onTransport(st, res, logger)
			c.publish(st, views)
		}
	}
}

func (c *Controller) onMarket(ctx context.Context, st *loopState, res marketResult, logger zerolog.Logger) error {
	if res.seq != c.resolveSeq.Load() {
		logger.Debug().Uint64("seq", res.seq).Msg("dropping superseded market resolution")
		return ErrSuperseded
	}

	if res.err != nil {
		st.lastErr = res.err.Error()
		logger.Warn().Err(res.err).Msg("market resolution failed")
		return nil
	}

	st.lastErr = ""
	if st.session != nil && st.session.Relabel(res.ref) {
		logger.Info().Str("question", res.ref.Question).Msg("market unchanged, labels refreshed")
		return nil
	}

	c.activate(ctx, st, res.ref, logger)
	return nil
}

// activate replaces the session, cancels every in-flight task of the previous
// market and starts the push transport and a backfill for the new one.
func (c *Controller) activate(ctx context.Context, st *loopState, ref model.MarketRef, logger zerolog.Logger) {
	c.stopFeed(st)
	c.stopBackfill(st)

	st.session = feed.NewSession(ref, c.cfg.Series)
	st.backfill = nil
	st.activationGen++

	logger.Info().
		Str("question", ref.Question).
		Str("yes", ref.YesTokenID).
		Str("no", ref.NoTokenID).
		Uint64("gen", st.activationGen).
		Msg("market activated")

	feedCtx, cancel := context.WithCancel(ctx)
	st.feedCtx, st.feedCancel = feedCtx, cancel

	if c.src.Push != nil {
		c.startTransport(feedCtx, st.activationGen, TransportPush, c.src.Push, ref)
	} else if c.src.Pull != nil {
		c.startTransport(feedCtx, st.activationGen, TransportPull, c.src.Pull, ref)
	}

	c.requestBackfill(ctx, st)
}

// startTransport subscribes outside the loop because dialing can block.
func (c *Controller) startTransport(ctx context.Context, gen uint64, kind string, src TickSource, ref model.MarketRef) {
	ids := []string{ref.YesTokenID, ref.NoTokenID}
	go func() {
		ticks, err := src.Subscribe(ctx, ids)
		select {
		case c.transportCh <- transportResult{gen: gen, kind: kind, ticks: ticks, err: err}:
		case <-ctx.Done():
		}
	}()
}

func (c *Controller) onTransport(st *loopState, res transportResult, logger zerolog.Logger) {
	if res.gen != st.activationGen || st.session == nil {
		logger.Debug().Uint64("gen", res.gen).Msg("dropping stale transport")
		return
	}

	if res.err != nil {
		logger.Warn().Err(res.err).Str("transport", res.kind).Msg("transport subscription failed")
		if res.kind == TransportPush {
			c.fallbackToPull(st, logger)
		}
		return
	}

	st.ticks = res.ticks
	st.transport = res.kind
	logger.Info().Str("transport", res.kind).Msg("transport connected")
}

func (c *Controller) onTicksClosed(ctx context.Context, st *loopState, logger zerolog.Logger) {
	st.ticks = nil
	kind := st.transport
	st.transport = TransportNone

	if ctx.Err() != nil || st.session == nil {
		return
	}

	logger.Warn().Str("transport", kind).Msg("tick stream closed")
	if kind == TransportPush {
		c.fallbackToPull(st, logger)
	}
}

func (c *Controller) fallbackToPull(st *loopState, logger zerolog.Logger) {
	if c.src.Pull == nil || st.session == nil || st.feedCtx == nil {
		return
	}
	logger.Info().Msg("falling back to polling")
	c.startTransport(st.feedCtx, st.activationGen, TransportPull, c.src.Pull, st.session.Market())
}

func (c *Controller) onSettings(ctx context.Context, st *loopState, u SettingsUpdate, logger zerolog.Logger) {
	refetch := false

	if u.Delay != nil {
		st.settings.Delay = *u.Delay
	}
	if u.Timeframe != nil && u.Timeframe.Name != st.settings.Timeframe.Name {
		st.settings.Timeframe = *u.Timeframe
		refetch = true
	}
	if u.Outcome != nil && *u.Outcome != st.settings.Outcome {
		st.settings.Outcome = *u.Outcome
		refetch = true
	}

	logger.Info().
		Dur("delay", st.settings.Delay).
		Str("timeframe", st.settings.Timeframe.Name).
		Str("outcome", string(st.settings.Outcome)).
		Msg("settings updated")

	if refetch && st.session != nil {
		c.requestBackfill(ctx, st)
	}
}

// requestBackfill drops the current backfill and fetches history for the
// selected outcome and timeframe. A failed fetch yields an empty backfill.
func (c *Controller) requestBackfill(ctx context.Context, st *loopState) {
	c.stopBackfill(st)
	st.backfill = nil

	if c.src.History == nil || st.session == nil {
		return
	}

	st.backfillGen++
	gen := st.backfillGen
	tokenID := st.session.Market().TokenID(st.settings.Outcome)
	tf := st.settings.Timeframe

	bctx, cancel := context.WithCancel(ctx)
	st.backfillCancel = cancel

	go func() {
		points, err := c.src.History.FetchHistory(bctx, tokenID, tf)
		if err != nil {
			if bctx.Err() == nil {
				log.Warn().Err(err).Str("token", tokenID).Msg("backfill failed, continuing with live data only")
			}
			points = []model.PricePoint{}
		}
		select {
		case c.backfillCh <- backfillResult{gen: gen, points: points}:
		case <-bctx.Done():
		}
	}()
}

func (c *Controller) stopFeed(st *loopState) {
	if st.feedCancel != nil {
		st.feedCancel()
		st.feedCancel = nil
	}
	st.feedCtx = nil
	st.ticks = nil
	st.transport = TransportNone
}

func (c *Controller) stopBackfill(st *loopState) {
	if st.backfillCancel != nil {
		st.backfillCancel()
		st.backfillCancel = nil
	}
}

func (c *Controller) derive(st *loopState) view.ViewModel {
	s := view.State{
		Outcome:    st.settings.Outcome,
		NowMs:      c.nowMs(),
		Delay:      st.settings.Delay,
		Timeframe:  st.settings.Timeframe,
		MaxCandles: c.cfg.MaxCandles,
		Transport:  st.transport,
		Err:        st.lastErr,
	}
	if st.session != nil {
		market := st.session.Market()
		s.Market = &market
		s.Live = st.session.Series(st.settings.Outcome)
		s.Backfill = st.backfill
	}
	return view.Derive(s)
}

// publish derives the view and offers it to the dispatcher, dropping the
// oldest queued view when the dispatcher falls behind.
func (c *Controller) publish(st *loopState, views chan view.ViewModel) {
	vm := c.derive(st)
	select {
	case views <- vm:
	default:
		select {
		case <-views:
		default:
		}
		select {
		case views <- vm:
		default:
		}
	}
}

func (c *Controller) nowMs() int64 {
	return c.cfg.Now().UnixMilli()
}
