package goSession

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/MrEthical07/goSession/api"
	"github.com/MrEthical07/goSession/gateway"
	"github.com/MrEthical07/goSession/internal/events"
	"github.com/MrEthical07/goSession/jwt"
	"github.com/MrEthical07/goSession/refresh"
	"github.com/MrEthical07/goSession/session"
	"github.com/MrEthical07/goSession/storage"
)

type subscriber struct {
	id uint64
	fn func(Snapshot)
}

// Controller owns one dashboard session. Build it with New().Build().
type Controller struct {
	cfg     Config
	log     zerolog.Logger
	kv      storage.Storage
	creds   *session.CredentialStore
	sel     *session.SelectionStore
	coord   *refresh.Coordinator
	gw      *gateway.Gateway
	api     *api.Client
	metrics *Metrics
	events  *events.Dispatcher

	mu sync.Mutex
	// orgs and projects are nil until loaded; projectsFor is the organization
	// the project list belongs to.
	orgs        []Organization
	projects    []Project
	projectsFor string
	// authEpoch changes on every login, register and teardown. selGen changes
	// on every selection, explicit or automatic.
	authEpoch   uint64
	selGen      uint64
	orgSeq      uint64
	orgApplied  uint64
	projSeq     uint64
	projApplied uint64
	generation  uint64
	closed      bool

	subs       []subscriber
	nextSub    uint64
	pending    []Snapshot
	delivering bool

	unsubAuth func()
	bgCtx     context.Context
	bgCancel  context.CancelFunc
	bg        sync.WaitGroup
}

func newController(ctx context.Context, cfg Config, kv storage.Storage, client *http.Client, log zerolog.Logger, sink EventSink) (*Controller, error) {
	c := &Controller{
		cfg:     cfg,
		log:     log.With().Str("component", "controller").Logger(),
		kv:      kv,
		metrics: NewMetrics(cfg.Metrics),
	}

	restored, purged, err := c.restore(ctx)
	if err != nil {
		return nil, err
	}

	base := strings.TrimRight(cfg.API.BaseURL, "/")
	c.coord, err = refresh.NewCoordinator(c.creds, refresh.Options{
		URL:              base + cfg.API.RefreshPath,
		Client:           client,
		Timeout:          cfg.API.RefreshTimeout,
		UserAgent:        cfg.API.UserAgent,
		MaxResponseBytes: cfg.API.MaxResponseBytes,
		Logger:           log,
		Hooks: refresh.Hooks{
			OnSkip:    func() { c.metrics.Inc(MetricRefreshSkipped) },
			OnRequest: func() { c.metrics.Inc(MetricRefreshRequested) },
			OnAttempt: func() { c.metrics.Inc(MetricRefreshAttempt) },
			OnResult: func(ok bool, elapsed time.Duration) {
				if ok {
					c.metrics.Inc(MetricRefreshSuccess)
				} else {
					c.metrics.Inc(MetricRefreshFailure)
				}
				c.metrics.Observe(MetricRefreshLatency, elapsed)
			},
		},
	})
	if err != nil {
		return nil, err
	}

	c.gw, err = gateway.New(c.creds, c.coord, gateway.Options{
		BaseURL:          base,
		Client:           client,
		Timeout:          cfg.API.Timeout,
		UserAgent:        cfg.API.UserAgent,
		MaxResponseBytes: cfg.API.MaxResponseBytes,
		Logger:           log,
		Hooks: gateway.Hooks{
			OnComplete: func(r gateway.Result, elapsed time.Duration) {
				c.metrics.Observe(MetricRequestLatency, elapsed)
				if !r.Success {
					c.metrics.Inc(MetricRequestFailure)
				}
			},
			OnRetry:       func() { c.metrics.Inc(MetricRequestRetried) },
			OnAuthExpired: func() { c.metrics.Inc(MetricAuthExpired) },
		},
	})
	if err != nil {
		return nil, err
	}
	c.unsubAuth = c.gw.OnAuthError(c.onAuthError)
	c.api = api.NewClient(c.gw, api.Paths{Login: cfg.API.LoginPath, Register: cfg.API.RegisterPath})

	c.events = events.NewDispatcher(events.Config{
		Enabled:    cfg.Events.Enabled,
		BufferSize: cfg.Events.BufferSize,
		DropIfFull: cfg.Events.DropIfFull,
	}, sink)
	c.bgCtx, c.bgCancel = context.WithCancel(context.Background())

	switch {
	case restored:
		snap := c.Snapshot()
		c.log.Info().Str("user_id", snap.User.ID).Str("state", snap.State.String()).Msg("session restored")
		c.emit(ctx, EventSessionRestored, snap, nil, nil)
	case purged:
		c.log.Warn().Msg("incomplete persisted session discarded")
		c.emit(ctx, EventSessionPurged, Snapshot{}, nil, nil)
	}

	if restored && cfg.Session.RevalidateOnStart {
		c.goBackground(func(ctx context.Context) {
			if err := c.Revalidate(ctx); err != nil && !errors.Is(err, ErrControllerClosed) {
				c.log.Warn().Err(err).Msg("startup revalidation failed")
			}
		})
	}
	if w, ok := kv.(storage.Watcher); ok && cfg.Session.WatchStorage {
		c.goBackground(func(ctx context.Context) {
			err := w.Watch(ctx, func() {
				if err := c.Resync(ctx); err != nil && !errors.Is(err, ErrControllerClosed) {
					c.log.Warn().Err(err).Msg("storage resync failed")
				}
			})
			if err != nil && ctx.Err() == nil {
				c.log.Error().Err(err).Msg("storage watch stopped")
			}
		})
	}
	return c, nil
}

// restore loads persisted state. A session is restored only when both the
// access token and the user are present; anything else is purged.
func (c *Controller) restore(ctx context.Context) (restored, purged bool, err error) {
	if err := c.openStores(ctx); err != nil {
		if !errors.Is(err, session.ErrCorruptState) {
			return false, false, err
		}
		c.log.Warn().Err(err).Msg("discarding corrupt persisted session")
		if err := c.kv.Remove(ctx, session.AllKeys...); err != nil {
			return false, false, fmt.Errorf("purge corrupt session: %w", err)
		}
		if err := c.openStores(ctx); err != nil {
			return false, false, err
		}
		purged = true
	}

	cred, sel := c.creds.Get(), c.sel.Get()
	if cred.Authenticated() && sel.User != nil {
		if sel.Organization == nil {
			if err := c.kv.Remove(ctx, session.KeyProject); err != nil {
				return false, false, fmt.Errorf("drop orphan project: %w", err)
			}
		}
		return true, purged, nil
	}
	if cred.Authenticated() || cred.CanRefresh() || sel.User != nil || sel.Organization != nil {
		if err := errors.Join(c.creds.Clear(ctx), c.sel.Clear(ctx)); err != nil {
			return false, false, fmt.Errorf("purge incomplete session: %w", err)
		}
		purged = true
	}
	return false, purged, nil
}

func (c *Controller) openStores(ctx context.Context) error {
	creds, err := session.NewCredentialStore(ctx, c.kv)
	if err != nil {
		return err
	}
	sel, err := session.NewSelectionStore(ctx, c.kv)
	if err != nil {
		return err
	}
	c.creds, c.sel = creds, sel
	return nil
}

func (c *Controller) goBackground(fn func(ctx context.Context)) {
	c.bg.Add(1)
	go func() {
		defer c.bg.Done()
		fn(c.bgCtx)
	}()
}

// Snapshot returns the current committed state.
func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked()
}

func (c *Controller) snapshotLocked() Snapshot {
	s := c.sel.Get()
	snap := Snapshot{
		User:         s.User,
		Organization: s.Organization,
		Project:      s.Project,
		State:        deriveState(s.User, s.Organization, s.Project),
		Generation:   c.generation,
	}
	if c.orgs != nil {
		snap.Organizations = append([]Organization{}, c.orgs...)
	}
	if c.projects != nil {
		snap.Projects = append([]Project{}, c.projects...)
	}
	return snap
}

// Subscribe registers fn to receive every published Snapshot, in commit
// order. fn runs on the goroutine that committed the transition, or on the
// one already delivering, and must not block for long.
func (c *Controller) Subscribe(fn func(Snapshot)) (unsubscribe func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.nextSub++
	id := c.nextSub
	c.subs = append(c.subs, subscriber{id: id, fn: fn})

	var once sync.Once
	return func() {
		once.Do(func() {
			c.mu.Lock()
			defer c.mu.Unlock()
			for i, s := range c.subs {
				if s.id == id {
					c.subs = append(c.subs[:i:i], c.subs[i+1:]...)
					return
				}
			}
		})
	}
}

// publishLocked queues the committed state for delivery and returns it. The
// caller must call flush after releasing mu.
func (c *Controller) publishLocked() Snapshot {
	c.generation++
	snap := c.snapshotLocked()
	c.pending = append(c.pending, snap)
	return snap
}

// flush delivers queued snapshots. Only one goroutine delivers at a time so
// subscribers see transitions in commit order.
func (c *Controller) flush() {
	c.mu.Lock()
	if c.delivering {
		c.mu.Unlock()
		return
	}
	c.delivering = true
	for len(c.pending) > 0 {
		batch := c.pending
		c.pending = nil
		subs := append([]subscriber(nil), c.subs...)
		c.mu.Unlock()
		for _, snap := range batch {
			for _, s := range subs {
				s.fn(snap)
			}
		}
		c.mu.Lock()
	}
	c.delivering = false
	c.mu.Unlock()
}

// AccessClaims decodes the stored access token without verifying it.
func (c *Controller) AccessClaims() (*jwt.Claims, error) {
	tok := c.creds.Get().AccessToken
	if tok == "" {
		return nil, ErrNotAuthenticated
	}
	return jwt.Inspect(tok)
}

// API returns the typed management-API client bound to this session.
func (c *Controller) API() *api.Client {
	return c.api
}

// MetricsSnapshot returns the current counter and histogram values.
func (c *Controller) MetricsSnapshot() MetricsSnapshot {
	return c.metrics.Snapshot()
}

// Close stops background work and flushes pending events, waiting at most
// Events.FlushTimeout for the sink. Persisted state is left untouched.
func (c *Controller) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	c.bgCancel()
	c.bg.Wait()
	c.unsubAuth()

	ctx := context.Background()
	if d := c.cfg.Events.FlushTimeout; d > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d)
		defer cancel()
	}
	if err := c.events.Close(ctx); err != nil {
		c.log.Warn().Err(err).Uint64("dropped", c.events.Dropped()).Msg("event flush incomplete")
		return err
	}
	return nil
}

// begin locks mu and checks the controller is open and, when auth is set,
// that a user is signed in. On error mu is released.
func (c *Controller) begin(auth bool) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrControllerClosed
	}
	if auth && c.sel.Get().User == nil {
		c.mu.Unlock()
		return ErrNotAuthenticated
	}
	return nil
}
