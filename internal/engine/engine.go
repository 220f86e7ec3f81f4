package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/singleflight"

	"github.com/roach88/evsync/internal/authz"
	"github.com/roach88/evsync/internal/cache"
	"github.com/roach88/evsync/internal/draft"
	"github.com/roach88/evsync/internal/event"
	"github.com/roach88/evsync/internal/files"
	"github.com/roach88/evsync/internal/form"
	"github.com/roach88/evsync/internal/guard"
	"github.com/roach88/evsync/internal/listcache"
	"github.com/roach88/evsync/internal/outbox"
	"github.com/roach88/evsync/internal/remote"
	"github.com/roach88/evsync/internal/tempid"
)

// DefaultRetryInterval is the fixed delay before a failed delivery is
// attempted again. There is no exponential backoff.
const DefaultRetryInterval = 10 * time.Second

// Engine is the offline sync engine.
//
// Thread-safety model:
//   - Read and mutate methods: safe from any goroutine; each runs in its
//     own cache transaction
//   - Flush: safe from any goroutine; deliveries are serialized
//   - Run: must be called from exactly one goroutine
type Engine struct {
	cache   *cache.Cache
	client  remote.Client
	outbox  *outbox.Queue
	drafts  *draft.Store
	lists   *listcache.Cache
	ids     *tempid.Reconciler
	guard   *guard.Guard
	forms   *form.Config
	eval    *form.Evaluator
	files   files.Cacher
	metrics *Metrics
	logger  *slog.Logger

	clock         Clock
	stamps        *stampClock
	idGen         IDGenerator
	tmpIDs        func() string
	actor         event.Actor
	scopes        guard.ScopeSupplier
	retryInterval time.Duration

	wake    *wakeQueue
	fetches singleflight.Group

	// flushMu serializes delivery passes and local deletes.
	flushMu sync.Mutex
}

// EngineOption allows configuration of engine parameters.
type EngineOption func(*Engine)

// WithRetryInterval sets the fixed retry delay.
//
// Default: 10s (DefaultRetryInterval)
func WithRetryInterval(d time.Duration) EngineOption {
	return func(e *Engine) {
		e.retryInterval = d
	}
}

// WithLogger sets the engine's logger.
func WithLogger(l *slog.Logger) EngineOption {
	return func(e *Engine) {
		e.logger = l
	}
}

// WithClock replaces the wall clock. Tests use a manual clock.
func WithClock(c Clock) EngineOption {
	return func(e *Engine) {
		e.clock = c
	}
}

// WithIDGenerator replaces the transaction and draft id source.
func WithIDGenerator(g IDGenerator) EngineOption {
	return func(e *Engine) {
		e.idGen = g
	}
}

// WithTemporaryIDs replaces the temporary event id source. Ids must carry
// the temporary prefix.
func WithTemporaryIDs(fn func() string) EngineOption {
	return func(e *Engine) {
		e.tmpIDs = fn
	}
}

// WithMetrics sets the collectors updated by the engine.
func WithMetrics(m *Metrics) EngineOption {
	return func(e *Engine) {
		e.metrics = m
	}
}

// WithFileCache sets the collaborator that pre-fetches referenced files.
func WithFileCache(c files.Cacher) EngineOption {
	return func(e *Engine) {
		e.files = c
	}
}

// WithActor sets the user recorded on locally created actions and sent
// with deliveries.
func WithActor(a event.Actor) EngineOption {
	return func(e *Engine) {
		e.actor = a
	}
}

// WithForms sets the form configuration used for field stripping, search
// fields and event type checks.
func WithForms(cfg *form.Config) EngineOption {
	return func(e *Engine) {
		e.forms = cfg
	}
}

// WithScopes sets the supplier of the actor's permission scopes.
//
// Default: every scope is granted.
func WithScopes(s guard.ScopeSupplier) EngineOption {
	return func(e *Engine) {
		e.scopes = s
	}
}

// New creates an Engine over c that delivers to client.
func New(c *cache.Cache, client remote.Client, opts ...EngineOption) (*Engine, error) {
	e := &Engine{
		cache:         c,
		client:        client,
		outbox:        outbox.New(c),
		drafts:        draft.New(c),
		lists:         listcache.New(c),
		files:         files.Nop{},
		logger:        slog.Default(),
		clock:         SystemClock{},
		idGen:         UUIDv7Generator{},
		tmpIDs:        tempid.New,
		scopes:        authz.Static{"*"},
		retryInterval: DefaultRetryInterval,
		wake:          newWakeQueue(),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.metrics == nil {
		e.metrics = NewMetrics(prometheus.NewRegistry())
	}

	eval, err := form.NewEvaluator()
	if err != nil {
		return nil, fmt.Errorf("create engine: %w", err)
	}
	e.eval = eval
	e.stamps = newStampClock(e.clock)
	e.guard = guard.New(e.scopes)
	e.ids = tempid.NewReconciler(c,
		tempid.WithIDFunc(e.tmpIDs),
		tempid.WithLogger(e.logger))
	return e, nil
}

// Close stops the Run loop. Queued mutations stay in the durable outbox.
func (e *Engine) Close() {
	e.wake.Close()
}

// Subscribe registers fn for cache changes under prefix (see the cache
// key prefixes). The returned function cancels the subscription.
func (e *Engine) Subscribe(prefix string, fn func([]cache.Change)) (cancel func()) {
	return e.cache.Subscribe(prefix, fn)
}

// Run replays the persisted outbox and then delivers until ctx is
// cancelled or Close is called.
//
// Deliveries happen after every wake-up from a local mutation and at the
// fixed retry interval. Delivery errors never stop the loop; they are
// recorded on the outbox entry and logged.
func (e *Engine) Run(ctx context.Context) error {
	e.logger.Info("engine starting")

	pending, err := e.outbox.Load(ctx)
	if err != nil {
		return fmt.Errorf("load outbox: %w", err)
	}
	e.logger.Info("outbox replay", "pending", len(pending))
	e.refreshGauges(ctx)

	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			e.logger.Info("engine stopping", "reason", ctx.Err())
			return ctx.Err()

		case _, ok := <-e.wake.Wait():
			if !ok {
				e.logger.Info("engine stopping", "reason", "closed")
				return nil
			}
			e.logger.Debug("engine woken", "events", e.wake.Drain())

		case <-timer.C:
		}

		if _, err := e.Flush(ctx); err != nil && ctx.Err() == nil {
			e.logger.Error("flush failed", "error", err)
		}

		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		timer.Reset(e.retryInterval)
	}
}

// eventConfig returns the form configuration of an event type, or an
// empty one when no forms are loaded.
func (e *Engine) eventConfig(eventType string) (form.EventConfig, bool) {
	if e.forms == nil {
		return form.EventConfig{Type: eventType}, false
	}
	cfg, ok := e.forms.Event(eventType)
	if !ok {
		return form.EventConfig{Type: eventType}, false
	}
	return cfg, true
}

func (e *Engine) refreshGauges(ctx context.Context) {
	pending, err := e.outbox.Pending(ctx)
	if err != nil {
		e.logger.Warn("read outbox for metrics", "error", err)
		return
	}
	failed, err := e.outbox.Failed(ctx)
	if err != nil {
		e.logger.Warn("read failed set for metrics", "error", err)
		return
	}
	e.metrics.Pending.Set(float64(len(pending)))
	e.metrics.Failed.Set(float64(len(failed)))
}
