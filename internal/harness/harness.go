package harness

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/roach88/evsync/internal/authz"
	"github.com/roach88/evsync/internal/cache"
	"github.com/roach88/evsync/internal/engine"
	"github.com/roach88/evsync/internal/event"
	"github.com/roach88/evsync/internal/form"
	"github.com/roach88/evsync/internal/guard"
	"github.com/roach88/evsync/internal/outbox"
	"github.com/roach88/evsync/internal/server"
	"github.com/roach88/evsync/internal/store/memstore"
	"github.com/roach88/evsync/internal/testutil"
	"github.com/roach88/evsync/internal/val"
)

// Epoch is the clock reading every scenario starts at.
var Epoch = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

// Actor is the user every scenario acts as.
var Actor = event.Actor{ID: "harness", Role: "REGISTRAR", Location: "office-1"}

// Harness holds one scenario's engine and its server.
type Harness struct {
	engine *engine.Engine
	client *recordingClient
	clock  *testutil.ManualClock
	cache  *cache.Cache

	// aliases maps scenario aliases to the id CreateEvent returned.
	aliases map[string]string
	order   []string
}

// Run executes a scenario and returns the result.
//
// Each scenario runs against a fresh in-memory cache and ledger. The
// returned error reports infrastructure failures; misbehaving steps and
// failed assertions are recorded on the result.
func Run(scenario *Scenario) (*Result, error) {
	return RunContext(context.Background(), scenario)
}

// RunContext is Run with a caller-supplied context.
func RunContext(ctx context.Context, scenario *Scenario) (*Result, error) {
	h, err := newHarness(scenario)
	if err != nil {
		return nil, err
	}
	defer h.close()

	result := NewResult()
	for i, step := range scenario.Steps {
		if err := h.execute(ctx, step, result); err != nil {
			return nil, fmt.Errorf("step %d: %w", i, err)
		}
	}
	result.Trace = h.client.events()

	for _, msg := range h.evaluate(ctx, scenario.Assertions, result.Trace) {
		result.AddError(msg)
	}
	if err := h.snapshot(ctx, result); err != nil {
		return nil, err
	}
	return result, nil
}

func newHarness(s *Scenario) (*Harness, error) {
	var cfg *form.Config
	if s.Form != "" {
		var err error
		cfg, err = form.CompileString(s.Form)
		if err != nil {
			return nil, fmt.Errorf("compile form: %w", err)
		}
	}

	clock := testutil.NewManualClock(Epoch)
	ledgerOpts := []server.Option{
		server.WithClock(clock.Now),
		server.WithIDFunc(testutil.NewSequentialIDs("srv").Generate),
	}
	if cfg != nil {
		ledgerOpts = append(ledgerOpts, server.WithForms(cfg))
	}
	client := newRecordingClient(server.NewLedger(ledgerOpts...))

	scopes := authz.Static{"*"}
	if len(s.Scopes) > 0 {
		scopes = authz.Static(s.Scopes)
	}

	c := cache.New(memstore.New())
	opts := []engine.EngineOption{
		engine.WithClock(clock),
		engine.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
		engine.WithActor(Actor),
		engine.WithScopes(scopes),
		engine.WithIDGenerator(testutil.NewSequentialIDs("tx")),
		engine.WithTemporaryIDs(testutil.NewSequentialIDs("tmp").Generate),
	}
	if cfg != nil {
		opts = append(opts, engine.WithForms(cfg))
	}
	eng, err := engine.New(c, client, opts...)
	if err != nil {
		c.Close()
		return nil, fmt.Errorf("create engine: %w", err)
	}

	return &Harness{
		engine:  eng,
		client:  client,
		clock:   clock,
		cache:   c,
		aliases: make(map[string]string),
	}, nil
}

func (h *Harness) close() {
	h.engine.Close()
	h.cache.Close()
}

// execute runs one step. Errors the step was scripted to expect, or not to
// expect, go on the result; only local failures are returned.
func (h *Harness) execute(ctx context.Context, step Step, result *Result) error {
	switch {
	case step.Create != nil:
		doc, err := h.engine.CreateEvent(ctx, step.Create.Type)
		if ok := h.expect("create "+step.Create.As, step.Create.ExpectError, err, result); ok && err == nil {
			h.aliases[step.Create.As] = doc.ID
			h.order = append(h.order, step.Create.As)
		}

	case step.Mutate != nil:
		m := step.Mutate
		t, _ := event.ParseActionType(m.Action)
		decl, err := toObject(m.Declaration)
		if err != nil {
			return fmt.Errorf("mutate %s: declaration: %w", m.Event, err)
		}
		ann, err := toObject(m.Annotation)
		if err != nil {
			return fmt.Errorf("mutate %s: annotation: %w", m.Event, err)
		}
		_, err = h.engine.Actions(t).Mutate(ctx, engine.MutationInput{
			EventID:       h.id(m.Event),
			TransactionID: m.TransactionID,
			Declaration:   decl,
			Annotation:    ann,
		})
		h.expect(fmt.Sprintf("mutate %s %s", m.Event, t), m.ExpectError, err, result)

	case step.Network != "":
		h.client.setOffline(step.Network == NetworkOffline)

	case step.Fail != nil:
		t, _ := event.ParseActionType(step.Fail.Action)
		h.client.failWith(t, step.Fail.Code)

	case step.Flush:
		if _, err := h.engine.Flush(ctx); err != nil {
			return fmt.Errorf("flush: %w", err)
		}

	case step.Advance > 0:
		h.clock.Advance(step.Advance)

	case step.Fetch != "":
		_, err := h.engine.FetchEvent(ctx, h.id(step.Fetch))
		h.expect("fetch "+step.Fetch, "", err, result)

	case step.Delete != nil:
		err := h.engine.DeleteEvent(ctx, h.id(step.Delete.Event))
		h.expect("delete "+step.Delete.Event, step.Delete.ExpectError, err, result)
	}
	return nil
}

// expect compares a step's error with the scripted kind and reports
// whether they matched.
func (h *Harness) expect(step, kind string, err error, result *Result) bool {
	switch {
	case kind == "" && err != nil:
		result.AddError(fmt.Sprintf("%s: unexpected error: %v", step, err))
	case kind != "" && err == nil:
		result.AddError(fmt.Sprintf("%s: expected %s, got success", step, kind))
	case kind != "" && errorKind(err) != kind:
		result.AddError(fmt.Sprintf("%s: expected %s, got %v", step, kind, err))
	default:
		return true
	}
	return false
}

func (h *Harness) id(alias string) string {
	return h.aliases[alias]
}

// errorKind names err the way expect_error does.
func errorKind(err error) string {
	var idem *outbox.IdempotencyError
	switch {
	case guard.IsActionNotAvailable(err):
		return ErrKindActionNotAvailable
	case guard.IsInsufficientScope(err):
		return ErrKindInsufficientScope
	case errors.Is(err, engine.ErrEventSynced):
		return ErrKindEventSynced
	case engine.IsNotFoundLocally(err):
		return ErrKindNotFoundLocally
	case errors.As(err, &idem):
		return ErrKindIdempotency
	case errors.Is(err, outbox.ErrEventNotCreated):
		return ErrKindEventNotCreated
	default:
		return "error"
	}
}

// snapshot records the final view of every alias still cached.
func (h *Harness) snapshot(ctx context.Context, result *Result) error {
	for _, alias := range h.order {
		v, err := h.engine.View(ctx, h.id(alias))
		if engine.IsNotFoundLocally(err) {
			continue
		}
		if err != nil {
			return fmt.Errorf("view %s: %w", alias, err)
		}
		result.Events[alias] = EventSnapshot{
			ID:               v.Document.ID,
			Status:           string(v.State.Status),
			OptimisticStatus: string(v.Optimistic.Status),
			Pending:          len(v.Pending),
		}
	}
	return nil
}

func toObject(m map[string]any) (val.Object, error) {
	if m == nil {
		return nil, nil
	}
	v, err := val.FromGo(m)
	if err != nil {
		return nil, err
	}
	return v.(val.Object), nil
}
