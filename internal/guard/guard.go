package guard

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/roach88/evsync/internal/event"
	"github.com/roach88/evsync/internal/projection"
)

// ScopeSupplier reports the scopes granted to the current actor.
type ScopeSupplier interface {
	Scopes(ctx context.Context) ([]string, error)
}

// DefaultScopes maps each action to the scope that grants it.
var DefaultScopes = map[event.ActionType]string{
	event.ActionCreate:            "record.create",
	event.ActionNotify:            "record.notify",
	event.ActionDeclare:           "record.declare",
	event.ActionValidate:          "record.validate",
	event.ActionRegister:          "record.register",
	event.ActionReject:            "record.reject",
	event.ActionArchive:           "record.archive",
	event.ActionMarkDuplicate:     "record.mark-duplicate",
	event.ActionMarkNotDuplicate:  "record.mark-duplicate",
	event.ActionRequestCorrection: "record.request-correction",
	event.ActionApproveCorrection: "record.review-correction",
	event.ActionRejectCorrection:  "record.review-correction",
	event.ActionPrintCertificate:  "record.print-certificate",
}

// Guard gates actions by projected state and actor scope.
type Guard struct {
	scopes   ScopeSupplier
	required map[event.ActionType]string
}

// Option configures a Guard.
type Option func(*Guard)

// WithRequiredScopes replaces the action-to-scope mapping.
func WithRequiredScopes(m map[event.ActionType]string) Option {
	return func(g *Guard) {
		g.required = m
	}
}

// New returns a guard that reads scopes from s.
func New(s ScopeSupplier, opts ...Option) *Guard {
	g := &Guard{
		scopes:   s,
		required: DefaultScopes,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Check returns nil if action may be performed on st by the current actor.
// Availability is checked before scope.
func (g *Guard) Check(ctx context.Context, st projection.State, action event.ActionType) error {
	if !IsAvailable(st, action) {
		return &ActionNotAvailableError{
			EventID: st.EventID,
			Action:  action,
			Status:  st.Status,
			Flags:   slices.Clone(st.Flags),
		}
	}
	return g.CheckScope(ctx, st.EventID, action)
}

// CheckScope checks only the actor's scope. CREATE has no prior state and
// is gated by this alone.
func (g *Guard) CheckScope(ctx context.Context, eventID string, action event.ActionType) error {
	granted, err := g.scopes.Scopes(ctx)
	if err != nil {
		return fmt.Errorf("read scopes: %w", err)
	}
	scope := g.scopeFor(action)
	if !grants(granted, scope) {
		return &InsufficientScopeError{EventID: eventID, Action: action, Scope: scope}
	}
	return nil
}

// AllowedActions returns the actions both available on st and granted to
// the current actor.
func (g *Guard) AllowedActions(ctx context.Context, st projection.State) ([]event.ActionType, error) {
	granted, err := g.scopes.Scopes(ctx)
	if err != nil {
		return nil, fmt.Errorf("read scopes: %w", err)
	}
	out := []event.ActionType{}
	for _, a := range Available(st) {
		if grants(granted, g.scopeFor(a)) {
			out = append(out, a)
		}
	}
	return out, nil
}

func (g *Guard) scopeFor(action event.ActionType) string {
	if s, ok := g.required[action]; ok {
		return s
	}
	return "record." + strings.ReplaceAll(strings.ToLower(string(action)), "_", "-")
}

// grants reports whether any granted scope covers want. A scope ending in
// ".*" covers every scope under its prefix.
func grants(granted []string, want string) bool {
	for _, s := range granted {
		if s == want {
			return true
		}
		if prefix, ok := strings.CutSuffix(s, "*"); ok && strings.HasPrefix(want, prefix) {
			return true
		}
	}
	return false
}
