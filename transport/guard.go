package transport

import (
	"context"

	"github.com/pithecene-io/coalesce/log"
	"github.com/pithecene-io/coalesce/types"
)

// DeniedText is the reply sent to anyone but the owner.
const DeniedText = "❌ You are not authorized."

// GuardOption configures OwnerGuard.
type GuardOption func(*guard)

// WithDeniedHook is called for every rejected event.
func WithDeniedHook(fn func(Event)) GuardOption {
	return func(g *guard) { g.onDenied = fn }
}

// WithGuardLogger sets the logger for rejected events.
func WithGuardLogger(logger *log.Logger) GuardOption {
	return func(g *guard) { g.logger = logger }
}

type guard struct {
	owner    types.UserID
	t        Transport
	next     Handler
	onDenied func(Event)
	logger   *log.Logger
}

// OwnerGuard passes events from owner to next. Everyone else gets
// DeniedText and the event fails with ErrUnauthorized; no state changes.
func OwnerGuard(owner types.UserID, t Transport, next Handler, opts ...GuardOption) Handler {
	g := &guard{owner: owner, t: t, next: next}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

func (g *guard) HandleEvent(ctx context.Context, ev Event) error {
	if ev.UserID == g.owner {
		return g.next.HandleEvent(ctx, ev)
	}

	g.logger.Warn("unauthorized event", map[string]any{
		"user_id": ev.UserID,
		"kind":    string(ev.Kind),
	})
	if g.onDenied != nil {
		g.onDenied(ev)
	}
	if ev.CallbackID != "" {
		BestEffort(g.logger, "acknowledge", g.t.Acknowledge(ctx, ev.CallbackID, ""))
	}
	_, err := g.t.SendText(ctx, ev.ChatID, DeniedText)
	BestEffort(g.logger, "deny reply", err)
	return ErrUnauthorized
}
