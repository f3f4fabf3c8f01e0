package transport

import (
	"context"
	"errors"
	"sync"

	"github.com/pithecene-io/coalesce/log"
	"github.com/pithecene-io/coalesce/types"
)

// Dispatcher runs events concurrently across users and in arrival order
// within a user. Each user with queued events has exactly one drain
// goroutine; it exits when the queue empties.
type Dispatcher struct {
	ctx     context.Context
	handler Handler
	logger  *log.Logger
	onError func(Event, error)

	mu     sync.Mutex
	queues map[types.UserID][]Event
	wg     sync.WaitGroup
}

// DispatcherOption configures a Dispatcher.
type DispatcherOption func(*Dispatcher)

// WithErrorHook is called for every handler error.
func WithErrorHook(fn func(Event, error)) DispatcherOption {
	return func(d *Dispatcher) { d.onError = fn }
}

// NewDispatcher creates a dispatcher whose handlers run under ctx.
func NewDispatcher(ctx context.Context, h Handler, logger *log.Logger, opts ...DispatcherOption) *Dispatcher {
	d := &Dispatcher{
		ctx:     ctx,
		handler: h,
		logger:  logger,
		queues:  make(map[types.UserID][]Event),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Dispatch queues ev without blocking.
func (d *Dispatcher) Dispatch(ev Event) {
	d.mu.Lock()
	defer d.mu.Unlock()

	q, active := d.queues[ev.UserID]
	d.queues[ev.UserID] = append(q, ev)
	if active {
		return
	}
	d.wg.Add(1)
	go d.drain(ev.UserID)
}

// Wait blocks until every queued event has been handled.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

func (d *Dispatcher) drain(user types.UserID) {
	defer d.wg.Done()
	for {
		d.mu.Lock()
		q := d.queues[user]
		if len(q) == 0 {
			delete(d.queues, user)
			d.mu.Unlock()
			return
		}
		ev := q[0]
		d.queues[user] = q[1:]
		d.mu.Unlock()

		d.handle(ev)
	}
}

func (d *Dispatcher) handle(ev Event) {
	err := d.handler.HandleEvent(d.ctx, ev)
	if err == nil {
		return
	}
	if d.onError != nil {
		d.onError(ev, err)
	}
	if errors.Is(err, ErrUnauthorized) || errors.Is(err, ErrRejected) || errors.Is(err, context.Canceled) {
		d.logger.Debug("event rejected", map[string]any{
			"kind":  string(ev.Kind),
			"error": err.Error(),
		})
		return
	}
	d.logger.Error("event handler failed", map[string]any{
		"kind":  string(ev.Kind),
		"error": err.Error(),
	})
}
