// Package dispatcher drains the event queue on a single worker and routes
// each event to the handlers bound to its entity.
package dispatcher

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/web3tea/cdc-sentinel/binding"
	"github.com/web3tea/cdc-sentinel/capturer"
	"github.com/web3tea/cdc-sentinel/metrics"
	"github.com/web3tea/cdc-sentinel/sink"
)

// Checkpointer persists the resume token of a watched type.
type Checkpointer interface {
	SaveToken(ctx context.Context, key, token string) error
}

type Dispatcher struct {
	queue        *Queue
	catalog      binding.Catalog
	handlers     map[string]sink.Handler
	checkpointer Checkpointer
	logger       capturer.Logger

	running     atomic.Bool
	cancel      context.CancelFunc
	doneCh      chan struct{}
	lifecycleMu sync.Mutex
}

type Option func(*Dispatcher)

func WithCheckpointer(c Checkpointer) Option {
	return func(d *Dispatcher) {
		d.checkpointer = c
	}
}

func WithLogger(l capturer.Logger) Option {
	return func(d *Dispatcher) {
		if l != nil {
			d.logger = l
		}
	}
}

// WithHandler registers a handler under its name, replacing any handler with
// the same name.
func WithHandler(h sink.Handler) Option {
	return func(d *Dispatcher) {
		d.handlers[h.Name()] = h
	}
}

func New(queue *Queue, catalog binding.Catalog, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		queue:    queue,
		catalog:  catalog,
		handlers: map[string]sink.Handler{},
		logger:   capturer.NoopLogger(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Start launches the worker. It returns an error if the worker is already
// running.
func (d *Dispatcher) Start(ctx context.Context) error {
	d.lifecycleMu.Lock()
	defer d.lifecycleMu.Unlock()

	if d.running.Load() {
		return fmt.Errorf("dispatcher already running")
	}

	ctx, d.cancel = context.WithCancel(ctx)
	d.doneCh = make(chan struct{})
	d.running.Store(true)

	go d.run(ctx, d.doneCh)
	return nil
}

func (d *Dispatcher) run(ctx context.Context, done chan struct{}) {
	defer close(done)
	defer d.running.Store(false)

	d.logger.Infof("dispatcher started")
	for {
		ev, ok := d.queue.Dequeue(ctx)
		if !ok {
			d.logger.Infof("dispatcher exiting: %v", ctx.Err())
			return
		}
		d.Dispatch(ctx, ev)
	}
}

// Dispatch hands ev to every binding of its entity, in catalog order. The
// event's token is saved only when all of them succeed.
func (d *Dispatcher) Dispatch(ctx context.Context, ev *capturer.ChangeEvent) bool {
	bindings := d.catalog.BindingsFor(ev.EntityType)
	if len(bindings) == 0 {
		d.logger.Debugf("no binding for %s, skipping %s", ev.EntityType, ev.UUID)
		metrics.EventsHandled.With("skipped").Inc()
		return true
	}

	ok := true
	for _, b := range bindings {
		h, found := d.handlers[b.Handler]
		if !found {
			d.logger.Errorf("no handler %q for %s -> %s", b.Handler, b.Entity.Name, b.Table)
			ok = false
			continue
		}
		if !h.HandleChange(ctx, ev, b) {
			d.logger.Errorf("handler %s failed for %s %s %s -> %s", b.Handler, ev.ChangeType, ev.EntityType, ev.UUID, b.Table)
			ok = false
		}
	}

	if !ok {
		metrics.EventsHandled.With("failed").Inc()
		return false
	}
	metrics.EventsHandled.With("ok").Inc()

	if d.checkpointer != nil && ev.ResumeToken != "" {
		if err := d.checkpointer.SaveToken(ctx, ev.EntityType, ev.ResumeToken); err != nil {
			d.logger.Warnf("failed to save resume token for %s: %v", ev.EntityType, err)
		}
	}
	return true
}

// IsAlive reports whether the worker is running.
func (d *Dispatcher) IsAlive() bool {
	return d.running.Load()
}

// Done is closed when the current worker exits.
func (d *Dispatcher) Done() <-chan struct{} {
	d.lifecycleMu.Lock()
	defer d.lifecycleMu.Unlock()

	if d.doneCh == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return d.doneCh
}

// Shutdown cancels the worker without draining the queue and waits for it to
// exit.
func (d *Dispatcher) Shutdown() {
	d.lifecycleMu.Lock()
	cancel, done := d.cancel, d.doneCh
	d.lifecycleMu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}
