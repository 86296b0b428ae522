package dispatcher

import (
	"context"

	"github.com/web3tea/cdc-sentinel/capturer"
	"github.com/web3tea/cdc-sentinel/metrics"
)

const DefaultQueueCapacity = 1000

// Queue is the bounded FIFO between the change source and the dispatcher.
// Enqueue blocks while the queue is full, which is how a slow destination
// pushes back on the source.
type Queue struct {
	ch     chan *capturer.ChangeEvent
	logger capturer.Logger
}

func NewQueue(capacity int, logger capturer.Logger) *Queue {
	if capacity <= 0 {
		capacity = DefaultQueueCapacity
	}
	if logger == nil {
		logger = capturer.NoopLogger()
	}
	return &Queue{
		ch:     make(chan *capturer.ChangeEvent, capacity),
		logger: logger,
	}
}

// Enqueue implements capturer.Subscriber. If ctx is cancelled while waiting
// for space the event is dropped and false is returned.
func (q *Queue) Enqueue(ctx context.Context, event *capturer.ChangeEvent) bool {
	select {
	case q.ch <- event:
		q.accepted()
		return true
	default:
	}

	select {
	case q.ch <- event:
		q.accepted()
		return true
	case <-ctx.Done():
		q.logger.Warnf("dropped %s %s %s: %v", event.EntityType, event.ChangeType, event.UUID, ctx.Err())
		metrics.EventsDropped.Inc()
		return false
	}
}

func (q *Queue) accepted() {
	metrics.EventsEnqueued.Inc()
	metrics.QueueDepth.Set(float64(len(q.ch)))
}

// Dequeue blocks until an event is available or ctx is done.
func (q *Queue) Dequeue(ctx context.Context) (*capturer.ChangeEvent, bool) {
	select {
	case ev := <-q.ch:
		metrics.QueueDepth.Set(float64(len(q.ch)))
		return ev, true
	case <-ctx.Done():
		return nil, false
	}
}

func (q *Queue) Len() int {
	return len(q.ch)
}

func (q *Queue) Cap() int {
	return cap(q.ch)
}

var _ capturer.Subscriber = (*Queue)(nil)
