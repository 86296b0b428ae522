package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/web3tea/cdc-sentinel/binding"
	"github.com/web3tea/cdc-sentinel/capturer"
	"github.com/web3tea/cdc-sentinel/sink"
	"github.com/web3tea/cdc-sentinel/store"
)

type recordingDestination struct {
	mu       sync.Mutex
	fail     bool
	executed []string
}

func (r *recordingDestination) Healthy(ctx context.Context) bool { return true }

func (r *recordingDestination) Exec(ctx context.Context, stmt sink.Statement) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fail {
		return errors.New("constraint violation")
	}
	r.executed = append(r.executed, stmt.String())
	return nil
}

func (r *recordingDestination) statements() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.executed...)
}

func event(entity, uuid string) *capturer.ChangeEvent {
	return &capturer.ChangeEvent{EntityType: entity, ChangeType: capturer.Insert, UUID: uuid}
}

func TestQueueFIFO(t *testing.T) {
	ctx := context.Background()
	q := NewQueue(10, nil)
	assert.Equal(t, 10, q.Cap())

	for n := 0; n <= q.Cap(); n++ {
		for i := 0; i < n; i++ {
			require.True(t, q.Enqueue(ctx, event("Service", fmt.Sprint(i))))
		}
		assert.Equal(t, n, q.Len())
		for i := 0; i < n; i++ {
			ev, ok := q.Dequeue(ctx)
			require.True(t, ok)
			assert.Equal(t, fmt.Sprint(i), ev.UUID)
		}
	}
}

func TestQueueDefaultCapacity(t *testing.T) {
	assert.Equal(t, DefaultQueueCapacity, NewQueue(0, nil).Cap())
}

func TestQueueBackpressure(t *testing.T) {
	ctx := context.Background()
	q := NewQueue(2, nil)
	require.True(t, q.Enqueue(ctx, event("Service", "1")))
	require.True(t, q.Enqueue(ctx, event("Service", "2")))

	done := make(chan bool)
	go func() {
		done <- q.Enqueue(ctx, event("Service", "3"))
	}()

	select {
	case <-done:
		t.Fatal("enqueue on a full queue returned")
	case <-time.After(50 * time.Millisecond):
	}

	ev, ok := q.Dequeue(ctx)
	require.True(t, ok)
	assert.Equal(t, "1", ev.UUID)

	select {
	case ok := <-done:
		assert.True(t, ok)
	case <-time.After(time.Second):
		t.Fatal("enqueue did not resume after a slot was freed")
	}
	assert.Equal(t, 2, q.Len())
}

func TestQueueDropsOnCancel(t *testing.T) {
	q := NewQueue(1, nil)
	require.True(t, q.Enqueue(context.Background(), event("Service", "1")))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	assert.False(t, q.Enqueue(ctx, event("Service", "2")))
	assert.Equal(t, 1, q.Len())

	_, ok := q.Dequeue(context.Background())
	assert.True(t, ok)
	_, ok = q.Dequeue(ctx)
	assert.False(t, ok)
}

func TestDispatcherLiveness(t *testing.T) {
	r, err := binding.NewRegistry()
	require.NoError(t, err)
	d := New(NewQueue(1, nil), r)

	assert.False(t, d.IsAlive())
	require.NoError(t, d.Start(context.Background()))
	assert.True(t, d.IsAlive())
	assert.Error(t, d.Start(context.Background()))

	d.Shutdown()
	assert.False(t, d.IsAlive())
	d.Shutdown()

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, d.Start(ctx))
	assert.True(t, d.IsAlive())
	cancel()
	<-d.Done()
	assert.False(t, d.IsAlive())
}

func endToEnd(t *testing.T, dest *recordingDestination) (*Dispatcher, *Queue, *store.StateStore) {
	r, err := binding.NewRegistry(
		binding.Binding{Entity: binding.Entity{Name: "Service"}, Fields: []string{"NAME", "DESC"}, Table: "SERVICE"},
		binding.Binding{Entity: binding.Entity{Name: "Environment"}, Fields: []string{"NAME"}, Table: "ENVIRONMENT"},
	)
	require.NoError(t, err)

	state := store.NewStateStore(store.NewMemoryStore())
	q := NewQueue(DefaultQueueCapacity, nil)
	d := New(q, r,
		WithHandler(sink.NewSQLHandler(dest, sink.WithBackoff(0, 0))),
		WithCheckpointer(state),
	)
	require.NoError(t, d.Start(context.Background()))
	t.Cleanup(d.Shutdown)
	return d, q, state
}

func TestEndToEndInsert(t *testing.T) {
	dest := &recordingDestination{}
	_, q, state := endToEnd(t, dest)

	ev := &capturer.ChangeEvent{
		EntityType:   "Service",
		ChangeType:   capturer.Insert,
		UUID:         "u1",
		FullDocument: map[string]any{"NAME": "svc1"},
		ResumeToken:  "tok-1",
	}
	require.True(t, q.Enqueue(context.Background(), ev))

	require.Eventually(t, func() bool { return len(dest.statements()) == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"INSERT INTO SERVICE(UUID,NAME) VALUES('u1','svc1')"}, dest.statements())

	require.Eventually(t, func() bool {
		token, ok, err := state.LastToken(context.Background(), "Service")
		return err == nil && ok && token == "tok-1"
	}, time.Second, 5*time.Millisecond)

	_, ok, err := state.LastToken(context.Background(), "Environment")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestFailedEventDoesNotCheckpoint(t *testing.T) {
	dest := &recordingDestination{fail: true}
	r, err := binding.NewRegistry(binding.Binding{Entity: binding.Entity{Name: "Service"}, Table: "SERVICE"})
	require.NoError(t, err)

	state := store.NewStateStore(store.NewMemoryStore())
	d := New(NewQueue(1, nil), r,
		WithHandler(sink.NewSQLHandler(dest, sink.WithBackoff(0, 0))),
		WithCheckpointer(state),
	)

	ev := event("Service", "u1")
	ev.ResumeToken = "tok-1"
	assert.False(t, d.Dispatch(context.Background(), ev))

	_, ok, err := state.LastToken(context.Background(), "Service")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestDispatchUnboundAndUnknownHandler(t *testing.T) {
	r, err := binding.NewRegistry(binding.Binding{Entity: binding.Entity{Name: "Service"}, Table: "SERVICE", Handler: "kafka"})
	require.NoError(t, err)
	d := New(NewQueue(1, nil), r)

	assert.True(t, d.Dispatch(context.Background(), event("Pipeline", "p1")))
	assert.False(t, d.Dispatch(context.Background(), event("Service", "u1")))
}
