package sink

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/web3tea/cdc-sentinel/binding"
	"github.com/web3tea/cdc-sentinel/capturer"
)

type fakeDestination struct {
	healthy   bool
	failUntil int // attempts that fail before the first success; -1 fails forever

	mu       sync.Mutex
	attempts int
	executed []Statement
}

func (f *fakeDestination) Healthy(ctx context.Context) bool {
	return f.healthy
}

func (f *fakeDestination) Exec(ctx context.Context, stmt Statement) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.attempts++
	if f.failUntil < 0 || f.attempts <= f.failUntil {
		return errors.New("connection reset")
	}
	f.executed = append(f.executed, stmt)
	return nil
}

var serviceBinding = binding.Binding{
	Entity:  binding.Entity{Name: "Service", Collection: "services"},
	Fields:  []string{"NAME", "DESC"},
	Table:   "SERVICE",
	Handler: binding.DefaultHandler,
}

func newTestHandler(dest Destination) *SQLHandler {
	return NewSQLHandler(dest, WithBackoff(0, 0))
}

func insertEvent() *capturer.ChangeEvent {
	return &capturer.ChangeEvent{
		EntityType:   "Service",
		ChangeType:   capturer.Insert,
		UUID:         "u1",
		FullDocument: map[string]any{"NAME": "svc1"},
	}
}

func TestHandleInsert(t *testing.T) {
	dest := &fakeDestination{healthy: true}
	require.True(t, newTestHandler(dest).HandleChange(context.Background(), insertEvent(), serviceBinding))

	require.Len(t, dest.executed, 1)
	assert.Equal(t, "INSERT INTO SERVICE(UUID,NAME) VALUES('u1','svc1')", dest.executed[0].String())
}

func TestHandleUpdate(t *testing.T) {
	dest := &fakeDestination{healthy: true}
	ev := &capturer.ChangeEvent{
		EntityType:   "Service",
		ChangeType:   capturer.Update,
		UUID:         "u1",
		FullDocument: map[string]any{"NAME": "new", "DESC": ""},
	}
	require.True(t, newTestHandler(dest).HandleChange(context.Background(), ev, serviceBinding))

	require.Len(t, dest.executed, 1)
	assert.Equal(t, "UPDATE SERVICE SET UUID='u1',NAME='new' WHERE UUID='u1'", dest.executed[0].String())
}

func TestHandleDelete(t *testing.T) {
	dest := &fakeDestination{healthy: true}
	ev := &capturer.ChangeEvent{EntityType: "Service", ChangeType: capturer.Delete, UUID: "u1"}
	require.True(t, newTestHandler(dest).HandleChange(context.Background(), ev, serviceBinding))

	require.Len(t, dest.executed, 1)
	assert.Equal(t, "DELETE FROM SERVICE WHERE UUID='u1'", dest.executed[0].String())
}

func TestHandleUnknownChangeIsNoop(t *testing.T) {
	dest := &fakeDestination{healthy: true}
	ev := &capturer.ChangeEvent{EntityType: "Service", ChangeType: "INVALIDATE", UUID: "u1"}

	assert.True(t, newTestHandler(dest).HandleChange(context.Background(), ev, serviceBinding))
	assert.Zero(t, dest.attempts)
}

func TestHandleDeleteWithoutKeyFails(t *testing.T) {
	dest := &fakeDestination{healthy: true}
	ev := &capturer.ChangeEvent{EntityType: "Service", ChangeType: capturer.Delete}

	assert.False(t, newTestHandler(dest).HandleChange(context.Background(), ev, serviceBinding))
	assert.Zero(t, dest.attempts)
}

func TestRetryExhausted(t *testing.T) {
	dest := &fakeDestination{healthy: true, failUntil: -1}

	assert.False(t, newTestHandler(dest).HandleChange(context.Background(), insertEvent(), serviceBinding))
	assert.Equal(t, DefaultMaxRetry, dest.attempts)
}

func TestRetrySucceedsOnThirdAttempt(t *testing.T) {
	dest := &fakeDestination{healthy: true, failUntil: 2}

	assert.True(t, newTestHandler(dest).HandleChange(context.Background(), insertEvent(), serviceBinding))
	assert.Equal(t, 3, dest.attempts)
	assert.Len(t, dest.executed, 1)
}

func TestUnhealthyDestinationSkipsAttempts(t *testing.T) {
	dest := &fakeDestination{healthy: false}

	assert.False(t, newTestHandler(dest).HandleChange(context.Background(), insertEvent(), serviceBinding))
	assert.Zero(t, dest.attempts)
}

func TestRetryBacksOff(t *testing.T) {
	dest := &fakeDestination{healthy: true, failUntil: 2}
	h := NewSQLHandler(dest, WithBackoff(10*time.Millisecond, 15*time.Millisecond))

	start := time.Now()
	assert.True(t, h.HandleChange(context.Background(), insertEvent(), serviceBinding))
	assert.GreaterOrEqual(t, time.Since(start), 25*time.Millisecond)
}

func TestRetryStopsOnCancel(t *testing.T) {
	dest := &fakeDestination{healthy: true, failUntil: -1}
	h := NewSQLHandler(dest, WithBackoff(time.Hour, time.Hour))

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(20*time.Millisecond, cancel)

	assert.False(t, h.HandleChange(ctx, insertEvent(), serviceBinding))
	assert.Equal(t, 1, dest.attempts)
}

func TestColumns(t *testing.T) {
	ev := &capturer.ChangeEvent{
		UUID:         "u1",
		FullDocument: map[string]any{"name": "svc", "uuid": "ignored", "port": 80},
	}

	cols := Columns(ev, []string{"name", "uuid", "port", "missing", "name"})
	assert.Equal(t, []Column{
		{Name: "UUID", Value: "u1"},
		{Name: "NAME", Value: "svc"},
		{Name: "PORT", Value: 80},
		{Name: "MISSING", Value: nil},
	}, cols)
}

func TestQuoteConnValue(t *testing.T) {
	assert.Equal(t, "localhost", quoteConnValue("localhost"))
	assert.Equal(t, `'p w'`, quoteConnValue("p w"))
	assert.Equal(t, `'it\'s'`, quoteConnValue("it's"))
	assert.Equal(t, `''`, quoteConnValue(""))
}

func TestBuildPoolConfig(t *testing.T) {
	cfg, err := buildPoolConfig(PgConfig{
		Hosts:    []string{"db1", "db2"},
		Port:     5433,
		Username: "yugabyte",
		Database: "analytics",
		MaxConns: 8,
	}, capturer.NoopLogger())
	require.NoError(t, err)

	assert.Equal(t, "db1", cfg.ConnConfig.Host)
	assert.Equal(t, uint16(5433), cfg.ConnConfig.Port)
	assert.Equal(t, "analytics", cfg.ConnConfig.Database)
	assert.Equal(t, int32(8), cfg.MaxConns)
	fallbacks := cfg.ConnConfig.Fallbacks
	require.NotEmpty(t, fallbacks)
	assert.Equal(t, "db2", fallbacks[len(fallbacks)-1].Host)

	_, err = buildPoolConfig(PgConfig{}, capturer.NoopLogger())
	assert.Error(t, err)
}
