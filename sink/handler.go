package sink

import (
	"context"
	"strings"
	"time"

	"github.com/samber/lo"
	"github.com/web3tea/cdc-sentinel/binding"
	"github.com/web3tea/cdc-sentinel/capturer"
	"github.com/web3tea/cdc-sentinel/metrics"
)

const (
	DefaultMaxRetry       = 5
	DefaultRetryInitial   = 50 * time.Millisecond
	DefaultRetryMax       = time.Second
	DefaultAttemptTimeout = 30 * time.Second

	// KeyColumn is the destination primary-key column.
	KeyColumn = "UUID"
)

// Handler writes one change event into the destination described by a
// binding. It reports success; failures are logged, not returned.
type Handler interface {
	Name() string
	HandleChange(ctx context.Context, event *capturer.ChangeEvent, b binding.Binding) bool
}

// Destination is the relational store statements are executed against.
type Destination interface {
	// Healthy is checked before every statement.
	Healthy(ctx context.Context) bool

	// Exec runs one statement on a freshly acquired connection.
	Exec(ctx context.Context, stmt Statement) error
}

// SQLHandler turns change events into INSERT/UPDATE/DELETE statements and
// executes them with bounded retry.
type SQLHandler struct {
	dest           Destination
	logger         capturer.Logger
	maxRetry       int
	retryInitial   time.Duration
	retryMax       time.Duration
	attemptTimeout time.Duration
}

type SQLHandlerOption func(*SQLHandler)

func WithLogger(l capturer.Logger) SQLHandlerOption {
	return func(h *SQLHandler) {
		if l != nil {
			h.logger = l
		}
	}
}

// WithMaxRetry sets the number of attempts per statement.
func WithMaxRetry(n int) SQLHandlerOption {
	return func(h *SQLHandler) {
		if n > 0 {
			h.maxRetry = n
		}
	}
}

// WithBackoff sets the delay before the second attempt and its cap. The delay
// doubles after every failed attempt. A zero initial delay retries immediately.
func WithBackoff(initial, max time.Duration) SQLHandlerOption {
	return func(h *SQLHandler) {
		h.retryInitial = initial
		h.retryMax = max
	}
}

func WithAttemptTimeout(d time.Duration) SQLHandlerOption {
	return func(h *SQLHandler) {
		h.attemptTimeout = d
	}
}

func NewSQLHandler(dest Destination, opts ...SQLHandlerOption) *SQLHandler {
	h := &SQLHandler{
		dest:           dest,
		logger:         capturer.NoopLogger(),
		maxRetry:       DefaultMaxRetry,
		retryInitial:   DefaultRetryInitial,
		retryMax:       DefaultRetryMax,
		attemptTimeout: DefaultAttemptTimeout,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

func (h *SQLHandler) Name() string {
	return binding.DefaultHandler
}

func (h *SQLHandler) HandleChange(ctx context.Context, event *capturer.ChangeEvent, b binding.Binding) bool {
	stmt, ok, err := BuildStatement(event, b)
	if err != nil {
		h.logger.Errorf("failed to build statement for %s %s: %v", event.EntityType, event.UUID, err)
		return false
	}
	if !ok {
		h.logger.Infof("ignoring %s change on %s %s", event.ChangeType, event.EntityType, event.UUID)
		return true
	}
	return h.dbOperation(ctx, stmt)
}

// BuildStatement returns the statement that applies event to the binding's
// table. ok is false for change types that have no statement.
func BuildStatement(event *capturer.ChangeEvent, b binding.Binding) (stmt Statement, ok bool, err error) {
	switch event.ChangeType {
	case capturer.Insert:
		stmt, err = InsertStatement(b.Table, Columns(event, b.Fields))
	case capturer.Update:
		stmt, err = UpdateStatement(b.Table, Columns(event, b.Fields), keyColumn(event))
	case capturer.Delete:
		stmt, err = DeleteStatement(b.Table, keyColumn(event))
	default:
		return Statement{}, false, nil
	}
	return stmt, err == nil, err
}

// dbOperation executes stmt, retrying with exponential backoff. No attempt is
// made when the destination is unhealthy.
func (h *SQLHandler) dbOperation(ctx context.Context, stmt Statement) bool {
	op := string(stmt.Op)

	if !h.dest.Healthy(ctx) {
		h.logger.Warnf("destination unhealthy, skipping: %s", stmt)
		metrics.StatementFailures.With(op).Inc()
		return false
	}

	delay := h.retryInitial
	var lastErr error
	for attempt := 1; attempt <= h.maxRetry; attempt++ {
		metrics.StatementAttempts.With(op).Inc()

		err := h.exec(ctx, stmt)
		if err == nil {
			h.logger.Debugf("executed on attempt %d: %s", attempt, stmt)
			return true
		}
		lastErr = err
		h.logger.Warnf("attempt %d/%d failed for %s: %v", attempt, h.maxRetry, stmt, err)

		if attempt == h.maxRetry || !sleep(ctx, delay) {
			break
		}
		delay = min(delay*2, h.retryMax)
	}

	h.logger.Errorf("giving up on %s after %d attempts: %v", stmt, h.maxRetry, lastErr)
	metrics.StatementFailures.With(op).Inc()
	return false
}

// sleep waits for d and reports false when ctx ended first.
func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

func (h *SQLHandler) exec(ctx context.Context, stmt Statement) error {
	if h.attemptTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.attemptTimeout)
		defer cancel()
	}
	return h.dest.Exec(ctx, stmt)
}

// Columns extracts UUID followed by the projected fields, with field names
// upper-cased. Empty values are kept here and dropped by the builder.
func Columns(event *capturer.ChangeEvent, fields []string) []Column {
	cols := []Column{{Name: KeyColumn, Value: event.UUID}}
	for _, f := range lo.Uniq(fields) {
		name := strings.ToUpper(f)
		if name == KeyColumn {
			continue
		}
		v, _ := event.Field(f)
		cols = append(cols, Column{Name: name, Value: v})
	}
	return cols
}

func keyColumn(event *capturer.ChangeEvent) []Column {
	return []Column{{Name: KeyColumn, Value: event.UUID}}
}

var _ Handler = (*SQLHandler)(nil)
