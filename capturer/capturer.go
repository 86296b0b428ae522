package capturer

import (
	"context"

	"github.com/web3tea/cdc-sentinel/binding"
)

// ChangeSource produces ordered ChangeEvents per watched entity, starting from
// the supplied resume tokens.
type ChangeSource interface {
	Start(ctx context.Context, infos []TrackingInfo) error

	Stop() error

	// IsAlive reports whether any change tracker is still running.
	IsAlive() bool
}

// Subscriber receives the events produced by a ChangeSource. Enqueue may block;
// it returns false when the event was dropped.
type Subscriber interface {
	Enqueue(ctx context.Context, event *ChangeEvent) bool
}

// TrackingInfo binds one watched entity to the subscriber of its events and the
// token streaming resumes from. An empty LastToken means "from now".
type TrackingInfo struct {
	Entity     binding.Entity
	Subscriber Subscriber
	LastToken  string
}

type Logger interface {
	Debugf(format string, args ...any)
	Infof(format string, args ...any)
	Warnf(format string, args ...any)
	Errorf(format string, args ...any)
}

type noopLogger struct{}

func (l *noopLogger) Debugf(format string, args ...any) {}
func (l *noopLogger) Infof(format string, args ...any)  {}
func (l *noopLogger) Warnf(format string, args ...any)  {}
func (l *noopLogger) Errorf(format string, args ...any) {}

// NoopLogger returns a Logger that discards everything.
func NoopLogger() Logger {
	return &noopLogger{}
}
