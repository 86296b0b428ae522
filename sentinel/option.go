package sentinel

import (
	"time"

	"github.com/web3tea/cdc-sentinel/capturer"
)

type Option func(*Sentinel)

func WithLogger(l capturer.Logger) Option {
	return func(s *Sentinel) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithWatchdog restarts the change listeners when none is alive, checking
// every interval. Zero disables it.
func WithWatchdog(interval time.Duration) Option {
	return func(s *Sentinel) {
		s.watchdogInterval = interval
	}
}

func WithStatusReporter(r StatusReporter) Option {
	return func(s *Sentinel) {
		s.statusReporter = r
	}
}
