// Package sentinel supervises the pipeline: the capture task that runs the
// change listeners and the dispatcher task that drains the queue. The two only
// share the queue.
package sentinel

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/web3tea/cdc-sentinel/capturer"
)

type Status string

const (
	StatusIdle     Status = "idle"
	StatusStarting Status = "starting"
	StatusRunning  Status = "running"
	StatusStopping Status = "stopping"
	StatusError    Status = "error"
)

type StatusReporter interface {
	ReportStatus(status Status, message string)
}

// Listeners is the capture side of the pipeline.
type Listeners interface {
	StartChangeListeners(ctx context.Context, sub capturer.Subscriber) error
	IsAnyChangeListenerAlive() bool
	StopChangeListeners() error
}

// Worker is the dispatch side of the pipeline.
type Worker interface {
	Start(ctx context.Context) error
	IsAlive() bool
	Shutdown()
}

type Sentinel struct {
	listeners Listeners
	worker    Worker
	queue     capturer.Subscriber
	logger    capturer.Logger

	watchdogInterval time.Duration
	statusReporter   StatusReporter

	ctx           context.Context
	cancel        context.CancelFunc
	captureCancel context.CancelFunc
	captureDone   chan struct{}
	watchdogDone  chan struct{}
	mu            sync.Mutex

	status   Status
	statusMu sync.RWMutex
}

func NewSentinel(listeners Listeners, worker Worker, queue capturer.Subscriber, options ...Option) *Sentinel {
	s := &Sentinel{
		listeners: listeners,
		worker:    worker,
		queue:     queue,
		logger:    capturer.NoopLogger(),
		status:    StatusIdle,
	}
	for _, opt := range options {
		opt(s)
	}
	return s
}

// Start launches the dispatcher and capture tasks and returns without waiting
// for the listeners to come up.
func (s *Sentinel) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cancel != nil {
		return fmt.Errorf("sentinel already started (%s)", s.Status())
	}
	s.setStatus(StatusStarting, "")

	s.ctx, s.cancel = context.WithCancel(context.Background())

	if err := s.worker.Start(s.ctx); err != nil {
		s.cancel()
		s.cancel = nil
		s.setStatus(StatusError, err.Error())
		return fmt.Errorf("failed to start dispatcher: %w", err)
	}

	s.setStatus(StatusRunning, "")
	s.startCaptureLocked()

	if s.watchdogInterval > 0 {
		s.watchdogDone = make(chan struct{})
		go s.watchdog(s.ctx, s.watchdogDone)
	}
	return nil
}

func (s *Sentinel) startCaptureLocked() {
	ctx, cancel := context.WithCancel(s.ctx)
	done := make(chan struct{})
	s.captureCancel, s.captureDone = cancel, done

	go s.capture(ctx, done)
}

// capture runs the listeners until ctx is cancelled.
func (s *Sentinel) capture(ctx context.Context, done chan struct{}) {
	defer close(done)

	if err := s.listeners.StartChangeListeners(ctx, s.queue); err != nil {
		s.logger.Errorf("failed to start change listeners: %v", err)
		s.setStatus(StatusError, err.Error())
		return
	}
	s.logger.Infof("change listeners started")

	<-ctx.Done()

	if err := s.listeners.StopChangeListeners(); err != nil {
		s.logger.Warnf("failed to stop change listeners: %v", err)
	}
}

// RestartListeners stops the capture task and starts a new one. The
// dispatcher keeps running.
func (s *Sentinel) RestartListeners(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.restartLocked(ctx)
}

func (s *Sentinel) restartLocked(ctx context.Context) error {
	if s.ctx == nil || s.ctx.Err() != nil {
		return fmt.Errorf("sentinel is not running")
	}

	s.captureCancel()
	select {
	case <-s.captureDone:
	case <-ctx.Done():
		return fmt.Errorf("timed out waiting for listeners to stop: %w", ctx.Err())
	}

	s.logger.Infof("restarting change listeners")
	s.setStatus(StatusRunning, "listeners restarted")
	s.startCaptureLocked()
	return nil
}

// Stop cancels both tasks and waits for them to exit or for ctx to expire.
// Events still in the queue are not drained.
func (s *Sentinel) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cancel == nil {
		return nil
	}
	s.setStatus(StatusStopping, "")

	s.cancel()

	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		<-s.captureDone
		if s.watchdogDone != nil {
			<-s.watchdogDone
		}
		s.worker.Shutdown()
	}()

	select {
	case <-stopped:
	case <-ctx.Done():
		s.setStatus(StatusError, "stop timed out")
		return fmt.Errorf("timed out waiting for pipeline to stop: %w", ctx.Err())
	}

	s.cancel = nil
	s.watchdogDone = nil
	s.setStatus(StatusIdle, "")
	return nil
}

// IsAlive reports whether the dispatcher and at least one change listener are
// running.
func (s *Sentinel) IsAlive() bool {
	return s.worker.IsAlive() && s.listeners.IsAnyChangeListenerAlive()
}

func (s *Sentinel) Status() Status {
	s.statusMu.RLock()
	defer s.statusMu.RUnlock()
	return s.status
}

// watchdog restarts the listeners when all of them have died.
func (s *Sentinel) watchdog(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(s.watchdogInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		if s.listeners.IsAnyChangeListenerAlive() {
			continue
		}
		s.logger.Warnf("no change listener alive, restarting")

		restartCtx, cancel := context.WithTimeout(ctx, s.watchdogInterval)
		if err := s.tryRestart(restartCtx); err != nil {
			s.logger.Errorf("watchdog restart failed: %v", err)
		}
		cancel()
	}
}

// tryRestart restarts the listeners unless a lifecycle call holds the lock.
func (s *Sentinel) tryRestart(ctx context.Context) error {
	if !s.mu.TryLock() {
		return fmt.Errorf("sentinel is busy")
	}
	defer s.mu.Unlock()
	return s.restartLocked(ctx)
}

func (s *Sentinel) setStatus(status Status, message string) {
	s.statusMu.Lock()
	s.status = status
	s.statusMu.Unlock()

	if s.statusReporter != nil {
		s.statusReporter.ReportStatus(status, message)
	}
}
