// Package metrics exposes the pipeline's prometheus collectors. Every
// collector is a noop until Initialize is called.
package metrics

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "cdc_sentinel"

type Counter interface {
	Inc()
	Add(float64)
}

type Gauge interface {
	Set(float64)
	Inc()
	Dec()
	Add(float64)
	Sub(float64)
}

type CounterVec interface {
	With(labels ...string) Counter
}

type NoopStat struct{}

func (NoopStat) Set(float64) {}
func (NoopStat) Inc()        {}
func (NoopStat) Dec()        {}
func (NoopStat) Add(float64) {}
func (NoopStat) Sub(float64) {}

type noopCounterVec struct{}

func (noopCounterVec) With(labels ...string) Counter { return NoopStat{} }

type prometheusCounterVec struct {
	vec *prometheus.CounterVec
}

func (p *prometheusCounterVec) With(labelValues ...string) Counter {
	return p.vec.WithLabelValues(labelValues...)
}

var (
	// EventsEnqueued counts events accepted by the queue.
	EventsEnqueued Counter = NoopStat{}

	// EventsDropped counts events lost because the producer was cancelled
	// while the queue was full.
	EventsDropped Counter = NoopStat{}

	// EventsHandled counts dispatched events by result (ok, failed, skipped).
	EventsHandled CounterVec = noopCounterVec{}

	// StatementAttempts counts destination statement attempts by op.
	StatementAttempts CounterVec = noopCounterVec{}

	// StatementFailures counts statements that exhausted retries or were
	// skipped because the destination was unhealthy, by op.
	StatementFailures CounterVec = noopCounterVec{}

	QueueDepth Gauge = NoopStat{}

	// ListenersAlive is 1 while any change listener runs.
	ListenersAlive Gauge = NoopStat{}
)

var (
	registry *prometheus.Registry
	initOnce sync.Once
)

func newCounter(name, help string) Counter {
	c := prometheus.NewCounter(prometheus.CounterOpts{Namespace: namespace, Name: name, Help: help})
	registry.MustRegister(c)
	return c
}

func newGauge(name, help string) Gauge {
	g := prometheus.NewGauge(prometheus.GaugeOpts{Namespace: namespace, Name: name, Help: help})
	registry.MustRegister(g)
	return g
}

func newCounterVec(name, help string, labels ...string) CounterVec {
	v := prometheus.NewCounterVec(prometheus.CounterOpts{Namespace: namespace, Name: name, Help: help}, labels)
	registry.MustRegister(v)
	return &prometheusCounterVec{vec: v}
}

// Initialize creates the registry and replaces the noop collectors. Calls
// after the first are ignored.
func Initialize() {
	initOnce.Do(func() {
		registry = prometheus.NewRegistry()
		registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		registry.MustRegister(collectors.NewGoCollector())

		EventsEnqueued = newCounter("events_enqueued_total", "Events accepted by the queue")
		EventsDropped = newCounter("events_dropped_total", "Events dropped while waiting for queue space")
		EventsHandled = newCounterVec("events_handled_total", "Dispatched events by result", "result")
		StatementAttempts = newCounterVec("statement_attempts_total", "Destination statement attempts", "op")
		StatementFailures = newCounterVec("statement_failures_total", "Destination statements that failed", "op")
		QueueDepth = newGauge("queue_depth", "Events waiting in the queue")
		ListenersAlive = newGauge("listeners_alive", "1 while any change listener is running")
	})
}

// Handler serves the registry. It returns nil before Initialize.
func Handler() http.Handler {
	if registry == nil {
		return nil
	}
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{Registry: registry})
}
