// Package metrics exposes Prometheus collectors for the runtime's
// components.
package metrics

import (
	"net/http"
	"time"

	"github.com/fentz26/cortex/internal/router"
	"github.com/fentz26/cortex/internal/think"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "cortex"

// Metrics holds the runtime collectors. It implements llm.Observer and
// scheduler.Observer; ThinkListener and RouterListener feed it events.
type Metrics struct {
	registry *prometheus.Registry

	llmCalls    *prometheus.CounterVec
	llmAttempts *prometheus.CounterVec
	llmDuration *prometheus.HistogramVec

	thinkSessions   *prometheus.CounterVec
	thinkActions    *prometheus.CounterVec
	thinkSteps      prometheus.Counter
	thinkIterations prometheus.Histogram

	routerProcessed *prometheus.CounterVec
	routerDuration  *prometheus.HistogramVec
	routerHandlers  prometheus.Gauge

	tasksExecuted *prometheus.CounterVec
	taskDuration  *prometheus.HistogramVec
	pollDue       prometheus.Histogram
	pollDuration  prometheus.Histogram
}

// New creates the collectors on a fresh registry that also carries the Go
// runtime and process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := newMetrics(reg)
	m.registry = reg
	return m
}

func newMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		llmCalls: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "llm",
			Name:      "calls_total",
			Help:      "LLM completions by provider and outcome.",
		}, []string{"provider", "status"}),
		llmAttempts: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "llm",
			Name:      "attempts_total",
			Help:      "Provider requests including retries.",
		}, []string{"provider"}),
		llmDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "llm",
			Name:      "call_duration_seconds",
			Help:      "Wall time of LLM completions including retries.",
			Buckets:   prometheus.ExponentialBuckets(0.1, 2, 10),
		}, []string{"provider"}),

		thinkSessions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "think",
			Name:      "sessions_total",
			Help:      "Finished think sessions by outcome.",
		}, []string{"outcome"}),
		thinkActions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "think",
			Name:      "actions_total",
			Help:      "Executed actions by kind and status.",
		}, []string{"kind", "status"}),
		thinkSteps: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "think",
			Name:      "steps_total",
			Help:      "Steps recorded in session ledgers.",
		}),
		thinkIterations: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "think",
			Name:      "iterations",
			Help:      "Iterations used by finished sessions.",
			Buckets:   prometheus.LinearBuckets(1, 1, 10),
		}),

		routerProcessed: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "router",
			Name:      "processed_total",
			Help:      "Processor mappings run by source handler and status.",
		}, []string{"handler", "status"}),
		routerDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "router",
			Name:      "process_duration_seconds",
			Help:      "Duration of processor mappings.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"handler"}),
		routerHandlers: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "router",
			Name:      "handlers",
			Help:      "Registered handlers.",
		}),

		tasksExecuted: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "scheduler",
			Name:      "tasks_total",
			Help:      "Executed scheduled tasks by handler and status.",
		}, []string{"handler", "status"}),
		taskDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "scheduler",
			Name:      "task_duration_seconds",
			Help:      "Handler execution time of scheduled tasks.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"handler"}),
		pollDue: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "scheduler",
			Name:      "poll_due_tasks",
			Help:      "Due tasks found per poll cycle.",
			Buckets:   []float64{0, 1, 2, 5, 10, 20, 50, 100},
		}),
		pollDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "scheduler",
			Name:      "poll_duration_seconds",
			Help:      "Duration of poll cycles.",
			Buckets:   prometheus.DefBuckets,
		}),
	}
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

func status(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

// ObserveLLMCall implements llm.Observer.
func (m *Metrics) ObserveLLMCall(provider string, attempts int, d time.Duration, err error) {
	m.llmCalls.WithLabelValues(provider, status(err)).Inc()
	m.llmAttempts.WithLabelValues(provider).Add(float64(attempts))
	m.llmDuration.WithLabelValues(provider).Observe(d.Seconds())
}

// ObserveTask implements scheduler.Observer.
func (m *Metrics) ObserveTask(handler string, d time.Duration, err error) {
	m.tasksExecuted.WithLabelValues(handler, status(err)).Inc()
	m.taskDuration.WithLabelValues(handler).Observe(d.Seconds())
}

// ObservePoll implements scheduler.Observer.
func (m *Metrics) ObservePoll(due int, d time.Duration) {
	m.pollDue.Observe(float64(due))
	m.pollDuration.Observe(d.Seconds())
}

// ThinkListener returns a listener that records think events.
func (m *Metrics) ThinkListener() think.Listener {
	return think.ListenerFunc(func(e think.Event) {
		switch e.Type {
		case think.EventStep:
			m.thinkSteps.Inc()
		case think.EventActionComplete, think.EventActionError:
			kind := "unknown"
			if e.Action != nil {
				kind = e.Action.Type
			}
			m.thinkActions.WithLabelValues(kind, status(e.Err)).Inc()
		case think.EventComplete:
			outcome := "incomplete"
			if e.Completed {
				outcome = "completed"
			}
			m.finishSession(outcome, e.Iteration)
		case think.EventTimeout:
			m.finishSession("timeout", e.Iteration)
		case think.EventError:
			m.finishSession("error", e.Iteration)
		}
	})
}

func (m *Metrics) finishSession(outcome string, iterations int) {
	m.thinkSessions.WithLabelValues(outcome).Inc()
	m.thinkIterations.Observe(float64(iterations))
}

// RouterListener returns a listener that records router events.
func (m *Metrics) RouterListener() router.Listener {
	return router.ListenerFunc(func(e router.Event) {
		switch e.Type {
		case router.EventHandlerRegistered:
			m.routerHandlers.Inc()
		case router.EventHandlerRemoved:
			m.routerHandlers.Dec()
		case router.EventProcessComplete, router.EventProcessError:
			m.routerProcessed.WithLabelValues(e.Handler, status(e.Err)).Inc()
			m.routerDuration.WithLabelValues(e.Handler).Observe(e.Duration.Seconds())
		}
	})
}
