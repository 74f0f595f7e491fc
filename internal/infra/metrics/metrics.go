// Package metrics exposes Prometheus metrics derived from runtime bus events.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ikanban/ikanban/internal/domain"
)

// EventSource is the part of the event bus a Recorder needs.
type EventSource interface {
	Subscribe(fn func(domain.RuntimeEvent)) func()
}

// Recorder turns bus events into Prometheus metrics.
// It owns its registry so several recorders can coexist in one process.
type Recorder struct {
	registry      *prometheus.Registry
	eventsTotal   *prometheus.CounterVec
	transitions   *prometheus.CounterVec
	failuresTotal prometheus.Counter
	mergesTotal   prometheus.Counter
	tasks         *prometheus.GaugeVec
	states        map[string]domain.TaskState // last known state per task
	mu            sync.Mutex
}

// NewRecorder creates a Recorder with a fresh registry.
func NewRecorder() *Recorder {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)
	return &Recorder{
		registry: reg,
		states:   make(map[string]domain.TaskState),
		eventsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ikanban_events_total",
				Help: "Total number of runtime events by type",
			},
			[]string{"type"},
		),
		transitions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ikanban_task_transitions_total",
				Help: "Total number of task state transitions by target state",
			},
			[]string{"state"},
		),
		failuresTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "ikanban_task_failures_total",
			Help: "Total number of failed task steps",
		}),
		mergesTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "ikanban_task_merges_total",
			Help: "Total number of merged task worktrees",
		}),
		tasks: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "ikanban_tasks",
				Help: "Number of known tasks by current state",
			},
			[]string{"state"},
		),
	}
}

// Registry returns the registry metrics are registered with.
func (r *Recorder) Registry() *prometheus.Registry {
	return r.registry
}

// Attach records every event of bus until the returned func is called.
func (r *Recorder) Attach(bus EventSource) func() {
	return bus.Subscribe(r.Observe)
}

// Observe records one event.
func (r *Recorder) Observe(e domain.RuntimeEvent) {
	r.eventsTotal.WithLabelValues(string(e.Type)).Inc()

	switch e.Type {
	case domain.EventTaskStateChanged:
		r.transitions.WithLabelValues(string(e.Payload.State)).Inc()
	case domain.EventTaskFailed:
		r.failuresTotal.Inc()
	case domain.EventTaskCompleted:
		if e.Payload.Merged {
			r.mergesTotal.Inc()
		}
	}

	if e.Payload.TaskID != "" && e.Payload.State != "" && e.Type.IsTaskEvent() {
		r.setState(e.Payload.TaskID, e.Payload.State)
	}
}

func (r *Recorder) setState(taskID string, state domain.TaskState) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if prev, ok := r.states[taskID]; ok {
		if prev == state {
			return
		}
		r.tasks.WithLabelValues(string(prev)).Dec()
	}
	r.states[taskID] = state
	r.tasks.WithLabelValues(string(state)).Inc()
}

// Forget drops a deleted task from the state gauge.
func (r *Recorder) Forget(taskID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if prev, ok := r.states[taskID]; ok {
		r.tasks.WithLabelValues(string(prev)).Dec()
		delete(r.states, taskID)
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{Registry: r.registry})
}

// Serve exposes /metrics on addr until ctx is done.
func (r *Recorder) Serve(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", r.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}
}
