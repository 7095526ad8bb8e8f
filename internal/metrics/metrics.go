// Package metrics collects and exposes Prometheus metrics for the
// orchestration daemon: run throughput, retries, and scheduler skips.
package metrics

import (
	"context"
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector owns the daemon's metric instruments. Each daemon creates its
// own registry so tests can instantiate collectors freely.
type Collector struct {
	registry *prometheus.Registry

	runsStarted   prometheus.Counter
	runsCompleted prometheus.Counter
	runsFailed    prometheus.Counter
	runsStopped   prometheus.Counter
	retries       prometheus.Counter
	rejected      prometheus.Counter
	deferred      prometheus.Counter

	runDuration  prometheus.Histogram
	runsInFlight prometheus.Gauge
}

// NewCollector creates and registers all metric instruments.
func NewCollector() *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		runsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "taskmill_runs_started_total",
			Help: "Total number of executor runs started",
		}),
		runsCompleted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "taskmill_runs_completed_total",
			Help: "Total number of runs that reached the completed phase",
		}),
		runsFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "taskmill_runs_failed_total",
			Help: "Total number of runs that reached the failed phase",
		}),
		runsStopped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "taskmill_runs_stopped_total",
			Help: "Total number of runs stopped by operator request",
		}),
		retries: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "taskmill_phase_retries_total",
			Help: "Total number of phase attempts retried after a transient failure",
		}),
		rejected: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "taskmill_firings_rejected_total",
			Help: "Total number of firings skipped because the task already had a run in flight",
		}),
		deferred: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "taskmill_firings_deferred_total",
			Help: "Total number of firings skipped because the concurrency ceiling was reached",
		}),
		runDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "taskmill_run_duration_seconds",
			Help:    "Wall-clock duration of executor runs",
			Buckets: prometheus.ExponentialBuckets(1, 2, 12),
		}),
		runsInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "taskmill_runs_in_flight",
			Help: "Current number of in-flight executor runs",
		}),
	}

	c.registry.MustRegister(
		c.runsStarted, c.runsCompleted, c.runsFailed, c.runsStopped,
		c.retries, c.rejected, c.deferred, c.runDuration, c.runsInFlight,
	)
	return c
}

// RecordRunStarted marks a run start.
func (c *Collector) RecordRunStarted() {
	c.runsStarted.Inc()
	c.runsInFlight.Inc()
}

// RecordRunFinished marks a run end with its terminal phase name.
func (c *Collector) RecordRunFinished(terminal string, duration time.Duration) {
	c.runsInFlight.Dec()
	c.runDuration.Observe(duration.Seconds())
	switch terminal {
	case "completed":
		c.runsCompleted.Inc()
	case "failed":
		c.runsFailed.Inc()
	case "stopped":
		c.runsStopped.Inc()
	}
}

// RecordRetry marks a retried phase attempt.
func (c *Collector) RecordRetry() { c.retries.Inc() }

// RecordRejected marks a skipped firing (run already in flight).
func (c *Collector) RecordRejected() { c.rejected.Inc() }

// RecordDeferred marks a skipped firing (ceiling reached).
func (c *Collector) RecordDeferred() { c.deferred.Inc() }

// Serve exposes /metrics on addr until ctx is done. Blocks.
func (c *Collector) Serve(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{}))

	srv := &http.Server{Addr: addr, Handler: mux}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Printf("WARNING: metrics server shutdown: %v", err)
		}
	}()

	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
