// internal/telemetry/telemetry.go
//
// Prometheus exposure of the scheduler's live counters. The exporter is a
// passive collaborator: the scheduler pushes counter snapshots into it once
// per tick, and the HTTP endpoint serves whatever was pushed last.

package telemetry

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/dsullivansr/process-orchestrator/internal/scheduler"
)

// Exporter holds the metric set for one run.
type Exporter struct {
	registry *prometheus.Registry
	logger   *slog.Logger

	running prometheus.Gauge
	pending prometheus.Gauge
	ceiling prometheus.Gauge
	items   *prometheus.CounterVec

	server *http.Server
	addr   string
}

// New builds an exporter with its own registry. The run label lets several
// orchestrator runs share one scrape target over time.
func New(runID string, logger *slog.Logger) *Exporter {
	if logger == nil {
		logger = slog.Default()
	}
	registry := prometheus.NewRegistry()
	constLabels := prometheus.Labels{"run": runID}

	e := &Exporter{
		registry: registry,
		logger:   logger,
		running: prometheus.NewGauge(prometheus.GaugeOpts{
			Name:        "orchestrator_running_processes",
			Help:        "Worker processes currently running.",
			ConstLabels: constLabels,
		}),
		pending: prometheus.NewGauge(prometheus.GaugeOpts{
			Name:        "orchestrator_pending_items",
			Help:        "Work items waiting for admission.",
			ConstLabels: constLabels,
		}),
		ceiling: prometheus.NewGauge(prometheus.GaugeOpts{
			Name:        "orchestrator_current_ceiling",
			Help:        "Maximum concurrently running processes currently permitted.",
			ConstLabels: constLabels,
		}),
		items: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "orchestrator_items_total",
			Help:        "Work items by terminal state.",
			ConstLabels: constLabels,
		}, []string{"state"}),
	}
	registry.MustRegister(e.running, e.pending, e.ceiling, e.items)
	return e
}

// OnCounters receives the per-tick counter snapshot from the scheduler.
func (e *Exporter) OnCounters(c scheduler.Counters) {
	e.running.Set(float64(c.Running))
	e.pending.Set(float64(c.Pending))
	e.ceiling.Set(float64(c.Ceiling))
}

// ItemFinished implements scheduler.EventSink.
func (e *Exporter) ItemFinished(res scheduler.ItemResult) {
	e.items.WithLabelValues(string(res.State)).Inc()
}

// RunFinished implements scheduler.EventSink. The final counters were
// already pushed; nothing further to record.
func (e *Exporter) RunFinished(scheduler.Summary) {}

// Start binds addr and serves /metrics until Shutdown. A bind failure is
// returned synchronously; later serve errors are only logged, telemetry
// must never take the run down.
func (e *Exporter) Start(addr string) error {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("telemetry: listen %s: %w", addr, err)
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(e.registry, promhttp.HandlerOpts{}))
	e.server = &http.Server{Handler: mux}
	e.addr = listener.Addr().String()
	go func() {
		if err := e.server.Serve(listener); err != nil && err != http.ErrServerClosed {
			e.logger.Warn("telemetry.serve_failed", "err", err)
		}
	}()
	e.logger.Info("telemetry.listening", "addr", listener.Addr().String())
	return nil
}

// Addr returns the bound listen address, useful when Start was given a
// ":0" style address.
func (e *Exporter) Addr() string {
	return e.addr
}

// Shutdown stops the metrics endpoint.
func (e *Exporter) Shutdown(ctx context.Context) error {
	if e.server == nil {
		return nil
	}
	return e.server.Shutdown(ctx)
}
