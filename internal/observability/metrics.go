// Package observability exposes pool metrics over a Prometheus endpoint
// for the duration of a run.
package observability

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"promptplane/internal/pool"
)

// MetricsSource is the subset of the pool the collectors read.
type MetricsSource interface {
	GetMetrics() pool.Metrics
}

// NewRegistry builds a Prometheus registry with gauges bound to the pool's
// metrics snapshot.
func NewRegistry(src MetricsSource) *prometheus.Registry {
	reg := prometheus.NewRegistry()

	reg.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "promptplane_active_workers",
		Help: "Workers currently executing a task.",
	}, func() float64 { return float64(src.GetMetrics().ActiveWorkers) }))

	reg.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "promptplane_queue_length",
		Help: "Tasks waiting in the queue.",
	}, func() float64 { return float64(src.GetMetrics().QueueLength) }))

	reg.MustRegister(prometheus.NewCounterFunc(prometheus.CounterOpts{
		Name: "promptplane_tasks_processed_total",
		Help: "Tasks that completed successfully.",
	}, func() float64 { return float64(src.GetMetrics().TotalProcessed) }))

	reg.MustRegister(prometheus.NewCounterFunc(prometheus.CounterOpts{
		Name: "promptplane_tasks_failed_total",
		Help: "Tasks that failed terminally.",
	}, func() float64 { return float64(src.GetMetrics().TotalFailed) }))

	reg.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "promptplane_throughput_per_second",
		Help: "Completions per second over the rolling window.",
	}, func() float64 { return src.GetMetrics().CurrentThroughput }))

	return reg
}

// Serve exposes /metrics on addr until the context ends. Returns the
// shutdown error, if any.
func Serve(ctx context.Context, addr string, src MetricsSource) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(NewRegistry(src), promhttp.HandlerOpts{}))

	server := &http.Server{Addr: addr, Handler: mux}
	errCh := make(chan error, 1)
	go func() { errCh <- server.ListenAndServe() }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	}
}
