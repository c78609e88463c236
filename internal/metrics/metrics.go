// Package metrics exposes the service's Prometheus instruments. A nil
// *Registry is valid and records nothing.
package metrics

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "store_monitor"

type Registry struct {
	reg *prometheus.Registry

	ReportsTotal         *prometheus.CounterVec
	ReportDuration       prometheus.Histogram
	StoreEstimates       *prometheus.CounterVec
	StoreEstimateSeconds prometheus.Histogram
	WindowStrategies     *prometheus.CounterVec
	SourceRetries        *prometheus.CounterVec
	CacheLookups         *prometheus.CounterVec
	Observations         *prometheus.CounterVec
	Notifications        *prometheus.CounterVec
}

func NewRegistry() *Registry {
	r := prometheus.NewRegistry()

	m := &Registry{
		reg: r,
		ReportsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reports_total",
			Help:      "Reports finished by final status",
		}, []string{"status"}),
		ReportDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "report_duration_seconds",
			Help:      "Wall time to build a full report",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 12),
		}),
		StoreEstimates: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "store_estimates_total",
			Help:      "Per-store uptime estimates by result",
		}, []string{"result"}),
		StoreEstimateSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "store_estimate_seconds",
			Help:      "Latency of one store's three-window estimate",
			Buckets:   prometheus.DefBuckets,
		}),
		WindowStrategies: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "window_strategy_total",
			Help:      "Estimation strategy chosen per window",
		}, []string{"window", "strategy"}),
		SourceRetries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "source_retries_total",
			Help:      "Retried backing store reads by operation",
		}, []string{"op"}),
		CacheLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_lookups_total",
			Help:      "Store metadata cache lookups",
		}, []string{"cache", "result"}),
		Observations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "observations_total",
			Help:      "Status observations by ingest stage",
		}, []string{"stage"}),
		Notifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notifications_total",
			Help:      "Report notifications by result",
		}, []string{"result"}),
	}

	r.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.ReportsTotal,
		m.ReportDuration,
		m.StoreEstimates,
		m.StoreEstimateSeconds,
		m.WindowStrategies,
		m.SourceRetries,
		m.CacheLookups,
		m.Observations,
		m.Notifications,
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format
func (m *Registry) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{})
}

// Serve exposes the registry on addr until ctx is cancelled. Worker
// processes without an API server use it; addr "off" disables it.
func (m *Registry) Serve(ctx context.Context, addr string, logger *slog.Logger) {
	if addr == "" || addr == "off" {
		return
	}
	srv := &http.Server{
		Addr:              addr,
		Handler:           m.Mux(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server stopped", "addr", addr, "error", err)
		}
	}()
}

// Mux routes /metrics and a trivial /healthz
func (m *Registry) Mux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	return mux
}

func (m *Registry) ReportFinished(status string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.ReportsTotal.WithLabelValues(status).Inc()
	m.ReportDuration.Observe(elapsed.Seconds())
}

func (m *Registry) StoreEstimated(ok bool, elapsed time.Duration) {
	if m == nil {
		return
	}
	result := "ok"
	if !ok {
		result = "failed"
	}
	m.StoreEstimates.WithLabelValues(result).Inc()
	m.StoreEstimateSeconds.Observe(elapsed.Seconds())
}

func (m *Registry) WindowStrategy(window, strategy string) {
	if m == nil {
		return
	}
	m.WindowStrategies.WithLabelValues(window, strategy).Inc()
}

func (m *Registry) SourceRetry(op string) {
	if m == nil {
		return
	}
	m.SourceRetries.WithLabelValues(op).Inc()
}

func (m *Registry) CacheLookup(cache string, hit bool) {
	if m == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	m.CacheLookups.WithLabelValues(cache, result).Inc()
}

// ObservationsAt counts n observations reaching an ingest stage
// (published, written, duplicate, rejected)
func (m *Registry) ObservationsAt(stage string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.Observations.WithLabelValues(stage).Add(float64(n))
}

func (m *Registry) NotificationSent(ok bool) {
	if m == nil {
		return
	}
	result := "sent"
	if !ok {
		result = "failed"
	}
	m.Notifications.WithLabelValues(result).Inc()
}
