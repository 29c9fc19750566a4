package monitoring

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// exporter bridges the in-memory Collector to a Prometheus registry.
// Samples are produced on scrape from the current record series, so the
// endpoint and the text exposition in ToPrometheus always agree.
type exporter struct {
	collector *Collector

	backupDuration  *prometheus.Desc
	backupSize      *prometheus.Desc
	backupTotal     *prometheus.Desc
	restoreDuration *prometheus.Desc
	restoreSize     *prometheus.Desc
	restoreTotal    *prometheus.Desc
}

func newExporter(c *Collector) *exporter {
	labels := []string{"instance", "database"}
	return &exporter{
		collector: c,
		backupDuration: prometheus.NewDesc("vya_backup_duration_seconds",
			"Duration of backup operations in seconds", labels, nil),
		backupSize: prometheus.NewDesc("vya_backup_size_bytes",
			"Size of backup artifacts in bytes", labels, nil),
		backupTotal: prometheus.NewDesc("vya_backup_total",
			"Total number of backup operations", []string{"success"}, nil),
		restoreDuration: prometheus.NewDesc("vya_restore_duration_seconds",
			"Duration of restore operations in seconds", labels, nil),
		restoreSize: prometheus.NewDesc("vya_restore_size_bytes",
			"Size of restored data in bytes", labels, nil),
		restoreTotal: prometheus.NewDesc("vya_restore_total",
			"Total number of restore operations", []string{"success"}, nil),
	}
}

func (e *exporter) Describe(ch chan<- *prometheus.Desc) {
	ch <- e.backupDuration
	ch <- e.backupSize
	ch <- e.backupTotal
	ch <- e.restoreDuration
	ch <- e.restoreSize
	ch <- e.restoreTotal
}

func (e *exporter) Collect(ch chan<- prometheus.Metric) {
	counts := map[bool]float64{}
	for _, r := range e.collector.BackupMetrics() {
		ch <- prometheus.MustNewConstMetric(e.backupDuration, prometheus.GaugeValue,
			r.Duration, r.Instance, r.Database)
		ch <- prometheus.MustNewConstMetric(e.backupSize, prometheus.GaugeValue,
			float64(r.SizeBytes), r.Instance, r.Database)
		counts[r.Success]++
	}
	for success, n := range counts {
		label := "false"
		if success {
			label = "true"
		}
		ch <- prometheus.MustNewConstMetric(e.backupTotal, prometheus.CounterValue, n, label)
	}

	counts = map[bool]float64{}
	for _, r := range e.collector.RestoreMetrics() {
		ch <- prometheus.MustNewConstMetric(e.restoreDuration, prometheus.GaugeValue,
			r.Duration, r.Instance, r.Database)
		ch <- prometheus.MustNewConstMetric(e.restoreSize, prometheus.GaugeValue,
			float64(r.SizeBytes), r.Instance, r.Database)
		counts[r.Success]++
	}
	for success, n := range counts {
		label := "false"
		if success {
			label = "true"
		}
		ch <- prometheus.MustNewConstMetric(e.restoreTotal, prometheus.CounterValue, n, label)
	}
}

// MetricsServer exposes the collector over HTTP at /metrics with a
// /healthz liveness probe.
type MetricsServer struct {
	server *http.Server
	logger *zap.Logger
}

// NewMetricsServer wires the collector into a dedicated Prometheus
// registry and builds the HTTP server. Call Start to begin serving.
func NewMetricsServer(listen string, collector *Collector, logger *zap.Logger) *MetricsServer {
	registry := prometheus.NewRegistry()
	registry.MustRegister(newExporter(collector))

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	return &MetricsServer{
		server: &http.Server{
			Addr:              listen,
			Handler:           r,
			ReadHeaderTimeout: 5 * time.Second,
		},
		logger: logger.Named("metrics.http"),
	}
}

// Start serves until Shutdown. It blocks; run it in its own goroutine.
func (s *MetricsServer) Start() error {
	s.logger.Info("metrics endpoint listening", zap.String("addr", s.server.Addr))
	err := s.server.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown stops the server gracefully.
func (s *MetricsServer) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}
