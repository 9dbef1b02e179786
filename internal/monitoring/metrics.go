// internal/monitoring/metrics.go
package monitoring

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsManager manages Prometheus metrics for the import pipeline. A nil
// *MetricsManager is valid and records nothing.
type MetricsManager struct {
	registry *prometheus.Registry

	// Fetch metrics
	pagesFetched  *prometheus.CounterVec
	fetchErrors   *prometheus.CounterVec
	fetchDuration *prometheus.HistogramVec

	// Extraction metrics
	transformSkips *prometheus.CounterVec
	imagesFiltered *prometheus.CounterVec
	imageUploads   *prometheus.CounterVec

	// Job metrics
	jobsTotal     *prometheus.CounterVec
	jobDuration   *prometheus.HistogramVec
	batchDuration prometheus.Histogram
	batchItems    *prometheus.CounterVec

	// Discovery metrics
	candidatesFound *prometheus.CounterVec
}

// MetricsConfig configuration for metrics
type MetricsConfig struct {
	Namespace       string `json:"namespace"`
	Subsystem       string `json:"subsystem"`
	EnableGoMetrics bool   `json:"enable_go_metrics"`
}

// NewMetricsManager creates a metrics manager on its own registry.
func NewMetricsManager(config MetricsConfig) *MetricsManager {
	if config.Namespace == "" {
		config.Namespace = "importexter"
	}
	if config.Subsystem == "" {
		config.Subsystem = "pipeline"
	}

	reg := prometheus.NewRegistry()
	if config.EnableGoMetrics {
		reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	}
	f := promauto.With(reg)
	ns, sub := config.Namespace, config.Subsystem

	return &MetricsManager{
		registry: reg,
		pagesFetched: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns, Subsystem: sub,
			Name: "pages_fetched_total",
			Help: "Total number of pages fetched",
		}, []string{"host", "status_code"}),
		fetchErrors: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns, Subsystem: sub,
			Name: "fetch_errors_total",
			Help: "Fetch failures by error kind",
		}, []string{"host", "kind"}),
		fetchDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: ns, Subsystem: sub,
			Name:    "fetch_duration_seconds",
			Help:    "Time spent fetching pages",
			Buckets: prometheus.DefBuckets,
		}, []string{"host"}),
		transformSkips: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns, Subsystem: sub,
			Name: "transform_steps_skipped_total",
			Help: "Transform steps that failed and were skipped",
		}, []string{"type"}),
		imagesFiltered: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns, Subsystem: sub,
			Name: "images_filtered_total",
			Help: "Images dropped by the resolver",
		}, []string{"reason"}),
		imageUploads: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns, Subsystem: sub,
			Name: "image_uploads_total",
			Help: "Image uploads by result",
		}, []string{"result"}),
		jobsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns, Subsystem: sub,
			Name: "jobs_total",
			Help: "Jobs that reached a final or review state",
		}, []string{"kind", "status"}),
		jobDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: ns, Subsystem: sub,
			Name:    "job_duration_seconds",
			Help:    "Time from claim to final state",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
		}, []string{"kind"}),
		batchDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: ns, Subsystem: sub,
			Name:    "batch_duration_seconds",
			Help:    "Wall time of batch runs",
			Buckets: prometheus.ExponentialBuckets(1, 2, 12),
		}),
		batchItems: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns, Subsystem: sub,
			Name: "batch_items_total",
			Help: "Batch items by outcome",
		}, []string{"status"}),
		candidatesFound: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns, Subsystem: sub,
			Name: "discovery_candidates_total",
			Help: "Candidate URLs found by list discovery",
		}, []string{"strategy"}),
	}
}

// RecordPageFetched records a completed fetch.
func (mm *MetricsManager) RecordPageFetched(host string, statusCode int, duration time.Duration) {
	if mm == nil {
		return
	}
	mm.pagesFetched.WithLabelValues(host, strconv.Itoa(statusCode)).Inc()
	mm.fetchDuration.WithLabelValues(host).Observe(duration.Seconds())
}

// RecordFetchError records a failed fetch by error kind.
func (mm *MetricsManager) RecordFetchError(host, kind string) {
	if mm == nil {
		return
	}
	mm.fetchErrors.WithLabelValues(host, kind).Inc()
}

// RecordTransformSkipped counts a skipped transform step.
func (mm *MetricsManager) RecordTransformSkipped(transformType string) {
	if mm == nil {
		return
	}
	mm.transformSkips.WithLabelValues(transformType).Inc()
}

// RecordImageFiltered counts an image dropped for reason.
func (mm *MetricsManager) RecordImageFiltered(reason string) {
	if mm == nil {
		return
	}
	mm.imagesFiltered.WithLabelValues(reason).Inc()
}

// RecordImageUpload counts an upload attempt; result is "ok", "failed" or "rejected".
func (mm *MetricsManager) RecordImageUpload(result string) {
	if mm == nil {
		return
	}
	mm.imageUploads.WithLabelValues(result).Inc()
}

// RecordJob records a job reaching status.
func (mm *MetricsManager) RecordJob(kind, status string, duration time.Duration) {
	if mm == nil {
		return
	}
	mm.jobsTotal.WithLabelValues(kind, status).Inc()
	mm.jobDuration.WithLabelValues(kind).Observe(duration.Seconds())
}

// RecordBatchItem counts one batch outcome.
func (mm *MetricsManager) RecordBatchItem(status string) {
	if mm == nil {
		return
	}
	mm.batchItems.WithLabelValues(status).Inc()
}

// RecordBatch records the duration of a whole batch.
func (mm *MetricsManager) RecordBatch(duration time.Duration) {
	if mm == nil {
		return
	}
	mm.batchDuration.Observe(duration.Seconds())
}

// RecordCandidates counts discovered candidates.
func (mm *MetricsManager) RecordCandidates(strategy string, n int) {
	if mm == nil {
		return
	}
	mm.candidatesFound.WithLabelValues(strategy).Add(float64(n))
}

// Registry exposes the underlying registry, mainly for tests.
func (mm *MetricsManager) Registry() *prometheus.Registry {
	return mm.registry
}

// MetricsHandler returns the HTTP handler serving the metrics
func (mm *MetricsManager) MetricsHandler() http.Handler {
	if mm == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(mm.registry, promhttp.HandlerOpts{})
}
