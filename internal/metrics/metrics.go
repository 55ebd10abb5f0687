// Package metrics provides Prometheus metrics for the filecove server.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// HTTP request metrics
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "filecove_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "filecove_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	// Auth metrics
	authAttemptsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "filecove_auth_attempts_total",
			Help: "Total authentication attempts",
		},
		[]string{"result"},
	)

	rateLimitHitsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "filecove_rate_limit_hits_total",
			Help: "Total login rate limit rejections (429s)",
		},
	)

	// Filesystem operation metrics
	fsOperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "filecove_fs_operations_total",
			Help: "Total filesystem operations",
		},
		[]string{"op", "result"},
	)

	// Content transfer metrics
	contentBytesDownloaded = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "filecove_content_bytes_downloaded_total",
			Help: "Total bytes downloaded",
		},
	)

	contentBytesUploaded = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "filecove_content_bytes_uploaded_total",
			Help: "Total bytes uploaded",
		},
	)

	// Archive metrics
	archiveBuildsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "filecove_archive_builds_total",
			Help: "Total zip artifact builds",
		},
		[]string{"result"},
	)

	archiveBuildDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "filecove_archive_build_duration_seconds",
			Help:    "Zip artifact build duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	archiveUnpacksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "filecove_archive_unpacks_total",
			Help: "Total archive extractions",
		},
		[]string{"result"},
	)

	archiveUnpackDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "filecove_archive_unpack_duration_seconds",
			Help:    "Archive extraction duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	activeHeavyOps = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "filecove_active_heavy_ops",
			Help: "Archive operations currently running",
		},
	)

	// Janitor metrics
	janitorSweepsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "filecove_janitor_sweeps_total",
			Help: "Total temp area sweeps",
		},
	)

	janitorReclaimedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "filecove_janitor_files_reclaimed_total",
			Help: "Total temp files removed by the janitor",
		},
	)
)

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// RecordHTTPRequest records an HTTP request metric.
func RecordHTTPRequest(method, path string, status int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
	httpRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// RecordAuthAttempt records an authentication attempt.
func RecordAuthAttempt(success bool) {
	result := "success"
	if !success {
		result = "failure"
	}
	authAttemptsTotal.WithLabelValues(result).Inc()
}

// RecordRateLimitHit records a login rate limit rejection.
func RecordRateLimitHit() {
	rateLimitHitsTotal.Inc()
}

// RecordFSOperation records a filesystem operation outcome.
func RecordFSOperation(op string, success bool) {
	result := "success"
	if !success {
		result = "error"
	}
	fsOperationsTotal.WithLabelValues(op, result).Inc()
}

// RecordContentDownload records bytes served to a client.
func RecordContentDownload(bytes int64) {
	contentBytesDownloaded.Add(float64(bytes))
}

// RecordContentUpload records bytes received from a client.
func RecordContentUpload(bytes int64) {
	contentBytesUploaded.Add(float64(bytes))
}

// RecordArchiveBuild records a zip artifact build.
func RecordArchiveBuild(duration time.Duration, success bool) {
	archiveBuildDuration.Observe(duration.Seconds())
	result := "success"
	if !success {
		result = "error"
	}
	archiveBuildsTotal.WithLabelValues(result).Inc()
}

// RecordArchiveUnpack records an archive extraction.
func RecordArchiveUnpack(duration time.Duration, success bool) {
	archiveUnpackDuration.Observe(duration.Seconds())
	result := "success"
	if !success {
		result = "error"
	}
	archiveUnpacksTotal.WithLabelValues(result).Inc()
}

// HeavyOpStarted marks an archive operation as running.
func HeavyOpStarted() {
	activeHeavyOps.Inc()
}

// HeavyOpFinished marks an archive operation as finished.
func HeavyOpFinished() {
	activeHeavyOps.Dec()
}

// RecordJanitorSweep records one sweep and the number of files it removed.
func RecordJanitorSweep(reclaimed int) {
	janitorSweepsTotal.Inc()
	janitorReclaimedTotal.Add(float64(reclaimed))
}

// responseWriter wraps http.ResponseWriter to capture status code.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (rw *responseWriter) Unwrap() http.ResponseWriter {
	return rw.ResponseWriter
}

// Middleware returns HTTP middleware that records request metrics. The
// matched route pattern is used as the path label to keep cardinality
// bounded.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(rw, r)
		path := r.Pattern
		if path == "" {
			path = r.URL.Path
		}
		RecordHTTPRequest(r.Method, path, rw.statusCode, time.Since(start))
	})
}
