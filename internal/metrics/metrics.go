package metrics

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "skyframe_http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"path", "method", "code"},
	)

	httpDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "skyframe_http_duration_seconds",
			Help:    "HTTP request duration in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"path", "method"},
	)

	previewRenderSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "skyframe_preview_render_seconds",
			Help:    "Skymap preview reprojection duration in seconds.",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		},
	)

	tileCacheHits = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "skyframe_tile_cache_hits_total",
			Help: "Decoded skymap tile cache hits.",
		},
	)

	tileCacheMisses = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "skyframe_tile_cache_misses_total",
			Help: "Decoded skymap tile cache misses.",
		},
	)

	solveResultsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "skyframe_solve_results_total",
			Help: "Plate-solve outcomes by terminal status.",
		},
		[]string{"status"},
	)

	solvesInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "skyframe_solves_in_flight",
			Help: "Plate-solve requests currently polling the external API.",
		},
	)

	skymapAvailable = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "skyframe_skymap_available",
			Help: "1 when the skymap tile directory is readable, 0 otherwise.",
		},
	)
)

func init() {
	prometheus.MustRegister(httpRequestsTotal)
	prometheus.MustRegister(httpDurationSeconds)
	prometheus.MustRegister(previewRenderSeconds)
	prometheus.MustRegister(tileCacheHits)
	prometheus.MustRegister(tileCacheMisses)
	prometheus.MustRegister(solveResultsTotal)
	prometheus.MustRegister(solvesInFlight)
	prometheus.MustRegister(skymapAvailable)
}

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObservePreviewRender records one preview reprojection duration.
func ObservePreviewRender(d time.Duration) {
	previewRenderSeconds.Observe(d.Seconds())
}

// IncTileCacheHits increments the decoded-tile cache hit counter.
func IncTileCacheHits() {
	tileCacheHits.Inc()
}

// IncTileCacheMisses increments the decoded-tile cache miss counter.
func IncTileCacheMisses() {
	tileCacheMisses.Inc()
}

// IncSolveResult records a terminal plate-solve outcome.
func IncSolveResult(status string) {
	solveResultsTotal.WithLabelValues(status).Inc()
}

// SolveStarted marks a solve request entering its polling loop.
func SolveStarted() {
	solvesInFlight.Inc()
}

// SolveFinished marks a solve request leaving its polling loop.
func SolveFinished() {
	solvesInFlight.Dec()
}

// SetSkymapAvailable publishes skymap asset availability.
func SetSkymapAvailable(available bool) {
	if available {
		skymapAvailable.Set(1)
	} else {
		skymapAvailable.Set(0)
	}
}

// knownRoutes are exact paths recorded with their own label.
var knownRoutes = map[string]bool{
	"/":                          true,
	"/index.html":                true,
	"/app.js":                    true,
	"/styles.css":                true,
	"/healthz":                   true,
	"/readyz":                    true,
	"/metrics":                   true,
	"/api/v1/exposure":           true,
	"/api/v1/skymap/preview":     true,
	"/api/v1/target/declination": true,
	"/api/v1/targets":            true,
	"/api/v1/analyze":            true,
	"/api/v1/analyze/async":      true,
}

// normalizeRoute collapses parameterized and unknown paths so scanner
// traffic cannot blow up the path label cardinality.
func normalizeRoute(path string) string {
	if knownRoutes[path] {
		return path
	}
	if strings.HasPrefix(path, "/api/v1/analyze/jobs/") {
		switch {
		case strings.HasSuffix(path, "/annotations"):
			return "/api/v1/analyze/jobs/{job_id}/annotations"
		case strings.HasSuffix(path, "/overlay"):
			return "/api/v1/analyze/jobs/{job_id}/overlay"
		}
		return "other"
	}
	if strings.HasPrefix(path, "/api/v1/analyze/") {
		return "/api/v1/analyze/{sub_id}"
	}
	return "other"
}

// responseWriter wraps http.ResponseWriter to capture the status code.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Middleware records request count and duration for each request.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(rw, r)

		duration := time.Since(start).Seconds()
		code := strconv.Itoa(rw.statusCode)
		route := normalizeRoute(r.URL.Path)

		httpRequestsTotal.WithLabelValues(route, r.Method, code).Inc()
		httpDurationSeconds.WithLabelValues(route, r.Method).Observe(duration)
	})
}
