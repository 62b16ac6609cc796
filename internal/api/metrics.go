package api

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/sassoftware/rpath-tools-sub000/internal/jobs"
)

const unmatched = "unmatched"

var (
	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rpath_http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "rpath_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	jobsCreatedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rpath_jobs_created_total",
			Help: "Total number of jobs created through the API.",
		},
		[]string{"kind"},
	)
)

func init() {
	prometheus.MustRegister(httpRequestsTotal)
	prometheus.MustRegister(httpRequestDuration)
	prometheus.MustRegister(jobsCreatedTotal)
}

// metricsMiddleware records request count and duration for every HTTP request.
// Uses the chi route pattern (not the raw path) to avoid unbounded cardinality.
func metricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		duration := time.Since(start).Seconds()
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}

		path := routePattern(r)
		httpRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(status)).Inc()
		httpRequestDuration.WithLabelValues(r.Method, path).Observe(duration)
	})
}

// routePattern extracts the matched chi route pattern, falling back to "unmatched".
func routePattern(r *http.Request) string {
	rctx := chi.RouteContext(r.Context())
	if rctx != nil && rctx.RoutePattern() != "" {
		return rctx.RoutePattern()
	}
	return unmatched
}

// metricsHandler serves the process-wide metrics together with the ones
// registered on this server.
func (s *Server) metricsHandler() http.Handler {
	return promhttp.HandlerFor(
		prometheus.Gatherers{prometheus.DefaultGatherer, s.metrics},
		promhttp.HandlerOpts{},
	)
}

// jobsCollector reports the number of live jobs per kind and state, read
// from storage at scrape time.
type jobsCollector struct {
	svc    *jobs.Service
	logger *slog.Logger
	desc   *prometheus.Desc
}

func newJobsCollector(svc *jobs.Service, logger *slog.Logger) *jobsCollector {
	return &jobsCollector{
		svc:    svc,
		logger: logger,
		desc: prometheus.NewDesc(
			"rpath_jobs",
			"Number of stored jobs by kind and state.",
			[]string{"kind", "state"}, nil,
		),
	}
}

func (c *jobsCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.desc
}

func (c *jobsCollector) Collect(ch chan<- prometheus.Metric) {
	stats, err := c.svc.Stats(context.Background())
	if err != nil {
		c.logger.Error("collect job stats", "error", err)
		ch <- prometheus.NewInvalidMetric(c.desc, err)
		return
	}
	for kind, states := range stats {
		for state, n := range states {
			ch <- prometheus.MustNewConstMetric(c.desc, prometheus.GaugeValue, float64(n), kind, string(state))
		}
	}
}
