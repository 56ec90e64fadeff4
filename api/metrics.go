/*
metrics.go - Prometheus instrumentation

PURPOSE:
  Counters and histograms for the operational dashboard. Exposed on
  GET /metrics by the router.

SEE ALSO:
  - server.go: Mounts the /metrics endpoint and the request middleware
*/
package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	httpRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "market_http_requests_total",
		Help: "Total HTTP requests processed, labeled by status code",
	}, []string{"method", "path", "status"})

	httpRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "market_http_request_duration_seconds",
		Help:    "Latency distribution of HTTP requests",
		Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
	}, []string{"method", "path"})

	dealTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "market_deal_transitions_total",
		Help: "Successful deal lifecycle transitions by operation",
	}, []string{"operation"})

	usersRegistered = promauto.NewCounter(prometheus.CounterOpts{
		Name: "market_users_registered_total",
		Help: "Accounts created since process start",
	})

	offersCreated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "market_offers_created_total",
		Help: "Offers listed since process start",
	})
)

// metricsMiddleware records a counter and latency sample per request.
func metricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(rec, r)

		path := routePattern(r)
		httpRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(rec.status)).Inc()
		httpRequestDuration.WithLabelValues(r.Method, path).Observe(time.Since(start).Seconds())
	})
}

// routePattern reads the matched chi pattern so metrics aggregate by
// route, not by raw URL. Populated once routing has run.
func routePattern(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if p := rctx.RoutePattern(); p != "" {
			return p
		}
	}
	return r.URL.Path
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}
