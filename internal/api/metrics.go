package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	requestCount = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "automl",
		Subsystem: "api",
		Name:      "request_count",
		Help:      "Number of requests received.",
	}, []string{"method", "route", "status"})

	requestLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "automl",
		Subsystem: "api",
		Name:      "request_latency_seconds",
		Help:      "Total duration of requests in seconds.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method", "route"})
)

// Metrics records a count and latency per route pattern, so session ids do not
// end up as label values.
func Metrics(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		begin := time.Now()

		next.ServeHTTP(ww, r)

		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			route = rctx.RoutePattern()
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}

		requestCount.WithLabelValues(r.Method, route, strconv.Itoa(status)).Inc()
		requestLatency.WithLabelValues(r.Method, route).Observe(time.Since(begin).Seconds())
	})
}
