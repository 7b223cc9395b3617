package middleware

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/valyala/fasthttp"
)

var (
	httpRequestsTotal      *prometheus.CounterVec
	httpRequestDurationsMs *prometheus.HistogramVec
)

func InitPrometheusMetrics() {
	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "leadledger",
			Name:      "http_requests_total",
			Help:      "Total HTTP requests served, by method and status.",
		},
		[]string{"method", "status"},
	)
	httpRequestDurationsMs = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "leadledger",
			Name:      "http_request_duration_ms",
			Help:      "HTTP request handling time in milliseconds.",
			Buckets:   []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 2500},
		},
		[]string{"method"},
	)
	prometheus.MustRegister(httpRequestsTotal, httpRequestDurationsMs)
}

// RequestMetrics counts and times every request. Health and scrape endpoints
// are skipped so the metrics do not report on themselves.
func RequestMetrics(next fasthttp.RequestHandler) fasthttp.RequestHandler {
	return func(ctx *fasthttp.RequestCtx) {
		start := time.Now()
		next(ctx)

		path := string(ctx.Path())
		if path == "/healthz" || path == "/v1/metrics" {
			return
		}
		if httpRequestsTotal == nil {
			return
		}

		method := string(ctx.Method())
		status := strconv.Itoa(ctx.Response.StatusCode())
		httpRequestsTotal.WithLabelValues(method, status).Inc()
		httpRequestDurationsMs.WithLabelValues(method).
			Observe(float64(time.Since(start).Milliseconds()))
	}
}
