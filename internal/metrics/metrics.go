package metrics

import (
	"bufio"
	"errors"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "replydesk_http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "route", "status"},
	)
	httpLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "replydesk_http_request_duration_seconds",
			Help:    "HTTP request latency in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)
	bridgeCalls = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "replydesk_bridge_calls_total",
			Help: "Calls made to the worker, by method and outcome.",
		},
		[]string{"method", "outcome"},
	)
	bridgeLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "replydesk_bridge_call_duration_seconds",
			Help:    "Worker call latency in seconds.",
			Buckets: []float64{.01, .05, .1, .5, 1, 2.5, 5, 10, 30, 60},
		},
		[]string{"method"},
	)
	workerConnected = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "replydesk_worker_connected",
			Help: "1 while a worker is attached.",
		},
	)
	uiClients = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "replydesk_ui_clients",
			Help: "Connected UI notification clients.",
		},
	)
	replies = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "replydesk_replies_total",
			Help: "Reply decisions, by source and reply type.",
		},
		[]string{"source", "type"},
	)
	pluginFailures = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "replydesk_plugin_failures_total",
			Help: "Plugin executions that fell back to the default reply.",
		},
	)
	retryAttempts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "replydesk_retry_attempts_total",
			Help: "Failed attempts inside retrying protocols.",
		},
		[]string{"protocol"},
	)
)

var registerOnce sync.Once

// Register adds every collector to the default registry. Safe to call more than once.
func Register() {
	registerOnce.Do(func() {
		prometheus.MustRegister(httpRequests, httpLatency, bridgeCalls, bridgeLatency,
			workerConnected, uiClients, replies, pluginFailures, retryAttempts)
	})
}

func Handler() http.Handler {
	return promhttp.Handler()
}

// Instrument records request counts and latency labelled by the chi route pattern.
func Instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		lrw := &statusResponseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(lrw, r)

		route := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if p := rctx.RoutePattern(); p != "" {
				route = p
			}
		}
		httpRequests.WithLabelValues(r.Method, route, strconv.Itoa(lrw.statusCode)).Inc()
		httpLatency.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
	})
}

func ObserveBridgeCall(method, outcome string, d time.Duration) {
	bridgeCalls.WithLabelValues(method, outcome).Inc()
	bridgeLatency.WithLabelValues(method).Observe(d.Seconds())
}

func SetWorkerConnected(connected bool) {
	if connected {
		workerConnected.Set(1)
		return
	}
	workerConnected.Set(0)
}

func SetUIClients(n int) {
	uiClients.Set(float64(n))
}

func IncReply(source, replyType string) {
	replies.WithLabelValues(source, replyType).Inc()
}

func IncPluginFailure() {
	pluginFailures.Inc()
}

func IncRetry(protocol string) {
	retryAttempts.WithLabelValues(protocol).Inc()
}

type statusResponseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (w *statusResponseWriter) WriteHeader(statusCode int) {
	w.statusCode = statusCode
	w.ResponseWriter.WriteHeader(statusCode)
}

// Hijack lets websocket upgrades pass through Instrument.
func (w *statusResponseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	return h.Hijack()
}
