package metrics

import (
	"bufio"
	"errors"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "solpos"

var (
	// Registry holds the application-specific Prometheus collectors.
	Registry = prometheus.NewRegistry()

	httpInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "inflight_requests",
			Help:      "Current number of in-flight HTTP requests.",
		},
	)

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests handled.",
		},
		[]string{"method", "path", "status"},
	)

	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10), // 5ms to ~5s
		},
		[]string{"method", "path"},
	)

	paymentValidations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "payments",
			Name:      "validations_total",
			Help:      "Payment validation attempts by outcome.",
		},
		[]string{"outcome"},
	)

	paymentConfirmDelay = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "payments",
			Name:      "confirmation_delay_seconds",
			Help:      "Time between invoice creation and on-chain confirmation.",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 11), // 1s to ~17m
		},
	)

	invoiceTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "invoices",
			Name:      "transitions_total",
			Help:      "Invoice status transitions.",
		},
		[]string{"status", "reason"},
	)

	settlementPayouts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "settlements",
			Name:      "payouts_total",
			Help:      "Fiat payouts by provider and status.",
		},
		[]string{"provider", "status"},
	)

	swapQuotes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "swaps",
			Name:      "quotes_total",
			Help:      "Swap quote lookups by source.",
		},
		[]string{"source"},
	)

	upstreamRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "upstream",
			Name:      "requests_total",
			Help:      "Calls to external providers (solana, circle, wise, jupiter, gemini, openai).",
		},
		[]string{"provider", "operation", "success"},
	)

	upstreamDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "upstream",
			Name:      "request_duration_seconds",
			Help:      "Duration of calls to external providers.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 10),
		},
		[]string{"provider", "operation"},
	)

	realtimeSubscribers = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "realtime",
			Name:      "subscribers",
			Help:      "Open invoice event subscriptions.",
		},
	)
)

func init() {
	Registry.MustRegister(
		httpInFlight,
		httpRequests,
		httpDuration,
		paymentValidations,
		paymentConfirmDelay,
		invoiceTransitions,
		settlementPayouts,
		swapQuotes,
		upstreamRequests,
		upstreamDuration,
		realtimeSubscribers,
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
		prometheus.NewGoCollector(),
	)
}

// Handler returns an HTTP handler exposing the registered Prometheus metrics.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

// InstrumentHandler wraps the provided handler with HTTP metrics collection.
func InstrumentHandler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/metrics" {
			next.ServeHTTP(w, r)
			return
		}

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()

		httpInFlight.Inc()
		defer httpInFlight.Dec()

		next.ServeHTTP(rec, r)

		duration := time.Since(start)
		path := routePath(r)
		method := strings.ToUpper(r.Method)

		httpRequests.WithLabelValues(method, path, strconv.Itoa(rec.status)).Inc()
		httpDuration.WithLabelValues(method, path).Observe(duration.Seconds())
	})
}

// RecordValidation counts one payment validation outcome.
func RecordValidation(outcome string) {
	if outcome == "" {
		outcome = "unknown"
	}
	paymentValidations.WithLabelValues(outcome).Inc()
}

// RecordConfirmation observes how long an invoice waited for payment.
func RecordConfirmation(delay time.Duration) {
	if delay < 0 {
		delay = 0
	}
	paymentConfirmDelay.Observe(delay.Seconds())
}

// RecordTransition counts an invoice status change.
func RecordTransition(status, reason string) {
	invoiceTransitions.WithLabelValues(status, reason).Inc()
}

// RecordPayout counts a payout status observed for a provider.
func RecordPayout(provider, status string) {
	settlementPayouts.WithLabelValues(provider, status).Inc()
}

// RecordSwapQuote counts a quote served from "cache" or "upstream".
func RecordSwapQuote(source string) {
	swapQuotes.WithLabelValues(source).Inc()
}

// RecordUpstream records one call to an external provider.
func RecordUpstream(provider, operation string, duration time.Duration, err error) {
	if duration <= 0 {
		duration = time.Millisecond
	}
	result := "true"
	if err != nil {
		result = "false"
	}
	upstreamRequests.WithLabelValues(provider, operation, result).Inc()
	upstreamDuration.WithLabelValues(provider, operation).Observe(duration.Seconds())
}

// SubscriberOpened and SubscriberClosed track live event streams.
func SubscriberOpened() { realtimeSubscribers.Inc() }

func SubscriberClosed() { realtimeSubscribers.Dec() }

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Write(b []byte) (int, error) {
	if r.status == 0 {
		r.status = http.StatusOK
	}
	return r.ResponseWriter.Write(b)
}

// Hijack lets websocket upgrades pass through the recorder.
func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hj, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	r.status = http.StatusSwitchingProtocols
	return hj.Hijack()
}

// routePath prefers the mux route template so label cardinality stays bounded.
func routePath(r *http.Request) string {
	if route := mux.CurrentRoute(r); route != nil {
		if tmpl, err := route.GetPathTemplate(); err == nil {
			return tmpl
		}
	}
	return canonicalPath(r.URL.Path)
}

func canonicalPath(raw string) string {
	trimmed := strings.Trim(raw, "/")
	if trimmed == "" {
		return "/"
	}
	parts := strings.Split(trimmed, "/")
	if len(parts) >= 2 && parts[0] == "v1" {
		return "/v1/" + parts[1]
	}
	return "/" + parts[0]
}
