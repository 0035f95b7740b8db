package main

import (
	"bufio"
	"errors"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
)

var (
	candidatesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "headsetd",
			Subsystem: "fusion",
			Name:      "candidates_total",
			Help:      "Candidate presses by source and debounce outcome",
		},
		[]string{"source", "outcome"},
	)

	supportedGauge = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "headsetd",
			Subsystem: "fusion",
			Name:      "transport_supported",
			Help:      "1 if the transport-control capability was found at startup",
		},
	)

	toneFailuresTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "headsetd",
			Subsystem: "tone",
			Name:      "failures_total",
			Help:      "Tone playbacks that could not be started",
		},
	)

	cacheRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "headsetd",
			Subsystem: "worker",
			Name:      "requests_total",
			Help:      "Requests seen by the caching worker by result",
		},
		[]string{"result"},
	)

	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "headsetd",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of API requests in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"path", "method", "status"},
	)
)

func init() {
	prometheus.MustRegister(candidatesTotal, supportedGauge, toneFailuresTotal, cacheRequestsTotal, httpRequestDuration)
}

// observeBroadcast updates counters from reducer output. Called by the daemon loop.
func observeBroadcast(b StateBroadcast) {
	switch v := b.(type) {
	case BroadcastPressAccepted:
		candidatesTotal.WithLabelValues(sourceKind(v.Source), Accepted.String()).Inc()
	case BroadcastPressSuppressed:
		candidatesTotal.WithLabelValues(sourceKind(v.Source), Suppressed.String()).Inc()
	case BroadcastSupportChanged:
		if v.Supported {
			supportedGauge.Set(1)
		} else {
			supportedGauge.Set(0)
		}
	}
}

// sourceKind collapses a source label to its adapter so label cardinality stays
// bounded ("keydown-MediaPlay" -> "keydown").
func sourceKind(source string) string {
	switch {
	case strings.HasPrefix(source, keydownSourcePrefix):
		return "keydown"
	case strings.HasPrefix(source, transportSourcePrefix):
		return "transport"
	case source == manualTriggerSource:
		return "manual"
	default:
		return "other"
	}
}

// statusRecorder wraps http.ResponseWriter to capture status code
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (sr *statusRecorder) WriteHeader(code int) {
	sr.status = code
	sr.ResponseWriter.WriteHeader(code)
}

// Hijack lets the websocket upgrader take over connections behind the middleware.
func (sr *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := sr.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	return h.Hijack()
}

// metricsMiddleware records request durations labelled by chi route pattern.
func metricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sr := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()
		next.ServeHTTP(sr, r)
		httpRequestDuration.WithLabelValues(routePatternOrPath(r), r.Method, strconv.Itoa(sr.status)).
			Observe(time.Since(start).Seconds())
	})
}

// routePatternOrPath returns the chi route pattern if available, otherwise
// falls back to URL path.
func routePatternOrPath(r *http.Request) string {
	if rc := chi.RouteContext(r.Context()); rc != nil {
		if p := rc.RoutePattern(); p != "" {
			return p
		}
	}
	return r.URL.Path
}
