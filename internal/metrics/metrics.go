// Package metrics exposes the server's Prometheus collectors.
package metrics

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry holds the application-specific Prometheus collectors. Each boot can
// carry its own; Default is shared by callers that do not supply one.
type Registry struct {
	registry *prometheus.Registry

	bootPhaseDuration *prometheus.HistogramVec
	addonsLoaded      *prometheus.CounterVec
	addonInvocations  *prometheus.CounterVec
	addonDuration     *prometheus.HistogramVec
	httpRequests      *prometheus.CounterVec
}

var defaultRegistry = NewRegistry()

// Default returns the process-wide registry.
func Default() *Registry { return defaultRegistry }

// NewRegistry creates a registry with every collector registered.
func NewRegistry() *Registry {
	r := &Registry{
		registry: prometheus.NewRegistry(),
		bootPhaseDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "straight_server",
				Subsystem: "boot",
				Name:      "phase_duration_seconds",
				Help:      "Duration of each boot phase.",
				Buckets:   prometheus.ExponentialBuckets(0.001, 2, 14), // 1ms to ~16s
			},
			[]string{"phase", "status"},
		),
		addonsLoaded: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "straight_server",
				Subsystem: "addons",
				Name:      "loaded_total",
				Help:      "Total number of addons composed onto the server.",
			},
			[]string{"kind"},
		),
		addonInvocations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "straight_server",
				Subsystem: "addons",
				Name:      "invocations_total",
				Help:      "Total number of addon operation invocations.",
			},
			[]string{"addon", "operation", "status"},
		),
		addonDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "straight_server",
				Subsystem: "addons",
				Name:      "invocation_duration_seconds",
				Help:      "Duration of addon operation invocations.",
				Buckets:   prometheus.ExponentialBuckets(0.0005, 2, 12),
			},
			[]string{"addon"},
		),
		httpRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "straight_server",
				Subsystem: "http",
				Name:      "requests_total",
				Help:      "Total number of HTTP requests handled.",
			},
			[]string{"method", "path", "status"},
		),
	}
	r.registry.MustRegister(
		r.bootPhaseDuration,
		r.addonsLoaded,
		r.addonInvocations,
		r.addonDuration,
		r.httpRequests,
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
		prometheus.NewGoCollector(),
	)
	return r
}

// Gatherer exposes the underlying Prometheus registry.
func (r *Registry) Gatherer() prometheus.Gatherer { return r.registry }

// Handler returns an HTTP handler exposing the registered Prometheus metrics.
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}

// ObserveBootPhase records how long a boot phase took.
func (r *Registry) ObserveBootPhase(phase string, duration time.Duration, err error) {
	r.bootPhaseDuration.WithLabelValues(phase, status(err)).Observe(duration.Seconds())
}

// RecordAddonLoaded counts a composed addon.
func (r *Registry) RecordAddonLoaded(kind string) {
	r.addonsLoaded.WithLabelValues(kind).Inc()
}

// RecordAddonInvocation records one addon operation call.
func (r *Registry) RecordAddonInvocation(addon, operation string, duration time.Duration, err error) {
	if duration <= 0 {
		duration = time.Microsecond
	}
	r.addonInvocations.WithLabelValues(addon, operation, status(err)).Inc()
	r.addonDuration.WithLabelValues(addon).Observe(duration.Seconds())
}

// InstrumentHandler wraps the provided handler with HTTP request counting.
func (r *Registry) InstrumentHandler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		if req.URL.Path == "/metrics" {
			next.ServeHTTP(w, req)
			return
		}
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, req)
		r.httpRequests.WithLabelValues(strings.ToUpper(req.Method), canonicalPath(req.URL.Path), strconv.Itoa(rec.status)).Inc()
	})
}

func status(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// canonicalPath collapses addon method names so label cardinality stays bounded.
func canonicalPath(raw string) string {
	trimmed := strings.Trim(raw, "/")
	if trimmed == "" {
		return "/"
	}
	parts := strings.Split(trimmed, "/")
	if parts[0] == "addons" && len(parts) > 1 {
		return "/addons/:method"
	}
	return "/" + parts[0]
}
