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
	// Registry holds the application-specific Prometheus collectors.
	Registry = prometheus.NewRegistry()

	httpInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "escrow_service",
			Subsystem: "http",
			Name:      "inflight_requests",
			Help:      "Current number of in-flight HTTP requests.",
		},
	)

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "escrow_service",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests handled.",
		},
		[]string{"method", "path", "status"},
	)

	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "escrow_service",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10), // 5ms to ~5s
		},
		[]string{"method", "path"},
	)

	escrowOperations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "escrow_service",
			Subsystem: "escrow",
			Name:      "operations_total",
			Help:      "Total number of escrow operations executed.",
		},
		[]string{"operation", "outcome"},
	)

	escrowOperationDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "escrow_service",
			Subsystem: "escrow",
			Name:      "operation_duration_seconds",
			Help:      "Duration of escrow operations.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 12), // 1ms to ~4s
		},
		[]string{"operation"},
	)

	escrowEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "escrow_service",
			Subsystem: "escrow",
			Name:      "events_total",
			Help:      "Total number of escrow events emitted.",
		},
		[]string{"type"},
	)

	recordsOpen = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "escrow_service",
			Subsystem: "escrow",
			Name:      "records_open",
			Help:      "Number of escrow records currently open.",
		},
	)

	hostCPUPercent = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "escrow_service",
			Subsystem: "host",
			Name:      "cpu_percent",
			Help:      "Host CPU utilization percentage.",
		},
	)

	hostMemoryUsed = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "escrow_service",
			Subsystem: "host",
			Name:      "memory_used_bytes",
			Help:      "Host memory in use, in bytes.",
		},
	)
)

func init() {
	Registry.MustRegister(
		httpInFlight,
		httpRequests,
		httpDuration,
		escrowOperations,
		escrowOperationDuration,
		escrowEvents,
		recordsOpen,
		hostCPUPercent,
		hostMemoryUsed,
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
		path := canonicalPath(r.URL.Path)
		method := strings.ToUpper(r.Method)

		httpRequests.WithLabelValues(method, path, strconv.Itoa(rec.status)).Inc()
		httpDuration.WithLabelValues(method, path).Observe(duration.Seconds())
	})
}

// RecordEscrowOperation records one escrow operation outcome with its
// duration. Domain rejections and storage failures both count as failures.
func RecordEscrowOperation(operation string, err error, duration time.Duration) {
	if operation == "" {
		operation = "unknown"
	}
	if duration <= 0 {
		duration = time.Millisecond
	}
	outcome := "success"
	if err != nil {
		outcome = "failure"
	}
	escrowOperations.WithLabelValues(operation, outcome).Inc()
	escrowOperationDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

// RecordEscrowEvent counts one emitted escrow event by type.
func RecordEscrowEvent(eventType string) {
	if eventType == "" {
		eventType = "unknown"
	}
	escrowEvents.WithLabelValues(eventType).Inc()
}

// AddRecordsOpen moves the open-records gauge by delta. Initialize passes +1,
// Close passes -1.
func AddRecordsOpen(delta float64) {
	recordsOpen.Add(delta)
}

// SetHostStats publishes the host resource gauges sampled by the monitor.
func SetHostStats(cpuPercent float64, memoryUsedBytes uint64) {
	hostCPUPercent.Set(cpuPercent)
	hostMemoryUsed.Set(float64(memoryUsedBytes))
}

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

func canonicalPath(raw string) string {
	if raw == "" || raw == "/" {
		return "/"
	}
	trimmed := strings.Trim(raw, "/")
	if trimmed == "" {
		return "/"
	}
	parts := strings.Split(trimmed, "/")
	if parts[0] != "api" {
		return "/" + parts[0]
	}
	// /api/v1/escrows/{address}/... collapses the address segment so the
	// label cardinality stays bounded.
	if len(parts) < 3 {
		return "/" + strings.Join(parts, "/")
	}
	resource := parts[2]
	if resource != "escrows" || len(parts) == 3 {
		return "/api/v1/" + resource
	}
	if len(parts) == 4 {
		return "/api/v1/escrows/:address"
	}
	return "/api/v1/escrows/:address/" + parts[4]
}
