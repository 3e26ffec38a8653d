package metrics

import (
	"errors"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/hackgods/clinic-appointment-scheduling/internal/appointment"
)

// Metrics exposes counters/histograms for bookings, store calls and HTTP
// traffic. A nil *Metrics is a valid no-op recorder.
type Metrics struct {
	bookingsTotal   *prometheus.CounterVec
	storeLatency    *prometheus.HistogramVec
	storeCallsTotal *prometheus.CounterVec
	httpRequests    *prometheus.CounterVec
	httpLatency     *prometheus.HistogramVec
}

func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		bookingsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "clinic",
			Subsystem: "scheduling",
			Name:      "bookings_total",
			Help:      "Booking attempts by outcome",
		}, []string{"outcome"}),
		storeLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "clinic",
			Subsystem: "store",
			Name:      "call_duration_seconds",
			Help:      "Latency of store operations",
			Buckets:   prometheus.DefBuckets,
		}, []string{"op"}),
		storeCallsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "clinic",
			Subsystem: "store",
			Name:      "calls_total",
			Help:      "Store operations by result",
		}, []string{"op", "result"}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "clinic",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "HTTP requests by route and status",
		}, []string{"method", "route", "status"}),
		httpLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "clinic",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request latency",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.bookingsTotal, m.storeLatency, m.storeCallsTotal, m.httpRequests, m.httpLatency)
	return m
}

func (m *Metrics) ObserveBooking(outcome string) {
	if m == nil {
		return
	}
	m.bookingsTotal.WithLabelValues(outcome).Inc()
}

func (m *Metrics) ObserveStoreCall(op string, elapsed time.Duration, err error) {
	if m == nil {
		return
	}
	m.storeLatency.WithLabelValues(op).Observe(elapsed.Seconds())
	m.storeCallsTotal.WithLabelValues(op, storeResult(err)).Inc()
}

func (m *Metrics) ObserveHTTP(method, route string, status int, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.httpRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.httpLatency.WithLabelValues(method, route).Observe(elapsed.Seconds())
}

func storeResult(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, appointment.ErrConflict):
		return "conflict"
	case errors.Is(err, appointment.ErrNotFound):
		return "not_found"
	case errors.Is(err, appointment.ErrStorageUnavailable):
		return "unavailable"
	default:
		return "error"
	}
}
