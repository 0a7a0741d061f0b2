package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the collectors for the booking engine. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	bookingOps       *prometheus.CounterVec
	bookingDuration  *prometheus.HistogramVec
	sweepRuns        *prometheus.CounterVec
	noShowsMarked    prometheus.Counter
	sweepCandidates  prometheus.Counter
	notifications    *prometheus.CounterVec
	httpRequests     *prometheus.CounterVec
	httpReqDurations *prometheus.HistogramVec
}

func New() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		registry: reg,
		bookingOps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "booking_operations_total",
			Help: "Booking engine operations by operation and outcome kind.",
		}, []string{"operation", "outcome"}),
		bookingDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "booking_operation_duration_seconds",
			Help:    "Latency of booking engine operations.",
			Buckets: prometheus.DefBuckets,
		}, []string{"operation"}),
		sweepRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "noshow_sweeps_total",
			Help: "No-show sweeper ticks by result.",
		}, []string{"result"}),
		noShowsMarked: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "noshow_marked_total",
			Help: "Appointments transitioned to no-show.",
		}),
		sweepCandidates: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "noshow_candidates_total",
			Help: "Candidates examined by the no-show sweeper.",
		}),
		notifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "notifications_dispatched_total",
			Help: "Notification deliveries by status.",
		}, []string{"status"}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "HTTP requests by method, route and status.",
		}, []string{"method", "route", "status"}),
		httpReqDurations: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latency by route.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route"}),
	}

	reg.MustRegister(
		m.bookingOps,
		m.bookingDuration,
		m.sweepRuns,
		m.noShowsMarked,
		m.sweepCandidates,
		m.notifications,
		m.httpRequests,
		m.httpReqDurations,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	return m
}

// Handler exposes the registry for scraping.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) ObserveBooking(operation, outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.bookingOps.WithLabelValues(operation, outcome).Inc()
	m.bookingDuration.WithLabelValues(operation).Observe(d.Seconds())
}

func (m *Metrics) ObserveSweep(result string, candidates, marked int) {
	if m == nil {
		return
	}
	m.sweepRuns.WithLabelValues(result).Inc()
	m.sweepCandidates.Add(float64(candidates))
	m.noShowsMarked.Add(float64(marked))
}

func (m *Metrics) ObserveNotification(status string) {
	if m == nil {
		return
	}
	m.notifications.WithLabelValues(status).Inc()
}

func (m *Metrics) ObserveHTTP(method, route string, status int, d time.Duration) {
	if m == nil {
		return
	}
	m.httpRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.httpReqDurations.WithLabelValues(method, route).Observe(d.Seconds())
}
