package httpapi

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var histogramBuckets = []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10}

// Metrics bundles the Prometheus collectors exposed by the HTTP front and
// fed by the Scheduler and Reaper paths.
type Metrics struct {
	requestsTotal    *prometheus.CounterVec
	requestDuration  *prometheus.HistogramVec
	shipsCreated     prometheus.Counter
	shipsReaped      prometheus.Counter
	admissionRejects prometheus.Counter
}

// NewMetrics registers Bay's collectors under namespace. Collectors already
// registered (a second server in the same process) are reused.
func NewMetrics(namespace string) *Metrics {
	m := &Metrics{
		requestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total HTTP requests by route and status.",
		}, []string{"route", "status"}),
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration by route.",
			Buckets:   histogramBuckets,
		}, []string{"route"}),
		shipsCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ships_created_total",
			Help:      "Total ships successfully created.",
		}),
		shipsReaped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ships_reaped_total",
			Help:      "Total ships retired by the TTL reaper.",
		}),
		admissionRejects: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "admission_rejects_total",
			Help:      "Total create calls rejected at capacity.",
		}),
	}

	if err := prometheus.Register(m.requestsTotal); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			m.requestsTotal = are.ExistingCollector.(*prometheus.CounterVec)
		}
	}
	if err := prometheus.Register(m.requestDuration); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			m.requestDuration = are.ExistingCollector.(*prometheus.HistogramVec)
		}
	}
	if err := prometheus.Register(m.shipsCreated); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			m.shipsCreated = are.ExistingCollector.(prometheus.Counter)
		}
	}
	if err := prometheus.Register(m.shipsReaped); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			m.shipsReaped = are.ExistingCollector.(prometheus.Counter)
		}
	}
	if err := prometheus.Register(m.admissionRejects); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			m.admissionRejects = are.ExistingCollector.(prometheus.Counter)
		}
	}
	return m
}

// ShipCreated records a successful Ship creation.
func (m *Metrics) ShipCreated() { m.shipsCreated.Inc() }

// ShipReaped records a Ship retired by the TTL reaper.
func (m *Metrics) ShipReaped() { m.shipsReaped.Inc() }

// AdmissionRejected records a create call refused at capacity.
func (m *Metrics) AdmissionRejected() { m.admissionRejects.Inc() }

func (m *Metrics) observeRequest(route string, status int, d time.Duration) {
	m.requestsTotal.WithLabelValues(route, strconv.Itoa(status)).Inc()
	m.requestDuration.WithLabelValues(route).Observe(d.Seconds())
}

// metricsMiddleware records request count and duration per route pattern.
func metricsMiddleware(m *Metrics, route string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(rec, r)
			m.observeRequest(route, rec.status, time.Since(start))
		})
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}
