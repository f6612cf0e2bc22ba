package obs

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Shared HTTP metrics.
var (
	httpInFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "http_in_flight_requests",
		Help: "In-flight HTTP requests.",
	})

	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latencies in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)

// Domain counters mirroring the audited business events.
var (
	usersRegistered = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "identity_users_registered_total",
		Help: "Users created through registration.",
	})
	usersLoggedIn = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "identity_logins_total",
		Help: "Successful logins.",
	})
	emailsVerified = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "identity_emails_verified_total",
		Help: "Successful email verifications.",
	})
	codesIssued = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "identity_codes_issued_total",
		Help: "Credential codes issued, by purpose.",
	}, []string{"purpose"})
	passwordsReset = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "identity_password_resets_total",
		Help: "Successful password resets.",
	})
	chargesSubmitted = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "payment_charges_total",
		Help: "Charge submissions by provider and outcome.",
	}, []string{"provider", "outcome"})
	notifyFailures = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "notify_failures_total",
		Help: "Notification deliveries that failed (best effort).",
	})
)

// Init registers all metrics in the default registry.
func Init() {
	prometheus.MustRegister(
		httpInFlight, httpRequestsTotal, httpRequestDuration,
		usersRegistered, usersLoggedIn, emailsVerified, codesIssued,
		passwordsReset, chargesSubmitted, notifyFailures,
	)
}

// Handler exposes the Prometheus scrape endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

func CountRegistration()             { usersRegistered.Inc() }
func CountLogin()                    { usersLoggedIn.Inc() }
func CountEmailVerified()            { emailsVerified.Inc() }
func CountCodeIssued(purpose string) { codesIssued.WithLabelValues(purpose).Inc() }
func CountPasswordReset()            { passwordsReset.Inc() }
func CountNotifyFailure()            { notifyFailures.Inc() }

func CountCharge(provider, outcome string) {
	chargesSubmitted.WithLabelValues(provider, outcome).Inc()
}

// Instrument wraps a handler with RPS/latency/in-flight measurements.
func Instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path := r.URL.Path
		method := r.Method

		httpInFlight.Inc()
		start := time.Now()

		sw := &statusWriter{ResponseWriter: w, code: 200}
		next.ServeHTTP(sw, r)

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(sw.code)

		httpRequestDuration.WithLabelValues(method, path, status).Observe(duration)
		httpRequestsTotal.WithLabelValues(method, path, status).Inc()
		httpInFlight.Dec()
	})
}

// statusWriter captures the response code for metrics labels.
type statusWriter struct {
	http.ResponseWriter
	code int
}

func (w *statusWriter) WriteHeader(code int) {
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}
