package metrics

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Session issuance outcomes.
const (
	OutcomeCreated  = "created"
	OutcomeExisting = "existing"
	OutcomeRotated  = "rotated"
)

var (
	RequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "http_requests_total", Help: "Total HTTP requests"},
		[]string{"route", "method", "status"},
	)
	ReqDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Request duration seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"route", "method"},
	)
	InFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{Name: "http_in_flight_requests", Help: "In-flight HTTP requests"},
	)

	SessionsIssued = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "sessions_issued_total", Help: "Session credentials issued"},
		[]string{"outcome"},
	)
	SessionFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "session_failures_total", Help: "Failed session requests"},
		[]string{"reason"},
	)
	GateRejections = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "auth_gate_rejections_total", Help: "Requests rejected by the auth gate"},
		[]string{"reason"},
	)
)

var registerOnce sync.Once

// MustRegister registers every collector with the default registry. Safe to
// call more than once.
func MustRegister() {
	registerOnce.Do(func() {
		prometheus.MustRegister(RequestsTotal, ReqDuration, InFlight, SessionsIssued, SessionFailures, GateRejections)
	})
}

func Handler() http.Handler { return promhttp.Handler() }
