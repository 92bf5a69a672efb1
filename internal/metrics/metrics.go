package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Outcome labels shared by the booking and maintenance collectors.
const (
	OutcomeSuccess  = "success"
	OutcomeConflict = "conflict"
	OutcomeNotFound = "not_found"
	OutcomeError    = "error"
)

var (
	bookingOperationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "booking_operations_total",
			Help: "Booking coordinator operations by kind and outcome",
		},
		[]string{"operation", "outcome"},
	)

	bookingOperationDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "booking_operation_duration_seconds",
			Help:    "Duration of booking coordinator operations in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
		},
		[]string{"operation"},
	)

	rescheduleCompensationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reschedule_compensations_total",
			Help: "Reschedules rolled back after the new slot was reserved",
		},
		[]string{"result"},
	)

	maintenanceItemsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "maintenance_items_total",
			Help: "Per-clinician maintenance items by job and outcome",
		},
		[]string{"job", "outcome"},
	)

	slotsGeneratedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "slots_generated_total",
			Help: "Slots materialised from availability templates",
		},
	)

	slotsDeletedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "slots_deleted_total",
			Help: "Expired slots removed by cleanup",
		},
	)

	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "route", "status_code"},
	)

	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)
)

func init() {
	prometheus.MustRegister(
		bookingOperationsTotal,
		bookingOperationDuration,
		rescheduleCompensationsTotal,
		maintenanceItemsTotal,
		slotsGeneratedTotal,
		slotsDeletedTotal,
		httpRequestsTotal,
		httpRequestDuration,
	)
}

func ObserveBooking(operation, outcome string, elapsed time.Duration) {
	bookingOperationsTotal.WithLabelValues(operation, outcome).Inc()
	bookingOperationDuration.WithLabelValues(operation).Observe(elapsed.Seconds())
}

func ObserveCompensation(ok bool) {
	result := "released"
	if !ok {
		result = "failed"
	}
	rescheduleCompensationsTotal.WithLabelValues(result).Inc()
}

func ObserveMaintenanceItem(job, outcome string) {
	maintenanceItemsTotal.WithLabelValues(job, outcome).Inc()
}

func AddSlotsGenerated(n int) {
	slotsGeneratedTotal.Add(float64(n))
}

func AddSlotsDeleted(n int64) {
	slotsDeletedTotal.Add(float64(n))
}

func ObserveHTTP(method, route string, status int, elapsed time.Duration) {
	httpRequestsTotal.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	httpRequestDuration.WithLabelValues(method, route).Observe(elapsed.Seconds())
}

// Handler exposes the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
