package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	// Operation metrics
	OperationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cachepilot_operations_total",
			Help: "Total number of tenant operations by kind and outcome",
		},
		[]string{"operation", "outcome"},
	)

	OperationDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "cachepilot_operation_duration_seconds",
			Help:    "Duration of tenant operations",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 10),
		},
		[]string{"operation"},
	)

	TenantsTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "cachepilot_tenants_total",
			Help: "Total number of tenants by security mode",
		},
		[]string{"mode"},
	)

	HealthWaitTimeouts = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "cachepilot_health_wait_timeouts_total",
			Help: "Health waits that elapsed without the container reporting healthy",
		},
	)

	CertRenewals = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "cachepilot_cert_renewals_total",
			Help: "Leaf certificates re-issued because they entered the renewal window",
		},
	)
)

// Register registers all metrics with the given registry.
func Register(reg prometheus.Registerer) {
	reg.MustRegister(
		OperationsTotal,
		OperationDuration,
		TenantsTotal,
		HealthWaitTimeouts,
		CertRenewals,
	)
}

// ObserveOperation records one finished operation.
func ObserveOperation(operation string, err error, seconds float64) {
	outcome := "success"
	if err != nil {
		outcome = "failure"
	}
	OperationsTotal.WithLabelValues(operation, outcome).Inc()
	OperationDuration.WithLabelValues(operation).Observe(seconds)
}
