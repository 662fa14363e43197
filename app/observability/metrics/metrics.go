package metrics

import (
	"log"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

// AppMetrics holds the application's metric instruments.
type AppMetrics struct {
	AuthRequestsTotal       metric.Int64Counter
	SessionTransitionsTotal metric.Int64Counter
	SnapshotsDeliveredTotal metric.Int64Counter
	SubmissionsTotal        metric.Int64Counter
	StoreErrorsTotal        metric.Int64Counter
}

var (
	appMetrics *AppMetrics
	once       sync.Once
)

// InitAppMetrics initializes the global metric instruments once, using the
// globally configured MeterProvider.
func InitAppMetrics() {
	once.Do(func() {
		meter := otel.GetMeterProvider().Meter("failforward")
		var err error
		m := &AppMetrics{}

		m.AuthRequestsTotal, err = meter.Int64Counter(
			"auth_requests_total",
			metric.WithDescription("Total number of authentication attempts"),
			metric.WithUnit("{request}"),
		)
		if err != nil {
			log.Fatalf("Metrics: Failed to create auth_requests_total: %v", err)
		}

		m.SessionTransitionsTotal, err = meter.Int64Counter(
			"session_transitions_total",
			metric.WithDescription("Total number of session state transitions"),
			metric.WithUnit("{transition}"),
		)
		if err != nil {
			log.Fatalf("Metrics: Failed to create session_transitions_total: %v", err)
		}

		m.SnapshotsDeliveredTotal, err = meter.Int64Counter(
			"snapshots_delivered_total",
			metric.WithDescription("Total number of live query snapshots applied to views"),
			metric.WithUnit("{snapshot}"),
		)
		if err != nil {
			log.Fatalf("Metrics: Failed to create snapshots_delivered_total: %v", err)
		}

		m.SubmissionsTotal, err = meter.Int64Counter(
			"submissions_total",
			metric.WithDescription("Total number of failure/goal submissions"),
			metric.WithUnit("{submission}"),
		)
		if err != nil {
			log.Fatalf("Metrics: Failed to create submissions_total: %v", err)
		}

		m.StoreErrorsTotal, err = meter.Int64Counter(
			"store_errors_total",
			metric.WithDescription("Total number of document store errors"),
			metric.WithUnit("{error}"),
		)
		if err != nil {
			log.Fatalf("Metrics: Failed to create store_errors_total: %v", err)
		}

		appMetrics = m
	})
}

// Get returns the initialized metrics; InitAppMetrics must run first.
func Get() *AppMetrics {
	if appMetrics == nil {
		InitAppMetrics()
	}
	return appMetrics
}
