package prometheus

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "crm_workflow"

var (
	// HTTP request metrics
	HttpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	HttpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "Duration of HTTP requests in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)

	// Authentication metrics
	AuthErrorsCounter = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "auth_errors_total",
			Help:      "Total number of authentication errors",
		},
		[]string{"reason"},
	)

	// Database operation metrics
	DbOperationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "db_operation_duration_seconds",
			Help:      "Duration of database operations in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"operation_type"},
	)

	// Workflow metrics
	WorkflowExecutionsCounter = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "workflow_executions_total",
			Help:      "Workflow executions by trigger and resulting status",
		},
		[]string{"trigger", "status"},
	)

	WorkflowEvaluationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "workflow_evaluation_duration_seconds",
			Help:      "Time spent evaluating an entity event",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"trigger"},
	)

	// Approval metrics
	ApprovalDecisionsCounter = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "approval_decisions_total",
			Help:      "Approval resolutions by outcome",
		},
		[]string{"decision"},
	)

	// Email metrics
	EmailDeliveriesCounter = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "email_deliveries_total",
			Help:      "Email delivery attempts by result",
		},
		[]string{"result"},
	)

	EmailRetryBatchSize = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "email_retry_batch_size",
			Help:      "Number of failed emails selected per retry run",
			Buckets:   []float64{0, 1, 2, 5, 10, 20, 50},
		},
	)

	EmailBreakerState = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "email_breaker_state",
			Help:      "Mail transport circuit breaker state (0 closed, 1 half-open, 2 open)",
		},
	)

	// Audit metrics
	AuditWriteFailuresCounter = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "audit_write_failures_total",
			Help:      "Audit entries that could not be persisted",
		},
	)
)

// TrackDBOperation returns a function that records the duration of a database operation
func TrackDBOperation(operationType string) func(startTime time.Time) {
	return func(startTime time.Time) {
		duration := time.Since(startTime).Seconds()
		DbOperationDuration.WithLabelValues(operationType).Observe(duration)
	}
}

// RecordAuthError increments the counter for authentication errors
func RecordAuthError(reason string) {
	AuthErrorsCounter.WithLabelValues(reason).Inc()
}

// RecordExecution increments the counter for workflow executions
func RecordExecution(trigger, status string) {
	WorkflowExecutionsCounter.WithLabelValues(trigger, status).Inc()
}

// TrackEvaluation returns a function that records evaluation duration
func TrackEvaluation(trigger string) func(startTime time.Time) {
	return func(startTime time.Time) {
		WorkflowEvaluationDuration.WithLabelValues(trigger).Observe(time.Since(startTime).Seconds())
	}
}

// RecordApprovalDecision increments the counter for approval decisions
func RecordApprovalDecision(decision string) {
	ApprovalDecisionsCounter.WithLabelValues(decision).Inc()
}

// RecordEmailDelivery increments the counter for email deliveries
func RecordEmailDelivery(result string) {
	EmailDeliveriesCounter.WithLabelValues(result).Inc()
}

// SetEmailBreakerState records the mail transport circuit breaker state
func SetEmailBreakerState(state float64) {
	EmailBreakerState.Set(state)
}

// RecordAuditFailure increments the counter for failed audit writes
func RecordAuditFailure() {
	AuditWriteFailuresCounter.Inc()
}

// Handler returns an HTTP handler exposing the registered metrics
func Handler() http.Handler {
	return promhttp.Handler()
}

// MetricsMiddleware records request count and duration per route
func MetricsMiddleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()

			err := next(c)

			status := c.Response().Status
			if err != nil {
				// the error handler has not written the response yet
				var he *echo.HTTPError
				if errors.As(err, &he) {
					status = he.Code
				} else {
					status = http.StatusInternalServerError
				}
			}
			method := c.Request().Method
			path := c.Path()
			statusStr := strconv.Itoa(status)

			HttpRequestsTotal.WithLabelValues(method, path, statusStr).Inc()
			HttpRequestDuration.WithLabelValues(method, path, statusStr).Observe(time.Since(start).Seconds())

			return err
		}
	}
}
