package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/fx"
)

const namespace = "voxbill"

// Metrics holds the Prometheus collectors of the billing engine
type Metrics struct {
	registry *prometheus.Registry

	// HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// Billing cycle metrics
	CycleRunsTotal       *prometheus.CounterVec
	CycleDuration        *prometheus.HistogramVec
	CycleSubscriptions   *prometheus.CounterVec
	CycleRunning         prometheus.Gauge
	InvoicesTotal        *prometheus.CounterVec
	InvoicedAmountCents  prometheus.Counter
	CollectedAmountCents prometheus.Counter

	// Payment metrics
	PaymentsTotal   *prometheus.CounterVec
	GatewayDuration *prometheus.HistogramVec

	// Retry metrics
	RetriesScheduledTotal *prometheus.CounterVec
	RetryAttemptsTotal    *prometheus.CounterVec
	RetriesExhaustedTotal prometheus.Counter

	// Usage metrics
	UsageRecordsTotal *prometheus.CounterVec
}

// Module provides the metrics registry
func Module() fx.Option {
	return fx.Provide(func() *Metrics {
		return NewMetrics(prometheus.NewRegistry())
	})
}

// NewMetrics creates and registers all collectors on the registry
func NewMetrics(registry *prometheus.Registry) *Metrics {
	m := &Metrics{
		registry: registry,

		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),

		CycleRunsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "billing_cycle_runs_total",
				Help:      "Billing cycle invocations by mode and result",
			},
			[]string{"mode", "result"},
		),
		CycleDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "billing_cycle_duration_seconds",
				Help:      "Billing cycle run duration in seconds",
				Buckets:   prometheus.ExponentialBuckets(0.1, 2, 12),
			},
			[]string{"mode"},
		),
		CycleSubscriptions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "billing_cycle_subscriptions_total",
				Help:      "Subscriptions handled by billing cycles by outcome",
			},
			[]string{"outcome"},
		),
		CycleRunning: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "billing_cycle_running",
				Help:      "Number of billing cycles currently running in this process",
			},
		),
		InvoicesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "invoices_total",
				Help:      "Invoices built by status",
			},
			[]string{"status"},
		),
		InvoicedAmountCents: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "invoiced_amount_cents_total",
				Help:      "Sum of persisted invoice totals in cents",
			},
		),
		CollectedAmountCents: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "collected_amount_cents_total",
				Help:      "Sum of succeeded payment amounts in cents",
			},
		),

		PaymentsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "payments_total",
				Help:      "Payment outcomes by gateway, status and failure reason",
			},
			[]string{"gateway", "status", "reason"},
		),
		GatewayDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "gateway_request_duration_seconds",
				Help:      "Payment gateway authorization latency in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"gateway"},
		),

		RetriesScheduledTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "retries_scheduled_total",
				Help:      "Retry attempts scheduled by trigger",
			},
			[]string{"trigger"},
		),
		RetryAttemptsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "retry_attempts_total",
				Help:      "Processed retry attempts by result",
			},
			[]string{"result"},
		),
		RetriesExhaustedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "retries_exhausted_total",
				Help:      "Payments marked permanently failed",
			},
		),

		UsageRecordsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "usage_records_total",
				Help:      "Usage records accepted by type",
			},
			[]string{"usage_type"},
		),
	}

	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.CycleRunsTotal,
		m.CycleDuration,
		m.CycleSubscriptions,
		m.CycleRunning,
		m.InvoicesTotal,
		m.InvoicedAmountCents,
		m.CollectedAmountCents,
		m.PaymentsTotal,
		m.GatewayDuration,
		m.RetriesScheduledTotal,
		m.RetryAttemptsTotal,
		m.RetriesExhaustedTotal,
		m.UsageRecordsTotal,
	)

	return m
}

// Registry exposes the underlying registry, e.g. for tests
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus text format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// GinMiddleware instruments gin requests by route template
func (m *Metrics) GinMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		status := strconv.Itoa(c.Writer.Status())

		m.HTTPRequestsTotal.WithLabelValues(c.Request.Method, path, status).Inc()
		m.HTTPRequestDuration.WithLabelValues(c.Request.Method, path).Observe(time.Since(start).Seconds())
	}
}
