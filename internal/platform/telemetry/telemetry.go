// Package telemetry exposes Prometheus metrics for the CareLink server: HTTP
// server metrics recorded by middleware, pool gauges refreshed by the health
// checker and the dispatch, call and delivery counters the domain services
// report into.
package telemetry

import (
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// TelemetryConfig holds all configuration for the telemetry provider.
type TelemetryConfig struct {
	Namespace      string
	ServiceVersion string
	Environment    string
	// MetricsEnabled nil means enabled.
	MetricsEnabled *bool
}

func (c *TelemetryConfig) metricsOn() bool {
	if c.MetricsEnabled == nil {
		return true
	}
	return *c.MetricsEnabled
}

func (c *TelemetryConfig) applyDefaults() {
	if c.Namespace == "" {
		c.Namespace = "carelink"
	}
	if c.ServiceVersion == "" {
		c.ServiceVersion = "0.0.0"
	}
	if c.Environment == "" {
		c.Environment = "development"
	}
}

// BoolPtr is a helper to create a *bool for TelemetryConfig fields.
func BoolPtr(b bool) *bool {
	return &b
}

// TelemetryProvider owns a private registry so tests can build as many
// providers as they like without duplicate-registration panics.
type TelemetryProvider struct {
	cfg      TelemetryConfig
	registry *prometheus.Registry

	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec
	httpResponseSize    *prometheus.HistogramVec
	httpActiveRequests  prometheus.Gauge

	dbPoolConns *prometheus.GaugeVec

	alertsTriggered     *prometheus.CounterVec
	alertTransitions    *prometheus.CounterVec
	dispatchDuration    prometheus.Histogram
	dispatchRecipients  prometheus.Histogram
	dispatchNotified    prometheus.Counter
	notificationsSent   *prometheus.CounterVec
	callsTotal          *prometheus.CounterVec
	wsClients           prometheus.Gauge
	upstreamRequests    *prometheus.CounterVec
	scheduledJobRuns    *prometheus.CounterVec
	idempotentReplays   prometheus.Counter
	rateLimitRejections prometheus.Counter
	recordAccess        *prometheus.CounterVec
}

// NewTelemetryProvider creates and registers every collector.
func NewTelemetryProvider(cfg TelemetryConfig) *TelemetryProvider {
	cfg.applyDefaults()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	f := promauto.With(reg)
	ns := cfg.Namespace

	tp := &TelemetryProvider{
		cfg:      cfg,
		registry: reg,

		httpRequestsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns, Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		}, []string{"method", "route", "status"}),
		httpRequestDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: ns, Name: "http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route"}),
		httpResponseSize: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: ns, Name: "http_response_size_bytes",
			Help:    "HTTP response size in bytes",
			Buckets: prometheus.ExponentialBuckets(100, 10, 6),
		}, []string{"method", "route"}),
		httpActiveRequests: f.NewGauge(prometheus.GaugeOpts{
			Namespace: ns, Name: "http_active_requests",
			Help: "Requests currently being served",
		}),

		dbPoolConns: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: ns, Name: "db_pool_connections",
			Help: "Database pool connections by state",
		}, []string{"state"}),

		alertsTriggered: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns, Name: "alerts_triggered_total",
			Help: "Emergency alerts created, by severity and emergency type",
		}, []string{"severity", "type"}),
		alertTransitions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns, Name: "emergency_alert_transitions_total",
			Help: "Emergency alert status transitions",
		}, []string{"to"}),
		dispatchDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: ns, Name: "emergency_dispatch_duration_seconds",
			Help:    "Time from alert creation to committed dispatch",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5},
		}),
		dispatchRecipients: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: ns, Name: "emergency_dispatch_recipients",
			Help:    "Hospitals notified per dispatch",
			Buckets: []float64{0, 1, 2, 3, 5, 10},
		}),
		dispatchNotified: f.NewCounter(prometheus.CounterOpts{
			Namespace: ns, Name: "dispatch_notifications_total",
			Help: "Hospital notifications created by emergency dispatch",
		}),
		notificationsSent: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns, Name: "notifications_total",
			Help: "Notifications by kind and delivery outcome",
		}, []string{"kind", "outcome"}),
		callsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns, Name: "calls_total",
			Help: "Call sessions by terminal status",
		}, []string{"status"}),
		wsClients: f.NewGauge(prometheus.GaugeOpts{
			Namespace: ns, Name: "websocket_clients",
			Help: "Connected realtime clients",
		}),
		upstreamRequests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns, Name: "upstream_requests_total",
			Help: "Calls to third-party services by service and outcome",
		}, []string{"service", "outcome"}),
		scheduledJobRuns: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns, Name: "scheduled_job_runs_total",
			Help: "Background job executions",
		}, []string{"job", "outcome"}),
		idempotentReplays: f.NewCounter(prometheus.CounterOpts{
			Namespace: ns, Name: "idempotent_replays_total",
			Help: "Responses replayed from the idempotency cache",
		}),
		rateLimitRejections: f.NewCounter(prometheus.CounterOpts{
			Namespace: ns, Name: "rate_limit_rejections_total",
			Help: "Requests rejected with 429",
		}),
		recordAccess: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns, Name: "record_access_total",
			Help: "Audited health-record accesses by resource and action",
		}, []string{"resource", "action"}),
	}

	f.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace:   ns,
		Name:        "build_info",
		Help:        "Build information",
		ConstLabels: prometheus.Labels{"version": cfg.ServiceVersion, "environment": cfg.Environment},
	}, func() float64 { return 1 })

	return tp
}

// Registry exposes the underlying registry, mainly for tests.
func (tp *TelemetryProvider) Registry() *prometheus.Registry {
	return tp.registry
}

// MetricsMiddleware returns an Echo middleware that records HTTP server metrics.
func (tp *TelemetryProvider) MetricsMiddleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if !tp.cfg.metricsOn() {
				return next(c)
			}

			tp.httpActiveRequests.Inc()
			start := time.Now()

			err := next(c)

			tp.httpActiveRequests.Dec()

			// Route pattern, not the actual path, keeps label cardinality bounded.
			route := c.Path()
			if route == "" {
				route = "unmatched"
			}
			status := c.Response().Status
			if he, ok := err.(*echo.HTTPError); ok {
				status = he.Code
			}
			method := c.Request().Method

			tp.httpRequestsTotal.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
			tp.httpRequestDuration.WithLabelValues(method, route).Observe(time.Since(start).Seconds())
			if size := c.Response().Size; size > 0 {
				tp.httpResponseSize.WithLabelValues(method, route).Observe(float64(size))
			}
			return err
		}
	}
}

// PrometheusHandler serves the registry in Prometheus text format at /metrics.
func (tp *TelemetryProvider) PrometheusHandler() echo.HandlerFunc {
	return echo.WrapHandler(promhttp.HandlerFor(tp.registry, promhttp.HandlerOpts{}))
}

// HealthMetricsRecorder is the narrow view the DB health checker writes to.
type HealthMetricsRecorder struct {
	tp *TelemetryProvider
}

func (tp *TelemetryProvider) HealthMetrics() *HealthMetricsRecorder {
	return &HealthMetricsRecorder{tp: tp}
}

func (h *HealthMetricsRecorder) SetDBPoolActive(n int64) {
	h.tp.dbPoolConns.WithLabelValues("active").Set(float64(n))
}

func (h *HealthMetricsRecorder) SetDBPoolIdle(n int64) {
	h.tp.dbPoolConns.WithLabelValues("idle").Set(float64(n))
}

func (h *HealthMetricsRecorder) SetDBPoolTotal(n int64) {
	h.tp.dbPoolConns.WithLabelValues("total").Set(float64(n))
}

// AlertTriggered counts a newly created alert.
func (tp *TelemetryProvider) AlertTriggered(severity, emergencyType string) {
	tp.alertsTriggered.WithLabelValues(severity, emergencyType).Inc()
}

// AlertTransitioned counts a status change.
func (tp *TelemetryProvider) AlertTransitioned(to string) {
	tp.alertTransitions.WithLabelValues(to).Inc()
}

// DispatchCompleted records one dispatch run.
func (tp *TelemetryProvider) DispatchCompleted(elapsed time.Duration, recipients int) {
	tp.dispatchDuration.Observe(elapsed.Seconds())
	tp.dispatchRecipients.Observe(float64(recipients))
	tp.dispatchNotified.Add(float64(recipients))
}

// NotificationDelivered records a push attempt; outcome is delivered, failed or queued.
func (tp *TelemetryProvider) NotificationDelivered(kind, outcome string) {
	tp.notificationsSent.WithLabelValues(kind, outcome).Inc()
}

// CallEnded counts a call reaching a terminal status.
func (tp *TelemetryProvider) CallEnded(status string) {
	tp.callsTotal.WithLabelValues(status).Inc()
}

func (tp *TelemetryProvider) SetWebSocketClients(n int) {
	tp.wsClients.Set(float64(n))
}

// UpstreamRequest counts a call to an external service such as the AI or
// places API.
func (tp *TelemetryProvider) UpstreamRequest(service string, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	tp.upstreamRequests.WithLabelValues(service, outcome).Inc()
}

// JobRun counts one scheduled job execution.
func (tp *TelemetryProvider) JobRun(job string, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	tp.scheduledJobRuns.WithLabelValues(job, outcome).Inc()
}

func (tp *TelemetryProvider) IdempotentReplay() {
	tp.idempotentReplays.Inc()
}

func (tp *TelemetryProvider) RateLimited() {
	tp.rateLimitRejections.Inc()
}

// RecordAccess counts one audited health-record access.
func (tp *TelemetryProvider) RecordAccess(resource, action string) {
	tp.recordAccess.WithLabelValues(resource, action).Inc()
}
