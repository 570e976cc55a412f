package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// Metrics holds every Prometheus collector the proxy exports.
type Metrics struct {
	registry *prometheus.Registry

	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// Tool calls by outcome ("ok" or an x402 error kind).
	ToolCallsTotal *prometheus.CounterVec

	// Facilitator checkpoints.
	PaymentsTotal       *prometheus.CounterVec
	FacilitatorDuration *prometheus.HistogramVec

	UpstreamDuration      *prometheus.HistogramVec
	UpstreamErrorsTotal   *prometheus.CounterVec
	UpstreamSessions      prometheus.Gauge
	UpstreamConnectsTotal *prometheus.CounterVec

	TenantLoadsTotal *prometheus.CounterVec

	RateLimitRejectionsTotal *prometheus.CounterVec

	ServerStartTime prometheus.Gauge
}

// New creates and registers all metrics on a private registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		registry: reg,

		HTTPRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "paygate_http_requests_total",
			Help: "Total number of HTTP requests.",
		}, []string{"method", "path_pattern", "status_code"}),

		HTTPRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "paygate_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "path_pattern"}),

		ToolCallsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "paygate_tool_calls_total",
			Help: "Total number of tools/call requests by outcome.",
		}, []string{"tenant_id", "tool", "outcome"}),

		PaymentsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "paygate_payments_total",
			Help: "Facilitator verify and settle calls by result.",
		}, []string{"network", "stage", "result"}),

		FacilitatorDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "paygate_facilitator_duration_seconds",
			Help:    "Facilitator call duration in seconds.",
			Buckets: prometheus.DefBuckets,
		}, []string{"stage"}),

		UpstreamDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "paygate_upstream_duration_seconds",
			Help:    "Upstream tool call duration in seconds.",
			Buckets: prometheus.DefBuckets,
		}, []string{"tenant_id", "tool"}),

		UpstreamErrorsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "paygate_upstream_errors_total",
			Help: "Total number of upstream call errors by error type.",
		}, []string{"error_type", "tenant_id"}),

		UpstreamSessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "paygate_upstream_sessions",
			Help: "Number of cached upstream sessions.",
		}),

		UpstreamConnectsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "paygate_upstream_connects_total",
			Help: "Upstream session establishment attempts by result.",
		}, []string{"result"}),

		TenantLoadsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "paygate_tenant_loads_total",
			Help: "Tenant config lookups by result.",
		}, []string{"result"}),

		RateLimitRejectionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "paygate_ratelimit_rejections_total",
			Help: "Total number of rate limit rejections.",
		}, []string{"scope"}),

		ServerStartTime: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "paygate_server_start_time_seconds",
			Help: "Unix timestamp when the server started.",
		}),
	}

	reg.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.ToolCallsTotal,
		m.PaymentsTotal,
		m.FacilitatorDuration,
		m.UpstreamDuration,
		m.UpstreamErrorsTotal,
		m.UpstreamSessions,
		m.UpstreamConnectsTotal,
		m.TenantLoadsTotal,
		m.RateLimitRejectionsTotal,
		m.ServerStartTime,
	)

	m.ServerStartTime.Set(float64(time.Now().Unix()))

	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	return m
}

// Registry returns the private Prometheus registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// RegisterDBCollector registers connection gauges for the given driver.
func (m *Metrics) RegisterDBCollector(driver string, statFunc DBStatFunc) {
	m.registry.MustRegister(NewDBCollector(driver, statFunc))
}

// ObserveHTTPRequest records one served HTTP request.
func (m *Metrics) ObserveHTTPRequest(method, pathPattern string, status int, seconds float64) {
	m.HTTPRequestsTotal.WithLabelValues(method, pathPattern, strconv.Itoa(status)).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, pathPattern).Observe(seconds)
}

// IncToolCall counts a finished tools/call.
func (m *Metrics) IncToolCall(tenantID, tool, outcome string) {
	m.ToolCallsTotal.WithLabelValues(tenantID, tool, outcome).Inc()
}

// IncPayment counts a verify or settle result: "ok", "rejected" or "error".
func (m *Metrics) IncPayment(network, stage, result string) {
	m.PaymentsTotal.WithLabelValues(network, stage, result).Inc()
}

// ObserveFacilitatorDuration records one facilitator round trip.
func (m *Metrics) ObserveFacilitatorDuration(stage string, seconds float64) {
	m.FacilitatorDuration.WithLabelValues(stage).Observe(seconds)
}

// ObserveUpstreamDuration records one upstream tool call.
func (m *Metrics) ObserveUpstreamDuration(tenantID, tool string, seconds float64) {
	m.UpstreamDuration.WithLabelValues(tenantID, tool).Observe(seconds)
}

// IncUpstreamError counts an upstream failure by classified type.
func (m *Metrics) IncUpstreamError(errorType, tenantID string) {
	m.UpstreamErrorsTotal.WithLabelValues(errorType, tenantID).Inc()
}

// IncUpstreamConnect counts a dial attempt, "ok" or "error".
func (m *Metrics) IncUpstreamConnect(result string) {
	m.UpstreamConnectsTotal.WithLabelValues(result).Inc()
}

// SetUpstreamSessions sets the cached session gauge.
func (m *Metrics) SetUpstreamSessions(n int) {
	m.UpstreamSessions.Set(float64(n))
}

// IncTenantLoad counts a tenant lookup: "ok", "not_found" or "error".
func (m *Metrics) IncTenantLoad(result string) {
	m.TenantLoadsTotal.WithLabelValues(result).Inc()
}

// IncRateLimitRejection counts a request refused by the limiter.
func (m *Metrics) IncRateLimitRejection(scope string) {
	m.RateLimitRejectionsTotal.WithLabelValues(scope).Inc()
}
