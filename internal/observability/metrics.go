package observability

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics stores Prometheus collectors used by the relay and audit flows.
type Metrics struct {
	registry *prometheus.Registry

	httpRequestsTotal        *prometheus.CounterVec
	httpRequestDuration      *prometheus.HistogramVec
	auditEventsReceivedTotal *prometheus.CounterVec
	auditEventsDroppedTotal  *prometheus.CounterVec
	auditPublishedTotal      *prometheus.CounterVec
	auditPublishFailedTotal  *prometheus.CounterVec
	auditPublishDuration     *prometheus.HistogramVec
	relayMessagesTotal       *prometheus.CounterVec
	relaySendDuration        *prometheus.HistogramVec
	relayInflight            prometheus.Gauge
}

func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		httpRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "audit_relay",
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests processed by method, path, and status.",
			},
			[]string{"method", "path", "status"},
		),
		httpRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "audit_relay",
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request duration in seconds by method and path.",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),
		auditEventsReceivedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "audit_relay",
				Name:      "audit_events_received_total",
				Help:      "Total number of lifecycle events delivered to the audit notifier.",
			},
			[]string{"kind"},
		),
		auditEventsDroppedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "audit_relay",
				Name:      "audit_events_dropped_total",
				Help:      "Total number of lifecycle events dropped without publishing.",
			},
			[]string{"kind", "reason"},
		),
		auditPublishedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "audit_relay",
				Name:      "audit_records_published_total",
				Help:      "Total number of audit records published to the audit endpoint.",
			},
			[]string{"kind"},
		),
		auditPublishFailedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "audit_relay",
				Name:      "audit_publish_failures_total",
				Help:      "Total number of audit record publish failures.",
			},
			[]string{"kind"},
		),
		auditPublishDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "audit_relay",
				Name:      "audit_publish_duration_seconds",
				Help:      "Audit record publish duration in seconds grouped by event kind.",
				Buckets:   prometheus.ExponentialBuckets(0.001, 2, 12),
			},
			[]string{"kind"},
		),
		relayMessagesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "audit_relay",
				Name:      "relay_messages_total",
				Help:      "Total number of relayed messages grouped by outcome.",
			},
			[]string{"outcome"},
		),
		relaySendDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "audit_relay",
				Name:      "relay_send_duration_seconds",
				Help:      "Destination send duration in seconds.",
				Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12),
			},
			[]string{"endpoint"},
		),
		relayInflight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "audit_relay",
				Name:      "relay_inflight",
				Help:      "Current number of in-flight relay operations.",
			},
		),
	}

	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.httpRequestsTotal,
		m.httpRequestDuration,
		m.auditEventsReceivedTotal,
		m.auditEventsDroppedTotal,
		m.auditPublishedTotal,
		m.auditPublishFailedTotal,
		m.auditPublishDuration,
		m.relayMessagesTotal,
		m.relaySendDuration,
		m.relayInflight,
	)

	return m
}

func (m *Metrics) Handler() http.Handler {
	if m == nil || m.registry == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) HTTPMiddleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()
		err := c.Next()

		path := routePath(c)
		// Avoid self-scrape noise for request counters.
		if path == "/metrics" {
			return err
		}

		m.recordHTTPRequest(c.Method(), path, statusFromResult(c, err), time.Since(start))
		return err
	}
}

func (m *Metrics) IncAuditEventReceived(kind string) {
	if m == nil {
		return
	}
	m.auditEventsReceivedTotal.WithLabelValues(normalizeKind(kind)).Inc()
}

func (m *Metrics) IncAuditEventDropped(kind string, reason string) {
	if m == nil {
		return
	}
	reasonLabel := strings.TrimSpace(strings.ToLower(reason))
	if reasonLabel == "" {
		reasonLabel = "unknown"
	}
	m.auditEventsDroppedTotal.WithLabelValues(normalizeKind(kind), reasonLabel).Inc()
}

func (m *Metrics) IncAuditPublished(kind string) {
	if m == nil {
		return
	}
	m.auditPublishedTotal.WithLabelValues(normalizeKind(kind)).Inc()
}

func (m *Metrics) IncAuditPublishFailed(kind string) {
	if m == nil {
		return
	}
	m.auditPublishFailedTotal.WithLabelValues(normalizeKind(kind)).Inc()
}

func (m *Metrics) ObserveAuditPublishDuration(kind string, duration time.Duration) {
	if m == nil {
		return
	}
	seconds := duration.Seconds()
	if seconds < 0 {
		seconds = 0
	}
	m.auditPublishDuration.WithLabelValues(normalizeKind(kind)).Observe(seconds)
}

func (m *Metrics) IncRelayMessage(outcome string) {
	if m == nil {
		return
	}
	outcomeLabel := strings.TrimSpace(strings.ToLower(outcome))
	if outcomeLabel == "" {
		outcomeLabel = "unknown"
	}
	m.relayMessagesTotal.WithLabelValues(outcomeLabel).Inc()
}

func (m *Metrics) ObserveRelaySendDuration(endpointURI string, duration time.Duration) {
	if m == nil {
		return
	}
	seconds := duration.Seconds()
	if seconds < 0 {
		seconds = 0
	}
	m.relaySendDuration.WithLabelValues(endpointScheme(endpointURI)).Observe(seconds)
}

func (m *Metrics) IncRelayInFlight() {
	if m == nil {
		return
	}
	m.relayInflight.Inc()
}

func (m *Metrics) DecRelayInFlight() {
	if m == nil {
		return
	}
	m.relayInflight.Dec()
}

func (m *Metrics) recordHTTPRequest(method string, path string, status int, duration time.Duration) {
	if m == nil {
		return
	}

	methodLabel := strings.ToUpper(strings.TrimSpace(method))
	if methodLabel == "" {
		methodLabel = "UNKNOWN"
	}
	pathLabel := strings.TrimSpace(path)
	if pathLabel == "" {
		pathLabel = "unmatched"
	}

	m.httpRequestsTotal.WithLabelValues(methodLabel, pathLabel, strconv.Itoa(status)).Inc()
	m.httpRequestDuration.WithLabelValues(methodLabel, pathLabel).Observe(duration.Seconds())
}

func routePath(c *fiber.Ctx) string {
	if c == nil {
		return "unmatched"
	}

	if route := c.Route(); route != nil {
		if path := strings.TrimSpace(route.Path); path != "" {
			return path
		}
	}
	return "unmatched"
}

func statusFromResult(c *fiber.Ctx, err error) int {
	if err != nil {
		if fiberErr, ok := err.(*fiber.Error); ok {
			return fiberErr.Code
		}
		return fiber.StatusInternalServerError
	}

	if c == nil {
		return fiber.StatusOK
	}

	status := c.Response().StatusCode()
	if status == 0 {
		return fiber.StatusOK
	}
	return status
}

func normalizeKind(kind string) string {
	normalized := strings.ToLower(strings.TrimSpace(kind))
	if normalized == "" {
		return "unknown"
	}
	return normalized
}

// endpointScheme keeps the label cardinality down to the uri scheme.
func endpointScheme(uri string) string {
	trimmed := strings.TrimSpace(uri)
	idx := strings.Index(trimmed, ":")
	if idx <= 0 {
		return "unknown"
	}
	return strings.ToLower(trimmed[:idx])
}
