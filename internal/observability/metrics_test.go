package observability

import (
	"errors"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMetricsAuditCollectors(t *testing.T) {
	t.Parallel()

	metrics := NewMetrics()

	metrics.IncAuditEventReceived("SENDING")
	metrics.IncAuditEventDropped("sending", "notifier_stopped")
	metrics.IncAuditPublished("sending")
	metrics.IncAuditPublishFailed("sending")
	metrics.ObserveAuditPublishDuration("sending", 5*time.Millisecond)

	if got := testutil.ToFloat64(metrics.auditEventsReceivedTotal.WithLabelValues("sending")); got != 1 {
		t.Fatalf("audit_events_received_total = %v, want 1", got)
	}
	if got := testutil.ToFloat64(metrics.auditEventsDroppedTotal.WithLabelValues("sending", "notifier_stopped")); got != 1 {
		t.Fatalf("audit_events_dropped_total = %v, want 1", got)
	}
	if got := testutil.ToFloat64(metrics.auditPublishedTotal.WithLabelValues("sending")); got != 1 {
		t.Fatalf("audit_records_published_total = %v, want 1", got)
	}
	if got := testutil.ToFloat64(metrics.auditPublishFailedTotal.WithLabelValues("sending")); got != 1 {
		t.Fatalf("audit_publish_failures_total = %v, want 1", got)
	}
}

func TestMetricsRelayCollectors(t *testing.T) {
	t.Parallel()

	metrics := NewMetrics()

	metrics.IncRelayMessage("relayed")
	metrics.IncRelayMessage("FAILED")
	metrics.ObserveRelaySendDuration("http://example.com/hook", 80*time.Millisecond)
	metrics.IncRelayInFlight()
	metrics.DecRelayInFlight()

	if got := testutil.ToFloat64(metrics.relayMessagesTotal.WithLabelValues("relayed")); got != 1 {
		t.Fatalf("relay_messages_total{relayed} = %v, want 1", got)
	}
	if got := testutil.ToFloat64(metrics.relayMessagesTotal.WithLabelValues("failed")); got != 1 {
		t.Fatalf("relay_messages_total{failed} = %v, want 1", got)
	}
	if got := testutil.ToFloat64(metrics.relayInflight); got != 0 {
		t.Fatalf("relay_inflight = %v, want 0", got)
	}
}

func TestMetricsHTTPMiddlewareRecordsRequest(t *testing.T) {
	t.Parallel()

	metrics := NewMetrics()
	app := fiber.New()
	app.Use(metrics.HTTPMiddleware())
	app.Get("/livez", func(c *fiber.Ctx) error {
		return c.SendStatus(fiber.StatusOK)
	})

	req := httptest.NewRequest("GET", "/livez", nil)
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("app.Test() error = %v", err)
	}
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}

	if got := testutil.ToFloat64(metrics.httpRequestsTotal.WithLabelValues("GET", "/livez", "200")); got != 1 {
		t.Fatalf("http_requests_total = %v, want 1", got)
	}
}

func TestMetricsHTTPMiddlewareRecordsErrorStatus(t *testing.T) {
	t.Parallel()

	metrics := NewMetrics()
	app := fiber.New()
	app.Use(metrics.HTTPMiddleware())
	app.Get("/boom", func(c *fiber.Ctx) error {
		return errors.New("boom")
	})

	req := httptest.NewRequest("GET", "/boom", nil)
	_, err := app.Test(req)
	if err != nil {
		t.Fatalf("app.Test() error = %v", err)
	}

	if got := testutil.ToFloat64(metrics.httpRequestsTotal.WithLabelValues("GET", "/boom", "500")); got != 1 {
		t.Fatalf("http_requests_total = %v, want 1", got)
	}
}

func TestEndpointScheme(t *testing.T) {
	t.Parallel()

	if got := endpointScheme("amqp:audit"); got != "amqp" {
		t.Fatalf("scheme = %q, want amqp", got)
	}
	if got := endpointScheme("HTTPS://example.com"); got != "https" {
		t.Fatalf("scheme = %q, want https", got)
	}
	if got := endpointScheme("no-scheme"); got != "unknown" {
		t.Fatalf("scheme = %q, want unknown", got)
	}
}
