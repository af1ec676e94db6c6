package runtime

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func scrape(t *testing.T, m *PrometheusMonitor) string {
	t.Helper()
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status: %d", rec.Code)
	}
	return rec.Body.String()
}

func TestPrometheusMonitorExportsDispatchMetrics(t *testing.T) {
	m := NewPrometheusMonitor("typebus")

	m.HandledMessage("orders", "OrderPlaced", 5*time.Millisecond)
	m.HandledError("orders", "OrderPlaced", 2*time.Millisecond, 3, errors.New("boom"))
	m.ReceivedBatch("orders", 4, time.Millisecond)

	body := scrape(t, m)
	if !strings.Contains(body, `typebus_handled_messages_total{outcome="success",queue="orders",subject="OrderPlaced"} 1`) {
		t.Fatalf("success counter missing:\n%s", body)
	}
	if !strings.Contains(body, `typebus_handled_messages_total{outcome="failure",queue="orders",subject="OrderPlaced"} 1`) {
		t.Fatalf("failure counter missing:\n%s", body)
	}
	if !strings.Contains(body, "typebus_handle_duration_seconds") {
		t.Fatalf("duration histogram missing:\n%s", body)
	}
	if !strings.Contains(body, "typebus_receive_batch_size") {
		t.Fatalf("batch histogram missing:\n%s", body)
	}
}

func TestPrometheusMonitorExportsPublishMetrics(t *testing.T) {
	m := NewPrometheusMonitor("")

	m.PublishedMessage("orders", "OrderPlaced")
	m.PublishError("orders", "OrderPlaced", errors.New("sns down"))

	body := scrape(t, m)
	if !strings.Contains(body, `typebus_published_messages_total{outcome="success",subject="OrderPlaced",topic="orders"} 1`) {
		t.Fatalf("publish counter missing:\n%s", body)
	}
	if !strings.Contains(body, `typebus_published_messages_total{outcome="failure",subject="OrderPlaced",topic="orders"} 1`) {
		t.Fatalf("publish failure counter missing:\n%s", body)
	}
}

func TestPrometheusMonitorsAreIndependent(t *testing.T) {
	first := NewPrometheusMonitor("typebus")
	second := NewPrometheusMonitor("typebus")

	first.HandledMessage("orders", "OrderPlaced", time.Millisecond)

	if strings.Contains(scrape(t, second), `queue="orders"`) {
		t.Fatal("expected isolated registries")
	}
}
