package telemetry

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func newTestProvider() *TelemetryProvider {
	return NewTelemetryProvider(TelemetryConfig{ServiceVersion: "1.2.3", Environment: "test"})
}

func TestNewTelemetryProvider_Defaults(t *testing.T) {
	tp := NewTelemetryProvider(TelemetryConfig{})
	if tp.cfg.Namespace != "carelink" {
		t.Errorf("expected default namespace carelink, got %s", tp.cfg.Namespace)
	}
	if tp.cfg.Environment != "development" {
		t.Errorf("expected default environment development, got %s", tp.cfg.Environment)
	}
}

func TestMultipleProviders_NoRegistrationPanic(t *testing.T) {
	_ = newTestProvider()
	_ = newTestProvider()
}

func TestMetricsMiddleware_RecordsRequest(t *testing.T) {
	tp := newTestProvider()
	e := echo.New()
	e.Use(tp.MetricsMiddleware())
	e.GET("/api/v1/hospitals/:id", func(c echo.Context) error {
		return c.String(http.StatusOK, "hello")
	})

	for i := 0; i < 3; i++ {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/hospitals/abc", nil)
		rec := httptest.NewRecorder()
		e.ServeHTTP(rec, req)
	}

	got := testutil.ToFloat64(tp.httpRequestsTotal.WithLabelValues("GET", "/api/v1/hospitals/:id", "200"))
	if got != 3 {
		t.Errorf("expected 3 requests recorded, got %v", got)
	}
	if v := testutil.ToFloat64(tp.httpActiveRequests); v != 0 {
		t.Errorf("expected 0 active requests after completion, got %v", v)
	}
}

func TestMetricsMiddleware_HTTPErrorStatus(t *testing.T) {
	tp := newTestProvider()
	e := echo.New()
	c := e.NewContext(httptest.NewRequest(http.MethodPost, "/x", nil), httptest.NewRecorder())
	c.SetPath("/x")

	_ = tp.MetricsMiddleware()(func(c echo.Context) error {
		return echo.NewHTTPError(http.StatusConflict, "nope")
	})(c)

	if v := testutil.ToFloat64(tp.httpRequestsTotal.WithLabelValues("POST", "/x", "409")); v != 1 {
		t.Errorf("expected 409 to be recorded, got %v", v)
	}
}

func TestMetricsMiddleware_Disabled(t *testing.T) {
	tp := NewTelemetryProvider(TelemetryConfig{MetricsEnabled: BoolPtr(false)})
	e := echo.New()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/x", nil), httptest.NewRecorder())
	c.SetPath("/x")
	_ = tp.MetricsMiddleware()(func(c echo.Context) error { return c.NoContent(http.StatusOK) })(c)

	if v := testutil.CollectAndCount(tp.httpRequestsTotal); v != 0 {
		t.Errorf("expected no series when disabled, got %d", v)
	}
}

func TestDomainCounters(t *testing.T) {
	tp := newTestProvider()

	tp.AlertTriggered("critical", "cardiac")
	tp.AlertTriggered("critical", "cardiac")
	tp.AlertTransitioned("responded")
	tp.DispatchCompleted(20*time.Millisecond, 3)
	tp.NotificationDelivered("emergency_dispatch", "delivered")
	tp.CallEnded("missed")
	tp.UpstreamRequest("ai", errors.New("429"))
	tp.UpstreamRequest("ai", nil)
	tp.JobRun("missed_calls", nil)
	tp.SetWebSocketClients(4)
	tp.IdempotentReplay()
	tp.RateLimited()
	tp.RecordAccess("prescription", "read")

	if v := testutil.ToFloat64(tp.alertsTriggered.WithLabelValues("critical", "cardiac")); v != 2 {
		t.Errorf("expected 2 cardiac alerts, got %v", v)
	}
	if v := testutil.ToFloat64(tp.dispatchNotified); v != 3 {
		t.Errorf("expected 3 dispatch notifications, got %v", v)
	}
	if v := testutil.ToFloat64(tp.upstreamRequests.WithLabelValues("ai", "error")); v != 1 {
		t.Errorf("expected 1 ai error, got %v", v)
	}
	if v := testutil.ToFloat64(tp.wsClients); v != 4 {
		t.Errorf("expected 4 ws clients, got %v", v)
	}
	if v := testutil.ToFloat64(tp.callsTotal.WithLabelValues("missed")); v != 1 {
		t.Errorf("expected 1 missed call, got %v", v)
	}
	if v := testutil.ToFloat64(tp.recordAccess.WithLabelValues("prescription", "read")); v != 1 {
		t.Errorf("expected 1 prescription read, got %v", v)
	}
}

func TestHealthMetrics(t *testing.T) {
	tp := newTestProvider()
	hm := tp.HealthMetrics()
	hm.SetDBPoolActive(3)
	hm.SetDBPoolIdle(7)
	hm.SetDBPoolTotal(10)

	if v := testutil.ToFloat64(tp.dbPoolConns.WithLabelValues("idle")); v != 7 {
		t.Errorf("expected 7 idle, got %v", v)
	}
}

func TestPrometheusHandler(t *testing.T) {
	tp := newTestProvider()
	tp.AlertTriggered("high", "trauma")

	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	if err := tp.PrometheusHandler()(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	body := rec.Body.String()
	for _, want := range []string{
		`carelink_alerts_triggered_total{severity="high",type="trauma"} 1`,
		`carelink_build_info{environment="test",version="1.2.3"} 1`,
		"go_goroutines",
	} {
		if !strings.Contains(body, want) {
			t.Errorf("expected metrics output to contain %q", want)
		}
	}
}
