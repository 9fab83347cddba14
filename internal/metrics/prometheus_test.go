package metrics

import (
	"net/http/httptest"
	"strings"
	"testing"
)

func TestPrometheusHandler(t *testing.T) {
	m := New()
	m.Inc(UsersRegistered)
	m.Inc(UsersRegistered)
	m.Inc(RelaysDropped)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/metrics", nil)
	PrometheusHandler(m).ServeHTTP(rec, req)

	body := rec.Body.String()
	if rec.Code != 200 {
		t.Fatalf("status = %d", rec.Code)
	}
	if !strings.Contains(body, `callmesh_signaling_events_total{event="users_registered"} 2`) {
		t.Fatalf("missing users_registered counter:\n%s", body)
	}
	if !strings.Contains(body, `callmesh_signaling_events_total{event="relays_dropped"} 1`) {
		t.Fatalf("missing relays_dropped counter:\n%s", body)
	}
	if !strings.Contains(body, "# TYPE callmesh_signaling_events_total counter") {
		t.Fatalf("missing TYPE line:\n%s", body)
	}
}

func TestPrometheusHandler_NilMetrics(t *testing.T) {
	rec := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/metrics", nil)
	PrometheusHandler(nil).ServeHTTP(rec, req)
	if rec.Code != 500 {
		t.Fatalf("status = %d, want 500", rec.Code)
	}
}

func TestMetrics_NilSafeInc(t *testing.T) {
	var m *Metrics
	m.Inc(UsersRegistered) // must not panic
}
