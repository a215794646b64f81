package metrics

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"trading-formulas/internal/resolver"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestObserveResolveClassifiesOutcome(t *testing.T) {
	m := NewMetrics()
	m.ObserveResolve("B", time.Millisecond, nil)
	m.ObserveResolve("B", time.Millisecond, fmt.Errorf("resolve B: %w", resolver.ErrRetryLimit))
	m.ObserveResolve("B", time.Millisecond, fmt.Errorf("resolve B: %w", resolver.ErrDataExhausted))
	m.ObserveResolve("B", time.Millisecond, resolver.ErrUnresolved)

	if got := testutil.ToFloat64(m.ResultsTotal.WithLabelValues("B")); got != 1 {
		t.Errorf("results = %v", got)
	}
	if got := testutil.ToFloat64(m.SoftFailures.WithLabelValues("B")); got != 2 {
		t.Errorf("soft failures = %v", got)
	}
	if got := testutil.ToFloat64(m.HardStops.WithLabelValues("B")); got != 1 {
		t.Errorf("hard stops = %v", got)
	}
}

func TestRecorder(t *testing.T) {
	m := NewMetrics()
	var rec resolver.Recorder = m
	rec.Retry("Walk")
	rec.Retry("Walk")
	rec.CacheHit("Walk")
	if got := testutil.ToFloat64(m.Retries.WithLabelValues("Walk")); got != 2 {
		t.Errorf("retries = %v", got)
	}
	if got := testutil.ToFloat64(m.CacheHits.WithLabelValues("Walk")); got != 1 {
		t.Errorf("cache hits = %v", got)
	}
}

func TestHandlerExposesMetrics(t *testing.T) {
	m := NewMetrics()
	m.Blocks.Set(3)
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if !strings.Contains(rec.Body.String(), "formula_blocks 3") {
		t.Errorf("exposition missing formula_blocks:\n%s", rec.Body.String())
	}
}

func TestHealthStatus(t *testing.T) {
	tests := []struct {
		name     string
		h        func() *HealthStatus
		wantCode int
		want     string
	}{
		{"no graph", func() *HealthStatus { return NewHealthStatus(false, false) }, http.StatusServiceUnavailable, "unhealthy"},
		{"graph only", func() *HealthStatus {
			h := NewHealthStatus(false, false)
			h.SetGraph(2)
			return h
		}, http.StatusOK, "healthy"},
		{"redis down", func() *HealthStatus {
			h := NewHealthStatus(true, false)
			h.SetGraph(2)
			return h
		}, http.StatusServiceUnavailable, "degraded"},
		{"redis up", func() *HealthStatus {
			h := NewHealthStatus(true, false)
			h.SetGraph(2)
			h.SetRedisConnected(true)
			return h
		}, http.StatusOK, "healthy"},
	}
	for _, tt := range tests {
		rec := httptest.NewRecorder()
		tt.h().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
		if rec.Code != tt.wantCode {
			t.Errorf("%s: code = %d, want %d", tt.name, rec.Code, tt.wantCode)
		}
		var body struct{ Status string }
		if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
			t.Fatalf("%s: decode: %v", tt.name, err)
		}
		if body.Status != tt.want {
			t.Errorf("%s: status = %q, want %q", tt.name, body.Status, tt.want)
		}
	}
}
