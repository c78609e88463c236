package metrics

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRegistry_Counters(t *testing.T) {
	m := NewRegistry()

	m.ReportFinished("completed", 3*time.Second)
	m.StoreEstimated(true, 10*time.Millisecond)
	m.StoreEstimated(false, 10*time.Millisecond)
	m.CacheLookup("timezone", true)
	m.ObservationsAt("written", 5)
	m.ObservationsAt("written", 0)

	if got := testutil.ToFloat64(m.ReportsTotal.WithLabelValues("completed")); got != 1 {
		t.Errorf("reports_total{completed} = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.StoreEstimates.WithLabelValues("failed")); got != 1 {
		t.Errorf("store_estimates_total{failed} = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.Observations.WithLabelValues("written")); got != 5 {
		t.Errorf("observations_total{written} = %v, want 5", got)
	}
}

func TestRegistry_NilIsNoop(t *testing.T) {
	var m *Registry
	m.ReportFinished("failed", time.Second)
	m.SourceRetry("observations")
	m.NotificationSent(true)
}

func TestRegistry_Handler(t *testing.T) {
	m := NewRegistry()
	m.WindowStrategy("last_hour", "historical")

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	body, _ := io.ReadAll(rec.Body)
	if !strings.Contains(string(body), `store_monitor_window_strategy_total{strategy="historical",window="last_hour"} 1`) {
		t.Errorf("metrics output missing window strategy sample:\n%s", body)
	}
}

func TestRegistry_Mux(t *testing.T) {
	m := NewRegistry()
	m.SourceRetry("observations")
	srv := httptest.NewServer(m.Mux())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/metrics")
	if err != nil {
		t.Fatalf("scrape failed: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if !strings.Contains(string(body), `store_monitor_source_retries_total{op="observations"} 1`) {
		t.Errorf("scrape missing retry sample:\n%s", body)
	}

	resp, err = http.Get(srv.URL + "/healthz")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("healthz status = %d", resp.StatusCode)
	}
}

func TestRegistry_ServeOffIsNoop(t *testing.T) {
	m := NewRegistry()
	m.Serve(context.Background(), "off", nil)
	m.Serve(context.Background(), "", nil)
}
