package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestCounters(t *testing.T) {
	r := New()
	r.DiscoveredTotal.Inc()
	r.PersistedTotal.Add(3)
	r.ErrorsTotal.WithLabelValues("rate_limited", "fetch").Inc()

	out := render(t, r)
	if !strings.Contains(out, "corpusd_discovered_papers_total 1") {
		t.Errorf("missing discovered counter, got:\n%s", out)
	}
	if !strings.Contains(out, "corpusd_persisted_papers_total 3") {
		t.Errorf("missing persisted counter, got:\n%s", out)
	}
	if !strings.Contains(out, `corpusd_errors_total{kind="rate_limited",stage="fetch"} 1`) {
		t.Errorf("missing labeled error counter, got:\n%s", out)
	}
}

func TestGauges(t *testing.T) {
	r := New()
	r.QueueDepth.WithLabelValues("fetch").Set(5)
	r.RunState.Set(2)

	out := render(t, r)
	if !strings.Contains(out, `corpusd_queue_depth{queue="fetch"} 5`) {
		t.Errorf("missing queue depth gauge, got:\n%s", out)
	}
	if !strings.Contains(out, "corpusd_run_state 2") {
		t.Errorf("missing run state gauge, got:\n%s", out)
	}
}

func TestObserveStageAndProviderCall(t *testing.T) {
	r := New()
	start := time.Now().Add(-50 * time.Millisecond)
	r.ObserveStage("analyze", start)
	r.ObserveProviderCall("metadata", "get_paper", start)

	out := render(t, r)
	if !strings.Contains(out, `corpusd_stage_duration_seconds_count{stage="analyze"} 1`) {
		t.Errorf("missing stage duration observation, got:\n%s", out)
	}
	if !strings.Contains(out, `corpusd_provider_latency_seconds_count{op="get_paper",provider="metadata"} 1`) {
		t.Errorf("missing provider latency observation, got:\n%s", out)
	}
}

func TestHandler(t *testing.T) {
	r := New()
	r.DiscoveredTotal.Inc()

	req := httptest.NewRequest("GET", "/metrics", nil)
	rec := httptest.NewRecorder()
	r.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	ct := rec.Header().Get("Content-Type")
	if !strings.Contains(ct, "text/plain") {
		t.Fatalf("unexpected content type: %s", ct)
	}
	if !strings.Contains(rec.Body.String(), "corpusd_discovered_papers_total 1") {
		t.Error("missing metric in handler output")
	}
}

func render(t *testing.T, r *Registry) string {
	t.Helper()
	req := httptest.NewRequest("GET", "/metrics", nil)
	rec := httptest.NewRecorder()
	r.Handler().ServeHTTP(rec, req)
	return rec.Body.String()
}
