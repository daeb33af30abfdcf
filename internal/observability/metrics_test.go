package observability

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func initTestMetrics(t *testing.T) http.Handler {
	t.Helper()
	handler, shutdown, err := InitMetrics("scenepipe-controller")
	if err != nil {
		t.Fatalf("InitMetrics failed: %v", err)
	}
	t.Cleanup(func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 1*time.Second)
		defer cancel()
		_ = shutdown(shutdownCtx)
	})
	return handler
}

func scrape(t *testing.T, handler http.Handler) string {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("handler returned wrong status code: got %v want %v", rr.Code, http.StatusOK)
	}
	return rr.Body.String()
}

func TestInitMetrics_ServiceNameOnTargetInfo(t *testing.T) {
	body := scrape(t, initTestMetrics(t))

	if !strings.Contains(body, "target_info") {
		t.Fatalf("expected target_info in output, got:\n%s", body)
	}
	if !strings.Contains(body, `service_name="scenepipe-controller"`) {
		t.Errorf("expected service name on target_info, got:\n%s", body)
	}
}

func TestInitMetrics_PipelineCountersExported(t *testing.T) {
	handler := initTestMetrics(t)

	// nil meter resolves to the global provider InitMetrics installed.
	m, err := NewPipelineMetrics(nil)
	if err != nil {
		t.Fatalf("NewPipelineMetrics failed: %v", err)
	}
	ctx := context.Background()
	m.CacheHit(ctx, "images")
	m.CacheHit(ctx, "images")

	body := scrape(t, handler)
	if !strings.Contains(body, "scenepipe_cache_hits") {
		t.Errorf("expected scenepipe_cache_hits in output, got:\n%s", body)
	}
	if !strings.Contains(body, `stage="images"`) {
		t.Errorf("expected stage label in output, got:\n%s", body)
	}
}

func TestInitMetrics_Reinitialise(t *testing.T) {
	initTestMetrics(t)
	scrape(t, initTestMetrics(t))
}
