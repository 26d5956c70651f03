package handlers

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/SerOes/instaai-sub001/internal/metrics"

	"github.com/gin-gonic/gin"
)

func TestMetricsHandler_ExposesCounters(t *testing.T) {
	gin.SetMode(gin.TestMode)

	metrics.IncProcessed()
	metrics.IncSkipped()

	r := gin.New()
	r.GET("/metrics", NewMetricsHandler("v1.0.0-test").GetMetrics)

	w := httptest.NewRecorder()
	req, _ := http.NewRequest("GET", "/metrics", nil)
	r.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("status=%d", w.Code)
	}
	if got := w.Header().Get("Content-Type"); !strings.HasPrefix(got, "text/plain") {
		t.Fatalf("content type = %q", got)
	}

	body := w.Body.String()
	for _, name := range []string{
		`instaai_info{version="v1.0.0-test"} 1`,
		"instaai_uptime_seconds",
		"instaai_messages_processed_total",
		"instaai_replies_sent_total",
		"instaai_messages_skipped_total",
		"instaai_pipeline_failures_total",
		"instaai_provider_failures_total",
		"instaai_rate_limit_drops_total",
	} {
		if !strings.Contains(body, name) {
			t.Fatalf("expected %q in metrics output, body=\n%s", name, body)
		}
	}
}

func TestMetricsHandler_CountersAreMonotonic(t *testing.T) {
	before, _, _, _, _ := metrics.AutomationSnapshot()
	metrics.IncProcessed()
	after, _, _, _, _ := metrics.AutomationSnapshot()
	if after != before+1 {
		t.Fatalf("processed went %d -> %d, want +1", before, after)
	}
}
