package handlers

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/SerOes/instaai-sub001/internal/metrics"

	"github.com/gin-gonic/gin"
)

// MetricsHandler renders the process counters in Prometheus text format.
type MetricsHandler struct {
	version   string
	startedAt time.Time
}

func NewMetricsHandler(version string) *MetricsHandler {
	return &MetricsHandler{version: version, startedAt: time.Now()}
}

func (h *MetricsHandler) GetMetrics(c *gin.Context) {
	processed, replied, skipped, failed, providerFailures := metrics.AutomationSnapshot()
	rlTotal, rlByPrefix := metrics.RateLimitSnapshot()

	b := &strings.Builder{}
	fmt.Fprintf(b, "# HELP instaai_info Information about the instance\n")
	fmt.Fprintf(b, "# TYPE instaai_info gauge\n")
	fmt.Fprintf(b, "instaai_info{version=%q} 1\n\n", h.version)

	fmt.Fprintf(b, "# HELP instaai_uptime_seconds Total uptime in seconds\n")
	fmt.Fprintf(b, "# TYPE instaai_uptime_seconds counter\n")
	fmt.Fprintf(b, "instaai_uptime_seconds %.0f\n\n", time.Since(h.startedAt).Seconds())

	fmt.Fprintf(b, "# HELP instaai_messages_processed_total Inbound messages run through the pipeline\n")
	fmt.Fprintf(b, "# TYPE instaai_messages_processed_total counter\n")
	fmt.Fprintf(b, "instaai_messages_processed_total %d\n\n", processed)

	fmt.Fprintf(b, "# HELP instaai_replies_sent_total Automated replies composed and queued\n")
	fmt.Fprintf(b, "# TYPE instaai_replies_sent_total counter\n")
	fmt.Fprintf(b, "instaai_replies_sent_total %d\n\n", replied)

	fmt.Fprintf(b, "# HELP instaai_messages_skipped_total Messages the pipeline deliberately skipped\n")
	fmt.Fprintf(b, "# TYPE instaai_messages_skipped_total counter\n")
	fmt.Fprintf(b, "instaai_messages_skipped_total %d\n\n", skipped)

	fmt.Fprintf(b, "# HELP instaai_pipeline_failures_total Pipeline runs that ended in an error\n")
	fmt.Fprintf(b, "# TYPE instaai_pipeline_failures_total counter\n")
	fmt.Fprintf(b, "instaai_pipeline_failures_total %d\n\n", failed)

	fmt.Fprintf(b, "# HELP instaai_provider_failures_total Failed calls to the text provider\n")
	fmt.Fprintf(b, "# TYPE instaai_provider_failures_total counter\n")
	fmt.Fprintf(b, "instaai_provider_failures_total %d\n\n", providerFailures)

	fmt.Fprintf(b, "# HELP instaai_rate_limit_drops_total Requests rejected by the rate limiter\n")
	fmt.Fprintf(b, "# TYPE instaai_rate_limit_drops_total counter\n")
	fmt.Fprintf(b, "instaai_rate_limit_drops_total %d\n", rlTotal)
	for prefix, count := range rlByPrefix {
		fmt.Fprintf(b, "instaai_rate_limit_drops_total{prefix=%q} %d\n", prefix, count)
	}

	c.Data(http.StatusOK, "text/plain; version=0.0.4; charset=utf-8", []byte(b.String()))
}
