package metrics

import (
	"sync"
	"sync/atomic"
)

// automationStats holds process-wide counters for the automation pipeline.
// Kept simple/thread-safe for use from the orchestrator and exposition.
type automationStats struct {
	processed        uint64
	replied          uint64
	skipped          uint64
	failed           uint64
	providerFailures uint64
}

var auto automationStats

// IncProcessed counts one inbound message picked up by the orchestrator.
func IncProcessed() { atomic.AddUint64(&auto.processed, 1) }

// IncReplied counts one automated reply that was composed and queued.
func IncReplied() { atomic.AddUint64(&auto.replied, 1) }

// IncSkipped counts one message the pipeline deliberately left alone.
func IncSkipped() { atomic.AddUint64(&auto.skipped, 1) }

// IncFailed counts one pipeline run that ended in an error.
func IncFailed() { atomic.AddUint64(&auto.failed, 1) }

// IncProviderFailure counts one failed call to the text provider.
func IncProviderFailure() { atomic.AddUint64(&auto.providerFailures, 1) }

// AutomationSnapshot returns a copy of the current pipeline counters.
func AutomationSnapshot() (processed, replied, skipped, failed, providerFailures uint64) {
	return atomic.LoadUint64(&auto.processed),
		atomic.LoadUint64(&auto.replied),
		atomic.LoadUint64(&auto.skipped),
		atomic.LoadUint64(&auto.failed),
		atomic.LoadUint64(&auto.providerFailures)
}

// rateLimitStats holds counters for rate limit drops (HTTP 429).
type rateLimitStats struct {
	total    uint64
	mu       sync.Mutex
	byPrefix map[string]uint64
}

var rl rateLimitStats

// IncRateLimitDrop increments drop counters for the given route prefix.
// Use prefix "global" for global limiter rejections.
func IncRateLimitDrop(prefix string) {
	if prefix == "" {
		prefix = "global"
	}
	atomic.AddUint64(&rl.total, 1)
	rl.mu.Lock()
	if rl.byPrefix == nil {
		rl.byPrefix = make(map[string]uint64)
	}
	rl.byPrefix[prefix]++
	rl.mu.Unlock()
}

// RateLimitSnapshot returns a copy of the current counters.
func RateLimitSnapshot() (total uint64, by map[string]uint64) {
	total = atomic.LoadUint64(&rl.total)
	rl.mu.Lock()
	defer rl.mu.Unlock()
	by = make(map[string]uint64, len(rl.byPrefix))
	for k, v := range rl.byPrefix {
		by[k] = v
	}
	return total, by
}
