package metrics

import (
	"sync"
	"sync/atomic"
	"time"
)

// Process-wide pipeline counters, exposed by the /metrics endpoint.
// Kept simple/thread-safe for use from services and middlewares.
type pipelineStats struct {
	emailsSent    uint64
	emailsFailed  uint64
	webhookEvents uint64

	mu              sync.Mutex
	batchRuns       uint64
	batchTriggers   uint64
	batchMatches    uint64
	batchErrors     uint64
	lastBatchAt     time.Time
}

var pipeline pipelineStats

// IncEmailSent counts one successful delivery.
func IncEmailSent() {
	atomic.AddUint64(&pipeline.emailsSent, 1)
}

// IncEmailFailed counts one failed delivery attempt.
func IncEmailFailed() {
	atomic.AddUint64(&pipeline.emailsFailed, 1)
}

// IncWebhookEvent counts one accepted payment-webhook event.
func IncWebhookEvent() {
	atomic.AddUint64(&pipeline.webhookEvents, 1)
}

// IncBatchRun records the totals of one batch pass.
func IncBatchRun(triggers, matches, errors int) {
	pipeline.mu.Lock()
	pipeline.batchRuns++
	pipeline.batchTriggers += uint64(triggers)
	pipeline.batchMatches += uint64(matches)
	pipeline.batchErrors += uint64(errors)
	pipeline.lastBatchAt = time.Now()
	pipeline.mu.Unlock()
}

// PipelineSnapshot is a point-in-time copy of the counters.
type PipelineSnapshot struct {
	EmailsSent    uint64    `json:"emails_sent"`
	EmailsFailed  uint64    `json:"emails_failed"`
	WebhookEvents uint64    `json:"webhook_events"`
	BatchRuns     uint64    `json:"batch_runs"`
	BatchTriggers uint64    `json:"batch_triggers"`
	BatchMatches  uint64    `json:"batch_matches"`
	BatchErrors   uint64    `json:"batch_errors"`
	LastBatchAt   time.Time `json:"last_batch_at"`
}

// Snapshot returns a copy of the current counters.
func Snapshot() PipelineSnapshot {
	snap := PipelineSnapshot{
		EmailsSent:    atomic.LoadUint64(&pipeline.emailsSent),
		EmailsFailed:  atomic.LoadUint64(&pipeline.emailsFailed),
		WebhookEvents: atomic.LoadUint64(&pipeline.webhookEvents),
	}
	pipeline.mu.Lock()
	snap.BatchRuns = pipeline.batchRuns
	snap.BatchTriggers = pipeline.batchTriggers
	snap.BatchMatches = pipeline.batchMatches
	snap.BatchErrors = pipeline.batchErrors
	snap.LastBatchAt = pipeline.lastBatchAt
	pipeline.mu.Unlock()
	return snap
}

// Rate limit drop counters (HTTP 429), by route prefix.
type rateLimitStats struct {
	total    uint64
	mu       sync.Mutex
	byPrefix map[string]uint64
}

var rl rateLimitStats

// IncRateLimitDrop increments drop counters for the given prefix.
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
