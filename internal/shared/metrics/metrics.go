package metrics

import (
	"bytes"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/gin-gonic/gin"
)

var (
	runsStartedTotal   atomic.Uint64
	runsCompletedTotal atomic.Uint64
	runsFailedTotal    atomic.Uint64
	runsCancelledTotal atomic.Uint64
	runsRefundedTotal  atomic.Uint64

	cacheHitsTotal        atomic.Uint64
	cacheMissesTotal      atomic.Uint64
	cacheInvalidatedTotal atomic.Uint64

	checksFailedTotal atomic.Uint64

	queueJobsReceivedTotal  atomic.Uint64
	queueJobsCompletedTotal atomic.Uint64
	queueJobsRetriedTotal   atomic.Uint64
	queueJobsDeadTotal      atomic.Uint64

	runDuration = newHistogram([]float64{250, 500, 1000, 2000, 5000, 10000, 30000, 60000, 120000})
)

// IncRunStarted increments the started counter.
func IncRunStarted() { runsStartedTotal.Add(1) }

// IncRunCompleted increments the completed counter.
func IncRunCompleted() { runsCompletedTotal.Add(1) }

// IncRunFailed increments the failed counter.
func IncRunFailed() { runsFailedTotal.Add(1) }

// IncRunCancelled increments the cancelled counter.
func IncRunCancelled() { runsCancelledTotal.Add(1) }

// IncRunRefunded increments the refund counter.
func IncRunRefunded() { runsRefundedTotal.Add(1) }

// IncCacheHit increments the cache hit counter.
func IncCacheHit() { cacheHitsTotal.Add(1) }

// IncCacheMiss increments the cache miss counter.
func IncCacheMiss() { cacheMissesTotal.Add(1) }

// IncCacheInvalidated increments the cache invalidation counter.
func IncCacheInvalidated() { cacheInvalidatedTotal.Add(1) }

// IncCheckFailed increments the failed pre-analysis check counter.
func IncCheckFailed() { checksFailedTotal.Add(1) }

// IncQueueJobsReceived increments the received queue job counter.
func IncQueueJobsReceived() { queueJobsReceivedTotal.Add(1) }

// IncQueueJobsCompleted increments the completed queue job counter.
func IncQueueJobsCompleted() { queueJobsCompletedTotal.Add(1) }

// IncQueueJobsRetried increments the retried queue job counter.
func IncQueueJobsRetried() { queueJobsRetriedTotal.Add(1) }

// IncQueueJobsDead increments the counter of jobs failed terminally after
// exhausting delivery attempts.
func IncQueueJobsDead() { queueJobsDeadTotal.Add(1) }

// ObserveRunDurationMs records a run duration in milliseconds.
func ObserveRunDurationMs(value float64) {
	if value < 0 {
		value = 0
	}
	runDuration.Observe(value)
}

// Handler exposes metrics in Prometheus text format.
func Handler() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Content-Type", "text/plain; version=0.0.4")
		c.String(http.StatusOK, Render())
	}
}

// Render renders metrics in Prometheus text format.
func Render() string {
	var buf bytes.Buffer
	writeCounter(&buf, "runs_started_total", "Total analysis runs started", runsStartedTotal.Load())
	writeCounter(&buf, "runs_completed_total", "Total analysis runs completed", runsCompletedTotal.Load())
	writeCounter(&buf, "runs_failed_total", "Total analysis runs failed", runsFailedTotal.Load())
	writeCounter(&buf, "runs_cancelled_total", "Total analysis runs cancelled", runsCancelledTotal.Load())
	writeCounter(&buf, "runs_refunded_total", "Total credit refunds issued", runsRefundedTotal.Load())
	writeCounter(&buf, "cache_hits_total", "Total snapshot cache hits", cacheHitsTotal.Load())
	writeCounter(&buf, "cache_misses_total", "Total snapshot cache misses", cacheMissesTotal.Load())
	writeCounter(&buf, "cache_invalidated_total", "Total snapshot cache invalidations", cacheInvalidatedTotal.Load())
	writeCounter(&buf, "checks_failed_total", "Total pre-analysis check failures", checksFailedTotal.Load())
	writeCounter(&buf, "queue_jobs_received_total", "Total queue jobs received", queueJobsReceivedTotal.Load())
	writeCounter(&buf, "queue_jobs_completed_total", "Total queue jobs completed", queueJobsCompletedTotal.Load())
	writeCounter(&buf, "queue_jobs_retried_total", "Total queue jobs scheduled for retry", queueJobsRetriedTotal.Load())
	writeCounter(&buf, "queue_jobs_dead_total", "Total queue jobs failed after exhausting attempts", queueJobsDeadTotal.Load())
	writeHistogram(&buf, "run_duration_ms", "Run duration in milliseconds", runDuration.Snapshot())
	return buf.String()
}

type histogram struct {
	mu      sync.Mutex
	buckets []float64
	counts  []uint64
	sum     float64
	count   uint64
}

type histogramSnapshot struct {
	buckets []float64
	counts  []uint64
	sum     float64
	count   uint64
}

func newHistogram(buckets []float64) *histogram {
	return &histogram{
		buckets: buckets,
		counts:  make([]uint64, len(buckets)),
	}
}

func (h *histogram) Observe(value float64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.count++
	h.sum += value
	for i, bound := range h.buckets {
		if value <= bound {
			h.counts[i]++
		}
	}
}

func (h *histogram) Snapshot() histogramSnapshot {
	h.mu.Lock()
	defer h.mu.Unlock()
	return histogramSnapshot{
		buckets: append([]float64(nil), h.buckets...),
		counts:  append([]uint64(nil), h.counts...),
		sum:     h.sum,
		count:   h.count,
	}
}

func writeCounter(buf *bytes.Buffer, name, help string, value uint64) {
	fmt.Fprintf(buf, "# HELP %s %s\n", name, help)
	fmt.Fprintf(buf, "# TYPE %s counter\n", name)
	fmt.Fprintf(buf, "%s %d\n", name, value)
}

func writeHistogram(buf *bytes.Buffer, name, help string, snap histogramSnapshot) {
	fmt.Fprintf(buf, "# HELP %s %s\n", name, help)
	fmt.Fprintf(buf, "# TYPE %s histogram\n", name)
	var cumulative uint64
	for i, bound := range snap.buckets {
		cumulative += snap.counts[i]
		fmt.Fprintf(buf, "%s_bucket{le=\"%s\"} %d\n", name, formatFloat(bound), cumulative)
	}
	fmt.Fprintf(buf, "%s_bucket{le=\"+Inf\"} %d\n", name, snap.count)
	fmt.Fprintf(buf, "%s_sum %s\n", name, formatFloat(snap.sum))
	fmt.Fprintf(buf, "%s_count %d\n", name, snap.count)
}

func formatFloat(value float64) string {
	if value == float64(int64(value)) {
		return strconv.FormatInt(int64(value), 10)
	}
	return strconv.FormatFloat(value, 'f', -1, 64)
}
