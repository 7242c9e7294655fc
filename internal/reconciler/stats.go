package reconciler

import (
	"sync/atomic"
	"time"
)

// replayStats backs the periodic log line; Prometheus gets the same
// outcomes through prom.AddOrphanReplay.
type replayStats struct {
	applied    int64
	duplicates int64
	dropped    int64
	retried    int64
	durationNs int64
	startedNs  int64
}

func newReplayStats() *replayStats {
	return &replayStats{
		startedNs: time.Now().UnixNano(),
	}
}

func (m *replayStats) recordApplied(duration time.Duration) {
	atomic.AddInt64(&m.applied, 1)
	atomic.AddInt64(&m.durationNs, int64(duration))
}

func (m *replayStats) recordDuplicate() { atomic.AddInt64(&m.duplicates, 1) }
func (m *replayStats) recordDropped()   { atomic.AddInt64(&m.dropped, 1) }
func (m *replayStats) recordRetry()     { atomic.AddInt64(&m.retried, 1) }

func (m *replayStats) snapshot() map[string]interface{} {
	applied := atomic.LoadInt64(&m.applied)
	durationNs := atomic.LoadInt64(&m.durationNs)

	avg := time.Duration(0)
	if applied > 0 {
		avg = time.Duration(durationNs / applied)
	}

	return map[string]interface{}{
		"applied":         applied,
		"duplicates":      atomic.LoadInt64(&m.duplicates),
		"dropped":         atomic.LoadInt64(&m.dropped),
		"retried":         atomic.LoadInt64(&m.retried),
		"avg_duration_ms": avg.Milliseconds(),
		"uptime_seconds":  time.Since(time.Unix(0, atomic.LoadInt64(&m.startedNs))).Seconds(),
	}
}
