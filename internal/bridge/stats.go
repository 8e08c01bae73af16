package bridge

import (
	"context"
	"time"

	"mcc/internal/session"
)

// StatsPeriod is the default sampling interval for StatsEvent (§4.4
// "STATS_PERIOD default 1s").
var StatsPeriod = 1 * time.Second

// Sample is what gets published on the event channel every
// StatsPeriod: the raw counters plus the derived throughput the
// spec asks for.
type Sample struct {
	session.Snapshot
	UploadBps   float64
	DownloadBps float64
}

// sampler periodically snapshots stats and publishes a Sample while
// the Bridge is Established, computing instantaneous throughput from
// the delta against the previous sample. Grounded in the teacher's
// internal/metrics.go periodic-counter pattern, adapted from pull
// (scrape) to push (broadcast).
type sampler struct {
	period time.Duration
	stats  *session.Stats
	emit   func(Sample)
	isLive func() bool
}

func (s *sampler) run(ctx context.Context) {
	if s.period <= 0 {
		return
	}
	ticker := time.NewTicker(s.period)
	defer ticker.Stop()

	prev := s.stats.Snapshot()
	prevAt := time.Now()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if s.isLive != nil && !s.isLive() {
				continue
			}
			cur := s.stats.Snapshot()
			now := time.Now()
			dt := now.Sub(prevAt).Seconds()
			var up, down float64
			if dt > 0 {
				up = float64(diff(cur.BytesOut, prev.BytesOut)) / dt
				down = float64(diff(cur.BytesIn, prev.BytesIn)) / dt
			}
			s.emit(Sample{Snapshot: cur, UploadBps: up, DownloadBps: down})
			prev, prevAt = cur, now
		}
	}
}

func diff(a, b uint64) uint64 {
	if a < b {
		return 0
	}
	return a - b
}
