package telemetry

import (
	"math"
	"time"

	"github.com/janekbaraniewski/sessionlens/internal/core"
)

const (
	timelineBucketWidth = 15 * time.Second
	timelineMinBuckets  = 12
	timelineMaxBuckets  = 96
)

// BuildTimeline slices [start, end] into fixed-width buckets and counts
// events per kind in each. Bucket count is ceil(window/15s) clamped to
// [12, 96]; a degenerate window gets exactly one bucket. Every event lands
// in exactly one bucket, so per-kind sums across buckets equal the input
// totals.
func BuildTimeline(events []core.CanonicalEvent, start, end time.Time) []core.TimelineBucket {
	n := 1
	window := end.Sub(start)
	if window > 0 {
		n = int(math.Ceil(float64(window) / float64(timelineBucketWidth)))
		if n < timelineMinBuckets {
			n = timelineMinBuckets
		}
		if n > timelineMaxBuckets {
			n = timelineMaxBuckets
		}
	}

	// Bucket starts use the same fractional arithmetic as event placement so
	// the labeled boundaries are exactly the binning boundaries.
	buckets := make([]core.TimelineBucket, n)
	for i := range buckets {
		offset := time.Duration(0)
		if window > 0 {
			offset = time.Duration(float64(window) * float64(i) / float64(n))
		}
		buckets[i] = core.TimelineBucket{
			Start:  start.Add(offset),
			Counts: make(map[core.EventKind]int),
		}
	}

	for _, ev := range events {
		if ev.Timestamp.IsZero() {
			continue
		}
		idx := 0
		if window > 0 {
			frac := float64(ev.Timestamp.Sub(start)) / float64(window)
			idx = int(math.Floor(frac * float64(n)))
			if idx < 0 {
				idx = 0
			}
			if idx > n-1 {
				idx = n - 1
			}
		}
		buckets[idx].Counts[ev.Kind]++
	}
	return buckets
}
