// Package telemetry reconstructs session telemetry views (token usage
// totals, daily series, activity timelines, trace partitions, and the
// message feed) from canonical event streams. Every computation is a
// point-in-time scan over the transcript logs; nothing here persists state.
package telemetry

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/samber/lo"

	"github.com/janekbaraniewski/sessionlens/internal/core"
	"github.com/janekbaraniewski/sessionlens/internal/logsource"
)

// usageTally accumulates usage deltas while enforcing the per-message dedup
// rule: an event carrying a message id contributes only on first sighting.
// The seen set spans the whole computation (a session's files, or a whole
// directory scan), never a single file, because the same assistant message
// shows up in more than one file of a multi-file session.
type usageTally struct {
	total core.TokenUsage
	seen  map[string]struct{}
}

func newUsageTally() *usageTally {
	return &usageTally{seen: make(map[string]struct{})}
}

func (t *usageTally) observe(ev core.CanonicalEvent) {
	if ev.Kind != core.EventTokenUsage || ev.Usage == nil {
		return
	}
	if ev.MessageID != "" {
		if _, dup := t.seen[ev.MessageID]; dup {
			return
		}
		t.seen[ev.MessageID] = struct{}{}
	}
	t.total.Add(*ev.Usage)
}

// SessionUsage sums usage across every contributing event of one session,
// following each adapter's delta/dedup rule.
func SessionUsage(ctx context.Context, adapter logsource.Adapter, meta core.SessionMeta) (core.TokenUsage, core.ScanStats, error) {
	tally := newUsageTally()
	stats, err := logsource.ScanSession(ctx, adapter, meta, func(ev core.CanonicalEvent) error {
		tally.observe(ev)
		return nil
	})
	if err != nil {
		return core.TokenUsage{}, stats, err
	}
	return tally.total, stats, nil
}

// DedupUsageEvents returns events with duplicate token-usage events (same
// message id) removed, applying the accountant's rule so downstream views
// such as trace attribution never double-count a message's usage.
func DedupUsageEvents(events []core.CanonicalEvent) []core.CanonicalEvent {
	seen := make(map[string]struct{})
	out := events[:0:0]
	for _, ev := range events {
		if ev.Kind == core.EventTokenUsage && ev.MessageID != "" {
			if _, dup := seen[ev.MessageID]; dup {
				continue
			}
			seen[ev.MessageID] = struct{}{}
		}
		out = append(out, ev)
	}
	return out
}

// ProgressFunc receives scan-progress callbacks. The accumulator value is
// explicit; delivery (log lines, websocket frames) is the caller's concern.
type ProgressFunc func(stage string, detail string, stats core.ScanStats)

// Aggregator computes whole-directory aggregates across every configured
// source. Location fixes the calendar used for daily bucketing; it is
// resolved once at startup, not per request.
type Aggregator struct {
	Sources    []logsource.Source
	Location   *time.Location
	OnProgress ProgressFunc

	// Now is overridable for tests; defaults to time.Now.
	Now func() time.Time
}

func (a *Aggregator) now() time.Time {
	if a.Now != nil {
		return a.Now()
	}
	return time.Now()
}

func (a *Aggregator) location() *time.Location {
	if a.Location != nil {
		return a.Location
	}
	return time.Local
}

func (a *Aggregator) progress(stage, detail string, stats core.ScanStats) {
	if a.OnProgress != nil {
		a.OnProgress(stage, detail, stats)
	}
}

// scanAll streams every transcript file of every source through fn. File
// errors are per-file and non-fatal; a missing source root contributes
// nothing. Cancellation is checked between files and periodically between
// lines.
func (a *Aggregator) scanAll(ctx context.Context, fn func(adapter logsource.Adapter, ev core.CanonicalEvent)) (core.ScanStats, error) {
	var stats core.ScanStats
	for _, src := range a.Sources {
		if _, err := os.Stat(src.Root); err != nil {
			continue
		}
		walkErr := filepath.WalkDir(src.Root, func(path string, entry os.DirEntry, err error) error {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return ctxErr
			}
			if err != nil {
				stats.FileErrors++
				return nil
			}
			if entry.IsDir() || !strings.HasSuffix(path, ".jsonl") {
				return nil
			}
			f, openErr := os.Open(path)
			if openErr != nil {
				stats.FileErrors++
				return nil
			}
			fileStats, scanErr := src.Adapter.ScanEvents(ctx, f, func(ev core.CanonicalEvent) error {
				fn(src.Adapter, ev)
				return nil
			})
			_ = f.Close()
			stats.Files++
			stats.Merge(fileStats)
			if scanErr != nil {
				if ctx.Err() != nil {
					return scanErr
				}
				stats.FileErrors++
			}
			a.progress("scan", src.Adapter.Tool()+" "+filepath.Base(path), stats)
			return nil
		})
		if walkErr != nil {
			return stats, walkErr
		}
	}
	a.progress("done", "", stats)
	return stats, nil
}

// TotalUsage sums token usage across every session of every source.
func (a *Aggregator) TotalUsage(ctx context.Context) (core.TokenUsage, core.ScanStats, error) {
	tally := newUsageTally()
	stats, err := a.scanAll(ctx, func(_ logsource.Adapter, ev core.CanonicalEvent) {
		tally.observe(ev)
	})
	if err != nil {
		return core.TokenUsage{}, stats, err
	}
	return tally.total, stats, nil
}

// DailyUsage returns one snapshot per calendar day covering
// [today-days+1, today] in the aggregator's zone. Each event lands on the
// day its own timestamp falls in, so a session crossing midnight splits
// accordingly. Events without a parseable timestamp are excluded entirely
// rather than guessed onto a day.
func (a *Aggregator) DailyUsage(ctx context.Context, days int) ([]core.DailyUsage, core.ScanStats, error) {
	if days <= 0 {
		days = 1
	}
	loc := a.location()
	today := a.now().In(loc)
	todayKey := today.Format("2006-01-02")
	firstDay := today.AddDate(0, 0, -(days - 1))
	firstKey := firstDay.Format("2006-01-02")

	byDay := make(map[string]*usageTally)
	stats, err := a.scanAll(ctx, func(_ logsource.Adapter, ev core.CanonicalEvent) {
		if ev.Kind != core.EventTokenUsage || ev.Usage == nil || ev.Timestamp.IsZero() {
			return
		}
		day := ev.Timestamp.In(loc).Format("2006-01-02")
		if day < firstKey || day > todayKey {
			return
		}
		tally, ok := byDay[day]
		if !ok {
			tally = newUsageTally()
			byDay[day] = tally
		}
		tally.observe(ev)
	})
	if err != nil {
		return nil, stats, err
	}

	dayKeys := make([]string, 0, days)
	for d := 0; d < days; d++ {
		dayKeys = append(dayKeys, firstDay.AddDate(0, 0, d).Format("2006-01-02"))
	}
	sort.Strings(dayKeys)

	series := lo.Map(dayKeys, func(day string, _ int) core.DailyUsage {
		entry := core.DailyUsage{Day: day}
		if tally, ok := byDay[day]; ok {
			entry.Usage = tally.total
		}
		return entry
	})
	return series, stats, nil
}
