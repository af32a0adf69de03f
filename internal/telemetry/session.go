package telemetry

import (
	"context"
	"time"

	"github.com/janekbaraniewski/sessionlens/internal/core"
	"github.com/janekbaraniewski/sessionlens/internal/logsource"
)

// BuildSessionSummary collects one session's full event stream and derives
// every per-session view in one pass: event counts, deduped token totals,
// the activity timeline, and the trace partition.
func BuildSessionSummary(ctx context.Context, adapter logsource.Adapter, meta core.SessionMeta) (core.SessionSummary, error) {
	events, stats, err := logsource.CollectSession(ctx, adapter, meta)
	if err != nil {
		return core.SessionSummary{}, err
	}
	events = DedupUsageEvents(events)

	summary := core.SessionSummary{
		ID:          meta.ID,
		Tool:        meta.Tool,
		CreatedAt:   meta.CreatedAt,
		EventCounts: make(map[core.EventKind]int),
		ScanStats:   stats,
	}

	var start, end time.Time
	tally := newUsageTally()
	for _, ev := range events {
		summary.EventCounts[ev.Kind]++
		tally.observe(ev)
		if ev.Timestamp.IsZero() {
			continue
		}
		if start.IsZero() || ev.Timestamp.Before(start) {
			start = ev.Timestamp
		}
		if end.IsZero() || ev.Timestamp.After(end) {
			end = ev.Timestamp
		}
	}
	summary.TokenUsage = tally.total

	if summary.CreatedAt.IsZero() {
		summary.CreatedAt = start
	}
	summary.LastEventAt = end
	if !start.IsZero() && !end.IsZero() {
		summary.DurationMs = end.Sub(start).Milliseconds()
		summary.Timeline = BuildTimeline(events, start, end)
		summary.Trace = BuildTrace(events, start, end)
	}
	return summary, nil
}

// SessionMessages collects a session's stream and assembles the paginated
// message feed.
func SessionMessages(ctx context.Context, adapter logsource.Adapter, meta core.SessionMeta, before *int, limit int) (core.MessagePage, error) {
	events, _, err := logsource.CollectSession(ctx, adapter, meta)
	if err != nil {
		return core.MessagePage{}, err
	}
	entries := AssembleMessages(DedupUsageEvents(events))
	return Paginate(entries, before, limit), nil
}
