package telemetry

import (
	"sort"
	"time"

	"github.com/janekbaraniewski/sessionlens/internal/core"
)

// Interval is a [Start, End] time range. Consumers only rely on overlap
// tests, so endpoint inclusivity never matters.
type Interval struct {
	Start time.Time
	End   time.Time
}

func (iv Interval) Overlaps(other Interval) bool {
	return iv.Start.Before(other.End) && other.Start.Before(iv.End)
}

// segment is one slice between consecutive cut points, before same-kind
// merging collapses it into a span.
type segment struct {
	Interval
	kind core.SpanKind
}

// SegmentClassifier decides the kind of one cut-point segment. The default
// rule is a heuristic approximation of model latency phases, not measured
// ground truth; correctness-sensitive consumers can substitute their own.
type SegmentClassifier func(seg Interval, toolIntervals, waitingIntervals []Interval, userTS, assistantTS []time.Time) core.SpanKind

// BuildTrace partitions [start, end] into contiguous, non-overlapping spans
// labeled tool/waiting/think/gen and attributes token-usage deltas to them.
// A zero-duration window yields an empty trace.
func BuildTrace(events []core.CanonicalEvent, start, end time.Time) []core.TraceSpan {
	return BuildTraceClassified(events, start, end, DefaultClassifier)
}

// BuildTraceClassified is BuildTrace with a caller-supplied classifier.
func BuildTraceClassified(events []core.CanonicalEvent, start, end time.Time, classify SegmentClassifier) []core.TraceSpan {
	if !end.After(start) {
		return nil
	}
	window := Interval{Start: start, End: end}

	toolIntervals := mergedToolIntervals(events, window)
	userTS, assistantTS := turnTimestamps(events)
	waitingIntervals := waitingFrom(userTS, assistantTS, end)

	cuts := cutPoints(window, toolIntervals, waitingIntervals, userTS, assistantTS)

	var segments []segment
	for i := 0; i+1 < len(cuts); i++ {
		seg := Interval{Start: cuts[i], End: cuts[i+1]}
		if !seg.End.After(seg.Start) {
			continue
		}
		segments = append(segments, segment{
			Interval: seg,
			kind:     classify(seg, toolIntervals, waitingIntervals, userTS, assistantTS),
		})
	}

	spans := mergeSegments(segments)
	attributeUsage(spans, events)

	out := make([]core.TraceSpan, len(spans))
	for i, sp := range spans {
		out[i] = core.TraceSpan{
			Kind:       sp.kind,
			DurationMs: sp.End.Sub(sp.Start).Milliseconds(),
			TokenCount: sp.tokens,
			EventCount: sp.events,
		}
	}
	return out
}

// DefaultClassifier labels a segment tool when it overlaps a merged tool
// interval; else waiting when it overlaps a waiting interval or its right
// edge is a user-message timestamp; else gen when its right edge is an
// assistant-message timestamp; else think. Think is the fallback so that
// ambiguous latency, such as post-tool-result deliberation, reads as model
// time rather than idle time.
func DefaultClassifier(seg Interval, toolIntervals, waitingIntervals []Interval, userTS, assistantTS []time.Time) core.SpanKind {
	for _, iv := range toolIntervals {
		if seg.Overlaps(iv) {
			return core.SpanTool
		}
	}
	for _, iv := range waitingIntervals {
		if seg.Overlaps(iv) {
			return core.SpanWaiting
		}
	}
	if containsTime(userTS, seg.End) {
		return core.SpanWaiting
	}
	if containsTime(assistantTS, seg.End) {
		return core.SpanGen
	}
	return core.SpanThink
}

// mergedToolIntervals pairs tool calls with their results, clips each
// interval to the session window, and merges overlapping or touching
// intervals into a minimal disjoint, sorted set. Calls without a result are
// left out.
func mergedToolIntervals(events []core.CanonicalEvent, window Interval) []Interval {
	pairer := core.NewToolPairer()
	for i := range events {
		ev := events[i]
		pairer.Observe(&ev)
	}

	var raw []Interval
	for _, pair := range pairer.Pairs() {
		if pair.Call == nil || pair.Result == nil {
			continue
		}
		iv := Interval{Start: pair.Call.Timestamp, End: pair.Result.Timestamp}
		if iv.End.Before(iv.Start) {
			iv.Start, iv.End = iv.End, iv.Start
		}
		if iv.Start.Before(window.Start) {
			iv.Start = window.Start
		}
		if iv.End.After(window.End) {
			iv.End = window.End
		}
		if iv.End.After(iv.Start) {
			raw = append(raw, iv)
		}
	}
	sort.Slice(raw, func(i, j int) bool { return raw[i].Start.Before(raw[j].Start) })

	var merged []Interval
	for _, iv := range raw {
		if n := len(merged); n > 0 && !iv.Start.After(merged[n-1].End) {
			if iv.End.After(merged[n-1].End) {
				merged[n-1].End = iv.End
			}
			continue
		}
		merged = append(merged, iv)
	}
	return merged
}

// turnTimestamps returns the sorted, deduplicated user-message and
// assistant-message timestamps.
func turnTimestamps(events []core.CanonicalEvent) (userTS, assistantTS []time.Time) {
	userSeen := make(map[int64]struct{})
	assistantSeen := make(map[int64]struct{})
	for _, ev := range events {
		if ev.Kind != core.EventMessage || ev.Timestamp.IsZero() {
			continue
		}
		key := ev.Timestamp.UnixNano()
		switch ev.Role {
		case "user":
			if _, dup := userSeen[key]; !dup {
				userSeen[key] = struct{}{}
				userTS = append(userTS, ev.Timestamp)
			}
		case "assistant":
			if _, dup := assistantSeen[key]; !dup {
				assistantSeen[key] = struct{}{}
				assistantTS = append(assistantTS, ev.Timestamp)
			}
		}
	}
	sort.Slice(userTS, func(i, j int) bool { return userTS[i].Before(userTS[j]) })
	sort.Slice(assistantTS, func(i, j int) bool { return assistantTS[i].Before(assistantTS[j]) })
	return userTS, assistantTS
}

// waitingFrom sweeps the two turn streams together. An assistant timestamp
// with no interval open opens one (agent finished a turn, waiting on the
// human); the next user timestamp, or the session end when none remains,
// closes it.
func waitingFrom(userTS, assistantTS []time.Time, sessionEnd time.Time) []Interval {
	var out []Interval
	var openAt time.Time
	open := false

	ui, ai := 0, 0
	for ui < len(userTS) || ai < len(assistantTS) {
		pickAssistant := ui >= len(userTS) ||
			(ai < len(assistantTS) && !assistantTS[ai].After(userTS[ui]))
		if pickAssistant {
			if !open {
				openAt = assistantTS[ai]
				open = true
			}
			ai++
			continue
		}
		if open {
			if userTS[ui].After(openAt) {
				out = append(out, Interval{Start: openAt, End: userTS[ui]})
			}
			open = false
		}
		ui++
	}
	if open && sessionEnd.After(openAt) {
		out = append(out, Interval{Start: openAt, End: sessionEnd})
	}
	return out
}

// cutPoints builds the sorted, deduplicated boundary set: window edges,
// tool and waiting interval endpoints, and every turn timestamp, clipped to
// the window.
func cutPoints(window Interval, toolIntervals, waitingIntervals []Interval, userTS, assistantTS []time.Time) []time.Time {
	seen := make(map[int64]struct{})
	var cuts []time.Time
	add := func(t time.Time) {
		if t.Before(window.Start) || t.After(window.End) {
			return
		}
		key := t.UnixNano()
		if _, dup := seen[key]; dup {
			return
		}
		seen[key] = struct{}{}
		cuts = append(cuts, t)
	}

	add(window.Start)
	add(window.End)
	for _, iv := range toolIntervals {
		add(iv.Start)
		add(iv.End)
	}
	for _, iv := range waitingIntervals {
		add(iv.Start)
		add(iv.End)
	}
	for _, t := range userTS {
		add(t)
	}
	for _, t := range assistantTS {
		add(t)
	}

	sort.Slice(cuts, func(i, j int) bool { return cuts[i].Before(cuts[j]) })
	return cuts
}

type tracedSpan struct {
	Interval
	kind   core.SpanKind
	tokens int64
	events int
}

func mergeSegments(segments []segment) []*tracedSpan {
	var spans []*tracedSpan
	for _, seg := range segments {
		if n := len(spans); n > 0 && spans[n-1].kind == seg.kind {
			spans[n-1].End = seg.End
			continue
		}
		spans = append(spans, &tracedSpan{Interval: seg.Interval, kind: seg.kind})
	}
	return spans
}

// attributeUsage credits each token-usage delta to a span with a single
// forward pointer. Token events are frequently logged slightly after the
// boundary they belong to, so when the containing span is tool or waiting
// the delta is credited to the most recently visited think/gen span instead
// of being dropped. A containing tool/waiting span only absorbs the delta
// when no think/gen span has been visited at all, which keeps span token
// counts summing to the session total.
func attributeUsage(spans []*tracedSpan, events []core.CanonicalEvent) {
	if len(spans) == 0 {
		return
	}

	usageEvents := make([]core.CanonicalEvent, 0)
	for _, ev := range events {
		if ev.Kind == core.EventTokenUsage && ev.Usage != nil && !ev.Timestamp.IsZero() {
			usageEvents = append(usageEvents, ev)
		}
	}
	sort.SliceStable(usageEvents, func(i, j int) bool {
		return usageEvents[i].Timestamp.Before(usageEvents[j].Timestamp)
	})

	cursor := 0
	scanned := 0
	var lastThinkGen *tracedSpan
	for _, ev := range usageEvents {
		t := ev.Timestamp
		if t.Before(spans[0].Start) {
			t = spans[0].Start
		}
		for cursor+1 < len(spans) && !t.Before(spans[cursor].End) {
			cursor++
		}
		for ; scanned <= cursor; scanned++ {
			if spans[scanned].kind == core.SpanThink || spans[scanned].kind == core.SpanGen {
				lastThinkGen = spans[scanned]
			}
		}

		target := spans[cursor]
		if target.kind != core.SpanThink && target.kind != core.SpanGen && lastThinkGen != nil {
			target = lastThinkGen
		}
		target.tokens += ev.Usage.TotalTokens()
		target.events++
	}
}

func containsTime(sorted []time.Time, t time.Time) bool {
	idx := sort.Search(len(sorted), func(i int) bool { return !sorted[i].Before(t) })
	return idx < len(sorted) && sorted[idx].Equal(t)
}
