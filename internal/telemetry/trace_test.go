package telemetry

import (
	"testing"
	"time"

	"github.com/janekbaraniewski/sessionlens/internal/core"
)

func at(base time.Time, offset time.Duration) time.Time {
	return base.Add(offset)
}

func usageEvent(ts time.Time, total int64) core.CanonicalEvent {
	usage := core.TokenUsage{OutputTokens: total}
	return core.CanonicalEvent{Timestamp: ts, Kind: core.EventTokenUsage, Usage: &usage}
}

func TestBuildTrace_EmptyWindow(t *testing.T) {
	now := time.Date(2026, time.March, 1, 9, 0, 0, 0, time.UTC)
	if spans := BuildTrace(nil, now, now); spans != nil {
		t.Fatalf("expected empty trace for zero-width window, got %d spans", len(spans))
	}
	if spans := BuildTrace(nil, now, now.Add(-time.Second)); spans != nil {
		t.Fatal("expected empty trace for inverted window")
	}
}

func TestBuildTrace_SpansTileWindow(t *testing.T) {
	base := time.Date(2026, time.March, 1, 9, 0, 0, 0, time.UTC)
	events := []core.CanonicalEvent{
		{Timestamp: at(base, 0), Kind: core.EventMessage, Role: "user", Text: "run the tests"},
		{Timestamp: at(base, 2 * time.Second), Kind: core.EventToolCall, ToolCallID: "c1", ToolName: "shell"},
		{Timestamp: at(base, 6 * time.Second), Kind: core.EventToolResult, ToolCallID: "c1"},
		{Timestamp: at(base, 8 * time.Second), Kind: core.EventMessage, Role: "assistant", Text: "done"},
		{Timestamp: at(base, 20 * time.Second), Kind: core.EventMessage, Role: "user", Text: "thanks"},
	}
	start, end := base, at(base, 20*time.Second)

	spans := BuildTrace(events, start, end)
	if len(spans) == 0 {
		t.Fatal("expected spans")
	}

	var totalMs int64
	for i, sp := range spans {
		if sp.DurationMs < 0 {
			t.Fatalf("span %d has negative duration", i)
		}
		totalMs += sp.DurationMs
	}
	if want := end.Sub(start).Milliseconds(); totalMs != want {
		t.Fatalf("spans cover %dms, window is %dms", totalMs, want)
	}
	for i := 1; i < len(spans); i++ {
		if spans[i].Kind == spans[i-1].Kind {
			t.Fatalf("adjacent spans %d and %d share kind %s", i-1, i, spans[i].Kind)
		}
	}
}

func TestBuildTrace_ToolAndWaitingClassification(t *testing.T) {
	base := time.Date(2026, time.March, 1, 9, 0, 0, 0, time.UTC)
	events := []core.CanonicalEvent{
		{Timestamp: at(base, 0), Kind: core.EventMessage, Role: "user"},
		{Timestamp: at(base, 2 * time.Second), Kind: core.EventToolCall, ToolCallID: "c1"},
		{Timestamp: at(base, 6 * time.Second), Kind: core.EventToolResult, ToolCallID: "c1"},
		{Timestamp: at(base, 8 * time.Second), Kind: core.EventMessage, Role: "assistant"},
		{Timestamp: at(base, 20 * time.Second), Kind: core.EventMessage, Role: "user"},
	}
	spans := BuildTrace(events, base, at(base, 20*time.Second))

	var byKind = map[core.SpanKind]int64{}
	for _, sp := range spans {
		byKind[sp.Kind] += sp.DurationMs
	}
	if byKind[core.SpanTool] != 4000 {
		t.Fatalf("tool time = %dms, want 4000", byKind[core.SpanTool])
	}
	// 8s..20s is assistant-done-to-next-user-message.
	if byKind[core.SpanWaiting] != 12000 {
		t.Fatalf("waiting time = %dms, want 12000", byKind[core.SpanWaiting])
	}
	if byKind[core.SpanGen] == 0 {
		t.Fatal("expected a gen span ending at the assistant message")
	}
}

func TestBuildTrace_TokenAttributionInsideToolSpanFallsBack(t *testing.T) {
	base := time.Date(2026, time.March, 1, 9, 0, 0, 0, time.UTC)
	events := []core.CanonicalEvent{
		{Timestamp: at(base, 0), Kind: core.EventMessage, Role: "user"},
		{Timestamp: at(base, 1 * time.Second), Kind: core.EventMessage, Role: "assistant"},
		{Timestamp: at(base, 2 * time.Second), Kind: core.EventToolCall, ToolCallID: "c1"},
		{Timestamp: at(base, 6 * time.Second), Kind: core.EventToolResult, ToolCallID: "c1"},
		// Usage logged mid-tool-interval; belongs to the preceding gen phase.
		usageEvent(at(base, 3*time.Second), 80),
		{Timestamp: at(base, 10 * time.Second), Kind: core.EventMessage, Role: "assistant"},
	}
	spans := BuildTrace(events, base, at(base, 10*time.Second))

	var toolTokens, thinkGenTokens, sum int64
	for _, sp := range spans {
		sum += sp.TokenCount
		switch sp.Kind {
		case core.SpanTool:
			toolTokens += sp.TokenCount
		case core.SpanThink, core.SpanGen:
			thinkGenTokens += sp.TokenCount
		}
	}
	if sum != 80 {
		t.Fatalf("token sum across spans = %d, want 80", sum)
	}
	if toolTokens != 0 {
		t.Fatalf("tool span absorbed %d tokens, want fallback to think/gen", toolTokens)
	}
	if thinkGenTokens != 80 {
		t.Fatalf("think/gen tokens = %d, want 80", thinkGenTokens)
	}
}

func TestBuildTrace_TokenSumPreservedWithoutThinkGenSpans(t *testing.T) {
	base := time.Date(2026, time.March, 1, 9, 0, 0, 0, time.UTC)
	// Tool interval spans the entire window; no think/gen span ever exists.
	events := []core.CanonicalEvent{
		{Timestamp: at(base, 0), Kind: core.EventToolCall, ToolCallID: "c1"},
		{Timestamp: at(base, 10 * time.Second), Kind: core.EventToolResult, ToolCallID: "c1"},
		usageEvent(at(base, 5*time.Second), 42),
	}
	spans := BuildTrace(events, base, at(base, 10*time.Second))

	var sum int64
	for _, sp := range spans {
		sum += sp.TokenCount
	}
	if sum != 42 {
		t.Fatalf("token sum = %d, want 42", sum)
	}
}

func TestBuildTrace_OverlappingToolIntervalsMerge(t *testing.T) {
	base := time.Date(2026, time.March, 1, 9, 0, 0, 0, time.UTC)
	events := []core.CanonicalEvent{
		{Timestamp: at(base, 1 * time.Second), Kind: core.EventToolCall, ToolCallID: "a"},
		{Timestamp: at(base, 2 * time.Second), Kind: core.EventToolCall, ToolCallID: "b"},
		{Timestamp: at(base, 4 * time.Second), Kind: core.EventToolResult, ToolCallID: "a"},
		{Timestamp: at(base, 6 * time.Second), Kind: core.EventToolResult, ToolCallID: "b"},
	}
	spans := BuildTrace(events, base, at(base, 8*time.Second))

	toolSpans := 0
	var toolMs int64
	for _, sp := range spans {
		if sp.Kind == core.SpanTool {
			toolSpans++
			toolMs += sp.DurationMs
		}
	}
	if toolSpans != 1 {
		t.Fatalf("expected one merged tool span, got %d", toolSpans)
	}
	if toolMs != 5000 {
		t.Fatalf("merged tool span covers %dms, want 5000", toolMs)
	}
}

func TestBuildTrace_OutOfOrderToolPairTolerated(t *testing.T) {
	base := time.Date(2026, time.March, 1, 9, 0, 0, 0, time.UTC)
	events := []core.CanonicalEvent{
		{Timestamp: at(base, 5 * time.Second), Kind: core.EventToolResult, ToolCallID: "c1"},
		{Timestamp: at(base, 2 * time.Second), Kind: core.EventToolCall, ToolCallID: "c1"},
	}
	spans := BuildTrace(events, base, at(base, 8*time.Second))

	var toolMs int64
	for _, sp := range spans {
		if sp.Kind == core.SpanTool {
			toolMs += sp.DurationMs
		}
	}
	if toolMs != 3000 {
		t.Fatalf("tool time = %dms, want 3000", toolMs)
	}
}
