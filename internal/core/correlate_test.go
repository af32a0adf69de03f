package core

import "testing"

func TestToolPairerCallThenResult(t *testing.T) {
	p := NewToolPairer()

	call := &CanonicalEvent{Kind: EventToolCall, ToolCallID: "c1", ToolName: "shell"}
	if pair := p.Observe(call); pair != nil {
		t.Fatal("call alone should not complete a pair")
	}
	if name, ok := p.CallName("c1"); !ok || name != "shell" {
		t.Fatalf("CallName = %q, %v", name, ok)
	}

	result := &CanonicalEvent{Kind: EventToolResult, ToolCallID: "c1"}
	pair := p.Observe(result)
	if pair == nil || pair.Call != call || pair.Result != result {
		t.Fatalf("pair = %+v", pair)
	}
	if len(p.Pairs()) != 1 {
		t.Fatalf("pairs = %d", len(p.Pairs()))
	}
	if len(p.Unmatched()) != 0 {
		t.Fatal("nothing should remain unmatched")
	}
}

func TestToolPairerResultBeforeCall(t *testing.T) {
	p := NewToolPairer()

	result := &CanonicalEvent{Kind: EventToolResult, ToolCallID: "c1"}
	if pair := p.Observe(result); pair != nil {
		t.Fatal("result alone should not complete a pair")
	}

	call := &CanonicalEvent{Kind: EventToolCall, ToolCallID: "c1"}
	pair := p.Observe(call)
	if pair == nil || pair.Call != call || pair.Result != result {
		t.Fatalf("pair = %+v", pair)
	}
}

func TestToolPairerIgnoresEventsWithoutID(t *testing.T) {
	p := NewToolPairer()
	p.Observe(&CanonicalEvent{Kind: EventToolCall})
	p.Observe(&CanonicalEvent{Kind: EventMessage, ToolCallID: "c1"})
	if len(p.Pairs()) != 0 || len(p.Unmatched()) != 0 {
		t.Fatal("id-less and non-tool events must not enter the table")
	}
}

func TestToolPairerTracksUnmatchedCalls(t *testing.T) {
	p := NewToolPairer()
	p.Observe(&CanonicalEvent{Kind: EventToolCall, ToolCallID: "a"})
	p.Observe(&CanonicalEvent{Kind: EventToolCall, ToolCallID: "b"})
	p.Observe(&CanonicalEvent{Kind: EventToolResult, ToolCallID: "a"})

	unmatched := p.Unmatched()
	if len(unmatched) != 1 || unmatched[0].ToolCallID != "b" {
		t.Fatalf("unmatched = %+v", unmatched)
	}
}
