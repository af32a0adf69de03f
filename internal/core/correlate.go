package core

// ToolPair is a completed tool invocation: the call and, when one arrived,
// its result.
type ToolPair struct {
	Call   *CanonicalEvent
	Result *CanonicalEvent
}

// ToolPairer matches tool_call and tool_result events by correlation id,
// tolerating either arrival order. Some tools stream the result line before
// the call line, so the table holds whichever half arrived first
// ("awaiting result" or "awaiting call") until the other shows up.
type ToolPairer struct {
	awaitingResult map[string]*CanonicalEvent // call seen, result pending
	awaitingCall   map[string]*CanonicalEvent // result seen, call pending
	pairs          []ToolPair
}

func NewToolPairer() *ToolPairer {
	return &ToolPairer{
		awaitingResult: make(map[string]*CanonicalEvent),
		awaitingCall:   make(map[string]*CanonicalEvent),
	}
}

// Observe feeds one event through the table. It returns the completed pair
// when ev closes a pending half, or nil. Events without a correlation id and
// events of other kinds are ignored.
func (p *ToolPairer) Observe(ev *CanonicalEvent) *ToolPair {
	if ev == nil || ev.ToolCallID == "" {
		return nil
	}
	switch ev.Kind {
	case EventToolCall:
		if result, ok := p.awaitingCall[ev.ToolCallID]; ok {
			delete(p.awaitingCall, ev.ToolCallID)
			pair := ToolPair{Call: ev, Result: result}
			p.pairs = append(p.pairs, pair)
			return &p.pairs[len(p.pairs)-1]
		}
		p.awaitingResult[ev.ToolCallID] = ev
	case EventToolResult:
		if call, ok := p.awaitingResult[ev.ToolCallID]; ok {
			delete(p.awaitingResult, ev.ToolCallID)
			pair := ToolPair{Call: call, Result: ev}
			p.pairs = append(p.pairs, pair)
			return &p.pairs[len(p.pairs)-1]
		}
		p.awaitingCall[ev.ToolCallID] = ev
	}
	return nil
}

// CallName returns the tool name of a call currently awaiting its result.
func (p *ToolPairer) CallName(id string) (string, bool) {
	call, ok := p.awaitingResult[id]
	if !ok {
		return "", false
	}
	return call.ToolName, true
}

// Pairs returns every completed pair in completion order.
func (p *ToolPairer) Pairs() []ToolPair {
	return p.pairs
}

// Unmatched returns the calls still awaiting a result.
func (p *ToolPairer) Unmatched() []*CanonicalEvent {
	out := make([]*CanonicalEvent, 0, len(p.awaitingResult))
	for _, call := range p.awaitingResult {
		out = append(out, call)
	}
	return out
}
