package logsource

import (
	"context"
	"encoding/json"
	"io"
	"time"

	"github.com/janekbaraniewski/sessionlens/internal/core"
)

// CodexAdapter parses Codex CLI rollout files: line-delimited JSON with a
// top-level type discriminator and most fields nested under "payload".
// Token usage arrives as a cumulative "total usage so far" snapshot per
// token_count event, so the adapter diffs each snapshot against the previous
// one seen in the same file and emits non-negative deltas.
type CodexAdapter struct{}

func NewCodexAdapter() *CodexAdapter { return &CodexAdapter{} }

func (a *CodexAdapter) Tool() string { return "codex" }

type codexRecord struct {
	Timestamp string          `json:"timestamp"`
	Type      string          `json:"type"`
	Payload   json.RawMessage `json:"payload"`
}

type codexSessionMeta struct {
	ID        string `json:"id"`
	Timestamp string `json:"timestamp"`
	CWD       string `json:"cwd"`
}

type codexEventMsg struct {
	Type    string          `json:"type"`
	Message string          `json:"message,omitempty"`
	Text    string          `json:"text,omitempty"`
	Info    *codexTokenInfo `json:"info,omitempty"`
}

type codexTokenInfo struct {
	TotalTokenUsage codexTokenUsage `json:"total_token_usage"`
	LastTokenUsage  codexTokenUsage `json:"last_token_usage"`
}

type codexTokenUsage struct {
	InputTokens           int64 `json:"input_tokens"`
	CachedInputTokens     int64 `json:"cached_input_tokens"`
	OutputTokens          int64 `json:"output_tokens"`
	ReasoningOutputTokens int64 `json:"reasoning_output_tokens"`
	TotalTokens           int64 `json:"total_tokens"`
}

type codexResponseItem struct {
	Type      string `json:"type"`
	Role      string `json:"role,omitempty"`
	Name      string `json:"name,omitempty"`
	Arguments string `json:"arguments,omitempty"`
	CallID    string `json:"call_id,omitempty"`
	Output    string `json:"output,omitempty"`
}

func (u codexTokenUsage) canonical() core.TokenUsage {
	return core.TokenUsage{
		InputTokens:           u.InputTokens,
		CachedInputTokens:     u.CachedInputTokens,
		OutputTokens:          u.OutputTokens,
		ReasoningOutputTokens: u.ReasoningOutputTokens,
	}
}

func (a *CodexAdapter) ParseHeader(lines [][]byte) (core.SessionMeta, bool) {
	for _, line := range lines {
		var record codexRecord
		if err := json.Unmarshal(line, &record); err != nil {
			continue
		}
		if record.Type != "session_meta" || len(record.Payload) == 0 {
			continue
		}
		var meta codexSessionMeta
		if err := json.Unmarshal(record.Payload, &meta); err != nil || meta.ID == "" {
			continue
		}
		created, ok := parseTimestamp(meta.Timestamp)
		if !ok {
			created, _ = parseTimestamp(record.Timestamp)
		}
		return core.SessionMeta{
			ID:               meta.ID,
			Tool:             a.Tool(),
			WorkingDirectory: meta.CWD,
			CreatedAt:        created,
		}, true
	}
	return core.SessionMeta{}, false
}

func (a *CodexAdapter) ScanEvents(ctx context.Context, r io.Reader, emit EmitFunc) (core.ScanStats, error) {
	var stats core.ScanStats

	// Per-file cumulative baseline. A fresh ScanEvents call resets it, which
	// is exactly the per-file delta rule multi-file scans rely on.
	var lastTotal core.TokenUsage
	var hasBaseline bool

	// Pairs calls with results so result events carry the tool name when the
	// call line came first (the normal order in rollout files).
	pairer := core.NewToolPairer()

	lines, err := scanLines(ctx, r, func(line []byte) error {
		var record codexRecord
		if err := json.Unmarshal(line, &record); err != nil {
			stats.SkippedLines++
			return nil
		}

		ts, _ := parseTimestamp(record.Timestamp)
		ev, ok := classifyCodexRecord(record, ts)
		if !ok {
			stats.SkippedLines++
			return nil
		}

		if ev.Kind == core.EventTokenUsage {
			raw := *ev.Usage
			delta := raw
			if hasBaseline {
				delta = raw.DeltaFrom(lastTotal)
			}
			// Keep the raw snapshot as the baseline even after a clamp so a
			// counter reset cannot inflate the next delta.
			lastTotal = raw
			hasBaseline = true
			ev.Usage = &delta
		}

		if ev.Kind == core.EventToolResult && ev.ToolName == "" {
			if name, ok := pairer.CallName(ev.ToolCallID); ok {
				ev.ToolName = name
			}
		}
		pairer.Observe(&ev)

		stats.Events++
		return emit(ev)
	})
	stats.Lines = lines
	return stats, err
}

// classifyCodexRecord maps one parsed record to its canonical event. The
// mapping depends only on the record shape, never on scan state.
//
// Conversation text comes from event_msg entries and tool traffic from
// response_item entries; response_item message/reasoning duplicates of the
// event_msg stream are demoted to EventOther so counts stay single-sourced.
func classifyCodexRecord(record codexRecord, ts time.Time) (core.CanonicalEvent, bool) {
	switch record.Type {
	case "event_msg":
		var msg codexEventMsg
		if err := json.Unmarshal(record.Payload, &msg); err != nil {
			return core.CanonicalEvent{}, false
		}
		switch msg.Type {
		case "user_message":
			return core.CanonicalEvent{Timestamp: ts, Kind: core.EventMessage, Role: "user", Text: msg.Message}, true
		case "agent_message":
			return core.CanonicalEvent{Timestamp: ts, Kind: core.EventMessage, Role: "assistant", Text: msg.Message}, true
		case "agent_reasoning":
			return core.CanonicalEvent{Timestamp: ts, Kind: core.EventReasoning, Role: "assistant", Text: msg.Text}, true
		case "token_count":
			if msg.Info == nil {
				return core.CanonicalEvent{}, false
			}
			usage := msg.Info.TotalTokenUsage.canonical()
			return core.CanonicalEvent{Timestamp: ts, Kind: core.EventTokenUsage, Role: "assistant", Usage: &usage}, true
		default:
			return core.CanonicalEvent{Timestamp: ts, Kind: core.EventOther}, true
		}
	case "response_item":
		var item codexResponseItem
		if err := json.Unmarshal(record.Payload, &item); err != nil {
			return core.CanonicalEvent{}, false
		}
		switch item.Type {
		case "function_call", "custom_tool_call", "local_shell_call":
			name := item.Name
			if name == "" && item.Type == "local_shell_call" {
				name = "shell"
			}
			return core.CanonicalEvent{
				Timestamp:  ts,
				Kind:       core.EventToolCall,
				Role:       "assistant",
				ToolName:   name,
				ToolCallID: item.CallID,
				ToolInput:  item.Arguments,
			}, true
		case "function_call_output", "custom_tool_call_output", "local_shell_call_output":
			return core.CanonicalEvent{
				Timestamp:  ts,
				Kind:       core.EventToolResult,
				Role:       "tool",
				ToolCallID: item.CallID,
				ToolOutput: item.Output,
			}, true
		default:
			return core.CanonicalEvent{Timestamp: ts, Kind: core.EventOther}, true
		}
	case "session_meta", "turn_context", "compacted":
		return core.CanonicalEvent{Timestamp: ts, Kind: core.EventOther}, true
	default:
		return core.CanonicalEvent{}, false
	}
}
