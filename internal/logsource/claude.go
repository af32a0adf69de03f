package logsource

import (
	"context"
	"encoding/json"
	"io"
	"time"

	"github.com/janekbaraniewski/sessionlens/internal/core"
)

// ClaudeAdapter parses Claude Code project files: line-delimited JSON with
// type, message, cwd, and sessionId at top level and message content as an
// array of typed parts (text, thinking, tool_use, tool_result).
//
// Token usage is reported once per assistant message, already as a delta, so
// no diffing happens here. The same message can reappear in more than one
// file of a multi-file session, so every usage event carries the message id
// and the accountant counts each id only once.
type ClaudeAdapter struct{}

func NewClaudeAdapter() *ClaudeAdapter { return &ClaudeAdapter{} }

func (a *ClaudeAdapter) Tool() string { return "claude" }

type claudeRecord struct {
	Type      string         `json:"type"`
	Timestamp string         `json:"timestamp"`
	SessionID string         `json:"sessionId"`
	CWD       string         `json:"cwd"`
	UUID      string         `json:"uuid"`
	Message   *claudeMessage `json:"message,omitempty"`
}

type claudeMessage struct {
	ID      string          `json:"id"`
	Role    string          `json:"role"`
	Content json.RawMessage `json:"content"`
	Usage   *claudeUsage    `json:"usage,omitempty"`
}

type claudeUsage struct {
	InputTokens              int64 `json:"input_tokens"`
	CacheCreationInputTokens int64 `json:"cache_creation_input_tokens"`
	CacheReadInputTokens     int64 `json:"cache_read_input_tokens"`
	OutputTokens             int64 `json:"output_tokens"`
}

type claudeContentPart struct {
	Type      string          `json:"type"`
	Text      string          `json:"text,omitempty"`
	Thinking  string          `json:"thinking,omitempty"`
	ID        string          `json:"id,omitempty"`
	Name      string          `json:"name,omitempty"`
	Input     json.RawMessage `json:"input,omitempty"`
	ToolUseID string          `json:"tool_use_id,omitempty"`
	Content   json.RawMessage `json:"content,omitempty"`
	IsError   bool            `json:"is_error,omitempty"`
}

// canonical maps Claude usage fields onto the shared snapshot. Cache
// creation is billed as input, cache read as cached input; Claude does not
// split reasoning output.
func (u claudeUsage) canonical() core.TokenUsage {
	return core.TokenUsage{
		InputTokens:       u.InputTokens + u.CacheCreationInputTokens,
		CachedInputTokens: u.CacheReadInputTokens,
		OutputTokens:      u.OutputTokens,
	}
}

func (a *ClaudeAdapter) ParseHeader(lines [][]byte) (core.SessionMeta, bool) {
	meta := core.SessionMeta{Tool: a.Tool()}
	for _, line := range lines {
		var record claudeRecord
		if err := json.Unmarshal(line, &record); err != nil {
			continue
		}
		if meta.ID == "" {
			meta.ID = record.SessionID
		}
		if meta.WorkingDirectory == "" {
			meta.WorkingDirectory = record.CWD
		}
		if meta.CreatedAt.IsZero() {
			if ts, ok := parseTimestamp(record.Timestamp); ok {
				meta.CreatedAt = ts
			}
		}
		if meta.ID != "" && meta.WorkingDirectory != "" && !meta.CreatedAt.IsZero() {
			break
		}
	}
	if meta.ID == "" {
		return core.SessionMeta{}, false
	}
	return meta, true
}

func (a *ClaudeAdapter) ScanEvents(ctx context.Context, r io.Reader, emit EmitFunc) (core.ScanStats, error) {
	var stats core.ScanStats
	pairer := core.NewToolPairer()

	lines, err := scanLines(ctx, r, func(line []byte) error {
		var record claudeRecord
		if err := json.Unmarshal(line, &record); err != nil {
			stats.SkippedLines++
			return nil
		}

		ts, _ := parseTimestamp(record.Timestamp)
		events, ok := classifyClaudeRecord(record, ts)
		if !ok {
			stats.SkippedLines++
			return nil
		}

		for i := range events {
			ev := events[i]
			if ev.Kind == core.EventToolResult && ev.ToolName == "" {
				if name, ok := pairer.CallName(ev.ToolCallID); ok {
					ev.ToolName = name
				}
			}
			pairer.Observe(&ev)
			stats.Events++
			if err := emit(ev); err != nil {
				return err
			}
		}
		return nil
	})
	stats.Lines = lines
	return stats, err
}

// classifyClaudeRecord expands one record into canonical events: one per
// content part, plus one token-usage event when an assistant message carries
// usage. Pure function of the record shape.
func classifyClaudeRecord(record claudeRecord, ts time.Time) ([]core.CanonicalEvent, bool) {
	switch record.Type {
	case "user", "assistant":
	case "summary", "system":
		return []core.CanonicalEvent{{Timestamp: ts, Kind: core.EventOther}}, true
	default:
		return nil, false
	}
	if record.Message == nil {
		return nil, false
	}

	msg := record.Message
	role := msg.Role
	if role == "" {
		role = record.Type
	}

	var events []core.CanonicalEvent

	// Content is either a bare string (plain user input) or an array of
	// typed parts.
	var asString string
	if err := json.Unmarshal(msg.Content, &asString); err == nil {
		events = append(events, core.CanonicalEvent{
			Timestamp: ts,
			Kind:      core.EventMessage,
			Role:      role,
			Text:      asString,
			MessageID: msg.ID,
		})
	} else {
		var parts []claudeContentPart
		if err := json.Unmarshal(msg.Content, &parts); err != nil {
			return nil, false
		}
		for _, part := range parts {
			switch part.Type {
			case "text":
				events = append(events, core.CanonicalEvent{
					Timestamp: ts,
					Kind:      core.EventMessage,
					Role:      role,
					Text:      part.Text,
					MessageID: msg.ID,
				})
			case "thinking":
				events = append(events, core.CanonicalEvent{
					Timestamp: ts,
					Kind:      core.EventReasoning,
					Role:      role,
					Text:      part.Thinking,
					MessageID: msg.ID,
				})
			case "tool_use":
				events = append(events, core.CanonicalEvent{
					Timestamp:  ts,
					Kind:       core.EventToolCall,
					Role:       role,
					ToolName:   part.Name,
					ToolCallID: part.ID,
					ToolInput:  compactJSON(part.Input),
				})
			case "tool_result":
				events = append(events, core.CanonicalEvent{
					Timestamp:  ts,
					Kind:       core.EventToolResult,
					Role:       "tool",
					ToolCallID: part.ToolUseID,
					ToolOutput: flattenToolResultContent(part.Content),
					ToolError:  part.IsError,
				})
			}
		}
	}

	if msg.Usage != nil && role == "assistant" {
		usage := msg.Usage.canonical()
		events = append(events, core.CanonicalEvent{
			Timestamp: ts,
			Kind:      core.EventTokenUsage,
			Role:      role,
			MessageID: msg.ID,
			Usage:     &usage,
		})
	}

	if len(events) == 0 {
		events = append(events, core.CanonicalEvent{Timestamp: ts, Kind: core.EventOther, Role: role})
	}
	return events, true
}

// flattenToolResultContent renders a tool_result content field, either a
// bare string or an array of text parts, as plain text.
func flattenToolResultContent(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var asString string
	if err := json.Unmarshal(raw, &asString); err == nil {
		return asString
	}
	var parts []claudeContentPart
	if err := json.Unmarshal(raw, &parts); err != nil {
		return ""
	}
	out := ""
	for _, part := range parts {
		if part.Type == "text" {
			if out != "" {
				out += "\n"
			}
			out += part.Text
		}
	}
	return out
}

func compactJSON(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	return string(raw)
}
