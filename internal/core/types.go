// Package core defines the canonical, tool-agnostic representation of a
// coding-assistant session: normalized transcript events, token usage
// snapshots, and the derived telemetry views (timeline, trace, message feed)
// served to consumers.
package core

import "time"

// EventKind classifies one canonical event. Classification is a pure
// function of the raw record shape; adapters never consult prior state to
// pick a kind.
type EventKind string

const (
	EventMessage    EventKind = "message"
	EventToolCall   EventKind = "tool_call"
	EventToolResult EventKind = "tool_result"
	EventReasoning  EventKind = "reasoning"
	EventTokenUsage EventKind = "token_usage"
	EventOther      EventKind = "other"
)

// EventKinds lists every kind in stable display order.
var EventKinds = []EventKind{
	EventMessage,
	EventToolCall,
	EventToolResult,
	EventReasoning,
	EventTokenUsage,
	EventOther,
}

// CanonicalEvent is one normalized transcript line. Immutable once emitted
// by an adapter.
type CanonicalEvent struct {
	Timestamp  time.Time  `json:"timestamp"`
	Kind       EventKind  `json:"kind"`
	Role       string     `json:"role,omitempty"` // "user", "assistant", "tool"
	Text       string     `json:"text,omitempty"`
	MessageID  string     `json:"message_id,omitempty"`
	ToolName   string     `json:"tool_name,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
	ToolInput  string     `json:"tool_input,omitempty"`
	ToolOutput string     `json:"tool_output,omitempty"`
	ToolError  bool       `json:"tool_error,omitempty"`
	Usage      *TokenUsage `json:"usage,omitempty"` // delta for this event, never cumulative
}

// TokenUsage is a delta-correct usage snapshot. Adapters emitting cumulative
// counters convert to deltas before events leave the adapter.
type TokenUsage struct {
	InputTokens           int64 `json:"input_tokens"`
	CachedInputTokens     int64 `json:"cached_input_tokens"`
	OutputTokens          int64 `json:"output_tokens"`
	ReasoningOutputTokens int64 `json:"reasoning_output_tokens"`
}

// PrefillTokens is everything the model read before generating.
func (u TokenUsage) PrefillTokens() int64 {
	return u.InputTokens + u.CachedInputTokens
}

// GenTokens is everything the model produced, reasoning included.
func (u TokenUsage) GenTokens() int64 {
	return u.OutputTokens + u.ReasoningOutputTokens
}

// TotalTokens is prefill plus generation.
func (u TokenUsage) TotalTokens() int64 {
	return u.PrefillTokens() + u.GenTokens()
}

// Add accumulates other into u.
func (u *TokenUsage) Add(other TokenUsage) {
	u.InputTokens += other.InputTokens
	u.CachedInputTokens += other.CachedInputTokens
	u.OutputTokens += other.OutputTokens
	u.ReasoningOutputTokens += other.ReasoningOutputTokens
}

// IsZero reports whether every counter is zero.
func (u TokenUsage) IsZero() bool {
	return u.InputTokens == 0 && u.CachedInputTokens == 0 &&
		u.OutputTokens == 0 && u.ReasoningOutputTokens == 0
}

// DeltaFrom computes u - previous per field, clamping each field at zero.
// Cumulative counters can visibly decrease when the source tool restarts;
// a clamped step must never poison later correct deltas, so the caller keeps
// the raw (unclamped) snapshot as the new baseline.
func (u TokenUsage) DeltaFrom(previous TokenUsage) TokenUsage {
	return TokenUsage{
		InputTokens:           clampNonNegative(u.InputTokens - previous.InputTokens),
		CachedInputTokens:     clampNonNegative(u.CachedInputTokens - previous.CachedInputTokens),
		OutputTokens:          clampNonNegative(u.OutputTokens - previous.OutputTokens),
		ReasoningOutputTokens: clampNonNegative(u.ReasoningOutputTokens - previous.ReasoningOutputTokens),
	}
}

func clampNonNegative(v int64) int64 {
	if v < 0 {
		return 0
	}
	return v
}

// SessionMeta identifies one logical session. SourceFiles holds more than
// one path for tools that split a session across files; files are ordered by
// path for deterministic scans.
type SessionMeta struct {
	ID               string    `json:"id"`
	Tool             string    `json:"tool"`
	WorkingDirectory string    `json:"working_directory"`
	CreatedAt        time.Time `json:"created_at"`
	SourceFiles      []string  `json:"source_files"`
}

// TimelineBucket counts events per kind inside one fixed-width time slice.
type TimelineBucket struct {
	Start  time.Time         `json:"start"`
	Counts map[EventKind]int `json:"counts"`
}

// SpanKind labels one segment of the session-time partition.
type SpanKind string

const (
	SpanTool    SpanKind = "tool"
	SpanWaiting SpanKind = "waiting"
	SpanThink   SpanKind = "think"
	SpanGen     SpanKind = "gen"
)

// TraceSpan is one labeled segment. Spans tile the session window with zero
// overlap and zero gaps.
type TraceSpan struct {
	Kind       SpanKind `json:"kind"`
	DurationMs int64    `json:"duration_ms"`
	TokenCount int64    `json:"token_count"`
	EventCount int      `json:"event_count"`
}

// MessageEntry is one row of the conversation feed. Tool calls and their
// results are merged into a single entry keyed by ToolCallID.
type MessageEntry struct {
	ID         int       `json:"id"` // position in the full feed, the pagination cursor space
	Role       string    `json:"role"`
	Kind       EventKind `json:"kind"`
	Text       string    `json:"text,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
	ToolName   string    `json:"tool_name,omitempty"`
	ToolCallID string    `json:"tool_call_id,omitempty"`
	ToolInput  string    `json:"tool_input,omitempty"`
	ToolOutput string    `json:"tool_output,omitempty"`
	ToolError  bool      `json:"tool_error,omitempty"`
}

// MessagePage is one backward-cursor page of the feed.
type MessagePage struct {
	Entries    []MessageEntry `json:"entries"`
	NextCursor *int           `json:"next_cursor,omitempty"`
	HasMore    bool           `json:"has_more"`
	Total      int            `json:"total"`
}

// SessionSummary is the per-session aggregate served over the API.
type SessionSummary struct {
	ID          string            `json:"id"`
	Tool        string            `json:"tool"`
	CreatedAt   time.Time         `json:"created_at"`
	LastEventAt time.Time         `json:"last_event_at"`
	DurationMs  int64             `json:"duration_ms"`
	EventCounts map[EventKind]int `json:"event_counts"`
	TokenUsage  TokenUsage        `json:"token_usage"`
	Timeline    []TimelineBucket  `json:"timeline"`
	Trace       []TraceSpan       `json:"trace"`
	ScanStats   ScanStats         `json:"scan_stats"`
}

// DailyUsage is one day of the per-day aggregate series. Day is the local
// calendar date ("2025-01-15") in the server's configured zone.
type DailyUsage struct {
	Day   string     `json:"day"`
	Usage TokenUsage `json:"usage"`
}

// ScanStats counts per-scan observability figures returned to callers
// instead of being suppressed. Skips are never fatal. SkippedLines counts
// individual unparsable lines; SkippedFiles counts files rejected whole at
// the header stage.
type ScanStats struct {
	Files        int `json:"files"`
	Lines        int `json:"lines"`
	Events       int `json:"events"`
	SkippedLines int `json:"skipped_lines"`
	SkippedFiles int `json:"skipped_files"`
	FileErrors   int `json:"file_errors"`
}

// Merge accumulates other into s.
func (s *ScanStats) Merge(other ScanStats) {
	s.Files += other.Files
	s.Lines += other.Lines
	s.Events += other.Events
	s.SkippedLines += other.SkippedLines
	s.SkippedFiles += other.SkippedFiles
	s.FileErrors += other.FileErrors
}
