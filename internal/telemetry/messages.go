package telemetry

import (
	"fmt"
	"sort"
	"time"

	"github.com/janekbaraniewski/sessionlens/internal/core"
)

const (
	defaultPageSize = 30
	maxPageSize     = 200
	dedupWindow     = 10 * time.Millisecond
)

// AssembleMessages flattens a canonical event stream into the renderable
// feed: one entry per message or reasoning event, one merged entry per tool
// call/result pair, token-usage and unclassified events dropped. Entries are
// ordered by timestamp with original sequence breaking ties, and
// near-duplicate entries within 10ms of an identical already-kept entry are
// removed.
func AssembleMessages(events []core.CanonicalEvent) []core.MessageEntry {
	type pending struct {
		entry core.MessageEntry
		seq   int
	}
	var raw []pending
	byCallID := make(map[string]int)

	for seq, ev := range events {
		switch ev.Kind {
		case core.EventMessage, core.EventReasoning:
			raw = append(raw, pending{
				entry: core.MessageEntry{
					Role:      ev.Role,
					Kind:      ev.Kind,
					Text:      ev.Text,
					Timestamp: ev.Timestamp,
				},
				seq: seq,
			})
		case core.EventToolCall:
			if ev.ToolCallID != "" {
				if idx, ok := byCallID[ev.ToolCallID]; ok {
					// Result arrived first; fill in the call half.
					raw[idx].entry.ToolName = ev.ToolName
					raw[idx].entry.ToolInput = ev.ToolInput
					if ev.Timestamp.Before(raw[idx].entry.Timestamp) || raw[idx].entry.Timestamp.IsZero() {
						raw[idx].entry.Timestamp = ev.Timestamp
					}
					continue
				}
				byCallID[ev.ToolCallID] = len(raw)
			}
			raw = append(raw, pending{
				entry: core.MessageEntry{
					Role:       ev.Role,
					Kind:       core.EventToolCall,
					Timestamp:  ev.Timestamp,
					ToolName:   ev.ToolName,
					ToolCallID: ev.ToolCallID,
					ToolInput:  ev.ToolInput,
				},
				seq: seq,
			})
		case core.EventToolResult:
			if ev.ToolCallID != "" {
				if idx, ok := byCallID[ev.ToolCallID]; ok {
					raw[idx].entry.ToolOutput = ev.ToolOutput
					raw[idx].entry.ToolError = ev.ToolError
					continue
				}
				byCallID[ev.ToolCallID] = len(raw)
			}
			raw = append(raw, pending{
				entry: core.MessageEntry{
					Role:       ev.Role,
					Kind:       core.EventToolCall,
					Timestamp:  ev.Timestamp,
					ToolName:   ev.ToolName,
					ToolCallID: ev.ToolCallID,
					ToolOutput: ev.ToolOutput,
					ToolError:  ev.ToolError,
				},
				seq: seq,
			})
		}
	}

	sort.SliceStable(raw, func(i, j int) bool {
		if raw[i].entry.Timestamp.Equal(raw[j].entry.Timestamp) {
			return raw[i].seq < raw[j].seq
		}
		return raw[i].entry.Timestamp.Before(raw[j].entry.Timestamp)
	})

	// Fingerprint dedup: a re-logged entry identical in every rendered field
	// and within 10ms of the kept original is noise from overlapping files.
	lastKept := make(map[string]time.Time)
	out := make([]core.MessageEntry, 0, len(raw))
	for _, p := range raw {
		fp := entryFingerprint(p.entry)
		if prev, ok := lastKept[fp]; ok {
			delta := p.entry.Timestamp.Sub(prev)
			if delta < 0 {
				delta = -delta
			}
			if delta <= dedupWindow {
				continue
			}
		}
		lastKept[fp] = p.entry.Timestamp
		p.entry.ID = len(out)
		out = append(out, p.entry)
	}
	return out
}

func entryFingerprint(e core.MessageEntry) string {
	return fmt.Sprintf("%s|%s|%s|%s|%s|%s|%s|%t",
		e.Role, e.Kind, e.Text, e.ToolName, e.ToolCallID, e.ToolInput, e.ToolOutput, e.ToolError)
}

// Paginate walks the feed backward from a cursor. before is an exclusive
// upper bound on entry index; nil means "from the end". limit defaults to 30
// and is clamped to [1, 200]. NextCursor, when set, is the before value for
// the next older page.
func Paginate(entries []core.MessageEntry, before *int, limit int) core.MessagePage {
	if limit <= 0 {
		limit = defaultPageSize
	}
	if limit > maxPageSize {
		limit = maxPageSize
	}

	upper := len(entries)
	if before != nil {
		upper = *before
		if upper < 0 {
			upper = 0
		}
		if upper > len(entries) {
			upper = len(entries)
		}
	}

	lower := upper - limit
	if lower < 0 {
		lower = 0
	}

	page := core.MessagePage{
		Entries: entries[lower:upper],
		HasMore: lower > 0,
		Total:   len(entries),
	}
	if lower > 0 {
		cursor := lower
		page.NextCursor = &cursor
	}
	return page
}
