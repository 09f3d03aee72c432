package models

// TimelineEntryType discriminates the merged timeline entries.
type TimelineEntryType string

const (
	TimelineEntryLLM       TimelineEntryType = "llm"
	TimelineEntryMCP       TimelineEntryType = "mcp"
	TimelineEntryLifecycle TimelineEntryType = "lifecycle"
)

// TimelineEntry is one row in a session's merged chronological timeline.
// Exactly one of the payload pointers is non-nil, matching Type.
type TimelineEntry struct {
	Type TimelineEntryType `json:"type"`
	TsUs int64             `json:"ts_us"`

	LLM       *LLMInteraction `json:"llm,omitempty"`
	MCP       *MCPInteraction `json:"mcp,omitempty"`
	Lifecycle *LifecycleEvent `json:"lifecycle,omitempty"`
}

// insertionID returns the append-order id used to break ts_us ties.
func (e TimelineEntry) insertionID() int64 {
	switch {
	case e.LLM != nil:
		return e.LLM.ID
	case e.MCP != nil:
		return e.MCP.ID
	case e.Lifecycle != nil:
		return e.Lifecycle.ID
	default:
		return 0
	}
}

// SessionDetail is a session with its stages and merged timeline, as served
// by the session detail query.
type SessionDetail struct {
	Session  *AlertSession     `json:"session"`
	Stages   []*StageExecution `json:"stages"`
	Timeline []TimelineEntry   `json:"timeline"`
}

// MergeTimeline merges the three interaction streams into one slice ordered
// by ts_us ascending, ties broken by insertion id. The inputs are already
// sorted by ts_us (they are queried that way); this is a three-way merge,
// not a re-sort.
func MergeTimeline(llm []*LLMInteraction, mcp []*MCPInteraction, lifecycle []*LifecycleEvent) []TimelineEntry {
	entries := make([]TimelineEntry, 0, len(llm)+len(mcp)+len(lifecycle))
	li, mi, ei := 0, 0, 0

	next := func() (TimelineEntry, bool) {
		var best TimelineEntry
		found := false
		consider := func(e TimelineEntry) {
			if !found || e.TsUs < best.TsUs ||
				(e.TsUs == best.TsUs && e.insertionID() < best.insertionID()) {
				best = e
				found = true
			}
		}
		if li < len(llm) {
			consider(TimelineEntry{Type: TimelineEntryLLM, TsUs: llm[li].TsUs, LLM: llm[li]})
		}
		if mi < len(mcp) {
			consider(TimelineEntry{Type: TimelineEntryMCP, TsUs: mcp[mi].TsUs, MCP: mcp[mi]})
		}
		if ei < len(lifecycle) {
			consider(TimelineEntry{Type: TimelineEntryLifecycle, TsUs: lifecycle[ei].TsUs, Lifecycle: lifecycle[ei]})
		}
		return best, found
	}

	for {
		entry, ok := next()
		if !ok {
			return entries
		}
		switch entry.Type {
		case TimelineEntryLLM:
			li++
		case TimelineEntryMCP:
			mi++
		case TimelineEntryLifecycle:
			ei++
		}
		entries = append(entries, entry)
	}
}
