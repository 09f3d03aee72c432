package models

import "encoding/json"

// LLMInteraction is one recorded LLM round-trip. Append-only.
type LLMInteraction struct {
	// ID is the insertion id, used to break ts_us ties in the timeline.
	ID               int64           `json:"id"`
	SessionID        string          `json:"session_id"`
	StageExecutionID *string         `json:"stage_execution_id,omitempty"`
	TsUs             int64           `json:"ts_us"`
	ModelName        string          `json:"model_name"`
	MessagesIn       json.RawMessage `json:"messages_in"`
	ResponseOut      string          `json:"response_out"`
	InputTokens      *int            `json:"input_tokens,omitempty"`
	OutputTokens     *int            `json:"output_tokens,omitempty"`
	TotalTokens      *int            `json:"total_tokens,omitempty"`
	DurationMs       *int64          `json:"duration_ms,omitempty"`
	ErrorMessage     *string         `json:"error_message,omitempty"`
}

// MCPInteraction is one recorded MCP tool invocation or tool listing.
// Append-only.
type MCPInteraction struct {
	ID               int64   `json:"id"`
	SessionID        string  `json:"session_id"`
	StageExecutionID *string `json:"stage_execution_id,omitempty"`
	TsUs             int64   `json:"ts_us"`
	ServerID         string  `json:"server_id"`

	// InteractionType is "tool_call" or "tool_list".
	InteractionType string          `json:"interaction_type"`
	ToolName        *string         `json:"tool_name,omitempty"`
	ToolArguments   json.RawMessage `json:"tool_arguments,omitempty"`
	ToolResult      *string         `json:"tool_result,omitempty"`
	AvailableTools  json.RawMessage `json:"available_tools,omitempty"`
	DurationMs      *int64          `json:"duration_ms,omitempty"`
	ErrorMessage    *string         `json:"error_message,omitempty"`
}

// MCP interaction type values.
const (
	MCPInteractionToolCall = "tool_call"
	MCPInteractionToolList = "tool_list"
)

// LifecycleEvent is one recorded lifecycle transition (session created,
// stage started/finished, runbook fetch failed, cancellation). Append-only.
type LifecycleEvent struct {
	ID               int64           `json:"id"`
	SessionID        string          `json:"session_id"`
	StageExecutionID *string         `json:"stage_execution_id,omitempty"`
	TsUs             int64           `json:"ts_us"`
	EventType        string          `json:"event_type"`
	Message          string          `json:"message,omitempty"`
	Details          json.RawMessage `json:"details,omitempty"`
}

// Lifecycle event type values.
const (
	LifecycleSessionStarted    = "session_started"
	LifecycleChainResolved     = "chain_resolved"
	LifecycleRunbookReady      = "runbook_ready"
	LifecycleRunbookFetchError = "runbook_fetch_error"
	LifecycleStageStarted      = "stage_started"
	LifecycleStageCompleted    = "stage_completed"
	LifecycleStageFailed       = "stage_failed"
	LifecycleSessionFinalized  = "session_finalized"
	LifecycleCancelled         = "cancelled"
)
