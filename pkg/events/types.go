// Package events provides the in-process hook bus that fans out interaction
// events (LLM round-trips, MCP tool calls, lifecycle transitions) from the
// alert-processing pipeline to subscribers such as the audit writer and the
// progress broadcaster, without blocking the emitting call site.
package events

import "encoding/json"

// Event is implemented by the three interaction event classes.
type Event interface {
	// EventSessionID identifies the session the event belongs to.
	EventSessionID() string
	// EventTsUs is the microsecond timestamp assigned at emission.
	EventTsUs() int64
}

// LLMInteractionEvent records one LLM round-trip (or its failure).
type LLMInteractionEvent struct {
	SessionID        string
	StageExecutionID *string
	TsUs             int64

	ModelName   string
	MessagesIn  json.RawMessage
	ResponseOut string

	InputTokens  *int
	OutputTokens *int
	TotalTokens  *int
	DurationMs   *int64
	Error        *string
}

func (e *LLMInteractionEvent) EventSessionID() string { return e.SessionID }
func (e *LLMInteractionEvent) EventTsUs() int64       { return e.TsUs }

// MCPInteractionEvent records one MCP tool call or tool listing.
type MCPInteractionEvent struct {
	SessionID        string
	StageExecutionID *string
	TsUs             int64

	ServerID        string
	InteractionType string // "tool_call" or "tool_list"
	ToolName        *string
	ToolArguments   json.RawMessage
	ToolResult      *string
	AvailableTools  json.RawMessage
	DurationMs      *int64
	Error           *string
}

func (e *MCPInteractionEvent) EventSessionID() string { return e.SessionID }
func (e *MCPInteractionEvent) EventTsUs() int64       { return e.TsUs }

// SessionLifecycleEvent records a lifecycle transition (session started,
// stage started/completed/failed, runbook fetch outcome, finalization).
type SessionLifecycleEvent struct {
	SessionID        string
	StageExecutionID *string
	TsUs             int64

	EventType string
	Message   string
	Details   json.RawMessage

	// Progress fields, populated on stage transitions and finalization so
	// the progress broadcaster can push updates without a DB read.
	ChainID         string
	CurrentStage    string
	TotalStages     int
	CompletedStages int
	Status          string
}

func (e *SessionLifecycleEvent) EventSessionID() string { return e.SessionID }
func (e *SessionLifecycleEvent) EventTsUs() int64       { return e.TsUs }
