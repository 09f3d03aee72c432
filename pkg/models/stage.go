package models

import "encoding/json"

// StageStatus is the lifecycle status of one stage execution.
type StageStatus string

const (
	StageStatusPending   StageStatus = "pending"
	StageStatusActive    StageStatus = "active"
	StageStatusCompleted StageStatus = "completed"
	StageStatusFailed    StageStatus = "failed"
)

// StageExecution is the persistent record of one stage run within a session.
// StageOutput and ErrorMessage are mutually exclusive once terminal.
type StageExecution struct {
	ExecutionID string `json:"execution_id"`
	SessionID   string `json:"session_id"`

	// StageID is the stage name from the chain definition.
	StageID    string `json:"stage_id"`
	StageIndex int    `json:"stage_index"`
	AgentID    string `json:"agent_id"`

	IterationStrategy string `json:"iteration_strategy"`

	Status        StageStatus     `json:"status"`
	StartedAtUs   int64           `json:"started_at_us"`
	CompletedAtUs *int64          `json:"completed_at_us,omitempty"`
	DurationMs    *int64          `json:"duration_ms,omitempty"`
	StageOutput   json.RawMessage `json:"stage_output,omitempty"`
	ErrorMessage  *string         `json:"error_message,omitempty"`
}

// CreateStageExecutionRequest contains fields for creating a stage execution row.
type CreateStageExecutionRequest struct {
	ExecutionID       string `json:"execution_id"`
	SessionID         string `json:"session_id"`
	StageID           string `json:"stage_id"`
	StageIndex        int    `json:"stage_index"`
	AgentID           string `json:"agent_id"`
	IterationStrategy string `json:"iteration_strategy"`
	StartedAtUs       int64  `json:"started_at_us"`
}

// FinalizeStageExecutionRequest carries the single terminal update for a
// stage execution. Exactly one of StageOutput and ErrorMessage must be set.
type FinalizeStageExecutionRequest struct {
	ExecutionID   string          `json:"execution_id"`
	Status        StageStatus     `json:"status"`
	CompletedAtUs int64           `json:"completed_at_us"`
	StageOutput   json.RawMessage `json:"stage_output,omitempty"`
	ErrorMessage  string          `json:"error_message,omitempty"`
}
