package models

import (
	"encoding/json"
	"time"
)

// SessionStatus is the lifecycle status of an alert session.
type SessionStatus string

const (
	SessionStatusPending    SessionStatus = "pending"
	SessionStatusProcessing SessionStatus = "processing"
	SessionStatusCompleted  SessionStatus = "completed"
	SessionStatusPartial    SessionStatus = "partial"
	SessionStatusFailed     SessionStatus = "failed"
)

// IsTerminal reports whether the status is one of the three terminal values.
func (s SessionStatus) IsTerminal() bool {
	switch s {
	case SessionStatusCompleted, SessionStatusPartial, SessionStatusFailed:
		return true
	default:
		return false
	}
}

// AlertSession is the persistent record of one alert's end-to-end processing.
type AlertSession struct {
	SessionID string `json:"session_id"`
	AlertID   string `json:"alert_id"`
	AlertType string `json:"alert_type"`
	ChainID   string `json:"chain_id"`

	// ChainDefinition is a JSON snapshot of the resolved chain, taken at
	// session creation so the timeline stays reconstructible even if the
	// registry changes between restarts.
	ChainDefinition json.RawMessage `json:"chain_definition"`

	// AlertData is the opaque submitted payload, stored verbatim.
	AlertData  json.RawMessage `json:"alert_data,omitempty"`
	RunbookURL string          `json:"runbook_url,omitempty"`

	Status            SessionStatus `json:"status"`
	CurrentStageIndex *int          `json:"current_stage_index,omitempty"`
	CurrentStageID    *string       `json:"current_stage_id,omitempty"`

	StartedAtUs   int64  `json:"started_at_us"`
	CompletedAtUs *int64 `json:"completed_at_us,omitempty"`

	FinalAnalysis *string    `json:"final_analysis,omitempty"`
	ErrorMessage  *string    `json:"error_message,omitempty"`
	DeletedAt     *time.Time `json:"deleted_at,omitempty"`
}

// CreateSessionRequest contains fields for creating a new alert session.
type CreateSessionRequest struct {
	SessionID       string          `json:"session_id"`
	AlertID         string          `json:"alert_id"`
	AlertType       string          `json:"alert_type"`
	ChainID         string          `json:"chain_id"`
	ChainDefinition json.RawMessage `json:"chain_definition"`
	AlertData       json.RawMessage `json:"alert_data"`
	RunbookURL      string          `json:"runbook_url,omitempty"`
	StartedAtUs     int64           `json:"started_at_us"`
}

// SessionFilters contains filtering options for listing sessions.
// Zero values mean "no filter".
type SessionFilters struct {
	Status        SessionStatus `json:"status,omitempty"`
	AlertType     string        `json:"alert_type,omitempty"`
	ChainID       string        `json:"chain_id,omitempty"`
	StartedAfter  *time.Time    `json:"started_after,omitempty"`
	StartedBefore *time.Time    `json:"started_before,omitempty"`

	// Page is 1-based; Size is clamped by the service.
	Page int `json:"page,omitempty"`
	Size int `json:"size,omitempty"`
}

// SessionListResponse contains one page of sessions, newest-first.
type SessionListResponse struct {
	Sessions   []*AlertSession `json:"sessions"`
	TotalCount int             `json:"total_count"`
	Page       int             `json:"page"`
	Size       int             `json:"size"`
}
