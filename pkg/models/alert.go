// Package models defines the domain types shared across the alert-processing
// pipeline: the progressive-enrichment alert record, session/stage/interaction
// rows, and the request/filter structs used by the service layer.
package models

import (
	"fmt"

	"github.com/tarsyhq/tarsy-pipeline/pkg/config"
)

// AlertProcessingData is the progressive-enrichment record for one in-flight
// alert. It is exclusively owned by the orchestrator task processing the
// alert: fields are only ever added, never removed, and no other component
// holds a mutable reference.
type AlertProcessingData struct {
	AlertID   string
	AlertType string

	// AlertData is the opaque submitted payload. Tag-specific parsing
	// belongs to agent prompts, not to this type.
	AlertData map[string]any

	RunbookURL     string
	RunbookContent string

	ChainID          string
	CurrentStageName string

	// stageOutputs preserves insertion order (chain stage order).
	stageOutputs map[string]*StageResult
	stageOrder   []string
}

// NewAlertProcessingData creates the enrichment record for a submitted alert.
func NewAlertProcessingData(alertID, alertType string, alertData map[string]any, runbookURL string) *AlertProcessingData {
	return &AlertProcessingData{
		AlertID:      alertID,
		AlertType:    alertType,
		AlertData:    alertData,
		RunbookURL:   runbookURL,
		stageOutputs: make(map[string]*StageResult),
	}
}

// RecordStageOutput appends a stage's result under its stage name. The first
// write for a name wins the ordering slot; stages are recorded in execution
// order by the orchestrator.
func (d *AlertProcessingData) RecordStageOutput(stageName string, result *StageResult) {
	if _, exists := d.stageOutputs[stageName]; !exists {
		d.stageOrder = append(d.stageOrder, stageName)
	}
	d.stageOutputs[stageName] = result
}

// StageOutput returns the recorded result for a stage name, or nil.
func (d *AlertProcessingData) StageOutput(stageName string) *StageResult {
	return d.stageOutputs[stageName]
}

// StageNames returns the stage names in execution order.
func (d *AlertProcessingData) StageNames() []string {
	out := make([]string, len(d.stageOrder))
	copy(out, d.stageOrder)
	return out
}

// StageOutputs returns the recorded results in execution order.
func (d *AlertProcessingData) StageOutputs() []*StageResult {
	out := make([]*StageResult, 0, len(d.stageOrder))
	for _, name := range d.stageOrder {
		out = append(out, d.stageOutputs[name])
	}
	return out
}

// GetAllMCPResults merges the MCP output of all recorded stages, keyed by
// server id, in stage order. Defensive: stages with no result, a failed
// status, or no MCP data contribute nothing.
func (d *AlertProcessingData) GetAllMCPResults() map[string][]MCPCall {
	merged := make(map[string][]MCPCall)
	for _, name := range d.stageOrder {
		result := d.stageOutputs[name]
		if result == nil || len(result.MCPResults) == 0 {
			continue
		}
		for server, calls := range result.MCPResults {
			merged[server] = append(merged[server], calls...)
		}
	}
	return merged
}

// GetSeverity returns alert_data["severity"] as a string, defaulting to
// "warning". A fallback accessor, not a schema.
func (d *AlertProcessingData) GetSeverity() string {
	return d.stringField("severity", "warning")
}

// GetEnvironment returns alert_data["environment"] as a string, defaulting
// to "production". A fallback accessor, not a schema.
func (d *AlertProcessingData) GetEnvironment() string {
	return d.stringField("environment", "production")
}

func (d *AlertProcessingData) stringField(key, fallback string) string {
	if d.AlertData == nil {
		return fallback
	}
	if v, ok := d.AlertData[key]; ok {
		if s, ok := v.(string); ok && s != "" {
			return s
		}
	}
	return fallback
}

// StageResultStatus is the terminal status of one stage's agent run.
type StageResultStatus string

const (
	StageResultSuccess StageResultStatus = "success"
	StageResultError   StageResultStatus = "error"
)

// StageResult is the open-schema output of one stage. Later stages must
// tolerate missing fields: a data-collection stage has MCPResults but no
// Analysis; an analysis-only stage has the reverse.
type StageResult struct {
	Status       StageResultStatus        `json:"status"`
	Analysis     string                   `json:"analysis,omitempty"`
	ErrorMessage string                   `json:"error_message,omitempty"`
	MCPResults   map[string][]MCPCall     `json:"mcp_results,omitempty"`
	Strategy     config.IterationStrategy `json:"strategy"`
	TimestampUs  int64                    `json:"ts_us"`
}

// Succeeded reports whether this stage completed without error.
func (r *StageResult) Succeeded() bool {
	return r != nil && r.Status == StageResultSuccess
}

// MCPCall is one recorded tool invocation made during a stage.
type MCPCall struct {
	Server      string         `json:"server"`
	Tool        string         `json:"tool"`
	Arguments   map[string]any `json:"arguments,omitempty"`
	Result      string         `json:"result,omitempty"`
	Error       string         `json:"error,omitempty"`
	TimestampUs int64          `json:"ts_us"`
}

// String summarizes the call for logs and observations.
func (c MCPCall) String() string {
	return fmt.Sprintf("%s.%s", c.Server, c.Tool)
}
