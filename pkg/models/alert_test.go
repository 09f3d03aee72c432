package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tarsyhq/tarsy-pipeline/pkg/config"
)

func TestRecordStageOutputPreservesOrder(t *testing.T) {
	data := NewAlertProcessingData("a-1", "kubernetes", nil, "")

	data.RecordStageOutput("collect", &StageResult{Status: StageResultSuccess})
	data.RecordStageOutput("enrich", &StageResult{Status: StageResultError, ErrorMessage: "boom"})
	data.RecordStageOutput("analyze", &StageResult{Status: StageResultSuccess, Analysis: "done"})

	assert.Equal(t, []string{"collect", "enrich", "analyze"}, data.StageNames())

	outputs := data.StageOutputs()
	require.Len(t, outputs, 3)
	assert.Equal(t, "done", outputs[2].Analysis)
}

func TestGetAllMCPResultsMergesInStageOrder(t *testing.T) {
	data := NewAlertProcessingData("a-1", "kubernetes", nil, "")

	data.RecordStageOutput("collect", &StageResult{
		Status: StageResultSuccess,
		MCPResults: map[string][]MCPCall{
			"k8s": {{Server: "k8s", Tool: "pods_list", Result: "[p1,p2]"}},
		},
	})
	data.RecordStageOutput("enrich", &StageResult{
		Status: StageResultSuccess,
		MCPResults: map[string][]MCPCall{
			"k8s":    {{Server: "k8s", Tool: "events_list", Result: "[]"}},
			"github": {{Server: "github", Tool: "list_repos", Result: "[r1]"}},
		},
	})

	merged := data.GetAllMCPResults()
	require.Len(t, merged["k8s"], 2)
	assert.Equal(t, "pods_list", merged["k8s"][0].Tool)
	assert.Equal(t, "events_list", merged["k8s"][1].Tool)
	require.Len(t, merged["github"], 1)
}

func TestGetAllMCPResultsIsDefensive(t *testing.T) {
	data := NewAlertProcessingData("a-1", "kubernetes", nil, "")

	// nil result, failed stage with data, stage with no MCP data — the
	// aggregator must tolerate all of them.
	data.RecordStageOutput("missing", nil)
	data.RecordStageOutput("failed", &StageResult{
		Status:       StageResultError,
		ErrorMessage: "budget exhausted",
		MCPResults:   map[string][]MCPCall{"k8s": {{Server: "k8s", Tool: "pods_list"}}},
	})
	data.RecordStageOutput("analysis-only", &StageResult{Status: StageResultSuccess, Analysis: "text"})

	merged := data.GetAllMCPResults()
	// Failed stages still contribute their collected data.
	assert.Len(t, merged["k8s"], 1)
	assert.Len(t, merged, 1)

	empty := NewAlertProcessingData("a-2", "kubernetes", nil, "")
	assert.Empty(t, empty.GetAllMCPResults())
}

func TestHelperAccessorsCarryDefaults(t *testing.T) {
	withValues := NewAlertProcessingData("a-1", "kubernetes", map[string]any{
		"severity":    "critical",
		"environment": "staging",
	}, "")
	assert.Equal(t, "critical", withValues.GetSeverity())
	assert.Equal(t, "staging", withValues.GetEnvironment())

	withoutValues := NewAlertProcessingData("a-2", "kubernetes", map[string]any{"severity": 5}, "")
	assert.Equal(t, "warning", withoutValues.GetSeverity())
	assert.Equal(t, "production", withoutValues.GetEnvironment())

	nilData := NewAlertProcessingData("a-3", "kubernetes", nil, "")
	assert.Equal(t, "warning", nilData.GetSeverity())
}

func TestStageResultSucceeded(t *testing.T) {
	assert.True(t, (&StageResult{Status: StageResultSuccess}).Succeeded())
	assert.False(t, (&StageResult{Status: StageResultError}).Succeeded())
	var nilResult *StageResult
	assert.False(t, nilResult.Succeeded())
}

func TestStageResultCarriesStrategy(t *testing.T) {
	result := &StageResult{Status: StageResultSuccess, Strategy: config.StrategyReactTools}
	assert.Equal(t, config.StrategyReactTools, result.Strategy)
}
