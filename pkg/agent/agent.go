// Package agent provides the agent runtime for the alert-processing
// pipeline. An agent is stateless configuration — its assigned MCP servers,
// its custom instructions, and a default iteration strategy — executed per
// stage by an iteration controller.
package agent

import (
	"context"
	"time"

	"github.com/tarsyhq/tarsy-pipeline/pkg/config"
	"github.com/tarsyhq/tarsy-pipeline/pkg/events"
	"github.com/tarsyhq/tarsy-pipeline/pkg/llm"
	"github.com/tarsyhq/tarsy-pipeline/pkg/models"
)

// ToolExecutor abstracts MCP tool execution for the iteration controllers.
// Implemented by the mcp package; stubbed in tests.
type ToolExecutor interface {
	// ListTools returns the tool catalog for the agent's assigned servers,
	// in canonical "server.tool" naming. Cached per session.
	ListTools(ctx context.Context) ([]llm.ToolDefinition, error)

	// Execute runs a single tool call. A tool-level failure is returned as
	// a ToolResult with IsError set; an error return means the call could
	// not be made at all.
	Execute(ctx context.Context, call llm.ToolCall) (*llm.ToolResult, error)

	// Close releases transports and subprocesses.
	Close() error
}

// PromptBuilder is the surface the controllers need from the prompt layer.
// Kept as an interface so controller tests can substitute fixed prompts.
type PromptBuilder interface {
	BuildReActMessages(execCtx *ExecutionContext, tools []llm.ToolDefinition, strategy config.IterationStrategy) []llm.Message
	BuildRegularMessages(execCtx *ExecutionContext) []llm.Message
	BuildFinalAnalysisMessages(execCtx *ExecutionContext) []llm.Message
	BuildForcedConclusionPrompt(iteration int, strategy config.IterationStrategy) string
}

// ExecutionContext carries everything one stage execution needs. Built by
// the runtime, consumed by the controller; not shared across stages.
type ExecutionContext struct {
	SessionID        string
	StageExecutionID string
	StageName        string
	AgentID          string

	Strategy    config.IterationStrategy
	AgentConfig *config.AgentConfig

	MaxIterations int
	LLMTimeout    time.Duration
	MCPTimeout    time.Duration

	LLM           llm.Client
	ToolExecutor  ToolExecutor // nil when the strategy uses no tools
	PromptBuilder PromptBuilder
	Bus           *events.Bus

	// Alert is the shared enrichment record, read-only from the agent's
	// perspective (only the orchestrator mutates it between stages).
	Alert *models.AlertProcessingData
}

// Controller drives one stage to completion under a single iteration
// strategy. A controller returns (nil, err) only when it could not run at
// all; agent-level failures come back as a StageResult with error status.
type Controller interface {
	Run(ctx context.Context, execCtx *ExecutionContext) (*models.StageResult, error)
}
