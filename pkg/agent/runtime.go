package agent

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/tarsyhq/tarsy-pipeline/pkg/config"
	"github.com/tarsyhq/tarsy-pipeline/pkg/events"
	"github.com/tarsyhq/tarsy-pipeline/pkg/llm"
	"github.com/tarsyhq/tarsy-pipeline/pkg/models"
)

// ControllerFactory resolves an iteration strategy to its controller.
// Implemented by the controller package; injected here to keep the
// dependency direction runtime → controllers out of the import graph.
type ControllerFactory func(strategy config.IterationStrategy) (Controller, error)

// StageInvocation identifies one stage execution and carries its
// per-stage overrides.
type StageInvocation struct {
	SessionID        string
	StageExecutionID string
	StageName        string

	// Strategy is the stage-level override; empty means fall back to the
	// agent's default, then the system default, then ReAct.
	Strategy config.IterationStrategy

	// MaxIterations is the stage/chain-level override; nil falls back to
	// the agent's setting, then the system default.
	MaxIterations *int
}

// Runtime executes stages for one configured agent. The runtime owns no
// alert-type knowledge — that mapping lives in the chain registry.
type Runtime struct {
	agentID       string
	agentConfig   *config.AgentConfig
	llmClient     llm.Client
	toolExecutor  ToolExecutor // nil when the agent has no MCP servers
	promptBuilder PromptBuilder
	bus           *events.Bus
	defaults      *config.Defaults
	controllers   ControllerFactory
}

// NewRuntime creates a runtime for one agent. toolExecutor may be nil.
func NewRuntime(
	agentID string,
	agentConfig *config.AgentConfig,
	llmClient llm.Client,
	toolExecutor ToolExecutor,
	promptBuilder PromptBuilder,
	bus *events.Bus,
	defaults *config.Defaults,
	controllers ControllerFactory,
) *Runtime {
	if agentConfig == nil {
		panic("agent.NewRuntime: agentConfig must not be nil")
	}
	if llmClient == nil {
		panic("agent.NewRuntime: llmClient must not be nil")
	}
	if promptBuilder == nil {
		panic("agent.NewRuntime: promptBuilder must not be nil")
	}
	if bus == nil {
		panic("agent.NewRuntime: bus must not be nil")
	}
	return &Runtime{
		agentID:       agentID,
		agentConfig:   agentConfig,
		llmClient:     llmClient,
		toolExecutor:  toolExecutor,
		promptBuilder: promptBuilder,
		bus:           bus,
		defaults:      defaults,
		controllers:   controllers,
	}
}

// ResolveStrategy applies the stage → agent → system → ReAct fallback chain.
func (r *Runtime) ResolveStrategy(stageStrategy config.IterationStrategy) config.IterationStrategy {
	if stageStrategy != "" {
		return stageStrategy
	}
	if r.agentConfig.DefaultStrategy != "" {
		return r.agentConfig.DefaultStrategy
	}
	if r.defaults != nil && r.defaults.IterationStrategy != "" {
		return r.defaults.IterationStrategy
	}
	return config.StrategyReact
}

func (r *Runtime) resolveMaxIterations(override *int) int {
	if override != nil && *override > 0 {
		return *override
	}
	if r.agentConfig.MaxIterations != nil && *r.agentConfig.MaxIterations > 0 {
		return *r.agentConfig.MaxIterations
	}
	if r.defaults != nil && r.defaults.MaxIterations != nil && *r.defaults.MaxIterations > 0 {
		return *r.defaults.MaxIterations
	}
	return config.DefaultMaxIterations
}

// ProcessAlert runs one stage to completion. Errors inside the agent are
// returned as an error-status result — they never propagate as Go errors
// across the stage boundary.
func (r *Runtime) ProcessAlert(ctx context.Context, processing *models.AlertProcessingData, inv StageInvocation) *models.StageResult {
	strategy := r.ResolveStrategy(inv.Strategy)

	execCtx := &ExecutionContext{
		SessionID:        inv.SessionID,
		StageExecutionID: inv.StageExecutionID,
		StageName:        inv.StageName,
		AgentID:          r.agentID,
		Strategy:         strategy,
		AgentConfig:      r.agentConfig,
		MaxIterations:    r.resolveMaxIterations(inv.MaxIterations),
		LLMTimeout:       config.DefaultLLMTimeout,
		MCPTimeout:       config.DefaultMCPTimeout,
		LLM:              r.llmClient,
		PromptBuilder:    r.promptBuilder,
		Bus:              r.bus,
		Alert:            processing,
	}
	if r.defaults != nil {
		if r.defaults.LLMTimeout > 0 {
			execCtx.LLMTimeout = r.defaults.LLMTimeout
		}
		if r.defaults.MCPTimeout > 0 {
			execCtx.MCPTimeout = r.defaults.MCPTimeout
		}
	}

	// Tool access is strategy-scoped: the final-analysis strategy reasons
	// only over prior-stage data, even when the agent has servers assigned.
	if strategy.UsesTools() || strategy == config.StrategyRegular {
		execCtx.ToolExecutor = r.toolExecutor
	}
	if execCtx.ToolExecutor == nil && strategy.UsesTools() {
		return r.errorResult(inv, strategy,
			fmt.Errorf("strategy %s requires MCP servers but agent %q has none assigned", strategy, r.agentID))
	}

	controller, err := r.controllers(strategy)
	if err != nil {
		return r.errorResult(inv, strategy, err)
	}

	log := slog.With("session_id", inv.SessionID, "stage", inv.StageName, "agent", r.agentID, "strategy", strategy)
	log.Info("Stage execution starting", "max_iterations", execCtx.MaxIterations)

	result, err := controller.Run(ctx, execCtx)
	if err != nil {
		log.Error("Stage controller failed", "error", err)
		return r.errorResult(inv, strategy, err)
	}

	result.Strategy = strategy
	if result.TimestampUs == 0 {
		result.TimestampUs = r.bus.Clock().Next(inv.SessionID)
	}
	log.Info("Stage execution finished", "status", result.Status)
	return result
}

func (r *Runtime) errorResult(inv StageInvocation, strategy config.IterationStrategy, err error) *models.StageResult {
	return &models.StageResult{
		Status:       models.StageResultError,
		ErrorMessage: err.Error(),
		Strategy:     strategy,
		TimestampUs:  r.bus.Clock().Next(inv.SessionID),
	}
}
