package controller

import (
	"context"
	"fmt"

	"github.com/tarsyhq/tarsy-pipeline/pkg/agent"
	"github.com/tarsyhq/tarsy-pipeline/pkg/llm"
	"github.com/tarsyhq/tarsy-pipeline/pkg/models"
)

// RegularController implements the native function-calling loop: tools are
// bound as structured declarations, tool calls come back typed rather than
// parsed from text, and a response without tool calls is the analysis.
type RegularController struct{}

// NewRegularController creates the native tool-calling controller.
func NewRegularController() *RegularController {
	return &RegularController{}
}

// Run executes the function-calling iteration loop.
func (c *RegularController) Run(ctx context.Context, execCtx *agent.ExecutionContext) (*models.StageResult, error) {
	state := &agent.IterationState{MaxIterations: execCtx.MaxIterations}
	collector := newMCPCollector()

	var tools []llm.ToolDefinition
	var toolNames map[string]bool
	if execCtx.ToolExecutor != nil {
		catalog, err := listTools(ctx, execCtx)
		if err != nil {
			return nil, fmt.Errorf("failed to list tools: %w", err)
		}
		toolNames = buildToolNameSet(catalog)
		// Provider function names reject dots, so the bound declarations
		// carry the encoded form; calls are normalized back for routing.
		tools = make([]llm.ToolDefinition, len(catalog))
		for i, tool := range catalog {
			tools[i] = tool
			tools[i].Name = llm.EncodeFunctionName(tool.Name)
		}
	}

	messages := execCtx.PromptBuilder.BuildRegularMessages(execCtx)

	for iteration := 0; iteration < execCtx.MaxIterations; iteration++ {
		state.CurrentIteration = iteration + 1

		if err := ctx.Err(); err != nil {
			return failedResult("cancelled", collector), nil
		}
		if state.ShouldAbortOnTimeouts() {
			return failedResult(fmt.Sprintf(
				"aborted after %d consecutive timeouts: %s",
				state.ConsecutiveTimeoutFailures, state.LastErrorMessage), collector), nil
		}

		resp, err := callLLM(ctx, execCtx, &llm.Request{Messages: messages, Tools: tools})
		if err != nil {
			state.RecordFailure(err.Error(), isTimeoutError(err))
			messages = append(messages, llm.Message{
				Role:    llm.RoleUser,
				Content: fmt.Sprintf("Error from previous attempt: %s. Please try again.", err),
			})
			continue
		}
		state.RecordSuccess()

		if len(resp.ToolCalls) == 0 {
			// No tool calls — this is the final analysis.
			return successResult(resp.Text, collector), nil
		}

		messages = append(messages, llm.Message{
			Role:      llm.RoleAssistant,
			Content:   resp.Text,
			ToolCalls: resp.ToolCalls,
		})

		for _, tc := range resp.ToolCalls {
			canonical := llm.NormalizeToolName(tc.Name)

			var content string
			if toolNames == nil || !toolNames[canonical] {
				content = fmt.Sprintf("tool %q is not available to this agent", canonical)
			} else {
				result, toolErr := executeTool(ctx, execCtx, collector, llm.ToolCall{
					ID:        tc.ID,
					Name:      canonical,
					Arguments: tc.Arguments,
				})
				switch {
				case toolErr != nil:
					state.RecordFailure(toolErr.Error(), isTimeoutError(toolErr))
					content = fmt.Sprintf("Tool execution failed: %s", toolErr)
				default:
					content = result.Content
				}
			}

			messages = append(messages, llm.Message{
				Role:       llm.RoleTool,
				Content:    content,
				ToolCallID: tc.ID,
				ToolName:   tc.Name,
			})
		}
	}

	return c.concludeAtBudget(ctx, execCtx, messages, state, collector)
}

// concludeAtBudget makes one final tool-less call at the iteration limit.
func (c *RegularController) concludeAtBudget(
	ctx context.Context,
	execCtx *agent.ExecutionContext,
	messages []llm.Message,
	state *agent.IterationState,
	collector *mcpCollector,
) (*models.StageResult, error) {
	if state.LastInteractionFailed {
		return failedResult(fmt.Sprintf(
			"iteration budget exhausted after %d iterations; last interaction failed: %s",
			state.MaxIterations, state.LastErrorMessage), collector), nil
	}

	conclusionPrompt := execCtx.PromptBuilder.BuildForcedConclusionPrompt(state.CurrentIteration, execCtx.Strategy)
	messages = append(messages, llm.Message{Role: llm.RoleUser, Content: conclusionPrompt})

	// No tools bound — the response can only be text.
	resp, err := callLLM(ctx, execCtx, &llm.Request{Messages: messages})
	if err != nil {
		return failedResult(fmt.Sprintf(
			"iteration budget exhausted after %d iterations; forced conclusion failed: %s",
			state.MaxIterations, err), collector), nil
	}
	if resp.Text == "" {
		return failedResult(fmt.Sprintf(
			"iteration budget exhausted after %d iterations; forced conclusion returned no answer",
			state.MaxIterations), collector), nil
	}
	return successResult(resp.Text, collector), nil
}
