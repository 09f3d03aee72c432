package controller

import (
	"context"
	"fmt"

	"github.com/tarsyhq/tarsy-pipeline/pkg/agent"
	"github.com/tarsyhq/tarsy-pipeline/pkg/config"
	"github.com/tarsyhq/tarsy-pipeline/pkg/llm"
	"github.com/tarsyhq/tarsy-pipeline/pkg/models"
)

// ReActController implements the text-based Reason + Act loop shared by the
// react, react-tools, and react-tools-partial strategies. The strategy
// selects the prompt variant and the termination rule: a final answer for
// the analysis-producing variants, a bare DONE for data collection.
type ReActController struct {
	strategy config.IterationStrategy
}

// NewReActController creates a controller for one of the ReAct-family
// strategies.
func NewReActController(strategy config.IterationStrategy) *ReActController {
	return &ReActController{strategy: strategy}
}

// Run executes the ReAct iteration loop.
func (c *ReActController) Run(ctx context.Context, execCtx *agent.ExecutionContext) (*models.StageResult, error) {
	state := &agent.IterationState{MaxIterations: execCtx.MaxIterations}
	collector := newMCPCollector()

	tools, err := listTools(ctx, execCtx)
	if err != nil {
		return nil, fmt.Errorf("failed to list tools: %w", err)
	}
	toolNames := buildToolNameSet(tools)

	messages := execCtx.PromptBuilder.BuildReActMessages(execCtx, tools, c.strategy)

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

		// Text-based tool calling: the catalog lives in the prompt, tools
		// are not bound.
		resp, err := callLLM(ctx, execCtx, &llm.Request{Messages: messages})
		if err != nil {
			state.RecordFailure(err.Error(), isTimeoutError(err))
			observation := FormatErrorObservation(err)
			messages = append(messages, llm.Message{Role: llm.RoleUser, Content: observation})
			continue
		}
		state.RecordSuccess()
		messages = append(messages, llm.Message{Role: llm.RoleAssistant, Content: resp.Text})

		parsed := ParseReActResponse(resp.Text)

		switch {
		case parsed.IsFinalAnswer:
			if c.strategy == config.StrategyReactTools {
				// Collection stages don't produce analysis; a stray final
				// answer still terminates the collection cleanly.
				return successResult("", collector), nil
			}
			return successResult(parsed.FinalAnswer, collector), nil

		case parsed.IsDone:
			if c.strategy == config.StrategyReactTools {
				return successResult("", collector), nil
			}
			// DONE outside the collection strategy is a format miss.
			if c.recordSoftRetry(state) {
				return failedResult("unparseable response: soft retry budget exhausted", collector), nil
			}
			messages = append(messages, llm.Message{Role: llm.RoleUser, Content: GetFormatCorrectionReminder()})

		case parsed.HasAction && !parsed.IsUnknownTool:
			if !toolNames[parsed.Action] {
				// In-format name, outside the agent's catalog: surface the
				// structured unavailability and keep looping.
				observation := FormatUnknownToolError(
					fmt.Sprintf("tool %q is not available to this agent", parsed.Action), tools)
				messages = append(messages, llm.Message{Role: llm.RoleUser, Content: observation})
				continue
			}

			result, toolErr := executeTool(ctx, execCtx, collector, llm.ToolCall{
				ID:        generateCallID(),
				Name:      parsed.Action,
				Arguments: parsed.ActionInput,
			})

			var observation string
			if toolErr != nil {
				state.RecordFailure(toolErr.Error(), isTimeoutError(toolErr))
				observation = FormatToolErrorObservation(toolErr)
			} else {
				observation = FormatObservation(result)
			}
			messages = append(messages, llm.Message{Role: llm.RoleUser, Content: observation})

		case parsed.IsUnknownTool:
			observation := FormatUnknownToolError(parsed.ErrorMessage, tools)
			messages = append(messages, llm.Message{Role: llm.RoleUser, Content: observation})

		default:
			// Malformed response — correction hint, bounded by the soft
			// retry budget.
			if c.recordSoftRetry(state) {
				return failedResult("unparseable response: soft retry budget exhausted", collector), nil
			}
			messages = append(messages, llm.Message{Role: llm.RoleUser, Content: GetFormatErrorFeedback(parsed)})
		}
	}

	return c.concludeAtBudget(ctx, execCtx, messages, state, collector)
}

// recordSoftRetry counts one unparseable response and reports whether the
// retry budget is now spent.
func (c *ReActController) recordSoftRetry(state *agent.IterationState) bool {
	state.SoftRetries++
	return state.SoftRetriesExhausted()
}

// concludeAtBudget handles iteration budget exhaustion. The collection
// strategy fails outright; the analysis strategies get one forced, tool-less
// conclusion call, and fail only if that too comes back unusable.
func (c *ReActController) concludeAtBudget(
	ctx context.Context,
	execCtx *agent.ExecutionContext,
	messages []llm.Message,
	state *agent.IterationState,
	collector *mcpCollector,
) (*models.StageResult, error) {
	if c.strategy == config.StrategyReactTools {
		return failedResult(fmt.Sprintf(
			"iteration budget exhausted after %d iterations without DONE", state.MaxIterations), collector), nil
	}

	if state.LastInteractionFailed {
		return failedResult(fmt.Sprintf(
			"iteration budget exhausted after %d iterations; last interaction failed: %s",
			state.MaxIterations, state.LastErrorMessage), collector), nil
	}

	conclusionPrompt := execCtx.PromptBuilder.BuildForcedConclusionPrompt(state.CurrentIteration, c.strategy)
	messages = append(messages, llm.Message{Role: llm.RoleUser, Content: conclusionPrompt})

	resp, err := callLLM(ctx, execCtx, &llm.Request{Messages: messages})
	if err != nil {
		return failedResult(fmt.Sprintf(
			"iteration budget exhausted after %d iterations; forced conclusion failed: %s",
			state.MaxIterations, err), collector), nil
	}

	answer := ExtractForcedConclusionAnswer(ParseReActResponse(resp.Text))
	if answer == "" {
		answer = resp.Text
	}
	if answer == "" {
		return failedResult(fmt.Sprintf(
			"iteration budget exhausted after %d iterations; forced conclusion returned no answer",
			state.MaxIterations), collector), nil
	}
	return successResult(answer, collector), nil
}
