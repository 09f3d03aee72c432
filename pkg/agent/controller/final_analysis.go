package controller

import (
	"context"
	"fmt"

	"github.com/tarsyhq/tarsy-pipeline/pkg/agent"
	"github.com/tarsyhq/tarsy-pipeline/pkg/llm"
	"github.com/tarsyhq/tarsy-pipeline/pkg/models"
)

// FinalAnalysisController implements the tool-less synthesis strategy: the
// LLM receives the full accumulated MCP output of the prior stages and must
// produce a comprehensive analysis. No tools are bound and any requested
// action is rejected with a correction hint.
type FinalAnalysisController struct{}

// NewFinalAnalysisController creates the synthesis controller.
func NewFinalAnalysisController() *FinalAnalysisController {
	return &FinalAnalysisController{}
}

// Run executes the synthesis loop. The loop exists only to absorb transient
// LLM failures and format misses — there are no suspension points besides
// the completion call itself.
func (c *FinalAnalysisController) Run(ctx context.Context, execCtx *agent.ExecutionContext) (*models.StageResult, error) {
	state := &agent.IterationState{MaxIterations: execCtx.MaxIterations}
	collector := newMCPCollector() // stays empty; keeps result construction uniform

	messages := execCtx.PromptBuilder.BuildFinalAnalysisMessages(execCtx)

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

		resp, err := callLLM(ctx, execCtx, &llm.Request{Messages: messages})
		if err != nil {
			state.RecordFailure(err.Error(), isTimeoutError(err))
			messages = append(messages, llm.Message{Role: llm.RoleUser, Content: FormatErrorObservation(err)})
			continue
		}
		state.RecordSuccess()
		messages = append(messages, llm.Message{Role: llm.RoleAssistant, Content: resp.Text})

		parsed := ParseReActResponse(resp.Text)

		switch {
		case parsed.IsFinalAnswer:
			return successResult(parsed.FinalAnswer, collector), nil

		case parsed.HasAction || parsed.IsUnknownTool:
			state.SoftRetries++
			if state.SoftRetriesExhausted() {
				return failedResult("unparseable response: soft retry budget exhausted", collector), nil
			}
			messages = append(messages, llm.Message{
				Role: llm.RoleUser,
				Content: "Observation: Error - no tools are available in this stage. " +
					"Synthesize your analysis from the previous stage data and conclude with \"Final Answer:\".",
			})

		default:
			// A plain-text response is accepted as the analysis even
			// without the Final Answer marker: headerless prose parses as
			// "malformed" with no sections, but for a tool-less stage it
			// IS the synthesis.
			if parsed.Thought != "" {
				return successResult(parsed.Thought, collector), nil
			}
			if noSectionsFound(parsed) && resp.Text != "" {
				return successResult(resp.Text, collector), nil
			}
			state.SoftRetries++
			if state.SoftRetriesExhausted() {
				return failedResult("unparseable response: soft retry budget exhausted", collector), nil
			}
			messages = append(messages, llm.Message{Role: llm.RoleUser, Content: GetFormatErrorFeedback(parsed)})
		}
	}

	return failedResult(fmt.Sprintf(
		"iteration budget exhausted after %d iterations without an analysis", state.MaxIterations), collector), nil
}
