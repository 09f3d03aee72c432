package controller

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/tarsyhq/tarsy-pipeline/pkg/agent"
	"github.com/tarsyhq/tarsy-pipeline/pkg/events"
	"github.com/tarsyhq/tarsy-pipeline/pkg/llm"
	"github.com/tarsyhq/tarsy-pipeline/pkg/models"
)

// callLLM runs one completion under the stage's LLM timeout and publishes
// the LLMInteractionEvent for the round-trip, success or failure. The call
// site emits the event explicitly — observability here is not woven in by
// the client.
func callLLM(ctx context.Context, execCtx *agent.ExecutionContext, req *llm.Request) (*llm.Response, error) {
	callCtx, cancel := context.WithTimeout(ctx, execCtx.LLMTimeout)
	defer cancel()

	start := time.Now()
	resp, err := execCtx.LLM.Complete(callCtx, req)
	durationMs := time.Since(start).Milliseconds()

	event := &events.LLMInteractionEvent{
		SessionID:        execCtx.SessionID,
		StageExecutionID: &execCtx.StageExecutionID,
		ModelName:        execCtx.LLM.Model(),
		MessagesIn:       marshalMessages(req.Messages),
		DurationMs:       &durationMs,
	}
	if err != nil {
		msg := err.Error()
		event.Error = &msg
	} else {
		event.ResponseOut = resp.Text
		if len(resp.ToolCalls) > 0 && resp.Text == "" {
			event.ResponseOut = describeToolCalls(resp.ToolCalls)
		}
		in, out, total := resp.Usage.InputTokens, resp.Usage.OutputTokens, resp.Usage.TotalTokens
		event.InputTokens, event.OutputTokens, event.TotalTokens = &in, &out, &total
	}
	execCtx.Bus.Publish(ctx, event)

	return resp, err
}

// executeTool runs one tool call under the stage's MCP timeout, publishes
// its MCPInteractionEvent, and records the call into the collector.
func executeTool(ctx context.Context, execCtx *agent.ExecutionContext, collector *mcpCollector, call llm.ToolCall) (*llm.ToolResult, error) {
	callCtx, cancel := context.WithTimeout(ctx, execCtx.MCPTimeout)
	defer cancel()

	serverID, toolName, splitErr := llm.SplitToolName(call.Name)
	if splitErr != nil {
		serverID, toolName = "", call.Name
	}

	start := time.Now()
	result, err := execCtx.ToolExecutor.Execute(callCtx, call)
	durationMs := time.Since(start).Milliseconds()

	args := parseArguments(call.Arguments)
	event := &events.MCPInteractionEvent{
		SessionID:        execCtx.SessionID,
		StageExecutionID: &execCtx.StageExecutionID,
		ServerID:         serverID,
		InteractionType:  models.MCPInteractionToolCall,
		ToolName:         &toolName,
		ToolArguments:    marshalJSON(args),
		DurationMs:       &durationMs,
	}

	ts := execCtx.Bus.Clock().Next(execCtx.SessionID)
	event.TsUs = ts
	mcpCall := models.MCPCall{
		Server:      serverID,
		Tool:        toolName,
		Arguments:   args,
		TimestampUs: ts,
	}

	switch {
	case err != nil:
		msg := err.Error()
		event.Error = &msg
		mcpCall.Error = msg
	case result.IsError:
		event.Error = &result.Content
		mcpCall.Error = result.Content
	default:
		event.ToolResult = &result.Content
		mcpCall.Result = result.Content
	}
	execCtx.Bus.Publish(ctx, event)
	collector.add(mcpCall)

	return result, err
}

// listTools gathers the agent's tool catalog and publishes one tool_list
// interaction covering the catalog.
func listTools(ctx context.Context, execCtx *agent.ExecutionContext) ([]llm.ToolDefinition, error) {
	callCtx, cancel := context.WithTimeout(ctx, execCtx.MCPTimeout)
	defer cancel()

	start := time.Now()
	tools, err := execCtx.ToolExecutor.ListTools(callCtx)
	durationMs := time.Since(start).Milliseconds()

	event := &events.MCPInteractionEvent{
		SessionID:        execCtx.SessionID,
		StageExecutionID: &execCtx.StageExecutionID,
		InteractionType:  models.MCPInteractionToolList,
		AvailableTools:   marshalJSON(tools),
		DurationMs:       &durationMs,
	}
	if err != nil {
		msg := err.Error()
		event.Error = &msg
	}
	execCtx.Bus.Publish(ctx, event)

	return tools, err
}

// mcpCollector accumulates the MCP calls a stage makes, grouped by server,
// for the stage result's mcp_results field.
type mcpCollector struct {
	calls map[string][]models.MCPCall
}

func newMCPCollector() *mcpCollector {
	return &mcpCollector{calls: make(map[string][]models.MCPCall)}
}

func (c *mcpCollector) add(call models.MCPCall) {
	server := call.Server
	if server == "" {
		server = "unknown"
	}
	c.calls[server] = append(c.calls[server], call)
}

func (c *mcpCollector) results() map[string][]models.MCPCall {
	if len(c.calls) == 0 {
		return nil
	}
	return c.calls
}

// buildToolNameSet indexes the catalog for O(1) validation of requested
// tool names.
func buildToolNameSet(tools []llm.ToolDefinition) map[string]bool {
	set := make(map[string]bool, len(tools))
	for _, tool := range tools {
		set[tool.Name] = true
	}
	return set
}

// successResult builds a completed stage result.
func successResult(analysis string, collector *mcpCollector) *models.StageResult {
	return &models.StageResult{
		Status:     models.StageResultSuccess,
		Analysis:   analysis,
		MCPResults: collector.results(),
	}
}

// failedResult builds an error stage result, keeping any MCP data the stage
// collected before failing.
func failedResult(message string, collector *mcpCollector) *models.StageResult {
	return &models.StageResult{
		Status:       models.StageResultError,
		ErrorMessage: message,
		MCPResults:   collector.results(),
	}
}

// isTimeoutError reports whether the failure was a timeout, for the
// consecutive-timeout circuit breaker.
func isTimeoutError(err error) bool {
	return llm.IsTimeout(err)
}

// generateCallID creates a unique id for a text-mode tool call, matching
// the id scheme native tool calls get from their providers.
func generateCallID() string {
	return "call_" + uuid.NewString()[:8]
}

// parseArguments decodes a JSON arguments payload for audit purposes,
// falling back to a raw wrapper for non-JSON (key: value) input.
func parseArguments(raw string) map[string]any {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	var parsed map[string]any
	if err := json.Unmarshal([]byte(raw), &parsed); err == nil {
		return parsed
	}
	return map[string]any{"raw": raw}
}

func marshalMessages(messages []llm.Message) json.RawMessage {
	return marshalJSON(messages)
}

func marshalJSON(v any) json.RawMessage {
	data, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	return data
}

func describeToolCalls(calls []llm.ToolCall) string {
	var sb strings.Builder
	sb.WriteString("[tool calls] ")
	for i, tc := range calls {
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString(tc.Name)
	}
	return sb.String()
}
