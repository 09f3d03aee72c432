package controller

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tarsyhq/tarsy-pipeline/pkg/config"
	"github.com/tarsyhq/tarsy-pipeline/pkg/llm"
	"github.com/tarsyhq/tarsy-pipeline/pkg/models"
)

func TestRegularNativeToolCallFlow(t *testing.T) {
	client := &scriptedLLM{turns: []scriptedTurn{
		toolCallTurn("checking pods", llm.ToolCall{ID: "c1", Name: "k8s__pods_list", Arguments: `{"namespace":"foo"}`}),
		textTurn("pods look healthy; root cause is the finalizer"),
	}}
	executor := &fakeToolExecutor{
		tools:   k8sCatalog,
		results: map[string]string{"k8s.pods_list": "[p1, p2]"},
	}
	execCtx, sink, bus := testExecCtx(config.StrategyRegular, client, executor)

	result, err := NewRegularController().Run(context.Background(), execCtx)
	require.NoError(t, err)
	bus.Close()

	assert.Equal(t, models.StageResultSuccess, result.Status)
	assert.Equal(t, "pods look healthy; root cause is the finalizer", result.Analysis)

	// Tools were bound with provider-safe encoded names.
	firstReq := client.requests[0]
	require.Len(t, firstReq.Tools, 1)
	assert.Equal(t, "k8s__pods_list", firstReq.Tools[0].Name)

	// The encoded call name was normalized back for routing.
	require.Len(t, executor.executed, 1)
	assert.Equal(t, "k8s.pods_list", executor.executed[0].Name)

	// The tool result came back as a tool-role message.
	secondReq := client.requests[1]
	toolMsg := secondReq.Messages[len(secondReq.Messages)-1]
	assert.Equal(t, llm.RoleTool, toolMsg.Role)
	assert.Equal(t, "c1", toolMsg.ToolCallID)
	assert.Equal(t, "[p1, p2]", toolMsg.Content)

	require.Contains(t, result.MCPResults, "k8s")
	require.Len(t, sink.mcpEvents(), 2) // tool_list + tool_call
}

func TestRegularImmediateAnalysis(t *testing.T) {
	client := &scriptedLLM{turns: []scriptedTurn{
		textTurn("no tools needed: the alert is a known false positive"),
	}}
	execCtx, _, bus := testExecCtx(config.StrategyRegular, client, &fakeToolExecutor{tools: k8sCatalog})
	defer bus.Close()

	result, err := NewRegularController().Run(context.Background(), execCtx)
	require.NoError(t, err)

	assert.Equal(t, models.StageResultSuccess, result.Status)
	assert.Contains(t, result.Analysis, "false positive")
}

func TestRegularUnknownNativeToolFeedback(t *testing.T) {
	client := &scriptedLLM{turns: []scriptedTurn{
		toolCallTurn("", llm.ToolCall{ID: "c1", Name: "github__list_repos", Arguments: "{}"}),
		textTurn("fine, concluding without that tool"),
	}}
	executor := &fakeToolExecutor{tools: k8sCatalog}
	execCtx, _, bus := testExecCtx(config.StrategyRegular, client, executor)
	defer bus.Close()

	result, err := NewRegularController().Run(context.Background(), execCtx)
	require.NoError(t, err)

	assert.Equal(t, models.StageResultSuccess, result.Status)
	assert.Empty(t, executor.executed)

	secondReq := client.requests[1]
	toolMsg := secondReq.Messages[len(secondReq.Messages)-1]
	assert.Contains(t, toolMsg.Content, "not available")
}

func TestRegularBudgetExhaustionForcedConclusion(t *testing.T) {
	client := &scriptedLLM{turns: []scriptedTurn{
		toolCallTurn("", llm.ToolCall{ID: "c1", Name: "k8s__pods_list", Arguments: "{}"}),
		toolCallTurn("", llm.ToolCall{ID: "c2", Name: "k8s__pods_list", Arguments: "{}"}),
		textTurn("final summary from forced conclusion"),
	}}
	executor := &fakeToolExecutor{tools: k8sCatalog, results: map[string]string{"k8s.pods_list": "x"}}
	execCtx, _, bus := testExecCtx(config.StrategyRegular, client, executor)
	execCtx.MaxIterations = 2
	defer bus.Close()

	result, err := NewRegularController().Run(context.Background(), execCtx)
	require.NoError(t, err)

	assert.Equal(t, models.StageResultSuccess, result.Status)
	assert.Equal(t, "final summary from forced conclusion", result.Analysis)

	// The conclusion call binds no tools, so it can only produce text.
	lastReq := client.requests[len(client.requests)-1]
	assert.Empty(t, lastReq.Tools)
}
