package controller

import (
	"context"
	"fmt"
	"sync"

	"github.com/tarsyhq/tarsy-pipeline/pkg/agent"
	"github.com/tarsyhq/tarsy-pipeline/pkg/config"
	"github.com/tarsyhq/tarsy-pipeline/pkg/events"
	"github.com/tarsyhq/tarsy-pipeline/pkg/llm"
	"github.com/tarsyhq/tarsy-pipeline/pkg/models"
)

// scriptedLLM returns canned responses (or errors) in order. The last turn
// repeats if the script runs out.
type scriptedLLM struct {
	mu    sync.Mutex
	turns []scriptedTurn
	calls int

	// requests records every request for assertions.
	requests []*llm.Request
}

type scriptedTurn struct {
	resp *llm.Response
	err  error
}

func textTurn(text string) scriptedTurn {
	return scriptedTurn{resp: &llm.Response{Text: text, Usage: llm.Usage{InputTokens: 10, OutputTokens: 5, TotalTokens: 15}}}
}

func errTurn(err error) scriptedTurn {
	return scriptedTurn{err: err}
}

func toolCallTurn(text string, calls ...llm.ToolCall) scriptedTurn {
	return scriptedTurn{resp: &llm.Response{Text: text, ToolCalls: calls}}
}

func (s *scriptedLLM) Complete(_ context.Context, req *llm.Request) (*llm.Response, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requests = append(s.requests, req)
	idx := s.calls
	if idx >= len(s.turns) {
		idx = len(s.turns) - 1
	}
	s.calls++
	turn := s.turns[idx]
	return turn.resp, turn.err
}

func (s *scriptedLLM) Model() string { return "test-model" }

// fakeToolExecutor serves a fixed catalog and records executed calls.
type fakeToolExecutor struct {
	mu       sync.Mutex
	tools    []llm.ToolDefinition
	results  map[string]string // tool name → result content
	executed []llm.ToolCall
	execErr  error
}

func (f *fakeToolExecutor) ListTools(_ context.Context) ([]llm.ToolDefinition, error) {
	return f.tools, nil
}

func (f *fakeToolExecutor) Execute(_ context.Context, call llm.ToolCall) (*llm.ToolResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.executed = append(f.executed, call)
	if f.execErr != nil {
		return nil, f.execErr
	}
	content, ok := f.results[call.Name]
	if !ok {
		return &llm.ToolResult{CallID: call.ID, Name: call.Name, Content: "unexpected tool", IsError: true}, nil
	}
	return &llm.ToolResult{CallID: call.ID, Name: call.Name, Content: content}, nil
}

func (f *fakeToolExecutor) Close() error { return nil }

// fixedPrompts is a minimal PromptBuilder for controller tests.
type fixedPrompts struct{}

func (fixedPrompts) BuildReActMessages(_ *agent.ExecutionContext, tools []llm.ToolDefinition, _ config.IterationStrategy) []llm.Message {
	return []llm.Message{
		{Role: llm.RoleSystem, Content: "react system"},
		{Role: llm.RoleUser, Content: fmt.Sprintf("investigate (%d tools)", len(tools))},
	}
}

func (fixedPrompts) BuildRegularMessages(_ *agent.ExecutionContext) []llm.Message {
	return []llm.Message{
		{Role: llm.RoleSystem, Content: "regular system"},
		{Role: llm.RoleUser, Content: "investigate"},
	}
}

func (fixedPrompts) BuildFinalAnalysisMessages(_ *agent.ExecutionContext) []llm.Message {
	return []llm.Message{
		{Role: llm.RoleSystem, Content: "synthesis system"},
		{Role: llm.RoleUser, Content: "synthesize"},
	}
}

func (fixedPrompts) BuildForcedConclusionPrompt(iteration int, _ config.IterationStrategy) string {
	return fmt.Sprintf("conclude now after %d iterations", iteration)
}

// eventSink records every published event for assertions.
type eventSink struct {
	mu     sync.Mutex
	events []events.Event
}

func (e *eventSink) HandleEvent(_ context.Context, event events.Event) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.events = append(e.events, event)
	return nil
}

func (e *eventSink) llmEvents() []*events.LLMInteractionEvent {
	e.mu.Lock()
	defer e.mu.Unlock()
	var out []*events.LLMInteractionEvent
	for _, ev := range e.events {
		if le, ok := ev.(*events.LLMInteractionEvent); ok {
			out = append(out, le)
		}
	}
	return out
}

func (e *eventSink) mcpEvents() []*events.MCPInteractionEvent {
	e.mu.Lock()
	defer e.mu.Unlock()
	var out []*events.MCPInteractionEvent
	for _, ev := range e.events {
		if me, ok := ev.(*events.MCPInteractionEvent); ok {
			out = append(out, me)
		}
	}
	return out
}

// testExecCtx builds an ExecutionContext with a fresh bus and sink.
func testExecCtx(strategy config.IterationStrategy, client llm.Client, executor agent.ToolExecutor) (*agent.ExecutionContext, *eventSink, *events.Bus) {
	bus := events.NewBus(events.NewSessionClock())
	sink := &eventSink{}
	bus.Subscribe("sink", sink)

	execCtx := &agent.ExecutionContext{
		SessionID:        "sess-1",
		StageExecutionID: "exec-1",
		StageName:        "stage-1",
		AgentID:          "TestAgent",
		Strategy:         strategy,
		AgentConfig:      &config.AgentConfig{},
		MaxIterations:    config.DefaultMaxIterations,
		LLMTimeout:       config.DefaultLLMTimeout,
		MCPTimeout:       config.DefaultMCPTimeout,
		LLM:              client,
		ToolExecutor:     executor,
		PromptBuilder:    fixedPrompts{},
		Bus:              bus,
		Alert:            models.NewAlertProcessingData("a-1", "kubernetes", map[string]any{"ns": "foo"}, ""),
	}
	return execCtx, sink, bus
}
