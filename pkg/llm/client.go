// Package llm provides the unified LLM client surface used by the iteration
// controllers: a single Complete call across the anthropic, openai, and
// bedrock backends. Providers stream internally and return the resolved
// response — the controllers consume one LLM turn at a time and never need
// the raw token stream.
package llm

import (
	"context"

	"github.com/tarsyhq/tarsy-pipeline/pkg/config"
)

// Conversation message roles.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// Message is one conversation turn.
type Message struct {
	Role       string     `json:"role"`
	Content    string     `json:"content"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`   // assistant messages
	ToolCallID string     `json:"tool_call_id,omitempty"` // tool result messages
	ToolName   string     `json:"tool_name,omitempty"`    // tool result messages
}

// ToolDefinition describes a tool available to the LLM.
type ToolDefinition struct {
	Name             string `json:"name"` // canonical "server.tool" format
	Description      string `json:"description"`
	ParametersSchema string `json:"parameters_schema"` // JSON Schema
}

// ToolCall is an LLM's request to invoke a tool.
type ToolCall struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Arguments string `json:"arguments"` // JSON
}

// ToolResult is the outcome of executing one tool call.
type ToolResult struct {
	CallID  string `json:"call_id"`
	Name    string `json:"name"`
	Content string `json:"content"`
	IsError bool   `json:"is_error"`
}

// Request is one completion request.
type Request struct {
	Messages  []Message
	Tools     []ToolDefinition // nil = text-only
	MaxTokens int              // 0 = provider default
}

// Usage reports token consumption for one call.
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
	TotalTokens  int `json:"total_tokens"`
}

// Response is the resolved output of one completion call.
type Response struct {
	Text      string
	ToolCalls []ToolCall
	Usage     Usage
}

// Client is the unified completion surface. Implementations are safe for
// concurrent use; each Complete call is independent.
type Client interface {
	// Complete sends the conversation and blocks until the response is
	// fully resolved or ctx expires.
	Complete(ctx context.Context, req *Request) (*Response, error)

	// Model returns the configured model name, for audit records.
	Model() string
}

// defaultMaxTokens bounds responses when the request doesn't specify.
const defaultMaxTokens = 8192

func resolveMaxTokens(requested int) int {
	if requested > 0 {
		return requested
	}
	return defaultMaxTokens
}

// NewClient builds the backend selected by the provider config type.
func NewClient(cfg *config.LLMProviderConfig) (Client, error) {
	switch cfg.Type {
	case config.LLMProviderTypeAnthropic:
		return newAnthropicClient(cfg)
	case config.LLMProviderTypeOpenAI:
		return newOpenAIClient(cfg)
	case config.LLMProviderTypeBedrock:
		return newBedrockClient(cfg)
	default:
		return nil, &ProviderError{
			Provider: string(cfg.Type),
			Message:  "unknown LLM provider type",
		}
	}
}
