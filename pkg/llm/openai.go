package llm

import (
	"context"
	"errors"
	"io"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"github.com/tarsyhq/tarsy-pipeline/pkg/config"
)

// openaiClient talks to the OpenAI chat completions API (or any compatible
// endpoint via base_url).
type openaiClient struct {
	baseClient
	client *openai.Client
}

func newOpenAIClient(cfg *config.LLMProviderConfig) (Client, error) {
	key, err := apiKeyFromEnv("openai", cfg.APIKeyEnv)
	if err != nil {
		return nil, err
	}

	clientCfg := openai.DefaultConfig(key)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}

	return &openaiClient{
		baseClient: newBaseClient("openai", cfg.Model),
		client:     openai.NewClientWithConfig(clientCfg),
	}, nil
}

func (c *openaiClient) Complete(ctx context.Context, req *Request) (*Response, error) {
	chatReq := openai.ChatCompletionRequest{
		Model:    c.model,
		Messages: c.convertMessages(req.Messages),
		Stream:   true,
		StreamOptions: &openai.StreamOptions{
			IncludeUsage: true,
		},
	}
	if req.MaxTokens > 0 {
		chatReq.MaxTokens = req.MaxTokens
	}
	if len(req.Tools) > 0 {
		chatReq.Tools = convertOpenAITools(req.Tools)
	}

	var resp *Response
	err := c.retry(ctx, func() error {
		stream, err := c.client.CreateChatCompletionStream(ctx, chatReq)
		if err != nil {
			return wrapOpenAIError(err)
		}
		defer stream.Close()

		r, streamErr := consumeOpenAIStream(stream)
		if streamErr != nil {
			return streamErr
		}
		resp = r
		return nil
	})
	if err != nil {
		return nil, err
	}
	return resp, nil
}

func (c *openaiClient) convertMessages(messages []Message) []openai.ChatCompletionMessage {
	out := make([]openai.ChatCompletionMessage, 0, len(messages))
	for _, msg := range messages {
		switch msg.Role {
		case RoleSystem:
			out = append(out, openai.ChatCompletionMessage{
				Role:    openai.ChatMessageRoleSystem,
				Content: msg.Content,
			})
		case RoleUser:
			out = append(out, openai.ChatCompletionMessage{
				Role:    openai.ChatMessageRoleUser,
				Content: msg.Content,
			})
		case RoleAssistant:
			m := openai.ChatCompletionMessage{
				Role:    openai.ChatMessageRoleAssistant,
				Content: msg.Content,
			}
			for _, tc := range msg.ToolCalls {
				m.ToolCalls = append(m.ToolCalls, openai.ToolCall{
					ID:   tc.ID,
					Type: openai.ToolTypeFunction,
					Function: openai.FunctionCall{
						Name:      tc.Name,
						Arguments: tc.Arguments,
					},
				})
			}
			out = append(out, m)
		case RoleTool:
			out = append(out, openai.ChatCompletionMessage{
				Role:       openai.ChatMessageRoleTool,
				Content:    msg.Content,
				ToolCallID: msg.ToolCallID,
			})
		}
	}
	return out
}

func convertOpenAITools(tools []ToolDefinition) []openai.Tool {
	out := make([]openai.Tool, len(tools))
	for i, tool := range tools {
		out[i] = openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        tool.Name,
				Description: tool.Description,
				Parameters:  rawSchema(tool.ParametersSchema),
			},
		}
	}
	return out
}

// rawSchema passes the JSON Schema string through without re-encoding.
type rawSchema string

func (s rawSchema) MarshalJSON() ([]byte, error) {
	if s == "" {
		return []byte(`{"type":"object","properties":{}}`), nil
	}
	return []byte(s), nil
}

// consumeOpenAIStream drains one chat completion stream. Tool call
// arguments arrive as fragments attached to an index; they are accumulated
// until the stream ends.
func consumeOpenAIStream(stream *openai.ChatCompletionStream) (*Response, error) {
	var (
		text      strings.Builder
		toolCalls []ToolCall
		toolArgs  []strings.Builder
		usage     Usage
	)

	for {
		chunk, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, wrapOpenAIError(err)
		}

		if chunk.Usage != nil {
			usage.InputTokens = chunk.Usage.PromptTokens
			usage.OutputTokens = chunk.Usage.CompletionTokens
			usage.TotalTokens = chunk.Usage.TotalTokens
		}
		if len(chunk.Choices) == 0 {
			continue
		}
		delta := chunk.Choices[0].Delta
		text.WriteString(delta.Content)

		for _, tc := range delta.ToolCalls {
			idx := 0
			if tc.Index != nil {
				idx = *tc.Index
			}
			for idx >= len(toolCalls) {
				toolCalls = append(toolCalls, ToolCall{})
				toolArgs = append(toolArgs, strings.Builder{})
			}
			if tc.ID != "" {
				toolCalls[idx].ID = tc.ID
			}
			if tc.Function.Name != "" {
				toolCalls[idx].Name = tc.Function.Name
			}
			toolArgs[idx].WriteString(tc.Function.Arguments)
		}
	}

	for i := range toolCalls {
		toolCalls[i].Arguments = toolArgs[i].String()
		if toolCalls[i].Arguments == "" {
			toolCalls[i].Arguments = "{}"
		}
	}

	return &Response{
		Text:      text.String(),
		ToolCalls: toolCalls,
		Usage:     usage,
	}, nil
}

func wrapOpenAIError(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return &ProviderError{
			Provider:   "openai",
			Message:    "request failed",
			StatusCode: apiErr.HTTPStatusCode,
			Err:        err,
		}
	}
	return &ProviderError{Provider: "openai", Message: "request failed", Err: err}
}
