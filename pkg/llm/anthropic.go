package llm

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/tarsyhq/tarsy-pipeline/pkg/config"
)

// anthropicClient talks to the Anthropic Messages API via the official SDK.
type anthropicClient struct {
	baseClient
	client anthropic.Client
}

func newAnthropicClient(cfg *config.LLMProviderConfig) (Client, error) {
	key, err := apiKeyFromEnv("anthropic", cfg.APIKeyEnv)
	if err != nil {
		return nil, err
	}

	opts := []option.RequestOption{option.WithAPIKey(key)}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}

	return &anthropicClient{
		baseClient: newBaseClient("anthropic", cfg.Model),
		client:     anthropic.NewClient(opts...),
	}, nil
}

func (c *anthropicClient) Complete(ctx context.Context, req *Request) (*Response, error) {
	params, err := c.buildParams(req)
	if err != nil {
		return nil, err
	}

	var resp *Response
	err = c.retry(ctx, func() error {
		r, streamErr := c.consumeStream(ctx, params)
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

func (c *anthropicClient) buildParams(req *Request) (anthropic.MessageNewParams, error) {
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(c.model),
		MaxTokens: int64(resolveMaxTokens(req.MaxTokens)),
	}

	for _, msg := range req.Messages {
		switch msg.Role {
		case RoleSystem:
			// System prompts are carried separately in the Anthropic API.
			params.System = append(params.System, anthropic.TextBlockParam{Text: msg.Content})

		case RoleUser:
			params.Messages = append(params.Messages,
				anthropic.NewUserMessage(anthropic.NewTextBlock(msg.Content)))

		case RoleAssistant:
			blocks := make([]anthropic.ContentBlockParamUnion, 0, 1+len(msg.ToolCalls))
			if msg.Content != "" {
				blocks = append(blocks, anthropic.NewTextBlock(msg.Content))
			}
			for _, tc := range msg.ToolCalls {
				var input any
				if err := json.Unmarshal([]byte(tc.Arguments), &input); err != nil {
					input = map[string]any{"raw": tc.Arguments}
				}
				blocks = append(blocks, anthropic.NewToolUseBlock(tc.ID, input, tc.Name))
			}
			params.Messages = append(params.Messages, anthropic.NewAssistantMessage(blocks...))

		case RoleTool:
			params.Messages = append(params.Messages,
				anthropic.NewUserMessage(anthropic.NewToolResultBlock(msg.ToolCallID, msg.Content, false)))
		}
	}

	for _, tool := range req.Tools {
		schema, err := parseInputSchema(tool.ParametersSchema)
		if err != nil {
			return params, &ProviderError{Provider: "anthropic", Message: "invalid tool schema for " + tool.Name, Err: err}
		}
		params.Tools = append(params.Tools, anthropic.ToolUnionParam{
			OfTool: &anthropic.ToolParam{
				Name:        tool.Name,
				Description: anthropic.String(tool.Description),
				InputSchema: schema,
			},
		})
	}

	return params, nil
}

func parseInputSchema(raw string) (anthropic.ToolInputSchemaParam, error) {
	schema := anthropic.ToolInputSchemaParam{}
	if raw == "" {
		return schema, nil
	}
	var parsed struct {
		Properties map[string]any `json:"properties"`
		Required   []string       `json:"required"`
	}
	if err := json.Unmarshal([]byte(raw), &parsed); err != nil {
		return schema, err
	}
	schema.Properties = parsed.Properties
	schema.Required = parsed.Required
	return schema, nil
}

// consumeStream drains one Messages stream into a resolved Response.
// Tool input JSON arrives as partial deltas and is accumulated per content
// block until its stop event.
func (c *anthropicClient) consumeStream(ctx context.Context, params anthropic.MessageNewParams) (*Response, error) {
	stream := c.client.Messages.NewStreaming(ctx, params)

	var (
		text      strings.Builder
		toolCalls []ToolCall
		toolInput strings.Builder
		current   *ToolCall
		usage     Usage
	)

	for stream.Next() {
		event := stream.Current()
		switch event.Type {
		case "message_start":
			start := event.AsMessageStart()
			usage.InputTokens = int(start.Message.Usage.InputTokens)

		case "content_block_start":
			contentBlock := event.AsContentBlockStart().ContentBlock
			if contentBlock.Type == "tool_use" {
				toolUse := contentBlock.AsToolUse()
				current = &ToolCall{ID: toolUse.ID, Name: toolUse.Name}
				toolInput.Reset()
			}

		case "content_block_delta":
			delta := event.AsContentBlockDelta().Delta
			switch delta.Type {
			case "text_delta":
				text.WriteString(delta.Text)
			case "input_json_delta":
				toolInput.WriteString(delta.PartialJSON)
			}

		case "content_block_stop":
			if current != nil {
				current.Arguments = toolInput.String()
				if current.Arguments == "" {
					current.Arguments = "{}"
				}
				toolCalls = append(toolCalls, *current)
				current = nil
			}

		case "message_delta":
			usage.OutputTokens = int(event.AsMessageDelta().Usage.OutputTokens)
		}
	}

	if err := stream.Err(); err != nil {
		return nil, &ProviderError{Provider: "anthropic", Message: "stream failed", Err: err}
	}

	usage.TotalTokens = usage.InputTokens + usage.OutputTokens
	return &Response{
		Text:      text.String(),
		ToolCalls: toolCalls,
		Usage:     usage,
	}, nil
}
