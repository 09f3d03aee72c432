package llm

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/document"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"

	"github.com/tarsyhq/tarsy-pipeline/pkg/config"
)

const defaultBedrockRegion = "us-east-1"

// bedrockClient talks to AWS Bedrock via the ConverseStream API.
// Authentication uses the default AWS credential chain.
type bedrockClient struct {
	baseClient
	client *bedrockruntime.Client
}

func newBedrockClient(cfg *config.LLMProviderConfig) (Client, error) {
	region := cfg.Region
	if region == "" {
		region = defaultBedrockRegion
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(context.Background(),
		awsconfig.WithRegion(region))
	if err != nil {
		return nil, &ProviderError{Provider: "bedrock", Message: "failed to load AWS config", Err: err}
	}

	return &bedrockClient{
		baseClient: newBaseClient("bedrock", cfg.Model),
		client:     bedrockruntime.NewFromConfig(awsCfg),
	}, nil
}

func (c *bedrockClient) Complete(ctx context.Context, req *Request) (*Response, error) {
	input, err := c.buildInput(req)
	if err != nil {
		return nil, err
	}

	var resp *Response
	err = c.retry(ctx, func() error {
		stream, callErr := c.client.ConverseStream(ctx, input)
		if callErr != nil {
			return &ProviderError{Provider: "bedrock", Message: "ConverseStream failed", Err: callErr}
		}
		r, streamErr := consumeBedrockStream(stream)
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

func (c *bedrockClient) buildInput(req *Request) (*bedrockruntime.ConverseStreamInput, error) {
	input := &bedrockruntime.ConverseStreamInput{
		ModelId: aws.String(c.model),
		InferenceConfig: &types.InferenceConfiguration{
			MaxTokens: aws.Int32(int32(resolveMaxTokens(req.MaxTokens))),
		},
	}

	for _, msg := range req.Messages {
		switch msg.Role {
		case RoleSystem:
			input.System = append(input.System,
				&types.SystemContentBlockMemberText{Value: msg.Content})

		case RoleUser:
			input.Messages = append(input.Messages, types.Message{
				Role:    types.ConversationRoleUser,
				Content: []types.ContentBlock{&types.ContentBlockMemberText{Value: msg.Content}},
			})

		case RoleAssistant:
			content := make([]types.ContentBlock, 0, 1+len(msg.ToolCalls))
			if msg.Content != "" {
				content = append(content, &types.ContentBlockMemberText{Value: msg.Content})
			}
			for _, tc := range msg.ToolCalls {
				var args map[string]any
				if err := json.Unmarshal([]byte(tc.Arguments), &args); err != nil {
					args = map[string]any{"raw": tc.Arguments}
				}
				content = append(content, &types.ContentBlockMemberToolUse{
					Value: types.ToolUseBlock{
						ToolUseId: aws.String(tc.ID),
						Name:      aws.String(tc.Name),
						Input:     document.NewLazyDocument(args),
					},
				})
			}
			input.Messages = append(input.Messages, types.Message{
				Role:    types.ConversationRoleAssistant,
				Content: content,
			})

		case RoleTool:
			input.Messages = append(input.Messages, types.Message{
				Role: types.ConversationRoleUser,
				Content: []types.ContentBlock{&types.ContentBlockMemberToolResult{
					Value: types.ToolResultBlock{
						ToolUseId: aws.String(msg.ToolCallID),
						Content: []types.ToolResultContentBlock{
							&types.ToolResultContentBlockMemberText{Value: msg.Content},
						},
					},
				}},
			})
		}
	}

	if len(req.Tools) > 0 {
		toolCfg := &types.ToolConfiguration{}
		for _, tool := range req.Tools {
			var schema map[string]any
			if tool.ParametersSchema != "" {
				if err := json.Unmarshal([]byte(tool.ParametersSchema), &schema); err != nil {
					return nil, &ProviderError{Provider: "bedrock", Message: "invalid tool schema for " + tool.Name, Err: err}
				}
			} else {
				schema = map[string]any{"type": "object", "properties": map[string]any{}}
			}
			toolCfg.Tools = append(toolCfg.Tools, &types.ToolMemberToolSpec{
				Value: types.ToolSpecification{
					Name:        aws.String(tool.Name),
					Description: aws.String(tool.Description),
					InputSchema: &types.ToolInputSchemaMemberJson{
						Value: document.NewLazyDocument(schema),
					},
				},
			})
		}
		input.ToolConfig = toolCfg
	}

	return input, nil
}

func consumeBedrockStream(stream *bedrockruntime.ConverseStreamOutput) (*Response, error) {
	var (
		text      strings.Builder
		toolCalls []ToolCall
		toolInput strings.Builder
		current   *ToolCall
		usage     Usage
	)

	for event := range stream.GetStream().Events() {
		switch ev := event.(type) {
		case *types.ConverseStreamOutputMemberContentBlockStart:
			if toolUse, ok := ev.Value.Start.(*types.ContentBlockStartMemberToolUse); ok {
				current = &ToolCall{
					ID:   aws.ToString(toolUse.Value.ToolUseId),
					Name: aws.ToString(toolUse.Value.Name),
				}
				toolInput.Reset()
			}

		case *types.ConverseStreamOutputMemberContentBlockDelta:
			switch delta := ev.Value.Delta.(type) {
			case *types.ContentBlockDeltaMemberText:
				text.WriteString(delta.Value)
			case *types.ContentBlockDeltaMemberToolUse:
				toolInput.WriteString(aws.ToString(delta.Value.Input))
			}

		case *types.ConverseStreamOutputMemberContentBlockStop:
			if current != nil {
				current.Arguments = toolInput.String()
				if current.Arguments == "" {
					current.Arguments = "{}"
				}
				toolCalls = append(toolCalls, *current)
				current = nil
			}

		case *types.ConverseStreamOutputMemberMetadata:
			if ev.Value.Usage != nil {
				usage.InputTokens = int(aws.ToInt32(ev.Value.Usage.InputTokens))
				usage.OutputTokens = int(aws.ToInt32(ev.Value.Usage.OutputTokens))
				usage.TotalTokens = int(aws.ToInt32(ev.Value.Usage.TotalTokens))
			}
		}
	}

	if err := stream.GetStream().Err(); err != nil {
		return nil, &ProviderError{Provider: "bedrock", Message: "stream failed", Err: err}
	}

	return &Response{
		Text:      text.String(),
		ToolCalls: toolCalls,
		Usage:     usage,
	}, nil
}
