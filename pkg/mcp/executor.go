package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"slices"
	"strings"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/tarsyhq/tarsy-pipeline/pkg/agent"
	"github.com/tarsyhq/tarsy-pipeline/pkg/config"
	"github.com/tarsyhq/tarsy-pipeline/pkg/llm"
	"github.com/tarsyhq/tarsy-pipeline/pkg/masking"
)

// Compile-time check that ToolExecutor implements agent.ToolExecutor.
var _ agent.ToolExecutor = (*ToolExecutor)(nil)

// ToolExecutor implements agent.ToolExecutor backed by real MCP servers.
// Created per stage over a session-scoped Client, so the tool catalog cache
// and server connections are shared across one alert's stages.
type ToolExecutor struct {
	client   *Client
	registry *config.MCPServerRegistry

	// Resolved list of server IDs this executor can access.
	serverIDs []string

	// Optional masking service for redacting sensitive data in tool
	// results before they reach the LLM or the audit trail. nil disables
	// masking.
	maskingService *masking.MaskingService
}

// NewToolExecutor creates a new executor for the given servers.
func NewToolExecutor(client *Client, registry *config.MCPServerRegistry, serverIDs []string) *ToolExecutor {
	return &ToolExecutor{
		client:    client,
		registry:  registry,
		serverIDs: serverIDs,
	}
}

// WithMasking returns the executor with tool-result masking enabled.
func (e *ToolExecutor) WithMasking(svc *masking.MaskingService) *ToolExecutor {
	e.maskingService = svc
	return e
}

// Execute runs a tool call via MCP.
//
// Flow:
//  1. Normalize the name (server__tool → server.tool for native calling)
//  2. Split and validate the server.tool name
//  3. Check the server is in this executor's allowed set
//  4. Parse the arguments payload into a map
//  5. Call the server with retry-on-transport-failure recovery
//  6. Mask and truncate the text content
//
// Tool-level failures come back as a ToolResult with IsError set, never as
// a Go error — the iteration loop surfaces them to the LLM as observations.
func (e *ToolExecutor) Execute(ctx context.Context, call llm.ToolCall) (*llm.ToolResult, error) {
	name := llm.NormalizeToolName(call.Name)

	serverID, toolName, err := e.resolveToolCall(name)
	if err != nil {
		return &llm.ToolResult{
			CallID:  call.ID,
			Name:    call.Name,
			Content: err.Error(),
			IsError: true,
		}, nil
	}

	params, err := ParseActionInput(call.Arguments)
	if err != nil {
		return &llm.ToolResult{
			CallID:  call.ID,
			Name:    call.Name,
			Content: fmt.Sprintf("Failed to parse tool arguments: %s", err),
			IsError: true,
		}, nil
	}

	result, err := e.client.CallTool(ctx, serverID, toolName, params)
	if err != nil {
		return &llm.ToolResult{
			CallID:  call.ID,
			Name:    call.Name,
			Content: fmt.Sprintf("MCP tool execution failed: %s", err),
			IsError: true,
		}, nil
	}

	content := extractTextContent(result)
	if e.maskingService != nil {
		content = e.maskingService.MaskToolResult(content, serverID)
	}
	content = TruncateForStorage(content)

	return &llm.ToolResult{
		CallID:  call.ID,
		Name:    call.Name,
		Content: content,
		IsError: result.IsError,
	}, nil
}

// ListTools returns all available tools from this executor's servers, with
// server-prefixed canonical names (e.g. "kubernetes-server.pods_list").
// Servers are connected lazily on first use.
func (e *ToolExecutor) ListTools(ctx context.Context) ([]llm.ToolDefinition, error) {
	var allTools []llm.ToolDefinition

	for _, serverID := range e.serverIDs {
		if !e.client.HasSession(serverID) {
			if err := e.client.InitializeServer(ctx, serverID); err != nil {
				slog.Warn("Failed to initialize MCP server", "server", serverID, "error", err)
				continue
			}
		}

		tools, err := e.client.ListTools(ctx, serverID)
		if err != nil {
			// Partial tools are better than none.
			slog.Warn("Failed to list tools from MCP server",
				"server", serverID, "error", err)
			continue
		}

		for _, tool := range tools {
			allTools = append(allTools, llm.ToolDefinition{
				Name:             llm.JoinToolName(serverID, tool.Name),
				Description:      tool.Description,
				ParametersSchema: marshalSchema(tool.InputSchema),
			})
		}
	}

	if len(allTools) == 0 {
		return nil, nil
	}
	return allTools, nil
}

// Close is a no-op: the underlying client is session-scoped and closed by
// the session manager when the alert finishes, not per stage.
func (e *ToolExecutor) Close() error {
	return nil
}

// resolveToolCall validates a tool call against the executor's configuration.
func (e *ToolExecutor) resolveToolCall(name string) (serverID, toolName string, err error) {
	serverID, toolName, err = llm.SplitToolName(name)
	if err != nil {
		return "", "", err
	}

	if !slices.Contains(e.serverIDs, serverID) {
		return "", "", fmt.Errorf(
			"MCP server %q is not available for this execution. "+
				"Available servers: %s", serverID, strings.Join(e.serverIDs, ", "))
	}

	return serverID, toolName, nil
}

// extractTextContent extracts text from an MCP CallToolResult, concatenating
// all TextContent items. Non-text content (images, embedded resources) is
// logged at debug level and skipped.
func extractTextContent(result *mcpsdk.CallToolResult) string {
	var parts []string
	for _, c := range result.Content {
		if tc, ok := c.(*mcpsdk.TextContent); ok {
			parts = append(parts, tc.Text)
		} else {
			slog.Debug("MCP tool returned non-text content, skipping",
				"content_type", fmt.Sprintf("%T", c))
		}
	}
	return strings.Join(parts, "\n")
}

// marshalSchema serializes a tool's InputSchema to a JSON string.
func marshalSchema(schema any) string {
	if schema == nil {
		return ""
	}
	data, err := json.Marshal(schema)
	if err != nil {
		slog.Debug("Failed to marshal tool input schema", "error", err)
		return ""
	}
	return string(data)
}
