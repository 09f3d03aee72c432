package prompt

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/tarsyhq/tarsy-pipeline/pkg/llm"
	"github.com/tarsyhq/tarsy-pipeline/pkg/models"
)

// FormatAlertSection builds the alert details section. The payload is
// opaque; it is rendered as indented JSON without interpretation.
func FormatAlertSection(alertType string, alertData map[string]any) string {
	var sb strings.Builder
	sb.WriteString("## Alert Details\n\n")

	if alertType != "" {
		sb.WriteString("### Alert Metadata\n")
		sb.WriteString("**Alert Type:** ")
		sb.WriteString(alertType)
		sb.WriteString("\n\n")
	}

	sb.WriteString("### Alert Data\n")
	if len(alertData) == 0 {
		sb.WriteString("No additional alert data provided.\n")
		return sb.String()
	}

	rendered, err := json.MarshalIndent(alertData, "", "  ")
	if err != nil {
		rendered = []byte(fmt.Sprintf("%v", alertData))
	}
	sb.WriteString("```json\n")
	sb.Write(rendered)
	sb.WriteString("\n```\n")
	return sb.String()
}

// FormatRunbookSection builds the runbook section.
func FormatRunbookSection(runbookContent string) string {
	if runbookContent == "" {
		return "## Runbook Content\nNo runbook available.\n"
	}

	var sb strings.Builder
	sb.WriteString("## Runbook Content\n")
	sb.WriteString("```markdown\n")
	sb.WriteString(runbookContent)
	sb.WriteString("\n```\n")
	return sb.String()
}

// FormatPriorStageData renders the merged MCP output of all prior stages,
// grouped by server in stable order. Empty input yields a first-stage note.
func FormatPriorStageData(merged map[string][]models.MCPCall) string {
	if len(merged) == 0 {
		return "## Previous Stage Data\nNo previous stage data is available for this alert. This is the first stage of analysis.\n"
	}

	servers := make([]string, 0, len(merged))
	for server := range merged {
		servers = append(servers, server)
	}
	sort.Strings(servers)

	var sb strings.Builder
	sb.WriteString("## Previous Stage Data\n")
	sb.WriteString("Diagnostic data collected by earlier stages, grouped by MCP server:\n\n")
	for _, server := range servers {
		sb.WriteString(fmt.Sprintf("### Server: %s\n", server))
		for _, call := range merged[server] {
			sb.WriteString(fmt.Sprintf("**Tool:** %s.%s\n", call.Server, call.Tool))
			if len(call.Arguments) > 0 {
				args, err := json.Marshal(call.Arguments)
				if err == nil {
					sb.WriteString(fmt.Sprintf("**Arguments:** %s\n", args))
				}
			}
			if call.Error != "" {
				sb.WriteString(fmt.Sprintf("**Error:** %s\n", call.Error))
			} else {
				sb.WriteString("**Result:**\n```\n")
				sb.WriteString(call.Result)
				sb.WriteString("\n```\n")
			}
			sb.WriteString("\n")
		}
	}
	return sb.String()
}

// FormatToolDescriptions renders the tool catalog for text-based (ReAct)
// tool calling.
func FormatToolDescriptions(tools []llm.ToolDefinition) string {
	var sb strings.Builder
	for _, tool := range tools {
		sb.WriteString(fmt.Sprintf("- %s: %s\n", tool.Name, tool.Description))
	}
	return strings.TrimRight(sb.String(), "\n")
}
