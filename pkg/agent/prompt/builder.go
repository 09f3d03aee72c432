package prompt

import (
	"fmt"
	"strings"

	"github.com/tarsyhq/tarsy-pipeline/pkg/agent"
	"github.com/tarsyhq/tarsy-pipeline/pkg/config"
	"github.com/tarsyhq/tarsy-pipeline/pkg/llm"
)

// generalInstructions is Tier 1 for investigation agents.
const generalInstructions = `## General SRE Agent Instructions

You are an expert Site Reliability Engineer (SRE) with deep knowledge of:
- Kubernetes and container orchestration
- Cloud infrastructure and services
- Incident response and troubleshooting
- System monitoring and alerting
- GitOps and deployment practices

Analyze alerts thoroughly and provide actionable insights based on:
1. Alert information and context
2. Associated runbook procedures
3. Real-time system data from available tools

Always be specific, reference actual data, and provide clear next steps.
Focus on root cause analysis and sustainable solutions.

## Evidence Transparency

Your conclusions MUST be grounded in evidence you actually gathered, not assumptions:

- **Distinguish data sources**: Clearly separate what you learned from tool results vs. what was already in the alert data.
- **Report tool failures honestly**: If a tool call fails or returns empty results, say so explicitly.
- **Adjust confidence accordingly**: If most tool calls failed, state that your analysis lacks independent verification.
- **Never fabricate evidence**: Do not invent details, metrics, or observations that did not appear in tool results or the alert data.`

// synthesisInstructions is Tier 1 for the tool-less final-analysis
// strategy. It avoids referencing live tools, which are unavailable.
const synthesisInstructions = `## General SRE Analysis Instructions

You are an expert Site Reliability Engineer (SRE) with deep knowledge of:
- Kubernetes and container orchestration
- Cloud infrastructure and services
- Incident response and troubleshooting
- System monitoring and alerting
- GitOps and deployment practices

Analyze the collected investigation data thoroughly and provide actionable insights based on:
1. The original alert information and context
2. Diagnostic data gathered by earlier stages
3. Associated runbook procedures

When earlier stages gathered little or no tool data, state clearly that your confidence is LOW and that the analysis rests primarily on the alert payload.`

const taskFocus = "Focus on investigation and providing recommendations for human operators to execute."

// Builder builds all prompt text for the iteration controllers. Stateless
// and thread-safe — all state comes from parameters.
type Builder struct {
	mcpRegistry *config.MCPServerRegistry
}

// NewBuilder creates a Builder with access to MCP server configs, used to
// inject per-server LLM instructions into the system prompt.
func NewBuilder(mcpRegistry *config.MCPServerRegistry) *Builder {
	if mcpRegistry == nil {
		panic("prompt.NewBuilder: mcpRegistry must not be nil")
	}
	return &Builder{mcpRegistry: mcpRegistry}
}

// BuildReActMessages builds the initial conversation for the ReAct-family
// strategies. The format instructions and task vary by strategy.
func (b *Builder) BuildReActMessages(
	execCtx *agent.ExecutionContext,
	tools []llm.ToolDefinition,
	strategy config.IterationStrategy,
) []llm.Message {
	var opener, task string
	termination := reactConclusionExample
	switch strategy {
	case config.StrategyReactTools:
		opener = collectFormatOpener
		task = collectTask
		termination = collectFormatTermination
	case config.StrategyReactToolsPartial:
		opener = partialFormatOpener
		task = partialTask
	default:
		opener = reactFormatOpener
		task = analysisTask
	}

	systemContent := b.composeInstructions(execCtx) + "\n\n" +
		opener + "\n\n" + reactFormatBody + "\n\n" + termination + "\n\n" + taskFocus

	var user strings.Builder
	if len(tools) > 0 {
		user.WriteString("Answer the following question using the available tools.\n\n")
		user.WriteString("Available tools:\n\n")
		user.WriteString(FormatToolDescriptions(tools))
		user.WriteString("\n\n")
	}
	b.writeSharedContext(&user, execCtx)
	user.WriteString(task)

	return []llm.Message{
		{Role: llm.RoleSystem, Content: systemContent},
		{Role: llm.RoleUser, Content: user.String()},
	}
}

// BuildRegularMessages builds the conversation for the native
// function-calling strategy. Tools are bound as declarations by the
// controller, so the text carries no tool catalog and no ReAct template.
func (b *Builder) BuildRegularMessages(execCtx *agent.ExecutionContext) []llm.Message {
	systemContent := b.composeInstructions(execCtx) + "\n\n" + taskFocus

	var user strings.Builder
	b.writeSharedContext(&user, execCtx)
	user.WriteString(regularTask)

	return []llm.Message{
		{Role: llm.RoleSystem, Content: systemContent},
		{Role: llm.RoleUser, Content: user.String()},
	}
}

// BuildFinalAnalysisMessages builds the conversation for the tool-less
// synthesis strategy. The user message carries the full accumulated MCP
// output of the prior stages.
func (b *Builder) BuildFinalAnalysisMessages(execCtx *agent.ExecutionContext) []llm.Message {
	sections := []string{synthesisInstructions}
	if execCtx.AgentConfig != nil && execCtx.AgentConfig.CustomInstructions != "" {
		sections = append(sections, "## Agent-Specific Instructions\n\n"+execCtx.AgentConfig.CustomInstructions)
	}
	systemContent := strings.Join(sections, "\n\n")

	var user strings.Builder
	b.writeSharedContext(&user, execCtx)
	user.WriteString(finalAnalysisTask)

	return []llm.Message{
		{Role: llm.RoleSystem, Content: systemContent},
		{Role: llm.RoleUser, Content: user.String()},
	}
}

// BuildForcedConclusionPrompt returns the prompt that forces a conclusion
// at the iteration limit. The format depends on the strategy family.
func (b *Builder) BuildForcedConclusionPrompt(iteration int, strategy config.IterationStrategy) string {
	format := reactForcedConclusionFormat
	if strategy == config.StrategyRegular {
		format = regularForcedConclusionFormat
	}
	return fmt.Sprintf(forcedConclusionTemplate, iteration, format)
}

// writeSharedContext appends the alert, runbook, and prior-stage sections
// shared by every strategy's user message.
func (b *Builder) writeSharedContext(sb *strings.Builder, execCtx *agent.ExecutionContext) {
	alert := execCtx.Alert
	sb.WriteString(FormatAlertSection(alert.AlertType, alert.AlertData))
	sb.WriteString("\n")
	sb.WriteString(FormatRunbookSection(alert.RunbookContent))
	sb.WriteString("\n")
	sb.WriteString(FormatPriorStageData(alert.GetAllMCPResults()))
	sb.WriteString("\n")
}

// composeInstructions builds the three-tier instruction set: general SRE
// instructions, per-server MCP guidance, then agent custom instructions.
func (b *Builder) composeInstructions(execCtx *agent.ExecutionContext) string {
	sections := []string{generalInstructions}

	if execCtx.AgentConfig != nil {
		for _, serverID := range execCtx.AgentConfig.MCPServers {
			server, err := b.mcpRegistry.Get(serverID)
			if err != nil || server.Instructions == "" {
				continue
			}
			sections = append(sections,
				fmt.Sprintf("## %s MCP Server Instructions\n\n%s", serverID, server.Instructions))
		}
		if execCtx.AgentConfig.CustomInstructions != "" {
			sections = append(sections, "## Agent-Specific Instructions\n\n"+execCtx.AgentConfig.CustomInstructions)
		}
	}

	return strings.Join(sections, "\n\n")
}
