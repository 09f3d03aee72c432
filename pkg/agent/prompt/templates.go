// Package prompt provides the centralized prompt builder for all iteration
// controllers. It composes system messages, user messages, instruction
// hierarchies, and strategy-specific formatting.
package prompt

// reactFormatOpener is the investigation opening for ReAct instructions.
const reactFormatOpener = `You are an SRE agent using the ReAct framework to analyze incidents. Reason step by step, act with tools, observe results, and repeat until you identify root cause and resolution steps.`

// collectFormatOpener is the data-collection opening used by the
// react-tools strategy. The agent gathers evidence and stops; analysis
// belongs to a later stage.
const collectFormatOpener = `You are an SRE agent using the ReAct framework to collect diagnostic data for an incident. Reason step by step, act with tools, and observe results. You are NOT producing an analysis — a later stage analyzes the data you collect.`

// partialFormatOpener is the stage-scoped-analysis opening used by the
// react-tools-partial strategy.
const partialFormatOpener = `You are an SRE agent using the ReAct framework to investigate one aspect of an incident. Reason step by step, act with tools, observe results, then provide a partial analysis covering ONLY the data you collected in this stage. A later stage combines partial analyses into the full assessment.`

// reactFormatBody is the shared ReAct format specification (rules, examples).
const reactFormatBody = `REQUIRED FORMAT:

Question: [the incident question]
Thought: [your step-by-step reasoning]
Action: [tool name from available tools]
Action Input: [parameters as key: value pairs]

⚠️ STOP immediately after Action Input. The system provides Observations.

Continue the cycle. Conclude when you have sufficient information:

Thought: [final reasoning]
Final Answer: [complete structured response]

CRITICAL RULES:
1. Always use colons after headers: "Thought:", "Action:", "Action Input:"
2. Start each section on a NEW LINE (never continue on same line as previous text)
3. Stop after Action Input—never generate fake Observations
4. Parameters: one per line for multiple values, or inline for single value
5. Conclude when you have actionable insights (perfect information not required)

PARAMETER FORMATS:

Multiple parameters:
Action Input: apiVersion: v1
kind: Namespace
name: superman-dev

Single parameter:
Action Input: namespace: default`

// collectFormatTermination replaces the Final Answer conclusion rules for
// the react-tools strategy.
const collectFormatTermination = `TERMINATION:

When you have collected all the data the runbook and alert call for, respond with:

Thought: [why the collected data is sufficient]
DONE

Do NOT write a Final Answer or any analysis. DONE on its own line ends the collection.`

// reactConclusionExample is the worked Final Answer example appended for
// the analysis-producing ReAct strategies.
const reactConclusionExample = `EXAMPLE CYCLE:

Question: Why is namespace 'superman-dev' stuck in terminating state?

Thought: I need to check the namespace status first to identify any blocking resources or finalizers.

Action: kubernetes-server.resources_get
Action Input: apiVersion: v1
kind: Namespace
name: superman-dev

[System provides: Observation: {"status": {"phase": "Terminating", "finalizers": ["kubernetes"]}}]

Thought: A finalizer is blocking deletion after all resources were cleaned up. I have enough to conclude.

Final Answer:
**Root Cause:** Orphaned 'kubernetes' finalizer blocking namespace deletion.

**Resolution Steps:**
1. Remove the finalizer: ` + "`" + `kubectl patch namespace superman-dev -p '{"spec":{"finalizers":null}}' --type=merge` + "`" + `
2. Verify deletion: ` + "`" + `kubectl get namespace superman-dev` + "`" + `

**Preventive Measures:** Ensure cleanup scripts remove finalizers when deleting namespaces programmatically.`

// analysisTask is the investigation task appended to the user message for
// analysis-producing strategies.
const analysisTask = `## Your Task
Use the available tools to investigate this alert and provide:
1. Root cause analysis
2. Current system state assessment
3. Specific remediation steps for human operators
4. Prevention recommendations

Be thorough in your investigation before providing the final answer.`

// collectTask is the task instruction for the react-tools strategy.
const collectTask = `## Your Task
Use the available tools to gather the diagnostic data this alert and runbook call for. Collect system state, logs, and resource details relevant to the incident. When the data is sufficient for a later analysis stage, finish with DONE.`

// partialTask is the task instruction for the react-tools-partial strategy.
const partialTask = `## Your Task
Use the available tools to investigate this alert, then provide a partial analysis that covers only what your own tool results show. Do not speculate beyond the data you collected in this stage.`

// finalAnalysisTask is the task instruction for the react-final-analysis
// strategy, which synthesizes without tools.
const finalAnalysisTask = `## Your Task
You have NO tools available. Synthesize a comprehensive analysis from the alert, the runbook, and the diagnostic data collected by the previous stages:
1. Root cause analysis
2. Current system state assessment
3. Specific remediation steps for human operators
4. Prevention recommendations

Conclude with the ReAct format:

Thought: [final reasoning]
Final Answer: [complete structured analysis]`

// regularTask is the task instruction for the regular (native
// function-calling) strategy. Tools are bound as declarations, not
// described in text.
const regularTask = `## Your Task
Investigate this alert using the tools available to you and provide:
1. Root cause analysis
2. Current system state assessment
3. Specific remediation steps for human operators
4. Prevention recommendations

When your investigation is complete, respond with your final analysis as plain text without requesting further tool calls.`

// forcedConclusionTemplate is the base template for forced conclusion
// prompts. %d = iteration count, %s = strategy-specific format instructions.
const forcedConclusionTemplate = `You have reached the investigation iteration limit (%d iterations).

Please conclude your investigation by answering the original question based on what you've discovered.

**Conclusion guidance:**
- Use the data and observations you've already gathered
- Perfect information is not required - provide actionable insights from available findings
- If gaps remain, clearly state what you couldn't determine and why
- Focus on practical next steps based on current knowledge

%s`

// reactForcedConclusionFormat is the ReAct-family forced conclusion format.
const reactForcedConclusionFormat = `**CRITICAL:** You MUST format your response using the ReAct format:

Thought: [your final reasoning about what you've discovered]
Final Answer: [your complete structured conclusion]

The "Final Answer:" marker is required for proper parsing. Begin your conclusion now.`

// regularForcedConclusionFormat is the plain-text forced conclusion format.
const regularForcedConclusionFormat = `Provide a clear, structured conclusion that directly addresses the investigation question. Do not request any further tool calls.`
