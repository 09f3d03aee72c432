package config

import "time"

// Defaults contains system-wide default configurations
// These values are used when specific components don't specify their own values
type Defaults struct {
	// LLM provider default for all agents/chains
	LLMProvider string `yaml:"llm_provider,omitempty"`

	// Max iterations default (forces conclusion when reached, no pause/resume)
	MaxIterations *int `yaml:"max_iterations,omitempty" validate:"omitempty,min=1"`

	// Iteration strategy default, used when neither the stage nor its
	// agent specifies one (falls back further to StrategyReact).
	IterationStrategy IterationStrategy `yaml:"iteration_strategy,omitempty"`

	// MaxConcurrentAlerts bounds how many alerts the worker pool processes
	// at once; additional submissions queue.
	MaxConcurrentAlerts int `yaml:"max_concurrent_alerts,omitempty"`

	// LLMTimeout bounds a single LLM call.
	LLMTimeout time.Duration `yaml:"llm_timeout,omitempty"`

	// MCPTimeout bounds a single MCP tool call.
	MCPTimeout time.Duration `yaml:"mcp_timeout,omitempty"`

	// RunbookTimeout bounds fetching runbook content.
	RunbookTimeout time.Duration `yaml:"runbook_timeout,omitempty"`

	// Default alert type for new sessions (application state default)
	AlertType string `yaml:"alert_type,omitempty"`

	// Default runbook content for new sessions (application state default)
	Runbook string `yaml:"runbook,omitempty"`

	// CORSOrigins allowed on the HTTP edge. Empty means allow all.
	CORSOrigins []string `yaml:"cors_origins,omitempty"`

	// Alert data masking configuration
	AlertMasking *AlertMaskingDefaults `yaml:"alert_masking,omitempty"`
}

// AlertMaskingDefaults holds alert payload masking settings.
// Applied system-wide to all alert data before DB storage.
type AlertMaskingDefaults struct {
	Enabled      bool   `yaml:"enabled"`
	PatternGroup string `yaml:"pattern_group"`
}

const (
	// DefaultMaxConcurrentAlerts is the built-in worker pool size.
	DefaultMaxConcurrentAlerts = 5
	// DefaultMaxIterations bounds an agent's iteration loop when neither
	// the stage, the chain, the agent, nor the system defaults set one.
	DefaultMaxIterations = 10
	// DefaultLLMTimeout bounds a single LLM call.
	DefaultLLMTimeout = 60 * time.Second
	// DefaultMCPTimeout bounds a single MCP tool call.
	DefaultMCPTimeout = 30 * time.Second
	// DefaultRunbookTimeout bounds fetching runbook content.
	DefaultRunbookTimeout = 30 * time.Second
	// DefaultSizeThresholdTokens is the built-in MCP result size at which
	// summarization kicks in, when not otherwise configured.
	DefaultSizeThresholdTokens = 5000
)
