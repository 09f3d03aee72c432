// Package config provides configuration management for the Tarsy system,
// including agent, chain, MCP server, and LLM provider configurations.
package config

import (
	"fmt"
	"sync"
)

// AgentConfig defines agent configuration: the MCP server subset an agent
// is assigned, its prompt instructions, and the default iteration strategy
// used when a chain stage doesn't override it. An agent carries no
// alert-type knowledge — that mapping belongs to chains.
type AgentConfig struct {
	// Human-readable description
	Description string `yaml:"description,omitempty"`

	// MCP servers this agent may call tools on
	MCPServers []string `yaml:"mcp_servers" validate:"omitempty"`

	// Custom instructions appended to the agent's base system prompt
	CustomInstructions string `yaml:"custom_instructions"`

	// DefaultStrategy is used when a stage referencing this agent doesn't
	// specify its own iteration_strategy.
	DefaultStrategy IterationStrategy `yaml:"default_strategy,omitempty"`

	// LLMProvider overrides the chain/system default LLM provider for this agent.
	LLMProvider string `yaml:"llm_provider,omitempty"`

	// Max iterations for this agent (forces conclusion when reached, no pause/resume)
	MaxIterations *int `yaml:"max_iterations,omitempty" validate:"omitempty,min=1"`
}

// EffectiveStrategy returns the agent's default iteration strategy, falling
// back to StrategyReact when none is configured.
func (a *AgentConfig) EffectiveStrategy() IterationStrategy {
	if a.DefaultStrategy != "" {
		return a.DefaultStrategy
	}
	return StrategyReact
}

// AgentRegistry stores agent configurations in memory with thread-safe access
type AgentRegistry struct {
	agents map[string]*AgentConfig
	mu     sync.RWMutex
}

// NewAgentRegistry creates a new agent registry
func NewAgentRegistry(agents map[string]*AgentConfig) *AgentRegistry {
	// Defensive copy to prevent external mutation
	copied := make(map[string]*AgentConfig, len(agents))
	for k, v := range agents {
		copied[k] = v
	}
	return &AgentRegistry{
		agents: copied,
	}
}

// Get retrieves an agent configuration by name (thread-safe)
func (r *AgentRegistry) Get(name string) (*AgentConfig, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	agent, exists := r.agents[name]
	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrAgentNotFound, name)
	}
	return agent, nil
}

// GetAll returns all agent configurations (thread-safe, returns copy)
func (r *AgentRegistry) GetAll() map[string]*AgentConfig {
	r.mu.RLock()
	defer r.mu.RUnlock()

	// Return a copy to prevent external modification
	result := make(map[string]*AgentConfig, len(r.agents))
	for k, v := range r.agents {
		result[k] = v
	}
	return result
}

// Has checks if an agent exists in the registry (thread-safe)
func (r *AgentRegistry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	_, exists := r.agents[name]
	return exists
}

// Len returns the number of agents in the registry (thread-safe)
func (r *AgentRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.agents)
}
