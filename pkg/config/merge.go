package config

import (
	"fmt"

	"dario.cat/mergo"
)

// mergeAgents merges built-in and user-defined agent configurations.
// A user-defined agent with the same name as a built-in one is merged
// field-by-field onto the built-in definition (so a user override only
// needs to specify the fields it changes); a user-defined agent with a
// new name is simply added.
func mergeAgents(builtinAgents map[string]BuiltinAgentConfig, userAgents map[string]AgentConfig) map[string]*AgentConfig {
	result := make(map[string]*AgentConfig, len(builtinAgents)+len(userAgents))

	for name, builtin := range builtinAgents {
		mcpCopy := make([]string, len(builtin.MCPServers))
		copy(mcpCopy, builtin.MCPServers)
		result[name] = &AgentConfig{
			Description:        builtin.Description,
			MCPServers:         mcpCopy,
			CustomInstructions: builtin.CustomInstructions,
			DefaultStrategy:    builtin.IterationStrategy,
		}
	}

	for name, userAgent := range userAgents {
		agentCopy := userAgent
		if existing, ok := result[name]; ok {
			_ = mergo.Merge(existing, &agentCopy, mergo.WithOverride)
		} else {
			result[name] = &agentCopy
		}
	}

	return result
}

// mergeMCPServers merges built-in and user-defined MCP server configurations
// and stamps each entry's ServerID from its map key. A user-defined server
// with the same ID as a built-in one is merged field-by-field onto the
// built-in definition.
func mergeMCPServers(builtinServers map[string]MCPServerConfig, userServers map[string]MCPServerConfig) map[string]*MCPServerConfig {
	result := make(map[string]*MCPServerConfig, len(builtinServers)+len(userServers))

	for id, server := range builtinServers {
		serverCopy := server
		result[id] = &serverCopy
	}

	for id, userServer := range userServers {
		serverCopy := userServer
		if existing, ok := result[id]; ok {
			_ = mergo.Merge(existing, &serverCopy, mergo.WithOverride)
		} else {
			result[id] = &serverCopy
		}
	}

	for id, server := range result {
		server.ServerID = id
	}

	return result
}

// mergeChains combines built-in and user-defined chain configurations.
// Unlike agents and servers, chains never merge or override: a chain_id
// appearing in both sources is a hard configuration error, so an operator
// can't silently shadow a compiled-in chain. The alert-type-to-chain
// uniqueness invariant is enforced afterward by the validator, since it is
// a property of the merged set as a whole.
func mergeChains(builtinChains map[string]ChainConfig, userChains map[string]ChainConfig) (map[string]*ChainConfig, error) {
	result := make(map[string]*ChainConfig, len(builtinChains)+len(userChains))

	for id, chain := range builtinChains {
		chainCopy := chain
		result[id] = &chainCopy
	}

	for id, userChain := range userChains {
		if _, exists := result[id]; exists {
			return nil, fmt.Errorf("%w: chain %q is defined both built-in and in user configuration", ErrDuplicateChainID, id)
		}
		chainCopy := userChain
		result[id] = &chainCopy
	}

	return result, nil
}

// mergeLLMProviders merges built-in and user-defined LLM provider configurations.
// A user-defined provider with the same name as a built-in one is merged
// field-by-field onto the built-in definition.
func mergeLLMProviders(builtinProviders map[string]LLMProviderConfig, userProviders map[string]LLMProviderConfig) map[string]*LLMProviderConfig {
	result := make(map[string]*LLMProviderConfig, len(builtinProviders)+len(userProviders))

	for name, provider := range builtinProviders {
		providerCopy := provider
		result[name] = &providerCopy
	}

	for name, userProvider := range userProviders {
		providerCopy := userProvider
		if existing, ok := result[name]; ok {
			_ = mergo.Merge(existing, &providerCopy, mergo.WithOverride)
		} else {
			result[name] = &providerCopy
		}
	}

	return result
}
