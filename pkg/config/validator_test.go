package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// validConfig builds a minimal configuration that passes every check, so
// each test mutates exactly one thing.
func validConfig() *Config {
	return &Config{
		Defaults: &Defaults{},
		Queue:    DefaultQueueConfig(),
		Runbooks: &RunbookConfig{
			CacheTTL:       time.Minute,
			AllowedDomains: []string{"github.com"},
		},
		AgentRegistry: NewAgentRegistry(map[string]*AgentConfig{
			"collector": {MCPServers: []string{"k8s"}, DefaultStrategy: StrategyReactTools},
			"analyst":   {DefaultStrategy: StrategyReactFinalAnalysis},
		}),
		ChainRegistry: NewChainRegistry(map[string]*ChainConfig{
			"k8s-chain": {
				AlertTypes: []string{"kubernetes"},
				Stages: []StageConfig{
					{Name: "collect", AgentID: "collector"},
					{Name: "analyze", AgentID: "analyst"},
				},
			},
		}),
		MCPServerRegistry: NewMCPServerRegistry(map[string]*MCPServerConfig{
			"k8s": {Transport: TransportConfig{Type: TransportTypeStdio, Command: "npx"}},
		}),
		LLMProviderRegistry: NewLLMProviderRegistry(map[string]*LLMProviderConfig{
			"default": {
				Type:                LLMProviderTypeBedrock,
				Model:               "anthropic.claude-3-5-sonnet-20241022-v2:0",
				Region:              "us-east-1",
				MaxToolResultTokens: 100000,
			},
		}),
	}
}

func TestValidateAllPasses(t *testing.T) {
	require.NoError(t, NewValidator(validConfig()).ValidateAll())
}

func TestValidateChains(t *testing.T) {
	t.Run("alert type claimed by two chains rejected", func(t *testing.T) {
		cfg := validConfig()
		chains := cfg.ChainRegistry.GetAll()
		chains["second-chain"] = &ChainConfig{
			AlertTypes: []string{"kubernetes"},
			Stages:     []StageConfig{{Name: "only", AgentID: "analyst"}},
		}
		cfg.ChainRegistry = NewChainRegistry(chains)

		err := NewValidator(cfg).ValidateAll()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "already mapped")
	})

	t.Run("chain without stages rejected", func(t *testing.T) {
		cfg := validConfig()
		cfg.ChainRegistry = NewChainRegistry(map[string]*ChainConfig{
			"empty": {AlertTypes: []string{"x"}},
		})
		err := NewValidator(cfg).ValidateAll()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "at least one stage required")
	})

	t.Run("chain without alert types rejected", func(t *testing.T) {
		cfg := validConfig()
		cfg.ChainRegistry = NewChainRegistry(map[string]*ChainConfig{
			"no-types": {Stages: []StageConfig{{Name: "s", AgentID: "analyst"}}},
		})
		err := NewValidator(cfg).ValidateAll()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "at least one alert type required")
	})

	t.Run("stage referencing unknown agent rejected", func(t *testing.T) {
		cfg := validConfig()
		cfg.ChainRegistry = NewChainRegistry(map[string]*ChainConfig{
			"bad": {
				AlertTypes: []string{"x"},
				Stages:     []StageConfig{{Name: "s", AgentID: "ghost"}},
			},
		})
		err := NewValidator(cfg).ValidateAll()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "agent 'ghost' not found")
	})

	t.Run("stage with invalid strategy rejected", func(t *testing.T) {
		cfg := validConfig()
		cfg.ChainRegistry = NewChainRegistry(map[string]*ChainConfig{
			"bad": {
				AlertTypes: []string{"x"},
				Stages:     []StageConfig{{Name: "s", AgentID: "analyst", IterationStrategy: "bogus"}},
			},
		})
		err := NewValidator(cfg).ValidateAll()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "invalid iteration_strategy")
	})
}

func TestValidateAgents(t *testing.T) {
	t.Run("unknown MCP server rejected", func(t *testing.T) {
		cfg := validConfig()
		cfg.AgentRegistry = NewAgentRegistry(map[string]*AgentConfig{
			"collector": {MCPServers: []string{"missing-server"}},
			"analyst":   {},
		})
		err := NewValidator(cfg).ValidateAll()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "MCP server 'missing-server' not found")
	})

	t.Run("invalid default strategy rejected", func(t *testing.T) {
		cfg := validConfig()
		cfg.AgentRegistry = NewAgentRegistry(map[string]*AgentConfig{
			"collector": {MCPServers: []string{"k8s"}, DefaultStrategy: "bogus"},
			"analyst":   {},
		})
		err := NewValidator(cfg).ValidateAll()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "invalid iteration strategy")
	})
}

func TestValidateMCPServers(t *testing.T) {
	t.Run("stdio without command rejected", func(t *testing.T) {
		cfg := validConfig()
		cfg.MCPServerRegistry = NewMCPServerRegistry(map[string]*MCPServerConfig{
			"k8s": {Transport: TransportConfig{Type: TransportTypeStdio}},
		})
		err := NewValidator(cfg).ValidateAll()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "command required")
	})

	t.Run("http without url rejected", func(t *testing.T) {
		cfg := validConfig()
		cfg.MCPServerRegistry = NewMCPServerRegistry(map[string]*MCPServerConfig{
			"k8s": {Transport: TransportConfig{Type: TransportTypeHTTP}},
		})
		err := NewValidator(cfg).ValidateAll()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "url required")
	})

	t.Run("invalid transport type rejected", func(t *testing.T) {
		cfg := validConfig()
		cfg.MCPServerRegistry = NewMCPServerRegistry(map[string]*MCPServerConfig{
			"k8s": {Transport: TransportConfig{Type: "carrier-pigeon"}},
		})
		err := NewValidator(cfg).ValidateAll()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "invalid transport type")
	})
}

func TestValidateLLMProviders(t *testing.T) {
	t.Run("bedrock without region rejected", func(t *testing.T) {
		cfg := validConfig()
		cfg.LLMProviderRegistry = NewLLMProviderRegistry(map[string]*LLMProviderConfig{
			"default": {Type: LLMProviderTypeBedrock, Model: "m", MaxToolResultTokens: 100000},
		})
		err := NewValidator(cfg).ValidateAll()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "region required")
	})

	t.Run("missing model rejected", func(t *testing.T) {
		cfg := validConfig()
		cfg.LLMProviderRegistry = NewLLMProviderRegistry(map[string]*LLMProviderConfig{
			"default": {Type: LLMProviderTypeAnthropic, MaxToolResultTokens: 100000},
		})
		err := NewValidator(cfg).ValidateAll()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "model required")
	})

	t.Run("referenced provider requires credential env", func(t *testing.T) {
		t.Setenv("TEST_MISSING_KEY", "")
		cfg := validConfig()
		cfg.Defaults = &Defaults{LLMProvider: "default"}
		cfg.LLMProviderRegistry = NewLLMProviderRegistry(map[string]*LLMProviderConfig{
			"default": {
				Type:                LLMProviderTypeAnthropic,
				Model:               "claude-sonnet-4-20250514",
				APIKeyEnv:           "TEST_MISSING_KEY",
				MaxToolResultTokens: 100000,
			},
		})
		err := NewValidator(cfg).ValidateAll()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "TEST_MISSING_KEY is not set")
	})

	t.Run("low max_tool_result_tokens rejected", func(t *testing.T) {
		cfg := validConfig()
		cfg.LLMProviderRegistry = NewLLMProviderRegistry(map[string]*LLMProviderConfig{
			"default": {Type: LLMProviderTypeBedrock, Model: "m", Region: "us-east-1", MaxToolResultTokens: 10},
		})
		err := NewValidator(cfg).ValidateAll()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "at least 1000")
	})
}

func TestValidateDefaults(t *testing.T) {
	t.Run("unknown default LLM provider rejected", func(t *testing.T) {
		cfg := validConfig()
		cfg.Defaults = &Defaults{LLMProvider: "ghost"}
		err := NewValidator(cfg).ValidateAll()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "LLM provider 'ghost' not found")
	})

	t.Run("alert masking with unknown group rejected", func(t *testing.T) {
		cfg := validConfig()
		cfg.Defaults = &Defaults{
			AlertMasking: &AlertMaskingDefaults{Enabled: true, PatternGroup: "no-such-group"},
		}
		err := NewValidator(cfg).ValidateAll()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "pattern group 'no-such-group' not found")
	})
}

func TestValidateRunbooks(t *testing.T) {
	t.Run("non-positive cache TTL rejected", func(t *testing.T) {
		cfg := validConfig()
		cfg.Runbooks = &RunbookConfig{CacheTTL: 0}
		err := NewValidator(cfg).ValidateAll()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "cache_ttl must be positive")
	})

	t.Run("empty allowed domain rejected", func(t *testing.T) {
		cfg := validConfig()
		cfg.Runbooks = &RunbookConfig{CacheTTL: time.Minute, AllowedDomains: []string{""}}
		err := NewValidator(cfg).ValidateAll()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "allowed_domains[0] is empty")
	})
}
