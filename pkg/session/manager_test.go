package session

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tarsyhq/tarsy-pipeline/pkg/agent/prompt"
	"github.com/tarsyhq/tarsy-pipeline/pkg/config"
	"github.com/tarsyhq/tarsy-pipeline/pkg/events"
	"github.com/tarsyhq/tarsy-pipeline/pkg/mcp"
	"github.com/tarsyhq/tarsy-pipeline/pkg/services"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	disabled := false
	mcpRegistry := config.NewMCPServerRegistry(map[string]*config.MCPServerConfig{
		"k8s": {Transport: config.TransportConfig{Type: config.TransportTypeStdio, Command: "echo"}},
		"off": {Enabled: &disabled, Transport: config.TransportConfig{Type: config.TransportTypeStdio, Command: "echo"}},
	})
	return &config.Config{
		Defaults: &config.Defaults{LLMProvider: "default-provider"},
		AgentRegistry: config.NewAgentRegistry(map[string]*config.AgentConfig{
			"collector": {MCPServers: []string{"k8s", "off"}},
			"analyst":   {DefaultStrategy: config.StrategyReactFinalAnalysis},
		}),
		ChainRegistry:     config.NewChainRegistry(nil),
		MCPServerRegistry: mcpRegistry,
		LLMProviderRegistry: config.NewLLMProviderRegistry(map[string]*config.LLMProviderConfig{
			"default-provider": {
				Type:      config.LLMProviderTypeAnthropic,
				Model:     "claude-sonnet-4-20250514",
				APIKeyEnv: "SESSION_TEST_KEY",
			},
		}),
	}
}

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	cfg := testConfig(t)
	bus := events.NewBus(events.NewSessionClock())
	t.Cleanup(bus.Close)
	factory := mcp.NewTestClientFactory(cfg.MCPServerRegistry, func(*mcp.Client) {})
	return NewManager(cfg, bus, prompt.NewBuilder(cfg.MCPServerRegistry), factory, nil)
}

func TestAgentForUnknownAgent(t *testing.T) {
	m := newTestManager(t)
	_, err := m.AgentFor(context.Background(), "s-1",
		&services.ChainSnapshot{ChainID: "c"},
		&services.StageSnapshot{Name: "s", AgentID: "ghost"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "agent not found")
}

func TestAgentForMissingCredentialSurfaces(t *testing.T) {
	t.Setenv("SESSION_TEST_KEY", "")
	m := newTestManager(t)

	_, err := m.AgentFor(context.Background(), "s-1",
		&services.ChainSnapshot{ChainID: "c"},
		&services.StageSnapshot{Name: "s", AgentID: "analyst"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "SESSION_TEST_KEY")
}

func TestAgentForBuildsRuntimeAndCachesLLMClient(t *testing.T) {
	t.Setenv("SESSION_TEST_KEY", "sk-test")
	m := newTestManager(t)

	chain := &services.ChainSnapshot{ChainID: "c"}
	first, err := m.AgentFor(context.Background(), "s-1", chain,
		&services.StageSnapshot{Name: "collect", AgentID: "collector"})
	require.NoError(t, err)
	require.NotNil(t, first)

	second, err := m.AgentFor(context.Background(), "s-1", chain,
		&services.StageSnapshot{Name: "analyze", AgentID: "analyst"})
	require.NoError(t, err)
	require.NotNil(t, second)

	// One shared LLM client per provider name.
	m.mu.Lock()
	assert.Len(t, m.llmClients, 1)
	m.mu.Unlock()
}

func TestResolveServersPrecedenceAndEnabledFilter(t *testing.T) {
	m := newTestManager(t)
	agentCfg := &config.AgentConfig{MCPServers: []string{"k8s", "off"}}

	// Disabled and unknown servers are dropped.
	resolved := m.resolveServers(agentCfg, &services.ChainSnapshot{}, &services.StageSnapshot{})
	assert.Equal(t, []string{"k8s"}, resolved)

	// A stage-level override beats the agent's assignment.
	resolved = m.resolveServers(agentCfg, &services.ChainSnapshot{},
		&services.StageSnapshot{MCPServers: []string{"off"}})
	assert.Empty(t, resolved)

	// Chain servers apply only when agent and stage specify none.
	resolved = m.resolveServers(&config.AgentConfig{},
		&services.ChainSnapshot{MCPServers: []string{"k8s"}}, &services.StageSnapshot{})
	assert.Equal(t, []string{"k8s"}, resolved)
}

func TestReleaseClosesSessionClients(t *testing.T) {
	t.Setenv("SESSION_TEST_KEY", "sk-test")
	m := newTestManager(t)

	_, err := m.AgentFor(context.Background(), "s-1",
		&services.ChainSnapshot{ChainID: "c"},
		&services.StageSnapshot{Name: "collect", AgentID: "collector"})
	require.NoError(t, err)

	m.mu.Lock()
	assert.Len(t, m.sessionClients["s-1"], 1)
	m.mu.Unlock()

	m.Release("s-1")

	m.mu.Lock()
	assert.Empty(t, m.sessionClients["s-1"])
	m.mu.Unlock()
}
