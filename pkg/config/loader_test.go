package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfigDir(t *testing.T, tarsyYAML, llmProvidersYAML string) string {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "tarsy.yaml"), []byte(tarsyYAML), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "llm-providers.yaml"), []byte(llmProvidersYAML), 0o644))
	return dir
}

const minimalLLMProviders = `
llm_providers:
  test-bedrock:
    type: bedrock
    model: anthropic.claude-3-5-sonnet-20241022-v2:0
    region: us-east-1
    max_tool_result_tokens: 100000
`

func TestInitialize(t *testing.T) {
	dir := writeConfigDir(t, `
mcp_servers:
  test-server:
    transport:
      type: stdio
      command: echo

agents:
  TestAgent:
    mcp_servers: [test-server]
    default_strategy: react

agent_chains:
  test-chain:
    alert_types: [test-alert]
    stages:
      - name: investigate
        agent: TestAgent

defaults:
  llm_provider: test-bedrock
`, minimalLLMProviders)

	cfg, err := Initialize(context.Background(), dir)
	require.NoError(t, err)

	// User config merged on top of built-ins.
	assert.True(t, cfg.ChainRegistry.Has("test-chain"))
	assert.True(t, cfg.ChainRegistry.Has("kubernetes-agent-chain"))
	assert.True(t, cfg.AgentRegistry.Has("TestAgent"))
	assert.True(t, cfg.AgentRegistry.Has("KubernetesAgent"))
	assert.True(t, cfg.MCPServerRegistry.Has("test-server"))
	assert.True(t, cfg.LLMProviderRegistry.Has("test-bedrock"))

	chain, err := cfg.GetChainByAlertType("test-alert")
	require.NoError(t, err)
	require.Len(t, chain.Stages, 1)
	assert.Equal(t, "TestAgent", chain.Stages[0].AgentID)

	// Resolved defaults.
	assert.Equal(t, "test-bedrock", cfg.Defaults.LLMProvider)
	assert.Equal(t, DefaultMaxConcurrentAlerts, cfg.Defaults.MaxConcurrentAlerts)
	assert.Equal(t, DefaultLLMTimeout, cfg.Defaults.LLMTimeout)
	assert.Equal(t, DefaultMCPTimeout, cfg.Defaults.MCPTimeout)
	require.NotNil(t, cfg.Queue)
	assert.Equal(t, DefaultMaxConcurrentAlerts, cfg.Queue.MaxConcurrentAlerts)
	require.NotNil(t, cfg.Runbooks)
	assert.Equal(t, time.Minute, cfg.Runbooks.CacheTTL)
	assert.Contains(t, cfg.Runbooks.AllowedDomains, "github.com")
}

func TestInitializeConfigNotFound(t *testing.T) {
	_, err := Initialize(context.Background(), t.TempDir())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrConfigNotFound)
}

func TestInitializeInvalidYAML(t *testing.T) {
	dir := writeConfigDir(t, "agents:\n  broken: [unclosed", minimalLLMProviders)

	_, err := Initialize(context.Background(), dir)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidYAML)
}

func TestInitializeValidationFailure(t *testing.T) {
	// Two chains claiming the same alert type must be rejected outright.
	dir := writeConfigDir(t, `
agent_chains:
  chain-a:
    alert_types: [dup-alert]
    stages:
      - name: s1
        agent: KubernetesAgent
  chain-b:
    alert_types: [dup-alert]
    stages:
      - name: s1
        agent: KubernetesAgent
`, minimalLLMProviders)

	_, err := Initialize(context.Background(), dir)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already mapped")
}

func TestInitializeEnvExpansion(t *testing.T) {
	t.Setenv("TEST_MCP_URL", "https://mcp.example.com")

	dir := writeConfigDir(t, `
mcp_servers:
  env-server:
    transport:
      type: http
      url: "{{.TEST_MCP_URL}}"
`, minimalLLMProviders)

	cfg, err := Initialize(context.Background(), dir)
	require.NoError(t, err)

	server, err := cfg.GetMCPServer("env-server")
	require.NoError(t, err)
	assert.Equal(t, "https://mcp.example.com", server.Transport.URL)
}

func TestInitializeSystemOverrides(t *testing.T) {
	dir := writeConfigDir(t, `
system:
  github:
    token_env: CUSTOM_GH_TOKEN
  runbooks:
    cache_ttl: 5m
    allowed_domains: [runbooks.example.com]
  retention:
    session_retention_days: 30

queue:
  max_concurrent_alerts: 2
`, minimalLLMProviders)

	cfg, err := Initialize(context.Background(), dir)
	require.NoError(t, err)

	assert.Equal(t, "CUSTOM_GH_TOKEN", cfg.GitHub.TokenEnv)
	assert.Equal(t, 5*time.Minute, cfg.Runbooks.CacheTTL)
	assert.Equal(t, []string{"runbooks.example.com"}, cfg.Runbooks.AllowedDomains)
	assert.Equal(t, 30, cfg.Retention.SessionRetentionDays)
	assert.Equal(t, 2, cfg.Queue.MaxConcurrentAlerts)
}
