// Package session provides the session-scoped wiring between the
// orchestrator and the agent runtime: per-session MCP connections, shared
// LLM clients, and per-stage runtime construction.
package session

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"github.com/tarsyhq/tarsy-pipeline/pkg/agent"
	"github.com/tarsyhq/tarsy-pipeline/pkg/agent/controller"
	"github.com/tarsyhq/tarsy-pipeline/pkg/agent/prompt"
	"github.com/tarsyhq/tarsy-pipeline/pkg/config"
	"github.com/tarsyhq/tarsy-pipeline/pkg/events"
	"github.com/tarsyhq/tarsy-pipeline/pkg/llm"
	"github.com/tarsyhq/tarsy-pipeline/pkg/masking"
	"github.com/tarsyhq/tarsy-pipeline/pkg/mcp"
	"github.com/tarsyhq/tarsy-pipeline/pkg/services"
)

// Manager implements services.AgentFactory. MCP clients are created lazily
// per (session, server set) and shared by the session's stages, so the tool
// catalog cache and server connections live for the whole alert. LLM
// clients are shared across sessions — they are stateless per call.
type Manager struct {
	cfg        *config.Config
	bus        *events.Bus
	prompts    *prompt.Builder
	mcpFactory *mcp.ClientFactory
	masking    *masking.MaskingService // nil disables tool-result masking

	mu             sync.Mutex
	llmClients     map[string]llm.Client
	sessionClients map[string]map[string]*mcp.Client
}

// NewManager creates the factory. maskingSvc may be nil (masking disabled).
func NewManager(cfg *config.Config, bus *events.Bus, prompts *prompt.Builder, mcpFactory *mcp.ClientFactory, maskingSvc *masking.MaskingService) *Manager {
	if cfg == nil {
		panic("session.NewManager: cfg must not be nil")
	}
	if bus == nil {
		panic("session.NewManager: bus must not be nil")
	}
	if prompts == nil {
		panic("session.NewManager: prompts must not be nil")
	}
	return &Manager{
		cfg:            cfg,
		bus:            bus,
		prompts:        prompts,
		mcpFactory:     mcpFactory,
		masking:        maskingSvc,
		llmClients:     make(map[string]llm.Client),
		sessionClients: make(map[string]map[string]*mcp.Client),
	}
}

// AgentFor builds the runtime for one stage execution.
func (m *Manager) AgentFor(ctx context.Context, sessionID string, chain *services.ChainSnapshot, stage *services.StageSnapshot) (services.StageAgent, error) {
	agentCfg, err := m.cfg.AgentRegistry.Get(stage.AgentID)
	if err != nil {
		return nil, err
	}

	llmClient, err := m.llmClientFor(agentCfg, chain)
	if err != nil {
		return nil, err
	}

	var toolExecutor agent.ToolExecutor
	serverIDs := m.resolveServers(agentCfg, chain, stage)
	if len(serverIDs) > 0 {
		client, err := m.mcpClientFor(ctx, sessionID, serverIDs)
		if err != nil {
			return nil, fmt.Errorf("failed to connect MCP servers for agent %q: %w", stage.AgentID, err)
		}
		executor := mcp.NewToolExecutor(client, m.cfg.MCPServerRegistry, serverIDs)
		if m.masking != nil {
			executor = executor.WithMasking(m.masking)
		}
		toolExecutor = executor
	}

	return agent.NewRuntime(
		stage.AgentID,
		agentCfg,
		llmClient,
		toolExecutor,
		m.prompts,
		m.bus,
		m.cfg.Defaults,
		controller.NewController,
	), nil
}

// Release closes every MCP client the session opened.
func (m *Manager) Release(sessionID string) {
	m.mu.Lock()
	clients := m.sessionClients[sessionID]
	delete(m.sessionClients, sessionID)
	m.mu.Unlock()

	for key, client := range clients {
		if err := client.Close(); err != nil {
			slog.Warn("Failed to close MCP client", "session_id", sessionID, "servers", key, "error", err)
		}
	}
}

// resolveServers applies the stage → agent → chain precedence for the MCP
// server subset and drops disabled servers.
func (m *Manager) resolveServers(agentCfg *config.AgentConfig, chain *services.ChainSnapshot, stage *services.StageSnapshot) []string {
	serverIDs := stage.MCPServers
	if len(serverIDs) == 0 {
		serverIDs = agentCfg.MCPServers
	}
	if len(serverIDs) == 0 {
		serverIDs = chain.MCPServers
	}

	enabled := make([]string, 0, len(serverIDs))
	for _, id := range serverIDs {
		server, err := m.cfg.MCPServerRegistry.Get(id)
		if err != nil {
			slog.Warn("MCP server not in registry, skipping", "server", id)
			continue
		}
		if !server.IsEnabled() {
			slog.Warn("MCP server disabled, skipping", "server", id)
			continue
		}
		enabled = append(enabled, id)
	}
	return enabled
}

// llmClientFor resolves the provider via agent → chain → system default and
// returns the shared client, constructing it on first use.
func (m *Manager) llmClientFor(agentCfg *config.AgentConfig, chain *services.ChainSnapshot) (llm.Client, error) {
	name := agentCfg.LLMProvider
	if name == "" {
		name = chain.LLMProvider
	}
	if name == "" && m.cfg.Defaults != nil {
		name = m.cfg.Defaults.LLMProvider
	}
	if name == "" {
		return nil, fmt.Errorf("no LLM provider configured (agent, chain, and system default all empty)")
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if client, ok := m.llmClients[name]; ok {
		return client, nil
	}

	providerCfg, err := m.cfg.LLMProviderRegistry.Get(name)
	if err != nil {
		return nil, err
	}
	client, err := llm.NewClient(providerCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to build LLM client %q: %w", name, err)
	}
	m.llmClients[name] = client
	return client, nil
}

// mcpClientFor returns the session's client for a server set, creating and
// initializing it on first use. The cache key is the sorted server list, so
// stages sharing a server subset share connections and tool caches.
func (m *Manager) mcpClientFor(ctx context.Context, sessionID string, serverIDs []string) (*mcp.Client, error) {
	sorted := make([]string, len(serverIDs))
	copy(sorted, serverIDs)
	sort.Strings(sorted)
	key := strings.Join(sorted, ",")

	m.mu.Lock()
	if clients, ok := m.sessionClients[sessionID]; ok {
		if client, ok := clients[key]; ok {
			m.mu.Unlock()
			return client, nil
		}
	}
	m.mu.Unlock()

	client, err := m.mcpFactory.CreateClient(ctx, serverIDs)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sessionClients[sessionID] == nil {
		m.sessionClients[sessionID] = make(map[string]*mcp.Client)
	}
	if existing, ok := m.sessionClients[sessionID][key]; ok {
		// Lost the creation race; keep the first client.
		_ = client.Close()
		return existing, nil
	}
	m.sessionClients[sessionID][key] = client
	return client, nil
}
