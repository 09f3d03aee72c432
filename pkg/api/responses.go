package api

import (
	"github.com/tarsyhq/tarsy-pipeline/pkg/config"
	"github.com/tarsyhq/tarsy-pipeline/pkg/database"
	"github.com/tarsyhq/tarsy-pipeline/pkg/mcp"
	"github.com/tarsyhq/tarsy-pipeline/pkg/queue"
)

// SubmitAlertResponse acknowledges an accepted submission.
type SubmitAlertResponse struct {
	AlertID   string `json:"alert_id"`
	SessionID string `json:"session_id"`
	Status    string `json:"status"`
}

// ErrorResponse is the uniform error envelope.
type ErrorResponse struct {
	Error string `json:"error"`
}

// ConfigurationStats summarizes registry load state for /health.
type ConfigurationStats struct {
	Agents       int `json:"agents"`
	Chains       int `json:"chains"`
	MCPServers   int `json:"mcp_servers"`
	LLMProviders int `json:"llm_providers"`
}

// HealthResponse is the GET /health payload: audit-store connectivity,
// registry load state, worker pool, and MCP server health.
type HealthResponse struct {
	Status        string                       `json:"status"`
	Version       string                       `json:"version,omitempty"`
	Database      *database.HealthStatus       `json:"database,omitempty"`
	Configuration ConfigurationStats           `json:"configuration"`
	WorkerPool    *queue.PoolHealth            `json:"worker_pool,omitempty"`
	MCPHealth     map[string]*mcp.HealthStatus `json:"mcp_health,omitempty"`
}

func statsFromConfig(cfg *config.Config) ConfigurationStats {
	stats := cfg.Stats()
	return ConfigurationStats{
		Agents:       stats.Agents,
		Chains:       stats.Chains,
		MCPServers:   stats.MCPServers,
		LLMProviders: stats.LLMProviders,
	}
}
