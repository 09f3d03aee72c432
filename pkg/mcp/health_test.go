package mcp

import (
	"context"
	"testing"
	"time"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tarsyhq/tarsy-pipeline/pkg/config"
)

func newTestMonitor(t *testing.T) (*HealthMonitor, *Client) {
	t.Helper()
	registry := config.NewMCPServerRegistry(nil)
	monitor := NewHealthMonitor(NewClientFactory(registry), registry)
	monitor.checkInterval = 50 * time.Millisecond
	monitor.pingTimeout = 5 * time.Second

	client := newClient(registry)
	t.Cleanup(func() { _ = client.Close() })
	monitor.client = client
	return monitor, client
}

func TestHealthMonitor_HealthyServer(t *testing.T) {
	ts := startTestServer(t, "test-server", map[string]mcpsdk.ToolHandler{
		"get_pods": func(_ context.Context, _ *mcpsdk.CallToolRequest) (*mcpsdk.CallToolResult, error) {
			return &mcpsdk.CallToolResult{Content: []mcpsdk.Content{&mcpsdk.TextContent{Text: "ok"}}}, nil
		},
	})

	monitor, client := newTestMonitor(t)
	wireSession(t, client, "test-server", ts.clientTransport)

	monitor.checkServer(context.Background(), "test-server")

	statuses := monitor.GetStatuses()
	require.Contains(t, statuses, "test-server")
	assert.True(t, statuses["test-server"].Healthy)
	assert.Equal(t, 1, statuses["test-server"].ToolCount)
	assert.True(t, monitor.IsHealthy())

	cached := monitor.GetCachedTools()
	assert.Contains(t, cached, "test-server")
	assert.Len(t, cached["test-server"], 1)
}

func TestHealthMonitor_UnhealthyServer(t *testing.T) {
	monitor, _ := newTestMonitor(t)
	monitor.pingTimeout = time.Second

	// No session exists for the probed server.
	monitor.checkServer(context.Background(), "broken-server")

	statuses := monitor.GetStatuses()
	require.Contains(t, statuses, "broken-server")
	assert.False(t, statuses["broken-server"].Healthy)
	assert.NotEmpty(t, statuses["broken-server"].Error)
	assert.False(t, monitor.IsHealthy())
}

func TestHealthMonitor_IsHealthyBeforeFirstCheck(t *testing.T) {
	monitor, _ := newTestMonitor(t)
	assert.False(t, monitor.IsHealthy())
}

func TestHealthMonitor_StartStop(t *testing.T) {
	registry := config.NewMCPServerRegistry(nil)
	monitor := NewHealthMonitor(NewClientFactory(registry), registry)
	monitor.checkInterval = 20 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	monitor.Start(ctx)
	time.Sleep(60 * time.Millisecond)
	monitor.Stop()

	// Stop clears stale state; a second Start/Stop cycle must work.
	assert.Empty(t, monitor.GetStatuses())
	monitor.Start(ctx)
	monitor.Stop()
}
