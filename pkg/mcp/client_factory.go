package mcp

import (
	"context"

	"github.com/tarsyhq/tarsy-pipeline/pkg/config"
)

// ClientFactory creates session-scoped Client instances.
type ClientFactory struct {
	registry *config.MCPServerRegistry

	// createClientFn overrides client construction; test seam used by
	// NewTestClientFactory to inject in-memory sessions.
	createClientFn func(ctx context.Context, serverIDs []string) (*Client, error)
}

// NewClientFactory creates a new factory.
func NewClientFactory(registry *config.MCPServerRegistry) *ClientFactory {
	return &ClientFactory{registry: registry}
}

// CreateClient creates a Client and eagerly connects the given servers.
// Connection failures are recorded on the client rather than failing the
// session — tool listing degrades to the servers that did come up. The
// caller owns the client and must Close it when the session finishes.
func (f *ClientFactory) CreateClient(ctx context.Context, serverIDs []string) (*Client, error) {
	if f.createClientFn != nil {
		return f.createClientFn(ctx, serverIDs)
	}
	client := newClient(f.registry)
	if err := client.Initialize(ctx, serverIDs); err != nil {
		_ = client.Close()
		return nil, err
	}
	return client, nil
}
