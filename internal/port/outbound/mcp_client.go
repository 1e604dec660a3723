// Package outbound defines the outbound port interfaces for connecting
// to upstream MCP servers.
package outbound

import (
	"context"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// UpstreamClient is the outbound port for one connection to an upstream MCP
// server. Adapters implement this over the supported transports.
type UpstreamClient interface {
	// ListTools fetches the upstream's advertised tools.
	ListTools(ctx context.Context) ([]*mcp.Tool, error)

	// CallTool invokes one tool by its upstream (wire) name.
	CallTool(ctx context.Context, name string, arguments map[string]any) (*mcp.CallToolResult, error)

	// Close terminates the upstream connection and cleans up resources.
	Close() error
}

// ClientFactory mints a connected client for an endpoint with a fixed header
// set. The manager uses it for both the persistent discovery clients and the
// short-lived execution clients; tests substitute fakes.
type ClientFactory func(ctx context.Context, endpoint string, headers map[string]string) (UpstreamClient, error)
