// Package mcp implements the outbound client adapter for upstream MCP
// servers on top of the official go-sdk.
package mcp

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	sdk "github.com/modelcontextprotocol/go-sdk/mcp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"

	"github.com/fastmcp-gateway/fastmcp-gateway/internal/port/outbound"
)

// defaultTimeout bounds each upstream request when no timeout is configured.
const defaultTimeout = 30 * time.Second

type clientState int

const (
	stateNew clientState = iota
	stateConnected
	stateClosed
)

// Client is an UpstreamClient over the streamable HTTP transport, falling
// back to SSE when the upstream only speaks the older transport.
type Client struct {
	endpoint string
	headers  map[string]string
	timeout  time.Duration
	impl     *sdk.Implementation
	logger   *slog.Logger

	mu      sync.Mutex
	state   clientState
	session *sdk.ClientSession
}

// Option configures a Client.
type Option func(*Client)

// WithTimeout sets the per-request timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithLogger sets the client logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithImplementation sets the client identity sent in the MCP handshake.
func WithImplementation(name, version string) Option {
	return func(c *Client) {
		c.impl = &sdk.Implementation{Name: name, Version: version}
	}
}

// NewClient creates an unconnected client for the given endpoint. The headers
// are attached to every HTTP request of the session.
func NewClient(endpoint string, headers map[string]string, opts ...Option) *Client {
	c := &Client{
		endpoint: endpoint,
		headers:  headers,
		timeout:  defaultTimeout,
		impl:     &sdk.Implementation{Name: "fastmcp-gateway", Version: "dev"},
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Connect performs the MCP handshake. It tries the streamable HTTP transport
// first and falls back to SSE.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch c.state {
	case stateConnected:
		return nil
	case stateClosed:
		return fmt.Errorf("client for %s is closed", c.endpoint)
	}

	httpClient := &http.Client{
		Transport: headerRoundTripper{headers: c.headers},
		Timeout:   c.timeout,
	}
	client := sdk.NewClient(c.impl, nil)

	session, err := client.Connect(ctx, &sdk.StreamableClientTransport{
		Endpoint:   c.endpoint,
		HTTPClient: httpClient,
	}, nil)
	if err != nil {
		c.logger.Debug("streamable transport failed, trying SSE",
			"endpoint", c.endpoint, "error", err)
		sseSession, sseErr := client.Connect(ctx, &sdk.SSEClientTransport{
			Endpoint:   c.endpoint,
			HTTPClient: httpClient,
		}, nil)
		if sseErr != nil {
			return fmt.Errorf("connect to %s: %w (sse fallback: %v)", c.endpoint, err, sseErr)
		}
		session = sseSession
	}

	c.session = session
	c.state = stateConnected
	return nil
}

// ListTools fetches the upstream's advertised tools.
func (c *Client) ListTools(ctx context.Context) ([]*sdk.Tool, error) {
	session, err := c.currentSession()
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	result, err := session.ListTools(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("list tools from %s: %w", c.endpoint, err)
	}
	return result.Tools, nil
}

// CallTool invokes one tool by its upstream name. Trace context, when
// present, is forwarded in the call's _meta field.
func (c *Client) CallTool(ctx context.Context, name string, arguments map[string]any) (*sdk.CallToolResult, error) {
	session, err := c.currentSession()
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	if arguments == nil {
		arguments = map[string]any{}
	}
	params := &sdk.CallToolParams{Name: name, Arguments: arguments}
	if meta := traceMeta(ctx); meta != nil {
		params.Meta = meta
	}

	result, err := session.CallTool(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("call tool %s on %s: %w", name, c.endpoint, err)
	}
	return result, nil
}

// Close terminates the session. Safe to call more than once.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state == stateClosed {
		return nil
	}
	c.state = stateClosed

	if c.session == nil {
		return nil
	}
	session := c.session
	c.session = nil
	return session.Close()
}

func (c *Client) currentSession() (*sdk.ClientSession, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != stateConnected || c.session == nil {
		return nil, fmt.Errorf("client for %s is not connected", c.endpoint)
	}
	return c.session, nil
}

// headerRoundTripper injects a fixed header set into every request. Requests
// are cloned so the transport never mutates the caller's request.
type headerRoundTripper struct {
	base    http.RoundTripper
	headers map[string]string
}

func (rt headerRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	base := rt.base
	if base == nil {
		base = http.DefaultTransport
	}
	cloned := req.Clone(req.Context())
	for k, v := range rt.headers {
		cloned.Header.Set(k, v)
	}
	return base.RoundTrip(cloned)
}

// traceMeta extracts the active trace context as MCP call metadata.
func traceMeta(ctx context.Context) sdk.Meta {
	carrier := propagation.MapCarrier{}
	otel.GetTextMapPropagator().Inject(ctx, carrier)
	if len(carrier) == 0 {
		return nil
	}
	meta := make(sdk.Meta, len(carrier))
	for k, v := range carrier {
		meta[k] = v
	}
	return meta
}

// Factory returns an outbound.ClientFactory minting connected clients with
// the given defaults.
func Factory(timeout time.Duration, implName, implVersion string, logger *slog.Logger) outbound.ClientFactory {
	return func(ctx context.Context, endpoint string, headers map[string]string) (outbound.UpstreamClient, error) {
		c := NewClient(endpoint, headers,
			WithTimeout(timeout),
			WithImplementation(implName, implVersion),
			WithLogger(logger),
		)
		if err := c.Connect(ctx); err != nil {
			return nil, err
		}
		return c, nil
	}
}

var _ outbound.UpstreamClient = (*Client)(nil)
