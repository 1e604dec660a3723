package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"sync"

	sdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/fastmcp-gateway/fastmcp-gateway/internal/domain/registry"
	"github.com/fastmcp-gateway/fastmcp-gateway/internal/port/outbound"
)

// UpstreamConfig describes one upstream MCP server.
type UpstreamConfig struct {
	Domain        string
	URL           string
	Description   string
	StaticHeaders map[string]string
}

// upstreamConn pairs an upstream's config with its persistent discovery
// client. The client is dialed lazily on first populate and kept for the
// life of the upstream.
type upstreamConn struct {
	config UpstreamConfig
	client outbound.UpstreamClient
}

// UpstreamManager owns all upstream connections. Persistent discovery clients
// carry only static headers; execution clients are minted per call and carry
// the merged per-request header set.
type UpstreamManager struct {
	registry          *registry.Registry
	factory           outbound.ClientFactory
	registryAuthToken string
	logger            *slog.Logger

	mu        sync.Mutex
	upstreams map[string]*upstreamConn
	closed    bool
}

// ManagerOption configures an UpstreamManager.
type ManagerOption func(*UpstreamManager)

// WithRegistryAuthToken attaches a bearer token to every discovery client.
func WithRegistryAuthToken(token string) ManagerOption {
	return func(m *UpstreamManager) {
		m.registryAuthToken = token
	}
}

// WithManagerLogger sets the manager logger.
func WithManagerLogger(logger *slog.Logger) ManagerOption {
	return func(m *UpstreamManager) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// NewUpstreamManager creates a manager populating the given registry through
// clients minted by factory.
func NewUpstreamManager(reg *registry.Registry, factory outbound.ClientFactory, opts ...ManagerOption) *UpstreamManager {
	m := &UpstreamManager{
		registry:  reg,
		factory:   factory,
		logger:    slog.Default(),
		upstreams: make(map[string]*upstreamConn),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.logger = m.logger.With("component", "upstream_manager")
	return m
}

// RegisterUpstream records an upstream without dialing it. Used at startup
// before PopulateAll fans out.
func (m *UpstreamManager) RegisterUpstream(cfg UpstreamConfig) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.upstreams[cfg.Domain] = &upstreamConn{config: cfg}
}

// AddUpstream upserts an upstream and populates its domain. Re-registration
// replaces the stored config wholesale, so previously stored static headers
// do not survive a registration that omits them. The old discovery client,
// if any, is closed.
func (m *UpstreamManager) AddUpstream(ctx context.Context, cfg UpstreamConfig) (registry.Diff, error) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return registry.Diff{}, fmt.Errorf("upstream manager is closed")
	}
	var oldClient outbound.UpstreamClient
	if existing, ok := m.upstreams[cfg.Domain]; ok {
		oldClient = existing.client
	}
	m.upstreams[cfg.Domain] = &upstreamConn{config: cfg}
	m.mu.Unlock()

	if oldClient != nil {
		if err := oldClient.Close(); err != nil {
			m.logger.Warn("close replaced discovery client", "domain", cfg.Domain, "error", err)
		}
	}

	return m.PopulateDomain(ctx, cfg.Domain)
}

// RemoveUpstream closes the discovery client and drops the domain from the
// registry. Removing an unknown domain is a no-op.
func (m *UpstreamManager) RemoveUpstream(domain string) {
	m.mu.Lock()
	conn, ok := m.upstreams[domain]
	delete(m.upstreams, domain)
	m.mu.Unlock()

	if ok && conn.client != nil {
		if err := conn.client.Close(); err != nil {
			m.logger.Warn("close discovery client", "domain", domain, "error", err)
		}
	}
	m.registry.RemoveDomain(domain)
}

// PopulateAll fans out discovery to every registered upstream. Per-domain
// failures are logged and skipped; the returned diffs cover the successes.
func (m *UpstreamManager) PopulateAll(ctx context.Context) []registry.Diff {
	diffs, _ := m.refresh(ctx)
	return diffs
}

// RefreshAll re-discovers every upstream. Domains that fail keep their
// previous registry snapshot and are reported in failed.
func (m *UpstreamManager) RefreshAll(ctx context.Context) (diffs []registry.Diff, failed []string) {
	return m.refresh(ctx)
}

func (m *UpstreamManager) refresh(ctx context.Context) (diffs []registry.Diff, failed []string) {
	for _, domain := range m.Domains() {
		if ctx.Err() != nil {
			// Cancelled mid-refresh. Domains already processed have complete
			// snapshots; the rest keep their previous ones.
			break
		}
		diff, err := m.PopulateDomain(ctx, domain)
		if err != nil {
			m.logger.Warn("upstream discovery failed, keeping previous snapshot",
				"domain", domain, "error", err)
			failed = append(failed, domain)
			continue
		}
		m.logger.Info("populated domain", "domain", domain, "tools", diff.ToolCount,
			"added", len(diff.Added), "removed", len(diff.Removed))
		diffs = append(diffs, diff)
	}
	return diffs, failed
}

// PopulateDomain discovers one upstream's tools and replaces its registry
// slice. On any error the registry is left untouched.
func (m *UpstreamManager) PopulateDomain(ctx context.Context, domain string) (registry.Diff, error) {
	client, cfg, err := m.discoveryClient(ctx, domain)
	if err != nil {
		return registry.Diff{}, err
	}

	tools, err := client.ListTools(ctx)
	if err != nil {
		m.dropDiscoveryClient(domain, client)
		return registry.Diff{}, fmt.Errorf("list tools for domain %s: %w", domain, err)
	}

	specs := make([]registry.ToolSpec, 0, len(tools))
	for _, t := range tools {
		specs = append(specs, toolSpec(t))
	}
	return m.registry.PopulateDomain(domain, specs, cfg.Description), nil
}

// Execute routes one tool call to the owning upstream over a fresh execution
// client carrying the merged header set. The wire name is always the
// original upstream name, never the gateway-prefixed one.
func (m *UpstreamManager) Execute(ctx context.Context, entry *registry.ToolEntry, arguments map[string]any, incoming http.Header, extra map[string]string) (*sdk.CallToolResult, error) {
	cfg, ok := m.upstreamConfig(entry.Domain)
	if !ok {
		return nil, fmt.Errorf("no upstream configured for domain %s", entry.Domain)
	}

	headers := mergeExecutionHeaders(incoming, cfg.StaticHeaders, extra)
	client, err := m.factory(ctx, cfg.URL, headers)
	if err != nil {
		return nil, fmt.Errorf("connect to upstream %s: %w", entry.Domain, err)
	}
	defer func() {
		if cerr := client.Close(); cerr != nil {
			m.logger.Warn("close execution client", "domain", entry.Domain, "error", cerr)
		}
	}()

	result, err := client.CallTool(ctx, entry.OriginalName, arguments)
	if err != nil {
		return nil, fmt.Errorf("call %s on upstream %s: %w", entry.OriginalName, entry.Domain, err)
	}
	return result, nil
}

// ListUpstreams returns the domain -> URL snapshot.
func (m *UpstreamManager) ListUpstreams() map[string]string {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make(map[string]string, len(m.upstreams))
	for domain, conn := range m.upstreams {
		out[domain] = conn.config.URL
	}
	return out
}

// Domains returns the registered domain names, sorted.
func (m *UpstreamManager) Domains() []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	domains := make([]string, 0, len(m.upstreams))
	for d := range m.upstreams {
		domains = append(domains, d)
	}
	sort.Strings(domains)
	return domains
}

// HasUpstream reports whether the domain is configured.
func (m *UpstreamManager) HasUpstream(domain string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	_, ok := m.upstreams[domain]
	return ok
}

// Close tears down every discovery client. Clients are collected under the
// lock and closed outside it.
func (m *UpstreamManager) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	var clients []outbound.UpstreamClient
	for _, conn := range m.upstreams {
		if conn.client != nil {
			clients = append(clients, conn.client)
			conn.client = nil
		}
	}
	m.mu.Unlock()

	var firstErr error
	for _, c := range clients {
		if err := c.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// discoveryClient returns the persistent client for a domain, dialing it on
// first use.
func (m *UpstreamManager) discoveryClient(ctx context.Context, domain string) (outbound.UpstreamClient, UpstreamConfig, error) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil, UpstreamConfig{}, fmt.Errorf("upstream manager is closed")
	}
	conn, ok := m.upstreams[domain]
	if !ok {
		m.mu.Unlock()
		return nil, UpstreamConfig{}, fmt.Errorf("unknown domain %s", domain)
	}
	if conn.client != nil {
		client, cfg := conn.client, conn.config
		m.mu.Unlock()
		return client, cfg, nil
	}
	cfg := conn.config
	m.mu.Unlock()

	client, err := m.factory(ctx, cfg.URL, m.discoveryHeaders(cfg))
	if err != nil {
		return nil, UpstreamConfig{}, fmt.Errorf("connect discovery client for %s: %w", domain, err)
	}

	m.mu.Lock()
	current, stillThere := m.upstreams[domain]
	if !stillThere || m.closed {
		m.mu.Unlock()
		_ = client.Close()
		return nil, UpstreamConfig{}, fmt.Errorf("domain %s removed during connect", domain)
	}
	if current.client != nil {
		// Lost the dial race; use the winner.
		winner := current.client
		m.mu.Unlock()
		_ = client.Close()
		return winner, cfg, nil
	}
	current.client = client
	m.mu.Unlock()
	return client, cfg, nil
}

// dropDiscoveryClient discards a broken discovery client so the next populate
// redials.
func (m *UpstreamManager) dropDiscoveryClient(domain string, client outbound.UpstreamClient) {
	m.mu.Lock()
	if conn, ok := m.upstreams[domain]; ok && conn.client == client {
		conn.client = nil
	}
	m.mu.Unlock()
	_ = client.Close()
}

// discoveryHeaders builds the header set for a discovery client: the registry
// auth token plus static domain headers, with static headers winning.
func (m *UpstreamManager) discoveryHeaders(cfg UpstreamConfig) map[string]string {
	headers := make(map[string]string, len(cfg.StaticHeaders)+1)
	if m.registryAuthToken != "" {
		headers["Authorization"] = "Bearer " + m.registryAuthToken
	}
	for k, v := range cfg.StaticHeaders {
		headers[k] = v
	}
	return headers
}

func (m *UpstreamManager) upstreamConfig(domain string) (UpstreamConfig, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	conn, ok := m.upstreams[domain]
	if !ok {
		return UpstreamConfig{}, false
	}
	return conn.config, true
}

// toolSpec converts an MCP tool advertisement into registry input.
func toolSpec(t *sdk.Tool) registry.ToolSpec {
	spec := registry.ToolSpec{
		Name:        t.Name,
		Description: t.Description,
	}
	if t.InputSchema != nil {
		if raw, err := json.Marshal(t.InputSchema); err == nil {
			spec.InputSchema = raw
		}
	}
	if t.Annotations != nil {
		if raw, err := json.Marshal(t.Annotations); err == nil {
			var ann map[string]any
			if err := json.Unmarshal(raw, &ann); err == nil && len(ann) > 0 {
				spec.Annotations = ann
			}
		}
	}
	return spec
}
