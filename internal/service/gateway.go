package service

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/jsonschema-go/jsonschema"
	sdk "github.com/modelcontextprotocol/go-sdk/mcp"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/fastmcp-gateway/fastmcp-gateway/internal/ctxkey"
	"github.com/fastmcp-gateway/fastmcp-gateway/internal/domain/registry"
	"github.com/fastmcp-gateway/fastmcp-gateway/internal/observability"
)

// State is the gateway lifecycle state.
type State int32

const (
	StateConstructed State = iota
	StatePopulated
	StateRunning
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateConstructed:
		return "constructed"
	case StatePopulated:
		return "populated"
	case StateRunning:
		return "running"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Gateway wires the registry, upstream manager, hook runner, and meta-tool
// surface into one MCP server with a background refresh loop.
//
// Instructions are fixed at MCP server construction, so the gateway keeps the
// current server behind an atomic pointer and rebuilds it when the registry
// changes; new sessions see fresh instructions while existing sessions keep
// working against the server they connected to.
type Gateway struct {
	name               string
	version            string
	customInstructions string
	refreshInterval    time.Duration

	registry *registry.Registry
	manager  *UpstreamManager
	meta     *MetaTools
	logger   *slog.Logger
	tracer   trace.Tracer

	state       atomic.Int32
	populated   atomic.Bool
	server      atomic.Pointer[sdk.Server]
	fingerprint atomic.Uint64

	mu            sync.Mutex
	refreshCancel context.CancelFunc
	refreshDone   chan struct{}

	// prior holds every superseded server generation. Sessions stay bound to
	// the server they connected to, so each generation must keep receiving
	// tools/list_changed for as long as the process runs.
	prior []*sdk.Server
}

// GatewayOption configures a Gateway.
type GatewayOption func(*Gateway)

// WithInstructions overrides the dynamically built instructions. The custom
// string wins and is never rewritten on refresh.
func WithInstructions(instructions string) GatewayOption {
	return func(g *Gateway) {
		g.customInstructions = instructions
	}
}

// WithRefreshInterval enables the background refresh loop. Zero or negative
// disables it.
func WithRefreshInterval(interval time.Duration) GatewayOption {
	return func(g *Gateway) {
		g.refreshInterval = interval
	}
}

// WithVersion sets the version advertised in the MCP handshake.
func WithVersion(version string) GatewayOption {
	return func(g *Gateway) {
		g.version = version
	}
}

// WithTracer sets the tracer for meta-tool spans. Defaults to a noop tracer.
func WithTracer(tracer trace.Tracer) GatewayOption {
	return func(g *Gateway) {
		if tracer != nil {
			g.tracer = tracer
		}
	}
}

// WithGatewayLogger sets the gateway logger.
func WithGatewayLogger(logger *slog.Logger) GatewayOption {
	return func(g *Gateway) {
		if logger != nil {
			g.logger = logger
		}
	}
}

// NewGateway assembles the gateway. Call Populate before serving.
func NewGateway(name string, reg *registry.Registry, manager *UpstreamManager, meta *MetaTools, opts ...GatewayOption) *Gateway {
	g := &Gateway{
		name:     name,
		version:  "dev",
		registry: reg,
		manager:  manager,
		meta:     meta,
		logger:   slog.Default(),
		tracer:   noop.NewTracerProvider().Tracer("gateway"),
	}
	for _, opt := range opts {
		opt(g)
	}
	g.logger = g.logger.With("component", "gateway")
	g.state.Store(int32(StateConstructed))
	meta.SetChangeListener(g.RegistryChanged)
	g.rebuildServer()
	return g
}

// Populate fans out initial discovery to every upstream and moves the gateway
// to Populated. Unreachable upstreams are skipped; the gateway becomes ready
// as soon as one domain populates.
func (g *Gateway) Populate(ctx context.Context) []registry.Diff {
	diffs := g.manager.PopulateAll(ctx)
	if len(diffs) > 0 {
		g.populated.Store(true)
	}
	g.state.CompareAndSwap(int32(StateConstructed), int32(StatePopulated))
	g.RegistryChanged()
	g.logger.Info("initial population complete",
		"domains", len(diffs), "tools", g.registry.ToolCount(), "state", g.State().String())
	return diffs
}

// Start moves the gateway to Running and launches the refresh loop.
func (g *Gateway) Start() {
	g.state.CompareAndSwap(int32(StatePopulated), int32(StateRunning))

	g.mu.Lock()
	defer g.mu.Unlock()
	if g.refreshInterval <= 0 || g.refreshCancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	g.refreshCancel = cancel
	g.refreshDone = make(chan struct{})
	go g.refreshLoop(ctx)
}

// Stop cancels the refresh loop, waits for it, and closes the upstream
// manager. Cancellation never leaves a domain partially updated; per-domain
// replacement is atomic in the registry.
func (g *Gateway) Stop(ctx context.Context) error {
	g.mu.Lock()
	cancel := g.refreshCancel
	done := g.refreshDone
	g.refreshCancel = nil
	g.refreshDone = nil
	g.mu.Unlock()

	if cancel != nil {
		cancel()
		select {
		case <-done:
		case <-ctx.Done():
			g.logger.Warn("timed out waiting for refresh loop")
		}
	}

	err := g.manager.Close()
	g.state.Store(int32(StateStopped))
	g.logger.Info("gateway stopped")
	return err
}

// State returns the current lifecycle state.
func (g *Gateway) State() State {
	return State(g.state.Load())
}

// Ready reports whether the gateway can serve traffic: Populated or Running
// with at least one successfully populated domain.
func (g *Gateway) Ready() bool {
	st := g.State()
	if st != StatePopulated && st != StateRunning {
		return false
	}
	return g.populated.Load()
}

// Meta exposes the meta-tool surface, used by tests and the admin API.
func (g *Gateway) Meta() *MetaTools {
	return g.meta
}

// Manager exposes the upstream manager for the registration API.
func (g *Gateway) Manager() *UpstreamManager {
	return g.manager
}

// Registry exposes the tool registry for read-side handlers.
func (g *Gateway) Registry() *registry.Registry {
	return g.registry
}

// MCPHandler returns the streamable HTTP handler for /mcp. Each new session
// binds to the server current at connect time.
func (g *Gateway) MCPHandler() http.Handler {
	return sdk.NewStreamableHTTPHandler(func(*http.Request) *sdk.Server {
		return g.server.Load()
	}, nil)
}

// RegistryChanged re-checks the registry fingerprint after a mutation. On
// change it rebuilds the server (fresh instructions for new sessions) and
// re-registers a meta-tool on every superseded server generation, which makes
// all connected sessions receive notifications/tools/list_changed no matter
// how many changes ago they connected.
func (g *Gateway) RegistryChanged() {
	g.mu.Lock()
	defer g.mu.Unlock()

	newFP := g.registry.Fingerprint()
	if g.fingerprint.Load() == newFP {
		return
	}
	if g.registry.ToolCount() > 0 {
		g.populated.Store(true)
	}

	old := g.server.Load()
	g.rebuildServer()
	if old != nil {
		g.prior = append(g.prior, old)
	}
	for _, s := range g.prior {
		g.registerRefreshTool(s)
	}
	if len(g.prior) > 0 {
		g.logger.Debug("registry changed, sessions notified", "generations", len(g.prior))
	}
}

// refreshLoop periodically re-discovers all upstreams.
func (g *Gateway) refreshLoop(ctx context.Context) {
	defer close(g.refreshDone)

	ticker := time.NewTicker(g.refreshInterval)
	defer ticker.Stop()

	g.logger.Info("background refresh started", "interval", g.refreshInterval)
	for {
		select {
		case <-ctx.Done():
			g.logger.Info("background refresh stopped")
			return
		case <-ticker.C:
			diffs, failed := g.manager.RefreshAll(ctx)
			if len(failed) > 0 {
				g.logger.Warn("refresh completed with failures", "failed", failed)
			}
			changed := 0
			for _, d := range diffs {
				if !d.Empty() {
					changed++
				}
			}
			if changed > 0 {
				g.logger.Info("refresh changed registry", "domains_changed", changed)
			}
			g.RegistryChanged()
		}
	}
}

// rebuildServer constructs a fresh MCP server with current instructions and
// publishes it for new sessions.
func (g *Gateway) rebuildServer() {
	instructions := g.customInstructions
	if instructions == "" {
		instructions = buildInstructions(g.registry)
	}

	server := sdk.NewServer(
		&sdk.Implementation{Name: g.name, Version: g.version},
		&sdk.ServerOptions{Instructions: instructions, HasTools: true},
	)
	g.registerMetaTools(server)

	g.server.Store(server)
	g.fingerprint.Store(g.registry.Fingerprint())
}

// --- Meta-tool registration ---

type discoverArgs struct {
	Domain string `json:"domain,omitempty"`
	Group  string `json:"group,omitempty"`
	Query  string `json:"query,omitempty"`
}

type schemaArgs struct {
	ToolName string `json:"tool_name"`
}

type executeArgs struct {
	ToolName  string         `json:"tool_name"`
	Arguments map[string]any `json:"arguments,omitempty"`
}

func (g *Gateway) registerMetaTools(server *sdk.Server) {
	truth := true

	server.AddTool(&sdk.Tool{
		Name: "discover_tools",
		Description: "Browse available tools progressively. Call with no arguments to list " +
			"domains, with a domain to list its tools, with domain and group to narrow " +
			"further, or with a query to search across all domains.",
		InputSchema: &jsonschema.Schema{
			Type: "object",
			Properties: map[string]*jsonschema.Schema{
				"domain": {Type: "string", Description: "Domain to list tools for"},
				"group":  {Type: "string", Description: "Group within the domain"},
				"query":  {Type: "string", Description: "Keyword search across tool names and descriptions"},
			},
		},
		Annotations: &sdk.ToolAnnotations{Title: "Discover Tools", ReadOnlyHint: true},
	}, func(ctx context.Context, req *sdk.CallToolRequest) (*sdk.CallToolResult, error) {
		var args discoverArgs
		if err := unmarshalArgs(req, &args); err != nil {
			return errorResult(newGatewayError(CodeExecutionError, "invalid arguments")), nil
		}
		ctx, span := g.tracer.Start(ctx, observability.SpanDiscoverTools,
			trace.WithAttributes(attribute.String(observability.AttrDomain, args.Domain)))
		defer span.End()
		result, gerr := g.meta.DiscoverTools(ctx, headersFromContext(ctx), args.Domain, args.Group, args.Query)
		return shapeResult(result, gerr), nil
	})

	server.AddTool(&sdk.Tool{
		Name:        "get_tool_schema",
		Description: "Get a tool's parameter schema before executing it. Resolves close misspellings and suggests alternatives.",
		InputSchema: &jsonschema.Schema{
			Type: "object",
			Properties: map[string]*jsonschema.Schema{
				"tool_name": {Type: "string", Description: "Name of the tool, as returned by discover_tools"},
			},
			Required: []string{"tool_name"},
		},
		Annotations: &sdk.ToolAnnotations{Title: "Get Tool Schema", ReadOnlyHint: true},
	}, func(ctx context.Context, req *sdk.CallToolRequest) (*sdk.CallToolResult, error) {
		var args schemaArgs
		if err := unmarshalArgs(req, &args); err != nil {
			return errorResult(newGatewayError(CodeExecutionError, "invalid arguments")), nil
		}
		ctx, span := g.tracer.Start(ctx, observability.SpanGetToolSchema,
			trace.WithAttributes(attribute.String(observability.AttrToolName, args.ToolName)))
		defer span.End()
		result, gerr := g.meta.GetToolSchema(ctx, headersFromContext(ctx), args.ToolName)
		return shapeResult(result, gerr), nil
	})

	server.AddTool(&sdk.Tool{
		Name:        "execute_tool",
		Description: "Execute any discovered tool by name with the arguments from its schema.",
		InputSchema: &jsonschema.Schema{
			Type: "object",
			Properties: map[string]*jsonschema.Schema{
				"tool_name": {Type: "string", Description: "Name of the tool to execute"},
				"arguments": {Type: "object", Description: "Arguments matching the tool's schema"},
			},
			Required: []string{"tool_name"},
		},
		Annotations: &sdk.ToolAnnotations{Title: "Execute Tool", OpenWorldHint: &truth},
	}, func(ctx context.Context, req *sdk.CallToolRequest) (*sdk.CallToolResult, error) {
		var args executeArgs
		if err := unmarshalArgs(req, &args); err != nil {
			return errorResult(newGatewayError(CodeExecutionError, "invalid arguments")), nil
		}
		ctx, span := g.tracer.Start(ctx, observability.SpanExecuteTool,
			trace.WithAttributes(attribute.String(observability.AttrToolName, args.ToolName)))
		defer span.End()
		result, gerr := g.meta.ExecuteTool(ctx, headersFromContext(ctx), args.ToolName, args.Arguments)
		return shapeResult(result, gerr), nil
	})

	g.registerRefreshTool(server)
}

// registerRefreshTool (re-)adds refresh_registry. Re-adding a tool on a live
// server triggers the SDK's tools/list_changed notification, which is how the
// gateway signals registry changes while its visible surface stays constant.
func (g *Gateway) registerRefreshTool(server *sdk.Server) {
	server.AddTool(&sdk.Tool{
		Name:        "refresh_registry",
		Description: "Re-discover tools from every upstream server and report what changed.",
		InputSchema: &jsonschema.Schema{Type: "object"},
		Annotations: &sdk.ToolAnnotations{Title: "Refresh Registry", IdempotentHint: true},
	}, func(ctx context.Context, req *sdk.CallToolRequest) (*sdk.CallToolResult, error) {
		ctx, span := g.tracer.Start(ctx, observability.SpanRefreshRegistry)
		defer span.End()
		result, gerr := g.meta.RefreshRegistry(ctx)
		return shapeResult(result, gerr), nil
	})
}

// --- Handler plumbing ---

func unmarshalArgs(req *sdk.CallToolRequest, v any) error {
	if len(req.Params.Arguments) == 0 {
		return nil
	}
	return json.Unmarshal(req.Params.Arguments, v)
}

// headersFromContext recovers the incoming HTTP headers stashed by the
// transport middleware. Absent headers (e.g. stdio transports in tests)
// degrade to an empty set.
func headersFromContext(ctx context.Context) http.Header {
	if h, ok := ctx.Value(ctxkey.RequestHeadersKey{}).(http.Header); ok {
		return h
	}
	return http.Header{}
}

func shapeResult(result any, gerr *GatewayError) *sdk.CallToolResult {
	if gerr != nil {
		return errorResult(gerr)
	}
	return textResult(result)
}

func textResult(v any) *sdk.CallToolResult {
	payload, err := json.Marshal(v)
	if err != nil {
		return errorResult(newGatewayError(CodeExecutionError, "response serialization failed"))
	}
	return &sdk.CallToolResult{
		Content: []sdk.Content{&sdk.TextContent{Text: string(payload)}},
	}
}

func errorResult(gerr *GatewayError) *sdk.CallToolResult {
	payload, _ := json.Marshal(gerr)
	return &sdk.CallToolResult{
		Content: []sdk.Content{&sdk.TextContent{Text: string(payload)}},
		IsError: true,
	}
}
