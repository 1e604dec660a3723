package http

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	sdk "github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/fastmcp-gateway/fastmcp-gateway/internal/ctxkey"
	"github.com/fastmcp-gateway/fastmcp-gateway/internal/domain/hook"
	"github.com/fastmcp-gateway/fastmcp-gateway/internal/domain/registry"
	"github.com/fastmcp-gateway/fastmcp-gateway/internal/port/outbound"
	"github.com/fastmcp-gateway/fastmcp-gateway/internal/service"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// stubClient is a minimal in-memory upstream for wiring tests.
type stubClient struct{}

func (stubClient) ListTools(context.Context) ([]*sdk.Tool, error) {
	return []*sdk.Tool{{Name: "apollo_people_search", Description: "Search people"}}, nil
}

func (stubClient) CallTool(context.Context, string, map[string]any) (*sdk.CallToolResult, error) {
	return &sdk.CallToolResult{Content: []sdk.Content{&sdk.TextContent{Text: "{}"}}}, nil
}

func (stubClient) Close() error { return nil }

func stubFactory(context.Context, string, map[string]string) (outbound.UpstreamClient, error) {
	return stubClient{}, nil
}

// newWiredGateway builds a gateway with one stub upstream, unpopulated.
func newWiredGateway(t *testing.T) *service.Gateway {
	t.Helper()
	reg := registry.New(testLogger())
	manager := service.NewUpstreamManager(reg, stubFactory, service.WithManagerLogger(testLogger()))
	meta := service.NewMetaTools(reg, manager, hook.NewRunner(testLogger()), testLogger())
	g := service.NewGateway("test-gateway", reg, manager, meta, service.WithGatewayLogger(testLogger()))
	manager.RegisterUpstream(service.UpstreamConfig{Domain: "apollo", URL: "http://apollo.test/mcp"})
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = g.Stop(ctx)
	})
	return g
}

func newTestRoutes(t *testing.T, g *service.Gateway, opts ...Option) http.Handler {
	t.Helper()
	opts = append(opts, WithLogger(testLogger()))
	tr := NewTransport(g, opts...)
	reg := prometheus.NewRegistry()
	return tr.routes(reg, NewMetrics(reg))
}

func TestRoutes_OperationalEndpoints(t *testing.T) {
	g := newWiredGateway(t)
	g.Populate(context.Background())
	handler := newTestRoutes(t, g)

	cases := []struct {
		path string
		want int
	}{
		{"/healthz", http.StatusOK},
		{"/readyz", http.StatusOK},
		{"/metrics", http.StatusOK},
		{"/favicon.ico", http.StatusNoContent},
		{"/nope", http.StatusNotFound},
	}
	for _, tc := range cases {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, tc.path, nil))
		if rec.Code != tc.want {
			t.Errorf("GET %s = %d, want %d", tc.path, rec.Code, tc.want)
		}
	}
}

func TestRoutes_MCPEndpointMounted(t *testing.T) {
	g := newWiredGateway(t)
	g.Populate(context.Background())
	handler := newTestRoutes(t, g)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/mcp", nil))
	if rec.Code == http.StatusNotFound {
		t.Error("/mcp should be routed to the MCP handler")
	}
}

func TestRoutes_AdminMountedWhenConfigured(t *testing.T) {
	g := newWiredGateway(t)
	admin := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})
	handler := newTestRoutes(t, g, WithAdminHandler(admin))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/registry/servers", nil))
	if rec.Code != http.StatusTeapot {
		t.Errorf("GET /registry/servers = %d, want the admin handler to answer", rec.Code)
	}

	// Without an admin handler the prefix is unrouted.
	bare := newTestRoutes(t, newWiredGateway(t))
	rec = httptest.NewRecorder()
	bare.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/registry/servers", nil))
	if rec.Code != http.StatusNotFound {
		t.Errorf("GET /registry/servers without admin = %d, want 404", rec.Code)
	}
}

func TestCaptureHeaders(t *testing.T) {
	var captured http.Header
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		captured, _ = r.Context().Value(ctxkey.RequestHeadersKey{}).(http.Header)
	})

	req := httptest.NewRequest(http.MethodPost, "/mcp", nil)
	req.Header.Set("Authorization", "Bearer tok")
	CaptureHeaders(inner).ServeHTTP(httptest.NewRecorder(), req)

	if captured == nil {
		t.Fatal("headers not stored in context")
	}
	if got := captured.Get("Authorization"); got != "Bearer tok" {
		t.Errorf("Authorization = %q, want %q", got, "Bearer tok")
	}
}

func TestRequestIDMiddleware(t *testing.T) {
	var gotID string
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotID, _ = r.Context().Value(RequestIDKey).(string)
		if LoggerFromContext(r.Context()) == nil {
			t.Error("enriched logger missing from context")
		}
	})
	handler := RequestIDMiddleware(testLogger())(inner)

	// Generated when absent.
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if gotID == "" {
		t.Error("request ID should be generated")
	}
	if rec.Header().Get("X-Request-ID") != gotID {
		t.Error("request ID should be echoed in the response header")
	}

	// Propagated when present.
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Request-ID", "req-42")
	handler.ServeHTTP(httptest.NewRecorder(), req)
	if gotID != "req-42" {
		t.Errorf("request ID = %q, want %q", gotID, "req-42")
	}
}

func TestHealthResponseShape(t *testing.T) {
	g := newWiredGateway(t)
	g.Populate(context.Background())
	handler := newTestRoutes(t, g, WithVersion("1.2.3"))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	var resp HealthResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("invalid JSON body: %v", err)
	}
	if resp.Status != "ok" || resp.Version != "1.2.3" {
		t.Errorf("resp = %+v", resp)
	}
	if resp.Tools != 1 || resp.Domains != 1 {
		t.Errorf("resp = %+v, want 1 tool in 1 domain", resp)
	}
}
