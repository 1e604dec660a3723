package admin

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	sdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/fastmcp-gateway/fastmcp-gateway/internal/domain/hook"
	"github.com/fastmcp-gateway/fastmcp-gateway/internal/domain/registry"
	"github.com/fastmcp-gateway/fastmcp-gateway/internal/port/outbound"
	"github.com/fastmcp-gateway/fastmcp-gateway/internal/service"
)

const testToken = "sufficiently-long-test-token"

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type stubClient struct{ tools []*sdk.Tool }

func (c stubClient) ListTools(context.Context) ([]*sdk.Tool, error) { return c.tools, nil }

func (c stubClient) CallTool(context.Context, string, map[string]any) (*sdk.CallToolResult, error) {
	return &sdk.CallToolResult{Content: []sdk.Content{&sdk.TextContent{Text: "{}"}}}, nil
}

func (stubClient) Close() error { return nil }

// newTestHandler wires a gateway around a stub upstream factory and returns
// the mounted registration API.
func newTestHandler(t *testing.T, factory outbound.ClientFactory) (*Handler, *service.Gateway) {
	t.Helper()
	reg := registry.New(testLogger())
	manager := service.NewUpstreamManager(reg, factory, service.WithManagerLogger(testLogger()))
	meta := service.NewMetaTools(reg, manager, hook.NewRunner(testLogger()), testLogger())
	g := service.NewGateway("test-gateway", reg, manager, meta, service.WithGatewayLogger(testLogger()))
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = g.Stop(ctx)
	})
	return NewHandler(g, testToken, testLogger()), g
}

func workingFactory(context.Context, string, map[string]string) (outbound.UpstreamClient, error) {
	return stubClient{tools: []*sdk.Tool{{Name: "people_search", Description: "Search people"}}}, nil
}

func failingFactory(context.Context, string, map[string]string) (outbound.UpstreamClient, error) {
	return nil, errors.New("connection refused")
}

func doJSON(t *testing.T, h http.Handler, method, path, token string, body string) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestRequireAuth(t *testing.T) {
	h, _ := newTestHandler(t, workingFactory)
	routes := h.Routes()

	rec := doJSON(t, routes, http.MethodGet, "/registry/servers", "", "")
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("no token = %d, want 401", rec.Code)
	}
	if rec.Header().Get("WWW-Authenticate") == "" {
		t.Error("401 should carry WWW-Authenticate")
	}

	rec = doJSON(t, routes, http.MethodGet, "/registry/servers", "wrong-token", "")
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("wrong token = %d, want 401", rec.Code)
	}

	rec = doJSON(t, routes, http.MethodGet, "/registry/servers", testToken, "")
	if rec.Code != http.StatusOK {
		t.Errorf("valid token = %d, want 200", rec.Code)
	}
}

func TestTokenEqual_EmptyConfiguredTokenNeverMatches(t *testing.T) {
	if tokenEqual("", "") {
		t.Error("empty configured token must not authenticate anything")
	}
}

func TestRegisterListUnregister_Roundtrip(t *testing.T) {
	h, g := newTestHandler(t, workingFactory)
	routes := h.Routes()

	body := `{"domain": "apollo", "url": "http://apollo.test/mcp", "description": "Apollo sales intel"}`
	rec := doJSON(t, routes, http.MethodPost, "/registry/servers", testToken, body)
	if rec.Code != http.StatusCreated {
		t.Fatalf("register = %d, want 201: %s", rec.Code, rec.Body.String())
	}
	var created registerResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &created); err != nil {
		t.Fatal(err)
	}
	if created.ToolCount != 1 || len(created.Added) != 1 || created.Added[0] != "people_search" {
		t.Errorf("register response = %+v", created)
	}

	rec = doJSON(t, routes, http.MethodGet, "/registry/servers", testToken, "")
	var listed listServersResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &listed); err != nil {
		t.Fatal(err)
	}
	if len(listed.Servers) != 1 {
		t.Fatalf("listed %d servers, want 1", len(listed.Servers))
	}
	got := listed.Servers[0]
	if got.Domain != "apollo" || got.URL != "http://apollo.test/mcp" || got.ToolCount != 1 {
		t.Errorf("listed server = %+v", got)
	}
	if got.Description != "Apollo sales intel" {
		t.Errorf("description = %q", got.Description)
	}

	rec = doJSON(t, routes, http.MethodDelete, "/registry/servers/apollo", testToken, "")
	if rec.Code != http.StatusNoContent {
		t.Errorf("unregister = %d, want 204", rec.Code)
	}
	if g.Manager().HasUpstream("apollo") {
		t.Error("upstream should be gone after unregister")
	}
	if g.Registry().ToolCount() != 0 {
		t.Error("registry should be empty after unregister")
	}

	rec = doJSON(t, routes, http.MethodDelete, "/registry/servers/apollo", testToken, "")
	if rec.Code != http.StatusNotFound {
		t.Errorf("unregister unknown domain = %d, want 404", rec.Code)
	}
}

func TestListServers_UnpopulatedUpstreamListedWithZeroTools(t *testing.T) {
	h, g := newTestHandler(t, workingFactory)
	routes := h.Routes()

	body := `{"domain": "apollo", "url": "http://apollo.test/mcp", "description": "Apollo sales intel"}`
	rec := doJSON(t, routes, http.MethodPost, "/registry/servers", testToken, body)
	if rec.Code != http.StatusCreated {
		t.Fatalf("register = %d, want 201: %s", rec.Code, rec.Body.String())
	}

	// Registered directly on the manager, never populated: it has no registry
	// slice yet but the listing must still show it.
	g.Manager().RegisterUpstream(service.UpstreamConfig{
		Domain: "hubspot",
		URL:    "http://hubspot.test/mcp",
	})

	rec = doJSON(t, routes, http.MethodGet, "/registry/servers", testToken, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("list = %d, want 200: %s", rec.Code, rec.Body.String())
	}
	var listed listServersResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &listed); err != nil {
		t.Fatal(err)
	}
	if len(listed.Servers) != 2 {
		t.Fatalf("listed %d servers, want 2", len(listed.Servers))
	}

	apollo, hubspot := listed.Servers[0], listed.Servers[1]
	if apollo.Domain != "apollo" || apollo.ToolCount != 1 || apollo.Description != "Apollo sales intel" {
		t.Errorf("populated server = %+v", apollo)
	}
	if hubspot.Domain != "hubspot" || hubspot.URL != "http://hubspot.test/mcp" {
		t.Errorf("unpopulated server = %+v", hubspot)
	}
	if hubspot.ToolCount != 0 {
		t.Errorf("unpopulated tool_count = %d, want 0", hubspot.ToolCount)
	}
	if hubspot.Groups == nil || len(hubspot.Groups) != 0 {
		t.Errorf("unpopulated groups = %v, want empty non-nil slice", hubspot.Groups)
	}
}

func TestRegisterServer_Validation(t *testing.T) {
	h, _ := newTestHandler(t, workingFactory)
	routes := h.Routes()

	cases := []struct {
		name string
		body string
	}{
		{"malformed JSON", `{"domain": `},
		{"invalid domain", `{"domain": "bad domain!", "url": "http://x.test/mcp"}`},
		{"missing URL", `{"domain": "apollo"}`},
		{"bad scheme", `{"domain": "apollo", "url": "ftp://x.test/mcp"}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := doJSON(t, routes, http.MethodPost, "/registry/servers", testToken, tc.body)
			if rec.Code != http.StatusBadRequest {
				t.Errorf("register = %d, want 400: %s", rec.Code, rec.Body.String())
			}
		})
	}
}

func TestRegisterServer_UnreachableUpstreamStaysRegistered(t *testing.T) {
	h, g := newTestHandler(t, failingFactory)
	routes := h.Routes()

	body := `{"domain": "apollo", "url": "http://apollo.test/mcp"}`
	rec := doJSON(t, routes, http.MethodPost, "/registry/servers", testToken, body)
	if rec.Code != http.StatusBadGateway {
		t.Fatalf("register = %d, want 502: %s", rec.Code, rec.Body.String())
	}
	if !g.Manager().HasUpstream("apollo") {
		t.Error("unreachable upstream should stay registered for the next refresh")
	}
}
