// Package admin provides the runtime registration API: adding, listing,
// and removing upstream MCP servers while the gateway is serving.
package admin

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sort"

	"github.com/fastmcp-gateway/fastmcp-gateway/internal/config"
	"github.com/fastmcp-gateway/fastmcp-gateway/internal/service"
)

// minTokenLength is the registration token length below which a warning is
// logged at construction. Short tokens are brute-forceable.
const minTokenLength = 16

// Handler serves the registration API. All routes require the bearer token
// configured at startup; an empty token disables the API entirely (the
// transport never mounts it).
type Handler struct {
	gateway *service.Gateway
	token   string
	logger  *slog.Logger
}

// NewHandler creates the registration API handler.
func NewHandler(gateway *service.Gateway, token string, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "registration_api")
	if len(token) > 0 && len(token) < minTokenLength {
		logger.Warn("registration token is short, consider at least 16 characters",
			"length", len(token))
	}
	return &Handler{gateway: gateway, token: token, logger: logger}
}

// Routes returns the registration API routing table.
func (h *Handler) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /registry/servers", h.requireAuth(h.listServers))
	mux.HandleFunc("POST /registry/servers", h.requireAuth(h.registerServer))
	mux.HandleFunc("DELETE /registry/servers/{domain}", h.requireAuth(h.unregisterServer))
	return mux
}

// serverInfo is the JSON representation of one registered upstream.
type serverInfo struct {
	Domain      string   `json:"domain"`
	URL         string   `json:"url"`
	Description string   `json:"description,omitempty"`
	Groups      []string `json:"groups"`
	ToolCount   int      `json:"tool_count"`
}

type listServersResponse struct {
	Servers []serverInfo `json:"servers"`
}

// listServers returns every registered upstream with its registry state.
// Registry fields come from a single locked snapshot so a concurrent
// repopulation can never produce a row mixing old and new state.
// GET /registry/servers
func (h *Handler) listServers(w http.ResponseWriter, r *http.Request) {
	domains := h.gateway.Registry().ListDomains()
	upstreams := h.gateway.Manager().ListUpstreams()

	servers := make([]serverInfo, 0, len(upstreams))
	seen := make(map[string]bool, len(domains))
	for _, info := range domains {
		url, ok := upstreams[info.Name]
		if !ok {
			// Domain removed from the manager after the snapshot was taken.
			continue
		}
		seen[info.Name] = true
		groups := info.Groups
		if groups == nil {
			groups = []string{}
		}
		servers = append(servers, serverInfo{
			Domain:      info.Name,
			URL:         url,
			Description: info.Description,
			Groups:      groups,
			ToolCount:   info.ToolCount,
		})
	}
	// Upstreams registered but not yet populated have no registry slice.
	for domain, url := range upstreams {
		if !seen[domain] {
			servers = append(servers, serverInfo{Domain: domain, URL: url, Groups: []string{}})
		}
	}
	sort.Slice(servers, func(i, j int) bool { return servers[i].Domain < servers[j].Domain })

	h.respondJSON(w, http.StatusOK, listServersResponse{Servers: servers})
}

// registerRequest is the JSON body for registering an upstream.
type registerRequest struct {
	Domain      string            `json:"domain"`
	URL         string            `json:"url"`
	Description string            `json:"description"`
	Headers     map[string]string `json:"headers"`
}

type registerResponse struct {
	Domain    string   `json:"domain"`
	ToolCount int      `json:"tool_count"`
	Added     []string `json:"added"`
	Removed   []string `json:"removed"`
}

// registerServer upserts an upstream and populates its domain immediately.
// Re-registering an existing domain replaces its configuration wholesale.
// POST /registry/servers
func (h *Handler) registerServer(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	if err := config.ValidateDomainName(req.Domain); err != nil {
		h.respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := config.ValidateUpstreamURL(req.URL); err != nil {
		h.respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	diff, err := h.gateway.Manager().AddUpstream(r.Context(), service.UpstreamConfig{
		Domain:        req.Domain,
		URL:           req.URL,
		Description:   req.Description,
		StaticHeaders: req.Headers,
	})
	if err != nil {
		// The upstream stays registered; the next refresh retries discovery.
		h.logger.Warn("registered upstream is unreachable", "domain", req.Domain, "error", err)
		h.respondError(w, http.StatusBadGateway, "upstream registered but discovery failed: "+err.Error())
		return
	}
	h.gateway.RegistryChanged()

	h.logger.Info("upstream registered", "domain", req.Domain,
		"tools", diff.ToolCount, "added", len(diff.Added), "removed", len(diff.Removed))
	h.respondJSON(w, http.StatusCreated, registerResponse{
		Domain:    req.Domain,
		ToolCount: diff.ToolCount,
		Added:     diff.Added,
		Removed:   diff.Removed,
	})
}

// unregisterServer removes an upstream and its registry slice.
// DELETE /registry/servers/{domain}
func (h *Handler) unregisterServer(w http.ResponseWriter, r *http.Request) {
	domain := r.PathValue("domain")
	if !h.gateway.Manager().HasUpstream(domain) {
		h.respondError(w, http.StatusNotFound, "unknown domain: "+domain)
		return
	}

	h.gateway.Manager().RemoveUpstream(domain)
	h.gateway.RegistryChanged()

	h.logger.Info("upstream unregistered", "domain", domain)
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (h *Handler) respondError(w http.ResponseWriter, status int, message string) {
	h.respondJSON(w, status, map[string]string{"error": message})
}
