package http

import (
	"encoding/json"
	"net/http"

	"github.com/fastmcp-gateway/fastmcp-gateway/internal/service"
)

// HealthResponse is the JSON body of /healthz and /readyz.
type HealthResponse struct {
	Status  string `json:"status"`
	State   string `json:"state"`
	Tools   int    `json:"tools"`
	Domains int    `json:"domains"`
	Version string `json:"version,omitempty"`
}

// HealthHandler serves liveness and readiness probes backed by the gateway's
// lifecycle state.
type HealthHandler struct {
	gateway *service.Gateway
	version string
}

// NewHealthHandler creates a HealthHandler.
func NewHealthHandler(g *service.Gateway, version string) *HealthHandler {
	return &HealthHandler{gateway: g, version: version}
}

func (h *HealthHandler) snapshot() HealthResponse {
	return HealthResponse{
		State:   h.gateway.State().String(),
		Tools:   h.gateway.Registry().ToolCount(),
		Domains: len(h.gateway.Manager().Domains()),
		Version: h.version,
	}
}

// Liveness always reports 200 while the process serves requests. A gateway
// with zero reachable upstreams is alive; it is just not ready.
func (h *HealthHandler) Liveness() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		resp := h.snapshot()
		resp.Status = "ok"

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(resp)
	})
}

// Readiness reports 200 once at least one domain populated and the gateway is
// serving, 503 otherwise. Load balancers use this to gate traffic during
// startup and after Stop.
func (h *HealthHandler) Readiness() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		resp := h.snapshot()

		w.Header().Set("Content-Type", "application/json")
		if h.gateway.Ready() {
			resp.Status = "ready"
			w.WriteHeader(http.StatusOK)
		} else {
			resp.Status = "not ready"
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		_ = json.NewEncoder(w).Encode(resp)
	})
}
