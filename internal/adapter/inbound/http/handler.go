package http

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// routes builds the gateway's HTTP routing table.
func (t *Transport) routes(reg *prometheus.Registry, metrics *Metrics) http.Handler {
	// MCP chain, outermost first: metrics, request ID, header capture.
	var mcp http.Handler = CaptureHeaders(t.gateway.MCPHandler())
	mcp = RequestIDMiddleware(t.logger)(mcp)
	mcp = MetricsMiddleware(metrics)(mcp)

	mux := http.NewServeMux()

	if t.adminHandler != nil {
		mux.Handle("/registry/", t.adminHandler)
	}

	health := NewHealthHandler(t.gateway, t.version)
	mux.Handle("/healthz", health.Liveness())
	mux.Handle("/readyz", health.Readiness())
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{
		Registry: reg,
	}))

	// Favicon handler to prevent browser 404 noise in logs.
	mux.Handle("/favicon.ico", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	mux.Handle("/mcp", mcp)
	mux.Handle("/mcp/", mcp)
	return mux
}
