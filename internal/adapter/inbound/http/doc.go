// Package http provides the HTTP transport adapter for the gateway.
//
// The transport serves the MCP streamable HTTP endpoint on /mcp (handled
// by the official go-sdk), the runtime registration API under /registry/
// when enabled, and the operational surface:
//
//	GET /healthz  - liveness (always 200 once the process is up)
//	GET /readyz   - readiness (503 until at least one domain populated)
//	GET /metrics  - Prometheus metrics
//
// # Middleware Chain
//
// MCP requests pass through middleware in this order:
//
//  1. MetricsMiddleware - records duration and status
//  2. RequestIDMiddleware - request ID plus enriched logger in context
//  3. CaptureHeaders - stashes incoming headers for the execute path
//  4. MCP handler - go-sdk streamable HTTP transport
//
// CaptureHeaders is what lets execute_tool forward per-request user
// context (Authorization and custom headers) to upstream servers: the
// go-sdk invokes tool handlers with the request context, and the service
// layer reads the stashed headers back out of it.
package http
