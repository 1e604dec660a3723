package service

import "net/http"

// strippedHeaders are never forwarded to upstreams: hop-by-hop headers,
// transport framing, and the gateway's own MCP session headers.
var strippedHeaders = map[string]struct{}{
	"Connection":           {},
	"Keep-Alive":           {},
	"Proxy-Authenticate":   {},
	"Proxy-Authorization":  {},
	"Te":                   {},
	"Trailer":              {},
	"Transfer-Encoding":    {},
	"Upgrade":              {},
	"Host":                 {},
	"Content-Length":       {},
	"Content-Type":         {},
	"Accept":               {},
	"Accept-Encoding":      {},
	"Mcp-Session-Id":       {},
	"Mcp-Protocol-Version": {},
}

// mergeExecutionHeaders builds the header set for one upstream tool call.
// Priority: extra (hook-provided) > static (domain config) > forwarded
// incoming headers, with hop-by-hop and transport headers stripped.
func mergeExecutionHeaders(incoming http.Header, static, extra map[string]string) map[string]string {
	merged := make(map[string]string)
	for name, values := range incoming {
		canonical := http.CanonicalHeaderKey(name)
		if _, skip := strippedHeaders[canonical]; skip {
			continue
		}
		if len(values) > 0 {
			merged[canonical] = values[0]
		}
	}
	for k, v := range static {
		merged[http.CanonicalHeaderKey(k)] = v
	}
	for k, v := range extra {
		merged[http.CanonicalHeaderKey(k)] = v
	}
	return merged
}
