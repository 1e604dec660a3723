package service

import "fmt"

// Stable error codes in the LLM-visible error envelope.
const (
	CodeToolNotFound   = "tool_not_found"
	CodeDomainNotFound = "domain_not_found"
	CodeGroupNotFound  = "group_not_found"
	CodeExecutionError = "execution_error"
	CodeUpstreamError  = "upstream_error"
	CodeRefreshError   = "refresh_error"
	CodeForbidden      = "forbidden"
)

// GatewayError is the uniform error envelope every meta-tool returns.
// Internal errors never cross the meta-tool boundary unshaped.
type GatewayError struct {
	Message string         `json:"error"`
	Code    string         `json:"code"`
	Details map[string]any `json:"details,omitempty"`
}

func (e *GatewayError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func newGatewayError(code, message string) *GatewayError {
	return &GatewayError{Message: message, Code: code}
}

func (e *GatewayError) withDetail(key string, value any) *GatewayError {
	if e.Details == nil {
		e.Details = make(map[string]any)
	}
	e.Details[key] = value
	return e
}
