// Package hook defines the lifecycle hook contract for the gateway and the
// runner that composes user-supplied hooks around authentication, tool
// listing, and execution.
//
// A hook is any value implementing one or more of the capability interfaces
// below. The runner checks each capability per hook; missing capabilities are
// no-ops.
package hook

import (
	"context"
	"net/http"

	"github.com/fastmcp-gateway/fastmcp-gateway/internal/domain/registry"
)

// ExecutionContext carries one execute_tool invocation through the hook
// pipeline. Arguments, ExtraHeaders, and Metadata are mutable; Headers is the
// read-only incoming request header set.
type ExecutionContext struct {
	Tool         *registry.ToolEntry
	Arguments    map[string]any
	Headers      http.Header
	User         any
	ExtraHeaders map[string]string
	Metadata     map[string]any
	ExecutionID  string
}

// ListToolsContext carries a tool-listing invocation through filter hooks.
// Domain is empty for cross-domain search.
type ListToolsContext struct {
	Domain  string
	Headers http.Header
	User    any
}

// Denial is returned by an ExecutionGuard to block an execution. Code becomes
// the error code in the LLM-visible envelope; "forbidden" is conventional.
type Denial struct {
	Code    string
	Message string
}

// Authenticator derives a user identity from incoming request headers.
// Returning nil means "no opinion"; the runner keeps the last non-nil result.
type Authenticator interface {
	Authenticate(ctx context.Context, headers http.Header) (any, error)
}

// ListFilter transforms the candidate tool list before it is shown to the
// client. Hooks run as a pipeline, each receiving the previous hook's output.
type ListFilter interface {
	FilterTools(ctx context.Context, lctx *ListToolsContext, tools []*registry.ToolEntry) ([]*registry.ToolEntry, error)
}

// ExecutionGuard runs before the upstream call. A non-nil Denial blocks the
// execution and skips the remaining guards.
type ExecutionGuard interface {
	BeforeExecute(ctx context.Context, ectx *ExecutionContext) (*Denial, error)
}

// ResultTransformer runs after the upstream call and may replace the result.
type ResultTransformer interface {
	AfterExecute(ctx context.Context, ectx *ExecutionContext, result any, isError bool) (any, error)
}

// ErrorObserver is notified of errors caught during execution. Observers must
// not fail the request; the runner swallows anything they raise.
type ErrorObserver interface {
	OnError(ctx context.Context, ectx *ExecutionContext, err error)
}
