package hook

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/fastmcp-gateway/fastmcp-gateway/internal/domain/registry"
)

// Runner composes an ordered list of hooks. The runner does not synchronize
// hooks; stateful hooks own their own thread-safety.
type Runner struct {
	hooks  []any
	logger *slog.Logger
}

// NewRunner creates a runner over the given hooks, invoked in order.
func NewRunner(logger *slog.Logger, hooks ...any) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{hooks: hooks, logger: logger.With("component", "hook_runner")}
}

// Len returns the number of installed hooks.
func (r *Runner) Len() int {
	return len(r.hooks)
}

// Authenticate runs every Authenticator; the last non-nil identity wins.
// A failing hook is logged and skipped, leaving the current identity intact.
func (r *Runner) Authenticate(ctx context.Context, headers http.Header) any {
	var user any
	for _, h := range r.hooks {
		auth, ok := h.(Authenticator)
		if !ok {
			continue
		}
		u, err := auth.Authenticate(ctx, headers)
		if err != nil {
			r.logger.Warn("authenticate hook failed", "hook", hookName(h), "error", err)
			continue
		}
		if u != nil {
			user = u
		}
	}
	return user
}

// FilterTools pipes the tool list through every ListFilter. The input slice is
// copied before the first hook so hooks can mutate freely.
func (r *Runner) FilterTools(ctx context.Context, lctx *ListToolsContext, tools []*registry.ToolEntry) ([]*registry.ToolEntry, error) {
	current := make([]*registry.ToolEntry, len(tools))
	copy(current, tools)

	for _, h := range r.hooks {
		filter, ok := h.(ListFilter)
		if !ok {
			continue
		}
		next, err := filter.FilterTools(ctx, lctx, current)
		if err != nil {
			return nil, fmt.Errorf("list filter hook %s: %w", hookName(h), err)
		}
		current = next
	}
	return current, nil
}

// BeforeExecute runs every ExecutionGuard in order. The first Denial
// short-circuits and is returned; remaining guards are skipped. A guard panic
// is recovered and surfaced as an error.
func (r *Runner) BeforeExecute(ctx context.Context, ectx *ExecutionContext) (denial *Denial, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("execution guard panicked", "tool", ectx.Tool.Name, "panic", rec)
			denial = nil
			err = fmt.Errorf("execution guard panicked: %v", rec)
		}
	}()

	for _, h := range r.hooks {
		guard, ok := h.(ExecutionGuard)
		if !ok {
			continue
		}
		d, gerr := guard.BeforeExecute(ctx, ectx)
		if gerr != nil {
			return nil, fmt.Errorf("execution guard %s: %w", hookName(h), gerr)
		}
		if d != nil {
			return d, nil
		}
	}
	return nil, nil
}

// AfterExecute pipes the result through every ResultTransformer.
func (r *Runner) AfterExecute(ctx context.Context, ectx *ExecutionContext, result any, isError bool) (any, error) {
	current := result
	for _, h := range r.hooks {
		tr, ok := h.(ResultTransformer)
		if !ok {
			continue
		}
		next, err := tr.AfterExecute(ctx, ectx, current, isError)
		if err != nil {
			return nil, fmt.Errorf("result transformer %s: %w", hookName(h), err)
		}
		current = next
	}
	return current, nil
}

// OnError notifies every ErrorObserver. Observer panics and misbehavior are
// logged and swallowed; OnError never fails the request.
func (r *Runner) OnError(ctx context.Context, ectx *ExecutionContext, cause error) {
	for _, h := range r.hooks {
		obs, ok := h.(ErrorObserver)
		if !ok {
			continue
		}
		func() {
			defer func() {
				if rec := recover(); rec != nil {
					r.logger.Warn("error observer panicked", "hook", hookName(h), "panic", rec)
				}
			}()
			obs.OnError(ctx, ectx, cause)
		}()
	}
}

// namer lets hooks report a stable name in logs.
type namer interface {
	Name() string
}

func hookName(h any) string {
	if n, ok := h.(namer); ok {
		return n.Name()
	}
	return fmt.Sprintf("%T", h)
}
