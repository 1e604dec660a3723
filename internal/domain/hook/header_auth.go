package hook

import (
	"context"
	"net/http"
)

// defaultAuthHeader is read when no header is configured.
const defaultAuthHeader = "X-User-Id"

// HeaderAuthHook derives a user identity from a single request header. The
// resulting user is a map with an "id" key, visible to policy hooks and
// forwarded through the execution context.
type HeaderAuthHook struct {
	header string
}

// NewHeaderAuthHook creates the hook reading the given header, or
// defaultAuthHeader when empty.
func NewHeaderAuthHook(header string) *HeaderAuthHook {
	if header == "" {
		header = defaultAuthHeader
	}
	return &HeaderAuthHook{header: header}
}

// Name implements the log-name contract.
func (h *HeaderAuthHook) Name() string {
	return "header-auth"
}

// Authenticate returns the identity from the configured header, or nil when
// the header is absent.
func (h *HeaderAuthHook) Authenticate(_ context.Context, headers http.Header) (any, error) {
	id := headers.Get(h.header)
	if id == "" {
		return nil, nil
	}
	return map[string]any{"id": id}, nil
}

func init() {
	Register("header-auth", func(cfg FactoryConfig) (any, error) {
		return NewHeaderAuthHook(cfg.AuthHeader), nil
	})
}
