package hook

import (
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
)

// FactoryConfig carries the hook-related configuration to factories. Each
// factory reads the fields it needs and ignores the rest.
type FactoryConfig struct {
	// CELExpression is the policy expression for the cel-policy hook.
	CELExpression string
	// AuthHeader is the header the header-auth hook reads the identity from.
	AuthHeader string
	Logger     *slog.Logger
}

// Factory builds one hook instance from configuration.
type Factory func(cfg FactoryConfig) (any, error)

var (
	factoryMu sync.RWMutex
	factories = make(map[string]Factory)
)

// Register makes a hook factory available under a stable name. The env-var
// hook contract resolves names against this registry at startup. Registering
// the same name twice panics; hooks are wired once during init.
func Register(name string, f Factory) {
	factoryMu.Lock()
	defer factoryMu.Unlock()

	if _, exists := factories[name]; exists {
		panic(fmt.Sprintf("hook factory %q already registered", name))
	}
	factories[name] = f
}

// FactoryNames returns the registered factory names, sorted.
func FactoryNames() []string {
	factoryMu.RLock()
	defer factoryMu.RUnlock()

	names := make([]string, 0, len(factories))
	for name := range factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Build resolves a comma-separated list of factory names and constructs the
// hooks in the given order.
func Build(names string, cfg FactoryConfig) ([]any, error) {
	if strings.TrimSpace(names) == "" {
		return nil, nil
	}

	registered := FactoryNames()

	factoryMu.RLock()
	defer factoryMu.RUnlock()

	var hooks []any
	for _, raw := range strings.Split(names, ",") {
		name := strings.TrimSpace(raw)
		if name == "" {
			continue
		}
		f, ok := factories[name]
		if !ok {
			return nil, fmt.Errorf("unknown hook %q (registered: %s)", name, strings.Join(registered, ", "))
		}
		h, err := f(cfg)
		if err != nil {
			return nil, fmt.Errorf("build hook %q: %w", name, err)
		}
		hooks = append(hooks, h)
	}
	return hooks, nil
}
