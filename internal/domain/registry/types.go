// Package registry contains the in-memory tool index for the gateway:
// domain/group organization, collision handling, fuzzy lookup, and diffing.
package registry

import (
	"encoding/json"
	"strings"
)

// ToolEntry is a single tool known to the gateway.
type ToolEntry struct {
	// Name is the gateway-facing tool name. After collision resolution it may
	// carry a domain prefix; this is the name the LLM sees and uses.
	Name string `json:"name"`
	// OriginalName is the name the upstream registered. It is the name used on
	// the wire whenever the gateway calls that upstream.
	OriginalName string `json:"original_name"`
	// Domain identifies the upstream that owns this tool.
	Domain string `json:"domain"`
	// Group is an optional sub-category within the domain. Empty means none.
	Group string `json:"group,omitempty"`
	// Description is the human-readable description shown to the LLM.
	Description string `json:"description"`
	// InputSchema is the JSON Schema for the tool's parameters.
	InputSchema json.RawMessage `json:"input_schema"`
	// Annotations holds optional MCP tool annotations (readOnlyHint etc).
	Annotations map[string]any `json:"annotations,omitempty"`
}

// DomainInfo is summary information about one domain.
type DomainInfo struct {
	Name        string   `json:"name"`
	Description string   `json:"description,omitempty"`
	Groups      []string `json:"groups"`
	ToolCount   int      `json:"tool_count"`
}

// Diff reports the change to a single domain produced by one population.
type Diff struct {
	Domain    string   `json:"domain"`
	Added     []string `json:"added"`
	Removed   []string `json:"removed"`
	ToolCount int      `json:"tool_count"`
}

// Empty reports whether the diff changed nothing.
func (d Diff) Empty() bool {
	return len(d.Added) == 0 && len(d.Removed) == 0
}

// ToolSpec is the raw tool data handed to PopulateDomain, before collision
// resolution and group inference.
type ToolSpec struct {
	Name        string
	Description string
	InputSchema json.RawMessage
	Annotations map[string]any
}

// InferGroup derives the group for a tool from its original name. Upstreams
// that prefix their tool names with the domain get a group from the first
// underscore-separated segment after the prefix: "apollo_people_search" in
// domain "apollo" belongs to group "people". Names without the domain prefix
// have no group.
func InferGroup(domain, originalName string) string {
	prefix := domain + "_"
	if !strings.HasPrefix(originalName, prefix) {
		return ""
	}
	rest := originalName[len(prefix):]
	if rest == "" {
		return ""
	}
	group, _, _ := strings.Cut(rest, "_")
	return group
}
