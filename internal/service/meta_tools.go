package service

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sort"
	"strings"

	"github.com/google/uuid"
	sdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/fastmcp-gateway/fastmcp-gateway/internal/domain/hook"
	"github.com/fastmcp-gateway/fastmcp-gateway/internal/domain/registry"
)

// MetaTools implements the four LLM-facing operations. Every response is a
// JSON-serializable value; every failure is a GatewayError envelope.
type MetaTools struct {
	registry *registry.Registry
	manager  *UpstreamManager
	hooks    *hook.Runner
	logger   *slog.Logger

	// changed is invoked after a refresh so the server can re-check the
	// registry fingerprint and emit tools/list_changed.
	changed func()
}

// NewMetaTools wires the meta-tool surface over the registry, manager, and
// hook runner.
func NewMetaTools(reg *registry.Registry, manager *UpstreamManager, hooks *hook.Runner, logger *slog.Logger) *MetaTools {
	if logger == nil {
		logger = slog.Default()
	}
	return &MetaTools{
		registry: reg,
		manager:  manager,
		hooks:    hooks,
		logger:   logger.With("component", "meta_tools"),
	}
}

// SetChangeListener registers the callback invoked after registry mutations.
func (mt *MetaTools) SetChangeListener(fn func()) {
	mt.changed = fn
}

// --- Response shapes ---

type toolSummary struct {
	Name        string `json:"name"`
	Domain      string `json:"domain,omitempty"`
	Group       string `json:"group,omitempty"`
	Description string `json:"description"`
}

type domainSummaryResponse struct {
	Domains    []registry.DomainInfo `json:"domains"`
	TotalTools int                   `json:"total_tools"`
}

type domainToolsResponse struct {
	Domain string        `json:"domain"`
	Group  string        `json:"group,omitempty"`
	Tools  []toolSummary `json:"tools"`
}

type searchResponse struct {
	Query   string        `json:"query"`
	Results []toolSummary `json:"results"`
}

type schemaResponse struct {
	Name        string          `json:"name"`
	Domain      string          `json:"domain"`
	Group       string          `json:"group,omitempty"`
	Description string          `json:"description"`
	Parameters  json.RawMessage `json:"parameters"`
}

type executeResponse struct {
	Tool   string `json:"tool"`
	Result any    `json:"result"`
}

type executeErrorResponse struct {
	Tool  string `json:"tool"`
	Error any    `json:"error"`
	Code  string `json:"code"`
}

type refreshResponse struct {
	Diffs  []registry.Diff `json:"diffs"`
	Failed []string        `json:"failed"`
}

// --- discover_tools ---

// DiscoverTools browses the registry progressively: domains, then tools of a
// domain or group, or a cross-domain keyword search.
func (mt *MetaTools) DiscoverTools(ctx context.Context, headers http.Header, domain, group, query string) (any, *GatewayError) {
	user := mt.hooks.Authenticate(ctx, headers)
	lctx := &hook.ListToolsContext{Domain: domain, Headers: headers, User: user}

	if group != "" && domain == "" {
		return nil, newGatewayError(CodeGroupNotFound, "group filter requires a domain")
	}

	switch {
	case domain != "":
		if !mt.registry.HasDomain(domain) {
			return nil, newGatewayError(CodeDomainNotFound, "unknown domain: "+domain).
				withDetail("domains", mt.registry.DomainNames())
		}
		if group != "" {
			if !mt.registry.HasGroup(domain, group) {
				return nil, newGatewayError(CodeGroupNotFound, "unknown group: "+group).
					withDetail("groups", mt.registry.GroupsForDomain(domain))
			}
			tools, gerr := mt.filterTools(ctx, lctx, mt.registry.ToolsByGroup(domain, group))
			if gerr != nil {
				return nil, gerr
			}
			return domainToolsResponse{Domain: domain, Group: group, Tools: summarize(tools, false, false)}, nil
		}
		candidates := mt.registry.ToolsByDomain(domain)
		if query != "" {
			candidates = filterByQuery(candidates, query)
		}
		tools, gerr := mt.filterTools(ctx, lctx, candidates)
		if gerr != nil {
			return nil, gerr
		}
		return domainToolsResponse{Domain: domain, Tools: summarize(tools, false, true)}, nil

	case query != "":
		tools, gerr := mt.filterTools(ctx, lctx, mt.registry.Search(query))
		if gerr != nil {
			return nil, gerr
		}
		return searchResponse{Query: query, Results: summarize(tools, true, true)}, nil

	default:
		tools, gerr := mt.filterTools(ctx, lctx, mt.registry.AllTools())
		if gerr != nil {
			return nil, gerr
		}
		return mt.domainSummary(tools), nil
	}
}

// domainSummary rebuilds per-domain counts and groups from the filtered tool
// set so hook-hidden tools never skew the numbers.
func (mt *MetaTools) domainSummary(tools []*registry.ToolEntry) domainSummaryResponse {
	type acc struct {
		count  int
		groups map[string]struct{}
	}
	byDomain := make(map[string]*acc)
	for _, t := range tools {
		a := byDomain[t.Domain]
		if a == nil {
			a = &acc{groups: make(map[string]struct{})}
			byDomain[t.Domain] = a
		}
		a.count++
		if t.Group != "" {
			a.groups[t.Group] = struct{}{}
		}
	}

	domains := make([]registry.DomainInfo, 0, len(byDomain))
	for _, info := range mt.registry.ListDomains() {
		a, ok := byDomain[info.Name]
		if !ok {
			continue
		}
		groups := make([]string, 0, len(a.groups))
		for g := range a.groups {
			groups = append(groups, g)
		}
		sort.Strings(groups)
		domains = append(domains, registry.DomainInfo{
			Name:        info.Name,
			Description: info.Description,
			Groups:      groups,
			ToolCount:   a.count,
		})
	}
	return domainSummaryResponse{Domains: domains, TotalTools: len(tools)}
}

// --- get_tool_schema ---

// GetToolSchema returns one tool's parameter schema, resolving typos through
// fuzzy matching. Tools hidden by list filters are reported as not found.
func (mt *MetaTools) GetToolSchema(ctx context.Context, headers http.Header, toolName string) (any, *GatewayError) {
	user := mt.hooks.Authenticate(ctx, headers)
	lctx := &hook.ListToolsContext{Headers: headers, User: user}

	visible, gerr := mt.filterTools(ctx, lctx, mt.registry.AllTools())
	if gerr != nil {
		return nil, gerr
	}

	byName := make(map[string]*registry.ToolEntry, len(visible))
	names := make([]string, 0, len(visible))
	for _, t := range visible {
		byName[t.Name] = t
		names = append(names, t.Name)
	}

	entry, ok := byName[toolName]
	if !ok {
		resolved, suggestions := registry.FuzzyResolve(toolName, names)
		if resolved == "" {
			gerr := newGatewayError(CodeToolNotFound, "unknown tool: "+toolName)
			if len(suggestions) > 0 {
				gerr = gerr.withDetail("suggestions", suggestions)
			}
			return nil, gerr
		}
		entry = byName[resolved]
	}

	parameters := entry.InputSchema
	if len(parameters) == 0 {
		parameters = json.RawMessage(`{"type":"object"}`)
	}
	return schemaResponse{
		Name:        entry.Name,
		Domain:      entry.Domain,
		Group:       entry.Group,
		Description: entry.Description,
		Parameters:  parameters,
	}, nil
}

// --- execute_tool ---

// ExecuteTool resolves a tool, runs the hook pipeline, and routes the call to
// the owning upstream.
func (mt *MetaTools) ExecuteTool(ctx context.Context, headers http.Header, toolName string, arguments map[string]any) (any, *GatewayError) {
	entry, ok := mt.registry.Get(toolName)
	if !ok {
		resolved, suggestions := registry.FuzzyResolve(toolName, mt.registry.AllToolNames())
		if resolved == "" {
			gerr := newGatewayError(CodeToolNotFound, "unknown tool: "+toolName)
			if len(suggestions) > 0 {
				gerr = gerr.withDetail("suggestions", suggestions)
			}
			return nil, gerr
		}
		entry, _ = mt.registry.Get(resolved)
	}

	if arguments == nil {
		arguments = map[string]any{}
	}
	user := mt.hooks.Authenticate(ctx, headers)
	ectx := &hook.ExecutionContext{
		Tool:         entry,
		Arguments:    arguments,
		Headers:      headers,
		User:         user,
		ExtraHeaders: map[string]string{},
		Metadata:     map[string]any{},
		ExecutionID:  uuid.NewString(),
	}
	logger := mt.logger.With("tool", entry.Name, "domain", entry.Domain, "execution_id", ectx.ExecutionID)

	denial, err := mt.hooks.BeforeExecute(ctx, ectx)
	if err != nil {
		logger.Error("execution guard failed", "error", err)
		mt.hooks.OnError(ctx, ectx, err)
		return nil, newGatewayError(CodeExecutionError, "execution blocked by internal error")
	}
	if denial != nil {
		logger.Info("execution denied", "code", denial.Code)
		return nil, newGatewayError(denial.Code, denial.Message)
	}

	result, err := mt.manager.Execute(ctx, entry, ectx.Arguments, headers, ectx.ExtraHeaders)
	if err != nil {
		logger.Warn("upstream call failed", "error", err)
		mt.hooks.OnError(ctx, ectx, err)
		return nil, newGatewayError(CodeUpstreamError, "upstream call failed for tool "+entry.Name)
	}

	payload := contentPayload(result)
	transformed, err := mt.hooks.AfterExecute(ctx, ectx, payload, result.IsError)
	if err != nil {
		logger.Error("result transformer failed", "error", err)
		mt.hooks.OnError(ctx, ectx, err)
		return nil, newGatewayError(CodeExecutionError, "result transformation failed")
	}

	if result.IsError {
		logger.Info("upstream returned tool error")
		return executeErrorResponse{Tool: entry.Name, Error: transformed, Code: CodeExecutionError}, nil
	}
	logger.Debug("execution succeeded")
	return executeResponse{Tool: entry.Name, Result: transformed}, nil
}

// --- refresh_registry ---

// RefreshRegistry re-discovers every upstream. Per-domain failures are
// reported in failed, not raised, unless every upstream failed: that is a
// refresh_error, since nothing was re-discovered at all.
func (mt *MetaTools) RefreshRegistry(ctx context.Context) (any, *GatewayError) {
	diffs, failed := mt.manager.RefreshAll(ctx)
	if diffs == nil {
		diffs = []registry.Diff{}
	}
	if failed == nil {
		failed = []string{}
	}
	if mt.changed != nil {
		mt.changed()
	}
	if len(failed) > 0 && len(diffs) == 0 {
		mt.logger.Error("refresh failed for every upstream", "failed", failed)
		return nil, newGatewayError(CodeRefreshError, "refresh failed for every upstream").
			withDetail("failed", failed)
	}
	return refreshResponse{Diffs: diffs, Failed: failed}, nil
}

// --- helpers ---

func (mt *MetaTools) filterTools(ctx context.Context, lctx *hook.ListToolsContext, tools []*registry.ToolEntry) ([]*registry.ToolEntry, *GatewayError) {
	filtered, err := mt.hooks.FilterTools(ctx, lctx, tools)
	if err != nil {
		mt.logger.Error("list filter failed", "error", err)
		return nil, newGatewayError(CodeExecutionError, "tool listing failed")
	}
	return filtered, nil
}

func summarize(tools []*registry.ToolEntry, withDomain, withGroup bool) []toolSummary {
	out := make([]toolSummary, 0, len(tools))
	for _, t := range tools {
		s := toolSummary{Name: t.Name, Description: t.Description}
		if withDomain {
			s.Domain = t.Domain
		}
		if withGroup {
			s.Group = t.Group
		}
		out = append(out, s)
	}
	return out
}

func filterByQuery(tools []*registry.ToolEntry, query string) []*registry.ToolEntry {
	tokens := strings.Fields(strings.ToLower(query))
	var out []*registry.ToolEntry
	for _, t := range tools {
		searchable := strings.ToLower(t.Name + " " + t.OriginalName + " " + t.Description)
		matched := true
		for _, tok := range tokens {
			if !strings.Contains(searchable, tok) {
				matched = false
				break
			}
		}
		if matched {
			out = append(out, t)
		}
	}
	return out
}

// contentPayload flattens a CallToolResult into a JSON-friendly value. A
// single text content that parses as JSON is inlined; otherwise the raw text
// is returned. Mixed content becomes a list.
func contentPayload(result *sdk.CallToolResult) any {
	if len(result.Content) == 0 {
		return nil
	}
	if len(result.Content) == 1 {
		return contentValue(result.Content[0])
	}
	parts := make([]any, 0, len(result.Content))
	for _, c := range result.Content {
		parts = append(parts, contentValue(c))
	}
	return parts
}

func contentValue(c sdk.Content) any {
	text, ok := c.(*sdk.TextContent)
	if !ok {
		return c
	}
	trimmed := strings.TrimSpace(text.Text)
	if strings.HasPrefix(trimmed, "{") || strings.HasPrefix(trimmed, "[") {
		var parsed any
		if err := json.Unmarshal([]byte(trimmed), &parsed); err == nil {
			return parsed
		}
	}
	return text.Text
}
