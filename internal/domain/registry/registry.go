package registry

import (
	"log/slog"
	"sort"
	"strings"
	"sync"

	"github.com/cespare/xxhash/v2"
)

const (
	// MaxToolsPerDomain is the maximum number of tools a single upstream can
	// register. Prevents memory DoS from an upstream advertising excessive
	// tool counts.
	MaxToolsPerDomain = 1000

	// MaxTotalTools is the maximum total tools across all domains.
	MaxTotalTools = 10000
)

// Registry is the thread-safe in-memory tool index. It maintains a flat
// gateway-name index for lookup and a per-domain index for listing, refresh,
// and removal. The flat-index keys are exactly the union of per-domain names.
type Registry struct {
	mu           sync.RWMutex
	flat         map[string]*ToolEntry            // gateway name -> entry
	domains      map[string]map[string]*ToolEntry // domain -> gateway name -> entry
	byOriginal   map[string]map[string]*ToolEntry // original name -> domain -> entry
	descriptions map[string]string
	logger       *slog.Logger
}

// New creates an empty Registry.
func New(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		flat:         make(map[string]*ToolEntry),
		domains:      make(map[string]map[string]*ToolEntry),
		byOriginal:   make(map[string]map[string]*ToolEntry),
		descriptions: make(map[string]string),
		logger:       logger.With("component", "registry"),
	}
}

// PopulateDomain atomically replaces the tool set for one domain and returns
// the diff against the previous snapshot. Collisions with other domains are
// resolved by re-keying both entries as {domain}_{original_name}; a further
// collision on the prefixed name drops the new entry with a logged warning.
func (r *Registry) PopulateDomain(domain string, tools []ToolSpec, description string) Diff {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(tools) > MaxToolsPerDomain {
		r.logger.Warn("upstream tool list truncated",
			"domain", domain, "advertised", len(tools), "limit", MaxToolsPerDomain)
		tools = tools[:MaxToolsPerDomain]
	}

	before := r.domainNamesLocked(domain)
	r.removeDomainLocked(domain)

	for i := range tools {
		spec := tools[i]
		if spec.Name == "" {
			continue
		}
		entry := &ToolEntry{
			OriginalName: spec.Name,
			Domain:       domain,
			Group:        InferGroup(domain, spec.Name),
			Description:  spec.Description,
			InputSchema:  spec.InputSchema,
			Annotations:  spec.Annotations,
		}
		r.registerLocked(entry)
	}
	// Like the tool set, the description is replaced wholesale: an empty
	// description on repopulate clears any previously stored text.
	if description == "" {
		delete(r.descriptions, domain)
	} else {
		r.descriptions[domain] = description
	}

	after := r.domainNamesLocked(domain)
	return diffNames(domain, before, after)
}

// registerLocked inserts one entry, resolving cross-domain name collisions.
// Reports whether the entry was stored.
func (r *Registry) registerLocked(e *ToolEntry) bool {
	if len(r.flat) >= MaxTotalTools {
		r.logger.Warn("registry full, dropping tool",
			"domain", e.Domain, "tool", e.OriginalName, "limit", MaxTotalTools)
		return false
	}

	peers := r.otherDomainPeersLocked(e.OriginalName, e.Domain)
	if len(peers) == 0 {
		e.Name = e.OriginalName
		if holder, ok := r.flat[e.Name]; ok && holder.Domain != e.Domain {
			// Another domain holds this gateway name for a different original
			// name (e.g. a literal "b_c" vs a prefixed one). Keep the holder.
			r.logger.Warn("tool name taken by another domain, dropping tool",
				"domain", e.Domain, "tool", e.OriginalName, "holder", holder.Domain)
			return false
		}
		r.insertLocked(e)
		return true
	}

	// Cross-domain collision on the original name: this entry gets the
	// domain prefix, and any peer still under its bare name is re-keyed too.
	prefixed := e.Domain + "_" + e.OriginalName
	if holder, ok := r.flat[prefixed]; ok && holder.Domain != e.Domain {
		r.logger.Warn("secondary collision, dropping tool",
			"domain", e.Domain, "tool", e.OriginalName, "holder", holder.Domain)
		return false
	}
	e.Name = prefixed

	for _, peer := range peers {
		if peer.Name != peer.OriginalName {
			continue // already prefixed
		}
		peerPrefixed := peer.Domain + "_" + peer.OriginalName
		if holder, ok := r.flat[peerPrefixed]; ok && holder != peer {
			r.logger.Warn("secondary collision, keeping tool under original name",
				"domain", peer.Domain, "tool", peer.OriginalName, "holder", holder.Domain)
			continue
		}
		r.renameLocked(peer, peerPrefixed)
	}

	r.insertLocked(e)
	return true
}

func (r *Registry) insertLocked(e *ToolEntry) {
	if tools, ok := r.domains[e.Domain]; ok {
		// Same-domain re-registration under a different gateway name drops
		// the stale keys.
		for name, old := range tools {
			if old.OriginalName == e.OriginalName && name != e.Name {
				delete(tools, name)
				delete(r.flat, name)
			}
		}
	} else {
		r.domains[e.Domain] = make(map[string]*ToolEntry)
	}
	r.domains[e.Domain][e.Name] = e
	r.flat[e.Name] = e
	if r.byOriginal[e.OriginalName] == nil {
		r.byOriginal[e.OriginalName] = make(map[string]*ToolEntry)
	}
	r.byOriginal[e.OriginalName][e.Domain] = e
}

func (r *Registry) renameLocked(e *ToolEntry, newName string) {
	delete(r.flat, e.Name)
	delete(r.domains[e.Domain], e.Name)
	e.Name = newName
	r.flat[newName] = e
	r.domains[e.Domain][newName] = e
}

func (r *Registry) otherDomainPeersLocked(originalName, domain string) []*ToolEntry {
	var peers []*ToolEntry
	for d, e := range r.byOriginal[originalName] {
		if d != domain {
			peers = append(peers, e)
		}
	}
	sort.Slice(peers, func(i, j int) bool { return peers[i].Domain < peers[j].Domain })
	return peers
}

func (r *Registry) domainNamesLocked(domain string) []string {
	names := make([]string, 0, len(r.domains[domain]))
	for name := range r.domains[domain] {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (r *Registry) removeDomainLocked(domain string) {
	for name, e := range r.domains[domain] {
		delete(r.flat, name)
		if m := r.byOriginal[e.OriginalName]; m != nil {
			delete(m, domain)
			if len(m) == 0 {
				delete(r.byOriginal, e.OriginalName)
			}
		}
	}
	delete(r.domains, domain)
}

// RemoveDomain drops all entries and the description for a domain.
func (r *Registry) RemoveDomain(domain string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.removeDomainLocked(domain)
	delete(r.descriptions, domain)
}

// Get looks up a tool by exact gateway name.
func (r *Registry) Get(name string) (*ToolEntry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.flat[name]
	if !ok {
		return nil, false
	}
	cp := *e
	return &cp, true
}

// HasDomain reports whether the domain has any registered tools.
func (r *Registry) HasDomain(domain string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	_, ok := r.domains[domain]
	return ok
}

// HasGroup reports whether the domain contains the given group.
func (r *Registry) HasGroup(domain, group string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, e := range r.domains[domain] {
		if e.Group == group {
			return true
		}
	}
	return false
}

// DomainNames returns all registered domain names, sorted.
func (r *Registry) DomainNames() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.domains))
	for d := range r.domains {
		names = append(names, d)
	}
	sort.Strings(names)
	return names
}

// GroupsForDomain returns the sorted set of non-empty groups in a domain.
func (r *Registry) GroupsForDomain(domain string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return r.groupsForDomainLocked(domain)
}

func (r *Registry) groupsForDomainLocked(domain string) []string {
	seen := make(map[string]struct{})
	for _, e := range r.domains[domain] {
		if e.Group != "" {
			seen[e.Group] = struct{}{}
		}
	}
	groups := make([]string, 0, len(seen))
	for g := range seen {
		groups = append(groups, g)
	}
	sort.Strings(groups)
	return groups
}

// ListDomains returns a snapshot of summary info for every domain, sorted by
// domain name.
func (r *Registry) ListDomains() []DomainInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()

	infos := make([]DomainInfo, 0, len(r.domains))
	for domain, tools := range r.domains {
		infos = append(infos, DomainInfo{
			Name:        domain,
			Description: r.descriptions[domain],
			Groups:      r.groupsForDomainLocked(domain),
			ToolCount:   len(tools),
		})
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Name < infos[j].Name })
	return infos
}

// ToolsByDomain returns copies of all tools in a domain, sorted by name.
func (r *Registry) ToolsByDomain(domain string) []*ToolEntry {
	r.mu.RLock()
	defer r.mu.RUnlock()

	entries := make([]*ToolEntry, 0, len(r.domains[domain]))
	for _, e := range r.domains[domain] {
		cp := *e
		entries = append(entries, &cp)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name < entries[j].Name })
	return entries
}

// ToolsByGroup returns copies of the tools in one domain/group, sorted by name.
func (r *Registry) ToolsByGroup(domain, group string) []*ToolEntry {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var entries []*ToolEntry
	for _, e := range r.domains[domain] {
		if e.Group == group {
			cp := *e
			entries = append(entries, &cp)
		}
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name < entries[j].Name })
	return entries
}

// AllTools returns copies of every entry, sorted by (domain, name).
func (r *Registry) AllTools() []*ToolEntry {
	r.mu.RLock()
	defer r.mu.RUnlock()

	entries := make([]*ToolEntry, 0, len(r.flat))
	for _, e := range r.flat {
		cp := *e
		entries = append(entries, &cp)
	}
	sortByDomainName(entries)
	return entries
}

// Search performs a case-insensitive keyword search across tool names and
// descriptions. Every whitespace-separated token of the query must match.
// Results are ordered by (domain, name).
func (r *Registry) Search(query string) []*ToolEntry {
	tokens := strings.Fields(strings.ToLower(query))

	r.mu.RLock()
	defer r.mu.RUnlock()

	var results []*ToolEntry
	for _, e := range r.flat {
		searchable := strings.ToLower(e.Name + " " + e.OriginalName + " " + e.Description)
		matched := true
		for _, tok := range tokens {
			if !strings.Contains(searchable, tok) {
				matched = false
				break
			}
		}
		if matched {
			cp := *e
			results = append(results, &cp)
		}
	}
	sortByDomainName(results)
	return results
}

// AllToolNames returns every gateway name, sorted. Used for fuzzy matching.
func (r *Registry) AllToolNames() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.flat))
	for name := range r.flat {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// DomainDescription returns the configured description for a domain, if any.
func (r *Registry) DomainDescription(domain string) string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return r.descriptions[domain]
}

// SetDomainDescription stores a human-readable description for a domain.
func (r *Registry) SetDomainDescription(domain, description string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.descriptions[domain] = description
}

// ToolCount returns the total number of registered tools.
func (r *Registry) ToolCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.flat)
}

// DomainToolCount returns the number of tools registered for one domain.
func (r *Registry) DomainToolCount(domain string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.domains[domain])
}

// Fingerprint hashes the sorted set of gateway names. The server compares
// fingerprints across populations to decide whether the tool set changed.
func (r *Registry) Fingerprint() uint64 {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.flat))
	for name := range r.flat {
		names = append(names, name)
	}
	sort.Strings(names)

	h := xxhash.New()
	for _, name := range names {
		_, _ = h.WriteString(name)
		_, _ = h.Write([]byte{0})
	}
	return h.Sum64()
}

func sortByDomainName(entries []*ToolEntry) {
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].Domain != entries[j].Domain {
			return entries[i].Domain < entries[j].Domain
		}
		return entries[i].Name < entries[j].Name
	})
}

func diffNames(domain string, before, after []string) Diff {
	prev := make(map[string]struct{}, len(before))
	for _, n := range before {
		prev[n] = struct{}{}
	}
	next := make(map[string]struct{}, len(after))
	for _, n := range after {
		next[n] = struct{}{}
	}

	added := make([]string, 0)
	for _, n := range after {
		if _, ok := prev[n]; !ok {
			added = append(added, n)
		}
	}
	removed := make([]string, 0)
	for _, n := range before {
		if _, ok := next[n]; !ok {
			removed = append(removed, n)
		}
	}
	return Diff{Domain: domain, Added: added, Removed: removed, ToolCount: len(after)}
}
