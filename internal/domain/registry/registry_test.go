package registry

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"reflect"
	"sort"
	"testing"
)

// testRegistry returns an empty registry with a quiet logger.
func testRegistry(t *testing.T) *Registry {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	return New(logger)
}

func spec(name string) ToolSpec {
	return ToolSpec{
		Name:        name,
		Description: name + " does things",
		InputSchema: json.RawMessage(`{"type":"object"}`),
	}
}

func specs(names ...string) []ToolSpec {
	out := make([]ToolSpec, 0, len(names))
	for _, n := range names {
		out = append(out, spec(n))
	}
	return out
}

// --- Group Inference ---

func TestInferGroup(t *testing.T) {
	tests := []struct {
		domain string
		name   string
		want   string
	}{
		{"apollo", "apollo_people_search", "people"},
		{"hubspot", "hubspot_contacts_bulk_create", "contacts"},
		{"apollo", "search_people", ""},
		{"apollo", "apollo_", ""},
		{"apollo", "apollo", ""},
		{"db", "db_query", "query"},
		{"sec-edgar", "sec-edgar_filings_search", "filings"},
		{"apollo", "", ""},
	}
	for _, tt := range tests {
		if got := InferGroup(tt.domain, tt.name); got != tt.want {
			t.Errorf("InferGroup(%q, %q) = %q, want %q", tt.domain, tt.name, got, tt.want)
		}
	}
}

// --- Populate & Diff ---

func TestPopulateDomain_Basic(t *testing.T) {
	r := testRegistry(t)

	diff := r.PopulateDomain("apollo", specs("people_search", "org_search"), "")
	if diff.Domain != "apollo" {
		t.Errorf("diff.Domain = %q, want %q", diff.Domain, "apollo")
	}
	if got, want := diff.Added, []string{"org_search", "people_search"}; !reflect.DeepEqual(got, want) {
		t.Errorf("diff.Added = %v, want %v", got, want)
	}
	if len(diff.Removed) != 0 {
		t.Errorf("diff.Removed = %v, want empty", diff.Removed)
	}
	if diff.ToolCount != 2 {
		t.Errorf("diff.ToolCount = %d, want 2", diff.ToolCount)
	}

	e, ok := r.Get("people_search")
	if !ok {
		t.Fatal("Get(people_search) not found after populate")
	}
	if e.Domain != "apollo" || e.OriginalName != "people_search" || e.Name != "people_search" {
		t.Errorf("unexpected entry: %+v", e)
	}
}

func TestPopulateDomain_IdenticalInputYieldsEmptyDiff(t *testing.T) {
	r := testRegistry(t)

	r.PopulateDomain("apollo", specs("people_search", "org_search"), "")
	diff := r.PopulateDomain("apollo", specs("people_search", "org_search"), "")

	if !diff.Empty() {
		t.Errorf("repopulate diff = %+v, want empty", diff)
	}
	if diff.ToolCount != 2 {
		t.Errorf("diff.ToolCount = %d, want 2", diff.ToolCount)
	}
}

func TestPopulateDomain_DiffTracksAddsAndRemoves(t *testing.T) {
	r := testRegistry(t)

	r.PopulateDomain("apollo", specs("a", "b"), "")
	diff := r.PopulateDomain("apollo", specs("b", "c"), "")

	if got, want := diff.Added, []string{"c"}; !reflect.DeepEqual(got, want) {
		t.Errorf("diff.Added = %v, want %v", got, want)
	}
	if got, want := diff.Removed, []string{"a"}; !reflect.DeepEqual(got, want) {
		t.Errorf("diff.Removed = %v, want %v", got, want)
	}
	if _, ok := r.Get("a"); ok {
		t.Error("removed tool still resolvable")
	}
}

func TestPopulateDomain_GroupInference(t *testing.T) {
	r := testRegistry(t)

	r.PopulateDomain("apollo", specs("apollo_people_search", "apollo_org_search", "ping"), "")

	if got, want := r.GroupsForDomain("apollo"), []string{"org", "people"}; !reflect.DeepEqual(got, want) {
		t.Errorf("GroupsForDomain = %v, want %v", got, want)
	}
	e, _ := r.Get("ping")
	if e.Group != "" {
		t.Errorf("unprefixed tool got group %q, want none", e.Group)
	}
}

func TestPopulateDomain_DescriptionReplacedWholesale(t *testing.T) {
	r := testRegistry(t)

	r.PopulateDomain("apollo", specs("people_search"), "B2B data")
	if got := r.DomainDescription("apollo"); got != "B2B data" {
		t.Fatalf("DomainDescription = %q, want %q", got, "B2B data")
	}

	r.PopulateDomain("apollo", specs("people_search"), "Sales intel")
	if got := r.DomainDescription("apollo"); got != "Sales intel" {
		t.Errorf("DomainDescription = %q, want %q", got, "Sales intel")
	}

	r.PopulateDomain("apollo", specs("people_search"), "")
	if got := r.DomainDescription("apollo"); got != "" {
		t.Errorf("DomainDescription = %q after empty repopulate, want cleared", got)
	}
}

func TestRemoveDomain(t *testing.T) {
	r := testRegistry(t)

	r.PopulateDomain("apollo", specs("people_search"), "B2B data")
	r.RemoveDomain("apollo")

	if _, ok := r.Get("people_search"); ok {
		t.Error("tool still resolvable after RemoveDomain")
	}
	if r.HasDomain("apollo") {
		t.Error("HasDomain = true after RemoveDomain")
	}
	if r.ToolCount() != 0 {
		t.Errorf("ToolCount = %d, want 0", r.ToolCount())
	}
	if r.DomainDescription("apollo") != "" {
		t.Error("description survived RemoveDomain")
	}
}

func TestAddRemoveAdd_Idempotent(t *testing.T) {
	r := testRegistry(t)

	r.PopulateDomain("apollo", specs("people_search", "org_search"), "B2B")
	first := r.ListDomains()

	r.RemoveDomain("apollo")
	r.PopulateDomain("apollo", specs("people_search", "org_search"), "B2B")
	second := r.ListDomains()

	if !reflect.DeepEqual(first, second) {
		t.Errorf("add/remove/add state = %+v, want %+v", second, first)
	}
}

// --- Collisions ---

func TestCollision_TwoDomainsBothPrefixed(t *testing.T) {
	r := testRegistry(t)

	r.PopulateDomain("crm", specs("search_contacts"), "")
	r.PopulateDomain("marketing", specs("search_contacts"), "")

	if _, ok := r.Get("search_contacts"); ok {
		t.Error("bare name still resolvable after collision")
	}
	crm, ok := r.Get("crm_search_contacts")
	if !ok {
		t.Fatal("crm_search_contacts not found")
	}
	mkt, ok := r.Get("marketing_search_contacts")
	if !ok {
		t.Fatal("marketing_search_contacts not found")
	}
	if crm.OriginalName != "search_contacts" || mkt.OriginalName != "search_contacts" {
		t.Errorf("original names = %q, %q, want search_contacts", crm.OriginalName, mkt.OriginalName)
	}
	if r.ToolCount() != 2 {
		t.Errorf("ToolCount = %d, want 2", r.ToolCount())
	}
}

func TestCollision_ThirdDomainAutoPrefixed(t *testing.T) {
	r := testRegistry(t)

	r.PopulateDomain("crm", specs("search_contacts"), "")
	r.PopulateDomain("marketing", specs("search_contacts"), "")
	r.PopulateDomain("sales", specs("search_contacts"), "")

	for _, name := range []string{"crm_search_contacts", "marketing_search_contacts", "sales_search_contacts"} {
		if _, ok := r.Get(name); !ok {
			t.Errorf("Get(%q) not found", name)
		}
	}
	if r.ToolCount() != 3 {
		t.Errorf("ToolCount = %d, want 3", r.ToolCount())
	}
}

func TestCollision_SecondaryCollisionPreservesExisting(t *testing.T) {
	r := testRegistry(t)

	// Domain "a" owns the literal name "b_c"; domain "b" owns "c". When
	// domain "a_b" registers "c", renaming b's tool would clobber "b_c",
	// so b keeps its bare name while a_b is prefixed.
	r.PopulateDomain("a", specs("b_c"), "")
	r.PopulateDomain("b", specs("c"), "")
	r.PopulateDomain("a_b", specs("c"), "")

	original, ok := r.Get("b_c")
	if !ok || original.Domain != "a" {
		t.Fatalf("Get(b_c) = %+v, want domain a", original)
	}
	bTool, ok := r.Get("c")
	if !ok || bTool.Domain != "b" {
		t.Fatalf("Get(c) = %+v, want domain b", bTool)
	}
	prefixed, ok := r.Get("a_b_c")
	if !ok || prefixed.Domain != "a_b" {
		t.Fatalf("Get(a_b_c) = %+v, want domain a_b", prefixed)
	}
	if r.ToolCount() != 3 {
		t.Errorf("ToolCount = %d, want 3", r.ToolCount())
	}
}

func TestCollision_PrefixedToolsStayInTheirDomain(t *testing.T) {
	r := testRegistry(t)

	r.PopulateDomain("crm", specs("search"), "")
	r.PopulateDomain("marketing", specs("search"), "")

	crmTools := r.ToolsByDomain("crm")
	if len(crmTools) != 1 || crmTools[0].Name != "crm_search" {
		t.Errorf("ToolsByDomain(crm) = %+v, want [crm_search]", crmTools)
	}
}

// --- Search ---

func TestSearch_MatchesOriginalNameAfterRename(t *testing.T) {
	r := testRegistry(t)

	r.PopulateDomain("crm", specs("search_contacts"), "")
	r.PopulateDomain("marketing", specs("search_contacts"), "")

	results := r.Search("search_contacts")
	names := make([]string, 0, len(results))
	for _, e := range results {
		names = append(names, e.Name)
	}
	sort.Strings(names)
	want := []string{"crm_search_contacts", "marketing_search_contacts"}
	if !reflect.DeepEqual(names, want) {
		t.Errorf("Search names = %v, want %v", names, want)
	}
}

func TestSearch_AllTokensMustMatch(t *testing.T) {
	r := testRegistry(t)

	r.PopulateDomain("apollo", []ToolSpec{
		{Name: "people_search", Description: "Search for people by company"},
		{Name: "org_search", Description: "Search for organizations"},
	}, "")

	results := r.Search("search people")
	if len(results) != 1 || results[0].Name != "people_search" {
		t.Errorf("Search(\"search people\") = %+v, want [people_search]", results)
	}
}

func TestSearch_OrderedByDomainThenName(t *testing.T) {
	r := testRegistry(t)

	r.PopulateDomain("zeta", specs("alpha_tool"), "")
	r.PopulateDomain("alpha", specs("zeta_tool"), "")

	results := r.Search("tool")
	if len(results) != 2 {
		t.Fatalf("Search returned %d results, want 2", len(results))
	}
	if results[0].Domain != "alpha" || results[1].Domain != "zeta" {
		t.Errorf("results ordered %q, %q, want alpha then zeta", results[0].Domain, results[1].Domain)
	}
}

// --- Snapshots & Fingerprint ---

func TestListDomains_Snapshot(t *testing.T) {
	r := testRegistry(t)

	r.PopulateDomain("hubspot", specs("contacts_search"), "")
	r.PopulateDomain("apollo", specs("people_search", "org_search"), "B2B data")

	infos := r.ListDomains()
	if len(infos) != 2 {
		t.Fatalf("ListDomains returned %d domains, want 2", len(infos))
	}
	if infos[0].Name != "apollo" || infos[1].Name != "hubspot" {
		t.Errorf("domains = %q, %q, want apollo then hubspot", infos[0].Name, infos[1].Name)
	}
	if infos[0].ToolCount != 2 || infos[0].Description != "B2B data" {
		t.Errorf("apollo info = %+v", infos[0])
	}
	if len(infos[0].Groups) != 0 {
		t.Errorf("apollo groups = %v, want empty", infos[0].Groups)
	}
}

func TestGet_ReturnsCopy(t *testing.T) {
	r := testRegistry(t)

	r.PopulateDomain("apollo", specs("people_search"), "")
	e, _ := r.Get("people_search")
	e.Description = "mutated"

	again, _ := r.Get("people_search")
	if again.Description == "mutated" {
		t.Error("Get returned a shared reference, want a copy")
	}
}

func TestFingerprint_ChangesWithToolSet(t *testing.T) {
	r := testRegistry(t)

	empty := r.Fingerprint()
	r.PopulateDomain("apollo", specs("people_search"), "")
	one := r.Fingerprint()
	if empty == one {
		t.Error("fingerprint unchanged after populate")
	}

	r.PopulateDomain("apollo", specs("people_search"), "")
	if r.Fingerprint() != one {
		t.Error("fingerprint changed on identical repopulate")
	}

	r.RemoveDomain("apollo")
	if r.Fingerprint() != empty {
		t.Error("fingerprint did not return to empty value")
	}
}

func TestPopulateDomain_PerDomainCap(t *testing.T) {
	r := testRegistry(t)

	many := make([]ToolSpec, MaxToolsPerDomain+10)
	for i := range many {
		many[i] = spec(fmt.Sprintf("tool_%d", i))
	}
	diff := r.PopulateDomain("big", many, "")
	if diff.ToolCount != MaxToolsPerDomain {
		t.Errorf("ToolCount = %d, want %d", diff.ToolCount, MaxToolsPerDomain)
	}
}
