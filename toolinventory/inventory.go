// Package toolinventory resolves the set of tools available to the model
// for a request and maps the model's (possibly misremembered) tool name back
// onto the inventory entry the tool-proxy actually understands.
package toolinventory

import (
	"sort"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/agentic-work/chatcore/tools"
)

// Inventory is the set of tools available to the model for one request,
// indexed for fast exact and fuzzy name resolution.
type Inventory struct {
	specs      []tools.ToolSpec
	bySanitize map[string]tools.ToolSpec
	schemas    *schemaCache
}

// New builds an Inventory from specs. Later entries win on a sanitized-name
// collision.
func New(specs []tools.ToolSpec) *Inventory {
	inv := &Inventory{
		specs:      specs,
		bySanitize: make(map[string]tools.ToolSpec, len(specs)),
		schemas:    &schemaCache{schemas: make(map[string]*jsonschema.Schema)},
	}
	for _, s := range specs {
		inv.bySanitize[s.SanitizedName] = s
	}
	return inv
}

// Specs returns every tool in the inventory, in the order supplied to New.
func (inv *Inventory) Specs() []tools.ToolSpec {
	return inv.specs
}

// Resolve maps an LM-emitted tool name onto an inventory entry.
//
// Resolution proceeds, in order, through exact match, normalized-equal
// match, substring containment (scored by length ratio), and token-overlap
// similarity. The highest-scoring candidate with score > 0.3 wins; ties are
// broken lexicographically by sanitized name. Resolve reports false when
// nothing qualifies; callers then dispatch the original name unresolved so
// it fails downstream with a clear error, preserving Q7's round-trip
// guarantee that a *successful* resolution always dispatches using the
// inventory's OriginalName.
func (inv *Inventory) Resolve(name string) (tools.ToolSpec, bool) {
	if spec, ok := inv.bySanitize[name]; ok {
		return spec, true
	}

	normalizedTarget := normalize(name)
	type candidate struct {
		spec  tools.ToolSpec
		score float64
	}
	var best *candidate

	consider := func(spec tools.ToolSpec, score float64) {
		if score <= 0.3 {
			return
		}
		if best == nil || score > best.score ||
			(score == best.score && spec.SanitizedName < best.spec.SanitizedName) {
			best = &candidate{spec: spec, score: score}
		}
	}

	for _, spec := range inv.specs {
		normalizedCandidate := normalize(spec.SanitizedName)
		if normalizedCandidate == normalizedTarget {
			consider(spec, 1.0)
			continue
		}
		if score, ok := substringScore(normalizedTarget, normalizedCandidate); ok {
			consider(spec, score)
		}
		if score := tokenOverlap(normalizedTarget, normalizedCandidate); score >= 0.5 {
			consider(spec, score)
		}
	}

	if best == nil {
		return tools.ToolSpec{}, false
	}
	return best.spec, true
}

// normalize lowercases s, maps '-' to '_', and strips any character that is
// not alphanumeric or underscore.
func normalize(s string) string {
	s = strings.ToLower(s)
	s = strings.ReplaceAll(s, "-", "_")
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '_' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// substringScore reports a length-ratio score when a is contained in b or
// b is contained in a.
func substringScore(a, b string) (float64, bool) {
	if a == "" || b == "" {
		return 0, false
	}
	var shorter, longer string
	if len(a) <= len(b) {
		shorter, longer = a, b
	} else {
		shorter, longer = b, a
	}
	if !strings.Contains(longer, shorter) {
		return 0, false
	}
	return float64(len(shorter)) / float64(len(longer)), true
}

// tokenOverlap scores two normalized names by the Jaccard similarity of
// their underscore-delimited token sets.
func tokenOverlap(a, b string) float64 {
	ta := tokenSet(a)
	tb := tokenSet(b)
	if len(ta) == 0 || len(tb) == 0 {
		return 0
	}
	inter := 0
	for t := range ta {
		if _, ok := tb[t]; ok {
			inter++
		}
	}
	union := len(ta) + len(tb) - inter
	if union == 0 {
		return 0
	}
	return float64(inter) / float64(union)
}

func tokenSet(s string) map[string]struct{} {
	tokens := strings.Split(s, "_")
	set := make(map[string]struct{}, len(tokens))
	for _, t := range tokens {
		if t != "" {
			set[t] = struct{}{}
		}
	}
	return set
}

// SortedNames returns the sanitized names of every tool, sorted
// lexicographically. Convenient for deterministic test assertions and for
// building a stable provider tool list.
func (inv *Inventory) SortedNames() []string {
	names := make([]string, 0, len(inv.specs))
	for _, s := range inv.specs {
		names = append(names, s.SanitizedName)
	}
	sort.Strings(names)
	return names
}
