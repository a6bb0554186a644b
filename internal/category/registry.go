// Package category maps expense category strings (including generator
// variants like "cab" or "Meals") to canonical rules: one canonical name,
// its aliases, and whether the category is adjudicated per calendar day.
// New categories are added by registering a Rule, not by branching on
// category names elsewhere in the pipeline.
package category

import "strings"

// Rule describes one expense category.
type Rule struct {
	Canonical string
	Aliases   []string
	PerDiem   bool
}

// Registry resolves category strings to their rules.
type Registry struct {
	byName map[string]Rule
}

// NewRegistry creates a registry with the given rules.
func NewRegistry(rules ...Rule) *Registry {
	r := &Registry{byName: make(map[string]Rule)}
	for _, rule := range rules {
		r.Register(rule)
	}
	return r
}

// DefaultRegistry returns the standard commute/meal/fuel rules. Meals are
// per-diem; "cab" and "meals" fold into their canonical names.
func DefaultRegistry() *Registry {
	return NewRegistry(
		Rule{Canonical: "commute", Aliases: []string{"cab"}},
		Rule{Canonical: "meal", Aliases: []string{"meals"}, PerDiem: true},
		Rule{Canonical: "fuel"},
	)
}

// Register adds a rule, indexing the canonical name and every alias.
func (r *Registry) Register(rule Rule) {
	r.byName[normalize(rule.Canonical)] = rule
	for _, alias := range rule.Aliases {
		r.byName[normalize(alias)] = rule
	}
}

// Canonical returns the canonical category for cat. Unknown categories
// pass through lowercased; empty becomes "unknown".
func (r *Registry) Canonical(cat string) string {
	n := normalize(cat)
	if n == "" {
		return "unknown"
	}
	if rule, ok := r.byName[n]; ok {
		return rule.Canonical
	}
	return n
}

// IsPerDiem reports whether cat is grouped and capped per calendar day.
func (r *Registry) IsPerDiem(cat string) bool {
	rule, ok := r.byName[normalize(cat)]
	return ok && rule.PerDiem
}

func normalize(cat string) string {
	return strings.ToLower(strings.TrimSpace(cat))
}
