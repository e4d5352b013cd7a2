package policy

import "sort"

// Subject is anything that carries an optional inline policy and a set
// of linked policies: both Identity and Group implement it.
type Subject interface {
	InlinePolicy() *CompletePolicy
	LinkedPolicies() []*CompletePolicy
}

// IteratePolicies walks a subject's inline policy (if present) first,
// then its linked policies in stable order — the order §4.7 evaluation
// depends on.
func IteratePolicies(s Subject) []*CompletePolicy {
	var out []*CompletePolicy
	if p := s.InlinePolicy(); p != nil {
		out = append(out, p)
	}
	return append(out, s.LinkedPolicies()...)
}

// sortedPolicies returns a set's values in a stable, id-ordered slice.
// The spec only requires set iteration to be *stable*, not any
// particular order; sorting by ID gives a deterministic one.
func sortedPolicies(set map[string]*CompletePolicy) []*CompletePolicy {
	out := make([]*CompletePolicy, 0, len(set))
	for _, p := range set {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func sortStrings(s []string) {
	sort.Strings(s)
}
