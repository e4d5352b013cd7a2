package policy

import "regexp"

// CompiledPolicy holds the compiled regexes and parsed conditions derived
// from a CompletePolicy, plus the two fast-path flags the matcher relies
// on. AllResources is true when no resource regexes were compiled, which
// the compiler arranges whenever any resource glob is "*" (the "match
// anything" case); NoConditions is true when there are no conditions.
type CompiledPolicy struct {
	Actions      []*regexp.Regexp
	Resources    []*regexp.Regexp
	Conditions   []Condition
	AllResources bool
	NoConditions bool
}

// NewCompiledPolicy builds a CompiledPolicy from already-compiled regexes.
func NewCompiledPolicy(actions, resources []*regexp.Regexp, conditions []Condition) *CompiledPolicy {
	return &CompiledPolicy{
		Actions:      actions,
		Resources:    resources,
		Conditions:   conditions,
		AllResources: len(resources) == 0,
		NoConditions: len(conditions) == 0,
	}
}

// MatchAction reports whether any action glob matches action.
func (c *CompiledPolicy) MatchAction(action string) bool {
	for _, re := range c.Actions {
		if re.MatchString(action) {
			return true
		}
	}
	return false
}

// MatchResource reports whether resource matches, and whether the axis
// was decidable at all. known is false exactly when resource is nil and
// the policy does not match all resources — the caller must treat the
// axis as indeterminate rather than as a non-match.
func (c *CompiledPolicy) MatchResource(resource *string) (matched bool, known bool) {
	if c.AllResources {
		return true, true
	}
	if resource == nil {
		return false, false
	}
	for _, re := range c.Resources {
		if re.MatchString(*resource) {
			return true, true
		}
	}
	return false, true
}

// MatchConditions reports whether every condition is satisfied by ctx.
func (c *CompiledPolicy) MatchConditions(ctx map[string]any, scripts ScriptEvaluator) bool {
	if c.NoConditions {
		return true
	}
	return MatchConditions(c.Conditions, ctx, scripts)
}
