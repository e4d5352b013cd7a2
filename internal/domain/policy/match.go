package policy

// ResultType distinguishes a fully-decided per-policy match from one
// where an axis (in practice, the resource axis) was indeterminate.
type ResultType int

const (
	ResultPartial ResultType = iota
	ResultFull
)

// ResultOutcome is the per-policy match/no-match verdict, independent of
// whether the verdict was fully or partially determined.
type ResultOutcome int

const (
	OutcomeNotMatch ResultOutcome = iota
	OutcomeMatch
)

// MatchResult is the outcome of probing one policy's three axes (action,
// resource, condition) against a request.
type MatchResult struct {
	Type    ResultType
	Outcome ResultOutcome
	partial *PartialPolicy
}

// Partial returns the partial policy recorded for a Partial-type result,
// or nil for a Full-type result.
func (r *MatchResult) Partial() *PartialPolicy {
	return r.partial
}

// EvaluateMatch probes a compiled policy's three axes against a request
// and builds the corresponding MatchResult for the source policy p (used
// to populate a partial's effect and absent-side lists).
func EvaluateMatch(p *CompletePolicy, compiled *CompiledPolicy, action string, resource *string, ctx map[string]any, scripts ScriptEvaluator) *MatchResult {
	actionMatches := compiled.MatchAction(action)
	resourceMatches, resourceKnown := compiled.MatchResource(resource)
	conditionsMatch := compiled.MatchConditions(ctx, scripts)

	return newMatchResult(p, true, actionMatches, resourceKnown, resourceMatches, conditionsMatch)
}

// newMatchResult implements the _update() algorithm: any axis explicitly
// false forces a full non-match; otherwise a true axis yields a match,
// and the result is only Full once both action and resource are decided.
func newMatchResult(p *CompletePolicy, actionKnown, actionMatches, resourceKnown, resourceMatches, conditionsMatch bool) *MatchResult {
	explicitFalse := (actionKnown && !actionMatches) || (resourceKnown && !resourceMatches) || !conditionsMatch
	if explicitFalse {
		return &MatchResult{Type: ResultFull, Outcome: OutcomeNotMatch}
	}

	r := &MatchResult{Outcome: OutcomeNotMatch}
	if (actionKnown && actionMatches) || (resourceKnown && resourceMatches) {
		r.Outcome = OutcomeMatch
	}

	if actionKnown && resourceKnown {
		r.Type = ResultFull
		return r
	}

	r.Type = ResultPartial
	partial := &PartialPolicy{Version: p.Version, Effect: p.Effect, Conditions: p.RawConditions}
	if !actionKnown {
		partial.Actions = p.Actions
	}
	if !resourceKnown {
		partial.Resources = p.Resources
	}
	r.partial = partial
	return r
}
