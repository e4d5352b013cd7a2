package policy

import (
	"context"
	"errors"
)

// EvaluateSubject walks a subject's policies (inline first, then linked,
// per IteratePolicies) and aggregates their per-policy match results into
// a single AllowedResult.
func EvaluateSubject(ctx context.Context, s Subject, compiler Compiler, action string, resource *string, reqCtx map[string]any, scripts ScriptEvaluator) (*AllowedResult, error) {
	policies := IteratePolicies(s)
	matches := make([]policyMatch, 0, len(policies))

	for _, p := range policies {
		compiled, err := compiler.Compile(ctx, p)
		if err != nil {
			return nil, err
		}
		matches = append(matches, policyMatch{
			Policy: p,
			Result: EvaluateMatch(p, compiled, action, resource, reqCtx, scripts),
		})
	}

	return NewAllowedResultFromMatches(matches), nil
}

// Decide is the decision entry point described in spec §4.7 and §2's
// "External Interfaces" component (the `allowed(subject_id, action,
// resource?, context)` operation): given a subject ID, an action, an
// optional resource, and a request-context object, it loads the
// subject's Identity and Groups from store and returns the aggregated
// decision. An unknown subject is reported as Denied, matching the HTTP
// surface's 403-on-unknown-subject contract; any other store failure or
// context cancellation is returned as an error rather than folded into
// the decision, so the caller can distinguish "no" from "couldn't tell".
func Decide(ctx context.Context, store PolicyStore, compiler Compiler, scripts ScriptEvaluator, subjectID, action string, resource *string, reqCtx map[string]any) (*AllowedResult, error) {
	identity, err := store.FindIdentity(ctx, subjectID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return NewDeniedResult(), nil
		}
		return nil, err
	}

	result, err := EvaluateSubject(ctx, identity, compiler, action, resource, reqCtx, scripts)
	if err != nil {
		return nil, err
	}
	if result.Outcome() == Denied {
		return result, nil
	}

	groups, err := store.FindGroupsForIdentity(ctx, subjectID)
	if err != nil {
		return nil, err
	}
	for _, g := range groups {
		groupResult, err := EvaluateSubject(ctx, g, compiler, action, resource, reqCtx, scripts)
		if err != nil {
			return nil, err
		}
		result = result.Merge(groupResult)
	}

	return result, nil
}
