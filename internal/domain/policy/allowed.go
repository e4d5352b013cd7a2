package policy

import "encoding/json"

// AllowedOutcome is the trivalent decision carried by an AllowedResult.
type AllowedOutcome int

const (
	Abstain AllowedOutcome = iota
	Allowed
	Denied
)

func (o AllowedOutcome) String() string {
	switch o {
	case Allowed:
		return "ALLOWED"
	case Denied:
		return "DENIED"
	default:
		return "ABSTAIN"
	}
}

// AllowedResult aggregates the per-policy MatchResults of a subject's
// (or group's) policies into a single decision plus the partial policies
// a later, more complete request could resolve.
type AllowedResult struct {
	outcome  AllowedOutcome
	partials []PartialPolicy
}

// policyMatch pairs a policy with its already-computed MatchResult.
type policyMatch struct {
	Policy *CompletePolicy
	Result *MatchResult
}

// NewAllowedResultFromMatches aggregates an ordered list of per-policy
// match results following the deny-dominant rule: a full-match deny
// short-circuits the whole aggregation; a full-match allow marks the
// running outcome allowed (unless already denied); anything partial
// accumulates into the partials list.
func NewAllowedResultFromMatches(matches []policyMatch) *AllowedResult {
	outcome := Abstain
	var partials []PartialPolicy

	for _, m := range matches {
		if m.Result.Outcome != OutcomeMatch {
			continue
		}
		if m.Result.Type == ResultFull {
			if m.Policy.Effect == EffectDeny {
				return newAllowedResult(Denied, nil)
			}
			outcome = Allowed
			continue
		}
		if p := m.Result.Partial(); p != nil {
			partials = append(partials, *p)
		}
	}

	return newAllowedResult(outcome, partials)
}

// NewDeniedResult returns the result used when the subject itself cannot
// be found (spec: SubjectNotFound is converted to Deny).
func NewDeniedResult() *AllowedResult {
	return newAllowedResult(Denied, nil)
}

// newAllowedResult applies the constructor-time partial filtering: a
// denied outcome drops every partial; an allowed outcome keeps only
// deny-effect partials (a later deny could still override); an abstain
// outcome keeps everything, so merge() can still upgrade it later.
func newAllowedResult(outcome AllowedOutcome, partials []PartialPolicy) *AllowedResult {
	switch outcome {
	case Denied:
		partials = nil
	case Allowed:
		kept := make([]PartialPolicy, 0, len(partials))
		for _, p := range partials {
			if p.Effect == EffectDeny {
				kept = append(kept, p)
			}
		}
		partials = kept
	}
	return &AllowedResult{outcome: outcome, partials: partials}
}

// Outcome reports the externally-visible outcome: a stored Abstain with
// no remaining partials is reported as Denied (no policy said anything
// about this request); any other stored outcome is reported as-is. The
// stored outcome itself is preserved so Merge can still upgrade it.
func (r *AllowedResult) Outcome() AllowedOutcome {
	if r.outcome == Abstain && len(r.partials) == 0 {
		return Denied
	}
	return r.outcome
}

// Partials returns the partial policies carried by this result.
func (r *AllowedResult) Partials() []PartialPolicy {
	return r.partials
}

// Merge combines two results with the same deny-dominant rule: deny wins
// absolutely, allow strengthens abstain, and partials accumulate subject
// to the allow/deny filter.
func (r *AllowedResult) Merge(other *AllowedResult) *AllowedResult {
	if r.outcome == Denied || other.outcome == Denied {
		return newAllowedResult(Denied, nil)
	}

	outcome := Abstain
	if r.outcome == Allowed || other.outcome == Allowed {
		outcome = Allowed
	}

	partials := make([]PartialPolicy, 0, len(r.partials)+len(other.partials))
	partials = append(partials, r.partials...)
	partials = append(partials, other.partials...)

	return newAllowedResult(outcome, partials)
}

// allowedResultWire is the JSON wire shape from spec §6.
type allowedResultWire struct {
	Outcome  string          `json:"outcome"`
	Partials []PartialPolicy `json:"partials"`
}

// MarshalJSON serializes using the externally-visible Outcome(), not the
// internally-preserved stored outcome.
func (r *AllowedResult) MarshalJSON() ([]byte, error) {
	partials := r.partials
	if partials == nil {
		partials = []PartialPolicy{}
	}
	return json.Marshal(allowedResultWire{Outcome: r.Outcome().String(), Partials: partials})
}
