// Package policy implements the authorization decision engine: glob
// compilation, the condition DSL, compiled-policy caching, per-policy
// matching, and aggregation across a subject's policies and groups.
package policy

import "errors"

// Domain errors. The HTTP adapter maps these to the status codes
// described in the error handling table; storage adapters return
// ErrNotFound for a missing row and wrap their own driver failures with
// fmt.Errorf("...: %w", err).
var (
	// ErrActionsCannotBeEmpty is returned by NewCompletePolicy when actions is empty.
	ErrActionsCannotBeEmpty = errors.New("policy: actions cannot be empty")
	// ErrUnknownPolicyVersion is returned when a policy document carries an unsupported version.
	ErrUnknownPolicyVersion = errors.New("policy: unknown policy version")
	// ErrMalformedCondition is returned when a condition's comparand does not match its kind.
	ErrMalformedCondition = errors.New("policy: malformed condition")
	// ErrUnknownConditionKey is returned when a condition DSL key does not resolve to a known kind.
	ErrUnknownConditionKey = errors.New("policy: unknown condition key")
	// ErrMalformedRequest is returned for structurally invalid evaluation requests.
	ErrMalformedRequest = errors.New("policy: malformed request")
	// ErrNotFound is returned by stores when a policy, identity, or group does not exist.
	ErrNotFound = errors.New("policy: not found")
	// ErrRegexBuildFailed wraps a glob-to-regex compilation failure.
	ErrRegexBuildFailed = errors.New("policy: regex build failed")
)
