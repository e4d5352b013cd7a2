package policy

import "context"

// PolicyStore is the single external collaborator the evaluation engine
// consumes for persistence. Implementations do not touch the
// CompiledPolicyCache; the HTTP policy upsert handler flushes a policy's
// cache entry after saving it.
type PolicyStore interface {
	FindPolicy(ctx context.Context, id string) (*CompletePolicy, error)
	SavePolicy(ctx context.Context, p *CompletePolicy) error
	DeletePolicy(ctx context.Context, id string) error
	CountPolicies(ctx context.Context) (int, error)

	FindIdentity(ctx context.Context, id string) (*Identity, error)
	SaveIdentity(ctx context.Context, i *Identity) error

	FindGroup(ctx context.Context, name string) (*Group, error)
	FindGroupsForIdentity(ctx context.Context, identityID string) ([]*Group, error)
	SaveGroup(ctx context.Context, g *Group) error
}

// CompiledPolicyCache is a thread-safe mapping from policy ID to its
// compiled form. It may be in-process (unbounded) or backed by an
// external store; entries have no TTL unless the implementation sets
// one. Duplicate compiles racing on Put must be idempotent, but the
// cache is not required to guarantee at-most-one compile per ID.
type CompiledPolicyCache interface {
	Get(ctx context.Context, id string) (*CompiledPolicy, bool, error)
	Put(ctx context.Context, id string, compiled *CompiledPolicy) error
	Flush(ctx context.Context, id string) error
}
