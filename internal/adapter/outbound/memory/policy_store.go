package memory

import (
	"context"
	"sync"

	"github.com/alekitto/zephir-go/internal/domain/policy"
)

// PolicyStore implements policy.PolicyStore with in-memory maps.
// Thread-safe for concurrent access. For development/testing and the
// embedded single-process deployment mode only — it has no durability.
type PolicyStore struct {
	policies   map[string]*policy.CompletePolicy
	identities map[string]*policy.Identity
	groups     map[string]*policy.Group
	mu         sync.RWMutex
}

// NewPolicyStore creates a new in-memory policy store.
func NewPolicyStore() *PolicyStore {
	return &PolicyStore{
		policies:   make(map[string]*policy.CompletePolicy),
		identities: make(map[string]*policy.Identity),
		groups:     make(map[string]*policy.Group),
	}
}

// FindPolicy retrieves a policy by ID. Returns policy.ErrNotFound if it
// doesn't exist.
func (s *PolicyStore) FindPolicy(ctx context.Context, id string) (*policy.CompletePolicy, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.policies[id]
	if !ok {
		return nil, policy.ErrNotFound
	}
	return p, nil
}

// SavePolicy inserts or replaces a policy.
func (s *PolicyStore) SavePolicy(ctx context.Context, p *policy.CompletePolicy) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.policies[p.ID] = p
	return nil
}

// DeletePolicy removes a policy by ID. Deleting an unknown ID is a no-op.
func (s *PolicyStore) DeletePolicy(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.policies, id)
	return nil
}

// CountPolicies returns the number of stored policies, the signal
// bootstrap.Seed uses to decide whether this is a fresh store.
func (s *PolicyStore) CountPolicies(ctx context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return len(s.policies), nil
}

// FindIdentity retrieves an identity by ID. Returns policy.ErrNotFound
// if it doesn't exist.
func (s *PolicyStore) FindIdentity(ctx context.Context, id string) (*policy.Identity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	i, ok := s.identities[id]
	if !ok {
		return nil, policy.ErrNotFound
	}
	return i, nil
}

// SaveIdentity inserts or replaces an identity.
func (s *PolicyStore) SaveIdentity(ctx context.Context, i *policy.Identity) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.identities[i.ID] = i
	return nil
}

// FindGroup retrieves a group by name. Returns policy.ErrNotFound if it
// doesn't exist.
func (s *PolicyStore) FindGroup(ctx context.Context, name string) (*policy.Group, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	g, ok := s.groups[name]
	if !ok {
		return nil, policy.ErrNotFound
	}
	return g, nil
}

// FindGroupsForIdentity returns every group that carries the given
// identity among its members, in map iteration order. Decide merges
// every group's result; each group's linked policies come back sorted
// by ID from Group.LinkedPolicies.
func (s *PolicyStore) FindGroupsForIdentity(ctx context.Context, identityID string) ([]*policy.Group, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*policy.Group
	for _, g := range s.groups {
		for _, id := range g.IdentityIDs() {
			if id == identityID {
				result = append(result, g)
				break
			}
		}
	}
	return result, nil
}

// SaveGroup inserts or replaces a group.
func (s *PolicyStore) SaveGroup(ctx context.Context, g *policy.Group) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.groups[g.Name] = g
	return nil
}

var _ policy.PolicyStore = (*PolicyStore)(nil)
