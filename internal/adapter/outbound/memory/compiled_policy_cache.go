package memory

import (
	"context"
	"sync"

	"github.com/alekitto/zephir-go/internal/domain/policy"
)

// CompiledPolicyCache implements policy.CompiledPolicyCache as an
// unbounded in-process map. Entries never expire on their own; callers
// rely on Flush to invalidate a policy's compiled form on save/delete.
type CompiledPolicyCache struct {
	entries map[string]*policy.CompiledPolicy
	mu      sync.RWMutex
}

// NewCompiledPolicyCache creates a new in-memory compiled-policy cache.
func NewCompiledPolicyCache() *CompiledPolicyCache {
	return &CompiledPolicyCache{
		entries: make(map[string]*policy.CompiledPolicy),
	}
}

// Get returns the compiled form for id, if present.
func (c *CompiledPolicyCache) Get(ctx context.Context, id string) (*policy.CompiledPolicy, bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	compiled, ok := c.entries[id]
	return compiled, ok, nil
}

// Put stores the compiled form for id, overwriting any existing entry.
func (c *CompiledPolicyCache) Put(ctx context.Context, id string, compiled *policy.CompiledPolicy) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries[id] = compiled
	return nil
}

// Flush removes the cached entry for id, if any.
func (c *CompiledPolicyCache) Flush(ctx context.Context, id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.entries, id)
	return nil
}

var _ policy.CompiledPolicyCache = (*CompiledPolicyCache)(nil)
