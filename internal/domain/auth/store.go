package auth

import (
	"context"
	"errors"
)

// ErrIdentityNotFound is returned when an admin identity is not found.
var ErrIdentityNotFound = errors.New("admin identity not found")

// AuthStore provides credential lookup for authenticating callers of
// Zephir's admin HTTP surface (the policy/identity/group CRUD
// endpoints). This is distinct from policy.PolicyStore: it answers
// "who is calling the admin API", not "what can the evaluated subject
// do". Implementation: the in-memory AuthStore in
// internal/adapter/outbound/memory.
type AuthStore interface {
	// GetAPIKey retrieves an API key by its hash.
	GetAPIKey(ctx context.Context, keyHash string) (*APIKey, error)

	// GetIdentity retrieves an admin identity by ID.
	GetIdentity(ctx context.Context, id string) (*Identity, error)

	// ListAPIKeys returns all stored API keys for iteration-based
	// verification (needed to support Argon2id hashes, which can't be
	// looked up by a direct hash of the raw key).
	ListAPIKeys(ctx context.Context) ([]*APIKey, error)
}
