package memory

import (
	"context"
	"errors"
	"testing"

	"github.com/alekitto/zephir-go/internal/domain/policy"
)

func mustPolicy(t *testing.T, id string, effect policy.PolicyEffect, actions, resources []string) *policy.CompletePolicy {
	t.Helper()
	p, err := policy.NewCompletePolicy(id, policy.VersionV1, effect, actions, resources, nil)
	if err != nil {
		t.Fatalf("NewCompletePolicy: %v", err)
	}
	return p
}

func TestPolicyStoreFindPolicy(t *testing.T) {
	t.Parallel()

	store := NewPolicyStore()
	p := mustPolicy(t, "p1", policy.EffectAllow, []string{"read"}, []string{"*"})
	if err := store.SavePolicy(context.Background(), p); err != nil {
		t.Fatalf("SavePolicy: %v", err)
	}

	got, err := store.FindPolicy(context.Background(), "p1")
	if err != nil {
		t.Fatalf("FindPolicy: %v", err)
	}
	if got.ID != "p1" {
		t.Errorf("got ID %q, want p1", got.ID)
	}

	if _, err := store.FindPolicy(context.Background(), "missing"); !errors.Is(err, policy.ErrNotFound) {
		t.Errorf("got err %v, want ErrNotFound", err)
	}
}

func TestPolicyStoreDeletePolicy(t *testing.T) {
	t.Parallel()

	store := NewPolicyStore()
	p := mustPolicy(t, "p1", policy.EffectAllow, []string{"read"}, []string{"*"})
	_ = store.SavePolicy(context.Background(), p)

	if err := store.DeletePolicy(context.Background(), "p1"); err != nil {
		t.Fatalf("DeletePolicy: %v", err)
	}
	if _, err := store.FindPolicy(context.Background(), "p1"); !errors.Is(err, policy.ErrNotFound) {
		t.Errorf("expected ErrNotFound after delete, got %v", err)
	}

	// Deleting an unknown ID is a no-op, not an error.
	if err := store.DeletePolicy(context.Background(), "never-existed"); err != nil {
		t.Errorf("expected no error deleting unknown ID, got %v", err)
	}
}

func TestPolicyStoreIdentityRoundTrip(t *testing.T) {
	t.Parallel()

	store := NewPolicyStore()
	identity := policy.NewIdentity("alice")
	identity.AddLinkedPolicy(mustPolicy(t, "p1", policy.EffectAllow, []string{"read"}, []string{"*"}))

	if err := store.SaveIdentity(context.Background(), identity); err != nil {
		t.Fatalf("SaveIdentity: %v", err)
	}

	got, err := store.FindIdentity(context.Background(), "alice")
	if err != nil {
		t.Fatalf("FindIdentity: %v", err)
	}
	if len(got.LinkedPolicies()) != 1 {
		t.Errorf("got %d linked policies, want 1", len(got.LinkedPolicies()))
	}

	if _, err := store.FindIdentity(context.Background(), "bob"); !errors.Is(err, policy.ErrNotFound) {
		t.Errorf("got err %v, want ErrNotFound", err)
	}
}

func TestPolicyStoreGroupRoundTripAndMembership(t *testing.T) {
	t.Parallel()

	store := NewPolicyStore()
	alice := policy.NewIdentity("alice")
	group := policy.NewGroup("engineers")
	group.AddIdentity(alice)

	if err := store.SaveGroup(context.Background(), group); err != nil {
		t.Fatalf("SaveGroup: %v", err)
	}

	got, err := store.FindGroup(context.Background(), "engineers")
	if err != nil {
		t.Fatalf("FindGroup: %v", err)
	}
	ids := got.IdentityIDs()
	if len(ids) != 1 || ids[0] != "alice" {
		t.Errorf("got identity IDs %v, want [alice]", ids)
	}

	groups, err := store.FindGroupsForIdentity(context.Background(), "alice")
	if err != nil {
		t.Fatalf("FindGroupsForIdentity: %v", err)
	}
	if len(groups) != 1 || groups[0].Name != "engineers" {
		t.Errorf("got groups %v, want [engineers]", groups)
	}

	if _, err := store.FindGroup(context.Background(), "missing"); !errors.Is(err, policy.ErrNotFound) {
		t.Errorf("got err %v, want ErrNotFound", err)
	}
}
