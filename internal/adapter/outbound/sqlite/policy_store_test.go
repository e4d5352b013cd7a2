package sqlite

import (
	"context"
	"errors"
	"testing"

	"github.com/alekitto/zephir-go/internal/domain/policy"
)

func openTestStore(t *testing.T) *PolicyStore {
	t.Helper()
	db, err := Open(context.Background(), ":memory:")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return NewPolicyStore(db)
}

func mustPolicy(t *testing.T, id string, effect policy.PolicyEffect, actions, resources []string) *policy.CompletePolicy {
	t.Helper()
	p, err := policy.NewCompletePolicy(id, policy.VersionV1, effect, actions, resources, nil)
	if err != nil {
		t.Fatalf("NewCompletePolicy: %v", err)
	}
	return p
}

func TestPolicyStoreFindPolicy(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	p := mustPolicy(t, "p1", policy.EffectAllow, []string{"read"}, []string{"*"})
	if err := store.SavePolicy(ctx, p); err != nil {
		t.Fatalf("SavePolicy: %v", err)
	}

	got, err := store.FindPolicy(ctx, "p1")
	if err != nil {
		t.Fatalf("FindPolicy: %v", err)
	}
	if got.ID != "p1" || got.Effect != policy.EffectAllow {
		t.Errorf("got %+v, want id p1 effect ALLOW", got)
	}

	if _, err := store.FindPolicy(ctx, "missing"); !errors.Is(err, policy.ErrNotFound) {
		t.Errorf("got err %v, want ErrNotFound", err)
	}
}

func TestPolicyStoreSavePolicyUpserts(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	p := mustPolicy(t, "p1", policy.EffectAllow, []string{"read"}, []string{"*"})
	_ = store.SavePolicy(ctx, p)

	updated := mustPolicy(t, "p1", policy.EffectDeny, []string{"write"}, []string{"arn:*"})
	if err := store.SavePolicy(ctx, updated); err != nil {
		t.Fatalf("SavePolicy (update): %v", err)
	}

	got, err := store.FindPolicy(ctx, "p1")
	if err != nil {
		t.Fatalf("FindPolicy: %v", err)
	}
	if got.Effect != policy.EffectDeny || got.Actions[0] != "write" {
		t.Errorf("got %+v, want updated DENY/write policy", got)
	}
}

func TestPolicyStoreDeletePolicy(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	p := mustPolicy(t, "p1", policy.EffectAllow, []string{"read"}, []string{"*"})
	_ = store.SavePolicy(ctx, p)

	if err := store.DeletePolicy(ctx, "p1"); err != nil {
		t.Fatalf("DeletePolicy: %v", err)
	}
	if _, err := store.FindPolicy(ctx, "p1"); !errors.Is(err, policy.ErrNotFound) {
		t.Errorf("expected ErrNotFound after delete, got %v", err)
	}

	if err := store.DeletePolicy(ctx, "never-existed"); err != nil {
		t.Errorf("expected no error deleting unknown ID, got %v", err)
	}
}

func TestPolicyStoreIdentityRoundTrip(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	identity := policy.NewIdentity("alice")
	identity.SetInlinePolicy(mustPolicy(t, "inline-alice", policy.EffectAllow, []string{"*"}, []string{"*"}))
	identity.AddLinkedPolicy(mustPolicy(t, "p1", policy.EffectAllow, []string{"read"}, []string{"*"}))

	if err := store.SaveIdentity(ctx, identity); err != nil {
		t.Fatalf("SaveIdentity: %v", err)
	}

	got, err := store.FindIdentity(ctx, "alice")
	if err != nil {
		t.Fatalf("FindIdentity: %v", err)
	}
	if got.InlinePolicy() == nil || got.InlinePolicy().ID != "inline-alice" {
		t.Errorf("got inline policy %+v, want inline-alice", got.InlinePolicy())
	}
	if len(got.LinkedPolicies()) != 1 || got.LinkedPolicies()[0].ID != "p1" {
		t.Errorf("got linked policies %+v, want [p1]", got.LinkedPolicies())
	}

	if _, err := store.FindIdentity(ctx, "bob"); !errors.Is(err, policy.ErrNotFound) {
		t.Errorf("got err %v, want ErrNotFound", err)
	}
}

func TestPolicyStoreGroupRoundTripAndMembership(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	alice := policy.NewIdentity("alice")
	if err := store.SaveIdentity(ctx, alice); err != nil {
		t.Fatalf("SaveIdentity: %v", err)
	}

	group := policy.NewGroup("engineers")
	group.AddIdentity(alice)
	group.AddLinkedPolicy(mustPolicy(t, "p1", policy.EffectAllow, []string{"read"}, []string{"*"}))

	if err := store.SaveGroup(ctx, group); err != nil {
		t.Fatalf("SaveGroup: %v", err)
	}

	got, err := store.FindGroup(ctx, "engineers")
	if err != nil {
		t.Fatalf("FindGroup: %v", err)
	}
	ids := got.IdentityIDs()
	if len(ids) != 1 || ids[0] != "alice" {
		t.Errorf("got identity IDs %v, want [alice]", ids)
	}
	if len(got.LinkedPolicies()) != 1 || got.LinkedPolicies()[0].ID != "p1" {
		t.Errorf("got linked policies %+v, want [p1]", got.LinkedPolicies())
	}

	groups, err := store.FindGroupsForIdentity(ctx, "alice")
	if err != nil {
		t.Fatalf("FindGroupsForIdentity: %v", err)
	}
	if len(groups) != 1 || groups[0].Name != "engineers" {
		t.Errorf("got groups %v, want [engineers]", groups)
	}

	if _, err := store.FindGroup(ctx, "missing"); !errors.Is(err, policy.ErrNotFound) {
		t.Errorf("got err %v, want ErrNotFound", err)
	}
}

func TestPolicyStoreSaveGroupAddsMemberWithoutPriorSaveIdentity(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	bob := policy.NewIdentity("bob")
	group := policy.NewGroup("contractors")
	group.AddIdentity(bob)

	if err := store.SaveGroup(ctx, group); err != nil {
		t.Fatalf("SaveGroup: %v", err)
	}

	got, err := store.FindGroup(ctx, "contractors")
	if err != nil {
		t.Fatalf("FindGroup: %v", err)
	}
	if ids := got.IdentityIDs(); len(ids) != 1 || ids[0] != "bob" {
		t.Errorf("got identity IDs %v, want [bob]", ids)
	}
}
