// Package bootstrap seeds a PolicyStore with a starting policy set on
// first boot, so a fresh deployment isn't an empty store that denies
// every request. Grounded in the teacher's own
// SeedDefaultPolicy/DefaultPolicy pair (internal/service/policy_service.go):
// skip seeding once the store already holds policies, otherwise save a
// default. Zephir generalizes the "default" from the teacher's single
// hardcoded RBAC policy to an optional YAML document (read the same
// way the teacher reads its other auxiliary files, outside viper,
// since it's data rather than config); a configured document, when
// present and readable, replaces the hardcoded default rather than
// supplementing it.
package bootstrap

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/alekitto/zephir-go/internal/domain/policy"
)

// Document is the YAML shape of a default-policy seed file: a flat
// list of policies, identities, and groups. Seeding is idempotent
// (every save is an upsert), so re-running it on every boot is safe
// and requires no "already seeded" bookkeeping.
type Document struct {
	Policies   []PolicySeed   `yaml:"policies"`
	Identities []IdentitySeed `yaml:"identities"`
	Groups     []GroupSeed    `yaml:"groups"`
}

// PolicySeed is one policy document, in the same shape as the
// policy.CompletePolicy JSON a client would POST to /policies.
type PolicySeed struct {
	ID         string   `yaml:"id"`
	Effect     string   `yaml:"effect"` // "ALLOW" or "DENY"
	Actions    []string `yaml:"actions"`
	Resources  []string `yaml:"resources"`
	Conditions any      `yaml:"conditions"`
}

// IdentitySeed attaches an optional inline policy and a set of linked
// policy IDs (already defined under Policies) to a subject ID.
type IdentitySeed struct {
	ID              string      `yaml:"id"`
	InlinePolicy    *PolicySeed `yaml:"inline_policy"`
	LinkedPolicyIDs []string    `yaml:"linked_policy_ids"`
}

// GroupSeed attaches an optional inline policy, linked policy IDs, and
// a membership list (by identity ID) to a group name.
type GroupSeed struct {
	Name            string      `yaml:"name"`
	InlinePolicy    *PolicySeed `yaml:"inline_policy"`
	LinkedPolicyIDs []string    `yaml:"linked_policy_ids"`
	MemberIDs       []string    `yaml:"member_ids"`
}

func (s PolicySeed) toCompletePolicy() (*policy.CompletePolicy, error) {
	var effect policy.PolicyEffect
	switch s.Effect {
	case "", "ALLOW":
		effect = policy.EffectAllow
	case "DENY":
		effect = policy.EffectDeny
	default:
		return nil, fmt.Errorf("bootstrap: policy %q: unknown effect %q", s.ID, s.Effect)
	}

	var conditions json.RawMessage
	if s.Conditions != nil {
		encoded, err := json.Marshal(s.Conditions)
		if err != nil {
			return nil, fmt.Errorf("bootstrap: policy %q: encode conditions: %w", s.ID, err)
		}
		conditions = encoded
	}

	return policy.NewCompletePolicy(s.ID, policy.VersionV1, effect, s.Actions, s.Resources, conditions)
}

// defaultAdminPolicyID and defaultAdminIdentityID name the hardcoded
// fallback seeded when no document is configured (or the configured
// file does not exist): a policy granting its linked identity every
// action on every resource, and the identity linked to it. This
// mirrors the teacher's own DefaultPolicy/SeedDefaultPolicy pair one
// level up the stack — a policy-engine admin, not the HTTP admin
// surface's bearer-key gate, which is a separate mechanism
// (internal/domain/auth) with its own, unseeded key store.
const (
	defaultAdminPolicyID   = "zephir-admin"
	defaultAdminIdentityID = "admin"
)

// defaultDocument is the hardcoded fallback seed: one policy allowing
// everything, linked to one identity.
func defaultDocument() Document {
	return Document{
		Policies: []PolicySeed{
			{
				ID:        defaultAdminPolicyID,
				Effect:    "ALLOW",
				Actions:   []string{"*"},
				Resources: []string{"*"},
			},
		},
		Identities: []IdentitySeed{
			{
				ID:              defaultAdminIdentityID,
				LinkedPolicyIDs: []string{defaultAdminPolicyID},
			},
		},
	}
}

// Seed applies a starting policy/identity/group set to store, but only
// when the store has no policies yet — a seeded store (from an earlier
// boot, or an operator-managed deployment) is left untouched. When path
// names a readable YAML Document, that document is applied; otherwise
// (path unset, or the file doesn't exist) the hardcoded default is
// applied instead. Any other read or parse failure of a configured
// path is a hard error.
func Seed(ctx context.Context, store policy.PolicyStore, path string) error {
	count, err := store.CountPolicies(ctx)
	if err != nil {
		return fmt.Errorf("bootstrap: count existing policies: %w", err)
	}
	if count > 0 {
		return nil
	}

	doc, err := loadDocument(path)
	if err != nil {
		return err
	}
	return applyDocument(ctx, store, doc)
}

// loadDocument reads path as a YAML Document. An unset path or a
// missing file yields the hardcoded default document rather than an
// error; any other read or parse failure is returned.
func loadDocument(path string) (Document, error) {
	if path == "" {
		return defaultDocument(), nil
	}

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return defaultDocument(), nil
	}
	if err != nil {
		return Document{}, fmt.Errorf("bootstrap: read %q: %w", path, err)
	}

	var doc Document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return Document{}, fmt.Errorf("bootstrap: parse %q: %w", path, err)
	}
	return doc, nil
}

// applyDocument upserts every policy, identity, and group in doc into
// store, in that order so identity/group linked-policy references
// resolve.
func applyDocument(ctx context.Context, store policy.PolicyStore, doc Document) error {
	for _, p := range doc.Policies {
		cp, err := p.toCompletePolicy()
		if err != nil {
			return err
		}
		if err := store.SavePolicy(ctx, cp); err != nil {
			return fmt.Errorf("bootstrap: save policy %q: %w", p.ID, err)
		}
	}

	for _, is := range doc.Identities {
		identity := policy.NewIdentity(is.ID)
		if is.InlinePolicy != nil {
			cp, err := is.InlinePolicy.toCompletePolicy()
			if err != nil {
				return err
			}
			identity.SetInlinePolicy(cp)
		}
		for _, policyID := range is.LinkedPolicyIDs {
			linked, err := store.FindPolicy(ctx, policyID)
			if err != nil {
				return fmt.Errorf("bootstrap: identity %q links unknown policy %q: %w", is.ID, policyID, err)
			}
			identity.AddLinkedPolicy(linked)
		}
		if err := store.SaveIdentity(ctx, identity); err != nil {
			return fmt.Errorf("bootstrap: save identity %q: %w", is.ID, err)
		}
	}

	for _, gs := range doc.Groups {
		group := policy.NewGroup(gs.Name)
		if gs.InlinePolicy != nil {
			cp, err := gs.InlinePolicy.toCompletePolicy()
			if err != nil {
				return err
			}
			group.SetInlinePolicy(cp)
		}
		for _, policyID := range gs.LinkedPolicyIDs {
			linked, err := store.FindPolicy(ctx, policyID)
			if err != nil {
				return fmt.Errorf("bootstrap: group %q links unknown policy %q: %w", gs.Name, policyID, err)
			}
			group.AddLinkedPolicy(linked)
		}
		for _, memberID := range gs.MemberIDs {
			member, err := store.FindIdentity(ctx, memberID)
			if err != nil {
				member = policy.NewIdentity(memberID)
			}
			group.AddIdentity(member)
		}
		if err := store.SaveGroup(ctx, group); err != nil {
			return fmt.Errorf("bootstrap: save group %q: %w", gs.Name, err)
		}
	}

	return nil
}
