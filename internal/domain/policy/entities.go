package policy

import (
	"encoding/json"
	"fmt"
)

// PolicyEffect is the tagged ALLOW/DENY outcome a policy asserts.
type PolicyEffect int

const (
	EffectAllow PolicyEffect = iota
	EffectDeny
)

func (e PolicyEffect) String() string {
	if e == EffectDeny {
		return "DENY"
	}
	return "ALLOW"
}

// MarshalJSON serializes the effect as its uppercase string.
func (e PolicyEffect) MarshalJSON() ([]byte, error) {
	return json.Marshal(e.String())
}

// UnmarshalJSON parses "ALLOW" or "DENY"; any other value is an error.
func (e *PolicyEffect) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	switch s {
	case "ALLOW":
		*e = EffectAllow
	case "DENY":
		*e = EffectDeny
	default:
		return fmt.Errorf("%w: effect %q", ErrMalformedRequest, s)
	}
	return nil
}

// PolicyVersion is the policy document schema version. Only V1 exists;
// unknown versions fail parsing.
type PolicyVersion int

const VersionV1 PolicyVersion = 1

// MarshalJSON serializes the version as its integer value.
func (v PolicyVersion) MarshalJSON() ([]byte, error) {
	return json.Marshal(int(v))
}

// UnmarshalJSON accepts only the integer 1.
func (v *PolicyVersion) UnmarshalJSON(data []byte) error {
	var n int
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	if n != int(VersionV1) {
		return fmt.Errorf("%w: %d", ErrUnknownPolicyVersion, n)
	}
	*v = PolicyVersion(n)
	return nil
}

// CompletePolicy is a fully-specified, stored policy. Equality and
// hashing (as a map key) are by ID alone; two distinct bodies sharing an
// ID are the same policy by set semantics, and the last save wins.
type CompletePolicy struct {
	ID            string          `json:"id"`
	Version       PolicyVersion   `json:"version"`
	Effect        PolicyEffect    `json:"effect"`
	Actions       []string        `json:"actions"`
	Resources     []string        `json:"resources"`
	RawConditions json.RawMessage `json:"conditions"`
}

// NewCompletePolicy constructs a CompletePolicy, enforcing the
// non-empty-actions invariant and the empty-resources-means-all-resources
// persistence rule (this spec standardizes on persisting ["*"]; see
// DESIGN.md for the alternative the original source left ambiguous).
func NewCompletePolicy(id string, version PolicyVersion, effect PolicyEffect, actions, resources []string, conditions json.RawMessage) (*CompletePolicy, error) {
	if len(actions) == 0 {
		return nil, ErrActionsCannotBeEmpty
	}

	res := resources
	if len(res) == 0 {
		res = []string{"*"}
	} else {
		res = append([]string(nil), res...)
	}

	return &CompletePolicy{
		ID:            id,
		Version:       version,
		Effect:        effect,
		Actions:       append([]string(nil), actions...),
		Resources:     res,
		RawConditions: conditions,
	}, nil
}

// Equal reports whether two policies share an ID; field values are not compared.
func (p *CompletePolicy) Equal(other *CompletePolicy) bool {
	if p == nil || other == nil {
		return p == other
	}
	return p.ID == other.ID
}

// PartialPolicy describes a policy match left undecided on one axis. It
// is never equal to another PartialPolicy (it is a one-shot value, not
// part of the stored data model) and omits whichever of actions/resources
// was determined.
type PartialPolicy struct {
	Version   PolicyVersion   `json:"version"`
	Effect    PolicyEffect    `json:"effect"`
	Actions   []string        `json:"actions,omitempty"`
	Resources []string        `json:"resources,omitempty"`
	Conditions json.RawMessage `json:"conditions,omitempty"`
}

func inlinePolicyID(kind, ownerID string) string {
	return fmt.Sprintf("__embedded_policy_%s_%s__", kind, ownerID)
}

// Identity is a principal carrying an optional inline policy and a set
// of linked (shared, by-id) policies.
type Identity struct {
	ID     string                     `json:"id"`
	Inline *CompletePolicy            `json:"inline_policy,omitempty"`
	Linked map[string]*CompletePolicy `json:"linked_policies"`
}

// NewIdentity returns an Identity with no inline policy and an empty linked set.
func NewIdentity(id string) *Identity {
	return &Identity{ID: id, Linked: make(map[string]*CompletePolicy)}
}

// SetInlinePolicy embeds p as the identity's inline policy, overwriting
// its ID with the deterministic synthetic form regardless of what the
// caller supplied.
func (i *Identity) SetInlinePolicy(p *CompletePolicy) {
	if p == nil {
		i.Inline = nil
		return
	}
	embedded := *p
	embedded.ID = inlinePolicyID("identity", i.ID)
	i.Inline = &embedded
}

// AddLinkedPolicy adds or replaces a linked policy by ID.
func (i *Identity) AddLinkedPolicy(p *CompletePolicy) {
	if i.Linked == nil {
		i.Linked = make(map[string]*CompletePolicy)
	}
	i.Linked[p.ID] = p
}

// RemoveLinkedPolicy removes a linked policy by ID.
func (i *Identity) RemoveLinkedPolicy(id string) {
	delete(i.Linked, id)
}

// InlinePolicy implements Subject.
func (i *Identity) InlinePolicy() *CompletePolicy { return i.Inline }

// LinkedPolicies implements Subject.
func (i *Identity) LinkedPolicies() []*CompletePolicy { return sortedPolicies(i.Linked) }

// Group is a principal-container: a named set of identities that itself
// carries an optional inline policy and a set of linked policies. Groups
// reference identities; identities never reference groups back (the
// store provides FindGroupsForIdentity for that direction instead).
type Group struct {
	Name       string                     `json:"name"`
	Identities map[string]*Identity       `json:"-"`
	Inline     *CompletePolicy            `json:"inline_policy,omitempty"`
	Linked     map[string]*CompletePolicy `json:"linked_policies"`
}

// NewGroup returns a Group with no members, no inline policy, and an empty linked set.
func NewGroup(name string) *Group {
	return &Group{Name: name, Identities: make(map[string]*Identity), Linked: make(map[string]*CompletePolicy)}
}

// SetInlinePolicy embeds p as the group's inline policy, overwriting its
// ID with the deterministic synthetic form.
func (g *Group) SetInlinePolicy(p *CompletePolicy) {
	if p == nil {
		g.Inline = nil
		return
	}
	embedded := *p
	embedded.ID = inlinePolicyID("group", g.Name)
	g.Inline = &embedded
}

// AddLinkedPolicy adds or replaces a linked policy by ID.
func (g *Group) AddLinkedPolicy(p *CompletePolicy) {
	if g.Linked == nil {
		g.Linked = make(map[string]*CompletePolicy)
	}
	g.Linked[p.ID] = p
}

// RemoveLinkedPolicy removes a linked policy by ID.
func (g *Group) RemoveLinkedPolicy(id string) {
	delete(g.Linked, id)
}

// AddIdentity adds identity i to the group's membership (deduplicated by ID).
func (g *Group) AddIdentity(i *Identity) {
	if g.Identities == nil {
		g.Identities = make(map[string]*Identity)
	}
	g.Identities[i.ID] = i
}

// RemoveIdentity removes an identity from the group's membership by ID.
func (g *Group) RemoveIdentity(id string) {
	delete(g.Identities, id)
}

// IdentityIDs returns the group's member identity IDs in sorted order.
func (g *Group) IdentityIDs() []string {
	ids := make([]string, 0, len(g.Identities))
	for id := range g.Identities {
		ids = append(ids, id)
	}
	sortStrings(ids)
	return ids
}

// InlinePolicy implements Subject.
func (g *Group) InlinePolicy() *CompletePolicy { return g.Inline }

// LinkedPolicies implements Subject.
func (g *Group) LinkedPolicies() []*CompletePolicy { return sortedPolicies(g.Linked) }
