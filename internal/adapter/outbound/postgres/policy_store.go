package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alekitto/zephir-go/internal/domain/policy"
)

// PolicyStore implements policy.PolicyStore against PostgreSQL.
type PolicyStore struct {
	pool *pgxpool.Pool
}

// NewPolicyStore creates a PolicyStore backed by the given pool.
func NewPolicyStore(pool *pgxpool.Pool) *PolicyStore {
	return &PolicyStore{pool: pool}
}

func scanPolicyRow(row pgx.Row) (*policy.CompletePolicy, error) {
	var (
		id             string
		version        int
		effect         bool
		actionsJSON    []byte
		resourcesJSON  []byte
		conditionsJSON []byte
	)
	if err := row.Scan(&id, &version, &effect, &actionsJSON, &resourcesJSON, &conditionsJSON); err != nil {
		return nil, err
	}

	var actions, resources []string
	if err := json.Unmarshal(actionsJSON, &actions); err != nil {
		return nil, fmt.Errorf("postgres: decode actions: %w", err)
	}
	if err := json.Unmarshal(resourcesJSON, &resources); err != nil {
		return nil, fmt.Errorf("postgres: decode resources: %w", err)
	}

	eff := policy.EffectAllow
	if !effect {
		eff = policy.EffectDeny
	}

	var conditions json.RawMessage
	if len(conditionsJSON) > 0 {
		conditions = conditionsJSON
	}

	return policy.NewCompletePolicy(id, policy.PolicyVersion(version), eff, actions, resources, conditions)
}

// FindPolicy retrieves a policy by ID.
func (s *PolicyStore) FindPolicy(ctx context.Context, id string) (*policy.CompletePolicy, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT id, version, effect, actions, resources, conditions FROM policy WHERE id = $1`, id)
	p, err := scanPolicyRow(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, policy.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("postgres: find policy %q: %w", id, err)
	}
	return p, nil
}

// SavePolicy upserts a policy row.
func (s *PolicyStore) SavePolicy(ctx context.Context, p *policy.CompletePolicy) error {
	actionsJSON, err := json.Marshal(p.Actions)
	if err != nil {
		return fmt.Errorf("postgres: encode actions: %w", err)
	}
	resourcesJSON, err := json.Marshal(p.Resources)
	if err != nil {
		return fmt.Errorf("postgres: encode resources: %w", err)
	}
	conditions := p.RawConditions
	if conditions == nil {
		conditions = json.RawMessage("null")
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO policy (id, version, effect, actions, resources, conditions)
		VALUES ($1, $2, $3, $4::jsonb, $5::jsonb, $6::jsonb)
		ON CONFLICT (id) DO UPDATE SET
			version = EXCLUDED.version,
			effect = EXCLUDED.effect,
			actions = EXCLUDED.actions,
			resources = EXCLUDED.resources,
			conditions = EXCLUDED.conditions
	`, p.ID, int(p.Version), p.Effect == policy.EffectAllow, string(actionsJSON), string(resourcesJSON), string(conditions))
	if err != nil {
		return fmt.Errorf("postgres: save policy %q: %w", p.ID, err)
	}
	return nil
}

// DeletePolicy removes a policy row. Deleting an unknown ID is a no-op.
func (s *PolicyStore) DeletePolicy(ctx context.Context, id string) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM policy WHERE id = $1`, id); err != nil {
		return fmt.Errorf("postgres: delete policy %q: %w", id, err)
	}
	return nil
}

// CountPolicies returns the number of stored policies, the signal
// bootstrap.Seed uses to decide whether this is a fresh store.
func (s *PolicyStore) CountPolicies(ctx context.Context) (int, error) {
	var count int
	if err := s.pool.QueryRow(ctx, `SELECT count(*) FROM policy`).Scan(&count); err != nil {
		return 0, fmt.Errorf("postgres: count policies: %w", err)
	}
	return count, nil
}

// FindIdentity retrieves an identity by ID, along with its inline and
// linked policies.
func (s *PolicyStore) FindIdentity(ctx context.Context, id string) (*policy.Identity, error) {
	var inlinePolicyID *string
	err := s.pool.QueryRow(ctx, `SELECT policy_id FROM identity WHERE id = $1`, id).Scan(&inlinePolicyID)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, policy.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("postgres: find identity %q: %w", id, err)
	}

	identity := policy.NewIdentity(id)
	if inlinePolicyID != nil {
		inline, err := s.FindPolicy(ctx, *inlinePolicyID)
		if err != nil && !errors.Is(err, policy.ErrNotFound) {
			return nil, err
		}
		if inline != nil {
			identity.SetInlinePolicy(inline)
		}
	}

	rows, err := s.pool.Query(ctx, `SELECT policy_id FROM identity_policy WHERE identity_id = $1`, id)
	if err != nil {
		return nil, fmt.Errorf("postgres: list linked policies for identity %q: %w", id, err)
	}
	defer rows.Close()
	for rows.Next() {
		var policyID string
		if err := rows.Scan(&policyID); err != nil {
			return nil, fmt.Errorf("postgres: scan linked policy id: %w", err)
		}
		linked, err := s.FindPolicy(ctx, policyID)
		if err != nil {
			return nil, err
		}
		identity.AddLinkedPolicy(linked)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: iterate linked policies for identity %q: %w", id, err)
	}

	return identity, nil
}

// SaveIdentity upserts an identity row, its inline policy (if any), and
// its linked-policy associations.
func (s *PolicyStore) SaveIdentity(ctx context.Context, i *policy.Identity) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("postgres: save identity %q: %w", i.ID, err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var inlineID *string
	if inline := i.InlinePolicy(); inline != nil {
		if err := s.savePolicyTx(ctx, tx, inline); err != nil {
			return err
		}
		inlineID = &inline.ID
	}

	if _, err := tx.Exec(ctx, `
		INSERT INTO identity (id, policy_id) VALUES ($1, $2)
		ON CONFLICT (id) DO UPDATE SET policy_id = EXCLUDED.policy_id
	`, i.ID, inlineID); err != nil {
		return fmt.Errorf("postgres: save identity %q: %w", i.ID, err)
	}

	if _, err := tx.Exec(ctx, `DELETE FROM identity_policy WHERE identity_id = $1`, i.ID); err != nil {
		return fmt.Errorf("postgres: clear linked policies for identity %q: %w", i.ID, err)
	}
	for _, linked := range i.LinkedPolicies() {
		if err := s.savePolicyTx(ctx, tx, linked); err != nil {
			return err
		}
		if _, err := tx.Exec(ctx, `
			INSERT INTO identity_policy (identity_id, policy_id) VALUES ($1, $2)
			ON CONFLICT DO NOTHING
		`, i.ID, linked.ID); err != nil {
			return fmt.Errorf("postgres: link policy %q to identity %q: %w", linked.ID, i.ID, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("postgres: save identity %q: %w", i.ID, err)
	}
	return nil
}

// FindGroup retrieves a group by name, along with its inline and linked
// policies.
func (s *PolicyStore) FindGroup(ctx context.Context, name string) (*policy.Group, error) {
	var inlinePolicyID *string
	err := s.pool.QueryRow(ctx, `SELECT policy_id FROM "group" WHERE id = $1`, name).Scan(&inlinePolicyID)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, policy.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("postgres: find group %q: %w", name, err)
	}

	group := policy.NewGroup(name)
	if inlinePolicyID != nil {
		inline, err := s.FindPolicy(ctx, *inlinePolicyID)
		if err != nil && !errors.Is(err, policy.ErrNotFound) {
			return nil, err
		}
		if inline != nil {
			group.SetInlinePolicy(inline)
		}
	}

	policyRows, err := s.pool.Query(ctx, `SELECT policy_id FROM group_policy WHERE group_id = $1`, name)
	if err != nil {
		return nil, fmt.Errorf("postgres: list linked policies for group %q: %w", name, err)
	}
	defer policyRows.Close()
	for policyRows.Next() {
		var policyID string
		if err := policyRows.Scan(&policyID); err != nil {
			return nil, fmt.Errorf("postgres: scan linked policy id: %w", err)
		}
		linked, err := s.FindPolicy(ctx, policyID)
		if err != nil {
			return nil, err
		}
		group.AddLinkedPolicy(linked)
	}
	if err := policyRows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: iterate linked policies for group %q: %w", name, err)
	}

	identityRows, err := s.pool.Query(ctx, `SELECT identity_id FROM group_identity WHERE group_id = $1`, name)
	if err != nil {
		return nil, fmt.Errorf("postgres: list members for group %q: %w", name, err)
	}
	defer identityRows.Close()
	for identityRows.Next() {
		var identityID string
		if err := identityRows.Scan(&identityID); err != nil {
			return nil, fmt.Errorf("postgres: scan member id: %w", err)
		}
		identity, err := s.FindIdentity(ctx, identityID)
		if err != nil {
			return nil, err
		}
		group.AddIdentity(identity)
	}
	if err := identityRows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: iterate members for group %q: %w", name, err)
	}

	return group, nil
}

// FindGroupsForIdentity returns every group identityID belongs to, via
// the group_identity join table.
func (s *PolicyStore) FindGroupsForIdentity(ctx context.Context, identityID string) ([]*policy.Group, error) {
	rows, err := s.pool.Query(ctx, `SELECT group_id FROM group_identity WHERE identity_id = $1`, identityID)
	if err != nil {
		return nil, fmt.Errorf("postgres: find groups for identity %q: %w", identityID, err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("postgres: scan group id: %w", err)
		}
		names = append(names, name)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: iterate groups for identity %q: %w", identityID, err)
	}

	groups := make([]*policy.Group, 0, len(names))
	for _, name := range names {
		g, err := s.FindGroup(ctx, name)
		if err != nil {
			return nil, err
		}
		groups = append(groups, g)
	}
	return groups, nil
}

// SaveGroup upserts a group row, its inline policy (if any), its
// linked-policy associations, and its membership list.
func (s *PolicyStore) SaveGroup(ctx context.Context, g *policy.Group) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("postgres: save group %q: %w", g.Name, err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var inlineID *string
	if inline := g.InlinePolicy(); inline != nil {
		if err := s.savePolicyTx(ctx, tx, inline); err != nil {
			return err
		}
		inlineID = &inline.ID
	}

	if _, err := tx.Exec(ctx, `
		INSERT INTO "group" (id, policy_id) VALUES ($1, $2)
		ON CONFLICT (id) DO UPDATE SET policy_id = EXCLUDED.policy_id
	`, g.Name, inlineID); err != nil {
		return fmt.Errorf("postgres: save group %q: %w", g.Name, err)
	}

	if _, err := tx.Exec(ctx, `DELETE FROM group_policy WHERE group_id = $1`, g.Name); err != nil {
		return fmt.Errorf("postgres: clear linked policies for group %q: %w", g.Name, err)
	}
	for _, linked := range g.LinkedPolicies() {
		if err := s.savePolicyTx(ctx, tx, linked); err != nil {
			return err
		}
		if _, err := tx.Exec(ctx, `
			INSERT INTO group_policy (group_id, policy_id) VALUES ($1, $2)
			ON CONFLICT DO NOTHING
		`, g.Name, linked.ID); err != nil {
			return fmt.Errorf("postgres: link policy %q to group %q: %w", linked.ID, g.Name, err)
		}
	}

	if _, err := tx.Exec(ctx, `DELETE FROM group_identity WHERE group_id = $1`, g.Name); err != nil {
		return fmt.Errorf("postgres: clear members for group %q: %w", g.Name, err)
	}
	for _, identityID := range g.IdentityIDs() {
		// Members may not have gone through SaveIdentity yet; the join
		// table's foreign key needs a row to point at regardless.
		if _, err := tx.Exec(ctx, `
			INSERT INTO identity (id) VALUES ($1) ON CONFLICT (id) DO NOTHING
		`, identityID); err != nil {
			return fmt.Errorf("postgres: ensure identity row for member %q: %w", identityID, err)
		}
		if _, err := tx.Exec(ctx, `
			INSERT INTO group_identity (group_id, identity_id) VALUES ($1, $2)
			ON CONFLICT DO NOTHING
		`, g.Name, identityID); err != nil {
			return fmt.Errorf("postgres: add member %q to group %q: %w", identityID, g.Name, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("postgres: save group %q: %w", g.Name, err)
	}
	return nil
}

// savePolicyTx upserts a policy row within an existing transaction, the
// same statement SavePolicy uses against the pool directly.
func (s *PolicyStore) savePolicyTx(ctx context.Context, tx pgx.Tx, p *policy.CompletePolicy) error {
	actionsJSON, err := json.Marshal(p.Actions)
	if err != nil {
		return fmt.Errorf("postgres: encode actions: %w", err)
	}
	resourcesJSON, err := json.Marshal(p.Resources)
	if err != nil {
		return fmt.Errorf("postgres: encode resources: %w", err)
	}
	conditions := p.RawConditions
	if conditions == nil {
		conditions = json.RawMessage("null")
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO policy (id, version, effect, actions, resources, conditions)
		VALUES ($1, $2, $3, $4::jsonb, $5::jsonb, $6::jsonb)
		ON CONFLICT (id) DO UPDATE SET
			version = EXCLUDED.version,
			effect = EXCLUDED.effect,
			actions = EXCLUDED.actions,
			resources = EXCLUDED.resources,
			conditions = EXCLUDED.conditions
	`, p.ID, int(p.Version), p.Effect == policy.EffectAllow, string(actionsJSON), string(resourcesJSON), string(conditions))
	if err != nil {
		return fmt.Errorf("postgres: save policy %q: %w", p.ID, err)
	}
	return nil
}

var _ policy.PolicyStore = (*PolicyStore)(nil)
