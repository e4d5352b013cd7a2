package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/alekitto/zephir-go/internal/domain/policy"
)

// PolicyStore implements policy.PolicyStore against an embedded SQLite
// database. Same table and join shape as the postgres adapter's
// schema, SQLite-dialect translated: plain TEXT JSON columns instead of
// JSONB; upserts use INSERT ... ON CONFLICT DO UPDATE.
type PolicyStore struct {
	db *sql.DB
}

// NewPolicyStore creates a PolicyStore backed by db.
func NewPolicyStore(db *sql.DB) *PolicyStore {
	return &PolicyStore{db: db}
}

type queryRower interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func scanPolicyRow(row *sql.Row) (*policy.CompletePolicy, error) {
	var (
		id             string
		version        int
		effect         bool
		actionsJSON    string
		resourcesJSON  string
		conditionsJSON sql.NullString
	)
	if err := row.Scan(&id, &version, &effect, &actionsJSON, &resourcesJSON, &conditionsJSON); err != nil {
		return nil, err
	}

	var actions, resources []string
	if err := json.Unmarshal([]byte(actionsJSON), &actions); err != nil {
		return nil, fmt.Errorf("sqlite: decode actions: %w", err)
	}
	if err := json.Unmarshal([]byte(resourcesJSON), &resources); err != nil {
		return nil, fmt.Errorf("sqlite: decode resources: %w", err)
	}

	eff := policy.EffectAllow
	if !effect {
		eff = policy.EffectDeny
	}

	var conditions json.RawMessage
	if conditionsJSON.Valid && conditionsJSON.String != "" && conditionsJSON.String != "null" {
		conditions = json.RawMessage(conditionsJSON.String)
	}

	return policy.NewCompletePolicy(id, policy.PolicyVersion(version), eff, actions, resources, conditions)
}

// FindPolicy retrieves a policy by ID.
func (s *PolicyStore) FindPolicy(ctx context.Context, id string) (*policy.CompletePolicy, error) {
	return s.findPolicy(ctx, s.db, id)
}

func (s *PolicyStore) findPolicy(ctx context.Context, q queryRower, id string) (*policy.CompletePolicy, error) {
	row := q.QueryRowContext(ctx,
		`SELECT id, version, effect, actions, resources, conditions FROM policy WHERE id = ?`, id)
	p, err := scanPolicyRow(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, policy.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite: find policy %q: %w", id, err)
	}
	return p, nil
}

// SavePolicy upserts a policy row.
func (s *PolicyStore) SavePolicy(ctx context.Context, p *policy.CompletePolicy) error {
	return s.savePolicy(ctx, s.db, p)
}

func (s *PolicyStore) savePolicy(ctx context.Context, execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}, p *policy.CompletePolicy) error {
	actionsJSON, err := json.Marshal(p.Actions)
	if err != nil {
		return fmt.Errorf("sqlite: encode actions: %w", err)
	}
	resourcesJSON, err := json.Marshal(p.Resources)
	if err != nil {
		return fmt.Errorf("sqlite: encode resources: %w", err)
	}
	conditions := p.RawConditions
	if conditions == nil {
		conditions = json.RawMessage("null")
	}

	_, err = execer.ExecContext(ctx, `
		INSERT INTO policy (id, version, effect, actions, resources, conditions)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			version = excluded.version,
			effect = excluded.effect,
			actions = excluded.actions,
			resources = excluded.resources,
			conditions = excluded.conditions
	`, p.ID, int(p.Version), p.Effect == policy.EffectAllow, string(actionsJSON), string(resourcesJSON), string(conditions))
	if err != nil {
		return fmt.Errorf("sqlite: save policy %q: %w", p.ID, err)
	}
	return nil
}

// DeletePolicy removes a policy row. Deleting an unknown ID is a no-op.
func (s *PolicyStore) DeletePolicy(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM policy WHERE id = ?`, id); err != nil {
		return fmt.Errorf("sqlite: delete policy %q: %w", id, err)
	}
	return nil
}

// CountPolicies returns the number of stored policies, the signal
// bootstrap.Seed uses to decide whether this is a fresh store.
func (s *PolicyStore) CountPolicies(ctx context.Context) (int, error) {
	var count int
	if err := s.db.QueryRowContext(ctx, `SELECT count(*) FROM policy`).Scan(&count); err != nil {
		return 0, fmt.Errorf("sqlite: count policies: %w", err)
	}
	return count, nil
}

// FindIdentity retrieves an identity by ID, along with its inline and
// linked policies.
func (s *PolicyStore) FindIdentity(ctx context.Context, id string) (*policy.Identity, error) {
	var inlinePolicyID sql.NullString
	err := s.db.QueryRowContext(ctx, `SELECT policy_id FROM identity WHERE id = ?`, id).Scan(&inlinePolicyID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, policy.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite: find identity %q: %w", id, err)
	}

	identity := policy.NewIdentity(id)
	if inlinePolicyID.Valid {
		inline, err := s.FindPolicy(ctx, inlinePolicyID.String)
		if err != nil && !errors.Is(err, policy.ErrNotFound) {
			return nil, err
		}
		if inline != nil {
			identity.SetInlinePolicy(inline)
		}
	}

	rows, err := s.db.QueryContext(ctx, `SELECT policy_id FROM identity_policy WHERE identity_id = ?`, id)
	if err != nil {
		return nil, fmt.Errorf("sqlite: list linked policies for identity %q: %w", id, err)
	}
	defer rows.Close()
	for rows.Next() {
		var policyID string
		if err := rows.Scan(&policyID); err != nil {
			return nil, fmt.Errorf("sqlite: scan linked policy id: %w", err)
		}
		linked, err := s.FindPolicy(ctx, policyID)
		if err != nil {
			return nil, err
		}
		identity.AddLinkedPolicy(linked)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: iterate linked policies for identity %q: %w", id, err)
	}

	return identity, nil
}

// SaveIdentity upserts an identity row, its inline policy (if any), and
// its linked-policy associations.
func (s *PolicyStore) SaveIdentity(ctx context.Context, i *policy.Identity) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlite: save identity %q: %w", i.ID, err)
	}
	defer func() { _ = tx.Rollback() }()

	var inlineID *string
	if inline := i.InlinePolicy(); inline != nil {
		if err := s.savePolicy(ctx, tx, inline); err != nil {
			return err
		}
		inlineID = &inline.ID
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO identity (id, policy_id) VALUES (?, ?)
		ON CONFLICT (id) DO UPDATE SET policy_id = excluded.policy_id
	`, i.ID, inlineID); err != nil {
		return fmt.Errorf("sqlite: save identity %q: %w", i.ID, err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM identity_policy WHERE identity_id = ?`, i.ID); err != nil {
		return fmt.Errorf("sqlite: clear linked policies for identity %q: %w", i.ID, err)
	}
	for _, linked := range i.LinkedPolicies() {
		if err := s.savePolicy(ctx, tx, linked); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO identity_policy (identity_id, policy_id) VALUES (?, ?)
			ON CONFLICT DO NOTHING
		`, i.ID, linked.ID); err != nil {
			return fmt.Errorf("sqlite: link policy %q to identity %q: %w", linked.ID, i.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("sqlite: save identity %q: %w", i.ID, err)
	}
	return nil
}

// FindGroup retrieves a group by name, along with its inline and linked
// policies.
func (s *PolicyStore) FindGroup(ctx context.Context, name string) (*policy.Group, error) {
	var inlinePolicyID sql.NullString
	err := s.db.QueryRowContext(ctx, `SELECT policy_id FROM policy_group WHERE id = ?`, name).Scan(&inlinePolicyID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, policy.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite: find group %q: %w", name, err)
	}

	group := policy.NewGroup(name)
	if inlinePolicyID.Valid {
		inline, err := s.FindPolicy(ctx, inlinePolicyID.String)
		if err != nil && !errors.Is(err, policy.ErrNotFound) {
			return nil, err
		}
		if inline != nil {
			group.SetInlinePolicy(inline)
		}
	}

	policyRows, err := s.db.QueryContext(ctx, `SELECT policy_id FROM group_policy WHERE group_id = ?`, name)
	if err != nil {
		return nil, fmt.Errorf("sqlite: list linked policies for group %q: %w", name, err)
	}
	defer policyRows.Close()
	for policyRows.Next() {
		var policyID string
		if err := policyRows.Scan(&policyID); err != nil {
			return nil, fmt.Errorf("sqlite: scan linked policy id: %w", err)
		}
		linked, err := s.FindPolicy(ctx, policyID)
		if err != nil {
			return nil, err
		}
		group.AddLinkedPolicy(linked)
	}
	if err := policyRows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: iterate linked policies for group %q: %w", name, err)
	}

	identityRows, err := s.db.QueryContext(ctx, `SELECT identity_id FROM group_identity WHERE group_id = ?`, name)
	if err != nil {
		return nil, fmt.Errorf("sqlite: list members for group %q: %w", name, err)
	}
	defer identityRows.Close()
	for identityRows.Next() {
		var identityID string
		if err := identityRows.Scan(&identityID); err != nil {
			return nil, fmt.Errorf("sqlite: scan member id: %w", err)
		}
		identity, err := s.FindIdentity(ctx, identityID)
		if err != nil {
			return nil, err
		}
		group.AddIdentity(identity)
	}
	if err := identityRows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: iterate members for group %q: %w", name, err)
	}

	return group, nil
}

// FindGroupsForIdentity returns every group identityID belongs to, via
// the group_identity join table.
func (s *PolicyStore) FindGroupsForIdentity(ctx context.Context, identityID string) ([]*policy.Group, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT group_id FROM group_identity WHERE identity_id = ?`, identityID)
	if err != nil {
		return nil, fmt.Errorf("sqlite: find groups for identity %q: %w", identityID, err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("sqlite: scan group id: %w", err)
		}
		names = append(names, name)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: iterate groups for identity %q: %w", identityID, err)
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
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlite: save group %q: %w", g.Name, err)
	}
	defer func() { _ = tx.Rollback() }()

	var inlineID *string
	if inline := g.InlinePolicy(); inline != nil {
		if err := s.savePolicy(ctx, tx, inline); err != nil {
			return err
		}
		inlineID = &inline.ID
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO policy_group (id, policy_id) VALUES (?, ?)
		ON CONFLICT (id) DO UPDATE SET policy_id = excluded.policy_id
	`, g.Name, inlineID); err != nil {
		return fmt.Errorf("sqlite: save group %q: %w", g.Name, err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM group_policy WHERE group_id = ?`, g.Name); err != nil {
		return fmt.Errorf("sqlite: clear linked policies for group %q: %w", g.Name, err)
	}
	for _, linked := range g.LinkedPolicies() {
		if err := s.savePolicy(ctx, tx, linked); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO group_policy (group_id, policy_id) VALUES (?, ?)
			ON CONFLICT DO NOTHING
		`, g.Name, linked.ID); err != nil {
			return fmt.Errorf("sqlite: link policy %q to group %q: %w", linked.ID, g.Name, err)
		}
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM group_identity WHERE group_id = ?`, g.Name); err != nil {
		return fmt.Errorf("sqlite: clear members for group %q: %w", g.Name, err)
	}
	for _, identityID := range g.IdentityIDs() {
		// Members may not have gone through SaveIdentity yet; the join
		// table's foreign key needs a row to point at regardless.
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO identity (id) VALUES (?) ON CONFLICT (id) DO NOTHING
		`, identityID); err != nil {
			return fmt.Errorf("sqlite: ensure identity row for member %q: %w", identityID, err)
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO group_identity (group_id, identity_id) VALUES (?, ?)
			ON CONFLICT DO NOTHING
		`, g.Name, identityID); err != nil {
			return fmt.Errorf("sqlite: add member %q to group %q: %w", identityID, g.Name, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("sqlite: save group %q: %w", g.Name, err)
	}
	return nil
}

var _ policy.PolicyStore = (*PolicyStore)(nil)
