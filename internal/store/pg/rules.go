package pg

import (
	"context"
	"database/sql"

	"brokergate.org/internal/access"
	"brokergate.org/internal/ids"
)

var _ access.RuleStore = (*RuleStore)(nil)

// RuleStore implements access.RuleStore over the permissions table.
type RuleStore struct {
	db *sql.DB
}

func (s *RuleStore) List(ctx context.Context) ([]access.PermissionRule, error) {
	rows, err := s.db.QueryContext(ctx, `
		select id, endpoint_name, endpoint_path, required_permission, description, is_active, created_at, updated_at
		from permissions
		order by endpoint_name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var rules []access.PermissionRule
	for rows.Next() {
		var r access.PermissionRule
		if err := rows.Scan(&r.ID, &r.Name, &r.Path, &r.Permission, &r.Description, &r.Active, &r.CreatedAt, &r.UpdatedAt); err != nil {
			return nil, err
		}
		rules = append(rules, r)
	}
	return rules, rows.Err()
}

func (s *RuleStore) Ensure(ctx context.Context, rules []access.PermissionRule) error {
	for _, r := range rules {
		if r.ID == "" {
			r.ID = ids.New()
		}
		_, err := s.db.ExecContext(ctx, `
			insert into permissions (id, endpoint_name, endpoint_path, required_permission, description, is_active)
			values ($1, $2, $3, $4, $5, $6)
			on conflict (endpoint_name) do nothing`,
			r.ID, r.Name, r.Path, r.Permission, r.Description, r.Active,
		)
		if err != nil {
			return err
		}
	}
	return nil
}

func (s *RuleStore) SetActive(ctx context.Context, name string, active bool) error {
	res, err := s.db.ExecContext(ctx, `
		update permissions set is_active = $1, updated_at = now()
		where endpoint_name = $2`,
		active, name,
	)
	if err != nil {
		return err
	}
	return requireRowAffected(res)
}
