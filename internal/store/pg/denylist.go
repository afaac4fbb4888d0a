package pg

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"brokergate.org/internal/access"
)

var _ access.DenyListStore = (*DenyList)(nil)

// DenyList implements access.DenyListStore over user_deny_permissions.
type DenyList struct {
	db *sql.DB
}

func (s *DenyList) Has(ctx context.Context, userID, permissionID string) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx, `
		select 1 from user_deny_permissions
		where user_id = $1 and permission_id = $2`,
		userID, permissionID,
	).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (s *DenyList) Add(ctx context.Context, userID, permissionID string) error {
	_, err := s.db.ExecContext(ctx, `
		insert into user_deny_permissions (user_id, permission_id)
		values ($1, $2)
		on conflict (user_id, permission_id) do nothing`,
		userID, permissionID,
	)
	if err != nil {
		if pgErr, ok := maybePgError(err); ok && pgErr.Code == pgErrForeignKeyViolation {
			return fmt.Errorf("%w: unknown user or permission", access.ErrNotFound)
		}
		return err
	}
	return nil
}

func (s *DenyList) Remove(ctx context.Context, userID, permissionID string) error {
	_, err := s.db.ExecContext(ctx, `
		delete from user_deny_permissions
		where user_id = $1 and permission_id = $2`,
		userID, permissionID,
	)
	return err
}

func (s *DenyList) ListForUser(ctx context.Context, userID string) ([]access.DenyListEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		select user_id, permission_id, created_at
		from user_deny_permissions
		where user_id = $1
		order by created_at`,
		userID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []access.DenyListEntry
	for rows.Next() {
		var e access.DenyListEntry
		if err := rows.Scan(&e.UserID, &e.PermissionID, &e.CreatedAt); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
