package pg

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"brokergate.org/internal/access"
	"brokergate.org/internal/ids"
)

var _ access.AssignmentStore = (*Managers)(nil)

// Managers implements access.AssignmentStore over the managers and
// manager_assignments tables.
type Managers struct {
	db *sql.DB
}

func (s *Managers) CreateManager(ctx context.Context, userID, name string) (access.Manager, error) {
	m := access.Manager{ID: ids.New(), UserID: userID, Name: name}
	err := s.db.QueryRowContext(ctx, `
		insert into managers (id, user_id, name)
		values ($1, $2, $3)
		returning created_at`,
		m.ID, m.UserID, m.Name,
	).Scan(&m.CreatedAt)
	if err != nil {
		if pgErr, ok := maybePgError(err); ok {
			switch pgErr.Code {
			case pgErrUniqueViolation:
				return access.Manager{}, fmt.Errorf("%w: user is already a manager", access.ErrConflict)
			case pgErrForeignKeyViolation:
				return access.Manager{}, fmt.Errorf("%w: unknown user", access.ErrNotFound)
			}
		}
		return access.Manager{}, err
	}
	return m, nil
}

func (s *Managers) DeleteManager(ctx context.Context, managerID string) error {
	res, err := s.db.ExecContext(ctx, `delete from managers where id = $1`, managerID)
	if err != nil {
		if pgErr, ok := maybePgError(err); ok && pgErr.Code == pgErrForeignKeyViolation {
			return fmt.Errorf("%w: manager still has assigned users", access.ErrConflict)
		}
		return err
	}
	return requireRowAffected(res)
}

func (s *Managers) ManagerIDOf(ctx context.Context, userID string) (string, error) {
	var id string
	err := s.db.QueryRowContext(ctx,
		`select id from managers where user_id = $1`, userID).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return "", access.ErrNotFound
	}
	if err != nil {
		return "", err
	}
	return id, nil
}

func (s *Managers) ManagerOfUser(ctx context.Context, userID string) (string, error) {
	var id string
	err := s.db.QueryRowContext(ctx,
		`select manager_id from manager_assignments where user_id = $1`, userID).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return "", access.ErrNotFound
	}
	if err != nil {
		return "", err
	}
	return id, nil
}

func (s *Managers) IsAssigned(ctx context.Context, managerID, userID string) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx, `
		select 1 from manager_assignments
		where manager_id = $1 and user_id = $2`,
		managerID, userID,
	).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (s *Managers) Assign(ctx context.Context, managerID, userID string) error {
	_, err := s.db.ExecContext(ctx, `
		insert into manager_assignments (manager_id, user_id)
		values ($1, $2)`,
		managerID, userID,
	)
	if err != nil {
		if pgErr, ok := maybePgError(err); ok {
			switch pgErr.Code {
			case pgErrUniqueViolation:
				return fmt.Errorf("%w: user already assigned", access.ErrConflict)
			case pgErrForeignKeyViolation:
				return fmt.Errorf("%w: unknown manager or user", access.ErrNotFound)
			}
		}
		return err
	}
	return nil
}

func (s *Managers) Unassign(ctx context.Context, managerID, userID string) error {
	res, err := s.db.ExecContext(ctx, `
		delete from manager_assignments
		where manager_id = $1 and user_id = $2`,
		managerID, userID,
	)
	if err != nil {
		return err
	}
	return requireRowAffected(res)
}

func (s *Managers) HasAssignments(ctx context.Context, managerID string) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx,
		`select 1 from manager_assignments where manager_id = $1 limit 1`, managerID).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (s *Managers) ListAssignments(ctx context.Context, managerID string) ([]access.ManagerAssignment, error) {
	rows, err := s.db.QueryContext(ctx, `
		select manager_id, user_id, assigned_at
		from manager_assignments
		where manager_id = $1
		order by assigned_at`,
		managerID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []access.ManagerAssignment
	for rows.Next() {
		var a access.ManagerAssignment
		if err := rows.Scan(&a.ManagerID, &a.UserID, &a.AssignedAt); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}
