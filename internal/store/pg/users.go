package pg

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"brokergate.org/internal/access"
	"brokergate.org/internal/ids"
)

var _ access.UserDirectory = (*UserDirectory)(nil)

// UserDirectory implements access.UserDirectory over the users table.
type UserDirectory struct {
	db *sql.DB
}

const userColumns = `id, phone, passcode_hash, first_name, last_name, status, role, created_at`

func scanUser(row interface{ Scan(...any) error }) (*access.User, error) {
	var u access.User
	var role int
	err := row.Scan(&u.ID, &u.Phone, &u.PasscodeHash, &u.FirstName, &u.LastName, &u.Status, &role, &u.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, access.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	u.Role = access.Role(role)
	return &u, nil
}

func (s *UserDirectory) Find(ctx context.Context, id string) (*access.User, error) {
	row := s.db.QueryRowContext(ctx,
		`select `+userColumns+` from users where id = $1`, id)
	return scanUser(row)
}

func (s *UserDirectory) FindByPhone(ctx context.Context, phone string) (*access.User, error) {
	row := s.db.QueryRowContext(ctx,
		`select `+userColumns+` from users where phone = $1`, phone)
	return scanUser(row)
}

func (s *UserDirectory) Create(ctx context.Context, u *access.User) error {
	if u.ID == "" {
		u.ID = ids.New()
	}
	if u.Status == "" {
		u.Status = access.UserStatusPending
	}
	_, err := s.db.ExecContext(ctx,
		`insert into users (id, phone, passcode_hash, first_name, last_name, status, role)
		 values ($1, $2, $3, $4, $5, $6, $7)`,
		u.ID, u.Phone, u.PasscodeHash, u.FirstName, u.LastName, u.Status, int(u.Role),
	)
	if err != nil {
		if pgErr, ok := maybePgError(err); ok && pgErr.Code == pgErrUniqueViolation {
			return fmt.Errorf("%w: phone already registered", access.ErrConflict)
		}
		return err
	}
	return nil
}

func (s *UserDirectory) UpdateStatus(ctx context.Context, id, status string) error {
	res, err := s.db.ExecContext(ctx,
		`update users set status = $1 where id = $2`, status, id)
	if err != nil {
		return err
	}
	return requireRowAffected(res)
}

func (s *UserDirectory) UpdateRole(ctx context.Context, id string, role access.Role) error {
	res, err := s.db.ExecContext(ctx,
		`update users set role = $1 where id = $2`, int(role), id)
	if err != nil {
		return err
	}
	return requireRowAffected(res)
}

func (s *UserDirectory) UpdatePasscode(ctx context.Context, id, passcodeHash string) error {
	res, err := s.db.ExecContext(ctx,
		`update users set passcode_hash = $1 where id = $2`, passcodeHash, id)
	if err != nil {
		return err
	}
	return requireRowAffected(res)
}

func (s *UserDirectory) List(ctx context.Context) ([]*access.User, error) {
	rows, err := s.db.QueryContext(ctx,
		`select `+userColumns+` from users order by created_at`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var users []*access.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

func requireRowAffected(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return access.ErrNotFound
	}
	return nil
}
