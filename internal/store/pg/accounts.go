package pg

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"brokergate.org/internal/access"
)

var _ access.AccountStore = (*Accounts)(nil)

// Accounts implements access.AccountStore over user_mt5_accounts.
type Accounts struct {
	db *sql.DB
}

func (s *Accounts) Link(ctx context.Context, userID string, login int64) error {
	_, err := s.db.ExecContext(ctx, `
		insert into user_mt5_accounts (user_id, mt5_login_id)
		values ($1, $2)`,
		userID, login,
	)
	if err != nil {
		if pgErr, ok := maybePgError(err); ok {
			switch pgErr.Code {
			case pgErrUniqueViolation:
				return fmt.Errorf("%w: login already linked", access.ErrConflict)
			case pgErrForeignKeyViolation:
				return fmt.Errorf("%w: unknown user", access.ErrNotFound)
			}
		}
		return err
	}
	return nil
}

func (s *Accounts) Owns(ctx context.Context, userID string, login int64) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx, `
		select 1 from user_mt5_accounts
		where user_id = $1 and mt5_login_id = $2`,
		userID, login,
	).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (s *Accounts) ListForUser(ctx context.Context, userID string) ([]access.AccountLink, error) {
	rows, err := s.db.QueryContext(ctx, `
		select user_id, mt5_login_id, created_at
		from user_mt5_accounts
		where user_id = $1
		order by created_at`,
		userID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var links []access.AccountLink
	for rows.Next() {
		var l access.AccountLink
		if err := rows.Scan(&l.UserID, &l.Login, &l.LinkedAt); err != nil {
			return nil, err
		}
		links = append(links, l)
	}
	return links, rows.Err()
}
