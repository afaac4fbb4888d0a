package pg

import (
	"database/sql"
	"errors"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
)

const (
	pgErrUniqueViolation     = "23505"
	pgErrForeignKeyViolation = "23503"
)

// Store bundles the PostgreSQL-backed implementations of the persistent
// access interfaces.
type Store struct {
	db *sql.DB
}

// Open connects with tuned pool defaults.
func Open(dsn string) (*Store, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(50)
	db.SetMaxIdleConns(25)
	db.SetConnMaxLifetime(15 * time.Minute)
	db.SetConnMaxIdleTime(5 * time.Minute)
	return &Store{db: db}, nil
}

// NewStore wraps an existing connection (used by tests with sqlmock).
func NewStore(db *sql.DB) *Store { return &Store{db: db} }

func (s *Store) Close() error { return s.db.Close() }

// DB exposes the raw handle for readiness pings and migrations.
func (s *Store) DB() *sql.DB { return s.db }

func (s *Store) Users() *UserDirectory  { return &UserDirectory{db: s.db} }
func (s *Store) Rules() *RuleStore      { return &RuleStore{db: s.db} }
func (s *Store) DenyList() *DenyList    { return &DenyList{db: s.db} }
func (s *Store) Assignments() *Managers { return &Managers{db: s.db} }
func (s *Store) Accounts() *Accounts    { return &Accounts{db: s.db} }
func (s *Store) Devices() *DeviceLog    { return &DeviceLog{db: s.db} }

func maybePgError(err error) (*pgconn.PgError, bool) {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr, true
	}
	return nil, false
}
