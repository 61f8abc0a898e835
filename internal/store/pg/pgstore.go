// Package pg implements the auth and parameter stores on PostgreSQL through
// database/sql and the pgx driver.
package pg

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"tessera.org/internal/auth"
	"tessera.org/internal/config"
	"tessera.org/internal/parameter"
)

// Migrations holds the goose migration files under "migrations".
//
//go:embed migrations/*.sql
var Migrations embed.FS

// MigrationsDir is the directory inside Migrations.
const MigrationsDir = "migrations"

const (
	pgErrUniqueViolation     = "23505"
	pgErrForeignKeyViolation = "23503"
)

var errNoDB = errors.New("database connection unavailable")

type Store struct {
	db *sql.DB
}

var (
	_ auth.UserStore         = (*UserStore)(nil)
	_ auth.RoleStore         = (*RoleStore)(nil)
	_ auth.PermissionStore   = (*PermissionStore)(nil)
	_ auth.InvalidTokenStore = (*InvalidTokenStore)(nil)
	_ parameter.Store        = (*ParameterStore)(nil)
)

func Open(cfg config.DatabaseConfig) (*Store, error) {
	if strings.TrimSpace(cfg.URL) == "" {
		return nil, errors.New("database url is empty")
	}
	db, err := sql.Open("pgx", cfg.URL)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	db.SetConnMaxIdleTime(5 * time.Minute)
	return &Store{db: db}, nil
}

// New wraps an existing handle.
func New(db *sql.DB) *Store { return &Store{db: db} }

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) DB() *sql.DB { return s.db }

func (s *Store) Ping(ctx context.Context) error {
	if s.db == nil {
		return errNoDB
	}
	return s.db.PingContext(ctx)
}

func (s *Store) Users() *UserStore                 { return &UserStore{s: s} }
func (s *Store) Roles() *RoleStore                 { return &RoleStore{s: s} }
func (s *Store) Permissions() *PermissionStore     { return &PermissionStore{s: s} }
func (s *Store) InvalidTokens() *InvalidTokenStore { return &InvalidTokenStore{s: s} }
func (s *Store) Parameters() *ParameterStore       { return &ParameterStore{s: s} }

// withTx runs fn in a transaction and commits when it returns nil.
func (s *Store) withTx(ctx context.Context, fn func(*sql.Tx) error) error {
	if s.db == nil {
		return errNoDB
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()
	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}

type queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func maybePgError(err error) (*pgconn.PgError, bool) {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr, true
	}
	return nil, false
}

// mapWriteError turns constraint violations into auth error kinds.
func mapWriteError(err error) error {
	if pgErr, ok := maybePgError(err); ok {
		switch pgErr.Code {
		case pgErrUniqueViolation:
			return auth.ErrConflict
		case pgErrForeignKeyViolation:
			return auth.ErrNotFound
		}
	}
	return err
}

func nullIfEmpty(s string) sql.NullString {
	s = strings.TrimSpace(s)
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}

func timePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time.UTC()
	return &v
}

// filter accumulates numbered where-clauses.
type filter struct {
	clauses []string
	args    []any
}

// add appends a clause; format receives the placeholder index.
func (f *filter) add(format string, arg any) {
	f.args = append(f.args, arg)
	f.clauses = append(f.clauses, fmt.Sprintf(format, len(f.args)))
}

func (f *filter) where() string {
	if len(f.clauses) == 0 {
		return ""
	}
	return " where " + strings.Join(f.clauses, " and ")
}

// page appends limit/offset placeholders and returns the suffix.
func (f *filter) page(p auth.Pageable) (string, []any) {
	p = p.Normalize()
	args := append(append([]any{}, f.args...), p.PageSize, p.Offset())
	return fmt.Sprintf(" limit $%d offset $%d", len(args)-1, len(args)), args
}

// likePattern escapes LIKE wildcards in s and wraps it for a contains match.
func likePattern(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return "%" + r.Replace(strings.ToLower(strings.TrimSpace(s))) + "%"
}
