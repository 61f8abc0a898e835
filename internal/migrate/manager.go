// Package migrate applies the embedded SQL migrations with goose.
package migrate

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"sync"

	"github.com/pressly/goose/v3"

	"tessera.org/internal/obs"
)

// goose keeps dialect and base FS in package state.
var gooseMu sync.Mutex

// Manager executes goose migrations from an fs.FS.
type Manager struct {
	db  *sql.DB
	fs  fs.FS
	dir string
}

// NewManager constructs a Manager for the migrations found in dir of fsys.
func NewManager(db *sql.DB, fsys fs.FS, dir string) *Manager {
	return &Manager{db: db, fs: fsys, dir: dir}
}

func (m *Manager) run(fn func() error) error {
	if m.db == nil {
		return errors.New("database connection unavailable")
	}
	gooseMu.Lock()
	defer gooseMu.Unlock()
	goose.SetBaseFS(m.fs)
	goose.SetLogger(gooseLogger{})
	if err := goose.SetDialect("postgres"); err != nil {
		return err
	}
	return fn()
}

// Up applies all pending migrations.
func (m *Manager) Up(ctx context.Context) error {
	return m.run(func() error {
		if err := goose.UpContext(ctx, m.db, m.dir); err != nil {
			return fmt.Errorf("migrate up: %w", err)
		}
		return nil
	})
}

// Down rolls back the most recent applied migration.
func (m *Manager) Down(ctx context.Context) error {
	return m.run(func() error {
		if err := goose.DownContext(ctx, m.db, m.dir); err != nil {
			return fmt.Errorf("migrate down: %w", err)
		}
		return nil
	})
}

// Status logs applied and pending migrations.
func (m *Manager) Status(ctx context.Context) error {
	return m.run(func() error {
		return goose.StatusContext(ctx, m.db, m.dir)
	})
}

// Version returns the current schema version.
func (m *Manager) Version(ctx context.Context) (int64, error) {
	var v int64
	err := m.run(func() error {
		var err error
		v, err = goose.GetDBVersionContext(ctx, m.db)
		return err
	})
	return v, err
}

type gooseLogger struct{}

func (gooseLogger) Printf(format string, v ...any) {
	obs.Logger().Info("migrate", "message", fmt.Sprintf(format, v...))
}

func (gooseLogger) Fatalf(format string, v ...any) {
	obs.Logger().Error("migrate_fatal", "message", fmt.Sprintf(format, v...))
}
