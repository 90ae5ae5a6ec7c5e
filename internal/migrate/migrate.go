// Package migrate runs the database schema migrations bundled with Bay.
package migrate

import (
	"database/sql"
	"embed"
	"fmt"

	"github.com/pressly/goose/v3"
)

//go:embed all:sql
var embedded embed.FS

// Runner applies goose migrations against a *sql.DB (the database/sql
// driver, not pgxpool, since goose drives its own transactions).
type Runner struct {
	db *sql.DB
}

// New constructs a Runner. db must be opened with the pgx stdlib driver.
func New(db *sql.DB) (*Runner, error) {
	goose.SetBaseFS(embedded)
	if err := goose.SetDialect("postgres"); err != nil {
		return nil, fmt.Errorf("set dialect: %w", err)
	}
	return &Runner{db: db}, nil
}

// Up applies all pending migrations.
func (r *Runner) Up() error {
	return goose.Up(r.db, "sql")
}

// Status prints the current migration status to the goose default logger.
func (r *Runner) Status() error {
	return goose.Status(r.db, "sql")
}

// Down rolls back the most recently applied migration.
func (r *Runner) Down() error {
	return goose.Down(r.db, "sql")
}
