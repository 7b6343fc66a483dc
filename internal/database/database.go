package database

import (
	"database/sql"
	"embed"
	"fmt"
	"strings"

	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrations embed.FS

// Schema versions. The portal version adds the profiles and subscriptions
// tables on top of the identity tables.
const (
	VersionIdentity int64 = 1
	VersionPortal   int64 = 2
)

type Options struct {
	// ProvisionPortal applies the portal migration. When false the
	// database stops at the identity schema and the profile and
	// subscription tables do not exist.
	ProvisionPortal bool
}

// Open opens a SQLite database at the given path and runs migrations.
func Open(dbPath string, opts Options) (*sql.DB, error) {
	db, err := sql.Open("sqlite", dsn(dbPath))
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if strings.HasPrefix(dbPath, ":memory:") {
		// Every pooled connection would otherwise get its own empty database.
		db.SetMaxOpenConns(1)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}

	target := VersionIdentity
	if opts.ProvisionPortal {
		target = VersionPortal
	}
	if err := runMigrations(db, target); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return db, nil
}

func dsn(dbPath string) string {
	return dbPath + "?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
}

func runMigrations(db *sql.DB, target int64) error {
	goose.SetBaseFS(migrations)
	goose.SetLogger(goose.NopLogger())

	if err := goose.SetDialect("sqlite3"); err != nil {
		return fmt.Errorf("set dialect: %w", err)
	}

	if err := goose.UpTo(db, "migrations", target); err != nil {
		return fmt.Errorf("goose up: %w", err)
	}

	return nil
}
