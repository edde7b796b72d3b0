package migrate

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"

	"github.com/pressly/goose/v3"
	"github.com/pressly/goose/v3/database"
)

//go:embed migrations
var embedMigrations embed.FS

// Dialects accepted by the migration functions.
const (
	DialectSQLite   = "sqlite"
	DialectPostgres = "postgres"
)

const tableName = "schema_migrations"

func newProvider(db *sql.DB, dialect string) (*goose.Provider, error) {
	var (
		d   database.Dialect
		dir string
	)
	switch dialect {
	case DialectSQLite, "sqlite3":
		d, dir = database.DialectSQLite3, "migrations/sqlite"
	case DialectPostgres, "pgx":
		d, dir = database.DialectPostgres, "migrations/postgres"
	default:
		return nil, fmt.Errorf("unsupported dialect for migrations: %s", dialect)
	}
	sub, err := fs.Sub(embedMigrations, dir)
	if err != nil {
		return nil, err
	}
	store, err := database.NewStore(d, tableName)
	if err != nil {
		return nil, err
	}
	return goose.NewProvider("", db, sub, goose.WithStore(store))
}

// Up applies all pending migrations.
func Up(ctx context.Context, db *sql.DB, dialect string) ([]*goose.MigrationResult, error) {
	p, err := newProvider(db, dialect)
	if err != nil {
		return nil, err
	}
	return p.Up(ctx)
}

// Down rolls back the most recent migration.
func Down(ctx context.Context, db *sql.DB, dialect string) (*goose.MigrationResult, error) {
	p, err := newProvider(db, dialect)
	if err != nil {
		return nil, err
	}
	return p.Down(ctx)
}

// Status reports the state of every known migration.
func Status(ctx context.Context, db *sql.DB, dialect string) ([]*goose.MigrationStatus, error) {
	p, err := newProvider(db, dialect)
	if err != nil {
		return nil, err
	}
	return p.Status(ctx)
}
