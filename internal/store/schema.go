// Package store persists normalized property records into the seven-table
// relational schema and reads summary information back out of it.
package store

import (
	"context"
	"embed"
	"fmt"
	"io/fs"

	"github.com/pressly/goose/v3"

	"github.com/property-etl/internal/db"
)

//go:embed migrations
var migrations embed.FS

// Table names, parent first.
const (
	TableProperty  = "property"
	TableLeads     = "leads"
	TableLeadsInfo = "leads_info"
	TableValuation = "valuation"
	TableHOA       = "hoa"
	TableRehab     = "rehab"
	TableTaxes     = "taxes"
)

// Tables lists every table the schema creates, in load order.
var Tables = []string{
	TableProperty, TableLeads, TableLeadsInfo, TableValuation, TableHOA, TableRehab, TableTaxes,
}

// SchemaResult describes what a migration call changed.
type SchemaResult struct {
	Applied []string
	Version int64
}

func newProvider(conn *db.Connection) (*goose.Provider, error) {
	var (
		dialect goose.Dialect
		dir     string
	)
	switch conn.Dialect {
	case db.Postgres, db.PGX:
		dialect, dir = goose.DialectPostgres, "postgres"
	case db.MySQL:
		dialect, dir = goose.DialectMySQL, "mysql"
	case db.SQLite:
		dialect, dir = goose.DialectSQLite3, "sqlite"
	default:
		return nil, fmt.Errorf("no migrations for dialect %q", conn.Dialect)
	}

	fsys, err := fs.Sub(migrations, "migrations/"+dir)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s migrations: %w", dir, err)
	}

	provider, err := goose.NewProvider(dialect, conn.DB, fsys)
	if err != nil {
		return nil, fmt.Errorf("failed to create migration provider: %w", err)
	}
	return provider, nil
}

// Migrate applies any pending migrations.
func Migrate(ctx context.Context, conn *db.Connection) (*SchemaResult, error) {
	provider, err := newProvider(conn)
	if err != nil {
		return nil, err
	}

	results, err := provider.Up(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to apply migrations: %w", err)
	}
	return schemaResult(ctx, provider, results)
}

// Reset drops every table the schema owns and recreates them empty.
func Reset(ctx context.Context, conn *db.Connection) (*SchemaResult, error) {
	provider, err := newProvider(conn)
	if err != nil {
		return nil, err
	}

	if _, err := provider.DownTo(ctx, 0); err != nil {
		return nil, fmt.Errorf("failed to drop tables: %w", err)
	}

	results, err := provider.Up(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}
	return schemaResult(ctx, provider, results)
}

func schemaResult(ctx context.Context, provider *goose.Provider, results []*goose.MigrationResult) (*SchemaResult, error) {
	out := &SchemaResult{}
	for _, r := range results {
		out.Applied = append(out.Applied, r.Source.Path)
	}

	version, err := provider.GetDBVersion(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read schema version: %w", err)
	}
	out.Version = version
	return out, nil
}
