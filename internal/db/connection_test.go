package db

import (
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/property-etl/internal/config"
)

func TestParseDialect(t *testing.T) {
	tests := []struct {
		input   string
		want    Dialect
		wantErr bool
	}{
		{"postgres", Postgres, false},
		{"PostgreSQL", Postgres, false},
		{"pgx", PGX, false},
		{"mysql", MySQL, false},
		{" sqlite ", SQLite, false},
		{"sqlite3", SQLite, false},
		{"oracle", "", true},
		{"", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseDialect(tt.input)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseDialect(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("ParseDialect(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestPlaceholder(t *testing.T) {
	if got := PGX.Placeholder(3); got != "$3" {
		t.Errorf("PGX.Placeholder(3) = %q, want $3", got)
	}
	if got := MySQL.Placeholder(3); got != "?" {
		t.Errorf("MySQL.Placeholder(3) = %q, want ?", got)
	}
}

func TestDSN(t *testing.T) {
	base := config.DatabaseConfig{
		Host: "db.local", Port: "5433", User: "etl", Password: "secret", Name: "props",
	}

	tests := []struct {
		name    string
		dialect Dialect
		cfg     config.DatabaseConfig
		want    string
	}{
		{
			name:    "postgres from parts",
			dialect: Postgres,
			cfg:     base,
			want:    "host=db.local port=5433 user=etl password=secret dbname=props sslmode=disable",
		},
		{
			name:    "pgx url verbatim",
			dialect: PGX,
			cfg:     config.DatabaseConfig{URL: "postgres://u:p@h/db"},
			want:    "postgres://u:p@h/db",
		},
		{
			name:    "sqlite from name",
			dialect: SQLite,
			cfg:     config.DatabaseConfig{Name: "props"},
			want:    "props.db?_pragma=foreign_keys(1)",
		},
		{
			name:    "sqlite url with query",
			dialect: SQLite,
			cfg:     config.DatabaseConfig{URL: "file:x.db?cache=shared"},
			want:    "file:x.db?cache=shared&_pragma=foreign_keys(1)",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := DSN(tt.dialect, tt.cfg)
			if err != nil {
				t.Fatalf("DSN() error = %v", err)
			}
			if got != tt.want {
				t.Errorf("DSN() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestDSNMySQL(t *testing.T) {
	got, err := DSN(MySQL, config.DatabaseConfig{
		Host: "db.local", Port: "3306", User: "etl", Password: "secret", Name: "props",
	})
	if err != nil {
		t.Fatalf("DSN() error = %v", err)
	}
	if !strings.HasPrefix(got, "etl:secret@tcp(db.local:3306)/props?") {
		t.Errorf("DSN() = %q, want user, address and database", got)
	}
	if !strings.Contains(got, "parseTime=true") {
		t.Errorf("DSN() = %q, want parseTime=true", got)
	}
}

func TestNewConnectionSQLite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "conn.db")
	conn, err := NewConnection(context.Background(), config.DatabaseConfig{Driver: "sqlite", URL: path})
	if err != nil {
		t.Fatalf("NewConnection() error = %v", err)
	}
	defer conn.Close()

	if conn.Dialect != SQLite {
		t.Errorf("Dialect = %q, want sqlite", conn.Dialect)
	}

	var fk int
	if err := conn.DB.QueryRow("PRAGMA foreign_keys").Scan(&fk); err != nil {
		t.Fatalf("PRAGMA foreign_keys: %v", err)
	}
	if fk != 1 {
		t.Errorf("foreign_keys = %d, want 1", fk)
	}
}

func TestNewConnectionUnknownDriver(t *testing.T) {
	_, err := NewConnection(context.Background(), config.DatabaseConfig{Driver: "oracle"})
	if err == nil || !strings.Contains(err.Error(), "unsupported") {
		t.Errorf("NewConnection(oracle) error = %v, want unsupported driver", err)
	}
}
