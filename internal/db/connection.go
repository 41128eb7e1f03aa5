package db

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"
	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"

	"github.com/property-etl/internal/config"
)

// Dialect is the database/sql driver name a Connection was opened with.
type Dialect string

const (
	Postgres Dialect = "postgres"
	PGX      Dialect = "pgx"
	MySQL    Dialect = "mysql"
	SQLite   Dialect = "sqlite"
)

// ParseDialect validates a driver name from configuration.
func ParseDialect(name string) (Dialect, error) {
	switch d := Dialect(strings.ToLower(strings.TrimSpace(name))); d {
	case Postgres, PGX, MySQL, SQLite:
		return d, nil
	case "postgresql":
		return Postgres, nil
	case "sqlite3":
		return SQLite, nil
	default:
		return "", fmt.Errorf("unsupported database driver %q", name)
	}
}

// IsPostgres reports whether the dialect talks to PostgreSQL.
func (d Dialect) IsPostgres() bool {
	return d == Postgres || d == PGX
}

// Placeholder returns the bind parameter for the n-th (1-based) argument.
func (d Dialect) Placeholder(n int) string {
	if d.IsPostgres() {
		return fmt.Sprintf("$%d", n)
	}
	return "?"
}

// Connection holds the database connection
type Connection struct {
	DB      *sql.DB
	Dialect Dialect
}

// NewConnection opens and pings the database described by cfg.
func NewConnection(ctx context.Context, cfg config.DatabaseConfig) (*Connection, error) {
	dialect, err := ParseDialect(cfg.Driver)
	if err != nil {
		return nil, err
	}

	dsn, err := DSN(dialect, cfg)
	if err != nil {
		return nil, err
	}

	db, err := sql.Open(string(dialect), dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	// Set connection pool settings
	if dialect == SQLite {
		// one writer; a second connection would see SQLITE_BUSY
		db.SetMaxOpenConns(1)
	} else {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
		db.SetMaxIdleConns(cfg.MaxIdleConns)
		db.SetConnMaxLifetime(time.Hour)
	}

	return &Connection{DB: db, Dialect: dialect}, nil
}

// DSN builds the driver-specific data source name. A configured URL is
// used as is, except that SQLite always gets foreign keys switched on.
func DSN(dialect Dialect, cfg config.DatabaseConfig) (string, error) {
	switch dialect {
	case Postgres, PGX:
		if cfg.URL != "" {
			return cfg.URL, nil
		}
		return fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=disable",
			cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.Name), nil

	case MySQL:
		if cfg.URL != "" {
			return cfg.URL, nil
		}
		mc := mysql.NewConfig()
		mc.User = cfg.User
		mc.Passwd = cfg.Password
		mc.Net = "tcp"
		mc.Addr = cfg.Host + ":" + cfg.Port
		mc.DBName = cfg.Name
		mc.ParseTime = true
		return mc.FormatDSN(), nil

	case SQLite:
		path := cfg.URL
		if path == "" {
			path = cfg.Name + ".db"
		}
		if strings.Contains(path, "_pragma=foreign_keys") {
			return path, nil
		}
		sep := "?"
		if strings.Contains(path, "?") {
			sep = "&"
		}
		return path + sep + "_pragma=foreign_keys(1)", nil
	}
	return "", fmt.Errorf("unsupported database driver %q", dialect)
}

// Close closes the database connection
func (c *Connection) Close() error {
	return c.DB.Close()
}
