// Package storage holds the persistent adapters: a SQL store for jobs,
// catalog items and sources, and a Redis claim guard.
package storage

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	_ "github.com/go-sql-driver/mysql" // MySQL driver
	_ "github.com/lib/pq"              // PostgreSQL driver
	_ "github.com/mattn/go-sqlite3"    // SQLite driver

	"github.com/valpere/Importexter/internal/utils"
)

// Supported drivers.
const (
	DriverSQLite   = "sqlite3"
	DriverPostgres = "postgres"
	DriverMySQL    = "mysql"
)

// DB is a SQL database shared by the repositories of this package.
// Queries are written with '?' placeholders and rebound per driver.
type DB struct {
	db     *sql.DB
	driver string
	logger utils.Logger
}

// Open connects to the database and creates the schema.
func Open(ctx context.Context, driver, dsn string) (*DB, error) {
	if dsn == "" {
		return nil, fmt.Errorf("database dsn is required")
	}

	switch driver {
	case DriverSQLite:
		if dsn != ":memory:" && !strings.HasPrefix(dsn, "file:") {
			if dir := filepath.Dir(dsn); dir != "." {
				if err := os.MkdirAll(dir, 0755); err != nil {
					return nil, fmt.Errorf("failed to create database directory: %w", err)
				}
			}
			if !strings.Contains(dsn, "?") {
				dsn += "?_busy_timeout=5000&_journal_mode=WAL&_foreign_keys=on"
			}
		}
	case DriverMySQL:
		// RowsAffected must count matched rows for conditional updates
		if !strings.Contains(dsn, "clientFoundRows") {
			sep := "?"
			if strings.Contains(dsn, "?") {
				sep = "&"
			}
			dsn += sep + "clientFoundRows=true"
		}
	case DriverPostgres:
	default:
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", driver, err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping %s database: %w", driver, err)
	}

	switch driver {
	case DriverSQLite:
		// one connection keeps :memory: databases shared and serializes writers
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
		db.SetConnMaxLifetime(0)
	default:
		db.SetMaxOpenConns(25)
		db.SetMaxIdleConns(5)
		db.SetConnMaxLifetime(5 * time.Minute)
	}

	d := &DB{db: db, driver: driver, logger: utils.NewComponentLogger("storage")}
	if err := d.migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return d, nil
}

// Driver returns the driver name.
func (d *DB) Driver() string { return d.driver }

// Ping checks the connection; used by the health endpoint.
func (d *DB) Ping(ctx context.Context) error { return d.db.PingContext(ctx) }

// Close closes the connection pool.
func (d *DB) Close() error { return d.db.Close() }

var schema = []string{
	`CREATE TABLE IF NOT EXISTS import_jobs (
		id VARCHAR(64) PRIMARY KEY,
		source_url TEXT NOT NULL,
		kind VARCHAR(16) NOT NULL,
		status VARCHAR(32) NOT NULL,
		source_id VARCHAR(128) NOT NULL DEFAULT '',
		category_id VARCHAR(128) NOT NULL DEFAULT '',
		target_status VARCHAR(32) NOT NULL DEFAULT '',
		record TEXT,
		slug VARCHAR(255) NOT NULL DEFAULT '',
		error_message TEXT,
		error_kind VARCHAR(64) NOT NULL DEFAULT '',
		catalog_id VARCHAR(64) NOT NULL DEFAULT '',
		duplicate_of VARCHAR(64) NOT NULL DEFAULT '',
		created_at BIGINT NOT NULL,
		updated_at BIGINT NOT NULL,
		processed_at BIGINT
	)`,
	`CREATE TABLE IF NOT EXISTS catalog_articles (
		id VARCHAR(64) PRIMARY KEY,
		slug VARCHAR(255) NOT NULL UNIQUE,
		source_key VARCHAR(767) NOT NULL,
		content_hash VARCHAR(64) NOT NULL DEFAULT '',
		document TEXT NOT NULL,
		created_at BIGINT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS catalog_products (
		id VARCHAR(64) PRIMARY KEY,
		slug VARCHAR(255) NOT NULL UNIQUE,
		source_key VARCHAR(767) NOT NULL,
		content_hash VARCHAR(64) NOT NULL DEFAULT '',
		price DOUBLE PRECISION NOT NULL DEFAULT 0,
		document TEXT NOT NULL,
		created_at BIGINT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS catalog_product_variants (
		product_id VARCHAR(64) NOT NULL,
		position INTEGER NOT NULL,
		name VARCHAR(255) NOT NULL,
		sku VARCHAR(128) NOT NULL DEFAULT '',
		price DOUBLE PRECISION NOT NULL DEFAULT 0,
		PRIMARY KEY (product_id, position)
	)`,
	`CREATE TABLE IF NOT EXISTS catalog_categories (
		id VARCHAR(64) NOT NULL,
		kind VARCHAR(16) NOT NULL,
		name VARCHAR(255) NOT NULL,
		slug VARCHAR(255) NOT NULL DEFAULT '',
		parent_id VARCHAR(64) NOT NULL DEFAULT '',
		position INTEGER NOT NULL DEFAULT 0,
		PRIMARY KEY (kind, id)
	)`,
	`CREATE TABLE IF NOT EXISTS import_sources (
		id VARCHAR(128) PRIMARY KEY,
		definition TEXT NOT NULL,
		updated_at BIGINT NOT NULL
	)`,
}

func (d *DB) migrate(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := d.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to create schema: %w", err)
		}
	}
	return nil
}

// rebind rewrites '?' placeholders to the driver's syntax.
func (d *DB) rebind(query string) string {
	if d.driver != DriverPostgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteString("$" + strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func (d *DB) exec(ctx context.Context, q sqlExecer, query string, args ...interface{}) (sql.Result, error) {
	return q.ExecContext(ctx, d.rebind(query), args...)
}

type sqlExecer interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

// unixNano and fromUnixNano store timestamps as integers so every driver
// round-trips them the same way.
func unixNano(t time.Time) int64 { return t.UnixNano() }

func fromUnixNano(n int64) time.Time { return time.Unix(0, n).UTC() }
