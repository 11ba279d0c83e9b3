// Package sqldb provides the database capability on top of database/sql.
// PostgreSQL (lib/pq) and SQLite (go-sqlite3) are supported; package
// documents are stored as JSON, one row per package name.
package sqldb

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "github.com/lib/pq"           // PostgreSQL driver
	_ "github.com/mattn/go-sqlite3" // SQLite driver
	"github.com/sirupsen/logrus"

	"github.com/platinummonkey/wharf/pkg/plugins"
)

// Module is the name configuration files use for this plugin
const Module = "sql-database"

// Config holds the connection settings
type Config struct {
	// Driver is "postgres" or "sqlite3"
	Driver       string        `yaml:"driver"`
	DSN          string        `yaml:"dsn"`
	MaxOpenConns int           `yaml:"max_open_conns"`
	MaxIdleConns int           `yaml:"max_idle_conns"`
	MaxLifetime  time.Duration `yaml:"max_lifetime"`
	Timeout      time.Duration `yaml:"timeout"`
}

var schema = &plugins.Schema{
	Fields: map[string]*plugins.Field{
		"driver":         {Type: plugins.TypeString, Required: true},
		"dsn":            {Type: plugins.TypeString, Required: true},
		"max_open_conns": {Type: plugins.TypeNumber},
		"max_idle_conns": {Type: plugins.TypeNumber},
		"max_lifetime":   {Type: plugins.TypeString},
		"timeout":        {Type: plugins.TypeString},
	},
}

var supportedDrivers = map[string]bool{
	"postgres": true,
	"sqlite3":  true,
}

const createTable = `CREATE TABLE IF NOT EXISTS packages (
	name TEXT PRIMARY KEY,
	document TEXT NOT NULL,
	updated_at TIMESTAMP NOT NULL
)`

// Export describes the plugin to the registry
func Export() plugins.Export {
	return plugins.Export{
		Module:         Module,
		ConfigRequired: true,
		ConfigSchema:   schema,
		Provides:       map[plugins.Capability]string{plugins.CapabilityDatabase: "sql"},
		Init:           initDatabase,
	}
}

func initDatabase(ctx context.Context, p plugins.InitParams) (plugins.Instance, error) {
	var cfg Config
	if err := p.Config.Decode(&cfg); err != nil {
		return nil, err
	}
	return Open(ctx, cfg, p.Log())
}

// Database stores package documents in a SQL table
type Database struct {
	db  *sql.DB
	log *logrus.Entry
	now func() time.Time
}

// Open connects, verifies the connection and creates the schema
func Open(ctx context.Context, cfg Config, log *logrus.Entry) (*Database, error) {
	if !supportedDrivers[cfg.Driver] {
		return nil, fmt.Errorf("unsupported driver %q (supported: postgres, sqlite3)", cfg.Driver)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}

	db, err := sql.Open(cfg.Driver, cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s connection: %w", cfg.Driver, err)
	}

	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.MaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.MaxLifetime)
	}

	pingCtx, cancel := context.WithTimeout(ctx, cfg.Timeout)
	defer cancel()

	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping %s: %w", cfg.Driver, err)
	}

	d := New(db, log)
	if err := d.Migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return d, nil
}

// New wraps an open connection. log may be nil.
func New(db *sql.DB, log *logrus.Entry) *Database {
	if log == nil {
		log = plugins.InitParams{}.Log()
	}
	return &Database{db: db, log: log, now: time.Now}
}

// Migrate creates the packages table when it does not exist
func (d *Database) Migrate(ctx context.Context) error {
	if _, err := d.db.ExecContext(ctx, createTable); err != nil {
		return fmt.Errorf("failed to create packages table: %w", err)
	}
	return nil
}

// Type implements plugins.Instance
func (d *Database) Type() plugins.Capability {
	return plugins.CapabilityDatabase
}

// GetPackage loads a package document, or plugins.ErrNotFound
func (d *Database) GetPackage(ctx context.Context, name string) (*plugins.Package, error) {
	var doc string
	err := d.db.QueryRowContext(ctx,
		`SELECT document FROM packages WHERE name = $1`, name,
	).Scan(&doc)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("package %s: %w", name, plugins.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get package %s: %w", name, err)
	}

	var pkg plugins.Package
	if err := json.Unmarshal([]byte(doc), &pkg); err != nil {
		return nil, fmt.Errorf("corrupt document for package %s: %w", name, err)
	}
	return &pkg, nil
}

// PutPackage inserts or replaces a package document
func (d *Database) PutPackage(ctx context.Context, pkg *plugins.Package) error {
	pkg.UpdatedAt = d.now().UTC()
	doc, err := json.Marshal(pkg)
	if err != nil {
		return fmt.Errorf("failed to marshal package %s: %w", pkg.Name, err)
	}

	_, err = d.db.ExecContext(ctx,
		`INSERT INTO packages (name, document, updated_at) VALUES ($1, $2, $3)
		ON CONFLICT (name) DO UPDATE SET document = EXCLUDED.document, updated_at = EXCLUDED.updated_at`,
		pkg.Name, string(doc), pkg.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to store package %s: %w", pkg.Name, err)
	}

	d.log.WithFields(logrus.Fields{
		"package":  pkg.Name,
		"versions": len(pkg.Versions),
	}).Debug("Stored package")
	return nil
}

// ListPackages returns every package name in alphabetical order
func (d *Database) ListPackages(ctx context.Context) ([]string, error) {
	rows, err := d.db.QueryContext(ctx, `SELECT name FROM packages ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("failed to list packages: %w", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("failed to scan package name: %w", err)
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

// HealthCheck pings the database
func (d *Database) HealthCheck(ctx context.Context) error {
	return d.db.PingContext(ctx)
}

// Close closes the connection pool
func (d *Database) Close() error {
	return d.db.Close()
}
