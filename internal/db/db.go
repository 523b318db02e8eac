package db

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"minmatar-fleet/internal/logger"
	_ "modernc.org/sqlite"
)

var (
	// ErrNotFound is returned when a row addressed by ID does not exist.
	ErrNotFound = errors.New("not found")
	// ErrOverAssigned is returned when assignments would exceed an item's quantity.
	ErrOverAssigned = errors.New("assignment exceeds item quantity")
)

// dateLayout is the storage format of order needed-by dates.
const dateLayout = "2006-01-02"

// DB wraps a SQLite database connection.
type DB struct {
	sql *sql.DB
}

// Open opens (or creates) the SQLite database at path and runs migrations.
func Open(path string) (*DB, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create db dir: %w", err)
		}
	}
	d, err := open(path)
	if err != nil {
		return nil, err
	}
	logger.Success("DB", fmt.Sprintf("Opened %s", path))
	return d, nil
}

func open(path string) (*DB, error) {
	sqlDB, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)")
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	// One writer; also keeps ":memory:" databases on a single connection.
	sqlDB.SetMaxOpenConns(1)
	if err := sqlDB.Ping(); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}
	d := &DB{sql: sqlDB}
	if err := d.migrate(); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("migrate db: %w", err)
	}
	return d, nil
}

// Close closes the database connection.
func (d *DB) Close() error {
	return d.sql.Close()
}

// SchemaVersion returns the highest applied migration.
func (d *DB) SchemaVersion() (int, error) {
	var version int
	err := d.sql.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_version").Scan(&version)
	return version, err
}

func (d *DB) migrate() error {
	version := 0
	// Missing table on a fresh database leaves version at 0.
	d.sql.QueryRow("SELECT version FROM schema_version ORDER BY version DESC LIMIT 1").Scan(&version)

	if version < 1 {
		_, err := d.sql.Exec(`
			CREATE TABLE IF NOT EXISTS schema_version (version INTEGER PRIMARY KEY);

			CREATE TABLE IF NOT EXISTS eve_types (
				type_id     INTEGER PRIMARY KEY,
				name        TEXT NOT NULL,
				group_id    INTEGER NOT NULL DEFAULT 0,
				category_id INTEGER NOT NULL DEFAULT 0,
				fetched_at  TEXT NOT NULL
			);

			CREATE TABLE IF NOT EXISTS industry_products (
				id               INTEGER PRIMARY KEY AUTOINCREMENT,
				type_id          INTEGER NOT NULL UNIQUE,
				name             TEXT NOT NULL DEFAULT '',
				strategy         TEXT NOT NULL,
				breakdown_json   TEXT,
				breakdown_linear INTEGER NOT NULL DEFAULT 0,
				created_at       TEXT NOT NULL,
				updated_at       TEXT NOT NULL
			);

			INSERT OR IGNORE INTO schema_version (version) VALUES (1);
		`)
		if err != nil {
			return fmt.Errorf("migration v1: %w", err)
		}
		logger.Info("DB", "Applied migration v1 (types, industry products)")
	}

	if version < 2 {
		_, err := d.sql.Exec(`
			CREATE TABLE IF NOT EXISTS industry_orders (
				id           INTEGER PRIMARY KEY AUTOINCREMENT,
				needed_by    TEXT NOT NULL,
				character_id INTEGER NOT NULL,
				location_id  INTEGER NOT NULL DEFAULT 0,
				created_at   TEXT NOT NULL
			);
			CREATE INDEX IF NOT EXISTS idx_industry_orders_needed_by ON industry_orders(needed_by);

			CREATE TABLE IF NOT EXISTS industry_order_items (
				id       INTEGER PRIMARY KEY AUTOINCREMENT,
				order_id INTEGER NOT NULL REFERENCES industry_orders(id) ON DELETE CASCADE,
				type_id  INTEGER NOT NULL,
				quantity INTEGER NOT NULL CHECK (quantity > 0)
			);
			CREATE INDEX IF NOT EXISTS idx_industry_order_items_order ON industry_order_items(order_id);

			CREATE TABLE IF NOT EXISTS industry_order_item_assignments (
				id           INTEGER PRIMARY KEY AUTOINCREMENT,
				item_id      INTEGER NOT NULL REFERENCES industry_order_items(id) ON DELETE CASCADE,
				character_id INTEGER NOT NULL,
				quantity     INTEGER NOT NULL CHECK (quantity > 0),
				created_at   TEXT NOT NULL
			);
			CREATE INDEX IF NOT EXISTS idx_industry_assignments_item ON industry_order_item_assignments(item_id);

			INSERT OR IGNORE INTO schema_version (version) VALUES (2);
		`)
		if err != nil {
			return fmt.Errorf("migration v2: %w", err)
		}
		logger.Info("DB", "Applied migration v2 (industry orders)")
	}

	return nil
}
