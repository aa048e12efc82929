// Package store is the SQLite persistence layer. One Store serves every
// tenant; every query filters on yacht_id so tenants never see each other's
// rows. Ledger tables (events, inventory/finance transactions, audit log)
// are append-only: nothing in this package updates or deletes their rows.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"

	"dockhand/internal/logging"
)

// Store wraps the SQLite handle and the typed query surface.
type Store struct {
	db     *sql.DB
	dbPath string
	queries
}

// dbtx is satisfied by both *sql.DB and *sql.Tx, letting every query run
// either standalone or inside a commit transaction.
type dbtx interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// queries holds every repository method; embedding it in Store and Tx gives
// both the same surface.
type queries struct {
	db dbtx
}

// Tx is a transaction-scoped view of the store.
type Tx struct {
	queries
	tx *sql.Tx
}

// New opens (creating if needed) the database at path and runs the schema.
func New(path string) (*Store, error) {
	timer := logging.StartTimer(logging.CategoryStore, "store_open")
	defer timer.Stop()

	logging.Store("Opening store at %s", path)

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		logging.StoreDebug("Failed to set sqlite busy_timeout: %v", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
		logging.StoreDebug("Failed to set sqlite journal_mode=WAL: %v", err)
	}
	if _, err := db.Exec("PRAGMA synchronous = NORMAL"); err != nil {
		logging.StoreDebug("Failed to set sqlite synchronous=NORMAL: %v", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		logging.StoreDebug("Failed to enable sqlite foreign_keys: %v", err)
	}

	s := &Store{db: db, dbPath: path, queries: queries{db: db}}
	if err := s.initialize(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	logging.Store("Store ready")
	return s, nil
}

// Close releases the database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping verifies the database is reachable, for health reporting.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Transact runs fn inside a transaction; any error rolls everything back.
func (s *Store) Transact(ctx context.Context, fn func(tx *Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	view := &Tx{queries: queries{db: tx}, tx: tx}
	if err := fn(view); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			logging.Get(logging.CategoryStore).Error("rollback failed: %v", rbErr)
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// initialize creates the schema.
func (s *Store) initialize() error {
	schema := []string{
		`CREATE TABLE IF NOT EXISTS uploads (
			id TEXT PRIMARY KEY,
			yacht_id TEXT NOT NULL,
			uploader_id TEXT NOT NULL,
			filename TEXT NOT NULL,
			mime_type TEXT NOT NULL,
			size_bytes INTEGER NOT NULL,
			sha256 TEXT NOT NULL,
			storage_path TEXT NOT NULL,
			kind TEXT NOT NULL,
			status TEXT NOT NULL,
			quality TEXT,
			created_at DATETIME NOT NULL
		);
		CREATE UNIQUE INDEX IF NOT EXISTS idx_uploads_yacht_sha ON uploads(yacht_id, sha256);
		CREATE INDEX IF NOT EXISTS idx_uploads_yacht_created ON uploads(yacht_id, created_at);`,

		`CREATE TABLE IF NOT EXISTS parts (
			id TEXT PRIMARY KEY,
			yacht_id TEXT NOT NULL,
			part_number TEXT NOT NULL,
			name TEXT NOT NULL,
			manufacturer TEXT,
			storage_location TEXT,
			quantity_on_hand REAL NOT NULL DEFAULT 0,
			minimum_quantity REAL NOT NULL DEFAULT 0,
			version INTEGER NOT NULL DEFAULT 1
		);
		CREATE UNIQUE INDEX IF NOT EXISTS idx_parts_yacht_number ON parts(yacht_id, part_number);`,

		`CREATE TABLE IF NOT EXISTS orders (
			id TEXT PRIMARY KEY,
			yacht_id TEXT NOT NULL,
			order_number TEXT NOT NULL,
			vendor TEXT,
			ordered_at DATETIME NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_orders_yacht ON orders(yacht_id, ordered_at);`,

		`CREATE TABLE IF NOT EXISTS order_lines (
			id TEXT PRIMARY KEY,
			order_id TEXT NOT NULL REFERENCES orders(id),
			yacht_id TEXT NOT NULL,
			part_id TEXT NOT NULL,
			quantity REAL NOT NULL,
			unit_price REAL
		);
		CREATE INDEX IF NOT EXISTS idx_order_lines_part ON order_lines(yacht_id, part_id);`,

		`CREATE TABLE IF NOT EXISTS shopping_items (
			id TEXT PRIMARY KEY,
			yacht_id TEXT NOT NULL,
			order_id TEXT,
			part_id TEXT NOT NULL,
			requested_quantity REAL NOT NULL,
			approved_quantity REAL NOT NULL DEFAULT 0,
			received_quantity REAL NOT NULL DEFAULT 0,
			status TEXT NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_shopping_yacht_part ON shopping_items(yacht_id, part_id, status);`,

		`CREATE TABLE IF NOT EXISTS receiving_sessions (
			id TEXT PRIMARY KEY,
			yacht_id TEXT NOT NULL,
			session_number TEXT NOT NULL,
			status TEXT NOT NULL,
			created_by TEXT NOT NULL,
			upload_ids TEXT,
			summary TEXT,
			event_id TEXT,
			created_at DATETIME NOT NULL,
			committed_at DATETIME,
			committed_by TEXT
		);
		CREATE INDEX IF NOT EXISTS idx_sessions_yacht ON receiving_sessions(yacht_id, created_at);`,

		`CREATE TABLE IF NOT EXISTS session_lines (
			id TEXT PRIMARY KEY,
			session_id TEXT NOT NULL REFERENCES receiving_sessions(id),
			yacht_id TEXT NOT NULL,
			sequence INTEGER NOT NULL,
			quantity REAL NOT NULL,
			unit TEXT,
			description TEXT NOT NULL,
			part_number TEXT,
			unit_price REAL,
			confidence TEXT NOT NULL,
			source TEXT NOT NULL,
			raw_text TEXT,
			is_verified INTEGER NOT NULL DEFAULT 0,
			verified_by TEXT,
			verified_at DATETIME,
			suggestion TEXT,
			discrepancy TEXT
		);
		CREATE INDEX IF NOT EXISTS idx_session_lines_session ON session_lines(session_id, sequence);`,

		`CREATE TABLE IF NOT EXISTS session_counters (
			yacht_id TEXT NOT NULL,
			year INTEGER NOT NULL,
			counter INTEGER NOT NULL DEFAULT 0,
			PRIMARY KEY (yacht_id, year)
		);`,

		`CREATE TABLE IF NOT EXISTS receiving_events (
			id TEXT PRIMARY KEY,
			yacht_id TEXT NOT NULL,
			session_id TEXT NOT NULL,
			event_number TEXT NOT NULL,
			committed_by TEXT NOT NULL,
			notes TEXT,
			lines_committed INTEGER NOT NULL,
			total_cost REAL,
			signature TEXT NOT NULL,
			created_at DATETIME NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_events_yacht_created ON receiving_events(yacht_id, created_at);`,

		`CREATE TABLE IF NOT EXISTS inventory_transactions (
			id TEXT PRIMARY KEY,
			yacht_id TEXT NOT NULL,
			part_id TEXT NOT NULL,
			quantity_delta REAL NOT NULL,
			kind TEXT NOT NULL,
			reference_id TEXT,
			reference_kind TEXT,
			actor_id TEXT NOT NULL,
			created_at DATETIME NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_inv_tx_part ON inventory_transactions(yacht_id, part_id);`,

		`CREATE TABLE IF NOT EXISTS finance_transactions (
			id TEXT PRIMARY KEY,
			yacht_id TEXT NOT NULL,
			event_id TEXT NOT NULL,
			kind TEXT NOT NULL,
			category TEXT,
			amount REAL NOT NULL,
			currency TEXT NOT NULL,
			actor_id TEXT NOT NULL,
			signature TEXT NOT NULL,
			created_at DATETIME NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_fin_tx_event ON finance_transactions(yacht_id, event_id);`,

		`CREATE TABLE IF NOT EXISTS audit_log (
			id TEXT PRIMARY KEY,
			yacht_id TEXT NOT NULL,
			actor_id TEXT NOT NULL,
			action TEXT NOT NULL,
			entity_kind TEXT NOT NULL,
			entity_id TEXT NOT NULL,
			old_value TEXT,
			new_value TEXT,
			signature TEXT NOT NULL,
			created_at DATETIME NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_audit_yacht_created ON audit_log(yacht_id, created_at);`,
	}

	for _, ddl := range schema {
		if _, err := s.db.Exec(ddl); err != nil {
			return fmt.Errorf("schema statement failed: %w", err)
		}
	}
	return nil
}
