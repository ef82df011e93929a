package repository

import (
	"database/sql"
	"fmt"
	"log"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite" // Pure Go SQLite driver - no CGO required
)

var sqliteSchema = []string{
	`CREATE TABLE IF NOT EXISTS stock_items (
		id TEXT PRIMARY KEY,
		owner_id TEXT NOT NULL DEFAULT '',
		name TEXT NOT NULL,
		sku TEXT NOT NULL,
		category TEXT NOT NULL DEFAULT '',
		quantity INTEGER NOT NULL DEFAULT 0 CHECK (quantity >= 0),
		location TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL,
		last_updated DATETIME NOT NULL,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL,
		UNIQUE (owner_id, sku)
	)`,
	`CREATE TABLE IF NOT EXISTS stock_transactions (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		id TEXT NOT NULL UNIQUE,
		stock_item_id TEXT NOT NULL REFERENCES stock_items(id),
		type TEXT NOT NULL,
		quantity INTEGER NOT NULL,
		previous_quantity INTEGER NOT NULL,
		new_quantity INTEGER NOT NULL,
		location TEXT NOT NULL DEFAULT '',
		reference TEXT NOT NULL DEFAULT '',
		reason TEXT NOT NULL DEFAULT '',
		notes TEXT NOT NULL DEFAULT '',
		created_at DATETIME NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_stock_txn_item ON stock_transactions(stock_item_id, seq)`,
	`CREATE TABLE IF NOT EXISTS suppliers (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		contact_name TEXT NOT NULL DEFAULT '',
		email TEXT NOT NULL DEFAULT '',
		phone TEXT NOT NULL DEFAULT '',
		address TEXT NOT NULL DEFAULT '',
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS customers (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		email TEXT,
		phone TEXT NOT NULL DEFAULT '',
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL,
		UNIQUE (email)
	)`,
	`CREATE TABLE IF NOT EXISTS products (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		sku TEXT NOT NULL DEFAULT '',
		category TEXT NOT NULL DEFAULT '',
		price TEXT NOT NULL DEFAULT '0',
		quantity INTEGER NOT NULL DEFAULT 0,
		supplier_id TEXT,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS sales (
		id TEXT PRIMARY KEY,
		reference TEXT NOT NULL,
		payment_method TEXT NOT NULL,
		customer_id TEXT,
		total TEXT NOT NULL,
		created_at DATETIME NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS sale_items (
		id TEXT PRIMARY KEY,
		sale_id TEXT NOT NULL REFERENCES sales(id),
		line_no INTEGER NOT NULL,
		product_id TEXT NOT NULL REFERENCES products(id),
		quantity INTEGER NOT NULL,
		unit_price TEXT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_sale_items_sale ON sale_items(sale_id, line_no)`,
	`CREATE INDEX IF NOT EXISTS idx_sale_items_product ON sale_items(product_id)`,
	`CREATE TABLE IF NOT EXISTS sync_receipts (
		entry_id TEXT PRIMARY KEY,
		client_id TEXT NOT NULL DEFAULT '',
		entity_type TEXT NOT NULL,
		entity_id TEXT NOT NULL,
		operation TEXT NOT NULL,
		status TEXT NOT NULL,
		applied_at DATETIME NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_sync_receipts_applied ON sync_receipts(applied_at)`,
}

// SQLiteDSN builds a modernc DSN with WAL, a busy timeout, foreign keys and
// immediate write transactions, so a transaction holds the write lock from
// its first statement.
func SQLiteDSN(path string) string {
	return fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)&_txlock=immediate", path)
}

// OpenSQLite opens (or creates) the SQLite store at path.
func OpenSQLite(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create data dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", SQLiteDSN(path))
	if err != nil {
		return nil, fmt.Errorf("failed to open SQLite: %w", err)
	}

	// SQLite only supports 1 writer
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	store, err := newStore(db, &dialect{name: "sqlite", schema: sqliteSchema})
	if err != nil {
		db.Close()
		return nil, err
	}

	log.Printf("[Store] SQLite initialized with database: %s", path)
	return store, nil
}
