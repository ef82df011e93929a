package repository

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"time"

	_ "github.com/go-sql-driver/mysql"
)

var mysqlSchema = []string{
	`CREATE TABLE IF NOT EXISTS stock_items (
		id VARCHAR(64) PRIMARY KEY,
		owner_id VARCHAR(64) NOT NULL DEFAULT '',
		name VARCHAR(255) NOT NULL,
		sku VARCHAR(128) NOT NULL,
		category VARCHAR(128) NOT NULL DEFAULT '',
		quantity INT NOT NULL DEFAULT 0,
		location VARCHAR(255) NOT NULL DEFAULT '',
		status VARCHAR(32) NOT NULL,
		last_updated DATETIME(6) NOT NULL,
		created_at DATETIME(6) NOT NULL,
		updated_at DATETIME(6) NOT NULL,
		UNIQUE KEY uq_stock_items_owner_sku (owner_id, sku),
		CHECK (quantity >= 0)
	) ENGINE=InnoDB`,
	`CREATE TABLE IF NOT EXISTS stock_transactions (
		seq BIGINT AUTO_INCREMENT PRIMARY KEY,
		id VARCHAR(64) NOT NULL UNIQUE,
		stock_item_id VARCHAR(64) NOT NULL,
		type VARCHAR(16) NOT NULL,
		quantity INT NOT NULL,
		previous_quantity INT NOT NULL,
		new_quantity INT NOT NULL,
		location VARCHAR(255) NOT NULL DEFAULT '',
		reference VARCHAR(255) NOT NULL DEFAULT '',
		reason VARCHAR(255) NOT NULL DEFAULT '',
		notes VARCHAR(1024) NOT NULL DEFAULT '',
		created_at DATETIME(6) NOT NULL,
		KEY idx_stock_txn_item (stock_item_id, seq),
		CONSTRAINT fk_stock_txn_item FOREIGN KEY (stock_item_id) REFERENCES stock_items(id)
	) ENGINE=InnoDB`,
	`CREATE TABLE IF NOT EXISTS suppliers (
		id VARCHAR(64) PRIMARY KEY,
		name VARCHAR(255) NOT NULL,
		contact_name VARCHAR(255) NOT NULL DEFAULT '',
		email VARCHAR(255) NOT NULL DEFAULT '',
		phone VARCHAR(64) NOT NULL DEFAULT '',
		address VARCHAR(512) NOT NULL DEFAULT '',
		created_at DATETIME(6) NOT NULL,
		updated_at DATETIME(6) NOT NULL
	) ENGINE=InnoDB`,
	`CREATE TABLE IF NOT EXISTS customers (
		id VARCHAR(64) PRIMARY KEY,
		name VARCHAR(255) NOT NULL,
		email VARCHAR(255) NULL,
		phone VARCHAR(64) NOT NULL DEFAULT '',
		created_at DATETIME(6) NOT NULL,
		updated_at DATETIME(6) NOT NULL,
		UNIQUE KEY uq_customers_email (email)
	) ENGINE=InnoDB`,
	`CREATE TABLE IF NOT EXISTS products (
		id VARCHAR(64) PRIMARY KEY,
		name VARCHAR(255) NOT NULL,
		sku VARCHAR(128) NOT NULL DEFAULT '',
		category VARCHAR(128) NOT NULL DEFAULT '',
		price DECIMAL(12,2) NOT NULL DEFAULT 0,
		quantity INT NOT NULL DEFAULT 0,
		supplier_id VARCHAR(64) NULL,
		created_at DATETIME(6) NOT NULL,
		updated_at DATETIME(6) NOT NULL
	) ENGINE=InnoDB`,
	`CREATE TABLE IF NOT EXISTS sales (
		id VARCHAR(64) PRIMARY KEY,
		reference VARCHAR(64) NOT NULL,
		payment_method VARCHAR(16) NOT NULL,
		customer_id VARCHAR(64) NULL,
		total DECIMAL(12,2) NOT NULL,
		created_at DATETIME(6) NOT NULL
	) ENGINE=InnoDB`,
	`CREATE TABLE IF NOT EXISTS sale_items (
		id VARCHAR(64) PRIMARY KEY,
		sale_id VARCHAR(64) NOT NULL,
		line_no INT NOT NULL,
		product_id VARCHAR(64) NOT NULL,
		quantity INT NOT NULL,
		unit_price DECIMAL(12,2) NOT NULL,
		KEY idx_sale_items_sale (sale_id, line_no),
		KEY idx_sale_items_product (product_id),
		CONSTRAINT fk_sale_items_sale FOREIGN KEY (sale_id) REFERENCES sales(id),
		CONSTRAINT fk_sale_items_product FOREIGN KEY (product_id) REFERENCES products(id)
	) ENGINE=InnoDB`,
	`CREATE TABLE IF NOT EXISTS sync_receipts (
		entry_id VARCHAR(64) PRIMARY KEY,
		client_id VARCHAR(64) NOT NULL DEFAULT '',
		entity_type VARCHAR(32) NOT NULL,
		entity_id VARCHAR(64) NOT NULL,
		operation VARCHAR(16) NOT NULL,
		status VARCHAR(32) NOT NULL,
		applied_at DATETIME(6) NOT NULL,
		KEY idx_sync_receipts_applied (applied_at)
	) ENGINE=InnoDB`,
}

// MySQLDSN returns the MySQL data source name. parseTime is required so
// DATETIME columns scan into time.Time.
func MySQLDSN(user, password, host string, port int, name string) string {
	return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?parseTime=true&loc=UTC",
		user, password, host, port, name)
}

// OpenMySQL connects to MySQL with the go-sql-driver.
func OpenMySQL(dsn string) (*Store, error) {
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open MySQL: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(5 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping MySQL: %w", err)
	}

	store, err := newStore(db, &dialect{name: "mysql", forUpdate: " FOR UPDATE", schema: mysqlSchema})
	if err != nil {
		db.Close()
		return nil, err
	}

	log.Printf("[Store] MySQL initialized")
	return store, nil
}
