package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"retailsync/internal/model"
)

const stockItemColumns = `id, owner_id, name, sku, category, quantity, location, status, last_updated, created_at, updated_at`

const stockTxnColumns = `id, stock_item_id, type, quantity, previous_quantity, new_quantity, location, reference, reason, notes, created_at`

func scanStockItem(row scanner) (*model.StockItem, error) {
	var item model.StockItem
	var status string
	if err := row.Scan(&item.ID, &item.OwnerID, &item.Name, &item.SKU, &item.Category,
		&item.Quantity, &item.Location, &status, &item.LastUpdated, &item.CreatedAt, &item.UpdatedAt); err != nil {
		return nil, err
	}
	item.Status = model.StockStatus(status)
	return &item, nil
}

func scanStockTxn(row scanner) (*model.StockTransaction, error) {
	var t model.StockTransaction
	var typ string
	if err := row.Scan(&t.ID, &t.StockItemID, &typ, &t.Quantity, &t.PreviousQuantity, &t.NewQuantity,
		&t.Location, &t.Reference, &t.Reason, &t.Notes, &t.CreatedAt); err != nil {
		return nil, err
	}
	t.Type = model.TransactionType(typ)
	return &t, nil
}

// GetStockItem returns one stock item.
func (q *Queries) GetStockItem(ctx context.Context, id string) (*model.StockItem, error) {
	item, err := scanStockItem(q.queryRow(ctx, `SELECT `+stockItemColumns+` FROM stock_items WHERE id = ?`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("stock item %s: %w", id, model.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get stock item: %w", err)
	}
	return item, nil
}

// LockStockItem reads a stock item and locks its row for the rest of the
// transaction. On SQLite the immediate transaction already holds the write
// lock, so this is a plain read there.
func (q *Queries) LockStockItem(ctx context.Context, id string) (*model.StockItem, error) {
	item, err := scanStockItem(q.queryRow(ctx, `SELECT `+stockItemColumns+` FROM stock_items WHERE id = ?`+q.d.forUpdate, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("stock item %s: %w", id, model.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to lock stock item: %w", err)
	}
	return item, nil
}

// StockItemIDBySKU returns the id of the item holding sku for owner, or ""
// when there is none.
func (q *Queries) StockItemIDBySKU(ctx context.Context, ownerID, sku string) (string, error) {
	var id string
	err := q.queryRow(ctx, `SELECT id FROM stock_items WHERE owner_id = ? AND sku = ?`, ownerID, sku).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to look up sku: %w", err)
	}
	return id, nil
}

// ListStockItems returns the stock items of an owner, or all items when
// ownerID is empty.
func (q *Queries) ListStockItems(ctx context.Context, ownerID string) ([]model.StockItem, error) {
	query := `SELECT ` + stockItemColumns + ` FROM stock_items`
	var args []any
	if ownerID != "" {
		query += ` WHERE owner_id = ?`
		args = append(args, ownerID)
	}
	query += ` ORDER BY name, id`

	rows, err := q.query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list stock items: %w", err)
	}
	defer rows.Close()

	items := []model.StockItem{}
	for rows.Next() {
		item, err := scanStockItem(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan stock item: %w", err)
		}
		items = append(items, *item)
	}
	return items, rows.Err()
}

// InsertStockItem stores a new stock item as given.
func (q *Queries) InsertStockItem(ctx context.Context, item *model.StockItem) error {
	_, err := q.exec(ctx, `
		INSERT INTO stock_items (`+stockItemColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		item.ID, item.OwnerID, item.Name, item.SKU, item.Category, item.Quantity, item.Location,
		string(item.Status), dbTime(item.LastUpdated), dbTime(item.CreatedAt), dbTime(item.UpdatedAt))
	if err != nil {
		return fmt.Errorf("failed to insert stock item: %w", err)
	}
	return nil
}

// UpdateStockItemDetails writes the descriptive fields. Quantity and status
// are only changed through SetStockQuantity.
func (q *Queries) UpdateStockItemDetails(ctx context.Context, item *model.StockItem) error {
	_, err := q.exec(ctx, `
		UPDATE stock_items
		SET owner_id = ?, name = ?, sku = ?, category = ?, location = ?, updated_at = ?
		WHERE id = ?`,
		item.OwnerID, item.Name, item.SKU, item.Category, item.Location, dbTime(item.UpdatedAt), item.ID)
	if err != nil {
		return fmt.Errorf("failed to update stock item: %w", err)
	}
	return nil
}

// SetStockQuantity writes the cached quantity with a compare-and-set on the
// previously read value. It reports false when another writer got there
// first.
func (q *Queries) SetStockQuantity(ctx context.Context, id string, expected, quantity int, at time.Time) (bool, error) {
	res, err := q.exec(ctx, `
		UPDATE stock_items
		SET quantity = ?, status = ?, last_updated = ?
		WHERE id = ? AND quantity = ?`,
		quantity, string(model.StatusFor(quantity)), dbTime(at), id, expected)
	if err != nil {
		return false, fmt.Errorf("failed to update stock quantity: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// DeleteStockItem removes a stock item row.
func (q *Queries) DeleteStockItem(ctx context.Context, id string) error {
	res, err := q.exec(ctx, `DELETE FROM stock_items WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete stock item: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("stock item %s: %w", id, model.ErrNotFound)
	}
	return nil
}

// InsertStockTransaction appends a ledger row.
func (q *Queries) InsertStockTransaction(ctx context.Context, t *model.StockTransaction) error {
	_, err := q.exec(ctx, `
		INSERT INTO stock_transactions (`+stockTxnColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.StockItemID, string(t.Type), t.Quantity, t.PreviousQuantity, t.NewQuantity,
		t.Location, t.Reference, t.Reason, t.Notes, dbTime(t.CreatedAt))
	if err != nil {
		return fmt.Errorf("failed to insert stock transaction: %w", err)
	}
	return nil
}

// GetStockTransaction returns one ledger row.
func (q *Queries) GetStockTransaction(ctx context.Context, id string) (*model.StockTransaction, error) {
	t, err := scanStockTxn(q.queryRow(ctx, `SELECT `+stockTxnColumns+` FROM stock_transactions WHERE id = ?`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("stock transaction %s: %w", id, model.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get stock transaction: %w", err)
	}
	return t, nil
}

// ListStockTransactions returns an item's ledger in creation order.
func (q *Queries) ListStockTransactions(ctx context.Context, itemID string) ([]model.StockTransaction, error) {
	rows, err := q.query(ctx, `SELECT `+stockTxnColumns+` FROM stock_transactions WHERE stock_item_id = ? ORDER BY seq`, itemID)
	if err != nil {
		return nil, fmt.Errorf("failed to list stock transactions: %w", err)
	}
	defer rows.Close()

	txns := []model.StockTransaction{}
	for rows.Next() {
		t, err := scanStockTxn(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan stock transaction: %w", err)
		}
		txns = append(txns, *t)
	}
	return txns, rows.Err()
}

// CountStockTransactions counts an item's ledger rows.
func (q *Queries) CountStockTransactions(ctx context.Context, itemID string) (int64, error) {
	n, err := q.count(ctx, `SELECT COUNT(*) FROM stock_transactions WHERE stock_item_id = ?`, itemID)
	if err != nil {
		return 0, fmt.Errorf("failed to count stock transactions: %w", err)
	}
	return n, nil
}
