package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"retailsync/internal/model"
)

// GetSale returns a sale header with its lines.
func (q *Queries) GetSale(ctx context.Context, id string) (*model.Sale, error) {
	var s model.Sale
	var method string
	var customerID sql.NullString
	err := q.queryRow(ctx, `
		SELECT id, reference, payment_method, customer_id, total, created_at
		FROM sales WHERE id = ?`, id).
		Scan(&s.ID, &s.Reference, &method, &customerID, &s.Total, &s.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("sale %s: %w", id, model.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get sale: %w", err)
	}
	s.PaymentMethod = model.PaymentMethod(method)
	s.CustomerID = customerID.String

	rows, err := q.query(ctx, `
		SELECT id, sale_id, product_id, quantity, unit_price
		FROM sale_items WHERE sale_id = ? ORDER BY line_no`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to list sale items: %w", err)
	}
	defer rows.Close()

	s.Items = []model.SaleItem{}
	for rows.Next() {
		var it model.SaleItem
		if err := rows.Scan(&it.ID, &it.SaleID, &it.ProductID, &it.Quantity, &it.UnitPrice); err != nil {
			return nil, fmt.Errorf("failed to scan sale item: %w", err)
		}
		s.Items = append(s.Items, it)
	}
	return &s, rows.Err()
}

// SaleExists reports whether a sale header with id is stored.
func (q *Queries) SaleExists(ctx context.Context, id string) (bool, error) {
	n, err := q.count(ctx, `SELECT COUNT(*) FROM sales WHERE id = ?`, id)
	if err != nil {
		return false, fmt.Errorf("failed to check sale: %w", err)
	}
	return n > 0, nil
}

// InsertSale writes the header row of a sale.
func (q *Queries) InsertSale(ctx context.Context, s *model.Sale) error {
	_, err := q.exec(ctx, `
		INSERT INTO sales (id, reference, payment_method, customer_id, total, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		s.ID, s.Reference, string(s.PaymentMethod), nullString(s.CustomerID), s.Total, dbTime(s.CreatedAt))
	if err != nil {
		return fmt.Errorf("failed to insert sale: %w", err)
	}
	return nil
}

// InsertSaleItem writes one line of a sale.
func (q *Queries) InsertSaleItem(ctx context.Context, lineNo int, it *model.SaleItem) error {
	_, err := q.exec(ctx, `
		INSERT INTO sale_items (id, sale_id, line_no, product_id, quantity, unit_price)
		VALUES (?, ?, ?, ?, ?, ?)`,
		it.ID, it.SaleID, lineNo, it.ProductID, it.Quantity, it.UnitPrice)
	if err != nil {
		return fmt.Errorf("failed to insert sale item: %w", err)
	}
	return nil
}
