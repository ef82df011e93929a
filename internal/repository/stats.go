package repository

import (
	"context"
	"fmt"
	"time"

	"retailsync/internal/model"

	"github.com/shopspring/decimal"
)

// Summary computes the dashboard aggregates.
func (s *Store) Summary(ctx context.Context) (*model.Summary, error) {
	sum := &model.Summary{ComputedAt: time.Now().UTC()}

	counts := []struct {
		dst   *int64
		query string
	}{
		{&sum.StockItems, `SELECT COUNT(*) FROM stock_items`},
		{&sum.OutOfStockItems, `SELECT COUNT(*) FROM stock_items WHERE quantity <= 0`},
		{&sum.LowStockItems, fmt.Sprintf(`SELECT COUNT(*) FROM stock_items WHERE quantity > 0 AND quantity <= %d`, model.LowStockThreshold)},
		{&sum.TotalStockUnits, `SELECT COALESCE(SUM(quantity), 0) FROM stock_items`},
		{&sum.StockTransactions, `SELECT COUNT(*) FROM stock_transactions`},
		{&sum.Products, `SELECT COUNT(*) FROM products`},
		{&sum.Suppliers, `SELECT COUNT(*) FROM suppliers`},
		{&sum.Customers, `SELECT COUNT(*) FROM customers`},
		{&sum.Sales, `SELECT COUNT(*) FROM sales`},
	}
	for _, c := range counts {
		n, err := s.count(ctx, c.query)
		if err != nil {
			return nil, fmt.Errorf("failed to compute summary: %w", err)
		}
		*c.dst = n
	}

	// Summed in Go: SQLite stores decimals as text.
	rows, err := s.query(ctx, `SELECT total FROM sales`)
	if err != nil {
		return nil, fmt.Errorf("failed to sum sales: %w", err)
	}
	defer rows.Close()

	revenue := decimal.Zero
	for rows.Next() {
		var total decimal.Decimal
		if err := rows.Scan(&total); err != nil {
			return nil, fmt.Errorf("failed to scan sale total: %w", err)
		}
		revenue = revenue.Add(total)
	}
	sum.SalesRevenue = revenue
	return sum, rows.Err()
}
