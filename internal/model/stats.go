package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Summary holds the dashboard aggregates computed by the store.
type Summary struct {
	StockItems        int64           `json:"stock_items"`
	LowStockItems     int64           `json:"low_stock_items"`
	OutOfStockItems   int64           `json:"out_of_stock_items"`
	TotalStockUnits   int64           `json:"total_stock_units"`
	StockTransactions int64           `json:"stock_transactions"`
	Products          int64           `json:"products"`
	Suppliers         int64           `json:"suppliers"`
	Customers         int64           `json:"customers"`
	Sales             int64           `json:"sales"`
	SalesRevenue      decimal.Decimal `json:"sales_revenue"`
	ComputedAt        time.Time       `json:"computed_at"`
}
