package model

import (
	"strings"
	"time"
)

// StockStatus is derived from the current quantity.
type StockStatus string

const (
	StatusOutOfStock StockStatus = "Out of Stock"
	StatusLowStock   StockStatus = "Low Stock"
	StatusInStock    StockStatus = "In Stock"
)

// LowStockThreshold is the highest quantity still reported as Low Stock.
const LowStockThreshold = 10

// StatusFor derives the stock status for a quantity.
func StatusFor(quantity int) StockStatus {
	switch {
	case quantity <= 0:
		return StatusOutOfStock
	case quantity <= LowStockThreshold:
		return StatusLowStock
	default:
		return StatusInStock
	}
}

// TransactionType is the kind of quantity change a StockTransaction records.
type TransactionType string

const (
	TransactionIn         TransactionType = "in"
	TransactionOut        TransactionType = "out"
	TransactionAdjustment TransactionType = "adjustment"
)

// Valid reports whether t is a known transaction type.
func (t TransactionType) Valid() bool {
	switch t {
	case TransactionIn, TransactionOut, TransactionAdjustment:
		return true
	}
	return false
}

// StockItem is a ledger-backed inventory item. Quantity is a cache of the
// fold of its transactions and is only changed by applying one.
type StockItem struct {
	ID          string      `json:"id"`
	OwnerID     string      `json:"owner_id"`
	Name        string      `json:"name"`
	SKU         string      `json:"sku"`
	Category    string      `json:"category"`
	Quantity    int         `json:"quantity"`
	Location    string      `json:"location"`
	Status      StockStatus `json:"status"`
	LastUpdated time.Time   `json:"last_updated"`
	CreatedAt   time.Time   `json:"created_at"`
	UpdatedAt   time.Time   `json:"updated_at"`
}

// Validate checks the descriptive fields of a stock item.
func (s *StockItem) Validate() error {
	verr := &ValidationError{}
	if strings.TrimSpace(s.Name) == "" {
		verr.Add("name", "name is required")
	}
	if strings.TrimSpace(s.SKU) == "" {
		verr.Add("sku", "sku is required")
	}
	if s.Quantity < 0 {
		verr.Add("quantity", "quantity cannot be negative")
	}
	return verr.OrNil()
}

// StockTransaction is an append-only ledger row.
type StockTransaction struct {
	ID               string          `json:"id"`
	StockItemID      string          `json:"stock_item_id"`
	Type             TransactionType `json:"type"`
	Quantity         int             `json:"quantity"`
	PreviousQuantity int             `json:"previous_quantity"`
	NewQuantity      int             `json:"new_quantity"`
	Location         string          `json:"location,omitempty"`
	Reference        string          `json:"reference,omitempty"`
	Reason           string          `json:"reason,omitempty"`
	Notes            string          `json:"notes,omitempty"`
	CreatedAt        time.Time       `json:"created_at"`
}

// Delta is the signed change this transaction applied.
func (t *StockTransaction) Delta() int {
	return t.NewQuantity - t.PreviousQuantity
}

// TransactionRequest asks the ledger to apply one quantity change.
// NewQuantity is only read for adjustments.
type TransactionRequest struct {
	ID          string          `json:"id,omitempty"`
	StockItemID string          `json:"stock_item_id"`
	Type        TransactionType `json:"type"`
	Quantity    int             `json:"quantity"`
	NewQuantity *int            `json:"new_quantity,omitempty"`
	Location    string          `json:"location,omitempty"`
	Reference   string          `json:"reference,omitempty"`
	Reason      string          `json:"reason,omitempty"`
	Notes       string          `json:"notes,omitempty"`
}

// Validate checks the request shape; existence and sufficiency are checked
// by the ledger inside its transaction.
func (r *TransactionRequest) Validate() error {
	verr := &ValidationError{}
	if strings.TrimSpace(r.StockItemID) == "" {
		verr.Add("stock_item_id", "stock item id is required")
	}
	if !r.Type.Valid() {
		verr.Add("type", "type must be one of in, out, adjustment")
	}
	switch r.Type {
	case TransactionIn, TransactionOut:
		if r.Quantity <= 0 {
			verr.Add("quantity", "quantity must be greater than zero")
		}
	case TransactionAdjustment:
		if r.NewQuantity == nil {
			verr.Add("new_quantity", "new quantity is required for adjustments")
		} else if *r.NewQuantity < 0 {
			verr.Add("new_quantity", "new quantity cannot be negative")
		}
	}
	return verr.OrNil()
}

// Resolve computes the new quantity for a request against the current one.
// It does not allow the result to go negative.
func (r *TransactionRequest) Resolve(current int) (int, error) {
	switch r.Type {
	case TransactionIn:
		return current + r.Quantity, nil
	case TransactionOut:
		if current-r.Quantity < 0 {
			return 0, &InsufficientStockError{ItemID: r.StockItemID, Current: current, Requested: r.Quantity}
		}
		return current - r.Quantity, nil
	case TransactionAdjustment:
		return *r.NewQuantity, nil
	}
	return 0, ErrInvalidOperation
}

// LedgerCheck is the result of folding an item's transactions.
type LedgerCheck struct {
	StockItemID      string `json:"stock_item_id"`
	CachedQuantity   int    `json:"cached_quantity"`
	FoldedQuantity   int    `json:"folded_quantity"`
	TransactionCount int    `json:"transaction_count"`
	Consistent       bool   `json:"consistent"`
}

// FoldTransactions sums the deltas of txns in order, starting from zero.
func FoldTransactions(txns []StockTransaction) int {
	total := 0
	for i := range txns {
		total += txns[i].Delta()
	}
	return total
}

// TransactionResult is what applying a transaction returns. Replayed is set
// when the transaction id had already been applied and nothing changed.
type TransactionResult struct {
	Transaction *StockTransaction `json:"transaction"`
	Item        *StockItem        `json:"item"`
	Replayed    bool              `json:"replayed,omitempty"`
}
