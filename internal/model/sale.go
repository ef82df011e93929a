package model

import (
	"fmt"
	"math/rand/v2"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Product is a sellable catalog entry. Its quantity is decremented by
// sales and, under the allow-negative policy, may drop below zero.
type Product struct {
	ID         string          `json:"id"`
	Name       string          `json:"name"`
	SKU        string          `json:"sku,omitempty"`
	Category   string          `json:"category,omitempty"`
	Price      decimal.Decimal `json:"price"`
	Quantity   int             `json:"quantity"`
	SupplierID string          `json:"supplier_id,omitempty"`
	CreatedAt  time.Time       `json:"created_at"`
	UpdatedAt  time.Time       `json:"updated_at"`

	// Adjustment is a signed restock or write-off carried by a write.
	// Quantity is only taken from a create; later writes change it by
	// Adjustment alone, so sales recorded elsewhere are never overwritten.
	Adjustment int `json:"adjustment,omitempty"`
}

// Validate checks the product fields.
func (p *Product) Validate() error {
	verr := &ValidationError{}
	if strings.TrimSpace(p.Name) == "" {
		verr.Add("name", "name is required")
	}
	if p.Price.IsNegative() {
		verr.Add("price", "price cannot be negative")
	}
	return verr.OrNil()
}

// PaymentMethod is how a sale was paid.
type PaymentMethod string

const (
	PaymentCash   PaymentMethod = "cash"
	PaymentCard   PaymentMethod = "card"
	PaymentMobile PaymentMethod = "mobile"
	PaymentOther  PaymentMethod = "other"
)

// Valid reports whether m is a known payment method.
func (m PaymentMethod) Valid() bool {
	switch m {
	case PaymentCash, PaymentCard, PaymentMobile, PaymentOther:
		return true
	}
	return false
}

// Sale is a POS transaction header.
type Sale struct {
	ID            string          `json:"id"`
	Reference     string          `json:"reference"`
	PaymentMethod PaymentMethod   `json:"payment_method"`
	CustomerID    string          `json:"customer_id,omitempty"`
	Total         decimal.Decimal `json:"total"`
	Items         []SaleItem      `json:"items"`
	CreatedAt     time.Time       `json:"created_at"`
}

// SaleItem is one line of a sale. UnitPrice is copied from the request so
// later price edits never change historical totals.
type SaleItem struct {
	ID        string          `json:"id"`
	SaleID    string          `json:"sale_id"`
	ProductID string          `json:"product_id"`
	Quantity  int             `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unit_price"`
}

// LineTotal is quantity times unit price.
func (i *SaleItem) LineTotal() decimal.Decimal {
	return i.UnitPrice.Mul(decimal.NewFromInt(int64(i.Quantity)))
}

// SaleLine is a requested line item.
type SaleLine struct {
	ProductID string          `json:"product_id"`
	Quantity  int             `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unit_price"`
}

// SaleRequest is the input of RecordSale. ID and Reference are optional;
// an offline client sets both so a retried sale is recognised.
type SaleRequest struct {
	ID            string        `json:"id,omitempty"`
	Reference     string        `json:"reference,omitempty"`
	Items         []SaleLine    `json:"items"`
	PaymentMethod PaymentMethod `json:"payment_method"`
	CustomerID    string        `json:"customer_id,omitempty"`
	CreatedAt     time.Time     `json:"created_at,omitempty"`
}

// Validate checks the sale input.
func (r *SaleRequest) Validate() error {
	verr := &ValidationError{}
	if len(r.Items) == 0 {
		verr.Add("items", "at least one line item is required")
	}
	for _, line := range r.Items {
		if strings.TrimSpace(line.ProductID) == "" {
			verr.Add("items.product_id", "product id is required")
		}
		if line.Quantity <= 0 {
			verr.Add("items.quantity", "quantity must be greater than zero")
		}
		if line.UnitPrice.IsNegative() {
			verr.Add("items.unit_price", "unit price cannot be negative")
		}
	}
	if !r.PaymentMethod.Valid() {
		verr.Add("payment_method", "payment method must be one of cash, card, mobile, other")
	}
	return verr.OrNil()
}

// Total sums the requested lines.
func (r *SaleRequest) Total() decimal.Decimal {
	total := decimal.Zero
	for _, line := range r.Items {
		total = total.Add(line.UnitPrice.Mul(decimal.NewFromInt(int64(line.Quantity))))
	}
	return total
}

// SaleReference returns a receipt reference such as
// TXN-20240131-142501-0427. It only needs to be distinct enough for
// operators to tell sales apart.
func SaleReference(t time.Time) string {
	return fmt.Sprintf("TXN-%s-%04d", t.Format("20060102-150405"), rand.IntN(10000))
}

// SaleReceipt is what the processor returns for receipt display.
type SaleReceipt struct {
	SaleID    string          `json:"sale_id"`
	Reference string          `json:"reference"`
	Total     decimal.Decimal `json:"total"`
}

// StockPolicy decides whether a sale may drive product quantity negative.
type StockPolicy string

const (
	StockPolicyAllowNegative StockPolicy = "allow_negative"
	StockPolicyEnforce       StockPolicy = "enforce"
)
