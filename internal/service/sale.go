package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"retailsync/internal/model"
	"retailsync/internal/repository"
	"retailsync/pkg/uid"
)

// SaleService records POS sales.
type SaleService struct {
	store  *repository.Store
	stats  *StatsService
	policy model.StockPolicy
	now    func() time.Time
}

// NewSaleService creates a sale service. An empty policy means
// allow_negative.
func NewSaleService(store *repository.Store, stats *StatsService, policy model.StockPolicy) *SaleService {
	if policy == "" {
		policy = model.StockPolicyAllowNegative
	}
	return &SaleService{
		store:  store,
		stats:  stats,
		policy: policy,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Policy returns the product stock policy in force.
func (s *SaleService) Policy() model.StockPolicy {
	return s.policy
}

// RecordSale writes the sale header, one line per item and the product
// decrements in a single database transaction. Nothing is stored when any
// line fails. A sale id that was already recorded returns the stored receipt.
func (s *SaleService) RecordSale(ctx context.Context, req *model.SaleRequest) (*model.SaleReceipt, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	var receipt *model.SaleReceipt
	var replayed bool
	err := s.store.WithTx(ctx, func(q *repository.Queries) error {
		var err error
		receipt, replayed, err = s.recordTx(ctx, q, req)
		return err
	})
	if err != nil {
		return nil, err
	}

	if !replayed {
		log.Printf("[SaleService] Recorded sale %s (%s) lines=%d total=%s",
			receipt.SaleID, receipt.Reference, len(req.Items), receipt.Total.StringFixed(2))
		s.stats.Invalidate(ctx)
	}
	return receipt, nil
}

func (s *SaleService) recordTx(ctx context.Context, q *repository.Queries, req *model.SaleRequest) (*model.SaleReceipt, bool, error) {
	if req.ID != "" {
		existing, err := q.GetSale(ctx, req.ID)
		if err == nil {
			return &model.SaleReceipt{SaleID: existing.ID, Reference: existing.Reference, Total: existing.Total}, true, nil
		}
		if !errors.Is(err, model.ErrNotFound) {
			return nil, false, err
		}
	} else {
		req.ID = uid.New()
	}

	now := s.now()
	createdAt := req.CreatedAt
	if createdAt.IsZero() {
		createdAt = now
	}
	reference := req.Reference
	if reference == "" {
		reference = model.SaleReference(createdAt)
	}

	if req.CustomerID != "" {
		if _, err := q.GetCustomer(ctx, req.CustomerID); err != nil {
			return nil, false, err
		}
	}

	sale := &model.Sale{
		ID:            req.ID,
		Reference:     reference,
		PaymentMethod: req.PaymentMethod,
		CustomerID:    req.CustomerID,
		Total:         req.Total(),
		CreatedAt:     createdAt,
	}
	if err := q.InsertSale(ctx, sale); err != nil {
		return nil, false, err
	}

	enforce := s.policy == model.StockPolicyEnforce
	for i, line := range req.Items {
		product, err := q.LockProduct(ctx, line.ProductID)
		if err != nil {
			return nil, false, fmt.Errorf("line %d: %w", i+1, err)
		}
		insufficient := &model.InsufficientStockError{ItemID: product.ID, Current: product.Quantity, Requested: line.Quantity}
		if enforce && product.Quantity < line.Quantity {
			return nil, false, fmt.Errorf("line %d: %w", i+1, insufficient)
		}
		ok, err := q.DecrementProduct(ctx, product.ID, line.Quantity, enforce)
		if err != nil {
			return nil, false, fmt.Errorf("line %d: %w", i+1, err)
		}
		if !ok {
			return nil, false, fmt.Errorf("line %d: %w", i+1, insufficient)
		}

		item := &model.SaleItem{
			ID:        uid.New(),
			SaleID:    sale.ID,
			ProductID: line.ProductID,
			Quantity:  line.Quantity,
			UnitPrice: line.UnitPrice,
		}
		if err := q.InsertSaleItem(ctx, i+1, item); err != nil {
			return nil, false, fmt.Errorf("line %d: %w", i+1, err)
		}
	}

	return &model.SaleReceipt{SaleID: sale.ID, Reference: sale.Reference, Total: sale.Total}, false, nil
}

// GetSale returns a stored sale with its lines.
func (s *SaleService) GetSale(ctx context.Context, id string) (*model.Sale, error) {
	return s.store.GetSale(ctx, id)
}
