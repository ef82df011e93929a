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

// errContention means the compare-and-set on a stock row lost to another
// writer. The whole unit of work is retried.
var errContention = errors.New("concurrent stock update")

const maxContentionRetries = 3

// withRetry reruns fn while it fails with errContention.
func withRetry(ctx context.Context, fn func() error) error {
	var err error
	for attempt := 0; attempt < maxContentionRetries; attempt++ {
		if err = fn(); !errors.Is(err, errContention) {
			return err
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
	}
	return fmt.Errorf("gave up after %d attempts: %w", maxContentionRetries, err)
}

// LedgerService owns stock items and their append-only transactions.
// Quantity is only ever changed by applying a transaction.
type LedgerService struct {
	store *repository.Store
	stats *StatsService
	now   func() time.Time
}

// NewLedgerService creates a new ledger service.
func NewLedgerService(store *repository.Store, stats *StatsService) *LedgerService {
	return &LedgerService{
		store: store,
		stats: stats,
		now:   func() time.Time { return time.Now().UTC() },
	}
}

// ApplyTransaction applies one quantity change to a stock item. The ledger
// row and the cached quantity are written in the same database transaction.
// A request whose id was already applied returns the stored row with
// Replayed set.
func (s *LedgerService) ApplyTransaction(ctx context.Context, req *model.TransactionRequest) (*model.TransactionResult, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	if req.ID == "" {
		req.ID = uid.New()
	}

	var result *model.TransactionResult
	err := withRetry(ctx, func() error {
		return s.store.WithTx(ctx, func(q *repository.Queries) error {
			var err error
			result, err = s.applyTx(ctx, q, req)
			return err
		})
	})
	if err != nil {
		return nil, err
	}

	if !result.Replayed {
		log.Printf("[StockLedger] %s %s x%d: %d -> %d",
			req.StockItemID, req.Type, result.Transaction.Quantity,
			result.Transaction.PreviousQuantity, result.Transaction.NewQuantity)
		s.stats.Invalidate(ctx)
	}
	return result, nil
}

func (s *LedgerService) applyTx(ctx context.Context, q *repository.Queries, req *model.TransactionRequest) (*model.TransactionResult, error) {
	existing, err := q.GetStockTransaction(ctx, req.ID)
	if err == nil {
		if existing.StockItemID != req.StockItemID {
			return nil, fmt.Errorf("transaction %s belongs to item %s: %w", req.ID, existing.StockItemID, model.ErrConflict)
		}
		item, err := q.GetStockItem(ctx, existing.StockItemID)
		if err != nil {
			return nil, err
		}
		return &model.TransactionResult{Transaction: existing, Item: item, Replayed: true}, nil
	}
	if !errors.Is(err, model.ErrNotFound) {
		return nil, err
	}

	item, err := q.LockStockItem(ctx, req.StockItemID)
	if err != nil {
		return nil, err
	}

	newQty, err := req.Resolve(item.Quantity)
	if err != nil {
		return nil, err
	}

	now := s.now()
	qty := req.Quantity
	if req.Type == model.TransactionAdjustment {
		qty = newQty - item.Quantity
		if qty < 0 {
			qty = -qty
		}
	}
	txn := &model.StockTransaction{
		ID:               req.ID,
		StockItemID:      item.ID,
		Type:             req.Type,
		Quantity:         qty,
		PreviousQuantity: item.Quantity,
		NewQuantity:      newQty,
		Location:         req.Location,
		Reference:        req.Reference,
		Reason:           req.Reason,
		Notes:            req.Notes,
		CreatedAt:        now,
	}
	if txn.Location == "" {
		txn.Location = item.Location
	}

	if err := q.InsertStockTransaction(ctx, txn); err != nil {
		return nil, err
	}
	ok, err := q.SetStockQuantity(ctx, item.ID, item.Quantity, newQty, now)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, errContention
	}

	item.Quantity = newQty
	item.Status = model.StatusFor(newQty)
	item.LastUpdated = now
	return &model.TransactionResult{Transaction: txn, Item: item}, nil
}

// CreateStockItem stores a new item. A non-zero initial quantity is
// recorded as an "in" transaction so the ledger folds to it from zero.
func (s *LedgerService) CreateStockItem(ctx context.Context, item *model.StockItem) (*model.StockItem, error) {
	if err := item.Validate(); err != nil {
		return nil, err
	}
	if item.ID == "" {
		item.ID = uid.New()
	}

	err := s.store.WithTx(ctx, func(q *repository.Queries) error {
		if _, err := q.GetStockItem(ctx, item.ID); err == nil {
			return fmt.Errorf("stock item %s already exists: %w", item.ID, model.ErrConflict)
		} else if !errors.Is(err, model.ErrNotFound) {
			return err
		}
		return s.createTx(ctx, q, item)
	})
	if err != nil {
		return nil, err
	}

	log.Printf("[StockLedger] Created stock item %s (%s) qty=%d", item.ID, item.SKU, item.Quantity)
	s.stats.Invalidate(ctx)
	return item, nil
}

func (s *LedgerService) createTx(ctx context.Context, q *repository.Queries, item *model.StockItem) error {
	if otherID, err := q.StockItemIDBySKU(ctx, item.OwnerID, item.SKU); err != nil {
		return err
	} else if otherID != "" {
		return fmt.Errorf("sku %q is already used by %s: %w", item.SKU, otherID, model.ErrConflict)
	}

	now := s.now()
	initial := item.Quantity
	if item.CreatedAt.IsZero() {
		item.CreatedAt = now
	}
	if item.UpdatedAt.IsZero() {
		item.UpdatedAt = now
	}
	item.Quantity = 0
	item.Status = model.StatusFor(0)
	item.LastUpdated = now
	if err := q.InsertStockItem(ctx, item); err != nil {
		return err
	}
	if initial == 0 {
		return nil
	}

	result, err := s.applyTx(ctx, q, &model.TransactionRequest{
		ID:          "init-" + item.ID,
		StockItemID: item.ID,
		Type:        model.TransactionIn,
		Quantity:    initial,
		Reason:      "initial stock",
	})
	if err != nil {
		return err
	}
	*item = *result.Item
	return nil
}

// UpdateStockItem writes descriptive fields with last-write-wins on
// UpdatedAt. It never changes quantity.
func (s *LedgerService) UpdateStockItem(ctx context.Context, item *model.StockItem) (*model.StockItem, model.ApplyStatus, error) {
	if err := item.Validate(); err != nil {
		return nil, "", err
	}
	var status model.ApplyStatus
	var stored *model.StockItem
	err := s.store.WithTx(ctx, func(q *repository.Queries) error {
		var err error
		status, err = s.updateTx(ctx, q, item, model.OpUpdate)
		if err != nil {
			return err
		}
		stored, err = q.GetStockItem(ctx, item.ID)
		return err
	})
	if err != nil {
		return nil, "", err
	}
	if status == model.ApplyApplied {
		s.stats.Invalidate(ctx)
	}
	return stored, status, nil
}

func (s *LedgerService) updateTx(ctx context.Context, q *repository.Queries, item *model.StockItem, op model.Operation) (model.ApplyStatus, error) {
	current, err := q.LockStockItem(ctx, item.ID)
	if err != nil {
		return "", err
	}
	if item.UpdatedAt.IsZero() {
		item.UpdatedAt = s.now()
	}
	if item.UpdatedAt.Before(current.UpdatedAt) {
		return skipStatus(op), nil
	}
	if item.SKU != current.SKU || item.OwnerID != current.OwnerID {
		otherID, err := q.StockItemIDBySKU(ctx, item.OwnerID, item.SKU)
		if err != nil {
			return "", err
		}
		if otherID != "" && otherID != item.ID {
			return "", fmt.Errorf("sku %q is already used by %s: %w", item.SKU, otherID, model.ErrConflict)
		}
	}
	if err := q.UpdateStockItemDetails(ctx, item); err != nil {
		return "", err
	}
	return model.ApplyApplied, nil
}

// DeleteStockItem removes an item that has no ledger history. Items with
// transactions are refused with ErrConflict.
func (s *LedgerService) DeleteStockItem(ctx context.Context, id string) error {
	err := s.store.WithTx(ctx, func(q *repository.Queries) error {
		return s.deleteTx(ctx, q, id)
	})
	if err != nil {
		return err
	}
	s.stats.Invalidate(ctx)
	return nil
}

func (s *LedgerService) deleteTx(ctx context.Context, q *repository.Queries, id string) error {
	if _, err := q.LockStockItem(ctx, id); err != nil {
		return err
	}
	n, err := q.CountStockTransactions(ctx, id)
	if err != nil {
		return err
	}
	if n > 0 {
		return fmt.Errorf("stock item %s has %d transactions: %w", id, n, model.ErrConflict)
	}
	return q.DeleteStockItem(ctx, id)
}

// GetStockItem returns one item.
func (s *LedgerService) GetStockItem(ctx context.Context, id string) (*model.StockItem, error) {
	return s.store.GetStockItem(ctx, id)
}

// ListStockItems returns items, optionally for one owner.
func (s *LedgerService) ListStockItems(ctx context.Context, ownerID string) ([]model.StockItem, error) {
	return s.store.ListStockItems(ctx, ownerID)
}

// ListTransactions returns an item's ledger in creation order.
func (s *LedgerService) ListTransactions(ctx context.Context, itemID string) ([]model.StockTransaction, error) {
	if _, err := s.store.GetStockItem(ctx, itemID); err != nil {
		return nil, err
	}
	return s.store.ListStockTransactions(ctx, itemID)
}

// VerifyLedger folds an item's transactions and compares the result with
// the cached quantity.
func (s *LedgerService) VerifyLedger(ctx context.Context, itemID string) (*model.LedgerCheck, error) {
	var check *model.LedgerCheck
	err := s.store.WithTx(ctx, func(q *repository.Queries) error {
		var err error
		check, err = verifyTx(ctx, q, itemID)
		return err
	})
	return check, err
}

func verifyTx(ctx context.Context, q *repository.Queries, itemID string) (*model.LedgerCheck, error) {
	item, err := q.LockStockItem(ctx, itemID)
	if err != nil {
		return nil, err
	}
	txns, err := q.ListStockTransactions(ctx, itemID)
	if err != nil {
		return nil, err
	}
	folded := model.FoldTransactions(txns)
	return &model.LedgerCheck{
		StockItemID:      itemID,
		CachedQuantity:   item.Quantity,
		FoldedQuantity:   folded,
		TransactionCount: len(txns),
		Consistent:       folded == item.Quantity,
	}, nil
}

// Rebuild regenerates the cached quantity from the ledger fold.
func (s *LedgerService) Rebuild(ctx context.Context, itemID string) (*model.LedgerCheck, error) {
	var check *model.LedgerCheck
	err := withRetry(ctx, func() error {
		return s.store.WithTx(ctx, func(q *repository.Queries) error {
			var err error
			check, err = verifyTx(ctx, q, itemID)
			if err != nil || check.Consistent {
				return err
			}
			if check.FoldedQuantity < 0 {
				return fmt.Errorf("ledger for %s folds to %d: %w", itemID, check.FoldedQuantity, model.ErrInvalidOperation)
			}
			ok, err := q.SetStockQuantity(ctx, itemID, check.CachedQuantity, check.FoldedQuantity, s.now())
			if err != nil {
				return err
			}
			if !ok {
				return errContention
			}
			log.Printf("[StockLedger] Rebuilt %s: %d -> %d", itemID, check.CachedQuantity, check.FoldedQuantity)
			check.CachedQuantity = check.FoldedQuantity
			check.Consistent = true
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	s.stats.Invalidate(ctx)
	return check, nil
}

// skipStatus is the result of an older write losing to a newer one. A
// create that finds a newer row was already superseded; an update is stale.
func skipStatus(op model.Operation) model.ApplyStatus {
	if op == model.OpUpdate {
		return model.ApplyStale
	}
	return model.ApplyAlreadyApplied
}
