// Package register performs the point-of-sale agent's local writes. Every
// write updates the local records and queues the matching envelope in the
// same local transaction, so the UI sees the change at once and the sync
// queue never misses it.
package register

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"retailsync/internal/localstore"
	"retailsync/internal/model"
	"retailsync/pkg/uid"
)

// Register writes against the local store.
type Register struct {
	store *localstore.Store
	now   func() time.Time
}

// New creates a register over store.
func New(store *localstore.Store) *Register {
	return &Register{
		store: store,
		now:   func() time.Time { return time.Now().UTC() },
	}
}

// RecordSale stores the sale locally, decrements the local product
// records and queues one create-sale entry. The returned receipt carries
// the reference to print; the server keeps it when the sale syncs.
func (r *Register) RecordSale(ctx context.Context, req *model.SaleRequest) (*model.SaleReceipt, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	if req.ID == "" {
		req.ID = uid.New()
	}
	if req.CreatedAt.IsZero() {
		req.CreatedAt = r.now()
	}
	if req.Reference == "" {
		req.Reference = model.SaleReference(req.CreatedAt)
	}

	sale := &model.Sale{
		ID:            req.ID,
		Reference:     req.Reference,
		PaymentMethod: req.PaymentMethod,
		CustomerID:    req.CustomerID,
		Total:         req.Total(),
		CreatedAt:     req.CreatedAt,
	}
	for _, line := range req.Items {
		sale.Items = append(sale.Items, model.SaleItem{
			ID:        uid.New(),
			SaleID:    req.ID,
			ProductID: line.ProductID,
			Quantity:  line.Quantity,
			UnitPrice: line.UnitPrice,
		})
	}

	err := r.store.WithTx(ctx, func(q *localstore.Queries) error {
		for i, line := range req.Items {
			if err := decrementProduct(ctx, q, line.ProductID, line.Quantity); err != nil {
				return fmt.Errorf("line %d: %w", i+1, err)
			}
		}
		if err := q.PutJSON(ctx, model.EntitySale, sale.ID, sale, sale.CreatedAt); err != nil {
			return err
		}
		entry, err := localstore.NewEntry(model.OpCreate, model.EntitySale, req.ID, req)
		if err != nil {
			return err
		}
		return q.Enqueue(ctx, entry)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to record sale: %w", err)
	}

	log.Printf("[Register] Sale %s recorded locally (%d lines, total %s)", sale.Reference, len(sale.Items), sale.Total)
	return &model.SaleReceipt{SaleID: sale.ID, Reference: sale.Reference, Total: sale.Total}, nil
}

// decrementProduct lowers the local quantity. The product's sync state is
// kept: the server applies the same decrement when the sale arrives, so no
// product entry is queued.
func decrementProduct(ctx context.Context, q *localstore.Queries, productID string, qty int) error {
	rec, err := q.GetRecord(ctx, model.EntityProduct, productID)
	if err != nil {
		return err
	}
	var p model.Product
	if err := rec.Decode(&p); err != nil {
		return err
	}
	p.Quantity -= qty

	updated := *rec
	if err := updated.Encode(&p); err != nil {
		return err
	}
	return q.PutRecord(ctx, &updated)
}

// PutProduct creates or updates a local product and queues it. On an
// existing product Quantity is ignored and Adjustment moves it.
func (r *Register) PutProduct(ctx context.Context, p *model.Product) (model.Operation, error) {
	if p.ID == "" {
		p.ID = uid.New()
	}
	if err := p.Validate(); err != nil {
		return "", err
	}
	return r.put(ctx, model.EntityProduct, p.ID, p, &p.CreatedAt, &p.UpdatedAt)
}

// PutSupplier creates or updates a local supplier and queues it.
func (r *Register) PutSupplier(ctx context.Context, s *model.Supplier) (model.Operation, error) {
	if s.ID == "" {
		s.ID = uid.New()
	}
	if err := s.Validate(); err != nil {
		return "", err
	}
	return r.put(ctx, model.EntitySupplier, s.ID, s, &s.CreatedAt, &s.UpdatedAt)
}

// PutCustomer creates or updates a local customer and queues it.
func (r *Register) PutCustomer(ctx context.Context, c *model.Customer) (model.Operation, error) {
	if c.ID == "" {
		c.ID = uid.New()
	}
	if err := c.Validate(); err != nil {
		return "", err
	}
	return r.put(ctx, model.EntityCustomer, c.ID, c, &c.CreatedAt, &c.UpdatedAt)
}

// PutStockItem creates or updates a local stock item and queues it. The
// quantity of an existing item is left alone; it only moves through
// transactions.
func (r *Register) PutStockItem(ctx context.Context, item *model.StockItem) (model.Operation, error) {
	if item.ID == "" {
		item.ID = uid.New()
	}
	if err := item.Validate(); err != nil {
		return "", err
	}
	item.Status = model.StatusFor(item.Quantity)
	return r.put(ctx, model.EntityStockItem, item.ID, item, &item.CreatedAt, &item.UpdatedAt)
}

func (r *Register) put(ctx context.Context, entityType model.EntityType, id string, v interface{}, createdAt, updatedAt *time.Time) (model.Operation, error) {
	op := model.OpUpdate
	err := r.store.WithTx(ctx, func(q *localstore.Queries) error {
		existing, err := q.GetRecord(ctx, entityType, id)
		switch {
		case errors.Is(err, model.ErrNotFound):
			op = model.OpCreate
		case err != nil:
			return err
		}

		now := r.now()
		if createdAt.IsZero() {
			*createdAt = now
		}
		*updatedAt = now

		if item, ok := v.(*model.StockItem); ok && existing != nil {
			var stored model.StockItem
			if err := existing.Decode(&stored); err != nil {
				return err
			}
			item.Quantity = stored.Quantity
			item.Status = stored.Status
		}

		record := v
		if p, ok := v.(*model.Product); ok {
			if existing != nil {
				var stored model.Product
				if err := existing.Decode(&stored); err != nil {
					return err
				}
				p.Quantity = stored.Quantity + p.Adjustment
			} else {
				p.Quantity += p.Adjustment
				p.Adjustment = 0
			}
			local := *p
			local.Adjustment = 0
			record = &local
		}

		if err := q.PutJSON(ctx, entityType, id, record, now); err != nil {
			return err
		}
		entry, err := localstore.NewEntry(op, entityType, id, v)
		if err != nil {
			return err
		}
		return q.Enqueue(ctx, entry)
	})
	if err != nil {
		return "", fmt.Errorf("failed to put %s %s: %w", entityType, id, err)
	}
	log.Printf("[Register] Queued %s %s/%s", op, entityType, id)
	return op, nil
}

// Delete removes a local entity and queues the delete.
func (r *Register) Delete(ctx context.Context, entityType model.EntityType, id string) error {
	switch entityType {
	case model.EntityProduct, model.EntitySupplier, model.EntityCustomer, model.EntityStockItem:
	default:
		return fmt.Errorf("%s cannot be deleted: %w", entityType, model.ErrInvalidOperation)
	}

	err := r.store.WithTx(ctx, func(q *localstore.Queries) error {
		if err := q.DeleteRecord(ctx, entityType, id); err != nil {
			return err
		}
		return q.Enqueue(ctx, &localstore.Entry{
			Operation:  model.OpDelete,
			EntityType: entityType,
			EntityID:   id,
		})
	})
	if err != nil {
		return fmt.Errorf("failed to delete %s %s: %w", entityType, id, err)
	}
	log.Printf("[Register] Queued delete %s/%s", entityType, id)
	return nil
}

// ApplyStock queues a stock transaction. When the item is known locally
// its quantity is updated with the same rule the server ledger applies,
// so a stock-out that would go negative is refused here already.
func (r *Register) ApplyStock(ctx context.Context, req *model.TransactionRequest) (*model.StockTransaction, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	if req.ID == "" {
		req.ID = uid.New()
	}

	txn := &model.StockTransaction{
		ID:          req.ID,
		StockItemID: req.StockItemID,
		Type:        req.Type,
		Quantity:    req.Quantity,
		Location:    req.Location,
		Reference:   req.Reference,
		Reason:      req.Reason,
		Notes:       req.Notes,
		CreatedAt:   r.now(),
	}

	err := r.store.WithTx(ctx, func(q *localstore.Queries) error {
		rec, err := q.GetRecord(ctx, model.EntityStockItem, req.StockItemID)
		switch {
		case errors.Is(err, model.ErrNotFound):
			// Unknown locally; the server decides.
		case err != nil:
			return err
		default:
			var item model.StockItem
			if err := rec.Decode(&item); err != nil {
				return err
			}
			newQty, err := req.Resolve(item.Quantity)
			if err != nil {
				return err
			}
			txn.PreviousQuantity = item.Quantity
			txn.NewQuantity = newQty
			item.Quantity = newQty
			item.Status = model.StatusFor(newQty)
			item.LastUpdated = txn.CreatedAt

			updated := *rec
			if err := updated.Encode(&item); err != nil {
				return err
			}
			if err := q.PutRecord(ctx, &updated); err != nil {
				return err
			}
		}

		entry, err := localstore.NewEntry(model.OpCreate, model.EntityStockTransaction, req.ID, req)
		if err != nil {
			return err
		}
		return q.Enqueue(ctx, entry)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to apply stock transaction: %w", err)
	}
	log.Printf("[Register] Queued %s %d for stock item %s", req.Type, req.Quantity, req.StockItemID)
	return txn, nil
}
