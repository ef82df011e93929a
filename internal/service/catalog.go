package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"retailsync/internal/model"
	"retailsync/internal/repository"
	"retailsync/pkg/uid"
)

// CatalogService manages products, suppliers and customers. Writes resolve
// concurrent edits last-write-wins on UpdatedAt.
type CatalogService struct {
	store *repository.Store
	stats *StatsService
	now   func() time.Time
}

// NewCatalogService creates a new catalog service.
func NewCatalogService(store *repository.Store, stats *StatsService) *CatalogService {
	return &CatalogService{
		store: store,
		stats: stats,
		now:   func() time.Time { return time.Now().UTC() },
	}
}

// decide applies last-write-wins. It returns whether to insert, whether to
// update, and the status to report when neither happens.
func decide(op model.Operation, getErr error, incoming, stored time.Time) (insert, update bool, status model.ApplyStatus, err error) {
	if getErr != nil {
		if !errors.Is(getErr, model.ErrNotFound) {
			return false, false, "", getErr
		}
		if op == model.OpUpdate {
			return false, false, "", getErr
		}
		return true, false, model.ApplyApplied, nil
	}
	if incoming.Before(stored) {
		return false, false, skipStatus(op), nil
	}
	return false, true, model.ApplyApplied, nil
}

func (s *CatalogService) stamp(created, updated *time.Time) {
	now := s.now()
	if updated.IsZero() {
		*updated = now
	}
	if created.IsZero() {
		*created = *updated
	}
}

func (s *CatalogService) write(ctx context.Context, fn func(q *repository.Queries) (model.ApplyStatus, error)) (model.ApplyStatus, error) {
	var status model.ApplyStatus
	err := s.store.WithTx(ctx, func(q *repository.Queries) error {
		var err error
		status, err = fn(q)
		return err
	})
	if err != nil {
		return "", err
	}
	if status == model.ApplyApplied {
		s.stats.Invalidate(ctx)
	}
	return status, nil
}

// PutProduct creates or updates a product. An empty id is assigned.
func (s *CatalogService) PutProduct(ctx context.Context, p *model.Product) (model.ApplyStatus, error) {
	if err := p.Validate(); err != nil {
		return "", err
	}
	if p.ID == "" {
		p.ID = uid.New()
	}
	return s.write(ctx, func(q *repository.Queries) (model.ApplyStatus, error) {
		return s.putProductTx(ctx, q, p, model.OpCreate)
	})
}

func (s *CatalogService) putProductTx(ctx context.Context, q *repository.Queries, p *model.Product, op model.Operation) (model.ApplyStatus, error) {
	s.stamp(&p.CreatedAt, &p.UpdatedAt)
	current, getErr := q.LockProduct(ctx, p.ID)
	var stored time.Time
	if current != nil {
		stored = current.UpdatedAt
	}
	insert, update, status, err := decide(op, getErr, p.UpdatedAt, stored)
	switch {
	case err != nil:
		return "", err
	case insert:
		p.Quantity += p.Adjustment
		p.Adjustment = 0
		return status, q.InsertProduct(ctx, p)
	case update:
		p.CreatedAt = current.CreatedAt
		if err := q.UpdateProduct(ctx, p); err != nil {
			return "", err
		}
	}

	// The delta applies even when the descriptive fields lost to a newer
	// edit; receipts keep it from applying twice.
	if p.Adjustment != 0 {
		if err := q.AdjustProduct(ctx, p.ID, p.Adjustment); err != nil {
			return "", err
		}
		status = model.ApplyApplied
	}
	p.Quantity = current.Quantity + p.Adjustment
	return status, nil
}

// DeleteProduct removes a product that no sale line references.
func (s *CatalogService) DeleteProduct(ctx context.Context, id string) error {
	_, err := s.write(ctx, func(q *repository.Queries) (model.ApplyStatus, error) {
		return model.ApplyApplied, s.deleteProductTx(ctx, q, id)
	})
	return err
}

func (s *CatalogService) deleteProductTx(ctx context.Context, q *repository.Queries, id string) error {
	n, err := q.CountSaleLinesForProduct(ctx, id)
	if err != nil {
		return err
	}
	if n > 0 {
		return fmt.Errorf("product %s is on %d sale lines: %w", id, n, model.ErrConflict)
	}
	return q.DeleteProduct(ctx, id)
}

// GetProduct returns one product.
func (s *CatalogService) GetProduct(ctx context.Context, id string) (*model.Product, error) {
	return s.store.GetProduct(ctx, id)
}

// ListProducts returns all products.
func (s *CatalogService) ListProducts(ctx context.Context) ([]model.Product, error) {
	return s.store.ListProducts(ctx)
}

// PutSupplier creates or updates a supplier.
func (s *CatalogService) PutSupplier(ctx context.Context, sup *model.Supplier) (model.ApplyStatus, error) {
	if err := sup.Validate(); err != nil {
		return "", err
	}
	if sup.ID == "" {
		sup.ID = uid.New()
	}
	return s.write(ctx, func(q *repository.Queries) (model.ApplyStatus, error) {
		return s.putSupplierTx(ctx, q, sup, model.OpCreate)
	})
}

func (s *CatalogService) putSupplierTx(ctx context.Context, q *repository.Queries, sup *model.Supplier, op model.Operation) (model.ApplyStatus, error) {
	s.stamp(&sup.CreatedAt, &sup.UpdatedAt)
	current, getErr := q.GetSupplier(ctx, sup.ID)
	var stored time.Time
	if current != nil {
		stored = current.UpdatedAt
	}
	insert, update, status, err := decide(op, getErr, sup.UpdatedAt, stored)
	switch {
	case err != nil:
		return "", err
	case insert:
		err = q.InsertSupplier(ctx, sup)
	case update:
		sup.CreatedAt = current.CreatedAt
		err = q.UpdateSupplier(ctx, sup)
	}
	return status, err
}

// DeleteSupplier removes a supplier no product references.
func (s *CatalogService) DeleteSupplier(ctx context.Context, id string) error {
	_, err := s.write(ctx, func(q *repository.Queries) (model.ApplyStatus, error) {
		return model.ApplyApplied, s.deleteSupplierTx(ctx, q, id)
	})
	return err
}

func (s *CatalogService) deleteSupplierTx(ctx context.Context, q *repository.Queries, id string) error {
	n, err := q.CountProductsForSupplier(ctx, id)
	if err != nil {
		return err
	}
	if n > 0 {
		return fmt.Errorf("supplier %s has %d products: %w", id, n, model.ErrConflict)
	}
	return q.DeleteSupplier(ctx, id)
}

// GetSupplier returns one supplier.
func (s *CatalogService) GetSupplier(ctx context.Context, id string) (*model.Supplier, error) {
	return s.store.GetSupplier(ctx, id)
}

// ListSuppliers returns all suppliers.
func (s *CatalogService) ListSuppliers(ctx context.Context) ([]model.Supplier, error) {
	return s.store.ListSuppliers(ctx)
}

// PutCustomer creates or updates a customer. Emails are unique.
func (s *CatalogService) PutCustomer(ctx context.Context, c *model.Customer) (model.ApplyStatus, error) {
	if err := c.Validate(); err != nil {
		return "", err
	}
	if c.ID == "" {
		c.ID = uid.New()
	}
	return s.write(ctx, func(q *repository.Queries) (model.ApplyStatus, error) {
		return s.putCustomerTx(ctx, q, c, model.OpCreate)
	})
}

func (s *CatalogService) putCustomerTx(ctx context.Context, q *repository.Queries, c *model.Customer, op model.Operation) (model.ApplyStatus, error) {
	s.stamp(&c.CreatedAt, &c.UpdatedAt)
	current, getErr := q.GetCustomer(ctx, c.ID)
	var stored time.Time
	if current != nil {
		stored = current.UpdatedAt
	}
	insert, update, status, err := decide(op, getErr, c.UpdatedAt, stored)
	if err != nil || (!insert && !update) {
		return status, err
	}
	if c.Email != "" {
		otherID, err := q.CustomerIDByEmail(ctx, c.Email)
		if err != nil {
			return "", err
		}
		if otherID != "" && otherID != c.ID {
			return "", fmt.Errorf("email %q is already used by %s: %w", c.Email, otherID, model.ErrConflict)
		}
	}
	if insert {
		return status, q.InsertCustomer(ctx, c)
	}
	c.CreatedAt = current.CreatedAt
	return status, q.UpdateCustomer(ctx, c)
}

// DeleteCustomer removes a customer no sale references.
func (s *CatalogService) DeleteCustomer(ctx context.Context, id string) error {
	_, err := s.write(ctx, func(q *repository.Queries) (model.ApplyStatus, error) {
		return model.ApplyApplied, s.deleteCustomerTx(ctx, q, id)
	})
	return err
}

func (s *CatalogService) deleteCustomerTx(ctx context.Context, q *repository.Queries, id string) error {
	n, err := q.CountSalesForCustomer(ctx, id)
	if err != nil {
		return err
	}
	if n > 0 {
		return fmt.Errorf("customer %s has %d sales: %w", id, n, model.ErrConflict)
	}
	return q.DeleteCustomer(ctx, id)
}

// GetCustomer returns one customer.
func (s *CatalogService) GetCustomer(ctx context.Context, id string) (*model.Customer, error) {
	return s.store.GetCustomer(ctx, id)
}

// ListCustomers returns all customers.
func (s *CatalogService) ListCustomers(ctx context.Context) ([]model.Customer, error) {
	return s.store.ListCustomers(ctx)
}
