package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"retailsync/internal/model"
)

const productColumns = `id, name, sku, category, price, quantity, supplier_id, created_at, updated_at`

func scanProduct(row scanner) (*model.Product, error) {
	var p model.Product
	var supplierID sql.NullString
	if err := row.Scan(&p.ID, &p.Name, &p.SKU, &p.Category, &p.Price, &p.Quantity,
		&supplierID, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return nil, err
	}
	p.SupplierID = supplierID.String
	return &p, nil
}

// GetProduct returns one product.
func (q *Queries) GetProduct(ctx context.Context, id string) (*model.Product, error) {
	return q.getProduct(ctx, id, "")
}

// LockProduct reads a product and locks its row for the transaction.
func (q *Queries) LockProduct(ctx context.Context, id string) (*model.Product, error) {
	return q.getProduct(ctx, id, q.d.forUpdate)
}

func (q *Queries) getProduct(ctx context.Context, id, suffix string) (*model.Product, error) {
	p, err := scanProduct(q.queryRow(ctx, `SELECT `+productColumns+` FROM products WHERE id = ?`+suffix, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("product %s: %w", id, model.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get product: %w", err)
	}
	return p, nil
}

// ListProducts returns all products ordered by name.
func (q *Queries) ListProducts(ctx context.Context) ([]model.Product, error) {
	rows, err := q.query(ctx, `SELECT `+productColumns+` FROM products ORDER BY name, id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list products: %w", err)
	}
	defer rows.Close()

	products := []model.Product{}
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan product: %w", err)
		}
		products = append(products, *p)
	}
	return products, rows.Err()
}

// InsertProduct stores a new product.
func (q *Queries) InsertProduct(ctx context.Context, p *model.Product) error {
	_, err := q.exec(ctx, `
		INSERT INTO products (`+productColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.Name, p.SKU, p.Category, p.Price, p.Quantity, nullString(p.SupplierID),
		dbTime(p.CreatedAt), dbTime(p.UpdatedAt))
	if err != nil {
		return fmt.Errorf("failed to insert product: %w", err)
	}
	return nil
}

// UpdateProduct overwrites the descriptive fields of a product with a
// newer snapshot. Quantity is not touched: it moves through sales and
// AdjustProduct only.
func (q *Queries) UpdateProduct(ctx context.Context, p *model.Product) error {
	_, err := q.exec(ctx, `
		UPDATE products
		SET name = ?, sku = ?, category = ?, price = ?, supplier_id = ?, updated_at = ?
		WHERE id = ?`,
		p.Name, p.SKU, p.Category, p.Price, nullString(p.SupplierID), dbTime(p.UpdatedAt), p.ID)
	if err != nil {
		return fmt.Errorf("failed to update product: %w", err)
	}
	return nil
}

// AdjustProduct adds delta to a product's quantity.
func (q *Queries) AdjustProduct(ctx context.Context, id string, delta int) error {
	_, err := q.exec(ctx, `UPDATE products SET quantity = quantity + ? WHERE id = ?`, delta, id)
	if err != nil {
		return fmt.Errorf("failed to adjust product: %w", err)
	}
	return nil
}

// DecrementProduct subtracts qty from a product's quantity. With
// requireStock the update only matches while enough stock remains, and
// false is returned otherwise. updated_at is left alone so a sale never
// makes a later descriptive edit look stale.
func (q *Queries) DecrementProduct(ctx context.Context, id string, qty int, requireStock bool) (bool, error) {
	query := `UPDATE products SET quantity = quantity - ? WHERE id = ?`
	args := []any{qty, id}
	if requireStock {
		query += ` AND quantity >= ?`
		args = append(args, qty)
	}
	res, err := q.exec(ctx, query, args...)
	if err != nil {
		return false, fmt.Errorf("failed to decrement product: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// DeleteProduct removes a product.
func (q *Queries) DeleteProduct(ctx context.Context, id string) error {
	res, err := q.exec(ctx, `DELETE FROM products WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete product: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("product %s: %w", id, model.ErrNotFound)
	}
	return nil
}

// CountSaleLinesForProduct counts sale lines referencing a product.
func (q *Queries) CountSaleLinesForProduct(ctx context.Context, productID string) (int64, error) {
	n, err := q.count(ctx, `SELECT COUNT(*) FROM sale_items WHERE product_id = ?`, productID)
	if err != nil {
		return 0, fmt.Errorf("failed to count sale lines: %w", err)
	}
	return n, nil
}

// CountProductsForSupplier counts products referencing a supplier.
func (q *Queries) CountProductsForSupplier(ctx context.Context, supplierID string) (int64, error) {
	n, err := q.count(ctx, `SELECT COUNT(*) FROM products WHERE supplier_id = ?`, supplierID)
	if err != nil {
		return 0, fmt.Errorf("failed to count supplier products: %w", err)
	}
	return n, nil
}

// CountSalesForCustomer counts sales referencing a customer.
func (q *Queries) CountSalesForCustomer(ctx context.Context, customerID string) (int64, error) {
	n, err := q.count(ctx, `SELECT COUNT(*) FROM sales WHERE customer_id = ?`, customerID)
	if err != nil {
		return 0, fmt.Errorf("failed to count customer sales: %w", err)
	}
	return n, nil
}

const supplierColumns = `id, name, contact_name, email, phone, address, created_at, updated_at`

func scanSupplier(row scanner) (*model.Supplier, error) {
	var s model.Supplier
	if err := row.Scan(&s.ID, &s.Name, &s.ContactName, &s.Email, &s.Phone, &s.Address,
		&s.CreatedAt, &s.UpdatedAt); err != nil {
		return nil, err
	}
	return &s, nil
}

// GetSupplier returns one supplier.
func (q *Queries) GetSupplier(ctx context.Context, id string) (*model.Supplier, error) {
	s, err := scanSupplier(q.queryRow(ctx, `SELECT `+supplierColumns+` FROM suppliers WHERE id = ?`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("supplier %s: %w", id, model.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get supplier: %w", err)
	}
	return s, nil
}

// ListSuppliers returns all suppliers ordered by name.
func (q *Queries) ListSuppliers(ctx context.Context) ([]model.Supplier, error) {
	rows, err := q.query(ctx, `SELECT `+supplierColumns+` FROM suppliers ORDER BY name, id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list suppliers: %w", err)
	}
	defer rows.Close()

	suppliers := []model.Supplier{}
	for rows.Next() {
		s, err := scanSupplier(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan supplier: %w", err)
		}
		suppliers = append(suppliers, *s)
	}
	return suppliers, rows.Err()
}

// InsertSupplier stores a new supplier.
func (q *Queries) InsertSupplier(ctx context.Context, s *model.Supplier) error {
	_, err := q.exec(ctx, `
		INSERT INTO suppliers (`+supplierColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		s.ID, s.Name, s.ContactName, s.Email, s.Phone, s.Address, dbTime(s.CreatedAt), dbTime(s.UpdatedAt))
	if err != nil {
		return fmt.Errorf("failed to insert supplier: %w", err)
	}
	return nil
}

// UpdateSupplier overwrites a supplier with a newer snapshot.
func (q *Queries) UpdateSupplier(ctx context.Context, s *model.Supplier) error {
	_, err := q.exec(ctx, `
		UPDATE suppliers
		SET name = ?, contact_name = ?, email = ?, phone = ?, address = ?, updated_at = ?
		WHERE id = ?`,
		s.Name, s.ContactName, s.Email, s.Phone, s.Address, dbTime(s.UpdatedAt), s.ID)
	if err != nil {
		return fmt.Errorf("failed to update supplier: %w", err)
	}
	return nil
}

// DeleteSupplier removes a supplier.
func (q *Queries) DeleteSupplier(ctx context.Context, id string) error {
	res, err := q.exec(ctx, `DELETE FROM suppliers WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete supplier: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("supplier %s: %w", id, model.ErrNotFound)
	}
	return nil
}

const customerColumns = `id, name, email, phone, created_at, updated_at`

func scanCustomer(row scanner) (*model.Customer, error) {
	var c model.Customer
	var email sql.NullString
	if err := row.Scan(&c.ID, &c.Name, &email, &c.Phone, &c.CreatedAt, &c.UpdatedAt); err != nil {
		return nil, err
	}
	c.Email = email.String
	return &c, nil
}

// GetCustomer returns one customer.
func (q *Queries) GetCustomer(ctx context.Context, id string) (*model.Customer, error) {
	c, err := scanCustomer(q.queryRow(ctx, `SELECT `+customerColumns+` FROM customers WHERE id = ?`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("customer %s: %w", id, model.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get customer: %w", err)
	}
	return c, nil
}

// CustomerIDByEmail returns the id of the customer with email, or "".
func (q *Queries) CustomerIDByEmail(ctx context.Context, email string) (string, error) {
	var id string
	err := q.queryRow(ctx, `SELECT id FROM customers WHERE email = ?`, email).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to look up customer email: %w", err)
	}
	return id, nil
}

// ListCustomers returns all customers ordered by name.
func (q *Queries) ListCustomers(ctx context.Context) ([]model.Customer, error) {
	rows, err := q.query(ctx, `SELECT `+customerColumns+` FROM customers ORDER BY name, id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list customers: %w", err)
	}
	defer rows.Close()

	customers := []model.Customer{}
	for rows.Next() {
		c, err := scanCustomer(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan customer: %w", err)
		}
		customers = append(customers, *c)
	}
	return customers, rows.Err()
}

// InsertCustomer stores a new customer.
func (q *Queries) InsertCustomer(ctx context.Context, c *model.Customer) error {
	_, err := q.exec(ctx, `
		INSERT INTO customers (`+customerColumns+`)
		VALUES (?, ?, ?, ?, ?, ?)`,
		c.ID, c.Name, nullString(c.Email), c.Phone, dbTime(c.CreatedAt), dbTime(c.UpdatedAt))
	if err != nil {
		return fmt.Errorf("failed to insert customer: %w", err)
	}
	return nil
}

// UpdateCustomer overwrites a customer with a newer snapshot.
func (q *Queries) UpdateCustomer(ctx context.Context, c *model.Customer) error {
	_, err := q.exec(ctx, `
		UPDATE customers SET name = ?, email = ?, phone = ?, updated_at = ?
		WHERE id = ?`,
		c.Name, nullString(c.Email), c.Phone, dbTime(c.UpdatedAt), c.ID)
	if err != nil {
		return fmt.Errorf("failed to update customer: %w", err)
	}
	return nil
}

// DeleteCustomer removes a customer.
func (q *Queries) DeleteCustomer(ctx context.Context, id string) error {
	res, err := q.exec(ctx, `DELETE FROM customers WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete customer: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("customer %s: %w", id, model.ErrNotFound)
	}
	return nil
}
