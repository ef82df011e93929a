package model

import (
	"strings"
	"time"
)

// Supplier provides products.
type Supplier struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	ContactName string    `json:"contact_name,omitempty"`
	Email       string    `json:"email,omitempty"`
	Phone       string    `json:"phone,omitempty"`
	Address     string    `json:"address,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Validate checks the supplier fields.
func (s *Supplier) Validate() error {
	verr := &ValidationError{}
	if strings.TrimSpace(s.Name) == "" {
		verr.Add("name", "name is required")
	}
	return verr.OrNil()
}

// Customer is an optional party on a sale.
type Customer struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Email     string    `json:"email,omitempty"`
	Phone     string    `json:"phone,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Validate checks the customer fields.
func (c *Customer) Validate() error {
	verr := &ValidationError{}
	if strings.TrimSpace(c.Name) == "" {
		verr.Add("name", "name is required")
	}
	return verr.OrNil()
}
