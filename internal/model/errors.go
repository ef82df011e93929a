package model

import (
	"errors"
	"fmt"
	"strings"
)

// Domain error classes. Every layer wraps one of these so callers can
// classify failures with errors.Is.
var (
	ErrNotFound         = errors.New("not found")
	ErrInvalidOperation = errors.New("invalid operation")
	ErrConflict         = errors.New("conflict")
	ErrValidation       = errors.New("validation failed")
)

// InsufficientStockError is returned when a stock-out would drive a
// quantity below zero.
type InsufficientStockError struct {
	ItemID    string
	Current   int
	Requested int
}

// WouldBe is the quantity the rejected operation would have produced.
func (e *InsufficientStockError) WouldBe() int {
	return e.Current - e.Requested
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock for %s: have %d, requested %d (would be %d)",
		e.ItemID, e.Current, e.Requested, e.WouldBe())
}

// Is lets errors.Is(err, ErrInvalidOperation) match.
func (e *InsufficientStockError) Is(target error) bool {
	return target == ErrInvalidOperation
}

// FieldError describes a single invalid input field.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationError collects field errors for one input.
type ValidationError struct {
	Fields []FieldError
}

func (e *ValidationError) Error() string {
	parts := make([]string, len(e.Fields))
	for i, f := range e.Fields {
		parts[i] = f.Field + ": " + f.Message
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

// Is lets errors.Is(err, ErrValidation) match.
func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

// Add appends a field error.
func (e *ValidationError) Add(field, message string) {
	e.Fields = append(e.Fields, FieldError{Field: field, Message: message})
}

// OrNil returns nil when no field errors were collected.
func (e *ValidationError) OrNil() error {
	if len(e.Fields) == 0 {
		return nil
	}
	return e
}
