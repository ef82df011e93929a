package apierror

import (
	"errors"
	"fmt"

	"retailsync/internal/model"
)

// FromDomain maps a service error onto an API error. Unknown errors become
// a 500 without leaking their text.
func FromDomain(err error) *Error {
	var apiErr *Error
	if errors.As(err, &apiErr) {
		return apiErr
	}

	var verr *model.ValidationError
	if errors.As(err, &verr) {
		details := make([]FieldError, len(verr.Fields))
		for i, f := range verr.Fields {
			details[i] = FieldError{Field: f.Field, Message: f.Message}
		}
		return ValidationError("Validation failed", details...)
	}

	switch {
	case errors.Is(err, model.ErrValidation):
		return BadRequest(err.Error())
	case errors.Is(err, model.ErrNotFound):
		return NotFound(err.Error())
	case errors.Is(err, model.ErrConflict):
		return Conflict(err.Error())
	case errors.Is(err, model.ErrInvalidOperation):
		apiErr := InvalidOperation(err.Error())
		var insufficient *model.InsufficientStockError
		if errors.As(err, &insufficient) {
			apiErr.Details = []FieldError{{
				Field:   "quantity",
				Message: fmt.Sprintf("would be %d", insufficient.WouldBe()),
			}}
		}
		return apiErr
	}
	return InternalError("")
}
