// Package uid generates entity, entry and request ids.
package uid

import "github.com/google/uuid"

// New returns a time-ordered UUIDv7, so ids minted offline on different
// registers still sort roughly by creation time.
func New() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}
