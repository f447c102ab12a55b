package registry

import (
	"context"
	"errors"
	"fmt"
)

// Status is the initialization status of a logical store as reported by the
// control-plane registry
type Status string

const (
	StatusInitializing Status = "Initializing"
	StatusReady        Status = "Ready"
	StatusDeleting     Status = "Deleting"
	StatusError        Status = "Error"
)

// Record is the initialization record of a logical store
type Record struct {
	StoreID  string `json:"id,omitempty"`
	Status   Status `json:"status"`
	VolumeID string `json:"volume_id,omitempty"`
}

// Lister returns the initialization records of a logical store
type Lister interface {
	ListInitRecords(ctx context.Context, storeID string) ([]Record, error)
}

// ErrInvariantViolation is returned when the registry reports more than one
// initialization record for a single store
var ErrInvariantViolation = errors.New("registry returned more than one init record")

// NotReadyError reports a record whose status is outside the accepted set.
// Callers treat it as "retry later".
type NotReadyError struct {
	Status Status
}

func (e *NotReadyError) Error() string {
	return fmt.Sprintf("store initialization not ready (status %q)", e.Status)
}

// IsNotReady checks if an error is a NotReadyError
func IsNotReady(err error) bool {
	var nr *NotReadyError
	return errors.As(err, &nr)
}
