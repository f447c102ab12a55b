package registry

import (
	"context"
	"fmt"

	"k8s.io/klog/v2"
)

// DefaultReadyStates is the accepted status set before the service starts
var DefaultReadyStates = []Status{StatusReady}

// TeardownReadyStates is the relaxed status set used during cleanup, so a
// failed or deleting store still releases its volume
var TeardownReadyStates = []Status{StatusReady, StatusDeleting, StatusError}

// Resolver reads and classifies the initialization record of one store
type Resolver struct {
	lister  Lister
	storeID string
}

// NewResolver creates a resolver for the given store
func NewResolver(lister Lister, storeID string) *Resolver {
	return &Resolver{
		lister:  lister,
		storeID: storeID,
	}
}

// Lookup returns the store's single init record, or nil if none exists
func (r *Resolver) Lookup(ctx context.Context) (*Record, error) {
	records, err := r.lister.ListInitRecords(ctx, r.storeID)
	if err != nil {
		return nil, fmt.Errorf("failed to list init records for store %q: %w", r.storeID, err)
	}

	switch len(records) {
	case 0:
		return nil, nil
	case 1:
		record := records[0]
		return &record, nil
	default:
		return nil, fmt.Errorf("%w: store %q has %d records", ErrInvariantViolation, r.storeID, len(records))
	}
}

// Resolve returns the volume bound to the store. An empty volume ID with a
// nil error means the store has no init record. A record whose status is not
// in allowed yields a *NotReadyError; allowed defaults to DefaultReadyStates.
func (r *Resolver) Resolve(ctx context.Context, allowed ...Status) (string, error) {
	if len(allowed) == 0 {
		allowed = DefaultReadyStates
	}

	record, err := r.Lookup(ctx)
	if err != nil {
		return "", err
	}
	if record == nil {
		klog.Infof("No init record for store %q", r.storeID)
		return "", nil
	}

	if !statusIn(record.Status, allowed) {
		klog.Infof("Init in progress for store %q (status %s)", r.storeID, record.Status)
		return "", &NotReadyError{Status: record.Status}
	}

	klog.Infof("Store %q is %s, volume id: %q", r.storeID, record.Status, record.VolumeID)
	return record.VolumeID, nil
}

func statusIn(status Status, allowed []Status) bool {
	for _, s := range allowed {
		if s == status {
			return true
		}
	}
	return false
}
