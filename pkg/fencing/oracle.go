package fencing

import (
	"context"
	"fmt"

	"k8s.io/klog/v2"
)

// Querier reports whether a host is currently fenced by cluster membership
type Querier interface {
	IsHostFenced(ctx context.Context, hostname string) (bool, error)
}

// QueryError wraps a failed fencing query. It is logged, never returned by
// Oracle.
type QueryError struct {
	Host string
	Err  error
}

func (e *QueryError) Error() string {
	return fmt.Sprintf("fencing query for host %s failed: %v", e.Host, e.Err)
}

func (e *QueryError) Unwrap() error {
	return e.Err
}

// Oracle answers fencing questions at the moment a detach decision is made.
//
// When the query itself fails, Oracle reports the host as not fenced. This
// keeps detachment from blocking on an unavailable fencing signal; the price
// is a graceful detach attempt against a host that may be unreachable, which
// the volume backend rejects or times out. Flipping this default would turn
// every fencing outage into forced detaches during a real partition.
type Oracle struct {
	querier Querier
}

// NewOracle creates a new fencing oracle
func NewOracle(querier Querier) *Oracle {
	return &Oracle{querier: querier}
}

// IsFenced returns the fencing state of hostname, or false if it cannot be
// determined
func (o *Oracle) IsFenced(ctx context.Context, hostname string) bool {
	klog.Infof("Validating whether host %s is fenced", hostname)

	fenced, err := o.querier.IsHostFenced(ctx, hostname)
	if err != nil {
		qErr := &QueryError{Host: hostname, Err: err}
		klog.Warningf("Could not retrieve fenced state of host %s (%v). Assuming it is not fenced", hostname, qErr)
		return false
	}
	return fenced
}
