package lock

import (
	"context"
	"fmt"
	"strings"
	"time"

	coordinationv1 "k8s.io/api/coordination/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes"
	"k8s.io/klog/v2"
)

const leasePrefix = "volume-lifecycle-"

// Manager serializes lifecycle runs for one store across hosts using
// Kubernetes Leases
type Manager struct {
	client        kubernetes.Interface
	namespace     string
	identity      string
	retryInterval time.Duration
}

// Lock represents an acquired lease
type Lock struct {
	manager   *Manager
	leaseName string
	cancel    context.CancelFunc
	done      chan struct{}
}

// NewManager creates a new lock manager
func NewManager(client kubernetes.Interface, namespace, identity string) *Manager {
	return &Manager{
		client:        client,
		namespace:     namespace,
		identity:      identity,
		retryInterval: time.Second,
	}
}

// LeaseName returns the lease object name guarding resourceName
func LeaseName(resourceName string) string {
	name := strings.ToLower(resourceName)
	name = strings.Map(func(r rune) rune {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '-' || r == '.' {
			return r
		}
		return '-'
	}, name)
	return leasePrefix + strings.Trim(name, "-.")
}

// AcquireLock blocks until the lease for resourceName is held by this
// identity or ctx is done. The lease is renewed in the background until
// Release.
func (m *Manager) AcquireLock(ctx context.Context, resourceName string, ttl time.Duration) (*Lock, error) {
	if ttl < 3*time.Second {
		return nil, fmt.Errorf("lease ttl %v is too short", ttl)
	}
	leaseName := LeaseName(resourceName)

	for {
		acquired, holder, err := m.tryAcquireLease(ctx, leaseName, ttl)
		if err != nil {
			return nil, fmt.Errorf("failed to acquire lease %s: %w", leaseName, err)
		}

		if acquired {
			renewCtx, cancel := context.WithCancel(context.Background())
			lock := &Lock{
				manager:   m,
				leaseName: leaseName,
				cancel:    cancel,
				done:      make(chan struct{}),
			}
			go lock.renewLoop(renewCtx, ttl)
			klog.Infof("Acquired lease %s/%s as %s", m.namespace, leaseName, m.identity)
			return lock, nil
		}

		klog.Infof("Lease %s/%s is held by %s, waiting", m.namespace, leaseName, holder)
		select {
		case <-time.After(m.retryInterval):
		case <-ctx.Done():
			return nil, fmt.Errorf("lease %s still held by %s: %w", leaseName, holder, ctx.Err())
		}
	}
}

// tryAcquireLease attempts to create, renew, or take over an expired lease.
// It returns the current holder when the lease is held by someone else.
func (m *Manager) tryAcquireLease(ctx context.Context, leaseName string, ttl time.Duration) (bool, string, error) {
	leaseDuration := int32(ttl.Seconds())
	now := metav1.NewMicroTime(time.Now())

	leaseClient := m.client.CoordinationV1().Leases(m.namespace)

	lease, err := leaseClient.Get(ctx, leaseName, metav1.GetOptions{})
	if err == nil {
		if lease.Spec.HolderIdentity != nil && *lease.Spec.HolderIdentity == m.identity {
			lease.Spec.RenewTime = &now
			_, err = leaseClient.Update(ctx, lease, metav1.UpdateOptions{})
			return err == nil, m.identity, err
		}

		if leaseExpired(lease) {
			lease.Spec.HolderIdentity = &m.identity
			lease.Spec.AcquireTime = &now
			lease.Spec.RenewTime = &now
			lease.Spec.LeaseDurationSeconds = &leaseDuration
			_, err = leaseClient.Update(ctx, lease, metav1.UpdateOptions{})
			if apierrors.IsConflict(err) {
				return false, "", nil
			}
			return err == nil, m.identity, err
		}

		holder := ""
		if lease.Spec.HolderIdentity != nil {
			holder = *lease.Spec.HolderIdentity
		}
		return false, holder, nil
	}

	if !apierrors.IsNotFound(err) {
		// Real error (RBAC, network) - don't mask it
		return false, "", fmt.Errorf("failed to get lease: %w", err)
	}

	lease = &coordinationv1.Lease{
		ObjectMeta: metav1.ObjectMeta{
			Name:      leaseName,
			Namespace: m.namespace,
		},
		Spec: coordinationv1.LeaseSpec{
			HolderIdentity:       &m.identity,
			LeaseDurationSeconds: &leaseDuration,
			AcquireTime:          &now,
			RenewTime:            &now,
		},
	}

	_, err = leaseClient.Create(ctx, lease, metav1.CreateOptions{})
	if apierrors.IsAlreadyExists(err) {
		return false, "", nil
	}
	return err == nil, m.identity, err
}

func leaseExpired(lease *coordinationv1.Lease) bool {
	if lease.Spec.HolderIdentity == nil || *lease.Spec.HolderIdentity == "" {
		return true
	}
	if lease.Spec.RenewTime == nil || lease.Spec.LeaseDurationSeconds == nil {
		return true
	}
	expiry := lease.Spec.RenewTime.Add(time.Duration(*lease.Spec.LeaseDurationSeconds) * time.Second)
	return time.Now().After(expiry)
}

// renewLoop renews the lease periodically
func (l *Lock) renewLoop(ctx context.Context, ttl time.Duration) {
	defer close(l.done)

	ticker := time.NewTicker(ttl / 3)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if _, _, err := l.manager.tryAcquireLease(ctx, l.leaseName, ttl); err != nil {
				klog.Warningf("Failed to renew lease %s: %v", l.leaseName, err)
			}
		case <-ctx.Done():
			return
		}
	}
}

// Release stops renewal and deletes the lease if this manager still holds it
func (l *Lock) Release(ctx context.Context) error {
	l.cancel()
	<-l.done

	leaseClient := l.manager.client.CoordinationV1().Leases(l.manager.namespace)
	lease, err := leaseClient.Get(ctx, l.leaseName, metav1.GetOptions{})
	if apierrors.IsNotFound(err) {
		return nil
	}
	if err != nil {
		klog.Warningf("Failed to get lease %s for release: %v", l.leaseName, err)
		return err
	}

	if lease.Spec.HolderIdentity == nil || *lease.Spec.HolderIdentity != l.manager.identity {
		klog.Warningf("Lease %s/%s is now held by another identity, leaving it in place", l.manager.namespace, l.leaseName)
		return nil
	}

	err = leaseClient.Delete(ctx, l.leaseName, metav1.DeleteOptions{
		Preconditions: &metav1.Preconditions{ResourceVersion: &lease.ResourceVersion},
	})
	if err != nil && !apierrors.IsNotFound(err) {
		klog.Warningf("Failed to delete lease %s: %v", l.leaseName, err)
		return err
	}

	klog.Infof("Released lease %s/%s", l.manager.namespace, l.leaseName)
	return nil
}
