package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"k8s.io/klog/v2"

	"github.com/akam1o/volume-lifecycle/pkg/registry"
)

// RecordResolver resolves the volume bound to the store
type RecordResolver interface {
	Resolve(ctx context.Context, allowed ...registry.Status) (string, error)
}

// VolumeDetacher detaches the volume from remote and local hosts
type VolumeDetacher interface {
	DetachFromHost(ctx context.Context, volumeID, hostname string) error
	DetachFromAllHosts(ctx context.Context, volumeID string) error
}

// VolumeAttacher attaches the volume to the local host
type VolumeAttacher interface {
	AttachToHost(ctx context.Context, volumeID, hostname string) (string, error)
}

// Mounter mounts and unmounts the local data directory
type Mounter interface {
	Unmount(path string) error
	Mount(source, targetDir string, subdirs []string) error
}

// Config holds the local parameters of the reconciler
type Config struct {
	// Hostname is the identity of the local host in the volume backend
	Hostname string
	// MountDir is where the volume is mounted for the service
	MountDir string
	// Subdirs are created beneath MountDir after mounting
	Subdirs []string
}

// Reconciler prepares the volume before the service starts and releases it
// after the service stops. It holds no state between calls; every decision
// is re-derived from the backends.
type Reconciler struct {
	cfg      Config
	records  RecordResolver
	detacher VolumeDetacher
	attacher VolumeAttacher
	mounter  Mounter
}

// NewReconciler creates a new reconciler
func NewReconciler(cfg Config, records RecordResolver, detacher VolumeDetacher, attacher VolumeAttacher, mounter Mounter) *Reconciler {
	return &Reconciler{
		cfg:      cfg,
		records:  records,
		detacher: detacher,
		attacher: attacher,
		mounter:  mounter,
	}
}

// PreStart makes the volume exclusively attached and mounted on the local
// host. Steps run in order and the first failure aborts the rest.
func (r *Reconciler) PreStart(ctx context.Context) error {
	klog.Info("Pre start enter")

	volumeID, err := r.records.Resolve(ctx, registry.DefaultReadyStates...)
	if err != nil {
		klog.Errorf("Failed to get volume id: %v. Exiting", err)
		return err
	}
	if volumeID == "" {
		// The service's own initialization path creates the volume or blocks.
		klog.Warning("Store is not initialized. Continuing and letting service initialization block")
		return nil
	}

	if err := r.mounter.Unmount(r.cfg.MountDir); err != nil {
		klog.Errorf("Failed to unmount %s from host: %v. Exiting", r.cfg.MountDir, err)
		return err
	}

	if err := r.detacher.DetachFromAllHosts(ctx, volumeID); err != nil {
		klog.Errorf("Failed to detach volume %s: %v. Exiting", volumeID, err)
		return err
	}

	mountpoint, err := r.attacher.AttachToHost(ctx, volumeID, r.cfg.Hostname)
	if err != nil {
		klog.Errorf("Failed to attach volume %s to host %s: %v. Exiting", volumeID, r.cfg.Hostname, err)
		return err
	}

	if err := r.mounter.Mount(mountpoint, r.cfg.MountDir, r.cfg.Subdirs); err != nil {
		klog.Errorf("Failed to mount %s on host: %v. Exiting", mountpoint, err)
		return err
	}

	klog.Info("Pre start exit")
	return nil
}

// CleanupError aggregates the failed steps of PostStop
type CleanupError struct {
	Failures []error
}

func (e *CleanupError) Error() string {
	msgs := make([]string, 0, len(e.Failures))
	for _, err := range e.Failures {
		msgs = append(msgs, err.Error())
	}
	return fmt.Sprintf("post stop cleanup failed: %s", strings.Join(msgs, "; "))
}

func (e *CleanupError) Unwrap() []error {
	return e.Failures
}

// PostStop unmounts the local directory and detaches the volume from the
// local host. Every step is attempted regardless of earlier failures.
func (r *Reconciler) PostStop(ctx context.Context) error {
	klog.Info("Post stop enter")

	var failures []error

	volumeID, err := r.records.Resolve(ctx, registry.TeardownReadyStates...)
	if err != nil {
		klog.Infof("Could not find initialized info (%v). Continuing with the cleanup anyway", err)
		volumeID = ""
	}

	if err := r.mounter.Unmount(r.cfg.MountDir); err != nil {
		failures = append(failures, err)
	}

	if volumeID != "" {
		if err := r.detacher.DetachFromHost(ctx, volumeID, r.cfg.Hostname); err != nil {
			failures = append(failures, err)
		}
	}

	klog.Info("Post stop exit")
	if len(failures) > 0 {
		return &CleanupError{Failures: failures}
	}
	return nil
}

// ExitCode maps a PreStart or PostStop result to the process exit code.
// An init-record invariant violation is fatal and distinguished with 2.
func ExitCode(err error) int {
	switch {
	case err == nil:
		return 0
	case errors.Is(err, registry.ErrInvariantViolation):
		return 2
	default:
		return 1
	}
}
