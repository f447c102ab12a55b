package volume

import (
	"context"

	"k8s.io/klog/v2"
)

// FenceChecker decides whether a host must be detached forcefully
type FenceChecker interface {
	IsFenced(ctx context.Context, hostname string) bool
}

// Detacher removes a volume from hosts, forcing the detach for fenced hosts
type Detacher struct {
	backend Backend
	fencing FenceChecker
}

// NewDetacher creates a new detacher
func NewDetacher(backend Backend, fencing FenceChecker) *Detacher {
	return &Detacher{
		backend: backend,
		fencing: fencing,
	}
}

// DetachFromHost detaches volumeID from hostname. The fencing state is read
// fresh on every call.
func (d *Detacher) DetachFromHost(ctx context.Context, volumeID, hostname string) error {
	if err := d.detach(ctx, volumeID, hostname); err != nil {
		return err
	}
	return nil
}

func (d *Detacher) detach(ctx context.Context, volumeID, hostname string) *DetachError {
	klog.Infof("Detaching volume %s from host %s", volumeID, hostname)

	force := d.fencing.IsFenced(ctx, hostname)
	if force {
		klog.Warningf("Host %s is fenced. Detaching forcefully", hostname)
	} else {
		klog.Infof("Host %s is not fenced. Detaching gracefully", hostname)
	}

	if err := d.backend.DetachFromHost(ctx, volumeID, hostname, force); err != nil {
		klog.Errorf("Failed to detach volume %s from host %s: %v", volumeID, hostname, err)
		return &DetachError{VolumeID: volumeID, Host: hostname, Force: force, Err: err}
	}

	klog.Infof("Detached volume %s from host %s", volumeID, hostname)
	return nil
}

// DetachFromAllHosts detaches volumeID from every host currently holding it.
// Each host is attempted exactly once even if others fail; any failure is
// reported as a *PartialDetachError.
func (d *Detacher) DetachFromAllHosts(ctx context.Context, volumeID string) error {
	vol, err := d.backend.GetVolume(ctx, volumeID)
	if err != nil {
		klog.Errorf("Failed to get volume %s info: %v", volumeID, err)
		return err
	}

	if len(vol.Attachments) == 0 {
		klog.Infof("No attachments for volume %s", volumeID)
		return nil
	}

	set := vol.AttachmentSet()
	if len(set.Hosts) == 0 {
		klog.Infof("No host attachments for volume %s", volumeID)
		return nil
	}

	klog.Infof("Removing previous attachments of volume %s from %d host(s)", volumeID, len(set.Hosts))

	var failures []*DetachError
	for _, host := range set.Hosts {
		if err := d.detach(ctx, volumeID, host); err != nil {
			failures = append(failures, err)
		}
	}

	if len(failures) > 0 {
		return &PartialDetachError{VolumeID: volumeID, Failures: failures}
	}
	return nil
}
