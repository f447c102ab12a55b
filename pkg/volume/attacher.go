package volume

import (
	"context"
	"fmt"

	"k8s.io/klog/v2"
)

// Attacher attaches a volume to a host
type Attacher struct {
	backend Backend
}

// NewAttacher creates a new attacher
func NewAttacher(backend Backend) *Attacher {
	return &Attacher{backend: backend}
}

// AttachToHost attaches volumeID to hostname and returns the mountpoint of
// the first attachment
func (a *Attacher) AttachToHost(ctx context.Context, volumeID, hostname string) (string, error) {
	klog.Infof("Attaching volume %s to host %s", volumeID, hostname)

	attachments, err := a.backend.AttachToHost(ctx, volumeID, hostname)
	if err != nil {
		return "", &AttachError{VolumeID: volumeID, Host: hostname, Err: err}
	}
	if len(attachments) == 0 {
		return "", &AttachError{VolumeID: volumeID, Host: hostname, Err: fmt.Errorf("%w: no attachments returned", ErrMalformedResponse)}
	}

	mountpoint := attachments[0].Mountpoint
	if mountpoint == "" {
		return "", &AttachError{VolumeID: volumeID, Host: hostname, Err: fmt.Errorf("%w: attachment has no mountpoint", ErrMalformedResponse)}
	}

	klog.Infof("Volume %s attached to host %s, mountpoint: %s", volumeID, hostname, mountpoint)
	return mountpoint, nil
}
