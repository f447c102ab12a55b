package volume

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrMalformedResponse indicates a backend response missing required fields
	ErrMalformedResponse = errors.New("malformed volume backend response")

	// ErrVolumeNotFound indicates the backend has no volume with the given ID
	ErrVolumeNotFound = errors.New("volume not found")
)

// DetachError reports a failed detach of a volume from one host
type DetachError struct {
	VolumeID string
	Host     string
	Force    bool
	Err      error
}

func (e *DetachError) Error() string {
	mode := "graceful"
	if e.Force {
		mode = "forced"
	}
	return fmt.Sprintf("%s detach of volume %s from host %s failed: %v", mode, e.VolumeID, e.Host, e.Err)
}

func (e *DetachError) Unwrap() error {
	return e.Err
}

// PartialDetachError reports that one or more hosts of a fan-out detach
// failed. Every host was still attempted.
type PartialDetachError struct {
	VolumeID string
	Failures []*DetachError
}

func (e *PartialDetachError) Error() string {
	hosts := make([]string, 0, len(e.Failures))
	for _, f := range e.Failures {
		hosts = append(hosts, f.Host)
	}
	return fmt.Sprintf("failed to detach volume %s from %d host(s): %s", e.VolumeID, len(e.Failures), strings.Join(hosts, ", "))
}

func (e *PartialDetachError) Unwrap() []error {
	errs := make([]error, 0, len(e.Failures))
	for _, f := range e.Failures {
		errs = append(errs, f)
	}
	return errs
}

// AttachError reports a failed attach of a volume to a host
type AttachError struct {
	VolumeID string
	Host     string
	Err      error
}

func (e *AttachError) Error() string {
	return fmt.Sprintf("failed to attach volume %s to host %s: %v", e.VolumeID, e.Host, e.Err)
}

func (e *AttachError) Unwrap() error {
	return e.Err
}
