package volume

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"k8s.io/klog/v2"
	utilexec "k8s.io/utils/exec"
)

// DefaultCLIBinary is the volume-management command used by CLIBackend
const DefaultCLIBinary = "volumectl"

// CLIBackend drives the volume-management command-line tool
type CLIBackend struct {
	exec    utilexec.Interface
	binary  string
	timeout time.Duration
}

// NewCLIBackend creates a backend that shells out to binary
func NewCLIBackend(exec utilexec.Interface, binary string, timeout time.Duration) *CLIBackend {
	if binary == "" {
		binary = DefaultCLIBinary
	}
	return &CLIBackend{
		exec:    exec,
		binary:  binary,
		timeout: timeout,
	}
}

func (b *CLIBackend) run(ctx context.Context, args ...string) ([]byte, error) {
	if b.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, b.timeout)
		defer cancel()
	}

	klog.V(4).Infof("Running %s %s", b.binary, strings.Join(args, " "))
	out, err := b.exec.CommandContext(ctx, b.binary, args...).Output()
	if err != nil {
		if exitErr, ok := err.(utilexec.ExitError); ok {
			return nil, fmt.Errorf("%s %s exited with status %d: %w", b.binary, args[0]+" "+args[1], exitErr.ExitStatus(), err)
		}
		return nil, fmt.Errorf("failed to run %s: %w", b.binary, err)
	}
	return out, nil
}

// GetVolume implements Backend
func (b *CLIBackend) GetVolume(ctx context.Context, volumeID string) (*Volume, error) {
	out, err := b.run(ctx, "volume", "show", volumeID, "--format", "json")
	if err != nil {
		return nil, fmt.Errorf("failed to get volume %s: %w", volumeID, err)
	}

	var vol Volume
	if err := json.Unmarshal(out, &vol); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	if vol.ID == "" {
		vol.ID = volumeID
	}
	return &vol, nil
}

// AttachToHost implements Backend
func (b *CLIBackend) AttachToHost(ctx context.Context, volumeID, hostname string) ([]Attachment, error) {
	out, err := b.run(ctx, "volume", "attach", volumeID, "--host", hostname, "--format", "json")
	if err != nil {
		return nil, err
	}

	var resp attachResponse
	if err := json.Unmarshal(out, &resp); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	return resp.Attachments, nil
}

// DetachFromHost implements Backend
func (b *CLIBackend) DetachFromHost(ctx context.Context, volumeID, hostname string, force bool) error {
	args := []string{"volume", "detach", volumeID, "--host", hostname}
	if force {
		args = append(args, "--force")
	}
	_, err := b.run(ctx, args...)
	return err
}
