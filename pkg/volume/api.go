package volume

import (
	"context"
	"fmt"
	"net/url"

	"github.com/akam1o/volume-lifecycle/pkg/apiclient"
)

// APIBackend talks to the volume-management REST API directly
type APIBackend struct {
	client *apiclient.Client
}

// NewAPIBackend creates a backend over the given REST client
func NewAPIBackend(client *apiclient.Client) *APIBackend {
	return &APIBackend{client: client}
}

type hostRequest struct {
	Host  string `json:"host"`
	Force bool   `json:"force,omitempty"`
}

type attachResponse struct {
	Attachments []Attachment `json:"attachments"`
}

func volumePath(volumeID string, action string) string {
	p := "/v2/storage/volumes/" + url.PathEscape(volumeID)
	if action != "" {
		p += "/" + action
	}
	return p
}

// GetVolume implements Backend
func (b *APIBackend) GetVolume(ctx context.Context, volumeID string) (*Volume, error) {
	var vol Volume
	if err := b.client.Get(ctx, volumePath(volumeID, ""), nil, &vol); err != nil {
		if apiclient.IsNotFound(err) {
			return nil, fmt.Errorf("%w: %s: %w", ErrVolumeNotFound, volumeID, err)
		}
		return nil, fmt.Errorf("failed to get volume %s: %w", volumeID, err)
	}
	if vol.ID == "" {
		vol.ID = volumeID
	}
	return &vol, nil
}

// AttachToHost implements Backend
func (b *APIBackend) AttachToHost(ctx context.Context, volumeID, hostname string) ([]Attachment, error) {
	var resp attachResponse
	if err := b.client.Post(ctx, volumePath(volumeID, "attach"), &hostRequest{Host: hostname}, &resp); err != nil {
		return nil, err
	}
	return resp.Attachments, nil
}

// DetachFromHost implements Backend
func (b *APIBackend) DetachFromHost(ctx context.Context, volumeID, hostname string, force bool) error {
	return b.client.Post(ctx, volumePath(volumeID, "detach"), &hostRequest{Host: hostname, Force: force}, nil)
}
