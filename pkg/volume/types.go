package volume

import "context"

// Attachment is one attachment entry of a volume
type Attachment struct {
	Hosts      []string `json:"hosts"`
	Mountpoint string   `json:"mountpoint"`
}

// Volume is the subset of a backend volume this program consumes
type Volume struct {
	ID          string       `json:"id"`
	Attachments []Attachment `json:"attachments"`
}

// AttachmentSet lists the hosts currently holding a volume
type AttachmentSet struct {
	VolumeID         string
	Hosts            []string
	MountpointByHost map[string]string
}

// AttachmentSet returns the union of hosts across all attachment entries in
// first-seen order, without duplicates
func (v *Volume) AttachmentSet() AttachmentSet {
	set := AttachmentSet{
		VolumeID:         v.ID,
		MountpointByHost: make(map[string]string),
	}
	for _, attachment := range v.Attachments {
		for _, host := range attachment.Hosts {
			if _, seen := set.MountpointByHost[host]; seen {
				continue
			}
			set.Hosts = append(set.Hosts, host)
			set.MountpointByHost[host] = attachment.Mountpoint
		}
	}
	return set
}

// Backend is the volume-management capability used to move a volume between
// hosts. It is implemented by the REST adapter and the command-line adapter.
type Backend interface {
	GetVolume(ctx context.Context, volumeID string) (*Volume, error)
	AttachToHost(ctx context.Context, volumeID, hostname string) ([]Attachment, error)
	DetachFromHost(ctx context.Context, volumeID, hostname string, force bool) error
}
