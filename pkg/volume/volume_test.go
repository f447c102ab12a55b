package volume

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type detachCall struct {
	host  string
	force bool
}

type fakeBackend struct {
	volume      *Volume
	getErr      error
	attachments []Attachment
	attachErr   error
	detachErrs  map[string]error
	detaches    []detachCall
	attaches    []string
}

func (f *fakeBackend) GetVolume(_ context.Context, volumeID string) (*Volume, error) {
	if f.getErr != nil {
		return nil, f.getErr
	}
	if f.volume == nil {
		return &Volume{ID: volumeID}, nil
	}
	return f.volume, nil
}

func (f *fakeBackend) AttachToHost(_ context.Context, _, hostname string) ([]Attachment, error) {
	f.attaches = append(f.attaches, hostname)
	return f.attachments, f.attachErr
}

func (f *fakeBackend) DetachFromHost(_ context.Context, _, hostname string, force bool) error {
	f.detaches = append(f.detaches, detachCall{host: hostname, force: force})
	return f.detachErrs[hostname]
}

type fakeFencing map[string]bool

func (f fakeFencing) IsFenced(_ context.Context, hostname string) bool {
	return f[hostname]
}

func TestAttachmentSet(t *testing.T) {
	vol := &Volume{
		ID: "v1",
		Attachments: []Attachment{
			{Hosts: []string{"hostA", "hostB"}, Mountpoint: "/dev/vda"},
			{Hosts: []string{"hostB", "hostC"}, Mountpoint: "/dev/vdb"},
		},
	}

	set := vol.AttachmentSet()
	assert.Equal(t, "v1", set.VolumeID)
	assert.Equal(t, []string{"hostA", "hostB", "hostC"}, set.Hosts)
	assert.Equal(t, map[string]string{"hostA": "/dev/vda", "hostB": "/dev/vda", "hostC": "/dev/vdb"}, set.MountpointByHost)
}

func TestDetacher_DetachFromHost(t *testing.T) {
	ctx := context.Background()

	t.Run("graceful_when_not_fenced", func(t *testing.T) {
		backend := &fakeBackend{}
		require.NoError(t, NewDetacher(backend, fakeFencing{}).DetachFromHost(ctx, "v1", "hostA"))
		assert.Equal(t, []detachCall{{host: "hostA", force: false}}, backend.detaches)
	})

	t.Run("forced_when_fenced", func(t *testing.T) {
		backend := &fakeBackend{}
		require.NoError(t, NewDetacher(backend, fakeFencing{"hostA": true}).DetachFromHost(ctx, "v1", "hostA"))
		assert.Equal(t, []detachCall{{host: "hostA", force: true}}, backend.detaches)
	})

	t.Run("failure_is_detach_error", func(t *testing.T) {
		boom := errors.New("host unreachable")
		backend := &fakeBackend{detachErrs: map[string]error{"hostA": boom}}
		err := NewDetacher(backend, fakeFencing{"hostA": true}).DetachFromHost(ctx, "v1", "hostA")

		var detachErr *DetachError
		require.ErrorAs(t, err, &detachErr)
		assert.Equal(t, "hostA", detachErr.Host)
		assert.True(t, detachErr.Force)
		assert.ErrorIs(t, err, boom)
	})
}

func TestDetacher_DetachFromAllHosts(t *testing.T) {
	ctx := context.Background()

	t.Run("no_attachments_is_noop", func(t *testing.T) {
		backend := &fakeBackend{volume: &Volume{ID: "v1"}}
		require.NoError(t, NewDetacher(backend, fakeFencing{}).DetachFromAllHosts(ctx, "v1"))
		assert.Empty(t, backend.detaches)
	})

	t.Run("empty_host_list_is_noop", func(t *testing.T) {
		backend := &fakeBackend{volume: &Volume{ID: "v1", Attachments: []Attachment{{Mountpoint: "/dev/vda"}}}}
		require.NoError(t, NewDetacher(backend, fakeFencing{}).DetachFromAllHosts(ctx, "v1"))
		assert.Empty(t, backend.detaches)
	})

	t.Run("get_failure_propagates", func(t *testing.T) {
		boom := errors.New("backend down")
		backend := &fakeBackend{getErr: boom}
		err := NewDetacher(backend, fakeFencing{}).DetachFromAllHosts(ctx, "v1")
		assert.ErrorIs(t, err, boom)
		assert.Empty(t, backend.detaches)
	})

	t.Run("mixed_fencing", func(t *testing.T) {
		backend := &fakeBackend{volume: &Volume{ID: "v1", Attachments: []Attachment{{Hosts: []string{"hostA", "hostB"}}}}}
		require.NoError(t, NewDetacher(backend, fakeFencing{"hostB": true}).DetachFromAllHosts(ctx, "v1"))
		assert.Equal(t, []detachCall{{host: "hostA"}, {host: "hostB", force: true}}, backend.detaches)
	})

	t.Run("every_host_attempted_once_despite_failures", func(t *testing.T) {
		hosts := []string{"hostA", "hostB", "hostC", "hostD"}
		backend := &fakeBackend{
			volume: &Volume{ID: "v1", Attachments: []Attachment{{Hosts: hosts}}},
			detachErrs: map[string]error{
				"hostA": errors.New("a"),
				"hostC": errors.New("c"),
			},
		}

		err := NewDetacher(backend, fakeFencing{}).DetachFromAllHosts(ctx, "v1")

		var partial *PartialDetachError
		require.ErrorAs(t, err, &partial)
		require.Len(t, partial.Failures, 2)
		assert.Equal(t, "hostA", partial.Failures[0].Host)
		assert.Equal(t, "hostC", partial.Failures[1].Host)

		attempted := make([]string, 0, len(backend.detaches))
		for _, c := range backend.detaches {
			attempted = append(attempted, c.host)
		}
		assert.Equal(t, hosts, attempted)

		var detachErr *DetachError
		assert.ErrorAs(t, err, &detachErr)
	})
}

func TestAttacher_AttachToHost(t *testing.T) {
	ctx := context.Background()

	t.Run("returns_first_mountpoint", func(t *testing.T) {
		backend := &fakeBackend{attachments: []Attachment{
			{Hosts: []string{"local"}, Mountpoint: "/dev/vdc"},
			{Hosts: []string{"other"}, Mountpoint: "/dev/vdd"},
		}}
		mountpoint, err := NewAttacher(backend).AttachToHost(ctx, "v1", "local")
		require.NoError(t, err)
		assert.Equal(t, "/dev/vdc", mountpoint)
		assert.Equal(t, []string{"local"}, backend.attaches)
	})

	t.Run("backend_error", func(t *testing.T) {
		boom := errors.New("quota exceeded")
		_, err := NewAttacher(&fakeBackend{attachErr: boom}).AttachToHost(ctx, "v1", "local")
		var attachErr *AttachError
		require.ErrorAs(t, err, &attachErr)
		assert.ErrorIs(t, err, boom)
	})

	t.Run("missing_attachment_list", func(t *testing.T) {
		_, err := NewAttacher(&fakeBackend{}).AttachToHost(ctx, "v1", "local")
		var attachErr *AttachError
		require.ErrorAs(t, err, &attachErr)
		assert.ErrorIs(t, err, ErrMalformedResponse)
	})

	t.Run("missing_mountpoint", func(t *testing.T) {
		backend := &fakeBackend{attachments: []Attachment{{Hosts: []string{"local"}}}}
		_, err := NewAttacher(backend).AttachToHost(ctx, "v1", "local")
		assert.ErrorIs(t, err, ErrMalformedResponse)
	})
}
