package mount

import (
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/sys/unix"
	"k8s.io/klog/v2"
	"k8s.io/mount-utils"
)

// MountError reports a failure to mount a source at a target directory
type MountError struct {
	Source string
	Target string
	Err    error
}

func (e *MountError) Error() string {
	return fmt.Sprintf("failed to mount %s at %s: %v", e.Source, e.Target, e.Err)
}

func (e *MountError) Unwrap() error {
	return e.Err
}

// UnmountError reports a failure to unmount a directory
type UnmountError struct {
	Target string
	Err    error
}

func (e *UnmountError) Error() string {
	return fmt.Sprintf("failed to unmount %s: %v", e.Target, e.Err)
}

func (e *UnmountError) Unwrap() error {
	return e.Err
}

// Manager mounts and unmounts the service's data directory. Mount state is
// never tracked in memory; it is re-derived from the system on every call.
type Manager struct {
	mounter mount.Interface
	fsType  string
	options []string
	sync    func()
}

// NewManager creates a mount manager. fsType may be empty to let mount(8)
// detect the filesystem.
func NewManager(mounter mount.Interface, fsType string, options []string) *Manager {
	if mounter == nil {
		mounter = mount.New("")
	}
	return &Manager{
		mounter: mounter,
		fsType:  fsType,
		options: options,
		sync:    unix.Sync,
	}
}

// IsMountPoint checks if a path is a mount point
func (m *Manager) IsMountPoint(path string) (bool, error) {
	notMnt, err := m.mounter.IsLikelyNotMountPoint(path)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}
	return !notMnt, nil
}

// Unmount flushes pending writes and unmounts path. It is a no-op if path is
// not a mount point.
func (m *Manager) Unmount(path string) error {
	mounted, err := m.IsMountPoint(path)
	if err != nil {
		return &UnmountError{Target: path, Err: fmt.Errorf("failed to check mount point: %w", err)}
	}
	if !mounted {
		klog.Infof("%s is not mounted", path)
		return nil
	}

	klog.Infof("Unmounting %s", path)
	m.sync()
	if err := m.mounter.Unmount(path); err != nil {
		klog.Errorf("Failed to unmount %s: %v", path, err)
		return &UnmountError{Target: path, Err: err}
	}

	klog.Infof("Successfully unmounted %s", path)
	return nil
}

// sameDevice reports whether a mount-table device refers to source,
// following symlinks such as /dev/disk/by-id entries.
func sameDevice(device, source string) bool {
	if device == source {
		return true
	}
	resolved, err := filepath.EvalSymlinks(source)
	return err == nil && resolved == device
}

// Mount mounts source at targetDir, creating targetDir if needed, then
// creates each of subdirs beneath it. Subdirectory failures are logged and
// tolerated.
func (m *Manager) Mount(source, targetDir string, subdirs []string) error {
	klog.Infof("mkdir -p %s", targetDir)
	if err := os.MkdirAll(targetDir, 0755); err != nil {
		return &MountError{Source: source, Target: targetDir, Err: fmt.Errorf("failed to create mount point: %w", err)}
	}

	mounted, err := m.IsMountPoint(targetDir)
	if err != nil {
		return &MountError{Source: source, Target: targetDir, Err: fmt.Errorf("failed to check mount point: %w", err)}
	}

	if mounted {
		device, _, err := mount.GetDeviceNameFromMount(m.mounter, targetDir)
		if err != nil {
			return &MountError{Source: source, Target: targetDir, Err: fmt.Errorf("failed to list mounts: %w", err)}
		}
		if device != "" && !sameDevice(device, source) {
			return &MountError{Source: source, Target: targetDir, Err: fmt.Errorf("already mounted from %s", device)}
		}
		klog.Infof("%s is already mounted from %s", targetDir, source)
	} else {
		klog.Infof("Mounting %s -> %s", source, targetDir)
		if err := m.mounter.Mount(source, targetDir, m.fsType, m.options); err != nil {
			klog.Errorf("Failed to mount %s at %s: %v", source, targetDir, err)
			return &MountError{Source: source, Target: targetDir, Err: err}
		}
	}

	for _, subdir := range subdirs {
		path := filepath.Join(targetDir, subdir)
		klog.Infof("mkdir -p %s", path)
		if err := os.MkdirAll(path, 0755); err != nil {
			klog.Warningf("Failed to create %s: %v", path, err)
		}
	}

	klog.Infof("Successfully mounted %s at %s", source, targetDir)
	return nil
}
