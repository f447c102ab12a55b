package health

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/containerd/containerd"
	"github.com/containerd/containerd/errdefs"
	"github.com/containerd/containerd/namespaces"
	"k8s.io/klog/v2"
	utilexec "k8s.io/utils/exec"
)

const (
	// DefaultContainerdSocket is the default containerd socket
	DefaultContainerdSocket = "/run/containerd/containerd.sock"

	// DefaultContainerdNamespace is the containerd namespace services run in
	DefaultContainerdNamespace = "default"

	// DefaultDockerBinary is the docker CLI used by DockerChecker
	DefaultDockerBinary = "docker"
)

// ContainerChecker reports whether the service container is running
type ContainerChecker interface {
	IsRunning(ctx context.Context, name string) (bool, error)
}

// ContainerdChecker queries task state through containerd
type ContainerdChecker struct {
	client    *containerd.Client
	namespace string
}

// NewContainerdChecker connects to containerd at socketPath
func NewContainerdChecker(socketPath, namespace string, timeout time.Duration) (*ContainerdChecker, error) {
	if socketPath == "" {
		socketPath = DefaultContainerdSocket
	}
	if namespace == "" {
		namespace = DefaultContainerdNamespace
	}

	opts := []containerd.ClientOpt{containerd.WithDefaultNamespace(namespace)}
	if timeout > 0 {
		opts = append(opts, containerd.WithTimeout(timeout))
	}

	client, err := containerd.New(socketPath, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to containerd: %w", err)
	}

	return &ContainerdChecker{
		client:    client,
		namespace: namespace,
	}, nil
}

// Close closes the containerd client connection
func (c *ContainerdChecker) Close() error {
	if c.client != nil {
		return c.client.Close()
	}
	return nil
}

// IsRunning implements ContainerChecker
func (c *ContainerdChecker) IsRunning(ctx context.Context, name string) (bool, error) {
	ctx = namespaces.WithNamespace(ctx, c.namespace)

	container, err := c.client.LoadContainer(ctx, name)
	if err != nil {
		if errdefs.IsNotFound(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to load container %s: %w", name, err)
	}

	task, err := container.Task(ctx, nil)
	if err != nil {
		// No task means container is not running
		if errdefs.IsNotFound(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to get task of container %s: %w", name, err)
	}

	status, err := task.Status(ctx)
	if err != nil {
		return false, fmt.Errorf("failed to get task status: %w", err)
	}

	return status.Status == containerd.Running, nil
}

// DockerChecker asks the docker CLI for the container's running state
type DockerChecker struct {
	exec    utilexec.Interface
	binary  string
	timeout time.Duration
}

// NewDockerChecker creates a checker that runs `docker inspect`
func NewDockerChecker(exec utilexec.Interface, binary string, timeout time.Duration) *DockerChecker {
	if binary == "" {
		binary = DefaultDockerBinary
	}
	return &DockerChecker{
		exec:    exec,
		binary:  binary,
		timeout: timeout,
	}
}

// IsRunning implements ContainerChecker. A container docker does not know
// about is reported as not running.
func (d *DockerChecker) IsRunning(ctx context.Context, name string) (bool, error) {
	if d.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.timeout)
		defer cancel()
	}

	out, err := d.exec.CommandContext(ctx, d.binary, "inspect", "-f", "{{.State.Running}}", name).Output()
	if err != nil {
		if exitErr, ok := err.(utilexec.ExitError); ok {
			klog.V(2).Infof("%s inspect %s exited with status %d", d.binary, name, exitErr.ExitStatus())
			return false, nil
		}
		return false, fmt.Errorf("failed to run %s inspect: %w", d.binary, err)
	}

	return strings.TrimSpace(string(out)) == "true", nil
}
