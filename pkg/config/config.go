package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/akam1o/volume-lifecycle/pkg/apiclient"
	"github.com/akam1o/volume-lifecycle/pkg/fencing"
	"github.com/akam1o/volume-lifecycle/pkg/health"
	"github.com/akam1o/volume-lifecycle/pkg/lifecycle"
)

const (
	// DefaultConfigPath is where the configuration file is read from
	DefaultConfigPath = "/etc/volume-lifecycle/config.yaml"

	// DefaultMountDir is where the volume is mounted for the service
	DefaultMountDir = "/mnt/s3"

	BackendAPI = "api"
	BackendCLI = "cli"

	RuntimeContainerd = "containerd"
	RuntimeDocker     = "docker"
)

// DefaultSubdirs are created beneath the mount directory after mounting
var DefaultSubdirs = []string{"data", "meta"}

// Config represents the program configuration
type Config struct {
	// NodeName is the local host identity in the volume backend
	NodeName string `yaml:"node_name"`

	Registry RegistryConfig `yaml:"registry"`
	Volume   VolumeConfig   `yaml:"volume"`
	Fencing  FencingConfig  `yaml:"fencing"`
	Mount    MountConfig    `yaml:"mount"`
	Health   HealthConfig   `yaml:"health"`
	Lock     LockConfig     `yaml:"lock"`
}

// RegistryConfig holds control-plane registry API configuration
type RegistryConfig struct {
	BaseURL    string    `yaml:"base_url"`
	StoreID    string    `yaml:"store_id"`
	Timeout    Duration  `yaml:"timeout"`
	// RetryCount is the number of extra attempts for reads. Zero (the
	// default) surfaces the first failure to the caller.
	RetryCount int       `yaml:"retry_count"`
	AuthToken  string    `yaml:"auth_token"`
	TLS        TLSConfig `yaml:"tls"`
}

// VolumeConfig holds volume backend configuration
type VolumeConfig struct {
	// Backend selects the adapter: "api" or "cli"
	Backend    string    `yaml:"backend"`
	BaseURL    string    `yaml:"base_url"`
	Timeout    Duration  `yaml:"timeout"`
	RetryCount int       `yaml:"retry_count"`
	AuthToken  string    `yaml:"auth_token"`
	TLS        TLSConfig `yaml:"tls"`
	CLI        CLIConfig `yaml:"cli"`
}

// CLIConfig holds the command-line adapter configuration
type CLIConfig struct {
	Binary  string   `yaml:"binary"`
	Timeout Duration `yaml:"timeout"`
}

// TLSConfig holds TLS configuration
type TLSConfig struct {
	CACertPath     string `yaml:"ca_cert_path"`
	ClientCertPath string `yaml:"client_cert_path"`
	ClientKeyPath  string `yaml:"client_key_path"`
	InsecureSkip   bool   `yaml:"insecure_skip_verify"`
}

// FencingConfig holds cluster membership configuration
type FencingConfig struct {
	Kubeconfig string   `yaml:"kubeconfig"`
	Taints     []string `yaml:"taints"`
	Timeout    Duration `yaml:"timeout"`
}

// MountConfig holds local mount configuration
type MountConfig struct {
	Dir     string   `yaml:"dir"`
	Subdirs []string `yaml:"subdirs"`
	FSType  string   `yaml:"fstype"`
	Options []string `yaml:"options"`
}

// HealthConfig holds health-check configuration
type HealthConfig struct {
	ProbeURL            string   `yaml:"probe_url"`
	ProbeTimeout        Duration `yaml:"probe_timeout"`
	Runtime             string   `yaml:"runtime"`
	Container           string   `yaml:"container"`
	ContainerdSocket    string   `yaml:"containerd_socket"`
	ContainerdNamespace string   `yaml:"containerd_namespace"`
	DockerBinary        string   `yaml:"docker_binary"`
	Timeout             Duration `yaml:"timeout"`
}

// LockConfig holds the optional cross-host lease configuration
type LockConfig struct {
	Enabled   bool     `yaml:"enabled"`
	Namespace string   `yaml:"namespace"`
	TTL       Duration `yaml:"ttl"`
}

// Duration is a wrapper for time.Duration to support YAML unmarshaling
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var s string
	if err := node.Decode(&s); err != nil {
		return err
	}
	duration, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	d.Duration = duration
	return nil
}

func (d Duration) MarshalYAML() (interface{}, error) {
	return d.Duration.String(), nil
}

// LoadConfig loads configuration from a file
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(data)
}

// Parse parses configuration data and applies defaults and environment
// overrides
func Parse(data []byte) (*Config, error) {
	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	config.setDefaults()

	if envToken := os.Getenv("REGISTRY_AUTH_TOKEN"); envToken != "" {
		config.Registry.AuthToken = envToken
	}
	if envToken := os.Getenv("VOLUME_AUTH_TOKEN"); envToken != "" {
		config.Volume.AuthToken = envToken
	}
	if envNode := os.Getenv("NODE_NAME"); envNode != "" {
		config.NodeName = envNode
	}

	return &config, nil
}

func (c *Config) setDefaults() {
	if c.Registry.Timeout.Duration == 0 {
		c.Registry.Timeout.Duration = 30 * time.Second
	}
	if c.Volume.Backend == "" {
		c.Volume.Backend = BackendAPI
	}
	if c.Volume.Timeout.Duration == 0 {
		c.Volume.Timeout.Duration = 200 * time.Second
	}
	if c.Volume.CLI.Timeout.Duration == 0 {
		c.Volume.CLI.Timeout.Duration = 200 * time.Second
	}
	if len(c.Fencing.Taints) == 0 {
		c.Fencing.Taints = fencing.DefaultFencingTaints
	}
	if c.Fencing.Timeout.Duration == 0 {
		c.Fencing.Timeout.Duration = 10 * time.Second
	}
	if c.Mount.Dir == "" {
		c.Mount.Dir = DefaultMountDir
	}
	if c.Mount.Subdirs == nil {
		c.Mount.Subdirs = DefaultSubdirs
	}
	if c.Health.ProbeURL == "" {
		c.Health.ProbeURL = health.DefaultProbeURL
	}
	if c.Health.ProbeTimeout.Duration == 0 {
		c.Health.ProbeTimeout.Duration = 5 * time.Second
	}
	if c.Health.Runtime == "" {
		c.Health.Runtime = RuntimeDocker
	}
	if c.Health.Timeout.Duration == 0 {
		c.Health.Timeout.Duration = 10 * time.Second
	}
	if c.Lock.Namespace == "" {
		c.Lock.Namespace = "kube-system"
	}
	if c.Lock.TTL.Duration == 0 {
		c.Lock.TTL.Duration = 5 * time.Minute
	}
}

// Validate validates the configuration needed by the lifecycle hooks
func (c *Config) Validate() error {
	if err := c.validateRegistry(); err != nil {
		return err
	}

	switch c.Volume.Backend {
	case BackendAPI:
		if c.Volume.BaseURL == "" {
			return fmt.Errorf("volume.base_url is required for the api backend")
		}
	case BackendCLI:
		if c.Volume.CLI.Binary == "" {
			return fmt.Errorf("volume.cli.binary is required for the cli backend")
		}
	default:
		return fmt.Errorf("volume.backend must be %q or %q, got %q", BackendAPI, BackendCLI, c.Volume.Backend)
	}

	if c.Volume.RetryCount < 0 {
		return fmt.Errorf("volume.retry_count must not be negative")
	}

	if c.Mount.Dir == "" {
		return fmt.Errorf("mount.dir is required")
	}

	return nil
}

// ValidateHealth validates the configuration needed by the health check
func (c *Config) ValidateHealth() error {
	if err := c.validateRegistry(); err != nil {
		return err
	}

	switch c.Health.Runtime {
	case RuntimeContainerd, RuntimeDocker:
	default:
		return fmt.Errorf("health.runtime must be %q or %q, got %q", RuntimeContainerd, RuntimeDocker, c.Health.Runtime)
	}

	if c.Health.Container == "" {
		return fmt.Errorf("health.container is required")
	}

	return nil
}

func (c *Config) validateRegistry() error {
	if c.Registry.BaseURL == "" {
		return fmt.Errorf("registry.base_url is required")
	}
	if c.Registry.RetryCount < 0 {
		return fmt.Errorf("registry.retry_count must not be negative")
	}
	return nil
}

// ResolveNodeName returns the configured node name, falling back to the
// system hostname
func (c *Config) ResolveNodeName() (string, error) {
	if c.NodeName != "" {
		return c.NodeName, nil
	}
	hostname, err := os.Hostname()
	if err != nil {
		return "", fmt.Errorf("failed to determine hostname: %w", err)
	}
	return hostname, nil
}

// ToRegistryClientConfig converts to registry REST client configuration
func (c *Config) ToRegistryClientConfig() *apiclient.ClientConfig {
	return &apiclient.ClientConfig{
		Name:       "registry",
		BaseURL:    c.Registry.BaseURL,
		Timeout:    c.Registry.Timeout.Duration,
		RetryCount: c.Registry.RetryCount,
		AuthToken:  c.Registry.AuthToken,
		TLSConfig:  c.Registry.TLS.toClientTLS(),
	}
}

// ToVolumeClientConfig converts to volume backend REST client configuration
func (c *Config) ToVolumeClientConfig() *apiclient.ClientConfig {
	return &apiclient.ClientConfig{
		Name:       "volumes",
		BaseURL:    c.Volume.BaseURL,
		Timeout:    c.Volume.Timeout.Duration,
		RetryCount: c.Volume.RetryCount,
		AuthToken:  c.Volume.AuthToken,
		TLSConfig:  c.Volume.TLS.toClientTLS(),
	}
}

// ToLifecycleConfig converts to reconciler configuration
func (c *Config) ToLifecycleConfig(hostname string) lifecycle.Config {
	return lifecycle.Config{
		Hostname: hostname,
		MountDir: c.Mount.Dir,
		Subdirs:  c.Mount.Subdirs,
	}
}

func (t TLSConfig) toClientTLS() *apiclient.TLSConfig {
	if t == (TLSConfig{}) {
		return nil
	}
	return &apiclient.TLSConfig{
		CACertPath:     t.CACertPath,
		ClientCertPath: t.ClientCertPath,
		ClientKeyPath:  t.ClientKeyPath,
		InsecureSkip:   t.InsecureSkip,
	}
}
