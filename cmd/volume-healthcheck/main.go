package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"k8s.io/klog/v2"
	utilexec "k8s.io/utils/exec"

	"github.com/akam1o/volume-lifecycle/pkg/apiclient"
	"github.com/akam1o/volume-lifecycle/pkg/config"
	"github.com/akam1o/volume-lifecycle/pkg/health"
	"github.com/akam1o/volume-lifecycle/pkg/registry"
)

var configPath = flag.String("config", config.DefaultConfigPath, "Path to configuration file")

func main() {
	klog.InitFlags(nil)
	flag.Parse()
	os.Exit(run())
}

func run() int {
	defer klog.Flush()

	if flag.NArg() != 0 {
		fmt.Fprintln(os.Stderr, "unexpected arguments")
		return 2
	}

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		fmt.Printf("unhealthy: failed to load configuration: %v\n", err)
		return 2
	}
	if err := cfg.ValidateHealth(); err != nil {
		fmt.Printf("unhealthy: invalid configuration: %v\n", err)
		return 2
	}

	// The health check runs on a short period; a failed registry read is
	// classified, not retried.
	registryConfig := cfg.ToRegistryClientConfig()
	registryConfig.RetryCount = 0
	registryClient, err := apiclient.NewClient(registryConfig)
	if err != nil {
		fmt.Printf("unhealthy: failed to create registry client: %v\n", err)
		return 2
	}

	containers, closeFn := newContainerChecker(cfg)
	defer closeFn()

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Health.Timeout.Duration+cfg.Registry.Timeout.Duration)
	defer cancel()

	aggregator := health.NewAggregator(
		health.NewHTTPProber(cfg.Health.ProbeURL, cfg.Health.ProbeTimeout.Duration),
		registry.NewResolver(registry.NewHTTPLister(registryClient), cfg.Registry.StoreID),
		containers,
		cfg.Health.Container,
	)

	report := aggregator.Check(ctx)
	fmt.Println(report.Message)
	return report.ExitCode()
}

// newContainerChecker never fails: the container runtime is only consulted
// when the decision is delegated, so a connection error is reported there.
func newContainerChecker(cfg *config.Config) (health.ContainerChecker, func()) {
	switch cfg.Health.Runtime {
	case config.RuntimeContainerd:
		checker, err := health.NewContainerdChecker(cfg.Health.ContainerdSocket, cfg.Health.ContainerdNamespace, cfg.Health.Timeout.Duration)
		if err != nil {
			klog.V(2).Infof("containerd unavailable: %v", err)
			return unavailableChecker{err: err}, func() {}
		}
		return checker, func() { _ = checker.Close() }
	default:
		return health.NewDockerChecker(utilexec.New(), cfg.Health.DockerBinary, cfg.Health.Timeout.Duration), func() {}
	}
}

type unavailableChecker struct {
	err error
}

func (c unavailableChecker) IsRunning(context.Context, string) (bool, error) {
	return false, c.err
}
