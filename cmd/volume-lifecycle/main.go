package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"
	"k8s.io/klog/v2"
	mountutils "k8s.io/mount-utils"
	utilexec "k8s.io/utils/exec"

	"github.com/akam1o/volume-lifecycle/pkg/apiclient"
	"github.com/akam1o/volume-lifecycle/pkg/config"
	"github.com/akam1o/volume-lifecycle/pkg/fencing"
	"github.com/akam1o/volume-lifecycle/pkg/lifecycle"
	"github.com/akam1o/volume-lifecycle/pkg/lock"
	"github.com/akam1o/volume-lifecycle/pkg/mount"
	"github.com/akam1o/volume-lifecycle/pkg/registry"
	"github.com/akam1o/volume-lifecycle/pkg/version"
	"github.com/akam1o/volume-lifecycle/pkg/volume"
)

var (
	configPath  = flag.String("config", config.DefaultConfigPath, "Path to configuration file")
	pre         = flag.Bool("pre", false, "Run the pre-start flow")
	post        = flag.Bool("post", false, "Run the post-stop flow")
	nodeName    = flag.String("node-name", "", "Local host name in the volume backend (defaults to the system hostname)")
	kubeconfig  = flag.String("kubeconfig", "", "Path to kubeconfig file (optional, uses in-cluster config if not specified)")
	showVersion = flag.Bool("version", false, "Print version information and exit")
)

func main() {
	klog.InitFlags(nil)
	flag.Parse()
	os.Exit(run())
}

func run() int {
	defer klog.Flush()

	if *showVersion {
		fmt.Printf("%s %s\n", version.Name, version.Version)
		return 0
	}

	if *pre == *post {
		fmt.Fprintln(os.Stderr, "exactly one of --pre or --post is required")
		flag.Usage()
		return 2
	}

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		klog.Errorf("Failed to load configuration: %v", err)
		return 1
	}
	if *nodeName != "" {
		cfg.NodeName = *nodeName
	}
	if *kubeconfig != "" {
		cfg.Fencing.Kubeconfig = *kubeconfig
	}
	if err := cfg.Validate(); err != nil {
		klog.Errorf("Invalid configuration: %v", err)
		return 1
	}

	hostname, err := cfg.ResolveNodeName()
	if err != nil {
		klog.Errorf("%v", err)
		return 1
	}

	klog.V(2).Infof("Registry API endpoint: %s (store %q)", cfg.Registry.BaseURL, cfg.Registry.StoreID)
	klog.V(2).Infof("Volume backend: %s", cfg.Volume.Backend)
	klog.V(2).Infof("Local host: %s, mount dir: %s", hostname, cfg.Mount.Dir)

	registryClient, err := apiclient.NewClient(cfg.ToRegistryClientConfig())
	if err != nil {
		klog.Errorf("Failed to create registry client: %v", err)
		return 1
	}

	backend, err := newVolumeBackend(cfg)
	if err != nil {
		klog.Errorf("Failed to create volume backend: %v", err)
		return 1
	}

	k8sClient, k8sErr := createKubernetesClient(cfg.Fencing.Kubeconfig)
	var querier fencing.Querier
	if k8sErr != nil {
		klog.Warningf("Failed to create Kubernetes client, fencing state will be unavailable: %v", k8sErr)
		querier = unavailableQuerier{err: k8sErr}
	} else {
		querier = fencing.NewKubeQuerier(k8sClient, cfg.Fencing.Taints, cfg.Fencing.Timeout.Duration)
	}

	reconciler := lifecycle.NewReconciler(
		cfg.ToLifecycleConfig(hostname),
		registry.NewResolver(registry.NewHTTPLister(registryClient), cfg.Registry.StoreID),
		volume.NewDetacher(backend, fencing.NewOracle(querier)),
		volume.NewAttacher(backend),
		mount.NewManager(mountutils.New(""), cfg.Mount.FSType, cfg.Mount.Options),
	)

	// Backend calls are not cancelled mid-flow: partial attach/detach
	// progress can only be corrected by the next run.
	ctx := context.Background()

	if cfg.Lock.Enabled {
		if k8sErr != nil {
			klog.Errorf("Lease lock is enabled but Kubernetes is unavailable: %v", k8sErr)
			if *pre {
				return 1
			}
		} else {
			release, err := acquireLock(ctx, cfg, k8sClient, hostname)
			if err != nil {
				klog.Errorf("Failed to acquire lease lock: %v", err)
				if *pre {
					return 1
				}
				// Cleanup must still be attempted without the lock.
			} else {
				defer release()
			}
		}
	}

	if *pre {
		err = reconciler.PreStart(ctx)
	} else {
		err = reconciler.PostStop(ctx)
	}
	if err != nil {
		klog.Errorf("%v", err)
	}
	return lifecycle.ExitCode(err)
}

func newVolumeBackend(cfg *config.Config) (volume.Backend, error) {
	switch cfg.Volume.Backend {
	case config.BackendCLI:
		return volume.NewCLIBackend(utilexec.New(), cfg.Volume.CLI.Binary, cfg.Volume.CLI.Timeout.Duration), nil
	default:
		client, err := apiclient.NewClient(cfg.ToVolumeClientConfig())
		if err != nil {
			return nil, err
		}
		return volume.NewAPIBackend(client), nil
	}
}

func acquireLock(ctx context.Context, cfg *config.Config, client kubernetes.Interface, hostname string) (func(), error) {
	manager := lock.NewManager(client, cfg.Lock.Namespace, hostname)

	waitCtx, cancel := context.WithTimeout(ctx, cfg.Lock.TTL.Duration)
	defer cancel()

	storeLock, err := manager.AcquireLock(waitCtx, cfg.Registry.StoreID, cfg.Lock.TTL.Duration)
	if err != nil {
		return nil, err
	}
	return func() {
		if err := storeLock.Release(ctx); err != nil {
			klog.Warningf("Failed to release lease lock: %v", err)
		}
	}, nil
}

// unavailableQuerier stands in for cluster membership when no client could
// be built; the oracle turns its error into "not fenced"
type unavailableQuerier struct {
	err error
}

func (q unavailableQuerier) IsHostFenced(context.Context, string) (bool, error) {
	return false, q.err
}

// createKubernetesClient creates a Kubernetes clientset
func createKubernetesClient(kubeconfigPath string) (*kubernetes.Clientset, error) {
	var config *rest.Config
	var err error

	if kubeconfigPath != "" {
		config, err = clientcmd.BuildConfigFromFlags("", kubeconfigPath)
		if err != nil {
			return nil, fmt.Errorf("failed to build config from kubeconfig: %w", err)
		}
		klog.V(2).Infof("Using kubeconfig: %s", kubeconfigPath)
	} else {
		config, err = rest.InClusterConfig()
		if err != nil {
			return nil, fmt.Errorf("failed to get in-cluster config: %w", err)
		}
		klog.V(2).Info("Using in-cluster Kubernetes configuration")
	}

	clientset, err := kubernetes.NewForConfig(config)
	if err != nil {
		return nil, fmt.Errorf("failed to create clientset: %w", err)
	}

	return clientset, nil
}
