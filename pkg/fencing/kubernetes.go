package fencing

import (
	"context"
	"fmt"
	"time"

	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes"
	"k8s.io/klog/v2"
)

const (
	// TaintOutOfService marks a node an operator or fencing agent has
	// declared shut down
	TaintOutOfService = "node.kubernetes.io/out-of-service"

	// TaintUnreachable marks a node the node controller lost contact with
	TaintUnreachable = "node.kubernetes.io/unreachable"
)

// DefaultFencingTaints are the taint keys treated as fencing by default
var DefaultFencingTaints = []string{TaintOutOfService, TaintUnreachable}

// KubeQuerier derives fencing state from Kubernetes Node taints
type KubeQuerier struct {
	client  kubernetes.Interface
	taints  map[string]struct{}
	timeout time.Duration
}

// NewKubeQuerier creates a querier that treats any of taintKeys on a Node as
// fenced. An empty taintKeys uses DefaultFencingTaints.
func NewKubeQuerier(client kubernetes.Interface, taintKeys []string, timeout time.Duration) *KubeQuerier {
	if len(taintKeys) == 0 {
		taintKeys = DefaultFencingTaints
	}
	taints := make(map[string]struct{}, len(taintKeys))
	for _, key := range taintKeys {
		taints[key] = struct{}{}
	}
	return &KubeQuerier{
		client:  client,
		taints:  taints,
		timeout: timeout,
	}
}

// IsHostFenced implements Querier
func (q *KubeQuerier) IsHostFenced(ctx context.Context, hostname string) (bool, error) {
	if q.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, q.timeout)
		defer cancel()
	}

	node, err := q.client.CoreV1().Nodes().Get(ctx, hostname, metav1.GetOptions{})
	if err != nil {
		return false, fmt.Errorf("failed to get node %s: %w", hostname, err)
	}

	if taint := q.fencingTaint(node); taint != nil {
		klog.V(2).Infof("Node %s carries fencing taint %s:%s", hostname, taint.Key, taint.Effect)
		return true, nil
	}
	return false, nil
}

func (q *KubeQuerier) fencingTaint(node *corev1.Node) *corev1.Taint {
	for i := range node.Spec.Taints {
		if _, ok := q.taints[node.Spec.Taints[i].Key]; ok {
			return &node.Spec.Taints[i]
		}
	}
	return nil
}
