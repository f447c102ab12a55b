package fencing

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/runtime"
	"k8s.io/client-go/kubernetes/fake"
	k8stesting "k8s.io/client-go/testing"
)

type stubQuerier struct {
	fenced bool
	err    error
	hosts  []string
}

func (s *stubQuerier) IsHostFenced(_ context.Context, hostname string) (bool, error) {
	s.hosts = append(s.hosts, hostname)
	return s.fenced, s.err
}

func TestOracle_IsFenced(t *testing.T) {
	ctx := context.Background()

	t.Run("fenced", func(t *testing.T) {
		q := &stubQuerier{fenced: true}
		assert.True(t, NewOracle(q).IsFenced(ctx, "hostA"))
		assert.Equal(t, []string{"hostA"}, q.hosts)
	})

	t.Run("not_fenced", func(t *testing.T) {
		assert.False(t, NewOracle(&stubQuerier{}).IsFenced(ctx, "hostA"))
	})

	t.Run("query_failure_assumes_not_fenced", func(t *testing.T) {
		q := &stubQuerier{fenced: true, err: errors.New("membership service down")}
		assert.False(t, NewOracle(q).IsFenced(ctx, "hostA"))
	})

	t.Run("never_cached", func(t *testing.T) {
		q := &stubQuerier{}
		o := NewOracle(q)
		assert.False(t, o.IsFenced(ctx, "hostA"))
		q.fenced = true
		assert.True(t, o.IsFenced(ctx, "hostA"))
		assert.Len(t, q.hosts, 2)
	})
}

func node(name string, taints ...corev1.Taint) *corev1.Node {
	return &corev1.Node{
		ObjectMeta: metav1.ObjectMeta{Name: name},
		Spec:       corev1.NodeSpec{Taints: taints},
	}
}

func TestKubeQuerier_IsHostFenced(t *testing.T) {
	ctx := context.Background()
	client := fake.NewSimpleClientset(
		node("healthy"),
		node("unreachable", corev1.Taint{Key: TaintUnreachable, Effect: corev1.TaintEffectNoExecute}),
		node("shutdown", corev1.Taint{Key: TaintOutOfService, Value: "nodeshutdown", Effect: corev1.TaintEffectNoExecute}),
		node("cordoned", corev1.Taint{Key: "node.kubernetes.io/unschedulable", Effect: corev1.TaintEffectNoSchedule}),
	)
	q := NewKubeQuerier(client, nil, time.Second)

	for host, want := range map[string]bool{
		"healthy":     false,
		"unreachable": true,
		"shutdown":    true,
		"cordoned":    false,
	} {
		fenced, err := q.IsHostFenced(ctx, host)
		require.NoError(t, err, host)
		assert.Equal(t, want, fenced, host)
	}

	_, err := q.IsHostFenced(ctx, "missing")
	assert.Error(t, err)
}

func TestKubeQuerier_CustomTaints(t *testing.T) {
	client := fake.NewSimpleClientset(
		node("hostA", corev1.Taint{Key: TaintUnreachable, Effect: corev1.TaintEffectNoExecute}),
		node("hostB", corev1.Taint{Key: "example.com/fenced", Effect: corev1.TaintEffectNoExecute}),
	)
	q := NewKubeQuerier(client, []string{"example.com/fenced"}, 0)

	fenced, err := q.IsHostFenced(context.Background(), "hostA")
	require.NoError(t, err)
	assert.False(t, fenced)

	fenced, err = q.IsHostFenced(context.Background(), "hostB")
	require.NoError(t, err)
	assert.True(t, fenced)
}

func TestOracle_KubeQueryFailure(t *testing.T) {
	client := fake.NewSimpleClientset(node("hostA", corev1.Taint{Key: TaintUnreachable}))
	client.PrependReactor("get", "nodes", func(k8stesting.Action) (bool, runtime.Object, error) {
		return true, nil, errors.New("apiserver unavailable")
	})

	o := NewOracle(NewKubeQuerier(client, nil, time.Second))
	assert.False(t, o.IsFenced(context.Background(), "hostA"))
}
