package cli

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"github.com/simplekube/breakfix/pkg/cluster"
	"github.com/simplekube/breakfix/pkg/config"
	"github.com/simplekube/breakfix/pkg/k8s"
	"github.com/simplekube/breakfix/pkg/shell"

	"github.com/stretchr/testify/require"
	appsv1 "k8s.io/api/apps/v1"
	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes/scheme"
	"k8s.io/utils/ptr"
	"sigs.k8s.io/controller-runtime/pkg/client"
	"sigs.k8s.io/controller-runtime/pkg/client/fake"
)

const testNamespace = "shop"

type testEnv struct {
	globals *globals
	opts    *k8s.RunOptions
	runner  *shell.MockRunner
}

// newTestEnv returns globals talking to an in-memory cluster with one
// node & an installer that records the programs it would run
func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	klient := fake.NewClientBuilder().
		WithScheme(scheme.Scheme).
		WithObjects(&corev1.Node{ObjectMeta: metav1.ObjectMeta{Name: "node-1"}}).
		WithStatusSubresource(&appsv1.Deployment{}, &appsv1.StatefulSet{}, &corev1.PersistentVolumeClaim{}).
		Build()
	env := &testEnv{
		opts:   &k8s.RunOptions{Client: klient, Scheme: scheme.Scheme},
		runner: &shell.MockRunner{Out: "active\n"},
	}
	cfg := &config.Config{
		Namespace:    testNamespace,
		LogLevel:     "error",
		LogFormat:    "console",
		WaitTimeout:  200 * time.Millisecond,
		WaitInterval: 10 * time.Millisecond,
		Session:      config.Session{Home: "/root"},
		Cluster: config.ClusterConfig{
			KubernetesVersion: "v1.31",
			PodCIDR:           "10.244.0.0/16",
			NodeReadyTimeout:  time.Second,
			MinCPU:            2,
			MinMemoryMiB:      1700,
			MinDiskGiB:        20,
			DiskPath:          "/var/lib",
			Ports:             []int{6443},
		},
	}
	root := t.TempDir()
	env.globals = &globals{
		cfg:        cfg,
		in:         strings.NewReader(""),
		runOptions: env.opts,
		newInstaller: func(cfg *config.Config) *cluster.Installer {
			return &cluster.Installer{
				Runner:  env.runner,
				Config:  cfg.Cluster,
				Session: cfg.Session,
				Host: cluster.Host{
					NumCPU:      func() int { return 4 },
					MemTotalMiB: func() (int, error) { return 8192, nil },
					FreeDiskGiB: func(string) (uint64, error) { return 100, nil },
					EUID:        func() int { return 0 },
					PortFree:    func(int) error { return nil },
				},
				Root:         root,
				PollInterval: 10 * time.Millisecond,
			}
		},
	}
	return env
}

// execute runs the command line against the env & returns what was
// written to stdout
func (e *testEnv) execute(args ...string) (string, error) {
	cmd := newRootCommand(e.globals)
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

// markHealthy plays the controllers of a real cluster: workloads are
// rolled out & claims are bound
func (e *testEnv) markHealthy(t *testing.T) {
	t.Helper()
	ctx := context.Background()
	c := e.opts.Client

	deployments := &appsv1.DeploymentList{}
	require.NoError(t, c.List(ctx, deployments, client.InNamespace(testNamespace)))
	for i := range deployments.Items {
		d := &deployments.Items[i]
		replicas := ptr.Deref(d.Spec.Replicas, 1)
		d.Status = appsv1.DeploymentStatus{
			ObservedGeneration: d.Generation,
			Replicas:           replicas,
			UpdatedReplicas:    replicas,
			ReadyReplicas:      replicas,
			AvailableReplicas:  replicas,
		}
		require.NoError(t, c.Status().Update(ctx, d))
	}

	statefulSets := &appsv1.StatefulSetList{}
	require.NoError(t, c.List(ctx, statefulSets, client.InNamespace(testNamespace)))
	for i := range statefulSets.Items {
		s := &statefulSets.Items[i]
		replicas := ptr.Deref(s.Spec.Replicas, 1)
		s.Status = appsv1.StatefulSetStatus{
			ObservedGeneration: s.Generation,
			Replicas:           replicas,
			ReadyReplicas:      replicas,
		}
		require.NoError(t, c.Status().Update(ctx, s))
	}

	claims := &corev1.PersistentVolumeClaimList{}
	require.NoError(t, c.List(ctx, claims, client.InNamespace(testNamespace)))
	for i := range claims.Items {
		claims.Items[i].Status.Phase = corev1.ClaimBound
		require.NoError(t, c.Status().Update(ctx, &claims.Items[i]))
	}
}
