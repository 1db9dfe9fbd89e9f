package scenario

import (
	"context"
	"testing"
	"time"

	"github.com/simplekube/breakfix/pkg/k8s"
	"github.com/simplekube/breakfix/pkg/workshop"

	"github.com/stretchr/testify/require"
	appsv1 "k8s.io/api/apps/v1"
	corev1 "k8s.io/api/core/v1"
	"k8s.io/apimachinery/pkg/api/resource"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes/scheme"
	"sigs.k8s.io/controller-runtime/pkg/client"
	"sigs.k8s.io/controller-runtime/pkg/client/fake"
)

const testNamespace = "shop"

// testNode has room for the application
func testNode() *corev1.Node {
	return &corev1.Node{
		ObjectMeta: metav1.ObjectMeta{Name: "node-1"},
		Status: corev1.NodeStatus{
			Allocatable: corev1.ResourceList{
				corev1.ResourceCPU:    resource.MustParse("2"),
				corev1.ResourceMemory: resource.MustParse("4Gi"),
			},
		},
	}
}

func newTestWorkshop() *workshop.Workshop {
	return &workshop.Workshop{
		Namespace:    testNamespace,
		WaitTimeout:  200 * time.Millisecond,
		WaitInterval: 10 * time.Millisecond,
		NoWait:       true,
	}
}

// newTestCatalog returns a catalog & the run options of an in-memory
// cluster with one node & the application deployed
func newTestCatalog(t *testing.T) (*Catalog, *k8s.RunOptions) {
	t.Helper()
	klient := fake.NewClientBuilder().
		WithScheme(scheme.Scheme).
		WithObjects(testNode()).
		WithStatusSubresource(&appsv1.Deployment{}, &appsv1.StatefulSet{}, &corev1.PersistentVolumeClaim{}).
		Build()
	opts := &k8s.RunOptions{Client: klient, Scheme: scheme.Scheme}

	w := newTestWorkshop()
	require.NoError(t, w.Deploy(context.Background(), nil, opts))
	catalog, err := NewCatalog(w)
	require.NoError(t, err)
	return catalog, opts
}

// markReady reports every workload of the namespace as fully rolled
// out the way the controllers of a real cluster would
func markReady(t *testing.T, opts *k8s.RunOptions) {
	t.Helper()
	ctx := context.Background()

	deployments := &appsv1.DeploymentList{}
	require.NoError(t, opts.Client.List(ctx, deployments, client.InNamespace(testNamespace)))
	for i := range deployments.Items {
		d := &deployments.Items[i]
		desired := int32(1)
		if d.Spec.Replicas != nil {
			desired = *d.Spec.Replicas
		}
		d.Status = appsv1.DeploymentStatus{
			ObservedGeneration: d.Generation,
			Replicas:           desired,
			UpdatedReplicas:    desired,
			ReadyReplicas:      desired,
			AvailableReplicas:  desired,
		}
		require.NoError(t, opts.Client.Status().Update(ctx, d))
	}

	statefulSets := &appsv1.StatefulSetList{}
	require.NoError(t, opts.Client.List(ctx, statefulSets, client.InNamespace(testNamespace)))
	for i := range statefulSets.Items {
		s := &statefulSets.Items[i]
		s.Status = appsv1.StatefulSetStatus{
			ObservedGeneration: s.Generation,
			Replicas:           *s.Spec.Replicas,
			ReadyReplicas:      *s.Spec.Replicas,
		}
		require.NoError(t, opts.Client.Status().Update(ctx, s))
	}
}

// updateContainer edits a container of the deployment of the same name
// the way a learner would with 'kubectl edit'
func updateContainer(t *testing.T, opts *k8s.RunOptions, name string, edit func(c *corev1.Container)) {
	t.Helper()
	ctx := context.Background()
	d := &appsv1.Deployment{}
	require.NoError(t, opts.Client.Get(ctx, client.ObjectKey{Namespace: testNamespace, Name: name}, d))
	for i := range d.Spec.Template.Spec.Containers {
		if d.Spec.Template.Spec.Containers[i].Name == name {
			edit(&d.Spec.Template.Spec.Containers[i])
		}
	}
	require.NoError(t, opts.Client.Update(ctx, d))
}
