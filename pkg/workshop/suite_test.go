package workshop

import (
	"testing"
	"time"

	"github.com/simplekube/breakfix/pkg/k8s"

	appsv1 "k8s.io/api/apps/v1"
	"k8s.io/client-go/kubernetes/scheme"
	"sigs.k8s.io/controller-runtime/pkg/client"
	"sigs.k8s.io/controller-runtime/pkg/client/fake"
)

const testNamespace = "shop"

func newTestWorkshop() *Workshop {
	return &Workshop{
		Namespace:    testNamespace,
		WaitTimeout:  200 * time.Millisecond,
		WaitInterval: 10 * time.Millisecond,
		NoWait:       true,
	}
}

// newTestRunOptions returns run options backed by an in-memory client.
// Workload status is only writable via the status subresource the way
// it is in a real cluster.
func newTestRunOptions(t *testing.T, objs ...client.Object) *k8s.RunOptions {
	t.Helper()
	klient := fake.NewClientBuilder().
		WithScheme(scheme.Scheme).
		WithObjects(objs...).
		WithStatusSubresource(&appsv1.Deployment{}, &appsv1.StatefulSet{}).
		Build()
	return &k8s.RunOptions{
		Client: klient,
		Scheme: scheme.Scheme,
	}
}
