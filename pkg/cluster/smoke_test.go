package cluster

import (
	"context"
	"testing"
	"time"

	"github.com/simplekube/breakfix/pkg/k8s"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	appsv1 "k8s.io/api/apps/v1"
	corev1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes/scheme"
	"sigs.k8s.io/controller-runtime/pkg/client"
	"sigs.k8s.io/controller-runtime/pkg/client/fake"
	"sigs.k8s.io/controller-runtime/pkg/client/interceptor"
)

// rolloutOnCreate plays the deployment controller: a created
// deployment gets its replica set & an available replica
func rolloutOnCreate() interceptor.Funcs {
	return interceptor.Funcs{
		Create: func(ctx context.Context, c client.WithWatch, obj client.Object, opts ...client.CreateOption) error {
			if err := c.Create(ctx, obj, opts...); err != nil {
				return err
			}
			d, ok := obj.(*appsv1.Deployment)
			if !ok {
				return nil
			}
			rs := &appsv1.ReplicaSet{
				ObjectMeta: metav1.ObjectMeta{Name: d.Name + "-1", Namespace: d.Namespace, Labels: d.Spec.Template.Labels},
				Spec:       appsv1.ReplicaSetSpec{Selector: d.Spec.Selector, Template: d.Spec.Template},
			}
			if err := c.Create(ctx, rs); err != nil {
				return err
			}
			d.Status.AvailableReplicas = 1
			return c.Status().Update(ctx, d)
		},
	}
}

func TestSmoke(t *testing.T) {
	ctx := context.Background()
	klient := fake.NewClientBuilder().
		WithScheme(scheme.Scheme).
		WithInterceptorFuncs(rolloutOnCreate()).
		Build()
	opts := &k8s.RunOptions{Client: klient, Scheme: scheme.Scheme}

	err := Smoke(ctx, SmokeOptions{Timeout: time.Second, Interval: 10 * time.Millisecond}, opts)
	require.NoError(t, err)

	err = klient.Get(ctx, client.ObjectKey{Name: smokeName}, &corev1.Namespace{})
	assert.True(t, apierrors.IsNotFound(err), "smoke test namespace is removed")
}

func TestSmokeWithoutAvailablePod(t *testing.T) {
	ctx := context.Background()
	klient := fake.NewClientBuilder().WithScheme(scheme.Scheme).Build()
	opts := &k8s.RunOptions{Client: klient, Scheme: scheme.Scheme}

	err := Smoke(ctx, SmokeOptions{Timeout: 50 * time.Millisecond, Interval: 10 * time.Millisecond}, opts)
	assert.ErrorContains(t, err, "no available replica")

	err = klient.Get(ctx, client.ObjectKey{Name: smokeName}, &corev1.Namespace{})
	assert.True(t, apierrors.IsNotFound(err), "smoke test namespace is removed on failure")
}
