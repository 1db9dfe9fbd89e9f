package k8s

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes/scheme"
	"sigs.k8s.io/controller-runtime/pkg/client"
	"sigs.k8s.io/controller-runtime/pkg/client/fake"
)

// newTestRunOptions returns run options backed by an in-memory client
// seeded with the default namespace & the given objects
func newTestRunOptions(t *testing.T, objs ...client.Object) *RunOptions {
	t.Helper()

	seed := append([]client.Object{
		&corev1.Namespace{ObjectMeta: metav1.ObjectMeta{Name: "default"}},
	}, objs...)
	klient := fake.NewClientBuilder().
		WithScheme(scheme.Scheme).
		WithObjects(seed...).
		Build()
	return &RunOptions{
		Client: klient,
		Scheme: scheme.Scheme,
	}
}

func newConfigMap(name string, data map[string]string) *corev1.ConfigMap {
	return &corev1.ConfigMap{
		TypeMeta: metav1.TypeMeta{
			Kind:       "ConfigMap",
			APIVersion: "v1",
		},
		ObjectMeta: metav1.ObjectMeta{
			Name:      name,
			Namespace: "default",
		},
		Data: data,
	}
}

// assertGone asserts the object no longer exists
func assertGone(t *testing.T, obj client.Object, opts *RunOptions) {
	t.Helper()
	err := (&Task{
		It:       "should not find " + obj.GetName(),
		Action:   ActionTypeGet,
		Resource: obj,
		Assert:   AssertTypeIsNotFound,
	}).Run(context.Background(), opts)
	assert.NoError(t, err)
}
