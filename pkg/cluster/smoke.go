package cluster

import (
	"context"
	"time"

	"github.com/simplekube/breakfix/pkg/k8s"

	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"
	appsv1 "k8s.io/api/apps/v1"
	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/utils/ptr"
	"sigs.k8s.io/controller-runtime/pkg/client"
)

const smokeName = "breakfix-smoke"

// SmokeOptions tunes the smoke test
type SmokeOptions struct {
	Image    string
	Timeout  time.Duration
	Interval time.Duration
}

// Smoke verifies that a fresh cluster runs workloads: a namespace & a
// deployment get created, the pod becomes available & a repeated merge
// of the same deployment leaves its replica set alone. Everything is
// removed afterwards.
func Smoke(ctx context.Context, smokeOpts SmokeOptions, opts ...k8s.RunOption) (err error) {
	if smokeOpts.Image == "" {
		smokeOpts.Image = "registry.k8s.io/pause:3.10"
	}
	ns := &corev1.Namespace{
		ObjectMeta: metav1.ObjectMeta{
			Name:   smokeName,
			Labels: map[string]string{"app.kubernetes.io/part-of": "breakfix"},
		},
	}
	podLabels := map[string]string{"app": smokeName}
	deploy := &appsv1.Deployment{
		ObjectMeta: metav1.ObjectMeta{Name: smokeName, Namespace: smokeName},
		Spec: appsv1.DeploymentSpec{
			Replicas:             ptr.To[int32](1),
			RevisionHistoryLimit: ptr.To[int32](0),
			Selector:             &metav1.LabelSelector{MatchLabels: podLabels},
			Template: corev1.PodTemplateSpec{
				ObjectMeta: metav1.ObjectMeta{Labels: podLabels},
				Spec: corev1.PodSpec{
					Containers: []corev1.Container{{Name: "pause", Image: smokeOpts.Image}},
				},
			},
		},
	}

	// everything the smoke test created goes away in reverse order
	defer func() {
		cleanup := k8s.Teardown(context.WithoutCancel(ctx), opts...)
		if cleanup != nil {
			err = multierror.Append(err, errors.WithMessage(cleanup, "failed to remove smoke test"))
		}
	}()

	var replicaSetVersion string
	replicaSets := func(it string, assert func(rs appsv1.ReplicaSet) error) k8s.Runner {
		return &k8s.ListingTask{
			It:          it,
			Resource:    &appsv1.ReplicaSetList{},
			ListOptions: []client.ListOption{client.InNamespace(smokeName), client.MatchingLabels(podLabels)},
			PostAction: func(list client.ObjectList) error {
				items := list.(*appsv1.ReplicaSetList).Items
				if len(items) != 1 {
					return errors.Errorf("expected 1 replicaset got %d", len(items))
				}
				return assert(items[0])
			},
		}
	}

	job := k8s.Job{
		&k8s.Task{
			It:       "should upsert the smoke test namespace",
			Action:   k8s.ActionTypeCreateOrMerge,
			Resource: ns,
			Assert:   k8s.AssertTypeIsEquals,
		},
		&k8s.Task{
			It:       "should create the smoke test deployment",
			Action:   k8s.ActionTypeCreateOrMerge,
			Resource: deploy,
			Assert:   k8s.AssertTypeIsEquals,
		},
		&k8s.EventualTask{
			Immediate: true,
			Interval:  smokeOpts.Interval,
			Timeout:   smokeOpts.Timeout,
			Task: &k8s.Task{
				It:       "should eventually find the smoke test pod available",
				Action:   k8s.ActionTypeGet,
				Resource: deploy,
				PostAction: func(obj client.Object) error {
					d, _ := obj.(*appsv1.Deployment)
					if d == nil || d.Status.AvailableReplicas < 1 {
						return errors.New("no available replica")
					}
					return nil
				},
			},
		},
		&k8s.EventualTask{
			Immediate: true,
			Interval:  smokeOpts.Interval,
			Timeout:   smokeOpts.Timeout,
			Task: replicaSets("should capture the resource version of the replicaset", func(rs appsv1.ReplicaSet) error {
				replicaSetVersion = rs.ResourceVersion
				return nil
			}),
		},
		&k8s.Task{
			It:       "should merge the unchanged deployment",
			Action:   k8s.ActionTypeCreateOrMerge,
			Resource: deploy,
			Assert:   k8s.AssertTypeIsEquals,
		},
		replicaSets("should assert no change of the replicaset", func(rs appsv1.ReplicaSet) error {
			if rs.ResourceVersion != replicaSetVersion {
				return errors.Errorf("expected resource version %s got %s", replicaSetVersion, rs.ResourceVersion)
			}
			return nil
		}),
	}
	return errors.WithMessage(job.Run(ctx, opts...), "smoke test failed")
}
