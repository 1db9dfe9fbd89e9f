package workshop

import (
	"context"
	"fmt"

	"github.com/simplekube/breakfix/pkg/k8s"
	"github.com/simplekube/breakfix/pkg/k8sutil"

	"github.com/pkg/errors"
	"github.com/sourcegraph/conc/pool"
	"go.uber.org/zap"
	appsv1 "k8s.io/api/apps/v1"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"sigs.k8s.io/controller-runtime/pkg/client"
)

// WorkloadReady reports whether the given Deployment or StatefulSet
// runs all its desired replicas. The reason explains a negative answer.
func WorkloadReady(obj client.Object) (bool, string) {
	switch workload := obj.(type) {
	case *appsv1.Deployment:
		desired := desiredReplicas(workload.Spec.Replicas)
		if workload.Status.ObservedGeneration < workload.Generation {
			return false, "rollout not yet observed"
		}
		if workload.Status.UpdatedReplicas < desired {
			return false, fmt.Sprintf("%d/%d replicas updated", workload.Status.UpdatedReplicas, desired)
		}
		if workload.Status.AvailableReplicas < desired {
			return false, fmt.Sprintf("%d/%d replicas available", workload.Status.AvailableReplicas, desired)
		}
		return true, ""
	case *appsv1.StatefulSet:
		desired := desiredReplicas(workload.Spec.Replicas)
		if workload.Status.ObservedGeneration < workload.Generation {
			return false, "rollout not yet observed"
		}
		if workload.Status.ReadyReplicas < desired {
			return false, fmt.Sprintf("%d/%d replicas ready", workload.Status.ReadyReplicas, desired)
		}
		return true, ""
	case nil:
		return false, "not found"
	}
	return true, ""
}

func desiredReplicas(replicas *int32) int32 {
	if replicas == nil {
		return 1
	}
	return *replicas
}

// typedWorkload returns the typed workload for the given object or nil
// if the object is not a workload
func typedWorkload(obj *unstructured.Unstructured) (client.Object, error) {
	var typed client.Object
	switch obj.GetKind() {
	case "Deployment":
		typed = &appsv1.Deployment{}
	case "StatefulSet":
		typed = &appsv1.StatefulSet{}
	default:
		return nil, nil
	}
	if err := k8sutil.ToTyped(obj, typed); err != nil {
		return nil, err
	}
	return typed, nil
}

// waitForWorkloads waits concurrently for every workload among the
// given objects. The first failure cancels the remaining waits.
func (w *Workshop) waitForWorkloads(ctx context.Context, objs []*unstructured.Unstructured, opts ...k8s.RunOption) error {
	p := pool.New().WithContext(ctx).WithCancelOnError()
	for _, obj := range objs {
		workload, err := typedWorkload(obj)
		if err != nil {
			return err
		}
		if workload == nil {
			continue
		}
		p.Go(func(ctx context.Context) error {
			return w.waitForWorkload(ctx, workload, opts...)
		})
	}
	return p.Wait()
}

func (w *Workshop) waitForWorkload(ctx context.Context, workload client.Object, opts ...k8s.RunOption) error {
	var reason string
	err := (&k8s.EventualTask{
		Immediate: true,
		Interval:  w.WaitInterval,
		Timeout:   w.WaitTimeout,
		Task: &k8s.Task{
			It:       "should find " + k8sutil.DescribeObj(workload) + " ready",
			Action:   k8s.ActionTypeGet,
			Resource: workload,
			PostAction: func(observed client.Object) error {
				var ready bool
				ready, reason = WorkloadReady(observed)
				if !ready {
					return errors.New(reason)
				}
				return nil
			},
		},
	}).Run(ctx, opts...)
	if err != nil {
		return errors.Wrapf(err, "%s is not ready", k8sutil.DescribeObj(workload))
	}
	zap.S().Infow("ready", "object", k8sutil.DescribeObj(workload))
	return nil
}
