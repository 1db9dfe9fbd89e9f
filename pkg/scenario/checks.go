package scenario

import (
	"context"

	"github.com/simplekube/breakfix/pkg/k8sutil"
	"github.com/simplekube/breakfix/pkg/workshop"

	"github.com/google/go-cmp/cmp"
	"github.com/pkg/errors"
	"k8s.io/apimachinery/pkg/api/resource"
	"sigs.k8s.io/controller-runtime/pkg/client"
)

// quantities compare by value e.g. 1000m equals 1
var compareQuantity = cmp.Comparer(func(x, y resource.Quantity) bool {
	return x.Cmp(y) == 0
})

// readyCheck asserts that the workload runs all its desired replicas
func readyCheck(workload client.Object) Check {
	name := k8sutil.DescribeObj(workload) + " is ready"
	return Check{
		Name: name,
		Runner: &Task{
			It:       "should find " + name,
			Action:   Get,
			Resource: workload,
			PostAction: func(observed client.Object) error {
				if ready, reason := workshop.WorkloadReady(observed); !ready {
					return errors.New(reason)
				}
				return nil
			},
		},
	}
}

// healthyCheck asserts that the part picked from the observed object
// equals the same part of its healthy manifest
func healthyCheck[T client.Object](name string, obj T, pick func(T) interface{}) Check {
	return Check{
		Name: name,
		Runner: &Custom{
			It: "should match the healthy state: " + name,
			Action: func(ctx context.Context, opts ...RunOption) error {
				healthy := obj.DeepCopyObject().(T)
				if err := workshop.Healthy(obj.GetNamespace(), healthy); err != nil {
					return err
				}
				return observe(ctx, obj, func(observed T) error {
					if diff := cmp.Diff(pick(healthy), pick(observed), compareQuantity); diff != "" {
						return errors.Errorf("differs from the healthy state (-want +got):\n%s", diff)
					}
					return nil
				}, opts...)
			},
		},
	}
}

// carriesHealthyCheck asserts that the observed object carries the
// part of its healthy manifest kept by pick. Fields the cluster adds are
// ignored.
func carriesHealthyCheck[T client.Object](name string, obj T, pick func(healthy T) T) Check {
	return Check{
		Name: name,
		Runner: &Custom{
			It: "should carry the healthy state: " + name,
			Action: func(ctx context.Context, opts ...RunOption) error {
				healthy := obj.DeepCopyObject().(T)
				if err := workshop.Healthy(obj.GetNamespace(), healthy); err != nil {
					return err
				}
				return (&AssertEquals{
					It:       "should find the healthy state of " + k8sutil.DescribeObj(obj),
					Resource: pick(healthy),
				}).Run(ctx, opts...)
			},
		},
	}
}

// customCheck runs the given assertion against the observed object
func customCheck[T client.Object](name string, obj T, assert func(observed T) error) Check {
	return Check{
		Name: name,
		Runner: &Custom{
			It: "should assert " + name,
			Action: func(ctx context.Context, opts ...RunOption) error {
				return observe(ctx, obj, assert, opts...)
			},
		},
	}
}

// observe fetches the object & passes its observed state to fn. A
// missing object is an error.
func observe[T client.Object](ctx context.Context, obj T, fn func(observed T) error, opts ...RunOption) error {
	return (&Task{
		It:       "should get " + k8sutil.DescribeObj(obj),
		Action:   Get,
		Resource: obj,
		PostAction: func(observed client.Object) error {
			if observed == nil {
				return errors.Errorf("%s not found", k8sutil.DescribeObj(obj))
			}
			typed, ok := observed.(T)
			if !ok {
				return errors.Errorf("unexpected type %T", observed)
			}
			return fn(typed)
		},
	}).Run(ctx, opts...)
}

// listCheck runs the given assertion against a list of objects in the
// namespace
func listCheck[L client.ObjectList](name string, list L, assert func(L) error, listOpts ...client.ListOption) Check {
	return Check{
		Name: name,
		Runner: &ListingTask{
			It:          "should list objects to assert " + name,
			Resource:    list,
			ListOptions: listOpts,
			PostAction: func(observed client.ObjectList) error {
				typed, ok := observed.(L)
				if !ok {
					return errors.Errorf("unexpected type %T", observed)
				}
				return assert(typed)
			},
		},
	}
}

// deleteLeftovers removes the given objects created by a scenario
func deleteLeftovers(objs ...client.Object) Runner {
	var job Job
	for _, obj := range objs {
		job = append(job, &DeletingTask{Resource: obj})
	}
	return job
}
