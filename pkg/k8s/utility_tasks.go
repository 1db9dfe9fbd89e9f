package k8s

import (
	"context"
	"fmt"
	"time"

	"github.com/simplekube/breakfix/pkg/k8sutil"
	"github.com/simplekube/breakfix/pkg/util"

	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"
	"go.uber.org/zap"
	corev1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"sigs.k8s.io/controller-runtime/pkg/client"
	"sigs.k8s.io/controller-runtime/pkg/client/apiutil"
)

// This file composes Task(s) into the shapes used by the workshop
// i.e. ordered jobs, custom steps, eventual checks & cleanup.

// Job runs multiple Runner instances one after the other & stops
// at the first failure
type Job []Runner

// compile time check to verify if the structure
// Job implements the interface Runner
var _ Runner = (Job)(nil)

func (j Job) Run(ctx context.Context, opts ...RunOption) error {
	for idx, runner := range j {
		if err := ctx.Err(); err != nil {
			return errors.Wrapf(err, "#%d/%d", idx+1, len(j))
		}
		if err := runner.Run(ctx, opts...); err != nil {
			return errors.WithMessagef(err, "#%d/%d", idx+1, len(j))
		}
	}
	return nil
}

// Tasks is used to run more than one instances of Task
type Tasks []*Task

// compile time check to verify if the structure
// Tasks implements the interface Runner
var _ Runner = (Tasks)(nil)

func (t Tasks) Run(ctx context.Context, opts ...RunOption) error {
	job := make(Job, 0, len(t))
	for _, task := range t {
		job = append(job, task)
	}
	return job.Run(ctx, opts...)
}

// Lists is used to run more than one instance of ListingTask
type Lists []*ListingTask

// compile time check to verify if the structure
// Lists implements the interface Runner
var _ Runner = (Lists)(nil)

func (l Lists) Run(ctx context.Context, opts ...RunOption) error {
	job := make(Job, 0, len(l))
	for _, listing := range l {
		job = append(job, listing)
	}
	return job.Run(ctx, opts...)
}

// CustomTask provides the ability to execute any custom logic
// while adhering to Runner interface
type CustomTask struct {
	It     string
	Action func(ctx context.Context, opts ...RunOption) error
}

// compile time check to verify if the structure
// CustomTask implements the interface Runner
var _ Runner = (*CustomTask)(nil)

func (t *CustomTask) Run(ctx context.Context, opts ...RunOption) error {
	if t.It == "" {
		return errors.New("missing description")
	}
	if t.Action == nil {
		return errors.New("missing action")
	}
	zap.L().Debug("run", zap.String("it", t.It), zap.String("action", "Custom"))
	return errors.Wrapf(t.Action(ctx, opts...), "task %q: action \"Custom\"", fmt.Sprintf("It %s", t.It))
}

// AssertIsEqualsTask fetches the provided resource & asserts the given
// state is a subset of the state observed in the cluster
type AssertIsEqualsTask struct {
	It       string
	Resource client.Object

	// [optional] callback that gets executed against the observed state
	PostAction func(object client.Object) error
}

// compile time check to verify if the structure
// AssertIsEqualsTask implements the interface Runner
var _ Runner = (*AssertIsEqualsTask)(nil)

func (t *AssertIsEqualsTask) Run(ctx context.Context, opts ...RunOption) error {
	desc := t.It
	if desc == "" {
		desc = "should assert the desired state of " + k8sutil.DescribeObj(t.Resource)
	}
	return (&Task{
		It:         desc,
		Action:     ActionTypeGet,
		Resource:   t.Resource,
		PostAction: t.PostAction,
		Assert:     AssertTypeIsEquals,
	}).Run(ctx, opts...)
}

// AssertPodListCountTask ensures the observed count of pods matches
// the expected count
type AssertPodListCountTask struct {
	It            string
	ListOptions   []client.ListOption
	ExpectedCount int

	// [optional] only pods accepted by the filter are counted
	Filter func(pod corev1.Pod) bool
}

// compile time check to verify if the structure
// AssertPodListCountTask implements the interface Runner
var _ Runner = (*AssertPodListCountTask)(nil)

func (t *AssertPodListCountTask) Run(ctx context.Context, opts ...RunOption) error {
	return (&ListingTask{
		It:          t.It,
		Resource:    &corev1.PodList{},
		ListOptions: t.ListOptions,
		PostAction: func(obj client.ObjectList) error {
			podList, _ := obj.(*corev1.PodList)
			var count int
			for _, pod := range podList.Items {
				if t.Filter == nil || t.Filter(pod) {
					count++
				}
			}
			if count != t.ExpectedCount {
				return errors.Errorf("expected %d pod(s) got %d", t.ExpectedCount, count)
			}
			return nil
		},
	}).Run(ctx, opts...)
}

// NodeTaintTask adds or removes a taint on every node selected by the
// list options. Nodes already in the wanted state are left untouched.
type NodeTaintTask struct {
	It          string
	Taint       corev1.Taint
	Remove      bool
	ListOptions []client.ListOption
}

// compile time check to verify if the structure
// NodeTaintTask implements the interface Runner
var _ Runner = (*NodeTaintTask)(nil)

func (t *NodeTaintTask) Run(ctx context.Context, opts ...RunOption) error {
	if t.Taint.Key == "" {
		return errors.New("missing taint key")
	}
	runOpts, err := makeRunOptions(opts...)
	if err != nil {
		return err
	}
	nodes := &corev1.NodeList{}
	if err := runOpts.Client.List(ctx, nodes, t.ListOptions...); err != nil {
		return errors.Wrapf(err, "task %q: failed to list nodes", fmt.Sprintf("It %s", t.It))
	}
	for i := range nodes.Items {
		node := &nodes.Items[i]
		taints, changed := t.apply(node.Spec.Taints)
		if !changed {
			continue
		}
		original := node.DeepCopy()
		node.Spec.Taints = taints
		if err := runOpts.Client.Patch(ctx, node, client.MergeFrom(original), client.FieldOwner(FieldManager)); err != nil {
			return errors.Wrapf(err, "task %q: node %q", fmt.Sprintf("It %s", t.It), node.Name)
		}
		zap.L().Debug("node taints updated",
			zap.String("node", node.Name),
			zap.String("taint", t.Taint.ToString()),
			zap.Bool("removed", t.Remove),
		)
	}
	return nil
}

// apply returns the taints a node should have. A removal with an empty
// effect drops every taint with the same key.
func (t *NodeTaintTask) apply(given []corev1.Taint) ([]corev1.Taint, bool) {
	if t.Remove {
		kept := make([]corev1.Taint, 0, len(given))
		for _, taint := range given {
			if taint.Key == t.Taint.Key && (t.Taint.Effect == "" || taint.Effect == t.Taint.Effect) {
				continue
			}
			kept = append(kept, taint)
		}
		return kept, len(kept) != len(given)
	}
	result := append([]corev1.Taint(nil), given...)
	for i := range result {
		if !result[i].MatchTaint(&t.Taint) {
			continue
		}
		if result[i].Value == t.Taint.Value {
			return given, false
		}
		result[i].Value = t.Taint.Value
		return result, true
	}
	return append(result, t.Taint), true
}

const (
	DefaultEventualInterval = 3 * time.Second
	DefaultEventualTimeout  = 2 * time.Minute
)

// EventualTask runs the wrapped Runner till it succeeds, the timeout
// elapses or the context is cancelled
type EventualTask struct {
	Task Runner

	// Interval & Timeout fall back to their defaults when zero
	Interval  time.Duration
	Timeout   time.Duration
	Immediate bool
}

// compile time check to verify if the structure
// EventualTask implements the interface Runner
var _ Runner = (*EventualTask)(nil)

func (t *EventualTask) Run(ctx context.Context, opts ...RunOption) error {
	if t.Task == nil {
		return errors.New("nil eventual task")
	}
	rOpts := util.RetryOptions{
		Interval:  t.Interval,
		Timeout:   t.Timeout,
		Immediate: t.Immediate,
	}
	if rOpts.Interval == 0 {
		rOpts.Interval = DefaultEventualInterval
	}
	if rOpts.Timeout == 0 {
		rOpts.Timeout = DefaultEventualTimeout
	}
	return util.Retry(ctx, rOpts, func(ctx context.Context) (bool, error) {
		err := t.Task.Run(ctx, opts...)
		return err == nil, err
	})
}

// DeletingTask deletes a Kubernetes resource after stripping its
// finalizers & waits till the resource is gone
type DeletingTask struct {
	Resource client.Object

	// [optional] how long to wait for the resource to disappear
	Timeout time.Duration
}

// compile time check to verify if the structure
// DeletingTask implements the interface Runner
var _ Runner = (*DeletingTask)(nil)

// compile time check to verify if the structure
// DeletingTask implements the interface RegistrarEntry
var _ RegistrarEntry = (*DeletingTask)(nil)

func (t *DeletingTask) Key() Key {
	return Key(k8sutil.ObjKey(t.Resource))
}

func (t *DeletingTask) Type() EntityType {
	return EntityTypeGarbageCollector
}

func (t *DeletingTask) Run(ctx context.Context, opts ...RunOption) error {
	if t.Resource == nil {
		return nil
	}
	runOpts, err := makeRunOptions(opts...)
	if err != nil {
		return err
	}

	// the resource is handled as unstructured since only its
	// metadata is touched
	gvk, err := apiutil.GVKForObject(t.Resource, runOpts.Scheme)
	if err != nil {
		return errors.Wrap(err, "failed to extract gvk")
	}
	target := &unstructured.Unstructured{}
	target.SetGroupVersionKind(gvk)
	target.SetNamespace(t.Resource.GetNamespace())
	target.SetName(t.Resource.GetName())

	var (
		isGone        bool
		hasFinalizers bool
		isTerminating bool
	)

	steps := Job{
		&Task{
			It:       "should fetch " + k8sutil.DescribeObj(target),
			Action:   ActionTypeGet,
			Resource: target,
			PostAction: func(obj client.Object) error {
				if obj == nil {
					isGone = true
					return nil
				}
				hasFinalizers = len(obj.GetFinalizers()) != 0
				isTerminating = obj.GetDeletionTimestamp() != nil
				return nil
			},
		},
		&CustomTask{
			It: "should remove finalizers of " + k8sutil.DescribeObj(target),
			Action: func(ctx context.Context, _ ...RunOption) error {
				if isGone || !hasFinalizers {
					return nil
				}
				observed := target.DeepCopy()
				if err := runOpts.Client.Get(ctx, client.ObjectKeyFromObject(observed), observed); err != nil {
					return client.IgnoreNotFound(err)
				}
				stripped := observed.DeepCopy()
				stripped.SetFinalizers(nil)
				err := runOpts.Client.Patch(ctx, stripped, client.MergeFrom(observed))
				return client.IgnoreNotFound(err)
			},
		},
		&Task{
			It:             "should delete " + k8sutil.DescribeObj(target),
			Action:         ActionTypeDelete,
			Resource:       target,
			IgnoreNotFound: true,
			Skip: func(_ client.Object) (bool, error) {
				return isGone || isTerminating, nil
			},
		},
		&EventualTask{
			Immediate: true,
			Timeout:   t.Timeout,
			Task: &Task{
				It:       "should eventually assert absence of " + k8sutil.DescribeObj(target),
				Action:   ActionTypeGet,
				Resource: target,
				Assert:   AssertTypeIsNotFound,
			},
		},
	}
	return steps.Run(ctx, runOpts)
}

// registerForGC remembers the created resource so that Teardown can
// delete it later
func registerForGC(obj client.Object) {
	if obj == nil {
		return
	}
	reg := getDefaultGCRegistry()
	entry := &DeletingTask{Resource: obj.DeepCopyObject().(client.Object)}
	if reg.IsRegistered(entry.Key()) {
		return
	}
	if err := reg.Register(entry); err != nil {
		zap.L().Warn("failed to register for teardown", zap.String("key", string(entry.Key())), zap.Error(err))
	}
}

// Teardown deletes the resources that were created via this package in
// the reverse order of their creation. Every resource is attempted
// irrespective of failures.
func Teardown(ctx context.Context, opts ...RunOption) error {
	var result *multierror.Error

	reg := getDefaultGCRegistry()
	keys := reg.GetKeys()
	for i := len(keys) - 1; i >= 0; i-- {
		err := reg.Get(keys[i]).Run(ctx, opts...)
		if err != nil && !apierrors.IsNotFound(errors.Cause(err)) {
			result = multierror.Append(result, err)
			continue
		}
		reg.Unregister(keys[i])
	}
	return result.ErrorOrNil()
}
