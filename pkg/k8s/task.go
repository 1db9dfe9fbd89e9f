package k8s

import (
	"context"
	"fmt"

	"github.com/pkg/errors"
	"go.uber.org/zap"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/runtime"
	"sigs.k8s.io/controller-runtime/pkg/client"
	"sigs.k8s.io/controller-runtime/pkg/client/apiutil"
)

// Task defines the task against a single Kubernetes
// resource. This defines one of the smallest unit of
// Kubernetes work.
type Task struct {
	// It describes the intention of this task
	//
	// e.g. It "should replace the backend image"
	// e.g. It "should assert absence of the deny-all policy"
	It string

	// Action defines the operation i.e. create, patch, delete, etc.
	Action ActionType

	// Resource represents the Kubernetes object against
	// which this task is supposed to get executed
	Resource client.Object

	// Patch is sent when Action is Patch
	Patch client.Patch

	// Assert defines the verification to be executed post
	// the execution of this task e.g. Equals, NotEquals,
	// NotFound, etc.
	Assert AssertType

	// IgnoreNotFound when true turns a Delete or Patch of a missing
	// resource into a noop instead of a failure
	IgnoreNotFound bool

	// Skip will skip run of this task if it returns true
	Skip func(object client.Object) (bool, error)

	// PostAction accepts a callback function that gets executed
	// against the resource found in the Kubernetes cluster
	// i.e. actual object (also known as observed state)
	PostAction func(object client.Object) error

	// PreAction accepts a callback function that gets executed
	// against the provided resource before invoking this task
	PreAction func(object client.Object) error
}

func (t *Task) Build() Runner {
	return &runnableTask{
		task: t,
	}
}

func (t *Task) Run(ctx context.Context, opts ...RunOption) error {
	return t.Build().Run(ctx, opts...)
}

// runnableTask executes a Kubernetes task
type runnableTask struct {
	client    client.Client
	scheme    *runtime.Scheme
	task      *Task
	assert    AssertType
	givenObj  client.Object
	actualObj client.Object
	isSkip    bool
}

// compile time check to verify if the structure
// runnableTask implements the interface Runner
var _ Runner = (*runnableTask)(nil)

func (r *runnableTask) Run(ctx context.Context, opts ...RunOption) error {
	var errWrap = func(err error) error {
		if err == nil {
			return nil
		}
		var reporting = r.actualObj
		if reporting == nil {
			reporting = r.task.Resource
		}
		if reporting == nil {
			return errors.Wrapf(err, "task %q: action %q", fmt.Sprintf("It %s", r.task.It), r.task.Action)
		}
		gvk, _ := apiutil.GVKForObject(reporting, r.schemeOrDefault())
		return errors.Wrapf(
			err,
			"task %q: action %q: assert %q: ns %q: name %q: gvk %q",
			fmt.Sprintf("It %s", r.task.It),
			r.task.Action,
			r.assert,
			reporting.GetNamespace(),
			reporting.GetName(),
			gvk,
		)
	}

	if r.task.Resource == nil {
		return errWrap(errors.New("nil resource"))
	}

	// 0/ build the RunOptions instance
	runOpts, err := makeRunOptions(opts...)
	if err != nil {
		return errWrap(err)
	}

	// 1/ execute pre action logic
	err = r.preAction(*runOpts)
	if err != nil {
		return errWrap(err)
	}

	// 2/ verify if this task should be run
	if r.isSkip {
		zap.L().Debug("skipped", zap.String("it", r.task.It))
		return nil
	}

	zap.L().Debug("run",
		zap.String("it", r.task.It),
		zap.String("action", string(r.task.Action)),
		zap.String("name", r.givenObj.GetName()),
		zap.String("namespace", r.givenObj.GetNamespace()),
	)

	// 3/ execute the action
	err = r.action(ctx)
	if err != nil {
		return errWrap(err)
	}

	// 4/ execute post action logic
	err = r.postAction()
	if err != nil {
		return errWrap(err)
	}

	// 5/ execute assertion logic
	return errWrap(r.verify())
}

func (r *runnableTask) schemeOrDefault() *runtime.Scheme {
	if r.scheme != nil {
		return r.scheme
	}
	return _defaultScheme()
}

func (r *runnableTask) preAction(opts RunOptions) error {
	// make copies of the given resource
	r.givenObj = r.task.Resource.DeepCopyObject().(client.Object)
	r.actualObj = r.task.Resource.DeepCopyObject().(client.Object)

	if r.task.Skip != nil {
		isSkip, err := r.task.Skip(r.givenObj)
		if err != nil {
			return err
		}
		r.isSkip = isSkip
	}
	if r.isSkip {
		// no need to proceed further
		return nil
	}

	r.client = opts.Client
	r.scheme = opts.Scheme

	// run the callback if any against the given & actual objects
	//
	// Note: since given and actual objects are still same in pre-action
	// both of them are run against PreAction callback
	if r.task.PreAction != nil {
		err := r.task.PreAction(r.givenObj)
		if err != nil {
			return err
		}
		err = r.task.PreAction(r.actualObj)
		if err != nil {
			return err
		}
	}

	// assert can be optional if Task is only action based
	r.assert = r.task.Assert
	if r.assert == "" {
		r.assert = AssertTypeIsNoop
	}
	return nil
}

func (r *runnableTask) action(ctx context.Context) error {
	var err error

	switch r.task.Action {
	case ActionTypeCreate:
		err = r.create(ctx)
	case ActionTypeGet:
		err = r.client.Get(ctx, client.ObjectKeyFromObject(r.actualObj), r.actualObj)
	case ActionTypeDelete:
		err = r.delete(ctx)
	case ActionTypeCreateOrMerge:
		err = r.createOrMerge(ctx)
	case ActionTypeUpdate:
		err = r.client.Update(ctx, r.actualObj, client.FieldOwner(FieldManager))
	case ActionTypePatch:
		err = r.patch(ctx)
	case ActionTypeReplace:
		err = r.replace(ctx)
	default:
		err = errors.Errorf("un-supported action %q", r.task.Action)
	}
	if err == nil {
		return nil
	}
	if !apierrors.IsNotFound(err) {
		return err
	}
	switch r.task.Action {
	case ActionTypeGet:
		// IsNotFound error is not treated as an error since
		// observed object is set to nil
		r.actualObj = nil
		return nil
	case ActionTypeDelete, ActionTypePatch:
		if r.task.IgnoreNotFound {
			r.actualObj = nil
			return nil
		}
	}
	return err
}

func (r *runnableTask) postAction() error {
	if r.task.PostAction == nil {
		return nil
	}
	return r.task.PostAction(r.actualObj)
}

func (r *runnableTask) delete(ctx context.Context) error {
	return r.client.Delete(ctx, r.actualObj, client.PropagationPolicy(metav1.DeletePropagationBackground))
}

func (r *runnableTask) patch(ctx context.Context) error {
	if r.task.Patch == nil {
		return errors.New("nil patch")
	}
	return r.client.Patch(ctx, r.actualObj, r.task.Patch, client.FieldOwner(FieldManager))
}

func (r *runnableTask) create(ctx context.Context) error {
	err := r.client.Create(ctx, r.actualObj, client.FieldOwner(FieldManager))
	if err == nil {
		// created resources are remembered for Teardown
		registerForGC(r.actualObj)
	}
	return err
}

// createOrMerge merges the provided Resource in the Kubernetes cluster
//
// Note: Merge happens only if there is a difference between given
// and observed states. If there is no difference this operation
// becomes a noop.
func (r *runnableTask) createOrMerge(ctx context.Context) error {
	result, err := CreateOrMerge(ctx, r.client, r.schemeOrDefault(), r.actualObj)
	if result == OperationResultCreated {
		registerForGC(r.actualObj)
	}
	return err
}

// replace overwrites the observed state with the given one; fields
// absent in the given state are dropped
func (r *runnableTask) replace(ctx context.Context) error {
	result, err := CreateOrReplace(ctx, r.client, r.schemeOrDefault(), r.actualObj)
	if result == OperationResultCreated {
		registerForGC(r.actualObj)
	}
	return err
}

func (r *runnableTask) verify() error {
	var matchOrErr = func(want bool) error {
		if r.actualObj == nil {
			return errors.Errorf("nil actual object: cannot run equality check")
		}
		isEqual, diff, err := IsEqualWithDiffOutput(r.actualObj, r.givenObj)
		if err != nil {
			return errors.Wrap(err, "failed to verify object equality")
		}
		if isEqual == want {
			return nil
		}
		if want {
			return errors.Errorf("assert failed: want \"equals\": got \"not equals\": diff -observed +desired\n%s", diff)
		}
		return errors.New("assert failed: want \"not equals\": got \"equals\"")
	}

	switch r.assert {
	case AssertTypeIsEquals:
		return matchOrErr(true)
	case AssertTypeIsNotEquals:
		return matchOrErr(false)
	case AssertTypeIsNotFound:
		if r.actualObj != nil {
			return errors.New("assert failed: got a resource while expecting none")
		}
	case AssertTypeIsFound:
		if r.actualObj == nil {
			return errors.New("assert failed: got no resource while expecting one")
		}
	case AssertTypeIsNoop:
		// do nothing since this task might be only an action
	default:
		return errors.Errorf("un-supported assert type %q", r.assert)
	}
	return nil
}

// ListingTask defines the structure to list Kubernetes resources
// of same type. This defines one of the smallest unit of Kubernetes work.
type ListingTask struct {
	// It describes the intention of this task
	//
	// e.g. It "should list the backend pods"
	It string

	// Resource represents the Kubernetes object list against
	// which this task is supposed to get executed
	Resource client.ObjectList

	// ListOptions provide the filtering options if any
	// that are executed during the list operation
	ListOptions []client.ListOption

	// PostAction accepts a callback function that gets executed
	// against the resource(s) found in the Kubernetes cluster
	// i.e. actual objects (also known as observed states)
	PostAction func(object client.ObjectList) error
}

// compile time check to verify if the structure
// ListingTask implements the interface Runner
var _ Runner = (*ListingTask)(nil)

func (l *ListingTask) Run(ctx context.Context, opts ...RunOption) error {
	var errWrap = func(err error) error {
		if err == nil {
			return nil
		}
		return errors.Wrapf(err, "task %q: action \"List\": type %T", fmt.Sprintf("It %s", l.It), l.Resource)
	}
	if l.Resource == nil {
		return errWrap(errors.New("nil resource"))
	}
	runOpts, err := makeRunOptions(opts...)
	if err != nil {
		return errWrap(err)
	}

	zap.L().Debug("run", zap.String("it", l.It), zap.String("action", "List"))

	actual := l.Resource.DeepCopyObject().(client.ObjectList)
	if err := runOpts.Client.List(ctx, actual, l.ListOptions...); err != nil {
		return errWrap(err)
	}
	if l.PostAction == nil {
		return nil
	}
	return errWrap(l.PostAction(actual))
}
