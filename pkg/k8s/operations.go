package k8s

import (
	"context"

	"github.com/simplekube/breakfix/pkg/apply"

	"github.com/google/go-cmp/cmp"
	"github.com/pkg/errors"
	"k8s.io/apimachinery/pkg/api/equality"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"k8s.io/apimachinery/pkg/runtime"
	"sigs.k8s.io/controller-runtime/pkg/client"
	"sigs.k8s.io/controller-runtime/pkg/client/apiutil"
)

// OperationResult is the action result of a CreateOrMerge call.
//
// credit: https://github.com/kubernetes-sigs/controller-runtime/tree/master/pkg/controller/controllerutil
type OperationResult string

const (
	// OperationResultNone implies that the resource was not changed
	OperationResultNone OperationResult = "unchanged"

	// OperationResultCreated implies that a new resource got created
	OperationResultCreated OperationResult = "created"

	// OperationResultUpdated implies that an existing resource got updated
	OperationResultUpdated OperationResult = "updated"
)

// CreateOrMerge creates or merges the desired object in the Kubernetes
// cluster. The desired state is merged into the observed state found
// in the cluster. On success desired is refreshed with the state found
// in the cluster.
func CreateOrMerge(ctx context.Context, cli client.Client, rscheme *runtime.Scheme, desired client.Object) (OperationResult, error) {
	result, err := createOrMerge(ctx, cli, rscheme, desired)
	if err == nil {
		// error if any is ignored since the write has succeeded
		_ = cli.Get(ctx, client.ObjectKeyFromObject(desired), desired)
	}
	return result, err
}

func createOrMerge(ctx context.Context, cli client.Client, rscheme *runtime.Scheme, desired client.Object) (OperationResult, error) {
	if cli == nil {
		return OperationResultNone, errors.New("nil client")
	}
	if desired == nil {
		return OperationResultNone, errors.New("nil desired object")
	}
	if rscheme == nil {
		rscheme = _defaultScheme()
	}
	gvk, err := apiutil.GVKForObject(desired, rscheme)
	if err != nil {
		return OperationResultNone, errors.Wrap(err, "failed to extract gvk")
	}

	// observed is filled with the state found in the cluster
	observed := &unstructured.Unstructured{}
	observed.SetGroupVersionKind(gvk)
	if err := cli.Get(ctx, client.ObjectKeyFromObject(desired), observed); err != nil {
		if !apierrors.IsNotFound(err) {
			return OperationResultNone, errors.Wrap(err, "failed to get resource")
		}
		if err := cli.Create(ctx, desired, client.FieldOwner(FieldManager)); err != nil {
			return OperationResultNone, errors.Wrap(err, "failed to create resource")
		}
		return OperationResultCreated, nil
	}

	observedObj, mergedObj, err := ToComparableObjects(observed, desired)
	if err != nil {
		return OperationResultNone, err
	}
	if equality.Semantic.DeepEqual(observedObj, mergedObj) {
		return OperationResultNone, nil
	}

	// status is owned by controllers & is never written back
	unstructured.RemoveNestedField(mergedObj.Object, "status")
	if err := cli.Update(ctx, mergedObj, client.FieldOwner(FieldManager)); err != nil {
		return OperationResultNone, errors.Wrap(err, "failed to update to desired state")
	}
	return OperationResultUpdated, nil
}

// CreateOrReplace creates the desired object or replaces the observed
// one with it. Unlike CreateOrMerge the fields missing in desired are
// dropped from the cluster state & an update is always sent.
func CreateOrReplace(ctx context.Context, cli client.Client, rscheme *runtime.Scheme, desired client.Object) (OperationResult, error) {
	if cli == nil {
		return OperationResultNone, errors.New("nil client")
	}
	if desired == nil {
		return OperationResultNone, errors.New("nil desired object")
	}
	if rscheme == nil {
		rscheme = _defaultScheme()
	}
	gvk, err := apiutil.GVKForObject(desired, rscheme)
	if err != nil {
		return OperationResultNone, errors.Wrap(err, "failed to extract gvk")
	}
	observed := &unstructured.Unstructured{}
	observed.SetGroupVersionKind(gvk)
	err = cli.Get(ctx, client.ObjectKeyFromObject(desired), observed)
	if apierrors.IsNotFound(err) {
		if err := cli.Create(ctx, desired, client.FieldOwner(FieldManager)); err != nil {
			return OperationResultNone, errors.Wrap(err, "failed to create resource")
		}
		return OperationResultCreated, nil
	}
	if err != nil {
		return OperationResultNone, errors.Wrap(err, "failed to get resource")
	}
	desired.SetResourceVersion(observed.GetResourceVersion())
	if err := cli.Update(ctx, desired, client.FieldOwner(FieldManager)); err != nil {
		return OperationResultNone, errors.Wrap(err, "failed to replace resource")
	}
	return OperationResultUpdated, nil
}

// ToComparableObjects merges the provided desired state with the
// provided observed state to form a merged state. As the function name
// suggests, this is useful before running DeepEqual check.
//
// Note:
// - Merge is done on the basis of fields present in the desired object
// - Merge is purely a client side implementation i.e. Kubernetes APIs
// are not involved in the process
// - Merged state differs from the observed state if the desired state is not
// a subset of the observed state.
// - Merged state takes care of Kubernetes read only system fields by copying
// them from the observed state into the merged state
func ToComparableObjects(observed, desired client.Object) (observedObj, mergedObj *unstructured.Unstructured, err error) {
	if observed == nil {
		return nil, nil, errors.New("nil observed")
	}
	if desired == nil {
		return nil, nil, errors.New("nil desired")
	}
	observedUnstruct, err := runtime.DefaultUnstructuredConverter.ToUnstructured(observed.DeepCopyObject())
	if err != nil {
		return nil, nil, errors.Wrap(err, "convert observed to unstructured")
	}
	desiredUnstruct, err := runtime.DefaultUnstructuredConverter.ToUnstructured(desired.DeepCopyObject())
	if err != nil {
		return nil, nil, errors.Wrap(err, "convert desired to unstructured")
	}

	// null entries in desired would otherwise show up as false diffs
	desiredUnstruct, err = DeleteNullInUnstructuredMap(desiredUnstruct)
	if err != nil {
		return nil, nil, errors.Wrap(err, "remove null from desired")
	}

	mergedUnstruct, err := apply.Merge(observedUnstruct, runtime.DeepCopyJSON(desiredUnstruct), desiredUnstruct)
	if err != nil {
		return nil, nil, err
	}

	observedObj = &unstructured.Unstructured{Object: observedUnstruct}
	mergedObj = &unstructured.Unstructured{Object: mergedUnstruct}

	// typed objects read back from the API server lose their TypeMeta
	gvk, err := apiutil.GVKForObject(desired, _defaultScheme())
	if err == nil {
		observedObj.SetGroupVersionKind(gvk)
		mergedObj.SetGroupVersionKind(gvk)
	}

	if err := overrideObjectMetaSystemFields(mergedObj, observedObj); err != nil {
		return nil, nil, err
	}
	return observedObj, mergedObj, nil
}

// IsEqualWithDiffOutput matches any Kubernetes resource for equality. A
// match is found if desired object's fields matches the corresponding fields
// of observed object. Desired object's field values may be an exact match or
// may be a subset of corresponding values found in observed object.
//
// Note: Diff response is formatted as -observed +merged
func IsEqualWithDiffOutput(observed, desired client.Object) (bool, string, error) {
	observedObj, mergedObj, err := ToComparableObjects(observed, desired)
	if err != nil {
		return false, "", err
	}
	if equality.Semantic.DeepEqual(observedObj, mergedObj) {
		return true, "", nil
	}
	return false, cmp.Diff(observedObj.Object, mergedObj.Object), nil
}
