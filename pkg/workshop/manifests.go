package workshop

import (
	"embed"
	"path"

	"github.com/simplekube/breakfix/pkg/k8sutil"

	"github.com/pkg/errors"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"k8s.io/client-go/kubernetes/scheme"
	"sigs.k8s.io/controller-runtime/pkg/client"
	"sigs.k8s.io/controller-runtime/pkg/client/apiutil"
)

//go:embed manifests
var manifestsFS embed.FS

const (
	// PartOfLabel marks every object of the workshop application
	PartOfLabel = "app.kubernetes.io/part-of"

	// TierLabel records the tier an object was deployed with
	TierLabel = "breakfix.io/tier"

	// ScenarioLabel marks the extra objects created by a scenario.
	// Reset removes every object carrying it.
	ScenarioLabel = "breakfix.io/scenario"

	// MaintenanceTaintKey is the node taint used by the scheduling
	// scenario
	MaintenanceTaintKey = "breakfix.io/maintenance"
)

// TierManifests returns the healthy objects of the given tier placed
// in the namespace
func TierManifests(namespace string, tier Tier) ([]*unstructured.Unstructured, error) {
	objs, err := k8sutil.BuildSortedObjectsFromFS(manifestsFS, path.Join("manifests", string(tier)))
	if err != nil {
		return nil, errors.Wrapf(err, "tier %q", tier)
	}
	k8sutil.SetNamespace(objs, namespace)
	for _, obj := range objs {
		labels := obj.GetLabels()
		if labels == nil {
			labels = map[string]string{}
		}
		labels[TierLabel] = string(tier)
		obj.SetLabels(labels)
	}
	return objs, nil
}

// Manifests returns the healthy objects of every tier in deployment
// order
func Manifests(namespace string) ([]*unstructured.Unstructured, error) {
	tiers, err := Tiers()
	if err != nil {
		return nil, err
	}
	var all []*unstructured.Unstructured
	for _, tier := range tiers {
		objs, err := TierManifests(namespace, tier)
		if err != nil {
			return nil, err
		}
		all = append(all, objs...)
	}
	return all, nil
}

// Healthy fills into with the healthy state of the object of the same
// kind & name. The caller sets the name on into.
func Healthy(namespace string, into client.Object) error {
	gvk, err := apiutil.GVKForObject(into, scheme.Scheme)
	if err != nil {
		return errors.Wrap(err, "failed to extract gvk")
	}
	objs, err := Manifests(namespace)
	if err != nil {
		return err
	}
	for _, obj := range objs {
		if obj.GetKind() != gvk.Kind || obj.GetName() != into.GetName() {
			continue
		}
		if err := k8sutil.ToTyped(obj, into); err != nil {
			return errors.Wrapf(err, "%s/%s", gvk.Kind, into.GetName())
		}
		into.GetObjectKind().SetGroupVersionKind(gvk)
		return nil
	}
	return errors.Errorf("no healthy manifest: %s/%s", gvk.Kind, into.GetName())
}
