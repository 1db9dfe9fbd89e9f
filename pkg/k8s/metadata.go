package k8s

import (
	"github.com/pkg/errors"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"k8s.io/apimachinery/pkg/runtime"
)

// credit: https://github.com/AmitKumarDas/metac/tree/master/controller/common

// objectMetaSystemFields are the read-only ObjectMeta fields populated
// by the API server. A desired state never owns them.
var objectMetaSystemFields = []string{
	"selfLink",
	"uid",
	"resourceVersion",
	"generation",
	"creationTimestamp",
	"deletionTimestamp",
	"deletionGracePeriodSeconds",
	"managedFields",
}

// overrideObjectMetaSystemFields copies the system populated fields of
// src into dest. Fields absent in src are removed from dest.
func overrideObjectMetaSystemFields(dest, src *unstructured.Unstructured) error {
	for _, field := range objectMetaSystemFields {
		path := []string{"metadata", field}
		val, found, err := unstructured.NestedFieldNoCopy(src.Object, path...)
		if err != nil {
			return errors.Wrapf(err, "failed to lookup %q", path)
		}
		if !found {
			unstructured.RemoveNestedField(dest.Object, path...)
			continue
		}
		if err := unstructured.SetNestedField(dest.Object, runtime.DeepCopyJSONValue(val), path...); err != nil {
			return errors.Wrapf(err, "failed to override %q", path)
		}
	}
	return nil
}

