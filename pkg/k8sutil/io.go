package k8sutil

import (
	"io"

	"github.com/pkg/errors"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"k8s.io/apimachinery/pkg/runtime"
	yamlutil "k8s.io/apimachinery/pkg/util/yaml"
)

// ReadKubernetesObjects decodes the YAML or JSON documents from the provided
// reader into unstructured Kubernetes API objects. Items of a List are
// flattened. Documents without a name, kind or apiVersion are dropped and so
// are Kustomization documents.
func ReadKubernetesObjects(r io.Reader) ([]*unstructured.Unstructured, error) {
	decoder := yamlutil.NewYAMLOrJSONDecoder(r, 4096)
	objects := make([]*unstructured.Unstructured, 0)

	var keep = func(obj *unstructured.Unstructured) {
		if IsKubernetesObject(obj) && !IsKustomizeObject(obj) {
			objects = append(objects, obj)
		}
	}

	for {
		obj := &unstructured.Unstructured{}
		err := decoder.Decode(obj)
		if err != nil {
			if err == io.EOF {
				break
			}
			return objects, errors.Wrap(err, "decode to unstructured")
		}
		if obj.Object == nil {
			// empty document e.g. a trailing '---'
			continue
		}

		if obj.IsList() {
			_ = obj.EachListItem(func(item runtime.Object) error {
				if un, ok := item.(*unstructured.Unstructured); ok {
					keep(un)
				}
				return nil
			})
			continue
		}
		keep(obj)
	}

	return objects, nil
}
