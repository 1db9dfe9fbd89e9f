package k8sutil

import (
	"fmt"

	"github.com/pkg/errors"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"k8s.io/apimachinery/pkg/runtime"
	"k8s.io/client-go/kubernetes/scheme"
	"sigs.k8s.io/controller-runtime/pkg/client"
	"sigs.k8s.io/controller-runtime/pkg/client/apiutil"
)

func MaybeAppendUnstructuredList(list []*unstructured.Unstructured, add []*unstructured.Unstructured) []*unstructured.Unstructured {
	for _, a := range add {
		if a == nil || a.Object == nil {
			continue
		}
		list = append(list, a)
	}
	return list
}

// IsKubernetesObject returns true if the provided unstructured instance
// resembles a Kubernetes schema
func IsKubernetesObject(object *unstructured.Unstructured) bool {
	return object.GetName() != "" && object.GetKind() != "" && object.GetAPIVersion() != ""
}

// IsKustomizeObject returns true if the provided unstructured instance
// resembles a Kustomize schema
func IsKustomizeObject(object *unstructured.Unstructured) bool {
	return object.GetKind() == "Kustomization" &&
		object.GroupVersionKind().Group == "kustomize.config.k8s.io"
}

// IsNamespaced returns true if the provided object is namespace scoped
func IsNamespaced(obj client.Object) bool {
	gvk, err := apiutil.GVKForObject(obj, scheme.Scheme)
	if err != nil {
		return true
	}
	switch gvk.Kind {
	case "Namespace", "Node", "PriorityClass", "StorageClass",
		"ClusterRole", "ClusterRoleBinding", "PersistentVolume":
		return false
	}
	return true
}

// SetNamespace places every namespace scoped object in the given namespace
func SetNamespace(objs []*unstructured.Unstructured, namespace string) {
	for _, obj := range objs {
		if IsNamespaced(obj) {
			obj.SetNamespace(namespace)
		}
	}
}

// DescribeObj returns a string format of the provided
// object that may be used for logging purposes
func DescribeObj(obj client.Object) string {
	gvk, _ := apiutil.GVKForObject(obj, scheme.Scheme)
	if obj.GetNamespace() == "" {
		return fmt.Sprintf("%s/%s", gvk.Kind, obj.GetName())
	}
	return fmt.Sprintf("%s/%s/%s", gvk.Kind, obj.GetNamespace(), obj.GetName())
}

// ObjKey returns a string that can be used as a key
// to store objects of type client.Object
func ObjKey(obj client.Object) string {
	gvk, _ := apiutil.GVKForObject(obj, scheme.Scheme)
	return fmt.Sprintf("%s:%s:%s", obj.GetNamespace(), obj.GetName(), gvk)
}

// ToTyped transforms the provided unstructured instance
// to dest instance
func ToTyped(src *unstructured.Unstructured, dest interface{}) error {
	if src == nil || src.Object == nil {
		return errors.New("can't transform to typed: nil src")
	}
	if dest == nil {
		return errors.New("can't transform to typed: nil dest")
	}
	return runtime.DefaultUnstructuredConverter.FromUnstructured(src.UnstructuredContent(), dest)
}

// ToUnstructured transforms the provided typed object, setting its
// apiVersion & kind from the client-go scheme
func ToUnstructured(obj client.Object) (*unstructured.Unstructured, error) {
	if obj == nil {
		return nil, errors.New("can't transform to unstructured: nil src")
	}
	gvk, err := apiutil.GVKForObject(obj, scheme.Scheme)
	if err != nil {
		return nil, errors.Wrap(err, "failed to extract gvk")
	}
	content, err := runtime.DefaultUnstructuredConverter.ToUnstructured(obj)
	if err != nil {
		return nil, errors.Wrap(err, "failed to convert to unstructured")
	}
	un := &unstructured.Unstructured{Object: content}
	un.SetGroupVersionKind(gvk)
	return un, nil
}
