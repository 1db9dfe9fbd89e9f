package k8sutil

import (
	"sort"

	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"k8s.io/apimachinery/pkg/runtime/schema"
	"sigs.k8s.io/cli-utils/pkg/object"
)

type SortableUnstructureds []*unstructured.Unstructured

var _ sort.Interface = SortableUnstructureds{}

func (a SortableUnstructureds) Len() int      { return len(a) }
func (a SortableUnstructureds) Swap(i, j int) { a[i], a[j] = a[j], a[i] }
func (a SortableUnstructureds) Less(i, j int) bool {
	return less(object.UnstructuredToObjMetadata(a[i]), object.UnstructuredToObjMetadata(a[j]))
}

func less(i, j object.ObjMetadata) bool {
	if i.GroupKind != j.GroupKind {
		return IsLessThan(i.GroupKind, j.GroupKind)
	}
	// ties are broken by namespace & name to keep the
	// output independent of the input order
	if i.Namespace != j.Namespace {
		return i.Namespace < j.Namespace
	}
	return i.Name < j.Name
}

// kinds that must exist before the workloads referring to them; the
// workshop application never ships webhooks or CRDs
var kind2index = computeKind2index()

func computeKind2index() map[string]int {
	orderFirst := []string{
		"Namespace",
		"PriorityClass",
		"StorageClass",
		"PersistentVolume",
		"ServiceAccount",
		"Role",
		"ClusterRole",
		"RoleBinding",
		"ClusterRoleBinding",
		"ConfigMap",
		"Secret",
		"PersistentVolumeClaim",
		"Service",
		"NetworkPolicy",
		"StatefulSet",
		"Deployment",
	}
	index := make(map[string]int, len(orderFirst))
	for i, n := range orderFirst {
		index[n] = -len(orderFirst) + i
	}
	return index
}

// IsLessThan orders group kinds by their position in the apply order
// followed by group & kind names
func IsLessThan(i, j schema.GroupKind) bool {
	indexI := kind2index[i.Kind]
	indexJ := kind2index[j.Kind]
	if indexI != indexJ {
		return indexI < indexJ
	}
	if i.Group != j.Group {
		return i.Group < j.Group
	}
	return i.Kind < j.Kind
}
