package k8sutil

import (
	"io/fs"
	"path"
	"sort"

	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
)

// BuildSortedObjectsFromFS decodes every manifest found below dir and
// orders the result so that dependencies e.g. namespaces & service accounts
// come before the workloads that need them
func BuildSortedObjectsFromFS(fsys fs.FS, dir string) ([]*unstructured.Unstructured, error) {
	objs, err := BuildObjectsFromFS(fsys, dir)
	if err != nil {
		return nil, err
	}
	sort.Stable(SortableUnstructureds(objs))
	return objs, nil
}

// BuildObjectsFromFS decodes every manifest found below dir. Files are
// visited in lexical order & objects keep the order of their documents.
func BuildObjectsFromFS(fsys fs.FS, dir string) ([]*unstructured.Unstructured, error) {
	manifests, err := ScanForYMLs(fsys, dir)
	if err != nil {
		return nil, err
	}
	if len(manifests) == 0 {
		return nil, errors.Errorf("no manifests found: dir %q", dir)
	}

	var objects = make([]*unstructured.Unstructured, 0, len(manifests))
	var result *multierror.Error
	for _, manifest := range manifests {
		f, err := fsys.Open(manifest)
		if err != nil {
			result = multierror.Append(result, errors.Wrapf(err, "yaml %q", manifest))
			continue
		}
		objs, err := ReadKubernetesObjects(f)
		f.Close()
		if err != nil {
			result = multierror.Append(result, errors.Wrapf(err, "yaml %q", manifest))
			continue
		}
		objects = MaybeAppendUnstructuredList(objects, objs)
	}
	return objects, result.ErrorOrNil()
}

// ScanForYMLs lists the yaml files present in the provided directory &
// its sub-directories if any
func ScanForYMLs(fsys fs.FS, dir string) ([]string, error) {
	var manifests []string
	err := fs.WalkDir(fsys, dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return errors.Wrapf(err, "path %q", p)
		}
		if !d.IsDir() && IsExtensionYML(d.Name()) {
			manifests = append(manifests, p)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(manifests)
	return manifests, nil
}

// IsExtensionYML returns true if provided file has yaml extension
func IsExtensionYML(f string) bool {
	ext := path.Ext(f)
	return ext == ".yaml" || ext == ".yml"
}
