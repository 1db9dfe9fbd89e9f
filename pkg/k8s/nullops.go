package k8s

import (
	"reflect"

	"github.com/pkg/errors"
)

// Typed objects converted to unstructured carry entries such as
// `creationTimestamp: null` that were never set by the author. These are
// pruned from the desired state before it gets compared against the
// observed state.
//
// credit: https://github.com/banzaicloud/k8s-objectmatcher/blob/master/patch/deletenull.go

// DeleteNullInUnstructuredMap removes the entries whose value is nil
// or the zero value of its type e.g. "" or false. Empty maps are kept
// while maps that become empty after pruning are dropped.
//
// Note: This supports Kubernetes compatible unstructured types only
func DeleteNullInUnstructuredMap(m map[string]interface{}) (map[string]interface{}, error) {
	pruned := make(map[string]interface{}, len(m))
	for key, val := range m {
		if val == nil || IsZero(reflect.ValueOf(val)) {
			continue
		}
		switch typed := val.(type) {
		case string, float64, bool, int64:
			pruned[key] = val
		case []interface{}:
			slice, err := DeleteNullInUnstructuredSlice(typed)
			if err != nil {
				return nil, errors.Wrapf(err, "key %q", key)
			}
			pruned[key] = slice
		case map[string]interface{}:
			if len(typed) == 0 {
				pruned[key] = typed
				continue
			}
			sub, err := DeleteNullInUnstructuredMap(typed)
			if err != nil {
				return nil, errors.Wrapf(err, "key %q", key)
			}
			if len(sub) != 0 {
				pruned[key] = sub
			}
		default:
			return nil, errors.Errorf("unsupported type %T: key %q", val, key)
		}
	}
	return pruned, nil
}

// DeleteNullInUnstructuredSlice prunes every item of the slice. Nil
// items keep their position to retain the ordering of the list.
//
// Note: This supports Kubernetes compatible unstructured types only
func DeleteNullInUnstructuredSlice(s []interface{}) ([]interface{}, error) {
	pruned := make([]interface{}, len(s))
	for idx, val := range s {
		switch typed := val.(type) {
		case nil:
		case string, float64, bool, int64:
			pruned[idx] = val
		case []interface{}:
			sub, err := DeleteNullInUnstructuredSlice(typed)
			if err != nil {
				return nil, errors.Wrapf(err, "index %d", idx)
			}
			pruned[idx] = sub
		case map[string]interface{}:
			sub, err := DeleteNullInUnstructuredMap(typed)
			if err != nil {
				return nil, errors.Wrapf(err, "index %d", idx)
			}
			pruned[idx] = sub
		default:
			return nil, errors.Errorf("unsupported type %T: index %d", val, idx)
		}
	}
	return pruned, nil
}

// IsZero reports whether v holds the zero value of its type. Numbers
// are never zero since 0 is a meaningful value e.g. replicas: 0.
func IsZero(v reflect.Value) bool {
	switch v.Kind() {
	case reflect.Float64, reflect.Int64:
		return false
	case reflect.Func, reflect.Map, reflect.Slice, reflect.Ptr, reflect.Interface:
		return v.IsNil()
	case reflect.Array:
		for i := 0; i < v.Len(); i++ {
			if !IsZero(v.Index(i)) {
				return false
			}
		}
		return true
	case reflect.Struct:
		for i := 0; i < v.NumField(); i++ {
			if !IsZero(v.Field(i)) {
				return false
			}
		}
		return true
	default:
		return v.IsZero()
	}
}
