// Package apply merges a desired Kubernetes state into an observed one on
// the client side. The merged object keeps server owned fields such as the
// resourceVersion & can be sent back with a plain Update call.
//
// credit: https://github.com/AmitKumarDas/metac/tree/master/dynamic/apply
package apply

import (
	"fmt"

	"github.com/pkg/errors"
	"k8s.io/apimachinery/pkg/runtime"
)

// Merge returns a copy of observed with desired merged into it.
//
// Fields found in lastApplied but missing in desired are removed from the
// result. Passing desired as lastApplied therefore means "the desired state
// owns every field it mentions & nothing else".
func Merge(observed, lastApplied, desired map[string]interface{}) (map[string]interface{}, error) {
	dest := runtime.DeepCopyJSON(observed)
	if _, err := merge("", dest, lastApplied, desired); err != nil {
		return nil, errors.Wrap(err, "failed to merge desired state")
	}
	return dest, nil
}

func merge(fieldPath string, observed, lastApplied, desired interface{}) (interface{}, error) {
	switch observedVal := observed.(type) {
	case map[string]interface{}:
		lastAppliedVal, err := asMap(fieldPath, "last applied", lastApplied)
		if err != nil {
			return nil, err
		}
		desiredVal, err := asMap(fieldPath, "desired", desired)
		if err != nil {
			return nil, err
		}
		if desired == nil {
			// desired does not mention this field
			return observed, nil
		}
		return mergeMap(fieldPath, observedVal, lastAppliedVal, desiredVal)
	case []interface{}:
		lastAppliedVal, err := asList(fieldPath, "last applied", lastApplied)
		if err != nil {
			return nil, err
		}
		desiredVal, err := asList(fieldPath, "desired", desired)
		if err != nil {
			return nil, err
		}
		if desired == nil {
			return observed, nil
		}
		return mergeList(fieldPath, observedVal, lastAppliedVal, desiredVal)
	default:
		// scalar or null i.e. a leaf; desired wins
		return desired, nil
	}
}

func asMap(fieldPath, name string, val interface{}) (map[string]interface{}, error) {
	if val == nil {
		return nil, nil
	}
	m, ok := val.(map[string]interface{})
	if !ok {
		return nil, errors.Errorf("type mismatch: observed map: %s %T: field %q", name, val, fieldPath)
	}
	return m, nil
}

func asList(fieldPath, name string, val interface{}) ([]interface{}, error) {
	if val == nil {
		return nil, nil
	}
	l, ok := val.([]interface{})
	if !ok {
		return nil, errors.Errorf("type mismatch: observed list: %s %T: field %q", name, val, fieldPath)
	}
	return l, nil
}

func mergeMap(fieldPath string, observed, lastApplied, desired map[string]interface{}) (interface{}, error) {
	for key := range lastApplied {
		if _, present := desired[key]; !present {
			delete(observed, key)
		}
	}
	for key, desiredVal := range desired {
		merged, err := merge(fmt.Sprintf("%s[%s]", fieldPath, key), observed[key], lastApplied[key], desiredVal)
		if err != nil {
			return nil, err
		}
		observed[key] = merged
	}
	return observed, nil
}

func mergeList(fieldPath string, observed, lastApplied, desired []interface{}) (interface{}, error) {
	mergeKey := detectListMapKey(observed, lastApplied, desired)
	if mergeKey == "" {
		// list of scalars e.g. args, finalizers
		return desired, nil
	}

	observedMap := makeMapFromList(mergeKey, observed)
	if _, err := mergeMap(fieldPath, observedMap, makeMapFromList(mergeKey, lastApplied), makeMapFromList(mergeKey, desired)); err != nil {
		return nil, err
	}

	// observed order first, then the items that are new in desired
	result := make([]interface{}, 0, len(observedMap))
	added := make(map[string]bool, len(observedMap))
	for _, items := range [][]interface{}{observed, desired} {
		for _, item := range items {
			key := stringMergeKey(item.(map[string]interface{})[mergeKey])
			if added[key] {
				continue
			}
			if merged, ok := observedMap[key]; ok {
				result = append(result, merged)
				added[key] = true
			}
		}
	}
	return result, nil
}

func makeMapFromList(mergeKey string, list []interface{}) map[string]interface{} {
	result := make(map[string]interface{}, len(list))
	for _, item := range list {
		// detectListMapKey has verified every item is a map
		itemMap := item.(map[string]interface{})
		result[stringMergeKey(itemMap[mergeKey])] = item
	}
	return result
}

func stringMergeKey(val interface{}) string {
	if s, ok := val.(string); ok {
		return s
	}
	return fmt.Sprintf("%v", val)
}

// knownMergeKeys in order of precedence
//
// NOTE: status is never merged since controllers own all of it
var knownMergeKeys = []string{
	"uid",
	"id",
	"name",
	"key",
	"containerPort",
	"port",
	"mountPath",
	"ip",
}

// detectListMapKey guesses whether the given lists are k8s style lists of
// maps e.g. containers, env, ports. The merge key is the first entry of
// knownMergeKeys present in every item of every list. An empty string
// means the lists should be treated as plain lists.
func detectListMapKey(lists ...[]interface{}) string {
	var commonKeys map[string]bool
	for _, list := range lists {
		for _, item := range list {
			itemMap, ok := item.(map[string]interface{})
			if !ok {
				return ""
			}
			if commonKeys == nil {
				commonKeys = make(map[string]bool, len(itemMap))
				for key := range itemMap {
					commonKeys[key] = true
				}
				continue
			}
			for key := range commonKeys {
				if _, ok := itemMap[key]; !ok {
					delete(commonKeys, key)
				}
			}
		}
	}
	for _, key := range knownMergeKeys {
		if commonKeys[key] {
			return key
		}
	}
	return ""
}
