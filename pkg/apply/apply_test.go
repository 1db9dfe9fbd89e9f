package apply

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMerge(t *testing.T) {
	var tests = []struct {
		name        string
		observed    map[string]interface{}
		lastApplied map[string]interface{}
		desired     map[string]interface{}
		expect      map[string]interface{}
		isError     bool
	}{
		{
			name: "desired scalar overrides observed scalar",
			observed: map[string]interface{}{
				"spec": map[string]interface{}{"replicas": int64(1), "paused": false},
			},
			desired: map[string]interface{}{
				"spec": map[string]interface{}{"replicas": int64(3)},
			},
			expect: map[string]interface{}{
				"spec": map[string]interface{}{"replicas": int64(3), "paused": false},
			},
		},
		{
			name: "fields unknown to desired are preserved",
			observed: map[string]interface{}{
				"metadata": map[string]interface{}{"name": "a", "resourceVersion": "7"},
				"status":   map[string]interface{}{"readyReplicas": int64(1)},
			},
			desired: map[string]interface{}{
				"metadata": map[string]interface{}{"name": "a"},
			},
			expect: map[string]interface{}{
				"metadata": map[string]interface{}{"name": "a", "resourceVersion": "7"},
				"status":   map[string]interface{}{"readyReplicas": int64(1)},
			},
		},
		{
			name: "fields dropped since last apply are removed",
			observed: map[string]interface{}{
				"data": map[string]interface{}{"a": "1", "b": "2"},
			},
			lastApplied: map[string]interface{}{
				"data": map[string]interface{}{"a": "1", "b": "2"},
			},
			desired: map[string]interface{}{
				"data": map[string]interface{}{"a": "1"},
			},
			expect: map[string]interface{}{
				"data": map[string]interface{}{"a": "1"},
			},
		},
		{
			name: "list of maps merges by name & keeps observed order",
			observed: map[string]interface{}{
				"containers": []interface{}{
					map[string]interface{}{"name": "api", "image": "api:1", "imagePullPolicy": "Always"},
					map[string]interface{}{"name": "sidecar", "image": "proxy:1"},
				},
			},
			desired: map[string]interface{}{
				"containers": []interface{}{
					map[string]interface{}{"name": "sidecar", "image": "proxy:2"},
					map[string]interface{}{"name": "api", "image": "api:2"},
					map[string]interface{}{"name": "debug", "image": "busybox"},
				},
			},
			expect: map[string]interface{}{
				"containers": []interface{}{
					map[string]interface{}{"name": "api", "image": "api:2", "imagePullPolicy": "Always"},
					map[string]interface{}{"name": "sidecar", "image": "proxy:2"},
					map[string]interface{}{"name": "debug", "image": "busybox"},
				},
			},
		},
		{
			name: "list of scalars is replaced",
			observed: map[string]interface{}{
				"args": []interface{}{"--a", "--b"},
			},
			desired: map[string]interface{}{
				"args": []interface{}{"--c"},
			},
			expect: map[string]interface{}{
				"args": []interface{}{"--c"},
			},
		},
		{
			name: "type mismatch is an error",
			observed: map[string]interface{}{
				"spec": map[string]interface{}{"x": "y"},
			},
			desired: map[string]interface{}{
				"spec": "not-a-map",
			},
			isError: true,
		},
	}
	for _, test := range tests {
		test := test
		t.Run(test.name, func(t *testing.T) {
			t.Parallel()
			got, err := Merge(test.observed, test.lastApplied, test.desired)
			if test.isError {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Empty(t, cmp.Diff(test.expect, got))
		})
	}
}

func TestMergeDoesNotMutateObserved(t *testing.T) {
	observed := map[string]interface{}{
		"data": map[string]interface{}{"a": "1"},
	}
	_, err := Merge(observed, nil, map[string]interface{}{
		"data": map[string]interface{}{"a": "2"},
	})
	require.NoError(t, err)
	assert.Equal(t, "1", observed["data"].(map[string]interface{})["a"])
}

func TestDetectListMapKey(t *testing.T) {
	assert.Equal(t, "name", detectListMapKey([]interface{}{
		map[string]interface{}{"name": "a", "value": "1"},
	}, []interface{}{
		map[string]interface{}{"name": "b"},
	}))
	assert.Equal(t, "containerPort", detectListMapKey([]interface{}{
		map[string]interface{}{"containerPort": int64(80)},
	}))
	assert.Equal(t, "", detectListMapKey([]interface{}{"a", "b"}))
	assert.Equal(t, "", detectListMapKey([]interface{}{
		map[string]interface{}{"effect": "NoSchedule"},
	}))
}
