package scenario

import (
	"encoding/json"
	"time"

	"k8s.io/apimachinery/pkg/types"
	"sigs.k8s.io/controller-runtime/pkg/client"
)

// RestartedAtAnnotation is the pod template annotation kubectl sets on
// 'rollout restart'
const RestartedAtAnnotation = "kubectl.kubernetes.io/restartedAt"

type object = map[string]interface{}

func rawPatch(patchType types.PatchType, body object) client.Patch {
	// maps of plain values always marshal
	raw, _ := json.Marshal(body)
	return client.RawPatch(patchType, raw)
}

func mergePatch(body object) client.Patch {
	return rawPatch(types.MergePatchType, body)
}

// containerPatch returns a strategic merge patch that sets the given
// fields on the named container of a workload pod template
func containerPatch(name string, fields object) client.Patch {
	c := object{"name": name}
	for k, v := range fields {
		c[k] = v
	}
	return rawPatch(types.StrategicMergePatchType, object{
		"spec": object{
			"template": object{
				"spec": object{
					"containers": []interface{}{c},
				},
			},
		},
	})
}

// podSpecPatch returns a merge patch of the pod template spec
func podSpecPatch(fields object) client.Patch {
	return mergePatch(object{
		"spec": object{
			"template": object{
				"spec": fields,
			},
		},
	})
}

// restartPatch rolls the pods of a workload the way
// 'kubectl rollout restart' does
func restartPatch() client.Patch {
	return mergePatch(object{
		"spec": object{
			"template": object{
				"metadata": object{
					"annotations": object{
						RestartedAtAnnotation: time.Now().Format(time.RFC3339),
					},
				},
			},
		},
	})
}
