package workshop

import (
	"context"
	"time"

	"github.com/simplekube/breakfix/pkg/k8s"

	"github.com/pkg/errors"
	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/types"
	"sigs.k8s.io/controller-runtime/pkg/client"
)

// StateConfigMapName is the ConfigMap that remembers what the workshop
// did to the namespace
const StateConfigMapName = "breakfix-state"

const (
	stateKeyScenario   = "scenario"
	stateKeyAppliedAt  = "appliedAt"
	stateKeyDeployedAt = "deployedAt"
)

// State is the workshop progress recorded in the cluster
type State struct {
	// Scenario is the ID of the most recently applied scenario
	Scenario   string
	AppliedAt  time.Time
	DeployedAt time.Time
}

func (w *Workshop) stateConfigMap(data map[string]string) *corev1.ConfigMap {
	return &corev1.ConfigMap{
		TypeMeta: metav1.TypeMeta{
			Kind:       "ConfigMap",
			APIVersion: "v1",
		},
		ObjectMeta: metav1.ObjectMeta{
			Name:      StateConfigMapName,
			Namespace: w.Namespace,
			Labels: map[string]string{
				PartOfLabel: "breakfix",
			},
		},
		Data: data,
	}
}

// ReadState returns the recorded state. A missing record yields an
// empty state.
func (w *Workshop) ReadState(ctx context.Context, opts ...k8s.RunOption) (*State, error) {
	state := &State{}
	err := (&k8s.Task{
		It:       "should read the workshop state",
		Action:   k8s.ActionTypeGet,
		Resource: w.stateConfigMap(nil),
		PostAction: func(obj client.Object) error {
			if obj == nil {
				return nil
			}
			cm, _ := obj.(*corev1.ConfigMap)
			state.Scenario = cm.Data[stateKeyScenario]
			state.AppliedAt = parseTime(cm.Data[stateKeyAppliedAt])
			state.DeployedAt = parseTime(cm.Data[stateKeyDeployedAt])
			return nil
		},
	}).Run(ctx, opts...)
	if err != nil {
		return nil, err
	}
	return state, nil
}

func parseTime(value string) time.Time {
	t, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return time.Time{}
	}
	return t
}

// IsDeployed returns true once Deploy has completed in the namespace
func (w *Workshop) IsDeployed(ctx context.Context, opts ...k8s.RunOption) (bool, error) {
	state, err := w.ReadState(ctx, opts...)
	if err != nil {
		return false, err
	}
	return !state.DeployedAt.IsZero(), nil
}

func (w *Workshop) recordDeployed(ctx context.Context, opts ...k8s.RunOption) error {
	return (&k8s.Task{
		It:     "should record the deployment time",
		Action: k8s.ActionTypeCreateOrMerge,
		Resource: w.stateConfigMap(map[string]string{
			stateKeyDeployedAt: time.Now().UTC().Format(time.RFC3339),
		}),
	}).Run(ctx, opts...)
}

// RecordScenario remembers the scenario that was just applied
func (w *Workshop) RecordScenario(ctx context.Context, id string, opts ...k8s.RunOption) error {
	if id == "" {
		return errors.New("missing scenario id")
	}
	return (&k8s.Task{
		It:     "should record scenario " + id,
		Action: k8s.ActionTypeCreateOrMerge,
		Resource: w.stateConfigMap(map[string]string{
			stateKeyScenario:  id,
			stateKeyAppliedAt: time.Now().UTC().Format(time.RFC3339),
		}),
	}).Run(ctx, opts...)
}

// ClearScenario forgets the applied scenario
func (w *Workshop) ClearScenario(ctx context.Context, opts ...k8s.RunOption) error {
	return (&k8s.Task{
		It:             "should clear the recorded scenario",
		Action:         k8s.ActionTypePatch,
		Resource:       w.stateConfigMap(nil),
		Patch:          client.RawPatch(types.MergePatchType, []byte(`{"data":{"scenario":null,"appliedAt":null}}`)),
		IgnoreNotFound: true,
	}).Run(ctx, opts...)
}
