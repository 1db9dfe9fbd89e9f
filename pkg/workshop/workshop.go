// Package workshop deploys, inspects & restores the multi-tier "shop"
// application that the scenarios break.
package workshop

import (
	"context"
	"time"

	"github.com/simplekube/breakfix/pkg/config"
	"github.com/simplekube/breakfix/pkg/k8s"
	"github.com/simplekube/breakfix/pkg/k8sutil"

	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"
	"go.uber.org/zap"
	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"k8s.io/apimachinery/pkg/types"
	"sigs.k8s.io/controller-runtime/pkg/client"
)

// Workshop manages the application in a single namespace
type Workshop struct {
	Namespace    string
	WaitTimeout  time.Duration
	WaitInterval time.Duration

	// NoWait skips waiting for workloads to become ready
	NoWait bool
}

// New returns a Workshop configured from the given config
func New(cfg *config.Config) *Workshop {
	return &Workshop{
		Namespace:    cfg.Namespace,
		WaitTimeout:  cfg.WaitTimeout,
		WaitInterval: cfg.WaitInterval,
	}
}

func (w *Workshop) namespace() *corev1.Namespace {
	return &corev1.Namespace{
		TypeMeta: metav1.TypeMeta{
			Kind:       "Namespace",
			APIVersion: "v1",
		},
		ObjectMeta: metav1.ObjectMeta{
			Name: w.Namespace,
			Labels: map[string]string{
				PartOfLabel: "breakfix",
			},
		},
	}
}

// Deploy creates the application or merges its healthy state into the
// cluster. Tiers are deployed in dependency order. Only the given tiers
// & what they depend on are deployed when tiers are provided.
func (w *Workshop) Deploy(ctx context.Context, tiers []Tier, opts ...k8s.RunOption) error {
	plan, err := planTiers(tiers)
	if err != nil {
		return err
	}

	job := k8s.Job{
		&k8s.Task{
			It:       "should ensure namespace " + w.Namespace,
			Action:   k8s.ActionTypeCreateOrMerge,
			Resource: w.namespace(),
		},
	}
	for _, tier := range plan {
		objs, err := TierManifests(w.Namespace, tier)
		if err != nil {
			return err
		}
		job = append(job, w.tierJob(tier, objs, k8s.ActionTypeCreateOrMerge)...)
	}
	job = append(job, &k8s.CustomTask{
		It: "should record the deployment",
		Action: func(ctx context.Context, opts ...k8s.RunOption) error {
			return w.recordDeployed(ctx, opts...)
		},
	})

	zap.S().Infow("deploying application", "namespace", w.Namespace, "tiers", plan)
	if err := job.Run(ctx, opts...); err != nil {
		return errors.WithMessage(err, "failed to deploy application")
	}
	zap.S().Infow("application deployed", "namespace", w.Namespace)
	return nil
}

// tierJob upserts every object of the tier & then waits for its
// workloads
func (w *Workshop) tierJob(tier Tier, objs []*unstructured.Unstructured, action k8s.ActionType) k8s.Job {
	var job k8s.Job
	for _, obj := range objs {
		act := action
		if action == k8s.ActionTypeReplace && !isReplaceable(obj.GetKind()) {
			act = k8s.ActionTypeCreateOrMerge
		}
		job = append(job, &k8s.Task{
			It:       "should " + string(act) + " " + k8sutil.DescribeObj(obj),
			Action:   act,
			Resource: obj,
		})
	}
	if w.NoWait {
		return job
	}
	return append(job, &k8s.CustomTask{
		It: "should wait for tier " + string(tier),
		Action: func(ctx context.Context, opts ...k8s.RunOption) error {
			zap.S().Infow("waiting for tier", "tier", tier)
			return w.waitForWorkloads(ctx, objs, opts...)
		},
	})
}

// isReplaceable returns false for kinds whose spec is largely immutable
// once created
func isReplaceable(kind string) bool {
	switch kind {
	case "PersistentVolumeClaim", "PersistentVolume", "StatefulSet",
		"PriorityClass", "StorageClass", "Namespace":
		return false
	}
	return true
}

// Cleanup removes the application, its cluster scoped objects & the
// node taints left behind by scenarios. Every step is attempted & an
// absent resource is not an error.
func (w *Workshop) Cleanup(ctx context.Context, opts ...k8s.RunOption) error {
	steps := []k8s.Runner{
		&k8s.NodeTaintTask{
			It:     "should remove maintenance taints",
			Taint:  corev1.Taint{Key: MaintenanceTaintKey},
			Remove: true,
		},
		&k8s.DeletingTask{Resource: w.namespace(), Timeout: w.WaitTimeout},
	}
	objs, err := Manifests(w.Namespace)
	if err != nil {
		return err
	}
	for _, obj := range objs {
		if k8sutil.IsNamespaced(obj) {
			continue
		}
		steps = append(steps, &k8s.DeletingTask{Resource: obj, Timeout: w.WaitTimeout})
	}

	zap.S().Infow("removing application", "namespace", w.Namespace)
	if err := runAll(ctx, steps, opts...); err != nil {
		return errors.WithMessage(err, "failed to clean up application")
	}
	zap.S().Infow("application removed", "namespace", w.Namespace)
	return nil
}

// Reset brings the application back to its healthy state: objects
// created by scenarios are deleted, node taints are removed, released
// volumes are made available again & every healthy object is replaced.
func (w *Workshop) Reset(ctx context.Context, opts ...k8s.RunOption) error {
	deployed, err := w.IsDeployed(ctx, opts...)
	if err != nil {
		return err
	}
	if !deployed {
		return errors.Errorf("application is not deployed in namespace %q", w.Namespace)
	}

	cleanup := []k8s.Runner{
		&k8s.NodeTaintTask{
			It:     "should remove maintenance taints",
			Taint:  corev1.Taint{Key: MaintenanceTaintKey},
			Remove: true,
		},
		&k8s.CustomTask{
			It: "should delete objects created by scenarios",
			Action: func(ctx context.Context, opts ...k8s.RunOption) error {
				return w.deleteScenarioObjects(ctx, opts...)
			},
		},
	}
	zap.S().Infow("resetting application", "namespace", w.Namespace)
	if err := runAll(ctx, cleanup, opts...); err != nil {
		return errors.WithMessage(err, "failed to reset application")
	}
	if err := w.Restore(ctx, nil, opts...); err != nil {
		return err
	}
	return w.ClearScenario(ctx, opts...)
}

// Ref identifies one object of the application
type Ref struct {
	Kind string
	Name string
}

func (r Ref) matches(obj *unstructured.Unstructured) bool {
	return obj.GetKind() == r.Kind && obj.GetName() == r.Name
}

// Restore replaces the given objects with their healthy state & waits
// for the affected tiers. No refs means every object.
func (w *Workshop) Restore(ctx context.Context, refs []Ref, opts ...k8s.RunOption) error {
	tiers, err := Tiers()
	if err != nil {
		return err
	}
	job := k8s.Job{
		&k8s.CustomTask{
			It: "should make released volumes available",
			Action: func(ctx context.Context, opts ...k8s.RunOption) error {
				return w.ReleaseVolumes(ctx, opts...)
			},
		},
	}
	for _, tier := range tiers {
		objs, err := TierManifests(w.Namespace, tier)
		if err != nil {
			return err
		}
		var selected []*unstructured.Unstructured
		for _, obj := range objs {
			if len(refs) == 0 {
				selected = append(selected, obj)
				continue
			}
			for _, ref := range refs {
				if ref.matches(obj) {
					selected = append(selected, obj)
				}
			}
		}
		if len(selected) != 0 {
			job = append(job, w.tierJob(tier, selected, k8s.ActionTypeReplace)...)
		}
	}
	if err := job.Run(ctx, opts...); err != nil {
		return errors.WithMessage(err, "failed to restore healthy state")
	}
	return nil
}

// scenarioKinds are the kinds of objects scenarios may create
var scenarioKinds = []client.ObjectList{
	&unstructured.UnstructuredList{Object: map[string]interface{}{"apiVersion": "apps/v1", "kind": "DeploymentList"}},
	&unstructured.UnstructuredList{Object: map[string]interface{}{"apiVersion": "v1", "kind": "PersistentVolumeClaimList"}},
	&unstructured.UnstructuredList{Object: map[string]interface{}{"apiVersion": "v1", "kind": "ConfigMapList"}},
	&unstructured.UnstructuredList{Object: map[string]interface{}{"apiVersion": "networking.k8s.io/v1", "kind": "NetworkPolicyList"}},
}

func (w *Workshop) deleteScenarioObjects(ctx context.Context, opts ...k8s.RunOption) error {
	var found []client.Object
	var lists k8s.Lists
	for _, kind := range scenarioKinds {
		lists = append(lists, &k8s.ListingTask{
			It:       "should list objects created by scenarios",
			Resource: kind,
			ListOptions: []client.ListOption{
				client.InNamespace(w.Namespace),
				client.HasLabels{ScenarioLabel},
			},
			PostAction: func(list client.ObjectList) error {
				ul, _ := list.(*unstructured.UnstructuredList)
				for i := range ul.Items {
					found = append(found, &ul.Items[i])
				}
				return nil
			},
		})
	}
	if err := lists.Run(ctx, opts...); err != nil {
		return err
	}
	var steps []k8s.Runner
	for _, obj := range found {
		zap.S().Infow("deleting scenario leftover", "object", k8sutil.DescribeObj(obj))
		steps = append(steps, &k8s.DeletingTask{Resource: obj, Timeout: w.WaitTimeout})
	}
	return runAll(ctx, steps, opts...)
}

// workshopVolumes lists the persistent volumes of the workshop
func workshopVolumes(ctx context.Context, opts ...k8s.RunOption) ([]corev1.PersistentVolume, error) {
	var volumes []corev1.PersistentVolume
	err := (&k8s.ListingTask{
		It:          "should list workshop volumes",
		Resource:    &corev1.PersistentVolumeList{},
		ListOptions: []client.ListOption{client.MatchingLabels{PartOfLabel: "breakfix"}},
		PostAction: func(list client.ObjectList) error {
			pvs, _ := list.(*corev1.PersistentVolumeList)
			volumes = pvs.Items
			return nil
		},
	}).Run(ctx, opts...)
	return volumes, err
}

// claimGone returns true if the claim the volume is bound to no longer
// exists. A claim of the same name but another UID was recreated.
func claimGone(ctx context.Context, pv *corev1.PersistentVolume, opts ...k8s.RunOption) (bool, error) {
	ref := pv.Spec.ClaimRef
	if ref == nil {
		return false, nil
	}
	var gone bool
	err := (&k8s.Task{
		It:       "should get the claim of volume " + pv.Name,
		Action:   k8s.ActionTypeGet,
		Resource: &corev1.PersistentVolumeClaim{ObjectMeta: metav1.ObjectMeta{Namespace: ref.Namespace, Name: ref.Name}},
		PostAction: func(observed client.Object) error {
			gone = observed == nil || (ref.UID != "" && observed.GetUID() != ref.UID)
			return nil
		},
	}).Run(ctx, opts...)
	return gone, err
}

// awaitVolumeRelease waits till the volume controller moved every
// volume of a deleted claim out of the Bound phase
func (w *Workshop) awaitVolumeRelease(ctx context.Context, opts ...k8s.RunOption) error {
	return (&k8s.EventualTask{
		Interval:  w.WaitInterval,
		Timeout:   w.WaitTimeout,
		Immediate: true,
		Task: &k8s.CustomTask{
			It: "should find no workshop volume bound to a deleted claim",
			Action: func(ctx context.Context, opts ...k8s.RunOption) error {
				volumes, err := workshopVolumes(ctx, opts...)
				if err != nil {
					return err
				}
				for i := range volumes {
					if volumes[i].Status.Phase != corev1.VolumeBound {
						continue
					}
					gone, err := claimGone(ctx, &volumes[i], opts...)
					if err != nil {
						return err
					}
					if gone {
						return errors.Errorf("volume %q is still bound to deleted claim %s/%s",
							volumes[i].Name, volumes[i].Spec.ClaimRef.Namespace, volumes[i].Spec.ClaimRef.Name)
					}
				}
				return nil
			},
		},
	}).Run(ctx, opts...)
}

// ReleaseVolumes clears the claim of released workshop volumes so that
// they can be bound again
func (w *Workshop) ReleaseVolumes(ctx context.Context, opts ...k8s.RunOption) error {
	if err := w.awaitVolumeRelease(ctx, opts...); err != nil {
		return err
	}
	volumes, err := workshopVolumes(ctx, opts...)
	if err != nil {
		return err
	}
	var tasks k8s.Tasks
	for i := range volumes {
		if volumes[i].Status.Phase != corev1.VolumeReleased {
			continue
		}
		tasks = append(tasks, &k8s.Task{
			It:             "should clear the claim of volume " + volumes[i].Name,
			Action:         k8s.ActionTypePatch,
			Resource:       &volumes[i],
			Patch:          client.RawPatch(types.MergePatchType, []byte(`{"spec":{"claimRef":null}}`)),
			IgnoreNotFound: true,
		})
	}
	return tasks.Run(ctx, opts...)
}

// runAll runs every runner even if some of them fail
func runAll(ctx context.Context, runners []k8s.Runner, opts ...k8s.RunOption) error {
	var result *multierror.Error
	for _, runner := range runners {
		if err := runner.Run(ctx, opts...); err != nil {
			zap.S().Warnw("step failed", "error", err)
			result = multierror.Append(result, err)
		}
	}
	return result.ErrorOrNil()
}
