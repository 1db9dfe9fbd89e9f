package scenario

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/simplekube/breakfix/pkg/k8s"
	"github.com/simplekube/breakfix/pkg/workshop"

	"github.com/pkg/errors"
	appsv1 "k8s.io/api/apps/v1"
	corev1 "k8s.io/api/core/v1"
	schedulingv1 "k8s.io/api/scheduling/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"sigs.k8s.io/controller-runtime/pkg/client"
)

func maintenanceTaint() corev1.Taint {
	return corev1.Taint{
		Key:    workshop.MaintenanceTaintKey,
		Value:  "true",
		Effect: corev1.TaintEffectNoSchedule,
	}
}

// podRequests returns what the scheduler reserves for a pod: the sum
// over the containers or the largest init container, whichever is more
func podRequests(spec corev1.PodSpec) corev1.ResourceList {
	total := corev1.ResourceList{}
	for _, c := range spec.Containers {
		for name, q := range c.Resources.Requests {
			sum := total[name]
			sum.Add(q)
			total[name] = sum
		}
	}
	for _, c := range spec.InitContainers {
		for name, q := range c.Resources.Requests {
			if current, ok := total[name]; !ok || q.Cmp(current) > 0 {
				total[name] = q.DeepCopy()
			}
		}
	}
	return total
}

// exceeded lists the requests the allocatable resources can not serve
func exceeded(requests, allocatable corev1.ResourceList) []string {
	var result []string
	for name, want := range requests {
		have, ok := allocatable[name]
		if !ok || want.Cmp(have) > 0 {
			result = append(result, fmt.Sprintf("%s %s > %s", name, want.String(), have.String()))
		}
	}
	sort.Strings(result)
	return result
}

// fitsOnNodeCheck asserts that the pods of the deployment fit on at
// least one node
func fitsOnNodeCheck(name string, d *appsv1.Deployment) Check {
	return Check{
		Name: name,
		Runner: &Custom{
			It: "should assert " + name,
			Action: func(ctx context.Context, opts ...RunOption) error {
				var requests corev1.ResourceList
				err := observe(ctx, d, func(observed *appsv1.Deployment) error {
					requests = podRequests(observed.Spec.Template.Spec)
					return nil
				}, opts...)
				if err != nil {
					return err
				}
				runOpts, err := k8s.ResolveRunOptions(opts...)
				if err != nil {
					return err
				}
				nodes := &corev1.NodeList{}
				if err := runOpts.Client.List(ctx, nodes); err != nil {
					return errors.Wrap(err, "failed to list nodes")
				}
				if len(nodes.Items) == 0 {
					return errors.New("no node found")
				}
				var reasons []string
				for _, node := range nodes.Items {
					missing := exceeded(requests, node.Status.Allocatable)
					if len(missing) == 0 {
						return nil
					}
					reasons = append(reasons, fmt.Sprintf("node %q: %s", node.Name, strings.Join(missing, ", ")))
				}
				return errors.Errorf("requests fit on no node: %s", strings.Join(reasons, "; "))
			},
		},
	}
}

// isUnschedulable returns true for a pod the scheduler found no node for
func isUnschedulable(pod corev1.Pod) bool {
	if pod.Status.Phase != corev1.PodPending {
		return false
	}
	for _, cond := range pod.Status.Conditions {
		if cond.Type == corev1.PodScheduled && cond.Status == corev1.ConditionFalse &&
			cond.Reason == corev1.PodReasonUnschedulable {
			return true
		}
	}
	return false
}

func nodeTaint() *Scenario {
	return &Scenario{
		ID:       "09",
		Name:     "node-taint",
		Category: CategoryScheduling,
		Summary:  "The frontend pods were restarted during a maintenance window & never came back.",
		Hints: []string{
			"Why does the scheduler refuse to place the frontend pods? Read the pod events.",
			"'kubectl describe node' lists the taints of a node.",
			"'kubectl taint node <node> <key>-' removes a taint.",
		},
		Break: func(ns string) Runner {
			return Job{
				&NodeTaint{
					It:    "should taint every node for maintenance",
					Taint: maintenanceTaint(),
				},
				&Custom{
					It: "should restart the frontend pods",
					Action: func(ctx context.Context, opts ...RunOption) error {
						runOpts, err := k8s.ResolveRunOptions(opts...)
						if err != nil {
							return err
						}
						return runOpts.Client.DeleteAllOf(ctx, &corev1.Pod{},
							client.InNamespace(ns),
							client.MatchingLabels{"app": "frontend"},
						)
					},
				},
			}
		},
		Verify: func(ns string) []Check {
			return []Check{
				listCheck("no node is under maintenance", &corev1.NodeList{}, func(nodes *corev1.NodeList) error {
					for _, node := range nodes.Items {
						for _, taint := range node.Spec.Taints {
							if taint.Key == workshop.MaintenanceTaintKey {
								return errors.Errorf("node %q has taint %s", node.Name, taint.ToString())
							}
						}
					}
					return nil
				}),
				readyCheck(deployment(ns, "frontend")),
			}
		},
		Revert: func(string) Runner {
			return &NodeTaint{
				It:     "should end the maintenance of every node",
				Taint:  corev1.Taint{Key: workshop.MaintenanceTaintKey},
				Remove: true,
			}
		},
	}
}

func priorityClass() *Scenario {
	return &Scenario{
		ID:       "11",
		Name:     "priority-class",
		Category: CategoryScheduling,
		Summary:  "After a change of the backend Deployment no new backend pod gets created.",
		Hints: []string{
			"A Deployment creates pods through a ReplicaSet. Describe the newest backend ReplicaSet.",
			"Which PriorityClasses exist in the cluster? 'kubectl get priorityclass'",
			"The priorityClassName of the pod template has to name an existing class.",
		},
		Touches: []workshop.Ref{{Kind: "Deployment", Name: "backend"}},
		Break: func(ns string) Runner {
			return &Task{
				It:       "should reference a missing priority class",
				Action:   Patch,
				Resource: deployment(ns, "backend"),
				Patch:    podSpecPatch(object{"priorityClassName": "breakfix-critical"}),
			}
		},
		Verify: func(ns string) []Check {
			return []Check{
				{
					Name: "backend priority class exists",
					Runner: &Custom{
						It: "should assert the backend priority class exists",
						Action: func(ctx context.Context, opts ...RunOption) error {
							var name string
							err := observe(ctx, deployment(ns, "backend"), func(d *appsv1.Deployment) error {
								name = d.Spec.Template.Spec.PriorityClassName
								return nil
							}, opts...)
							if err != nil || name == "" {
								return err
							}
							return (&Task{
								It:       "should find priority class " + name,
								Action:   Get,
								Resource: &schedulingv1.PriorityClass{ObjectMeta: metav1.ObjectMeta{Name: name}},
								PostAction: func(observed client.Object) error {
									if observed == nil {
										return errors.Errorf("priority class %q does not exist", name)
									}
									return nil
								},
							}).Run(ctx, opts...)
						},
					},
				},
				readyCheck(deployment(ns, "backend")),
			}
		},
	}
}

func insufficientResources() *Scenario {
	return &Scenario{
		ID:       "10",
		Name:     "insufficient-resources",
		Category: CategoryScheduling,
		Summary:  "New backend pods stay Pending forever after a change of the resource settings.",
		Hints: []string{
			"The events of a Pending pod explain why the scheduler cannot place it.",
			"'kubectl describe node' shows the allocatable CPU & memory of the node.",
			"Requests are what the scheduler reserves. Are the backend requests realistic?",
		},
		Touches: []workshop.Ref{{Kind: "Deployment", Name: "backend"}},
		Break: func(ns string) Runner {
			return &Task{
				It:       "should request more resources than any node has",
				Action:   Patch,
				Resource: deployment(ns, "backend"),
				Patch: containerPatch("backend", object{
					"resources": object{
						"requests": object{"cpu": "64", "memory": "256Gi"},
						"limits":   object{"memory": "256Gi"},
					},
				}),
			}
		},
		Verify: func(ns string) []Check {
			return []Check{
				fitsOnNodeCheck("backend requests fit on a node", deployment(ns, "backend")),
				{
					Name: "no backend pod waits for a node",
					Runner: &PodCount{
						It:          "should find no unschedulable backend pod",
						ListOptions: []client.ListOption{client.InNamespace(ns), client.MatchingLabels{"app": "backend"}},
						Filter:      isUnschedulable,
					},
				},
				readyCheck(deployment(ns, "backend")),
			}
		},
	}
}
