package scenario

import (
	"context"

	"github.com/simplekube/breakfix/pkg/workshop"

	"github.com/pkg/errors"
	appsv1 "k8s.io/api/apps/v1"
	corev1 "k8s.io/api/core/v1"
	"k8s.io/apimachinery/pkg/labels"
)

func serviceSelector() *Scenario {
	return &Scenario{
		ID:       "03",
		Name:     "service-selector",
		Category: CategoryServices,
		Summary: "Every backend pod is Running & Ready, yet the frontend cannot reach " +
			"the backend Service.",
		Hints: []string{
			"'kubectl get endpointslices -l kubernetes.io/service-name=backend' lists the pods behind the Service.",
			"A Service sends traffic to the pods its selector matches. Compare it with the pod labels.",
			"'kubectl get pods --show-labels' prints the labels of every pod.",
		},
		Touches: []workshop.Ref{{Kind: "Service", Name: "backend"}},
		Break: func(ns string) Runner {
			return &Task{
				It:       "should select pods the backend Deployment does not create",
				Action:   Patch,
				Resource: service(ns, "backend"),
				Patch:    mergePatch(object{"spec": object{"selector": object{"app": "backend-api"}}}),
			}
		},
		Verify: func(ns string) []Check {
			return []Check{
				{
					Name: "backend Service selects the backend pods",
					Runner: &Custom{
						It: "should match the backend pods with the backend Service",
						Action: func(ctx context.Context, opts ...RunOption) error {
							var selector labels.Selector
							err := observe(ctx, service(ns, "backend"), func(svc *corev1.Service) error {
								if len(svc.Spec.Selector) == 0 {
									return errors.New("backend Service has no selector")
								}
								selector = labels.SelectorFromSet(svc.Spec.Selector)
								return nil
							}, opts...)
							if err != nil {
								return err
							}
							return observe(ctx, deployment(ns, "backend"), func(d *appsv1.Deployment) error {
								podLabels := labels.Set(d.Spec.Template.Labels)
								if !selector.Matches(podLabels) {
									return errors.Errorf("selector %q does not match pod labels %q", selector, podLabels)
								}
								return nil
							}, opts...)
						},
					},
				},
				healthyCheck("backend Service forwards to the serving port", service(ns, "backend"),
					func(svc *corev1.Service) interface{} {
						var targets []interface{}
						for _, port := range svc.Spec.Ports {
							targets = append(targets, port.Port, port.TargetPort)
						}
						return targets
					}),
			}
		},
	}
}
