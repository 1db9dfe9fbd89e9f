package scenario

import (
	"github.com/simplekube/breakfix/pkg/workshop"

	"github.com/pkg/errors"
	networkingv1 "k8s.io/api/networking/v1"
	"sigs.k8s.io/controller-runtime/pkg/client"
)

const denyAllPolicy = "default-deny-ingress"

// deniesAllIngress returns true if the policy selects every pod of the
// namespace & allows no ingress
func deniesAllIngress(policy networkingv1.NetworkPolicy) bool {
	if len(policy.Spec.PodSelector.MatchLabels) != 0 || len(policy.Spec.PodSelector.MatchExpressions) != 0 {
		return false
	}
	if len(policy.Spec.Ingress) != 0 {
		return false
	}
	if len(policy.Spec.PolicyTypes) == 0 {
		// no policy types means ingress
		return true
	}
	for _, t := range policy.Spec.PolicyTypes {
		if t == networkingv1.PolicyTypeIngress {
			return true
		}
	}
	return false
}

func denyAllIngress() *Scenario {
	const id = "12-network-policy"
	return &Scenario{
		ID:       "12",
		Name:     "network-policy",
		Category: CategoryNetwork,
		Summary: "A security hardening went live. Since then no pod of the application " +
			"accepts connections, even though every pod is Ready.",
		Hints: []string{
			"'kubectl get networkpolicy' lists the policies of the namespace.",
			"A policy with an empty podSelector applies to every pod of the namespace.",
			"Policies add up: traffic is allowed if any policy selecting the pod allows it.",
		},
		Touches: []workshop.Ref{{Kind: "NetworkPolicy", Name: "allow-frontend-to-backend"}},
		Break: func(ns string) Runner {
			return &Task{
				It:     "should deny all ingress in the namespace",
				Action: Create,
				Resource: &networkingv1.NetworkPolicy{
					ObjectMeta: leftoverMeta(ns, denyAllPolicy, id),
					Spec: networkingv1.NetworkPolicySpec{
						PolicyTypes: []networkingv1.PolicyType{networkingv1.PolicyTypeIngress},
					},
				},
			}
		},
		Verify: func(ns string) []Check {
			return []Check{
				listCheck("no policy denies all ingress", &networkingv1.NetworkPolicyList{},
					func(policies *networkingv1.NetworkPolicyList) error {
						for _, policy := range policies.Items {
							if deniesAllIngress(policy) {
								return errors.Errorf("network policy %q denies all ingress", policy.Name)
							}
						}
						return nil
					}, client.InNamespace(ns)),
				healthyCheck("frontend may reach the backend", networkPolicy(ns, "allow-frontend-to-backend"),
					func(p *networkingv1.NetworkPolicy) interface{} { return p.Spec }),
			}
		},
		Revert: func(ns string) Runner {
			return deleteLeftovers(networkPolicy(ns, denyAllPolicy))
		},
	}
}
