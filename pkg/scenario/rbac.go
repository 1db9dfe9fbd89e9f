package scenario

import (
	"github.com/simplekube/breakfix/pkg/workshop"

	"github.com/pkg/errors"
	rbacv1 "k8s.io/api/rbac/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
)

const (
	podReaderRole    = "pod-reader"
	podReaderBinding = "backend-pod-reader"
)

func contains(values []string, wanted ...string) bool {
	for _, v := range values {
		for _, w := range wanted {
			if v == w {
				return true
			}
		}
	}
	return false
}

// allows returns true if a rule of the role grants the verb on pods
func allows(role *rbacv1.Role, verb string) bool {
	for _, rule := range role.Rules {
		if contains(rule.APIGroups, "", "*") &&
			contains(rule.Resources, "pods", "*") &&
			contains(rule.Verbs, verb, "*") {
			return true
		}
	}
	return false
}

func rbacForbidden() *Scenario {
	return &Scenario{
		ID:       "08",
		Name:     "rbac-forbidden",
		Category: CategoryRBAC,
		Summary: "The backend logs 'forbidden' whenever it lists the pods of its namespace " +
			"after an access review.",
		Hints: []string{
			"'kubectl auth can-i list pods --as=system:serviceaccount:<ns>:backend' answers the question of the backend.",
			"Which subject does the backend-pod-reader RoleBinding grant the role to?",
			"Which verbs does the pod-reader Role allow?",
		},
		Touches: []workshop.Ref{
			{Kind: "Role", Name: podReaderRole},
			{Kind: "RoleBinding", Name: podReaderBinding},
		},
		Break: func(ns string) Runner {
			return Tasks{
				{
					It:       "should bind the pod reader role to the default account",
					Action:   Patch,
					Resource: roleBinding(ns, podReaderBinding),
					Patch: mergePatch(object{
						"subjects": []interface{}{
							object{"kind": rbacv1.ServiceAccountKind, "name": "default", "namespace": ns},
						},
					}),
				},
				{
					It:       "should drop list & watch from the pod reader role",
					Action:   Patch,
					Resource: role(ns, podReaderRole),
					Patch: mergePatch(object{
						"rules": []interface{}{
							object{"apiGroups": []string{""}, "resources": []string{"pods"}, "verbs": []string{"get"}},
						},
					}),
				},
			}
		},
		Verify: func(ns string) []Check {
			return []Check{
				customCheck("pod-reader allows to list pods", role(ns, podReaderRole),
					func(r *rbacv1.Role) error {
						for _, verb := range []string{"get", "list"} {
							if !allows(r, verb) {
								return errors.Errorf("role does not allow %q on pods", verb)
							}
						}
						return nil
					}),
				carriesHealthyCheck("backend account is bound to pod-reader", roleBinding(ns, podReaderBinding),
					func(healthy *rbacv1.RoleBinding) *rbacv1.RoleBinding {
						return &rbacv1.RoleBinding{
							ObjectMeta: metav1.ObjectMeta{Name: healthy.Name, Namespace: healthy.Namespace},
							RoleRef:    healthy.RoleRef,
							Subjects:   healthy.Subjects,
						}
					}),
			}
		},
	}
}
