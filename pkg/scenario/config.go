package scenario

import (
	"github.com/simplekube/breakfix/pkg/workshop"

	"github.com/pkg/errors"
	corev1 "k8s.io/api/core/v1"
	"sigs.k8s.io/controller-runtime/pkg/client"
)

const (
	backendConfig   = "backend-config"
	postgresSecret  = "postgres-credentials"
	passwordKey     = "POSTGRES_PASSWORD"
	databasePortKey = "DATABASE_PORT"
)

func restart(workload client.Object, what string) *Task {
	return &Task{
		It:       "should restart " + what,
		Action:   Patch,
		Resource: workload,
		Patch:    restartPatch(),
	}
}

func missingConfig() *Scenario {
	return &Scenario{
		ID:       "06",
		Name:     "missing-config",
		Category: CategoryConfig,
		Summary: "Someone tidied up the backend configuration & restarted the backend. " +
			"The new pods do not start.",
		Hints: []string{
			"Which reason does 'kubectl get pods' show for the new backend pods?",
			"'kubectl describe pod' names the missing configuration.",
			"Compare the keys of the backend-config ConfigMap with the keys the backend Deployment reads.",
		},
		Touches: []workshop.Ref{
			{Kind: "ConfigMap", Name: backendConfig},
			{Kind: "Deployment", Name: "backend"},
		},
		Break: func(ns string) Runner {
			return Tasks{
				{
					It:       "should remove the database port from the backend config",
					Action:   Patch,
					Resource: configMap(ns, backendConfig),
					Patch:    mergePatch(object{"data": object{databasePortKey: nil}}),
				},
				restart(deployment(ns, "backend"), "the backend"),
			}
		},
		Verify: func(ns string) []Check {
			return []Check{
				customCheck("backend config has "+databasePortKey, configMap(ns, backendConfig),
					func(cm *corev1.ConfigMap) error {
						if cm.Data[databasePortKey] == "" {
							return errors.Errorf("missing key %q", databasePortKey)
						}
						return nil
					}),
				readyCheck(deployment(ns, "backend")),
			}
		},
	}
}

// hasKey accepts the key in data or in stringData since the latter is
// only folded into data by the API server
func hasKey(s *corev1.Secret, key string) bool {
	if len(s.Data[key]) != 0 {
		return true
	}
	return s.StringData[key] != ""
}

func missingSecret() *Scenario {
	return &Scenario{
		ID:       "07",
		Name:     "missing-secret",
		Category: CategoryConfig,
		Summary: "The database credentials were rotated by deleting them. The database & " +
			"the backend were restarted afterwards & neither comes back.",
		Hints: []string{
			"'kubectl get pods' shows CreateContainerConfigError. What does describe say?",
			"Which Secret do the postgres StatefulSet & the backend Deployment read?",
			"'kubectl create secret generic' recreates a Secret from literals.",
		},
		Touches: []workshop.Ref{
			{Kind: "Secret", Name: postgresSecret},
			{Kind: "StatefulSet", Name: "postgres"},
			{Kind: "Deployment", Name: "backend"},
		},
		Break: func(ns string) Runner {
			return Tasks{
				{
					It:       "should delete the database credentials",
					Action:   Delete,
					Resource: secret(ns, postgresSecret),
				},
				restart(statefulSet(ns, "postgres"), "the database"),
				restart(deployment(ns, "backend"), "the backend"),
			}
		},
		Verify: func(ns string) []Check {
			return []Check{
				customCheck("database credentials have "+passwordKey, secret(ns, postgresSecret),
					func(s *corev1.Secret) error {
						if !hasKey(s, passwordKey) {
							return errors.Errorf("missing key %q", passwordKey)
						}
						return nil
					}),
				readyCheck(statefulSet(ns, "postgres")),
				readyCheck(deployment(ns, "backend")),
			}
		},
	}
}
