package scenario

import (
	"github.com/pkg/errors"
	appsv1 "k8s.io/api/apps/v1"
	corev1 "k8s.io/api/core/v1"
	"k8s.io/apimachinery/pkg/api/resource"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/utils/ptr"
)

const (
	reportsName  = "reports"
	reportsClaim = "reports-data"
)

func reportsDeployment(ns, scenarioID string) *appsv1.Deployment {
	podLabels := map[string]string{"app": reportsName, "tier": "backend"}
	return &appsv1.Deployment{
		ObjectMeta: leftoverMeta(ns, reportsName, scenarioID),
		Spec: appsv1.DeploymentSpec{
			Replicas: ptr.To[int32](1),
			Selector: &metav1.LabelSelector{MatchLabels: podLabels},
			Template: corev1.PodTemplateSpec{
				ObjectMeta: metav1.ObjectMeta{Labels: podLabels},
				Spec: corev1.PodSpec{
					PriorityClassName: "breakfix-standard",
					Containers: []corev1.Container{
						{
							Name:    reportsName,
							Image:   "busybox:1.36",
							Command: []string{"sh", "-c", "while true; do date >> /reports/generated.log; sleep 60; done"},
							VolumeMounts: []corev1.VolumeMount{
								{Name: "data", MountPath: "/reports"},
							},
						},
					},
					Volumes: []corev1.Volume{
						{
							Name: "data",
							VolumeSource: corev1.VolumeSource{
								PersistentVolumeClaim: &corev1.PersistentVolumeClaimVolumeSource{ClaimName: reportsClaim},
							},
						},
					},
				},
			},
		},
	}
}

func reportsPVC(ns, scenarioID string) *corev1.PersistentVolumeClaim {
	return &corev1.PersistentVolumeClaim{
		ObjectMeta: leftoverMeta(ns, reportsClaim, scenarioID),
		Spec: corev1.PersistentVolumeClaimSpec{
			AccessModes:      []corev1.PersistentVolumeAccessMode{corev1.ReadWriteOnce},
			StorageClassName: ptr.To("fast-ssd"),
			Resources: corev1.VolumeResourceRequirements{
				Requests: corev1.ResourceList{corev1.ResourceStorage: resource.MustParse("1Gi")},
			},
		},
	}
}

func pvcPending() *Scenario {
	const id = "05-pvc-pending"
	return &Scenario{
		ID:       "05",
		Name:     "pvc-pending",
		Category: CategoryStorage,
		Summary: "A new reports service was rolled out next to the backend. Its pod never " +
			"leaves the Pending state.",
		Hints: []string{
			"What does 'kubectl describe pod' say about the volumes of the reports pod?",
			"'kubectl get pvc' shows the status of every claim. Why is reports-data not Bound?",
			"Which StorageClasses exist? The spec of a PVC is immutable: delete & recreate it.",
		},
		Break: func(ns string) Runner {
			return Tasks{
				{
					It:       "should claim storage of a missing storage class",
					Action:   Create,
					Resource: reportsPVC(ns, id),
				},
				{
					It:       "should deploy the reports service",
					Action:   Create,
					Resource: reportsDeployment(ns, id),
				},
			}
		},
		Verify: func(ns string) []Check {
			return []Check{
				customCheck("reports-data claim is bound", &corev1.PersistentVolumeClaim{ObjectMeta: meta(ns, reportsClaim)},
					func(pvc *corev1.PersistentVolumeClaim) error {
						if pvc.Status.Phase != corev1.ClaimBound {
							return errors.Errorf("claim is %q", pvc.Status.Phase)
						}
						return nil
					}),
				readyCheck(deployment(ns, reportsName)),
			}
		},
		Revert: func(ns string) Runner {
			return deleteLeftovers(
				deployment(ns, reportsName),
				&corev1.PersistentVolumeClaim{ObjectMeta: meta(ns, reportsClaim)},
			)
		},
	}
}
