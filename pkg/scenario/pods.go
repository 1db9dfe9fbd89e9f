package scenario

import (
	"github.com/simplekube/breakfix/pkg/workshop"

	"github.com/google/go-cmp/cmp"
	"github.com/pkg/errors"
	appsv1 "k8s.io/api/apps/v1"
	corev1 "k8s.io/api/core/v1"
	"k8s.io/apimachinery/pkg/util/intstr"
)

const (
	brokenFrontendImage = "nginx:1.27-alpine-doesnotexist"
	closedProbePort     = 8081
)

var crashCommand = []string{"sh", "-c", "echo 'FATAL: cannot read /etc/backend/app.yaml' >&2; exit 1"}

func containerOf(d *appsv1.Deployment, name string) corev1.Container {
	c, _ := container(d.Spec.Template.Spec, name)
	return c
}

// probePort returns the port an HTTP or TCP probe knocks on
func probePort(probe *corev1.Probe) (intstr.IntOrString, bool) {
	switch {
	case probe == nil:
		return intstr.IntOrString{}, false
	case probe.HTTPGet != nil:
		return probe.HTTPGet.Port, true
	case probe.TCPSocket != nil:
		return probe.TCPSocket.Port, true
	}
	return intstr.IntOrString{}, false
}

// declaresPort returns true if the port names or numbers a port of
// the container
func declaresPort(c corev1.Container, port intstr.IntOrString) bool {
	for _, p := range c.Ports {
		if port.Type == intstr.String && p.Name == port.StrVal {
			return true
		}
		if port.Type == intstr.Int && p.ContainerPort == port.IntVal {
			return true
		}
	}
	return false
}

func crashLoop() *Scenario {
	return &Scenario{
		ID:       "01",
		Name:     "crashloop",
		Category: CategoryPods,
		Summary: "The backend pods start & exit right away. Kubernetes keeps restarting " +
			"them with a growing back-off.",
		Hints: []string{
			"Which state are the backend pods in? Look at the STATUS column of 'kubectl get pods'.",
			"'kubectl logs <pod> --previous' shows the output of the container run that crashed.",
			"Compare the container command of the backend Deployment with what the image expects to run.",
		},
		Touches: []workshop.Ref{{Kind: "Deployment", Name: "backend"}},
		Break: func(ns string) Runner {
			return &Task{
				It:       "should replace the backend command with a failing one",
				Action:   Patch,
				Resource: deployment(ns, "backend"),
				Patch: containerPatch("backend", object{
					"command": crashCommand,
				}),
			}
		},
		Verify: func(ns string) []Check {
			return []Check{
				customCheck("backend no longer runs the crashing command", deployment(ns, "backend"),
					func(d *appsv1.Deployment) error {
						if cmp.Equal(containerOf(d, "backend").Command, crashCommand) {
							return errors.New("backend still exits right after its start")
						}
						return nil
					}),
				readyCheck(deployment(ns, "backend")),
			}
		},
	}
}

func imagePull() *Scenario {
	return &Scenario{
		ID:       "02",
		Name:     "image-pull",
		Category: CategoryPods,
		Summary:  "A frontend rollout took the shop down: the new pods never start.",
		Hints: []string{
			"'kubectl describe pod' lists the events of a pod. What does the kubelet fail to do?",
			"Does the image tag of the frontend container exist in the registry?",
			"'kubectl rollout undo' or 'kubectl set image' bring back a working image.",
		},
		Touches: []workshop.Ref{{Kind: "Deployment", Name: "frontend"}},
		Break: func(ns string) Runner {
			return &Task{
				It:       "should set a non-existent image tag on the frontend",
				Action:   Patch,
				Resource: deployment(ns, "frontend"),
				Patch:    containerPatch("frontend", object{"image": brokenFrontendImage}),
			}
		},
		Verify: func(ns string) []Check {
			return []Check{
				customCheck("frontend runs a pullable image", deployment(ns, "frontend"),
					func(d *appsv1.Deployment) error {
						if image := containerOf(d, "frontend").Image; image == brokenFrontendImage {
							return errors.Errorf("image %q does not exist", image)
						}
						return nil
					}),
				readyCheck(deployment(ns, "frontend")),
			}
		},
	}
}

func readinessProbe() *Scenario {
	return &Scenario{
		ID:       "04",
		Name:     "readiness-probe",
		Category: CategoryPods,
		Summary: "The backend pods run without restarts but none of them becomes ready. " +
			"The backend Service has no endpoints.",
		Hints: []string{
			"'kubectl get endpointslices' shows which pods receive traffic of a Service.",
			"The events of a backend pod tell why the readiness probe fails.",
			"On which port does the backend listen? On which port does the probe knock?",
		},
		Touches: []workshop.Ref{{Kind: "Deployment", Name: "backend"}},
		Break: func(ns string) Runner {
			return &Task{
				It:       "should point the backend readiness probe to a closed port",
				Action:   Patch,
				Resource: deployment(ns, "backend"),
				Patch: containerPatch("backend", object{
					"readinessProbe": object{
						"httpGet": object{"path": "/healthz", "port": closedProbePort},
					},
				}),
			}
		},
		Verify: func(ns string) []Check {
			return []Check{
				customCheck("backend readiness probe targets a serving port", deployment(ns, "backend"),
					func(d *appsv1.Deployment) error {
						c := containerOf(d, "backend")
						port, ok := probePort(c.ReadinessProbe)
						if !ok {
							// without a probe the pods turn ready once started
							return nil
						}
						if !declaresPort(c, port) {
							return errors.Errorf("probe port %s is not a port of the backend container", port.String())
						}
						return nil
					}),
				readyCheck(deployment(ns, "backend")),
			}
		},
	}
}
