package workshop

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/simplekube/breakfix/pkg/k8s"

	"go.uber.org/zap"
	appsv1 "k8s.io/api/apps/v1"
	corev1 "k8s.io/api/core/v1"
	discoveryv1 "k8s.io/api/discovery/v1"
	"k8s.io/utils/ptr"
	"sigs.k8s.io/controller-runtime/pkg/client"
)

// logTailLines is the number of log lines kept for a failing pod
const logTailLines int64 = 5

type WorkloadStatus struct {
	Kind    string
	Name    string
	Ready   int32
	Desired int32
	Reason  string
}

type PodStatus struct {
	Name     string
	Node     string
	Phase    corev1.PodPhase
	Reason   string
	Restarts int32
	LastLog  string
}

type ClaimStatus struct {
	Name         string
	Phase        corev1.PersistentVolumeClaimPhase
	StorageClass string
	Volume       string
}

type ServiceStatus struct {
	Name      string
	Type      corev1.ServiceType
	Endpoints int
}

// Report is a snapshot of the application's health
type Report struct {
	Namespace string
	State     State
	Workloads []WorkloadStatus
	Pods      []PodStatus
	Claims    []ClaimStatus
	Services  []ServiceStatus
}

// Status inspects the workloads, pods, claims & services of the
// application namespace
func (w *Workshop) Status(ctx context.Context, opts ...k8s.RunOption) (*Report, error) {
	runOpts, err := k8s.ResolveRunOptions(opts...)
	if err != nil {
		return nil, err
	}
	state, err := w.ReadState(ctx, runOpts)
	if err != nil {
		return nil, err
	}
	report := &Report{Namespace: w.Namespace, State: *state}
	inNamespace := client.InNamespace(w.Namespace)

	endpoints := map[string]int{}
	lists := k8s.Lists{
		{
			It:          "should list deployments",
			Resource:    &appsv1.DeploymentList{},
			ListOptions: []client.ListOption{inNamespace},
			PostAction: func(list client.ObjectList) error {
				for i := range list.(*appsv1.DeploymentList).Items {
					d := &list.(*appsv1.DeploymentList).Items[i]
					_, reason := WorkloadReady(d)
					report.Workloads = append(report.Workloads, WorkloadStatus{
						Kind:    "Deployment",
						Name:    d.Name,
						Ready:   d.Status.ReadyReplicas,
						Desired: desiredReplicas(d.Spec.Replicas),
						Reason:  reason,
					})
				}
				return nil
			},
		},
		{
			It:          "should list statefulsets",
			Resource:    &appsv1.StatefulSetList{},
			ListOptions: []client.ListOption{inNamespace},
			PostAction: func(list client.ObjectList) error {
				for i := range list.(*appsv1.StatefulSetList).Items {
					s := &list.(*appsv1.StatefulSetList).Items[i]
					_, reason := WorkloadReady(s)
					report.Workloads = append(report.Workloads, WorkloadStatus{
						Kind:    "StatefulSet",
						Name:    s.Name,
						Ready:   s.Status.ReadyReplicas,
						Desired: desiredReplicas(s.Spec.Replicas),
						Reason:  reason,
					})
				}
				return nil
			},
		},
		{
			It:          "should list pods",
			Resource:    &corev1.PodList{},
			ListOptions: []client.ListOption{inNamespace},
			PostAction: func(list client.ObjectList) error {
				for _, pod := range list.(*corev1.PodList).Items {
					report.Pods = append(report.Pods, podStatus(pod))
				}
				return nil
			},
		},
		{
			It:          "should list claims",
			Resource:    &corev1.PersistentVolumeClaimList{},
			ListOptions: []client.ListOption{inNamespace},
			PostAction: func(list client.ObjectList) error {
				for _, pvc := range list.(*corev1.PersistentVolumeClaimList).Items {
					report.Claims = append(report.Claims, ClaimStatus{
						Name:         pvc.Name,
						Phase:        pvc.Status.Phase,
						StorageClass: ptr.Deref(pvc.Spec.StorageClassName, ""),
						Volume:       pvc.Spec.VolumeName,
					})
				}
				return nil
			},
		},
		{
			It:          "should list endpoint slices",
			Resource:    &discoveryv1.EndpointSliceList{},
			ListOptions: []client.ListOption{inNamespace},
			PostAction: func(list client.ObjectList) error {
				for _, slice := range list.(*discoveryv1.EndpointSliceList).Items {
					svc := slice.Labels[discoveryv1.LabelServiceName]
					for _, ep := range slice.Endpoints {
						if ptr.Deref(ep.Conditions.Ready, false) {
							endpoints[svc]++
						}
					}
				}
				return nil
			},
		},
		{
			It:          "should list services",
			Resource:    &corev1.ServiceList{},
			ListOptions: []client.ListOption{inNamespace},
			PostAction: func(list client.ObjectList) error {
				for _, svc := range list.(*corev1.ServiceList).Items {
					report.Services = append(report.Services, ServiceStatus{
						Name: svc.Name,
						Type: svc.Spec.Type,
					})
				}
				return nil
			},
		},
	}
	if err := lists.Run(ctx, runOpts); err != nil {
		return nil, err
	}
	for i := range report.Services {
		report.Services[i].Endpoints = endpoints[report.Services[i].Name]
	}
	if runOpts.Clientset != nil {
		w.attachLogs(ctx, runOpts, report)
	}
	report.sort()
	return report, nil
}

// podStatus summarises why a pod is not running, the way kubectl's
// STATUS column does
func podStatus(pod corev1.Pod) PodStatus {
	status := PodStatus{
		Name:  pod.Name,
		Node:  pod.Spec.NodeName,
		Phase: pod.Status.Phase,
	}
	for _, cond := range pod.Status.Conditions {
		if cond.Type == corev1.PodScheduled && cond.Status == corev1.ConditionFalse {
			status.Reason = cond.Reason
		}
	}
	for _, cs := range append(pod.Status.InitContainerStatuses, pod.Status.ContainerStatuses...) {
		status.Restarts += cs.RestartCount
		switch {
		case cs.State.Waiting != nil && cs.State.Waiting.Reason != "":
			status.Reason = cs.State.Waiting.Reason
		case cs.State.Terminated != nil && cs.State.Terminated.Reason != "" && status.Reason == "":
			status.Reason = cs.State.Terminated.Reason
		case cs.State.Running != nil && !cs.Ready && status.Reason == "":
			status.Reason = "NotReady"
		}
	}
	if pod.DeletionTimestamp != nil {
		status.Reason = "Terminating"
	}
	return status
}

// attachLogs fetches the last lines of the previous container run of
// every restarting pod. Failures are only logged.
func (w *Workshop) attachLogs(ctx context.Context, opts *k8s.RunOptions, report *Report) {
	for i := range report.Pods {
		pod := &report.Pods[i]
		if pod.Restarts == 0 && pod.Reason != "CrashLoopBackOff" && pod.Reason != "Error" {
			continue
		}
		raw, err := opts.Clientset.CoreV1().Pods(w.Namespace).GetLogs(pod.Name, &corev1.PodLogOptions{
			Previous:  pod.Restarts > 0,
			TailLines: ptr.To(logTailLines),
		}).DoRaw(ctx)
		if err != nil {
			zap.S().Debugw("failed to fetch logs", "pod", pod.Name, "error", err)
			continue
		}
		pod.LastLog = strings.TrimSpace(string(raw))
	}
}

func (r *Report) sort() {
	sort.Slice(r.Workloads, func(i, j int) bool {
		if r.Workloads[i].Kind != r.Workloads[j].Kind {
			return r.Workloads[i].Kind < r.Workloads[j].Kind
		}
		return r.Workloads[i].Name < r.Workloads[j].Name
	})
	sort.Slice(r.Pods, func(i, j int) bool { return r.Pods[i].Name < r.Pods[j].Name })
	sort.Slice(r.Claims, func(i, j int) bool { return r.Claims[i].Name < r.Claims[j].Name })
	sort.Slice(r.Services, func(i, j int) bool { return r.Services[i].Name < r.Services[j].Name })
}

// Healthy returns true if every workload is ready, every pod runs & every
// claim is bound
func (r *Report) Healthy() bool {
	for _, wl := range r.Workloads {
		if wl.Ready < wl.Desired {
			return false
		}
	}
	for _, pod := range r.Pods {
		if pod.Reason != "" && pod.Reason != "Completed" {
			return false
		}
	}
	for _, claim := range r.Claims {
		if claim.Phase != corev1.ClaimBound {
			return false
		}
	}
	return true
}

// Render writes the report as aligned tables
func (r *Report) Render(out io.Writer) error {
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)

	fmt.Fprintf(tw, "NAMESPACE\t%s\n", r.Namespace)
	scenario := "none"
	if r.State.Scenario != "" {
		scenario = fmt.Sprintf("%s (applied %s ago)", r.State.Scenario, time.Since(r.State.AppliedAt).Round(time.Second))
	}
	fmt.Fprintf(tw, "SCENARIO\t%s\n\n", scenario)

	fmt.Fprintln(tw, "WORKLOAD\tREADY\tREASON")
	for _, wl := range r.Workloads {
		fmt.Fprintf(tw, "%s/%s\t%d/%d\t%s\n", wl.Kind, wl.Name, wl.Ready, wl.Desired, wl.Reason)
	}

	fmt.Fprintln(tw, "\nPOD\tPHASE\tREASON\tRESTARTS\tNODE")
	for _, pod := range r.Pods {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s\n", pod.Name, pod.Phase, pod.Reason, pod.Restarts, pod.Node)
	}

	fmt.Fprintln(tw, "\nCLAIM\tPHASE\tSTORAGECLASS\tVOLUME")
	for _, claim := range r.Claims {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", claim.Name, claim.Phase, claim.StorageClass, claim.Volume)
	}

	fmt.Fprintln(tw, "\nSERVICE\tTYPE\tENDPOINTS")
	for _, svc := range r.Services {
		fmt.Fprintf(tw, "%s\t%s\t%d\n", svc.Name, svc.Type, svc.Endpoints)
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	for _, pod := range r.Pods {
		if pod.LastLog == "" {
			continue
		}
		fmt.Fprintf(out, "\n--- last logs of %s ---\n%s\n", pod.Name, pod.LastLog)
	}
	return nil
}
