package cluster

import (
	"context"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/simplekube/breakfix/pkg/k8s"

	corev1 "k8s.io/api/core/v1"
	"sigs.k8s.io/controller-runtime/pkg/client"
)

// NodeStatus is one row of the node table
type NodeStatus struct {
	Name    string
	Ready   bool
	Version string
	Taints  []string
}

// Status summarises the cluster of this node
type Status struct {
	Services       map[string]string
	KubeadmVersion string
	Nodes          []NodeStatus

	// NodesErr explains why the nodes could not be listed
	NodesErr error
}

var services = []string{"containerd", "kubelet"}

// Status reports the state of the node services, the installed kubeadm
// & the nodes of the cluster. Nothing fails the report: missing pieces
// are part of it.
func (i *Installer) Status(ctx context.Context, opts ...k8s.RunOption) *Status {
	status := &Status{Services: map[string]string{}}
	for _, svc := range services {
		// is-active exits non zero for anything but active
		out, _ := i.Runner.Run(ctx, "systemctl", "is-active", svc)
		state := strings.TrimSpace(out)
		if state == "" {
			state = "unknown"
		}
		status.Services[svc] = state
	}
	if out, err := i.Runner.Run(ctx, "kubeadm", "version", "-o", "short"); err == nil {
		status.KubeadmVersion = strings.TrimSpace(out)
	}

	apiOpts, err := i.apiOptions(opts)
	if err != nil {
		status.NodesErr = err
		return status
	}
	status.NodesErr = (&k8s.ListingTask{
		It:       "should list nodes",
		Resource: &corev1.NodeList{},
		PostAction: func(list client.ObjectList) error {
			for _, node := range list.(*corev1.NodeList).Items {
				ns := NodeStatus{
					Name:    node.Name,
					Ready:   isNodeReady(node),
					Version: node.Status.NodeInfo.KubeletVersion,
				}
				for _, taint := range node.Spec.Taints {
					ns.Taints = append(ns.Taints, taint.ToString())
				}
				status.Nodes = append(status.Nodes, ns)
			}
			return nil
		},
	}).Run(ctx, apiOpts...)
	return status
}

// Render writes the status as tables
func (s *Status) Render(out io.Writer) error {
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "SERVICE\tSTATE")
	for _, svc := range services {
		fmt.Fprintf(w, "%s\t%s\n", svc, s.Services[svc])
	}
	kubeadm := s.KubeadmVersion
	if kubeadm == "" {
		kubeadm = "not installed"
	}
	fmt.Fprintf(w, "kubeadm\t%s\n\n", kubeadm)

	if s.NodesErr != nil {
		fmt.Fprintf(w, "nodes unavailable: %v\n", s.NodesErr)
		return w.Flush()
	}
	fmt.Fprintln(w, "NODE\tREADY\tVERSION\tTAINTS")
	for _, n := range s.Nodes {
		taints := strings.Join(n.Taints, ",")
		if taints == "" {
			taints = "<none>"
		}
		fmt.Fprintf(w, "%s\t%t\t%s\t%s\n", n.Name, n.Ready, n.Version, taints)
	}
	return w.Flush()
}
