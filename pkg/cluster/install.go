package cluster

import (
	"context"
	"fmt"
	"strings"

	"github.com/simplekube/breakfix/pkg/k8s"

	"github.com/pkg/errors"
	"go.uber.org/zap"
	corev1 "k8s.io/api/core/v1"
	"sigs.k8s.io/controller-runtime/pkg/client"
)

const kernelModules = "overlay\nbr_netfilter\n"

const sysctlSettings = `net.bridge.bridge-nf-call-iptables  = 1
net.bridge.bridge-nf-call-ip6tables = 1
net.ipv4.ip_forward                 = 1
`

// kubernetesRepo returns the dnf repository of the configured minor
// version e.g. v1.31
func kubernetesRepo(version string) string {
	url := fmt.Sprintf("https://pkgs.k8s.io/core:/stable:/%s/rpm/", version)
	return fmt.Sprintf(`[kubernetes]
name=Kubernetes
baseurl=%s
enabled=1
gpgcheck=1
gpgkey=%srepodata/repomd.xml.key
exclude=kubelet kubeadm kubectl cri-tools kubernetes-cni
`, url, url)
}

// Install sets up a single node cluster with kubeadm. The given options
// reach the new cluster's API; the admin kubeconfig is used if none are
// given.
func (i *Installer) Install(ctx context.Context, opts ...k8s.RunOption) error {
	if err := i.Preflight(ctx); err != nil {
		return err
	}
	admin := i.path(AdminKubeconfig)

	node := k8s.Job{
		i.exec("should disable swap", "swapoff", "-a"),
		i.exec("should keep swap disabled after reboot", "sed", "-i", `/\sswap\s/ s/^#*/#/`, i.path("/etc/fstab")),
		i.writeFile("should load kernel modules on boot", modulesLoadFile, kernelModules),
		i.exec("should load the overlay module", "modprobe", "overlay"),
		i.exec("should load the br_netfilter module", "modprobe", "br_netfilter"),
		i.writeFile("should configure bridged traffic", sysctlFile, sysctlSettings),
		i.exec("should apply kernel settings", "sysctl", "--system"),
		i.exec("should add the container runtime repository", "dnf", "config-manager", "--add-repo", dockerRepositoryURL),
		i.writeFile("should add the kubernetes repository", kubernetesRepoFile, kubernetesRepo(i.Config.KubernetesVersion)),
		i.exec("should install the container runtime", "dnf", "install", "-y", "containerd.io"),
		i.exec("should install the kubernetes packages",
			"dnf", "install", "-y", "kubelet", "kubeadm", "kubectl", "--disableexcludes=kubernetes"),
		&k8s.CustomTask{
			It: "should configure containerd to use the systemd cgroup driver",
			Action: func(ctx context.Context, _ ...k8s.RunOption) error {
				defaults, err := i.Runner.Run(ctx, "containerd", "config", "default")
				if err != nil {
					return err
				}
				return i.writeFile("should write the containerd config", containerdConfig, systemdCgroup(defaults)).Run(ctx)
			},
		},
		i.exec("should start containerd", "systemctl", "enable", "--now", "containerd"),
		i.exec("should restart containerd with its new config", "systemctl", "restart", "containerd"),
		i.exec("should start the kubelet", "systemctl", "enable", "--now", "kubelet"),
		i.exec("should initialise the control plane", "kubeadm", "init", "--pod-network-cidr="+i.Config.PodCIDR),
		i.copyKubeconfig(),
		i.exec("should install the pod network", "kubectl", "--kubeconfig", admin, "apply", "-f", i.Config.CNIManifest),
	}
	zap.S().Infow("installing cluster", "version", i.Config.KubernetesVersion, "podCIDR", i.Config.PodCIDR)
	if err := node.Run(ctx); err != nil {
		return errors.WithMessage(err, "failed to install cluster")
	}

	apiOpts, err := i.apiOptions(opts)
	if err != nil {
		return err
	}
	api := k8s.Job{
		&k8s.NodeTaintTask{
			It:     "should allow workloads on the control plane",
			Taint:  corev1.Taint{Key: ControlPlaneTaint},
			Remove: true,
		},
		&k8s.EventualTask{
			Immediate: true,
			Interval:  i.PollInterval,
			Timeout:   i.Config.NodeReadyTimeout,
			Task: &k8s.ListingTask{
				It:       "should eventually find every node ready",
				Resource: &corev1.NodeList{},
				PostAction: func(list client.ObjectList) error {
					return nodesReady(list.(*corev1.NodeList).Items)
				},
			},
		},
	}
	if err := api.Run(ctx, apiOpts...); err != nil {
		return errors.WithMessage(err, "failed to install cluster")
	}
	zap.S().Infow("cluster is ready", "kubeconfig", i.userKubeconfig())
	return nil
}

// systemdCgroup switches the runc runtime of a default containerd
// config to the systemd cgroup driver
func systemdCgroup(config string) string {
	return strings.ReplaceAll(config, "SystemdCgroup = false", "SystemdCgroup = true")
}

// copyKubeconfig hands the admin kubeconfig to the invoking user
func (i *Installer) copyKubeconfig() k8s.Runner {
	target := i.path(i.userKubeconfig())
	steps := k8s.Job{
		i.exec("should create the kube directory", "mkdir", "-p", i.path(i.Session.InvokingUserHome()+"/.kube")),
		i.exec("should copy the admin kubeconfig", "cp", "-f", i.path(AdminKubeconfig), target),
	}
	if user := i.Session.InvokingUser(); user != "" {
		steps = append(steps,
			i.exec("should hand the kubeconfig to "+user, "chown", "-R", user+":", i.path(i.Session.InvokingUserHome()+"/.kube")),
		)
	}
	return steps
}

// nodesReady returns an error naming every node that is not ready
func nodesReady(nodes []corev1.Node) error {
	if len(nodes) == 0 {
		return errors.New("no nodes registered")
	}
	var notReady []string
	for _, node := range nodes {
		if !isNodeReady(node) {
			notReady = append(notReady, node.Name)
		}
	}
	if len(notReady) != 0 {
		return errors.Errorf("nodes not ready: %s", strings.Join(notReady, ", "))
	}
	return nil
}

func isNodeReady(node corev1.Node) bool {
	for _, c := range node.Status.Conditions {
		if c.Type == corev1.NodeReady {
			return c.Status == corev1.ConditionTrue
		}
	}
	return false
}
