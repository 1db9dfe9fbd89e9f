package cluster

import (
	"context"
	"os"
	"strings"

	"github.com/simplekube/breakfix/pkg/k8s"

	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// managedChainPrefixes are the iptables chains owned by kube-proxy & the
// CNI plugins
var managedChainPrefixes = []string{"KUBE-", "CNI-", "FLANNEL-", "cali-"}

var iptablesTables = []string{"filter", "nat", "mangle", "raw"}

// removedPaths are deleted on cleanup in addition to the kubeconfig of
// the invoking user
var removedPaths = []string{
	"/etc/kubernetes",
	"/var/lib/kubelet",
	"/var/lib/etcd",
	"/etc/cni/net.d",
	"/var/lib/breakfix",
}

func isManagedChain(chain string) bool {
	for _, prefix := range managedChainPrefixes {
		if strings.HasPrefix(chain, prefix) {
			return true
		}
	}
	return false
}

// Cleanup removes the cluster from this node. Every step is attempted
// even if earlier ones fail.
func (i *Installer) Cleanup(ctx context.Context) error {
	if i.Host.EUID() != 0 {
		return errors.New("must run as root: try sudo")
	}
	steps := k8s.Job{
		i.exec("should reset kubeadm", "kubeadm", "reset", "-f"),
		i.exec("should stop the kubelet", "systemctl", "stop", "kubelet"),
		i.exec("should stop containerd", "systemctl", "stop", "containerd"),
		&k8s.CustomTask{It: "should clean up iptables", Action: func(ctx context.Context, _ ...k8s.RunOption) error {
			return i.cleanupIptables(ctx)
		}},
		&k8s.CustomTask{It: "should delete virtual interfaces", Action: func(ctx context.Context, _ ...k8s.RunOption) error {
			return i.cleanupInterfaces(ctx)
		}},
	}
	for _, p := range append(removedPaths, i.userKubeconfig()) {
		target := i.path(p)
		steps = append(steps, &k8s.CustomTask{
			It: "should remove " + p,
			Action: func(context.Context, ...k8s.RunOption) error {
				return os.RemoveAll(target)
			},
		})
	}

	zap.S().Infow("removing cluster", "sshSession", i.Session.IsSSHSession())
	job := make(k8s.Job, 0, len(steps))
	for _, step := range steps {
		job = append(job, tolerant{step})
	}
	return job.Run(ctx)
}

func (i *Installer) iptables(ctx context.Context, args ...string) error {
	_, err := i.Runner.Run(ctx, "iptables", args...)
	return err
}

// cleanupIptables flushes every rule unless the session arrived via
// SSH. Then only the chains of Kubernetes & its CNI plugins are removed
// so that the session survives.
func (i *Installer) cleanupIptables(ctx context.Context) error {
	var errs []error
	keep := func(err error) {
		if err != nil {
			errs = append(errs, err)
		}
	}

	// accept first so that no intermediate state drops the session
	for _, chain := range []string{"INPUT", "FORWARD", "OUTPUT"} {
		keep(i.iptables(ctx, "-P", chain, "ACCEPT"))
	}

	if !i.Session.IsSSHSession() {
		for _, table := range iptablesTables {
			keep(i.iptables(ctx, "-t", table, "-F"))
			keep(i.iptables(ctx, "-t", table, "-X"))
		}
		return joinErrors(errs)
	}

	port := i.Session.SSHPort()
	zap.S().Infow("ssh session detected: removing kubernetes chains only",
		"client", i.Session.SSHClientIP(), "port", port)
	// the session stays reachable whatever rules remain in INPUT
	guard := []string{"INPUT", "-p", "tcp", "--dport", port, "-j", "ACCEPT"}
	if _, err := i.Runner.Run(ctx, "iptables", append([]string{"-C"}, guard...)...); err != nil {
		keep(i.iptables(ctx, append([]string{"-I"}, guard...)...))
	}
	for _, table := range iptablesTables {
		rules, err := i.Runner.Run(ctx, "iptables", "-t", table, "-S")
		if err != nil {
			keep(err)
			continue
		}
		var chains []string
		for _, line := range strings.Split(rules, "\n") {
			fields := splitRule(line)
			switch {
			case len(fields) == 2 && fields[0] == "-N" && isManagedChain(fields[1]):
				chains = append(chains, fields[1])
			case len(fields) > 2 && fields[0] == "-A" && !isManagedChain(fields[1]) && jumpsToManagedChain(fields):
				// unhook the managed chains from the built-in ones
				keep(i.iptables(ctx, append([]string{"-t", table, "-D"}, fields[1:]...)...))
			}
		}
		for _, chain := range chains {
			keep(i.iptables(ctx, "-t", table, "-F", chain))
		}
		for _, chain := range chains {
			keep(i.iptables(ctx, "-t", table, "-X", chain))
		}
	}
	return joinErrors(errs)
}

func jumpsToManagedChain(fields []string) bool {
	for idx := 0; idx < len(fields)-1; idx++ {
		if (fields[idx] == "-j" || fields[idx] == "-g") && isManagedChain(fields[idx+1]) {
			return true
		}
	}
	return false
}

// splitRule splits one line of 'iptables -S' into its arguments.
// Double quoted values e.g. comments stay one argument.
func splitRule(line string) []string {
	var (
		fields  []string
		current strings.Builder
		quoted  bool
		started bool
	)
	for _, r := range strings.TrimSpace(line) {
		switch {
		case r == '"':
			quoted = !quoted
			started = true
		case r == ' ' && !quoted:
			if started {
				fields = append(fields, current.String())
				current.Reset()
				started = false
			}
		default:
			current.WriteRune(r)
			started = true
		}
	}
	if started {
		fields = append(fields, current.String())
	}
	return fields
}

// sshInterface returns the interface that routes to the SSH client
func (i *Installer) sshInterface(ctx context.Context) string {
	ip := i.Session.SSHClientIP()
	if !i.Session.IsSSHSession() || ip == "" {
		return ""
	}
	out, err := i.Runner.Run(ctx, "ip", "route", "get", ip)
	if err != nil {
		zap.S().Warnw("failed to find the route of the ssh session", "client", ip, "error", err)
		return ""
	}
	fields := strings.Fields(out)
	for idx := 0; idx < len(fields)-1; idx++ {
		if fields[idx] == "dev" {
			return fields[idx+1]
		}
	}
	return ""
}

// cleanupInterfaces deletes the virtual interfaces of the CNI plugins
// except the one carrying the SSH session
func (i *Installer) cleanupInterfaces(ctx context.Context) error {
	sshDev := i.sshInterface(ctx)
	var errs []error
	for _, iface := range i.Config.CNIInterfaces {
		if iface == sshDev {
			zap.S().Warnw("keeping interface of the ssh session", "interface", iface)
			continue
		}
		if _, err := i.Runner.Run(ctx, "ip", "link", "show", iface); err != nil {
			continue
		}
		if _, err := i.Runner.Run(ctx, "ip", "link", "delete", iface); err != nil {
			errs = append(errs, err)
		}
	}
	return joinErrors(errs)
}
