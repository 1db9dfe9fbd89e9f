// Package cluster installs & removes the single node kubeadm cluster the
// workshop runs on. Node level work goes through a shell.Runner while
// everything that the API offers is done with k8s tasks.
package cluster

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"github.com/simplekube/breakfix/pkg/config"
	"github.com/simplekube/breakfix/pkg/k8s"
	"github.com/simplekube/breakfix/pkg/shell"

	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

const (
	AdminKubeconfig     = "/etc/kubernetes/admin.conf"
	ControlPlaneTaint   = "node-role.kubernetes.io/control-plane"
	kubernetesRepoFile  = "/etc/yum.repos.d/kubernetes.repo"
	modulesLoadFile     = "/etc/modules-load.d/k8s.conf"
	sysctlFile          = "/etc/sysctl.d/k8s.conf"
	containerdConfig    = "/etc/containerd/config.toml"
	dockerRepositoryURL = "https://download.docker.com/linux/centos/docker-ce.repo"
)

// Installer manages the kubeadm cluster of this node
type Installer struct {
	Runner  shell.Runner
	Config  config.ClusterConfig
	Session config.Session
	Host    Host

	// PollInterval of the waits on the API. The default applies when
	// zero.
	PollInterval time.Duration

	// Root prefixes every file the installer reads or writes. It is
	// empty on a real node.
	Root string
}

// New returns an installer running real programs on this node
func New(cfg *config.Config) *Installer {
	return &Installer{
		Runner:  &shell.ExecRunner{},
		Config:  cfg.Cluster,
		Session: cfg.Session,
		Host:    DefaultHost(),
	}
}

func (i *Installer) path(p string) string {
	return filepath.Join(i.Root, p)
}

// userKubeconfig is the kubeconfig of the user that ran breakfix
func (i *Installer) userKubeconfig() string {
	return filepath.Join(i.Session.InvokingUserHome(), ".kube", "config")
}

// exec runs one program as a step of a job
func (i *Installer) exec(it, bin string, args ...string) k8s.Runner {
	return &k8s.CustomTask{
		It: it,
		Action: func(ctx context.Context, _ ...k8s.RunOption) error {
			_, err := i.Runner.Run(ctx, bin, args...)
			return err
		},
	}
}

// writeFile writes a file & creates its parent directories
func (i *Installer) writeFile(it, name, content string) k8s.Runner {
	return &k8s.CustomTask{
		It: it,
		Action: func(context.Context, ...k8s.RunOption) error {
			target := i.path(name)
			if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
				return errors.Wrapf(err, "failed to create directory of %q", name)
			}
			return errors.Wrapf(os.WriteFile(target, []byte(content), 0o644), "failed to write %q", name)
		},
	}
}

// tolerant turns a failure of the runner into a warning. Cleanup keeps
// going no matter what state the node is in.
type tolerant struct {
	k8s.Runner
}

func (t tolerant) Run(ctx context.Context, opts ...k8s.RunOption) error {
	if err := t.Runner.Run(ctx, opts...); err != nil {
		zap.S().Warnw("ignoring failed step", "error", err)
	}
	return nil
}

// apiOptions returns the given options or options built from the admin
// kubeconfig of a fresh cluster
func (i *Installer) apiOptions(opts []k8s.RunOption) ([]k8s.RunOption, error) {
	if len(opts) != 0 {
		return opts, nil
	}
	runOpts, err := k8s.NewRunOptions(i.path(AdminKubeconfig))
	if err != nil {
		return nil, errors.WithMessage(err, "failed to connect to the new cluster")
	}
	return []k8s.RunOption{runOpts}, nil
}

func joinErrors(errs []error) error {
	var result *multierror.Error
	for _, err := range errs {
		result = multierror.Append(result, err)
	}
	return result.ErrorOrNil()
}
