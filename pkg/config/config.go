// Package config holds the settings of breakfix. Values are read from the
// environment first & may then be overridden by command line flags.
package config

import (
	"net"
	"os/user"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/pkg/errors"
)

// DefaultNamespace is where the sample application is deployed
const DefaultNamespace = "breakfix"

type Config struct {
	Kubeconfig   string        `env:"KUBECONFIG"`
	Namespace    string        `env:"BREAKFIX_NAMESPACE" envDefault:"breakfix"`
	LogLevel     string        `env:"BREAKFIX_LOG_LEVEL" envDefault:"info"`
	LogFormat    string        `env:"BREAKFIX_LOG_FORMAT" envDefault:"console"`
	AssumeYes    bool          `env:"BREAKFIX_ASSUME_YES" envDefault:"false"`
	WaitTimeout  time.Duration `env:"BREAKFIX_WAIT_TIMEOUT" envDefault:"3m"`
	WaitInterval time.Duration `env:"BREAKFIX_WAIT_INTERVAL" envDefault:"3s"`

	Session Session
	Cluster ClusterConfig
}

// Session describes how breakfix was invoked on the node
type Session struct {
	SSHConnection string `env:"SSH_CONNECTION"`
	SSHClient     string `env:"SSH_CLIENT"`
	SSHTTY        string `env:"SSH_TTY"`
	SudoUser      string `env:"SUDO_USER"`
	Home          string `env:"HOME"`
}

// ClusterConfig tunes the single node kubeadm installer
type ClusterConfig struct {
	KubernetesVersion string        `env:"BREAKFIX_K8S_VERSION" envDefault:"v1.31"`
	PodCIDR           string        `env:"BREAKFIX_POD_CIDR" envDefault:"10.244.0.0/16"`
	CNIManifest       string        `env:"BREAKFIX_CNI_MANIFEST" envDefault:"https://github.com/flannel-io/flannel/releases/latest/download/kube-flannel.yml"`
	NodeReadyTimeout  time.Duration `env:"BREAKFIX_NODE_READY_TIMEOUT" envDefault:"5m"`
	MinCPU            int           `env:"BREAKFIX_MIN_CPU" envDefault:"2"`
	MinMemoryMiB      int           `env:"BREAKFIX_MIN_MEMORY_MIB" envDefault:"1700"`
	MinDiskGiB        int           `env:"BREAKFIX_MIN_DISK_GIB" envDefault:"20"`
	DiskPath          string        `env:"BREAKFIX_DISK_PATH" envDefault:"/var/lib"`
	Ports             []int         `env:"BREAKFIX_REQUIRED_PORTS" envDefault:"6443,2379,2380,10250,10257,10259" envSeparator:","`
	CNIInterfaces     []string      `env:"BREAKFIX_CNI_INTERFACES" envDefault:"cni0,flannel.1,vxlan.calico,tunl0,kube-ipvs0" envSeparator:","`
}

// Load parses the configuration from the environment
func Load() (*Config, error) {
	cfg, err := env.ParseAs[Config]()
	if err != nil {
		return nil, errors.Wrap(err, "failed to parse config from environment")
	}
	if strings.TrimSpace(cfg.Namespace) == "" {
		cfg.Namespace = DefaultNamespace
	}
	return &cfg, nil
}

// IsSSHSession returns true if breakfix runs inside an SSH session
func (s Session) IsSSHSession() bool {
	return s.SSHConnection != "" || s.SSHClient != "" || s.SSHTTY != ""
}

// SSHClientIP returns the address of the remote end of the SSH session
//
// SSH_CONNECTION is "client_ip client_port server_ip server_port" while
// SSH_CLIENT is "client_ip client_port server_port"
func (s Session) SSHClientIP() string {
	for _, v := range []string{s.SSHConnection, s.SSHClient} {
		fields := strings.Fields(v)
		if len(fields) > 0 && net.ParseIP(fields[0]) != nil {
			return fields[0]
		}
	}
	return ""
}

// SSHPort returns the local port of the SSH daemon serving this session
func (s Session) SSHPort() string {
	if fields := strings.Fields(s.SSHConnection); len(fields) == 4 {
		return fields[3]
	}
	if fields := strings.Fields(s.SSHClient); len(fields) == 3 {
		return fields[2]
	}
	return "22"
}

// InvokingUserHome returns the home directory of the user that ran
// breakfix. When run via sudo this is the home of SUDO_USER instead of
// root's home.
func (s Session) InvokingUserHome() string {
	if s.SudoUser != "" && s.SudoUser != "root" {
		if u, err := user.Lookup(s.SudoUser); err == nil && u.HomeDir != "" {
			return u.HomeDir
		}
		return "/home/" + s.SudoUser
	}
	if s.Home != "" {
		return s.Home
	}
	return "/root"
}

// InvokingUser returns the name of the user that ran breakfix
func (s Session) InvokingUser() string {
	if s.SudoUser != "" {
		return s.SudoUser
	}
	return ""
}
