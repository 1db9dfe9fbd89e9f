package cluster

import (
	"context"
	"os"
	"strings"
	"testing"

	"github.com/simplekube/breakfix/pkg/config"
	"github.com/simplekube/breakfix/pkg/shell"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const filterRules = `-P INPUT ACCEPT
-P FORWARD DROP
-P OUTPUT ACCEPT
-N KUBE-FORWARD
-N FLANNEL-FWD
-N DOCKER-USER
-A INPUT -p tcp -m tcp --dport 22 -j ACCEPT
-A FORWARD -m comment --comment "kubernetes forwarding rules" -j KUBE-FORWARD
-A FORWARD -m comment --comment "flanneld forward" -j FLANNEL-FWD
-A KUBE-FORWARD -m conntrack --ctstate INVALID -j DROP
`

func cleanupRunner(sshDev string) *shell.MockRunner {
	return &shell.MockRunner{
		RunFn: func(line string) (string, error) {
			switch line {
			case "iptables -t filter -S":
				return filterRules, nil
			case "iptables -t nat -S":
				return "-P PREROUTING ACCEPT\n", nil
			case "iptables -t raw -S":
				return "", errExit
			case "ip route get 10.0.0.5":
				return "10.0.0.5 dev " + sshDev + " src 10.0.0.10 uid 0\n    cache\n", nil
			case "ip link show tunl0":
				return "Device \"tunl0\" does not exist.", errExit
			case "kubeadm reset -f":
				return "", errExit
			}
			return "", nil
		},
	}
}

func TestSplitRule(t *testing.T) {
	var tests = []struct {
		given string
		want  []string
	}{
		{given: "-N KUBE-FORWARD", want: []string{"-N", "KUBE-FORWARD"}},
		{
			given: `-A FORWARD -m comment --comment "kubernetes forwarding rules" -j KUBE-FORWARD`,
			want:  []string{"-A", "FORWARD", "-m", "comment", "--comment", "kubernetes forwarding rules", "-j", "KUBE-FORWARD"},
		},
		{given: "  ", want: nil},
	}
	for _, test := range tests {
		test := test
		t.Run(test.given, func(t *testing.T) {
			assert.Equal(t, test.want, splitRule(test.given))
		})
	}
}

func TestCleanupOverSSH(t *testing.T) {
	runner := cleanupRunner("eth0")
	i := newTestInstaller(t, runner)
	i.Session = config.Session{SSHConnection: "10.0.0.5 51234 10.0.0.10 22", Home: "/root"}
	for _, dir := range []string{"/etc/kubernetes/manifests", "/var/lib/etcd", "/root/.kube"} {
		require.NoError(t, os.MkdirAll(i.path(dir), 0o755))
	}
	require.NoError(t, os.WriteFile(i.path("/root/.kube/config"), []byte("apiVersion: v1"), 0o600))

	require.NoError(t, i.Cleanup(context.Background()), "failed steps are tolerated")

	assert.True(t, runner.Called("kubeadm reset -f"))
	assert.True(t, runner.Called("systemctl stop kubelet"))
	assert.True(t, runner.Called("iptables -P FORWARD ACCEPT"))
	assert.Less(t, runner.IndexOf("iptables -P FORWARD ACCEPT"), runner.IndexOf("iptables -t filter -S"),
		"policies accept before any chain is touched")

	// kubernetes chains are unhooked, flushed & deleted
	assert.True(t, runner.Called("iptables -t filter -D FORWARD -m comment --comment kubernetes forwarding rules -j KUBE-FORWARD"))
	assert.True(t, runner.Called("iptables -t filter -F KUBE-FORWARD"))
	assert.True(t, runner.Called("iptables -t filter -X FLANNEL-FWD"))
	assert.Less(t, runner.IndexOf("iptables -t filter -F KUBE-FORWARD"), runner.IndexOf("iptables -t filter -X KUBE-FORWARD"))

	// everything else stays
	assert.False(t, runner.Called("iptables -t filter -F DOCKER-USER"))
	assert.False(t, runner.Called("iptables -t filter -D INPUT"))
	for _, call := range runner.Calls {
		assert.NotEqual(t, "iptables -t filter -F", call, "no full flush over ssh")
	}

	assert.True(t, runner.Called("ip link delete cni0"))
	assert.True(t, runner.Called("ip link delete flannel.1"))
	assert.False(t, runner.Called("ip link delete tunl0"), "absent interfaces are skipped")

	for _, p := range []string{"/etc/kubernetes", "/var/lib/etcd", "/root/.kube/config"} {
		_, err := os.Stat(i.path(p))
		assert.True(t, os.IsNotExist(err), p)
	}
}

func TestCleanupGuardsSSHPort(t *testing.T) {
	var tests = map[string]struct {
		session    config.Session
		hasGuard   bool
		wantInsert string
	}{
		"custom port without rule": {
			session:    config.Session{SSHConnection: "10.0.0.5 51234 10.0.0.10 2222", Home: "/root"},
			wantInsert: "iptables -I INPUT -p tcp --dport 2222 -j ACCEPT",
		},
		"port from SSH_CLIENT": {
			session:    config.Session{SSHClient: "10.0.0.5 51234 22", Home: "/root"},
			wantInsert: "iptables -I INPUT -p tcp --dport 22 -j ACCEPT",
		},
		"rule in place": {
			session:  config.Session{SSHConnection: "10.0.0.5 51234 10.0.0.10 22", Home: "/root"},
			hasGuard: true,
		},
	}
	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			runner := cleanupRunner("eth0")
			base := runner.RunFn
			runner.RunFn = func(line string) (string, error) {
				if strings.HasPrefix(line, "iptables -C INPUT") && !tc.hasGuard {
					return "iptables: Bad rule (does a matching rule exist in that chain?).", errExit
				}
				return base(line)
			}
			i := newTestInstaller(t, runner)
			i.Session = tc.session

			require.NoError(t, i.Cleanup(context.Background()))
			assert.True(t, runner.Called("iptables -C INPUT -p tcp --dport"))
			if tc.wantInsert == "" {
				assert.False(t, runner.Called("iptables -I INPUT"))
				return
			}
			assert.True(t, runner.Called(tc.wantInsert))
			assert.Less(t, runner.IndexOf(tc.wantInsert), runner.IndexOf("iptables -t filter -S"),
				"guard before any chain is touched")
		})
	}
}

func TestCleanupKeepsInterfaceOfSSHSession(t *testing.T) {
	runner := cleanupRunner("flannel.1")
	i := newTestInstaller(t, runner)
	i.Session = config.Session{SSHClient: "10.0.0.5 51234 22", Home: "/root"}

	require.NoError(t, i.Cleanup(context.Background()))
	assert.True(t, runner.Called("ip link delete cni0"))
	assert.False(t, runner.Called("ip link delete flannel.1"))
}

func TestCleanupWithoutSSH(t *testing.T) {
	runner := cleanupRunner("eth0")
	i := newTestInstaller(t, runner)

	require.NoError(t, i.Cleanup(context.Background()))
	assert.True(t, runner.Called("iptables -t filter -F"))
	assert.True(t, runner.Called("iptables -t nat -X"))
	assert.False(t, runner.Called("iptables -t filter -S"))
	assert.False(t, runner.Called("ip route get"))
}

func TestCleanupRequiresRoot(t *testing.T) {
	runner := cleanupRunner("eth0")
	i := newTestInstaller(t, runner)
	i.Host.EUID = func() int { return 1000 }

	assert.Error(t, i.Cleanup(context.Background()))
	assert.Empty(t, runner.Calls)
}
