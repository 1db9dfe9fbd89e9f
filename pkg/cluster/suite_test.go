package cluster

import (
	"testing"
	"time"

	"github.com/simplekube/breakfix/pkg/config"
	"github.com/simplekube/breakfix/pkg/k8s"
	"github.com/simplekube/breakfix/pkg/shell"

	"github.com/pkg/errors"
	"k8s.io/client-go/kubernetes/scheme"
	"sigs.k8s.io/controller-runtime/pkg/client"
	"sigs.k8s.io/controller-runtime/pkg/client/fake"
)

// healthyHost satisfies every preflight check
func healthyHost() Host {
	return Host{
		NumCPU:      func() int { return 4 },
		MemTotalMiB: func() (int, error) { return 8192, nil },
		FreeDiskGiB: func(string) (uint64, error) { return 100, nil },
		EUID:        func() int { return 0 },
		PortFree:    func(int) error { return nil },
	}
}

func testClusterConfig() config.ClusterConfig {
	return config.ClusterConfig{
		KubernetesVersion: "v1.31",
		PodCIDR:           "10.244.0.0/16",
		CNIManifest:       "https://example.com/flannel.yml",
		NodeReadyTimeout:  time.Second,
		MinCPU:            2,
		MinMemoryMiB:      1700,
		MinDiskGiB:        20,
		DiskPath:          "/var/lib",
		Ports:             []int{6443, 10250},
		CNIInterfaces:     []string{"cni0", "flannel.1", "tunl0"},
	}
}

func newTestInstaller(t *testing.T, runner shell.Runner) *Installer {
	t.Helper()
	return &Installer{
		Runner:  runner,
		Config:  testClusterConfig(),
		Session: config.Session{Home: "/root"},
		Host:    healthyHost(),
		Root:    t.TempDir(),

		PollInterval: 10 * time.Millisecond,
	}
}

func newTestRunOptions(objs ...client.Object) *k8s.RunOptions {
	return &k8s.RunOptions{
		Client: fake.NewClientBuilder().WithScheme(scheme.Scheme).WithObjects(objs...).Build(),
		Scheme: scheme.Scheme,
	}
}

var errExit = errors.New("exit status 1")
