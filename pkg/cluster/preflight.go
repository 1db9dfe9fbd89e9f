package cluster

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"os"
	"runtime"
	"strconv"
	"strings"

	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"
	"github.com/sourcegraph/conc/pool"
	"go.uber.org/zap"
	"golang.org/x/sys/unix"
)

// Host reports the resources of the node. Every field can be replaced
// in tests.
type Host struct {
	NumCPU      func() int
	MemTotalMiB func() (int, error)
	FreeDiskGiB func(path string) (uint64, error)
	EUID        func() int
	PortFree    func(port int) error
}

// DefaultHost inspects the node breakfix runs on
func DefaultHost() Host {
	return Host{
		NumCPU:      runtime.NumCPU,
		MemTotalMiB: func() (int, error) { return memTotalMiB("/proc/meminfo") },
		FreeDiskGiB: freeDiskGiB,
		EUID:        os.Geteuid,
		PortFree:    portFree,
	}
}

// memTotalMiB reads MemTotal of the given meminfo file
func memTotalMiB(path string) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, errors.Wrap(err, "failed to read memory info")
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) < 2 || fields[0] != "MemTotal:" {
			continue
		}
		kib, err := strconv.Atoi(fields[1])
		if err != nil {
			return 0, errors.Wrapf(err, "invalid MemTotal %q", fields[1])
		}
		return kib / 1024, nil
	}
	if err := scanner.Err(); err != nil {
		return 0, errors.Wrap(err, "failed to read memory info")
	}
	return 0, errors.Errorf("no MemTotal in %s", path)
}

func freeDiskGiB(path string) (uint64, error) {
	var st unix.Statfs_t
	if err := unix.Statfs(path, &st); err != nil {
		return 0, errors.Wrapf(err, "statfs %s", path)
	}
	return st.Bavail * uint64(st.Bsize) >> 30, nil
}

func portFree(port int) error {
	l, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
	if err != nil {
		return errors.Errorf("port %d is in use", port)
	}
	return l.Close()
}

// Preflight verifies the node can host a cluster. Checks run
// concurrently & every failure is reported.
func (i *Installer) Preflight(ctx context.Context) error {
	checks := map[string]func() error{
		"root privileges": func() error {
			if i.Host.EUID() != 0 {
				return errors.New("must run as root: try sudo")
			}
			return nil
		},
		"cpu": func() error {
			if n := i.Host.NumCPU(); n < i.Config.MinCPU {
				return errors.Errorf("%d CPU(s) found: need at least %d", n, i.Config.MinCPU)
			}
			return nil
		},
		"memory": func() error {
			mib, err := i.Host.MemTotalMiB()
			if err != nil {
				return err
			}
			if mib < i.Config.MinMemoryMiB {
				return errors.Errorf("%d MiB memory found: need at least %d MiB", mib, i.Config.MinMemoryMiB)
			}
			return nil
		},
		"disk": func() error {
			gib, err := i.Host.FreeDiskGiB(i.Config.DiskPath)
			if err != nil {
				return err
			}
			if gib < uint64(i.Config.MinDiskGiB) {
				return errors.Errorf("%d GiB free on %s: need at least %d GiB", gib, i.Config.DiskPath, i.Config.MinDiskGiB)
			}
			return nil
		},
	}
	for _, port := range i.Config.Ports {
		port := port
		checks[fmt.Sprintf("port %d", port)] = func() error { return i.Host.PortFree(port) }
	}

	p := pool.NewWithResults[error]().WithContext(ctx)
	for name, check := range checks {
		name, check := name, check
		p.Go(func(context.Context) (error, error) {
			err := check()
			if err != nil {
				zap.S().Debugw("preflight check failed", "check", name, "error", err)
				return errors.WithMessage(err, name), nil
			}
			zap.S().Debugw("preflight check passed", "check", name)
			return nil, nil
		})
	}
	results, err := p.Wait()
	if err != nil {
		return err
	}

	var result *multierror.Error
	for _, failed := range results {
		if failed != nil {
			result = multierror.Append(result, failed)
		}
	}
	return errors.WithMessage(result.ErrorOrNil(), "preflight failed")
}
