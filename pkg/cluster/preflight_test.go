package cluster

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/simplekube/breakfix/pkg/shell"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPreflight(t *testing.T) {
	var tests = []struct {
		name    string
		modify  func(h *Host)
		wantErr []string
	}{
		{name: "healthy node", modify: func(*Host) {}},
		{
			name:    "not root",
			modify:  func(h *Host) { h.EUID = func() int { return 1000 } },
			wantErr: []string{"root privileges"},
		},
		{
			name: "small node",
			modify: func(h *Host) {
				h.NumCPU = func() int { return 1 }
				h.MemTotalMiB = func() (int, error) { return 1024, nil }
				h.FreeDiskGiB = func(string) (uint64, error) { return 5, nil }
			},
			wantErr: []string{"cpu: 1 CPU(s)", "memory: 1024 MiB", "disk: 5 GiB"},
		},
		{
			name: "busy port",
			modify: func(h *Host) {
				h.PortFree = func(port int) error {
					if port == 6443 {
						return errors.New("port 6443 is in use")
					}
					return nil
				}
			},
			wantErr: []string{"port 6443"},
		},
		{
			name:    "unreadable memory",
			modify:  func(h *Host) { h.MemTotalMiB = func() (int, error) { return 0, errors.New("no meminfo") } },
			wantErr: []string{"memory: no meminfo"},
		},
	}
	for _, test := range tests {
		test := test
		t.Run(test.name, func(t *testing.T) {
			i := newTestInstaller(t, &shell.MockRunner{})
			test.modify(&i.Host)

			err := i.Preflight(context.Background())
			if len(test.wantErr) == 0 {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			for _, want := range test.wantErr {
				assert.Contains(t, err.Error(), want)
			}
		})
	}
}

func TestMemTotalMiB(t *testing.T) {
	dir := t.TempDir()
	meminfo := filepath.Join(dir, "meminfo")
	require.NoError(t, os.WriteFile(meminfo, []byte("MemTotal:        4015852 kB\nMemFree:          211304 kB\n"), 0o644))

	mib, err := memTotalMiB(meminfo)
	require.NoError(t, err)
	assert.Equal(t, 3921, mib)

	empty := filepath.Join(dir, "empty")
	require.NoError(t, os.WriteFile(empty, []byte("MemFree: 1 kB\n"), 0o644))
	_, err = memTotalMiB(empty)
	assert.Error(t, err)

	_, err = memTotalMiB(filepath.Join(dir, "missing"))
	assert.Error(t, err)
}

func TestPortFree(t *testing.T) {
	assert.NoError(t, portFree(0))
}
