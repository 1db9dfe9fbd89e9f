// Package shell runs the node level programs (kubeadm, dnf, systemctl,
// iptables, ip) that cannot be replaced by API calls.
package shell

import (
	"context"
	"os/exec"
	"strings"

	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// Runner executes a program and returns its combined output
type Runner interface {
	Run(ctx context.Context, bin string, args ...string) (string, error)
}

// ExecRunner implements Runner using os/exec
type ExecRunner struct{}

// compile time check to verify if the structure
// ExecRunner implements the interface Runner
var _ Runner = (*ExecRunner)(nil)

func (r *ExecRunner) Run(ctx context.Context, bin string, args ...string) (string, error) {
	zap.L().Debug("exec", zap.String("bin", bin), zap.Strings("args", args))
	cmd := exec.CommandContext(ctx, bin, args...)
	out, err := cmd.CombinedOutput()
	if err != nil {
		return string(out), errors.Wrapf(err, "%s %s: %s", bin, strings.Join(args, " "), strings.TrimSpace(string(out)))
	}
	return string(out), nil
}

// Line joins bin & args the way they would be typed in a terminal
func Line(bin string, args ...string) string {
	return strings.TrimSpace(bin + " " + strings.Join(args, " "))
}
