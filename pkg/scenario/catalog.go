package scenario

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/simplekube/breakfix/pkg/k8s"
	"github.com/simplekube/breakfix/pkg/workshop"

	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"
	"go.uber.org/zap"
	"k8s.io/apimachinery/pkg/runtime/schema"
	"k8s.io/client-go/kubernetes/scheme"
	"sigs.k8s.io/controller-runtime/pkg/client"
	"sigs.k8s.io/yaml"
)

// all returns every scenario in ID order
func all() []*Scenario {
	return []*Scenario{
		crashLoop(),
		imagePull(),
		serviceSelector(),
		readinessProbe(),
		pvcPending(),
		missingConfig(),
		missingSecret(),
		rbacForbidden(),
		nodeTaint(),
		insufficientResources(),
		priorityClass(),
		denyAllIngress(),
	}
}

// Catalog gives access to the scenarios bound to the workshop namespace
type Catalog struct {
	workshop  *workshop.Workshop
	registrar *k8s.BaseRegistrar
}

// NewCatalog registers every scenario for the given workshop
func NewCatalog(w *workshop.Workshop) (*Catalog, error) {
	if w == nil {
		return nil, errors.New("nil workshop")
	}
	registrar := k8s.NewRegistrar(k8s.EntityTypeScenario)
	for _, s := range all() {
		if err := registrar.Register(s.bind(w.Namespace)); err != nil {
			return nil, err
		}
	}
	return &Catalog{workshop: w, registrar: registrar}, nil
}

// List returns the scenarios in ID order
func (c *Catalog) List() []*Scenario {
	runners := c.registrar.GetRunners()
	list := make([]*Scenario, 0, len(runners))
	for _, r := range runners {
		list = append(list, r.(*Scenario))
	}
	return list
}

// Get looks a scenario up by number ("1" or "01"), full ID
// ("01-crashloop") or name ("crashloop")
func (c *Catalog) Get(id string) (*Scenario, error) {
	id = strings.ToLower(strings.TrimSpace(id))
	if n, err := strconv.Atoi(id); err == nil {
		id = fmt.Sprintf("%02d", n)
	}
	if r := c.registrar.Get(k8s.Key(id)); r != nil {
		return r.(*Scenario), nil
	}
	for _, s := range c.List() {
		if id == s.FullID() || id == s.Name {
			return s, nil
		}
	}
	return nil, errors.Errorf("unknown scenario %q: run 'breakfix scenario list'", id)
}

// Run injects the fault of the scenario & records it as the active one.
// The application has to be deployed first.
func (c *Catalog) Run(ctx context.Context, id string, opts ...k8s.RunOption) (*Scenario, error) {
	s, err := c.Get(id)
	if err != nil {
		return nil, err
	}
	deployed, err := c.workshop.IsDeployed(ctx, opts...)
	if err != nil {
		return nil, err
	}
	if !deployed {
		return nil, errors.Errorf("application is not deployed in namespace %q: run 'breakfix app deploy' first", c.workshop.Namespace)
	}

	state, err := c.workshop.ReadState(ctx, opts...)
	if err != nil {
		return nil, err
	}
	if state.Scenario != "" && state.Scenario != s.FullID() {
		zap.S().Warnw("another scenario is still active; consider 'breakfix app reset'", "active", state.Scenario)
	}

	zap.S().Infow("breaking application", "scenario", s.FullID(), "namespace", c.workshop.Namespace)
	if err := s.Run(ctx, opts...); err != nil {
		return nil, err
	}
	if err := c.workshop.RecordScenario(ctx, s.FullID(), opts...); err != nil {
		return nil, err
	}
	return s, nil
}

// CheckResult is the outcome of one check
type CheckResult struct {
	Name string
	Err  error
}

// CheckReport collects the outcome of every check of a scenario
type CheckReport struct {
	Scenario *Scenario
	Results  []CheckResult
}

// Passed returns true if every check succeeded
func (r *CheckReport) Passed() bool {
	return r.Err() == nil
}

// Err returns the failed checks as one error
func (r *CheckReport) Err() error {
	var result *multierror.Error
	for _, res := range r.Results {
		if res.Err != nil {
			result = multierror.Append(result, errors.WithMessage(res.Err, res.Name))
		}
	}
	return result.ErrorOrNil()
}

// Render writes one line per check
func (r *CheckReport) Render(out io.Writer) {
	fmt.Fprintf(out, "Scenario %s\n", r.Scenario.FullID())
	for _, res := range r.Results {
		if res.Err == nil {
			fmt.Fprintf(out, "  [PASS] %s\n", res.Name)
			continue
		}
		fmt.Fprintf(out, "  [FAIL] %s\n         %s\n", res.Name, strings.ReplaceAll(res.Err.Error(), "\n", "\n         "))
	}
	if r.Passed() {
		fmt.Fprintln(out, "All checks passed. Well done!")
	}
}

// Check runs every check of the scenario. All checks run even if some
// of them fail.
func (c *Catalog) Check(ctx context.Context, id string, opts ...k8s.RunOption) (*CheckReport, error) {
	s, err := c.Get(id)
	if err != nil {
		return nil, err
	}
	report := &CheckReport{Scenario: s}
	for _, check := range s.Verify(c.workshop.Namespace) {
		err := check.Runner.Run(ctx, opts...)
		if err != nil {
			zap.S().Debugw("check failed", "scenario", s.FullID(), "check", check.Name, "error", err)
		}
		report.Results = append(report.Results, CheckResult{Name: check.Name, Err: err})
	}
	return report, nil
}

// Hint returns the n-th hint of the scenario starting at 1
func (c *Catalog) Hint(id string, n int) (string, error) {
	s, err := c.Get(id)
	if err != nil {
		return "", err
	}
	if n < 1 || n > len(s.Hints) {
		return "", errors.Errorf("scenario %q has hints 1 to %d: got %d", s.FullID(), len(s.Hints), n)
	}
	return s.Hints[n-1], nil
}

// Revert undoes the fault: scenario specific leftovers are removed & the
// touched objects get their healthy state back
func (c *Catalog) Revert(ctx context.Context, id string, opts ...k8s.RunOption) error {
	s, err := c.Get(id)
	if err != nil {
		return err
	}
	zap.S().Infow("reverting scenario", "scenario", s.FullID(), "namespace", c.workshop.Namespace)
	if s.Revert != nil {
		if err := s.Revert(c.workshop.Namespace).Run(ctx, opts...); err != nil {
			return errors.WithMessagef(err, "failed to revert scenario %q", s.FullID())
		}
	}
	if len(s.Touches) != 0 {
		if err := c.workshop.Restore(ctx, s.Touches, opts...); err != nil {
			return errors.WithMessagef(err, "failed to revert scenario %q", s.FullID())
		}
	} else if err := c.workshop.ReleaseVolumes(ctx, opts...); err != nil {
		return errors.WithMessagef(err, "failed to revert scenario %q", s.FullID())
	}
	return c.workshop.ClearScenario(ctx, opts...)
}

// Show writes the description of the scenario followed by the healthy
// state of the objects it breaks
func (c *Catalog) Show(id string, out io.Writer) error {
	s, err := c.Get(id)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "Scenario: %s\nCategory: %s\n\n%s\n", s.FullID(), s.Category, s.Summary)
	if len(s.Touches) == 0 {
		return nil
	}
	fmt.Fprintln(out, "\nHealthy state of the affected objects:")
	for _, ref := range s.Touches {
		obj, err := healthyObject(c.workshop.Namespace, ref)
		if err != nil {
			return err
		}
		raw, err := yaml.Marshal(obj)
		if err != nil {
			return errors.Wrapf(err, "failed to render %s/%s", ref.Kind, ref.Name)
		}
		fmt.Fprintf(out, "---\n%s", raw)
	}
	return nil
}

// kindVersions resolves the group version of the kinds scenarios touch
var kindVersions = map[string]schema.GroupVersion{
	"Deployment":    {Group: "apps", Version: "v1"},
	"StatefulSet":   {Group: "apps", Version: "v1"},
	"Service":       {Version: "v1"},
	"ConfigMap":     {Version: "v1"},
	"Secret":        {Version: "v1"},
	"Role":          {Group: "rbac.authorization.k8s.io", Version: "v1"},
	"RoleBinding":   {Group: "rbac.authorization.k8s.io", Version: "v1"},
	"NetworkPolicy": {Group: "networking.k8s.io", Version: "v1"},
}

func healthyObject(namespace string, ref workshop.Ref) (client.Object, error) {
	gv, found := kindVersions[ref.Kind]
	if !found {
		return nil, errors.Errorf("unsupported kind %q", ref.Kind)
	}
	runtimeObj, err := scheme.Scheme.New(gv.WithKind(ref.Kind))
	if err != nil {
		return nil, errors.Wrapf(err, "kind %q", ref.Kind)
	}
	obj, ok := runtimeObj.(client.Object)
	if !ok {
		return nil, errors.Errorf("kind %q is not an object", ref.Kind)
	}
	obj.SetName(ref.Name)
	if err := workshop.Healthy(namespace, obj); err != nil {
		return nil, err
	}
	return obj, nil
}
