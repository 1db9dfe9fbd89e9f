// Package scenario holds the catalog of faults that the workshop injects
// into the sample application, together with the checks a repaired
// application must pass.
package scenario

import (
	"context"
	"regexp"

	"github.com/simplekube/breakfix/pkg/k8s"
	"github.com/simplekube/breakfix/pkg/workshop"

	"github.com/pkg/errors"
)

// Category groups scenarios by the area of Kubernetes they exercise
type Category string

const (
	CategoryPods       Category = "pods"
	CategoryServices   Category = "services"
	CategoryStorage    Category = "storage"
	CategoryConfig     Category = "config"
	CategoryRBAC       Category = "rbac"
	CategoryScheduling Category = "scheduling"
	CategoryNetwork    Category = "network"
)

// Check is one assertion that holds on a repaired application
type Check struct {
	Name   string
	Runner Runner
}

// Scenario describes one fault
type Scenario struct {
	// ID is the two digit number of the scenario e.g. "01"
	ID       string
	Name     string
	Category Category
	Summary  string
	Hints    []string

	// Touches lists the application objects the fault modifies. These
	// are restored to their healthy state on revert.
	Touches []workshop.Ref

	// Break returns the steps that inject the fault
	Break func(namespace string) Runner

	// Verify returns the checks a repaired application must pass
	Verify func(namespace string) []Check

	// [optional] Revert returns the steps that undo what restoring the
	// touched objects cannot e.g. node taints or extra objects
	Revert func(namespace string) Runner

	namespace string
}

var idPattern = regexp.MustCompile(`^[0-9]{2}$`)

// FullID returns the ID joined with the name e.g. "01-crashloop"
func (s *Scenario) FullID() string {
	return s.ID + "-" + s.Name
}

// Key implements k8s.RegistrarEntry
func (s *Scenario) Key() k8s.Key {
	return k8s.Key(s.ID)
}

// Type implements k8s.RegistrarEntry
func (s *Scenario) Type() k8s.EntityType {
	return k8s.EntityTypeScenario
}

// Validate implements k8s.Validator
func (s *Scenario) Validate() error {
	if !idPattern.MatchString(s.ID) {
		return errors.Errorf("invalid scenario id %q: want two digits", s.ID)
	}
	if s.Name == "" {
		return errors.Errorf("scenario %q: missing name", s.ID)
	}
	if s.Break == nil {
		return errors.Errorf("scenario %q: missing break steps", s.ID)
	}
	if s.Verify == nil {
		return errors.Errorf("scenario %q: missing checks", s.ID)
	}
	return nil
}

// Run injects the fault in the namespace the scenario is bound to
func (s *Scenario) Run(ctx context.Context, opts ...k8s.RunOption) error {
	return errors.WithMessagef(s.Break(s.namespace).Run(ctx, opts...), "scenario %q", s.FullID())
}

// bind returns a copy of the scenario bound to the namespace
func (s *Scenario) bind(namespace string) *Scenario {
	bound := *s
	bound.namespace = namespace
	return &bound
}
