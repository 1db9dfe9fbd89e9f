package workshop

import (
	"github.com/dominikbraun/graph"
	"github.com/pkg/errors"
)

// Tier groups the objects of the application that are deployed &
// awaited together
type Tier string

const (
	TierStorage  Tier = "storage"
	TierDatabase Tier = "database"
	TierBackend  Tier = "backend"
	TierFrontend Tier = "frontend"
)

// tierDependencies maps a tier to the tiers that must be ready before it
var tierDependencies = map[Tier][]Tier{
	TierStorage:  nil,
	TierDatabase: {TierStorage},
	TierBackend:  {TierDatabase},
	TierFrontend: {TierBackend},
}

func tierHash(t Tier) Tier { return t }

func buildTierGraph() (graph.Graph[Tier, Tier], error) {
	g := graph.New(tierHash, graph.Directed(), graph.Acyclic(), graph.PreventCycles())
	for tier := range tierDependencies {
		if err := g.AddVertex(tier); err != nil {
			return nil, errors.Wrapf(err, "tier %q", tier)
		}
	}
	for tier, deps := range tierDependencies {
		for _, dep := range deps {
			if err := g.AddEdge(dep, tier); err != nil {
				return nil, errors.Wrapf(err, "tier %q: dependency %q", tier, dep)
			}
		}
	}
	return g, nil
}

// Tiers returns every tier with dependencies ahead of their dependents
func Tiers() ([]Tier, error) {
	return planTiers(nil)
}

// ParseTier returns the tier with the given name
func ParseTier(name string) (Tier, error) {
	tier := Tier(name)
	if _, found := tierDependencies[tier]; !found {
		return "", errors.Errorf("unknown tier %q", name)
	}
	return tier, nil
}

// planTiers returns the given tiers plus everything they depend on in
// deployment order. No targets means every tier.
func planTiers(targets []Tier) ([]Tier, error) {
	g, err := buildTierGraph()
	if err != nil {
		return nil, err
	}
	order, err := graph.StableTopologicalSort(g, func(a, b Tier) bool { return a < b })
	if err != nil {
		return nil, errors.Wrap(err, "failed to order tiers")
	}
	if len(targets) == 0 {
		return order, nil
	}

	predecessors, err := g.PredecessorMap()
	if err != nil {
		return nil, errors.Wrap(err, "failed to resolve tier dependencies")
	}
	wanted := map[Tier]bool{}
	var visit func(t Tier)
	visit = func(t Tier) {
		if wanted[t] {
			return
		}
		wanted[t] = true
		for dep := range predecessors[t] {
			visit(dep)
		}
	}
	for _, target := range targets {
		if _, found := tierDependencies[target]; !found {
			return nil, errors.Errorf("unknown tier %q", target)
		}
		visit(target)
	}

	plan := make([]Tier, 0, len(wanted))
	for _, tier := range order {
		if wanted[tier] {
			plan = append(plan, tier)
		}
	}
	return plan, nil
}
