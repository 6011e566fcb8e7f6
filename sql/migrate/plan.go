// Copyright 2021-present The Atlas Authors. All rights reserved.
// This source code is licensed under the Apache 2.0 license found
// in the LICENSE file in the root directory of this source tree.

package migrate

type (
	// Plan is the ordered list of steps bringing a database from
	// its current version to the latest version in the catalog.
	Plan struct {
		From  Version // ledger version the plan was built against
		To    Version // expected version after all steps are applied
		Steps []*PlanStep
	}

	// PlanStep is a single script to apply.
	PlanStep struct {
		Script    *ChangeScript
		IsNew     bool         // script was never recorded in the ledger
		IsChanged bool         // script content differs from the recorded signature
		From      Version      // expected ledger version before the step
		To        Version      // ledger version after the step
		Prior     *LedgerEntry // ledger entry of a changed script
	}

	// LedgerLookup returns the ledger entry for a version.
	LedgerLookup func(Version) (*LedgerEntry, bool)
)

// Version returns the version of the step script.
func (s *PlanStep) Version() Version { return s.Script.Version() }

// IsNormalize reports if the step runs the normalization script.
func (s *PlanStep) IsNormalize() bool { return s.Script.IsNormalize() }

// Kind returns a short description of the step kind.
func (s *PlanStep) Kind() string {
	switch {
	case s.IsNormalize():
		return "normalize"
	case s.IsChanged:
		return "changed"
	default:
		return "new"
	}
}

// Empty reports if the plan has no steps.
func (p *Plan) Empty() bool { return len(p.Steps) == 0 }

// Pending returns the versioned steps of the plan.
func (p *Plan) Pending() []*PlanStep {
	steps := make([]*PlanStep, 0, len(p.Steps))
	for _, s := range p.Steps {
		if !s.IsNormalize() {
			steps = append(steps, s)
		}
	}
	return steps
}

// LookupEntries returns a LedgerLookup over the given entries.
func LookupEntries(entries []*LedgerEntry) LedgerLookup {
	m := make(map[Version]*LedgerEntry, len(entries))
	for _, e := range entries {
		m[e.Version] = e
	}
	return func(v Version) (*LedgerEntry, bool) {
		e, ok := m[v]
		return e, ok
	}
}

// BuildPlan computes the steps to apply on a database at the given version.
// Scripts at or below the current version whose signature differs from the
// recorded one come first in version order, followed by scripts above the
// current version. Scripts at or below the current version that were never
// recorded are applied with the first group. The normalization script, if
// requested and present, is always the last step. BuildPlan is deterministic.
func BuildPlan(r *Repository, current Version, lookup LedgerLookup, normalize bool) *Plan {
	var (
		early, late []*PlanStep
		p           = &Plan{From: current, To: current}
	)
	for _, s := range r.AllScripts() {
		if s.Version().Compare(current) > 0 {
			late = append(late, &PlanStep{Script: s, IsNew: true})
			continue
		}
		switch e, ok := lookup(s.Version()); {
		case !ok:
			early = append(early, &PlanStep{Script: s, IsNew: true})
		case e.Signature != s.Signature():
			early = append(early, &PlanStep{Script: s, IsChanged: true, Prior: e})
		}
	}
	// Steps at or below the current version do not move it.
	for _, s := range early {
		s.From, s.To = p.To, p.To
	}
	for _, s := range late {
		s.From, s.To = p.To, s.Version()
		p.To = s.To
	}
	p.Steps = append(early, late...)
	if n := r.NormalizationScript(); normalize && n != nil {
		p.Steps = append(p.Steps, &PlanStep{Script: n, From: p.To, To: p.To})
	}
	return p
}
