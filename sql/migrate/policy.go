// Copyright 2021-present The Atlas Authors. All rights reserved.
// This source code is licensed under the Apache 2.0 license found
// in the LICENSE file in the root directory of this source tree.

package migrate

import "fmt"

type (
	// Policy holds the operator acceptance of version warnings.
	// The two flags are independent.
	Policy struct {
		AcceptNew     bool // accept scripts never applied before
		AcceptChanged bool // accept scripts whose content changed after being applied
	}

	// Decision is the outcome of evaluating a Plan against a Policy.
	Decision struct {
		Proceed  bool
		Warnings []string
	}
)

// Evaluate returns the warnings the given plan raises under the policy.
// The plan may proceed only if no warnings were raised. The normalization
// step never raises warnings.
func Evaluate(p *Plan, policy Policy) Decision {
	var d Decision
	for _, s := range p.Steps {
		switch {
		case s.IsNormalize():
		case s.IsChanged && !policy.AcceptChanged:
			d.Warnings = append(d.Warnings, fmt.Sprintf("version %s: script content changed since last apply", s.Version()))
		case s.IsNew && !policy.AcceptNew:
			d.Warnings = append(d.Warnings, fmt.Sprintf("version %s: new script pending acceptance", s.Version()))
		}
	}
	d.Proceed = len(d.Warnings) == 0
	return d
}
