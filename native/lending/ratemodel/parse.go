package ratemodel

import (
	"fmt"
	"strings"

	"moneymarket/native/lending/fixed"
)

// ParseSpec builds a Spec from decimal strings. Empty coefficients are zero.
func ParseSpec(kind, baseRate, slope1, slope2, kink string, periodsPerYear uint64) (Spec, error) {
	kind = strings.ToLower(strings.TrimSpace(kind))
	if kind == "" {
		kind = KindJump
	}
	if periodsPerYear == 0 {
		periodsPerYear = DefaultPeriodsPerYear
	}
	spec := Spec{Kind: kind, PeriodsPerYear: periodsPerYear}
	var err error
	if spec.BaseRate, err = fixed.ParseExp(baseRate); err != nil {
		return Spec{}, fmt.Errorf("base rate: %w", err)
	}
	if spec.Slope1, err = fixed.ParseExp(slope1); err != nil {
		return Spec{}, fmt.Errorf("slope1: %w", err)
	}
	if spec.Slope2, err = fixed.ParseExp(slope2); err != nil {
		return Spec{}, fmt.Errorf("slope2: %w", err)
	}
	if spec.Kink, err = fixed.ParseExp(kink); err != nil {
		return Spec{}, fmt.Errorf("kink: %w", err)
	}
	if err := spec.Validate(); err != nil {
		return Spec{}, err
	}
	return spec, nil
}
