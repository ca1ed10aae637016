// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package redteam

import (
	"fmt"
	"math"

	"github.com/google/uuid"
)

// CrossCheckRule declares one comparison between two producers' fields.
// Rules are data, not code: new comparisons are added to the rule table
// without touching the comparison engine.
type CrossCheckRule struct {
	// Name identifies the rule in results and logs.
	Name string `validate:"required"`

	// ProducerA/FieldA and ProducerB/FieldB select the compared values.
	ProducerA Producer `validate:"required"`
	FieldA    string   `validate:"required"`
	ProducerB Producer `validate:"required"`
	FieldB    string   `validate:"required"`

	// TolerancePct is the allowed relative difference for numeric
	// comparisons, e.g. 0.05 for five percent. Ignored when Exact is set.
	TolerancePct float64 `validate:"gte=0"`

	// Exact requires equality; a mismatch is an error, not a warning.
	Exact bool

	// Note is appended to the result for context.
	Note string
}

// BandRule declares that one producer's numeric field must fall inside a
// band derived from two other fields: [LowFactor*low, HighFactor*high].
type BandRule struct {
	// Name identifies the rule in results and logs.
	Name string `validate:"required"`

	// Producer/Field select the checked value.
	Producer Producer `validate:"required"`
	Field    string   `validate:"required"`

	// LowProducer/LowField scaled by LowFactor give the lower bound.
	LowProducer Producer `validate:"required"`
	LowField    string   `validate:"required"`
	LowFactor   float64  `validate:"gt=0"`

	// HighProducer/HighField scaled by HighFactor give the upper bound.
	HighProducer Producer `validate:"required"`
	HighField    string   `validate:"required"`
	HighFactor   float64  `validate:"gt=0"`

	// Note is appended to the result for context.
	Note string
}

// CrossValidator compares fields across producers using declared rules.
// Pure and deterministic; it reads the snapshot and nothing else.
type CrossValidator struct {
	rules []CrossCheckRule
	bands []BandRule
}

// NewCrossValidator builds a validator over static rule tables.
func NewCrossValidator(rules []CrossCheckRule, bands []BandRule) *CrossValidator {
	return &CrossValidator{rules: rules, bands: bands}
}

// Validate applies every rule whose inputs are present. Absent producers
// or fields skip the rule silently: a missing optional stage is valid.
// Each violated rule contributes exactly one issue.
func (cv *CrossValidator) Validate(outputs Snapshot) ([]CrossCheckResult, []ValidationIssue) {
	var results []CrossCheckResult
	var issues []ValidationIssue

	for _, rule := range cv.rules {
		result, issue := cv.applyRule(rule, outputs)
		if result == nil {
			continue
		}
		results = append(results, *result)
		if issue != nil {
			issues = append(issues, *issue)
		}
	}

	for _, band := range cv.bands {
		result, issue := cv.applyBand(band, outputs)
		if result == nil {
			continue
		}
		results = append(results, *result)
		if issue != nil {
			issues = append(issues, *issue)
		}
	}

	return results, issues
}

func (cv *CrossValidator) applyRule(rule CrossCheckRule, outputs Snapshot) (*CrossCheckResult, *ValidationIssue) {
	outA, okA := outputs[rule.ProducerA]
	outB, okB := outputs[rule.ProducerB]
	if !okA || !okB {
		return nil, nil
	}
	valA, okA := lookupField(outA, rule.FieldA)
	valB, okB := lookupField(outB, rule.FieldB)
	if !okA || !okB || valA == nil || valB == nil {
		return nil, nil
	}

	numA, isNumA := asNumber(valA)
	numB, isNumB := asNumber(valB)

	result := CrossCheckResult{
		RuleName:  rule.Name,
		ProducerA: rule.ProducerA,
		ProducerB: rule.ProducerB,
		ValueA:    valA,
		ValueB:    valB,
	}

	if !rule.Exact && isNumA && isNumB {
		diff := relativeDiff(numA, numB)
		result.IsConsistent = diff <= rule.TolerancePct
		result.Note = fmt.Sprintf("relative difference %.1f%% (tolerance %.1f%%)",
			diff*100, rule.TolerancePct*100)
		if result.IsConsistent {
			return &result, nil
		}
		return &result, &ValidationIssue{
			ID:       uuid.NewString(),
			Severity: SeverityWarning,
			Category: CategoryCrossCheck,
			Producer: rule.ProducerA,
			Field:    rule.FieldA,
			Description: fmt.Sprintf("%s: %s.%s=%v disagrees with %s.%s=%v by %.1f%%",
				rule.Name, rule.ProducerA, rule.FieldA, valA,
				rule.ProducerB, rule.FieldB, valB, diff*100),
			Expected:     fmt.Sprintf("within %.1f%% of %v", rule.TolerancePct*100, valB),
			Actual:       valA,
			SuggestedFix: "re-check the source data both stages derived this value from",
			Confidence:   0.9,
		}
	}

	// Exact rules, and any non-numeric comparison, require equality.
	// Numeric values compare by value so int64 and float64 forms of the
	// same amount agree.
	if isNumA && isNumB {
		result.IsConsistent = numA == numB
	} else {
		result.IsConsistent = fmt.Sprintf("%v", valA) == fmt.Sprintf("%v", valB)
	}
	if result.IsConsistent {
		result.Note = "values agree"
		return &result, nil
	}
	result.Note = "values differ"
	return &result, &ValidationIssue{
		ID:       uuid.NewString(),
		Severity: SeverityError,
		Category: CategoryCrossCheck,
		Producer: rule.ProducerA,
		Field:    rule.FieldA,
		Description: fmt.Sprintf("%s: %s.%s=%v must equal %s.%s=%v",
			rule.Name, rule.ProducerA, rule.FieldA, valA,
			rule.ProducerB, rule.FieldB, valB),
		Expected:   valB,
		Actual:     valA,
		Confidence: 0.95,
	}
}

func (cv *CrossValidator) applyBand(band BandRule, outputs Snapshot) (*CrossCheckResult, *ValidationIssue) {
	value, ok := snapshotNumber(outputs, band.Producer, band.Field)
	if !ok {
		return nil, nil
	}
	low, ok := snapshotNumber(outputs, band.LowProducer, band.LowField)
	if !ok {
		return nil, nil
	}
	high, ok := snapshotNumber(outputs, band.HighProducer, band.HighField)
	if !ok {
		return nil, nil
	}

	lowBound := band.LowFactor * low
	highBound := band.HighFactor * high
	inBand := value >= lowBound && value <= highBound

	result := CrossCheckResult{
		RuleName:     band.Name,
		ProducerA:    band.Producer,
		ProducerB:    band.LowProducer,
		ValueA:       value,
		ValueB:       fmt.Sprintf("[%.0f, %.0f]", lowBound, highBound),
		IsConsistent: inBand,
		Note:         band.Note,
	}
	if inBand {
		return &result, nil
	}
	return &result, &ValidationIssue{
		ID:       uuid.NewString(),
		Severity: SeverityWarning,
		Category: CategoryCrossCheck,
		Producer: band.Producer,
		Field:    band.Field,
		Description: fmt.Sprintf("%s: %s.%s=%v falls outside the plausible band [%.0f, %.0f]",
			band.Name, band.Producer, band.Field, value, lowBound, highBound),
		Expected:     fmt.Sprintf("[%.0f, %.0f]", lowBound, highBound),
		Actual:       value,
		SuggestedFix: "re-check the inputs this value was derived from",
		Confidence:   0.85,
	}
}

// relativeDiff is |a-b| / max(|a|, |b|, 1). The floor of 1 keeps the
// ratio meaningful when both values are near zero.
func relativeDiff(a, b float64) float64 {
	return math.Abs(a-b) / math.Max(math.Max(math.Abs(a), math.Abs(b)), 1)
}

func snapshotNumber(outputs Snapshot, producer Producer, field string) (float64, bool) {
	out, ok := outputs[producer]
	if !ok {
		return 0, false
	}
	v, ok := lookupField(out, field)
	if !ok {
		return 0, false
	}
	return asNumber(v)
}

// DefaultCrossCheckRules returns the comparisons every case runs:
// independently reported appraisal values must agree within one percent,
// the liability total the strategy stage consumed must match the rights
// stage's figure exactly, and the estimated market price should sit near
// the location stage's area average.
func DefaultCrossCheckRules() []CrossCheckRule {
	return []CrossCheckRule{
		{
			Name:         "appraisal value agreement",
			ProducerA:    ProducerValuation,
			FieldA:       "appraisal_value",
			ProducerB:    ProducerRights,
			FieldB:       "appraisal_value",
			TolerancePct: 0.01,
			Note:         "both stages read the appraisal independently from the court record",
		},
		{
			Name:      "assumed liability handoff",
			ProducerA: ProducerStrategy,
			FieldA:    "total_assumed_amount",
			ProducerB: ProducerRights,
			FieldB:    "total_assumed_amount",
			Exact:     true,
			Note:      "the strategy stage must consume the rights stage's liability total unchanged",
		},
		{
			Name:         "market price vs area average",
			ProducerA:    ProducerValuation,
			FieldA:       "estimated_market_price",
			ProducerB:    ProducerLocation,
			FieldB:       "area_average_price",
			TolerancePct: 0.20,
			Note:         "estimated market price should track the neighborhood average",
		},
	}
}

// DefaultBandRules returns the plausibility bands: the recommended bid
// must land between half the appraisal and ninety percent of market.
func DefaultBandRules() []BandRule {
	return []BandRule{
		{
			Name:         "bid within valuation band",
			Producer:     ProducerStrategy,
			Field:        "optimal_bid",
			LowProducer:  ProducerValuation,
			LowField:     "appraisal_value",
			LowFactor:    0.5,
			HighProducer: ProducerValuation,
			HighField:    "estimated_market_price",
			HighFactor:   0.9,
			Note:         "bids below half appraisal rarely win; bids above 90% of market erase the margin",
		},
	}
}
