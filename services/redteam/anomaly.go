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
	"sort"

	"github.com/google/uuid"
	"gonum.org/v1/gonum/stat"
)

// AnomalyKind selects the detection method for one rule.
type AnomalyKind string

const (
	// KindZScore flags values far from the population mean.
	KindZScore AnomalyKind = "z_score"

	// KindIQR flags values outside the 1.5*IQR fences.
	KindIQR AnomalyKind = "iqr"

	// KindRatioBounds flags a ratio of two snapshot fields outside a
	// fixed band.
	KindRatioBounds AnomalyKind = "ratio_bounds"
)

// AnomalyRule declares one statistical check. Rules are static data.
type AnomalyRule struct {
	// Name identifies the rule in issues and logs.
	Name string `validate:"required"`

	// Kind selects the detection method.
	Kind AnomalyKind `validate:"required,oneof=z_score iqr ratio_bounds"`

	// Producer/Field select the checked value (the ratio numerator for
	// ratio_bounds rules).
	Producer Producer `validate:"required"`
	Field    string   `validate:"required"`

	// RefMean/RefStd are a built-in reference population for z_score
	// rules, used when no historical population is supplied.
	RefMean *float64
	RefStd  *float64

	// DenProducer/DenField select the ratio denominator for ratio_bounds
	// rules. DenProducer defaults to Producer when empty.
	DenProducer Producer
	DenField    string

	// Low/High bound the ratio for ratio_bounds rules.
	Low  float64
	High float64
}

// AnomalyDetector runs statistical plausibility checks over a snapshot,
// optionally against a historical population. All three methods are pure
// numeric functions: division by zero, missing fields, and undersized
// populations skip the rule rather than raising anything.
type AnomalyDetector struct {
	rules      []AnomalyRule
	minSamples int
}

// NewAnomalyDetector builds a detector over a static rule table.
// minSamples is the smallest population a z_score or iqr rule will assess.
func NewAnomalyDetector(rules []AnomalyRule, minSamples int) *AnomalyDetector {
	return &AnomalyDetector{rules: rules, minSamples: minSamples}
}

// Detect applies every rule and returns the anomalies found.
func (d *AnomalyDetector) Detect(outputs Snapshot, historical []Snapshot) []ValidationIssue {
	var issues []ValidationIssue
	for _, rule := range d.rules {
		var issue *ValidationIssue
		switch rule.Kind {
		case KindZScore:
			issue = d.zScore(rule, outputs, historical)
		case KindIQR:
			issue = d.iqr(rule, outputs, historical)
		case KindRatioBounds:
			issue = d.ratioBounds(rule, outputs)
		}
		if issue != nil {
			issues = append(issues, *issue)
		}
	}
	return issues
}

// population collects the rule's field across historical cases.
func population(rule AnomalyRule, historical []Snapshot) []float64 {
	var xs []float64
	for _, snapshot := range historical {
		if v, ok := snapshotNumber(snapshot, rule.Producer, rule.Field); ok {
			xs = append(xs, v)
		}
	}
	return xs
}

func (d *AnomalyDetector) zScore(rule AnomalyRule, outputs Snapshot, historical []Snapshot) *ValidationIssue {
	value, ok := snapshotNumber(outputs, rule.Producer, rule.Field)
	if !ok {
		return nil
	}

	var mean, std float64
	if xs := population(rule, historical); len(xs) >= d.minSamples {
		mean = stat.Mean(xs, nil)
		std = stat.StdDev(xs, nil)
	} else if rule.RefMean != nil && rule.RefStd != nil {
		mean, std = *rule.RefMean, *rule.RefStd
	} else {
		// Too few samples and no reference: cannot assess.
		return nil
	}
	if std <= 0 || math.IsNaN(std) {
		return nil
	}

	z := (value - mean) / std
	var severity Severity
	switch {
	case math.Abs(z) > 3:
		severity = SeverityError
	case math.Abs(z) > 2:
		severity = SeverityWarning
	default:
		return nil
	}

	return &ValidationIssue{
		ID:       uuid.NewString(),
		Severity: severity,
		Category: CategoryStatistical,
		Producer: rule.Producer,
		Field:    rule.Field,
		Description: fmt.Sprintf("%s: %s.%s=%v is a statistical outlier (z=%.2f)",
			rule.Name, rule.Producer, rule.Field, value, z),
		Expected:     fmt.Sprintf("mean %.0f ± %.0f", mean, std),
		Actual:       value,
		SuggestedFix: "re-check the evidence behind this value",
		Confidence:   math.Min(0.99, 0.5+math.Abs(z)*0.1),
	}
}

func (d *AnomalyDetector) iqr(rule AnomalyRule, outputs Snapshot, historical []Snapshot) *ValidationIssue {
	value, ok := snapshotNumber(outputs, rule.Producer, rule.Field)
	if !ok {
		return nil
	}
	xs := population(rule, historical)
	if len(xs) < d.minSamples {
		return nil
	}

	sort.Float64s(xs)
	q1 := stat.Quantile(0.25, stat.Empirical, xs, nil)
	q3 := stat.Quantile(0.75, stat.Empirical, xs, nil)
	iqr := q3 - q1
	lower := q1 - 1.5*iqr
	upper := q3 + 1.5*iqr
	if value >= lower && value <= upper {
		return nil
	}

	return &ValidationIssue{
		ID:       uuid.NewString(),
		Severity: SeverityWarning,
		Category: CategoryStatistical,
		Producer: rule.Producer,
		Field:    rule.Field,
		Description: fmt.Sprintf("%s: %s.%s=%v is outside the interquartile fences",
			rule.Name, rule.Producer, rule.Field, value),
		Expected:     fmt.Sprintf("[%.0f, %.0f]", lower, upper),
		Actual:       value,
		SuggestedFix: "compare against recent similar cases before trusting this value",
		Confidence:   0.8,
	}
}

func (d *AnomalyDetector) ratioBounds(rule AnomalyRule, outputs Snapshot) *ValidationIssue {
	num, ok := snapshotNumber(outputs, rule.Producer, rule.Field)
	if !ok {
		return nil
	}
	denProducer := rule.DenProducer
	if denProducer == "" {
		denProducer = rule.Producer
	}
	den, ok := snapshotNumber(outputs, denProducer, rule.DenField)
	if !ok || den == 0 {
		return nil
	}

	ratio := num / den
	if ratio >= rule.Low && ratio <= rule.High {
		return nil
	}

	return &ValidationIssue{
		ID:       uuid.NewString(),
		Severity: SeverityError,
		Category: CategoryStatistical,
		Producer: rule.Producer,
		Field:    rule.Field,
		Description: fmt.Sprintf("%s: ratio %s.%s / %s.%s = %.2f is outside [%.2f, %.2f]",
			rule.Name, rule.Producer, rule.Field, denProducer, rule.DenField,
			ratio, rule.Low, rule.High),
		Expected:     fmt.Sprintf("[%.2f, %.2f]", rule.Low, rule.High),
		Actual:       ratio,
		SuggestedFix: "re-check both fields; one of them is likely misreported",
		Confidence:   0.9,
	}
}

// DefaultAnomalyRules returns the statistical checks every case runs.
// Per-pyung price and expected profit rate are screened against the
// historical population; the market-to-appraisal ratio and the bid rate
// are held to fixed domain bands.
func DefaultAnomalyRules() []AnomalyRule {
	return []AnomalyRule{
		{
			Name:     "per-pyung price outlier",
			Kind:     KindZScore,
			Producer: ProducerValuation,
			Field:    "price_per_pyung",
		},
		{
			Name:     "risk score outlier",
			Kind:     KindZScore,
			Producer: ProducerRisk,
			Field:    "total_score",
		},
		{
			Name:     "expected profit rate outlier",
			Kind:     KindZScore,
			Producer: ProducerStrategy,
			Field:    "expected_profit_rate",
		},
		{
			Name:     "per-pyung price extreme value",
			Kind:     KindIQR,
			Producer: ProducerValuation,
			Field:    "price_per_pyung",
		},
		{
			Name:     "market to appraisal ratio",
			Kind:     KindRatioBounds,
			Producer: ProducerValuation,
			Field:    "estimated_market_price",
			DenField: "appraisal_value",
			Low:      0.5,
			High:     1.5,
		},
		{
			Name:        "bid rate band",
			Kind:        KindRatioBounds,
			Producer:    ProducerStrategy,
			Field:       "optimal_bid",
			DenProducer: ProducerValuation,
			DenField:    "appraisal_value",
			Low:         0.4,
			High:        1.0,
		},
	}
}
