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
	"time"
)

// DefaultWeights are the fixed per-producer weights for the overall
// score. They sum to 1.0; producers absent from a snapshot are excluded
// and the remainder renormalized.
func DefaultWeights() map[Producer]float64 {
	return map[Producer]float64{
		ProducerRights:    0.30,
		ProducerValuation: 0.25,
		ProducerStrategy:  0.20,
		ProducerRisk:      0.15,
		ProducerLocation:  0.10,
	}
}

// DefaultPenalties are the fixed score deductions per issue severity.
func DefaultPenalties() map[Severity]float64 {
	return map[Severity]float64{
		SeverityInfo:     2,
		SeverityWarning:  10,
		SeverityError:    25,
		SeverityCritical: 50,
	}
}

// Aggregator folds every collected issue into per-producer and overall
// reliability scores and decides the verdict. It is pure aggregation:
// no I/O, fully deterministic, and order-independent over its inputs.
type Aggregator struct {
	weights       map[Producer]float64
	penalties     map[Severity]float64
	maxCritical   int
	maxConditions int
}

// NewAggregator builds an aggregator from static weight and penalty
// tables. Both tables are validated by the engine at construction.
func NewAggregator(weights map[Producer]float64, penalties map[Severity]float64, maxCritical, maxConditions int) *Aggregator {
	return &Aggregator{
		weights:       weights,
		penalties:     penalties,
		maxCritical:   maxCritical,
		maxConditions: maxConditions,
	}
}

// Aggregate builds the final report from everything the validators found.
// issues may carry an empty Producer for engine-level notes; those never
// affect any score but still surface in the diagnostic trail.
func (a *Aggregator) Aggregate(caseID string, outputs Snapshot, issues []ValidationIssue, crossResults []CrossCheckResult) *ReliabilityReport {
	sorted := sortIssues(issues)

	producerValidations := make(map[Producer]ProducerValidation, len(outputs))
	for producer := range outputs {
		producerValidations[producer] = a.validateProducer(producer, sorted)
	}

	overall := a.overallScore(producerValidations)
	status := a.overallStatus(overall, sorted)
	approved := status != StatusFailed

	report := &ReliabilityReport{
		CaseID:              caseID,
		Timestamp:           time.Now().UTC(),
		OverallStatus:       status,
		OverallReliability:  math.Round(overall*10) / 10,
		Approved:            approved,
		ProducerValidations: producerValidations,
		CrossChecks:         crossResults,
		CriticalIssues:      topIssues(sorted, a.maxCritical),
		Recommendations:     a.recommendations(status, sorted, crossResults),
	}
	if approved && status == StatusPassedWithWarnings {
		report.ApprovalConditions = a.approvalConditions(sorted)
	}
	return report
}

// validateProducer computes one producer's score and status from the
// issues attributed to it. Scores start at 100, lose a fixed penalty per
// issue severity, and floor at 0; a critical issue forces failure
// regardless of the remaining score.
func (a *Aggregator) validateProducer(producer Producer, sorted []ValidationIssue) ProducerValidation {
	var attributed []ValidationIssue
	score := 100.0
	hasCritical := false
	errors, warnings := 0, 0

	for _, issue := range sorted {
		if issue.Producer != producer {
			continue
		}
		attributed = append(attributed, issue)
		score -= a.penalties[issue.Severity]
		switch issue.Severity {
		case SeverityCritical:
			hasCritical = true
			errors++
		case SeverityError:
			errors++
		case SeverityWarning:
			warnings++
		}
	}
	score = clampScore(score)

	status := statusForScore(score)
	if hasCritical {
		status = StatusFailed
	}

	return ProducerValidation{
		Producer:         producer,
		Status:           status,
		ReliabilityScore: score,
		Issues:           attributed,
		Summary:          summarize(errors, warnings),
	}
}

// overallScore is the weighted average of the present producers' scores,
// with weights renormalized to sum to 1.0 over the present set.
func (a *Aggregator) overallScore(validations map[Producer]ProducerValidation) float64 {
	weightedSum := 0.0
	totalWeight := 0.0
	for producer, pv := range validations {
		weight, ok := a.weights[producer]
		if !ok {
			continue
		}
		weightedSum += pv.ReliabilityScore * weight
		totalWeight += weight
	}
	if totalWeight == 0 {
		return 0
	}
	return weightedSum / totalWeight
}

// overallStatus mirrors the per-producer bands with two overrides:
// more than two errors anywhere forces at least needs-review, and any
// critical issue forces failure. When both fire, the most severe wins.
func (a *Aggregator) overallStatus(score float64, sorted []ValidationIssue) Status {
	errors := 0
	for _, issue := range sorted {
		switch issue.Severity {
		case SeverityCritical:
			return StatusFailed
		case SeverityError:
			errors++
		}
	}

	status := statusForScore(score)
	if errors > 2 && (status == StatusPassed || status == StatusPassedWithWarnings) {
		status = StatusNeedsReview
	}
	return status
}

// approvalConditions lists one string per distinct warning theme so a
// conditional sign-off can be recorded against concrete items.
func (a *Aggregator) approvalConditions(sorted []ValidationIssue) []string {
	seen := make(map[string]bool)
	var conditions []string
	for _, issue := range sorted {
		if issue.Severity != SeverityWarning {
			continue
		}
		if seen[issue.Description] {
			continue
		}
		seen[issue.Description] = true
		conditions = append(conditions, issue.Description)
		if len(conditions) >= a.maxConditions {
			break
		}
	}
	return conditions
}

// recommendations derives remediation guidance deterministically from
// the verdict and the issues present. Suggested fixes are deduplicated
// by text.
func (a *Aggregator) recommendations(status Status, sorted []ValidationIssue, crossResults []CrossCheckResult) []string {
	var recs []string
	switch status {
	case StatusPassed:
		recs = append(recs, "all validations passed; report generation may proceed")
	case StatusPassedWithWarnings:
		recs = append(recs, "warnings present; review the conditions below before proceeding")
	case StatusNeedsReview:
		recs = append(recs, "expert review required; automatic approval withheld")
	case StatusFailed:
		recs = append(recs, "critical defects found; re-run the affected stages before release")
	}

	if status == StatusPassed {
		for _, issue := range sorted {
			if issue.Severity == SeverityWarning {
				recs = append(recs, "warnings present; review before proceeding")
				break
			}
		}
	}

	seen := make(map[string]bool)
	for _, issue := range sorted {
		fix := issue.SuggestedFix
		if fix == "" || seen[fix] {
			continue
		}
		seen[fix] = true
		recs = append(recs, fix)
	}

	inconsistent := 0
	for _, result := range crossResults {
		if !result.IsConsistent {
			inconsistent++
		}
	}
	if inconsistent > 0 {
		recs = append(recs, fmt.Sprintf("%d cross-check disagreement(s) between stages; verify the shared source data", inconsistent))
	}
	if len(recs) > maxRecommendations {
		recs = recs[:maxRecommendations]
	}
	return recs
}

const maxRecommendations = 6

// sortIssues orders issues most severe first, with deterministic
// tie-breaks, so aggregation is independent of input permutation.
func sortIssues(issues []ValidationIssue) []ValidationIssue {
	sorted := make([]ValidationIssue, len(issues))
	copy(sorted, issues)
	sort.SliceStable(sorted, func(i, j int) bool {
		a, b := sorted[i], sorted[j]
		if a.Severity.rank() != b.Severity.rank() {
			return a.Severity.rank() < b.Severity.rank()
		}
		if a.Producer != b.Producer {
			return a.Producer < b.Producer
		}
		if a.Field != b.Field {
			return a.Field < b.Field
		}
		return a.Description < b.Description
	})
	return sorted
}

func topIssues(sorted []ValidationIssue, max int) []ValidationIssue {
	if len(sorted) <= max {
		return sorted
	}
	return sorted[:max]
}

func clampScore(score float64) float64 {
	return math.Max(0, math.Min(100, score))
}

func statusForScore(score float64) Status {
	switch {
	case score >= 80:
		return StatusPassed
	case score >= 60:
		return StatusPassedWithWarnings
	default:
		return StatusNeedsReview
	}
}

func summarize(errors, warnings int) string {
	if errors == 0 && warnings == 0 {
		return "all checks passed"
	}
	switch {
	case errors > 0 && warnings > 0:
		return fmt.Sprintf("%d error(s), %d warning(s) found", errors, warnings)
	case errors > 0:
		return fmt.Sprintf("%d error(s) found", errors)
	default:
		return fmt.Sprintf("%d warning(s) found", warnings)
	}
}
