// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package redteam

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newDefaultAggregator() *Aggregator {
	return NewAggregator(DefaultWeights(), DefaultPenalties(), 10, 3)
}

// fullSnapshot has all five producers present; field values are
// irrelevant to the aggregator.
func fullSnapshot() Snapshot {
	return Snapshot{
		ProducerRights:    {},
		ProducerValuation: {},
		ProducerLocation:  {},
		ProducerRisk:      {},
		ProducerStrategy:  {},
	}
}

func issueFor(producer Producer, severity Severity, desc string) ValidationIssue {
	return ValidationIssue{
		ID:          desc,
		Severity:    severity,
		Category:    CategoryIntegrity,
		Producer:    producer,
		Field:       "f",
		Description: desc,
	}
}

func TestAggregate_CleanRun(t *testing.T) {
	a := newDefaultAggregator()

	report := a.Aggregate("2024타경12345", fullSnapshot(), nil, nil)

	assert.Equal(t, StatusPassed, report.OverallStatus)
	assert.Equal(t, 100.0, report.OverallReliability)
	assert.True(t, report.Approved)
	assert.Len(t, report.ProducerValidations, 5)
	for _, pv := range report.ProducerValidations {
		assert.Equal(t, 100.0, pv.ReliabilityScore)
		assert.Equal(t, StatusPassed, pv.Status)
		assert.Equal(t, "all checks passed", pv.Summary)
	}
	assert.Empty(t, report.ApprovalConditions)
}

func TestAggregate_PenaltyTable(t *testing.T) {
	a := newDefaultAggregator()

	issues := []ValidationIssue{
		issueFor(ProducerRights, SeverityInfo, "i1"),
		issueFor(ProducerRights, SeverityWarning, "w1"),
		issueFor(ProducerRights, SeverityError, "e1"),
	}

	report := a.Aggregate("c", fullSnapshot(), issues, nil)

	// 100 - 2 - 10 - 25 = 63.
	assert.Equal(t, 63.0, report.ProducerValidations[ProducerRights].ReliabilityScore)
	assert.Equal(t, StatusPassedWithWarnings, report.ProducerValidations[ProducerRights].Status)
}

func TestAggregate_ScoreFloorsAtZero(t *testing.T) {
	a := newDefaultAggregator()

	var issues []ValidationIssue
	for _, desc := range []string{"e1", "e2", "e3", "e4", "e5"} {
		issues = append(issues, issueFor(ProducerRights, SeverityError, desc))
	}

	report := a.Aggregate("c", fullSnapshot(), issues, nil)
	assert.Equal(t, 0.0, report.ProducerValidations[ProducerRights].ReliabilityScore)
}

func TestAggregate_CriticalForcesFailure(t *testing.T) {
	a := newDefaultAggregator()

	issues := []ValidationIssue{
		issueFor(ProducerRights, SeverityCritical, "forged registry extract"),
	}

	report := a.Aggregate("c", fullSnapshot(), issues, nil)

	// Per-producer: 100-50=50 but critical forces failure outright.
	assert.Equal(t, StatusFailed, report.ProducerValidations[ProducerRights].Status)
	assert.Equal(t, 50.0, report.ProducerValidations[ProducerRights].ReliabilityScore)

	assert.Equal(t, StatusFailed, report.OverallStatus)
	assert.False(t, report.Approved)
	assert.True(t, report.HasCritical())
}

func TestAggregate_StatusBands(t *testing.T) {
	cases := []struct {
		score float64
		want  Status
	}{
		{100, StatusPassed},
		{80, StatusPassed},
		{79.9, StatusPassedWithWarnings},
		{60, StatusPassedWithWarnings},
		{59.9, StatusNeedsReview},
		{0, StatusNeedsReview},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, statusForScore(tc.score), "score %v", tc.score)
	}
}

func TestAggregate_WeightedOverall(t *testing.T) {
	a := newDefaultAggregator()

	// Two warnings on rights: rights=80, everything else 100.
	issues := []ValidationIssue{
		issueFor(ProducerRights, SeverityWarning, "w1"),
		issueFor(ProducerRights, SeverityWarning, "w2"),
	}

	report := a.Aggregate("c", fullSnapshot(), issues, nil)

	// 0.30*80 + 0.70*100 = 94.
	assert.Equal(t, 94.0, report.OverallReliability)
	assert.Equal(t, StatusPassed, report.OverallStatus)
}

func TestAggregate_WeightsRenormalizedOverPresentProducers(t *testing.T) {
	a := newDefaultAggregator()

	snapshot := Snapshot{
		ProducerRights:    {},
		ProducerValuation: {},
	}
	issues := []ValidationIssue{
		issueFor(ProducerRights, SeverityWarning, "w1"),
		issueFor(ProducerRights, SeverityWarning, "w2"),
	}

	report := a.Aggregate("c", snapshot, issues, nil)

	// rights=80 valuation=100; (0.30*80 + 0.25*100) / 0.55 = 89.09...
	assert.InDelta(t, 89.1, report.OverallReliability, 0.01)
}

func TestAggregate_ErrorCountOverride(t *testing.T) {
	a := newDefaultAggregator()

	// Three errors spread across producers: every per-producer score
	// stays at 75 and the weighted overall stays passing, but three
	// errors force at least a review.
	issues := []ValidationIssue{
		issueFor(ProducerRights, SeverityError, "e1"),
		issueFor(ProducerValuation, SeverityError, "e2"),
		issueFor(ProducerStrategy, SeverityError, "e3"),
	}

	report := a.Aggregate("c", fullSnapshot(), issues, nil)

	assert.Equal(t, StatusNeedsReview, report.OverallStatus)
	assert.True(t, report.Approved, "needs-review is still approved for generation")
}

func TestAggregate_TwoErrorsDoNotTriggerOverride(t *testing.T) {
	a := newDefaultAggregator()

	issues := []ValidationIssue{
		issueFor(ProducerLocation, SeverityError, "e1"),
		issueFor(ProducerRisk, SeverityError, "e2"),
	}

	report := a.Aggregate("c", fullSnapshot(), issues, nil)

	// location: 0.10*75, risk: 0.15*75 → overall 93.75 → passed.
	assert.Equal(t, StatusPassed, report.OverallStatus)
}

func TestAggregate_UnattributedIssuesDoNotScore(t *testing.T) {
	a := newDefaultAggregator()

	issues := []ValidationIssue{
		{ID: "n1", Severity: SeverityInfo, Category: CategoryInfra,
			Description: "adversarial review skipped"},
	}

	report := a.Aggregate("c", fullSnapshot(), issues, nil)

	assert.Equal(t, 100.0, report.OverallReliability)
	assert.Equal(t, StatusPassed, report.OverallStatus)
	// The note still surfaces in the diagnostic issue list.
	require.Len(t, report.CriticalIssues, 1)
	assert.Equal(t, "n1", report.CriticalIssues[0].ID)
}

func TestAggregate_OrderIndependence(t *testing.T) {
	a := newDefaultAggregator()

	issues := []ValidationIssue{
		issueFor(ProducerRights, SeverityError, "e1"),
		issueFor(ProducerRights, SeverityWarning, "w1"),
		issueFor(ProducerValuation, SeverityWarning, "w2"),
		issueFor(ProducerStrategy, SeverityInfo, "i1"),
		issueFor(ProducerRisk, SeverityCritical, "c1"),
	}

	baseline := a.Aggregate("c", fullSnapshot(), issues, nil)

	rng := rand.New(rand.NewSource(42))
	for i := 0; i < 10; i++ {
		shuffled := make([]ValidationIssue, len(issues))
		copy(shuffled, issues)
		rng.Shuffle(len(shuffled), func(x, y int) {
			shuffled[x], shuffled[y] = shuffled[y], shuffled[x]
		})

		report := a.Aggregate("c", fullSnapshot(), shuffled, nil)

		assert.Equal(t, baseline.OverallStatus, report.OverallStatus)
		assert.Equal(t, baseline.OverallReliability, report.OverallReliability)
		require.Equal(t, len(baseline.CriticalIssues), len(report.CriticalIssues))
		for j := range baseline.CriticalIssues {
			assert.Equal(t, baseline.CriticalIssues[j].ID, report.CriticalIssues[j].ID)
		}
	}
}

func TestAggregate_CriticalIssuesCapped(t *testing.T) {
	a := NewAggregator(DefaultWeights(), DefaultPenalties(), 3, 3)

	var issues []ValidationIssue
	for _, desc := range []string{"a", "b", "c", "d", "e"} {
		issues = append(issues, issueFor(ProducerRights, SeverityError, desc))
	}

	report := a.Aggregate("c", fullSnapshot(), issues, nil)
	assert.Len(t, report.CriticalIssues, 3)
}

func TestAggregate_ApprovalConditionsOnConditionalPass(t *testing.T) {
	a := newDefaultAggregator()

	// Four distinct warnings on rights: score 60, conditional pass.
	issues := []ValidationIssue{
		issueFor(ProducerRights, SeverityWarning, "confirm the tenancy start date"),
		issueFor(ProducerRights, SeverityWarning, "verify the seizure entry"),
		issueFor(ProducerRights, SeverityWarning, "re-read the registry extract"),
		issueFor(ProducerRights, SeverityWarning, "check the dividend demand deadline"),
	}

	report := a.Aggregate("c", Snapshot{ProducerRights: {}}, issues, nil)

	require.Equal(t, StatusPassedWithWarnings, report.OverallStatus)
	// Capped at three distinct conditions.
	assert.Len(t, report.ApprovalConditions, 3)
}

func TestAggregate_ApprovalConditionsDeduplicated(t *testing.T) {
	a := newDefaultAggregator()

	issues := []ValidationIssue{
		issueFor(ProducerRights, SeverityWarning, "same theme"),
		issueFor(ProducerRights, SeverityWarning, "same theme"),
		issueFor(ProducerRights, SeverityWarning, "same theme"),
	}

	report := a.Aggregate("c", Snapshot{ProducerRights: {}}, issues, nil)

	require.Equal(t, StatusPassedWithWarnings, report.OverallStatus)
	assert.Equal(t, []string{"same theme"}, report.ApprovalConditions)
}

func TestAggregate_RecommendationsDeduplicateFixes(t *testing.T) {
	a := newDefaultAggregator()

	fix := "re-check the source data both stages derived this value from"
	issues := []ValidationIssue{
		issueFor(ProducerRights, SeverityWarning, "w1"),
		issueFor(ProducerValuation, SeverityWarning, "w2"),
	}
	issues[0].SuggestedFix = fix
	issues[1].SuggestedFix = fix

	report := a.Aggregate("c", fullSnapshot(), issues, nil)

	count := 0
	for _, rec := range report.Recommendations {
		if rec == fix {
			count++
		}
	}
	assert.Equal(t, 1, count, "identical fixes must appear once")
}

func TestAggregate_RecommendationsMentionCrossDisagreements(t *testing.T) {
	a := newDefaultAggregator()

	crossResults := []CrossCheckResult{
		{RuleName: "appraisal value agreement", IsConsistent: false},
		{RuleName: "assumed liability handoff", IsConsistent: true},
	}

	report := a.Aggregate("c", fullSnapshot(), nil, crossResults)

	found := false
	for _, rec := range report.Recommendations {
		if rec == "1 cross-check disagreement(s) between stages; verify the shared source data" {
			found = true
		}
	}
	assert.True(t, found, "recommendations: %v", report.Recommendations)
}

func TestAggregate_SummaryText(t *testing.T) {
	a := newDefaultAggregator()

	issues := []ValidationIssue{
		issueFor(ProducerRights, SeverityError, "e1"),
		issueFor(ProducerRights, SeverityWarning, "w1"),
	}

	report := a.Aggregate("c", fullSnapshot(), issues, nil)
	assert.Equal(t, "1 error(s), 1 warning(s) found", report.ProducerValidations[ProducerRights].Summary)
}

func TestAggregate_RoundsOverallToOneDecimal(t *testing.T) {
	a := newDefaultAggregator()

	issues := []ValidationIssue{
		issueFor(ProducerLocation, SeverityInfo, "i1"),
	}

	report := a.Aggregate("c", fullSnapshot(), issues, nil)

	// 0.10*98 + 0.90*100 = 99.8.
	assert.Equal(t, 99.8, report.OverallReliability)
}
