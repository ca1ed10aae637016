// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package redteam

import (
	"testing"
)

func consistentSnapshot() Snapshot {
	return Snapshot{
		ProducerRights: {
			"appraisal_value":      float64(450000000),
			"total_assumed_amount": float64(30000000),
		},
		ProducerValuation: {
			"appraisal_value":        float64(450000000),
			"estimated_market_price": float64(500000000),
		},
		ProducerLocation: {
			"area_average_price": float64(520000000),
		},
		ProducerStrategy: {
			"total_assumed_amount": float64(30000000),
			"optimal_bid":          float64(400000000),
		},
	}
}

func newDefaultCrossValidator() *CrossValidator {
	return NewCrossValidator(DefaultCrossCheckRules(), DefaultBandRules())
}

func TestCrossValidator_ConsistentSnapshot(t *testing.T) {
	cv := newDefaultCrossValidator()

	results, issues := cv.Validate(consistentSnapshot())
	if len(issues) != 0 {
		t.Errorf("expected no issues for a consistent snapshot, got %+v", issues)
	}
	// Three pairwise rules plus one band rule all had their inputs.
	if len(results) != 4 {
		t.Errorf("expected 4 cross-check results, got %d", len(results))
	}
	for _, r := range results {
		if !r.IsConsistent {
			t.Errorf("rule %q unexpectedly inconsistent: %+v", r.RuleName, r)
		}
	}
}

func TestCrossValidator_ToleranceExceeded(t *testing.T) {
	cv := newDefaultCrossValidator()

	snapshot := consistentSnapshot()
	// 450M vs 500M is a 10% gap against a 1% tolerance.
	snapshot[ProducerRights]["appraisal_value"] = float64(500000000)

	_, issues := cv.Validate(snapshot)
	found := false
	for _, issue := range issues {
		if issue.Category == CategoryCrossCheck && issue.Field == "appraisal_value" {
			found = true
			if issue.Severity != SeverityWarning {
				t.Errorf("tolerance breach should be a warning, got %s", issue.Severity)
			}
			if issue.Producer != ProducerValuation {
				t.Errorf("issue should attribute to producer A, got %s", issue.Producer)
			}
		}
	}
	if !found {
		t.Error("expected an appraisal disagreement issue")
	}
}

func TestCrossValidator_WithinTolerance(t *testing.T) {
	cv := newDefaultCrossValidator()

	snapshot := consistentSnapshot()
	// 0.9% apart, inside the 1% tolerance.
	snapshot[ProducerRights]["appraisal_value"] = float64(446000000)

	_, issues := cv.Validate(snapshot)
	for _, issue := range issues {
		if issue.Field == "appraisal_value" {
			t.Errorf("difference within tolerance must not raise an issue: %+v", issue)
		}
	}
}

func TestCrossValidator_ExactMismatchIsError(t *testing.T) {
	cv := newDefaultCrossValidator()

	snapshot := consistentSnapshot()
	snapshot[ProducerStrategy]["total_assumed_amount"] = float64(25000000)

	_, issues := cv.Validate(snapshot)
	found := false
	for _, issue := range issues {
		if issue.Field == "total_assumed_amount" {
			found = true
			if issue.Severity != SeverityError {
				t.Errorf("exact-rule mismatch should be an error, got %s", issue.Severity)
			}
		}
	}
	if !found {
		t.Error("expected an assumed-liability handoff issue")
	}
}

func TestCrossValidator_ExactMatchAcrossNumericTypes(t *testing.T) {
	cv := newDefaultCrossValidator()

	// The same amount carried as int64 by one stage and float64 by the
	// other must still satisfy the exact handoff rule.
	snapshot := consistentSnapshot()
	snapshot[ProducerRights]["total_assumed_amount"] = int64(30000000)
	snapshot[ProducerStrategy]["total_assumed_amount"] = float64(30000000)

	results, issues := cv.Validate(snapshot)
	for _, issue := range issues {
		if issue.Field == "total_assumed_amount" {
			t.Errorf("numerically equal values must not raise an issue: %+v", issue)
		}
	}
	for _, r := range results {
		if r.RuleName == "assumed liability handoff" && !r.IsConsistent {
			t.Errorf("handoff rule unexpectedly inconsistent: %+v", r)
		}
	}
}

func TestCrossValidator_AbsentProducerSkipsRule(t *testing.T) {
	cv := newDefaultCrossValidator()

	snapshot := consistentSnapshot()
	delete(snapshot, ProducerLocation)

	results, issues := cv.Validate(snapshot)
	if len(issues) != 0 {
		t.Errorf("expected no issues, got %+v", issues)
	}
	for _, r := range results {
		if r.RuleName == "market price vs area average" {
			t.Error("rule with an absent producer must be skipped, not evaluated")
		}
	}
}

func TestCrossValidator_AbsentFieldSkipsRule(t *testing.T) {
	cv := newDefaultCrossValidator()

	snapshot := consistentSnapshot()
	delete(snapshot[ProducerLocation], "area_average_price")

	results, _ := cv.Validate(snapshot)
	for _, r := range results {
		if r.RuleName == "market price vs area average" {
			t.Error("rule with an absent field must be skipped")
		}
	}
}

func TestCrossValidator_BandViolation(t *testing.T) {
	cv := newDefaultCrossValidator()

	snapshot := consistentSnapshot()
	// Above 90% of the 500M market price.
	snapshot[ProducerStrategy]["optimal_bid"] = float64(480000000)

	_, issues := cv.Validate(snapshot)
	found := false
	for _, issue := range issues {
		if issue.Field == "optimal_bid" {
			found = true
			if issue.Severity != SeverityWarning {
				t.Errorf("band violation should be a warning, got %s", issue.Severity)
			}
		}
	}
	if !found {
		t.Error("expected a bid-band issue")
	}
}

func TestCrossValidator_BandLowerBound(t *testing.T) {
	cv := newDefaultCrossValidator()

	snapshot := consistentSnapshot()
	// Below half of the 450M appraisal.
	snapshot[ProducerStrategy]["optimal_bid"] = float64(200000000)

	_, issues := cv.Validate(snapshot)
	found := false
	for _, issue := range issues {
		if issue.Field == "optimal_bid" {
			found = true
		}
	}
	if !found {
		t.Error("expected a bid-band issue below the lower bound")
	}
}

func TestCrossValidator_Idempotent(t *testing.T) {
	cv := newDefaultCrossValidator()

	snapshot := consistentSnapshot()
	snapshot[ProducerRights]["appraisal_value"] = float64(500000000)

	_, first := cv.Validate(snapshot)
	_, second := cv.Validate(snapshot)
	if len(first) != len(second) {
		t.Errorf("issue counts differ on re-run: %d vs %d", len(first), len(second))
	}
}

func TestRelativeDiff_NearZeroFloor(t *testing.T) {
	// Both values near zero: the floor of 1 keeps the ratio small
	// instead of exploding.
	if d := relativeDiff(0.002, 0.001); d > 0.01 {
		t.Errorf("expected near-zero values to compare as close, got %f", d)
	}
	if d := relativeDiff(100, 110); d < 0.09 || d > 0.1 {
		t.Errorf("expected ~9%% difference, got %f", d)
	}
}
