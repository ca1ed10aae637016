// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package redteam

import (
	"time"
)

// Severity indicates how serious a validation issue is.
type Severity string

const (
	// SeverityInfo is for informational findings that need no action.
	SeverityInfo Severity = "info"

	// SeverityWarning is for findings that should be reviewed before release.
	SeverityWarning Severity = "warning"

	// SeverityError is for findings that make a producer's output untrustworthy.
	SeverityError Severity = "error"

	// SeverityCritical is for findings that must block report release.
	SeverityCritical Severity = "critical"
)

// rank orders severities for sorting, most severe first.
func (s Severity) rank() int {
	switch s {
	case SeverityCritical:
		return 0
	case SeverityError:
		return 1
	case SeverityWarning:
		return 2
	case SeverityInfo:
		return 3
	default:
		return 4
	}
}

// Status is the verdict state for a producer or for the whole case.
type Status string

const (
	// StatusPassed means every check passed.
	StatusPassed Status = "passed"

	// StatusPassedWithWarnings means release may proceed under conditions.
	StatusPassedWithWarnings Status = "passed_with_warnings"

	// StatusNeedsReview means automatic approval is withheld pending a human.
	StatusNeedsReview Status = "needs_review"

	// StatusFailed means the case must not be released.
	StatusFailed Status = "failed"
)

// Producer identifies an upstream analysis stage whose output is validated.
type Producer string

const (
	// ProducerRights is the legal-rights analysis stage.
	ProducerRights Producer = "rights"

	// ProducerValuation is the property valuation stage.
	ProducerValuation Producer = "valuation"

	// ProducerLocation is the location scoring stage.
	ProducerLocation Producer = "location"

	// ProducerRisk is the risk scoring stage.
	ProducerRisk Producer = "risk"

	// ProducerStrategy is the bid-strategy stage.
	ProducerStrategy Producer = "strategy"
)

// KnownProducers lists every producer the engine carries contracts for,
// in the fixed order used for deterministic iteration.
func KnownProducers() []Producer {
	return []Producer{
		ProducerRights,
		ProducerValuation,
		ProducerLocation,
		ProducerRisk,
		ProducerStrategy,
	}
}

// Category labels which validator component raised an issue.
type Category string

const (
	// CategoryIntegrity is for schema-contract violations.
	CategoryIntegrity Category = "data_integrity"

	// CategoryCrossCheck is for disagreements between producers.
	CategoryCrossCheck Category = "cross_validation"

	// CategoryStatistical is for statistical anomalies.
	CategoryStatistical Category = "statistical_anomaly"

	// CategoryAdversarial is for findings from the adversarial reviewer.
	CategoryAdversarial Category = "adversarial"

	// CategoryInfra is for degraded-infrastructure notes, e.g. a skipped
	// adversarial review. Always informational.
	CategoryInfra Category = "infrastructure"
)

// Output is one producer's structured result. The engine treats it as an
// opaque, read-only field-to-value mapping; values are whatever the
// orchestrator decoded (typically JSON scalars, maps, and lists).
type Output map[string]any

// Snapshot collects every available producer output for one case.
// Owned by the orchestrator; the engine never mutates it.
type Snapshot map[Producer]Output

// ValidationIssue is a single finding from any validator component.
// Immutable once created; issues are only collected, never edited.
type ValidationIssue struct {
	// ID uniquely identifies the issue within a validation run.
	ID string `json:"id"`

	// Severity is one of the four defined levels.
	Severity Severity `json:"severity"`

	// Category names the component that raised the issue.
	Category Category `json:"category"`

	// Producer is the stage the issue is attributed to.
	Producer Producer `json:"producer"`

	// Field is the field path the issue concerns, or "overall".
	Field string `json:"field"`

	// Description is a human-readable explanation.
	Description string `json:"description"`

	// Expected is what the validator expected to see, if meaningful.
	Expected any `json:"expected,omitempty"`

	// Actual is the observed value, if meaningful.
	Actual any `json:"actual,omitempty"`

	// SuggestedFix is actionable remediation text, if any.
	SuggestedFix string `json:"suggested_fix,omitempty"`

	// Confidence is the validator's confidence in the finding (0.0-1.0).
	Confidence float64 `json:"confidence"`
}

// CrossCheckResult records one cross-consistency comparison, whether or
// not it agreed.
type CrossCheckResult struct {
	// RuleName identifies the declarative rule that produced this result.
	RuleName string `json:"rule_name"`

	// ProducerA and ProducerB are the compared stages.
	ProducerA Producer `json:"producer_a"`
	ProducerB Producer `json:"producer_b"`

	// ValueA and ValueB are the compared values.
	ValueA any `json:"value_a"`
	ValueB any `json:"value_b"`

	// IsConsistent reports whether the values agreed within tolerance.
	IsConsistent bool `json:"is_consistent"`

	// Note carries the delta or agreement detail.
	Note string `json:"note"`
}

// ProducerValidation is the per-producer aggregate, recomputed once per run.
type ProducerValidation struct {
	// Producer is the stage this aggregate describes.
	Producer Producer `json:"producer"`

	// Status is the per-producer verdict state.
	Status Status `json:"status"`

	// ReliabilityScore is the 0-100 confidence score for this producer.
	ReliabilityScore float64 `json:"reliability_score"`

	// Issues are every issue attributed to this producer, in the order found.
	Issues []ValidationIssue `json:"issues"`

	// Summary is a one-line human-readable digest, e.g. "2 errors, 1 warning".
	Summary string `json:"summary"`
}

// ReliabilityReport is the verdict returned to the orchestrator. It is
// built once per validation call and never mutated afterwards.
type ReliabilityReport struct {
	// CaseID identifies the auction case that was validated.
	CaseID string `json:"case_id"`

	// Timestamp is when the validation ran.
	Timestamp time.Time `json:"timestamp"`

	// OverallStatus is the case-level verdict state.
	OverallStatus Status `json:"overall_status"`

	// OverallReliability is the weighted 0-100 confidence score.
	OverallReliability float64 `json:"overall_reliability"`

	// Approved reports whether report generation may proceed.
	Approved bool `json:"approved"`

	// ProducerValidations holds the per-producer aggregates.
	ProducerValidations map[Producer]ProducerValidation `json:"producer_validations"`

	// CrossChecks holds every cross-consistency comparison that ran.
	CrossChecks []CrossCheckResult `json:"cross_checks"`

	// CriticalIssues lists the most severe issues, most severe first.
	CriticalIssues []ValidationIssue `json:"critical_issues"`

	// Recommendations are deterministic, deduplicated remediation strings.
	Recommendations []string `json:"recommendations"`

	// ApprovalConditions is populated on conditional approval: one
	// human-readable string per distinct warning theme.
	ApprovalConditions []string `json:"approval_conditions"`
}

// TotalIssues counts every issue attributed to any producer.
func (r *ReliabilityReport) TotalIssues() int {
	n := 0
	for _, pv := range r.ProducerValidations {
		n += len(pv.Issues)
	}
	return n
}

// HasCritical reports whether any critical issue was found.
func (r *ReliabilityReport) HasCritical() bool {
	for _, pv := range r.ProducerValidations {
		for _, issue := range pv.Issues {
			if issue.Severity == SeverityCritical {
				return true
			}
		}
	}
	return false
}

// Request is one validation call: the snapshot of all completed stages
// plus optional case metadata and historical comparables.
type Request struct {
	// CaseID identifies the auction case, e.g. a court docket number.
	CaseID string

	// Outputs is the producer snapshot. Read-only to the engine.
	Outputs Snapshot

	// CaseMetadata carries free-form descriptive fields for the
	// adversarial reviewer's prompts. Optional.
	CaseMetadata map[string]any

	// Historical holds prior cases' producer outputs for statistical
	// population comparison. Optional.
	Historical []Snapshot
}
