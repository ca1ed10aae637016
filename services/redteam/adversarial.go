// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package redteam

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/AleutianAI/AuctionSentry/pkg/logging"
)

// ChallengeCategory names one skeptical review angle.
type ChallengeCategory string

const (
	// CategoryRightsSoundness challenges the legal-rights conclusions.
	CategoryRightsSoundness ChallengeCategory = "rights_soundness"

	// CategoryValuationSoundness challenges the valuation's plausibility.
	CategoryValuationSoundness ChallengeCategory = "valuation_soundness"

	// CategoryStrategyRiskCoherence challenges the bid strategy against
	// the risk grade.
	CategoryStrategyRiskCoherence ChallengeCategory = "strategy_risk_coherence"

	// CategoryHiddenCosts hunts for costs the profit estimate ignores.
	CategoryHiddenCosts ChallengeCategory = "hidden_costs"
)

// ChallengeCategories returns every category in the fixed order used to
// merge findings, so output ordering never depends on arrival order.
func ChallengeCategories() []ChallengeCategory {
	return []ChallengeCategory{
		CategoryRightsSoundness,
		CategoryValuationSoundness,
		CategoryStrategyRiskCoherence,
		CategoryHiddenCosts,
	}
}

// challengeProducer maps a category to the producer its findings are
// attributed to.
func challengeProducer(c ChallengeCategory) Producer {
	switch c {
	case CategoryRightsSoundness:
		return ProducerRights
	case CategoryValuationSoundness:
		return ProducerValuation
	default:
		return ProducerStrategy
	}
}

// Finding is one result of a skeptical challenge, as returned by the
// external reasoning service: text plus a severity hint.
type Finding struct {
	// Text describes the overlooked risk or flawed conclusion.
	Text string `json:"finding_text"`

	// SeverityHint is "warning" or "error"; anything else is treated
	// as a warning, and nothing from this path may reach critical.
	SeverityHint string `json:"severity_hint"`
}

// ChallengeContext carries what a Challenger may reason over.
type ChallengeContext struct {
	// Outputs is the read-only producer snapshot.
	Outputs Snapshot

	// CaseMetadata is free-form descriptive case data, possibly empty.
	CaseMetadata map[string]any
}

// Challenger issues one skeptical challenge against an external
// reasoning service. Implementations must respect ctx and must be safe
// for concurrent use; the engine never retries a failed challenge.
type Challenger interface {
	Challenge(ctx context.Context, category ChallengeCategory, cc ChallengeContext) ([]Finding, error)
}

// Reviewer runs the adversarial review: one challenge per category,
// dispatched concurrently, each under its own timeout. The reviewer is
// advisory: a failed or timed-out challenge yields zero
// findings and is only logged, and no finding can block the verdict on
// its own.
type Reviewer struct {
	challenger Challenger
	timeout    time.Duration
	log        *logging.Logger
}

// NewReviewer builds a reviewer. challenger may be nil, in which case
// only the deterministic coherence and hidden-cost checks run.
func NewReviewer(challenger Challenger, timeout time.Duration, log *logging.Logger) *Reviewer {
	if log == nil {
		log = logging.Default()
	}
	return &Reviewer{challenger: challenger, timeout: timeout, log: log}
}

// Review collects adversarial issues for the snapshot. Challenges run
// concurrently; findings are merged in category order. Review waits for
// every dispatched challenge to settle and never cancels siblings when
// one fails.
func (r *Reviewer) Review(ctx context.Context, outputs Snapshot, caseMeta map[string]any) []ValidationIssue {
	categories := ChallengeCategories()
	byCategory := make([][]Finding, len(categories))

	if r.challenger != nil {
		cc := ChallengeContext{Outputs: outputs, CaseMetadata: caseMeta}
		var g errgroup.Group
		for i, category := range categories {
			g.Go(func() error {
				callCtx, cancel := context.WithTimeout(ctx, r.timeout)
				defer cancel()
				findings, err := r.challenger.Challenge(callCtx, category, cc)
				if err != nil {
					// Best-effort enrichment: degrade to zero findings.
					r.log.Warn("adversarial challenge failed",
						"category", string(category), "error", err.Error())
					return nil
				}
				byCategory[i] = findings
				return nil
			})
		}
		_ = g.Wait()
	}

	var issues []ValidationIssue
	for i, category := range categories {
		issues = append(issues, r.deterministicIssues(category, outputs)...)
		for _, finding := range byCategory[i] {
			if strings.TrimSpace(finding.Text) == "" {
				continue
			}
			issues = append(issues, ValidationIssue{
				ID:          uuid.NewString(),
				Severity:    advisorySeverity(finding.SeverityHint),
				Category:    CategoryAdversarial,
				Producer:    challengeProducer(category),
				Field:       "overall",
				Description: finding.Text,
				Confidence:  0.7,
			})
		}
	}
	return issues
}

// advisorySeverity maps a severity hint onto the advisory ceiling: the
// reviewer alone may never escalate to critical.
func advisorySeverity(hint string) Severity {
	switch strings.ToLower(strings.TrimSpace(hint)) {
	case "error", "critical", "high":
		return SeverityError
	default:
		return SeverityWarning
	}
}

// deterministicIssues are the reviewer's built-in skeptical checks. They
// need no external service, so adversarial review still catches the
// known incoherence patterns when the reasoning backend is unavailable.
func (r *Reviewer) deterministicIssues(category ChallengeCategory, outputs Snapshot) []ValidationIssue {
	switch category {
	case CategoryStrategyRiskCoherence:
		return strategyRiskIssues(outputs)
	case CategoryHiddenCosts:
		return hiddenCostIssues(outputs)
	default:
		return nil
	}
}

// gradeStrategyConflicts pairs a risk grade with a strategy type that
// contradicts it.
var gradeStrategyConflicts = []struct {
	grade    string
	strategy string
	message  string
}{
	{"D", "aggressive", "an aggressive strategy on a grade-D property is dangerous"},
	{"C", "aggressive", "an aggressive strategy on a grade-C property needs justification"},
	{"A", "conservative", "an overly conservative strategy on a safe property forfeits opportunity"},
}

func strategyRiskIssues(outputs Snapshot) []ValidationIssue {
	risk, okRisk := outputs[ProducerRisk]
	strategy, okStrategy := outputs[ProducerStrategy]
	if !okRisk || !okStrategy {
		return nil
	}
	grade, _ := risk["grade"].(string)
	strategyType, _ := strategy["strategy_type"].(string)

	var issues []ValidationIssue
	for _, conflict := range gradeStrategyConflicts {
		if grade == conflict.grade && strategyType == conflict.strategy {
			issues = append(issues, ValidationIssue{
				ID:           uuid.NewString(),
				Severity:     SeverityWarning,
				Category:     CategoryAdversarial,
				Producer:     ProducerStrategy,
				Field:        "strategy_type",
				Description:  fmt.Sprintf("strategy conflicts with risk grade %s: %s", grade, conflict.message),
				SuggestedFix: "reconcile the strategy type with the risk assessment",
				Confidence:   0.8,
			})
		}
	}
	return issues
}

func hiddenCostIssues(outputs Snapshot) []ValidationIssue {
	rights := outputs[ProducerRights]
	strategy := outputs[ProducerStrategy]
	if strategy == nil {
		return nil
	}

	var issues []ValidationIssue

	// Occupied properties need an eviction allowance in the profit math.
	hasOccupants, _ := rights["has_occupants"].(bool)
	profit, _ := snapshotNumber(outputs, ProducerStrategy, "expected_profit")
	evictionIncluded, _ := strategy["includes_eviction_cost"].(bool)
	if hasOccupants && profit > 0 && !evictionIncluded {
		issues = append(issues, ValidationIssue{
			ID:           uuid.NewString(),
			Severity:     SeverityWarning,
			Category:     CategoryAdversarial,
			Producer:     ProducerStrategy,
			Field:        "expected_profit",
			Description:  "the property is occupied but eviction cost is absent from the profit estimate",
			SuggestedFix: "add an eviction cost allowance before relying on the profit figure",
			Confidence:   0.85,
		})
	}

	// Buildings past 25 years usually need remodeling budget.
	if year, ok := snapshotNumber(outputs, ProducerStrategy, "building_year"); ok {
		age := float64(time.Now().Year()) - year
		remodelIncluded, _ := strategy["includes_remodel_cost"].(bool)
		if age > 25 && !remodelIncluded {
			issues = append(issues, ValidationIssue{
				ID:          uuid.NewString(),
				Severity:    SeverityInfo,
				Category:    CategoryAdversarial,
				Producer:    ProducerStrategy,
				Field:       "expected_profit",
				Description: fmt.Sprintf("the building is %.0f years old and no remodeling cost is budgeted", age),
				Confidence:  0.7,
			})
		}
	}

	return issues
}
