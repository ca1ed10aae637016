// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package redteam validates the combined output of the auction analysis
// producers before a case report is released. It runs schema-contract
// integrity checks, cross-producer consistency checks, statistical
// anomaly detection, and an optional LLM-backed adversarial review,
// then folds every finding into a single ReliabilityReport.
package redteam

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/AleutianAI/AuctionSentry/pkg/logging"
)

// Config holds the engine's tunable knobs. Zero values are not usable;
// start from DefaultConfig.
type Config struct {
	// ChallengeTimeout bounds each adversarial challenge call.
	ChallengeTimeout time.Duration `validate:"gt=0"`

	// MinSamples is the minimum historical population size before
	// z-score checks use the observed population instead of reference
	// parameters.
	MinSamples int `validate:"gte=2"`

	// MaxCriticalIssues caps the critical_issues list in the report.
	MaxCriticalIssues int `validate:"gte=1"`

	// MaxApprovalConditions caps the approval_conditions list.
	MaxApprovalConditions int `validate:"gte=1"`
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		ChallengeTimeout:      20 * time.Second,
		MinSamples:            5,
		MaxCriticalIssues:     10,
		MaxApprovalConditions: 3,
	}
}

// Engine is the validation entry point. Construct with NewEngine; the
// zero value is not usable.
//
// Thread Safety: Safe for concurrent use. All mutable state is
// per-call.
type Engine struct {
	cfg       Config
	log       *logging.Logger
	integrity *IntegrityValidator
	cross     *CrossValidator
	anomaly   *AnomalyDetector
	reviewer  *Reviewer
	agg       *Aggregator
}

// engineOptions collects everything NewEngine can override.
type engineOptions struct {
	log        *logging.Logger
	challenger Challenger
	contracts  ContractSet
	crossRules []CrossCheckRule
	bandRules  []BandRule
	anomalies  []AnomalyRule
	weights    map[Producer]float64
	penalties  map[Severity]float64
}

// Option customizes an Engine.
type Option func(*engineOptions)

// WithLogger sets the structured logger. Defaults to logging.Default().
func WithLogger(log *logging.Logger) Option {
	return func(o *engineOptions) { o.log = log }
}

// WithChallenger sets the adversarial challenger. Without one the
// reviewer still runs its deterministic checks.
func WithChallenger(c Challenger) Option {
	return func(o *engineOptions) { o.challenger = c }
}

// WithContracts replaces the default schema contracts.
func WithContracts(cs ContractSet) Option {
	return func(o *engineOptions) { o.contracts = cs }
}

// WithCrossCheckRules replaces the default pairwise consistency rules.
func WithCrossCheckRules(rules []CrossCheckRule) Option {
	return func(o *engineOptions) { o.crossRules = rules }
}

// WithBandRules replaces the default band containment rules.
func WithBandRules(rules []BandRule) Option {
	return func(o *engineOptions) { o.bandRules = rules }
}

// WithAnomalyRules replaces the default statistical anomaly rules.
func WithAnomalyRules(rules []AnomalyRule) Option {
	return func(o *engineOptions) { o.anomalies = rules }
}

// WithWeights replaces the default producer weights. Weights must be
// positive; they are renormalized over the producers present in each
// request, so they need not sum to one.
func WithWeights(weights map[Producer]float64) Option {
	return func(o *engineOptions) { o.weights = weights }
}

// WithPenalties replaces the default per-severity score penalties.
func WithPenalties(penalties map[Severity]float64) Option {
	return func(o *engineOptions) { o.penalties = penalties }
}

// NewEngine builds an Engine, compiling contracts and validating every
// rule table up front. Construction fails fast on the first invalid
// contract, rule, or config value.
func NewEngine(cfg Config, opts ...Option) (*Engine, error) {
	o := engineOptions{
		contracts:  DefaultContracts(),
		crossRules: DefaultCrossCheckRules(),
		bandRules:  DefaultBandRules(),
		anomalies:  DefaultAnomalyRules(),
		weights:    DefaultWeights(),
		penalties:  DefaultPenalties(),
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.log == nil {
		o.log = logging.Default()
	}

	vd := validator.New(validator.WithRequiredStructEnabled())

	if err := vd.Struct(cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	compiled, err := o.contracts.compile(vd)
	if err != nil {
		return nil, fmt.Errorf("invalid contracts: %w", err)
	}

	for i, rule := range o.crossRules {
		if err := vd.Struct(rule); err != nil {
			return nil, fmt.Errorf("invalid cross-check rule %d (%s): %w", i, rule.Name, err)
		}
	}
	for i, band := range o.bandRules {
		if err := vd.Struct(band); err != nil {
			return nil, fmt.Errorf("invalid band rule %d (%s): %w", i, band.Name, err)
		}
	}
	for i, rule := range o.anomalies {
		if err := vd.Struct(rule); err != nil {
			return nil, fmt.Errorf("invalid anomaly rule %d (%s): %w", i, rule.Name, err)
		}
	}

	if len(o.weights) == 0 {
		return nil, fmt.Errorf("no producer weights configured")
	}
	for producer, w := range o.weights {
		if w <= 0 {
			return nil, fmt.Errorf("weight for producer %q must be positive, got %v", producer, w)
		}
	}
	for severity, p := range o.penalties {
		if p < 0 {
			return nil, fmt.Errorf("penalty for severity %q must be non-negative, got %v", severity, p)
		}
	}

	return &Engine{
		cfg:       cfg,
		log:       o.log,
		integrity: NewIntegrityValidator(compiled),
		cross:     NewCrossValidator(o.crossRules, o.bandRules),
		anomaly:   NewAnomalyDetector(o.anomalies, cfg.MinSamples),
		reviewer:  NewReviewer(o.challenger, cfg.ChallengeTimeout, o.log),
		agg:       NewAggregator(o.weights, o.penalties, cfg.MaxCriticalIssues, cfg.MaxApprovalConditions),
	}, nil
}

// Validate runs every check against the request's producer snapshot and
// returns the aggregated verdict. It never returns an error: a failed
// or timed-out adversarial review degrades to an informational note,
// and the deterministic checks have no failure mode.
//
// The adversarial review runs concurrently with the deterministic
// checks. If ctx expires before the review finishes, the verdict is
// computed without it.
func (e *Engine) Validate(ctx context.Context, req Request) *ReliabilityReport {
	start := time.Now()
	ctx, span := startValidationSpan(ctx, req.CaseID, len(req.Outputs))
	defer span.End()

	log := e.log.With("case_id", req.CaseID)
	log.Info("validation started", "producers", len(req.Outputs))

	// Kick off the adversarial review first so it overlaps with the
	// deterministic checks.
	reviewCh := make(chan []ValidationIssue, 1)
	go func() {
		reviewCh <- e.reviewer.Review(ctx, req.Outputs, req.CaseMetadata)
	}()

	var issues []ValidationIssue

	producers := make([]Producer, 0, len(req.Outputs))
	for producer := range req.Outputs {
		producers = append(producers, producer)
	}
	sort.Slice(producers, func(i, j int) bool { return producers[i] < producers[j] })
	for _, producer := range producers {
		issues = append(issues, e.integrity.Validate(producer, req.Outputs[producer])...)
	}

	crossResults, crossIssues := e.cross.Validate(req.Outputs)
	issues = append(issues, crossIssues...)

	issues = append(issues, e.anomaly.Detect(req.Outputs, req.Historical)...)

	select {
	case reviewIssues := <-reviewCh:
		issues = append(issues, reviewIssues...)
	case <-ctx.Done():
		log.Warn("adversarial review skipped", "reason", ctx.Err())
		recordReviewSkipped(ctx)
		issues = append(issues, ValidationIssue{
			ID:          uuid.NewString(),
			Severity:    SeverityInfo,
			Category:    CategoryInfra,
			Description: "adversarial review skipped: deadline exceeded before the reviewer finished",
			Confidence:  1.0,
		})
	}

	for _, issue := range issues {
		recordIssue(ctx, issue)
	}

	report := e.agg.Aggregate(req.CaseID, req.Outputs, issues, crossResults)

	recordValidation(ctx, report, time.Since(start))
	setValidationSpanResult(span, report)

	log.Info("validation finished",
		"overall_status", report.OverallStatus,
		"overall_reliability", report.OverallReliability,
		"approved", report.Approved,
		"issues", report.TotalIssues(),
		"duration_ms", time.Since(start).Milliseconds(),
	)

	return report
}
