// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package redteam

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// Package-level tracer and meter for validation operations.
var (
	tracer = otel.Tracer("auctionsentry.redteam")
	meter  = otel.Meter("auctionsentry.redteam")
)

// Metrics for validation operations.
var (
	validationsTotal     metric.Int64Counter
	validationDuration   metric.Float64Histogram
	issuesTotal          metric.Int64Counter
	reliabilityHistogram metric.Float64Histogram
	challengeFailures    metric.Int64Counter
	reviewsSkipped       metric.Int64Counter

	metricsOnce sync.Once
	metricsErr  error
)

// initMetrics initializes the metrics. Safe to call multiple times.
func initMetrics() error {
	metricsOnce.Do(func() {
		var err error

		validationsTotal, err = meter.Int64Counter(
			"redteam_validations_total",
			metric.WithDescription("Total validation runs by overall status"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		validationDuration, err = meter.Float64Histogram(
			"redteam_validation_duration_seconds",
			metric.WithDescription("Full validation run duration"),
			metric.WithUnit("s"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		issuesTotal, err = meter.Int64Counter(
			"redteam_issues_total",
			metric.WithDescription("Total issues by severity, category, and producer"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		reliabilityHistogram, err = meter.Float64Histogram(
			"redteam_overall_reliability",
			metric.WithDescription("Overall reliability score distribution (0-100)"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		challengeFailures, err = meter.Int64Counter(
			"redteam_challenge_failures_total",
			metric.WithDescription("Adversarial challenges that failed or timed out, by category"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		reviewsSkipped, err = meter.Int64Counter(
			"redteam_reviews_skipped_total",
			metric.WithDescription("Validation runs where adversarial review missed the deadline"),
		)
		if err != nil {
			metricsErr = err
			return
		}
	})
	return metricsErr
}

// recordIssue records a single issue.
//
// Thread Safety: Safe for concurrent use.
func recordIssue(ctx context.Context, issue ValidationIssue) {
	if err := initMetrics(); err != nil {
		return
	}

	attrs := metric.WithAttributes(
		attribute.String("severity", string(issue.Severity)),
		attribute.String("category", string(issue.Category)),
		attribute.String("producer", string(issue.Producer)),
	)

	issuesTotal.Add(ctx, 1, attrs)
}

// recordValidation records aggregate metrics for one validation run.
//
// Thread Safety: Safe for concurrent use.
func recordValidation(ctx context.Context, report *ReliabilityReport, duration time.Duration) {
	if err := initMetrics(); err != nil {
		return
	}

	attrs := metric.WithAttributes(
		attribute.String("status", string(report.OverallStatus)),
		attribute.Bool("approved", report.Approved),
	)

	validationsTotal.Add(ctx, 1, attrs)
	validationDuration.Record(ctx, duration.Seconds(), attrs)
	reliabilityHistogram.Record(ctx, report.OverallReliability)
}

// RecordChallengeFailure records a failed or timed-out adversarial
// challenge. Exported so Challenger implementations can report their
// own transport failures.
//
// Thread Safety: Safe for concurrent use.
func RecordChallengeFailure(ctx context.Context, category ChallengeCategory, reason string) {
	if err := initMetrics(); err != nil {
		return
	}

	attrs := metric.WithAttributes(
		attribute.String("category", string(category)),
		attribute.String("reason", reason),
	)

	challengeFailures.Add(ctx, 1, attrs)
}

// recordReviewSkipped records that the outer deadline preempted the
// adversarial review.
func recordReviewSkipped(ctx context.Context) {
	if err := initMetrics(); err != nil {
		return
	}
	reviewsSkipped.Add(ctx, 1)
}

// startValidationSpan creates a span for one validation run.
func startValidationSpan(ctx context.Context, caseID string, producerCount int) (context.Context, trace.Span) {
	return tracer.Start(ctx, "redteam.validate",
		trace.WithAttributes(
			attribute.String("redteam.case_id", caseID),
			attribute.Int("redteam.producers", producerCount),
		),
	)
}

// setValidationSpanResult sets result attributes on a validation span.
func setValidationSpanResult(span trace.Span, report *ReliabilityReport) {
	if report == nil {
		return
	}

	span.SetAttributes(
		attribute.String("redteam.overall_status", string(report.OverallStatus)),
		attribute.Float64("redteam.overall_reliability", report.OverallReliability),
		attribute.Bool("redteam.approved", report.Approved),
		attribute.Int("redteam.total_issues", report.TotalIssues()),
		attribute.Int("redteam.cross_checks", len(report.CrossChecks)),
	)
}
