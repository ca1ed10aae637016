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

func newTestIntegrityValidator(t *testing.T) *IntegrityValidator {
	t.Helper()
	compiled, err := DefaultContracts().compile(newTestValidator())
	if err != nil {
		t.Fatalf("compiling default contracts: %v", err)
	}
	return NewIntegrityValidator(compiled)
}

// validRightsOutput satisfies the rights contract completely.
func validRightsOutput() Output {
	return Output{
		"case_number":          "2024타경12345",
		"reference_right":      map[string]any{"type": "근저당권", "date": "2020-03-15"},
		"assumed_rights":       []any{},
		"extinguished_rights":  []any{"근저당권"},
		"total_assumed_amount": float64(0),
		"risk_level":           "LOW",
	}
}

func TestIntegrityValidator_CleanOutput(t *testing.T) {
	v := newTestIntegrityValidator(t)

	issues := v.Validate(ProducerRights, validRightsOutput())
	if len(issues) != 0 {
		t.Errorf("expected no issues for a contract-clean output, got %d: %+v", len(issues), issues)
	}
}

func TestIntegrityValidator_UnknownProducer(t *testing.T) {
	v := newTestIntegrityValidator(t)

	issues := v.Validate(Producer("weather"), Output{"foo": 1})
	if len(issues) != 1 {
		t.Fatalf("expected exactly one issue for an unknown producer, got %d", len(issues))
	}
	if issues[0].Severity != SeverityWarning {
		t.Errorf("unknown producer should be a warning, got %s", issues[0].Severity)
	}
}

func TestIntegrityValidator_MissingRequiredField(t *testing.T) {
	v := newTestIntegrityValidator(t)

	output := validRightsOutput()
	delete(output, "risk_level")

	issues := v.Validate(ProducerRights, output)
	if len(issues) != 1 {
		t.Fatalf("expected one issue, got %d: %+v", len(issues), issues)
	}
	if issues[0].Severity != SeverityError {
		t.Errorf("missing required field should be an error, got %s", issues[0].Severity)
	}
	if issues[0].Field != "risk_level" {
		t.Errorf("expected issue on risk_level, got %s", issues[0].Field)
	}
}

func TestIntegrityValidator_NilValueCountsAsMissing(t *testing.T) {
	v := newTestIntegrityValidator(t)

	output := validRightsOutput()
	output["risk_level"] = nil

	issues := v.Validate(ProducerRights, output)
	if len(issues) != 1 || issues[0].Severity != SeverityError {
		t.Fatalf("expected one error for a nil required field, got %+v", issues)
	}
}

func TestIntegrityValidator_TypeMismatch(t *testing.T) {
	v := newTestIntegrityValidator(t)

	output := validRightsOutput()
	output["total_assumed_amount"] = "zero"

	issues := v.Validate(ProducerRights, output)
	if len(issues) != 1 {
		t.Fatalf("expected one issue, got %d: %+v", len(issues), issues)
	}
	if issues[0].Severity != SeverityError {
		t.Errorf("type mismatch should be an error, got %s", issues[0].Severity)
	}
}

func TestIntegrityValidator_IntegerRejectsFraction(t *testing.T) {
	v := newTestIntegrityValidator(t)

	output := Output{
		"appraisal_value":        450000000.5,
		"estimated_market_price": float64(500000000),
		"price_per_pyung":        float64(25000000),
		"confidence":             0.9,
		"comparables_count":      float64(8),
	}

	issues := v.Validate(ProducerValuation, output)
	if len(issues) != 1 {
		t.Fatalf("expected one issue, got %d: %+v", len(issues), issues)
	}
	if issues[0].Field != "appraisal_value" || issues[0].Severity != SeverityError {
		t.Errorf("expected a type error on appraisal_value, got %+v", issues[0])
	}
}

func TestIntegrityValidator_OutOfRange(t *testing.T) {
	v := newTestIntegrityValidator(t)

	output := Output{
		"total_score":       float64(135),
		"grade":             "B",
		"beginner_friendly": true,
	}

	issues := v.Validate(ProducerRisk, output)
	if len(issues) != 1 {
		t.Fatalf("expected one issue, got %d: %+v", len(issues), issues)
	}
	if issues[0].Severity != SeverityError {
		t.Errorf("range violation should be an error, got %s", issues[0].Severity)
	}
}

func TestIntegrityValidator_DisallowedEnumValue(t *testing.T) {
	v := newTestIntegrityValidator(t)

	output := Output{
		"total_score":       float64(70),
		"grade":             "F",
		"beginner_friendly": false,
	}

	issues := v.Validate(ProducerRisk, output)
	if len(issues) != 1 {
		t.Fatalf("expected one issue, got %d: %+v", len(issues), issues)
	}
	if issues[0].Severity != SeverityError || issues[0].Field != "grade" {
		t.Errorf("expected an enum error on grade, got %+v", issues[0])
	}
}

func TestIntegrityValidator_MissingSubkeysIsWarning(t *testing.T) {
	v := newTestIntegrityValidator(t)

	output := validRightsOutput()
	output["reference_right"] = map[string]any{"type": "근저당권"}

	issues := v.Validate(ProducerRights, output)
	if len(issues) != 1 {
		t.Fatalf("expected one issue, got %d: %+v", len(issues), issues)
	}
	if issues[0].Severity != SeverityWarning {
		t.Errorf("missing subkeys should be a warning, got %s", issues[0].Severity)
	}
}

func TestIntegrityValidator_PatternMismatchIsWarning(t *testing.T) {
	v := newTestIntegrityValidator(t)

	output := validRightsOutput()
	output["case_number"] = "case-12345"

	issues := v.Validate(ProducerRights, output)
	if len(issues) != 1 {
		t.Fatalf("expected one issue, got %d: %+v", len(issues), issues)
	}
	if issues[0].Severity != SeverityWarning {
		t.Errorf("pattern mismatch should be a warning, got %s", issues[0].Severity)
	}
}

func TestIntegrityValidator_OptionalFieldAbsent(t *testing.T) {
	compiled, err := ContractSet{
		ProducerLocation: {
			"total_score": {Type: TypeNumber, Required: false, Min: f64(0), Max: f64(100)},
		},
	}.compile(newTestValidator())
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	v := NewIntegrityValidator(compiled)

	issues := v.Validate(ProducerLocation, Output{})
	if len(issues) != 0 {
		t.Errorf("absent optional field should not raise issues, got %+v", issues)
	}
}

func TestIntegrityValidator_OneIssuePerField(t *testing.T) {
	v := newTestIntegrityValidator(t)

	// Wrong type and out of range at once; only the type error surfaces.
	output := Output{
		"total_score":       "high",
		"grade":             "A",
		"beginner_friendly": true,
	}

	issues := v.Validate(ProducerRisk, output)
	if len(issues) != 1 {
		t.Fatalf("expected exactly one issue per field, got %d: %+v", len(issues), issues)
	}
}

func TestIntegrityValidator_Deterministic(t *testing.T) {
	v := newTestIntegrityValidator(t)

	output := validRightsOutput()
	delete(output, "risk_level")
	delete(output, "assumed_rights")

	first := v.Validate(ProducerRights, output)
	second := v.Validate(ProducerRights, output)
	if len(first) != len(second) {
		t.Fatalf("issue counts differ across runs: %d vs %d", len(first), len(second))
	}
	for i := range first {
		if first[i].Field != second[i].Field {
			t.Errorf("issue order differs at %d: %s vs %s", i, first[i].Field, second[i].Field)
		}
	}
}
