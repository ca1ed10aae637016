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
)

// IntegrityValidator checks a single producer's output against its
// declared field contract. It is a pure function of its inputs: no I/O,
// no shared state, deterministic for a given contract table.
type IntegrityValidator struct {
	contracts compiledContractSet
}

// NewIntegrityValidator wraps an already-compiled contract table.
func NewIntegrityValidator(contracts compiledContractSet) *IntegrityValidator {
	return &IntegrityValidator{contracts: contracts}
}

// Validate checks one producer's output and returns every contract
// violation found. Unknown producers degrade to a single warning rather
// than failing the run. Fields are visited in sorted order so repeated
// runs yield identical issue lists.
func (v *IntegrityValidator) Validate(producer Producer, output Output) []ValidationIssue {
	contract, ok := v.contracts[producer]
	if !ok {
		return []ValidationIssue{{
			ID:          uuid.NewString(),
			Severity:    SeverityWarning,
			Category:    CategoryIntegrity,
			Producer:    producer,
			Field:       "overall",
			Description: fmt.Sprintf("no contract defined for producer %q; integrity checks skipped", producer),
			Confidence:  1.0,
		}}
	}

	fields := make([]string, 0, len(contract))
	for field := range contract {
		fields = append(fields, field)
	}
	sort.Strings(fields)

	var issues []ValidationIssue
	for _, field := range fields {
		if issue := v.checkField(producer, output, field, contract[field]); issue != nil {
			issues = append(issues, *issue)
		}
	}
	return issues
}

// checkField applies one field contract. Checks run in a fixed order and
// stop at the first violation, so each field contributes at most one issue.
func (v *IntegrityValidator) checkField(producer Producer, output Output, field string, fc compiledField) *ValidationIssue {
	value, present := lookupField(output, field)
	if !present || value == nil {
		if !fc.Required {
			return nil
		}
		return &ValidationIssue{
			ID:           uuid.NewString(),
			Severity:     SeverityError,
			Category:     CategoryIntegrity,
			Producer:     producer,
			Field:        field,
			Description:  fmt.Sprintf("missing required field %q", field),
			SuggestedFix: fmt.Sprintf("re-run the %s stage and confirm it emits %q", producer, field),
			Confidence:   1.0,
		}
	}

	if !typeMatches(fc.Type, value) {
		return &ValidationIssue{
			ID:          uuid.NewString(),
			Severity:    SeverityError,
			Category:    CategoryIntegrity,
			Producer:    producer,
			Field:       field,
			Description: fmt.Sprintf("type mismatch on field %q", field),
			Expected:    string(fc.Type),
			Actual:      fmt.Sprintf("%T", value),
			Confidence:  1.0,
		}
	}

	if num, ok := asNumber(value); ok {
		if (fc.Min != nil && num < *fc.Min) || (fc.Max != nil && num > *fc.Max) {
			return &ValidationIssue{
				ID:          uuid.NewString(),
				Severity:    SeverityError,
				Category:    CategoryIntegrity,
				Producer:    producer,
				Field:       field,
				Description: fmt.Sprintf("value of %q is outside its allowed range", field),
				Expected:    rangeNote(fc.Min, fc.Max),
				Actual:      num,
				Confidence:  1.0,
			}
		}
	}

	if len(fc.AllowedValues) > 0 {
		if s, ok := value.(string); ok && !contains(fc.AllowedValues, s) {
			return &ValidationIssue{
				ID:          uuid.NewString(),
				Severity:    SeverityError,
				Category:    CategoryIntegrity,
				Producer:    producer,
				Field:       field,
				Description: fmt.Sprintf("value %q is not allowed for field %q", s, field),
				Expected:    fc.AllowedValues,
				Actual:      s,
				Confidence:  1.0,
			}
		}
	}

	if len(fc.RequiredSubkeys) > 0 {
		if m, ok := value.(map[string]any); ok {
			var missing []string
			for _, key := range fc.RequiredSubkeys {
				if _, ok := m[key]; !ok {
					missing = append(missing, key)
				}
			}
			if len(missing) > 0 {
				return &ValidationIssue{
					ID:          uuid.NewString(),
					Severity:    SeverityWarning,
					Category:    CategoryIntegrity,
					Producer:    producer,
					Field:       field,
					Description: fmt.Sprintf("field %q is missing subkeys", field),
					Expected:    fc.RequiredSubkeys,
					Actual:      missing,
					Confidence:  1.0,
				}
			}
		}
	}

	if fc.pattern != nil {
		if s, ok := value.(string); ok && !fc.pattern.MatchString(s) {
			return &ValidationIssue{
				ID:          uuid.NewString(),
				Severity:    SeverityWarning,
				Category:    CategoryIntegrity,
				Producer:    producer,
				Field:       field,
				Description: fmt.Sprintf("value of %q does not match its expected pattern", field),
				Expected:    fc.Pattern,
				Actual:      s,
				Confidence:  0.8,
			}
		}
	}

	return nil
}

// asNumber coerces the numeric types a decoded snapshot can carry.
func asNumber(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	default:
		return 0, false
	}
}

// isWhole reports whether a float carries an integral value. JSON decoding
// turns every number into float64, so integer contracts must accept those.
func isWhole(f float64) bool {
	return f == math.Trunc(f)
}

func typeMatches(t FieldType, v any) bool {
	switch t {
	case TypeNumber:
		_, ok := asNumber(v)
		return ok
	case TypeInteger:
		n, ok := asNumber(v)
		return ok && isWhole(n)
	case TypeString:
		_, ok := v.(string)
		return ok
	case TypeBool:
		_, ok := v.(bool)
		return ok
	case TypeMap:
		_, ok := v.(map[string]any)
		return ok
	case TypeList:
		_, ok := v.([]any)
		return ok
	default:
		return false
	}
}

func contains(values []string, s string) bool {
	for _, v := range values {
		if v == s {
			return true
		}
	}
	return false
}

func rangeNote(min, max *float64) string {
	switch {
	case min != nil && max != nil:
		return fmt.Sprintf("[%v, %v]", *min, *max)
	case min != nil:
		return fmt.Sprintf(">= %v", *min)
	case max != nil:
		return fmt.Sprintf("<= %v", *max)
	default:
		return ""
	}
}
