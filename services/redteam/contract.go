// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package redteam

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"
)

// FieldType is the declared type of a contracted field.
type FieldType string

const (
	// TypeNumber accepts any numeric value, integral or not.
	TypeNumber FieldType = "number"

	// TypeInteger accepts whole numbers only.
	TypeInteger FieldType = "integer"

	// TypeString accepts textual values.
	TypeString FieldType = "string"

	// TypeBool accepts boolean values.
	TypeBool FieldType = "bool"

	// TypeMap accepts nested field-to-value mappings.
	TypeMap FieldType = "map"

	// TypeList accepts lists.
	TypeList FieldType = "list"
)

// FieldContract declares the shape and bounds one field must satisfy.
// Contracts are static configuration, never derived from input.
type FieldContract struct {
	// Type is the required value type.
	Type FieldType `validate:"required,oneof=number integer string bool map list"`

	// Required reports whether the field must be present.
	Required bool

	// Min and Max bound numeric values when set.
	Min *float64
	Max *float64

	// AllowedValues restricts string fields to an enumeration when non-empty.
	AllowedValues []string

	// RequiredSubkeys lists keys a map field must contain.
	RequiredSubkeys []string

	// Pattern is an anchored regular expression a string field must match.
	Pattern string
}

// Contract maps field paths to their constraint for one producer.
// Field paths support one level of nesting ("coordinates.lat").
type Contract map[string]FieldContract

// ContractSet holds the contract for every producer the engine knows.
type ContractSet map[Producer]Contract

// compiledField is a FieldContract with its pattern compiled once at load.
type compiledField struct {
	FieldContract
	pattern *regexp.Regexp
}

type compiledContract map[string]compiledField

type compiledContractSet map[Producer]compiledContract

// compile validates a ContractSet and compiles its patterns. A malformed
// table is a programming error and must fail process initialization, so
// every defect is reported as an error here rather than at request time.
func (cs ContractSet) compile(vd *validator.Validate) (compiledContractSet, error) {
	out := make(compiledContractSet, len(cs))
	for producer, contract := range cs {
		cc := make(compiledContract, len(contract))
		for field, fc := range contract {
			if err := vd.Struct(fc); err != nil {
				return nil, fmt.Errorf("contract %s.%s: %w", producer, field, err)
			}
			if fc.Min != nil && fc.Max != nil && *fc.Min > *fc.Max {
				return nil, fmt.Errorf("contract %s.%s: min %v exceeds max %v",
					producer, field, *fc.Min, *fc.Max)
			}
			if strings.Count(field, ".") > 1 {
				return nil, fmt.Errorf("contract %s.%s: at most one level of nesting", producer, field)
			}
			comp := compiledField{FieldContract: fc}
			if fc.Pattern != "" {
				re, err := regexp.Compile(fc.Pattern)
				if err != nil {
					return nil, fmt.Errorf("contract %s.%s: bad pattern: %w", producer, field, err)
				}
				comp.pattern = re
			}
			cc[field] = comp
		}
		out[producer] = cc
	}
	return out, nil
}

// lookupField resolves a possibly nested field path against an output.
// Returns the value and whether the full path was present.
func lookupField(output Output, path string) (any, bool) {
	head, rest, nested := strings.Cut(path, ".")
	value, ok := output[head]
	if !ok || !nested {
		return value, ok
	}
	sub, ok := value.(map[string]any)
	if !ok {
		return nil, false
	}
	v, ok := sub[rest]
	return v, ok
}

func f64(v float64) *float64 { return &v }

// DefaultContracts returns the per-producer field contracts for the
// court-auction analysis stages. Bounds mirror the upstream stages'
// documented output ranges: scores are 0-100, probabilities 0-1, the bid
// rate may run to 150% of appraisal, and Korean court case numbers look
// like "2024타경12345".
func DefaultContracts() ContractSet {
	return ContractSet{
		ProducerRights: {
			"case_number": {Type: TypeString, Required: true, Pattern: `^\d{4}타경\d+$`},
			"reference_right": {
				Type: TypeMap, Required: true,
				RequiredSubkeys: []string{"type", "date"},
			},
			"assumed_rights":       {Type: TypeList, Required: true},
			"extinguished_rights":  {Type: TypeList, Required: true},
			"total_assumed_amount": {Type: TypeNumber, Required: true, Min: f64(0)},
			"risk_level": {
				Type: TypeString, Required: true,
				AllowedValues: []string{"LOW", "MEDIUM", "HIGH", "CRITICAL"},
			},
		},
		ProducerValuation: {
			"appraisal_value":        {Type: TypeInteger, Required: true, Min: f64(0)},
			"estimated_market_price": {Type: TypeInteger, Required: true, Min: f64(0)},
			"price_per_pyung":        {Type: TypeNumber, Required: true, Min: f64(0)},
			"confidence":             {Type: TypeNumber, Required: true, Min: f64(0), Max: f64(1)},
			"comparables_count":      {Type: TypeInteger, Required: true, Min: f64(0)},
		},
		ProducerLocation: {
			"total_score":     {Type: TypeNumber, Required: true, Min: f64(0), Max: f64(100)},
			"transport_score": {Type: TypeNumber, Required: true, Min: f64(0), Max: f64(100)},
			"education_score": {Type: TypeNumber, Required: true, Min: f64(0), Max: f64(100)},
			"coordinates": {
				Type: TypeMap, Required: true,
				RequiredSubkeys: []string{"lat", "lng"},
			},
		},
		ProducerRisk: {
			"total_score": {Type: TypeNumber, Required: true, Min: f64(0), Max: f64(100)},
			"grade": {
				Type: TypeString, Required: true,
				AllowedValues: []string{"A", "B", "C", "D"},
			},
			"beginner_friendly": {Type: TypeBool, Required: true},
		},
		ProducerStrategy: {
			"optimal_bid":     {Type: TypeInteger, Required: true, Min: f64(0)},
			"bid_rate":        {Type: TypeNumber, Required: true, Min: f64(0), Max: f64(1.5)},
			"expected_profit": {Type: TypeNumber, Required: true},
			"win_probability": {Type: TypeNumber, Required: true, Min: f64(0), Max: f64(1)},
		},
	}
}
