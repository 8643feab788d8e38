// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package condition defines the closed set of watchpoint condition kinds
// and their parameter schemas.
//
// A Condition is the immutable definition of one checkable predicate: its
// stable numeric id, its named parameters with types, defaults, validity
// predicates and co-occurrence rules. Concrete parameter values supplied at
// watchpoint creation are validated against the owning Condition before any
// registry state changes.
//
// The set of conditions is a fixed enumeration. New kinds are added here,
// never by open-ended subtyping.
package condition

import "fmt"

// ID is the stable numeric code of a condition kind.
type ID int

const (
	OperatorOverflow     ID = 2
	TensorOverflow       ID = 13
	TensorInitialization ID = 14
	TensorTooLarge       ID = 15
	TensorTooSmall       ID = 16
	TensorAllZero        ID = 17
	TensorChangeTooLarge ID = 18
	TensorChangeTooSmall ID = 19
	TensorUnchanged      ID = 20
	TensorRange          ID = 21
)

// Key returns the wire/UI identifier of the condition, e.g. "tensor_too_large".
func (id ID) Key() string {
	switch id {
	case OperatorOverflow:
		return "operator_overflow"
	case TensorOverflow:
		return "tensor_overflow"
	case TensorInitialization:
		return "tensor_initialization"
	case TensorTooLarge:
		return "tensor_too_large"
	case TensorTooSmall:
		return "tensor_too_small"
	case TensorAllZero:
		return "tensor_all_zero"
	case TensorChangeTooLarge:
		return "tensor_change_too_large"
	case TensorChangeTooSmall:
		return "tensor_change_too_small"
	case TensorUnchanged:
		return "tensor_unchanged"
	case TensorRange:
		return "tensor_range"
	default:
		return fmt.Sprintf("unknown_condition_%d", int(id))
	}
}

// ValueType is the declared type of a condition parameter.
type ValueType int

const (
	Float64 ValueType = iota
	Int64
	Bool
)

func (t ValueType) String() string {
	switch t {
	case Float64:
		return "float64"
	case Int64:
		return "int64"
	case Bool:
		return "bool"
	default:
		return "invalid"
	}
}

// ParamKind distinguishes check parameters (the comparison-operator choice,
// at most one per watchpoint) from ordinary support parameters.
type ParamKind int

const (
	KindSupport ParamKind = iota
	KindCheck
)

// TargetType restricts which node categories a condition can watch.
type TargetType int

const (
	// TargetTensor applies to any node producing tensors.
	TargetTensor TargetType = iota
	// TargetParameter applies only to parameter (weight) nodes.
	TargetParameter
)

// Parameter declares one named condition parameter.
type Parameter struct {
	Name string
	Type ValueType
	Kind ParamKind

	// Default is injected at creation time for parameters hidden from the
	// UI. Only meaningful when HasDefault is true.
	Default    float64
	HasDefault bool

	// VisibleOnUI controls whether the parameter appears in the condition
	// listing; hidden parameters with a default are filled in silently.
	VisibleOnUI bool

	// RequiredWith lists the support parameters that must accompany this
	// check parameter, exactly and exclusively.
	RequiredWith []string

	// Valid is the per-value validity predicate. Nil accepts any value of
	// the declared type. Not evaluated for Bool parameters.
	Valid func(float64) bool
}

// Condition is the immutable definition of one predicate kind.
type Condition struct {
	ID         ID
	Name       string
	Abbr       string
	Target     TargetType
	Parameters []Parameter
}

// ParamNames returns the declared parameter names in order.
func (c Condition) ParamNames() []string {
	names := make([]string, len(c.Parameters))
	for i, p := range c.Parameters {
		names[i] = p.Name
	}
	return names
}

// Param returns the declared parameter with the given name.
func (c Condition) Param(name string) (Parameter, bool) {
	for _, p := range c.Parameters {
		if p.Name == name {
			return p, true
		}
	}
	return Parameter{}, false
}

// Names of the range-bound support parameters, referenced by validation.
const (
	RangeStartParam = "range_start_inclusive"
	RangeEndParam   = "range_end_inclusive"
)

func nonNegative(v float64) bool { return v >= 0 }
func unitRange(v float64) bool   { return v >= 0 && v <= 1 }
func anyValue(float64) bool      { return true }

func check(name string, valid func(float64) bool, required ...string) Parameter {
	return Parameter{
		Name:         name,
		Type:         Float64,
		Kind:         KindCheck,
		VisibleOnUI:  true,
		RequiredWith: required,
		Valid:        valid,
	}
}

func support(name string, valid func(float64) bool) Parameter {
	return Parameter{
		Name:        name,
		Type:        Float64,
		Kind:        KindSupport,
		VisibleOnUI: true,
		Valid:       valid,
	}
}

func hidden(name string, def float64, valid func(float64) bool) Parameter {
	return Parameter{
		Name:       name,
		Type:       Float64,
		Kind:       KindSupport,
		Default:    def,
		HasDefault: true,
		Valid:      valid,
	}
}

// catalog is the fixed condition set, keyed by id.
var catalog = buildCatalog()

func buildCatalog() map[ID]Condition {
	conditions := []Condition{
		{
			ID:   OperatorOverflow,
			Name: "OperatorOverflow",
			Abbr: "OO",
		},
		{
			ID:   TensorOverflow,
			Name: "TensorOverflow",
			Abbr: "TO",
		},
		{
			ID:     TensorInitialization,
			Name:   "TensorInitialization",
			Abbr:   "TI",
			Target: TargetParameter,
			Parameters: []Parameter{
				check("zero_percentage_ge", unitRange),
				check("max_gt", anyValue),
				check("min_lt", anyValue),
			},
		},
		{
			ID:   TensorTooLarge,
			Name: "TensorTooLarge",
			Abbr: "TL",
			Parameters: []Parameter{
				check("abs_mean_gt", nonNegative),
				check("max_gt", anyValue),
				check("min_gt", anyValue),
				check("mean_gt", anyValue),
			},
		},
		{
			ID:   TensorTooSmall,
			Name: "TensorTooSmall",
			Abbr: "TS",
			Parameters: []Parameter{
				check("abs_mean_lt", nonNegative),
				check("max_lt", anyValue),
				check("min_lt", anyValue),
				check("mean_lt", anyValue),
			},
		},
		{
			ID:   TensorAllZero,
			Name: "TensorAllZero",
			Abbr: "AZ",
			Parameters: []Parameter{
				check("zero_percentage_ge", unitRange),
			},
		},
		{
			ID:   TensorChangeTooLarge,
			Name: "TensorChangeTooLarge",
			Abbr: "CL",
			Parameters: []Parameter{
				check("abs_mean_update_ratio_gt", nonNegative),
				hidden("epsilon", 1e-9, nonNegative),
			},
		},
		{
			ID:   TensorChangeTooSmall,
			Name: "TensorChangeTooSmall",
			Abbr: "CS",
			Parameters: []Parameter{
				check("abs_mean_update_ratio_lt", nonNegative),
				hidden("epsilon", 1e-9, nonNegative),
			},
		},
		{
			ID:   TensorUnchanged,
			Name: "TensorUnchanged",
			Abbr: "UC",
			Parameters: []Parameter{
				check("rtol", nonNegative, "atol"),
				support("atol", nonNegative),
			},
		},
		{
			ID:   TensorRange,
			Name: "TensorRange",
			Abbr: "TR",
			Parameters: []Parameter{
				check("range_percentage_lt", unitRange, RangeStartParam, RangeEndParam),
				check("range_percentage_gt", unitRange, RangeStartParam, RangeEndParam),
				check("max_min_lt", anyValue),
				check("max_min_gt", anyValue),
				support(RangeStartParam, anyValue),
				support(RangeEndParam, anyValue),
			},
		},
	}

	m := make(map[ID]Condition, len(conditions))
	for _, c := range conditions {
		m[c.ID] = c
	}
	return m
}

// Get returns the condition definition for id.
func Get(id ID) (Condition, bool) {
	c, ok := catalog[id]
	return c, ok
}

// Lookup resolves a wire/UI key, e.g. "tensor_too_large".
func Lookup(key string) (Condition, bool) {
	for _, c := range catalog {
		if c.ID.Key() == key {
			return c, true
		}
	}
	return Condition{}, false
}

// All returns every condition definition ordered by id.
func All() []Condition {
	ids := []ID{
		OperatorOverflow, TensorOverflow, TensorInitialization,
		TensorTooLarge, TensorTooSmall, TensorAllZero,
		TensorChangeTooLarge, TensorChangeTooSmall,
		TensorUnchanged, TensorRange,
	}
	out := make([]Condition, 0, len(ids))
	for _, id := range ids {
		out = append(out, catalog[id])
	}
	return out
}
