// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package condition

import (
	"github.com/AleutianAI/tensorwatch/services/debugger/derrors"
)

// ParamValue is one concrete parameter supplied for a watchpoint.
// ActualValue is filled in when a hit report for the watchpoint arrives.
type ParamValue struct {
	Name        string `json:"name"`
	Value       any    `json:"value"`
	ActualValue any    `json:"actual_value,omitempty"`
}

// Instance binds a condition definition to concrete parameter values.
type Instance struct {
	Def    Condition
	Params []ParamValue
}

// Clone returns a deep copy; hit records hold clones so later registry
// mutation cannot alter history.
func (in Instance) Clone() Instance {
	params := make([]ParamValue, len(in.Params))
	copy(params, in.Params)
	return Instance{Def: in.Def, Params: params}
}

// NewInstance validates params against the condition identified by key and
// returns the bound instance with hidden defaults injected. No state is
// mutated on failure.
func NewInstance(key string, params []ParamValue) (Instance, error) {
	def, ok := Lookup(key)
	if !ok {
		return Instance{}, derrors.New(derrors.CodeParamValue,
			"invalid watch condition: unknown id %q", key)
	}
	if err := Validate(def, params); err != nil {
		return Instance{}, err
	}
	return Instance{Def: def, Params: applyDefaults(def, params)}, nil
}

// Validate checks supplied parameter values against the condition schema.
//
// The rules, all enforced before any caller state changes:
//   - a condition declaring no parameters accepts none;
//   - every supplied name must be declared;
//   - values must match the declared type, and booleans are never accepted
//     where a numeric type is declared;
//   - each value must satisfy the parameter's validity predicate;
//   - at most one check parameter may be supplied;
//   - the supplied support parameters must equal the check parameter's
//     required set, no more and no less;
//   - when both range bounds are present, start must not exceed end.
func Validate(def Condition, params []ParamValue) error {
	if len(def.Parameters) == 0 {
		if len(params) != 0 {
			return derrors.New(derrors.CodeParamValue,
				"no parameter is expected for condition %q", def.ID.Key())
		}
		return nil
	}

	checkCount := 0
	supplied := map[string]bool{}
	var requiredSupport []string
	var rangeStart, rangeEnd *float64

	for _, pv := range params {
		if supplied[pv.Name] {
			return derrors.New(derrors.CodeParamValue,
				"duplicate parameter %q for condition %q", pv.Name, def.ID.Key())
		}

		decl, ok := def.Param(pv.Name)
		if !ok {
			return derrors.New(derrors.CodeParamValue,
				"invalid parameter name %q for condition %q; available: %v",
				pv.Name, def.ID.Key(), def.ParamNames())
		}

		num, err := coerce(def.ID, decl, pv.Value)
		if err != nil {
			return err
		}
		if decl.Type != Bool && decl.Valid != nil && !decl.Valid(num) {
			return derrors.New(derrors.CodeParamValue,
				"parameter %q out of range for condition %q", pv.Name, def.ID.Key())
		}

		if decl.Kind == KindCheck {
			checkCount++
			if checkCount > 1 {
				return derrors.New(derrors.CodeParamValue,
					"multiple check parameters for condition %q", def.ID.Key())
			}
			requiredSupport = decl.RequiredWith
		} else {
			supplied[pv.Name] = true
		}

		switch pv.Name {
		case RangeStartParam:
			v := num
			rangeStart = &v
		case RangeEndParam:
			v := num
			rangeEnd = &v
		}
	}

	required := map[string]bool{}
	for _, name := range requiredSupport {
		required[name] = true
	}
	if len(required) != len(supplied) {
		return derrors.New(derrors.CodeParamValue,
			"invalid support parameters for condition %q", def.ID.Key())
	}
	for name := range supplied {
		if !required[name] {
			return derrors.New(derrors.CodeParamValue,
				"invalid support parameters for condition %q", def.ID.Key())
		}
	}

	if rangeStart != nil && rangeEnd != nil && *rangeStart > *rangeEnd {
		return derrors.New(derrors.CodeParamValue,
			"range start exceeds range end for condition %q", def.ID.Key())
	}
	return nil
}

// coerce checks the runtime type of a supplied value against the declared
// type and returns its numeric form. JSON decoding yields float64 for all
// numbers, so int64 parameters additionally accept integral float64 values.
func coerce(id ID, decl Parameter, value any) (float64, error) {
	switch decl.Type {
	case Bool:
		if _, ok := value.(bool); !ok {
			return 0, derrors.New(derrors.CodeParamValue,
				"bool parameter expected for %q of condition %q", decl.Name, id.Key())
		}
		return 0, nil
	case Int64:
		switch v := value.(type) {
		case int:
			return float64(v), nil
		case int64:
			return float64(v), nil
		case float64:
			if v != float64(int64(v)) {
				return 0, derrors.New(derrors.CodeParamValue,
					"integer parameter expected for %q of condition %q", decl.Name, id.Key())
			}
			return v, nil
		default:
			return 0, derrors.New(derrors.CodeParamValue,
				"number parameter expected for %q of condition %q", decl.Name, id.Key())
		}
	default:
		switch v := value.(type) {
		case bool:
			// bool satisfies numeric interfaces in some callers; never here.
			return 0, derrors.New(derrors.CodeParamValue,
				"number parameter expected for %q of condition %q", decl.Name, id.Key())
		case int:
			return float64(v), nil
		case int64:
			return float64(v), nil
		case float64:
			return v, nil
		default:
			return 0, derrors.New(derrors.CodeParamValue,
				"number parameter expected for %q of condition %q", decl.Name, id.Key())
		}
	}
}

// applyDefaults appends hidden defaulted parameters the caller did not supply.
func applyDefaults(def Condition, params []ParamValue) []ParamValue {
	out := make([]ParamValue, len(params))
	copy(out, params)
	for _, decl := range def.Parameters {
		if decl.VisibleOnUI || !decl.HasDefault {
			continue
		}
		present := false
		for _, pv := range out {
			if pv.Name == decl.Name {
				present = true
				break
			}
		}
		if !present {
			out = append(out, ParamValue{Name: decl.Name, Value: decl.Default})
		}
	}
	return out
}
