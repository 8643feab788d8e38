// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/AleutianAI/tensorwatch/services/debugger/condition"
	"github.com/AleutianAI/tensorwatch/services/debugger/datatypes"
)

func describeTarget(t condition.TargetType) string {
	if t == condition.TargetParameter {
		return "parameter"
	}
	return "tensor"
}

func describeKind(k condition.ParamKind) string {
	if k == condition.KindCheck {
		return "check"
	}
	return "support"
}

func describeCondition(def condition.Condition) datatypes.ConditionDescription {
	desc := datatypes.ConditionDescription{
		ID:     def.ID.Key(),
		Code:   int(def.ID),
		Abbr:   def.Abbr,
		Target: describeTarget(def.Target),
	}
	for _, p := range def.Parameters {
		pd := datatypes.ParameterDescriptor{
			Name:         p.Name,
			Type:         p.Type.String(),
			Kind:         describeKind(p.Kind),
			VisibleOnUI:  p.VisibleOnUI,
			RequiredWith: p.RequiredWith,
		}
		if p.HasDefault {
			pd.Default = p.Default
		}
		desc.Parameters = append(desc.Parameters, pd)
	}
	return desc
}

// ListConditions returns the watch condition catalog.
func ListConditions() gin.HandlerFunc {
	catalog := make([]datatypes.ConditionDescription, 0)
	for _, def := range condition.All() {
		catalog = append(catalog, describeCondition(def))
	}
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"conditions": catalog})
	}
}
