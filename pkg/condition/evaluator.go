/*
Copyright 2024 The KCP Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package condition evaluates the logical condition trees described in
// spec.md §4.2: explicit all/any/not trees, ordered lists with
// per-leaf AND/OR connectors, and the legacy logic='all'|'any' form.
package condition

import (
	v1alpha1 "github.com/kcp-dev/entisim/pkg/apis/config/v1alpha1"
	"github.com/kcp-dev/entisim/pkg/entity"
)

// Lookup pairs a node store with a flag for whether a derived value is
// a legal read target. Nothing in this module constructs one; the two
// read paths are the ValueForRelationship and ValueForCondition
// functions below.
type Lookup struct {
	Store interface {
		Node(id string) (*v1alpha1.Node, bool)
	}
	// IncludeDerived records whether entity.Derived is a legal read
	// target; no function in this package reads it.
	IncludeDerived bool
}

// ValueForRelationship resolves attribute -> variable.value -> context,
// the shape calculateRelationshipValue relies upon.
func ValueForRelationship(e *entity.Entity, id string) (interface{}, bool) {
	if v, ok := e.Attributes[id]; ok {
		return v, true
	}
	if v, ok := e.Variables[id]; ok {
		return v.Value, true
	}
	if v, ok := e.Contexts[id]; ok {
		return v, true
	}
	return nil, false
}

// ValueForCondition resolves attribute -> variable.value -> derived,
// the shape threshold checks rely upon (so thresholds can gate on a
// computed stat, not only a raw attribute/variable).
func ValueForCondition(e *entity.Entity, id string) (interface{}, bool) {
	if v, ok := e.Attributes[id]; ok {
		return v, true
	}
	if v, ok := e.Variables[id]; ok {
		return v.Value, true
	}
	if v, ok := e.Derived[id]; ok {
		return v, true
	}
	return nil, false
}

// IsActive reports membership for active/inactive operators, dispatched
// by the condition's declared type (or inferred from what the id
// resolves to when type is absent).
func IsActive(e *entity.Entity, condType v1alpha1.ConditionType, id string) bool {
	switch condType {
	case v1alpha1.CondTrait:
		return e.HasTrait(id)
	case v1alpha1.CondModifier:
		return e.HasModifier(id)
	case v1alpha1.CondCompound:
		return e.HasCompound(id)
	default:
		return e.HasTrait(id) || e.HasModifier(id) || e.HasCompound(id)
	}
}

// Evaluate evaluates a condition tree against an entity, using
// ValueForCondition for value lookups (the common case: eligibility,
// thresholds, compound requirements). Evaluate implements spec.md
// §4.2's three forms in priority order.
func Evaluate(c *v1alpha1.Condition, e *entity.Entity) bool {
	return evaluate(c, e, ValueForCondition)
}

// EvaluateWithLookup evaluates using a caller-supplied value resolver,
// for callers that need ValueForRelationship semantics instead.
func EvaluateWithLookup(c *v1alpha1.Condition, e *entity.Entity, lookup func(*entity.Entity, string) (interface{}, bool)) bool {
	return evaluate(c, e, lookup)
}

// EvaluateList folds a top-level ordered condition list (as found on
// ModifierTrigger.Conditions or CompoundPayload.Requires-as-conditions)
// using AND as the default top-level connector, per spec.md §4.2.
func EvaluateList(list []v1alpha1.Condition, logic string, e *entity.Entity) bool {
	return foldList(list, e, ValueForCondition, v1alpha1.ConnectorAND, logic)
}

func evaluate(c *v1alpha1.Condition, e *entity.Entity, lookup func(*entity.Entity, string) (interface{}, bool)) bool {
	if c == nil {
		return true
	}

	// Form 1: explicit boolean tree.
	if len(c.All) > 0 || len(c.Any) > 0 || c.Not != nil {
		if c.Not != nil {
			return !evaluate(c.Not, e, lookup)
		}
		if len(c.All) > 0 {
			for i := range c.All {
				if !evaluate(&c.All[i], e, lookup) {
					return false
				}
			}
			return true
		}
		for i := range c.Any {
			if evaluate(&c.Any[i], e, lookup) {
				return true
			}
		}
		return false
	}

	// A nested group folds its own conditions[] and participates as a
	// single leaf in the caller's fold.
	if c.Type == v1alpha1.CondGroup || (len(c.Conditions) > 0 && c.Type == "") {
		return foldList(c.Conditions, e, lookup, v1alpha1.ConnectorOR, c.Logic)
	}

	// Form 2/3: leaf.
	return evaluateLeaf(c, e, lookup)
}

// foldList evaluates the first leaf then folds the rest left to right
// using each leaf's own connector (defaultConnector when absent), or,
// for the legacy logic='all'|'any' form, as if every leaf carried
// AND/OR respectively.
func foldList(list []v1alpha1.Condition, e *entity.Entity, lookup func(*entity.Entity, string) (interface{}, bool), defaultConnector v1alpha1.Connector, legacyLogic string) bool {
	if len(list) == 0 {
		return true
	}
	if legacyLogic == string(v1alpha1.RequireAll) {
		defaultConnector = v1alpha1.ConnectorAND
	} else if legacyLogic == string(v1alpha1.RequireAny) {
		defaultConnector = v1alpha1.ConnectorOR
	}

	result := evaluate(&list[0], e, lookup)
	for i := 1; i < len(list); i++ {
		leaf := &list[i]
		val := evaluate(leaf, e, lookup)
		connector := leaf.Connector
		if connector == "" {
			connector = defaultConnector
		}
		if connector == v1alpha1.ConnectorOR {
			result = result || val
		} else {
			result = result && val
		}
	}
	return result
}

func evaluateLeaf(c *v1alpha1.Condition, e *entity.Entity, lookup func(*entity.Entity, string) (interface{}, bool)) bool {
	if c.Operator == "active" {
		return IsActive(e, c.Type, c.Target)
	}
	if c.Operator == "inactive" {
		return !IsActive(e, c.Type, c.Target)
	}

	left, ok := lookup(e, c.Target)
	if !ok {
		return c.Operator == "!="
	}
	return compare(left, c.Value, c.Operator)
}

// Compare exposes the leaf comparison operators ("<","<=",">",">=",
// "==","!=") for callers outside a condition tree, e.g. the Pool
// Manager's rule-based assignment scoring (spec.md §4.10).
func Compare(left, right interface{}, operator string) bool {
	return compare(left, right, operator)
}

func compare(left, right interface{}, operator string) bool {
	lf, lok := toFloat(left)
	rf, rok := toFloat(right)
	if lok && rok {
		switch operator {
		case "<":
			return lf < rf
		case "<=":
			return lf <= rf
		case ">":
			return lf > rf
		case ">=":
			return lf >= rf
		case "==":
			return lf == rf
		case "!=":
			return lf != rf
		}
		return false
	}
	switch operator {
	case "==":
		return left == right
	case "!=":
		return left != right
	}
	return false
}

func toFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	}
	return 0, false
}
