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

// Package cascade implements the Cascade Engine: the
// recalculateRates -> checkCompounds -> calculateDerived triple run
// against one entity after every mutation, plus the batching wrapper
// that coalesces multiple cascade-worthy writes into a single triple
// (spec.md §4.4). The shape is grounded on the donor's
// pkg/reconciler/committer status-commit pattern: compute the desired
// state from current inputs, diff it against what's already recorded,
// and only emit a change notification where the diff is non-empty.
package cascade

import (
	"fmt"

	"github.com/google/go-cmp/cmp"
	"k8s.io/klog/v2"

	v1alpha1 "github.com/kcp-dev/entisim/pkg/apis/config/v1alpha1"
	"github.com/kcp-dev/entisim/pkg/condition"
	"github.com/kcp-dev/entisim/pkg/entity"
	"github.com/kcp-dev/entisim/pkg/events"
	"github.com/kcp-dev/entisim/pkg/formula"
)

// Store is the subset of *config.Store the cascade triple needs.
// Expressed as an interface to avoid an import cycle with pkg/config.
type Store interface {
	Node(id string) (*v1alpha1.Node, bool)
	NodesByKind(kind v1alpha1.NodeKind) []*v1alpha1.Node
	RelationshipsByTarget(id string) []*v1alpha1.Relationship
}

// Engine runs the cascade triple for a Config Store, batching
// multi-write operations behind a dirty flag (spec.md §4.4
// "Batching").
type Engine struct {
	store    Store
	formulas *formula.Cache
	bus      *events.Bus

	batching bool
	dirty    map[string]*entity.Entity
}

// New builds a cascade Engine bound to a loaded config store, its
// compiled formula cache, and the event bus mutations should emit on.
func New(store Store, formulas *formula.Cache, bus *events.Bus) *Engine {
	return &Engine{store: store, formulas: formulas, bus: bus, dirty: map[string]*entity.Entity{}}
}

// BeginBatch sets the batchingCascade flag; subsequent Run calls mark
// the entity dirty and defer instead of running the triple inline.
// Idempotent with respect to nesting: the flag stays set until
// EndBatch regardless of how many BeginBatch calls occurred, matching
// spec.md's single boolean flag (no nesting counter is specced).
func (eng *Engine) BeginBatch() {
	eng.batching = true
}

// EndBatch clears batchingCascade and, if any entity was marked dirty
// during the batch, runs the triple on each exactly once.
func (eng *Engine) EndBatch() {
	eng.batching = false
	if len(eng.dirty) == 0 {
		return
	}
	pending := eng.dirty
	eng.dirty = map[string]*entity.Entity{}
	for _, e := range pending {
		eng.runTriple(e)
	}
}

// Run is the single entry point every mutation should call after it
// finishes its primitive writes. Under batching it marks the entity
// dirty and returns; otherwise it runs recalculateRates -> checkCompounds
// -> calculateDerived immediately.
func (eng *Engine) Run(e *entity.Entity) {
	if eng.batching {
		eng.dirty[e.ID] = e
		return
	}
	eng.runTriple(e)
}

func (eng *Engine) runTriple(e *entity.Entity) {
	eng.recalculateRates(e)
	eng.checkCompounds(e)
	eng.calculateDerived(e)
}

// recalculateRates resets every variable's currentRate to baseRate,
// then folds every active, condition-passing rate_modifier relationship
// targeting it (spec.md §4.4 step 1).
func (eng *Engine) recalculateRates(e *entity.Entity) {
	for varID, vs := range e.Variables {
		rate := vs.BaseRate
		for _, rel := range eng.store.RelationshipsByTarget(varID) {
			if rel.Type != v1alpha1.RelRateModifier {
				continue
			}
			if !sourceActive(eng.store, e, rel.SourceID) {
				continue
			}
			if !condition.EvaluateList(rel.Conditions, "", e) {
				continue
			}
			rate = applyOperation(rate, rel.Config.Operation, rel.Config.Value)
		}
		vs.CurrentRate = rate
	}
}

// checkCompounds evaluates every compound's requires[] against current
// membership and appends/splices on transition, emitting
// compoundActivated/compoundDeactivated (spec.md §4.4 step 2).
func (eng *Engine) checkCompounds(e *entity.Entity) {
	for _, n := range eng.store.NodesByKind(v1alpha1.KindCompound) {
		if n.Compound == nil {
			continue
		}
		satisfied := requirementsSatisfied(e, n.Compound)
		active := e.HasCompound(n.ID)
		switch {
		case satisfied && !active:
			e.Compounds = append(e.Compounds, n.ID)
			e.LogEvent(fmt.Sprintf("compound activated: %s", n.ID))
			eng.emit(events.CompoundActivated, events.Payload{"entityId": e.ID, "compoundId": n.ID})
		case !satisfied && active:
			for i, id := range e.Compounds {
				if id == n.ID {
					e.Compounds = append(e.Compounds[:i], e.Compounds[i+1:]...)
					break
				}
			}
			e.LogEvent(fmt.Sprintf("compound deactivated: %s", n.ID))
			eng.emit(events.CompoundDeactivated, events.Payload{"entityId": e.ID, "compoundId": n.ID})
		}
	}
}

func requirementsSatisfied(e *entity.Entity, c *v1alpha1.CompoundPayload) bool {
	if len(c.Requires) == 0 {
		return false
	}
	requireAll := c.RequirementLogic != v1alpha1.RequireAny
	for _, req := range c.Requires {
		ok := requirementMet(e, &req)
		if requireAll && !ok {
			return false
		}
		if !requireAll && ok {
			return true
		}
	}
	return requireAll
}

func requirementMet(e *entity.Entity, req *v1alpha1.Requirement) bool {
	if req.Condition != nil {
		return condition.Evaluate(req.Condition, e)
	}
	if req.Operator == "" {
		// bare id reference: true if the referenced trait/modifier/compound
		// is active, or the referenced variable/attribute is non-zero.
		if e.HasTrait(req.ID) || e.HasModifier(req.ID) || e.HasCompound(req.ID) {
			return true
		}
		v, ok := condition.ValueForCondition(e, req.ID)
		if !ok {
			return false
		}
		f, ok := v.(float64)
		return ok && f != 0
	}
	c := v1alpha1.Condition{Type: inferConditionType(e, req.ID), Target: req.ID, Operator: req.Operator, Value: req.Value}
	return condition.Evaluate(&c, e)
}

func inferConditionType(e *entity.Entity, id string) v1alpha1.ConditionType {
	if _, ok := e.Attributes[id]; ok {
		return v1alpha1.CondAttribute
	}
	if _, ok := e.Variables[id]; ok {
		return v1alpha1.CondVariable
	}
	return v1alpha1.CondVariable
}

// calculateDerived evaluates every derived node's formula against a
// context of attributes+variable values+contexts, clamps to [min,max],
// and writes 0 on evaluation failure (spec.md §4.4 step 3).
func (eng *Engine) calculateDerived(e *entity.Entity) {
	for _, n := range eng.store.NodesByKind(v1alpha1.KindDerived) {
		if n.Derived == nil {
			continue
		}
		vars := formulaContext(e)
		val, err := eng.formulas.Eval(n.Derived.Formula, vars)
		if err != nil {
			klog.Background().V(3).Info("derived formula failed, writing zero", "derived", n.ID, "err", err)
			val = 0
		} else if n.Derived.Min != 0 || n.Derived.Max != 0 {
			// min==max==0 means the config declared no clamp range; a
			// genuine [0,0] range isn't expressible, matching the rest
			// of this schema's zero-value-means-absent convention.
			if val < n.Derived.Min {
				val = n.Derived.Min
			}
			if val > n.Derived.Max {
				val = n.Derived.Max
			}
		}
		e.Derived[n.ID] = val
	}
}

// formulaContext builds the {...attributes, ...variableValues,
// ...contexts} activation map a derived formula evaluates against.
func formulaContext(e *entity.Entity) map[string]interface{} {
	vars := make(map[string]interface{}, len(e.Attributes)+len(e.Variables)+len(e.Contexts))
	for k, v := range e.Attributes {
		vars[k] = v
	}
	for k, vs := range e.Variables {
		vars[k] = vs.Value
	}
	for k, v := range e.Contexts {
		vars[k] = v
	}
	return vars
}

func sourceActive(store Store, e *entity.Entity, sourceID string) bool {
	n, ok := store.Node(sourceID)
	if !ok {
		return false
	}
	switch n.Kind {
	case v1alpha1.KindTrait, v1alpha1.KindItem:
		return e.HasTrait(sourceID)
	case v1alpha1.KindModifier:
		return e.HasModifier(sourceID)
	case v1alpha1.KindCompound:
		return e.HasCompound(sourceID)
	default:
		return true
	}
}

func applyOperation(current float64, op v1alpha1.Operation, value float64) float64 {
	switch op {
	case v1alpha1.OpAdd:
		return current + value
	case v1alpha1.OpMultiply:
		return current * value
	case v1alpha1.OpSet:
		return value
	default:
		return current
	}
}

func (eng *Engine) emit(name events.Name, payload events.Payload) {
	if eng.bus == nil {
		return
	}
	eng.bus.Emit(name, payload)
}

// Diff reports a human-readable go-cmp diff between two entity
// derived-value maps. Nothing else in this module calls it. Grounded on
// the donor's status committer using go-cmp to compute the patch it
// logs before writing.
func Diff(before, after map[string]float64) string {
	return cmp.Diff(before, after)
}
