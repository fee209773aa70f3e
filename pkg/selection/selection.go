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

// Package selection implements the Selection Core: weighted/pickN/
// allMatching/firstMatch/threshold draws from a layer's trait pool,
// including eligibility, incompatibility and weight-influence
// application (spec.md §4.3).
package selection

import (
	"errors"
	"fmt"
	"math"

	"k8s.io/klog/v2"

	v1alpha1 "github.com/kcp-dev/entisim/pkg/apis/config/v1alpha1"
	"github.com/kcp-dev/entisim/pkg/condition"
	"github.com/kcp-dev/entisim/pkg/entity"
)

// ErrNoEligibleTraits is returned (not a fatal error, spec.md §7) when
// a weighted draw's candidate pool sums to zero total weight.
var ErrNoEligibleTraits = errors.New("selection: no eligible traits")

// Store is the subset of *config.Store the Selection Core needs.
// Expressed as an interface to avoid an import cycle with pkg/config.
type Store interface {
	Node(id string) (*v1alpha1.Node, bool)
	Traits() []*v1alpha1.Node
	RelationshipsByTarget(id string) []*v1alpha1.Relationship
}

// Rand produces a uniform float in [0,1); injected so tests and
// callers needing determinism can seed it (spec.md §6 Randomness).
type Rand func() float64

// Candidate is a trait scored for selection.
type Candidate struct {
	Node   *v1alpha1.Node
	Weight float64
}

// BuildPool returns every trait in layerID eligible for a fresh draw:
// not already active, not threshold-mode, eligibility passing, and
// not incompatible with the currently active set (spec.md §4.3 step 1).
func BuildPool(store Store, e *entity.Entity, layer *v1alpha1.Node) []*v1alpha1.Node {
	layerState := e.Layers[layer.ID]
	active := map[string]bool{}
	if layerState != nil {
		for _, id := range layerState.Active {
			active[id] = true
		}
	}

	var pool []*v1alpha1.Node
	for _, t := range store.Traits() {
		if t.Trait == nil || t.Trait.LayerID != layer.ID {
			continue
		}
		if active[t.ID] {
			continue
		}
		if t.Trait.Selection.Mode == v1alpha1.SelectionThreshold {
			continue
		}
		if !eligible(store, e, t) {
			continue
		}
		if incompatible(t, active) {
			continue
		}
		pool = append(pool, t)
	}
	return pool
}

func eligible(store Store, e *entity.Entity, t *v1alpha1.Node) bool {
	for i := range t.Trait.Eligibility {
		if !condition.Evaluate(&t.Trait.Eligibility[i], e) {
			return false
		}
	}
	return true
}

func incompatible(t *v1alpha1.Node, active map[string]bool) bool {
	for _, other := range t.Trait.IncompatibleWith {
		if active[other] {
			return true
		}
	}
	return false
}

// Weight computes a candidate's effective draw weight: baseWeight,
// folded through selection.weightModifiers, then every active
// weight_influence relationship targeting it, then clamped to the
// layer's weightFloor (spec.md §4.3 steps 2-4).
func Weight(store Store, e *entity.Entity, layer *v1alpha1.Node, t *v1alpha1.Node) float64 {
	base := t.Trait.Selection.BaseWeight
	w := base

	for _, wm := range t.Trait.Selection.WeightModifiers {
		if !condition.Evaluate(&wm.Condition, e) {
			continue
		}
		switch wm.Operation {
		case v1alpha1.OpAdd:
			w += wm.Value
		case v1alpha1.OpMultiply:
			w *= wm.Value
		}
	}

	for _, rel := range store.RelationshipsByTarget(t.ID) {
		if rel.Type != v1alpha1.RelWeightInfluence {
			continue
		}
		if !relationshipSourceActive(store, e, rel.SourceID) {
			continue
		}
		if !relationshipConditionsPass(e, rel.Conditions) {
			continue
		}
		delta := scaledValue(store, e, rel)
		switch rel.Config.Operation {
		case v1alpha1.OpAdd:
			if layer.Layer.DiminishingReturns {
				sign := 1.0
				if delta < 0 {
					sign = -1.0
				}
				delta = sign * math.Sqrt(math.Abs(delta)) * math.Sqrt(base)
			}
			w += delta
		case v1alpha1.OpMultiply:
			w *= delta
		case v1alpha1.OpSet:
			w = delta
		}
	}

	floor := 0.0
	if layer.Layer.Selection.WeightFloor != nil {
		floor = *layer.Layer.Selection.WeightFloor
	}
	if w < floor {
		w = floor
	}
	return w
}

func relationshipSourceActive(store Store, e *entity.Entity, sourceID string) bool {
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

func relationshipConditionsPass(e *entity.Entity, conditions []v1alpha1.Condition) bool {
	return condition.EvaluateList(conditions, "", e)
}

// scaledValue applies relationship config.scaling to config.value,
// reading the source node's current value via the "relationship"
// getNodeValue variant (attribute -> variable.value -> context).
// perPoint+invert scales by (max - value) using the source node's own
// declared max (spec.md §4.3 "perPoint scaling").
func scaledValue(store Store, e *entity.Entity, rel *v1alpha1.Relationship) float64 {
	v := rel.Config.Value
	if rel.Config.Scaling != v1alpha1.ScalingPerPoint {
		return v
	}
	sourceID := rel.Config.PerPointSource
	if sourceID == "" {
		sourceID = rel.SourceID
	}
	raw, ok := condition.ValueForRelationship(e, sourceID)
	if !ok {
		return v
	}
	sourceVal, ok := raw.(float64)
	if !ok {
		return v
	}
	if !rel.Config.Invert {
		return v * sourceVal
	}
	max := sourceMax(store, sourceID)
	return v * (max - sourceVal)
}

func sourceMax(store Store, id string) float64 {
	n, ok := store.Node(id)
	if !ok {
		return 0
	}
	switch {
	case n.Attribute != nil:
		return n.Attribute.Max
	case n.Variable != nil:
		return n.Variable.Max
	}
	return 0
}

// orderedCandidates returns pool entries sorted by the order they
// first appeared in the config's trait list, so tie-breaks in the
// weighted draw favor earliest insertion (spec.md §4.3 step 5).
func orderedCandidates(store Store, pool []*v1alpha1.Node, e *entity.Entity, layer *v1alpha1.Node) []Candidate {
	out := make([]Candidate, 0, len(pool))
	for _, t := range pool {
		out = append(out, Candidate{Node: t, Weight: Weight(store, e, layer, t)})
	}
	return out
}

// SelectWeighted performs one weighted draw over the layer's eligible
// pool (spec.md §4.3 steps 1-6).
func SelectWeighted(store Store, e *entity.Entity, layer *v1alpha1.Node, rng Rand) (*v1alpha1.Node, error) {
	pool := BuildPool(store, e, layer)
	candidates := orderedCandidates(store, pool, e, layer)
	node, err := drawOne(candidates, rng)
	if err != nil {
		logSelectionFailure(layer.ID, err)
	}
	return node, err
}

func drawOne(candidates []Candidate, rng Rand) (*v1alpha1.Node, error) {
	total := 0.0
	for _, c := range candidates {
		total += c.Weight
	}
	if total <= 0 {
		return nil, ErrNoEligibleTraits
	}
	draw := rng() * total
	cumulative := 0.0
	for _, c := range candidates {
		cumulative += c.Weight
		if draw < cumulative {
			return c.Node, nil
		}
	}
	return candidates[len(candidates)-1].Node, nil
}

// SelectAllMatching selects every eligible, compatible, inactive trait.
func SelectAllMatching(store Store, e *entity.Entity, layer *v1alpha1.Node) []*v1alpha1.Node {
	return BuildPool(store, e, layer)
}

// SelectPickN performs n weighted draws without replacement,
// reweighting the remaining pool each iteration (spec.md §4.3 pickN).
func SelectPickN(store Store, e *entity.Entity, layer *v1alpha1.Node, n int, rng Rand) ([]*v1alpha1.Node, error) {
	var picked []*v1alpha1.Node
	working := e
	for i := 0; i < n; i++ {
		node, err := SelectWeighted(store, working, layer, rng)
		if err != nil {
			if errors.Is(err, ErrNoEligibleTraits) {
				break
			}
			return picked, err
		}
		picked = append(picked, node)
		Activate(store, working, layer, node)
	}
	return picked, nil
}

// SelectFirstMatch returns the first trait in config declaration order
// passing eligibility/compatibility.
func SelectFirstMatch(store Store, e *entity.Entity, layer *v1alpha1.Node) (*v1alpha1.Node, bool) {
	pool := BuildPool(store, e, layer) // already in config declaration order
	if len(pool) == 0 {
		return nil, false
	}
	return pool[0], true
}

// Activate appends traitID to the layer's active list after first
// deactivating everything it replaces (spec.md §4.3 "Activation").
func Activate(store Store, e *entity.Entity, layer *v1alpha1.Node, trait *v1alpha1.Node) {
	layerState := e.Layers[layer.ID]
	if layerState == nil {
		layerState = &entity.LayerState{}
		e.Layers[layer.ID] = layerState
	}
	for _, replaced := range trait.Trait.Selection.Replaces {
		Deactivate(e, layer.ID, replaced)
	}
	for _, id := range layerState.Active {
		if id == trait.ID {
			return
		}
	}
	layerState.Active = append(layerState.Active, trait.ID)
	e.LogEvent(fmt.Sprintf("trait activated: %s", trait.ID))
}

// Deactivate removes a trait id from a layer's active list, if present.
func Deactivate(e *entity.Entity, layerID, traitID string) {
	layerState := e.Layers[layerID]
	if layerState == nil {
		return
	}
	for i, id := range layerState.Active {
		if id == traitID {
			layerState.Active = append(layerState.Active[:i], layerState.Active[i+1:]...)
			e.LogEvent(fmt.Sprintf("trait deactivated: %s", traitID))
			return
		}
	}
}

// Weights returns the scored candidate pool for getWeights/
// previewInfluences query support (spec.md §6).
func Weights(store Store, e *entity.Entity, layer *v1alpha1.Node) []Candidate {
	pool := BuildPool(store, e, layer)
	return orderedCandidates(store, pool, e, layer)
}

func logSelectionFailure(layerID string, err error) {
	klog.Background().V(3).Info("selection failed", "layer", layerID, "err", err)
}
