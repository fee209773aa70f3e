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

// Package spawn implements the Entity Spawner: ordered attribute/layer
// resolution, preset merge and trait resolution (spec.md §4.5, §4.6).
// The ordering pass is grounded on the donor's placement scheduler,
// which also resolves a declared ordering (location preference) before
// scoring candidates against it.
package spawn

import (
	"fmt"
	"math"
	"sort"

	"github.com/google/uuid"

	v1alpha1 "github.com/kcp-dev/entisim/pkg/apis/config/v1alpha1"
	"github.com/kcp-dev/entisim/pkg/cascade"
	"github.com/kcp-dev/entisim/pkg/condition"
	"github.com/kcp-dev/entisim/pkg/entity"
	"github.com/kcp-dev/entisim/pkg/selection"
)

// Store is the subset of *config.Store the Spawner needs.
type Store interface {
	Node(id string) (*v1alpha1.Node, bool)
	NodesByKind(kind v1alpha1.NodeKind) []*v1alpha1.Node
	Traits() []*v1alpha1.Node
	RelationshipsByTarget(id string) []*v1alpha1.Relationship
	Preset(id string) (*v1alpha1.Preset, bool)
}

// Spawner generates entities from a config store.
type Spawner struct {
	store   Store
	cascade *cascade.Engine
	rand    selection.Rand
	now     func() int64
}

// New builds a Spawner. now supplies the spawn timestamp (injected so
// callers control the clock, per spec.md §5 "guaranteeing determinism
// across hosts" being explicitly out of scope — but tests still want a
// fixed clock).
func New(store Store, cascadeEngine *cascade.Engine, rand selection.Rand, now func() int64) *Spawner {
	return &Spawner{store: store, cascade: cascadeEngine, rand: rand, now: now}
}

// orderedItem is one entry of the spawn-order sequence: either an
// attribute node or a layer node, sorted per spec.md §4.5 step 3.
type orderedItem struct {
	attribute *v1alpha1.Node
	layer     *v1alpha1.Node
	order     int
}

func (s *Spawner) spawnOrder() []orderedItem {
	var items []orderedItem
	for _, n := range s.store.NodesByKind(v1alpha1.KindAttribute) {
		items = append(items, orderedItem{attribute: n, order: n.Attribute.SpawnOrder})
	}
	for _, n := range s.store.NodesByKind(v1alpha1.KindLayer) {
		if n.Layer.Timing.RollAt != v1alpha1.RollAtSpawn && n.Layer.Timing.RollAt != v1alpha1.RollAtCreate {
			continue
		}
		items = append(items, orderedItem{layer: n, order: n.Layer.Order})
	}
	sort.SliceStable(items, func(i, j int) bool { return items[i].order < items[j].order })
	return items
}

// Overrides carries caller-supplied fixed values that win over any
// generated/preset value, keyed by node id (spec.md §4.5 step 5).
type Overrides struct {
	Attributes map[string]float64
	Contexts   map[string]interface{}
}

// Generate spawns a fresh entity honoring attribute/layer spawn order,
// value_modifier feedback from already-active traits, and any caller
// overrides (spec.md §4.5 steps 1-6).
func (s *Spawner) Generate(configID string, overrides Overrides) *entity.Entity {
	e := entity.New(uuid.NewString(), configID, s.now())
	s.initVariables(e)
	s.initContexts(e, overrides)
	s.initLayers(e)

	for _, item := range s.spawnOrder() {
		switch {
		case item.attribute != nil:
			s.rollAttribute(e, item.attribute, overrides)
		case item.layer != nil:
			s.rollLayer(e, item.layer)
		}
	}
	s.applyExtraOverrides(e, overrides)

	for id := range e.Actions {
		e.Actions[id].CooldownRemaining = 0
	}
	for _, n := range s.store.NodesByKind(v1alpha1.KindAction) {
		e.Actions[n.ID] = &entity.ActionState{}
	}

	s.cascade.Run(e)
	e.LogEvent("generated")
	return e
}

// GenerateFromPreset merges a preset's attribute/context specs and
// forceTraits/traits into overrides, generates, then force-activates
// the collected trait ids (spec.md §4.5 "Spawn from preset").
func (s *Spawner) GenerateFromPreset(configID, presetID string, overrides Overrides) (*entity.Entity, error) {
	preset, ok := s.store.Preset(presetID)
	if !ok {
		return nil, fmt.Errorf("spawn: unknown preset %q", presetID)
	}

	merged := Overrides{
		Attributes: map[string]float64{},
		Contexts:   map[string]interface{}{},
	}
	for id, spec := range preset.Attributes {
		merged.Attributes[id] = s.resolvePresetAttribute(spec)
	}
	for id, v := range overrides.Attributes {
		merged.Attributes[id] = v
	}
	for id, v := range preset.Contexts {
		merged.Contexts[id] = v
	}
	for id, v := range overrides.Contexts {
		merged.Contexts[id] = v
	}

	e := s.Generate(configID, merged)
	e.PresetID = presetID

	forced, err := s.ResolvePresetTraits(e, preset)
	if err != nil {
		return e, err
	}
	for _, t := range preset.ForceTraits {
		forced = append(forced, t)
	}
	s.cascade.BeginBatch()
	for _, traitID := range forced {
		n, ok := s.store.Node(traitID)
		if !ok || n.Trait == nil {
			continue
		}
		layer, ok := s.store.Node(n.Trait.LayerID)
		if !ok {
			continue
		}
		selection.Activate(s.store.(selection.Store), e, layer, n)
		s.cascade.Run(e)
	}
	s.cascade.EndBatch()
	return e, nil
}

// resolvePresetAttribute accepts the spec forms documented in spec.md
// §4.5: a bare number, {min,max}, {base,variance}, or {value}.
func (s *Spawner) resolvePresetAttribute(spec interface{}) float64 {
	switch v := spec.(type) {
	case float64:
		return v
	case map[string]interface{}:
		if val, ok := v["value"].(float64); ok {
			return val
		}
		if base, ok := v["base"].(float64); ok {
			variance, _ := v["variance"].(float64)
			return base + (s.rand()*2-1)*variance
		}
		if min, ok := v["min"].(float64); ok {
			max, _ := v["max"].(float64)
			return min + s.rand()*(max-min)
		}
	}
	return 0
}

func (s *Spawner) initVariables(e *entity.Entity) {
	for _, n := range s.store.NodesByKind(v1alpha1.KindVariable) {
		p := n.Variable
		initial := 0.0
		if p.Initial != nil {
			initial = *p.Initial
		}
		e.Variables[n.ID] = &entity.VarState{
			Value:       initial,
			BaseRate:    p.BaseRate,
			CurrentRate: p.BaseRate,
			Min:         p.Min,
			Max:         p.Max,
			ChangeMode:  p.ChangeMode,
			Direction:   p.Direction,
		}
	}
}

func (s *Spawner) initContexts(e *entity.Entity, overrides Overrides) {
	for _, n := range s.store.NodesByKind(v1alpha1.KindContext) {
		if v, ok := overrides.Contexts[n.ID]; ok {
			e.Contexts[n.ID] = v
			continue
		}
		e.Contexts[n.ID] = n.Context.Default
	}
	for id, v := range overrides.Contexts {
		if _, known := s.store.Node(id); !known {
			continue
		}
		e.Contexts[id] = v
	}
}

func (s *Spawner) initLayers(e *entity.Entity) {
	for _, n := range s.store.NodesByKind(v1alpha1.KindLayer) {
		e.Layers[n.ID] = &entity.LayerState{}
	}
}

// rollAttribute honors an override if present, else folds every
// active value_modifier relationship targeting this attribute into
// defaultRange/[min,max] before rolling uniformly at the declared
// precision (spec.md §4.5 step 4 "attribute").
func (s *Spawner) rollAttribute(e *entity.Entity, n *v1alpha1.Node, overrides Overrides) {
	if v, ok := overrides.Attributes[n.ID]; ok {
		e.Attributes[n.ID] = v
		return
	}

	p := n.Attribute
	var lo, hi float64
	if p.DefaultRange != nil {
		lo, hi = p.DefaultRange[0], p.DefaultRange[1]
	} else {
		lo, hi = p.Min, p.Max
	}

	for _, rel := range s.store.RelationshipsByTarget(n.ID) {
		if rel.Type != v1alpha1.RelValueModifier {
			continue
		}
		if !traitOrSourceActive(s.store, e, rel.SourceID) {
			continue
		}
		if !condition.EvaluateList(rel.Conditions, "", e) {
			continue
		}
		switch rel.Config.Operation {
		case v1alpha1.OpAdd:
			lo += rel.Config.Value
			hi += rel.Config.Value
		case v1alpha1.OpMultiply:
			lo *= rel.Config.Value
			hi *= rel.Config.Value
		case v1alpha1.OpSet:
			lo, hi = rel.Config.Value, rel.Config.Value
		}
	}

	val := lo + s.rand()*(hi-lo)
	e.Attributes[n.ID] = roundTo(val, p.Precision)
}

func roundTo(v float64, precision int) float64 {
	if precision <= 0 {
		return math.Round(v)
	}
	scale := math.Pow(10, float64(precision))
	return math.Round(v*scale) / scale
}

func traitOrSourceActive(store Store, e *entity.Entity, sourceID string) bool {
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

func (s *Spawner) rollLayer(e *entity.Entity, layer *v1alpha1.Node) {
	rolls := layer.Layer.Selection.InitialRolls
	ss, ok := s.store.(selection.Store)
	if !ok {
		return
	}
	for i := 0; i < rolls; i++ {
		node, err := selection.SelectWeighted(ss, e, layer, s.rand)
		if err != nil {
			continue
		}
		selection.Activate(ss, e, layer, node)
	}
}

func (s *Spawner) applyExtraOverrides(e *entity.Entity, overrides Overrides) {
	for id, v := range overrides.Attributes {
		if _, already := e.Attributes[id]; already {
			continue
		}
		if _, known := s.store.Node(id); !known {
			continue
		}
		e.Attributes[id] = v
	}
}
