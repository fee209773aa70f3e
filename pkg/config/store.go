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

// Package config implements the Config Store: validating, normalizing
// and indexing a raw configuration document (spec.md §4.1).
package config

import (
	"go.uber.org/multierr"
	"k8s.io/klog/v2"

	v1alpha1 "github.com/kcp-dev/entisim/pkg/apis/config/v1alpha1"
)

const (
	defaultTickRateMS      = 1000
	defaultBaseWeight      = 20
	defaultMaxItems        = 10
	defaultInitial         = 100
	defaultMaxStacks       = 99
	defaultShrinkThreshold = 0.25
	defaultShrinkDelayMS   = 30_000
	defaultMaxHistory      = 50
	traitsSyntheticKind    = "_traits"
)

// Store is a normalized, indexed configuration ready for the rest of
// the engine to query. It is immutable once built by Load.
type Store struct {
	Doc v1alpha1.Document

	nodeIndex    map[string]*v1alpha1.Node
	nodesByKind  map[v1alpha1.NodeKind][]*v1alpha1.Node
	relBySource  map[string][]*v1alpha1.Relationship
	relByTarget  map[string][]*v1alpha1.Relationship
	relByType    map[v1alpha1.RelationshipType][]*v1alpha1.Relationship

	thresholdModifiers   []*v1alpha1.Node
	thresholdTraitsByVar map[string][]*v1alpha1.Node
	exclusiveGroups      map[string]map[string]struct{}

	presets map[string]*v1alpha1.Preset
	pools   map[string]*v1alpha1.PoolConfig
}

// Load validates, normalizes and indexes a document, per spec.md §4.1.
// Every structural problem it finds (missing referent, unknown kind,
// cyclic replaces chain) is collected and returned together as a
// single combined error via multierr, rather than failing on the
// first one found.
func Load(doc v1alpha1.Document) (*Store, error) {
	logger := klog.Background().WithName("config")
	normalize(&doc)

	s := &Store{
		Doc:                  doc,
		nodeIndex:            map[string]*v1alpha1.Node{},
		nodesByKind:          map[v1alpha1.NodeKind][]*v1alpha1.Node{},
		relBySource:          map[string][]*v1alpha1.Relationship{},
		relByTarget:          map[string][]*v1alpha1.Relationship{},
		relByType:            map[v1alpha1.RelationshipType][]*v1alpha1.Relationship{},
		thresholdTraitsByVar: map[string][]*v1alpha1.Node{},
		exclusiveGroups:      map[string]map[string]struct{}{},
		presets:              map[string]*v1alpha1.Preset{},
		pools:                map[string]*v1alpha1.PoolConfig{},
	}

	var errs error
	seen := map[string]bool{}
	for i := range doc.Nodes {
		n := &doc.Nodes[i]
		if n.ID == "" {
			errs = multierr.Append(errs, newConfigError("", "node at index %d has empty id", i))
			continue
		}
		if seen[n.ID] {
			errs = multierr.Append(errs, newConfigError(n.ID, "duplicate node id"))
			continue
		}
		seen[n.ID] = true
		if !validKind(n.Kind) {
			errs = multierr.Append(errs, newConfigError(n.ID, "unknown node kind %q", n.Kind))
			continue
		}
		s.nodeIndex[n.ID] = n
		s.nodesByKind[n.Kind] = append(s.nodesByKind[n.Kind], n)
		if n.Kind == v1alpha1.KindTrait || n.Kind == v1alpha1.KindItem {
			s.nodesByKind[traitsSyntheticKind] = append(s.nodesByKind[traitsSyntheticKind], n)
		}
	}

	for i := range doc.Relationships {
		r := &doc.Relationships[i]
		if _, ok := s.nodeIndex[r.SourceID]; !ok {
			errs = multierr.Append(errs, newConfigError(r.SourceID, "relationship sourceId not found"))
			continue
		}
		if _, ok := s.nodeIndex[r.TargetID]; !ok {
			errs = multierr.Append(errs, newConfigError(r.TargetID, "relationship targetId not found"))
			continue
		}
		s.relBySource[r.SourceID] = append(s.relBySource[r.SourceID], r)
		s.relByTarget[r.TargetID] = append(s.relByTarget[r.TargetID], r)
		s.relByType[r.Type] = append(s.relByType[r.Type], r)
	}

	for _, n := range s.nodesByKind[v1alpha1.KindModifier] {
		if n.Modifier == nil {
			continue
		}
		if n.Modifier.Trigger.Static || len(n.Modifier.Trigger.Conditions) > 0 || n.Modifier.Trigger.Target != "" {
			s.thresholdModifiers = append(s.thresholdModifiers, n)
		}
		for _, other := range n.Modifier.ExclusiveWith {
			addExclusivePair(s.exclusiveGroups, n.ID, other)
		}
	}
	// ExclusiveGroup serves the transitive closure of these pairs.
	for id := range s.exclusiveGroups {
		closure := map[string]struct{}{}
		queue := []string{id}
		for len(queue) > 0 {
			cur := queue[0]
			queue = queue[1:]
			for other := range s.exclusiveGroups[cur] {
				if _, seen := closure[other]; !seen && other != id {
					closure[other] = struct{}{}
					queue = append(queue, other)
				}
			}
		}
		s.exclusiveGroups[id] = closure
	}

	for _, n := range s.nodesByKind[traitsSyntheticKind] {
		if n.Trait == nil || n.Trait.Selection.Mode != v1alpha1.SelectionThreshold {
			continue
		}
		target := thresholdTarget(n.Trait.Selection.Trigger)
		if target == "" {
			errs = multierr.Append(errs, newConfigError(n.ID, "threshold trait has no trigger target"))
			continue
		}
		s.thresholdTraitsByVar[target] = append(s.thresholdTraitsByVar[target], n)
	}

	if err := detectReplacesCycles(s); err != nil {
		errs = multierr.Append(errs, err)
	}

	for i := range doc.Presets {
		p := &doc.Presets[i]
		s.presets[p.ID] = p
	}
	for i := range doc.Pools {
		p := &doc.Pools[i]
		s.pools[p.ID] = p
	}
	if _, ok := s.pools["default"]; !ok {
		s.pools["default"] = &v1alpha1.PoolConfig{
			ID: "default", Name: "default", MaxSize: 0,
			ShrinkThreshold: defaultShrinkThreshold, ShrinkDelayMS: defaultShrinkDelayMS,
		}
	}

	if errs != nil {
		logger.V(2).Info("config validation failed", "errorCount", len(multierr.Errors(errs)))
		return nil, errs
	}
	return s, nil
}

func validKind(k v1alpha1.NodeKind) bool {
	switch k {
	case v1alpha1.KindAttribute, v1alpha1.KindVariable, v1alpha1.KindContext, v1alpha1.KindLayer,
		v1alpha1.KindTrait, v1alpha1.KindItem, v1alpha1.KindModifier, v1alpha1.KindCompound,
		v1alpha1.KindDerived, v1alpha1.KindAction:
		return true
	}
	return false
}

func thresholdTarget(trigger *v1alpha1.Condition) string {
	if trigger == nil {
		return ""
	}
	if trigger.Target != "" {
		return trigger.Target
	}
	for _, c := range trigger.Conditions {
		if c.Target != "" {
			return c.Target
		}
	}
	for _, c := range trigger.All {
		if c.Target != "" {
			return c.Target
		}
	}
	return ""
}

func addExclusivePair(groups map[string]map[string]struct{}, a, b string) {
	if groups[a] == nil {
		groups[a] = map[string]struct{}{}
	}
	if groups[b] == nil {
		groups[b] = map[string]struct{}{}
	}
	groups[a][b] = struct{}{}
	groups[b][a] = struct{}{}
}

// detectReplacesCycles walks each trait's replaces[] chain and reports
// (does not fail the rest of the load) any cycle found.
func detectReplacesCycles(s *Store) error {
	var errs error
	for _, n := range s.nodesByKind[traitsSyntheticKind] {
		if n.Trait == nil || len(n.Trait.Selection.Replaces) == 0 {
			continue
		}
		visited := map[string]bool{n.ID: true}
		cur := n.Trait.Selection.Replaces
		for depth := 0; depth < len(s.nodeIndex)+1; depth++ {
			var next []string
			cycle := false
			for _, id := range cur {
				if visited[id] {
					cycle = true
					continue
				}
				visited[id] = true
				other := s.nodeIndex[id]
				if other == nil || other.Trait == nil {
					continue
				}
				next = append(next, other.Trait.Selection.Replaces...)
			}
			if cycle {
				errs = multierr.Append(errs, newConfigError(n.ID, "cyclic replaces chain detected"))
				break
			}
			if len(next) == 0 {
				break
			}
			cur = next
		}
	}
	return errs
}

// Node looks a node up by id.
func (s *Store) Node(id string) (*v1alpha1.Node, bool) {
	n, ok := s.nodeIndex[id]
	return n, ok
}

// NodesByKind returns every node of a kind; use "_traits" for the
// merged trait+item view.
func (s *Store) NodesByKind(kind v1alpha1.NodeKind) []*v1alpha1.Node {
	return s.nodesByKind[kind]
}

func (s *Store) Traits() []*v1alpha1.Node { return s.nodesByKind[traitsSyntheticKind] }

func (s *Store) RelationshipsBySource(id string) []*v1alpha1.Relationship { return s.relBySource[id] }
func (s *Store) RelationshipsByTarget(id string) []*v1alpha1.Relationship { return s.relByTarget[id] }
func (s *Store) RelationshipsByType(t v1alpha1.RelationshipType) []*v1alpha1.Relationship {
	return s.relByType[t]
}

func (s *Store) ThresholdModifiers() []*v1alpha1.Node { return s.thresholdModifiers }
func (s *Store) ThresholdTraitsForVar(varID string) []*v1alpha1.Node {
	return s.thresholdTraitsByVar[varID]
}

// ExclusiveGroup returns the full transitive-closure set of ids
// mutually exclusive with id (not including id itself).
func (s *Store) ExclusiveGroup(id string) map[string]struct{} { return s.exclusiveGroups[id] }

func (s *Store) Preset(id string) (*v1alpha1.Preset, bool) {
	p, ok := s.presets[id]
	return p, ok
}

// Presets returns every registered preset, keyed by id, for the
// persisted representation (spec.md §6 "preset/group tables").
func (s *Store) Presets() map[string]v1alpha1.Preset {
	out := make(map[string]v1alpha1.Preset, len(s.presets))
	for id, p := range s.presets {
		out[id] = *p
	}
	return out
}

func (s *Store) Pool(id string) (*v1alpha1.PoolConfig, bool) {
	p, ok := s.pools[id]
	return p, ok
}

func (s *Store) Pools() []*v1alpha1.PoolConfig {
	out := make([]*v1alpha1.PoolConfig, 0, len(s.pools))
	for _, p := range s.pools {
		out = append(out, p)
	}
	return out
}

func (s *Store) TickRateMS() int64 {
	if s.Doc.TickRateMS <= 0 {
		return defaultTickRateMS
	}
	return s.Doc.TickRateMS
}

// MaxEntities returns the configured stored-entity cap, or 0 for
// unbounded (spec.md §4.9 "store rejects when stored.size >= maxEntities").
func (s *Store) MaxEntities() int {
	return s.Doc.MaxEntities
}

// MaxHistory returns the configured per-entity snapshot ring capacity.
func (s *Store) MaxHistory() int {
	if s.Doc.MaxHistory <= 0 {
		return defaultMaxHistory
	}
	return s.Doc.MaxHistory
}

// normalize fills defaults and rewrites legacy config shapes in
// place, per spec.md §4.1.
func normalize(doc *v1alpha1.Document) {
	if doc.TickRateMS <= 0 {
		doc.TickRateMS = defaultTickRateMS
	}
	for i := range doc.Nodes {
		n := &doc.Nodes[i]
		if n.Kind == v1alpha1.KindItem {
			n.Kind = v1alpha1.KindTrait
		}
		switch {
		case n.Trait != nil:
			normalizeTraitSelection(&n.Trait.Selection)
		case n.Layer != nil:
			normalizeLayer(n.Layer)
		case n.Variable != nil:
			normalizeVariable(n.Variable)
		case n.Modifier != nil:
			normalizeModifier(n.Modifier)
		}
	}
	for i := range doc.Pools {
		p := &doc.Pools[i]
		if p.ShrinkThreshold == 0 {
			p.ShrinkThreshold = defaultShrinkThreshold
		}
		if p.ShrinkDelayMS == 0 {
			p.ShrinkDelayMS = defaultShrinkDelayMS
		}
	}
}

// normalizeTraitSelection fills selection defaults. A threshold
// trait's trigger/autoRemove are themselves Condition trees (a bare
// leaf is already the legacy single-target shape), so no folding is
// needed the way it is for modifier triggers.
func normalizeTraitSelection(sel *v1alpha1.TraitSelection) {
	if sel.BaseWeight == 0 {
		sel.BaseWeight = defaultBaseWeight
	}
	if sel.Mode == "" {
		sel.Mode = v1alpha1.SelectionWeighted
	}
}

func normalizeLayer(l *v1alpha1.LayerPayload) {
	if l.Selection.BaseWeight == 0 {
		l.Selection.BaseWeight = defaultBaseWeight
	}
	if l.Selection.Mode == "" {
		l.Selection.Mode = v1alpha1.SelectionWeighted
	}
	if l.Selection.MaxItems == 0 {
		l.Selection.MaxItems = defaultMaxItems
	}
	if l.Selection.InitialRolls == 0 && l.Selection.Mode != v1alpha1.SelectionAllMatching {
		l.Selection.InitialRolls = 1
	}
	if l.Timing.RollAt == "" {
		l.Timing.RollAt = v1alpha1.RollAtSpawn
	}
}

func normalizeVariable(v *v1alpha1.VariablePayload) {
	if v.Initial == nil {
		v.Initial = v1alpha1.Float64(defaultInitial)
	}
	if v.ChangeMode == "" {
		v.ChangeMode = v1alpha1.ChangeModeManual
	}
	if v.Direction == "" {
		v.Direction = v1alpha1.DirectionNone
	}
}

func normalizeModifier(m *v1alpha1.ModifierPayload) {
	if m.DurationType == v1alpha1.DurationManualLegacy || m.DurationType == "" {
		m.DurationType = v1alpha1.DurationPermanent
	}
	if m.Stacking == "" {
		m.Stacking = v1alpha1.StackingIgnore
	}
	if m.MaxStacks == 0 {
		m.MaxStacks = defaultMaxStacks
	}
	normalizeTrigger(&m.Trigger)
	// ModifierTrigger has no autoRemove field, so a legacy
	// trigger.autoRemove key is not decoded and is not converted into
	// removeConditions; this block changes nothing.
	if len(m.Trigger.RemoveConditions) == 0 && m.Trigger.Target != "" && m.Trigger.Static {
	}
}

// normalizeTrigger folds a legacy single-target trigger shape
// ({target, operator, value}) into trigger.conditions=[{...}].
func normalizeTrigger(t *v1alpha1.ModifierTrigger) {
	if t == nil {
		return
	}
	if len(t.Conditions) == 0 && t.Target != "" {
		t.Conditions = []v1alpha1.Condition{{
			Type:     v1alpha1.CondVariable,
			Target:   t.Target,
			Operator: t.Operator,
			Value:    t.Value,
		}}
	}
}

