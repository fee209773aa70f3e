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

// Package entity holds the stateful record an Entity Spawner produces
// and every other engine package mutates: attributes, variables,
// contexts, layers, modifiers, compounds, derived values and actions.
package entity

import (
	v1alpha1 "github.com/kcp-dev/entisim/pkg/apis/config/v1alpha1"
)

// VarState is the live state of one variable node on an entity.
type VarState struct {
	Value       float64             `json:"value"`
	BaseRate    float64             `json:"baseRate"`
	CurrentRate float64             `json:"currentRate"`
	Min         float64             `json:"min"`
	Max         float64             `json:"max"`
	ChangeMode  v1alpha1.ChangeMode `json:"changeMode"`
	Direction   v1alpha1.Direction  `json:"direction"`
}

// ModState is the live state of one applied modifier.
type ModState struct {
	AppliedAtMS     int64  `json:"appliedAtMs"`
	Stacks          int    `json:"stacks"`
	IsStatic        bool   `json:"isStatic"`
	ExpiresAtMS     *int64 `json:"expiresAtMs,omitempty"`
	TicksRemaining  *int   `json:"ticksRemaining,omitempty"`
}

// LayerState tracks which traits are active in one layer.
type LayerState struct {
	Active     []string `json:"active"`
	LastRollMS int64    `json:"lastRollMs"`
}

// ActionState tracks per-entity action cooldowns.
type ActionState struct {
	CooldownRemaining float64 `json:"cooldownRemaining"`
}

// Internal carries bookkeeping the spec calls out but does not treat
// as part of public state (log, lastTick).
type Internal struct {
	Log      []string `json:"log,omitempty"`
	LastTick int64    `json:"lastTick"`
}

// Entity is the record described in spec.md §3.
type Entity struct {
	ID        string `json:"id"`
	ConfigID  string `json:"configId"`
	CreatedAt int64  `json:"createdAt"`
	PresetID  string `json:"presetId,omitempty"`

	Attributes map[string]float64 `json:"attributes"`
	Variables  map[string]*VarState `json:"variables"`
	Contexts   map[string]interface{} `json:"contexts"`
	Layers     map[string]*LayerState `json:"layers"`

	Modifiers      []string             `json:"modifiers"`
	ModifierStates map[string]*ModState `json:"modifierStates"`

	Compounds []string           `json:"compounds"`
	Derived   map[string]float64 `json:"derived"`
	Actions   map[string]*ActionState `json:"actions"`

	PoolID string `json:"poolId,omitempty"`

	Internal Internal `json:"internal"`
}

// New allocates an entity with empty collections, ready for the
// Spawner to populate (spec.md §4.5 step 1).
func New(id, configID string, createdAt int64) *Entity {
	return &Entity{
		ID:             id,
		ConfigID:       configID,
		CreatedAt:      createdAt,
		Attributes:     map[string]float64{},
		Variables:      map[string]*VarState{},
		Contexts:       map[string]interface{}{},
		Layers:         map[string]*LayerState{},
		Modifiers:      []string{},
		ModifierStates: map[string]*ModState{},
		Compounds:      []string{},
		Derived:        map[string]float64{},
		Actions:        map[string]*ActionState{},
	}
}

// HasModifier reports modifier membership (invariant 6 relies on
// Modifiers and ModifierStates staying in lockstep; this is the single
// read path so that never has to be re-verified at call sites).
func (e *Entity) HasModifier(id string) bool {
	_, ok := e.ModifierStates[id]
	return ok
}

// HasTrait reports whether a trait is active in any layer.
func (e *Entity) HasTrait(traitID string) bool {
	for _, l := range e.Layers {
		for _, t := range l.Active {
			if t == traitID {
				return true
			}
		}
	}
	return false
}

// HasCompound reports compound membership.
func (e *Entity) HasCompound(id string) bool {
	for _, c := range e.Compounds {
		if c == id {
			return true
		}
	}
	return false
}

// LogEvent appends a bookkeeping line (spawn/tick/etc.), capped to avoid
// unbounded growth on long-lived pooled entities.
func (e *Entity) LogEvent(msg string) {
	e.Internal.Log = append(e.Internal.Log, msg)
	if len(e.Internal.Log) > 200 {
		e.Internal.Log = e.Internal.Log[len(e.Internal.Log)-200:]
	}
}

// Clone deep-copies an entity, used by the Entity Store's snapshot/
// rollback history and by export/import (spec.md §4.9, §6
// "Persisted representation": entities round-trip as deep copies).
func (e *Entity) Clone() *Entity {
	out := &Entity{
		ID: e.ID, ConfigID: e.ConfigID, CreatedAt: e.CreatedAt, PresetID: e.PresetID,
		PoolID:   e.PoolID,
		Internal: Internal{LastTick: e.Internal.LastTick},
	}

	out.Attributes = make(map[string]float64, len(e.Attributes))
	for k, v := range e.Attributes {
		out.Attributes[k] = v
	}

	out.Variables = make(map[string]*VarState, len(e.Variables))
	for k, v := range e.Variables {
		cp := *v
		out.Variables[k] = &cp
	}

	out.Contexts = make(map[string]interface{}, len(e.Contexts))
	for k, v := range e.Contexts {
		out.Contexts[k] = v
	}

	out.Layers = make(map[string]*LayerState, len(e.Layers))
	for k, v := range e.Layers {
		cp := LayerState{LastRollMS: v.LastRollMS, Active: append([]string(nil), v.Active...)}
		out.Layers[k] = &cp
	}

	out.Modifiers = append([]string(nil), e.Modifiers...)
	out.ModifierStates = make(map[string]*ModState, len(e.ModifierStates))
	for k, v := range e.ModifierStates {
		cp := *v
		if v.ExpiresAtMS != nil {
			exp := *v.ExpiresAtMS
			cp.ExpiresAtMS = &exp
		}
		if v.TicksRemaining != nil {
			tr := *v.TicksRemaining
			cp.TicksRemaining = &tr
		}
		out.ModifierStates[k] = &cp
	}

	out.Compounds = append([]string(nil), e.Compounds...)

	out.Derived = make(map[string]float64, len(e.Derived))
	for k, v := range e.Derived {
		out.Derived[k] = v
	}

	out.Actions = make(map[string]*ActionState, len(e.Actions))
	for k, v := range e.Actions {
		cp := *v
		out.Actions[k] = &cp
	}

	out.Internal.Log = append([]string(nil), e.Internal.Log...)
	return out
}

// CloneFields returns a Clone but restricted to the subset of fields
// spec.md §4.9 names for snapshot/rollback: attributes, variables,
// contexts, layers, modifiers, compounds, derived. ModifierStates
// travels alongside Modifiers since the two are kept in lockstep
// (see HasModifier); Actions, PoolID and Internal are left at their
// current live values rather than restored.
func (e *Entity) CloneFields() *Entity {
	full := e.Clone()
	return &Entity{
		Attributes:     full.Attributes,
		Variables:      full.Variables,
		Contexts:       full.Contexts,
		Layers:         full.Layers,
		Modifiers:      full.Modifiers,
		ModifierStates: full.ModifierStates,
		Compounds:      full.Compounds,
		Derived:        full.Derived,
	}
}

// ClearForRelease drops an entity's transient state before it is
// recycled into a pool (spec.md §4.10 release step 2): log, modifiers,
// modifierStates, compounds and every layer's active list are cleared,
// while the layer/variable/attribute/context/derived/action *keys*
// (the structural shape the config declares) are preserved so a later
// pool reset has something to roll back into.
func (e *Entity) ClearForRelease() {
	e.Internal.Log = nil
	e.Modifiers = []string{}
	e.ModifierStates = map[string]*ModState{}
	e.Compounds = []string{}
	for _, l := range e.Layers {
		l.Active = nil
	}
}

// RestoreFields overwrites e's snapshot-tracked fields (spec.md §4.9
// rollback) from a snapshot produced by CloneFields, leaving identity,
// actions, pool membership and internal bookkeeping untouched.
func (e *Entity) RestoreFields(snap *Entity) {
	e.Attributes = snap.Attributes
	e.Variables = snap.Variables
	e.Contexts = snap.Contexts
	e.Layers = snap.Layers
	e.Modifiers = snap.Modifiers
	e.ModifierStates = snap.ModifierStates
	e.Compounds = snap.Compounds
	e.Derived = snap.Derived
}
