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

// Package runtime implements the Tick Loop and Threshold Arbiter
// (spec.md §4.7): per-tick variable integration, modifier expiry,
// threshold-driven trait/modifier activation with exclusive-group
// specificity ranking, and the auto-tick scheduler. Grounded on the
// donor's reconciler worker loop shape (pkg/reconciler/workqueue): a
// fixed per-item unit of work run on a timer, with a start/stop pair
// guarding a single background goroutine.
package runtime

import (
	"fmt"
	"sync"

	"k8s.io/klog/v2"

	v1alpha1 "github.com/kcp-dev/entisim/pkg/apis/config/v1alpha1"
	"github.com/kcp-dev/entisim/pkg/cascade"
	"github.com/kcp-dev/entisim/pkg/condition"
	"github.com/kcp-dev/entisim/pkg/entity"
	"github.com/kcp-dev/entisim/pkg/events"
)

// Store is the subset of *config.Store the runtime needs.
type Store interface {
	Node(id string) (*v1alpha1.Node, bool)
	ThresholdModifiers() []*v1alpha1.Node
	ThresholdTraitsForVar(varID string) []*v1alpha1.Node
	ExclusiveGroup(id string) map[string]struct{}
	TickRateMS() int64
}

// Clock supplies host-monotonic milliseconds (spec.md §6 "Time").
type Clock func() int64

// Loop drives tick(entity, Δs) and the threshold arbiter for a single
// config store.
type Loop struct {
	store   Store
	cascade *cascade.Engine
	bus     *events.Bus
	clock   Clock

	mu          sync.Mutex
	autoStop    chan struct{}
	autoRunning bool
}

// New builds a Loop bound to a store, cascade engine, event bus and
// clock.
func New(store Store, cascadeEngine *cascade.Engine, bus *events.Bus, clock Clock) *Loop {
	return &Loop{store: store, cascade: cascadeEngine, bus: bus, clock: clock}
}

// Tick runs one tick against a single entity: timed-variable
// integration, modifier expiry, checkModifierThresholds, action
// cooldown decrement, and a final calculateDerived re-run (spec.md
// §4.7 "tick(entity, Δs)").
func (l *Loop) Tick(e *entity.Entity, deltaSeconds float64) {
	klog.Background().V(4).Info("ticking entity", "entityId", e.ID, "deltaSeconds", deltaSeconds)

	for varID, vs := range e.Variables {
		if vs.ChangeMode != v1alpha1.ChangeModeTimed || vs.Direction == v1alpha1.DirectionNone {
			continue
		}
		before := vs.Value
		next := vs.Value + vs.CurrentRate*deltaSeconds
		next = clamp(next, vs.Min, vs.Max)
		if next == before {
			continue
		}
		vs.Value = next
		l.checkThresholds(e, varID)
		l.emit(events.VariableChanged, events.Payload{"entityId": e.ID, "variableId": varID, "value": next})
	}

	l.expireModifiers(e)
	l.CheckModifierThresholds(e)

	for _, as := range e.Actions {
		as.CooldownRemaining -= deltaSeconds
		if as.CooldownRemaining < 0 {
			as.CooldownRemaining = 0
		}
	}

	e.Internal.LastTick = l.clock()
	l.cascade.Run(e)
	l.emit(events.Tick, events.Payload{"entityId": e.ID, "deltaSeconds": deltaSeconds})
}

func clamp(v, min, max float64) float64 {
	if max != 0 || min != 0 {
		if v < min {
			v = min
		}
		if v > max {
			v = max
		}
	}
	return v
}

// expireModifiers drops timed modifiers whose expiresAt has passed and
// decrements tick-counted modifiers, dropping those that reach zero.
func (l *Loop) expireModifiers(e *entity.Entity) {
	now := l.clock()
	var remaining []string
	for _, id := range e.Modifiers {
		state := e.ModifierStates[id]
		if state == nil {
			continue
		}
		if state.ExpiresAtMS != nil && *state.ExpiresAtMS <= now {
			delete(e.ModifierStates, id)
			e.LogEvent(fmt.Sprintf("modifier expired: %s", id))
			l.emit(events.ModifierRemoved, events.Payload{"entityId": e.ID, "modifierId": id})
			continue
		}
		if state.TicksRemaining != nil {
			*state.TicksRemaining--
			if *state.TicksRemaining <= 0 {
				delete(e.ModifierStates, id)
				e.LogEvent(fmt.Sprintf("modifier expired: %s", id))
				l.emit(events.ModifierRemoved, events.Payload{"entityId": e.ID, "modifierId": id})
				continue
			}
		}
		remaining = append(remaining, id)
	}
	e.Modifiers = remaining
}

// checkThresholds activates/deactivates threshold traits bound to
// varID, per spec.md §4.7 "checkThresholds (variable-level)".
func (l *Loop) checkThresholds(e *entity.Entity, varID string) {
	for _, t := range l.store.ThresholdTraitsForVar(varID) {
		active := e.HasTrait(t.ID)
		trigger := t.Trait.Selection.Trigger
		autoRemove := t.Trait.Selection.AutoRemove
		switch {
		case !active && trigger != nil && condition.Evaluate(trigger, e):
			l.activateThresholdTrait(e, t)
		case active && autoRemove != nil && condition.Evaluate(autoRemove, e):
			l.deactivateThresholdTrait(e, t)
		}
	}
}

func (l *Loop) activateThresholdTrait(e *entity.Entity, t *v1alpha1.Node) {
	layerState := e.Layers[t.Trait.LayerID]
	if layerState == nil {
		layerState = &entity.LayerState{}
		e.Layers[t.Trait.LayerID] = layerState
	}
	layerState.Active = append(layerState.Active, t.ID)
	e.LogEvent(fmt.Sprintf("threshold trait activated: %s", t.ID))
	l.emit(events.TraitActivated, events.Payload{"entityId": e.ID, "traitId": t.ID})
}

func (l *Loop) deactivateThresholdTrait(e *entity.Entity, t *v1alpha1.Node) {
	layerState := e.Layers[t.Trait.LayerID]
	if layerState == nil {
		return
	}
	for i, id := range layerState.Active {
		if id == t.ID {
			layerState.Active = append(layerState.Active[:i], layerState.Active[i+1:]...)
			break
		}
	}
	e.LogEvent(fmt.Sprintf("threshold trait deactivated: %s", t.ID))
	l.emit(events.TraitDeactivated, events.Payload{"entityId": e.ID, "traitId": t.ID})
}

func (l *Loop) emit(name events.Name, payload events.Payload) {
	if l.bus == nil {
		return
	}
	l.bus.Emit(name, payload)
}
