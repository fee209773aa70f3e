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

package runtime

import (
	"fmt"

	v1alpha1 "github.com/kcp-dev/entisim/pkg/apis/config/v1alpha1"
	"github.com/kcp-dev/entisim/pkg/entity"
	"github.com/kcp-dev/entisim/pkg/events"
)

// ApplyModifier is the external Modifiers.applyModifier operation
// (spec.md §6): applies modId to e outside of the threshold arbiter's
// own automatic apply, honoring exclusiveWith, stacking and the
// modifier's own durationType/duration. Returns false if modId is not
// a modifier node.
func (l *Loop) ApplyModifier(e *entity.Entity, modID string) bool {
	n, ok := l.store.Node(modID)
	if !ok || n.Modifier == nil {
		return false
	}

	for _, exID := range n.Modifier.ExclusiveWith {
		if e.HasModifier(exID) {
			l.removeModifierByID(e, exID)
		}
	}

	if state, active := e.ModifierStates[modID]; active {
		switch n.Modifier.Stacking {
		case v1alpha1.StackingIgnore:
			return true
		case v1alpha1.StackingStack:
			if n.Modifier.MaxStacks <= 0 || state.Stacks < n.Modifier.MaxStacks {
				state.Stacks++
			}
			l.setModifierDuration(state, n.Modifier)
		default: // refresh, and the empty-string legacy default
			state.AppliedAtMS = l.clock()
			l.setModifierDuration(state, n.Modifier)
		}
		l.cascade.Run(e)
		l.emit(events.ModifierApplied, events.Payload{"entityId": e.ID, "modifierId": modID})
		return true
	}

	state := &entity.ModState{AppliedAtMS: l.clock(), Stacks: 1}
	l.setModifierDuration(state, n.Modifier)
	e.Modifiers = append(e.Modifiers, modID)
	e.ModifierStates[modID] = state
	e.LogEvent(fmt.Sprintf("modifier applied: %s", modID))
	l.cascade.Run(e)
	l.emit(events.ModifierApplied, events.Payload{"entityId": e.ID, "modifierId": modID})
	return true
}

// setModifierDuration computes expiresAtMs/ticksRemaining from the
// modifier's declared durationType (spec.md §3 "ModState"); permanent,
// triggered and the legacy 'manual' type all leave both unset.
func (l *Loop) setModifierDuration(state *entity.ModState, m *v1alpha1.ModifierPayload) {
	state.ExpiresAtMS = nil
	state.TicksRemaining = nil
	switch m.DurationType {
	case v1alpha1.DurationTimed:
		exp := l.clock() + int64(m.Duration*1000)
		state.ExpiresAtMS = &exp
	case v1alpha1.DurationTicks:
		ticks := int(m.Duration)
		state.TicksRemaining = &ticks
	}
}

// RemoveModifier is the external Modifiers.removeModifier operation.
// Returns false if modId is not currently active on e.
func (l *Loop) RemoveModifier(e *entity.Entity, modID string) bool {
	if !e.HasModifier(modID) {
		return false
	}
	l.removeModifierByID(e, modID)
	return true
}

func (l *Loop) removeModifierByID(e *entity.Entity, modID string) {
	for i, id := range e.Modifiers {
		if id == modID {
			e.Modifiers = append(e.Modifiers[:i], e.Modifiers[i+1:]...)
			break
		}
	}
	delete(e.ModifierStates, modID)
	e.LogEvent(fmt.Sprintf("modifier removed: %s", modID))
	l.cascade.Run(e)
	l.emit(events.ModifierRemoved, events.Payload{"entityId": e.ID, "modifierId": modID})
}

// ModifyVariable is the external Variables.modifyVariable operation
// (spec.md §6): adds delta to varId's current value, clamped to
// [min,max], then re-evaluates its threshold traits. Returns false if
// varId is unknown on e.
func (l *Loop) ModifyVariable(e *entity.Entity, varID string, delta float64) bool {
	vs, ok := e.Variables[varID]
	if !ok {
		return false
	}
	return l.setVariableValue(e, varID, vs, vs.Value+delta)
}

// SetVariable is the external Variables.setVariable operation: pins
// varId to an absolute value, clamped, with the same threshold
// re-evaluation as ModifyVariable.
func (l *Loop) SetVariable(e *entity.Entity, varID string, value float64) bool {
	vs, ok := e.Variables[varID]
	if !ok {
		return false
	}
	return l.setVariableValue(e, varID, vs, value)
}

func (l *Loop) setVariableValue(e *entity.Entity, varID string, vs *entity.VarState, next float64) bool {
	next = clamp(next, vs.Min, vs.Max)
	vs.Value = next
	l.checkThresholds(e, varID)
	l.CheckModifierThresholds(e)
	l.cascade.Run(e)
	l.emit(events.VariableChanged, events.Payload{"entityId": e.ID, "variableId": varID, "value": next})
	return true
}
