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
	"github.com/kcp-dev/entisim/pkg/condition"
	"github.com/kcp-dev/entisim/pkg/entity"
	"github.com/kcp-dev/entisim/pkg/events"
)

// CheckModifierThresholds runs the entity-wide static-modifier arbiter
// (spec.md §4.7 "checkModifierThresholds"): resolve every mutual-
// exclusion group's winner, then apply/remove every threshold modifier
// per its group verdict (or its own trigger/removeConditions when it
// belongs to no group), flushing the cascade batch once at the end.
func (l *Loop) CheckModifierThresholds(e *entity.Entity) {
	l.cascade.BeginBatch()
	defer l.cascade.EndBatch()

	winners := l.resolveExclusiveGroups(e)

	for _, m := range l.store.ThresholdModifiers() {
		if group := l.store.ExclusiveGroup(m.ID); len(group) > 0 {
			l.applyGroupVerdict(e, m, winners[m.ID])
			continue
		}
		l.applyIndependentVerdict(e, m)
	}
}

// resolveExclusiveGroups computes, for every threshold modifier that
// belongs to an exclusivity group, whether it is the group's winner
// (spec.md §4.7 step 1).
func (l *Loop) resolveExclusiveGroups(e *entity.Entity) map[string]bool {
	winners := map[string]bool{}
	visited := map[string]bool{}

	for _, m := range l.store.ThresholdModifiers() {
		if visited[m.ID] {
			continue
		}
		group := l.store.ExclusiveGroup(m.ID)
		if len(group) == 0 {
			continue
		}

		members := []string{m.ID}
		seen := map[string]bool{m.ID: true}
		for _, n := range l.store.ThresholdModifiers() {
			if _, ok := group[n.ID]; ok && !seen[n.ID] {
				members = append(members, n.ID)
				seen[n.ID] = true
			}
		}
		for id := range group {
			if !seen[id] {
				members = append(members, id)
			}
		}
		for _, id := range members {
			visited[id] = true
		}

		var qualifying []*v1alpha1.Node
		for _, id := range members {
			n, ok := l.store.Node(id)
			if !ok || n.Modifier == nil {
				continue
			}
			if triggerPasses(n.Modifier.Trigger, e) {
				qualifying = append(qualifying, n)
			}
		}

		switch len(qualifying) {
		case 0:
			// all lose.
		case 1:
			winners[qualifying[0].ID] = true
		default:
			if winner := mostSpecific(qualifying); winner != nil {
				winners[winner.ID] = true
			}
		}
	}
	return winners
}

func triggerPasses(trigger v1alpha1.ModifierTrigger, e *entity.Entity) bool {
	if trigger.Static {
		return true
	}
	return condition.EvaluateList(trigger.Conditions, trigger.Logic, e)
}

// mostSpecific implements spec.md §4.7 "Specificity ranking": when
// every qualifying candidate has a single-leaf trigger on the same
// target variable, the tightest bound wins; otherwise config
// declaration order (first in the qualifying slice, which preserves
// ThresholdModifiers' declaration order) wins.
func mostSpecific(qualifying []*v1alpha1.Node) *v1alpha1.Node {
	ops, ok := singleLeafSameTarget(qualifying)
	if !ok {
		return qualifying[0]
	}

	if allOpsIn(ops, "<", "<=") {
		return extremeBy(qualifying, func(a, b float64) bool { return a < b })
	}
	if allOpsIn(ops, ">", ">=") {
		return extremeBy(qualifying, func(a, b float64) bool { return a > b })
	}
	return qualifying[0]
}

func singleLeafSameTarget(qualifying []*v1alpha1.Node) ([]string, bool) {
	var target string
	ops := make([]string, 0, len(qualifying))
	for i, n := range qualifying {
		conds := n.Modifier.Trigger.Conditions
		if len(conds) != 1 {
			return nil, false
		}
		leaf := conds[0]
		if leaf.Target == "" {
			return nil, false
		}
		if i == 0 {
			target = leaf.Target
		} else if leaf.Target != target {
			return nil, false
		}
		ops = append(ops, leaf.Operator)
	}
	return ops, true
}

func allOpsIn(ops []string, allowed ...string) bool {
	set := map[string]bool{}
	for _, a := range allowed {
		set[a] = true
	}
	for _, op := range ops {
		if !set[op] {
			return false
		}
	}
	return true
}

func extremeBy(qualifying []*v1alpha1.Node, better func(a, b float64) bool) *v1alpha1.Node {
	winner := qualifying[0]
	winnerVal := toFloatOrZero(winner.Modifier.Trigger.Conditions[0].Value)
	for _, n := range qualifying[1:] {
		val := toFloatOrZero(n.Modifier.Trigger.Conditions[0].Value)
		if better(val, winnerVal) {
			winner = n
			winnerVal = val
		}
	}
	return winner
}

func toFloatOrZero(v interface{}) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case int:
		return float64(n)
	}
	return 0
}

func (l *Loop) applyGroupVerdict(e *entity.Entity, m *v1alpha1.Node, won bool) {
	active := e.HasModifier(m.ID)
	switch {
	case won && !active:
		l.applyStaticModifier(e, m)
	case !won && active:
		l.removeStaticModifier(e, m)
	}
}

func (l *Loop) applyIndependentVerdict(e *entity.Entity, m *v1alpha1.Node) {
	active := e.HasModifier(m.ID)
	trigger := m.Modifier.Trigger
	switch {
	case !active && triggerPasses(trigger, e):
		l.applyStaticModifier(e, m)
	case active && e.ModifierStates[m.ID].IsStatic && removeConditionsPass(trigger, e):
		l.removeStaticModifier(e, m)
	}
}

// removeConditionsPass implements the explicit-removeConditions-or-
// implicit-inverse-trigger rule from spec.md §4.7 step 2.
func removeConditionsPass(trigger v1alpha1.ModifierTrigger, e *entity.Entity) bool {
	if len(trigger.RemoveConditions) > 0 {
		return condition.EvaluateList(trigger.RemoveConditions, trigger.RemoveLogic, e)
	}
	return !triggerPasses(trigger, e)
}

func (l *Loop) applyStaticModifier(e *entity.Entity, m *v1alpha1.Node) {
	e.Modifiers = append(e.Modifiers, m.ID)
	e.ModifierStates[m.ID] = &entity.ModState{AppliedAtMS: l.clock(), IsStatic: true}
	e.LogEvent(fmt.Sprintf("modifier applied: %s", m.ID))
	l.cascade.Run(e)
	l.emit(events.ModifierApplied, events.Payload{"entityId": e.ID, "modifierId": m.ID})
}

func (l *Loop) removeStaticModifier(e *entity.Entity, m *v1alpha1.Node) {
	for i, id := range e.Modifiers {
		if id == m.ID {
			e.Modifiers = append(e.Modifiers[:i], e.Modifiers[i+1:]...)
			break
		}
	}
	delete(e.ModifierStates, m.ID)
	e.LogEvent(fmt.Sprintf("modifier removed: %s", m.ID))
	l.cascade.Run(e)
	l.emit(events.ModifierRemoved, events.Payload{"entityId": e.ID, "modifierId": m.ID})
}
