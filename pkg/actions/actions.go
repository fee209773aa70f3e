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

// Package actions implements the Actions operation group (spec.md
// §6): availability checks, weighted selection among eligible actions,
// and execution (cost deduction, cooldown start). Select follows the
// Selection Core's weighted-draw shape (pkg/selection) with its own
// cumulative-weight draw loop; nothing from pkg/selection is imported.
package actions

import (
	"errors"
	"fmt"
	"sort"

	v1alpha1 "github.com/kcp-dev/entisim/pkg/apis/config/v1alpha1"
	"github.com/kcp-dev/entisim/pkg/cascade"
	"github.com/kcp-dev/entisim/pkg/condition"
	"github.com/kcp-dev/entisim/pkg/entity"
	"github.com/kcp-dev/entisim/pkg/events"
)

// ErrNotAvailable is returned by Execute when actionId fails its own
// availability check at execution time.
var ErrNotAvailable = errors.New("actions: action not available")

// ErrUnknownAction is returned when actionId does not name an action node.
var ErrUnknownAction = errors.New("actions: unknown action")

// Store is the subset of *config.Store the Actions group needs.
type Store interface {
	Node(id string) (*v1alpha1.Node, bool)
	NodesByKind(kind v1alpha1.NodeKind) []*v1alpha1.Node
}

// Rand produces a uniform float in [0,1), matching selection.Rand so
// callers can share one generator across both packages.
type Rand func() float64

// Manager implements the Actions operation group against one config
// store.
type Manager struct {
	store   Store
	cascade *cascade.Engine
	bus     *events.Bus
	clock   func() int64
	rand    Rand
}

// New builds an actions.Manager.
func New(store Store, cascadeEngine *cascade.Engine, bus *events.Bus, clock func() int64, rand Rand) *Manager {
	return &Manager{store: store, cascade: cascadeEngine, bus: bus, clock: clock, rand: rand}
}

// IsAvailable is the external isActionAvailable operation.
func (m *Manager) IsAvailable(e *entity.Entity, actionID string) bool {
	n, ok := m.store.Node(actionID)
	if !ok || n.Action == nil {
		return false
	}
	return available(e, e.Actions[actionID], n.Action)
}

// GetAvailable is the external getAvailableActions operation, returning
// every currently-eligible action id in id order.
func (m *Manager) GetAvailable(e *entity.Entity) []string {
	var out []string
	for _, n := range m.orderedActionNodes() {
		if available(e, e.Actions[n.ID], n.Action) {
			out = append(out, n.ID)
		}
	}
	return out
}

// Select is the external selectAction operation: one weighted draw
// (by baseWeight) over the currently-available action set.
func (m *Manager) Select(e *entity.Entity) (string, bool) {
	candidates := m.orderedActionNodes()

	total := 0.0
	var eligible []*v1alpha1.Node
	for _, n := range candidates {
		if !available(e, e.Actions[n.ID], n.Action) {
			continue
		}
		eligible = append(eligible, n)
		total += n.Action.BaseWeight
	}
	if total <= 0 {
		return "", false
	}

	draw := m.rand() * total
	cumulative := 0.0
	for _, n := range eligible {
		cumulative += n.Action.BaseWeight
		if draw < cumulative {
			return n.ID, true
		}
	}
	return eligible[len(eligible)-1].ID, true
}

// Execute is the external executeAction operation: re-checks
// availability, deducts costs from the matching variables, starts the
// action's cooldown, runs the cascade and returns the action's
// (opaque, config-declared) effects payload for the caller to apply.
func (m *Manager) Execute(e *entity.Entity, actionID string) (interface{}, error) {
	n, ok := m.store.Node(actionID)
	if !ok || n.Action == nil {
		return nil, fmt.Errorf("%w: %q", ErrUnknownAction, actionID)
	}
	as := e.Actions[actionID]
	if !available(e, as, n.Action) {
		return nil, fmt.Errorf("%w: %q", ErrNotAvailable, actionID)
	}

	for varID, amount := range n.Action.Costs {
		vs, ok := e.Variables[varID]
		if !ok {
			continue
		}
		vs.Value = clampVar(vs.Value-amount, vs.Min, vs.Max)
	}

	if as == nil {
		as = &entity.ActionState{}
		e.Actions[actionID] = as
	}
	as.CooldownRemaining = n.Action.Cooldown

	e.LogEvent(fmt.Sprintf("action executed: %s", actionID))
	m.cascade.Run(e)
	return n.Action.Effects, nil
}

// GetCooldown is the external getActionCooldown operation.
func (m *Manager) GetCooldown(e *entity.Entity, actionID string) float64 {
	if as, ok := e.Actions[actionID]; ok {
		return as.CooldownRemaining
	}
	return 0
}

func (m *Manager) orderedActionNodes() []*v1alpha1.Node {
	nodes := m.store.NodesByKind(v1alpha1.KindAction)
	sort.Slice(nodes, func(i, j int) bool { return nodes[i].ID < nodes[j].ID })
	return nodes
}

func available(e *entity.Entity, as *entity.ActionState, a *v1alpha1.ActionPayload) bool {
	if as != nil && as.CooldownRemaining > 0 {
		return false
	}
	for varID, amount := range a.Costs {
		vs, ok := e.Variables[varID]
		if !ok {
			continue
		}
		if !condition.Compare(vs.Value, amount, ">=") {
			return false
		}
	}
	for i := range a.BlockedBy {
		if condition.Evaluate(&a.BlockedBy[i], e) {
			return false
		}
	}
	for i := range a.Requirements {
		if !condition.Evaluate(&a.Requirements[i], e) {
			return false
		}
	}
	for i := range a.Eligibility {
		if !condition.Evaluate(&a.Eligibility[i], e) {
			return false
		}
	}
	return true
}

func clampVar(v, min, max float64) float64 {
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
