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

// Package engine wires every other package into the two top-level
// facades spec.md §6 describes: EntityManager (config, generation,
// runtime, variables, traits, modifiers, actions, query, storage and
// groups) and PoolManager (pool lifecycle, wrapping an EntityManager
// for acquire/release). Kept as two independent managers rather than
// one combined facade, mirroring the donor's pkg/placement and
// pkg/policy being separately constructed, independently usable
// managers rather than a single god-object.
package engine

import (
	"fmt"
	"sort"

	v1alpha1 "github.com/kcp-dev/entisim/pkg/apis/config/v1alpha1"
	"github.com/kcp-dev/entisim/pkg/actions"
	"github.com/kcp-dev/entisim/pkg/cascade"
	"github.com/kcp-dev/entisim/pkg/config"
	"github.com/kcp-dev/entisim/pkg/entity"
	"github.com/kcp-dev/entisim/pkg/events"
	"github.com/kcp-dev/entisim/pkg/formula"
	"github.com/kcp-dev/entisim/pkg/health"
	"github.com/kcp-dev/entisim/pkg/metrics"
	"github.com/kcp-dev/entisim/pkg/runtime"
	"github.com/kcp-dev/entisim/pkg/selection"
	"github.com/kcp-dev/entisim/pkg/spawn"
	"github.com/kcp-dev/entisim/pkg/store"
)

// EntityManager is the loaded-config facade: one config.Store plus
// every stateless/stateful package built on top of it for a single
// population of entities.
type EntityManager struct {
	configID string

	cfg     *config.Store
	cascade *cascade.Engine
	spawner *spawn.Spawner
	loop    *runtime.Loop
	store   *store.Store
	bus     *events.Bus
	metrics *metrics.Registry
	actions *actions.Manager
	health  health.Aggregator

	rand  func() float64
	clock func() int64
}

// New loads doc (spec.md §6 Config.loadConfig) and builds every
// dependent package: the formula cache (one compiled cel.Program per
// distinct derived-node formula, environment declared over every
// attribute/variable/context/derived id), the cascade engine, the
// spawner, the tick loop, the entity store, the actions manager and a
// health aggregator wired to the store's occupancy.
func New(configID string, doc v1alpha1.Document, rand func() float64, clock func() int64, metricsEnabled bool) (*EntityManager, error) {
	cfg, err := config.Load(doc)
	if err != nil {
		return nil, fmt.Errorf("engine: loading config: %w", err)
	}

	bus := events.New()
	reg := metrics.NewRegistry(metricsEnabled)

	cache, err := formula.NewCache(formulaIdentifiers(cfg))
	if err != nil {
		return nil, fmt.Errorf("engine: building formula cache: %w", err)
	}

	cascadeEngine := cascade.New(cfg, cache, bus)
	sp := spawn.New(cfg, cascadeEngine, selection.Rand(rand), clock)
	loop := runtime.New(cfg, cascadeEngine, bus, runtime.Clock(clock))
	st := store.New(cfg, cascadeEngine, bus, store.Clock(clock))
	am := actions.New(cfg, cascadeEngine, bus, clock, actions.Rand(rand))

	agg := health.NewAggregator(health.DefaultConfiguration())
	agg.AddChecker(health.StoreChecker(func() (int, int) { return st.Size(), cfg.MaxEntities() }))

	return &EntityManager{
		configID: configID,
		cfg:      cfg,
		cascade:  cascadeEngine,
		spawner:  sp,
		loop:     loop,
		store:    st,
		bus:      bus,
		metrics:  reg,
		actions:  am,
		health:   agg,
		rand:     rand,
		clock:    clock,
	}, nil
}

// formulaIdentifiers collects every node id a derived formula might
// reference: attributes, variables, contexts and other derived nodes.
func formulaIdentifiers(cfg *config.Store) []string {
	var ids []string
	for _, kind := range []v1alpha1.NodeKind{
		v1alpha1.KindAttribute, v1alpha1.KindVariable, v1alpha1.KindContext, v1alpha1.KindDerived,
	} {
		for _, n := range cfg.NodesByKind(kind) {
			ids = append(ids, n.ID)
		}
	}
	return ids
}

// Bus exposes the manager's event bus for external subscribers.
func (em *EntityManager) Bus() *events.Bus { return em.bus }

// Metrics exposes the manager's metrics registry (e.g. for a /metrics handler).
func (em *EntityManager) Metrics() *metrics.Registry { return em.metrics }

// Health exposes the manager's health aggregator.
func (em *EntityManager) Health() health.Aggregator { return em.health }

// ---- Generation ----

// Generate is the external generate(overrides?) operation: a raw,
// unmanaged entity the caller may Store separately.
func (em *EntityManager) Generate(overrides spawn.Overrides) *entity.Entity {
	return em.spawner.Generate(em.configID, overrides)
}

// Spawn is the external spawn(presetId?, overrides?) operation:
// generates (from a preset when presetID is non-empty) and immediately
// stores and activates the result.
func (em *EntityManager) Spawn(presetID string, overrides spawn.Overrides) (*entity.Entity, error) {
	var e *entity.Entity
	var err error
	if presetID != "" {
		e, err = em.spawner.GenerateFromPreset(em.configID, presetID, overrides)
		if err != nil {
			return nil, err
		}
	} else {
		e = em.spawner.Generate(em.configID, overrides)
	}
	em.store.Store(e)
	em.store.Activate(e.ID)
	em.metrics.IncSpawned()
	return e, nil
}

// SpawnWhere is the external spawnWhere(query, overrides?) operation:
// spawns (optionally from presetID) until query accepts a result or
// maxAttempts is exhausted, discarding every rejected attempt. A
// nil/zero maxAttempts defaults to 100 (spec.md leaves the retry bound
// unspecified; this default documented in DESIGN.md).
func (em *EntityManager) SpawnWhere(presetID string, overrides spawn.Overrides, query func(*entity.Entity) bool, maxAttempts int) (*entity.Entity, error) {
	if maxAttempts <= 0 {
		maxAttempts = 100
	}
	for i := 0; i < maxAttempts; i++ {
		e, err := em.Spawn(presetID, overrides)
		if err != nil {
			return nil, err
		}
		if query == nil || query(e) {
			return e, nil
		}
		em.store.Deactivate(e.ID)
		em.store.Remove(e.ID)
	}
	return nil, fmt.Errorf("engine: spawnWhere exhausted %d attempts without matching query", maxAttempts)
}

// ---- Runtime ----

// Tick is the external tick(id, Δs?) operation.
func (em *EntityManager) Tick(id string, deltaSeconds float64) bool {
	e, ok := em.store.Get(id)
	if !ok {
		return false
	}
	em.loop.Tick(e, deltaSeconds)
	em.metrics.IncTick()
	return true
}

// TickAll is the external tickAll(Δs?) operation: ticks every active entity.
func (em *EntityManager) TickAll(deltaSeconds float64) {
	for _, e := range em.store.Active() {
		em.loop.Tick(e, deltaSeconds)
		em.metrics.IncTick()
	}
}

// StartAutoTick is the external startAutoTick(rate?) operation.
func (em *EntityManager) StartAutoTick(rateMS int64) {
	if rateMS <= 0 {
		rateMS = em.cfg.TickRateMS()
	}
	em.loop.StartAutoTick(rateMS, func(deltaSeconds float64) { em.TickAll(deltaSeconds) })
}

// StopAutoTick is the external stopAutoTick() operation.
func (em *EntityManager) StopAutoTick() { em.loop.StopAutoTick() }

// ---- Variables ----

// ModifyVariable is the external modifyVariable(id, varId, Δ) operation.
func (em *EntityManager) ModifyVariable(id, varID string, delta float64) bool {
	e, ok := em.store.Get(id)
	if !ok {
		return false
	}
	return em.loop.ModifyVariable(e, varID, delta)
}

// SetVariable is the external setVariable(id, varId, v) operation.
func (em *EntityManager) SetVariable(id, varID string, value float64) bool {
	e, ok := em.store.Get(id)
	if !ok {
		return false
	}
	return em.loop.SetVariable(e, varID, value)
}

// ---- Traits ----

// ActivateTrait is the external activateTrait(id, traitId) operation:
// a direct, non-rolled activation (e.g. for scripted/debug use), still
// honoring "replaces" but bypassing eligibility/weight scoring.
func (em *EntityManager) ActivateTrait(id, traitID string) bool {
	e, ok := em.store.Get(id)
	if !ok {
		return false
	}
	n, ok := em.cfg.Node(traitID)
	if !ok || n.Trait == nil {
		return false
	}
	layer, ok := em.cfg.Node(n.Trait.LayerID)
	if !ok {
		return false
	}
	selection.Activate(em.cfg, e, layer, n)
	em.cascade.Run(e)
	return true
}

// DeactivateTrait is the external deactivateTrait(id, traitId) operation.
func (em *EntityManager) DeactivateTrait(id, traitID string) bool {
	e, ok := em.store.Get(id)
	if !ok {
		return false
	}
	n, ok := em.cfg.Node(traitID)
	if !ok || n.Trait == nil {
		return false
	}
	selection.Deactivate(e, n.Trait.LayerID, traitID)
	em.cascade.Run(e)
	return true
}

// RollLayer is the external rollLayer(entity, layerId) operation.
func (em *EntityManager) RollLayer(id, layerID string) error {
	e, ok := em.store.Get(id)
	if !ok {
		return fmt.Errorf("engine: unknown entity %q", id)
	}
	return em.spawner.RollLayer(e, layerID)
}

// RollOutcome is the external rollOutcome(entity, layerId, n=1) operation.
func (em *EntityManager) RollOutcome(id, layerID string, n int) ([]string, error) {
	e, ok := em.store.Get(id)
	if !ok {
		return nil, fmt.Errorf("engine: unknown entity %q", id)
	}
	return em.spawner.RollOutcome(e, layerID, n)
}

// ---- Modifiers ----

// ApplyModifier is the external applyModifier(id, modId, cfg?) operation.
func (em *EntityManager) ApplyModifier(id, modID string) bool {
	e, ok := em.store.Get(id)
	if !ok {
		return false
	}
	return em.loop.ApplyModifier(e, modID)
}

// RemoveModifier is the external removeModifier(id, modId) operation.
func (em *EntityManager) RemoveModifier(id, modID string) bool {
	e, ok := em.store.Get(id)
	if !ok {
		return false
	}
	return em.loop.RemoveModifier(e, modID)
}

// ---- Actions ----

// IsActionAvailable is the external isActionAvailable(entity, actionId) operation.
func (em *EntityManager) IsActionAvailable(id, actionID string) bool {
	e, ok := em.store.Get(id)
	if !ok {
		return false
	}
	return em.actions.IsAvailable(e, actionID)
}

// GetAvailableActions is the external getAvailableActions(entity) operation.
func (em *EntityManager) GetAvailableActions(id string) []string {
	e, ok := em.store.Get(id)
	if !ok {
		return nil
	}
	return em.actions.GetAvailable(e)
}

// SelectAction is the external selectAction(entity) operation.
func (em *EntityManager) SelectAction(id string) (string, bool) {
	e, ok := em.store.Get(id)
	if !ok {
		return "", false
	}
	return em.actions.Select(e)
}

// ExecuteAction is the external executeAction(entity, actionId) operation.
func (em *EntityManager) ExecuteAction(id, actionID string) (interface{}, error) {
	e, ok := em.store.Get(id)
	if !ok {
		return nil, fmt.Errorf("engine: unknown entity %q", id)
	}
	return em.actions.Execute(e, actionID)
}

// GetActionCooldown is the external getActionCooldown(entity, actionId) operation.
func (em *EntityManager) GetActionCooldown(id, actionID string) float64 {
	e, ok := em.store.Get(id)
	if !ok {
		return 0
	}
	return em.actions.GetCooldown(e, actionID)
}

// ---- Query ----

// GetState is the external getState(id) operation.
func (em *EntityManager) GetState(id string) (*entity.Entity, bool) {
	return em.store.Get(id)
}

// Query is the external query(filter) operation.
func (em *EntityManager) Query(filter func(*entity.Entity) bool) []*entity.Entity {
	return em.store.Query(filter)
}

// GetWeights is the external getWeights(entity, layerId) operation.
func (em *EntityManager) GetWeights(id, layerID string) ([]selection.Candidate, error) {
	e, ok := em.store.Get(id)
	if !ok {
		return nil, fmt.Errorf("engine: unknown entity %q", id)
	}
	n, ok := em.cfg.Node(layerID)
	if !ok || n.Layer == nil {
		return nil, fmt.Errorf("engine: unknown layer %q", layerID)
	}
	return selection.Weights(em.cfg, e, n), nil
}

// Influence is one relationship's declarative effect on a node,
// returned (without entity context) by PreviewInfluences.
type Influence struct {
	SourceID string
	Type     v1alpha1.RelationshipType
	Config   v1alpha1.RelationshipConfig
}

// PreviewInfluences is the external previewInfluences(nodeId)
// operation: every relationship declared against nodeId, in source-id
// order, independent of any entity's live state.
func (em *EntityManager) PreviewInfluences(nodeID string) []Influence {
	rels := em.cfg.RelationshipsByTarget(nodeID)
	out := make([]Influence, 0, len(rels))
	for _, r := range rels {
		out = append(out, Influence{SourceID: r.SourceID, Type: r.Type, Config: r.Config})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SourceID < out[j].SourceID })
	return out
}

// ---- Storage ----

// StoreEntity is the external store(entity) operation.
func (em *EntityManager) StoreEntity(e *entity.Entity) bool { return em.store.Store(e) }

// ActivateEntity is the external activate(id) operation.
func (em *EntityManager) ActivateEntity(id string) bool { return em.store.Activate(id) }

// DeactivateEntity is the external deactivate(id) operation.
func (em *EntityManager) DeactivateEntity(id string) bool { return em.store.Deactivate(id) }

// RemoveEntity is the external remove(id) operation.
func (em *EntityManager) RemoveEntity(id string) bool { return em.store.Remove(id) }

// TakeSnapshot is the external snapshot(id) operation.
func (em *EntityManager) TakeSnapshot(id string) bool { return em.store.Snapshot(id) }

// Rollback is the external rollback(id, atMs) operation.
func (em *EntityManager) Rollback(id string, atMS int64) bool { return em.store.Rollback(id, atMS) }

// GetHistory is the external getHistory(id) operation.
func (em *EntityManager) GetHistory(id string) []store.Snapshot { return em.store.GetHistory(id) }

// ---- Groups ----

// CreateGroup is the external createGroup(id) operation.
func (em *EntityManager) CreateGroup(id string) { em.store.CreateGroup(id) }

// AddToGroup is the external addToGroup(groupId, entityId) operation.
func (em *EntityManager) AddToGroup(groupID, entityID string) bool {
	return em.store.AddToGroup(groupID, entityID)
}

// RemoveFromGroup is the external removeFromGroup(groupId, entityId) operation.
func (em *EntityManager) RemoveFromGroup(groupID, entityID string) {
	em.store.RemoveFromGroup(groupID, entityID)
}

// GetGroup is the external getGroup(groupId) operation.
func (em *EntityManager) GetGroup(groupID string) []string { return em.store.GetGroup(groupID) }

// ListGroups is the external listGroups() operation.
func (em *EntityManager) ListGroups() []string { return em.store.ListGroups() }

// DeleteGroup is the external deleteGroup(groupId) operation.
func (em *EntityManager) DeleteGroup(groupID string) { em.store.DeleteGroup(groupID) }

// ---- Storage (export/import) ----

// Export builds the persisted representation (spec.md §6): the
// normalized config, stored entities, active ids, history, presets and
// groups the Entity Store owns, plus whatever pool records the caller
// (typically a PoolManager) supplies — nil if the caller has no pools
// to report.
func (em *EntityManager) Export(pools []store.PoolRecord) store.Document {
	return em.store.Export(em.cfg.Doc, em.cfg.Presets(), pools)
}

// Import restores entity/active/history/group/spawn-context state from
// a previously-exported Document. The document must have been exported
// from the same config id: hot-swapping the config itself isn't
// supported here, since the cascade engine, spawner and tick loop
// already hold a pointer to the config this manager loaded at New —
// reloading a different config would leave those wired against stale
// indexes. A caller that needs a different config constructs a fresh
// EntityManager via New and imports into that instead.
func (em *EntityManager) Import(doc store.Document) error {
	if doc.Config.ID != em.configID {
		return fmt.Errorf("engine: import document config %q does not match loaded config %q", doc.Config.ID, em.configID)
	}
	em.store.Import(doc)
	return nil
}
