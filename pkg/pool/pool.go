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

// Package pool implements the Pool Manager (spec.md §4.10): named
// entity pools with a bounded free list, pre-warm, idle shrink and
// rule-based assignment. Grounded on the donor's pkg/deployment/rollback
// HistoryManager for the mutex-protected in-memory map-of-slices shape,
// and on pkg/placement/scheduler for the "score every candidate, sort
// by priority then score, take the winner" assignment pattern reused
// here for getPoolForEntity.
package pool

import (
	"sort"
	"sync"

	"k8s.io/klog/v2"

	v1alpha1 "github.com/kcp-dev/entisim/pkg/apis/config/v1alpha1"
	"github.com/kcp-dev/entisim/pkg/cascade"
	"github.com/kcp-dev/entisim/pkg/entity"
	"github.com/kcp-dev/entisim/pkg/events"
	"github.com/kcp-dev/entisim/pkg/metrics"
	"github.com/kcp-dev/entisim/pkg/spawn"
)

const (
	defaultShrinkThreshold = 0.25
	defaultShrinkDelayMS   = 30000
	defaultPoolID          = "default"
	minShrinkFloor         = 10
)

// Spawner is the subset of *spawn.Spawner the Pool Manager needs.
type Spawner interface {
	Generate(configID string, overrides spawn.Overrides) *entity.Entity
	GenerateFromPreset(configID, presetID string, overrides spawn.Overrides) (*entity.Entity, error)
}

// Store is the subset of *store.Store the Pool Manager needs.
type Store interface {
	Store(e *entity.Entity) bool
	Activate(id string) bool
	Deactivate(id string) bool
	Remove(id string) bool
	Get(id string) (*entity.Entity, bool)
}

// Stats is the external view of one pool's counters (spec.md §4.10
// "Pool instance" .stats, and getPoolStats/getAllPoolStats in §6).
type Stats struct {
	InUse         int
	Available     int
	TotalCreated  int
	TotalAcquired int
}

// state is one live pool: its config, its free-list of reset entities
// and its running counters.
type state struct {
	cfg            v1alpha1.PoolConfig
	rules          []v1alpha1.PoolRule
	entities       []*entity.Entity
	inUse          int
	totalCreated   int
	totalAcquired  int
	lastActivityMS int64
}

// Manager owns every named pool for one config's entity population.
type Manager struct {
	mu       sync.Mutex
	configID string
	spawner  Spawner
	store    Store
	cascade  *cascade.Engine
	bus      *events.Bus
	metrics  *metrics.Registry
	clock    func() int64

	pools map[string]*state
}

// New builds a Manager seeded with the config's declared pools (plus
// the always-present "default" pool, which config.Store guarantees
// exists in its own Pools() list).
func New(configID string, declared []*v1alpha1.PoolConfig, spawner Spawner, st Store, cascadeEngine *cascade.Engine, bus *events.Bus, reg *metrics.Registry, clock func() int64) *Manager {
	m := &Manager{
		configID: configID,
		spawner:  spawner,
		store:    st,
		cascade:  cascadeEngine,
		bus:      bus,
		metrics:  reg,
		clock:    clock,
		pools:    map[string]*state{},
	}
	for _, cfg := range declared {
		m.pools[cfg.ID] = &state{cfg: *cfg, rules: cfg.Rules}
	}
	if _, ok := m.pools[defaultPoolID]; !ok {
		m.pools[defaultPoolID] = &state{cfg: v1alpha1.PoolConfig{
			ID: defaultPoolID, Name: defaultPoolID,
			ShrinkThreshold: defaultShrinkThreshold, ShrinkDelayMS: defaultShrinkDelayMS,
		}}
	}
	return m
}

// AcquireRequest is the union spec.md's acquire(presetOrOverrides, ...)
// collapses into one explicit struct: either PresetID or Overrides (or
// both — Overrides wins per-field, matching GenerateFromPreset's own
// merge rule), plus an optional explicit target pool.
type AcquireRequest struct {
	PresetID     string
	Overrides    spawn.Overrides
	TargetPoolID string
}

// Acquire implements spec.md §4.10 acquire steps 1-5.
func (m *Manager) Acquire(req AcquireRequest) (*entity.Entity, error) {
	m.mu.Lock()
	poolID := req.TargetPoolID
	if poolID == "" {
		poolID = defaultPoolID
	}
	p := m.poolOrDefaultLocked(poolID)

	var e *entity.Entity
	var err error
	var popped *entity.Entity
	reused := false
	if n := len(p.entities); n > 0 {
		popped = p.entities[n-1]
		p.entities = p.entities[:n-1]
		reused = true
	} else {
		p.totalCreated++
	}
	m.mu.Unlock()

	if reused {
		e, err = m.reset(req)
	} else {
		e, err = m.generate(req)
	}
	if err != nil {
		if reused {
			m.mu.Lock()
			p.entities = append(p.entities, popped)
			m.mu.Unlock()
		} else {
			m.mu.Lock()
			p.totalCreated--
			m.mu.Unlock()
		}
		return nil, err
	}

	m.mu.Lock()
	if req.TargetPoolID == "" {
		if matched := m.getPoolForEntityLocked(e); matched != poolID {
			poolID = matched
			p = m.poolOrDefaultLocked(poolID)
		}
	}
	e.PoolID = poolID
	p.inUse++
	p.totalAcquired++
	p.lastActivityMS = m.now()
	stats := p.snapshot()
	m.mu.Unlock()

	m.store.Store(e)
	m.store.Activate(e.ID)
	m.setGauges(poolID, stats)
	m.emit(events.EntityAcquired, events.Payload{"entityId": e.ID, "poolId": poolID})
	klog.Background().V(3).Info("entity acquired", "entityId", e.ID, "poolId", poolID, "reused", reused)
	return e, nil
}

func (m *Manager) generate(req AcquireRequest) (*entity.Entity, error) {
	if req.PresetID != "" {
		return m.spawner.GenerateFromPreset(m.configID, req.PresetID, req.Overrides)
	}
	return m.spawner.Generate(m.configID, req.Overrides), nil
}

// reset discards a popped free-list entity's identity and regenerates
// it in place of allocating a brand-new one: spec.md's "regenerate id
// and createdAt, re-roll attributes, reset variables to initial, clear
// transient state, re-force traits, run cascade" is exactly what
// Generate/GenerateFromPreset already does for a fresh spawn, so reset
// reuses that path rather than hand-rolling a second attribute-roll
// implementation. The popped entity itself is simply left to the
// garbage collector.
func (m *Manager) reset(req AcquireRequest) (*entity.Entity, error) {
	return m.generate(req)
}

// Release implements spec.md §4.10 release steps 1-3.
func (m *Manager) Release(id string, targetPoolID string) bool {
	e, ok := m.store.Get(id)
	if !ok {
		return false
	}

	m.store.Deactivate(id)
	m.store.Remove(id)

	poolID := targetPoolID
	if poolID == "" {
		poolID = e.PoolID
	}
	if poolID == "" {
		poolID = defaultPoolID
	}

	m.mu.Lock()
	p := m.poolOrDefaultLocked(poolID)
	p.inUse--
	if p.inUse < 0 {
		p.inUse = 0
	}

	toPool := p.cfg.MaxSize <= 0 || len(p.entities) < p.cfg.MaxSize
	if toPool {
		e.ClearForRelease()
		e.PoolID = poolID
		p.entities = append(p.entities, e)
	}
	p.lastActivityMS = m.now()
	stats := p.snapshot()
	m.mu.Unlock()

	m.setGauges(poolID, stats)
	m.emit(events.EntityReleased, events.Payload{"entityId": id, "poolId": poolID, "toPool": toPool})
	m.maybeShrink(poolID)
	return toPool
}

func (m *Manager) poolOrDefaultLocked(id string) *state {
	if p, ok := m.pools[id]; ok {
		return p
	}
	return m.pools[defaultPoolID]
}

func (s *state) snapshot() Stats {
	return Stats{InUse: s.inUse, Available: len(s.entities), TotalCreated: s.totalCreated, TotalAcquired: s.totalAcquired}
}

func (m *Manager) now() int64 {
	if m.clock == nil {
		return 0
	}
	return m.clock()
}

func (m *Manager) emit(name events.Name, payload events.Payload) {
	if m.bus == nil {
		return
	}
	m.bus.Emit(name, payload)
}

func (m *Manager) setGauges(poolID string, stats Stats) {
	if m.metrics == nil {
		return
	}
	m.metrics.SetPoolStats(poolID, stats.InUse, stats.Available)
}

// sortedRuleMatches is shared by getPoolForEntity's scoring pass:
// priority desc, then score desc.
func sortedRuleMatches(matches []ruleMatch) {
	sort.Slice(matches, func(i, j int) bool {
		if matches[i].priority != matches[j].priority {
			return matches[i].priority > matches[j].priority
		}
		return matches[i].score > matches[j].score
	})
}

type ruleMatch struct {
	poolID   string
	priority int
	score    float64
}
