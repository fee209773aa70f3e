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

package pool

import (
	"fmt"
	"sort"

	v1alpha1 "github.com/kcp-dev/entisim/pkg/apis/config/v1alpha1"
	"github.com/kcp-dev/entisim/pkg/events"
)

// ErrDefaultPoolProtected is returned by RemovePool("default").
var ErrDefaultPoolProtected = fmt.Errorf("pool: the default pool cannot be removed")

// CreatePool registers a new named pool; a no-op config error if the
// id is already taken.
func (m *Manager) CreatePool(cfg v1alpha1.PoolConfig) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.pools[cfg.ID]; ok {
		return fmt.Errorf("pool: %q already exists", cfg.ID)
	}
	if cfg.ShrinkThreshold == 0 {
		cfg.ShrinkThreshold = defaultShrinkThreshold
	}
	if cfg.ShrinkDelayMS == 0 {
		cfg.ShrinkDelayMS = defaultShrinkDelayMS
	}
	m.pools[cfg.ID] = &state{cfg: cfg, rules: cfg.Rules}
	m.emit(events.PoolCreated, events.Payload{"poolId": cfg.ID})
	return nil
}

// ConfigurePool merges non-zero fields of cfg onto an existing pool's
// configuration (maxSize, preWarm, preWarmPreset, shrinkThreshold,
// shrinkDelayMs).
func (m *Manager) ConfigurePool(id string, cfg v1alpha1.PoolConfig) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.pools[id]
	if !ok {
		return false
	}
	if cfg.MaxSize != 0 {
		p.cfg.MaxSize = cfg.MaxSize
	}
	if cfg.PreWarm != 0 {
		p.cfg.PreWarm = cfg.PreWarm
	}
	if cfg.PreWarmPreset != "" {
		p.cfg.PreWarmPreset = cfg.PreWarmPreset
	}
	if cfg.ShrinkThreshold != 0 {
		p.cfg.ShrinkThreshold = cfg.ShrinkThreshold
	}
	if cfg.ShrinkDelayMS != 0 {
		p.cfg.ShrinkDelayMS = cfg.ShrinkDelayMS
	}
	m.emit(events.PoolConfigured, events.Payload{"poolId": id})
	return true
}

// SetPoolRules replaces a pool's rule-based assignment rules.
func (m *Manager) SetPoolRules(id string, rules []v1alpha1.PoolRule) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.pools[id]
	if !ok {
		return false
	}
	p.rules = rules
	p.cfg.Rules = rules
	m.emit(events.PoolRulesUpdated, events.Payload{"poolId": id})
	return true
}

// RemovePool deletes a pool together with its free list; the free-list
// entities were already removed from the store when they were
// released, so nothing else is touched. The default pool is
// protected (spec.md §4.10 "A default pool always exists and cannot be
// removed").
func (m *Manager) RemovePool(id string) error {
	if id == defaultPoolID {
		return ErrDefaultPoolProtected
	}
	m.mu.Lock()
	_, ok := m.pools[id]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("pool: %q not found", id)
	}
	delete(m.pools, id)
	m.mu.Unlock()
	m.emit(events.PoolRemoved, events.Payload{"poolId": id})
	return nil
}

// ClearPool discards a pool's entire free list without touching
// in-use entities.
func (m *Manager) ClearPool(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.pools[id]
	if !ok {
		return false
	}
	p.entities = nil
	return true
}

// PreWarmPool adds n newly generated entities to a pool's free list (or
// the pool's configured preWarm if n is 0), regardless of how many it
// already holds, spawning from preWarmPreset when set.
func (m *Manager) PreWarmPool(id string, n int) (int, error) {
	m.mu.Lock()
	p, ok := m.pools[id]
	if !ok {
		m.mu.Unlock()
		return 0, fmt.Errorf("pool: %q not found", id)
	}
	if n <= 0 {
		n = p.cfg.PreWarm
	}
	preset := p.cfg.PreWarmPreset
	m.mu.Unlock()

	created := 0
	for i := 0; i < n; i++ {
		e, err := m.generate(AcquireRequest{PresetID: preset})
		if err != nil {
			return created, err
		}
		e.ClearForRelease()
		e.PoolID = id

		m.mu.Lock()
		p.entities = append(p.entities, e)
		p.totalCreated++
		m.mu.Unlock()
		created++
	}
	return created, nil
}

// GetPoolStats returns one pool's counters.
func (m *Manager) GetPoolStats(id string) (Stats, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.pools[id]
	if !ok {
		return Stats{}, false
	}
	return p.snapshot(), true
}

// GetAllPoolStats returns every pool's counters, keyed by pool id.
func (m *Manager) GetAllPoolStats() map[string]Stats {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]Stats, len(m.pools))
	for id, p := range m.pools {
		out[id] = p.snapshot()
	}
	return out
}

// ExportConfigs returns every pool's metadata+rules, excluding its
// free-list of reset entities — the "pool records" piece of the
// persisted representation spec.md §6 describes, sorted by id.
func (m *Manager) ExportConfigs() []v1alpha1.PoolConfig {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]v1alpha1.PoolConfig, 0, len(m.pools))
	for _, p := range m.pools {
		out = append(out, p.cfg)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// ListPools returns every known pool id, sorted.
func (m *Manager) ListPools() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.pools))
	for id := range m.pools {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// MoveToPool reassigns an in-use entity's poolId bookkeeping without
// releasing/reacquiring it, debiting the source pool's inUse counter
// and crediting the destination's.
func (m *Manager) MoveToPool(id string, fromPoolID, toPoolID string) bool {
	e, ok := m.store.Get(id)
	if !ok {
		return false
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	from := m.poolOrDefaultLocked(fromPoolID)
	to := m.poolOrDefaultLocked(toPoolID)
	if from == to {
		return true
	}
	from.inUse--
	if from.inUse < 0 {
		from.inUse = 0
	}
	to.inUse++
	e.PoolID = toPoolID
	m.emit(events.EntityMovedPool, events.Payload{"entityId": id, "fromPoolId": fromPoolID, "toPoolId": toPoolID})
	return true
}
