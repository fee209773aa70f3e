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

package engine

import (
	"fmt"

	v1alpha1 "github.com/kcp-dev/entisim/pkg/apis/config/v1alpha1"
	"github.com/kcp-dev/entisim/pkg/entity"
	"github.com/kcp-dev/entisim/pkg/pool"
	"github.com/kcp-dev/entisim/pkg/store"
)

// PoolManager is the Pools operation group facade (spec.md §6,
// §4.10): a *pool.Manager bound to an EntityManager's spawner, store,
// cascade engine, bus and metrics, exposed as its own top-level
// manager rather than folded into EntityManager. A caller who never
// needs pooling never constructs one.
type PoolManager struct {
	*EntityManager
	pool *pool.Manager
}

// NewPoolManager builds a PoolManager over an already-constructed
// EntityManager, seeded with the config's declared pools.
func NewPoolManager(em *EntityManager) *PoolManager {
	p := pool.New(em.configID, em.cfg.Pools(), em.spawner, em.store, em.cascade, em.bus, em.metrics, em.clock)
	return &PoolManager{EntityManager: em, pool: p}
}

// Acquire is the external acquire(presetOrOverrides, ...) operation.
func (pm *PoolManager) Acquire(req pool.AcquireRequest) (*entity.Entity, error) {
	return pm.pool.Acquire(req)
}

// Release is the external release(id, targetPoolId?) operation.
func (pm *PoolManager) Release(id, targetPoolID string) bool {
	return pm.pool.Release(id, targetPoolID)
}

// CreatePool is the external createPool(cfg) operation.
func (pm *PoolManager) CreatePool(cfg v1alpha1.PoolConfig) error { return pm.pool.CreatePool(cfg) }

// ConfigurePool is the external configurePool(id, cfg) operation.
func (pm *PoolManager) ConfigurePool(id string, cfg v1alpha1.PoolConfig) bool {
	return pm.pool.ConfigurePool(id, cfg)
}

// SetPoolRules is the external setPoolRules(id, rules) operation.
func (pm *PoolManager) SetPoolRules(id string, rules []v1alpha1.PoolRule) bool {
	return pm.pool.SetPoolRules(id, rules)
}

// RemovePool is the external removePool(id) operation.
func (pm *PoolManager) RemovePool(id string) error { return pm.pool.RemovePool(id) }

// ClearPool is the external clearPool(id) operation.
func (pm *PoolManager) ClearPool(id string) bool { return pm.pool.ClearPool(id) }

// PreWarmPool is the external preWarmPool(id, n?) operation.
func (pm *PoolManager) PreWarmPool(id string, n int) (int, error) {
	return pm.pool.PreWarmPool(id, n)
}

// GetPoolForEntity is the external getPoolForEntity(entity) operation.
func (pm *PoolManager) GetPoolForEntity(e *entity.Entity) string {
	return pm.pool.GetPoolForEntity(e)
}

// GetPoolStats is the external getPoolStats(id) operation.
func (pm *PoolManager) GetPoolStats(id string) (pool.Stats, bool) { return pm.pool.GetPoolStats(id) }

// GetAllPoolStats is the external getAllPoolStats() operation.
func (pm *PoolManager) GetAllPoolStats() map[string]pool.Stats { return pm.pool.GetAllPoolStats() }

// ListPools is the external listPools() operation.
func (pm *PoolManager) ListPools() []string { return pm.pool.ListPools() }

// MoveToPool is the external moveToPool(id, fromPoolId, toPoolId) operation.
func (pm *PoolManager) MoveToPool(id, fromPoolID, toPoolID string) bool {
	return pm.pool.MoveToPool(id, fromPoolID, toPoolID)
}

// ShrinkCheckAll drives the idle-shrink pass for every pool; intended
// to be called once per tick by whatever host loop owns StartAutoTick,
// since the Pool Manager itself carries no internal timer (spec.md
// §5, §4.10 "schedule shrink check").
func (pm *PoolManager) ShrinkCheckAll() { pm.pool.ShrinkCheckAll() }

// Export builds the persisted representation including this manager's
// pool records (metadata+rules, excluding each pool's free-list of
// reset entities — spec.md §6).
func (pm *PoolManager) Export() store.Document {
	cfgs := pm.pool.ExportConfigs()
	records := make([]store.PoolRecord, 0, len(cfgs))
	for _, cfg := range cfgs {
		records = append(records, store.PoolRecord{Config: cfg})
	}
	return pm.EntityManager.Export(records)
}

// Import restores entity state via EntityManager.Import, then
// recreates/reconfigures pools from the document's pool records. A pool
// created here starts with an empty free-list; a pool that already
// exists is reconfigured and keeps its current free-list.
// Acquire/release traffic or an explicit PreWarmPool call repopulates
// a free-list.
func (pm *PoolManager) Import(doc store.Document) error {
	if err := pm.EntityManager.Import(doc); err != nil {
		return err
	}
	for _, rec := range doc.Pools {
		if _, ok := pm.pool.GetPoolStats(rec.Config.ID); ok {
			pm.pool.ConfigurePool(rec.Config.ID, rec.Config)
			pm.pool.SetPoolRules(rec.Config.ID, rec.Config.Rules)
			continue
		}
		if err := pm.pool.CreatePool(rec.Config); err != nil {
			return fmt.Errorf("engine: importing pool %q: %w", rec.Config.ID, err)
		}
	}
	return nil
}
