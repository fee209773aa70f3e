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

// Package store implements the Entity Store, Groups and History
// (spec.md §4.9): stored/active index views over the entity set, named
// entity groups (including the synthetic config:<configId> group every
// stored entity joins automatically), and a per-entity ring of
// snapshots supporting rollback. Grounded on the donor's
// pkg/deployment/rollback HistoryManager: a mutex-protected in-memory
// cache keyed by subject id and a configurable retention cap; each
// ring here is kept oldest first.
package store

import (
	"sort"
	"sync"

	"k8s.io/klog/v2"

	"github.com/kcp-dev/entisim/pkg/cascade"
	"github.com/kcp-dev/entisim/pkg/entity"
	"github.com/kcp-dev/entisim/pkg/events"
)

// Config is the subset of *config.Store the Entity Store needs.
type Config interface {
	MaxEntities() int
	MaxHistory() int
}

// Clock supplies host-monotonic milliseconds.
type Clock func() int64

// Snapshot is one ring entry produced by Snapshot and consumed by
// Rollback.
type Snapshot struct {
	TimestampMS int64
	Fields      *entity.Entity
}

// Store owns the entity set: which entities exist (stored), which are
// currently active, their group memberships, and their snapshot
// history.
type Store struct {
	mu      sync.Mutex
	cfg     Config
	cascade *cascade.Engine
	bus     *events.Bus
	clock   Clock

	stored       map[string]*entity.Entity
	active       map[string]bool
	history      map[string][]Snapshot
	groups       map[string]map[string]bool
	spawnContext map[string]interface{}
}

// New builds an empty Store.
func New(cfg Config, cascadeEngine *cascade.Engine, bus *events.Bus, clock Clock) *Store {
	return &Store{
		cfg:     cfg,
		cascade: cascadeEngine,
		bus:     bus,
		clock:   clock,
		stored:       map[string]*entity.Entity{},
		active:       map[string]bool{},
		history:      map[string][]Snapshot{},
		groups:       map[string]map[string]bool{},
		spawnContext: map[string]interface{}{},
	}
}

// Store inserts e into the stored set, rejecting it (and emitting
// storageLimitReached) if maxEntities has been reached. On success the
// entity auto-joins the synthetic config:<configId> group.
func (s *Store) Store(e *entity.Entity) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if max := s.cfg.MaxEntities(); max > 0 && len(s.stored) >= max {
		klog.Background().V(2).Info("storage limit reached", "maxEntities", max)
		s.emit(events.StorageLimitReached, events.Payload{"entityId": e.ID, "maxEntities": max})
		return false
	}

	s.stored[e.ID] = e
	s.addToGroupLocked(syntheticConfigGroup(e.ConfigID), e.ID)
	s.emit(events.EntityStored, events.Payload{"entityId": e.ID})
	return true
}

func syntheticConfigGroup(configID string) string {
	return "config:" + configID
}

// Get returns a stored entity by id.
func (s *Store) Get(id string) (*entity.Entity, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.stored[id]
	return e, ok
}

// Size returns the number of stored entities.
func (s *Store) Size() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.stored)
}

// Activate inserts id into the active view.
func (s *Store) Activate(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.stored[id]; !ok {
		return false
	}
	s.active[id] = true
	s.emit(events.EntityActivated, events.Payload{"entityId": id})
	return true
}

// Deactivate removes id from the active view without removing it from
// storage.
func (s *Store) Deactivate(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.active[id] {
		return false
	}
	delete(s.active, id)
	s.emit(events.EntityDeactivated, events.Payload{"entityId": id})
	return true
}

// IsActive reports whether id is in the active view.
func (s *Store) IsActive(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active[id]
}

// Remove drops id from stored, active, history and every group.
func (s *Store) Remove(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.stored[id]; !ok {
		return false
	}
	delete(s.stored, id)
	delete(s.active, id)
	delete(s.history, id)
	for _, members := range s.groups {
		delete(members, id)
	}
	s.emit(events.EntityRemoved, events.Payload{"entityId": id})
	return true
}

// Stored returns every stored entity, in no particular order.
func (s *Store) Stored() []*entity.Entity {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*entity.Entity, 0, len(s.stored))
	for _, e := range s.stored {
		out = append(out, e)
	}
	return out
}

// Active returns every active entity.
func (s *Store) Active() []*entity.Entity {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*entity.Entity, 0, len(s.active))
	for id := range s.active {
		out = append(out, s.stored[id])
	}
	return out
}

// Query returns every stored entity matching filter.
func (s *Store) Query(filter func(*entity.Entity) bool) []*entity.Entity {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*entity.Entity
	for _, e := range s.stored {
		if filter == nil || filter(e) {
			out = append(out, e)
		}
	}
	return out
}

func (s *Store) emit(name events.Name, payload events.Payload) {
	if s.bus == nil {
		return
	}
	s.bus.Emit(name, payload)
}
