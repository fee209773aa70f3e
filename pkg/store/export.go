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

package store

import (
	"sort"

	v1alpha1 "github.com/kcp-dev/entisim/pkg/apis/config/v1alpha1"
	"github.com/kcp-dev/entisim/pkg/entity"
	"github.com/kcp-dev/entisim/pkg/events"
)

// PoolRecord is one pool's metadata+rules for the persisted
// representation (spec.md §6: "pool records (metadata+rules, excluding
// the entities array)"). The free-list of reset entities a pool holds
// is not part of the document; on import, pools start empty and refill
// via normal acquire/release traffic or an explicit preWarmPool call.
type PoolRecord struct {
	Config v1alpha1.PoolConfig `json:"config"`
}

// Document is the structured persisted representation spec.md §6
// describes: normalized config, stored entity records, the active-id
// list, the history table, preset/group tables, the spawn context map
// and pool records. Producing/consuming this document is as far as
// export/import goes; writing it to disk or a database is embedding
// glue the host supplies (spec.md §1 Non-goals).
type Document struct {
	Config       v1alpha1.Document          `json:"config"`
	Entities     []*entity.Entity           `json:"entities"`
	ActiveIDs    []string                   `json:"activeIds"`
	History      map[string][]Snapshot      `json:"history"`
	Presets      map[string]v1alpha1.Preset `json:"presets"`
	Groups       map[string][]string        `json:"groups"`
	SpawnContext map[string]interface{}     `json:"spawnContext"`
	Pools        []PoolRecord               `json:"pools"`
}

// SetSpawnContext replaces the store-wide spawn context map — default
// values new spawns fall back to when a per-call override doesn't name
// a context id (distinct from a spawned entity's own e.Contexts, which
// is fixed at generation time).
func (s *Store) SetSpawnContext(ctx map[string]interface{}) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := make(map[string]interface{}, len(ctx))
	for k, v := range ctx {
		cp[k] = v
	}
	s.spawnContext = cp
	s.emit(events.SpawnContextUpdated, events.Payload{"keys": len(cp)})
}

// SpawnContext returns a copy of the current store-wide spawn context
// map.
func (s *Store) SpawnContext() map[string]interface{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := make(map[string]interface{}, len(s.spawnContext))
	for k, v := range s.spawnContext {
		cp[k] = v
	}
	return cp
}

// Export builds the persisted representation of everything the Entity
// Store owns (stored entities as deep copies, active ids, history,
// groups, spawn context), plus the pieces the caller supplies from the
// Config Store and Pool Manager it composes this Store with.
func (s *Store) Export(cfg v1alpha1.Document, presets map[string]v1alpha1.Preset, pools []PoolRecord) Document {
	s.mu.Lock()
	defer s.mu.Unlock()

	entities := make([]*entity.Entity, 0, len(s.stored))
	for _, e := range s.stored {
		entities = append(entities, e.Clone())
	}
	sort.Slice(entities, func(i, j int) bool { return entities[i].ID < entities[j].ID })

	activeIDs := make([]string, 0, len(s.active))
	for id := range s.active {
		activeIDs = append(activeIDs, id)
	}
	sort.Strings(activeIDs)

	history := make(map[string][]Snapshot, len(s.history))
	for id, ring := range s.history {
		history[id] = append([]Snapshot(nil), ring...)
	}

	groups := make(map[string][]string, len(s.groups))
	for id, members := range s.groups {
		ids := make([]string, 0, len(members))
		for m := range members {
			ids = append(ids, m)
		}
		sort.Strings(ids)
		groups[id] = ids
	}

	spawnCtx := make(map[string]interface{}, len(s.spawnContext))
	for k, v := range s.spawnContext {
		spawnCtx[k] = v
	}

	return Document{
		Config:       cfg,
		Entities:     entities,
		ActiveIDs:    activeIDs,
		History:      history,
		Presets:      presets,
		Groups:       groups,
		SpawnContext: spawnCtx,
		Pools:        pools,
	}
}

// Import replaces every piece of state the Entity Store owns with what
// a Document describes: entities (and their active/history/group
// state) round-trip as deep copies, per spec.md §6. Config, presets and
// pools are returned untouched for the caller to hand to a fresh
// config.Store/pool.Manager — Import only rebuilds the Store's own
// state, since config and pool wiring belong to the caller that
// composed this Store in the first place.
func (s *Store) Import(doc Document) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.stored = make(map[string]*entity.Entity, len(doc.Entities))
	for _, e := range doc.Entities {
		s.stored[e.ID] = e.Clone()
	}

	s.active = make(map[string]bool, len(doc.ActiveIDs))
	for _, id := range doc.ActiveIDs {
		if _, ok := s.stored[id]; ok {
			s.active[id] = true
		}
	}

	s.history = make(map[string][]Snapshot, len(doc.History))
	for id, ring := range doc.History {
		s.history[id] = append([]Snapshot(nil), ring...)
	}

	s.groups = make(map[string]map[string]bool, len(doc.Groups))
	for id, members := range doc.Groups {
		set := make(map[string]bool, len(members))
		for _, m := range members {
			set[m] = true
		}
		s.groups[id] = set
	}

	s.spawnContext = make(map[string]interface{}, len(doc.SpawnContext))
	for k, v := range doc.SpawnContext {
		s.spawnContext[k] = v
	}
}
