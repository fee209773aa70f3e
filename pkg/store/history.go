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

	"github.com/kcp-dev/entisim/pkg/events"
)

// Snapshot deep-clones the snapshot-tracked fields of a stored entity
// ({attributes, variables, contexts, layers, modifiers, compounds,
// derived}, per spec.md §4.9) and pushes it onto that entity's
// history ring, evicting the oldest entry once maxHistory is
// exceeded.
func (s *Store) Snapshot(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.stored[id]
	if !ok {
		return false
	}

	snap := Snapshot{TimestampMS: s.clock(), Fields: e.CloneFields()}
	ring := append(s.history[id], snap)

	if max := s.cfg.MaxHistory(); max > 0 && len(ring) > max {
		ring = ring[len(ring)-max:]
	}
	s.history[id] = ring

	s.emit(events.SnapshotTaken, events.Payload{"entityId": id, "timestampMs": snap.TimestampMS})
	return true
}

// GetHistory returns an entity's snapshot ring, oldest first.
func (s *Store) GetHistory(id string) []Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Snapshot(nil), s.history[id]...)
}

// Rollback finds the newest snapshot with timestamp <= atMS and
// restores its fields onto the live entity. Variable rates are not
// restored verbatim; a cascade run recomputes them from the restored
// state (spec.md §4.9).
func (s *Store) Rollback(id string, atMS int64) bool {
	s.mu.Lock()
	e, ok := s.stored[id]
	if !ok {
		s.mu.Unlock()
		return false
	}
	ring := s.history[id]
	target := newestAtOrBefore(ring, atMS)
	s.mu.Unlock()

	if target == nil {
		return false
	}

	e.RestoreFields(target.Fields)
	if s.cascade != nil {
		s.cascade.Run(e)
	}
	s.emit(events.EntityRolledBack, events.Payload{"entityId": id, "timestampMs": target.TimestampMS})
	return true
}

func newestAtOrBefore(ring []Snapshot, atMS int64) *Snapshot {
	sorted := append([]Snapshot(nil), ring...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].TimestampMS < sorted[j].TimestampMS })

	var best *Snapshot
	for i := range sorted {
		if sorted[i].TimestampMS <= atMS {
			best = &sorted[i]
		}
	}
	return best
}
