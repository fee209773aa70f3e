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

// CreateGroup registers an empty named group, a no-op if it already
// exists.
func (s *Store) CreateGroup(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.groups[id] != nil {
		return
	}
	s.groups[id] = map[string]bool{}
	s.emit(events.GroupCreated, events.Payload{"groupId": id})
}

// AddToGroup adds entityID to a group, creating the group if needed.
func (s *Store) AddToGroup(groupID, entityID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.stored[entityID]; !ok {
		return false
	}
	s.addToGroupLocked(groupID, entityID)
	s.emit(events.AddedToGroup, events.Payload{"groupId": groupID, "entityId": entityID})
	return true
}

func (s *Store) addToGroupLocked(groupID, entityID string) {
	if s.groups[groupID] == nil {
		s.groups[groupID] = map[string]bool{}
	}
	s.groups[groupID][entityID] = true
}

// RemoveFromGroup removes entityID from a group, leaving the (now
// possibly empty) group in place.
func (s *Store) RemoveFromGroup(groupID, entityID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.groups[groupID] == nil {
		return
	}
	delete(s.groups[groupID], entityID)
}

// GetGroup returns a group's member entity ids, sorted for
// deterministic output.
func (s *Store) GetGroup(groupID string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	members := s.groups[groupID]
	out := make([]string, 0, len(members))
	for id := range members {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// ListGroups returns every known group id, sorted.
func (s *Store) ListGroups() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.groups))
	for id := range s.groups {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// DeleteGroup removes a group entirely; member entities are
// unaffected.
func (s *Store) DeleteGroup(groupID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.groups, groupID)
}
