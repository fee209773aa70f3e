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
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/kcp-dev/entisim/pkg/entity"
	"github.com/kcp-dev/entisim/pkg/events"
)

type fakeConfig struct {
	maxEntities int
	maxHistory  int
}

func (f fakeConfig) MaxEntities() int { return f.maxEntities }
func (f fakeConfig) MaxHistory() int  { return f.maxHistory }

func TestStoreAutoJoinsSyntheticConfigGroup(t *testing.T) {
	s := New(fakeConfig{}, nil, events.New(), func() int64 { return 0 })
	e := entity.New("e1", "cfgA", 0)

	require.True(t, s.Store(e))
	require.Equal(t, []string{"e1"}, s.GetGroup("config:cfgA"))
}

func TestStoreRejectsAtCapacity(t *testing.T) {
	s := New(fakeConfig{maxEntities: 1}, nil, events.New(), func() int64 { return 0 })
	require.True(t, s.Store(entity.New("e1", "cfg", 0)))
	require.False(t, s.Store(entity.New("e2", "cfg", 0)))
}

func TestActivateDeactivateRequiresStored(t *testing.T) {
	s := New(fakeConfig{}, nil, events.New(), func() int64 { return 0 })
	require.False(t, s.Activate("missing"))

	e := entity.New("e1", "cfg", 0)
	s.Store(e)
	require.True(t, s.Activate("e1"))
	require.True(t, s.IsActive("e1"))
	require.True(t, s.Deactivate("e1"))
	require.False(t, s.IsActive("e1"))
}

func TestRemoveDropsFromHistoryAndGroups(t *testing.T) {
	s := New(fakeConfig{}, nil, events.New(), func() int64 { return 0 })
	e := entity.New("e1", "cfg", 0)
	s.Store(e)
	s.Activate("e1")
	s.Snapshot("e1")
	s.CreateGroup("guild")
	s.AddToGroup("guild", "e1")

	require.True(t, s.Remove("e1"))
	_, ok := s.Get("e1")
	require.False(t, ok)
	require.Empty(t, s.GetHistory("e1"))
	require.Empty(t, s.GetGroup("guild"))
	require.False(t, s.IsActive("e1"))
}

// S7 — snapshot/rollback restores fields, honoring the maxHistory cap.
func TestSnapshotRollbackRestoresFields(t *testing.T) {
	now := int64(0)
	s := New(fakeConfig{maxHistory: 2}, nil, events.New(), func() int64 { return now })

	e := entity.New("e1", "cfg", 0)
	e.Attributes["strength"] = 10
	s.Store(e)

	now = 100
	s.Snapshot("e1")

	e.Attributes["strength"] = 99
	now = 200
	s.Snapshot("e1")

	e.Attributes["strength"] = 500

	require.True(t, s.Rollback("e1", 250))
	require.Equal(t, 99.0, e.Attributes["strength"])

	require.True(t, s.Rollback("e1", 150))
	require.Equal(t, 10.0, e.Attributes["strength"])
}

func TestSnapshotRingEvictsOldest(t *testing.T) {
	now := int64(0)
	s := New(fakeConfig{maxHistory: 2}, nil, events.New(), func() int64 { return now })
	e := entity.New("e1", "cfg", 0)
	s.Store(e)

	for i := 0; i < 5; i++ {
		now = int64(i * 10)
		s.Snapshot("e1")
	}
	require.Len(t, s.GetHistory("e1"), 2)
}

func TestQueryFiltersStored(t *testing.T) {
	s := New(fakeConfig{}, nil, events.New(), func() int64 { return 0 })
	a := entity.New("a", "cfg", 0)
	a.Attributes["level"] = 5
	b := entity.New("b", "cfg", 0)
	b.Attributes["level"] = 1
	s.Store(a)
	s.Store(b)

	results := s.Query(func(e *entity.Entity) bool { return e.Attributes["level"] > 2 })
	require.Len(t, results, 1)
	require.Equal(t, "a", results[0].ID)
}
