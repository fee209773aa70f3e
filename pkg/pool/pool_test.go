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
	"testing"

	"github.com/stretchr/testify/require"

	v1alpha1 "github.com/kcp-dev/entisim/pkg/apis/config/v1alpha1"
	"github.com/kcp-dev/entisim/pkg/entity"
	"github.com/kcp-dev/entisim/pkg/events"
	"github.com/kcp-dev/entisim/pkg/spawn"
	"github.com/kcp-dev/entisim/pkg/store"
)

type fakeConfig struct{}

func (fakeConfig) MaxEntities() int { return 0 }
func (fakeConfig) MaxHistory() int  { return 10 }

type fakeSpawner struct {
	n          int
	unknownIDs map[string]bool
}

func (f *fakeSpawner) Generate(configID string, overrides spawn.Overrides) *entity.Entity {
	f.n++
	return entity.New(fmt.Sprintf("e%d", f.n), configID, 0)
}

func (f *fakeSpawner) GenerateFromPreset(configID, presetID string, overrides spawn.Overrides) (*entity.Entity, error) {
	if f.unknownIDs[presetID] {
		return nil, fmt.Errorf("spawn: unknown preset %q", presetID)
	}
	f.n++
	e := entity.New(fmt.Sprintf("e%d", f.n), configID, 0)
	e.PresetID = presetID
	return e, nil
}

func newTestManager(declared []*v1alpha1.PoolConfig, sp *fakeSpawner, clock func() int64) (*Manager, *store.Store) {
	bus := events.New()
	st := store.New(fakeConfig{}, nil, bus, store.Clock(clock))
	m := New("cfg", declared, sp, st, nil, bus, nil, clock)
	return m, st
}

func TestAcquireGeneratesFromDefaultPoolWhenEmpty(t *testing.T) {
	sp := &fakeSpawner{}
	m, st := newTestManager(nil, sp, func() int64 { return 0 })

	e, err := m.Acquire(AcquireRequest{})
	require.NoError(t, err)
	require.Equal(t, defaultPoolID, e.PoolID)
	require.True(t, st.IsActive(e.ID))

	stats, ok := m.GetPoolStats(defaultPoolID)
	require.True(t, ok)
	require.Equal(t, 1, stats.InUse)
	require.Equal(t, 1, stats.TotalCreated)
	require.Equal(t, 1, stats.TotalAcquired)
}

func TestReleaseReturnsEntityAndAcquireReusesIt(t *testing.T) {
	sp := &fakeSpawner{}
	m, _ := newTestManager(nil, sp, func() int64 { return 0 })

	e, err := m.Acquire(AcquireRequest{})
	require.NoError(t, err)

	toPool := m.Release(e.ID, "")
	require.True(t, toPool)

	stats, _ := m.GetPoolStats(defaultPoolID)
	require.Equal(t, 0, stats.InUse)
	require.Equal(t, 1, stats.Available)

	_, err = m.Acquire(AcquireRequest{})
	require.NoError(t, err)

	stats, _ = m.GetPoolStats(defaultPoolID)
	require.Equal(t, 1, stats.TotalCreated, "reuse must not bump totalCreated")
	require.Equal(t, 2, stats.TotalAcquired)
	require.Equal(t, 0, stats.Available)
}

func TestReleaseDropsEntityWhenPoolFull(t *testing.T) {
	sp := &fakeSpawner{}
	declared := []*v1alpha1.PoolConfig{{ID: "tiny", Name: "tiny", MaxSize: 1}}
	m, _ := newTestManager(declared, sp, func() int64 { return 0 })

	a, err := m.Acquire(AcquireRequest{TargetPoolID: "tiny"})
	require.NoError(t, err)
	b, err := m.Acquire(AcquireRequest{TargetPoolID: "tiny"})
	require.NoError(t, err)

	require.True(t, m.Release(a.ID, ""))
	require.False(t, m.Release(b.ID, ""), "second release should overflow maxSize and drop")

	stats, _ := m.GetPoolStats("tiny")
	require.Equal(t, 1, stats.Available)
}

func TestGetPoolForEntityMatchesPresetGlob(t *testing.T) {
	declared := []*v1alpha1.PoolConfig{{
		ID: "goblins", Name: "goblins", MaxSize: 10,
		Rules: []v1alpha1.PoolRule{{
			Priority: 5,
			Conditions: []v1alpha1.PoolRuleCondition{
				{Source: "preset", Match: "gob*"},
			},
		}},
	}}
	sp := &fakeSpawner{}
	m, _ := newTestManager(declared, sp, func() int64 { return 0 })

	e, err := m.Acquire(AcquireRequest{PresetID: "goblin_elite"})
	require.NoError(t, err)
	require.Equal(t, "goblins", e.PoolID)
}

func TestGetPoolForEntityFallsBackToDefault(t *testing.T) {
	declared := []*v1alpha1.PoolConfig{{
		ID: "goblins", Name: "goblins", MaxSize: 10,
		Rules: []v1alpha1.PoolRule{{
			Priority:   5,
			Conditions: []v1alpha1.PoolRuleCondition{{Source: "preset", Match: "gob*"}},
		}},
	}}
	sp := &fakeSpawner{}
	m, _ := newTestManager(declared, sp, func() int64 { return 0 })

	e, err := m.Acquire(AcquireRequest{PresetID: "dragon"})
	require.NoError(t, err)
	require.Equal(t, defaultPoolID, e.PoolID)
}

func TestAcquireRestoresFreeListSlotOnGenerateError(t *testing.T) {
	sp := &fakeSpawner{unknownIDs: map[string]bool{"ghost": true}}
	m, _ := newTestManager(nil, sp, func() int64 { return 0 })

	e, err := m.Acquire(AcquireRequest{})
	require.NoError(t, err)
	require.True(t, m.Release(e.ID, ""))

	_, err = m.Acquire(AcquireRequest{PresetID: "ghost"})
	require.Error(t, err)

	stats, _ := m.GetPoolStats(defaultPoolID)
	require.Equal(t, 1, stats.Available, "popped free-list entity must be restored after a failed reset")
}

func TestRemovePoolProtectsDefault(t *testing.T) {
	sp := &fakeSpawner{}
	m, _ := newTestManager(nil, sp, func() int64 { return 0 })
	require.ErrorIs(t, m.RemovePool(defaultPoolID), ErrDefaultPoolProtected)
}

func TestShrinkCheckPopsPoolAfterQuietPeriod(t *testing.T) {
	now := int64(0)
	clock := func() int64 { return now }
	declared := []*v1alpha1.PoolConfig{{
		ID: "big", Name: "big", MaxSize: 0,
		ShrinkThreshold: 0.5, ShrinkDelayMS: 1000,
	}}
	sp := &fakeSpawner{}
	m, _ := newTestManager(declared, sp, clock)

	var acquired []*entity.Entity
	for i := 0; i < 30; i++ {
		e, err := m.Acquire(AcquireRequest{TargetPoolID: "big"})
		require.NoError(t, err)
		acquired = append(acquired, e)
	}
	for _, e := range acquired {
		m.Release(e.ID, "")
	}

	stats, _ := m.GetPoolStats("big")
	require.Equal(t, 30, stats.Available)

	now = 2000
	m.ShrinkCheck("big")

	stats, _ = m.GetPoolStats("big")
	require.Equal(t, 15, stats.Available)
}

func TestListPoolsIncludesDefaultAndDeclared(t *testing.T) {
	declared := []*v1alpha1.PoolConfig{{ID: "goblins", Name: "goblins"}}
	sp := &fakeSpawner{}
	m, _ := newTestManager(declared, sp, func() int64 { return 0 })
	require.Equal(t, []string{defaultPoolID, "goblins"}, m.ListPools())
}
