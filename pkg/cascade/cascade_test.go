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

package cascade

import (
	"testing"

	"github.com/stretchr/testify/require"

	v1alpha1 "github.com/kcp-dev/entisim/pkg/apis/config/v1alpha1"
	"github.com/kcp-dev/entisim/pkg/entity"
	"github.com/kcp-dev/entisim/pkg/events"
	"github.com/kcp-dev/entisim/pkg/formula"
)

type fakeStore struct {
	nodes map[string]*v1alpha1.Node
	byKind map[v1alpha1.NodeKind][]*v1alpha1.Node
	rels  map[string][]*v1alpha1.Relationship
	lookups int
}

func (f *fakeStore) Node(id string) (*v1alpha1.Node, bool) { n, ok := f.nodes[id]; return n, ok }
func (f *fakeStore) NodesByKind(k v1alpha1.NodeKind) []*v1alpha1.Node { return f.byKind[k] }
func (f *fakeStore) RelationshipsByTarget(id string) []*v1alpha1.Relationship {
	f.lookups++
	return f.rels[id]
}

func TestRecalculateRatesFoldsActiveModifiers(t *testing.T) {
	store := &fakeStore{
		nodes: map[string]*v1alpha1.Node{
			"buff": {ID: "buff", Kind: v1alpha1.KindModifier, Modifier: &v1alpha1.ModifierPayload{}},
		},
		rels: map[string][]*v1alpha1.Relationship{
			"hunger": {
				{SourceID: "buff", TargetID: "hunger", Type: v1alpha1.RelRateModifier, Config: v1alpha1.RelationshipConfig{Operation: v1alpha1.OpAdd, Value: 2}},
			},
		},
	}
	fc, err := formula.NewCache(nil)
	require.NoError(t, err)
	eng := New(store, fc, events.New())

	e := entity.New("e1", "cfg", 0)
	e.Variables["hunger"] = &entity.VarState{BaseRate: 1}
	e.ModifierStates["buff"] = &entity.ModState{}
	e.Modifiers = []string{"buff"}

	eng.recalculateRates(e)
	require.Equal(t, 3.0, e.Variables["hunger"].CurrentRate)
}

func TestCheckCompoundsActivatesAndEmits(t *testing.T) {
	store := &fakeStore{
		nodes: map[string]*v1alpha1.Node{},
		byKind: map[v1alpha1.NodeKind][]*v1alpha1.Node{
			v1alpha1.KindCompound: {
				{ID: "tired-and-hungry", Kind: v1alpha1.KindCompound, Compound: &v1alpha1.CompoundPayload{
					RequirementLogic: v1alpha1.RequireAll,
					Requires: []v1alpha1.Requirement{
						{ID: "hunger", Operator: ">=", Value: 50},
					},
				}},
			},
		},
	}
	fc, err := formula.NewCache(nil)
	require.NoError(t, err)
	bus := events.New()
	var got []events.Name
	bus.On(events.CompoundActivated, func(name events.Name, _ events.Payload) { got = append(got, name) })
	eng := New(store, fc, bus)

	e := entity.New("e1", "cfg", 0)
	e.Variables["hunger"] = &entity.VarState{Value: 80}

	eng.checkCompounds(e)
	require.True(t, e.HasCompound("tired-and-hungry"))
	require.Equal(t, []events.Name{events.CompoundActivated}, got)
}

func TestCalculateDerivedClampsAndZerosOnFailure(t *testing.T) {
	fc, err := formula.NewCache([]string{"strength", "speed"})
	require.NoError(t, err)
	store := &fakeStore{
		byKind: map[v1alpha1.NodeKind][]*v1alpha1.Node{
			v1alpha1.KindDerived: {
				{ID: "power", Kind: v1alpha1.KindDerived, Derived: &v1alpha1.DerivedPayload{Formula: "strength + speed", Min: 0, Max: 10}},
				{ID: "broken", Kind: v1alpha1.KindDerived, Derived: &v1alpha1.DerivedPayload{Formula: "strength +"}},
			},
		},
	}
	eng := New(store, fc, events.New())
	e := entity.New("e1", "cfg", 0)
	e.Attributes["strength"] = 8
	e.Attributes["speed"] = 8

	eng.calculateDerived(e)
	require.Equal(t, 10.0, e.Derived["power"])
	require.Equal(t, 0.0, e.Derived["broken"])
}

func TestBatchingRunsTripleOnce(t *testing.T) {
	store := &fakeStore{byKind: map[v1alpha1.NodeKind][]*v1alpha1.Node{}}
	fc, err := formula.NewCache(nil)
	require.NoError(t, err)
	eng := New(store, fc, events.New())
	e := entity.New("e1", "cfg", 0)
	e.Variables["v"] = &entity.VarState{BaseRate: 1}

	eng.BeginBatch()
	for i := 0; i < 3; i++ {
		eng.Run(e)
	}
	require.Equal(t, 0, store.lookups) // nothing flushed yet mid-batch
	eng.EndBatch()
	require.Equal(t, 1, store.lookups) // one triple: one rate lookup for the single variable "v"
}
