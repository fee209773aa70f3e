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

package spawn

import (
	"testing"

	"github.com/stretchr/testify/require"

	v1alpha1 "github.com/kcp-dev/entisim/pkg/apis/config/v1alpha1"
	"github.com/kcp-dev/entisim/pkg/cascade"
	"github.com/kcp-dev/entisim/pkg/entity"
	"github.com/kcp-dev/entisim/pkg/events"
	"github.com/kcp-dev/entisim/pkg/formula"
)

type fakeStore struct {
	nodes   map[string]*v1alpha1.Node
	byKind  map[v1alpha1.NodeKind][]*v1alpha1.Node
	rels    map[string][]*v1alpha1.Relationship
	presets map[string]*v1alpha1.Preset
}

func (f *fakeStore) Node(id string) (*v1alpha1.Node, bool) { n, ok := f.nodes[id]; return n, ok }
func (f *fakeStore) NodesByKind(k v1alpha1.NodeKind) []*v1alpha1.Node { return f.byKind[k] }
func (f *fakeStore) Traits() []*v1alpha1.Node {
	var out []*v1alpha1.Node
	for _, n := range f.nodes {
		if n.Trait != nil {
			out = append(out, n)
		}
	}
	return out
}
func (f *fakeStore) RelationshipsByTarget(id string) []*v1alpha1.Relationship { return f.rels[id] }
func (f *fakeStore) Preset(id string) (*v1alpha1.Preset, bool) { p, ok := f.presets[id]; return p, ok }

func fixedRand(v float64) func() float64 { return func() float64 { return v } }

func TestGenerateRollsAttributeWithinRange(t *testing.T) {
	attr := &v1alpha1.Node{ID: "strength", Kind: v1alpha1.KindAttribute, Attribute: &v1alpha1.AttributePayload{
		Min: 0, Max: 100, DefaultRange: v1alpha1.FloatRange(10, 20), Precision: 0,
	}}
	store := &fakeStore{
		nodes:  map[string]*v1alpha1.Node{"strength": attr},
		byKind: map[v1alpha1.NodeKind][]*v1alpha1.Node{v1alpha1.KindAttribute: {attr}},
	}
	fc, err := formula.NewCache(nil)
	require.NoError(t, err)
	eng := cascade.New(store, fc, events.New())
	sp := New(store, eng, fixedRand(0.5), func() int64 { return 1000 })

	e := sp.Generate("cfg", Overrides{})
	require.GreaterOrEqual(t, e.Attributes["strength"], 10.0)
	require.LessOrEqual(t, e.Attributes["strength"], 20.0)
}

func TestGenerateHonorsExplicitZeroDefaultRange(t *testing.T) {
	attr := &v1alpha1.Node{ID: "deficit", Kind: v1alpha1.KindAttribute, Attribute: &v1alpha1.AttributePayload{
		Min: -50, Max: 50, DefaultRange: v1alpha1.FloatRange(0, 0),
	}}
	store := &fakeStore{
		nodes:  map[string]*v1alpha1.Node{"deficit": attr},
		byKind: map[v1alpha1.NodeKind][]*v1alpha1.Node{v1alpha1.KindAttribute: {attr}},
	}
	fc, err := formula.NewCache(nil)
	require.NoError(t, err)
	eng := cascade.New(store, fc, events.New())
	sp := New(store, eng, fixedRand(0.5), func() int64 { return 0 })

	e := sp.Generate("cfg", Overrides{})
	require.Equal(t, 0.0, e.Attributes["deficit"])
}

func TestGenerateHonorsOverride(t *testing.T) {
	attr := &v1alpha1.Node{ID: "strength", Kind: v1alpha1.KindAttribute, Attribute: &v1alpha1.AttributePayload{
		DefaultRange: v1alpha1.FloatRange(10, 20),
	}}
	store := &fakeStore{
		nodes:  map[string]*v1alpha1.Node{"strength": attr},
		byKind: map[v1alpha1.NodeKind][]*v1alpha1.Node{v1alpha1.KindAttribute: {attr}},
	}
	fc, err := formula.NewCache(nil)
	require.NoError(t, err)
	eng := cascade.New(store, fc, events.New())
	sp := New(store, eng, fixedRand(0.5), func() int64 { return 0 })

	e := sp.Generate("cfg", Overrides{Attributes: map[string]float64{"strength": 99}})
	require.Equal(t, 99.0, e.Attributes["strength"])
}

func TestResolvePresetTraitsStringAndArray(t *testing.T) {
	store := &fakeStore{nodes: map[string]*v1alpha1.Node{}}
	fc, err := formula.NewCache(nil)
	require.NoError(t, err)
	eng := cascade.New(store, fc, events.New())
	sp := New(store, eng, fixedRand(0), func() int64 { return 0 })

	preset := &v1alpha1.Preset{Traits: map[string]interface{}{
		"mood":  "grumpy",
		"style": []interface{}{"tall", "lean"},
	}}
	ids, err := sp.ResolvePresetTraits(entity.New("e1", "cfg", 0), preset)
	require.NoError(t, err)
	require.ElementsMatch(t, []string{"grumpy", "tall", "lean"}, ids)
}

func TestResolvePresetTraitsWeightedMode(t *testing.T) {
	store := &fakeStore{nodes: map[string]*v1alpha1.Node{}}
	fc, err := formula.NewCache(nil)
	require.NoError(t, err)
	eng := cascade.New(store, fc, events.New())
	sp := New(store, eng, fixedRand(0), func() int64 { return 0 })

	preset := &v1alpha1.Preset{Traits: map[string]interface{}{
		"mood": map[string]interface{}{
			"mode": "weighted",
			"pool": []interface{}{
				map[string]interface{}{"id": "grumpy", "weight": 1.0},
				map[string]interface{}{"id": "cheerful", "weight": 3.0},
			},
		},
	}}
	ids, err := sp.ResolvePresetTraits(entity.New("e1", "cfg", 0), preset)
	require.NoError(t, err)
	require.Equal(t, []string{"grumpy"}, ids) // rand()=0 falls in first bucket
}
