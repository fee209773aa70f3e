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

package selection

import (
	"testing"

	"github.com/stretchr/testify/require"

	v1alpha1 "github.com/kcp-dev/entisim/pkg/apis/config/v1alpha1"
	"github.com/kcp-dev/entisim/pkg/entity"
)

type fakeStore struct {
	nodes map[string]*v1alpha1.Node
	rels  map[string][]*v1alpha1.Relationship
}

func (f *fakeStore) Node(id string) (*v1alpha1.Node, bool) { n, ok := f.nodes[id]; return n, ok }
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

func trait(id, layerID string, baseWeight float64) *v1alpha1.Node {
	return &v1alpha1.Node{ID: id, Kind: v1alpha1.KindTrait, Trait: &v1alpha1.TraitPayload{
		LayerID: layerID,
		Selection: v1alpha1.TraitSelection{BaseWeight: baseWeight, Mode: v1alpha1.SelectionWeighted},
	}}
}

func TestDiminishingReturns(t *testing.T) {
	// spec.md S4: baseWeight 16, two active sources each add 9 ->
	// effective weight = 16 + 2*(sqrt(9)*sqrt(16)) = 16 + 2*12 = 40.
	layer := &v1alpha1.Node{ID: "mood", Kind: v1alpha1.KindLayer, Layer: &v1alpha1.LayerPayload{DiminishingReturns: true}}
	target := trait("grumpy", "mood", 16)
	srcA := &v1alpha1.Node{ID: "srcA", Kind: v1alpha1.KindTrait, Trait: &v1alpha1.TraitPayload{LayerID: "other"}}
	srcB := &v1alpha1.Node{ID: "srcB", Kind: v1alpha1.KindTrait, Trait: &v1alpha1.TraitPayload{LayerID: "other"}}

	store := &fakeStore{
		nodes: map[string]*v1alpha1.Node{"grumpy": target, "srcA": srcA, "srcB": srcB},
		rels: map[string][]*v1alpha1.Relationship{
			"grumpy": {
				{SourceID: "srcA", TargetID: "grumpy", Type: v1alpha1.RelWeightInfluence, Config: v1alpha1.RelationshipConfig{Operation: v1alpha1.OpAdd, Value: 9}},
				{SourceID: "srcB", TargetID: "grumpy", Type: v1alpha1.RelWeightInfluence, Config: v1alpha1.RelationshipConfig{Operation: v1alpha1.OpAdd, Value: 9}},
			},
		},
	}

	e := entity.New("e1", "cfg", 0)
	e.Layers["other"] = &entity.LayerState{Active: []string{"srcA", "srcB"}}

	w := Weight(store, e, layer, target)
	require.InDelta(t, 40.0, w, 0.0001)
}

func TestSelectWeightedDeterministicDraw(t *testing.T) {
	layer := &v1alpha1.Node{ID: "mood", Kind: v1alpha1.KindLayer, Layer: &v1alpha1.LayerPayload{}}
	a := trait("a", "mood", 10)
	b := trait("b", "mood", 30)
	store := &fakeStore{nodes: map[string]*v1alpha1.Node{"a": a, "b": b}}
	e := entity.New("e1", "cfg", 0)
	e.Layers["mood"] = &entity.LayerState{}

	// draw=0 -> falls in first candidate's cumulative bucket.
	node, err := SelectWeighted(store, e, layer, func() float64 { return 0 })
	require.NoError(t, err)
	require.NotNil(t, node)
}

func TestSelectWeightedNoEligible(t *testing.T) {
	layer := &v1alpha1.Node{ID: "mood", Kind: v1alpha1.KindLayer, Layer: &v1alpha1.LayerPayload{}}
	store := &fakeStore{nodes: map[string]*v1alpha1.Node{}}
	e := entity.New("e1", "cfg", 0)
	_, err := SelectWeighted(store, e, layer, func() float64 { return 0 })
	require.ErrorIs(t, err, ErrNoEligibleTraits)
}

func TestIncompatibleExcluded(t *testing.T) {
	layer := &v1alpha1.Node{ID: "mood", Kind: v1alpha1.KindLayer, Layer: &v1alpha1.LayerPayload{}}
	a := trait("a", "mood", 10)
	a.Trait.IncompatibleWith = []string{"b"}
	b := trait("b", "mood", 10)
	store := &fakeStore{nodes: map[string]*v1alpha1.Node{"a": a, "b": b}}
	e := entity.New("e1", "cfg", 0)
	e.Layers["mood"] = &entity.LayerState{Active: []string{"b"}}

	pool := BuildPool(store, e, layer)
	require.Len(t, pool, 0) // b is active so excluded as already-active; a excluded as incompatible with active b
}
