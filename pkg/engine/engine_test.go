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
	"testing"

	"github.com/stretchr/testify/require"

	v1alpha1 "github.com/kcp-dev/entisim/pkg/apis/config/v1alpha1"
	"github.com/kcp-dev/entisim/pkg/pool"
	"github.com/kcp-dev/entisim/pkg/spawn"
)

func testDoc() v1alpha1.Document {
	return v1alpha1.Document{
		ID: "goblins",
		Nodes: []v1alpha1.Node{
			{ID: "strength", Kind: v1alpha1.KindAttribute, Attribute: &v1alpha1.AttributePayload{
				Min: 0, Max: 100, DefaultRange: v1alpha1.FloatRange(10, 20),
			}},
			{ID: "hunger", Kind: v1alpha1.KindVariable, Variable: &v1alpha1.VariablePayload{
				Min: 0, Max: 100, Initial: v1alpha1.Float64(50), BaseRate: -1, ChangeMode: v1alpha1.ChangeModeTimed, Direction: v1alpha1.DirectionDeplete,
			}},
			{ID: "mood", Kind: v1alpha1.KindLayer, Layer: &v1alpha1.LayerPayload{
				Selection: v1alpha1.LayerSelection{Mode: v1alpha1.SelectionWeighted, InitialRolls: 1},
				Timing:    v1alpha1.LayerTiming{RollAt: v1alpha1.RollAtSpawn, RerollAllowed: true},
			}},
			{ID: "happy", Kind: v1alpha1.KindTrait, Trait: &v1alpha1.TraitPayload{
				LayerID: "mood", Selection: v1alpha1.TraitSelection{BaseWeight: 10},
			}},
			{ID: "grumpy", Kind: v1alpha1.KindTrait, Trait: &v1alpha1.TraitPayload{
				LayerID: "mood", Selection: v1alpha1.TraitSelection{BaseWeight: 10},
			}},
			{ID: "forage", Kind: v1alpha1.KindAction, Action: &v1alpha1.ActionPayload{
				BaseWeight: 1, Cooldown: 10, Costs: map[string]float64{"hunger": 5},
			}},
		},
	}
}

func TestNewLoadsConfigAndSpawns(t *testing.T) {
	em, err := New("goblins", testDoc(), func() float64 { return 0.1 }, func() int64 { return 0 }, false)
	require.NoError(t, err)

	e, err := em.Spawn("", spawn.Overrides{})
	require.NoError(t, err)
	require.NotEmpty(t, e.ID)

	got, ok := em.GetState(e.ID)
	require.True(t, ok)
	require.Same(t, e, got)
}

func TestTickDepletesTimedVariable(t *testing.T) {
	em, err := New("goblins", testDoc(), func() float64 { return 0 }, func() int64 { return 0 }, false)
	require.NoError(t, err)

	e, err := em.Spawn("", spawn.Overrides{})
	require.NoError(t, err)
	require.True(t, em.Tick(e.ID, 10))
	require.Equal(t, 40.0, e.Variables["hunger"].Value)
}

func TestModifyAndSetVariable(t *testing.T) {
	em, err := New("goblins", testDoc(), func() float64 { return 0 }, func() int64 { return 0 }, false)
	require.NoError(t, err)
	e, err := em.Spawn("", spawn.Overrides{})
	require.NoError(t, err)

	require.True(t, em.ModifyVariable(e.ID, "hunger", -20))
	require.Equal(t, 30.0, e.Variables["hunger"].Value)

	require.True(t, em.SetVariable(e.ID, "hunger", 5))
	require.Equal(t, 5.0, e.Variables["hunger"].Value)

	require.False(t, em.SetVariable(e.ID, "unknown", 1))
}

// thresholdModifierDoc is the literal S2 scenario from spec.md: two
// exclusive hunger-threshold modifiers ("hungry" below 50, "critical"
// below 10) where only the most specific (tightest bound) qualifier
// should end up active.
func thresholdModifierDoc() v1alpha1.Document {
	doc := testDoc()
	doc.Nodes = append(doc.Nodes,
		v1alpha1.Node{ID: "hungry", Kind: v1alpha1.KindModifier, Modifier: &v1alpha1.ModifierPayload{
			Trigger:       v1alpha1.ModifierTrigger{Target: "hunger", Operator: "<", Value: 50},
			ExclusiveWith: v1alpha1.StringList{"critical"},
		}},
		v1alpha1.Node{ID: "critical", Kind: v1alpha1.KindModifier, Modifier: &v1alpha1.ModifierPayload{
			Trigger:       v1alpha1.ModifierTrigger{Target: "hunger", Operator: "<", Value: 10},
			ExclusiveWith: v1alpha1.StringList{"hungry"},
		}},
	)
	return doc
}

func TestSetVariableRunsThresholdArbiter(t *testing.T) {
	em, err := New("goblins", thresholdModifierDoc(), func() float64 { return 0 }, func() int64 { return 0 }, false)
	require.NoError(t, err)
	e, err := em.Spawn("", spawn.Overrides{})
	require.NoError(t, err)
	require.False(t, e.HasModifier("hungry"))
	require.False(t, e.HasModifier("critical"))

	require.True(t, em.SetVariable(e.ID, "hunger", 5))

	require.False(t, e.HasModifier("hungry"))
	require.True(t, e.HasModifier("critical"))
}

func TestModifyVariableRunsThresholdArbiter(t *testing.T) {
	em, err := New("goblins", thresholdModifierDoc(), func() float64 { return 0 }, func() int64 { return 0 }, false)
	require.NoError(t, err)
	e, err := em.Spawn("", spawn.Overrides{})
	require.NoError(t, err)

	require.True(t, em.ModifyVariable(e.ID, "hunger", -45))

	require.False(t, e.HasModifier("hungry"))
	require.True(t, e.HasModifier("critical"))
}

func TestActionLifecycleThroughEntityManager(t *testing.T) {
	em, err := New("goblins", testDoc(), func() float64 { return 0 }, func() int64 { return 0 }, false)
	require.NoError(t, err)
	e, err := em.Spawn("", spawn.Overrides{})
	require.NoError(t, err)

	require.True(t, em.IsActionAvailable(e.ID, "forage"))
	effects, err := em.ExecuteAction(e.ID, "forage")
	require.NoError(t, err)
	require.Nil(t, effects)
	require.Equal(t, 10.0, em.GetActionCooldown(e.ID, "forage"))
	require.False(t, em.IsActionAvailable(e.ID, "forage"))
}

func TestRollLayerRerollsMoodTrait(t *testing.T) {
	em, err := New("goblins", testDoc(), func() float64 { return 0 }, func() int64 { return 0 }, false)
	require.NoError(t, err)
	e, err := em.Spawn("", spawn.Overrides{})
	require.NoError(t, err)
	require.Len(t, e.Layers["mood"].Active, 1)

	require.NoError(t, em.RollLayer(e.ID, "mood"))
	require.Len(t, e.Layers["mood"].Active, 1)
}

func TestPreviewInfluencesEmptyWithoutRelationships(t *testing.T) {
	em, err := New("goblins", testDoc(), func() float64 { return 0 }, func() int64 { return 0 }, false)
	require.NoError(t, err)
	require.Empty(t, em.PreviewInfluences("strength"))
}

func TestPoolManagerExportImportRoundTrips(t *testing.T) {
	em, err := New("goblins", testDoc(), func() float64 { return 0 }, func() int64 { return 0 }, false)
	require.NoError(t, err)
	pm := NewPoolManager(em)

	e, err := pm.Spawn("", spawn.Overrides{})
	require.NoError(t, err)

	doc := pm.Export()
	require.Equal(t, "goblins", doc.Config.ID)
	require.Len(t, doc.Entities, 1)
	require.Equal(t, []string{e.ID}, doc.ActiveIDs)
	require.NotEmpty(t, doc.Pools)

	em2, err := New("goblins", testDoc(), func() float64 { return 0 }, func() int64 { return 0 }, false)
	require.NoError(t, err)
	pm2 := NewPoolManager(em2)
	require.NoError(t, pm2.Import(doc))

	got, ok := pm2.GetState(e.ID)
	require.True(t, ok)
	require.Equal(t, e.Attributes, got.Attributes)
}

func TestPoolManagerAcquireRelease(t *testing.T) {
	em, err := New("goblins", testDoc(), func() float64 { return 0 }, func() int64 { return 0 }, false)
	require.NoError(t, err)
	pm := NewPoolManager(em)

	e, err := pm.Acquire(pool.AcquireRequest{})
	require.NoError(t, err)
	require.True(t, pm.Release(e.ID, ""))

	stats, ok := pm.GetPoolStats("default")
	require.True(t, ok)
	require.Equal(t, 1, stats.Available)
}
