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

package condition

import (
	"testing"

	"github.com/stretchr/testify/require"

	v1alpha1 "github.com/kcp-dev/entisim/pkg/apis/config/v1alpha1"
	"github.com/kcp-dev/entisim/pkg/entity"
)

func newTestEntity() *entity.Entity {
	e := entity.New("e1", "cfg", 0)
	e.Variables["hunger"] = &entity.VarState{Value: 60}
	e.Attributes["strength"] = 10
	e.Layers["mood"] = &entity.LayerState{Active: []string{"grumpy"}}
	return e
}

func TestEvaluateLeaf(t *testing.T) {
	e := newTestEntity()
	c := &v1alpha1.Condition{Type: v1alpha1.CondVariable, Target: "hunger", Operator: "<=", Value: 20.0}
	require.False(t, Evaluate(c, e))

	c2 := &v1alpha1.Condition{Type: v1alpha1.CondVariable, Target: "hunger", Operator: ">=", Value: 40.0}
	require.True(t, Evaluate(c2, e))
}

func TestEvaluateActiveInactive(t *testing.T) {
	e := newTestEntity()
	c := &v1alpha1.Condition{Type: v1alpha1.CondTrait, Target: "grumpy", Operator: "active"}
	require.True(t, Evaluate(c, e))

	c2 := &v1alpha1.Condition{Type: v1alpha1.CondTrait, Target: "grumpy", Operator: "inactive"}
	require.False(t, Evaluate(c2, e))
}

func TestEvaluateAllAny(t *testing.T) {
	e := newTestEntity()
	allC := &v1alpha1.Condition{All: []v1alpha1.Condition{
		{Type: v1alpha1.CondVariable, Target: "hunger", Operator: ">=", Value: 10.0},
		{Type: v1alpha1.CondAttribute, Target: "strength", Operator: ">=", Value: 5.0},
	}}
	require.True(t, Evaluate(allC, e))

	anyC := &v1alpha1.Condition{Any: []v1alpha1.Condition{
		{Type: v1alpha1.CondVariable, Target: "hunger", Operator: "<", Value: 10.0},
		{Type: v1alpha1.CondAttribute, Target: "strength", Operator: ">=", Value: 5.0},
	}}
	require.True(t, Evaluate(anyC, e))
}

func TestEvaluateOrderedConnectors(t *testing.T) {
	e := newTestEntity()
	list := []v1alpha1.Condition{
		{Type: v1alpha1.CondVariable, Target: "hunger", Operator: ">=", Value: 100.0}, // false
		{Type: v1alpha1.CondAttribute, Target: "strength", Operator: ">=", Value: 5.0, Connector: v1alpha1.ConnectorOR}, // true, OR'd in
	}
	require.True(t, EvaluateList(list, "", e))

	list2 := []v1alpha1.Condition{
		{Type: v1alpha1.CondVariable, Target: "hunger", Operator: ">=", Value: 100.0}, // false
		{Type: v1alpha1.CondAttribute, Target: "strength", Operator: ">=", Value: 5.0}, // default AND
	}
	require.False(t, EvaluateList(list2, "", e))
}

func TestEvaluateLegacyLogic(t *testing.T) {
	e := newTestEntity()
	list := []v1alpha1.Condition{
		{Type: v1alpha1.CondVariable, Target: "hunger", Operator: ">=", Value: 10.0},
		{Type: v1alpha1.CondAttribute, Target: "strength", Operator: ">=", Value: 5.0},
	}
	require.True(t, EvaluateList(list, "any", e))
}

func TestEvaluateMissingTarget(t *testing.T) {
	e := newTestEntity()
	c := &v1alpha1.Condition{Type: v1alpha1.CondVariable, Target: "unknown", Operator: "=="}
	require.False(t, Evaluate(c, e))
	c2 := &v1alpha1.Condition{Type: v1alpha1.CondVariable, Target: "unknown", Operator: "!="}
	require.True(t, Evaluate(c2, e))
}
