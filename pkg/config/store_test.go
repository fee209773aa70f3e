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

package config

import (
	"testing"

	"github.com/stretchr/testify/require"

	v1alpha1 "github.com/kcp-dev/entisim/pkg/apis/config/v1alpha1"
)

func TestLoadNormalizeVariablePreservesExplicitZeroInitial(t *testing.T) {
	doc := v1alpha1.Document{
		ID: "cfg",
		Nodes: []v1alpha1.Node{
			{ID: "wounds", Kind: v1alpha1.KindVariable, Variable: &v1alpha1.VariablePayload{
				Min: 0, Max: 100, Initial: v1alpha1.Float64(0), BaseRate: 1,
			}},
		},
	}

	s, err := Load(doc)
	require.NoError(t, err)

	n, ok := s.Node("wounds")
	require.True(t, ok)
	require.NotNil(t, n.Variable.Initial)
	require.Equal(t, 0.0, *n.Variable.Initial)
}

func TestLoadNormalizeVariableFillsUndeclaredInitial(t *testing.T) {
	doc := v1alpha1.Document{
		ID: "cfg",
		Nodes: []v1alpha1.Node{
			{ID: "hunger", Kind: v1alpha1.KindVariable, Variable: &v1alpha1.VariablePayload{
				Min: 0, Max: 100,
			}},
		},
	}

	s, err := Load(doc)
	require.NoError(t, err)

	n, ok := s.Node("hunger")
	require.True(t, ok)
	require.NotNil(t, n.Variable.Initial)
	require.Equal(t, float64(defaultInitial), *n.Variable.Initial)
}
