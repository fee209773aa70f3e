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
	"fmt"

	v1alpha1 "github.com/kcp-dev/entisim/pkg/apis/config/v1alpha1"
	"github.com/kcp-dev/entisim/pkg/entity"
	"github.com/kcp-dev/entisim/pkg/selection"
)

// RollLayer is the external Traits.rollLayer operation (spec.md §6):
// a manual reroll of one layer, clearing its active set and drawing
// again per the layer's declared selection.mode. This generalizes the
// Spawner's own internal rollLayer, which only ever needs the weighted
// path during spawn ordering.
func (s *Spawner) RollLayer(e *entity.Entity, layerID string) error {
	n, ok := s.store.Node(layerID)
	if !ok || n.Layer == nil {
		return fmt.Errorf("spawn: unknown layer %q", layerID)
	}
	ss, ok := s.store.(selection.Store)
	if !ok {
		return fmt.Errorf("spawn: store does not support selection")
	}

	layerState := e.Layers[layerID]
	if layerState == nil {
		layerState = &entity.LayerState{}
		e.Layers[layerID] = layerState
	}
	layerState.Active = nil

	s.cascade.BeginBatch()
	defer s.cascade.EndBatch()

	switch n.Layer.Selection.Mode {
	case v1alpha1.SelectionAllMatching:
		for _, t := range selection.SelectAllMatching(ss, e, n) {
			selection.Activate(ss, e, n, t)
		}
	case v1alpha1.SelectionPickN:
		// SelectPickN activates as it draws (it needs each pick
		// reflected in the pool before drawing the next one).
		if _, err := selection.SelectPickN(ss, e, n, n.Layer.Selection.MaxItems, s.rand); err != nil {
			return err
		}
	case v1alpha1.SelectionFirstMatch:
		if t, ok := selection.SelectFirstMatch(ss, e, n); ok {
			selection.Activate(ss, e, n, t)
		}
	default:
		rolls := n.Layer.Selection.InitialRolls
		if rolls <= 0 {
			rolls = 1
		}
		for i := 0; i < rolls; i++ {
			t, err := selection.SelectWeighted(ss, e, n, s.rand)
			if err != nil {
				continue
			}
			selection.Activate(ss, e, n, t)
		}
	}

	layerState.LastRollMS = s.now()
	s.cascade.Run(e)
	return nil
}

// RollOutcome is the external Traits.rollOutcome operation (spec.md
// §6): n independent weighted draws against a layer's eligible pool,
// returned as candidate trait ids without touching the entity's active
// state. Distinct from RollLayer, which commits its draws — rollOutcome
// previews what a draw would produce (e.g. for a loot-style roll table
// read by the caller before deciding whether to apply it).
func (s *Spawner) RollOutcome(e *entity.Entity, layerID string, n int) ([]string, error) {
	if n <= 0 {
		n = 1
	}
	nd, ok := s.store.Node(layerID)
	if !ok || nd.Layer == nil {
		return nil, fmt.Errorf("spawn: unknown layer %q", layerID)
	}
	ss, ok := s.store.(selection.Store)
	if !ok {
		return nil, fmt.Errorf("spawn: store does not support selection")
	}

	out := make([]string, 0, n)
	for i := 0; i < n; i++ {
		t, err := selection.SelectWeighted(ss, e, nd, s.rand)
		if err != nil {
			continue
		}
		out = append(out, t.ID)
	}
	return out, nil
}
