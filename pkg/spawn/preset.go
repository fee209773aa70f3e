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
	"sort"

	v1alpha1 "github.com/kcp-dev/entisim/pkg/apis/config/v1alpha1"
	"github.com/kcp-dev/entisim/pkg/entity"
	"github.com/kcp-dev/entisim/pkg/selection"
)

// poolEntry is one weighted candidate in a preset's resolved pool.
type poolEntry struct {
	id     string
	weight float64
}

// ResolvePresetTraits resolves a preset's `traits` map (layerId -> spec)
// into a flat list of trait ids to force-activate, per spec.md §4.6.
func (s *Spawner) ResolvePresetTraits(e *entity.Entity, preset *v1alpha1.Preset) ([]string, error) {
	var resolved []string
	for layerID, spec := range preset.Traits {
		ids, err := s.resolveTraitSpec(e, layerID, spec)
		if err != nil {
			return resolved, fmt.Errorf("spawn: resolving preset traits for layer %q: %w", layerID, err)
		}
		resolved = append(resolved, ids...)
	}
	return resolved, nil
}

func (s *Spawner) resolveTraitSpec(e *entity.Entity, layerID string, spec interface{}) ([]string, error) {
	switch v := spec.(type) {
	case string:
		return []string{v}, nil
	case []interface{}:
		var ids []string
		for _, item := range v {
			if str, ok := item.(string); ok {
				ids = append(ids, str)
			}
		}
		return ids, nil
	case map[string]interface{}:
		return s.resolveTraitSpecObject(e, layerID, v)
	default:
		return nil, fmt.Errorf("unrecognized trait spec shape %T", spec)
	}
}

func (s *Spawner) resolveTraitSpecObject(e *entity.Entity, layerID string, spec map[string]interface{}) ([]string, error) {
	mode, _ := spec["mode"].(string)
	pool := s.buildPresetPool(e, layerID, spec)

	switch mode {
	case "weighted":
		id, ok := drawWeighted(pool, s.rand)
		if !ok {
			return nil, nil
		}
		return []string{id}, nil
	case "chance":
		chance, _ := spec["chance"].(float64)
		if s.rand() >= chance {
			return nil, nil
		}
		if len(pool) == 0 {
			return nil, nil
		}
		idx := int(s.rand() * float64(len(pool)))
		if idx >= len(pool) {
			idx = len(pool) - 1
		}
		return []string{pool[idx].id}, nil
	case "pickN":
		n := 1
		if nv, ok := spec["n"].(float64); ok {
			n = int(nv)
		}
		var picked []string
		working := append([]poolEntry(nil), pool...)
		for i := 0; i < n && len(working) > 0; i++ {
			id, ok := drawWeighted(working, s.rand)
			if !ok {
				break
			}
			picked = append(picked, id)
			for j, p := range working {
				if p.id == id {
					working = append(working[:j], working[j+1:]...)
					break
				}
			}
		}
		return picked, nil
	case "all":
		ids := make([]string, 0, len(pool))
		for _, p := range pool {
			ids = append(ids, p.id)
		}
		return ids, nil
	case "taxonomyFilter":
		return s.taxonomyFilterIDs(layerID, spec), nil
	default:
		return nil, fmt.Errorf("unrecognized preset trait mode %q", mode)
	}
}

// buildPresetPool reads spec["pool"] (a list of bare id strings or
// {id,weight} objects, default weight 1) into scored entries.
func (s *Spawner) buildPresetPool(_ *entity.Entity, _ string, spec map[string]interface{}) []poolEntry {
	raw, ok := spec["pool"].([]interface{})
	if !ok {
		return nil
	}
	entries := make([]poolEntry, 0, len(raw))
	for _, item := range raw {
		switch v := item.(type) {
		case string:
			entries = append(entries, poolEntry{id: v, weight: 1})
		case map[string]interface{}:
			id, _ := v["id"].(string)
			weight := 1.0
			if w, ok := v["weight"].(float64); ok {
				weight = w
			}
			entries = append(entries, poolEntry{id: id, weight: weight})
		}
	}
	return entries
}

// taxonomyFilterIDs builds a pool dynamically from every node whose
// taxonomy matches all filter keys and whose id is in the target
// layer's declared traitIds (spec.md §4.6 "taxonomyFilter").
func (s *Spawner) taxonomyFilterIDs(layerID string, spec map[string]interface{}) []string {
	layer, ok := s.store.Node(layerID)
	if !ok || layer.Layer == nil {
		return nil
	}
	allowed := map[string]bool{}
	for _, id := range layer.Layer.TraitIDs {
		allowed[id] = true
	}

	filter := map[string]string{}
	if raw, ok := spec["filter"].(map[string]interface{}); ok {
		for k, v := range raw {
			if str, ok := v.(string); ok {
				filter[k] = str
			}
		}
	}

	var ids []string
	for _, t := range s.store.Traits() {
		if !allowed[t.ID] {
			continue
		}
		if matchesTaxonomy(t.Taxonomy, filter) {
			ids = append(ids, t.ID)
		}
	}
	sort.Strings(ids)
	return ids
}

func matchesTaxonomy(tags map[string]string, filter map[string]string) bool {
	for k, v := range filter {
		if tags[k] != v {
			return false
		}
	}
	return true
}

func drawWeighted(pool []poolEntry, rng selection.Rand) (string, bool) {
	total := 0.0
	for _, p := range pool {
		total += p.weight
	}
	if total <= 0 {
		return "", false
	}
	draw := rng() * total
	cumulative := 0.0
	for _, p := range pool {
		cumulative += p.weight
		if draw < cumulative {
			return p.id, true
		}
	}
	return pool[len(pool)-1].id, true
}
