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
	"strings"

	v1alpha1 "github.com/kcp-dev/entisim/pkg/apis/config/v1alpha1"
	"github.com/kcp-dev/entisim/pkg/condition"
	"github.com/kcp-dev/entisim/pkg/entity"
)

// GetPoolForEntity implements spec.md §4.10's getPoolForEntity: an
// entity already pinned to a known pool stays there; otherwise every
// non-default pool with rules is scored and the winner (priority desc,
// then score desc) is returned, falling back to "default".
func (m *Manager) GetPoolForEntity(e *entity.Entity) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.getPoolForEntityLocked(e)
}

func (m *Manager) getPoolForEntityLocked(e *entity.Entity) string {
	if e.PoolID != "" {
		if _, ok := m.pools[e.PoolID]; ok {
			return e.PoolID
		}
	}

	var matches []ruleMatch
	for id, p := range m.pools {
		if id == defaultPoolID || len(p.rules) == 0 {
			continue
		}
		for _, rule := range p.rules {
			score, any := scoreRule(e, rule)
			if any {
				matches = append(matches, ruleMatch{poolID: id, priority: rule.Priority, score: score})
			}
		}
	}
	if len(matches) == 0 {
		return defaultPoolID
	}
	sortedRuleMatches(matches)
	return matches[0].poolID
}

// scoreRule sums condition.Weight (default 1) over every satisfied
// condition in the rule; a rule with zero satisfied conditions does
// not participate.
func scoreRule(e *entity.Entity, rule v1alpha1.PoolRule) (float64, bool) {
	score := 0.0
	satisfiedAny := false
	for _, c := range rule.Conditions {
		if !conditionSatisfied(e, c) {
			continue
		}
		satisfiedAny = true
		weight := c.Weight
		if weight == 0 {
			weight = 1
		}
		score += weight
	}
	return score, satisfiedAny
}

func conditionSatisfied(e *entity.Entity, c v1alpha1.PoolRuleCondition) bool {
	switch c.Source {
	case "preset":
		return globMatch(c.Match, e.PresetID)
	case "trait":
		return e.HasTrait(c.Target)
	case "modifier":
		return e.HasModifier(c.Target)
	case "compound":
		return e.HasCompound(c.Target)
	case "attribute", "variable":
		v, ok := condition.ValueForRelationship(e, c.Target)
		if !ok {
			return false
		}
		return condition.Compare(v, c.Value, c.Operator)
	default:
		return false
	}
}

// globMatch supports the single wildcard form spec.md §4.10 calls for:
// "*" matches any substring, anywhere in the pattern. No other glob
// metacharacters are recognized.
func globMatch(pattern, value string) bool {
	if pattern == "" {
		return false
	}
	if pattern == "*" {
		return true
	}
	segments := strings.Split(pattern, "*")
	if !strings.HasPrefix(value, segments[0]) {
		return false
	}
	value = value[len(segments[0]):]
	if !strings.HasPrefix(pattern, "*") && len(segments) == 1 {
		return value == ""
	}

	for i := 1; i < len(segments); i++ {
		seg := segments[i]
		if seg == "" {
			continue
		}
		idx := strings.Index(value, seg)
		if idx < 0 {
			return false
		}
		value = value[idx+len(seg):]
	}
	if !strings.HasSuffix(pattern, "*") {
		return value == ""
	}
	return true
}
