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

// maybeShrink is release's "schedule shrink check" (spec.md §4.10):
// since the engine has no internal timers, scheduling means recording
// lastActivityMS and leaving the actual quiet-period check to whatever
// periodic driver (the embedding host's tick loop, typically) calls
// ShrinkCheck/ShrinkCheckAll later. Calling it immediately after an
// acquire/release is harmless — quiet is 0 at that instant, so it
// never fires there.
func (m *Manager) maybeShrink(poolID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.shrinkLocked(poolID)
}

// ShrinkCheck evaluates one pool's idle-shrink condition.
func (m *Manager) ShrinkCheck(poolID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.shrinkLocked(poolID)
}

// ShrinkCheckAll evaluates every pool's idle-shrink condition, for a
// host driving this once per tick.
func (m *Manager) ShrinkCheckAll() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id := range m.pools {
		m.shrinkLocked(id)
	}
}

func (m *Manager) shrinkLocked(poolID string) {
	p, ok := m.pools[poolID]
	if !ok || p.cfg.ShrinkDelayMS <= 0 {
		return
	}

	quiet := m.now() - p.lastActivityMS
	if quiet < p.cfg.ShrinkDelayMS {
		return
	}

	available := len(p.entities)
	total := p.inUse + available
	if total == 0 || available <= minShrinkFloor {
		return
	}

	threshold := p.cfg.ShrinkThreshold
	if threshold <= 0 {
		threshold = defaultShrinkThreshold
	}
	if float64(p.inUse)/float64(total) >= threshold {
		return
	}

	target := available / 2
	if target < minShrinkFloor {
		target = minShrinkFloor
	}
	p.entities = p.entities[:target]
}
