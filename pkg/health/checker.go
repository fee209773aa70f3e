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

package health

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// BaseChecker provides a basic Checker implementation that wraps a
// plain check function; embedded or used directly by component
// checkers (entity store, pool manager, formula cache).
type BaseChecker struct {
	name      string
	checkFunc func(ctx context.Context) Status
	lastCheck time.Time
	mutex     sync.RWMutex
}

// NewFuncChecker creates a Checker from a name and check function.
func NewFuncChecker(name string, checkFunc func(ctx context.Context) Status) Checker {
	return &BaseChecker{name: name, checkFunc: checkFunc}
}

// Name returns the checker's name.
func (b *BaseChecker) Name() string {
	return b.name
}

// Check runs the wrapped function and records the check time.
func (b *BaseChecker) Check(ctx context.Context) Status {
	defer func() {
		b.mutex.Lock()
		b.lastCheck = time.Now()
		b.mutex.Unlock()
	}()

	if b.checkFunc == nil {
		return Status{Healthy: false, Message: fmt.Sprintf("no check function defined for %s", b.name), Timestamp: time.Now()}
	}
	return b.checkFunc(ctx)
}

// LastCheck returns the timestamp of the last check.
func (b *BaseChecker) LastCheck() time.Time {
	b.mutex.RLock()
	defer b.mutex.RUnlock()
	return b.lastCheck
}

// StaticChecker always reports the same status; useful in tests and
// for components with no meaningful runtime health signal.
type StaticChecker struct {
	name      string
	status    Status
	lastCheck time.Time
	mutex     sync.RWMutex
}

// NewStaticChecker creates a Checker that always returns the same
// healthy/message pair, timestamped at check time.
func NewStaticChecker(name string, healthy bool, message string) Checker {
	return &StaticChecker{name: name, status: Status{Healthy: healthy, Message: message}}
}

// Name returns the checker's name.
func (s *StaticChecker) Name() string {
	return s.name
}

// Check returns the static status with a refreshed timestamp.
func (s *StaticChecker) Check(ctx context.Context) Status {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.lastCheck = time.Now()
	s.status.Timestamp = s.lastCheck
	return s.status
}

// LastCheck returns the timestamp of the last check.
func (s *StaticChecker) LastCheck() time.Time {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	return s.lastCheck
}

// StoreChecker reports entity store occupancy against maxEntities,
// grounded on spec.md §4.8 storageLimitReached handling: unhealthy
// once at capacity, since further spawns/acquires will fail.
func StoreChecker(sizeFn func() (count, max int)) Checker {
	return NewFuncChecker("entity-store", func(ctx context.Context) Status {
		count, max := sizeFn()
		healthy := max <= 0 || count < max
		msg := fmt.Sprintf("%d entities stored", count)
		if max > 0 {
			msg = fmt.Sprintf("%d/%d entities stored", count, max)
		}
		if !healthy {
			msg = fmt.Sprintf("storage limit reached: %s", msg)
		}
		return Status{Healthy: healthy, Message: msg, Timestamp: time.Now(),
			Details: map[string]interface{}{"count": count, "max": max}}
	})
}

// PoolChecker reports a single pool's acquire/release balance against
// its configured maxSize.
func PoolChecker(poolID string, statsFn func() (inUse, available, max int)) Checker {
	return NewFuncChecker("pool:"+poolID, func(ctx context.Context) Status {
		inUse, available, max := statsFn()
		healthy := max <= 0 || inUse+available <= max
		return Status{
			Healthy:   healthy,
			Message:   fmt.Sprintf("pool %s: %d in use, %d available (max %d)", poolID, inUse, available, max),
			Timestamp: time.Now(),
			Details:   map[string]interface{}{"inUse": inUse, "available": available, "max": max},
		}
	})
}
