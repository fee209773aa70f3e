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

// Package events implements the typed synchronous publish/subscribe bus
// (spec.md §6 "Events", event taxonomy at spec.md §6). Dispatch is
// synchronous and ordered by subscription order; a panicking listener
// is recovered, logged, and does not abort the remaining listeners or
// the emitting operation (spec.md §5 "Ordering guarantees"). The fixed
// Name taxonomy mirrors the donor's pkg/reconciler/tmc/events EventType
// constant set, but dispatch here is synchronous and in subscriber
// order rather than fanned out over goroutines with a timeout, since
// spec.md requires deterministic per-listener ordering and swallowed
// (not aggregated) handler failures.
package events

import (
	"sync"

	"k8s.io/klog/v2"
)

// Name is one of the fixed event taxonomy members.
type Name string

const (
	EntitySpawned        Name = "entitySpawned"
	EntityStored         Name = "entityStored"
	EntityActivated      Name = "entityActivated"
	EntityDeactivated    Name = "entityDeactivated"
	EntityRemoved        Name = "entityRemoved"
	VariableChanged      Name = "variableChanged"
	ModifierApplied      Name = "modifierApplied"
	ModifierRemoved      Name = "modifierRemoved"
	TraitActivated       Name = "traitActivated"
	TraitDeactivated     Name = "traitDeactivated"
	CompoundActivated    Name = "compoundActivated"
	CompoundDeactivated  Name = "compoundDeactivated"
	Tick                 Name = "tick"
	AutoTickStarted      Name = "autoTickStarted"
	AutoTickStopped      Name = "autoTickStopped"
	SnapshotTaken        Name = "snapshotTaken"
	EntityRolledBack     Name = "entityRolledBack"
	SpawnContextUpdated  Name = "spawnContextUpdated"
	PresetRegistered     Name = "presetRegistered"
	GroupCreated         Name = "groupCreated"
	AddedToGroup         Name = "addedToGroup"
	EntityAcquired       Name = "entityAcquired"
	EntityReleased       Name = "entityReleased"
	PoolCreated          Name = "poolCreated"
	PoolRemoved          Name = "poolRemoved"
	PoolConfigured       Name = "poolConfigured"
	PoolRulesUpdated     Name = "poolRulesUpdated"
	EntityMovedPool      Name = "entityMovedPool"
	StorageLimitReached  Name = "storageLimitReached"
)

// Payload is whatever the emitting operation wants listeners to see;
// the bus does not constrain its shape, matching the donor's own
// loosely-typed internal event recorder annotations.
type Payload map[string]interface{}

// Handler receives one emitted event.
type Handler func(name Name, payload Payload)

// Unsubscribe removes a previously registered handler.
type Unsubscribe func()

// Bus is a synchronous, per-instance event dispatcher. The zero value
// is not usable; construct with New.
type Bus struct {
	mu       sync.Mutex
	handlers map[Name][]subscription
	nextID   uint64
}

type subscription struct {
	id uint64
	h  Handler
}

// New returns an empty Bus.
func New() *Bus {
	return &Bus{handlers: map[Name][]subscription{}}
}

// On registers a handler for name, returning an Unsubscribe handle
// (spec.md §6 `on(event, cb) → unsubscribe`).
func (b *Bus) On(name Name, h Handler) Unsubscribe {
	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.handlers[name] = append(b.handlers[name], subscription{id: id, h: h})
	b.mu.Unlock()

	return func() { b.Off(name, id) }
}

// Off removes a specific subscription by id, the mechanism Unsubscribe
// closures call.
func (b *Bus) Off(name Name, id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	subs := b.handlers[name]
	for i, s := range subs {
		if s.id == id {
			b.handlers[name] = append(subs[:i], subs[i+1:]...)
			return
		}
	}
}

// Emit dispatches name to every subscriber in subscription order,
// synchronously. A handler that panics is recovered and logged; the
// remaining handlers still run and Emit does not propagate the panic
// to its caller (spec.md §5, §7 "Event-handler exceptions are caught
// and logged; they never abort the emitting operation").
func (b *Bus) Emit(name Name, payload Payload) {
	b.mu.Lock()
	subs := make([]subscription, len(b.handlers[name]))
	copy(subs, b.handlers[name])
	b.mu.Unlock()

	for _, s := range subs {
		dispatch(name, payload, s.h)
	}
}

func dispatch(name Name, payload Payload, h Handler) {
	defer func() {
		if r := recover(); r != nil {
			klog.Background().V(2).Info("event listener panicked", "event", name, "recovered", r)
		}
	}()
	h(name, payload)
}
