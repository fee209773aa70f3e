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

package runtime

import (
	"time"

	"github.com/kcp-dev/entisim/pkg/events"
)

// TickAllFunc is supplied by the caller (the top-level engine, which
// owns the Entity Store) and ticks every active entity by
// deltaSeconds. The Loop itself has no entity-set view, only the
// per-entity Tick operation.
type TickAllFunc func(deltaSeconds float64)

// StartAutoTick starts a background timer invoking tickAll at the
// given rate, in milliseconds, until StopAutoTick is called. Idempotent:
// calling it again while already running is a no-op (spec.md §5
// "startAutoTick is idempotent").
func (l *Loop) StartAutoTick(rateMS int64, tickAll TickAllFunc) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.autoRunning {
		return
	}
	if rateMS <= 0 {
		rateMS = l.store.TickRateMS()
	}
	l.autoRunning = true
	l.autoStop = make(chan struct{})
	stop := l.autoStop

	go func() {
		ticker := time.NewTicker(time.Duration(rateMS) * time.Millisecond)
		defer ticker.Stop()
		deltaSeconds := float64(rateMS) / 1000.0
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				tickAll(deltaSeconds)
			}
		}
	}()

	l.emit(events.AutoTickStarted, nil)
}

// StopAutoTick clears the auto-tick timer; a no-op if not running.
func (l *Loop) StopAutoTick() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.autoRunning {
		return
	}
	close(l.autoStop)
	l.autoRunning = false
	l.emit(events.AutoTickStopped, nil)
}
