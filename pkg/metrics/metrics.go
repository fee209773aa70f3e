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

// Package metrics manages the engine's Prometheus collectors: entity
// population, spawn/tick/cascade counters, pool occupancy gauges and
// selection-failure counters, with centralized registration analogous
// to the donor's MetricsRegistry. Unlike the donor, this registry owns
// a single prometheus.Registry only — there is no OpenTelemetry meter
// and no component-base/metrics compatibility layer, since this
// package has no legacy Kubernetes registry to integrate with and no
// collector/exporter plugin lifecycle to manage (see DESIGN.md for the
// dropped dependencies).
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"k8s.io/klog/v2"
)

// Registry manages the engine's metrics and their lifecycle. A nil
// *Registry is valid: every method below no-ops, so metrics collection
// is opt-in for embedders that don't want a Prometheus dependency
// wired into their process.
type Registry struct {
	mu sync.RWMutex

	promRegistry *prometheus.Registry
	enabled      bool

	EntitiesSpawned  prometheus.Counter
	EntitiesStored   prometheus.Gauge
	TicksProcessed   prometheus.Counter
	CascadeRuns      prometheus.Counter
	SelectionFailure *prometheus.CounterVec
	PoolInUse        *prometheus.GaugeVec
	PoolAvailable    *prometheus.GaugeVec
}

// NewRegistry creates a new metrics registry. When enabled is false,
// the collectors still exist (so callers don't need nil checks) but
// Set*/Observe* calls are no-ops.
func NewRegistry(enabled bool) *Registry {
	r := &Registry{
		promRegistry: prometheus.NewRegistry(),
		enabled:      enabled,
		EntitiesSpawned: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: Namespace, Subsystem: subsystemEntity, Name: "spawned_total",
			Help: "Total entities generated by the Entity Spawner.",
		}),
		EntitiesStored: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: Namespace, Subsystem: subsystemEntity, Name: "stored",
			Help: "Current number of entities held by the Entity Store.",
		}),
		TicksProcessed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: Namespace, Subsystem: subsystemRuntime, Name: "ticks_total",
			Help: "Total per-entity ticks processed.",
		}),
		CascadeRuns: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: Namespace, Subsystem: subsystemCascade, Name: "runs_total",
			Help: "Total cascade-triple executions (one per flushed batch or inline mutation).",
		}),
		SelectionFailure: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace, Subsystem: subsystemSelection, Name: "failures_total",
			Help: "Total noEligibleTraits results, by layer.",
		}, []string{LabelLayer}),
		PoolInUse: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: Namespace, Subsystem: subsystemPool, Name: "in_use",
			Help: "Entities currently acquired from a pool.",
		}, []string{LabelPool}),
		PoolAvailable: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: Namespace, Subsystem: subsystemPool, Name: "available",
			Help: "Entities currently idle in a pool.",
		}, []string{LabelPool}),
	}

	r.promRegistry.MustRegister(r.EntitiesSpawned, r.EntitiesStored, r.TicksProcessed, r.CascadeRuns,
		r.SelectionFailure, r.PoolInUse, r.PoolAvailable)

	klog.Background().V(2).Info("created metrics registry", "enabled", enabled)
	return r
}

// Gatherer exposes the underlying registry for an embedder's own HTTP
// handler (e.g. promhttp.HandlerFor), keeping this package free of any
// opinion about how metrics are served over the wire.
func (r *Registry) Gatherer() prometheus.Gatherer {
	if r == nil {
		return prometheus.NewRegistry()
	}
	return r.promRegistry
}

// IsEnabled reports whether metrics recording is active.
func (r *Registry) IsEnabled() bool {
	if r == nil {
		return false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.enabled
}

// IncSpawned records one Entity Spawner generation.
func (r *Registry) IncSpawned() {
	if !r.IsEnabled() {
		return
	}
	r.EntitiesSpawned.Inc()
}

// SetStored records the Entity Store's current size.
func (r *Registry) SetStored(n int) {
	if !r.IsEnabled() {
		return
	}
	r.EntitiesStored.Set(float64(n))
}

// IncTick records one completed runtime.Tick call.
func (r *Registry) IncTick() {
	if !r.IsEnabled() {
		return
	}
	r.TicksProcessed.Inc()
}

// IncCascadeRun records one cascade recalculateRates/checkCompounds/
// calculateDerived triple execution.
func (r *Registry) IncCascadeRun() {
	if !r.IsEnabled() {
		return
	}
	r.CascadeRuns.Inc()
}

// ObserveSelectionFailure increments the per-layer noEligibleTraits
// counter.
func (r *Registry) ObserveSelectionFailure(layerID string) {
	if !r.IsEnabled() {
		return
	}
	r.SelectionFailure.WithLabelValues(layerID).Inc()
}

// SetPoolStats records a single pool's occupancy.
func (r *Registry) SetPoolStats(poolID string, inUse, available int) {
	if !r.IsEnabled() {
		return
	}
	r.PoolInUse.WithLabelValues(poolID).Set(float64(inUse))
	r.PoolAvailable.WithLabelValues(poolID).Set(float64(available))
}
