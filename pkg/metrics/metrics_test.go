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

package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestNewRegistryEnabledState(t *testing.T) {
	enabled := NewRegistry(true)
	require.True(t, enabled.IsEnabled())

	disabled := NewRegistry(false)
	require.False(t, disabled.IsEnabled())
}

func TestDisabledRegistryRecordsNothing(t *testing.T) {
	r := NewRegistry(false)
	r.IncSpawned()
	r.SetStored(5)
	r.IncTick()
	r.IncCascadeRun()
	r.ObserveSelectionFailure("mood")
	r.SetPoolStats("guards", 2, 3)

	require.Equal(t, float64(0), testutil.ToFloat64(r.EntitiesSpawned))
	require.Equal(t, float64(0), testutil.ToFloat64(r.EntitiesStored))
}

func TestEnabledRegistryRecords(t *testing.T) {
	r := NewRegistry(true)
	r.IncSpawned()
	r.IncSpawned()
	r.SetStored(7)
	r.IncTick()
	r.IncCascadeRun()
	r.ObserveSelectionFailure("mood")
	r.SetPoolStats("guards", 2, 3)

	require.Equal(t, float64(2), testutil.ToFloat64(r.EntitiesSpawned))
	require.Equal(t, float64(7), testutil.ToFloat64(r.EntitiesStored))
	require.Equal(t, float64(1), testutil.ToFloat64(r.TicksProcessed))
	require.Equal(t, float64(1), testutil.ToFloat64(r.CascadeRuns))
	require.Equal(t, float64(1), testutil.ToFloat64(r.SelectionFailure.WithLabelValues("mood")))
	require.Equal(t, float64(2), testutil.ToFloat64(r.PoolInUse.WithLabelValues("guards")))
	require.Equal(t, float64(3), testutil.ToFloat64(r.PoolAvailable.WithLabelValues("guards")))
}

func TestNilRegistrySafe(t *testing.T) {
	var r *Registry
	require.False(t, r.IsEnabled())
	require.NotPanics(t, func() {
		r.IncSpawned()
		r.SetStored(1)
		r.ObserveSelectionFailure("mood")
	})
	require.NotNil(t, r.Gatherer())
}
