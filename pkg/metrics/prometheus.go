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

// Engine metric names follow Prometheus best practices with the
// entisim_ namespace prefix.
const (
	Namespace = "entisim"

	subsystemEntity    = "entity"
	subsystemSelection = "selection"
	subsystemCascade   = "cascade"
	subsystemPool      = "pool"
	subsystemRuntime   = "runtime"
)

// Common label names used across engine metrics.
const (
	LabelLayer  = "layer"
	LabelPool   = "pool"
	LabelConfig = "config"
)

// Standard bucket definitions, kept for any future histogram/summary
// metrics (tick duration, selection latency) beyond the counters and
// gauges Registry registers today.
var (
	// LatencyBuckets measures operation latencies in seconds.
	LatencyBuckets = []float64{
		0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0,
	}

	// SizeBuckets measures entity counts, pool sizes and similar.
	SizeBuckets = []float64{
		1, 5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000,
	}
)
