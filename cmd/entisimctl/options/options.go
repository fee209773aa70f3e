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

package options

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/pflag"

	v1alpha1 "github.com/kcp-dev/entisim/pkg/apis/config/v1alpha1"
)

// Options holds entisimctl's command-line configuration.
type Options struct {
	// ConfigFile is the path to a JSON-encoded v1alpha1.Document.
	ConfigFile string

	// PresetID, if set, is passed to spawn() for every spawned entity.
	PresetID string

	// Count is how many entities to spawn before driving ticks.
	Count int

	// Ticks is how many tick() calls to run, each advancing by
	// TickDeltaSeconds.
	Ticks int

	// TickDeltaSeconds is the Δs passed to each tick.
	TickDeltaSeconds float64

	// Seed seeds the deterministic PRNG entisimctl hands to the
	// engine in place of a real entropy source, for reproducible runs.
	Seed int64

	// MetricsEnabled toggles Prometheus instrumentation.
	MetricsEnabled bool

	// MetricsAddr, if non-empty, serves /metrics on this address.
	MetricsAddr string

	// HealthAddr, if non-empty, serves /healthz on this address.
	HealthAddr string

	// LogLevel sets klog verbosity.
	LogLevel int

	// Doc is the parsed config document (populated by Complete()).
	Doc v1alpha1.Document
}

// NewOptions returns an Options populated with defaults.
func NewOptions() *Options {
	return &Options{
		Count:            1,
		Ticks:            1,
		TickDeltaSeconds: 1,
		Seed:             1,
		MetricsEnabled:   true,
		LogLevel:         2,
	}
}

// AddFlags registers every Options field as a command-line flag.
func (o *Options) AddFlags(fs *pflag.FlagSet) {
	fs.StringVar(&o.ConfigFile, "config", o.ConfigFile, "Path to a JSON-encoded entity-simulation config document")
	fs.StringVar(&o.PresetID, "preset", o.PresetID, "Preset id to spawn entities from, if any")
	fs.IntVar(&o.Count, "count", o.Count, "Number of entities to spawn")
	fs.IntVar(&o.Ticks, "ticks", o.Ticks, "Number of ticks to run after spawning")
	fs.Float64Var(&o.TickDeltaSeconds, "tick-delta", o.TickDeltaSeconds, "Simulated seconds advanced per tick")
	fs.Int64Var(&o.Seed, "seed", o.Seed, "Seed for the deterministic PRNG handed to the engine")
	fs.BoolVar(&o.MetricsEnabled, "metrics-enabled", o.MetricsEnabled, "Enable Prometheus instrumentation")
	fs.StringVar(&o.MetricsAddr, "metrics-addr", o.MetricsAddr, "Address to serve /metrics on, e.g. :9090 (empty disables)")
	fs.StringVar(&o.HealthAddr, "health-addr", o.HealthAddr, "Address to serve /healthz on, e.g. :8081 (empty disables)")
	fs.IntVar(&o.LogLevel, "log-level", o.LogLevel, "Log level verbosity (0-10)")
}

// Validate checks option values for internal consistency.
func (o *Options) Validate() error {
	if o.ConfigFile == "" {
		return fmt.Errorf("config is required")
	}
	if o.Count <= 0 {
		return fmt.Errorf("count must be positive, got %d", o.Count)
	}
	if o.Ticks < 0 {
		return fmt.Errorf("ticks must not be negative, got %d", o.Ticks)
	}
	if o.LogLevel < 0 || o.LogLevel > 10 {
		return fmt.Errorf("log-level must be between 0 and 10, got %d", o.LogLevel)
	}
	return nil
}

// Complete reads and parses ConfigFile into Doc.
func (o *Options) Complete() error {
	raw, err := os.ReadFile(o.ConfigFile)
	if err != nil {
		return fmt.Errorf("reading config %q: %w", o.ConfigFile, err)
	}
	var doc v1alpha1.Document
	if err := json.Unmarshal(raw, &doc); err != nil {
		return fmt.Errorf("parsing config %q: %w", o.ConfigFile, err)
	}
	o.Doc = doc
	return nil
}
