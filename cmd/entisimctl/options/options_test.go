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
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewOptionsDefaults(t *testing.T) {
	opts := NewOptions()
	assert.Equal(t, 1, opts.Count)
	assert.Equal(t, 1, opts.Ticks)
	assert.Equal(t, 1.0, opts.TickDeltaSeconds)
	assert.True(t, opts.MetricsEnabled)
	assert.Equal(t, 2, opts.LogLevel)
}

func TestAddFlagsRegistersEveryFlag(t *testing.T) {
	opts := NewOptions()
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	opts.AddFlags(fs)

	for _, name := range []string{"config", "preset", "count", "ticks", "tick-delta", "seed", "metrics-enabled", "metrics-addr", "health-addr", "log-level"} {
		require.NotNil(t, fs.Lookup(name), "flag %q should be registered", name)
	}
}

func TestValidateRequiresConfigAndPositiveCounts(t *testing.T) {
	opts := NewOptions()
	require.Error(t, opts.Validate(), "config is required")

	opts.ConfigFile = "doc.json"
	require.NoError(t, opts.Validate())

	opts.Count = 0
	require.Error(t, opts.Validate())
	opts.Count = 1

	opts.Ticks = -1
	require.Error(t, opts.Validate())
	opts.Ticks = 1

	opts.LogLevel = 11
	require.Error(t, opts.Validate())
}

func TestCompleteParsesConfigFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "doc.json")
	contents := `{"id":"test-config","nodes":[{"id":"hp","kind":"variable","variable":{"min":0,"max":100,"initial":100}}]}`
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))

	opts := NewOptions()
	opts.ConfigFile = path
	require.NoError(t, opts.Complete())
	assert.Equal(t, "test-config", opts.Doc.ID)
	require.Len(t, opts.Doc.Nodes, 1)
	assert.Equal(t, "hp", opts.Doc.Nodes[0].ID)
}

func TestCompleteFailsOnMissingFile(t *testing.T) {
	opts := NewOptions()
	opts.ConfigFile = "/nonexistent/doc.json"
	require.Error(t, opts.Complete())
}

