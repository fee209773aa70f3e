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

package main

import (
	"context"
	"math/rand"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/kcp-dev/entisim/cmd/entisimctl/options"
	"github.com/kcp-dev/entisim/pkg/spawn"
)

const sampleConfig = `{
  "id": "goblins",
  "nodes": [
    {"id": "hunger", "kind": "variable", "variable": {"min": 0, "max": 100, "initial": 50, "baseRate": -1, "changeMode": "timed", "direction": "deplete"}}
  ]
}`

func TestRunSpawnsAndTicksWithoutError(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "doc.json")
	require.NoError(t, os.WriteFile(path, []byte(sampleConfig), 0o644))

	opts := options.NewOptions()
	opts.ConfigFile = path
	opts.Count = 2
	opts.Ticks = 3

	require.NoError(t, run(context.Background(), opts))
}

func TestNewPoolManagerBuildsEngineFromDoc(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "doc.json")
	require.NoError(t, os.WriteFile(path, []byte(sampleConfig), 0o644))

	opts := options.NewOptions()
	opts.ConfigFile = path
	require.NoError(t, opts.Complete())

	pm, err := newPoolManager(opts, rand.New(rand.NewSource(1)), time.Now())
	require.NoError(t, err)

	e, err := pm.Spawn("", spawn.Overrides{})
	require.NoError(t, err)
	require.NotEmpty(t, e.ID)
}
