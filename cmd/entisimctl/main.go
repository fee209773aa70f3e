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

// entisimctl is a demo CLI for the entity simulation engine: load a
// config document, spawn a handful of entities, drive a fixed number
// of ticks, and print the resulting state. It is illustrative glue
// around pkg/engine, not the library's public contract (spec.md §6
// treats the CLI/library surface as "any idiomatic binding").
package main

import (
	"context"
	"fmt"
	"math/rand"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"k8s.io/klog/v2"

	"github.com/kcp-dev/entisim/cmd/entisimctl/options"
	"github.com/kcp-dev/entisim/pkg/engine"
	"github.com/kcp-dev/entisim/pkg/entity"
	"github.com/kcp-dev/entisim/pkg/spawn"
)

func main() {
	opts := options.NewOptions()

	cmd := &cobra.Command{
		Use:   "entisimctl",
		Short: "Load a config, spawn entities, drive ticks, print state",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), opts)
		},
	}
	opts.AddFlags(cmd.Flags())

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := cmd.ExecuteContext(ctx); err != nil {
		klog.Background().Error(err, "entisimctl failed")
		os.Exit(1)
	}
}

func run(ctx context.Context, opts *options.Options) error {
	if err := opts.Validate(); err != nil {
		return fmt.Errorf("invalid options: %w", err)
	}
	if err := opts.Complete(); err != nil {
		return err
	}

	logger := klog.Background().WithName("entisimctl")
	src := rand.New(rand.NewSource(opts.Seed))
	clockStart := time.Now()

	pm, err := newPoolManager(opts, src, clockStart)
	if err != nil {
		return fmt.Errorf("building engine: %w", err)
	}

	stopServers := startServers(ctx, opts, pm)
	defer stopServers()

	ids := make([]string, 0, opts.Count)
	for i := 0; i < opts.Count; i++ {
		e, err := pm.Spawn(opts.PresetID, spawn.Overrides{})
		if err != nil {
			return fmt.Errorf("spawning entity %d: %w", i, err)
		}
		ids = append(ids, e.ID)
		logger.V(2).Info("spawned entity", "entityId", e.ID)
	}

	for i := 0; i < opts.Ticks; i++ {
		pm.TickAll(opts.TickDeltaSeconds)
		pm.ShrinkCheckAll()
	}

	for _, id := range ids {
		e, ok := pm.GetState(id)
		if !ok {
			continue
		}
		printEntity(e)
	}

	return nil
}

func newPoolManager(opts *options.Options, src *rand.Rand, start time.Time) (*engine.PoolManager, error) {
	randFn := func() float64 { return src.Float64() }
	clockFn := func() int64 { return time.Since(start).Milliseconds() }

	em, err := engine.New(opts.Doc.ID, opts.Doc, randFn, clockFn, opts.MetricsEnabled)
	if err != nil {
		return nil, err
	}
	return engine.NewPoolManager(em), nil
}

func printEntity(e *entity.Entity) {
	bold := color.New(color.Bold)
	bold.Printf("entity %s\n", e.ID)
	for varID, vs := range e.Variables {
		fmt.Printf("  variable %-20s value=%-10.2f rate=%.2f\n", varID, vs.Value, vs.CurrentRate)
	}
	for layerID, ls := range e.Layers {
		fmt.Printf("  layer    %-20s active=%v\n", layerID, ls.Active)
	}
	if len(e.Modifiers) > 0 {
		fmt.Printf("  modifiers %v\n", e.Modifiers)
	}
	if len(e.Compounds) > 0 {
		fmt.Printf("  compounds %v\n", e.Compounds)
	}
}

func startServers(ctx context.Context, opts *options.Options, pm *engine.PoolManager) func() {
	var servers []*http.Server

	if opts.HealthAddr != "" {
		mux := http.NewServeMux()
		mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
			status := pm.Health().CheckAll(r.Context())
			if !status.Healthy {
				w.WriteHeader(http.StatusServiceUnavailable)
			}
			fmt.Fprintln(w, status.String())
		})
		s := &http.Server{Addr: opts.HealthAddr, Handler: mux}
		servers = append(servers, s)
		go func() {
			if err := s.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				klog.Background().Error(err, "health server error")
			}
		}()
	}

	if opts.MetricsAddr != "" && opts.MetricsEnabled {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(pm.Metrics().Gatherer(), promhttp.HandlerOpts{}))
		s := &http.Server{Addr: opts.MetricsAddr, Handler: mux}
		servers = append(servers, s)
		go func() {
			if err := s.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				klog.Background().Error(err, "metrics server error")
			}
		}()
	}

	return func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		for _, s := range servers {
			_ = s.Shutdown(shutdownCtx)
		}
	}
}
