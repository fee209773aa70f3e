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

// Package formula compiles and evaluates `derived` node formulas
// (spec.md §4.4.3, DESIGN NOTES strategy (c)): arithmetic plus
// comparison plus ternary over named node identifiers, with no side
// effects. It wraps cel-go the way the donor's pkg/policy/cel and
// pkg/placement/cel packages do: build one environment from the
// declared identifier set, compile each distinct source string once,
// and cache the compiled program keyed by that exact string.
package formula

import (
	"fmt"
	"regexp"
	"sync"

	"github.com/google/cel-go/cel"
	"k8s.io/klog/v2"
)

// Cache holds one compiled cel.Program per distinct formula source
// string. It is built once per loaded Config Store and is safe for
// concurrent read access once built (entries are added lazily but
// under a lock).
type Cache struct {
	mu      sync.RWMutex
	env     *cel.Env
	entries map[string]cel.Program
}

// NewCache builds a CEL environment declaring one dyn-typed variable
// per identifier (every attribute/variable/context/derived node id in
// the loaded config) so formulas can reference any of them.
func NewCache(identifiers []string) (*Cache, error) {
	opts := make([]cel.EnvOption, 0, len(identifiers))
	seen := map[string]bool{}
	for _, id := range identifiers {
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		opts = append(opts, cel.Variable(id, cel.DynType))
	}
	env, err := cel.NewEnv(opts...)
	if err != nil {
		return nil, fmt.Errorf("formula: building cel environment: %w", err)
	}
	return &Cache{env: env, entries: map[string]cel.Program{}}, nil
}

func (c *Cache) compile(source string) (cel.Program, error) {
	c.mu.RLock()
	if p, ok := c.entries[source]; ok {
		c.mu.RUnlock()
		return p, nil
	}
	c.mu.RUnlock()

	ast, iss := c.env.Compile(source)
	if iss != nil && iss.Err() != nil {
		return nil, fmt.Errorf("formula: compiling %q: %w", source, iss.Err())
	}
	prg, err := c.env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("formula: building program for %q: %w", source, err)
	}

	c.mu.Lock()
	c.entries[source] = prg
	c.mu.Unlock()
	return prg, nil
}

// Eval evaluates a formula against a variable context. A formula that
// fails to compile or evaluate is logged and reported as an error; per
// spec.md invariant 5 the caller (pkg/cascade) writes 0 on error
// rather than propagating it further.
func (c *Cache) Eval(source string, vars map[string]interface{}) (float64, error) {
	prg, err := c.compile(source)
	if err != nil {
		return 0, err
	}
	out, _, err := prg.Eval(vars)
	if err != nil {
		klog.Background().V(3).Info("formula evaluation failed", "formula", source, "err", err)
		return 0, fmt.Errorf("formula: evaluating %q: %w", source, err)
	}
	switch v := out.Value().(type) {
	case float64:
		return v, nil
	case int64:
		return float64(v), nil
	case bool:
		if v {
			return 1, nil
		}
		return 0, nil
	default:
		return 0, fmt.Errorf("formula: %q produced non-numeric result %v", source, out.Value())
	}
}

var identifierRE = regexp.MustCompile(`[A-Za-z_][A-Za-z0-9_]*`)

// ReferencedIdentifiers extracts the candidate identifier tokens from
// a formula source. It is a lightweight lexical scan, not a semantic
// one: CEL keywords/builtins that look like identifiers are returned
// too. Nothing else in this module calls it.
func ReferencedIdentifiers(source string) []string {
	return identifierRE.FindAllString(source, -1)
}
