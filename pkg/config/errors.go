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

package config

import "fmt"

// ConfigError is the taxonomy's fatal, load-time error (spec.md §7).
// loadConfig collects every validation failure it finds via multierr
// rather than stopping at the first, so an operator sees the whole
// list of broken references in one pass.
type ConfigError struct {
	Reason string
	NodeID string
}

func (e *ConfigError) Error() string {
	if e.NodeID != "" {
		return fmt.Sprintf("config: %s (node %q)", e.Reason, e.NodeID)
	}
	return fmt.Sprintf("config: %s", e.Reason)
}

func newConfigError(nodeID, format string, args ...interface{}) *ConfigError {
	return &ConfigError{Reason: fmt.Sprintf(format, args...), NodeID: nodeID}
}
