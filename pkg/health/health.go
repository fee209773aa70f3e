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

package health

import (
	"context"
	"fmt"
	"time"
)

// Checker defines the interface for component health checking. Each
// engine component that wants to report health (entity store, pool
// manager, formula cache) implements this interface.
type Checker interface {
	// Name returns the unique name of the component being checked.
	Name() string

	// Check performs a health check and returns the current status.
	Check(ctx context.Context) Status

	// LastCheck returns the timestamp of the last check.
	LastCheck() time.Time
}

// Status represents the health status of a single component.
type Status struct {
	Healthy   bool                   `json:"healthy"`
	Message   string                 `json:"message"`
	Details   map[string]interface{} `json:"details,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
}

// String returns a human-readable representation of the status.
func (s Status) String() string {
	status := "UNHEALTHY"
	if s.Healthy {
		status = "HEALTHY"
	}
	return fmt.Sprintf("[%s] %s (checked at %s)", status, s.Message, s.Timestamp.Format(time.RFC3339))
}

// Aggregator combines multiple checkers into an overall system status.
type Aggregator interface {
	AddChecker(checker Checker)
	RemoveChecker(name string)
	CheckAll(ctx context.Context) SystemStatus
	CheckComponent(ctx context.Context, name string) (Status, error)
}

// SystemStatus represents the overall health of the engine.
type SystemStatus struct {
	Healthy      bool              `json:"healthy"`
	Message      string            `json:"message"`
	Components   map[string]Status `json:"components"`
	Timestamp    time.Time         `json:"timestamp"`
	HealthyCount int               `json:"healthy_count"`
	TotalCount   int               `json:"total_count"`
}

// String returns a human-readable representation of the system status.
func (s SystemStatus) String() string {
	status := "UNHEALTHY"
	if s.Healthy {
		status = "HEALTHY"
	}
	return fmt.Sprintf("[%s] %s (%d/%d components healthy, checked at %s)",
		status, s.Message, s.HealthyCount, s.TotalCount, s.Timestamp.Format(time.RFC3339))
}

// Configuration holds health-check settings. The aggregator reads only
// CheckTimeout; CheckInterval, MaxRetries and FailureThreshold are not
// read anywhere, and no check is retried.
type Configuration struct {
	CheckTimeout     time.Duration `json:"check_timeout"`
	CheckInterval    time.Duration `json:"check_interval"`
	MaxRetries       int           `json:"max_retries"`
	FailureThreshold int           `json:"failure_threshold"`
}

// DefaultConfiguration returns a default health configuration.
func DefaultConfiguration() Configuration {
	return Configuration{
		CheckTimeout:     5 * time.Second,
		CheckInterval:    10 * time.Second,
		MaxRetries:       2,
		FailureThreshold: 2,
	}
}
