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

// Package health provides health monitoring for the engine's internal
// components: the entity store (size vs. maxEntities), pool manager
// (acquire/release backlog), and formula cache (CEL compilation
// failures). Components report their health via Checker; Aggregator
// combines them into one system-wide status for an embedder's own
// readiness endpoint.
//
// Usage:
//
//	checker := health.NewFuncChecker("entity-store", func(ctx context.Context) health.Status {
//	    return health.Status{Healthy: true, Message: "42/1000 entities stored"}
//	})
//
//	aggregator := health.NewAggregator(health.DefaultConfiguration())
//	aggregator.AddChecker(checker)
//	systemHealth := aggregator.CheckAll(context.Background())
package health
