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
	"testing"

	"github.com/stretchr/testify/require"
)

func TestStoreCheckerReportsLimitReached(t *testing.T) {
	c := StoreChecker(func() (int, int) { return 100, 100 })
	status := c.Check(context.Background())
	require.False(t, status.Healthy)
	require.Contains(t, status.Message, "storage limit reached")
}

func TestStoreCheckerHealthyBelowLimit(t *testing.T) {
	c := StoreChecker(func() (int, int) { return 10, 100 })
	status := c.Check(context.Background())
	require.True(t, status.Healthy)
}

func TestPoolCheckerUnhealthyOverCapacity(t *testing.T) {
	c := PoolChecker("guards", func() (int, int, int) { return 8, 4, 10 })
	status := c.Check(context.Background())
	require.False(t, status.Healthy)
}

func TestStaticCheckerStable(t *testing.T) {
	c := NewStaticChecker("formula-cache", true, "all expressions compiled")
	status := c.Check(context.Background())
	require.True(t, status.Healthy)
	require.Equal(t, "all expressions compiled", status.Message)
}
