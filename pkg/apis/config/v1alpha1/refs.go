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

package v1alpha1

// Float64 returns a pointer to v, for populating the optional
// pointer-typed payload fields (VariablePayload.Initial,
// AttributePayload.DefaultRange) that distinguish "declared as zero"
// from "not declared" — a plain float64/array can't carry that
// distinction since its JSON zero value is indistinguishable from an
// absent field.
func Float64(v float64) *float64 {
	return &v
}

// FloatRange returns a pointer to the two-element [lo, hi] array used
// by AttributePayload.DefaultRange.
func FloatRange(lo, hi float64) *[2]float64 {
	return &[2]float64{lo, hi}
}
