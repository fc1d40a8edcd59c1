// Copyright 2025 Nguyen Nhat Nguyen
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package resilience retries a zero-argument operation under a Policy:
// bounded exponential backoff with jitter, an optional per-attempt timeout,
// and error classification deciding which failures are transient.
//
// Attempts of one Do call are strictly sequential. When every attempt fails
// the caller either receives the original error (Policy.RaiseOnFailure) or a
// *Failure value describing the unit, the attempt count and the last error:
//
//	policy := resilience.DefaultPolicy()
//	policy.RaiseOnFailure = false
//
//	v, err := resilience.Do(ctx, "fetch-prices", policy, func(ctx context.Context) (any, error) {
//		return client.Prices(ctx)
//	})
//	if f, ok := resilience.AsFailure(v); ok {
//		log.Printf("gave up after %d attempts: %s", f.Attempts, f.ErrorMessage)
//	}
//
// Errors are classified by Classify. Wrap an error with Permanent, Transient
// or WithCategory to override the built-in rules.
package resilience
