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

// Package dispatch registers plain Go functions as executable units and runs
// them according to an execution mode. Every invocation goes through the
// resilience engine with the unit's retry policy.
//
// A unit function takes a context.Context first and returns either error or
// (T, error):
//
//	d := dispatch.New()
//	d.Register(fetchPrices, dispatch.ModeExternalAction,
//		dispatch.WithName("prices"),
//		dispatch.WithParams("symbol"),
//		dispatch.WithPolicy(resilience.DefaultPolicy()),
//	)
//	prices, err := d.Invoke(ctx, "prices", dispatch.Kwargs{"symbol": "ACME"})
//
// Persistent services and protocol sessions are cached in a service.Registry
// under "service/<name>" and "protocol/<name>" until released.
package dispatch
