// Licensed to the Apache Software Foundation (ASF) under one
// or more contributor license agreements.  See the NOTICE file
// distributed with this work for additional information
// regarding copyright ownership.  The ASF licenses this file
// to you under the Apache License, Version 2.0 (the
// "License"); you may not use this file except in compliance
// with the License.  You may obtain a copy of the License at
//
//   http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing,
// software distributed under the License is distributed on an
// "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY
// KIND, either express or implied.  See the License for the
// specific language governing permissions and limitations
// under the License.

// Package auth supplies credentials for warehouse REST calls and for
// fetching result chunks from cloud storage.
package auth

import "context"

// Provider yields the Authorization header value for outgoing requests.
//
// Implementations must be safe for concurrent use; the warehouse client and
// the chunk download workers share a single provider.
type Provider interface {
	// AuthHeader returns the value to place in the Authorization header,
	// e.g. "Bearer <token>". Implementations may refresh expired tokens
	// before returning.
	AuthHeader(ctx context.Context) (string, error)

	// Invalidate discards any cached token so the next AuthHeader call
	// fetches a fresh one. Called after a request is rejected with 401.
	Invalidate()
}
