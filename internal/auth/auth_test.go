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

package auth

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPersonalAccessToken(t *testing.T) {
	p := NewPersonalAccessToken("dapi123")

	header, err := p.AuthHeader(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "Bearer dapi123", header)

	// Invalidate must not disturb a static token.
	p.Invalidate()
	header, err = p.AuthHeader(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "Bearer dapi123", header)
}

func TestOAuthM2M(t *testing.T) {
	var tokenRequests atomic.Int64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.NoError(t, r.ParseForm())
		n := tokenRequests.Add(1)
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"access_token":"tok-%d","token_type":"Bearer","expires_in":3600}`, n)
	}))
	defer server.Close()

	p := NewOAuthM2M("example.cloud.databricks.com", "client-id", "client-secret", server.Client())
	p.config.TokenURL = server.URL

	header, err := p.AuthHeader(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "Bearer tok-1", header)

	// A cached token is reused while valid.
	header, err = p.AuthHeader(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "Bearer tok-1", header)
	assert.EqualValues(t, 1, tokenRequests.Load())

	// Invalidate discards the cache and the next call mints a new token.
	p.Invalidate()
	header, err = p.AuthHeader(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "Bearer tok-2", header)
	assert.EqualValues(t, 2, tokenRequests.Load())
}

func TestOAuthM2MTokenURL(t *testing.T) {
	p := NewOAuthM2M("example.cloud.databricks.com", "id", "secret", nil)
	assert.Equal(t, "https://example.cloud.databricks.com/oidc/v1/token", p.config.TokenURL)
}
