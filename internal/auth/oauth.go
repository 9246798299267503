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
	"strings"
	"sync"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
)

// OAuthM2M authenticates with the OAuth machine-to-machine
// (client credentials) flow against the workspace token endpoint.
//
// Tokens are cached by the underlying token source until they expire.
// Invalidate drops the source so a subsequent AuthHeader mints a new token,
// which covers the case where the workspace revokes a still-unexpired token.
type OAuthM2M struct {
	config *clientcredentials.Config
	client *http.Client

	mu     sync.Mutex
	source oauth2.TokenSource
}

// NewOAuthM2M builds a client-credentials provider for the given workspace
// host. host is the bare hostname, without scheme.
func NewOAuthM2M(host, clientID, clientSecret string, client *http.Client) *OAuthM2M {
	return &OAuthM2M{
		config: &clientcredentials.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			TokenURL:     fmt.Sprintf("https://%s/oidc/v1/token", strings.TrimSuffix(host, "/")),
			Scopes:       []string{"all-apis"},
		},
		client: client,
	}
}

func (p *OAuthM2M) AuthHeader(ctx context.Context) (string, error) {
	p.mu.Lock()
	if p.source == nil {
		srcCtx := context.Background()
		if p.client != nil {
			srcCtx = context.WithValue(srcCtx, oauth2.HTTPClient, p.client)
		}
		p.source = p.config.TokenSource(srcCtx)
	}
	source := p.source
	p.mu.Unlock()

	token, err := source.Token()
	if err != nil {
		return "", fmt.Errorf("fetching OAuth token: %w", err)
	}
	return token.Type() + " " + token.AccessToken, nil
}

func (p *OAuthM2M) Invalidate() {
	p.mu.Lock()
	p.source = nil
	p.mu.Unlock()
}
