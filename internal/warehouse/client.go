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

// Package warehouse implements the SQL statement execution REST API:
// submitting statements, polling their status, cancelling them and listing
// the external links of result chunks.
package warehouse

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/apache/arrow-adbc/go/adbc"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/dbt-labs/databricks-adbc/internal/auth"
	"github.com/dbt-labs/databricks-adbc/internal/driverbase"
)

const (
	statementsPath = "/api/2.0/sql/statements"

	retryBaseDelay = 500 * time.Millisecond
	retryMaxDelay  = 5 * time.Second
)

// Client is the surface of the statement execution API the driver uses.
// It exists as an interface so statement and pipeline tests can substitute
// an in-memory warehouse.
type Client interface {
	// Submit starts execution of a statement and returns its handle and
	// initial status. The warehouse may already report a terminal state.
	Submit(ctx context.Context, req *SubmitRequest) (*StatementResponse, error)

	// Poll fetches the current status of a statement.
	Poll(ctx context.Context, statementID string) (*StatementResponse, error)

	// Cancel requests cancellation of a running statement. Cancelling a
	// statement that already reached a terminal state is not an error.
	Cancel(ctx context.Context, statementID string) error

	// ResultChunk fetches fresh external links for the chunk at the given
	// index, used when the original link has expired.
	ResultChunk(ctx context.Context, statementID string, chunkIndex int64) (*ResultData, error)
}

// ClientConfig configures the REST client.
type ClientConfig struct {
	// Host is the workspace hostname, without scheme.
	Host string

	UserAgent  string
	Timeout    time.Duration
	MaxRetries int

	// Clock drives retry backoff; tests inject a fake.
	Clock clockwork.Clock
}

// RESTClient implements Client over net/http.
type RESTClient struct {
	host       string
	userAgent  string
	maxRetries int
	httpClient *http.Client
	authz      auth.Provider
	clock      clockwork.Clock
	logger     *slog.Logger
	helper     driverbase.ErrorHelper
}

// NewRESTClient builds a Client for the given workspace.
func NewRESTClient(cfg ClientConfig, authz auth.Provider, httpClient *http.Client, logger *slog.Logger, helper driverbase.ErrorHelper) *RESTClient {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}
	clock := cfg.Clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &RESTClient{
		host:       cfg.Host,
		userAgent:  cfg.UserAgent,
		maxRetries: cfg.MaxRetries,
		httpClient: httpClient,
		authz:      authz,
		clock:      clock,
		logger:     logger,
		helper:     helper,
	}
}

func (c *RESTClient) Submit(ctx context.Context, req *SubmitRequest) (*StatementResponse, error) {
	var resp StatementResponse
	if err := c.doJSON(ctx, http.MethodPost, statementsPath, req, &resp); err != nil {
		return nil, err
	}
	if resp.StatementID == "" {
		return nil, c.helper.Errorf(adbc.StatusInternal, "submit response missing statement_id")
	}
	return &resp, nil
}

func (c *RESTClient) Poll(ctx context.Context, statementID string) (*StatementResponse, error) {
	var resp StatementResponse
	path := fmt.Sprintf("%s/%s", statementsPath, statementID)
	if err := c.doJSON(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *RESTClient) Cancel(ctx context.Context, statementID string) error {
	path := fmt.Sprintf("%s/%s/cancel", statementsPath, statementID)
	return c.doJSON(ctx, http.MethodPost, path, nil, nil)
}

func (c *RESTClient) ResultChunk(ctx context.Context, statementID string, chunkIndex int64) (*ResultData, error) {
	var resp ResultData
	path := fmt.Sprintf("%s/%s/result/chunks/%d", statementsPath, statementID, chunkIndex)
	if err := c.doJSON(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// doJSON performs one API call with retry. Transient failures (connection
// errors, 408, 429, 5xx) are retried with exponential backoff up to
// maxRetries additional attempts. A 401 triggers a single credential
// refresh that does not consume a retry.
func (c *RESTClient) doJSON(ctx context.Context, method, path string, body, out any) error {
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return c.helper.Errorf(adbc.StatusInternal, "encoding request: %s", err)
		}
	}

	base := c.host
	if !strings.Contains(base, "://") {
		base = "https://" + base
	}
	url := base + path
	requestID := uuid.NewString()
	refreshed := false

	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			if err := c.sleep(ctx, backoffDelay(attempt)); err != nil {
				return err
			}
		}

		var reqBody io.Reader
		if payload != nil {
			reqBody = bytes.NewReader(payload)
		}
		req, err := http.NewRequestWithContext(ctx, method, url, reqBody)
		if err != nil {
			return c.helper.Errorf(adbc.StatusInternal, "building request: %s", err)
		}
		header, err := c.authz.AuthHeader(ctx)
		if err != nil {
			return c.helper.Errorf(adbc.StatusUnauthenticated, "acquiring credentials: %s", err)
		}
		req.Header.Set("Authorization", header)
		req.Header.Set("X-Request-Id", requestID)
		if c.userAgent != "" {
			req.Header.Set("User-Agent", c.userAgent)
		}
		if payload != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return c.helper.Errorf(driverbase.StatusFromContext(ctx.Err()), "%s %s: %s", method, path, ctx.Err())
			}
			lastErr = c.helper.Errorf(adbc.StatusIO, "%s %s: %s", method, path, err)
			continue
		}

		respBody, readErr := io.ReadAll(resp.Body)
		resp.Body.Close()
		if readErr != nil {
			lastErr = c.helper.Errorf(adbc.StatusIO, "%s %s: reading response: %s", method, path, readErr)
			continue
		}

		switch {
		case resp.StatusCode >= 200 && resp.StatusCode < 300:
			if out == nil {
				return nil
			}
			if err := json.Unmarshal(respBody, out); err != nil {
				return c.helper.Errorf(adbc.StatusInternal, "%s %s: decoding response: %s", method, path, err)
			}
			return nil
		case resp.StatusCode == http.StatusUnauthorized && !refreshed:
			// One refresh per logical request, then the 401 is fatal.
			refreshed = true
			c.authz.Invalidate()
			c.logger.DebugContext(ctx, "credentials rejected, refreshing", "path", path, "request_id", requestID)
			attempt--
			continue
		case isTransientStatus(resp.StatusCode):
			lastErr = c.apiError(adbc.StatusIO, method, path, resp.StatusCode, respBody)
			c.logger.DebugContext(ctx, "transient API failure",
				"path", path, "status", resp.StatusCode, "attempt", attempt, "request_id", requestID)
			continue
		default:
			return c.apiError(statusForHTTP(resp.StatusCode), method, path, resp.StatusCode, respBody)
		}
	}
	return lastErr
}

func (c *RESTClient) sleep(ctx context.Context, d time.Duration) error {
	select {
	case <-ctx.Done():
		return c.helper.Errorf(driverbase.StatusFromContext(ctx.Err()), "request aborted: %s", ctx.Err())
	case <-c.clock.After(d):
		return nil
	}
}

// apiError surfaces the warehouse error message verbatim when the body
// carries one.
func (c *RESTClient) apiError(status adbc.Status, method, path string, httpStatus int, body []byte) error {
	var payload StatementError
	if err := json.Unmarshal(body, &payload); err == nil && payload.Message != "" {
		if payload.ErrorCode != "" {
			return c.helper.Errorf(status, "%s %s: HTTP %d: %s: %s", method, path, httpStatus, payload.ErrorCode, payload.Message)
		}
		return c.helper.Errorf(status, "%s %s: HTTP %d: %s", method, path, httpStatus, payload.Message)
	}
	return c.helper.Errorf(status, "%s %s: HTTP %d", method, path, httpStatus)
}

func backoffDelay(attempt int) time.Duration {
	d := retryBaseDelay << (attempt - 1)
	if d > retryMaxDelay {
		d = retryMaxDelay
	}
	return d
}

func isTransientStatus(code int) bool {
	return code == http.StatusRequestTimeout || code == http.StatusTooManyRequests || code >= 500
}

func statusForHTTP(code int) adbc.Status {
	switch code {
	case http.StatusBadRequest:
		return adbc.StatusInvalidArgument
	case http.StatusUnauthorized:
		return adbc.StatusUnauthenticated
	case http.StatusForbidden:
		return adbc.StatusUnauthorized
	case http.StatusNotFound:
		return adbc.StatusNotFound
	default:
		return adbc.StatusIO
	}
}
