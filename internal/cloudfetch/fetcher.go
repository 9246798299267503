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

package cloudfetch

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/apache/arrow-adbc/go/adbc"
	"github.com/jonboulle/clockwork"

	"github.com/dbt-labs/databricks-adbc/internal/auth"
	"github.com/dbt-labs/databricks-adbc/internal/driverbase"
	"github.com/dbt-labs/databricks-adbc/internal/warehouse"
)

const (
	fetchBaseDelay = 500 * time.Millisecond
	fetchMaxDelay  = 5 * time.Second
)

// Fetcher downloads the raw bytes of one result chunk. The pipeline workers
// call it concurrently.
type Fetcher interface {
	// FetchChunk downloads the chunk described by chunk. link is the
	// signed URL known at submission time, or nil when the chunk's link
	// must first be requested from the warehouse.
	FetchChunk(ctx context.Context, chunk warehouse.ChunkInfo, link *warehouse.ExternalLink) ([]byte, error)
}

// LinkRefresher mints a fresh signed URL for a chunk, used when a link has
// expired or storage rejects it.
type LinkRefresher interface {
	RefreshLink(ctx context.Context, chunkIndex int64) (*warehouse.ExternalLink, error)
}

// HTTPFetcher implements Fetcher over plain HTTP GETs against the signed
// URLs, with transient-failure retry and a single link refresh per chunk.
type HTTPFetcher struct {
	httpClient *http.Client
	authz      auth.Provider
	refresher  LinkRefresher
	clock      clockwork.Clock
	maxRetries int
	logger     *slog.Logger
	helper     driverbase.ErrorHelper
}

// NewHTTPFetcher builds an HTTPFetcher. clock may be nil outside tests.
func NewHTTPFetcher(httpClient *http.Client, authz auth.Provider, refresher LinkRefresher, maxRetries int, clock clockwork.Clock, logger *slog.Logger, helper driverbase.ErrorHelper) *HTTPFetcher {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &HTTPFetcher{
		httpClient: httpClient,
		authz:      authz,
		refresher:  refresher,
		clock:      clock,
		maxRetries: maxRetries,
		logger:     logger,
		helper:     helper,
	}
}

// FetchChunk downloads one chunk. The link is refreshed at most once, either
// up front when it already expired or after storage answers 403. A 401
// additionally triggers one credential refresh. Transient failures are
// retried with exponential backoff. A byte-count mismatch is a data
// integrity failure and is not retried.
func (f *HTTPFetcher) FetchChunk(ctx context.Context, chunk warehouse.ChunkInfo, link *warehouse.ExternalLink) ([]byte, error) {
	refreshBudget := 1
	if link == nil {
		fresh, err := f.refresher.RefreshLink(ctx, chunk.ChunkIndex)
		if err != nil {
			return nil, err
		}
		link = fresh
	}
	if link.Expired(f.clock.Now()) {
		fresh, err := f.refreshLink(ctx, chunk.ChunkIndex, &refreshBudget)
		if err != nil {
			return nil, err
		}
		link = fresh
	}

	reauthed := false
	var lastErr error
	for attempt := 0; attempt <= f.maxRetries; attempt++ {
		if attempt > 0 {
			if err := f.sleep(ctx, fetchBackoff(attempt)); err != nil {
				return nil, err
			}
		}

		data, status, err := f.get(ctx, chunk.ChunkIndex, link)
		if err != nil {
			if ctx.Err() != nil {
				return nil, f.helper.Errorf(driverbase.StatusFromContext(ctx.Err()), "chunk %d: %s", chunk.ChunkIndex, ctx.Err())
			}
			lastErr = err
			continue
		}

		switch {
		case status == http.StatusOK:
			if chunk.ByteCount > 0 && int64(len(data)) != chunk.ByteCount {
				return nil, f.helper.Errorf(adbc.StatusInvalidData,
					"chunk %d: expected %d bytes, got %d", chunk.ChunkIndex, chunk.ByteCount, len(data))
			}
			return data, nil
		case status == http.StatusUnauthorized && !reauthed:
			reauthed = true
			f.authz.Invalidate()
			f.logger.DebugContext(ctx, "storage rejected credentials, refreshing", "chunk", chunk.ChunkIndex)
			attempt--
		case status == http.StatusForbidden && refreshBudget > 0:
			fresh, err := f.refreshLink(ctx, chunk.ChunkIndex, &refreshBudget)
			if err != nil {
				return nil, err
			}
			link = fresh
			f.logger.DebugContext(ctx, "signed URL rejected, refreshed link", "chunk", chunk.ChunkIndex)
			attempt--
		case isTransientStatus(status):
			lastErr = f.helper.Errorf(adbc.StatusIO, "chunk %d: storage returned HTTP %d", chunk.ChunkIndex, status)
		default:
			return nil, f.helper.Errorf(statusForStorageHTTP(status), "chunk %d: storage returned HTTP %d", chunk.ChunkIndex, status)
		}
	}
	return nil, lastErr
}

func (f *HTTPFetcher) refreshLink(ctx context.Context, chunkIndex int64, budget *int) (*warehouse.ExternalLink, error) {
	if *budget <= 0 {
		return nil, f.helper.Errorf(adbc.StatusIO, "chunk %d: signed URL expired after refresh", chunkIndex)
	}
	*budget--
	return f.refresher.RefreshLink(ctx, chunkIndex)
}

func (f *HTTPFetcher) get(ctx context.Context, chunkIndex int64, link *warehouse.ExternalLink) ([]byte, int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, link.ExternalLink, nil)
	if err != nil {
		return nil, 0, f.helper.Errorf(adbc.StatusInternal, "chunk %d: building request: %s", chunkIndex, err)
	}
	for k, v := range link.HTTPHeaders {
		req.Header.Set(k, v)
	}
	if req.Header.Get("Authorization") == "" {
		header, err := f.authz.AuthHeader(ctx)
		if err != nil {
			return nil, 0, f.helper.Errorf(adbc.StatusUnauthenticated, "chunk %d: acquiring credentials: %s", chunkIndex, err)
		}
		req.Header.Set("Authorization", header)
	}

	resp, err := f.httpClient.Do(req)
	if err != nil {
		return nil, 0, f.helper.Errorf(adbc.StatusIO, "chunk %d: %s", chunkIndex, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, resp.Body)
		return nil, resp.StatusCode, nil
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, 0, f.helper.Errorf(adbc.StatusIO, "chunk %d: reading body: %s", chunkIndex, err)
	}
	return data, resp.StatusCode, nil
}

func (f *HTTPFetcher) sleep(ctx context.Context, d time.Duration) error {
	select {
	case <-ctx.Done():
		return f.helper.Errorf(driverbase.StatusFromContext(ctx.Err()), "download aborted: %s", ctx.Err())
	case <-f.clock.After(d):
		return nil
	}
}

func fetchBackoff(attempt int) time.Duration {
	d := fetchBaseDelay << (attempt - 1)
	if d > fetchMaxDelay {
		d = fetchMaxDelay
	}
	return d
}

func isTransientStatus(code int) bool {
	return code == http.StatusRequestTimeout || code == http.StatusTooManyRequests || code >= 500
}

func statusForStorageHTTP(code int) adbc.Status {
	switch code {
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
