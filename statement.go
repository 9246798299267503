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

package databricks

import (
	"context"
	"math/rand"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/apache/arrow-adbc/go/adbc"
	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/jonboulle/clockwork"

	"github.com/dbt-labs/databricks-adbc/internal/cloudfetch"
	"github.com/dbt-labs/databricks-adbc/internal/driverbase"
	"github.com/dbt-labs/databricks-adbc/internal/warehouse"
)

const (
	pollBaseDelay      = 500 * time.Millisecond
	pollMaxDelay       = 5 * time.Second
	pollJitterFraction = 0.25

	dispositionExternalLinks = "EXTERNAL_LINKS"
	formatArrowStream        = "ARROW_STREAM"
)

type statementImpl struct {
	driverbase.StatementImplBase

	cnxn  *connectionImpl
	clock clockwork.Clock

	mu           sync.Mutex
	query        string
	rowLimit     int64
	byteLimit    int64
	queryTimeout time.Duration

	// statementID and terminal track the lifecycle of the most recently
	// submitted statement.
	statementID string
	terminal    bool

	// pollCancel aborts an in-progress submit/poll loop; streamCancel
	// tears down the active result stream. Either may be nil.
	pollCancel   context.CancelFunc
	streamCancel context.CancelFunc
}

func newStatement(cnxn *connectionImpl) driverbase.Statement {
	stmt := &statementImpl{
		StatementImplBase: driverbase.NewStatementImplBase(cnxn.Base(), cnxn.ErrorHelper),
		cnxn:              cnxn,
		clock:             clockwork.NewRealClock(),
		rowLimit:          cnxn.config.rowLimit,
	}
	return driverbase.NewStatement(stmt)
}

func (s *statementImpl) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.abandonLocked()
	return nil
}

// abandonLocked cancels any non-terminal remote statement and tears down
// the active stream. Remote cancellation is best effort.
func (s *statementImpl) abandonLocked() {
	if s.statementID != "" && !s.terminal {
		if err := s.cnxn.client.Cancel(context.Background(), s.statementID); err != nil {
			s.Logger.Warn("cancelling abandoned statement", "statement_id", s.statementID, "error", err)
		}
		s.terminal = true
	}
	if s.pollCancel != nil {
		s.pollCancel()
		s.pollCancel = nil
	}
	if s.streamCancel != nil {
		s.streamCancel()
		s.streamCancel = nil
	}
}

// Cancel stops the running statement. The local state transitions to
// terminal regardless of whether the warehouse acknowledges. Reachable via
// interface assertion on the adbc.Statement returned by NewStatement.
func (s *statementImpl) Cancel() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var err error
	if s.statementID != "" && !s.terminal {
		err = s.cnxn.client.Cancel(context.Background(), s.statementID)
	}
	s.terminal = true
	if s.pollCancel != nil {
		s.pollCancel()
		s.pollCancel = nil
	}
	if s.streamCancel != nil {
		s.streamCancel()
		s.streamCancel = nil
	}
	return err
}

func (s *statementImpl) SetSqlQuery(query string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.query = query
	return nil
}

func (s *statementImpl) Prepare(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.query == "" {
		return s.ErrorHelper.Errorf(adbc.StatusInvalidState, "cannot prepare statement with no query")
	}
	// The statement execution API has no server-side prepare; validation
	// happens at submission.
	return nil
}

func (s *statementImpl) SetOption(key, val string) error {
	switch key {
	case OptionIntRowLimit, OptionIntByteLimit, OptionIntQueryTimeoutSeconds:
		n, err := strconv.ParseInt(val, 10, 64)
		if err != nil {
			return s.ErrorHelper.Errorf(adbc.StatusInvalidArgument, "invalid value '%s' for option '%s'", val, key)
		}
		return s.SetOptionInt(key, n)
	case adbc.OptionKeyIngestTargetTable, adbc.OptionKeyIngestMode:
		return checkFeature(s.ErrorHelper, featureBulkIngest)
	}
	return s.StatementImplBase.SetOption(key, val)
}

func (s *statementImpl) SetOptionInt(key string, value int64) error {
	if value < 0 {
		return s.ErrorHelper.Errorf(adbc.StatusInvalidArgument, "invalid value '%d' for option '%s'", value, key)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	switch key {
	case OptionIntRowLimit:
		s.rowLimit = value
	case OptionIntByteLimit:
		s.byteLimit = value
	case OptionIntQueryTimeoutSeconds:
		s.queryTimeout = time.Duration(value) * time.Second
	default:
		return s.StatementImplBase.SetOptionInt(key, value)
	}
	return nil
}

func (s *statementImpl) GetOption(key string) (string, error) {
	switch key {
	case OptionIntRowLimit, OptionIntByteLimit, OptionIntQueryTimeoutSeconds:
		n, err := s.GetOptionInt(key)
		if err != nil {
			return "", err
		}
		return strconv.FormatInt(n, 10), nil
	}
	return s.StatementImplBase.GetOption(key)
}

func (s *statementImpl) GetOptionInt(key string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch key {
	case OptionIntRowLimit:
		return s.rowLimit, nil
	case OptionIntByteLimit:
		return s.byteLimit, nil
	case OptionIntQueryTimeoutSeconds:
		return int64(s.queryTimeout / time.Second), nil
	}
	return s.StatementImplBase.GetOptionInt(key)
}

func (s *statementImpl) ExecuteQuery(ctx context.Context) (array.RecordReader, int64, error) {
	resp, err := s.execute(ctx)
	if err != nil {
		return nil, -1, err
	}
	reader, err := s.buildReader(ctx, resp)
	if err != nil {
		return nil, -1, err
	}
	nrows := int64(-1)
	if resp.Manifest != nil {
		nrows = resp.Manifest.TotalRowCount
	}
	return reader, nrows, nil
}

func (s *statementImpl) ExecuteUpdate(ctx context.Context) (int64, error) {
	resp, err := s.execute(ctx)
	if err != nil {
		return -1, err
	}
	if resp.Manifest != nil {
		return resp.Manifest.TotalRowCount, nil
	}
	return -1, nil
}

func (s *statementImpl) ExecuteSchema(ctx context.Context) (*arrow.Schema, error) {
	resp, err := s.execute(ctx)
	if err != nil {
		return nil, err
	}
	if resp.Manifest == nil {
		return nil, s.ErrorHelper.Errorf(adbc.StatusInternal, "statement %s: no result manifest", resp.StatementID)
	}
	return resultSchemaToArrowSchema(&resp.Manifest.Schema)
}

func (s *statementImpl) ExecutePartitions(ctx context.Context) (*arrow.Schema, adbc.Partitions, int64, error) {
	return nil, adbc.Partitions{}, -1, checkFeature(s.ErrorHelper, featurePartitionedResults)
}

func (s *statementImpl) SetSubstraitPlan(plan []byte) error {
	return checkFeature(s.ErrorHelper, featureSubstrait)
}

func (s *statementImpl) Bind(ctx context.Context, values arrow.Record) error {
	return checkFeature(s.ErrorHelper, featureBindParameters)
}

func (s *statementImpl) BindStream(ctx context.Context, stream array.RecordReader) error {
	return checkFeature(s.ErrorHelper, featureBindParameters)
}

func (s *statementImpl) GetParameterSchema() (*arrow.Schema, error) {
	return nil, checkFeature(s.ErrorHelper, featureParameterSchema)
}

// execute submits the query and polls until it reaches a terminal state.
func (s *statementImpl) execute(ctx context.Context) (*warehouse.StatementResponse, error) {
	s.mu.Lock()
	if s.query == "" {
		s.mu.Unlock()
		return nil, s.ErrorHelper.Errorf(adbc.StatusInvalidState, "cannot execute statement with no query")
	}
	// A statement object runs one query at a time; a re-execute abandons
	// the previous one.
	s.abandonLocked()

	req := &warehouse.SubmitRequest{
		Statement:   s.query,
		WarehouseID: s.cnxn.config.warehouseID,
		Catalog:     s.cnxn.catalog,
		Schema:      s.cnxn.dbSchema,
		WaitTimeout: "0s",
		Disposition: dispositionExternalLinks,
		Format:      formatArrowStream,
		RowLimit:    s.rowLimit,
		ByteLimit:   s.byteLimit,
	}
	queryTimeout := s.queryTimeout

	// Cancel and Close must be able to interrupt the poll loop from
	// another goroutine, so the whole submit/poll phase runs under a
	// cancelable context they hold on to.
	ctx, cancel := context.WithCancel(ctx)
	s.pollCancel = cancel
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.pollCancel = nil
		s.mu.Unlock()
		cancel()
	}()

	if queryTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, queryTimeout)
		defer cancel()
	}

	ctx, span := s.StartSpan(ctx, "ExecuteStatement")
	defer span.End()

	resp, err := s.cnxn.client.Submit(ctx, req)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.statementID = resp.StatementID
	s.terminal = resp.Status.State.Terminal()
	s.mu.Unlock()

	s.Logger.DebugContext(ctx, "statement submitted", "statement_id", resp.StatementID, "state", resp.Status.State)

	delay := pollBaseDelay
	for !resp.Status.State.Terminal() {
		if err := s.sleep(ctx, withJitter(delay)); err != nil {
			return nil, err
		}
		if delay *= 2; delay > pollMaxDelay {
			delay = pollMaxDelay
		}

		resp, err = s.cnxn.client.Poll(ctx, resp.StatementID)
		if err != nil {
			return nil, err
		}
		s.Logger.DebugContext(ctx, "statement polled", "statement_id", resp.StatementID, "state", resp.Status.State)
	}

	s.mu.Lock()
	s.terminal = true
	s.mu.Unlock()

	// A Cancel that raced the final poll still wins locally.
	if err := ctx.Err(); err != nil {
		return nil, s.ErrorHelper.Errorf(driverbase.StatusFromContext(err), "statement aborted: %s", err)
	}

	switch resp.Status.State {
	case warehouse.StateSucceeded:
		return resp, nil
	case warehouse.StateFailed:
		msg := "statement failed"
		if resp.Status.Error != nil && resp.Status.Error.Message != "" {
			msg = resp.Status.Error.Message
		}
		return nil, NewAdbcError(msg, adbc.StatusInternal)
	case warehouse.StateCanceled:
		return nil, NewAdbcError("statement was canceled", adbc.StatusCancelled)
	default:
		return nil, s.ErrorHelper.Errorf(adbc.StatusInvalidState,
			"statement %s: result no longer available (state %s)", resp.StatementID, resp.Status.State)
	}
}

// buildReader turns a succeeded statement's manifest into a streaming
// record reader over its chunks.
func (s *statementImpl) buildReader(ctx context.Context, resp *warehouse.StatementResponse) (array.RecordReader, error) {
	manifest := resp.Manifest
	if manifest == nil {
		return nil, s.ErrorHelper.Errorf(adbc.StatusInternal, "statement %s: no result manifest", resp.StatementID)
	}

	schema, err := resultSchemaToArrowSchema(&manifest.Schema)
	if err != nil {
		// Fall back to the schema embedded in the first chunk.
		s.Logger.WarnContext(ctx, "cannot map result schema, deferring to chunk data", "error", err)
		schema = nil
	}

	chunks := make([]warehouse.ChunkInfo, len(manifest.Chunks))
	copy(chunks, manifest.Chunks)
	sort.Slice(chunks, func(i, j int) bool { return chunks[i].ChunkIndex < chunks[j].ChunkIndex })

	links := make(map[int64]warehouse.ExternalLink)
	if resp.Result != nil {
		for _, link := range resp.Result.ExternalLinks {
			links[link.ChunkIndex] = link
		}
	}

	streamCtx, cancel := context.WithCancel(ctx)
	s.mu.Lock()
	s.streamCancel = cancel
	s.mu.Unlock()

	fetcher := cloudfetch.NewHTTPFetcher(
		s.cnxn.httpClient,
		s.cnxn.authz,
		&linkRefresher{client: s.cnxn.client, statementID: resp.StatementID, helper: s.ErrorHelper},
		s.cnxn.config.maxRetries,
		s.clock,
		s.Logger,
		s.ErrorHelper,
	)
	return cloudfetch.NewReader(streamCtx, s.cnxn.config.fetch, fetcher, s.cnxn.Alloc, schema,
		chunks, links, s.Logger, s.ErrorHelper), nil
}

func (s *statementImpl) sleep(ctx context.Context, d time.Duration) error {
	select {
	case <-ctx.Done():
		return s.ErrorHelper.Errorf(driverbase.StatusFromContext(ctx.Err()), "statement aborted: %s", ctx.Err())
	case <-s.clock.After(d):
		return nil
	}
}

func withJitter(d time.Duration) time.Duration {
	frac := 1 + pollJitterFraction*(2*rand.Float64()-1)
	return time.Duration(float64(d) * frac)
}

// linkRefresher requests fresh external links from the warehouse on behalf
// of the download pipeline.
type linkRefresher struct {
	client      warehouse.Client
	statementID string
	helper      driverbase.ErrorHelper
}

func (r *linkRefresher) RefreshLink(ctx context.Context, chunkIndex int64) (*warehouse.ExternalLink, error) {
	data, err := r.client.ResultChunk(ctx, r.statementID, chunkIndex)
	if err != nil {
		return nil, err
	}
	for _, link := range data.ExternalLinks {
		if link.ChunkIndex == chunkIndex {
			return &link, nil
		}
	}
	return nil, r.helper.Errorf(adbc.StatusInternal, "statement %s: no link returned for chunk %d", r.statementID, chunkIndex)
}
