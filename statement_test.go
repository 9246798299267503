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
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/apache/arrow-adbc/go/adbc"
	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/ipc"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dbt-labs/databricks-adbc/internal/auth"
	"github.com/dbt-labs/databricks-adbc/internal/driverbase"
	"github.com/dbt-labs/databricks-adbc/internal/warehouse"
)

// fakeWarehouseClient scripts submit and poll responses so tests can drive
// the statement lifecycle without a server.
type fakeWarehouseClient struct {
	mu sync.Mutex

	submitResp *warehouse.StatementResponse
	submitErr  error

	pollResps []*warehouse.StatementResponse
	pollErr   error
	polls     int

	cancels int

	lastSubmit *warehouse.SubmitRequest
}

func (c *fakeWarehouseClient) Submit(ctx context.Context, req *warehouse.SubmitRequest) (*warehouse.StatementResponse, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lastSubmit = req
	return c.submitResp, c.submitErr
}

func (c *fakeWarehouseClient) Poll(ctx context.Context, statementID string) (*warehouse.StatementResponse, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.polls++
	if len(c.pollResps) == 0 {
		if c.pollErr != nil {
			return nil, c.pollErr
		}
		return nil, adbc.Error{Code: adbc.StatusInternal, Msg: "unexpected poll"}
	}
	resp := c.pollResps[0]
	c.pollResps = c.pollResps[1:]
	return resp, nil
}

func (c *fakeWarehouseClient) Cancel(ctx context.Context, statementID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cancels++
	return nil
}

func (c *fakeWarehouseClient) ResultChunk(ctx context.Context, statementID string, chunkIndex int64) (*warehouse.ResultData, error) {
	return nil, adbc.Error{Code: adbc.StatusInternal, Msg: "unexpected link refresh"}
}

func (c *fakeWarehouseClient) pollCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.polls
}

func (c *fakeWarehouseClient) cancelCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cancels
}

func newTestConnection(client warehouse.Client) *connectionImpl {
	driverBase := driverbase.NewDriverImplBase(driverbase.DefaultDriverInfo("Databricks"), memory.DefaultAllocator)
	dbBase := driverbase.NewDatabaseImplBase(&driverBase)
	cfg := defaultConfig()
	cfg.warehouseID = "wh-test"
	return &connectionImpl{
		ConnectionImplBase: driverbase.NewConnectionImplBase(&dbBase),
		config:             cfg,
		client:             client,
		authz:              auth.NewPersonalAccessToken("token"),
		httpClient:         http.DefaultClient,
	}
}

func newTestStatement(cnxn *connectionImpl, clock clockwork.Clock) *statementImpl {
	return &statementImpl{
		StatementImplBase: driverbase.NewStatementImplBase(cnxn.Base(), cnxn.ErrorHelper),
		cnxn:              cnxn,
		clock:             clock,
	}
}

func stateResp(id string, state warehouse.State) *warehouse.StatementResponse {
	return &warehouse.StatementResponse{
		StatementID: id,
		Status:      warehouse.StatementStatus{State: state},
	}
}

func int64Schema() *arrow.Schema {
	return arrow.NewSchema([]arrow.Field{
		{Name: "id", Type: arrow.PrimitiveTypes.Int64, Nullable: true},
	}, nil)
}

func int64Manifest(chunks []warehouse.ChunkInfo, totalRows int64) *warehouse.ResultManifest {
	return &warehouse.ResultManifest{
		Format: formatArrowStream,
		Schema: warehouse.ResultSchema{
			ColumnCount: 1,
			Columns: []warehouse.ColumnInfo{
				{Name: "id", TypeName: "LONG", TypeText: "BIGINT", Position: 0},
			},
		},
		TotalChunkCount: int64(len(chunks)),
		TotalRowCount:   totalRows,
		Chunks:          chunks,
	}
}

func int64Payload(t *testing.T, values []int64) []byte {
	t.Helper()
	alloc := memory.NewGoAllocator()
	bldr := array.NewInt64Builder(alloc)
	defer bldr.Release()
	bldr.AppendValues(values, nil)
	arr := bldr.NewInt64Array()
	defer arr.Release()
	rec := array.NewRecord(int64Schema(), []arrow.Array{arr}, int64(len(values)))
	defer rec.Release()

	var buf bytes.Buffer
	w := ipc.NewWriter(&buf, ipc.WithSchema(int64Schema()), ipc.WithAllocator(alloc))
	require.NoError(t, w.Write(rec))
	require.NoError(t, w.Close())
	return buf.Bytes()
}

func TestExecuteQueryStreamsChunk(t *testing.T) {
	payload := int64Payload(t, []int64{1, 2, 3})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write(payload)
	}))
	defer srv.Close()

	client := &fakeWarehouseClient{
		submitResp: &warehouse.StatementResponse{
			StatementID: "stmt-1",
			Status:      warehouse.StatementStatus{State: warehouse.StateSucceeded},
			Manifest: int64Manifest([]warehouse.ChunkInfo{
				{ChunkIndex: 0, RowCount: 3, ByteCount: int64(len(payload))},
			}, 3),
			Result: &warehouse.ResultData{
				ExternalLinks: []warehouse.ExternalLink{{
					ExternalLink: srv.URL,
					ChunkIndex:   0,
					RowCount:     3,
					ByteCount:    int64(len(payload)),
					Expiration:   time.Now().Add(time.Hour),
				}},
			},
		},
	}

	stmt := newTestStatement(newTestConnection(client), clockwork.NewRealClock())
	defer stmt.Close()
	require.NoError(t, stmt.SetSqlQuery("SELECT id FROM t"))

	reader, nrows, err := stmt.ExecuteQuery(context.Background())
	require.NoError(t, err)
	defer reader.Release()
	assert.EqualValues(t, 3, nrows)

	require.True(t, reader.Next())
	rec := reader.Record()
	require.EqualValues(t, 3, rec.NumRows())
	col := rec.Column(0).(*array.Int64)
	assert.Equal(t, []int64{1, 2, 3}, col.Int64Values())
	assert.False(t, reader.Next())
	require.NoError(t, reader.Err())

	req := client.lastSubmit
	require.NotNil(t, req)
	assert.Equal(t, "SELECT id FROM t", req.Statement)
	assert.Equal(t, "wh-test", req.WarehouseID)
	assert.Equal(t, "0s", req.WaitTimeout)
	assert.Equal(t, dispositionExternalLinks, req.Disposition)
	assert.Equal(t, formatArrowStream, req.Format)
}

func TestExecuteQueryPollsUntilTerminal(t *testing.T) {
	client := &fakeWarehouseClient{
		submitResp: stateResp("stmt-2", warehouse.StatePending),
		pollResps: []*warehouse.StatementResponse{
			stateResp("stmt-2", warehouse.StateRunning),
			{
				StatementID: "stmt-2",
				Status:      warehouse.StatementStatus{State: warehouse.StateSucceeded},
				Manifest:    int64Manifest(nil, 0),
			},
		},
	}

	clock := clockwork.NewFakeClock()
	stmt := newTestStatement(newTestConnection(client), clock)
	defer stmt.Close()
	require.NoError(t, stmt.SetSqlQuery("SELECT 1"))

	type result struct {
		reader array.RecordReader
		err    error
	}
	done := make(chan result, 1)
	go func() {
		reader, _, err := stmt.ExecuteQuery(context.Background())
		done <- result{reader, err}
	}()

	// Two polls, each preceded by a jittered backoff sleep.
	clock.BlockUntil(1)
	clock.Advance(time.Second)
	clock.BlockUntil(1)
	clock.Advance(2 * time.Second)

	res := <-done
	require.NoError(t, res.err)
	defer res.reader.Release()
	assert.False(t, res.reader.Next())
	require.NoError(t, res.reader.Err())
	assert.Equal(t, 2, client.pollCount())
}

func TestExecuteQueryFailedStatement(t *testing.T) {
	client := &fakeWarehouseClient{
		submitResp: &warehouse.StatementResponse{
			StatementID: "stmt-3",
			Status: warehouse.StatementStatus{
				State: warehouse.StateFailed,
				Error: &warehouse.StatementError{
					ErrorCode: "BAD_REQUEST",
					Message:   "[PARSE_SYNTAX_ERROR] Syntax error at or near 'SELEC'. SQLSTATE: 42601",
				},
			},
		},
	}

	stmt := newTestStatement(newTestConnection(client), clockwork.NewRealClock())
	defer stmt.Close()
	require.NoError(t, stmt.SetSqlQuery("SELEC 1"))

	_, _, err := stmt.ExecuteQuery(context.Background())
	var adbcErr adbc.Error
	require.ErrorAs(t, err, &adbcErr)
	assert.Equal(t, adbc.StatusInternal, adbcErr.Code)
	assert.Equal(t, "[PARSE_SYNTAX_ERROR] Syntax error at or near 'SELEC'. SQLSTATE: 42601", adbcErr.Msg)
	assert.Equal(t, [5]byte{'4', '2', '6', '0', '1'}, adbcErr.SqlState)
}

func TestExecuteQueryCanceledStatement(t *testing.T) {
	client := &fakeWarehouseClient{
		submitResp: stateResp("stmt-4", warehouse.StateCanceled),
	}

	stmt := newTestStatement(newTestConnection(client), clockwork.NewRealClock())
	defer stmt.Close()
	require.NoError(t, stmt.SetSqlQuery("SELECT 1"))

	_, _, err := stmt.ExecuteQuery(context.Background())
	require.Equal(t, adbc.StatusCancelled, driverbase.Status(err))
}

func TestExecuteQueryWithoutQuery(t *testing.T) {
	stmt := newTestStatement(newTestConnection(&fakeWarehouseClient{}), clockwork.NewRealClock())
	defer stmt.Close()

	_, _, err := stmt.ExecuteQuery(context.Background())
	require.Equal(t, adbc.StatusInvalidState, driverbase.Status(err))
}

func TestReExecuteAbandonsPrevious(t *testing.T) {
	client := &fakeWarehouseClient{
		submitResp: stateResp("stmt-5", warehouse.StatePending),
		pollErr:    adbc.Error{Code: adbc.StatusIO, Msg: "poll failed"},
	}

	clock := clockwork.NewFakeClock()
	stmt := newTestStatement(newTestConnection(client), clock)
	defer stmt.Close()
	require.NoError(t, stmt.SetSqlQuery("SELECT 1"))

	done := make(chan error, 1)
	go func() {
		_, _, err := stmt.ExecuteQuery(context.Background())
		done <- err
	}()
	clock.BlockUntil(1)
	clock.Advance(time.Second)
	require.Error(t, <-done)

	// The first statement never reached a terminal state, so executing
	// again cancels it remotely first.
	client.mu.Lock()
	client.submitResp = stateResp("stmt-6", warehouse.StateCanceled)
	client.mu.Unlock()

	_, _, err := stmt.ExecuteQuery(context.Background())
	require.Error(t, err)
	assert.Equal(t, 1, client.cancelCount())
}

func TestCancelStopsStatement(t *testing.T) {
	client := &fakeWarehouseClient{
		submitResp: stateResp("stmt-7", warehouse.StatePending),
		pollErr:    adbc.Error{Code: adbc.StatusIO, Msg: "poll failed"},
	}

	clock := clockwork.NewFakeClock()
	stmt := newTestStatement(newTestConnection(client), clock)
	defer stmt.Close()
	require.NoError(t, stmt.SetSqlQuery("SELECT 1"))

	done := make(chan error, 1)
	go func() {
		_, _, err := stmt.ExecuteQuery(context.Background())
		done <- err
	}()
	clock.BlockUntil(1)
	clock.Advance(time.Second)
	require.Error(t, <-done)

	require.NoError(t, stmt.Cancel())
	assert.Equal(t, 1, client.cancelCount())

	// Cancel is idempotent once the statement is terminal.
	require.NoError(t, stmt.Cancel())
	assert.Equal(t, 1, client.cancelCount())
}

func TestCancelDuringPollAborts(t *testing.T) {
	// The server would eventually report success, but Cancel arrives while
	// ExecuteQuery is waiting out its first backoff.
	client := &fakeWarehouseClient{
		submitResp: stateResp("stmt-8", warehouse.StatePending),
		pollResps: []*warehouse.StatementResponse{
			{
				StatementID: "stmt-8",
				Status:      warehouse.StatementStatus{State: warehouse.StateSucceeded},
				Manifest:    int64Manifest(nil, 0),
			},
		},
	}

	clock := clockwork.NewFakeClock()
	stmt := newTestStatement(newTestConnection(client), clock)
	defer stmt.Close()
	require.NoError(t, stmt.SetSqlQuery("SELECT 1"))

	done := make(chan error, 1)
	go func() {
		_, _, err := stmt.ExecuteQuery(context.Background())
		done <- err
	}()
	clock.BlockUntil(1)
	require.NoError(t, stmt.Cancel())

	err := <-done
	require.Error(t, err)
	assert.Equal(t, adbc.StatusCancelled, driverbase.Status(err))
	assert.Equal(t, 0, client.pollCount())
	assert.Equal(t, 1, client.cancelCount())
}

func TestStatementCancelReachableThroughWrapper(t *testing.T) {
	cnxn := newTestConnection(&fakeWarehouseClient{})
	stmt, err := cnxn.NewStatement()
	require.NoError(t, err)
	defer stmt.Close()

	canceler, ok := stmt.(interface{ Cancel() error })
	require.True(t, ok)
	require.NoError(t, canceler.Cancel())
}

func TestExecuteUpdateReportsAffectedRows(t *testing.T) {
	client := &fakeWarehouseClient{
		submitResp: &warehouse.StatementResponse{
			StatementID: "stmt-8",
			Status:      warehouse.StatementStatus{State: warehouse.StateSucceeded},
			Manifest:    int64Manifest(nil, 5),
		},
	}

	stmt := newTestStatement(newTestConnection(client), clockwork.NewRealClock())
	defer stmt.Close()
	require.NoError(t, stmt.SetSqlQuery("DELETE FROM t"))

	affected, err := stmt.ExecuteUpdate(context.Background())
	require.NoError(t, err)
	assert.EqualValues(t, 5, affected)
}

func TestExecuteSchema(t *testing.T) {
	client := &fakeWarehouseClient{
		submitResp: &warehouse.StatementResponse{
			StatementID: "stmt-9",
			Status:      warehouse.StatementStatus{State: warehouse.StateSucceeded},
			Manifest:    int64Manifest(nil, 0),
		},
	}

	stmt := newTestStatement(newTestConnection(client), clockwork.NewRealClock())
	defer stmt.Close()
	require.NoError(t, stmt.SetSqlQuery("SELECT id FROM t"))

	schema, err := stmt.ExecuteSchema(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, schema.NumFields())
	assert.Equal(t, "id", schema.Field(0).Name)
	assert.True(t, arrow.TypeEqual(arrow.PrimitiveTypes.Int64, schema.Field(0).Type))
}

func TestStatementLimitsPassedThrough(t *testing.T) {
	client := &fakeWarehouseClient{
		submitResp: &warehouse.StatementResponse{
			StatementID: "stmt-10",
			Status:      warehouse.StatementStatus{State: warehouse.StateSucceeded},
			Manifest:    int64Manifest(nil, 0),
		},
	}

	stmt := newTestStatement(newTestConnection(client), clockwork.NewRealClock())
	defer stmt.Close()
	require.NoError(t, stmt.SetSqlQuery("SELECT 1"))
	require.NoError(t, stmt.SetOptionInt(OptionIntRowLimit, 100))
	require.NoError(t, stmt.SetOption(OptionIntByteLimit, "4096"))

	_, err := stmt.ExecuteUpdate(context.Background())
	require.NoError(t, err)

	req := client.lastSubmit
	require.NotNil(t, req)
	assert.EqualValues(t, 100, req.RowLimit)
	assert.EqualValues(t, 4096, req.ByteLimit)

	got, err := stmt.GetOptionInt(OptionIntRowLimit)
	require.NoError(t, err)
	assert.EqualValues(t, 100, got)
	gotStr, err := stmt.GetOption(OptionIntByteLimit)
	require.NoError(t, err)
	assert.Equal(t, "4096", gotStr)
}

func TestStatementOptionValidation(t *testing.T) {
	stmt := newTestStatement(newTestConnection(&fakeWarehouseClient{}), clockwork.NewRealClock())
	defer stmt.Close()

	err := stmt.SetOptionInt(OptionIntRowLimit, -1)
	require.Equal(t, adbc.StatusInvalidArgument, driverbase.Status(err))

	err = stmt.SetOption(OptionIntQueryTimeoutSeconds, "abc")
	require.Equal(t, adbc.StatusInvalidArgument, driverbase.Status(err))

	err = stmt.SetOption("adbc.databricks.bogus", "1")
	require.Error(t, err)
}

func TestPrepareRequiresQuery(t *testing.T) {
	stmt := newTestStatement(newTestConnection(&fakeWarehouseClient{}), clockwork.NewRealClock())
	defer stmt.Close()

	err := stmt.Prepare(context.Background())
	require.Equal(t, adbc.StatusInvalidState, driverbase.Status(err))

	require.NoError(t, stmt.SetSqlQuery("SELECT 1"))
	require.NoError(t, stmt.Prepare(context.Background()))
}

func TestUnsupportedFeaturesFailUniformly(t *testing.T) {
	cnxn := newTestConnection(&fakeWarehouseClient{})
	stmt := newTestStatement(cnxn, clockwork.NewRealClock())
	defer stmt.Close()

	errs := []error{
		stmt.Bind(context.Background(), nil),
		stmt.BindStream(context.Background(), nil),
		stmt.SetSubstraitPlan(nil),
		stmt.SetOption(adbc.OptionKeyIngestTargetTable, "t"),
		cnxn.SetAutocommit(false),
	}
	_, _, _, err := stmt.ExecutePartitions(context.Background())
	errs = append(errs, err)
	_, err = stmt.GetParameterSchema()
	errs = append(errs, err)

	for _, err := range errs {
		require.Error(t, err)
		assert.Equal(t, adbc.StatusNotImplemented, driverbase.Status(err))
		assert.Contains(t, err.Error(), "unsupported feature")
	}
}

func TestPollJitterBounds(t *testing.T) {
	for i := 0; i < 100; i++ {
		d := withJitter(time.Second)
		assert.GreaterOrEqual(t, d, 750*time.Millisecond)
		assert.LessOrEqual(t, d, 1250*time.Millisecond)
	}
}
