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
	"log/slog"
	"sync/atomic"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"

	"github.com/dbt-labs/databricks-adbc/internal/driverbase"
	"github.com/dbt-labs/databricks-adbc/internal/warehouse"
)

// Reader is an array.RecordReader over the chunks of one statement result.
// Records come out in chunk order, then in record order within each chunk.
//
// Reader is not safe for concurrent use, matching the RecordReader contract.
type Reader struct {
	refCount int64

	ctx    context.Context
	pipe   *pipeline
	schema *arrow.Schema
	helper driverbase.ErrorHelper

	// next is the position of the next chunk to collect from the pipeline.
	next int

	// queue holds the undelivered records of the current chunk.
	queue []arrow.Record
	cur   chunkResult
	// curActive marks that cur's buffer reservation is still held.
	curActive bool

	rec arrow.Record
	err error
}

var _ array.RecordReader = (*Reader)(nil)

// NewReader starts the download pipeline and returns a reader over its
// output. schema may be nil, in which case it is taken from the first
// chunk. links holds the signed URLs known at submission time, keyed by
// chunk index; chunks without one are resolved through the fetcher.
func NewReader(ctx context.Context, cfg Config, fetcher Fetcher, alloc memory.Allocator, schema *arrow.Schema,
	chunks []warehouse.ChunkInfo, links map[int64]warehouse.ExternalLink, logger *slog.Logger, helper driverbase.ErrorHelper) *Reader {
	r := &Reader{
		refCount: 1,
		ctx:      ctx,
		schema:   schema,
		helper:   helper,
	}
	if len(chunks) > 0 {
		r.pipe = newPipeline(ctx, cfg, fetcher, alloc, schema, chunks, links, logger, helper)
	}
	return r
}

func (r *Reader) Retain() {
	atomic.AddInt64(&r.refCount, 1)
}

func (r *Reader) Release() {
	if atomic.AddInt64(&r.refCount, -1) == 0 {
		if r.rec != nil {
			r.rec.Release()
			r.rec = nil
		}
		releaseAll(r.queue)
		r.queue = nil
		if r.pipe != nil {
			r.pipe.close()
			r.pipe = nil
		}
	}
}

// Next advances to the next record. On false the caller must check Err to
// distinguish exhaustion from failure.
func (r *Reader) Next() bool {
	if r.rec != nil {
		r.rec.Release()
		r.rec = nil
	}
	if r.err != nil {
		return false
	}
	for {
		if len(r.queue) > 0 {
			r.rec = r.queue[0]
			r.queue = r.queue[1:]
			return true
		}
		if !r.loadNextChunk() {
			return false
		}
	}
}

// loadNextChunk blocks until the next chunk in order is available and
// stages its records. Returns false when the result is exhausted or failed.
func (r *Reader) loadNextChunk() bool {
	if r.curActive {
		r.pipe.delivered(r.cur)
		r.curActive = false
		r.cur = chunkResult{}
	}
	if r.pipe == nil || r.next >= len(r.pipe.chunks) {
		return false
	}
	res, err := r.pipe.take(r.ctx, r.next)
	if err != nil {
		r.err = r.helper.Errorf(driverbase.StatusFromContext(err), "result stream aborted: %s", err)
		return false
	}
	r.next++
	if res.err != nil {
		r.err = res.err
		return false
	}
	r.cur = res
	r.curActive = true
	r.queue = res.recs
	if r.schema == nil {
		r.schema = schemaFromRecords(res.recs)
	}
	return true
}

// Schema returns the result schema, waiting for the first chunk when no
// schema was known up front.
func (r *Reader) Schema() *arrow.Schema {
	if r.schema == nil && r.err == nil && r.pipe != nil && r.next == 0 && !r.curActive {
		r.loadNextChunk()
	}
	return r.schema
}

func (r *Reader) RecordBatch() arrow.RecordBatch {
	return r.rec
}

// Record returns the current record batch.
//
// Deprecated: Use [Reader.RecordBatch] instead.
func (r *Reader) Record() arrow.Record {
	return r.rec
}

func (r *Reader) Err() error {
	return r.err
}
