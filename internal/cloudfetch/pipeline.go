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
	"sync"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"golang.org/x/sync/errgroup"

	"github.com/dbt-labs/databricks-adbc/internal/driverbase"
	"github.com/dbt-labs/databricks-adbc/internal/warehouse"
)

// chunkResult is the outcome of downloading and decoding one chunk.
// Exactly one result is published per chunk.
type chunkResult struct {
	recs []arrow.Record

	// reserved is the amount currently charged to the memory gate for
	// this chunk; the consumer releases it after delivery.
	reserved int64
	err      error
}

// pipeline downloads chunks with bounded parallelism and publishes each
// result on a dedicated 1-buffered channel so the consumer can collect
// them strictly in index order regardless of completion order.
//
// Admission is gated three ways:
//   - the window semaphore keeps admitted chunks within prefetch distance
//     of the next chunk the consumer will take
//   - the fetch semaphore caps concurrent downloads
//   - the memory gate keeps buffered bytes under the configured cap
type pipeline struct {
	cfg     Config
	fetcher Fetcher
	alloc   memory.Allocator
	schema  *arrow.Schema
	chunks  []warehouse.ChunkInfo
	links   map[int64]warehouse.ExternalLink
	logger  *slog.Logger
	helper  driverbase.ErrorHelper

	results []chan chunkResult
	window  chan struct{}
	mem     *memoryGate

	cancel context.CancelFunc
	group  *errgroup.Group
}

func newPipeline(ctx context.Context, cfg Config, fetcher Fetcher, alloc memory.Allocator, schema *arrow.Schema,
	chunks []warehouse.ChunkInfo, links map[int64]warehouse.ExternalLink, logger *slog.Logger, helper driverbase.ErrorHelper) *pipeline {
	cfg = cfg.withDefaults()

	ctx, cancel := context.WithCancel(ctx)
	group, ctx := errgroup.WithContext(ctx)

	p := &pipeline{
		cfg:     cfg,
		fetcher: fetcher,
		alloc:   alloc,
		schema:  schema,
		chunks:  chunks,
		links:   links,
		logger:  logger,
		helper:  helper,
		results: make([]chan chunkResult, len(chunks)),
		window:  make(chan struct{}, cfg.PrefetchCount+1),
		mem:     newMemoryGate(ctx, cfg.MaxBufferSize),
		cancel:  cancel,
		group:   group,
	}
	for i := range p.results {
		p.results[i] = make(chan chunkResult, 1)
	}
	group.Go(func() error { return p.dispatch(ctx) })
	return p
}

// dispatch admits chunks in index order. The window semaphore blocks when
// the admitted set is a full prefetch distance ahead of the consumer, and
// the memory gate blocks while the buffer is full, so a slow consumer
// stalls admission rather than growing the buffer.
func (p *pipeline) dispatch(ctx context.Context) error {
	sem := make(chan struct{}, p.cfg.ParallelDownloads)
	for i := range p.chunks {
		select {
		case p.window <- struct{}{}:
		case <-ctx.Done():
			return nil
		}
		chunk := p.chunks[i]
		if err := p.mem.reserve(ctx, chunk.ByteCount); err != nil {
			return nil
		}
		select {
		case sem <- struct{}{}:
		case <-ctx.Done():
			p.mem.release(chunk.ByteCount)
			return nil
		}
		idx := i
		p.group.Go(func() error {
			defer func() { <-sem }()
			return p.download(ctx, idx)
		})
	}
	return nil
}

// download fetches and decodes one chunk and publishes the result. The
// result channel has capacity 1, so publishing never blocks and the worker
// goroutine always exits. A failure is published but does not cancel the
// pipeline; chunks before the failed one still stream out in order, and
// the consumer tears everything down once it reaches the failed index.
func (p *pipeline) download(ctx context.Context, idx int) error {
	chunk := p.chunks[idx]
	reserved := chunk.ByteCount

	var link *warehouse.ExternalLink
	if l, ok := p.links[chunk.ChunkIndex]; ok {
		link = &l
	}

	data, err := p.fetcher.FetchChunk(ctx, chunk, link)
	if err != nil {
		p.mem.release(reserved)
		p.results[idx] <- chunkResult{err: err}
		return nil
	}

	// The manifest's byte count is an estimate until the download lands;
	// settle the reservation on the actual size.
	actual := int64(len(data))
	p.mem.adjust(reserved, actual)
	reserved = actual

	recs, err := decodeChunk(p.alloc, p.schema, data, chunk.ChunkIndex, p.helper)
	if err != nil {
		p.mem.release(reserved)
		p.results[idx] <- chunkResult{err: err}
		return nil
	}

	p.logger.DebugContext(ctx, "chunk ready", "chunk", chunk.ChunkIndex, "bytes", actual, "records", len(recs))
	p.results[idx] <- chunkResult{recs: recs, reserved: reserved}
	return nil
}

// take blocks until the chunk at position idx is available.
func (p *pipeline) take(ctx context.Context, idx int) (chunkResult, error) {
	select {
	case res := <-p.results[idx]:
		return res, nil
	case <-ctx.Done():
		return chunkResult{}, ctx.Err()
	}
}

// delivered tells the pipeline the consumer is done with a chunk's data,
// freeing its buffer reservation and its slot in the prefetch window.
func (p *pipeline) delivered(res chunkResult) {
	p.mem.release(res.reserved)
	<-p.window
}

// close aborts all outstanding work and discards undelivered results.
func (p *pipeline) close() {
	p.cancel()
	_ = p.group.Wait()
	for _, ch := range p.results {
		select {
		case res := <-ch:
			releaseAll(res.recs)
		default:
		}
	}
}

// memoryGate is a byte-count admission gate. reserve blocks while the gate
// is full; a request larger than the capacity is admitted when nothing else
// is buffered, so one oversized chunk cannot deadlock the pipeline.
type memoryGate struct {
	mu       sync.Mutex
	cond     *sync.Cond
	capacity int64
	used     int64
	done     bool
}

func newMemoryGate(ctx context.Context, capacity int64) *memoryGate {
	g := &memoryGate{capacity: capacity}
	g.cond = sync.NewCond(&g.mu)
	context.AfterFunc(ctx, func() {
		g.mu.Lock()
		g.done = true
		g.mu.Unlock()
		g.cond.Broadcast()
	})
	return g
}

func (g *memoryGate) reserve(ctx context.Context, n int64) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	for g.used > 0 && g.used+n > g.capacity {
		if g.done {
			return ctx.Err()
		}
		g.cond.Wait()
	}
	if g.done {
		return ctx.Err()
	}
	g.used += n
	return nil
}

func (g *memoryGate) adjust(old, actual int64) {
	g.mu.Lock()
	g.used += actual - old
	g.mu.Unlock()
	g.cond.Broadcast()
}

func (g *memoryGate) release(n int64) {
	g.mu.Lock()
	g.used -= n
	g.mu.Unlock()
	g.cond.Broadcast()
}
