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

// Package cloudfetch streams Arrow result chunks from cloud storage.
// Chunks are downloaded with bounded parallelism, buffered under a memory
// cap and delivered to the reader strictly in chunk order.
package cloudfetch

const (
	DefaultParallelDownloads = 3
	DefaultPrefetchCount     = 2
	DefaultMaxBufferSize     = 200 * 1024 * 1024

	// DefaultMaxRetries is the retry budget for transient failures, both
	// for chunk downloads and for warehouse API calls.
	DefaultMaxRetries = 3
)

// Config tunes the download pipeline.
type Config struct {
	// ParallelDownloads caps the number of in-flight chunk downloads.
	ParallelDownloads int

	// PrefetchCount is how many chunks beyond the one the reader needs
	// next may be admitted into the pipeline.
	PrefetchCount int

	// MaxBufferSize caps the total bytes of downloaded-but-undelivered
	// chunk data. A single chunk larger than the cap is still admitted
	// when the buffer is otherwise empty.
	MaxBufferSize int64
}

// DefaultConfig returns the pipeline defaults.
func DefaultConfig() Config {
	return Config{
		ParallelDownloads: DefaultParallelDownloads,
		PrefetchCount:     DefaultPrefetchCount,
		MaxBufferSize:     DefaultMaxBufferSize,
	}
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.ParallelDownloads <= 0 {
		c.ParallelDownloads = def.ParallelDownloads
	}
	if c.PrefetchCount < 0 {
		c.PrefetchCount = def.PrefetchCount
	}
	if c.MaxBufferSize <= 0 {
		c.MaxBufferSize = def.MaxBufferSize
	}
	return c
}
