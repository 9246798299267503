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
	"bytes"

	"github.com/apache/arrow-adbc/go/adbc"
	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/ipc"
	"github.com/apache/arrow-go/v18/arrow/memory"

	"github.com/dbt-labs/databricks-adbc/internal/driverbase"
)

// decodeChunk parses one chunk's Arrow IPC stream into records. The records
// are retained and must be released by the consumer. When expected is
// non-nil the stream's schema is checked against it; a mismatch is a data
// integrity failure.
func decodeChunk(alloc memory.Allocator, expected *arrow.Schema, data []byte, chunkIndex int64, helper driverbase.ErrorHelper) ([]arrow.Record, error) {
	rdr, err := ipc.NewReader(bytes.NewReader(data), ipc.WithAllocator(alloc))
	if err != nil {
		return nil, helper.Errorf(adbc.StatusInvalidData, "chunk %d: parsing IPC stream: %s", chunkIndex, err)
	}
	defer rdr.Release()

	if expected != nil {
		got := rdr.Schema()
		if got.NumFields() != expected.NumFields() {
			return nil, helper.Errorf(adbc.StatusInvalidData,
				"chunk %d: schema has %d columns, expected %d", chunkIndex, got.NumFields(), expected.NumFields())
		}
		for i := 0; i < expected.NumFields(); i++ {
			if !arrow.TypeEqual(got.Field(i).Type, expected.Field(i).Type) {
				return nil, helper.Errorf(adbc.StatusInvalidData,
					"chunk %d: column %q has type %s, expected %s",
					chunkIndex, got.Field(i).Name, got.Field(i).Type, expected.Field(i).Type)
			}
		}
	}

	var recs []arrow.Record
	for rdr.Next() {
		rec := rdr.Record()
		rec.Retain()
		recs = append(recs, rec)
	}
	if err := rdr.Err(); err != nil {
		releaseAll(recs)
		return nil, helper.Errorf(adbc.StatusInvalidData, "chunk %d: reading IPC stream: %s", chunkIndex, err)
	}
	return recs, nil
}

func releaseAll(recs []arrow.Record) {
	for _, rec := range recs {
		rec.Release()
	}
}

// schemaFromRecords pulls the schema off an already decoded chunk, used
// when no schema was known before the first chunk arrived.
func schemaFromRecords(recs []arrow.Record) *arrow.Schema {
	if len(recs) == 0 {
		return nil
	}
	return recs[0].Schema()
}
