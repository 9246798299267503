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

package warehouse

import "time"

// State is the lifecycle state of a statement on the warehouse.
type State string

const (
	StatePending   State = "PENDING"
	StateRunning   State = "RUNNING"
	StateSucceeded State = "SUCCEEDED"
	StateFailed    State = "FAILED"
	StateCanceled  State = "CANCELED"
	StateClosed    State = "CLOSED"
)

// Terminal reports whether no further state transitions are possible.
func (s State) Terminal() bool {
	switch s {
	case StateSucceeded, StateFailed, StateCanceled, StateClosed:
		return true
	}
	return false
}

// ColumnInfo describes one column of the result schema.
type ColumnInfo struct {
	Name          string `json:"name"`
	TypeName      string `json:"type_name"`
	TypeText      string `json:"type_text,omitempty"`
	Position      int    `json:"position"`
	TypePrecision int    `json:"type_precision,omitempty"`
	TypeScale     int    `json:"type_scale,omitempty"`

	// TypeIntervalType carries the interval qualifier, e.g. "YEAR TO MONTH".
	TypeIntervalType string `json:"type_interval_type,omitempty"`
}

// ResultSchema is the column layout reported in the result manifest.
type ResultSchema struct {
	ColumnCount int          `json:"column_count"`
	Columns     []ColumnInfo `json:"columns"`
}

// ChunkInfo locates one chunk within the overall result.
type ChunkInfo struct {
	ChunkIndex int64 `json:"chunk_index"`
	ByteCount  int64 `json:"byte_count"`
	RowCount   int64 `json:"row_count"`
	RowOffset  int64 `json:"row_offset"`
}

// ResultManifest summarizes a completed statement's result.
type ResultManifest struct {
	Format          string       `json:"format"`
	Schema          ResultSchema `json:"schema"`
	TotalChunkCount int64        `json:"total_chunk_count"`
	TotalRowCount   int64        `json:"total_row_count"`
	TotalByteCount  int64        `json:"total_byte_count"`
	Truncated       bool         `json:"truncated"`
	Chunks          []ChunkInfo  `json:"chunks"`
}

// ExternalLink is a signed URL to one result chunk in cloud storage.
type ExternalLink struct {
	ExternalLink   string    `json:"external_link"`
	ChunkIndex     int64     `json:"chunk_index"`
	ByteCount      int64     `json:"byte_count"`
	RowCount       int64     `json:"row_count"`
	RowOffset      int64     `json:"row_offset"`
	Expiration     time.Time `json:"expiration"`
	NextChunkIndex int64     `json:"next_chunk_index,omitempty"`

	// HTTPHeaders must be sent verbatim when fetching the link.
	HTTPHeaders map[string]string `json:"http_headers,omitempty"`
}

// Expired reports whether the link is unusable at the given instant.
func (l *ExternalLink) Expired(now time.Time) bool {
	return !l.Expiration.IsZero() && !now.Before(l.Expiration)
}

// ResultData carries the external links for one or more chunks.
type ResultData struct {
	ExternalLinks []ExternalLink `json:"external_links"`
}

// StatementError is the failure payload reported by the warehouse.
type StatementError struct {
	ErrorCode string `json:"error_code"`
	Message   string `json:"message"`
}

// StatementStatus is the state portion of a statement response.
type StatementStatus struct {
	State State           `json:"state"`
	Error *StatementError `json:"error,omitempty"`
}

// StatementResponse is returned by submit and poll calls.
type StatementResponse struct {
	StatementID string          `json:"statement_id"`
	Status      StatementStatus `json:"status"`
	Manifest    *ResultManifest `json:"manifest,omitempty"`
	Result      *ResultData     `json:"result,omitempty"`
}

// SubmitRequest is the body of a statement submission.
type SubmitRequest struct {
	Statement     string `json:"statement"`
	WarehouseID   string `json:"warehouse_id"`
	Catalog       string `json:"catalog,omitempty"`
	Schema        string `json:"schema,omitempty"`
	WaitTimeout   string `json:"wait_timeout,omitempty"`
	OnWaitTimeout string `json:"on_wait_timeout,omitempty"`
	Disposition   string `json:"disposition,omitempty"`
	Format        string `json:"format,omitempty"`
	RowLimit      int64  `json:"row_limit,omitempty"`
	ByteLimit     int64  `json:"byte_limit,omitempty"`
}
