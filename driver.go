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

// Package databricks is an ADBC driver for Databricks SQL warehouses.
// Statements run through the SQL statement execution REST API and results
// stream back as Arrow record batches fetched from cloud storage.
package databricks

import (
	"runtime/debug"

	"github.com/apache/arrow-adbc/go/adbc"
	"github.com/apache/arrow-go/v18/arrow/memory"

	"github.com/dbt-labs/databricks-adbc/internal/driverbase"
)

const (
	// When multiple authentication attributes are available in the environment,
	// use the authentication type specified by this argument.
	OptionStringAuthType        = "adbc.databricks.auth_type"
	OptionValueAuthTypeOAuthM2M = "oauth-m2m"
	OptionValueAuthTypePAT      = "pat"

	// Databricks workspace hostname, without scheme.
	OptionStringHost = "adbc.databricks.host"
	// Personal access token, implies auth_type=pat.
	OptionStringToken = "adbc.databricks.token"

	// The Databricks service principal's client ID and secret, used by the
	// oauth-m2m authentication type.
	OptionStringClientID     = "adbc.databricks.client_id"
	OptionStringClientSecret = "adbc.databricks.client_secret"

	// SQL warehouse to execute statements on. Either the warehouse ID or
	// the HTTP path (/sql/1.0/warehouses/<id>) shown in the workspace UI.
	OptionStringWarehouse = "adbc.databricks.warehouse"
	OptionStringHTTPPath  = "adbc.databricks.http_path"

	// Optional default catalog and schema to use when executing SQL statements.
	OptionStringCatalog = "adbc.databricks.catalog"
	OptionStringSchema  = "adbc.databricks.schema"

	// Number of seconds for HTTP timeout. Default is 30.
	OptionIntHTTPTimeoutSeconds = "adbc.databricks.http_timeout_seconds"

	// Number of additional attempts for transient API and download
	// failures. Default is 3.
	OptionIntMaxRetries = "adbc.databricks.max_retries"

	// Maximum number of result chunks downloaded concurrently. Default is 3.
	OptionIntParallelDownloads = "adbc.databricks.cloudfetch.parallel_downloads"

	// Number of chunks to download ahead of the one the reader needs next.
	// Default is 2.
	OptionIntPrefetchCount = "adbc.databricks.cloudfetch.prefetch_count"

	// Cap in bytes on downloaded-but-unread chunk data. Default is
	// 200 MiB.
	OptionIntMaxBufferSize = "adbc.databricks.cloudfetch.max_buffer_size"

	// Maximum number of result rows per statement. Zero means unlimited.
	OptionIntRowLimit = "adbc.databricks.row_limit"

	// Maximum number of result bytes per statement. Zero means unlimited.
	OptionIntByteLimit = "adbc.databricks.byte_limit"

	// Number of seconds to wait for a statement to reach a terminal state.
	// Zero means wait until the caller's context expires.
	OptionIntQueryTimeoutSeconds = "adbc.databricks.query_timeout_seconds"
)

var (
	infoVendorVersion string
)

func init() {
	if info, ok := debug.ReadBuildInfo(); ok {
		if info.Main.Version != "" && info.Main.Version != "(devel)" {
			infoVendorVersion = info.Main.Version
		}
	}
}

type driverImpl struct {
	driverbase.DriverImplBase
}

// NewDriver creates a new Databricks driver using the given Arrow allocator.
func NewDriver(alloc memory.Allocator) adbc.Driver {
	info := driverbase.DefaultDriverInfo("Databricks")
	if infoVendorVersion != "" {
		if err := info.RegisterInfoCode(adbc.InfoVendorVersion, infoVendorVersion); err != nil {
			panic(err)
		}
	}
	return driverbase.NewDriver(&driverImpl{
		DriverImplBase: driverbase.NewDriverImplBase(info, alloc),
	})
}

func (d *driverImpl) NewDatabase(opts map[string]string) (adbc.Database, error) {
	db := &databaseImpl{
		DatabaseImplBase: driverbase.NewDatabaseImplBase(&d.DriverImplBase),
		config:           defaultConfig(),
	}
	if err := db.SetOptions(opts); err != nil {
		return nil, err
	}
	return driverbase.NewDatabase(db), nil
}
