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
	"regexp"
	"strings"

	"github.com/apache/arrow-adbc/go/adbc"
)

const unknownVendorCode = int32(-1) // sentinel value for vendor code; databricks doesn't populate

var (
	sqlstateRE               = regexp.MustCompile(`(?i)SQLSTATE:\s*([A-Z0-9]{5})`)
	defaultSQLStateErrorCode = [5]byte{'H', 'Y', '0', '0', '0'} // general error
)

// NewAdbcError wraps a warehouse-reported failure message, preserving it
// verbatim and extracting the SQLSTATE when the message carries one.
func NewAdbcError(msg string, code adbc.Status) adbc.Error {
	sqlstate := defaultSQLStateErrorCode

	if m := sqlstateRE.FindStringSubmatch(msg); len(m) == 2 {
		copy(sqlstate[:], strings.ToUpper(m[1]))
	}

	return adbc.Error{
		Msg:        msg,
		Code:       code,
		VendorCode: unknownVendorCode,
		SqlState:   sqlstate,
		Details:    nil,
	}
}
