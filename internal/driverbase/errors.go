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

package driverbase

import (
	"context"
	"errors"
	"fmt"

	"github.com/apache/arrow-adbc/go/adbc"
)

// ErrorHelper builds adbc.Error values with a consistent driver-name prefix.
type ErrorHelper struct {
	DriverName string
}

func (helper *ErrorHelper) Errorf(code adbc.Status, message string, format ...interface{}) error {
	return adbc.Error{
		Code: code,
		Msg:  fmt.Sprintf("%s: %s", helper.DriverName, fmt.Sprintf(message, format...)),
	}
}

// Status extracts the adbc.Status from err, or StatusUnknown if err is not
// an adbc.Error.
func Status(err error) adbc.Status {
	var adbcErr adbc.Error
	if errors.As(err, &adbcErr) {
		return adbcErr.Code
	}
	return adbc.StatusUnknown
}

// StatusFromContext maps a context error to the status an aborted
// operation should carry: StatusTimeout for an expired deadline,
// StatusCancelled otherwise.
func StatusFromContext(err error) adbc.Status {
	if errors.Is(err, context.DeadlineExceeded) {
		return adbc.StatusTimeout
	}
	return adbc.StatusCancelled
}

// IsTransient reports whether err represents a retriable condition
// (I/O failures and timeouts, as opposed to permanent rejections).
func IsTransient(err error) bool {
	switch Status(err) {
	case adbc.StatusIO, adbc.StatusTimeout:
		return true
	}
	return false
}
