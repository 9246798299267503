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
	"log/slog"

	"github.com/apache/arrow-adbc/go/adbc"
	"go.opentelemetry.io/otel/trace"
)

const (
	StatementMessageOptionUnknown     = "Unknown statement option"
	StatementMessageOptionUnsupported = "Unsupported statement option"
)

// StatementImpl is the interface implemented on top of StatementImplBase to
// provide vendor-specific functionality.
type StatementImpl interface {
	adbc.Statement
	adbc.StatementExecuteSchema
	adbc.GetSetOptions
	Base() *StatementImplBase
}

// StatementImplBase is a composite struct providing default implementations
// of the StatementImpl interface.
type StatementImplBase struct {
	ErrorHelper ErrorHelper
	Logger      *slog.Logger
	Tracer      trace.Tracer

	cnxn *ConnectionImplBase
}

// Statement is the interface satisfied by the result of the NewStatement
// constructor.
type Statement interface {
	adbc.Statement
	adbc.GetSetOptions
}

type statement struct {
	StatementImpl
}

// NewStatementImplBase instantiates StatementImplBase, reusing the common
// resources of the parent connection.
func NewStatementImplBase(cnxn *ConnectionImplBase, errorHelper ErrorHelper) StatementImplBase {
	return StatementImplBase{
		ErrorHelper: errorHelper,
		Logger:      cnxn.Logger,
		Tracer:      cnxn.Tracer,
		cnxn:        cnxn,
	}
}

// NewStatement wraps a StatementImpl to create an adbc.Statement.
func NewStatement(impl StatementImpl) Statement {
	return &statement{StatementImpl: impl}
}

// Cancel forwards to the impl when it supports cancellation. Declared on
// the wrapper because StatementImpl does not require it, so embedding
// alone would not expose it to interface assertions.
func (st *statement) Cancel() error {
	if impl, ok := st.StatementImpl.(interface{ Cancel() error }); ok {
		return impl.Cancel()
	}
	return st.Base().ErrorHelper.Errorf(adbc.StatusNotImplemented, "Cancel")
}

func (st *StatementImplBase) Base() *StatementImplBase {
	return st
}

func (st *StatementImplBase) SetOption(key, value string) error {
	return st.ErrorHelper.Errorf(adbc.StatusNotImplemented, "%s '%s'", StatementMessageOptionUnknown, key)
}

func (st *StatementImplBase) SetOptionBytes(key string, value []byte) error {
	return st.ErrorHelper.Errorf(adbc.StatusNotImplemented, "%s '%s'", StatementMessageOptionUnknown, key)
}

func (st *StatementImplBase) SetOptionInt(key string, value int64) error {
	return st.ErrorHelper.Errorf(adbc.StatusNotImplemented, "%s '%s'", StatementMessageOptionUnknown, key)
}

func (st *StatementImplBase) SetOptionDouble(key string, value float64) error {
	return st.ErrorHelper.Errorf(adbc.StatusNotImplemented, "%s '%s'", StatementMessageOptionUnknown, key)
}

func (st *StatementImplBase) GetOption(key string) (string, error) {
	return "", st.ErrorHelper.Errorf(adbc.StatusNotImplemented, "%s '%s'", StatementMessageOptionUnknown, key)
}

func (st *StatementImplBase) GetOptionBytes(key string) ([]byte, error) {
	return nil, st.ErrorHelper.Errorf(adbc.StatusNotImplemented, "%s '%s'", StatementMessageOptionUnknown, key)
}

func (st *StatementImplBase) GetOptionInt(key string) (int64, error) {
	return 0, st.ErrorHelper.Errorf(adbc.StatusNotImplemented, "%s '%s'", StatementMessageOptionUnknown, key)
}

func (st *StatementImplBase) GetOptionDouble(key string) (float64, error) {
	return 0, st.ErrorHelper.Errorf(adbc.StatusNotImplemented, "%s '%s'", StatementMessageOptionUnknown, key)
}

// StartSpan starts a client span for a statement operation.
func (st *StatementImplBase) StartSpan(ctx context.Context, spanName string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	return st.Tracer.Start(ctx, spanName, opts...)
}
