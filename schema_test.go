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
	"testing"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dbt-labs/databricks-adbc/internal/warehouse"
)

func TestArrowTypeFromColumnInfo(t *testing.T) {
	tests := []struct {
		name     string
		col      warehouse.ColumnInfo
		expected arrow.DataType
		wantErr  bool
	}{
		// Basic types
		{
			name:     "byte type",
			col:      warehouse.ColumnInfo{TypeName: "BYTE"},
			expected: arrow.PrimitiveTypes.Int8,
		},
		{
			name:     "short type",
			col:      warehouse.ColumnInfo{TypeName: "SHORT"},
			expected: arrow.PrimitiveTypes.Int16,
		},
		{
			name:     "int type",
			col:      warehouse.ColumnInfo{TypeName: "INT"},
			expected: arrow.PrimitiveTypes.Int32,
		},
		{
			name:     "long type",
			col:      warehouse.ColumnInfo{TypeName: "LONG"},
			expected: arrow.PrimitiveTypes.Int64,
		},
		{
			name:     "float type",
			col:      warehouse.ColumnInfo{TypeName: "FLOAT"},
			expected: arrow.PrimitiveTypes.Float32,
		},
		{
			name:     "double type",
			col:      warehouse.ColumnInfo{TypeName: "DOUBLE"},
			expected: arrow.PrimitiveTypes.Float64,
		},
		{
			name:     "string type",
			col:      warehouse.ColumnInfo{TypeName: "STRING"},
			expected: arrow.BinaryTypes.String,
		},
		{
			name:     "binary type",
			col:      warehouse.ColumnInfo{TypeName: "BINARY"},
			expected: arrow.BinaryTypes.Binary,
		},
		{
			name:     "boolean type",
			col:      warehouse.ColumnInfo{TypeName: "BOOLEAN"},
			expected: arrow.FixedWidthTypes.Boolean,
		},
		{
			name:     "date type",
			col:      warehouse.ColumnInfo{TypeName: "DATE"},
			expected: arrow.FixedWidthTypes.Date32,
		},
		{
			name:     "null type",
			col:      warehouse.ColumnInfo{TypeName: "NULL"},
			expected: arrow.Null,
		},

		// Decimal types
		{
			name: "decimal type with precision and scale",
			col: warehouse.ColumnInfo{
				TypeName:      "DECIMAL",
				TypePrecision: 10,
				TypeScale:     2,
			},
			expected: &arrow.Decimal128Type{Precision: 10, Scale: 2},
		},
		{
			name: "wide decimal type",
			col: warehouse.ColumnInfo{
				TypeName:      "DECIMAL",
				TypePrecision: 40,
				TypeScale:     4,
			},
			expected: &arrow.Decimal256Type{Precision: 40, Scale: 4},
		},
		{
			name: "decimal type from type text",
			col: warehouse.ColumnInfo{
				TypeName: "DECIMAL",
				TypeText: "DECIMAL(18,6)",
			},
			expected: &arrow.Decimal128Type{Precision: 18, Scale: 6},
		},

		// Date-time types
		{
			name:     "timestamp type",
			col:      warehouse.ColumnInfo{TypeName: "TIMESTAMP"},
			expected: &arrow.TimestampType{Unit: arrow.Microsecond, TimeZone: "UTC"},
		},
		{
			name:     "timestamp ntz type",
			col:      warehouse.ColumnInfo{TypeName: "TIMESTAMP_NTZ"},
			expected: &arrow.TimestampType{Unit: arrow.Microsecond},
		},

		// Nested types
		{
			name: "array of ints",
			col: warehouse.ColumnInfo{
				TypeName: "ARRAY",
				TypeText: "ARRAY<INT>",
			},
			expected: arrow.ListOf(arrow.PrimitiveTypes.Int32),
		},
		{
			name: "array of decimals",
			col: warehouse.ColumnInfo{
				TypeName: "ARRAY",
				TypeText: "ARRAY<DECIMAL(10,2)>",
			},
			expected: arrow.ListOf(&arrow.Decimal128Type{Precision: 10, Scale: 2}),
		},
		{
			name: "map of string to long",
			col: warehouse.ColumnInfo{
				TypeName: "MAP",
				TypeText: "MAP<STRING,LONG>",
			},
			expected: arrow.MapOf(arrow.BinaryTypes.String, arrow.PrimitiveTypes.Int64),
		},
		{
			name: "struct type",
			col: warehouse.ColumnInfo{
				TypeName: "STRUCT",
				TypeText: "STRUCT<a:INT,b:STRING>",
			},
			expected: arrow.StructOf(
				arrow.Field{Name: "a", Type: arrow.PrimitiveTypes.Int32, Nullable: true},
				arrow.Field{Name: "b", Type: arrow.BinaryTypes.String, Nullable: true},
			),
		},

		// Interval types
		{
			name: "year month interval",
			col: warehouse.ColumnInfo{
				TypeName:         "INTERVAL",
				TypeIntervalType: "YEAR TO MONTH",
			},
			expected: arrow.FixedWidthTypes.MonthInterval,
		},
		{
			name: "day time interval",
			col: warehouse.ColumnInfo{
				TypeName:         "INTERVAL",
				TypeIntervalType: "DAY TO SECOND",
			},
			expected: arrow.FixedWidthTypes.DayTimeInterval,
		},
		{
			name: "interval from type text",
			col: warehouse.ColumnInfo{
				TypeName: "INTERVAL",
				TypeText: "INTERVAL HOUR TO MINUTE",
			},
			expected: arrow.FixedWidthTypes.DayTimeInterval,
		},

		// Failure modes
		{
			name:    "unsupported type",
			col:     warehouse.ColumnInfo{TypeName: "GEOGRAPHY"},
			wantErr: true,
		},
		{
			name: "array without element type",
			col: warehouse.ColumnInfo{
				TypeName: "ARRAY",
				TypeText: "ARRAY",
			},
			wantErr: true,
		},
		{
			name: "struct with malformed field",
			col: warehouse.ColumnInfo{
				TypeName: "STRUCT",
				TypeText: "STRUCT<justaname>",
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := arrowTypeFromColumnInfo(tt.col)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.True(t, arrow.TypeEqual(tt.expected, got), "expected %s, got %s", tt.expected, got)
		})
	}
}

func TestResultSchemaToArrowSchema(t *testing.T) {
	schema, err := resultSchemaToArrowSchema(&warehouse.ResultSchema{
		ColumnCount: 2,
		Columns: []warehouse.ColumnInfo{
			{Name: "id", TypeName: "LONG", TypeText: "BIGINT", Position: 0},
			{Name: "name", TypeName: "STRING", TypeText: "STRING", Position: 1},
		},
	})
	require.NoError(t, err)

	require.Equal(t, 2, schema.NumFields())
	assert.Equal(t, "id", schema.Field(0).Name)
	assert.True(t, arrow.TypeEqual(arrow.PrimitiveTypes.Int64, schema.Field(0).Type))
	assert.True(t, schema.Field(0).Nullable)

	typeName, ok := schema.Field(0).Metadata.GetValue(MetadataKeyDatabricksType)
	require.True(t, ok)
	assert.Equal(t, "LONG", typeName)
}

func TestColumnInfoFromTypeText(t *testing.T) {
	tests := []struct {
		text     string
		typeName string
	}{
		{"INT", "INT"},
		{" STRING ", "STRING"},
		{"DECIMAL(10,2)", "DECIMAL"},
		{"ARRAY<INT>", "ARRAY"},
		{"MAP<STRING,INT>", "MAP"},
		{"INTERVAL YEAR TO MONTH", "INTERVAL"},
	}
	for _, tt := range tests {
		col := columnInfoFromTypeText(tt.text)
		assert.Equal(t, tt.typeName, col.TypeName, "type text %q", tt.text)
	}
}
