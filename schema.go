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
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/apache/arrow-go/v18/arrow"

	"github.com/dbt-labs/databricks-adbc/internal/warehouse"
)

// MetadataKeyDatabricksType carries the warehouse SQL type of a column in
// the Arrow field metadata.
const MetadataKeyDatabricksType = "DATABRICKS:type_name"

// Basic SQL types to Arrow types (no extra processing needed)
// https://docs.databricks.com/aws/en/sql/language-manual/sql-ref-datatypes
var basicTypeToArrowTypeMap = map[string]arrow.DataType{
	// Integral numeric types (whole numbers)
	"BYTE":  arrow.PrimitiveTypes.Int8,
	"SHORT": arrow.PrimitiveTypes.Int16,
	"INT":   arrow.PrimitiveTypes.Int32,
	"LONG":  arrow.PrimitiveTypes.Int64,

	// Binary floating point types
	"FLOAT":  arrow.PrimitiveTypes.Float32,
	"DOUBLE": arrow.PrimitiveTypes.Float64,

	// Date-time types
	"DATE": arrow.FixedWidthTypes.Date32,

	// Simple types
	"STRING":  arrow.BinaryTypes.String,
	"BINARY":  arrow.BinaryTypes.Binary,
	"BOOLEAN": arrow.FixedWidthTypes.Boolean,
	"NULL":    arrow.Null,
}

var (
	decimalRE  = regexp.MustCompile(`DECIMAL\((\d+),(\d+)\)`)
	arrayRE    = regexp.MustCompile(`ARRAY<(.+)>`)
	mapRE      = regexp.MustCompile(`MAP<(.+),(.+)>`)
	structRE   = regexp.MustCompile(`STRUCT<(.+)>`)
	intervalRE = regexp.MustCompile(`INTERVAL\s+(\w+)(?:\s+TO\s+(\w+))?`)
	// struct fields are comma separated, nested types are in parentheses
	structFieldRE = regexp.MustCompile(`([^,()]+(?:\([^()]*\)[^,()]*)*)`)
)

// resultSchemaToArrowSchema converts the manifest's column descriptions
// into an Arrow schema. Every column is nullable; the warehouse type name
// is preserved in the field metadata.
func resultSchemaToArrowSchema(schema *warehouse.ResultSchema) (*arrow.Schema, error) {
	fields := make([]arrow.Field, len(schema.Columns))
	for i, col := range schema.Columns {
		arrowType, err := arrowTypeFromColumnInfo(col)
		if err != nil {
			return nil, err
		}
		fields[i] = arrow.Field{
			Name:     col.Name,
			Type:     arrowType,
			Nullable: true,
			Metadata: arrow.MetadataFrom(map[string]string{
				MetadataKeyDatabricksType: col.TypeName,
				"type_text":               col.TypeText,
			}),
		}
	}
	metadata := arrow.MetadataFrom(map[string]string{
		"column_count": strconv.Itoa(len(schema.Columns)),
	})
	return arrow.NewSchema(fields, &metadata), nil
}

// columnInfoFromTypeText builds a ColumnInfo for a nested type spec like
// "DECIMAL(10,2)" or "ARRAY<INT>", splitting the base type name off the
// parameters so the recursion can dispatch on it.
func columnInfoFromTypeText(text string) warehouse.ColumnInfo {
	text = strings.TrimSpace(text)
	base := strings.ToUpper(text)
	if i := strings.IndexAny(base, "(<"); i >= 0 {
		base = strings.TrimSpace(base[:i])
	}
	if strings.HasPrefix(base, "INTERVAL") {
		base = "INTERVAL"
	}
	return warehouse.ColumnInfo{TypeName: base, TypeText: text}
}

func arrowTypeFromColumnInfo(col warehouse.ColumnInfo) (arrow.DataType, error) {
	if arrowType, ok := basicTypeToArrowTypeMap[col.TypeName]; ok {
		return arrowType, nil
	}
	switch col.TypeName {
	case "DECIMAL":
		precision, scale := col.TypePrecision, col.TypeScale
		if precision == 0 {
			// Mostly used by the recursive case (array, map, etc)
			if matches := decimalRE.FindStringSubmatch(col.TypeText); matches != nil {
				var err error
				precision, err = strconv.Atoi(matches[1])
				if err != nil {
					return nil, fmt.Errorf("invalid decimal precision: %v", err)
				}
				scale, err = strconv.Atoi(matches[2])
				if err != nil {
					return nil, fmt.Errorf("invalid decimal scale: %v", err)
				}
			}
		}
		if precision <= 38 {
			return &arrow.Decimal128Type{Precision: int32(precision), Scale: int32(scale)}, nil
		}
		return &arrow.Decimal256Type{Precision: int32(precision), Scale: int32(scale)}, nil
	case "TIMESTAMP":
		return &arrow.TimestampType{
			Unit:     arrow.Microsecond,
			TimeZone: "UTC",
		}, nil
	case "TIMESTAMP_NTZ":
		return &arrow.TimestampType{Unit: arrow.Microsecond}, nil
	case "ARRAY":
		// Only available from the full SQL type spec, "ARRAY<elementType>"
		if matches := arrayRE.FindStringSubmatch(col.TypeText); matches != nil {
			elementType, err := arrowTypeFromColumnInfo(columnInfoFromTypeText(matches[1]))
			if err != nil {
				return nil, fmt.Errorf("failed to parse array element type: %w", err)
			}
			return arrow.ListOf(elementType), nil
		}
		return nil, fmt.Errorf("invalid array type format: %v", col.TypeText)
	case "MAP":
		// "MAP<keyType,valueType>"
		if matches := mapRE.FindStringSubmatch(col.TypeText); matches != nil {
			keyType, err := arrowTypeFromColumnInfo(columnInfoFromTypeText(matches[1]))
			if err != nil {
				return nil, fmt.Errorf("failed to parse map key type: %w", err)
			}
			valueType, err := arrowTypeFromColumnInfo(columnInfoFromTypeText(matches[2]))
			if err != nil {
				return nil, fmt.Errorf("failed to parse map value type: %w", err)
			}
			return arrow.MapOf(keyType, valueType), nil
		}
		return nil, fmt.Errorf("invalid map type format: %v", col.TypeText)
	case "STRUCT":
		// STRUCT < [fieldName [:] fieldType [NOT NULL] [COMMENT str] [, ...] ] >
		if matches := structRE.FindStringSubmatch(col.TypeText); matches != nil {
			fieldsStr := matches[1]

			var arrowFields []arrow.Field
			for _, field := range structFieldRE.FindAllString(fieldsStr, -1) {
				field = strings.TrimSpace(field)
				parts := strings.SplitN(field, ":", 2)
				if len(parts) != 2 {
					return nil, fmt.Errorf("invalid struct field format: %s", field)
				}
				fieldName := strings.TrimSpace(parts[0])
				fieldType, err := arrowTypeFromColumnInfo(columnInfoFromTypeText(parts[1]))
				if err != nil {
					return nil, fmt.Errorf("failed to parse struct field type %s: %w", fieldName, err)
				}
				arrowFields = append(arrowFields, arrow.Field{
					Name:     fieldName,
					Type:     fieldType,
					Nullable: true,
				})
			}
			return arrow.StructOf(arrowFields...), nil
		}
		return nil, fmt.Errorf("invalid struct type format: %v", col.TypeText)
	case "INTERVAL":
		intervalType := func(startUnit, endUnit string) (arrow.DataType, error) {
			switch {
			case startUnit == "YEAR" && (endUnit == "" || endUnit == "MONTH"),
				startUnit == "MONTH" && endUnit == "":
				return arrow.FixedWidthTypes.MonthInterval, nil
			case startUnit == "DAY" && (endUnit == "" || endUnit == "HOUR" || endUnit == "MINUTE" || endUnit == "SECOND"),
				startUnit == "HOUR" && (endUnit == "" || endUnit == "MINUTE" || endUnit == "SECOND"),
				startUnit == "MINUTE" && (endUnit == "" || endUnit == "SECOND"),
				startUnit == "SECOND":
				return arrow.FixedWidthTypes.DayTimeInterval, nil
			default:
				return nil, fmt.Errorf("unsupported interval qualifier: %s TO %s", startUnit, endUnit)
			}
		}

		if col.TypeIntervalType != "" {
			parts := strings.Split(col.TypeIntervalType, " TO ")
			startUnit := parts[0]
			endUnit := ""
			if len(parts) > 1 {
				endUnit = parts[1]
			}
			return intervalType(startUnit, endUnit)
		}
		// Fall back to parsing TypeText for recursive calls
		if matches := intervalRE.FindStringSubmatch(col.TypeText); matches != nil {
			startUnit := strings.ToUpper(matches[1])
			endUnit := ""
			if len(matches) > 2 {
				endUnit = strings.ToUpper(matches[2])
			}
			return intervalType(startUnit, endUnit)
		}
		return nil, fmt.Errorf("invalid interval type format: %v", col.TypeText)
	default:
		return nil, fmt.Errorf("unsupported type: %v", col.TypeName)
	}
}
