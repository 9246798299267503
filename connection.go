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
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/apache/arrow-adbc/go/adbc"
	"github.com/apache/arrow-go/v18/arrow"

	"github.com/dbt-labs/databricks-adbc/internal/auth"
	"github.com/dbt-labs/databricks-adbc/internal/driverbase"
	"github.com/dbt-labs/databricks-adbc/internal/warehouse"
)

type connectionImpl struct {
	driverbase.ConnectionImplBase

	config     *config
	client     warehouse.Client
	authz      auth.Provider
	httpClient *http.Client

	// Default Catalog name (optional)
	catalog string
	// Default Schema name (optional)
	dbSchema string
}

func (c *connectionImpl) NewStatement() (adbc.Statement, error) {
	return newStatement(c), nil
}

func (c *connectionImpl) Close() error {
	return nil
}

// driverbase.CurrentNamespacer

func (c *connectionImpl) GetCurrentCatalog() (string, error) {
	return c.catalog, nil
}

func (c *connectionImpl) GetCurrentDbSchema() (string, error) {
	return c.dbSchema, nil
}

func (c *connectionImpl) SetCurrentCatalog(value string) error {
	c.catalog = value
	return nil
}

func (c *connectionImpl) SetCurrentDbSchema(value string) error {
	c.dbSchema = value
	return nil
}

// driverbase.TableTypeLister

func (c *connectionImpl) ListTableTypes(ctx context.Context) ([]string, error) {
	return []string{
		"TABLE",
		"VIEW",
	}, nil
}

// driverbase.AutocommitSetter

// SetAutocommit only accepts enabling; the warehouse has no transactions
// to disable it into.
func (c *connectionImpl) SetAutocommit(enabled bool) error {
	if enabled {
		return nil
	}
	return checkFeature(c.ErrorHelper, featureTransactions)
}

// GetTableSchema resolves a table's Arrow schema by executing a zero-row
// query against it and mapping the result manifest.
func (c *connectionImpl) GetTableSchema(ctx context.Context, catalog *string, dbSchema *string, tableName string) (*arrow.Schema, error) {
	cat := c.catalog
	if catalog != nil {
		cat = *catalog
	}
	sch := c.dbSchema
	if dbSchema != nil {
		sch = *dbSchema
	}

	stmt, err := c.NewStatement()
	if err != nil {
		return nil, err
	}
	defer stmt.Close()

	query := fmt.Sprintf("SELECT * FROM %s WHERE 1 = 0", qualifyTableName(cat, sch, tableName))
	if err := stmt.SetSqlQuery(query); err != nil {
		return nil, err
	}
	execSchema, ok := stmt.(adbc.StatementExecuteSchema)
	if !ok {
		return nil, c.ErrorHelper.Errorf(adbc.StatusInternal, "statement does not support schema execution")
	}
	return execSchema.ExecuteSchema(ctx)
}

// qualifyTableName builds a fully qualified, backtick-quoted table
// reference from the optional catalog and schema.
func qualifyTableName(catalog, dbSchema, table string) string {
	var parts []string
	if catalog != "" {
		parts = append(parts, quoteIdentifier(catalog))
	}
	if dbSchema != "" {
		parts = append(parts, quoteIdentifier(dbSchema))
	}
	parts = append(parts, quoteIdentifier(table))
	return strings.Join(parts, ".")
}

func quoteIdentifier(name string) string {
	return "`" + strings.ReplaceAll(name, "`", "``") + "`"
}
