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
	"strconv"
	"strings"
	"time"

	"github.com/apache/arrow-adbc/go/adbc"

	"github.com/dbt-labs/databricks-adbc/internal/auth"
	"github.com/dbt-labs/databricks-adbc/internal/cloudfetch"
	"github.com/dbt-labs/databricks-adbc/internal/driverbase"
	"github.com/dbt-labs/databricks-adbc/internal/warehouse"
)

const defaultHTTPTimeout = 30 * time.Second

// config collects everything needed to open connections. All fields come
// from database options.
type config struct {
	authType     string
	host         string
	token        string
	clientID     string
	clientSecret string

	warehouseID string
	catalog     string
	schema      string

	httpTimeout time.Duration
	maxRetries  int
	fetch       cloudfetch.Config
	rowLimit    int64
}

func defaultConfig() *config {
	return &config{
		httpTimeout: defaultHTTPTimeout,
		maxRetries:  cloudfetch.DefaultMaxRetries,
		fetch:       cloudfetch.DefaultConfig(),
	}
}

type databaseImpl struct {
	driverbase.DatabaseImplBase

	config *config
}

func (d *databaseImpl) SetOption(key, value string) error {
	switch key {
	case OptionStringAuthType:
		switch value {
		case OptionValueAuthTypePAT, OptionValueAuthTypeOAuthM2M:
			d.config.authType = value
		default:
			return d.ErrorHelper.Errorf(adbc.StatusInvalidArgument, "unknown value '%s' for option '%s'", value, key)
		}
	case adbc.OptionKeyURI, OptionStringHost:
		d.config.host = strings.TrimPrefix(strings.TrimPrefix(value, "https://"), "http://")
	case OptionStringToken:
		d.config.token = value
	case OptionStringClientID:
		d.config.clientID = value
	case OptionStringClientSecret:
		d.config.clientSecret = value
	case OptionStringWarehouse:
		d.config.warehouseID = value
	case OptionStringHTTPPath:
		id, err := warehouseFromHTTPPath(value)
		if err != nil {
			return d.ErrorHelper.Errorf(adbc.StatusInvalidArgument, "%s", err)
		}
		d.config.warehouseID = id
	case OptionStringCatalog:
		d.config.catalog = value
	case OptionStringSchema:
		d.config.schema = value
	case OptionIntHTTPTimeoutSeconds:
		secs, err := parseNonNegative(key, value)
		if err != nil {
			return err
		}
		d.config.httpTimeout = time.Duration(secs) * time.Second
	case OptionIntMaxRetries:
		n, err := parseNonNegative(key, value)
		if err != nil {
			return err
		}
		d.config.maxRetries = int(n)
	case OptionIntParallelDownloads:
		n, err := parsePositive(key, value)
		if err != nil {
			return err
		}
		d.config.fetch.ParallelDownloads = int(n)
	case OptionIntPrefetchCount:
		n, err := parseNonNegative(key, value)
		if err != nil {
			return err
		}
		d.config.fetch.PrefetchCount = int(n)
	case OptionIntMaxBufferSize:
		n, err := parsePositive(key, value)
		if err != nil {
			return err
		}
		d.config.fetch.MaxBufferSize = n
	case OptionIntRowLimit:
		n, err := parseNonNegative(key, value)
		if err != nil {
			return err
		}
		d.config.rowLimit = n
	default:
		return d.DatabaseImplBase.SetOption(key, value)
	}
	return nil
}

func (d *databaseImpl) GetOption(key string) (string, error) {
	switch key {
	case OptionStringAuthType:
		return d.config.authType, nil
	case adbc.OptionKeyURI, OptionStringHost:
		return d.config.host, nil
	case OptionStringWarehouse:
		return d.config.warehouseID, nil
	case OptionStringCatalog:
		return d.config.catalog, nil
	case OptionStringSchema:
		return d.config.schema, nil
	}
	return d.DatabaseImplBase.GetOption(key)
}

func (d *databaseImpl) SetOptions(options map[string]string) error {
	for k, v := range options {
		if err := d.SetOption(k, v); err != nil {
			return err
		}
	}
	return nil
}

// resolveAuth picks the authentication scheme from the configured options.
// An explicit auth_type wins; otherwise it is inferred from which
// credentials are present.
func (d *databaseImpl) resolveAuth(httpClient *http.Client) (auth.Provider, error) {
	authType := d.config.authType
	if authType == "" {
		switch {
		case d.config.token != "":
			authType = OptionValueAuthTypePAT
		case d.config.clientID != "" || d.config.clientSecret != "":
			authType = OptionValueAuthTypeOAuthM2M
		default:
			return nil, d.ErrorHelper.Errorf(adbc.StatusInvalidArgument,
				"no credentials: set '%s' or '%s'/'%s'", OptionStringToken, OptionStringClientID, OptionStringClientSecret)
		}
	}

	switch authType {
	case OptionValueAuthTypePAT:
		if d.config.token == "" {
			return nil, d.ErrorHelper.Errorf(adbc.StatusInvalidArgument, "'%s' is required for pat authentication", OptionStringToken)
		}
		return auth.NewPersonalAccessToken(d.config.token), nil
	default:
		if d.config.clientID == "" || d.config.clientSecret == "" {
			return nil, d.ErrorHelper.Errorf(adbc.StatusInvalidArgument,
				"'%s' and '%s' are required for oauth-m2m authentication", OptionStringClientID, OptionStringClientSecret)
		}
		return auth.NewOAuthM2M(d.config.host, d.config.clientID, d.config.clientSecret, httpClient), nil
	}
}

func (d *databaseImpl) Open(ctx context.Context) (adbc.Connection, error) {
	if d.config.host == "" {
		return nil, d.ErrorHelper.Errorf(adbc.StatusInvalidArgument, "'%s' is required", OptionStringHost)
	}
	if d.config.warehouseID == "" {
		return nil, d.ErrorHelper.Errorf(adbc.StatusInvalidArgument,
			"a warehouse is required: set '%s' or '%s'", OptionStringWarehouse, OptionStringHTTPPath)
	}

	httpClient := &http.Client{Timeout: d.config.httpTimeout}
	authz, err := d.resolveAuth(httpClient)
	if err != nil {
		return nil, err
	}

	client := warehouse.NewRESTClient(warehouse.ClientConfig{
		Host:       d.config.host,
		UserAgent:  userAgent(),
		Timeout:    d.config.httpTimeout,
		MaxRetries: d.config.maxRetries,
	}, authz, httpClient, d.Logger, d.ErrorHelper)

	conn := &connectionImpl{
		ConnectionImplBase: driverbase.NewConnectionImplBase(&d.DatabaseImplBase),
		config:             d.config,
		client:             client,
		authz:              authz,
		httpClient:         httpClient,
		catalog:            d.config.catalog,
		dbSchema:           d.config.schema,
	}
	return driverbase.NewConnectionBuilder(conn).
		WithAutocommitSetter(conn).
		WithCurrentNamespacer(conn).
		WithTableTypeLister(conn).
		Connection(), nil
}

func (d *databaseImpl) Close() error { return nil }

// warehouseFromHTTPPath extracts the warehouse ID from an HTTP path of the
// form /sql/1.0/warehouses/<id>.
func warehouseFromHTTPPath(path string) (string, error) {
	trimmed := strings.Trim(path, "/")
	parts := strings.Split(trimmed, "/")
	if len(parts) == 4 && parts[0] == "sql" && parts[2] == "warehouses" && parts[3] != "" {
		return parts[3], nil
	}
	return "", fmt.Errorf("cannot extract warehouse ID from HTTP path '%s'", path)
}

func parseNonNegative(key, value string) (int64, error) {
	n, err := strconv.ParseInt(value, 10, 64)
	if err != nil || n < 0 {
		return 0, adbc.Error{
			Code: adbc.StatusInvalidArgument,
			Msg:  fmt.Sprintf("Databricks: invalid value '%s' for option '%s'", value, key),
		}
	}
	return n, nil
}

func parsePositive(key, value string) (int64, error) {
	n, err := parseNonNegative(key, value)
	if err != nil || n == 0 {
		return 0, adbc.Error{
			Code: adbc.StatusInvalidArgument,
			Msg:  fmt.Sprintf("Databricks: invalid value '%s' for option '%s'", value, key),
		}
	}
	return n, nil
}

func userAgent() string {
	if infoVendorVersion != "" {
		return "databricks-adbc-go/" + infoVendorVersion
	}
	return "databricks-adbc-go"
}
