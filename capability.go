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
	"github.com/apache/arrow-adbc/go/adbc"

	"github.com/dbt-labs/databricks-adbc/internal/driverbase"
)

// feature identifies an optional ADBC capability. Everything the driver
// does not implement is declared here so unsupported operations fail in
// one place with a uniform error.
type feature string

const (
	featureBindParameters     feature = "bound query parameters"
	featureSubstrait          feature = "Substrait plans"
	featurePartitionedResults feature = "partitioned result sets"
	featureParameterSchema    feature = "prepared parameter schemas"
	featureBulkIngest         feature = "bulk ingestion"
	featureTransactions       feature = "transactions"
)

// supportedFeatures is the driver's capability table. Features absent
// from the map are unsupported.
var supportedFeatures = map[feature]bool{}

func checkFeature(helper driverbase.ErrorHelper, f feature) error {
	if supportedFeatures[f] {
		return nil
	}
	return helper.Errorf(adbc.StatusNotImplemented, "unsupported feature: %s", string(f))
}
