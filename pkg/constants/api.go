// Copyright 2025 UMH Systems GmbH
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package constants

import "time"

const (
	// DefaultAPIPort is the port of the status API.
	DefaultAPIPort = 9600

	// DefaultMetricsPort is the port of the prometheus endpoint.
	DefaultMetricsPort = 8080

	// DefaultMetricsPollInterval is the interval of the process stats poller.
	DefaultMetricsPollInterval = 5 * time.Second

	// APIReadTimeout is the read timeout of both HTTP servers.
	APIReadTimeout = 5 * time.Second

	// DefaultAppVersion is the version of builds without ldflags.
	DefaultAppVersion = "0.0.0-dev"

	// DefaultDevelopmentEnvironment and DefaultProductionEnvironment are the sentry environments.
	DefaultDevelopmentEnvironment = "development"
	DefaultProductionEnvironment  = "production"
)
