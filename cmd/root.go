// Copyright 2022
// SPDX-License-Identifier: Apache-2.0
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package cmd

import (
	"fmt"
	"os"

	"github.com/folio-vault/fv-api/common"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func init() {
	// Database
	bindEnv("database.url", "DATABASE_URL")
	rootCmd.PersistentFlags().String("database-url", "", "PostgreSQL connection string")
	bindPFlag("database.url", "database-url")

	// Quote provider
	bindEnv("twelvedata.token", "TWELVEDATA_TOKEN")
	rootCmd.PersistentFlags().String("twelvedata-token", "", "twelvedata API token")
	bindPFlag("twelvedata.token", "twelvedata-token")

	bindEnv("twelvedata.base_url", "TWELVEDATA_BASE_URL")
	bindEnv("twelvedata.rate_limit", "TWELVEDATA_RATE_LIMIT")
	viper.SetDefault("twelvedata.rate_limit", 8)

	// Schedule
	bindEnv("schedule.timezone", "FV_TIMEZONE")
	rootCmd.PersistentFlags().String("timezone", "America/New_York", "Timezone used for wall-clock job cadences")
	bindPFlag("schedule.timezone", "timezone")

	// Cache
	bindEnv("cache.redis_url", "REDIS_URL")
	viper.SetDefault("cache.local_size", 1024)
	viper.SetDefault("cache.ttl", 300)

	// Tracing
	bindEnv("otlp.endpoint", "OTLP_ENDPOINT")

	// Logging configuration
	bindEnv("log.level", "FV_LOG_LEVEL")
	rootCmd.PersistentFlags().String("log-level", "info", "Logging level")
	bindPFlag("log.level", "log-level")

	bindEnv("log.report_caller", "FV_LOG_REPORT_CALLER")
	rootCmd.PersistentFlags().Bool("log-report-caller", false, "Log function name that called log statement")
	bindPFlag("log.report_caller", "log-report-caller")

	bindEnv("log.output", "FV_LOG_OUTPUT")
	rootCmd.PersistentFlags().String("log-output", "stdout", "Write logs to specified output one of: file path, `stdout`, or `stderr`")
	bindPFlag("log.output", "log-output")

	bindEnv("log.pretty", "FV_LOG_PRETTY")
	rootCmd.PersistentFlags().Bool("log-pretty", false, "Print logs in human readable form instead of JSON")
	bindPFlag("log.pretty", "log-pretty")
}

func bindEnv(key string, envVars ...string) {
	if err := viper.BindEnv(append([]string{key}, envVars...)...); err != nil {
		log.Panic().Err(err).Str("Key", key).Msg("could not bind environment variable")
	}
}

func bindPFlag(key, flag string) {
	if err := viper.BindPFlag(key, rootCmd.PersistentFlags().Lookup(flag)); err != nil {
		log.Panic().Err(err).Str("Key", key).Msg("could not bind flag")
	}
}

var rootCmd = &cobra.Command{
	Use:     "fvapi",
	Version: common.CurrentVersion.String(),
	Short:   "Folio Vault tracks the value of personal investment portfolios",
	Long: `An API server and job runner that ingests market data, values each
user's holdings and maintains a daily portfolio statistic series.`,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
