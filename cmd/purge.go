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
	"context"
	"time"

	"github.com/folio-vault/fv-api/common"
	"github.com/folio-vault/fv-api/data"
	"github.com/folio-vault/fv-api/data/database"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func init() {
	if err := viper.BindEnv("database.bar_retention_days", "FV_BAR_RETENTION_DAYS"); err != nil {
		log.Panic().Err(err).Msg("could not bind database.bar_retention_days")
	}
	purgeCmd.Flags().IntP("days", "d", 30, "Hourly bar retention in days")
	if err := viper.BindPFlag("database.bar_retention_days", purgeCmd.Flags().Lookup("days")); err != nil {
		log.Panic().Err(err).Msg("could not bind database.bar_retention_days")
	}

	rootCmd.AddCommand(purgeCmd)
}

var purgeCmd = &cobra.Command{
	Use:   "purge",
	Short: "Delete hourly bars older than the retention window",
	Long: `Delete intraday bars past the retention horizon. Daily bars are never
purged; backdated valuations depend on them.`,
	Run: func(_ *cobra.Command, _ []string) {
		ctx := context.Background()
		common.SetupLogging()

		// setup database
		if err := database.Connect(ctx); err != nil {
			log.Fatal().Err(err).Msg("database connection failed")
		}

		days := viper.GetInt("database.bar_retention_days")
		cutoff := time.Now().UTC().AddDate(0, 0, -days)

		n, err := data.PurgeHourlyBefore(ctx, cutoff)
		if err != nil {
			log.Fatal().Err(err).Time("Cutoff", cutoff).Msg("hourly bar purge failed")
		}
		log.Info().Int64("NumBars", n).Time("Cutoff", cutoff).Msg("purged stale hourly bars")
	},
}
