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

	"github.com/folio-vault/fv-api/common"
	"github.com/folio-vault/fv-api/data/database"
	"github.com/folio-vault/fv-api/data/twelvedata"
	"github.com/folio-vault/fv-api/ingest"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(refreshCmd)
}

var refreshCmd = &cobra.Command{
	Use:       "refresh [directory|fx|hourly|daily]",
	Short:     "Run one ingest job immediately",
	Long:      `Run a single market data refresh outside the regular schedule`,
	ValidArgs: []string{"directory", "fx", "hourly", "daily"},
	Args:      cobra.ExactValidArgs(1),
	Run: func(_ *cobra.Command, args []string) {
		ctx := context.Background()
		common.SetupLogging()

		// setup database
		if err := database.Connect(ctx); err != nil {
			log.Fatal().Err(err).Msg("database connection failed")
		}

		client := twelvedata.New()

		var err error
		switch args[0] {
		case "directory":
			err = ingest.RefreshDirectory(ctx, client)
		case "fx":
			err = ingest.RefreshFx(ctx, client)
		case "hourly":
			err = ingest.FetchLatestHourly(ctx, client)
		case "daily":
			err = ingest.FetchDailyClose(ctx, client)
		}
		if err != nil {
			log.Fatal().Err(err).Str("Target", args[0]).Msg("refresh failed")
		}
	},
}
