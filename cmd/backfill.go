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
	"errors"

	"github.com/folio-vault/fv-api/common"
	"github.com/folio-vault/fv-api/data"
	"github.com/folio-vault/fv-api/data/database"
	"github.com/folio-vault/fv-api/data/twelvedata"
	"github.com/folio-vault/fv-api/ingest"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(backfillCmd)
}

var backfillCmd = &cobra.Command{
	Use:   "backfill asset_id",
	Short: "Fetch price history back to an asset's purchase date",
	Args:  cobra.ExactArgs(1),
	Run: func(_ *cobra.Command, args []string) {
		ctx := context.Background()
		common.SetupLogging()

		assetID, err := uuid.Parse(args[0])
		if err != nil {
			log.Fatal().Err(err).Str("InputStr", args[0]).Msg("asset_id must be a UUID")
		}

		// setup database
		if err := database.Connect(ctx); err != nil {
			log.Fatal().Err(err).Msg("database connection failed")
		}

		asset, err := data.GetAsset(ctx, assetID)
		if err != nil {
			log.Fatal().Err(err).Str("AssetID", assetID.String()).Msg("could not load asset")
		}

		client := twelvedata.New()
		err = ingest.BackfillAsset(ctx, client, asset)
		switch {
		case errors.Is(err, ingest.ErrOverlappingHistory):
			log.Info().Str("Symbol", asset.Symbol).Msg("history already present; nothing to backfill")
		case err != nil:
			log.Fatal().Err(err).Str("Symbol", asset.Symbol).Msg("backfill failed")
		default:
			log.Info().Str("Symbol", asset.Symbol).Msg("backfill complete")
		}
	},
}
