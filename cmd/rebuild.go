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
	"github.com/folio-vault/fv-api/data"
	"github.com/folio-vault/fv-api/data/database"
	"github.com/folio-vault/fv-api/valuation"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var rebuildEveryone bool

func init() {
	rebuildCmd.Flags().BoolVar(&rebuildEveryone, "all", false, "Append the current valuation point for every user with assets")
	rootCmd.AddCommand(rebuildCmd)
}

var rebuildCmd = &cobra.Command{
	Use:   "rebuild [user_id]",
	Short: "Recompute portfolio statistic series",
	Long: `Rebuild one user's statistic series from their earliest purchase date
forward, or with --all append the current valuation point for every user.`,
	Args: cobra.MaximumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		ctx := context.Background()
		common.SetupLogging()
		common.SetupCache()

		// setup database
		if err := database.Connect(ctx); err != nil {
			log.Fatal().Err(err).Msg("database connection failed")
		}

		// valuation converts every position to USD
		if err := data.HydrateFxTable(ctx); err != nil {
			log.Fatal().Err(err).Msg("could not hydrate fx conversion table")
		}

		if rebuildEveryone {
			if err := valuation.RebuildAll(ctx); err != nil {
				log.Fatal().Err(err).Msg("rebuild failed")
			}
			return
		}

		if len(args) != 1 {
			if err := cmd.Usage(); err != nil {
				log.Error().Err(err).Msg("could not print usage")
			}
			log.Fatal().Msg("a user_id is required unless --all is given")
		}

		if err := valuation.RebuildUser(ctx, args[0], true); err != nil {
			log.Fatal().Err(err).Str("UserID", args[0]).Msg("rebuild failed")
		}
	},
}
