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
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/folio-vault/fv-api/common"
	"github.com/folio-vault/fv-api/data"
	"github.com/folio-vault/fv-api/data/database"
	"github.com/folio-vault/fv-api/data/twelvedata"
	"github.com/folio-vault/fv-api/ingest"
	"github.com/folio-vault/fv-api/middleware"
	"github.com/folio-vault/fv-api/observability/opentelemetry"
	"github.com/folio-vault/fv-api/router"
	"github.com/folio-vault/fv-api/schedule"
	"github.com/folio-vault/fv-api/valuation"

	"github.com/goccy/go-json"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func init() {
	bindEnv("server.address", "FV_ADDRESS", "PORT")
	serveCmd.Flags().StringP("address", "a", ":3000", "Address to run the application server on")
	if err := viper.BindPFlag("server.address", serveCmd.Flags().Lookup("address")); err != nil {
		log.Panic().Err(err).Msg("could not bind server.address")
	}

	rootCmd.AddCommand(serveCmd)
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the fv-api server",
	Long:  `Run the HTTP server and the background job fleet`,
	Run: func(_ *cobra.Command, _ []string) {
		ctx := context.Background()

		common.SetupLogging()
		log.Info().Msg("initialized logging")

		traceShutdown, err := opentelemetry.Setup()
		if err != nil {
			log.Fatal().Err(err).Msg("could not initialize tracing")
		}

		// setup database
		if err := database.Connect(ctx); err != nil {
			log.Fatal().Err(err).Msg("database connection failed")
		}
		if err := database.Migrate(ctx); err != nil {
			log.Fatal().Err(err).Msg("schema migration failed")
		}

		// load the fx conversion table before anything values an asset
		if err := data.HydrateFxTable(ctx); err != nil {
			log.Fatal().Err(err).Msg("could not hydrate fx conversion table")
		}

		common.SetupCache()

		client := twelvedata.New()
		scheduler, err := startScheduler(ctx, client)
		if err != nil {
			log.Fatal().Err(err).Msg("could not start job scheduler")
		}

		// Create new Fiber instance
		app := fiber.New(fiber.Config{
			JSONEncoder: json.Marshal,
			JSONDecoder: json.Unmarshal,
		})

		app.Use(cors.New(cors.Config{
			AllowOrigins: "*",
			AllowHeaders: "*",
			AllowMethods: "GET,HEAD",
		}))
		app.Use(middleware.NewLogger())

		router.SetupRoutes(app)

		// shutdown cleanly on interrupt
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
		go func() {
			sig := <-quit
			log.Info().Str("Signal", sig.String()).Msg("shutting down")
			if err := app.Shutdown(); err != nil {
				log.Error().Stack().Err(err).Msg("fiber shutdown failed")
			}
		}()

		if err := app.Listen(listenAddress()); err != nil {
			log.Error().Stack().Err(err).Msg("server stopped")
		}

		scheduler.Stop()
		if err := traceShutdown(ctx); err != nil {
			log.Error().Stack().Err(err).Msg("could not flush traces")
		}
		database.Close()
	},
}

// listenAddress normalizes the configured address; heroku style deployments
// provide a bare port number in PORT.
func listenAddress() string {
	address := viper.GetString("server.address")
	if !strings.Contains(address, ":") {
		address = ":" + address
	}
	return address
}

// startScheduler binds every catalog job to its runner and begins the
// schedule. The instrument directory refresh is flagged startup in the
// catalog so search works as soon as the server accepts requests.
func startScheduler(ctx context.Context, client *twelvedata.Client) (*schedule.Scheduler, error) {
	catalog, err := schedule.LoadCatalog()
	if err != nil {
		return nil, err
	}

	scheduler := schedule.NewScheduler(common.GetTimezone(), catalog)
	runners := map[string]schedule.Runner{
		"directory-refresh": func(ctx context.Context) error {
			return ingest.RefreshDirectory(ctx, client)
		},
		"fx-refresh": func(ctx context.Context) error {
			return ingest.RefreshFx(ctx, client)
		},
		"hourly-bars": func(ctx context.Context) error {
			return ingest.FetchLatestHourly(ctx, client)
		},
		"daily-close": func(ctx context.Context) error {
			return ingest.FetchDailyClose(ctx, client)
		},
		"price-refresh":   valuation.RefreshAllPrices,
		"rebuild-all":     valuation.RebuildAll,
		"retention-purge": ingest.PurgeStaleBars,
	}
	for name, runner := range runners {
		if err := scheduler.Register(name, runner); err != nil {
			return nil, err
		}
	}

	if err := scheduler.Start(ctx); err != nil {
		return nil, err
	}
	return scheduler, nil
}
