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

package router

import (
	"github.com/folio-vault/fv-api/handler"
	"github.com/gofiber/fiber/v2"
)

// SetupRoutes registers the read-only API. Mutating verbs are deliberately
// absent; portfolio writes happen through the scheduler and CLI.
func SetupRoutes(app *fiber.App) {
	app.Get("/healthz", handler.Healthz)

	api := app.Group("/v1")
	api.Get("/", handler.Ping)

	api.Get("/statistics/:userID", handler.GetStatistics)
	api.Get("/statistics/:userID/summary", handler.GetSummary)

	api.Get("/assets/:assetID/history", handler.GetAssetHistory)

	api.Get("/instruments", handler.LookupInstruments)
}
