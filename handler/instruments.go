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

package handler

import (
	"strconv"

	"github.com/folio-vault/fv-api/data"
	"github.com/folio-vault/fv-api/observability/opentelemetry"
	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
)

// LookupInstruments searches the directory snapshot by symbol or name. Users
// call this when adding an asset to find its exact market identity.
func LookupInstruments(c *fiber.Ctx) error {
	ctx, span := otel.Tracer(opentelemetry.Name).Start(c.Context(), "handler.LookupInstruments")
	defer span.End()
	span.SetAttributes(opentelemetry.SpanAttributesFromFiber(c)...)

	query := c.Query("q")
	subLog := log.With().Str("Query", query).Str("Endpoint", "LookupInstruments").Logger()

	limit := 25
	if limitStr := c.Query("limit"); limitStr != "" {
		parsed, err := strconv.Atoi(limitStr)
		if err != nil {
			subLog.Warn().Err(err).Str("Limit", limitStr).Msg("could not parse limit")
			return fiber.ErrBadRequest
		}
		limit = parsed
	}

	instruments, err := data.SearchInstruments(ctx, query, limit)
	if err != nil {
		subLog.Error().Stack().Err(err).Msg("instrument search failed")
		return fiber.ErrInternalServerError
	}

	return c.JSON(instruments)
}
