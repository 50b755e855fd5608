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
	"errors"
	"time"

	"github.com/folio-vault/fv-api/data"
	"github.com/folio-vault/fv-api/filter"
	"github.com/folio-vault/fv-api/observability/opentelemetry"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
)

// GetAssetHistory serves the price chart for one asset. Windows of a week or
// less read hourly bars, longer windows read daily closes; bars come back in
// the asset's quote currency.
func GetAssetHistory(c *fiber.Ctx) error {
	ctx, span := otel.Tracer(opentelemetry.Name).Start(c.Context(), "handler.GetAssetHistory")
	defer span.End()
	span.SetAttributes(opentelemetry.SpanAttributesFromFiber(c)...)

	subLog := log.With().Str("AssetID", c.Params("assetID")).Str("Endpoint", "GetAssetHistory").Logger()

	assetID, err := uuid.Parse(c.Params("assetID"))
	if err != nil {
		subLog.Warn().Err(err).Msg("history requested with a malformed asset id")
		return fiber.ErrBadRequest
	}

	begin, end, err := chartWindow(c.Query("start"), c.Query("end"))
	if err != nil {
		subLog.Warn().Err(err).Str("Start", c.Query("start")).Str("End", c.Query("end")).
			Msg("could not parse chart window")
		return fiber.ErrBadRequest
	}

	asset, err := data.GetAsset(ctx, assetID)
	if err != nil {
		if errors.Is(err, data.ErrNotFound) {
			return fiber.ErrNotFound
		}
		subLog.Error().Stack().Err(err).Msg("could not load asset")
		return fiber.ErrInternalServerError
	}

	if !asset.Kind.MarketTraded() {
		subLog.Warn().Str("Kind", string(asset.Kind)).Msg("history requested for an asset without market bars")
		return c.Status(fiber.StatusBadRequest).SendString("asset has no price history")
	}

	interval := data.ChartInterval(begin, end)
	payload, err := filter.BarHistory(ctx, asset.Symbol, asset.VenueCode, interval, begin, end)
	if err != nil {
		subLog.Error().Stack().Err(err).Str("Interval", interval).Msg("could not build bar history payload")
		return fiber.ErrInternalServerError
	}

	c.Set("Content-type", jsonContentType)
	return c.Send(payload)
}

// chartWindow parses the start/end query parameters. End defaults to now so
// hourly charts include today's bars; start defaults to 30 days before end.
func chartWindow(startStr, endStr string) (time.Time, time.Time, error) {
	var begin, end time.Time
	var err error

	if endStr == "" || endStr == "now" {
		end = time.Now().UTC()
	} else {
		end, err = time.Parse("2006-01-02", endStr)
		if err != nil {
			return begin, end, err
		}
		// include the whole closing day
		end = end.AddDate(0, 0, 1).Add(-time.Second)
	}

	if startStr == "" {
		begin = end.AddDate(0, 0, -30)
	} else {
		begin, err = time.Parse("2006-01-02", startStr)
		if err != nil {
			return begin, end, err
		}
	}

	if end.Before(begin) {
		return begin, end, errors.New("chart window ends before it begins")
	}

	return begin, end, nil
}
