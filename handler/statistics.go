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
	"strings"

	"github.com/folio-vault/fv-api/common"
	"github.com/folio-vault/fv-api/data"
	"github.com/folio-vault/fv-api/filter"
	"github.com/folio-vault/fv-api/observability/opentelemetry"
	"github.com/folio-vault/fv-api/valuation"
	"github.com/goccy/go-json"
	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
)

const jsonContentType = "application/json; charset=utf-8"

// GetStatistics returns a user's valuation series ordered by event time. The
// USD payload is built by postgres and cached; a rebuild for the user drops
// the cached copy. Requesting another currency projects every point through
// the FX table and skips the cache since rates rotate daily.
func GetStatistics(c *fiber.Ctx) error {
	ctx, span := otel.Tracer(opentelemetry.Name).Start(c.Context(), "handler.GetStatistics")
	defer span.End()
	span.SetAttributes(opentelemetry.SpanAttributesFromFiber(c)...)

	userID := c.Params("userID")
	currency := strings.ToUpper(c.Query("currency", "USD"))
	subLog := log.With().Str("UserID", userID).Str("Endpoint", "GetStatistics").Logger()

	if currency != "USD" {
		stats, err := data.UserStatistics(ctx, userID)
		if err != nil {
			subLog.Error().Stack().Err(err).Msg("could not load statistic series")
			return fiber.ErrInternalServerError
		}

		projected := make([]*data.Statistic, 0, len(stats))
		for _, stat := range stats {
			point, err := stat.ProjectCurrency(currency)
			if err != nil {
				if errors.Is(err, data.ErrUnknownRate) {
					subLog.Warn().Str("Currency", currency).Msg("statistics requested in a currency without a rate")
					return fiber.ErrBadRequest
				}
				subLog.Error().Stack().Err(err).Msg("currency projection failed")
				return fiber.ErrInternalServerError
			}
			projected = append(projected, point)
		}
		return c.JSON(projected)
	}

	cacheKey := valuation.SeriesCacheKey(userID)
	if payload, err := common.CacheGet(cacheKey); err == nil {
		c.Set("Content-type", jsonContentType)
		return c.Send(payload)
	}

	payload, err := filter.StatisticSeries(ctx, userID)
	if err != nil {
		subLog.Error().Stack().Err(err).Msg("could not build statistic series payload")
		return fiber.ErrInternalServerError
	}

	if err := common.CacheSet(cacheKey, payload); err != nil {
		subLog.Warn().Err(err).Msg("caching failed for statistic series")
	}

	c.Set("Content-type", jsonContentType)
	return c.Send(payload)
}

// GetSummary condenses the user's series into headline numbers. The payload
// is cached under the summary key and invalidated by rebuilds.
func GetSummary(c *fiber.Ctx) error {
	ctx, span := otel.Tracer(opentelemetry.Name).Start(c.Context(), "handler.GetSummary")
	defer span.End()
	span.SetAttributes(opentelemetry.SpanAttributesFromFiber(c)...)

	userID := c.Params("userID")
	subLog := log.With().Str("UserID", userID).Str("Endpoint", "GetSummary").Logger()

	cacheKey := valuation.SummaryCacheKey(userID)
	if payload, err := common.CacheGet(cacheKey); err == nil {
		c.Set("Content-type", jsonContentType)
		return c.Send(payload)
	}

	summary, err := valuation.UserSummary(ctx, userID)
	if err != nil {
		subLog.Error().Stack().Err(err).Msg("could not summarize statistic series")
		return fiber.ErrInternalServerError
	}

	payload, err := json.Marshal(summary)
	if err != nil {
		subLog.Error().Stack().Err(err).Msg("serialization failed for summary")
		return fiber.ErrInternalServerError
	}

	if err := common.CacheSet(cacheKey, payload); err != nil {
		subLog.Warn().Err(err).Msg("caching failed for summary")
	}

	c.Set("Content-type", jsonContentType)
	return c.Send(payload)
}
