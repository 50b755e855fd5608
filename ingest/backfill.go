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

package ingest

import (
	"context"
	"errors"
	"time"

	"github.com/folio-vault/fv-api/data"
	"github.com/folio-vault/fv-api/data/twelvedata"
	"github.com/folio-vault/fv-api/observability/opentelemetry"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
)

// ErrOverlappingHistory signals that the bar store already covers the asset's
// purchase date, so a backfill would only re-download rows the upserts would
// discard. Callers treat it as a skip, not a failure.
var ErrOverlappingHistory = errors.New("bar history already covers the purchase date")

// BackfillAsset fills the bar store from the asset's purchase date to now so
// a backdated valuation can price every day the position existed. Recent
// history is fetched hourly; anything past the intraday retention horizon is
// fetched as daily closes since the hourly rows would be purged anyway. The
// two ranges commit independently.
func BackfillAsset(ctx context.Context, client *twelvedata.Client, asset *data.Asset) error {
	ctx, span := otel.Tracer(opentelemetry.Name).Start(ctx, "ingest.BackfillAsset")
	defer span.End()

	subLog := log.With().Str("AssetID", asset.ID.String()).Str("Symbol", asset.Symbol).Str("VenueCode", asset.VenueCode).Logger()

	if !asset.Kind.MarketTraded() {
		subLog.Debug().Str("Kind", string(asset.Kind)).Msg("asset is not market traded; nothing to backfill")
		return nil
	}

	covered, err := data.HasBarOnOrBefore(ctx, asset.Symbol, asset.VenueCode, asset.PurchaseDate)
	if err != nil {
		subLog.Error().Stack().Err(err).Msg("backfill coverage check failed")
		return err
	}
	if covered {
		return ErrOverlappingHistory
	}

	now := time.Now().UTC()
	hourlyFloor := now.Add(-data.HourlyRetention)

	if !asset.PurchaseDate.Before(hourlyFloor) {
		return fetchRange(ctx, client, asset, data.IntervalHourly, asset.PurchaseDate, now)
	}

	firstErr := fetchRange(ctx, client, asset, data.IntervalHourly, hourlyFloor, now)
	if err := fetchRange(ctx, client, asset, data.IntervalDaily, asset.PurchaseDate, hourlyFloor); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}

func fetchRange(ctx context.Context, client *twelvedata.Client, asset *data.Asset, interval string, start, end time.Time) error {
	bars, err := client.TimeSeries(ctx, asset.Symbol, asset.VenueCode, interval, start, end)
	if err != nil {
		log.Warn().Stack().Err(err).Str("Symbol", asset.Symbol).Str("Interval", interval).Msg("backfill fetch failed")
		return err
	}

	n, err := data.UpsertBars(ctx, bars)
	if err != nil {
		log.Warn().Stack().Err(err).Str("Symbol", asset.Symbol).Str("Interval", interval).Msg("backfill upsert failed")
		return err
	}

	log.Info().Str("Symbol", asset.Symbol).Str("Interval", interval).Int64("NumBars", n).Time("Start", start).Time("End", end).Msg("backfilled bar history")
	return nil
}
