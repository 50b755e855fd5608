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

// Package ingest keeps the market side of the store current: the instrument
// directory, the FX rate table, and the OHLCV bars backing point-in-time
// valuation. Jobs are batch operations; a failure on one symbol or pair is
// logged and the batch moves on, so a single delisted ticker cannot starve
// everyone else's prices.
package ingest

import (
	"context"
	"time"

	"github.com/folio-vault/fv-api/data"
	"github.com/folio-vault/fv-api/data/twelvedata"
	"github.com/folio-vault/fv-api/observability/opentelemetry"
	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
	"go.opentelemetry.io/otel"
)

// DefaultFxPairs are the directly maintained conversion pairs. Both
// directions are fetched because conversion never pivots through an inverse.
var DefaultFxPairs = []string{
	"USD/EUR", "EUR/USD",
	"USD/GBP", "GBP/USD",
	"USD/PLN", "PLN/USD",
}

// RefreshDirectory replaces the searchable instrument directory with the
// provider's current stock, ETF and crypto listings.
func RefreshDirectory(ctx context.Context, client *twelvedata.Client) error {
	ctx, span := otel.Tracer(opentelemetry.Name).Start(ctx, "ingest.RefreshDirectory")
	defer span.End()

	subLog := log.With().Str("Job", "directory-refresh").Logger()

	var firstErr error
	for _, kind := range []data.AssetKind{data.KindStocks, data.KindETF, data.KindCrypto} {
		instruments, err := client.Instruments(ctx, kind)
		if err != nil {
			subLog.Warn().Stack().Err(err).Str("Kind", string(kind)).Msg("instrument listing failed")
			if firstErr == nil {
				firstErr = err
			}
			continue
		}

		n, err := data.UpsertInstruments(ctx, instruments)
		if err != nil {
			subLog.Warn().Stack().Err(err).Str("Kind", string(kind)).Msg("instrument upsert failed")
			if firstErr == nil {
				firstErr = err
			}
			continue
		}

		subLog.Info().Str("Kind", string(kind)).Int64("NumInstruments", n).Msg("directory refreshed")
	}

	return firstErr
}

// RefreshFx fetches every configured conversion pair and reloads the
// in-process rate table. A pair that fails keeps its previous persisted rate.
func RefreshFx(ctx context.Context, client *twelvedata.Client) error {
	ctx, span := otel.Tracer(opentelemetry.Name).Start(ctx, "ingest.RefreshFx")
	defer span.End()

	subLog := log.With().Str("Job", "fx-refresh").Logger()

	pairs := viper.GetStringSlice("fx.pairs")
	if len(pairs) == 0 {
		pairs = DefaultFxPairs
	}

	var firstErr error
	for _, pair := range pairs {
		rate, err := client.ExchangeRate(ctx, pair)
		if err != nil {
			subLog.Warn().Stack().Err(err).Str("Pair", pair).Msg("exchange rate fetch failed")
			if firstErr == nil {
				firstErr = err
			}
			continue
		}

		if err := data.UpsertFxRate(ctx, rate); err != nil {
			subLog.Warn().Stack().Err(err).Str("Pair", pair).Msg("exchange rate upsert failed")
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
	}

	// reload even after a partial cycle so fresh pairs serve immediately
	if err := data.HydrateFxTable(ctx); err != nil {
		subLog.Warn().Stack().Err(err).Msg("fx table hydrate failed")
		if firstErr == nil {
			firstErr = err
		}
	}

	subLog.Info().Int("NumPairs", len(pairs)).Msg("fx refresh finished")
	return firstErr
}

// FetchLatestHourly pulls the trailing hour of intraday bars for every
// listing still referenced by an active asset.
func FetchLatestHourly(ctx context.Context, client *twelvedata.Client) error {
	ctx, span := otel.Tracer(opentelemetry.Name).Start(ctx, "ingest.FetchLatestHourly")
	defer span.End()

	now := time.Now().UTC()
	return fetchBars(ctx, client, "hourly-bars", data.IntervalHourly, now.Add(-time.Hour), now)
}

// FetchDailyClose pulls the last trading day's close for every listing still
// referenced by an active asset.
func FetchDailyClose(ctx context.Context, client *twelvedata.Client) error {
	ctx, span := otel.Tracer(opentelemetry.Name).Start(ctx, "ingest.FetchDailyClose")
	defer span.End()

	now := time.Now().UTC()
	return fetchBars(ctx, client, "daily-close", data.IntervalDaily, now.Add(-24*time.Hour), now)
}

func fetchBars(ctx context.Context, client *twelvedata.Client, job, interval string, start, end time.Time) error {
	subLog := log.With().Str("Job", job).Logger()

	identities, err := data.ActiveMarketIdentities(ctx)
	if err != nil {
		subLog.Error().Stack().Err(err).Msg("could not list market identities")
		return err
	}

	var firstErr error
	var total int64
	for _, id := range identities {
		bars, err := client.TimeSeries(ctx, id.Symbol, id.VenueCode, interval, start, end)
		if err != nil {
			subLog.Warn().Stack().Err(err).Str("Symbol", id.Symbol).Str("VenueCode", id.VenueCode).Msg("time series fetch failed")
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		if len(bars) == 0 {
			continue
		}

		n, err := data.UpsertBars(ctx, bars)
		if err != nil {
			subLog.Warn().Stack().Err(err).Str("Symbol", id.Symbol).Str("VenueCode", id.VenueCode).Msg("bar upsert failed")
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		total += n
	}

	subLog.Info().Int("NumListings", len(identities)).Int64("NumBars", total).Msg("bar fetch finished")
	return firstErr
}

// PurgeStaleBars drops hourly bars past the retention horizon. Daily bars are
// kept forever; they are what backdated valuations read.
func PurgeStaleBars(ctx context.Context) error {
	ctx, span := otel.Tracer(opentelemetry.Name).Start(ctx, "ingest.PurgeStaleBars")
	defer span.End()

	cutoff := time.Now().UTC().Add(-data.HourlyRetention)
	n, err := data.PurgeHourlyBefore(ctx, cutoff)
	if err != nil {
		log.Error().Stack().Err(err).Time("Cutoff", cutoff).Msg("hourly bar purge failed")
		return err
	}

	log.Info().Int64("NumBars", n).Time("Cutoff", cutoff).Msg("purged stale hourly bars")
	return nil
}
