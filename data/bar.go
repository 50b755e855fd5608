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

package data

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/folio-vault/fv-api/data/database"
	"github.com/folio-vault/fv-api/observability/opentelemetry"
	"github.com/jackc/pgx/v4"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
)

const (
	IntervalHourly = "1hour"
	IntervalDaily  = "1day"
)

// ChartHourlySpan is the widest window served from hourly bars; anything
// wider charts from daily closes.
const ChartHourlySpan = 7 * 24 * time.Hour

// HourlyRetention bounds how far back hourly bars are kept; older intraday
// history is purged and served from daily closes instead.
const HourlyRetention = 30 * 24 * time.Hour

// Bar is one OHLCV observation of a listing over a fixed interval.
type Bar struct {
	Symbol    string
	VenueCode string
	EventTime time.Time
	Interval  string
	Open      float64
	High      float64
	Low       float64
	Close     float64
	Volume    float64
	Currency  string
}

func ValidInterval(interval string) bool {
	return interval == IntervalHourly || interval == IntervalDaily
}

// ChartInterval picks the bar granularity for a chart window.
func ChartInterval(begin, end time.Time) string {
	if end.Sub(begin) <= ChartHourlySpan {
		return IntervalHourly
	}
	return IntervalDaily
}

func validPrice(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0) && v > 0
}

// Validate enforces the shape every stored bar must have. Bad rows come from
// provider glitches; the store drops them individually rather than failing
// the batch.
func (b *Bar) Validate() error {
	if b.Symbol == "" {
		return fmt.Errorf("%w: empty symbol", ErrMalformedBar)
	}
	if b.EventTime.IsZero() {
		return fmt.Errorf("%w: zero event time", ErrMalformedBar)
	}
	if !ValidInterval(b.Interval) {
		return fmt.Errorf("%w: interval %q", ErrMalformedBar, b.Interval)
	}
	if !validPrice(b.Open) || !validPrice(b.High) || !validPrice(b.Low) || !validPrice(b.Close) {
		return fmt.Errorf("%w: non-positive or non-numeric price field", ErrMalformedBar)
	}
	if b.Low > math.Min(b.Open, b.Close) || b.High < math.Max(b.Open, b.Close) {
		return fmt.Errorf("%w: low/high do not bound open/close", ErrMalformedBar)
	}
	if math.IsNaN(b.Volume) || math.IsInf(b.Volume, 0) || b.Volume < 0 {
		return fmt.Errorf("%w: bad volume", ErrMalformedBar)
	}
	return nil
}

const barUpsertSQL = `
INSERT INTO ohlcv_bars (
	"symbol",
	"venue_code",
	"event_time",
	"interval",
	"open",
	"high",
	"low",
	"close",
	"volume",
	"currency"
) VALUES (
	$1, $2, $3, $4, $5, $6, $7, $8, $9, $10
) ON CONFLICT (symbol, venue_code, event_time, interval) DO NOTHING`

// UpsertBars writes a batch with first-write-wins semantics: the same bar
// observed again through an overlapping fetch window never perturbs stored
// values. Invalid rows are dropped with a warning; the count of newly stored
// rows is returned.
func UpsertBars(ctx context.Context, bars []*Bar) (int64, error) {
	ctx, span := otel.Tracer(opentelemetry.Name).Start(ctx, "data.UpsertBars")
	defer span.End()

	if len(bars) == 0 {
		return 0, nil
	}

	trx, err := database.Trx(ctx)
	if err != nil {
		log.Error().Stack().Err(err).Msg("could not get database transaction")
		return 0, err
	}

	var inserted int64
	for _, bar := range bars {
		if err := bar.Validate(); err != nil {
			log.Warn().Err(err).Str("Symbol", bar.Symbol).Str("VenueCode", bar.VenueCode).
				Time("EventTime", bar.EventTime).Msg("dropping malformed bar")
			continue
		}

		tag, err := trx.Exec(ctx, barUpsertSQL, bar.Symbol, bar.VenueCode,
			bar.EventTime.UTC(), bar.Interval, bar.Open, bar.High, bar.Low,
			bar.Close, bar.Volume, bar.Currency)
		if err != nil {
			log.Error().Stack().Err(err).Str("Symbol", bar.Symbol).Msg("could not insert bar")
			if err := trx.Rollback(ctx); err != nil {
				log.Error().Stack().Err(err).Msg("could not rollback transaction")
			}
			return 0, err
		}
		inserted += tag.RowsAffected()
	}

	if err := trx.Commit(ctx); err != nil {
		log.Error().Stack().Err(err).Msg("could not commit transaction")
		return 0, err
	}

	return inserted, nil
}

const barCols = `symbol, venue_code, event_time, "interval", "open", high, low, "close", volume, currency`

func scanBar(row pgx.Row) (*Bar, error) {
	var (
		b        Bar
		volume   *float64
		currency *string
	)
	err := row.Scan(&b.Symbol, &b.VenueCode, &b.EventTime, &b.Interval,
		&b.Open, &b.High, &b.Low, &b.Close, &volume, &currency)
	if err != nil {
		return nil, err
	}
	if volume != nil {
		b.Volume = *volume
	}
	if currency != nil {
		b.Currency = *currency
	}
	return &b, nil
}

// LatestBarOnOrBefore returns the newest bar for the listing at or before t,
// regardless of interval. ErrNoPrice when the listing has no history that
// far back.
func LatestBarOnOrBefore(ctx context.Context, symbol, venueCode string, t time.Time) (*Bar, error) {
	ctx, span := otel.Tracer(opentelemetry.Name).Start(ctx, "data.LatestBarOnOrBefore")
	defer span.End()

	trx, err := database.Trx(ctx)
	if err != nil {
		log.Error().Stack().Err(err).Msg("could not get database transaction")
		return nil, err
	}

	sql := `SELECT ` + barCols + ` FROM ohlcv_bars
	WHERE symbol = $1 AND venue_code = $2 AND event_time <= $3
	ORDER BY event_time DESC, "interval" LIMIT 1`

	bar, err := scanBar(trx.QueryRow(ctx, sql, symbol, venueCode, t.UTC()))
	if err != nil {
		if rollbackErr := trx.Rollback(ctx); rollbackErr != nil {
			log.Error().Stack().Err(rollbackErr).Msg("could not rollback transaction")
		}
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNoPrice
		}
		log.Warn().Stack().Err(err).Str("Symbol", symbol).Msg("latest bar query failed")
		return nil, err
	}

	if err := trx.Commit(ctx); err != nil {
		log.Warn().Stack().Err(err).Msg("could not commit transaction")
	}

	return bar, nil
}

// HasBarOnOrBefore reports whether history already reaches back to t for the
// listing; the backfill pre-check.
func HasBarOnOrBefore(ctx context.Context, symbol, venueCode string, t time.Time) (bool, error) {
	trx, err := database.Trx(ctx)
	if err != nil {
		log.Error().Stack().Err(err).Msg("could not get database transaction")
		return false, err
	}

	sql := `SELECT EXISTS (
		SELECT 1 FROM ohlcv_bars
		WHERE symbol = $1 AND venue_code = $2 AND event_time <= $3
	)`

	var exists bool
	if err := trx.QueryRow(ctx, sql, symbol, venueCode, t.UTC()).Scan(&exists); err != nil {
		log.Warn().Stack().Err(err).Str("Symbol", symbol).Msg("bar existence query failed")
		if err := trx.Rollback(ctx); err != nil {
			log.Error().Stack().Err(err).Msg("could not rollback transaction")
		}
		return false, err
	}

	if err := trx.Commit(ctx); err != nil {
		log.Warn().Stack().Err(err).Msg("could not commit transaction")
	}

	return exists, nil
}

// BarsBetween returns the listing's bars of one interval inside
// [begin, end], oldest first.
func BarsBetween(ctx context.Context, symbol, venueCode, interval string, begin, end time.Time) ([]*Bar, error) {
	ctx, span := otel.Tracer(opentelemetry.Name).Start(ctx, "data.BarsBetween")
	defer span.End()

	if end.Before(begin) {
		return nil, ErrBeginAfterEnd
	}
	if !ValidInterval(interval) {
		return nil, ErrInvalidInterval
	}

	trx, err := database.Trx(ctx)
	if err != nil {
		log.Error().Stack().Err(err).Msg("could not get database transaction")
		return nil, err
	}

	sql := `SELECT ` + barCols + ` FROM ohlcv_bars
	WHERE symbol = $1 AND venue_code = $2 AND "interval" = $3
	  AND event_time BETWEEN $4 AND $5
	ORDER BY event_time`

	rows, err := trx.Query(ctx, sql, symbol, venueCode, interval, begin.UTC(), end.UTC())
	if err != nil {
		log.Warn().Stack().Err(err).Str("Symbol", symbol).Msg("bar range query failed")
		if err := trx.Rollback(ctx); err != nil {
			log.Error().Stack().Err(err).Msg("could not rollback transaction")
		}
		return nil, err
	}

	bars := make([]*Bar, 0, 128)
	for rows.Next() {
		bar, err := scanBar(rows)
		if err != nil {
			log.Error().Stack().Err(err).Msg("bar scan failed")
			if err := trx.Rollback(ctx); err != nil {
				log.Error().Stack().Err(err).Msg("could not rollback transaction")
			}
			return nil, err
		}
		bars = append(bars, bar)
	}

	if err := rows.Err(); err != nil {
		log.Warn().Stack().Err(err).Msg("bar range read failed")
		if err := trx.Rollback(ctx); err != nil {
			log.Error().Stack().Err(err).Msg("could not rollback transaction")
		}
		return nil, err
	}

	if err := trx.Commit(ctx); err != nil {
		log.Warn().Stack().Err(err).Msg("could not commit transaction")
	}

	return bars, nil
}

// PurgeHourlyBefore removes hourly bars older than the cutoff. Daily bars
// are kept indefinitely.
func PurgeHourlyBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	ctx, span := otel.Tracer(opentelemetry.Name).Start(ctx, "data.PurgeHourlyBefore")
	defer span.End()

	trx, err := database.Trx(ctx)
	if err != nil {
		log.Error().Stack().Err(err).Msg("could not get database transaction")
		return 0, err
	}

	sql := `DELETE FROM ohlcv_bars WHERE "interval" = $1 AND event_time < $2`
	tag, err := trx.Exec(ctx, sql, IntervalHourly, cutoff.UTC())
	if err != nil {
		log.Error().Stack().Err(err).Str("Query", sql).Msg("could not purge hourly bars")
		if err := trx.Rollback(ctx); err != nil {
			log.Error().Stack().Err(err).Msg("could not rollback transaction")
		}
		return 0, err
	}

	if err := trx.Commit(ctx); err != nil {
		log.Error().Stack().Err(err).Msg("could not commit transaction")
		return 0, err
	}

	return tag.RowsAffected(), nil
}
