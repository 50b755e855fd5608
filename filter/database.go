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

package filter

import (
	"context"
	"fmt"
	"time"

	"github.com/folio-vault/fv-api/data/database"
	"github.com/rs/zerolog/log"
)

// timestampAlias renders a UTC timestamp column as RFC3339 under a camelCase
// key, matching what the Go marshaller emits for time.Time so both read paths
// serve identical field shapes. Formatting the stored value directly keeps
// the session timezone out of the result.
func timestampAlias(column, alias string) string {
	return fmt.Sprintf(`to_char(%s, 'YYYY-MM-DD"T"HH24:MI:SS"Z"') as %q`, column, alias)
}

// BarHistory returns the bars of one listing over [begin, end] at the given
// interval, ascending, as a JSON array assembled by postgres.
func BarHistory(ctx context.Context, symbol, venueCode, interval string, begin, end time.Time) ([]byte, error) {
	fields := []string{"open", "high", "low", "close", "volume", "currency"}
	safeFields := []string{timestampAlias("event_time", "eventTime")}
	where := map[string][]string{
		"symbol":     {fmt.Sprintf("eq.%s", symbol)},
		"venue_code": {fmt.Sprintf("eq.%s", venueCode)},
		"interval":   {fmt.Sprintf("eq.%s", interval)},
		"event_time": {
			fmt.Sprintf("gte.%s", begin.UTC().Format(time.RFC3339)),
			fmt.Sprintf("lte.%s", end.UTC().Format(time.RFC3339)),
		},
	}

	sql, args, err := BuildQuery("ohlcv_bars", fields, safeFields, where, "event_time ASC")
	if err != nil {
		log.Warn().Stack().Err(err).Str("Symbol", symbol).Msg("could not build bar history query")
		return nil, err
	}

	return jsonArrayQuery(ctx, sql, args...)
}

// StatisticSeries returns a user's whole valuation series, oldest first, as
// a JSON array assembled by postgres. Field names match data.Statistic's
// JSON form so cached and projected responses are interchangeable.
func StatisticSeries(ctx context.Context, userID string) ([]byte, error) {
	fields := []string{"distribution"}
	safeFields := []string{
		`user_id as "userId"`,
		timestampAlias("event_time", "eventTime"),
		`total_value as "totalValue"`,
	}
	where := map[string][]string{
		"user_id": {fmt.Sprintf("eq.%s", userID)},
	}

	sql, args, err := BuildQuery("statistics", fields, safeFields, where, "event_time ASC")
	if err != nil {
		log.Warn().Stack().Err(err).Str("UserID", userID).Msg("could not build statistic series query")
		return nil, err
	}

	return jsonArrayQuery(ctx, sql, args...)
}

// jsonArrayQuery wraps a select so postgres aggregates the rows into one
// JSON array. An empty result comes back as SQL NULL and is served as [].
func jsonArrayQuery(ctx context.Context, sql string, args ...interface{}) ([]byte, error) {
	trx, err := database.Trx(ctx)
	if err != nil {
		log.Error().Stack().Err(err).Msg("could not get database transaction")
		return nil, err
	}

	wrapped := fmt.Sprintf(`select array_to_json(array_agg(row_to_json(tbl))) as res from (%s) tbl`, sql)

	var payload *string
	if err := trx.QueryRow(ctx, wrapped, args...).Scan(&payload); err != nil {
		log.Warn().Stack().Err(err).Str("Query", sql).Msg("json array query failed")
		if err := trx.Rollback(ctx); err != nil {
			log.Error().Stack().Err(err).Msg("could not rollback transaction")
		}
		return nil, err
	}

	if err := trx.Commit(ctx); err != nil {
		log.Warn().Stack().Err(err).Msg("could not commit transaction")
	}

	if payload == nil {
		return []byte("[]"), nil
	}
	return []byte(*payload), nil
}
