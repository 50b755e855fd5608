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
	"time"

	"github.com/folio-vault/fv-api/data/database"
	"github.com/folio-vault/fv-api/observability/opentelemetry"
	"github.com/goccy/go-json"
	"github.com/jackc/pgx/v4"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
)

// Statistic is one point of a user's valuation series: the portfolio's total
// value and its per-class split, both in USD. Keyed by calendar day; the
// event time keeps the precise write instant for charting.
type Statistic struct {
	UserID       string             `json:"userId"`
	EventTime    time.Time          `json:"eventTime"`
	TotalValue   float64            `json:"totalValue"`
	Distribution map[string]float64 `json:"distribution"`
}

const statisticUpsertSQL = `
INSERT INTO statistics (
	"user_id",
	"event_time",
	"total_value",
	"distribution"
) VALUES (
	$1, $2, $3, $4
) ON CONFLICT (user_id, date_trunc('day', event_time))
DO UPDATE SET
	event_time=$2,
	total_value=$3,
	distribution=$4`

// UpsertStatistic writes one series point. Two writes on the same calendar
// day collapse into one row with the later write winning, which is exactly
// what a same-day backdated insert followed by a "now" row needs.
func UpsertStatistic(ctx context.Context, stat *Statistic) error {
	ctx, span := otel.Tracer(opentelemetry.Name).Start(ctx, "data.UpsertStatistic")
	defer span.End()

	distribution, err := json.Marshal(stat.Distribution)
	if err != nil {
		log.Error().Stack().Err(err).Str("UserID", stat.UserID).Msg("could not marshal distribution")
		return err
	}

	trx, err := database.Trx(ctx)
	if err != nil {
		log.Error().Stack().Err(err).Msg("could not get database transaction")
		return err
	}

	if _, err := trx.Exec(ctx, statisticUpsertSQL, stat.UserID,
		stat.EventTime.UTC(), stat.TotalValue, distribution); err != nil {
		log.Error().Stack().Err(err).Str("UserID", stat.UserID).
			Time("EventTime", stat.EventTime).Msg("could not upsert statistic")
		if err := trx.Rollback(ctx); err != nil {
			log.Error().Stack().Err(err).Msg("could not rollback transaction")
		}
		return err
	}

	return trx.Commit(ctx)
}

const statisticCols = `user_id, event_time, total_value, distribution`

func scanStatistic(rows pgx.Row) (*Statistic, error) {
	var (
		stat         Statistic
		distribution []byte
	)
	if err := rows.Scan(&stat.UserID, &stat.EventTime, &stat.TotalValue, &distribution); err != nil {
		return nil, err
	}

	stat.Distribution = make(map[string]float64)
	if len(distribution) > 0 {
		if err := json.Unmarshal(distribution, &stat.Distribution); err != nil {
			return nil, err
		}
	}

	return &stat, nil
}

func queryStatistics(ctx context.Context, sql string, args ...interface{}) ([]*Statistic, error) {
	trx, err := database.Trx(ctx)
	if err != nil {
		log.Error().Stack().Err(err).Msg("could not get database transaction")
		return nil, err
	}

	rows, err := trx.Query(ctx, sql, args...)
	if err != nil {
		log.Warn().Stack().Err(err).Str("Query", sql).Msg("statistic query failed")
		if err := trx.Rollback(ctx); err != nil {
			log.Error().Stack().Err(err).Msg("could not rollback transaction")
		}
		return nil, err
	}

	stats := make([]*Statistic, 0, 64)
	for rows.Next() {
		stat, err := scanStatistic(rows)
		if err != nil {
			log.Error().Stack().Err(err).Msg("statistic scan failed")
			if err := trx.Rollback(ctx); err != nil {
				log.Error().Stack().Err(err).Msg("could not rollback transaction")
			}
			return nil, err
		}
		stats = append(stats, stat)
	}

	if err := rows.Err(); err != nil {
		log.Warn().Stack().Err(err).Str("Query", sql).Msg("statistic read failed")
		if err := trx.Rollback(ctx); err != nil {
			log.Error().Stack().Err(err).Msg("could not rollback transaction")
		}
		return nil, err
	}

	if err := trx.Commit(ctx); err != nil {
		log.Warn().Stack().Err(err).Msg("could not commit transaction")
	}

	return stats, nil
}

// StatisticsOnOrAfter returns the user's series from t forward, oldest
// first; the slice a backdated rebuild recomputes in place.
func StatisticsOnOrAfter(ctx context.Context, userID string, t time.Time) ([]*Statistic, error) {
	ctx, span := otel.Tracer(opentelemetry.Name).Start(ctx, "data.StatisticsOnOrAfter")
	defer span.End()

	sql := `SELECT ` + statisticCols + ` FROM statistics
	WHERE user_id = $1 AND event_time >= $2
	ORDER BY event_time`
	return queryStatistics(ctx, sql, userID, t.UTC())
}

// UserStatistics returns the user's whole series, oldest first.
func UserStatistics(ctx context.Context, userID string) ([]*Statistic, error) {
	ctx, span := otel.Tracer(opentelemetry.Name).Start(ctx, "data.UserStatistics")
	defer span.End()

	sql := `SELECT ` + statisticCols + ` FROM statistics
	WHERE user_id = $1
	ORDER BY event_time`
	return queryStatistics(ctx, sql, userID)
}

// LatestStatistic returns the user's newest series point, or ErrNotFound
// when the user has none yet.
func LatestStatistic(ctx context.Context, userID string) (*Statistic, error) {
	trx, err := database.Trx(ctx)
	if err != nil {
		log.Error().Stack().Err(err).Msg("could not get database transaction")
		return nil, err
	}

	sql := `SELECT ` + statisticCols + ` FROM statistics
	WHERE user_id = $1
	ORDER BY event_time DESC LIMIT 1`

	stat, err := scanStatistic(trx.QueryRow(ctx, sql, userID))
	if err != nil {
		if rollbackErr := trx.Rollback(ctx); rollbackErr != nil {
			log.Error().Stack().Err(rollbackErr).Msg("could not rollback transaction")
		}
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		log.Warn().Stack().Err(err).Str("UserID", userID).Msg("latest statistic query failed")
		return nil, err
	}

	if err := trx.Commit(ctx); err != nil {
		log.Warn().Stack().Err(err).Msg("could not commit transaction")
	}

	return stat, nil
}

// ProjectCurrency re-expresses the statistic in the requested currency using
// the direct USD→currency rate. ErrUnknownRate when the pair is not
// maintained.
func (s *Statistic) ProjectCurrency(currency string) (*Statistic, error) {
	total, err := ConvertCurrency(s.TotalValue, "USD", currency)
	if err != nil {
		return nil, err
	}

	projected := &Statistic{
		UserID:       s.UserID,
		EventTime:    s.EventTime,
		TotalValue:   total,
		Distribution: make(map[string]float64, len(s.Distribution)),
	}

	for class, value := range s.Distribution {
		converted, err := ConvertCurrency(value, "USD", currency)
		if err != nil {
			return nil, err
		}
		projected.Distribution[class] = converted
	}

	return projected, nil
}
