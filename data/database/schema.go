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

package database

import (
	"context"

	"github.com/rs/zerolog/log"
)

// All timestamps are stored as UTC TIMESTAMP (without time zone) so that the
// day-truncation expression index on statistics stays immutable.
const schema = `
CREATE TABLE IF NOT EXISTS assets (
    id UUID PRIMARY KEY,
    user_id TEXT NOT NULL,
    classification TEXT NOT NULL,
    status TEXT NOT NULL DEFAULT 'ACTIVE',
    symbol TEXT,
    venue_code TEXT,
    name TEXT,
    purchase_price DOUBLE PRECISION NOT NULL,
    purchase_date TIMESTAMP NOT NULL,
    quantity DOUBLE PRECISION NOT NULL DEFAULT 1,
    currency TEXT,
    current_price DOUBLE PRECISION,
    bond_settings JSONB,
    source_id BYTEA,
    closed_at TIMESTAMP,
    updated_at TIMESTAMP NOT NULL DEFAULT (now() AT TIME ZONE 'utc')
);

CREATE INDEX IF NOT EXISTS idx_assets_user_status ON assets(user_id, status);
CREATE INDEX IF NOT EXISTS idx_assets_market ON assets(symbol, venue_code) WHERE symbol IS NOT NULL;

CREATE TABLE IF NOT EXISTS ohlcv_bars (
    symbol TEXT NOT NULL,
    venue_code TEXT NOT NULL,
    event_time TIMESTAMP NOT NULL,
    interval TEXT NOT NULL,
    open DOUBLE PRECISION NOT NULL,
    high DOUBLE PRECISION NOT NULL,
    low DOUBLE PRECISION NOT NULL,
    close DOUBLE PRECISION NOT NULL,
    volume DOUBLE PRECISION,
    currency TEXT
);

CREATE UNIQUE INDEX IF NOT EXISTS uq_bars_symbol_venue_time_interval
    ON ohlcv_bars(symbol, venue_code, event_time, interval);
CREATE INDEX IF NOT EXISTS idx_bars_symbol_interval_time ON ohlcv_bars(symbol, interval, event_time);
CREATE INDEX IF NOT EXISTS idx_bars_interval_time ON ohlcv_bars(interval, event_time);

CREATE TABLE IF NOT EXISTS instruments (
    symbol TEXT NOT NULL,
    venue_code TEXT NOT NULL,
    display_venue TEXT,
    name TEXT,
    country TEXT,
    currency TEXT,
    kind TEXT,
    updated_at TIMESTAMP NOT NULL DEFAULT (now() AT TIME ZONE 'utc'),
    PRIMARY KEY (symbol, venue_code)
);

CREATE TABLE IF NOT EXISTS fx_rates (
    source_ccy TEXT NOT NULL,
    target_ccy TEXT NOT NULL,
    rate DOUBLE PRECISION NOT NULL,
    fetched_at TIMESTAMP NOT NULL,
    PRIMARY KEY (source_ccy, target_ccy)
);

CREATE TABLE IF NOT EXISTS statistics (
    user_id TEXT NOT NULL,
    event_time TIMESTAMP NOT NULL,
    total_value DOUBLE PRECISION NOT NULL,
    distribution JSONB NOT NULL
);

CREATE UNIQUE INDEX IF NOT EXISTS uq_statistics_user_day
    ON statistics(user_id, date_trunc('day', event_time));
CREATE INDEX IF NOT EXISTS idx_statistics_user_time ON statistics(user_id, event_time);
`

// Migrate creates missing tables and indexes. Every statement is
// IF NOT EXISTS so re-running against a provisioned database is a no-op.
func Migrate(ctx context.Context) error {
	trx, err := pool.Begin(ctx)
	if err != nil {
		log.Error().Stack().Err(err).Msg("could not begin transaction")
		return err
	}

	if _, err := trx.Exec(ctx, schema); err != nil {
		log.Error().Stack().Err(err).Msg("could not apply schema")
		if err := trx.Rollback(ctx); err != nil {
			log.Error().Stack().Err(err).Msg("could not rollback transaction")
		}
		return err
	}

	return trx.Commit(ctx)
}
