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
	"time"

	"github.com/folio-vault/fv-api/data/database"
	"github.com/folio-vault/fv-api/observability/opentelemetry"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
)

// Instrument is one listing from the provider's directory; the weekly
// snapshot keeps names and quote currencies current for search and charting.
type Instrument struct {
	Symbol       string `json:"symbol"`
	VenueCode    string `json:"venueCode"`
	DisplayVenue string `json:"displayVenue"`
	Name         string `json:"name"`
	Country      string `json:"country"`
	Currency     string `json:"currency"`
	Kind         string `json:"kind"`
}

const instrumentUpsertSQL = `
INSERT INTO instruments (
	"symbol",
	"venue_code",
	"display_venue",
	"name",
	"country",
	"currency",
	"kind",
	"updated_at"
) VALUES (
	$1, $2, $3, $4, $5, $6, $7, $8
) ON CONFLICT (symbol, venue_code)
DO UPDATE SET
	display_venue=$3,
	name=$4,
	country=$5,
	currency=$6,
	kind=$7,
	updated_at=$8`

// UpsertInstruments replaces the directory snapshot entries in one
// transaction. Listings that vanished upstream keep their last-seen row.
func UpsertInstruments(ctx context.Context, instruments []*Instrument) (int64, error) {
	ctx, span := otel.Tracer(opentelemetry.Name).Start(ctx, "data.UpsertInstruments")
	defer span.End()

	if len(instruments) == 0 {
		return 0, nil
	}

	trx, err := database.Trx(ctx)
	if err != nil {
		log.Error().Stack().Err(err).Msg("could not get database transaction")
		return 0, err
	}

	now := time.Now().UTC()
	var stored int64
	for _, instrument := range instruments {
		if instrument.Symbol == "" || instrument.VenueCode == "" {
			log.Warn().Str("Symbol", instrument.Symbol).Str("VenueCode", instrument.VenueCode).
				Msg("dropping directory entry without a full market identity")
			continue
		}

		_, err := trx.Exec(ctx, instrumentUpsertSQL, instrument.Symbol,
			instrument.VenueCode, instrument.DisplayVenue, instrument.Name,
			instrument.Country, instrument.Currency, instrument.Kind, now)
		if err != nil {
			log.Error().Stack().Err(err).Str("Symbol", instrument.Symbol).Msg("could not upsert instrument")
			if err := trx.Rollback(ctx); err != nil {
				log.Error().Stack().Err(err).Msg("could not rollback transaction")
			}
			return 0, err
		}
		stored++
	}

	if err := trx.Commit(ctx); err != nil {
		log.Error().Stack().Err(err).Msg("could not commit transaction")
		return 0, err
	}

	return stored, nil
}

// SearchInstruments matches the query against symbols and names,
// case-insensitively.
func SearchInstruments(ctx context.Context, query string, limit int) ([]*Instrument, error) {
	ctx, span := otel.Tracer(opentelemetry.Name).Start(ctx, "data.SearchInstruments")
	defer span.End()

	if limit <= 0 || limit > 200 {
		limit = 25
	}

	trx, err := database.Trx(ctx)
	if err != nil {
		log.Error().Stack().Err(err).Msg("could not get database transaction")
		return nil, err
	}

	sql := `SELECT symbol, venue_code, display_venue, name, country, currency, kind
	FROM instruments
	WHERE symbol ILIKE $1 OR name ILIKE $1
	ORDER BY symbol, venue_code
	LIMIT $2`

	rows, err := trx.Query(ctx, sql, "%"+query+"%", limit)
	if err != nil {
		log.Warn().Stack().Err(err).Str("Query", sql).Msg("instrument search failed")
		if err := trx.Rollback(ctx); err != nil {
			log.Error().Stack().Err(err).Msg("could not rollback transaction")
		}
		return nil, err
	}

	instruments := make([]*Instrument, 0, limit)
	for rows.Next() {
		var (
			instrument   Instrument
			displayVenue *string
			name         *string
			country      *string
			currency     *string
			kind         *string
		)
		if err := rows.Scan(&instrument.Symbol, &instrument.VenueCode,
			&displayVenue, &name, &country, &currency, &kind); err != nil {
			log.Warn().Stack().Err(err).Msg("instrument scan failed")
			continue
		}
		if displayVenue != nil {
			instrument.DisplayVenue = *displayVenue
		}
		if name != nil {
			instrument.Name = *name
		}
		if country != nil {
			instrument.Country = *country
		}
		if currency != nil {
			instrument.Currency = *currency
		}
		if kind != nil {
			instrument.Kind = *kind
		}
		instruments = append(instruments, &instrument)
	}

	if err := rows.Err(); err != nil {
		log.Warn().Stack().Err(err).Msg("instrument search read failed")
		if err := trx.Rollback(ctx); err != nil {
			log.Error().Stack().Err(err).Msg("could not rollback transaction")
		}
		return nil, err
	}

	if err := trx.Commit(ctx); err != nil {
		log.Warn().Stack().Err(err).Msg("could not commit transaction")
	}

	return instruments, nil
}
