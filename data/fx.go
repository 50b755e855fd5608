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
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/folio-vault/fv-api/data/database"
	"github.com/rs/zerolog/log"
)

// FxRate is one directly observed conversion rate. Inverses are separate
// rows: the table never derives EUR→USD from USD→EUR, and no pivot-currency
// chaining is performed anywhere.
type FxRate struct {
	SourceCcy string
	TargetCcy string
	Rate      float64
	FetchedAt time.Time
}

var (
	fxMutex sync.RWMutex
	fxRates = map[string]float64{}
)

func fxKey(src, tgt string) string {
	return strings.ToUpper(src) + "/" + strings.ToUpper(tgt)
}

// ConvertCurrency converts amount from src to tgt using the in-process rate
// table. Same-currency conversion is the identity. A pair without a direct
// rate fails with ErrUnknownRate; callers exclude the amount rather than
// approximate through a pivot currency.
func ConvertCurrency(amount float64, src, tgt string) (float64, error) {
	src = strings.ToUpper(src)
	tgt = strings.ToUpper(tgt)
	if src == tgt {
		return amount, nil
	}

	fxMutex.RLock()
	rate, ok := fxRates[fxKey(src, tgt)]
	fxMutex.RUnlock()

	if !ok {
		return 0, fmt.Errorf("%w: %s/%s", ErrUnknownRate, src, tgt)
	}

	return amount * rate, nil
}

// HydrateFxTable loads the persisted rates into process memory. Runs at
// startup and after every FX refresh; lookups between refreshes never touch
// the database.
func HydrateFxTable(ctx context.Context) error {
	trx, err := database.Trx(ctx)
	if err != nil {
		log.Error().Stack().Err(err).Msg("could not get database transaction")
		return err
	}

	sql := `SELECT source_ccy, target_ccy, rate FROM fx_rates`
	rows, err := trx.Query(ctx, sql)
	if err != nil {
		log.Warn().Stack().Err(err).Str("Query", sql).Msg("fx rate query failed")
		if err := trx.Rollback(ctx); err != nil {
			log.Error().Stack().Err(err).Msg("could not rollback transaction")
		}
		return err
	}

	next := make(map[string]float64, 16)
	for rows.Next() {
		var src, tgt string
		var rate float64
		if err := rows.Scan(&src, &tgt, &rate); err != nil {
			log.Warn().Stack().Err(err).Msg("fx rate scan failed")
			continue
		}
		next[fxKey(src, tgt)] = rate
	}

	if err := rows.Err(); err != nil {
		log.Warn().Stack().Err(err).Str("Query", sql).Msg("fx rate read failed")
		if err := trx.Rollback(ctx); err != nil {
			log.Error().Stack().Err(err).Msg("could not rollback transaction")
		}
		return err
	}

	if err := trx.Commit(ctx); err != nil {
		log.Warn().Stack().Err(err).Msg("could not commit transaction")
	}

	fxMutex.Lock()
	fxRates = next
	fxMutex.Unlock()

	log.Info().Int("NumRates", len(next)).Msg("hydrated fx table")
	return nil
}

const fxUpsertSQL = `
INSERT INTO fx_rates (
	"source_ccy",
	"target_ccy",
	"rate",
	"fetched_at"
) VALUES (
	$1, $2, $3, $4
) ON CONFLICT (source_ccy, target_ccy)
DO UPDATE SET
	rate=$3,
	fetched_at=$4`

// UpsertFxRate persists one observed rate and refreshes the in-process entry.
// A failed refresh of one pair leaves the previously stored rate standing.
func UpsertFxRate(ctx context.Context, rate *FxRate) error {
	src := strings.ToUpper(rate.SourceCcy)
	tgt := strings.ToUpper(rate.TargetCcy)

	trx, err := database.Trx(ctx)
	if err != nil {
		log.Error().Stack().Err(err).Msg("could not get database transaction")
		return err
	}

	if _, err := trx.Exec(ctx, fxUpsertSQL, src, tgt, rate.Rate, rate.FetchedAt.UTC()); err != nil {
		log.Error().Stack().Err(err).Str("Pair", fxKey(src, tgt)).Msg("could not upsert fx rate")
		if err := trx.Rollback(ctx); err != nil {
			log.Error().Stack().Err(err).Msg("could not rollback transaction")
		}
		return err
	}

	if err := trx.Commit(ctx); err != nil {
		log.Error().Stack().Err(err).Msg("could not commit transaction")
		return err
	}

	fxMutex.Lock()
	fxRates[fxKey(src, tgt)] = rate.Rate
	fxMutex.Unlock()

	return nil
}
