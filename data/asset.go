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
	"github.com/google/uuid"
	"github.com/jackc/pgx/v4"
	"github.com/rs/zerolog/log"
	"github.com/zeebo/blake3"
	"go.opentelemetry.io/otel"
)

// AssetKind classifies how a position is priced: market kinds read the bar
// store, bonds accrue, everything else carries book value.
type AssetKind string

const (
	KindStocks     AssetKind = "stocks"
	KindETF        AssetKind = "etf"
	KindCrypto     AssetKind = "crypto"
	KindBonds      AssetKind = "bonds"
	KindSavings    AssetKind = "savings"
	KindRealEstate AssetKind = "real-estate"
	KindOther      AssetKind = "other"
)

// MarketTraded reports whether the kind is priced from OHLCV history.
func (k AssetKind) MarketTraded() bool {
	switch k {
	case KindStocks, KindETF, KindCrypto:
		return true
	}
	return false
}

type AssetStatus string

const (
	StatusActive AssetStatus = "ACTIVE"
	StatusClosed AssetStatus = "CLOSED"
)

type Asset struct {
	ID            uuid.UUID
	UserID        string
	Kind          AssetKind
	Status        AssetStatus
	Symbol        string
	VenueCode     string
	Name          string
	PurchasePrice float64
	PurchaseDate  time.Time
	Quantity      float64
	Currency      string
	CurrentPrice  *float64
	BondSettings  []byte
	SourceID      []byte
	ClosedAt      *time.Time
	UpdatedAt     time.Time
}

// MarketID identifies a listing; symbol alone is ambiguous across venues.
type MarketID struct {
	Symbol    string
	VenueCode string
}

const assetCols = `id, user_id, classification, status, symbol, venue_code, name,
	purchase_price, purchase_date, quantity, currency, current_price, bond_settings,
	source_id, closed_at, updated_at`

// EffectiveCurrency returns the asset's currency, defaulting to USD when the
// asset row carries none.
func (a *Asset) EffectiveCurrency() string {
	if a.Currency == "" {
		return "USD"
	}
	return a.Currency
}

// CurrentOrPurchase returns the cached valuation price, falling back to the
// recorded purchase price when no valuation has run yet.
func (a *Asset) CurrentOrPurchase() float64 {
	if a.CurrentPrice != nil && *a.CurrentPrice != 0 {
		return *a.CurrentPrice
	}
	return a.PurchasePrice
}

// MarketFingerprint hashes the fields whose change invalidates the asset's
// price history: owner, listing, and purchase date. Quantity or price edits
// leave the fingerprint untouched so no refetch happens.
func (a *Asset) MarketFingerprint() ([]byte, error) {
	h := blake3.New()

	d, err := a.PurchaseDate.UTC().MarshalText()
	if err != nil {
		return nil, err
	}

	if _, err := h.Write(d); err != nil {
		log.Error().Stack().Err(err).Msg("could not write purchase date to blake3 hasher")
		return nil, err
	}

	if _, err := h.Write([]byte(a.UserID)); err != nil {
		log.Error().Stack().Err(err).Msg("could not write user id to blake3 hasher")
		return nil, err
	}

	if _, err := h.Write([]byte(a.Symbol)); err != nil {
		log.Error().Stack().Err(err).Msg("could not write symbol to blake3 hasher")
		return nil, err
	}

	if _, err := h.Write([]byte(a.VenueCode)); err != nil {
		log.Error().Stack().Err(err).Msg("could not write venue code to blake3 hasher")
		return nil, err
	}

	digest := h.Sum(nil)
	return digest, nil
}

func scanAsset(rows pgx.Rows) (*Asset, error) {
	var (
		a            Asset
		symbol       *string
		venueCode    *string
		name         *string
		currency     *string
		bondSettings []byte
	)

	err := rows.Scan(&a.ID, &a.UserID, &a.Kind, &a.Status, &symbol, &venueCode,
		&name, &a.PurchasePrice, &a.PurchaseDate, &a.Quantity, &currency,
		&a.CurrentPrice, &bondSettings, &a.SourceID, &a.ClosedAt, &a.UpdatedAt)
	if err != nil {
		return nil, err
	}

	if symbol != nil {
		a.Symbol = *symbol
	}
	if venueCode != nil {
		a.VenueCode = *venueCode
	}
	if name != nil {
		a.Name = *name
	}
	if currency != nil {
		a.Currency = *currency
	}
	a.BondSettings = bondSettings

	return &a, nil
}

func queryAssets(ctx context.Context, sql string, args ...interface{}) ([]*Asset, error) {
	trx, err := database.Trx(ctx)
	if err != nil {
		log.Error().Stack().Err(err).Msg("could not get database transaction")
		return nil, err
	}

	rows, err := trx.Query(ctx, sql, args...)
	if err != nil {
		log.Warn().Stack().Err(err).Str("Query", sql).Msg("asset query failed")
		if err := trx.Rollback(ctx); err != nil {
			log.Error().Stack().Err(err).Msg("could not rollback transaction")
		}
		return nil, err
	}

	assets := make([]*Asset, 0, 16)
	for rows.Next() {
		asset, err := scanAsset(rows)
		if err != nil {
			log.Error().Stack().Err(err).Msg("asset scan failed")
			if err := trx.Rollback(ctx); err != nil {
				log.Error().Stack().Err(err).Msg("could not rollback transaction")
			}
			return nil, err
		}
		assets = append(assets, asset)
	}

	if err := rows.Err(); err != nil {
		log.Warn().Stack().Err(err).Str("Query", sql).Msg("asset query read failed")
		if err := trx.Rollback(ctx); err != nil {
			log.Error().Stack().Err(err).Msg("could not rollback transaction")
		}
		return nil, err
	}

	if err := trx.Commit(ctx); err != nil {
		log.Warn().Stack().Err(err).Msg("could not commit transaction")
	}

	return assets, nil
}

// GetAsset loads a single asset by id.
func GetAsset(ctx context.Context, id uuid.UUID) (*Asset, error) {
	sql := `SELECT ` + assetCols + ` FROM assets WHERE id = $1`
	assets, err := queryAssets(ctx, sql, id)
	if err != nil {
		return nil, err
	}
	if len(assets) == 0 {
		return nil, ErrNotFound
	}
	return assets[0], nil
}

// ActiveAssetsForUser returns the user's active assets ordered newest
// mutation first; the head of the slice is the triggering asset for a
// rebuild.
func ActiveAssetsForUser(ctx context.Context, userID string) ([]*Asset, error) {
	ctx, span := otel.Tracer(opentelemetry.Name).Start(ctx, "data.ActiveAssetsForUser")
	defer span.End()

	if userID == "" {
		return nil, ErrEmptyUserID
	}

	sql := `SELECT ` + assetCols + ` FROM assets WHERE user_id = $1 AND status = 'ACTIVE' ORDER BY updated_at DESC, id`
	return queryAssets(ctx, sql, userID)
}

// ActiveAssets returns every active asset across all users.
func ActiveAssets(ctx context.Context) ([]*Asset, error) {
	ctx, span := otel.Tracer(opentelemetry.Name).Start(ctx, "data.ActiveAssets")
	defer span.End()

	sql := `SELECT ` + assetCols + ` FROM assets WHERE status = 'ACTIVE' ORDER BY user_id, updated_at DESC`
	return queryAssets(ctx, sql)
}

// AssetsAsOf returns the user's positions that existed at instant t: purchased
// on or before t and not yet closed. Rows closed before close timestamps were
// recorded carry no closed_at; they stay excluded from history, matching the
// pre-timestamp behavior.
func AssetsAsOf(ctx context.Context, userID string, t time.Time) ([]*Asset, error) {
	ctx, span := otel.Tracer(opentelemetry.Name).Start(ctx, "data.AssetsAsOf")
	defer span.End()

	sql := `SELECT ` + assetCols + ` FROM assets
	WHERE user_id = $1 AND purchase_date <= $2
	  AND ((status = 'ACTIVE' AND closed_at IS NULL) OR closed_at > $2)
	ORDER BY purchase_date, id`
	return queryAssets(ctx, sql, userID, t)
}

// UserHasAssets reports whether the user holds any position at all, active
// or closed. A user with nothing recorded has no valuation to maintain.
func UserHasAssets(ctx context.Context, userID string) (bool, error) {
	trx, err := database.Trx(ctx)
	if err != nil {
		log.Error().Stack().Err(err).Msg("could not get database transaction")
		return false, err
	}

	sql := `SELECT EXISTS (SELECT 1 FROM assets WHERE user_id = $1)`
	var exists bool
	if err := trx.QueryRow(ctx, sql, userID).Scan(&exists); err != nil {
		log.Warn().Stack().Err(err).Str("Query", sql).Str("UserID", userID).Msg("asset existence query failed")
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

// DistinctUserIDs lists every user that has ever held an asset; closed-out
// users keep their statistic series current.
func DistinctUserIDs(ctx context.Context) ([]string, error) {
	trx, err := database.Trx(ctx)
	if err != nil {
		log.Error().Stack().Err(err).Msg("could not get database transaction")
		return nil, err
	}

	sql := `SELECT DISTINCT user_id FROM assets ORDER BY user_id`
	rows, err := trx.Query(ctx, sql)
	if err != nil {
		log.Warn().Stack().Err(err).Str("Query", sql).Msg("user id query failed")
		if err := trx.Rollback(ctx); err != nil {
			log.Error().Stack().Err(err).Msg("could not rollback transaction")
		}
		return nil, err
	}

	users := make([]string, 0, 100)
	for rows.Next() {
		var userID string
		if err := rows.Scan(&userID); err != nil {
			log.Warn().Stack().Err(err).Msg("user id scan failed")
			continue
		}
		users = append(users, userID)
	}

	if err := rows.Err(); err != nil {
		log.Warn().Stack().Err(err).Str("Query", sql).Msg("user id query read failed")
		if err := trx.Rollback(ctx); err != nil {
			log.Error().Stack().Err(err).Msg("could not rollback transaction")
		}
		return nil, err
	}

	if err := trx.Commit(ctx); err != nil {
		log.Warn().Stack().Err(err).Msg("could not commit transaction")
	}

	return users, nil
}

// ActiveMarketIdentities returns the distinct listings the ingestion jobs
// must keep fresh.
func ActiveMarketIdentities(ctx context.Context) ([]MarketID, error) {
	ctx, span := otel.Tracer(opentelemetry.Name).Start(ctx, "data.ActiveMarketIdentities")
	defer span.End()

	trx, err := database.Trx(ctx)
	if err != nil {
		log.Error().Stack().Err(err).Msg("could not get database transaction")
		return nil, err
	}

	sql := `SELECT DISTINCT symbol, venue_code FROM assets
	WHERE status = 'ACTIVE' AND symbol IS NOT NULL
	  AND classification IN ('stocks', 'etf', 'crypto')
	ORDER BY symbol, venue_code`
	rows, err := trx.Query(ctx, sql)
	if err != nil {
		log.Warn().Stack().Err(err).Str("Query", sql).Msg("market identity query failed")
		if err := trx.Rollback(ctx); err != nil {
			log.Error().Stack().Err(err).Msg("could not rollback transaction")
		}
		return nil, err
	}

	ids := make([]MarketID, 0, 32)
	for rows.Next() {
		var symbol string
		var venueCode *string
		if err := rows.Scan(&symbol, &venueCode); err != nil {
			log.Warn().Stack().Err(err).Msg("market identity scan failed")
			continue
		}
		id := MarketID{Symbol: symbol}
		if venueCode != nil {
			id.VenueCode = *venueCode
		}
		ids = append(ids, id)
	}

	if err := rows.Err(); err != nil {
		log.Warn().Stack().Err(err).Str("Query", sql).Msg("market identity read failed")
		if err := trx.Rollback(ctx); err != nil {
			log.Error().Stack().Err(err).Msg("could not rollback transaction")
		}
		return nil, err
	}

	if err := trx.Commit(ctx); err != nil {
		log.Warn().Stack().Err(err).Msg("could not commit transaction")
	}

	return ids, nil
}

// SetCurrentPrice caches the latest valuation on the asset row. It must not
// bump updated_at: price refreshes are not user mutations and must not
// reorder triggering-asset selection.
func SetCurrentPrice(ctx context.Context, id uuid.UUID, price float64) error {
	trx, err := database.Trx(ctx)
	if err != nil {
		log.Error().Stack().Err(err).Msg("could not get database transaction")
		return err
	}

	sql := `UPDATE assets SET current_price = $2 WHERE id = $1`
	if _, err := trx.Exec(ctx, sql, id, price); err != nil {
		log.Warn().Stack().Err(err).Str("Query", sql).Str("AssetID", id.String()).Msg("could not update current price")
		if err := trx.Rollback(ctx); err != nil {
			log.Error().Stack().Err(err).Msg("could not rollback transaction")
		}
		return err
	}

	return trx.Commit(ctx)
}

// SetSourceID stores the market-identity fingerprint after a backfill ran for
// the identity it names.
func SetSourceID(ctx context.Context, id uuid.UUID, sourceID []byte) error {
	trx, err := database.Trx(ctx)
	if err != nil {
		log.Error().Stack().Err(err).Msg("could not get database transaction")
		return err
	}

	sql := `UPDATE assets SET source_id = $2 WHERE id = $1`
	if _, err := trx.Exec(ctx, sql, id, sourceID); err != nil {
		log.Warn().Stack().Err(err).Str("Query", sql).Str("AssetID", id.String()).Msg("could not update source id")
		if err := trx.Rollback(ctx); err != nil {
			log.Error().Stack().Err(err).Msg("could not rollback transaction")
		}
		return err
	}

	return trx.Commit(ctx)
}

// CloseAsset marks a position as sold or liquidated. The closed_at stamp
// keeps the asset visible to historical valuations that predate it.
func CloseAsset(ctx context.Context, id uuid.UUID) error {
	trx, err := database.Trx(ctx)
	if err != nil {
		log.Error().Stack().Err(err).Msg("could not get database transaction")
		return err
	}

	sql := `UPDATE assets SET status = $2, closed_at = (now() at time zone 'utc'),
		updated_at = (now() at time zone 'utc') WHERE id = $1`
	if _, err := trx.Exec(ctx, sql, id, StatusClosed); err != nil {
		log.Warn().Stack().Err(err).Str("Query", sql).Str("AssetID", id.String()).Msg("could not close asset")
		if err := trx.Rollback(ctx); err != nil {
			log.Error().Stack().Err(err).Msg("could not rollback transaction")
		}
		return err
	}

	return trx.Commit(ctx)
}
