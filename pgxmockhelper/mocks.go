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

package pgxmockhelper

import (
	"github.com/folio-vault/fv-api/data"
	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v4"
	"github.com/pashagolub/pgxmock"
)

// Every store call runs in its own transaction, so each helper expects one
// begin/operation/commit block. Read paths that end in pgx.ErrNoRows roll
// back instead.

var assetColumns = []string{"id", "user_id", "classification", "status",
	"symbol", "venue_code", "name", "purchase_price", "purchase_date",
	"quantity", "currency", "current_price", "bond_settings", "source_id",
	"closed_at", "updated_at"}

var barColumns = []string{"symbol", "venue_code", "event_time", "interval",
	"open", "high", "low", "close", "volume", "currency"}

var statisticColumns = []string{"user_id", "event_time", "total_value", "distribution"}

// AssetRows renders assets in the column order the asset scanner expects.
// Nullable columns become typed nil pointers when the struct field is empty.
func AssetRows(assets ...*data.Asset) *pgxmock.Rows {
	rows := pgxmock.NewRows(assetColumns)
	for _, asset := range assets {
		rows.AddRow(asset.ID, asset.UserID, asset.Kind, asset.Status,
			strPtr(asset.Symbol), strPtr(asset.VenueCode), strPtr(asset.Name),
			asset.PurchasePrice, asset.PurchaseDate, asset.Quantity,
			strPtr(asset.Currency), asset.CurrentPrice, asset.BondSettings,
			asset.SourceID, asset.ClosedAt, asset.UpdatedAt)
	}
	return rows
}

// SingleBarRows renders one flat bar where only the close matters.
func SingleBarRows(symbol, venueCode string, eventTime interface{}, interval string, closePrice float64) *pgxmock.Rows {
	return pgxmock.NewRows(barColumns).AddRow(symbol, venueCode, eventTime,
		interval, closePrice, closePrice, closePrice, closePrice,
		(*float64)(nil), (*string)(nil))
}

// StatisticRows renders series points with the distribution marshaled the
// way the store persists it.
func StatisticRows(stats ...*data.Statistic) *pgxmock.Rows {
	rows := pgxmock.NewRows(statisticColumns)
	for _, stat := range stats {
		var distribution []byte
		if stat.Distribution != nil {
			distribution, _ = json.Marshal(stat.Distribution)
		}
		rows.AddRow(stat.UserID, stat.EventTime, stat.TotalValue, distribution)
	}
	return rows
}

func strPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func MockUserHasAssets(db pgxmock.PgxConnIface, userID string, exists bool) {
	db.ExpectBegin()
	db.ExpectQuery("SELECT 1 FROM assets").WithArgs(userID).
		WillReturnRows(pgxmock.NewRows([]string{"exists"}).AddRow(exists))
	db.ExpectCommit()
}

func MockActiveAssets(db pgxmock.PgxConnIface, userID string, rows *pgxmock.Rows) {
	db.ExpectBegin()
	db.ExpectQuery("status = 'ACTIVE' ORDER BY updated_at").WithArgs(userID).WillReturnRows(rows)
	db.ExpectCommit()
}

func MockAssetsAsOf(db pgxmock.PgxConnIface, userID string, asOf interface{}, rows *pgxmock.Rows) {
	db.ExpectBegin()
	db.ExpectQuery("purchase_date <=").WithArgs(userID, asOf).WillReturnRows(rows)
	db.ExpectCommit()
}

func MockDistinctUsers(db pgxmock.PgxConnIface, userIDs ...string) {
	rows := pgxmock.NewRows([]string{"user_id"})
	for _, userID := range userIDs {
		rows.AddRow(userID)
	}
	db.ExpectBegin()
	db.ExpectQuery("SELECT DISTINCT user_id FROM assets").WillReturnRows(rows)
	db.ExpectCommit()
}

func MockMarketIdentities(db pgxmock.PgxConnIface, identities ...data.MarketID) {
	rows := pgxmock.NewRows([]string{"symbol", "venue_code"})
	for _, id := range identities {
		rows.AddRow(id.Symbol, id.VenueCode)
	}
	db.ExpectBegin()
	db.ExpectQuery("SELECT DISTINCT symbol, venue_code FROM assets").WillReturnRows(rows)
	db.ExpectCommit()
}

func MockLatestBar(db pgxmock.PgxConnIface, symbol, venueCode string, at interface{}, rows *pgxmock.Rows) {
	db.ExpectBegin()
	db.ExpectQuery("ORDER BY event_time DESC").WithArgs(symbol, venueCode, at).WillReturnRows(rows)
	db.ExpectCommit()
}

func MockNoLatestBar(db pgxmock.PgxConnIface, symbol, venueCode string, at interface{}) {
	db.ExpectBegin()
	db.ExpectQuery("ORDER BY event_time DESC").WithArgs(symbol, venueCode, at).WillReturnError(pgx.ErrNoRows)
	db.ExpectRollback()
}

func MockHasBars(db pgxmock.PgxConnIface, exists bool) {
	db.ExpectBegin()
	db.ExpectQuery("SELECT 1 FROM ohlcv_bars").
		WillReturnRows(pgxmock.NewRows([]string{"exists"}).AddRow(exists))
	db.ExpectCommit()
}

func MockBarUpsert(db pgxmock.PgxConnIface, numBars int) {
	db.ExpectBegin()
	for ii := 0; ii < numBars; ii++ {
		db.ExpectExec("INSERT INTO ohlcv_bars").WillReturnResult(pgxmock.NewResult("INSERT", 1))
	}
	db.ExpectCommit()
}

func MockInstrumentUpsert(db pgxmock.PgxConnIface, numInstruments int) {
	db.ExpectBegin()
	for ii := 0; ii < numInstruments; ii++ {
		db.ExpectExec("INSERT INTO instruments").WillReturnResult(pgxmock.NewResult("INSERT", 1))
	}
	db.ExpectCommit()
}

func MockFxUpsert(db pgxmock.PgxConnIface, src, tgt string, rate float64) {
	db.ExpectBegin()
	db.ExpectExec("INSERT INTO fx_rates").WithArgs(src, tgt, rate, pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	db.ExpectCommit()
}

func MockFxHydrate(db pgxmock.PgxConnIface, rates ...*data.FxRate) {
	rows := pgxmock.NewRows([]string{"source_ccy", "target_ccy", "rate"})
	for _, rate := range rates {
		rows.AddRow(rate.SourceCcy, rate.TargetCcy, rate.Rate)
	}
	db.ExpectBegin()
	db.ExpectQuery("FROM fx_rates").WillReturnRows(rows)
	db.ExpectCommit()
}

func MockSetCurrentPrice(db pgxmock.PgxConnIface, id uuid.UUID, price float64) {
	db.ExpectBegin()
	db.ExpectExec("UPDATE assets SET current_price").WithArgs(id, price).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	db.ExpectCommit()
}

func MockSetSourceID(db pgxmock.PgxConnIface, id uuid.UUID) {
	db.ExpectBegin()
	db.ExpectExec("UPDATE assets SET source_id").WithArgs(id, pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	db.ExpectCommit()
}

func MockCloseAsset(db pgxmock.PgxConnIface, id uuid.UUID) {
	db.ExpectBegin()
	db.ExpectExec("UPDATE assets SET status").WithArgs(id, data.StatusClosed).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	db.ExpectCommit()
}

func MockStatisticsOnOrAfter(db pgxmock.PgxConnIface, userID string, from interface{}, rows *pgxmock.Rows) {
	db.ExpectBegin()
	db.ExpectQuery("event_time >=").WithArgs(userID, from).WillReturnRows(rows)
	db.ExpectCommit()
}

func MockUserStatistics(db pgxmock.PgxConnIface, userID string, rows *pgxmock.Rows) {
	db.ExpectBegin()
	db.ExpectQuery("FROM statistics").WithArgs(userID).WillReturnRows(rows)
	db.ExpectCommit()
}

func MockLatestStatistic(db pgxmock.PgxConnIface, userID string, rows *pgxmock.Rows) {
	db.ExpectBegin()
	db.ExpectQuery("ORDER BY event_time DESC LIMIT 1").WithArgs(userID).WillReturnRows(rows)
	db.ExpectCommit()
}

func MockNoLatestStatistic(db pgxmock.PgxConnIface, userID string) {
	db.ExpectBegin()
	db.ExpectQuery("ORDER BY event_time DESC LIMIT 1").WithArgs(userID).WillReturnError(pgx.ErrNoRows)
	db.ExpectRollback()
}

// MockUpsertStatistic pins the total being written; the event time and the
// marshaled distribution vary run to run.
func MockUpsertStatistic(db pgxmock.PgxConnIface, userID string, total interface{}) {
	db.ExpectBegin()
	db.ExpectExec("INSERT INTO statistics").WithArgs(userID, pgxmock.AnyArg(), total, pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	db.ExpectCommit()
}

func MockPurge(db pgxmock.PgxConnIface, interval string, numRows int64) {
	db.ExpectBegin()
	db.ExpectExec("DELETE FROM ohlcv_bars").WithArgs(interval, pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("DELETE", numRows))
	db.ExpectCommit()
}
