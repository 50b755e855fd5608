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

package valuation_test

import (
	"context"
	"time"

	"github.com/google/uuid"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/pashagolub/pgxmock"

	"github.com/folio-vault/fv-api/data"
	"github.com/folio-vault/fv-api/data/database"
	"github.com/folio-vault/fv-api/pgxmockhelper"
	"github.com/folio-vault/fv-api/valuation"
)

var _ = Describe("RebuildUser", func() {
	var (
		ctx    context.Context
		dbPool pgxmock.PgxConnIface
	)

	BeforeEach(func() {
		ctx = context.Background()

		var err error
		dbPool, err = pgxmock.NewConn()
		Expect(err).To(BeNil())
		database.SetPool(dbPool)
	})

	It("rejects a blank user id", func() {
		Expect(valuation.RebuildUser(ctx, "", false)).To(MatchError(data.ErrEmptyUserID))
	})

	It("silently skips a user with no assets at all", func() {
		pgxmockhelper.MockUserHasAssets(dbPool, "user1", false)

		Expect(valuation.RebuildUser(ctx, "user1", false)).To(Succeed())
	})

	It("extends the series to the purchase day and appends the present value", func() {
		asset := &data.Asset{
			ID:            uuid.New(),
			UserID:        "user1",
			Kind:          data.KindStocks,
			Status:        data.StatusActive,
			Symbol:        "AAPL",
			VenueCode:     "XNAS",
			PurchasePrice: 100,
			PurchaseDate:  time.Date(2024, time.January, 1, 15, 30, 0, 0, time.UTC),
			Quantity:      10,
		}
		anchor := time.Date(2024, time.January, 1, 0, 0, 0, 0, time.UTC)
		barTime := time.Date(2024, time.February, 1, 21, 0, 0, 0, time.UTC)

		pgxmockhelper.MockUserHasAssets(dbPool, "user1", true)
		pgxmockhelper.MockActiveAssets(dbPool, "user1", pgxmockhelper.AssetRows(asset))

		// pre-phase refresh reads the newest bar and stores it
		pgxmockhelper.MockLatestBar(dbPool, "AAPL", "XNAS", pgxmock.AnyArg(),
			pgxmockhelper.SingleBarRows("AAPL", "XNAS", barTime, data.IntervalDaily, 150))
		pgxmockhelper.MockSetCurrentPrice(dbPool, asset.ID, 150.0)

		// no stored points; the mid-day purchase postdates the midnight
		// anchor so the as-of query misses it and the backdate adds it back
		pgxmockhelper.MockStatisticsOnOrAfter(dbPool, "user1", anchor, pgxmockhelper.StatisticRows())
		pgxmockhelper.MockAssetsAsOf(dbPool, "user1", anchor, pgxmockhelper.AssetRows())
		pgxmockhelper.MockUpsertStatistic(dbPool, "user1", 1000.0)

		pgxmockhelper.MockLatestStatistic(dbPool, "user1", pgxmockhelper.StatisticRows(&data.Statistic{
			UserID:     "user1",
			EventTime:  anchor,
			TotalValue: 1000,
		}))
		pgxmockhelper.MockUpsertStatistic(dbPool, "user1", 1500.0)

		Expect(valuation.RebuildUser(ctx, "user1", true)).To(Succeed())
	})

	It("reprices every stored point against current bar history", func() {
		asset := &data.Asset{
			ID:            uuid.New(),
			UserID:        "user1",
			Kind:          data.KindStocks,
			Status:        data.StatusActive,
			Symbol:        "AAPL",
			VenueCode:     "XNAS",
			PurchasePrice: 100,
			PurchaseDate:  time.Date(2024, time.January, 10, 12, 0, 0, 0, time.UTC),
			Quantity:      10,
		}
		anchor := time.Date(2024, time.January, 10, 0, 0, 0, 0, time.UTC)
		second := time.Date(2024, time.February, 1, 10, 0, 0, 0, time.UTC)

		pgxmockhelper.MockUserHasAssets(dbPool, "user1", true)
		pgxmockhelper.MockActiveAssets(dbPool, "user1", pgxmockhelper.AssetRows(asset))

		pgxmockhelper.MockLatestBar(dbPool, "AAPL", "XNAS", pgxmock.AnyArg(),
			pgxmockhelper.SingleBarRows("AAPL", "XNAS", second, data.IntervalHourly, 125))
		pgxmockhelper.MockSetCurrentPrice(dbPool, asset.ID, 125.0)

		// first stored point sits exactly on the anchor; no backdate needed
		pgxmockhelper.MockStatisticsOnOrAfter(dbPool, "user1", anchor, pgxmockhelper.StatisticRows(
			&data.Statistic{UserID: "user1", EventTime: anchor, TotalValue: 999},
			&data.Statistic{UserID: "user1", EventTime: second, TotalValue: 999},
		))

		pgxmockhelper.MockAssetsAsOf(dbPool, "user1", anchor, pgxmockhelper.AssetRows(asset))
		pgxmockhelper.MockLatestBar(dbPool, "AAPL", "XNAS", anchor,
			pgxmockhelper.SingleBarRows("AAPL", "XNAS", anchor, data.IntervalDaily, 120))
		pgxmockhelper.MockUpsertStatistic(dbPool, "user1", 1200.0)

		pgxmockhelper.MockAssetsAsOf(dbPool, "user1", second, pgxmockhelper.AssetRows(asset))
		pgxmockhelper.MockLatestBar(dbPool, "AAPL", "XNAS", second,
			pgxmockhelper.SingleBarRows("AAPL", "XNAS", second, data.IntervalDaily, 121))
		pgxmockhelper.MockUpsertStatistic(dbPool, "user1", 1210.0)

		pgxmockhelper.MockLatestStatistic(dbPool, "user1", pgxmockhelper.StatisticRows(&data.Statistic{
			UserID:     "user1",
			EventTime:  second,
			TotalValue: 1210,
		}))
		pgxmockhelper.MockUpsertStatistic(dbPool, "user1", 1250.0)

		Expect(valuation.RebuildUser(ctx, "user1", true)).To(Succeed())
	})

	It("converts foreign positions through the maintained rate table", func() {
		pgxmockhelper.MockFxUpsert(dbPool, "PLN", "USD", 0.25)
		Expect(data.UpsertFxRate(ctx, &data.FxRate{
			SourceCcy: "PLN",
			TargetCcy: "USD",
			Rate:      0.25,
			FetchedAt: time.Now(),
		})).To(Succeed())

		asset := &data.Asset{
			ID:            uuid.New(),
			UserID:        "user1",
			Kind:          data.KindSavings,
			Status:        data.StatusActive,
			PurchasePrice: 100,
			PurchaseDate:  time.Date(2024, time.March, 1, 0, 0, 0, 0, time.UTC),
			Quantity:      4,
			Currency:      "PLN",
		}

		pgxmockhelper.MockUserHasAssets(dbPool, "user1", true)
		pgxmockhelper.MockActiveAssets(dbPool, "user1", pgxmockhelper.AssetRows(asset))
		pgxmockhelper.MockNoLatestStatistic(dbPool, "user1")
		pgxmockhelper.MockUpsertStatistic(dbPool, "user1", 100.0)

		Expect(valuation.RebuildUser(ctx, "user1", false)).To(Succeed())
	})

	It("falls back to the purchase price when no bars were ingested", func() {
		asset := &data.Asset{
			ID:            uuid.New(),
			UserID:        "user1",
			Kind:          data.KindStocks,
			Status:        data.StatusActive,
			Symbol:        "NEWCO",
			VenueCode:     "XNAS",
			PurchasePrice: 100,
			PurchaseDate:  time.Date(2024, time.March, 1, 0, 0, 0, 0, time.UTC),
			Quantity:      10,
		}

		pgxmockhelper.MockUserHasAssets(dbPool, "user1", true)
		pgxmockhelper.MockActiveAssets(dbPool, "user1", pgxmockhelper.AssetRows(asset))
		pgxmockhelper.MockNoLatestBar(dbPool, "NEWCO", "XNAS", pgxmock.AnyArg())
		pgxmockhelper.MockNoLatestStatistic(dbPool, "user1")
		pgxmockhelper.MockUpsertStatistic(dbPool, "user1", 1000.0)

		Expect(valuation.RebuildUser(ctx, "user1", false)).To(Succeed())
	})

	It("does not append a point when the total has not moved", func() {
		asset := &data.Asset{
			ID:            uuid.New(),
			UserID:        "user1",
			Kind:          data.KindSavings,
			Status:        data.StatusActive,
			PurchasePrice: 500,
			PurchaseDate:  time.Date(2024, time.March, 1, 0, 0, 0, 0, time.UTC),
			Quantity:      1,
		}

		pgxmockhelper.MockUserHasAssets(dbPool, "user1", true)
		pgxmockhelper.MockActiveAssets(dbPool, "user1", pgxmockhelper.AssetRows(asset))
		pgxmockhelper.MockLatestStatistic(dbPool, "user1", pgxmockhelper.StatisticRows(&data.Statistic{
			UserID:     "user1",
			EventTime:  time.Date(2024, time.March, 2, 9, 0, 0, 0, time.UTC),
			TotalValue: 500,
		}))

		Expect(valuation.RebuildUser(ctx, "user1", false)).To(Succeed())
	})

	It("excludes assets whose currency has no direct rate", func() {
		asset := &data.Asset{
			ID:            uuid.New(),
			UserID:        "user1",
			Kind:          data.KindSavings,
			Status:        data.StatusActive,
			PurchasePrice: 50,
			PurchaseDate:  time.Date(2024, time.March, 1, 0, 0, 0, 0, time.UTC),
			Quantity:      2,
			Currency:      "JPY",
		}

		pgxmockhelper.MockUserHasAssets(dbPool, "user1", true)
		pgxmockhelper.MockActiveAssets(dbPool, "user1", pgxmockhelper.AssetRows(asset))
		pgxmockhelper.MockNoLatestStatistic(dbPool, "user1")
		pgxmockhelper.MockUpsertStatistic(dbPool, "user1", 0.0)

		Expect(valuation.RebuildUser(ctx, "user1", false)).To(Succeed())
	})

	It("recomputes a closed-only user's series without a backdate", func() {
		closedAt := time.Date(2024, time.April, 1, 0, 0, 0, 0, time.UTC)
		asset := &data.Asset{
			ID:            uuid.New(),
			UserID:        "user1",
			Kind:          data.KindSavings,
			Status:        data.StatusClosed,
			PurchasePrice: 200,
			PurchaseDate:  time.Date(2024, time.February, 1, 0, 0, 0, 0, time.UTC),
			Quantity:      1,
			ClosedAt:      &closedAt,
		}
		stored := time.Date(2024, time.March, 1, 0, 0, 0, 0, time.UTC)

		pgxmockhelper.MockUserHasAssets(dbPool, "user1", true)
		pgxmockhelper.MockActiveAssets(dbPool, "user1", pgxmockhelper.AssetRows())

		pgxmockhelper.MockUserStatistics(dbPool, "user1", pgxmockhelper.StatisticRows(
			&data.Statistic{UserID: "user1", EventTime: stored, TotalValue: 999},
		))
		pgxmockhelper.MockAssetsAsOf(dbPool, "user1", stored, pgxmockhelper.AssetRows(asset))
		pgxmockhelper.MockUpsertStatistic(dbPool, "user1", 200.0)

		// nothing active, so the present value is zero
		pgxmockhelper.MockLatestStatistic(dbPool, "user1", pgxmockhelper.StatisticRows(&data.Statistic{
			UserID:     "user1",
			EventTime:  stored,
			TotalValue: 200,
		}))
		pgxmockhelper.MockUpsertStatistic(dbPool, "user1", 0.0)

		Expect(valuation.RebuildUser(ctx, "user1", true)).To(Succeed())
	})
})

var _ = Describe("RebuildAll", func() {
	var (
		ctx    context.Context
		dbPool pgxmock.PgxConnIface
	)

	BeforeEach(func() {
		ctx = context.Background()

		var err error
		dbPool, err = pgxmock.NewConn()
		Expect(err).To(BeNil())
		database.SetPool(dbPool)
	})

	It("visits every user", func() {
		pgxmockhelper.MockDistinctUsers(dbPool, "user1")
		pgxmockhelper.MockUserHasAssets(dbPool, "user1", false)

		Expect(valuation.RebuildAll(ctx)).To(Succeed())
	})
})

var _ = Describe("RefreshUserPrices", func() {
	var (
		ctx    context.Context
		dbPool pgxmock.PgxConnIface
	)

	BeforeEach(func() {
		ctx = context.Background()

		var err error
		dbPool, err = pgxmock.NewConn()
		Expect(err).To(BeNil())
		database.SetPool(dbPool)
	})

	It("writes fresh prices for market positions", func() {
		asset := &data.Asset{
			ID:            uuid.New(),
			UserID:        "user1",
			Kind:          data.KindETF,
			Status:        data.StatusActive,
			Symbol:        "VTI",
			VenueCode:     "XNAS",
			PurchasePrice: 210,
			PurchaseDate:  time.Date(2024, time.March, 1, 0, 0, 0, 0, time.UTC),
			Quantity:      3,
		}
		barTime := time.Date(2024, time.June, 3, 20, 0, 0, 0, time.UTC)

		pgxmockhelper.MockActiveAssets(dbPool, "user1", pgxmockhelper.AssetRows(asset))
		pgxmockhelper.MockLatestBar(dbPool, "VTI", "XNAS", pgxmock.AnyArg(),
			pgxmockhelper.SingleBarRows("VTI", "XNAS", barTime, data.IntervalDaily, 231.5))
		pgxmockhelper.MockSetCurrentPrice(dbPool, asset.ID, 231.5)

		Expect(valuation.RefreshUserPrices(ctx, "user1")).To(Succeed())
	})

	It("leaves book value kinds untouched", func() {
		asset := &data.Asset{
			ID:            uuid.New(),
			UserID:        "user1",
			Kind:          data.KindRealEstate,
			Status:        data.StatusActive,
			PurchasePrice: 250000,
			PurchaseDate:  time.Date(2020, time.May, 1, 0, 0, 0, 0, time.UTC),
			Quantity:      1,
		}

		pgxmockhelper.MockActiveAssets(dbPool, "user1", pgxmockhelper.AssetRows(asset))

		Expect(valuation.RefreshUserPrices(ctx, "user1")).To(Succeed())
	})
})
