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

package data_test

import (
	"context"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/pashagolub/pgxmock"

	"github.com/folio-vault/fv-api/data"
	"github.com/folio-vault/fv-api/data/database"
	"github.com/folio-vault/fv-api/pgxmockhelper"
)

var _ = Describe("Statistic store", func() {
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

	Describe("UpsertStatistic", func() {
		It("writes the point with its distribution", func() {
			pgxmockhelper.MockUpsertStatistic(dbPool, "user1", 1500.0)

			Expect(data.UpsertStatistic(ctx, &data.Statistic{
				UserID:     "user1",
				EventTime:  time.Date(2024, time.June, 3, 21, 0, 0, 0, time.UTC),
				TotalValue: 1500,
				Distribution: map[string]float64{
					"stocks":  1200,
					"savings": 300,
				},
			})).To(Succeed())
		})
	})

	Describe("UserStatistics", func() {
		It("returns the series with distributions decoded", func() {
			first := time.Date(2024, time.June, 1, 21, 0, 0, 0, time.UTC)
			second := time.Date(2024, time.June, 2, 21, 0, 0, 0, time.UTC)

			pgxmockhelper.MockUserStatistics(dbPool, "user1", pgxmockhelper.StatisticRows(
				&data.Statistic{UserID: "user1", EventTime: first, TotalValue: 1000,
					Distribution: map[string]float64{"stocks": 1000}},
				&data.Statistic{UserID: "user1", EventTime: second, TotalValue: 1100,
					Distribution: map[string]float64{"stocks": 1100}},
			))

			stats, err := data.UserStatistics(ctx, "user1")
			Expect(err).To(BeNil())
			Expect(stats).To(HaveLen(2))
			Expect(stats[0].TotalValue).To(Equal(1000.0))
			Expect(stats[1].Distribution).To(HaveKeyWithValue("stocks", 1100.0))
		})
	})

	Describe("LatestStatistic", func() {
		It("maps an empty series to ErrNotFound", func() {
			pgxmockhelper.MockNoLatestStatistic(dbPool, "user1")

			_, err := data.LatestStatistic(ctx, "user1")
			Expect(err).To(MatchError(data.ErrNotFound))
		})
	})

	Describe("ProjectCurrency", func() {
		point := &data.Statistic{
			UserID:     "user1",
			EventTime:  time.Date(2024, time.June, 3, 21, 0, 0, 0, time.UTC),
			TotalValue: 1000,
			Distribution: map[string]float64{
				"stocks":  800,
				"savings": 200,
			},
		}

		It("projects the total and every distribution value", func() {
			pgxmockhelper.MockFxHydrate(dbPool,
				&data.FxRate{SourceCcy: "USD", TargetCcy: "EUR", Rate: 0.9},
			)
			Expect(data.HydrateFxTable(ctx)).To(Succeed())

			projected, err := point.ProjectCurrency("EUR")
			Expect(err).To(BeNil())
			Expect(projected.TotalValue).To(BeNumerically("~", 900, 1e-9))
			Expect(projected.Distribution["stocks"]).To(BeNumerically("~", 720, 1e-9))
			Expect(projected.Distribution["savings"]).To(BeNumerically("~", 180, 1e-9))
			Expect(projected.EventTime).To(BeTemporally("==", point.EventTime))

			// source point stays untouched
			Expect(point.TotalValue).To(Equal(1000.0))
		})

		It("fails when the pair has no direct rate", func() {
			pgxmockhelper.MockFxHydrate(dbPool)
			Expect(data.HydrateFxTable(ctx)).To(Succeed())

			_, err := point.ProjectCurrency("ZAR")
			Expect(err).To(MatchError(data.ErrUnknownRate))
		})
	})
})
