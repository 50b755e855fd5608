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

var _ = Describe("FX table", func() {
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

		pgxmockhelper.MockFxHydrate(dbPool,
			&data.FxRate{SourceCcy: "EUR", TargetCcy: "USD", Rate: 1.1},
			&data.FxRate{SourceCcy: "USD", TargetCcy: "EUR", Rate: 0.9},
		)
		Expect(data.HydrateFxTable(ctx)).To(Succeed())
	})

	Describe("ConvertCurrency", func() {
		It("converts same-currency amounts as the identity", func() {
			got, err := data.ConvertCurrency(123.45, "USD", "USD")
			Expect(err).To(BeNil())
			Expect(got).To(Equal(123.45))
		})

		It("applies the direct rate", func() {
			got, err := data.ConvertCurrency(100, "EUR", "USD")
			Expect(err).To(BeNil())
			Expect(got).To(BeNumerically("~", 110, 1e-9))
		})

		It("ignores letter case on the pair", func() {
			got, err := data.ConvertCurrency(100, "eur", "usd")
			Expect(err).To(BeNil())
			Expect(got).To(BeNumerically("~", 110, 1e-9))
		})

		It("never chains through a pivot currency", func() {
			// both legs of EUR/USD exist but no direct EUR/PLN row does
			_, err := data.ConvertCurrency(100, "EUR", "PLN")
			Expect(err).To(MatchError(data.ErrUnknownRate))
		})

		It("never derives an inverse from the opposite row", func() {
			pgxmockhelper.MockFxHydrate(dbPool,
				&data.FxRate{SourceCcy: "GBP", TargetCcy: "USD", Rate: 1.27},
			)
			Expect(data.HydrateFxTable(ctx)).To(Succeed())

			_, err := data.ConvertCurrency(100, "USD", "GBP")
			Expect(err).To(MatchError(data.ErrUnknownRate))
		})
	})

	Describe("HydrateFxTable", func() {
		It("replaces the previous table wholesale", func() {
			pgxmockhelper.MockFxHydrate(dbPool,
				&data.FxRate{SourceCcy: "CHF", TargetCcy: "USD", Rate: 1.12},
			)
			Expect(data.HydrateFxTable(ctx)).To(Succeed())

			_, err := data.ConvertCurrency(100, "EUR", "USD")
			Expect(err).To(MatchError(data.ErrUnknownRate))

			got, err := data.ConvertCurrency(100, "CHF", "USD")
			Expect(err).To(BeNil())
			Expect(got).To(BeNumerically("~", 112, 1e-9))
		})
	})

	Describe("UpsertFxRate", func() {
		It("persists the rate and updates the in-process entry", func() {
			pgxmockhelper.MockFxUpsert(dbPool, "PLN", "USD", 0.25)

			Expect(data.UpsertFxRate(ctx, &data.FxRate{
				SourceCcy: "pln",
				TargetCcy: "usd",
				Rate:      0.25,
				FetchedAt: time.Now(),
			})).To(Succeed())

			got, err := data.ConvertCurrency(100, "PLN", "USD")
			Expect(err).To(BeNil())
			Expect(got).To(BeNumerically("~", 25, 1e-9))
		})
	})
})
