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

package ingest_test

import (
	"context"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/jarcoal/httpmock"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/pashagolub/pgxmock"

	"github.com/folio-vault/fv-api/data"
	"github.com/folio-vault/fv-api/data/database"
	"github.com/folio-vault/fv-api/data/twelvedata"
	"github.com/folio-vault/fv-api/ingest"
	"github.com/folio-vault/fv-api/pgxmockhelper"
)

// The rebuild flow behind these events is covered by the valuation specs;
// here the user is mocked with no assets so the rebuild returns immediately
// and the specs focus on the fetch-or-skip decision.
var _ = Describe("Asset events", func() {
	var (
		ctx    context.Context
		client *twelvedata.Client
		dbPool pgxmock.PgxConnIface
		asset  *data.Asset
	)

	BeforeEach(func() {
		ctx = context.Background()

		httpClient := &http.Client{}
		httpmock.ActivateNonDefault(httpClient)

		client = twelvedata.New(
			twelvedata.WithToken("TEST"),
			twelvedata.WithBaseURL("https://api.twelvedata.com"),
			twelvedata.WithHTTPClient(httpClient),
			twelvedata.WithRateEvery(time.Millisecond),
		)

		var err error
		dbPool, err = pgxmock.NewConn()
		Expect(err).To(BeNil())
		database.SetPool(dbPool)

		asset = &data.Asset{
			ID:           uuid.New(),
			UserID:       "user1",
			Kind:         data.KindStocks,
			Status:       data.StatusActive,
			Symbol:       "AAPL",
			VenueCode:    "XNAS",
			PurchaseDate: time.Now().UTC().Add(-10 * 24 * time.Hour),
		}
	})

	AfterEach(func() {
		httpmock.DeactivateAndReset()
	})

	Describe("OnAssetCreated", func() {
		It("backfills, records the fingerprint, and rebuilds", func() {
			pgxmockhelper.MockHasBars(dbPool, false)

			httpmock.RegisterResponder("GET", `=~interval=1h`,
				httpmock.NewStringResponder(200, `{
					"meta": {"currency": "USD"},
					"values": [
						{"datetime": "2024-01-15 14:00:00", "open": "100", "high": "101", "low": "99", "close": "100.5", "volume": "1000"}
					]}`))

			pgxmockhelper.MockBarUpsert(dbPool, 1)
			pgxmockhelper.MockSetSourceID(dbPool, asset.ID)
			pgxmockhelper.MockUserHasAssets(dbPool, "user1", false)

			Expect(ingest.OnAssetCreated(ctx, client, asset)).To(Succeed())

			fingerprint, err := asset.MarketFingerprint()
			Expect(err).To(BeNil())
			Expect(asset.SourceID).To(Equal(fingerprint))
		})

		It("tolerates history that already covers the purchase date", func() {
			pgxmockhelper.MockHasBars(dbPool, true)
			pgxmockhelper.MockSetSourceID(dbPool, asset.ID)
			pgxmockhelper.MockUserHasAssets(dbPool, "user1", false)

			Expect(ingest.OnAssetCreated(ctx, client, asset)).To(Succeed())
			Expect(httpmock.GetTotalCallCount()).To(Equal(0))
		})
	})

	Describe("OnAssetMutated", func() {
		It("does not refetch when only quantity or price changed", func() {
			fingerprint, err := asset.MarketFingerprint()
			Expect(err).To(BeNil())
			asset.SourceID = fingerprint

			pgxmockhelper.MockUserHasAssets(dbPool, "user1", false)

			Expect(ingest.OnAssetMutated(ctx, client, asset)).To(Succeed())
			Expect(httpmock.GetTotalCallCount()).To(Equal(0))
		})

		It("refetches when the market identity moved", func() {
			asset.SourceID = []byte("stale fingerprint")

			pgxmockhelper.MockHasBars(dbPool, true)
			pgxmockhelper.MockSetSourceID(dbPool, asset.ID)
			pgxmockhelper.MockUserHasAssets(dbPool, "user1", false)

			Expect(ingest.OnAssetMutated(ctx, client, asset)).To(Succeed())

			fingerprint, err := asset.MarketFingerprint()
			Expect(err).To(BeNil())
			Expect(asset.SourceID).To(Equal(fingerprint))
		})
	})

	Describe("OnAssetClosed", func() {
		It("stamps the close and rebuilds the series", func() {
			pgxmockhelper.MockCloseAsset(dbPool, asset.ID)
			pgxmockhelper.MockUserHasAssets(dbPool, "user1", false)

			Expect(ingest.OnAssetClosed(ctx, asset)).To(Succeed())
		})
	})
})
